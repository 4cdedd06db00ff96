package p4cli

import (
	"bufio"
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/exec"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/thiagokokada/p4vcs-go/internal/backend"
	"github.com/thiagokokada/p4vcs-go/internal/buildinfo"
)

const (
	// Name is the system name reported to the editor.
	Name = "Perforce"

	// ConfigFileName is the per-workspace file p4 reads client settings from.
	ConfigFileName = ".p4config"

	defaultExecutable = "p4"
)

// Client drives a Perforce server through the p4 executable. p4 has no
// persistent connection, so Connect logs in and verifies the server answers;
// every Run is a separate p4 invocation carrying the connection settings.
type Client struct {
	exe string

	port       string
	user       string
	host       string
	password   string
	workspace  string
	ignoreFile string

	connected bool
}

func New(exe string) *Client {
	if exe == "" {
		exe = defaultExecutable
	}
	return &Client{exe: exe}
}

func (c *Client) Name() string { return Name }

func (c *Client) SetPort(port string) error {
	port = strings.TrimSpace(port)
	n, err := strconv.Atoi(port)
	if err != nil || n <= 0 || n > 65535 {
		return fmt.Errorf("invalid port %q", port)
	}
	c.port = port
	return nil
}

func (c *Client) SetUser(user string) error {
	if strings.ContainsAny(user, " \t\r\n@#") {
		return fmt.Errorf("invalid user name %q", user)
	}
	c.user = user
	return nil
}

func (c *Client) SetHost(host string) error {
	host = strings.TrimSpace(host)
	if host == "" || strings.ContainsAny(host, " \t\r\n/") {
		return fmt.Errorf("invalid host %q", host)
	}
	c.host = host
	return nil
}

func (c *Client) SetPassword(password string) error {
	if strings.ContainsAny(password, "\r\n") {
		return fmt.Errorf("password must be a single line")
	}
	c.password = password
	return nil
}

func (c *Client) SetWorkspace(root string) error {
	abs, err := filepath.Abs(root)
	if err != nil {
		return err
	}
	info, err := os.Stat(abs)
	if err != nil {
		return err
	}
	if !info.IsDir() {
		return fmt.Errorf("%s is not a directory", abs)
	}
	c.workspace = abs
	return nil
}

func (c *Client) SetIgnoreFile(path string) error {
	c.ignoreFile = path
	return nil
}

// P4Port returns the P4PORT value built from host and port.
func (c *Client) P4Port() string {
	if c.host == "" || c.port == "" {
		return ""
	}
	return c.host + ":" + c.port
}

func (c *Client) Connect(ctx context.Context) error {
	if c.P4Port() == "" || c.user == "" {
		return fmt.Errorf("connection settings incomplete")
	}
	stdout, stderr, err := c.runP4(ctx, strings.NewReader(c.password+"\n"), []string{"login"})
	if err != nil {
		return errors.New(summarizeP4Error(stderr, stdout, err))
	}
	slog.Debug("p4 login", slog.String("port", c.P4Port()), slog.String("user", c.user),
		slog.String("result", strings.TrimSpace(stdout)))
	c.connected = true
	return nil
}

func (c *Client) Run(ctx context.Context, name string, args []string, sink backend.Sink) error {
	if !c.connected {
		return fmt.Errorf("%s: not connected", name)
	}
	if name == backend.OpPrint {
		return c.print(ctx, args, sink)
	}
	cmdArgs := append([]string{"-ztag", name}, args...)
	stdout, stderr, err := c.runP4(ctx, nil, cmdArgs)
	if err != nil {
		return errors.New(summarizeP4Error(stderr, stdout, err))
	}
	for _, msg := range nonEmptyLines(stderr) {
		sink.Message(msg)
	}
	records, err := parseTaggedOutput(strings.NewReader(stdout))
	if err != nil {
		return fmt.Errorf("parse p4 %s output: %w", name, err)
	}
	for _, rec := range records {
		sink.Record(rec)
	}
	return nil
}

func (c *Client) print(ctx context.Context, args []string, sink backend.Sink) error {
	if len(args) != 1 || strings.TrimSpace(args[0]) == "" {
		return fmt.Errorf("print: expected exactly one path")
	}
	stdout, stderr, err := c.runP4(ctx, nil, []string{"print", "-q", args[0]})
	if isNoSuchFile(stderr) {
		return fmt.Errorf("%s: %w", args[0], backend.ErrNoSuchFile)
	}
	if err != nil {
		return errors.New(summarizeP4Error(stderr, stdout, err))
	}
	sink.Text([]byte(stdout))
	return nil
}

func (c *Client) Disconnect() error {
	c.connected = false
	return nil
}

func (c *Client) globalArgs() []string {
	args := []string{
		"-p", c.P4Port(),
		"-u", c.user,
		"-zprog=" + buildinfo.ProgramName,
		"-zversion=" + buildinfo.Version(),
	}
	return args
}

func (c *Client) environ() []string {
	env := append(os.Environ(), "P4CONFIG="+ConfigFileName)
	if c.password != "" {
		env = append(env, "P4PASSWD="+c.password)
	}
	if c.ignoreFile != "" {
		env = append(env, "P4IGNORE="+c.ignoreFile)
	}
	return env
}

func (c *Client) runP4(ctx context.Context, stdin io.Reader, args []string) (string, string, error) {
	cmdArgs := append(c.globalArgs(), args...)
	cmd := exec.CommandContext(ctx, c.exe, cmdArgs...)
	cmd.Env = c.environ()
	if c.workspace != "" {
		cmd.Dir = c.workspace
	}
	if stdin != nil {
		cmd.Stdin = stdin
	}
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr
	err := cmd.Run()
	if ctxErr := ctx.Err(); ctxErr != nil {
		return stdout.String(), stderr.String(), ctxErr
	}
	return stdout.String(), stderr.String(), err
}

func summarizeP4Error(stderr, stdout string, err error) string {
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
		return err.Error()
	}
	combined := stderr
	if strings.TrimSpace(combined) == "" {
		combined = stdout
	}
	if strings.Contains(strings.ToLower(combined), "connection refused") {
		return "connection refused"
	}
	lines := nonEmptyLines(combined)
	if len(lines) == 0 {
		if err != nil {
			return err.Error()
		}
		return "unknown p4 error"
	}
	return lines[len(lines)-1]
}

// isNoSuchFile matches only an untracked file. Client view and mapping
// errors are real failures.
func isNoSuchFile(stderr string) bool {
	return strings.Contains(strings.ToLower(stderr), "no such file")
}

func nonEmptyLines(s string) []string {
	var lines []string
	for line := range strings.SplitSeq(s, "\n") {
		line = strings.TrimSpace(line)
		if line != "" {
			lines = append(lines, line)
		}
	}
	return lines
}

// parseTaggedOutput parses "p4 -ztag" output: "... key value" lines, with
// records separated by blank lines.
func parseTaggedOutput(r io.Reader) ([]map[string]string, error) {
	var records []map[string]string
	current := map[string]string{}
	flush := func() {
		if len(current) > 0 {
			records = append(records, current)
			current = map[string]string{}
		}
	}
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 64*1024), 4*1024*1024)
	for scanner.Scan() {
		line := strings.TrimRight(scanner.Text(), "\r")
		if strings.TrimSpace(line) == "" {
			flush()
			continue
		}
		if !strings.HasPrefix(line, "... ") {
			continue
		}
		key, value, _ := strings.Cut(line[len("... "):], " ")
		if key == "" {
			continue
		}
		if _, dup := current[key]; dup {
			// A repeated key without a blank separator starts a new record.
			flush()
		}
		current[key] = value
	}
	flush()
	return records, scanner.Err()
}
