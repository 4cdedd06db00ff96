// Package gitremote implements backend.Client for a git server reached over
// HTTP(S). The repository path comes from the local checkout's origin remote;
// host, port and credentials come from the connection settings.
package gitremote

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/url"
	"path"
	"path/filepath"
	"strconv"
	"strings"

	gitlib "github.com/go-git/go-git/v5"
	"github.com/go-git/go-git/v5/config"
	"github.com/go-git/go-git/v5/plumbing"
	"github.com/go-git/go-git/v5/plumbing/object"
	"github.com/go-git/go-git/v5/plumbing/transport"
	githttp "github.com/go-git/go-git/v5/plumbing/transport/http"
	"github.com/go-git/go-git/v5/storage/memory"

	"github.com/thiagokokada/p4vcs-go/internal/backend"
)

const (
	Name = "Git"

	// OpRefs lists the remote references as {name, hash} records.
	OpRefs = "refs"

	originRemote = "origin"
)

type Client struct {
	host     string
	port     string
	user     string
	password string

	workspace  string
	scheme     string
	repoPath   string
	ignoreFile string

	connected bool
	baseline  *gitlib.Repository

	// cloneFunc fetches the baseline repository; replaced in tests.
	cloneFunc func(ctx context.Context) (*gitlib.Repository, error)
}

func New() *Client {
	c := &Client{scheme: "https"}
	c.cloneFunc = c.shallowClone
	return c
}

func (c *Client) Name() string { return Name }

func (c *Client) SetPort(port string) error {
	n, err := strconv.Atoi(strings.TrimSpace(port))
	if err != nil || n <= 0 || n > 65535 {
		return fmt.Errorf("invalid port %q", port)
	}
	c.port = strconv.Itoa(n)
	return nil
}

func (c *Client) SetUser(user string) error {
	if strings.ContainsAny(user, ":\r\n") {
		return fmt.Errorf("invalid user name %q", user)
	}
	c.user = user
	return nil
}

func (c *Client) SetHost(host string) error {
	host = strings.TrimSpace(host)
	if host == "" || strings.ContainsAny(host, " /:@") {
		return fmt.Errorf("invalid host %q", host)
	}
	c.host = host
	return nil
}

func (c *Client) SetPassword(password string) error {
	c.password = password
	return nil
}

// SetWorkspace opens the local checkout and takes the scheme and repository
// path from its origin remote.
func (c *Client) SetWorkspace(root string) error {
	abs, err := filepath.Abs(root)
	if err != nil {
		return err
	}
	repo, err := gitlib.PlainOpenWithOptions(abs, &gitlib.PlainOpenOptions{DetectDotGit: true})
	if err != nil {
		return fmt.Errorf("open repository: %w", err)
	}
	remote, err := repo.Remote(originRemote)
	if err != nil {
		return fmt.Errorf("read remote %s: %w", originRemote, err)
	}
	urls := remote.Config().URLs
	if len(urls) == 0 {
		return fmt.Errorf("remote %s has no url", originRemote)
	}
	scheme, repoPath, err := parseRemoteURL(urls[0])
	if err != nil {
		return err
	}
	c.workspace = abs
	c.scheme = scheme
	c.repoPath = repoPath
	return nil
}

// SetIgnoreFile records the ignore file. The baseline clone has no worktree,
// so it has no effect on remote reads.
func (c *Client) SetIgnoreFile(path string) error {
	c.ignoreFile = path
	return nil
}

// URL returns the remote URL built from the connection settings.
func (c *Client) URL() string {
	u := url.URL{
		Scheme: c.scheme,
		Host:   c.host + ":" + c.port,
		Path:   c.repoPath,
	}
	return u.String()
}

func (c *Client) auth() transport.AuthMethod {
	if c.user == "" && c.password == "" {
		return nil
	}
	return &githttp.BasicAuth{Username: c.user, Password: c.password}
}

func (c *Client) Connect(ctx context.Context) error {
	if c.repoPath == "" {
		return fmt.Errorf("workspace not set")
	}
	if _, err := c.listRefs(ctx); err != nil && !errors.Is(err, transport.ErrEmptyRemoteRepository) {
		return errors.New(summarizeError(err))
	}
	slog.Debug("git remote reachable", slog.String("url", c.URL()))
	c.connected = true
	return nil
}

func (c *Client) listRefs(ctx context.Context) ([]*plumbing.Reference, error) {
	remote := gitlib.NewRemote(memory.NewStorage(), &config.RemoteConfig{
		Name: originRemote,
		URLs: []string{c.URL()},
	})
	return remote.ListContext(ctx, &gitlib.ListOptions{Auth: c.auth()})
}

func (c *Client) Run(ctx context.Context, name string, args []string, sink backend.Sink) error {
	if !c.connected {
		return fmt.Errorf("%s: not connected", name)
	}
	switch name {
	case backend.OpPrint:
		if len(args) != 1 || strings.TrimSpace(args[0]) == "" {
			return fmt.Errorf("print: expected exactly one path")
		}
		return c.print(ctx, args[0], sink)
	case OpRefs:
		refs, err := c.listRefs(ctx)
		if err != nil {
			if errors.Is(err, transport.ErrEmptyRemoteRepository) {
				return nil
			}
			return errors.New(summarizeError(err))
		}
		for _, ref := range refs {
			sink.Record(map[string]string{"name": ref.Name().String(), "hash": ref.Hash().String()})
		}
		return nil
	default:
		return fmt.Errorf("unsupported operation %q", name)
	}
}

func (c *Client) print(ctx context.Context, filePath string, sink backend.Sink) error {
	if c.baseline == nil {
		repo, err := c.cloneFunc(ctx)
		if err != nil {
			if errors.Is(err, transport.ErrEmptyRemoteRepository) {
				return fmt.Errorf("%s: %w", filePath, backend.ErrNoSuchFile)
			}
			return fmt.Errorf("fetch baseline: %s", summarizeError(err))
		}
		c.baseline = repo
	}
	head, err := c.baseline.Head()
	if err != nil {
		if errors.Is(err, plumbing.ErrReferenceNotFound) {
			return fmt.Errorf("%s: %w", filePath, backend.ErrNoSuchFile)
		}
		return fmt.Errorf("resolve HEAD: %w", err)
	}
	commit, err := c.baseline.CommitObject(head.Hash())
	if err != nil {
		return fmt.Errorf("read commit %s: %w", head.Hash(), err)
	}
	f, err := commit.File(path.Clean(filepath.ToSlash(filePath)))
	if err != nil {
		if errors.Is(err, object.ErrFileNotFound) {
			return fmt.Errorf("%s: %w", filePath, backend.ErrNoSuchFile)
		}
		return err
	}
	content, err := f.Contents()
	if err != nil {
		return err
	}
	sink.Text([]byte(content))
	return nil
}

func (c *Client) shallowClone(ctx context.Context) (*gitlib.Repository, error) {
	slog.Debug("cloning baseline", slog.String("url", c.URL()))
	return gitlib.CloneContext(ctx, memory.NewStorage(), nil, &gitlib.CloneOptions{
		URL:          c.URL(),
		Auth:         c.auth(),
		Depth:        1,
		SingleBranch: true,
		Tags:         gitlib.NoTags,
	})
}

func (c *Client) Disconnect() error {
	c.connected = false
	c.baseline = nil
	return nil
}

// parseRemoteURL returns the http scheme to use and the repository path of a
// remote URL. scp-like and ssh remotes map to https.
func parseRemoteURL(raw string) (string, string, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return "", "", fmt.Errorf("empty remote url")
	}
	if !strings.Contains(raw, "://") {
		// git@host:org/repo.git
		_, p, ok := strings.Cut(raw, ":")
		if !ok || p == "" {
			return "", "", fmt.Errorf("unsupported remote url %q", raw)
		}
		return "https", "/" + strings.TrimPrefix(p, "/"), nil
	}
	u, err := url.Parse(raw)
	if err != nil {
		return "", "", fmt.Errorf("parse remote url: %w", err)
	}
	if u.Path == "" || u.Path == "/" {
		return "", "", fmt.Errorf("remote url %q has no repository path", raw)
	}
	scheme := "https"
	if u.Scheme == "http" {
		scheme = "http"
	}
	return scheme, u.Path, nil
}

func summarizeError(err error) string {
	msg := err.Error()
	if strings.Contains(strings.ToLower(msg), "connection refused") {
		return "connection refused"
	}
	if errors.Is(err, transport.ErrAuthenticationRequired) || errors.Is(err, transport.ErrAuthorizationFailed) {
		return "authentication failed"
	}
	return msg
}
