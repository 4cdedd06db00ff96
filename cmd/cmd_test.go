package cmd

import (
	"bytes"
	"context"
	"errors"
	"io"
	"os"
	"path/filepath"
	"runtime"
	"testing"
	"time"

	"github.com/cenkalti/backoff/v5"
	"github.com/spf13/pflag"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	vcserrors "github.com/thiagokokada/p4vcs-go/internal/errors"
	"github.com/thiagokokada/p4vcs-go/internal/ignore"
)

const fakeP4Script = `#!/bin/sh
if [ "$1" = "-V" ]; then
	echo "Rev. P4/LINUX26X86_64/2023.1/2468153 (2023/05/23)."
	exit 0
fi
while [ $# -gt 0 ]; do
	case "$1" in
		-p|-u) shift 2 ;;
		-z*) shift ;;
		*) break ;;
	esac
done
cmd="$1"
shift
case "$cmd" in
	login)
		read pw
		if [ "$pw" = "secret" ]; then
			exit 0
		fi
		echo "Password invalid." >&2
		exit 1
		;;
	print)
		shift
		if [ "$1" = "main.gd" ]; then
			printf 'extends Node\nfunc _ready():\n'
			exit 0
		fi
		echo "$1 - no such file(s)." >&2
		exit 1
		;;
esac
echo "Unknown command." >&2
exit 1
`

func isolateConfig(t *testing.T) {
	t.Helper()
	dir := t.TempDir()
	t.Setenv("XDG_CONFIG_HOME", dir)
	t.Setenv("HOME", dir)
	for _, env := range []string{"P4USER", "P4PASSWD", "P4PORT", "P4VCS_USER", "P4VCS_PASSWORD", "P4VCS_HOST", "P4VCS_PORT", "P4VCS_BACKEND", "P4VCS_CONFIG"} {
		t.Setenv(env, "")
	}
}

func parseFlags(t *testing.T, args ...string) *pflag.FlagSet {
	t.Helper()
	fs := pflag.NewFlagSet("test", pflag.ContinueOnError)
	addFlags(fs)
	require.NoError(t, fs.Parse(args))
	return fs
}

func TestSplitP4Port(t *testing.T) {
	t.Parallel()

	tests := []struct {
		in       string
		host     string
		port     string
		hasError bool
	}{
		{in: "depot.example.com:1666", host: "depot.example.com", port: "1666"},
		{in: "ssl:depot.example.com:1666", host: "depot.example.com", port: "1666"},
		{in: "tcp6:[::1]:1666", host: "::1", port: "1666"},
		{in: "1666", port: "1666"},
		{in: "a:b:c", hasError: true},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			t.Parallel()
			host, port, err := splitP4Port(tt.in)
			if tt.hasError {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.host, host)
			assert.Equal(t, tt.port, port)
		})
	}
}

func TestLoadSettingsDefaults(t *testing.T) {
	isolateConfig(t)

	s, err := loadSettings(parseFlags(t))
	require.NoError(t, err)
	assert.Equal(t, "perforce", s.Backend)
	assert.Equal(t, "p4", s.P4)
	assert.Equal(t, 30*time.Second, s.Timeout)
	assert.Equal(t, 3, s.Retries)
	assert.Equal(t, 3, s.Context)
	assert.Empty(t, s.User)
}

func TestLoadSettingsPrecedence(t *testing.T) {
	isolateConfig(t)

	config := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(config, []byte("user: from-file\nhost: file.example.com\nretries: 7\nbackend: git\n"), 0o600))
	t.Setenv("P4USER", "from-env")
	t.Setenv("P4PASSWD", "env-secret")
	t.Setenv("P4PORT", "ssl:env.example.com:1667")

	s, err := loadSettings(parseFlags(t, "--config", config, "--retries", "1"))
	require.NoError(t, err)
	assert.Equal(t, "from-env", s.User, "environment beats config file")
	assert.Equal(t, "env-secret", s.Password)
	assert.Equal(t, "file.example.com", s.Host, "config file beats P4PORT")
	assert.Equal(t, "1667", s.Port, "P4PORT fills the missing port")
	assert.Equal(t, 1, s.Retries, "flags beat everything")
	assert.Equal(t, "git", s.Backend)

	t.Setenv("P4VCS_USER", "prefixed")
	s, err = loadSettings(parseFlags(t, "--config", config, "--user", "flag-user"))
	require.NoError(t, err)
	assert.Equal(t, "flag-user", s.User)
}

func TestLoadSettingsErrors(t *testing.T) {
	isolateConfig(t)

	_, err := loadSettings(parseFlags(t, "--config", filepath.Join(t.TempDir(), "missing.yaml")))
	assert.ErrorContains(t, err, "read config")

	_, err = loadSettings(parseFlags(t, "--retries", "-1"))
	assert.ErrorContains(t, err, "retries")

	t.Setenv("P4PORT", "a:b:c")
	_, err = loadSettings(parseFlags(t))
	assert.ErrorContains(t, err, "P4PORT")
}

type fakeConnector struct {
	setupErr  error
	startErrs []error
	starts    int
}

func (f *fakeConnector) SetupConnection(context.Context, string, string, string, string) error {
	return f.setupErr
}

func (f *fakeConnector) StartClient(context.Context) error {
	f.starts++
	if len(f.startErrs) == 0 {
		return nil
	}
	err := f.startErrs[0]
	f.startErrs = f.startErrs[1:]
	return err
}

func TestConnectRetries(t *testing.T) {
	t.Parallel()

	refused := &vcserrors.ConnectError{Message: "connection refused"}
	tests := []struct {
		name      string
		conn      *fakeConnector
		retries   int
		wantErr   error
		wantStart int
	}{
		{
			name:      "succeeds_after_retries",
			conn:      &fakeConnector{startErrs: []error{refused, refused}},
			retries:   3,
			wantStart: 3,
		},
		{
			name:      "gives_up",
			conn:      &fakeConnector{startErrs: []error{refused, refused, refused}},
			retries:   1,
			wantErr:   vcserrors.ErrConnect,
			wantStart: 2,
		},
		{
			name:      "state_errors_are_permanent",
			conn:      &fakeConnector{startErrs: []error{&vcserrors.InvalidStateError{Op: "connect", State: "Unconfigured"}}},
			retries:   5,
			wantErr:   vcserrors.ErrInvalidState,
			wantStart: 1,
		},
		{
			name:      "config_error_skips_connect",
			conn:      &fakeConnector{setupErr: &vcserrors.ConfigError{Field: "user", Message: "must not be empty"}},
			retries:   5,
			wantErr:   vcserrors.ErrConfig,
			wantStart: 0,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			err := connect(context.Background(), tt.conn, settings{Retries: tt.retries}, &backoff.ZeroBackOff{})
			if tt.wantErr != nil {
				assert.ErrorIs(t, err, tt.wantErr)
			} else {
				assert.NoError(t, err)
			}
			assert.Equal(t, tt.wantStart, tt.conn.starts)
		})
	}
}

func writeFakeP4(t *testing.T) string {
	t.Helper()
	if runtime.GOOS == "windows" {
		t.Skip("fake p4 is a shell script")
	}
	path := filepath.Join(t.TempDir(), "p4")
	require.NoError(t, os.WriteFile(path, []byte(fakeP4Script), 0o755))
	return path
}

func execute(t *testing.T, args ...string) (string, error) {
	t.Helper()
	var out bytes.Buffer
	cmd := newRootCmd(&out, io.Discard)
	cmd.SetArgs(args)
	err := cmd.Execute()
	return out.String(), err
}

func TestRunPrintsLineDiffs(t *testing.T) {
	isolateConfig(t)
	p4 := writeFakeP4(t)
	root := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(root, "main.gd"), []byte("extends Node\nfunc _ready():\n\tprint(1)\n"), 0o600))
	require.NoError(t, os.WriteFile(filepath.Join(root, "new.gd"), []byte("extends Node\n"), 0o600))

	out, err := execute(t,
		"--p4", p4, "--user", "alice", "--password", "secret", "--host", "localhost", "--port", "1666",
		"--retries", "0", "--context", "-1",
		root, filepath.Join(root, "main.gd"), filepath.Join(root, "new.gd"),
	)
	require.NoError(t, err)
	assert.Contains(t, out, "main.gd (Perforce) +1 -0 ~0\n")
	assert.Contains(t, out, "          3 + \tprint(1)\n")
	assert.Contains(t, out, "new.gd (Perforce) +1 -0 ~0\n")
	assert.FileExists(t, filepath.Join(root, ignore.PerforceFileName))
}

func TestRunUnified(t *testing.T) {
	isolateConfig(t)
	p4 := writeFakeP4(t)
	root := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(root, "main.gd"), []byte("extends Node2D\nfunc _ready():\n"), 0o600))

	out, err := execute(t,
		"--p4", p4, "--user", "alice", "--password", "secret", "--host", "localhost", "--port", "1666",
		"--retries", "0", "--unified",
		root, filepath.Join(root, "main.gd"),
	)
	require.NoError(t, err)
	assert.Contains(t, out, "--- a/main.gd\n")
	assert.Contains(t, out, "-extends Node\n")
	assert.Contains(t, out, "+extends Node2D\n")
}

func TestRunBadPassword(t *testing.T) {
	isolateConfig(t)
	p4 := writeFakeP4(t)

	_, err := execute(t,
		"--p4", p4, "--user", "alice", "--password", "wrong", "--host", "localhost", "--port", "1666",
		"--retries", "0", t.TempDir(),
	)
	require.ErrorIs(t, err, vcserrors.ErrConnect)
	assert.ErrorContains(t, err, "Password invalid.")
}

func TestRunMissingCredentials(t *testing.T) {
	isolateConfig(t)
	p4 := writeFakeP4(t)

	_, err := execute(t, "--p4", p4, "--host", "localhost", "--port", "1666", t.TempDir())
	require.ErrorIs(t, err, vcserrors.ErrConfig)
	var cfgErr *vcserrors.ConfigError
	require.True(t, errors.As(err, &cfgErr))
	assert.Equal(t, "user", cfgErr.Field)
}

func TestRunUnknownBackend(t *testing.T) {
	isolateConfig(t)

	_, err := execute(t, "--backend", "svn", t.TempDir())
	assert.ErrorContains(t, err, "available: git, perforce")
}

func TestVersionAndUsage(t *testing.T) {
	isolateConfig(t)

	out, err := execute(t, "--version")
	require.NoError(t, err)
	assert.Regexp(t, `^p4vcs \S+`, out)

	_, err = execute(t)
	assert.ErrorContains(t, err, "missing repository path")
}
