// Package adapter implements the editor-facing VCS adapter: it owns one
// backend session, the ignore file and the diff engine, and guards them with
// a small lifecycle state machine.
package adapter

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"path/filepath"
	"slices"
	"sync"

	"github.com/thiagokokada/p4vcs-go/internal/backend"
	"github.com/thiagokokada/p4vcs-go/internal/diff"
	vcserrors "github.com/thiagokokada/p4vcs-go/internal/errors"
	"github.com/thiagokokada/p4vcs-go/internal/ignore"
	"github.com/thiagokokada/p4vcs-go/internal/session"
	"github.com/thiagokokada/p4vcs-go/internal/vcs"
)

type State uint8

const (
	Uninitialized State = iota
	Initializing
	Ready
	ShuttingDown
	Closed
	// Failed is entered when Initialize fails and is terminal.
	Failed
)

func (s State) String() string {
	switch s {
	case Uninitialized:
		return "Uninitialized"
	case Initializing:
		return "Initializing"
	case Ready:
		return "Ready"
	case ShuttingDown:
		return "ShuttingDown"
	case Closed:
		return "Closed"
	case Failed:
		return "Failed"
	default:
		return "Unknown"
	}
}

var _ vcs.Adapter = (*Adapter)(nil)

type Adapter struct {
	// mu serializes every call; the session is never used concurrently.
	mu sync.Mutex

	state  State
	client backend.Client
	lib    *session.Library
	ignore *ignore.Manager
	opts   []session.Option

	// held reports whether this adapter owns a library reference.
	held       bool
	root       string
	ignorePath string
	sess       *session.Session
	engine     *diff.Engine

	lastErr error
	fatal   bool
}

func New(client backend.Client, lib *session.Library, ignoreFile *ignore.Manager, opts ...session.Option) *Adapter {
	// Every session of this adapter shares one Inflight: a replaced
	// session's abandoned call still owns the client.
	opts = append(slices.Clone(opts), session.WithInflight(&session.Inflight{}))
	return &Adapter{client: client, lib: lib, ignore: ignoreFile, opts: opts}
}

func (a *Adapter) State() State {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.state
}

// VCSName returns the backend's system name. It is valid in every state.
func (a *Adapter) VCSName() string {
	return a.client.Name()
}

// Root returns the absolute repository root passed to Initialize.
func (a *Adapter) Root() string {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.root
}

// Connected reports whether the session can serve remote operations.
func (a *Adapter) Connected() bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.state == Ready && a.sess != nil && a.sess.State() == session.Connected
}

// LastError returns the most recent failure in host form.
func (a *Adapter) LastError() vcserrors.ErrorInfo {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.fatal {
		return vcserrors.Fatal(a.lastErr)
	}
	return vcserrors.Info(a.lastErr)
}

// Initialize acquires the backend library, ensures the ignore file and
// prepares a session for root. Any failure is terminal.
func (a *Adapter) Initialize(ctx context.Context, root string) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.state != Uninitialized {
		return a.invalid("initialize")
	}
	a.state = Initializing
	slog.Debug("adapter initializing", slog.String("backend", a.client.Name()), slog.String("root", root))

	if err := a.initLocked(ctx, root); err != nil {
		if a.held {
			if rerr := a.lib.Release(); rerr != nil {
				slog.Error("release backend library", slog.Any("error", rerr))
			}
			a.held = false
		}
		a.sess = nil
		a.engine = nil
		a.state = Failed
		a.lastErr = err
		a.fatal = true
		slog.Error("adapter initialize failed", slog.String("root", root), slog.Any("error", err))
		return err
	}
	a.state = Ready
	slog.Info("adapter ready", slog.String("backend", a.client.Name()), slog.String("root", a.root))
	return nil
}

func (a *Adapter) initLocked(ctx context.Context, root string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	abs, err := filepath.Abs(root)
	if err != nil {
		return &vcserrors.IOError{Op: "resolve", Path: root, Err: err}
	}
	if err := a.lib.Acquire(); err != nil {
		return fmt.Errorf("initialize %s: %w", a.client.Name(), err)
	}
	a.held = true

	path, _, err := a.ignore.Ensure(abs)
	if err != nil {
		return err
	}
	a.root = abs
	a.ignorePath = path
	return a.newSessionLocked()
}

// newSessionLocked replaces the session with a fresh, unconfigured one that
// knows the workspace and ignore file.
func (a *Adapter) newSessionLocked() error {
	sess := session.New(a.client, a.opts...)
	if err := sess.SetWorkspace(a.root); err != nil {
		return err
	}
	if err := sess.SetIgnoreFile(a.ignorePath); err != nil {
		return err
	}
	a.sess = sess
	a.engine = diff.New(sess, a.root)
	return nil
}

// SetupConnection configures the session with the given credentials. When a
// session is already configured it is torn down and replaced first. Errors
// leave the adapter Ready.
func (a *Adapter) SetupConnection(ctx context.Context, user, secret, host, port string) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.state != Ready {
		return a.invalid("setup connection")
	}
	if err := ctx.Err(); err != nil {
		return a.record(err)
	}
	cfg := session.Config{User: user, Secret: secret, Host: host, Port: port}
	if err := cfg.Validate(); err != nil {
		return a.record(err)
	}
	if a.sess.State() != session.Unconfigured {
		slog.Info("replacing configured session", slog.String("session", a.sess.ID()))
		if err := a.sess.Disconnect(); err != nil {
			slog.Error("teardown of previous session", slog.Any("error", err))
		}
		if err := a.newSessionLocked(); err != nil {
			return a.record(err)
		}
	}
	if err := a.sess.Configure(cfg); err != nil {
		return a.record(err)
	}
	return nil
}

// StartClient connects the configured session. Errors leave the adapter
// Ready so the host can retry.
func (a *Adapter) StartClient(ctx context.Context) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.state != Ready {
		return a.invalid("start client")
	}
	if err := a.sess.Connect(ctx); err != nil {
		if errors.Is(err, vcserrors.ErrInvalidState) {
			return err
		}
		return a.record(err)
	}
	return nil
}

// LineDiff compares text with the backend baseline of path.
func (a *Adapter) LineDiff(ctx context.Context, path, text string) ([]vcs.DiffLine, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.state != Ready {
		return nil, a.invalid("line diff")
	}
	lines, err := a.engine.LineDiff(ctx, path, text)
	if err != nil {
		return nil, a.record(err)
	}
	return lines, nil
}

// DiffResult is delivered by LineDiffAsync.
type DiffResult struct {
	Path  string
	Lines []vcs.DiffLine
	Err   error
}

// LineDiffAsync runs LineDiff on its own goroutine. The channel receives
// exactly one result and is then closed.
func (a *Adapter) LineDiffAsync(ctx context.Context, path, text string) <-chan DiffResult {
	ch := make(chan DiffResult, 1)
	go func() {
		defer close(ch)
		lines, err := a.LineDiff(ctx, path, text)
		ch <- DiffResult{Path: path, Lines: lines, Err: err}
	}()
	return ch
}

// Unified renders the comparison of text with the baseline of path as a
// unified diff.
func (a *Adapter) Unified(ctx context.Context, path, text string) (string, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.state != Ready {
		return "", a.invalid("unified diff")
	}
	out, err := a.engine.Unified(ctx, path, text)
	if err != nil {
		return "", a.record(err)
	}
	return out, nil
}

// ShutDown disconnects the session and drops the library reference. The
// reference is released even when the disconnect fails.
func (a *Adapter) ShutDown(_ context.Context) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.state != Ready {
		return a.invalid("shut down")
	}
	a.state = ShuttingDown
	slog.Debug("adapter shutting down", slog.String("backend", a.client.Name()))

	var disconnectErr, releaseErr error
	if st := a.sess.State(); st == session.Configured || st == session.Connected {
		disconnectErr = a.sess.Disconnect()
	}
	if a.held {
		releaseErr = a.lib.Release()
		a.held = false
	}
	a.engine = nil
	a.state = Closed

	err := errors.Join(disconnectErr, releaseErr)
	if err != nil {
		a.lastErr = err
		slog.Error("adapter shut down with errors", slog.Any("error", err))
		return err
	}
	slog.Info("adapter closed", slog.String("backend", a.client.Name()))
	return nil
}

// invalid reports a call made in the wrong state. It changes nothing.
func (a *Adapter) invalid(op string) error {
	return vcserrors.NewInvalidStateError(op, a.state)
}

func (a *Adapter) record(err error) error {
	a.lastErr = err
	return err
}
