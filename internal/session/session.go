package session

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/thiagokokada/p4vcs-go/internal/backend"
	vcserrors "github.com/thiagokokada/p4vcs-go/internal/errors"
)

// DefaultTimeout bounds every blocking backend call.
const DefaultTimeout = 30 * time.Second

type State uint8

const (
	Unconfigured State = iota
	Configured
	Connected
	ShutDown
)

func (s State) String() string {
	switch s {
	case Unconfigured:
		return "Unconfigured"
	case Configured:
		return "Configured"
	case Connected:
		return "Connected"
	case ShutDown:
		return "ShutDown"
	default:
		return "Unknown"
	}
}

// Session owns one connection to a backend. The client is only used from
// inside the session and only while Connected for remote operations.
type Session struct {
	// mu serializes state transitions and client access.
	mu sync.Mutex

	id      string
	client  backend.Client
	timeout time.Duration
	state   State
	cfg     Config

	workspace  string
	ignoreFile string

	inflight *Inflight
}

// Inflight tracks a client call abandoned after a timeout. Sessions built on
// the same client must share one Inflight, so that none of them enters the
// client while that call is still running.
type Inflight struct {
	mu sync.Mutex
	// pending is closed when the abandoned call returns.
	pending chan struct{}
}

// wait blocks until the abandoned call returns or ctx is done.
func (f *Inflight) wait(ctx context.Context) error {
	f.mu.Lock()
	pending := f.pending
	f.mu.Unlock()
	if pending == nil {
		return nil
	}
	select {
	case <-pending:
		f.mu.Lock()
		if f.pending == pending {
			f.pending = nil
		}
		f.mu.Unlock()
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (f *Inflight) abandon(done chan struct{}) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.pending = done
}

type Option func(*Session)

// WithTimeout sets the bound applied to every backend call. Zero or negative
// values keep DefaultTimeout.
func WithTimeout(d time.Duration) Option {
	return func(s *Session) {
		if d > 0 {
			s.timeout = d
		}
	}
}

// WithInflight shares abandoned-call tracking with other sessions on the
// same client.
func WithInflight(f *Inflight) Option {
	return func(s *Session) {
		if f != nil {
			s.inflight = f
		}
	}
}

func New(client backend.Client, opts ...Option) *Session {
	s := &Session{
		id:      uuid.NewString(),
		client:  client,
		timeout: DefaultTimeout,
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.inflight == nil {
		s.inflight = &Inflight{}
	}
	return s
}

func (s *Session) ID() string { return s.id }

func (s *Session) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// SetWorkspace records the local repository root. It is pushed to the client
// on Configure, or immediately when the session is already configured.
func (s *Session) SetWorkspace(root string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state == ShutDown {
		return vcserrors.NewInvalidStateError("set workspace", s.state)
	}
	if s.state != Unconfigured {
		if err := s.idle("set workspace"); err != nil {
			return err
		}
		if err := s.client.SetWorkspace(root); err != nil {
			return &vcserrors.ConfigError{Field: "workspace", Message: err.Error()}
		}
	}
	s.workspace = root
	return nil
}

// SetIgnoreFile records the ignore file so future backend operations honour
// it. Same push rules as SetWorkspace.
func (s *Session) SetIgnoreFile(path string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state == ShutDown {
		return vcserrors.NewInvalidStateError("set ignore file", s.state)
	}
	if s.state != Unconfigured {
		if err := s.idle("set ignore file"); err != nil {
			return err
		}
		if err := s.client.SetIgnoreFile(path); err != nil {
			return &vcserrors.ConfigError{Field: "ignore file", Message: err.Error()}
		}
	}
	s.ignoreFile = path
	return nil
}

// Configure pushes cfg into the client. The first parameter the client
// rejects aborts the remaining pushes.
func (s *Session) Configure(cfg Config) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state != Unconfigured {
		return vcserrors.NewInvalidStateError("configure", s.state)
	}
	if err := cfg.Validate(); err != nil {
		return err
	}
	if err := s.idle("configure"); err != nil {
		return err
	}
	pushes := []paramPush{
		{"port", func() error { return s.client.SetPort(cfg.Port) }},
		{"user", func() error { return s.client.SetUser(cfg.User) }},
		{"host", func() error { return s.client.SetHost(cfg.Host) }},
		{"secret", func() error { return s.client.SetPassword(cfg.Secret) }},
	}
	if s.workspace != "" {
		pushes = append(pushes, paramPush{"workspace", func() error { return s.client.SetWorkspace(s.workspace) }})
	}
	if s.ignoreFile != "" {
		pushes = append(pushes, paramPush{"ignore file", func() error { return s.client.SetIgnoreFile(s.ignoreFile) }})
	}
	for _, p := range pushes {
		if err := p.push(); err != nil {
			return &vcserrors.ConfigError{Field: p.field, Message: err.Error()}
		}
	}
	s.cfg = cfg
	s.state = Configured
	slog.Debug("session configured", slog.String("session", s.id), slog.Any("config", cfg))
	return nil
}

type paramPush struct {
	field string
	push  func() error
}

// Config returns the configuration of the session.
func (s *Session) Config() Config {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.cfg
}

// Connect requires Configured. On failure the session stays Configured.
func (s *Session) Connect(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state != Configured {
		return vcserrors.NewInvalidStateError("connect", s.state)
	}
	timedOut, err := s.call(ctx, func(ctx context.Context) error {
		return s.client.Connect(ctx)
	})
	if err != nil {
		msg := err.Error()
		if timedOut {
			msg = "timed out after " + s.timeout.String()
		}
		slog.Debug("session connect failed", slog.String("session", s.id), slog.String("error", msg))
		return &vcserrors.ConnectError{Message: msg, Err: err}
	}
	s.state = Connected
	slog.Info("session connected", slog.String("session", s.id), slog.String("backend", s.client.Name()))
	return nil
}

// Run executes a remote operation and returns its collected output. Errors,
// including timeouts, leave the session Connected.
func (s *Session) Run(ctx context.Context, name string, args []string) (*backend.Output, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state != Connected {
		return nil, vcserrors.NewInvalidStateError(name, s.state)
	}
	out := &backend.Output{}
	start := time.Now()
	timedOut, err := s.call(ctx, func(ctx context.Context) error {
		return s.client.Run(ctx, name, args, out)
	})
	slog.Debug("session run",
		slog.String("session", s.id),
		slog.String("op", name),
		slog.Int("args", len(args)),
		slog.Duration("elapsed", time.Since(start)),
		slog.Bool("ok", err == nil),
	)
	if err != nil {
		if timedOut {
			return nil, &vcserrors.OperationError{Operation: name, Message: "no answer after " + s.timeout.String(), Timeout: true, Err: err}
		}
		return nil, &vcserrors.OperationError{Operation: name, Message: err.Error(), Err: err}
	}
	return out, nil
}

// Disconnect tears the connection down. The session ends up ShutDown even
// when teardown fails; the failure is returned as a DisconnectError.
func (s *Session) Disconnect() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state != Configured && s.state != Connected {
		return vcserrors.NewInvalidStateError("disconnect", s.state)
	}
	if err := s.awaitIdle(); err != nil {
		s.state = ShutDown
		slog.Error("disconnect skipped, backend call still running", slog.String("session", s.id))
		return &vcserrors.DisconnectError{Message: "backend call still running", Err: err}
	}
	err := s.client.Disconnect()
	s.state = ShutDown
	if err != nil {
		slog.Error("session disconnect", slog.String("session", s.id), slog.Any("error", err))
		return &vcserrors.DisconnectError{Message: err.Error(), Err: err}
	}
	slog.Debug("session disconnected", slog.String("session", s.id))
	return nil
}

// idle waits at most one timeout for an abandoned call to return before op
// enters the client. Expects s.mu to be held.
func (s *Session) idle(op string) error {
	if err := s.awaitIdle(); err != nil {
		return &vcserrors.OperationError{Operation: op, Message: "backend call still running after " + s.timeout.String(), Timeout: true, Err: err}
	}
	return nil
}

func (s *Session) awaitIdle() error {
	ctx, cancel := context.WithTimeout(context.Background(), s.timeout)
	defer cancel()
	return s.inflight.wait(ctx)
}

// call runs fn bounded by the session timeout. A call that overruns is
// abandoned; the next call waits for it before touching the client again.
// Expects s.mu to be held.
func (s *Session) call(ctx context.Context, fn func(context.Context) error) (bool, error) {
	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	if err := s.inflight.wait(ctx); err != nil {
		return errors.Is(err, context.DeadlineExceeded), err
	}

	done := make(chan struct{})
	var err error
	go func() {
		defer close(done)
		err = fn(ctx)
	}()
	select {
	case <-done:
		return err != nil && errors.Is(ctx.Err(), context.DeadlineExceeded), err
	case <-ctx.Done():
		s.inflight.abandon(done)
		return errors.Is(ctx.Err(), context.DeadlineExceeded), ctx.Err()
	}
}
