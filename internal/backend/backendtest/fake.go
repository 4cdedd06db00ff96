// Package backendtest provides in-memory backend fakes for tests.
package backendtest

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/thiagokokada/p4vcs-go/internal/backend"
)

// Client is a scriptable backend.Client. Unset *Func fields accept the call;
// Files, when non-nil, serves "print" requests.
type Client struct {
	mu sync.Mutex

	SystemName string

	SetPortFunc       func(string) error
	SetUserFunc       func(string) error
	SetHostFunc       func(string) error
	SetPasswordFunc   func(string) error
	SetWorkspaceFunc  func(string) error
	SetIgnoreFileFunc func(string) error
	ConnectFunc       func(ctx context.Context) error
	RunFunc           func(ctx context.Context, name string, args []string, sink backend.Sink) error
	DisconnectFunc    func() error

	// Files maps a path to its baseline content.
	Files map[string]string

	Params      map[string]string
	Calls       []string
	Connects    int
	Disconnects int
}

func NewClient(name string) *Client {
	return &Client{SystemName: name, Params: map[string]string{}}
}

func (c *Client) record(call string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.Calls = append(c.Calls, call)
}

func (c *Client) set(key, value string, fn func(string) error) error {
	c.record("Set" + key)
	if fn != nil {
		if err := fn(value); err != nil {
			return err
		}
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.Params == nil {
		c.Params = map[string]string{}
	}
	c.Params[key] = value
	return nil
}

// Param returns the last value pushed for key.
func (c *Client) Param(key string) string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.Params[key]
}

func (c *Client) Name() string { return c.SystemName }

func (c *Client) SetPort(v string) error     { return c.set("Port", v, c.SetPortFunc) }
func (c *Client) SetUser(v string) error     { return c.set("User", v, c.SetUserFunc) }
func (c *Client) SetHost(v string) error     { return c.set("Host", v, c.SetHostFunc) }
func (c *Client) SetPassword(v string) error { return c.set("Password", v, c.SetPasswordFunc) }
func (c *Client) SetWorkspace(v string) error {
	return c.set("Workspace", v, c.SetWorkspaceFunc)
}
func (c *Client) SetIgnoreFile(v string) error {
	return c.set("IgnoreFile", v, c.SetIgnoreFileFunc)
}

func (c *Client) Connect(ctx context.Context) error {
	c.record("Connect")
	c.mu.Lock()
	c.Connects++
	c.mu.Unlock()
	if c.ConnectFunc != nil {
		return c.ConnectFunc(ctx)
	}
	return nil
}

func (c *Client) Run(ctx context.Context, name string, args []string, sink backend.Sink) error {
	c.record("Run " + name)
	if c.RunFunc != nil {
		return c.RunFunc(ctx, name, args, sink)
	}
	if name == backend.OpPrint && c.Files != nil {
		if len(args) != 1 {
			return errors.New("print: expected exactly one path")
		}
		c.mu.Lock()
		content, ok := c.Files[args[0]]
		c.mu.Unlock()
		if !ok {
			return fmt.Errorf("%s: %w", args[0], backend.ErrNoSuchFile)
		}
		sink.Text([]byte(content))
		return nil
	}
	return fmt.Errorf("unexpected Run %s call", name)
}

func (c *Client) Disconnect() error {
	c.record("Disconnect")
	c.mu.Lock()
	c.Disconnects++
	c.mu.Unlock()
	if c.DisconnectFunc != nil {
		return c.DisconnectFunc()
	}
	return nil
}

// Library counts Init and Shutdown calls.
type Library struct {
	mu sync.Mutex

	InitFunc     func() error
	ShutdownFunc func() error

	Inits     int
	Shutdowns int
}

func (l *Library) Init() error {
	if l.InitFunc != nil {
		if err := l.InitFunc(); err != nil {
			return err
		}
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	l.Inits++
	return nil
}

func (l *Library) Shutdown() error {
	l.mu.Lock()
	l.Shutdowns++
	l.mu.Unlock()
	if l.ShutdownFunc != nil {
		return l.ShutdownFunc()
	}
	return nil
}

// Counts returns the number of Init and Shutdown calls so far.
func (l *Library) Counts() (inits, shutdowns int) {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.Inits, l.Shutdowns
}
