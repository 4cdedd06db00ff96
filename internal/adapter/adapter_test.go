package adapter

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/thiagokokada/p4vcs-go/internal/backend"
	"github.com/thiagokokada/p4vcs-go/internal/backend/backendtest"
	"github.com/thiagokokada/p4vcs-go/internal/backend/gitremote"
	vcserrors "github.com/thiagokokada/p4vcs-go/internal/errors"
	"github.com/thiagokokada/p4vcs-go/internal/ignore"
	"github.com/thiagokokada/p4vcs-go/internal/session"
	"github.com/thiagokokada/p4vcs-go/internal/vcs"
)

const mainGD = "extends Node\n\nfunc _ready():\n\tpass\n"

type fixture struct {
	client  *backendtest.Client
	backend *backendtest.Library
	lib     *session.Library
	root    string
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	client := backendtest.NewClient("Fake")
	client.Files = map[string]string{"main.gd": mainGD}
	b := &backendtest.Library{}
	return &fixture{client: client, backend: b, lib: session.NewLibrary(b), root: t.TempDir()}
}

func (f *fixture) adapter(opts ...session.Option) *Adapter {
	return New(f.client, f.lib, ignore.New(ignore.PerforceFileName), opts...)
}

func readyAdapter(t *testing.T, f *fixture) *Adapter {
	t.Helper()
	a := f.adapter()
	require.NoError(t, a.Initialize(context.Background(), f.root))
	require.Equal(t, Ready, a.State())
	return a
}

func connectedAdapter(t *testing.T, f *fixture) *Adapter {
	t.Helper()
	a := readyAdapter(t, f)
	require.NoError(t, a.SetupConnection(context.Background(), "alice", "x", "depot.example.com", "1666"))
	require.NoError(t, a.StartClient(context.Background()))
	require.True(t, a.Connected())
	return a
}

func TestFullLifecycle(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	a := connectedAdapter(t, f)
	assert.Equal(t, 1, f.lib.Count())
	assert.FileExists(t, filepath.Join(f.root, ignore.PerforceFileName))
	assert.Equal(t, f.root, f.client.Param("Workspace"))
	assert.Equal(t, filepath.Join(f.root, ignore.PerforceFileName), f.client.Param("IgnoreFile"))

	lines, err := a.LineDiff(context.Background(), filepath.Join(f.root, "main.gd"), mainGD)
	require.NoError(t, err)
	assert.Len(t, lines, 4)
	assert.False(t, vcs.Changed(lines))

	require.NoError(t, a.ShutDown(context.Background()))
	assert.Equal(t, Closed, a.State())
	assert.Equal(t, 0, f.lib.Count())
	assert.Equal(t, 1, f.client.Disconnects)
	inits, shutdowns := f.backend.Counts()
	assert.Equal(t, 1, inits)
	assert.Equal(t, 1, shutdowns)
}

func TestVCSName(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	a := f.adapter()
	assert.Equal(t, "Fake", a.VCSName())
	require.NoError(t, a.Initialize(context.Background(), f.root))
	assert.Equal(t, "Fake", a.VCSName())
}

func TestInvalidStateCallsDoNotMutate(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	calls := map[string]func(a *Adapter) error{
		"initialize": func(a *Adapter) error { return a.Initialize(ctx, ".") },
		"setup":      func(a *Adapter) error { return a.SetupConnection(ctx, "alice", "x", "h", "1666") },
		"start":      func(a *Adapter) error { return a.StartClient(ctx) },
		"diff": func(a *Adapter) error {
			_, err := a.LineDiff(ctx, "main.gd", mainGD)
			return err
		},
		"unified": func(a *Adapter) error {
			_, err := a.Unified(ctx, "main.gd", mainGD)
			return err
		},
		"shutdown": func(a *Adapter) error { return a.ShutDown(ctx) },
	}
	allowed := map[State]map[string]bool{
		Uninitialized: {"initialize": true},
		Closed:        {},
		Failed:        {},
	}
	prepare := map[State]func(t *testing.T, f *fixture) *Adapter{
		Uninitialized: func(_ *testing.T, f *fixture) *Adapter { return f.adapter() },
		Closed: func(t *testing.T, f *fixture) *Adapter {
			a := readyAdapter(t, f)
			require.NoError(t, a.ShutDown(ctx))
			return a
		},
		Failed: func(t *testing.T, f *fixture) *Adapter {
			a := f.adapter()
			require.Error(t, a.Initialize(ctx, filepath.Join(f.root, "missing")))
			return a
		},
	}
	for state, mk := range prepare {
		for name, call := range calls {
			if allowed[state][name] {
				continue
			}
			t.Run(state.String()+"/"+name, func(t *testing.T) {
				t.Parallel()
				f := newFixture(t)
				a := mk(t, f)
				count := f.lib.Count()
				err := call(a)
				require.ErrorIs(t, err, vcserrors.ErrInvalidState)
				assert.Equal(t, state, a.State())
				assert.Equal(t, count, f.lib.Count())
			})
		}
	}
}

func TestInitializeFailureIsTerminal(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	a := f.adapter()
	err := a.Initialize(context.Background(), filepath.Join(f.root, "does", "not", "exist"))
	require.ErrorIs(t, err, vcserrors.ErrIO)
	assert.Equal(t, Failed, a.State())
	assert.Equal(t, 0, f.lib.Count(), "library reference must be released")

	info := a.LastError()
	assert.Equal(t, "io", info.Code)
	assert.True(t, info.Fatal)

	err = a.Initialize(context.Background(), f.root)
	assert.ErrorIs(t, err, vcserrors.ErrInvalidState)
}

func TestInitializeLibraryFailure(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	f.backend.InitFunc = func() error { return errors.New("p4 not found") }
	a := f.adapter()
	err := a.Initialize(context.Background(), f.root)
	require.ErrorContains(t, err, "p4 not found")
	assert.Equal(t, Failed, a.State())
	assert.Equal(t, 0, f.lib.Count())
	assert.NoFileExists(t, filepath.Join(f.root, ignore.PerforceFileName))
}

func TestInitializeKeepsExistingIgnoreFile(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	path := filepath.Join(f.root, ignore.PerforceFileName)
	require.NoError(t, os.WriteFile(path, []byte("custom\n"), 0o600))
	readyAdapter(t, f)

	got, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, "custom\n", string(got))
}

func TestSetupConnectionErrorsKeepReady(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	a := readyAdapter(t, f)

	err := a.SetupConnection(context.Background(), "alice", "", "depot.example.com", "1666")
	require.ErrorIs(t, err, vcserrors.ErrConfig)
	assert.Equal(t, Ready, a.State())
	assert.Equal(t, "config", a.LastError().Code)
	assert.False(t, a.LastError().Fatal)

	f.client.SetPortFunc = func(string) error { return errors.New("invalid port") }
	err = a.SetupConnection(context.Background(), "alice", "x", "depot.example.com", "nope")
	require.ErrorIs(t, err, vcserrors.ErrConfig)
	assert.Equal(t, Ready, a.State())

	f.client.SetPortFunc = nil
	require.NoError(t, a.SetupConnection(context.Background(), "alice", "x", "depot.example.com", "1666"))
}

func TestStartClientUnreachable(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	f.client.ConnectFunc = func(context.Context) error { return errors.New("connection refused") }
	a := readyAdapter(t, f)
	require.NoError(t, a.SetupConnection(context.Background(), "alice", "x", "depot.example.com", "1666"))

	err := a.StartClient(context.Background())
	require.ErrorIs(t, err, vcserrors.ErrConnect)
	assert.ErrorContains(t, err, "connection refused")
	assert.Equal(t, Ready, a.State())
	assert.False(t, a.Connected())

	f.client.ConnectFunc = nil
	require.NoError(t, a.StartClient(context.Background()))
	assert.True(t, a.Connected())
}

func TestStartClientWithoutSetup(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	a := readyAdapter(t, f)
	err := a.StartClient(context.Background())
	require.ErrorIs(t, err, vcserrors.ErrInvalidState)
	assert.Equal(t, Ready, a.State())
	assert.Equal(t, vcserrors.ErrorInfo{}, a.LastError(), "state errors are not recorded")
}

func TestLineDiffNotConnected(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	a := readyAdapter(t, f)
	_, err := a.LineDiff(context.Background(), "main.gd", mainGD)
	var diffErr *vcserrors.DiffError
	require.ErrorAs(t, err, &diffErr)
	assert.Equal(t, vcserrors.BackendUnavailable, diffErr.Reason)
	assert.Equal(t, Ready, a.State())
}

func TestLineDiffNewFile(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	a := connectedAdapter(t, f)
	lines, err := a.LineDiff(context.Background(), "res://new.gd", "a\nb\nc\n")
	require.NoError(t, err)
	require.Len(t, lines, 3)
	for _, l := range lines {
		assert.Equal(t, vcs.Added, l.Kind)
	}
}

func TestLineDiffAsync(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	a := connectedAdapter(t, f)
	ch := a.LineDiffAsync(context.Background(), "main.gd", mainGD+"func f():\n")
	select {
	case res, ok := <-ch:
		require.True(t, ok)
		require.NoError(t, res.Err)
		assert.Equal(t, "main.gd", res.Path)
		assert.True(t, vcs.Changed(res.Lines))
	case <-time.After(5 * time.Second):
		t.Fatal("no diff result")
	}
	_, ok := <-ch
	assert.False(t, ok, "channel must be closed after the result")
}

func TestReconfigureReplacesSession(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	a := connectedAdapter(t, f)

	require.NoError(t, a.SetupConnection(context.Background(), "bob", "y", "other.example.com", "1667"))
	assert.Equal(t, 1, f.client.Disconnects)
	assert.False(t, a.Connected())
	assert.Equal(t, "bob", f.client.Param("User"))
	assert.Equal(t, f.root, f.client.Param("Workspace"))

	require.NoError(t, a.StartClient(context.Background()))
	assert.True(t, a.Connected())
	assert.Equal(t, 1, f.lib.Count())
}

func TestReconfigureAfterTimedOutDiff(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	release := make(chan struct{})
	var running atomic.Bool
	var overlaps atomic.Int32
	f.client.RunFunc = func(context.Context, string, []string, backend.Sink) error {
		running.Store(true)
		defer running.Store(false)
		<-release
		return nil
	}
	guard := func(string) error {
		if running.Load() {
			overlaps.Add(1)
		}
		return nil
	}
	f.client.SetPortFunc = guard
	f.client.SetUserFunc = guard
	f.client.SetHostFunc = guard
	f.client.SetPasswordFunc = guard
	f.client.DisconnectFunc = func() error { return guard("") }

	a := f.adapter(session.WithTimeout(20 * time.Millisecond))
	require.NoError(t, a.Initialize(context.Background(), f.root))
	require.NoError(t, a.SetupConnection(context.Background(), "alice", "x", "depot.example.com", "1666"))
	require.NoError(t, a.StartClient(context.Background()))

	_, err := a.LineDiff(context.Background(), "main.gd", mainGD)
	require.ErrorIs(t, err, vcserrors.ErrTimeout)

	err = a.SetupConnection(context.Background(), "bob", "y", "depot.example.com", "1666")
	require.ErrorIs(t, err, vcserrors.ErrTimeout)
	assert.Equal(t, Ready, a.State())
	assert.False(t, a.Connected())
	assert.Equal(t, 0, f.client.Disconnects)
	assert.Equal(t, "alice", f.client.Param("User"))

	close(release)
	require.NoError(t, a.SetupConnection(context.Background(), "bob", "y", "depot.example.com", "1666"))
	assert.Equal(t, "bob", f.client.Param("User"))
	require.NoError(t, a.StartClient(context.Background()))
	require.NoError(t, a.ShutDown(context.Background()))
	assert.Equal(t, 0, f.lib.Count())
	assert.Zero(t, overlaps.Load(), "client entered while the abandoned call was running")
}

func TestShutDownDisconnectFailureStillReleases(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	f.client.DisconnectFunc = func() error { return errors.New("socket closed") }
	a := connectedAdapter(t, f)

	err := a.ShutDown(context.Background())
	require.ErrorIs(t, err, vcserrors.ErrDisconnect)
	assert.Equal(t, Closed, a.State())
	assert.Equal(t, 0, f.lib.Count())
	assert.Equal(t, "disconnect", a.LastError().Code)
}

func TestShutDownWithoutConnection(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	a := readyAdapter(t, f)
	require.NoError(t, a.ShutDown(context.Background()))
	assert.Equal(t, 0, f.client.Disconnects)
	assert.Equal(t, 0, f.lib.Count())
}

func TestManyAdaptersShareLibrary(t *testing.T) {
	t.Parallel()

	const n = 16
	b := &backendtest.Library{}
	lib := session.NewLibrary(b)
	adapters := make([]*Adapter, n)
	for i := range adapters {
		client := backendtest.NewClient("Fake")
		adapters[i] = New(client, lib, ignore.New(ignore.PerforceFileName))
	}

	var wg sync.WaitGroup
	for _, a := range adapters {
		wg.Go(func() {
			assert.NoError(t, a.Initialize(context.Background(), t.TempDir()))
		})
	}
	wg.Wait()
	assert.Equal(t, n, lib.Count())

	for _, a := range adapters {
		wg.Go(func() {
			assert.NoError(t, a.SetupConnection(context.Background(), "alice", "x", "h", "1666"))
			assert.NoError(t, a.StartClient(context.Background()))
			assert.NoError(t, a.ShutDown(context.Background()))
			// A second shut down must not release again.
			assert.ErrorIs(t, a.ShutDown(context.Background()), vcserrors.ErrInvalidState)
		})
	}
	wg.Wait()
	assert.Equal(t, 0, lib.Count())
	inits, shutdowns := b.Counts()
	assert.Equal(t, 1, inits)
	assert.Equal(t, 1, shutdowns)
}

func TestGitAdaptersShareTransportTimeout(t *testing.T) {
	t.Parallel()

	first := NewGit(Options{Timeout: 5 * time.Second})
	second := NewGit(Options{Timeout: 9 * time.Second})
	require.Same(t, first.lib, second.lib)
	gl, ok := second.lib.Backend().(*gitremote.Library)
	require.True(t, ok)
	assert.NotEqual(t, 9*time.Second, gl.Timeout(), "a later adapter cannot change the shared transport")
}

func TestRegistry(t *testing.T) {
	t.Parallel()

	r := NewRegistry(Options{})
	assert.Equal(t, []string{"git", "perforce"}, r.Names())

	a, err := r.New("Perforce")
	require.NoError(t, err)
	assert.Equal(t, "Perforce", a.VCSName())

	a, err = r.New("GIT")
	require.NoError(t, err)
	assert.Equal(t, "Git", a.VCSName())
}

func TestStateString(t *testing.T) {
	t.Parallel()

	assert.Equal(t, "ShuttingDown", ShuttingDown.String())
	assert.Equal(t, "Failed", Failed.String())
	assert.Equal(t, "Unknown", State(42).String())
}
