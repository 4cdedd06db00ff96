package adapter

import (
	"log/slog"
	"time"

	"github.com/thiagokokada/p4vcs-go/internal/backend"
	"github.com/thiagokokada/p4vcs-go/internal/backend/gitremote"
	"github.com/thiagokokada/p4vcs-go/internal/backend/p4cli"
	"github.com/thiagokokada/p4vcs-go/internal/ignore"
	"github.com/thiagokokada/p4vcs-go/internal/session"
	"github.com/thiagokokada/p4vcs-go/internal/vcs"
)

// Registry names, matched case-insensitively.
const (
	PerforceBackend = "perforce"
	GitBackend      = "git"
)

type Options struct {
	// P4 is the p4 executable; empty means "p4" from PATH.
	P4 string
	// Timeout bounds every backend call. The Git HTTP transport is process
	// wide, so it keeps the Timeout of the first Git adapter.
	Timeout time.Duration
}

func (o Options) sessionOptions() []session.Option {
	return []session.Option{session.WithTimeout(o.Timeout)}
}

// NewPerforce returns an adapter backed by the p4 command line client. All
// Perforce adapters using the same executable share one library reference
// count.
func NewPerforce(o Options) *Adapter {
	lib := session.Shared(PerforceBackend+":"+o.P4, func() backend.Library {
		return p4cli.NewLibrary(o.P4)
	})
	return New(p4cli.New(o.P4), lib, ignore.New(ignore.PerforceFileName), o.sessionOptions()...)
}

// NewGit returns an adapter that treats the repository's origin remote as
// the server. All Git adapters share one transport and so one HTTP timeout.
func NewGit(o Options) *Adapter {
	lib := session.Shared(GitBackend, func() backend.Library {
		return gitremote.NewLibrary(o.Timeout)
	})
	if gl, ok := lib.Backend().(*gitremote.Library); ok && o.Timeout > 0 && gl.Timeout() != o.Timeout {
		slog.Warn("git transport already configured, keeping its timeout",
			slog.Duration("timeout", gl.Timeout()),
			slog.Duration("requested", o.Timeout),
		)
	}
	return New(gitremote.New(), lib, ignore.New(ignore.GitFileName), o.sessionOptions()...)
}

// NewRegistry returns a registry with every built-in backend.
func NewRegistry(o Options) *vcs.Registry {
	r := vcs.NewRegistry()
	// Names are constant and distinct, registration cannot fail.
	_ = r.Register(PerforceBackend, func() vcs.Adapter { return NewPerforce(o) })
	_ = r.Register(GitBackend, func() vcs.Adapter { return NewGit(o) })
	return r
}
