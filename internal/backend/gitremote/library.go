package gitremote

import (
	"net/http"
	"sync"
	"time"

	"github.com/go-git/go-git/v5/plumbing/transport/client"
	githttp "github.com/go-git/go-git/v5/plumbing/transport/http"
)

// DefaultHTTPTimeout bounds each HTTP request made by the git transport.
const DefaultHTTPTimeout = 60 * time.Second

// Library installs go-git's http and https transports with a bounded HTTP
// client for the lifetime of the process-wide resource, and restores the
// defaults on Shutdown.
type Library struct {
	timeout time.Duration

	mu        sync.Mutex
	installed bool
}

func NewLibrary(timeout time.Duration) *Library {
	if timeout <= 0 {
		timeout = DefaultHTTPTimeout
	}
	return &Library{timeout: timeout}
}

// Timeout is the per-request bound of the installed transport.
func (l *Library) Timeout() time.Duration { return l.timeout }

func (l *Library) Init() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.installed {
		return nil
	}
	t := githttp.NewClient(&http.Client{Timeout: l.timeout})
	client.InstallProtocol("http", t)
	client.InstallProtocol("https", t)
	l.installed = true
	return nil
}

func (l *Library) Shutdown() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if !l.installed {
		return nil
	}
	client.InstallProtocol("http", githttp.DefaultClient)
	client.InstallProtocol("https", githttp.DefaultClient)
	l.installed = false
	return nil
}

// Installed reports whether the bounded transports are active.
func (l *Library) Installed() bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.installed
}
