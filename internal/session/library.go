package session

import (
	"fmt"
	"log/slog"
	"sync"

	"github.com/thiagokokada/p4vcs-go/internal/backend"
)

// Library reference-counts a process-wide backend library. Init runs when the
// count goes from 0 to 1 and Shutdown when it drops back to 0; both happen
// inside the same critical section as the count change.
type Library struct {
	mu    sync.Mutex
	lib   backend.Library
	count int
}

func NewLibrary(lib backend.Library) *Library {
	return &Library{lib: lib}
}

func (l *Library) Acquire() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.count == 0 {
		if err := l.lib.Init(); err != nil {
			return fmt.Errorf("init backend library: %w", err)
		}
		slog.Debug("backend library initialized")
	}
	l.count++
	return nil
}

// Release drops one reference. Releasing an unreferenced library is a no-op.
func (l *Library) Release() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.count == 0 {
		return nil
	}
	l.count--
	if l.count > 0 {
		return nil
	}
	if err := l.lib.Shutdown(); err != nil {
		return fmt.Errorf("shutdown backend library: %w", err)
	}
	slog.Debug("backend library shut down")
	return nil
}

// Backend returns the wrapped library.
func (l *Library) Backend() backend.Library { return l.lib }

func (l *Library) Count() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.count
}

var shared = struct {
	mu   sync.Mutex
	libs map[string]*Library
}{libs: map[string]*Library{}}

// Shared returns the process-wide Library registered under key, creating it
// with newLib on first use.
func Shared(key string, newLib func() backend.Library) *Library {
	shared.mu.Lock()
	defer shared.mu.Unlock()
	if l, ok := shared.libs[key]; ok {
		return l
	}
	l := NewLibrary(newLib())
	shared.libs[key] = l
	return l
}
