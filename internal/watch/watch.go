// Package watch reports changes to a fixed set of files, coalescing bursts of
// filesystem events.
package watch

import (
	"errors"
	"fmt"
	"iter"
	"log/slog"
	"maps"
	"path/filepath"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/thiagokokada/p4vcs-go/internal/debounce"
)

const DefaultDelay = 350 * time.Millisecond

// Watcher calls onChange with the sorted set of watched files that changed
// since the previous call.
type Watcher struct {
	mu       sync.Mutex
	files    map[string]struct{}
	delay    time.Duration
	onChange func(paths []string)

	watcher  *fsnotify.Watcher
	debounce *debounce.Debouncer
	dirty    map[string]struct{}
	done     chan struct{}
}

func New(files []string, delay time.Duration, onChange func(paths []string)) (*Watcher, error) {
	if len(files) == 0 {
		return nil, errors.New("watch: no files")
	}
	if delay <= 0 {
		delay = DefaultDelay
	}
	w := &Watcher{
		files:    make(map[string]struct{}, len(files)),
		delay:    delay,
		onChange: onChange,
		dirty:    map[string]struct{}{},
	}
	for _, f := range files {
		abs, err := filepath.Abs(f)
		if err != nil {
			return nil, fmt.Errorf("watch %s: %w", f, err)
		}
		w.files[abs] = struct{}{}
	}
	return w, nil
}

// Start begins watching. Parent directories are watched rather than the
// files so that editors replacing a file by rename are still seen.
func (w *Watcher) Start() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.watcher != nil {
		return nil
	}
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("fsnotify: %w", err)
	}
	for dir := range watchDirs(w.files) {
		slog.Debug("adding path to FS watcher", slog.String("path", dir))
		if err := watcher.Add(dir); err != nil {
			err := errors.Join(err, watcher.Close())
			return fmt.Errorf("watch %s: %w", dir, err)
		}
	}
	debounce.Ensure(&w.debounce, w.delay, w.flush)
	w.watcher = watcher
	w.done = make(chan struct{})
	go w.loop(watcher, w.done)
	return nil
}

func (w *Watcher) Close() error {
	w.mu.Lock()
	watcher, done := w.watcher, w.done
	w.watcher = nil
	if w.debounce != nil {
		w.debounce.Stop()
	}
	w.mu.Unlock()
	if watcher == nil {
		return nil
	}
	err := watcher.Close()
	<-done
	return err
}

func (w *Watcher) loop(watcher *fsnotify.Watcher, done chan struct{}) {
	defer close(done)
	for {
		select {
		case ev, ok := <-watcher.Events:
			if !ok {
				return
			}
			w.handle(ev)
		case err, ok := <-watcher.Errors:
			if !ok {
				return
			}
			slog.Error("fsnotify error", slog.Any("error", err))
		}
	}
}

func (w *Watcher) handle(ev fsnotify.Event) {
	if ev.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Remove|fsnotify.Rename) == 0 {
		return
	}
	if shouldIgnoreWatchPath(ev.Name) {
		return
	}
	name := filepath.Clean(ev.Name)
	w.mu.Lock()
	defer w.mu.Unlock()
	if _, ok := w.files[name]; !ok {
		return
	}
	slog.Debug("fsnotify event", slog.String("op", ev.Op.String()), slog.String("path", name))
	w.dirty[name] = struct{}{}
	if w.debounce != nil {
		w.debounce.Trigger()
	}
}

func (w *Watcher) flush() {
	w.mu.Lock()
	if len(w.dirty) == 0 {
		w.mu.Unlock()
		return
	}
	paths := slices.Sorted(maps.Keys(w.dirty))
	clear(w.dirty)
	w.mu.Unlock()
	w.onChange(paths)
}

func watchDirs(files map[string]struct{}) iter.Seq[string] {
	dirs := map[string]struct{}{}
	for f := range files {
		dirs[filepath.Dir(f)] = struct{}{}
	}
	return maps.Keys(dirs)
}

func shouldIgnoreWatchPath(name string) bool {
	if strings.HasSuffix(name, "~") {
		return true
	}
	switch strings.ToLower(filepath.Ext(name)) {
	case ".lock", ".ipc", ".swp", ".tmp":
		return true
	}
	return false
}
