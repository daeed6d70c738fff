package config

import (
	"context"
	"fmt"
	"log/slog"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
)

const defaultDebounce = 300 * time.Millisecond

// Watcher calls a handler when one of the watched files changes. Parent
// directories are watched so that editors replacing files by rename are seen.
type Watcher struct {
	handlers map[string]func()
	debounce time.Duration

	mu      sync.Mutex
	pending map[string]*time.Timer
}

// NewWatcher creates an empty watcher.
func NewWatcher() *Watcher {
	return &Watcher{
		handlers: make(map[string]func()),
		debounce: defaultDebounce,
		pending:  make(map[string]*time.Timer),
	}
}

// Handle registers fn for changes to path. Bursts of events are coalesced.
func (w *Watcher) Handle(path string, fn func()) {
	w.handlers[filepath.Clean(path)] = fn
}

// Run watches until ctx is done.
func (w *Watcher) Run(ctx context.Context) error {
	fw, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("create watcher: %w", err)
	}
	defer fw.Close()

	dirs := make(map[string]bool)
	for path := range w.handlers {
		dir := filepath.Dir(path)
		if dirs[dir] {
			continue
		}
		if err := fw.Add(dir); err != nil {
			return fmt.Errorf("watch %s: %w", dir, err)
		}
		dirs[dir] = true
	}
	slog.Debug("config watcher started", "files", len(w.handlers))

	defer w.stopPending()
	for {
		select {
		case <-ctx.Done():
			return nil
		case event, ok := <-fw.Events:
			if !ok {
				return nil
			}
			if event.Op&(fsnotify.Create|fsnotify.Write|fsnotify.Rename) == 0 {
				continue
			}
			w.schedule(filepath.Clean(event.Name))
		case err, ok := <-fw.Errors:
			if !ok {
				return nil
			}
			slog.Warn("config watcher", "error", err)
		}
	}
}

func (w *Watcher) schedule(path string) {
	fn, ok := w.handlers[path]
	if !ok {
		return
	}
	w.mu.Lock()
	defer w.mu.Unlock()
	if t, exists := w.pending[path]; exists {
		t.Reset(w.debounce)
		return
	}
	w.pending[path] = time.AfterFunc(w.debounce, func() {
		w.mu.Lock()
		delete(w.pending, path)
		w.mu.Unlock()
		slog.Info("file changed, reloading", "path", path)
		fn()
	})
}

func (w *Watcher) stopPending() {
	w.mu.Lock()
	defer w.mu.Unlock()
	for path, t := range w.pending {
		t.Stop()
		delete(w.pending, path)
	}
}
