package profile

import (
	"context"
	"fmt"
	"log/slog"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
)

// ChangeEvent signals that a profile file under the watched directory changed.
type ChangeEvent struct {
	Path      string
	Timestamp time.Time
}

// Watcher watches a profiles directory and emits debounced change events so a
// caller can reload the catalog between runs.
type Watcher struct {
	watcher       *fsnotify.Watcher
	events        chan ChangeEvent
	debounceTimer *time.Timer
	debounceMu    sync.Mutex
	watchedDir    string
	closed        bool
	closeMu       sync.RWMutex
}

const debounceDelay = 500 * time.Millisecond

// NewWatcher creates a profile directory watcher.
func NewWatcher() (*Watcher, error) {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("failed to create file watcher: %w", err)
	}

	return &Watcher{
		watcher: watcher,
		events:  make(chan ChangeEvent, 16),
	}, nil
}

// Watch starts watching the given profiles directory.
func (w *Watcher) Watch(dir string) error {
	w.closeMu.RLock()
	if w.closed {
		w.closeMu.RUnlock()
		return fmt.Errorf("watcher is closed")
	}
	w.closeMu.RUnlock()

	absDir, err := filepath.Abs(dir)
	if err != nil {
		return fmt.Errorf("failed to get absolute path: %w", err)
	}
	if err := w.watcher.Add(absDir); err != nil {
		return fmt.Errorf("failed to watch directory %s: %w", absDir, err)
	}

	w.watchedDir = absDir
	slog.Debug("Started watching profiles directory", "dir", absDir)

	return nil
}

// Events returns the channel for receiving profile change events.
func (w *Watcher) Events() <-chan ChangeEvent {
	return w.events
}

// Start begins processing file system events.
func (w *Watcher) Start(ctx context.Context) {
	go w.processEvents(ctx)
}

func (w *Watcher) processEvents(ctx context.Context) {
	defer close(w.events)

	for {
		select {
		case <-ctx.Done():
			slog.Debug("Profile watcher context cancelled")
			return

		case event, ok := <-w.watcher.Events:
			if !ok {
				slog.Debug("Profile watcher events channel closed")
				return
			}

			if !isYAML(event.Name) {
				continue
			}
			// Only Write and Create matter; editors save with either.
			if event.Op&(fsnotify.Write|fsnotify.Create) == 0 {
				continue
			}

			slog.Debug("Profile file changed", "path", event.Name, "op", event.Op)
			w.scheduleReload(event.Name)

		case err, ok := <-w.watcher.Errors:
			if !ok {
				slog.Debug("Profile watcher errors channel closed")
				return
			}
			slog.Error("Profile watcher error", "error", err)
		}
	}
}

// scheduleReload emits one event after the debounce delay, collapsing rapid
// write bursts into a single reload.
func (w *Watcher) scheduleReload(path string) {
	w.debounceMu.Lock()
	defer w.debounceMu.Unlock()

	if w.debounceTimer != nil {
		w.debounceTimer.Stop()
	}

	w.debounceTimer = time.AfterFunc(debounceDelay, func() {
		w.closeMu.RLock()
		defer w.closeMu.RUnlock()

		if w.closed {
			return
		}

		select {
		case w.events <- ChangeEvent{Path: path, Timestamp: time.Now()}:
			slog.Debug("Profile reload event emitted", "path", path)
		default:
			slog.Warn("Profile reload event channel full, skipping event")
		}
	})
}

// Close stops the watcher and releases resources. Closing twice is a no-op.
func (w *Watcher) Close() error {
	w.closeMu.Lock()
	defer w.closeMu.Unlock()

	if w.closed {
		return nil
	}
	w.closed = true

	w.debounceMu.Lock()
	if w.debounceTimer != nil {
		w.debounceTimer.Stop()
	}
	w.debounceMu.Unlock()

	if err := w.watcher.Close(); err != nil {
		return fmt.Errorf("failed to close file watcher: %w", err)
	}

	slog.Debug("Profile watcher closed")
	return nil
}
