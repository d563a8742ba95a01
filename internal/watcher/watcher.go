// Package watcher turns new image files in a directory into path puts.
//
// A Watcher follows one directory with fsnotify. Every created or written
// file whose base name matches the glob is debounced: once it has been quiet
// for the settle period, the put func is called with its path. Detector
// writers append to files in several chunks, so the settle period keeps the
// IOC from reading half-written images.
package watcher

import (
	"context"
	"fmt"
	"log/slog"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
)

// PutFunc hands a settled file path to the IOC.
type PutFunc func(ctx context.Context, path string) error

// Watcher debounces file events for one directory.
type Watcher struct {
	dir     string
	pattern string
	settle  time.Duration
	put     PutFunc

	mu      sync.Mutex
	pending map[string]*time.Timer

	// inflight counts timers that are scheduled or whose put is running.
	inflight sync.WaitGroup
}

// New returns a Watcher for dir. pattern is a filepath.Match glob; it is
// checked here so a bad config fails at startup.
func New(dir, pattern string, settle time.Duration, put PutFunc) (*Watcher, error) {
	if _, err := filepath.Match(pattern, ""); err != nil {
		return nil, fmt.Errorf("watcher: pattern %q: %w", pattern, err)
	}
	return &Watcher{
		dir:     dir,
		pattern: pattern,
		settle:  settle,
		put:     put,
		pending: make(map[string]*time.Timer),
	}, nil
}

// Run watches the directory until ctx is cancelled. Pending files that have
// not settled by then are dropped; a put already running is waited for.
func (w *Watcher) Run(ctx context.Context) error {
	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("watcher: %w", err)
	}
	defer fsw.Close()

	if err := fsw.Add(w.dir); err != nil {
		return fmt.Errorf("watcher: watch %q: %w", w.dir, err)
	}
	defer func() {
		w.stopAll()
		w.inflight.Wait()
	}()
	slog.Info("watcher: watching for images", "dir", w.dir, "pattern", w.pattern, "settle", w.settle)

	for {
		select {
		case <-ctx.Done():
			return nil

		case event, ok := <-fsw.Events:
			if !ok {
				return nil
			}
			if !event.Has(fsnotify.Write) && !event.Has(fsnotify.Create) {
				continue
			}
			if ok, _ := filepath.Match(w.pattern, filepath.Base(event.Name)); !ok {
				continue
			}
			w.schedule(ctx, event.Name)

		case err, ok := <-fsw.Errors:
			if !ok {
				return nil
			}
			slog.Error("watcher: fsnotify error", "dir", w.dir, "err", err)
		}
	}
}

// Pending returns the number of files waiting to settle.
func (w *Watcher) Pending() int {
	w.mu.Lock()
	defer w.mu.Unlock()
	return len(w.pending)
}

// schedule (re)starts the settle timer for path.
func (w *Watcher) schedule(ctx context.Context, path string) {
	w.mu.Lock()
	defer w.mu.Unlock()

	if t, ok := w.pending[path]; ok && t.Stop() {
		t.Reset(w.settle)
		return
	}

	w.inflight.Add(1)
	var t *time.Timer
	t = time.AfterFunc(w.settle, func() {
		defer w.inflight.Done()
		w.mu.Lock()
		if w.pending[path] == t {
			delete(w.pending, path)
		}
		w.mu.Unlock()

		if ctx.Err() != nil {
			return
		}
		slog.Info("watcher: image settled", "path", path)
		if err := w.put(ctx, path); err != nil {
			slog.Warn("watcher: put failed", "path", path, "err", err)
		}
	})
	w.pending[path] = t
}

func (w *Watcher) stopAll() {
	w.mu.Lock()
	defer w.mu.Unlock()
	for path, t := range w.pending {
		if t.Stop() {
			w.inflight.Done()
		}
		delete(w.pending, path)
	}
}
