package watcher

import (
	"context"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"
)

const testSettle = 100 * time.Millisecond

// recorder collects put calls.
type recorder struct {
	mu    sync.Mutex
	paths []string
	got   chan string
}

func newRecorder() *recorder { return &recorder{got: make(chan string, 16)} }

func (r *recorder) put(_ context.Context, path string) error {
	r.mu.Lock()
	r.paths = append(r.paths, path)
	r.mu.Unlock()
	r.got <- path
	return nil
}

func (r *recorder) count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.paths)
}

func startWatcher(t *testing.T, dir, pattern string, rec *recorder) *Watcher {
	t.Helper()
	w, err := New(dir, pattern, testSettle, rec.put)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		defer close(done)
		if err := w.Run(ctx); err != nil {
			t.Errorf("Run: %v", err)
		}
	}()
	t.Cleanup(func() {
		cancel()
		<-done
	})
	// Let the watcher register the directory.
	time.Sleep(50 * time.Millisecond)
	return w
}

func writeFile(t *testing.T, p, content string) {
	t.Helper()
	if err := os.WriteFile(p, []byte(content), 0o600); err != nil {
		t.Fatalf("write %s: %v", p, err)
	}
}

func TestWatcher_PutsSettledFile(t *testing.T) {
	dir := t.TempDir()
	rec := newRecorder()
	startWatcher(t, dir, "*.h5", rec)

	p := filepath.Join(dir, "eiger_0051112_data_000001.h5")
	writeFile(t, p, "frame")

	select {
	case got := <-rec.got:
		if got != p {
			t.Errorf("path: got %q, want %q", got, p)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for put")
	}
}

func TestWatcher_DebouncesRepeatedWrites(t *testing.T) {
	dir := t.TempDir()
	rec := newRecorder()
	startWatcher(t, dir, "*.h5", rec)

	p := filepath.Join(dir, "burst.h5")
	f, err := os.Create(p)
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	for i := 0; i < 5; i++ {
		f.WriteString("chunk") //nolint:errcheck
		time.Sleep(testSettle / 4)
	}
	f.Close()

	select {
	case <-rec.got:
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for put")
	}
	time.Sleep(3 * testSettle)
	if n := rec.count(); n != 1 {
		t.Errorf("puts: got %d, want 1", n)
	}
}

func TestWatcher_IgnoresNonMatchingFiles(t *testing.T) {
	dir := t.TempDir()
	rec := newRecorder()
	w := startWatcher(t, dir, "*.h5", rec)

	writeFile(t, filepath.Join(dir, "notes.txt"), "x")
	writeFile(t, filepath.Join(dir, "eiger.h5.part"), "x")

	time.Sleep(3 * testSettle)
	if n := rec.count(); n != 0 {
		t.Errorf("puts: got %d, want 0", n)
	}
	if w.Pending() != 0 {
		t.Errorf("Pending: got %d, want 0", w.Pending())
	}
}

func TestRun_WaitsForRunningPut(t *testing.T) {
	dir := t.TempDir()
	entered := make(chan struct{})
	release := make(chan struct{})
	var once sync.Once
	put := func(_ context.Context, _ string) error {
		once.Do(func() { close(entered) })
		<-release
		return nil
	}

	w, err := New(dir, "*.h5", testSettle, put)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	done := make(chan struct{})
	go func() {
		defer close(done)
		if err := w.Run(ctx); err != nil {
			t.Errorf("Run: %v", err)
		}
	}()
	time.Sleep(50 * time.Millisecond)

	writeFile(t, filepath.Join(dir, "late.h5"), "frame")
	select {
	case <-entered:
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for put")
	}

	cancel()
	select {
	case <-done:
		t.Fatal("Run returned while a put was still running")
	case <-time.After(3 * testSettle):
	}

	close(release)
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("Run did not return after the put finished")
	}
}

func TestNew_BadPattern(t *testing.T) {
	if _, err := New(t.TempDir(), "[", testSettle, newRecorder().put); err == nil {
		t.Fatal("expected error for malformed pattern, got nil")
	}
}

func TestRun_MissingDir(t *testing.T) {
	w, err := New("/nonexistent/dir", "*.h5", testSettle, newRecorder().put)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if err := w.Run(context.Background()); err == nil {
		t.Fatal("expected error for missing directory, got nil")
	}
}
