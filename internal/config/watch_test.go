// Tests for the config [Watcher]: change delivery through atomic replaces,
// polling fallback, and close semantics.
package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func waitEvent(t *testing.T, w *Watcher, within time.Duration) {
	t.Helper()
	select {
	case <-w.Events():
	case <-time.After(within):
		t.Fatal("timed out waiting for config change event")
	}
}

func TestWatcherSeesAtomicSave(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping slow watcher test in short mode")
	}
	path := filepath.Join(t.TempDir(), "config.toml")
	if err := DefaultConfig().Save(path); err != nil {
		t.Fatal(err)
	}

	w, err := NewWatcher(path)
	if err != nil {
		t.Fatalf("NewWatcher: %v", err)
	}
	defer w.Close()
	time.Sleep(100 * time.Millisecond)

	cfg := DefaultConfig()
	cfg.Notify.MessageSound = false
	if err := cfg.Save(path); err != nil {
		t.Fatal(err)
	}
	waitEvent(t, w, 5*time.Second)
}

func TestWatcherIgnoresSiblings(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping slow watcher test in short mode")
	}
	dir := t.TempDir()
	path := filepath.Join(dir, "config.toml")
	w, err := NewWatcher(path)
	if err != nil {
		t.Fatalf("NewWatcher: %v", err)
	}
	defer w.Close()
	if w.Polling() {
		t.Skip("fsnotify unavailable")
	}
	time.Sleep(100 * time.Millisecond)

	os.WriteFile(filepath.Join(dir, "chatsync.log"), []byte("noise"), 0o600)
	select {
	case <-w.Events():
		t.Error("event for unrelated file")
	case <-time.After(300 * time.Millisecond):
	}
}

func TestWatcherPollingFallback(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.toml")
	os.WriteFile(path, []byte("version = 1\n"), 0o600)

	w := &Watcher{
		path:         path,
		events:       make(chan struct{}, 1),
		done:         make(chan struct{}),
		pollInterval: 20 * time.Millisecond,
	}
	w.startPolling()
	defer w.Close()
	if !w.Polling() {
		t.Fatal("Polling() = false after startPolling")
	}

	future := time.Now().Add(time.Hour)
	if err := os.Chtimes(path, future, future); err != nil {
		t.Fatal(err)
	}
	waitEvent(t, w, 2*time.Second)
}

func TestWatcherMissingDirectory(t *testing.T) {
	if _, err := NewWatcher(filepath.Join(t.TempDir(), "nope", "config.toml")); err == nil {
		t.Fatal("expected error for missing directory")
	}
}

func TestWatcherCloseIdempotent(t *testing.T) {
	w, err := NewWatcher(filepath.Join(t.TempDir(), "config.toml"))
	if err != nil {
		t.Fatalf("NewWatcher: %v", err)
	}
	if err := w.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
	if err := w.Close(); err != nil {
		t.Fatalf("second Close: %v", err)
	}
}
