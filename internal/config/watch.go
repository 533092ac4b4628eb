package config

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"time"

	"github.com/fsnotify/fsnotify"
)

// ///////////////////////////////////////////////
// Watcher
// ///////////////////////////////////////////////

// Watcher signals when the config file changes. It watches the containing
// directory because atomic saves replace the file rather than writing it in
// place. When fsnotify is unavailable it falls back to polling the file's
// modification time.
type Watcher struct {
	path string
	// events is buffered to 1 so back-to-back writes coalesce.
	events       chan struct{}
	done         chan struct{}
	once         sync.Once
	fsw          *fsnotify.Watcher
	polling      atomic.Bool
	pollInterval time.Duration
}

// NewWatcher starts watching the config file at path. The file itself need
// not exist yet but its directory must.
func NewWatcher(path string) (*Watcher, error) {
	return newWatcher(path, 2*time.Second)
}

func newWatcher(path string, pollInterval time.Duration) (*Watcher, error) {
	if _, err := os.Stat(filepath.Dir(path)); err != nil {
		return nil, fmt.Errorf("config directory: %w", err)
	}
	w := &Watcher{
		path:         path,
		events:       make(chan struct{}, 1),
		done:         make(chan struct{}),
		pollInterval: pollInterval,
	}

	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		slog.Info("fsnotify unavailable, polling config", "error", err)
		w.startPolling()
		return w, nil
	}
	if err := fsw.Add(filepath.Dir(path)); err != nil {
		slog.Info("cannot watch config directory, polling", "path", path, "error", err)
		fsw.Close()
		w.startPolling()
		return w, nil
	}
	w.fsw = fsw
	go w.watch()
	return w, nil
}

// Events returns a channel that receives a signal when the file changes.
func (w *Watcher) Events() <-chan struct{} { return w.events }

// Polling reports whether the watcher is using polling instead of fsnotify.
func (w *Watcher) Polling() bool { return w.polling.Load() }

// Close stops the watcher. It is safe to call more than once.
func (w *Watcher) Close() error {
	var err error
	w.once.Do(func() {
		close(w.done)
		if w.fsw != nil {
			if cerr := w.fsw.Close(); cerr != nil {
				err = fmt.Errorf("closing fsnotify watcher: %w", cerr)
			}
		}
	})
	return err
}

func (w *Watcher) watch() {
	name := filepath.Clean(w.path)
	for {
		select {
		case <-w.done:
			return
		case ev, ok := <-w.fsw.Events:
			if !ok {
				return
			}
			if filepath.Clean(ev.Name) != name {
				continue
			}
			if ev.Has(fsnotify.Write) || ev.Has(fsnotify.Create) || ev.Has(fsnotify.Rename) {
				w.notify()
			}
		case err, ok := <-w.fsw.Errors:
			if !ok {
				return
			}
			slog.Info("fsnotify error, switching to polling", "error", err)
			w.startPolling()
			return
		}
	}
}

func (w *Watcher) startPolling() {
	w.polling.Store(true)
	go w.poll()
}

func (w *Watcher) poll() {
	modTime := func() time.Time {
		info, err := os.Stat(w.path)
		if err != nil {
			return time.Time{}
		}
		return info.ModTime()
	}
	last := modTime()

	ticker := time.NewTicker(w.pollInterval)
	defer ticker.Stop()
	for {
		select {
		case <-w.done:
			return
		case <-ticker.C:
			if mod := modTime(); mod.After(last) {
				last = mod
				w.notify()
			}
		}
	}
}

func (w *Watcher) notify() {
	select {
	case w.events <- struct{}{}:
	default:
	}
}
