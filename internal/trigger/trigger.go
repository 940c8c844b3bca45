// Package trigger watches a directory for external trigger files. Hotkey
// daemons, window manager bindings, and shell scripts signal the agent by
// touching a file; the watcher translates that into a recording request and
// deletes the file so the next touch fires again.
package trigger

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/fsnotify/fsnotify"
)

// Trigger file names recognized inside the watched directory.
const (
	FilePTT     = "voice_ptt"
	FileDictate = "voice_dictate"
	FileStop    = "voice_stop"
)

// DefaultDebounce coalesces the create+write event pairs that a single
// `touch` produces.
const DefaultDebounce = 50 * time.Millisecond

// Requests receives the translated trigger requests. The recording state
// machine satisfies this.
type Requests interface {
	RequestPTT()
	RequestDictation()
	RequestStop()
}

// Watcher watches one directory for trigger files.
type Watcher struct {
	dir      string
	requests Requests
	debounce time.Duration
	log      *slog.Logger

	lastFired map[string]time.Time
}

// Option configures a Watcher.
type Option func(*Watcher)

// WithDebounce overrides the event debounce interval.
func WithDebounce(d time.Duration) Option {
	return func(w *Watcher) {
		if d > 0 {
			w.debounce = d
		}
	}
}

// WithLogger overrides the default logger.
func WithLogger(log *slog.Logger) Option {
	return func(w *Watcher) { w.log = log }
}

// New builds a watcher for dir, delivering requests to r.
func New(dir string, r Requests, opts ...Option) (*Watcher, error) {
	if dir == "" {
		return nil, fmt.Errorf("trigger: dir must not be empty")
	}
	w := &Watcher{
		dir:       dir,
		requests:  r,
		debounce:  DefaultDebounce,
		log:       slog.Default(),
		lastFired: make(map[string]time.Time),
	}
	for _, opt := range opts {
		opt(w)
	}
	return w, nil
}

// Run watches until the context is cancelled. The directory is created if
// missing, and trigger files already present at startup fire immediately.
func (w *Watcher) Run(ctx context.Context) error {
	if err := os.MkdirAll(w.dir, 0o755); err != nil {
		return fmt.Errorf("trigger: create dir: %w", err)
	}

	fw, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("trigger: start watcher: %w", err)
	}
	defer fw.Close()

	if err := fw.Add(w.dir); err != nil {
		return fmt.Errorf("trigger: watch %s: %w", w.dir, err)
	}

	// Triggers touched before we started watching.
	w.sweep()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case ev, ok := <-fw.Events:
			if !ok {
				return nil
			}
			if ev.Op&(fsnotify.Create|fsnotify.Write) != 0 {
				w.handle(ev.Name)
			}
		case err, ok := <-fw.Errors:
			if !ok {
				return nil
			}
			w.log.Warn("trigger watcher error", "error", err)
		}
	}
}

// sweep fires any recognized trigger files already in the directory.
func (w *Watcher) sweep() {
	entries, err := os.ReadDir(w.dir)
	if err != nil {
		w.log.Warn("trigger sweep failed", "error", err)
		return
	}
	for _, e := range entries {
		if !e.IsDir() {
			w.handle(filepath.Join(w.dir, e.Name()))
		}
	}
}

// handle translates one trigger file into a request and removes the file.
func (w *Watcher) handle(path string) {
	name := filepath.Base(path)
	switch name {
	case FilePTT, FileDictate, FileStop:
	default:
		return
	}

	// The file is consumed even when the event is debounced away, so a
	// stale trigger cannot fire on the next unrelated event.
	if err := os.Remove(path); err != nil && !errors.Is(err, fs.ErrNotExist) {
		w.log.Warn("removing trigger file failed", "file", name, "error", err)
	}

	now := time.Now()
	if now.Sub(w.lastFired[name]) < w.debounce {
		return
	}
	w.lastFired[name] = now

	w.log.Info("trigger fired", "trigger", name)
	switch name {
	case FilePTT:
		w.requests.RequestPTT()
	case FileDictate:
		w.requests.RequestDictation()
	case FileStop:
		w.requests.RequestStop()
	}
}
