package config

import (
	"bytes"
	"context"
	"crypto/sha256"
	"fmt"
	"log/slog"
	"os"
	"sync"
	"time"
)

// Reload is one accepted change of the watched config file.
type Reload struct {
	Old, New *Config
	Diff     ConfigDiff
}

// Watcher polls the daemon's config file and hands changed configs to an
// apply function. A file is considered changed when its size or mtime moved
// and its content hash differs. Edits that parse to an identical config,
// such as comment changes, are skipped.
//
// A file that fails to parse or validate, or that apply rejects, leaves the
// current config in place.
type Watcher struct {
	path     string
	interval time.Duration
	override func(*Config)
	log      *slog.Logger

	mu      sync.Mutex
	current *Config
	stamp   fileStamp
	hash    [sha256.Size]byte
}

type fileStamp struct {
	size  int64
	mtime time.Time
}

func (s fileStamp) equal(o fileStamp) bool {
	return s.size == o.size && s.mtime.Equal(o.mtime)
}

// WatcherOption configures a [Watcher].
type WatcherOption func(*Watcher)

// WithInterval sets the polling interval. The default is 2 seconds.
func WithInterval(d time.Duration) WatcherOption {
	return func(w *Watcher) {
		if d > 0 {
			w.interval = d
		}
	}
}

// WithWatcherLogger sets the logger for reload messages.
func WithWatcherLogger(l *slog.Logger) WatcherOption {
	return func(w *Watcher) {
		if l != nil {
			w.log = l
		}
	}
}

// WithOverride registers a function that adjusts every loaded config before
// it is compared, e.g. to re-apply command-line flags.
func WithOverride(fn func(*Config)) WatcherOption {
	return func(w *Watcher) { w.override = fn }
}

// NewWatcher loads path and returns a watcher holding it as the current
// config. Polling starts with [Watcher.Run].
func NewWatcher(path string, opts ...WatcherOption) (*Watcher, error) {
	w := &Watcher{
		path:     path,
		interval: 2 * time.Second,
		log:      slog.Default(),
	}
	for _, opt := range opts {
		opt(w)
	}

	cfg, stamp, hash, err := w.read()
	if err != nil {
		return nil, fmt.Errorf("config: watch %q: %w", path, err)
	}
	w.current, w.stamp, w.hash = cfg, stamp, hash
	return w, nil
}

// Current returns the config most recently accepted.
func (w *Watcher) Current() *Config {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.current
}

// Run polls until ctx is done, calling apply for every change.
func (w *Watcher) Run(ctx context.Context, apply func(Reload) error) {
	t := time.NewTicker(w.interval)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-t.C:
			w.Check(apply)
		}
	}
}

// Check polls the file once. It reports whether a changed config was
// accepted by apply.
func (w *Watcher) Check(apply func(Reload) error) bool {
	info, err := os.Stat(w.path)
	if err != nil {
		// Editors that save by rename briefly remove the file.
		w.log.Debug("config: stat failed", "path", w.path, "err", err)
		return false
	}

	w.mu.Lock()
	defer w.mu.Unlock()

	if w.stamp.equal(fileStamp{size: info.Size(), mtime: info.ModTime()}) {
		return false
	}
	cfg, stamp, hash, err := w.read()
	if err != nil {
		w.log.Warn("config: reload skipped, keeping current config", "path", w.path, "err", err)
		// Remember the broken file so it is reported once.
		w.stamp = stamp
		return false
	}
	w.stamp = stamp
	if hash == w.hash {
		return false
	}
	w.hash = hash

	r := Reload{Old: w.current, New: cfg, Diff: Diff(w.current, cfg)}
	if r.Diff.Empty() {
		w.current = cfg
		return false
	}
	if apply != nil {
		if err := apply(r); err != nil {
			w.log.Warn("config: reload rejected", "path", w.path, "err", err)
			return false
		}
	}
	w.current = cfg
	w.log.Info("config: reloaded", "path", w.path, "restart_required", r.Diff.RestartRequired)
	return true
}

// read loads and validates the file. The stamp is returned even when the
// content is invalid.
func (w *Watcher) read() (*Config, fileStamp, [sha256.Size]byte, error) {
	var hash [sha256.Size]byte
	data, err := os.ReadFile(w.path)
	if err != nil {
		return nil, fileStamp{}, hash, err
	}
	var stamp fileStamp
	if info, err := os.Stat(w.path); err == nil {
		stamp = fileStamp{size: info.Size(), mtime: info.ModTime()}
	}
	hash = sha256.Sum256(data)

	cfg, err := LoadFromReader(bytes.NewReader(data))
	if err != nil {
		return nil, stamp, hash, err
	}
	if w.override != nil {
		w.override(cfg)
	}
	return cfg, stamp, hash, nil
}
