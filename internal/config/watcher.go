package config

import (
	"bytes"
	"crypto/sha256"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"sync"
	"time"
)

// Watcher monitors a config file, and the rules file it points at, for
// changes and calls a callback when either is modified. It uses polling
// (not fsnotify) to keep dependencies minimal.
type Watcher struct {
	path     string
	interval time.Duration
	onChange func(old, new *Config)

	mu       sync.Mutex
	current  *Config
	done     chan struct{}
	stopOnce sync.Once

	// last known file state for change detection
	lastMtime time.Time
	lastHash  [sha256.Size]byte
}

// WatcherOption configures a [Watcher].
type WatcherOption func(*Watcher)

// WithInterval sets the polling interval. The default is 5 seconds.
func WithInterval(d time.Duration) WatcherOption {
	return func(w *Watcher) {
		if d > 0 {
			w.interval = d
		}
	}
}

// NewWatcher creates a config file watcher. It loads the initial config
// immediately and starts polling in a background goroutine.
func NewWatcher(path string, onChange func(old, new *Config), opts ...WatcherOption) (*Watcher, error) {
	w := &Watcher{
		path:     path,
		interval: 5 * time.Second,
		onChange: onChange,
		done:     make(chan struct{}),
	}
	for _, opt := range opts {
		opt(w)
	}

	cfg, hash, mtime, err := w.loadAndHash()
	if err != nil {
		return nil, fmt.Errorf("config: watcher initial load: %w", err)
	}
	w.current = cfg
	w.lastHash = hash
	w.lastMtime = mtime

	go w.poll()
	return w, nil
}

// Current returns the most recently loaded valid config.
func (w *Watcher) Current() *Config {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.current
}

// Stop stops the file watcher.
func (w *Watcher) Stop() {
	w.stopOnce.Do(func() {
		close(w.done)
	})
}

func (w *Watcher) poll() {
	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()

	for {
		select {
		case <-w.done:
			return
		case <-ticker.C:
			w.check()
		}
	}
}

// check reloads the config when the newest mtime of the watched files moved
// and the combined content hash differs from the last one.
func (w *Watcher) check() {
	w.mu.Lock()
	mtime := w.lastMtime
	rules := w.current.Coach.RulesFile
	w.mu.Unlock()

	latest, err := latestMtime(w.path, rules)
	if err != nil {
		slog.Warn("config watcher: cannot stat file", "path", w.path, "err", err)
		return
	}
	if latest.Equal(mtime) {
		return
	}

	cfg, hash, newMtime, err := w.loadAndHash()
	if err != nil {
		slog.Warn("config watcher: failed to load config", "path", w.path, "err", err)
		return
	}

	w.mu.Lock()
	if hash == w.lastHash {
		w.lastMtime = newMtime
		w.mu.Unlock()
		return
	}
	old := w.current
	w.current = cfg
	w.lastHash = hash
	w.lastMtime = newMtime
	w.mu.Unlock()

	slog.Info("config watcher: configuration reloaded", "path", w.path, "rules_file", cfg.Coach.RulesFile)

	// Outside the lock so the callback can call Current().
	if w.onChange != nil {
		w.onChange(old, cfg)
	}
}

// loadAndHash parses and validates the config file and hashes it together
// with its rules file. An invalid config returns an error; the caller keeps
// the old one. A missing rules file hashes as empty so that creating it
// later triggers a reload.
func (w *Watcher) loadAndHash() (*Config, [sha256.Size]byte, time.Time, error) {
	var zeroHash [sha256.Size]byte

	data, err := os.ReadFile(w.path)
	if err != nil {
		return nil, zeroHash, time.Time{}, err
	}
	cfg, err := LoadFromReader(bytes.NewReader(data))
	if err != nil {
		return nil, zeroHash, time.Time{}, err
	}

	h := sha256.New()
	h.Write(data)
	if cfg.Coach.RulesFile != "" {
		rules, err := os.ReadFile(cfg.Coach.RulesFile)
		if err != nil && !errors.Is(err, fs.ErrNotExist) {
			return nil, zeroHash, time.Time{}, fmt.Errorf("read rules file: %w", err)
		}
		h.Write([]byte{0})
		h.Write(rules)
	}
	var sum [sha256.Size]byte
	copy(sum[:], h.Sum(nil))

	mtime, err := latestMtime(w.path, cfg.Coach.RulesFile)
	if err != nil {
		return nil, zeroHash, time.Time{}, err
	}
	return cfg, sum, mtime, nil
}

// latestMtime returns the newest modification time of the config file and
// the optional rules file. A missing rules file is skipped.
func latestMtime(configPath, rulesPath string) (time.Time, error) {
	info, err := os.Stat(configPath)
	if err != nil {
		return time.Time{}, err
	}
	latest := info.ModTime()
	if rulesPath == "" {
		return latest, nil
	}
	ri, err := os.Stat(rulesPath)
	switch {
	case errors.Is(err, fs.ErrNotExist):
		return latest, nil
	case err != nil:
		return time.Time{}, err
	}
	if ri.ModTime().After(latest) {
		latest = ri.ModTime()
	}
	return latest, nil
}
