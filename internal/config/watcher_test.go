package config_test

import (
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/MrWong99/pitchcoach/internal/config"
)

const watcherValidYAML = `
server:
  log_level: info
providers:
  llm:
    name: openai
`

const watcherUpdatedYAML = `
server:
  log_level: debug
providers:
  llm:
    name: openai
coach:
  question_phrases: ["any questions"]
`

const watcherInvalidYAML = `
server:
  log_level: bananas
`

func writeFile(t *testing.T, path, content string) {
	t.Helper()
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("failed to write file %q: %v", path, err)
	}
}

// bumpMtime pushes the file's mtime forward so coarse filesystem clocks
// still register a change.
func bumpMtime(t *testing.T, path string, by time.Duration) {
	t.Helper()
	ts := time.Now().Add(by)
	if err := os.Chtimes(path, ts, ts); err != nil {
		t.Fatalf("chtimes %q: %v", path, err)
	}
}

type callbackRecorder struct {
	mu     sync.Mutex
	calls  int
	old    *config.Config
	new    *config.Config
	called chan struct{}
}

func newRecorder() *callbackRecorder {
	return &callbackRecorder{called: make(chan struct{}, 8)}
}

func (r *callbackRecorder) onChange(old, new *config.Config) {
	r.mu.Lock()
	r.calls++
	r.old, r.new = old, new
	r.mu.Unlock()
	select {
	case r.called <- struct{}{}:
	default:
	}
}

func (r *callbackRecorder) count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.calls
}

func (r *callbackRecorder) wait(t *testing.T) {
	t.Helper()
	select {
	case <-r.called:
	case <-time.After(2 * time.Second):
		t.Fatal("callback was not invoked within timeout")
	}
}

func TestWatcher_InitialLoad(t *testing.T) {
	t.Parallel()
	cfgPath := filepath.Join(t.TempDir(), "config.yaml")
	writeFile(t, cfgPath, watcherValidYAML)

	w, err := config.NewWatcher(cfgPath, nil, config.WithInterval(50*time.Millisecond))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	defer w.Stop()

	cfg := w.Current()
	if cfg == nil {
		t.Fatal("Current() returned nil after initial load")
	}
	if cfg.Server.LogLevel != config.LogInfo {
		t.Errorf("log_level: got %q, want %q", cfg.Server.LogLevel, config.LogInfo)
	}
}

func TestWatcher_DetectsChange(t *testing.T) {
	t.Parallel()
	cfgPath := filepath.Join(t.TempDir(), "config.yaml")
	writeFile(t, cfgPath, watcherValidYAML)

	rec := newRecorder()
	w, err := config.NewWatcher(cfgPath, rec.onChange, config.WithInterval(50*time.Millisecond))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	defer w.Stop()

	writeFile(t, cfgPath, watcherUpdatedYAML)
	bumpMtime(t, cfgPath, time.Second)
	rec.wait(t)

	rec.mu.Lock()
	defer rec.mu.Unlock()
	if rec.old.Server.LogLevel != config.LogInfo {
		t.Errorf("old log_level: got %q, want %q", rec.old.Server.LogLevel, config.LogInfo)
	}
	if rec.new.Server.LogLevel != config.LogDebug {
		t.Errorf("new log_level: got %q, want %q", rec.new.Server.LogLevel, config.LogDebug)
	}
	if cur := w.Current(); cur.Server.LogLevel != config.LogDebug {
		t.Errorf("Current() log_level: got %q, want %q", cur.Server.LogLevel, config.LogDebug)
	}
}

func TestWatcher_DetectsRulesFileChange(t *testing.T) {
	t.Parallel()
	dir := t.TempDir()
	cfgPath := filepath.Join(dir, "config.yaml")
	rulesPath := filepath.Join(dir, "rules.yaml")
	writeFile(t, rulesPath, "politeness:\n  forbidden_phrases: [\"shut up\"]\n")
	writeFile(t, cfgPath, fmt.Sprintf("providers:\n  llm:\n    name: openai\ncoach:\n  rules_file: %q\n", rulesPath))

	rec := newRecorder()
	w, err := config.NewWatcher(cfgPath, rec.onChange, config.WithInterval(50*time.Millisecond))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	defer w.Stop()

	writeFile(t, rulesPath, "politeness:\n  forbidden_phrases: [\"whatever\"]\n")
	bumpMtime(t, rulesPath, time.Second)
	rec.wait(t)

	rec.mu.Lock()
	defer rec.mu.Unlock()
	if rec.new.Coach.RulesFile != rulesPath {
		t.Errorf("rules_file = %q", rec.new.Coach.RulesFile)
	}
	if d := config.Diff(rec.old, rec.new); d.RulesFileChanged {
		t.Error("path did not change, only content")
	}
}

func TestWatcher_InvalidFileKeepsOldConfig(t *testing.T) {
	t.Parallel()
	cfgPath := filepath.Join(t.TempDir(), "config.yaml")
	writeFile(t, cfgPath, watcherValidYAML)

	rec := newRecorder()
	w, err := config.NewWatcher(cfgPath, rec.onChange, config.WithInterval(50*time.Millisecond))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	defer w.Stop()

	writeFile(t, cfgPath, watcherInvalidYAML)
	bumpMtime(t, cfgPath, time.Second)
	time.Sleep(300 * time.Millisecond)

	if calls := rec.count(); calls != 0 {
		t.Errorf("callback should not be called for invalid config, got %d calls", calls)
	}
	if cur := w.Current(); cur.Server.LogLevel != config.LogInfo {
		t.Errorf("Current() should still have old config, got log_level=%q", cur.Server.LogLevel)
	}
}

func TestWatcher_InitialLoadFails(t *testing.T) {
	t.Parallel()
	if _, err := config.NewWatcher("/nonexistent/path.yaml", nil); err == nil {
		t.Fatal("expected error for non-existent file, got nil")
	}
}

func TestWatcher_StopIsIdempotent(t *testing.T) {
	t.Parallel()
	cfgPath := filepath.Join(t.TempDir(), "config.yaml")
	writeFile(t, cfgPath, watcherValidYAML)

	w, err := config.NewWatcher(cfgPath, nil, config.WithInterval(50*time.Millisecond))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	w.Stop()
	w.Stop()
	w.Stop()
}

func TestWatcher_TouchWithoutContentChange(t *testing.T) {
	t.Parallel()
	cfgPath := filepath.Join(t.TempDir(), "config.yaml")
	writeFile(t, cfgPath, watcherValidYAML)

	rec := newRecorder()
	w, err := config.NewWatcher(cfgPath, rec.onChange, config.WithInterval(50*time.Millisecond))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	defer w.Stop()

	bumpMtime(t, cfgPath, time.Second)
	time.Sleep(300 * time.Millisecond)

	if calls := rec.count(); calls != 0 {
		t.Errorf("callback should not fire for touch-only, got %d calls", calls)
	}
}
