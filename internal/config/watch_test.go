package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func writeConfig(t *testing.T, path, content string) {
	t.Helper()
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}
}

func TestWatcher_ReloadsOnChange(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	writeConfig(t, path, "scaling:\n  max_workers: 4\n")

	changes := make(chan *Config, 4)
	w, err := NewWatcher(path, func(c *Config) { changes <- c }, nil)
	if err != nil {
		t.Fatalf("NewWatcher failed: %v", err)
	}
	w.debounce = 10 * time.Millisecond
	w.Start()
	defer w.Stop()

	writeConfig(t, path, "scaling:\n  max_workers: 9\n  scale_out_threshold: 2\n")

	select {
	case cfg := <-changes:
		if cfg.Scaling.MaxWorkers != 9 || cfg.Scaling.ScaleOutThreshold != 2 {
			t.Errorf("reloaded scaling = %+v", cfg.Scaling)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("watcher did not report the change")
	}
}

func TestWatcher_InvalidConfigReportsError(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	writeConfig(t, path, "scaling:\n  max_workers: 4\n")

	errs := make(chan error, 4)
	w, err := NewWatcher(path, func(*Config) {
		t.Error("invalid config should not be delivered")
	}, func(err error) { errs <- err })
	if err != nil {
		t.Fatalf("NewWatcher failed: %v", err)
	}
	w.debounce = 10 * time.Millisecond
	w.Start()
	defer w.Stop()

	writeConfig(t, path, "scaling:\n  max_workers: 0\n")

	select {
	case err := <-errs:
		if err == nil {
			t.Error("expected a non-nil error")
		}
	case <-time.After(2 * time.Second):
		t.Fatal("watcher did not report the invalid config")
	}
}

func TestWatcher_IgnoresOtherFiles(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	writeConfig(t, path, "scaling:\n  max_workers: 4\n")

	changes := make(chan *Config, 1)
	w, err := NewWatcher(path, func(c *Config) { changes <- c }, nil)
	if err != nil {
		t.Fatalf("NewWatcher failed: %v", err)
	}
	w.debounce = 10 * time.Millisecond
	w.Start()
	defer w.Stop()

	writeConfig(t, filepath.Join(dir, "other.yaml"), "x: 1\n")

	select {
	case <-changes:
		t.Error("change to an unrelated file triggered a reload")
	case <-time.After(100 * time.Millisecond):
	}
}

func TestWatcher_StopIsIdempotentAfterStart(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	writeConfig(t, path, "")

	w, err := NewWatcher(path, func(*Config) {}, nil)
	if err != nil {
		t.Fatalf("NewWatcher failed: %v", err)
	}
	w.Start()
	w.Start()
	if err := w.Stop(); err != nil {
		t.Errorf("Stop() = %v", err)
	}
}
