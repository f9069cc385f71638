package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestWatcherReloadsOnWrite(t *testing.T) {
	dir := t.TempDir()
	path := writeConfig(t, dir, "server:\n  host: original\n")

	w, err := NewWatcher(path, nil)
	if err != nil {
		t.Fatalf("NewWatcher: %v", err)
	}
	defer w.Close()

	reloaded := make(chan *Config, 1)
	w.OnReload = func(cfg *Config, err error) {
		if err != nil {
			t.Errorf("unexpected reload error: %v", err)
			return
		}
		reloaded <- cfg
	}
	go w.Run()

	// Give the watcher time to register before triggering an event.
	time.Sleep(50 * time.Millisecond)
	if err := os.WriteFile(path, []byte("server:\n  host: updated\n"), 0o644); err != nil {
		t.Fatalf("rewrite config: %v", err)
	}

	select {
	case cfg := <-reloaded:
		if cfg.Server.Host != "updated" {
			t.Fatalf("reloaded host = %q, want updated", cfg.Server.Host)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("timed out waiting for config reload")
	}
}

func TestWatcherIgnoresUnrelatedFiles(t *testing.T) {
	dir := t.TempDir()
	path := writeConfig(t, dir, "server:\n  host: original\n")

	w, err := NewWatcher(path, nil)
	if err != nil {
		t.Fatalf("NewWatcher: %v", err)
	}
	defer w.Close()

	reloaded := make(chan struct{}, 1)
	w.OnReload = func(cfg *Config, err error) { reloaded <- struct{}{} }
	go w.Run()

	time.Sleep(50 * time.Millisecond)
	if err := os.WriteFile(filepath.Join(dir, "unrelated.yaml"), []byte("x: 1\n"), 0o644); err != nil {
		t.Fatalf("write unrelated file: %v", err)
	}

	select {
	case <-reloaded:
		t.Fatal("OnReload fired for a write to an unrelated file")
	case <-time.After(300 * time.Millisecond):
	}
}
