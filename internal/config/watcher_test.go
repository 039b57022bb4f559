package config_test

import (
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/fablespeak/fablespeak/internal/config"
)

const watcherInitialYAML = `
server:
  log_level: info
scenarios:
  path: scenarios.yaml
`

const watcherUpdatedYAML = `
server:
  log_level: debug
scenarios:
  path: scenarios.yaml
`

func writeConfigFile(t *testing.T, path, content string) {
	t.Helper()
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}
}

func TestWatcher_InitialLoad(t *testing.T) {
	t.Parallel()
	path := filepath.Join(t.TempDir(), "config.yaml")
	writeConfigFile(t, path, watcherInitialYAML)

	w, err := config.NewWatcher(path, nil, config.WithInterval(10*time.Millisecond))
	if err != nil {
		t.Fatalf("NewWatcher: %v", err)
	}
	defer w.Stop()

	if got := w.Current().Server.LogLevel; got != config.LogInfo {
		t.Errorf("initial log_level = %q, want info", got)
	}
}

func TestWatcher_InitialLoadFailure(t *testing.T) {
	t.Parallel()
	path := filepath.Join(t.TempDir(), "config.yaml")
	writeConfigFile(t, path, "server:\n  log_level: verbose\n")

	if _, err := config.NewWatcher(path, nil); err == nil {
		t.Fatal("expected error for invalid initial config, got nil")
	}
}

func TestWatcher_DetectsChange(t *testing.T) {
	t.Parallel()
	path := filepath.Join(t.TempDir(), "config.yaml")
	writeConfigFile(t, path, watcherInitialYAML)

	var (
		mu      sync.Mutex
		changed bool
		gotNew  *config.Config
	)
	onChange := func(old, new *config.Config) {
		mu.Lock()
		defer mu.Unlock()
		changed = true
		gotNew = new
	}

	w, err := config.NewWatcher(path, onChange, config.WithInterval(10*time.Millisecond))
	if err != nil {
		t.Fatalf("NewWatcher: %v", err)
	}
	defer w.Stop()

	// Backdate below, then rewrite: some filesystems have coarse mtime
	// resolution and the watcher checks mtime before hashing.
	past := time.Now().Add(-time.Hour)
	if err := os.Chtimes(path, past, past); err != nil {
		t.Fatal(err)
	}
	writeConfigFile(t, path, watcherUpdatedYAML)

	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		mu.Lock()
		done := changed
		mu.Unlock()
		if done {
			break
		}
		time.Sleep(10 * time.Millisecond)
	}

	mu.Lock()
	defer mu.Unlock()
	if !changed {
		t.Fatal("onChange was not called within deadline")
	}
	if gotNew.Server.LogLevel != config.LogDebug {
		t.Errorf("new log_level = %q, want debug", gotNew.Server.LogLevel)
	}
	if w.Current().Server.LogLevel != config.LogDebug {
		t.Errorf("Current() should return the reloaded config")
	}
}

func TestWatcher_KeepsOldConfigOnInvalidReload(t *testing.T) {
	t.Parallel()
	path := filepath.Join(t.TempDir(), "config.yaml")
	writeConfigFile(t, path, watcherInitialYAML)

	w, err := config.NewWatcher(path, func(old, new *config.Config) {
		t.Error("onChange must not fire for an invalid config")
	}, config.WithInterval(10*time.Millisecond))
	if err != nil {
		t.Fatalf("NewWatcher: %v", err)
	}
	defer w.Stop()

	past := time.Now().Add(-time.Hour)
	if err := os.Chtimes(path, past, past); err != nil {
		t.Fatal(err)
	}
	writeConfigFile(t, path, "server:\n  log_level: verbose\n")

	time.Sleep(100 * time.Millisecond)

	if got := w.Current().Server.LogLevel; got != config.LogInfo {
		t.Errorf("Current() after invalid reload = %q, want info", got)
	}
}

func TestWatcher_StopIsIdempotent(t *testing.T) {
	t.Parallel()
	path := filepath.Join(t.TempDir(), "config.yaml")
	writeConfigFile(t, path, watcherInitialYAML)

	w, err := config.NewWatcher(path, nil, config.WithInterval(10*time.Millisecond))
	if err != nil {
		t.Fatalf("NewWatcher: %v", err)
	}
	w.Stop()
	w.Stop()
}
