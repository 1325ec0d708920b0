package main

import (
	"io"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/EvanSunde/Sinodragon/internal/util"
)

func TestWatchFilesDebouncesReloadAndInvalidations(t *testing.T) {
	dir := t.TempDir()
	profilesDir := filepath.Join(dir, "profiles")
	if err := os.Mkdir(profilesDir, 0o700); err != nil {
		t.Fatalf("mkdir: %v", err)
	}
	cfgPath := filepath.Join(dir, "config.yaml")

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		t.Fatalf("NewWatcher: %v", err)
	}
	defer watcher.Close()
	if err := watcher.Add(dir); err != nil {
		t.Fatalf("watch dir: %v", err)
	}
	if err := watcher.Add(profilesDir); err != nil {
		t.Fatalf("watch profiles: %v", err)
	}

	reloads := make(chan string, 1)
	invalidated := make(chan string, 8)
	logger := util.NewLoggerWithWriter(util.LevelError, io.Discard)
	go watchFiles(logger, watcher, cfgPath, profilesDir, reloads, func(appID string) {
		invalidated <- appID
	})

	for i := 0; i < 3; i++ {
		if err := os.WriteFile(cfgPath, []byte("logLevel: info\n"), 0o600); err != nil {
			t.Fatalf("write config: %v", err)
		}
	}
	if err := os.WriteFile(filepath.Join(profilesDir, "code.yaml"), []byte("defaultKeys: [Esc]\n"), 0o600); err != nil {
		t.Fatalf("write profile: %v", err)
	}
	if err := os.WriteFile(filepath.Join(profilesDir, "notes.txt"), []byte("ignored"), 0o600); err != nil {
		t.Fatalf("write non-profile: %v", err)
	}

	select {
	case reason := <-reloads:
		if reason != "config file updated" {
			t.Fatalf("unexpected reason %q", reason)
		}
	case <-time.After(3 * time.Second):
		t.Fatalf("expected a reload request")
	}
	select {
	case appID := <-invalidated:
		if appID != "code" {
			t.Fatalf("unexpected invalidation %q", appID)
		}
	case <-time.After(3 * time.Second):
		t.Fatalf("expected a profile invalidation")
	}

	select {
	case reason := <-reloads:
		t.Fatalf("writes should be debounced into one reload, got extra %q", reason)
	case appID := <-invalidated:
		t.Fatalf("unexpected extra invalidation %q", appID)
	case <-time.After(2 * debounceWindow):
	}
}
