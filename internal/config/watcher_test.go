package config_test

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/dotclaw/host/internal/config"
)

func TestWatcher_DetectsToolPolicyChange(t *testing.T) {
	homeDir := t.TempDir()
	configDir := filepath.Join(homeDir, "config")
	if err := os.MkdirAll(configDir, 0o755); err != nil {
		t.Fatalf("mkdir config: %v", err)
	}

	policyPath := filepath.Join(configDir, "tool-policy.json")
	if err := os.WriteFile(policyPath, []byte(`{"allow_capabilities":["acp.read"]}`), 0o644); err != nil {
		t.Fatalf("write initial tool-policy.json: %v", err)
	}

	w := config.NewWatcher(homeDir, nil)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if err := w.Start(ctx); err != nil {
		t.Fatalf("start watcher: %v", err)
	}

	// Instead of a fixed sleep, retry the write at short intervals until the
	// watcher produces an event. This handles any platform-specific delay in
	// filesystem notification readiness.
	deadline := time.After(3 * time.Second)
	writeTick := time.NewTicker(50 * time.Millisecond)
	defer writeTick.Stop()

	if err := os.WriteFile(policyPath, []byte(`{"allow_capabilities":["acp.read","acp.mutate"]}`), 0o644); err != nil {
		t.Fatalf("write updated tool-policy.json: %v", err)
	}

	for {
		select {
		case ev := <-w.Events():
			if filepath.Base(ev.Path) != "tool-policy.json" {
				t.Fatalf("expected tool-policy.json event, got %s", ev.Path)
			}
			return
		case <-writeTick.C:
			_ = os.WriteFile(policyPath, []byte(`{"allow_capabilities":["acp.read","acp.mutate"]}`), 0o644)
		case <-deadline:
			t.Fatalf("timed out waiting for tool-policy.json change event")
		}
	}
}
