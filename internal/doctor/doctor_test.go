package doctor

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/dotclaw/host/internal/config"
)

func TestCheckNetwork_ResolvesProviders(t *testing.T) {
	home := t.TempDir()
	rt, err := config.LoadRuntimeConfig(home)
	if err != nil {
		t.Fatalf("load runtime config: %v", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	result := checkNetwork(ctx, home, rt, nil)
	if result.Name != "Network" {
		t.Fatalf("expected name Network, got %s", result.Name)
	}
	if result.Status != "PASS" && result.Status != "WARN" && result.Status != "FAIL" {
		t.Fatalf("expected PASS, WARN or FAIL, got %s", result.Status)
	}
}

func TestCheckNetwork_SkipsOnMissingConfig(t *testing.T) {
	result := checkNetwork(context.Background(), "", config.RuntimeConfig{}, os.ErrNotExist)
	if result.Status != "SKIP" {
		t.Fatalf("expected SKIP for load error, got %s", result.Status)
	}
}

func TestCheckNetwork_CanceledContext(t *testing.T) {
	home := t.TempDir()
	rt, _ := config.LoadRuntimeConfig(home)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	result := checkNetwork(ctx, home, rt, nil)
	if result.Status != "FAIL" {
		t.Fatalf("expected FAIL for canceled context, got %s", result.Status)
	}
}

func TestCheckQueue_OpensFreshStore(t *testing.T) {
	home := t.TempDir()
	if err := os.MkdirAll(filepath.Join(home, "data"), 0o755); err != nil {
		t.Fatalf("mkdir data: %v", err)
	}
	rt, err := config.LoadRuntimeConfig(home)
	if err != nil {
		t.Fatalf("load runtime config: %v", err)
	}

	result := checkQueue(context.Background(), home, rt, nil)
	if result.Status != "PASS" {
		t.Fatalf("expected PASS opening a fresh queue store, got %s: %s", result.Status, result.Message)
	}
}

func TestCheckQueue_SkipsOnMissingConfig(t *testing.T) {
	result := checkQueue(context.Background(), "", config.RuntimeConfig{}, os.ErrNotExist)
	if result.Status != "SKIP" {
		t.Fatalf("expected SKIP for load error, got %s", result.Status)
	}
}

func TestCheckPermissions_WritableHome(t *testing.T) {
	home := t.TempDir()
	rt, err := config.LoadRuntimeConfig(home)
	if err != nil {
		t.Fatalf("load runtime config: %v", err)
	}

	result := checkPermissions(context.Background(), home, rt, nil)
	if result.Status != "PASS" {
		t.Fatalf("expected PASS for a writable temp dir, got %s: %s", result.Status, result.Message)
	}
}

func TestRun_ReturnsAllChecks(t *testing.T) {
	home := t.TempDir()
	d := Run(context.Background(), home, "test-version")
	if d.System.Version != "test-version" {
		t.Fatalf("expected version to be set")
	}
	if len(d.Results) != 6 {
		t.Fatalf("expected 6 checks, got %d", len(d.Results))
	}
}

func TestCheckProviderAuth_SkipsWithoutKeys(t *testing.T) {
	home := t.TempDir()
	rt, err := config.LoadRuntimeConfig(home)
	if err != nil {
		t.Fatalf("load runtime config: %v", err)
	}

	result := checkProviderAuth(context.Background(), home, rt, nil)
	if result.Status != "SKIP" {
		t.Fatalf("expected SKIP with no provider keys configured, got %s", result.Status)
	}
}

func TestCheckProviderAuth_SkipsOnMissingConfig(t *testing.T) {
	result := checkProviderAuth(context.Background(), "", config.RuntimeConfig{}, os.ErrNotExist)
	if result.Status != "SKIP" {
		t.Fatalf("expected SKIP for load error, got %s", result.Status)
	}
}
