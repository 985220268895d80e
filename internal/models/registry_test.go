package models_test

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/dotclaw/host/internal/models"
)

func TestResolveModel_StableAcrossRepeatedCalls(t *testing.T) {
	dir := t.TempDir()
	cooldowns, err := models.OpenCooldownStore(filepath.Join(dir, "cooldowns.json"))
	if err != nil {
		t.Fatalf("open cooldowns: %v", err)
	}
	reg, err := models.OpenRegistryStore(filepath.Join(dir, "model.json"), cooldowns)
	if err != nil {
		t.Fatalf("open registry: %v", err)
	}
	reg.SetGroupOverride("eng", "claude-sonnet")

	first, err := reg.ResolveModel("eng", "u1", "hello")
	if err != nil {
		t.Fatalf("resolve: %v", err)
	}
	second, err := reg.ResolveModel("eng", "u1", "hello")
	if err != nil {
		t.Fatalf("resolve again: %v", err)
	}
	if first != second {
		t.Fatalf("expected stable resolution, got %q then %q", first, second)
	}
	if first != "claude-sonnet" {
		t.Fatalf("expected group override to win, got %q", first)
	}
}

func TestResolveModel_UserOverrideBeatsGroupOverride(t *testing.T) {
	dir := t.TempDir()
	cooldowns, _ := models.OpenCooldownStore(filepath.Join(dir, "cooldowns.json"))
	reg, _ := models.OpenRegistryStore(filepath.Join(dir, "model.json"), cooldowns)
	reg.SetGroupOverride("eng", "claude-sonnet")
	reg.SetUserOverride("u1", "gpt-5")

	got, err := reg.ResolveModel("eng", "u1", "hello")
	if err != nil {
		t.Fatalf("resolve: %v", err)
	}
	if got != "gpt-5" {
		t.Fatalf("expected per-user override to win, got %q", got)
	}
}

func TestResolveModel_FallsThroughCascadeWhenCandidateCoolingDown(t *testing.T) {
	dir := t.TempDir()
	cooldowns, _ := models.OpenCooldownStore(filepath.Join(dir, "cooldowns.json"))
	reg, _ := models.OpenRegistryStore(filepath.Join(dir, "model.json"), cooldowns)
	reg.SetUserOverride("u1", "gpt-5")

	if err := cooldowns.RecordFailure("gpt-5", models.CategoryRateLimit); err != nil {
		t.Fatalf("record failure: %v", err)
	}

	got, err := reg.ResolveModel("eng", "u1", "hello")
	if err != nil {
		t.Fatalf("resolve: %v", err)
	}
	if got != "default" {
		t.Fatalf("expected fallback to base default while gpt-5 cools down, got %q", got)
	}
}

func TestResolveModel_AllModelsUnavailable(t *testing.T) {
	dir := t.TempDir()
	cooldowns, _ := models.OpenCooldownStore(filepath.Join(dir, "cooldowns.json"))
	reg, _ := models.OpenRegistryStore(filepath.Join(dir, "model.json"), cooldowns)

	if err := cooldowns.RecordFailure("default", models.CategoryAuth); err != nil {
		t.Fatalf("record failure: %v", err)
	}
	_, err := reg.ResolveModel("eng", "u1", "hello")
	var unavailable *models.ErrAllModelsUnavailable
	if !errors.As(err, &unavailable) {
		t.Fatalf("expected ErrAllModelsUnavailable, got %v", err)
	}
}

func TestCooldownStore_RateLimitExpiresAfterInitialWindow(t *testing.T) {
	dir := t.TempDir()
	cooldowns, _ := models.OpenCooldownStore(filepath.Join(dir, "cooldowns.json"))
	if err := cooldowns.RecordFailure("model-a", models.CategoryRateLimit); err != nil {
		t.Fatalf("record failure: %v", err)
	}
	if !cooldowns.InCooldown("model-a") {
		t.Fatalf("expected model-a to be cooling down immediately after failure")
	}
	entry := cooldowns.Snapshot()["model-a"]
	if time.Until(entry.Until) > 61*time.Second {
		t.Fatalf("expected ~60s rate_limit cooldown, got %v remaining", time.Until(entry.Until))
	}
}

func TestCooldownStore_TimeoutEscalatesOnRepeat(t *testing.T) {
	dir := t.TempDir()
	cooldowns, _ := models.OpenCooldownStore(filepath.Join(dir, "cooldowns.json"))
	if err := cooldowns.RecordFailure("model-b", models.CategoryTimeout); err != nil {
		t.Fatalf("record failure: %v", err)
	}
	first := cooldowns.Snapshot()["model-b"]
	if err := cooldowns.RecordFailure("model-b", models.CategoryTimeout); err != nil {
		t.Fatalf("record failure again: %v", err)
	}
	second := cooldowns.Snapshot()["model-b"]
	if !second.Until.After(first.Until) {
		t.Fatalf("expected escalated cooldown to extend further than the first, got %v vs %v", second.Until, first.Until)
	}
}

func TestClassifyError_RecognizesCommonCategories(t *testing.T) {
	ctx := context.Background()
	cases := map[string]models.ErrorCategory{
		"401 unauthorized":            models.CategoryAuth,
		"429 too many requests":       models.CategoryRateLimit,
		"context deadline exceeded":   models.CategoryTimeout,
		"503 service unavailable":     models.CategoryOverloaded,
		"connection refused":         models.CategoryTransport,
		"maximum context length hit": models.CategoryContextOverflow,
		"unexpected response schema validation failed": models.CategoryInvalidResponse,
	}
	for msg, want := range cases {
		got := models.ClassifyError(ctx, errors.New(msg))
		if got != want {
			t.Errorf("ClassifyError(%q) = %q, want %q", msg, got, want)
		}
	}
}
