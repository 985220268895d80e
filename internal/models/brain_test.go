package models_test

import (
	"context"
	"errors"
	"testing"

	"github.com/dotclaw/host/internal/models"
)

type fakeBrain struct {
	provider string
	category models.ErrorCategory
	matches  bool
}

func (f fakeBrain) Provider() string           { return f.provider }
func (f fakeBrain) Ping(context.Context) error { return nil }
func (f fakeBrain) ClassifyError(error) (models.ErrorCategory, bool) {
	return f.category, f.matches
}

func TestClassifyWithBrains_PrefersTypedBrainMatch(t *testing.T) {
	brains := []models.Brain{
		fakeBrain{provider: "anthropic", matches: false},
		fakeBrain{provider: "openai", category: models.CategoryRateLimit, matches: true},
	}
	got := models.ClassifyWithBrains(context.Background(), errors.New("429 too many requests"), brains)
	if got != models.CategoryRateLimit {
		t.Fatalf("expected CategoryRateLimit from typed brain, got %q", got)
	}
}

func TestClassifyWithBrains_FallsBackToStringMatch(t *testing.T) {
	brains := []models.Brain{fakeBrain{provider: "anthropic", matches: false}}
	got := models.ClassifyWithBrains(context.Background(), errors.New("connection refused"), brains)
	if got != models.CategoryTransport {
		t.Fatalf("expected CategoryTransport fallback, got %q", got)
	}
}

func TestClassifyWithBrains_EmptyBrainsMatchesPlainClassify(t *testing.T) {
	err := errors.New("503 service unavailable")
	got := models.ClassifyWithBrains(context.Background(), err, nil)
	want := models.ClassifyError(context.Background(), err)
	if got != want {
		t.Fatalf("expected %q, got %q", want, got)
	}
}
