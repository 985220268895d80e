package memory_test

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/dotclaw/host/internal/memory"
)

func openTestStore(t *testing.T) *memory.Store {
	t.Helper()
	dir := t.TempDir()
	store, err := memory.Open(filepath.Join(dir, "memory.db"))
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	t.Cleanup(func() { _ = store.Close() })
	return store
}

func TestUpsert_IdempotentOnIdentity(t *testing.T) {
	store := openTestStore(t)
	ctx := context.Background()

	in := memory.UpsertInput{
		Scope: memory.ScopeUser, SubjectID: "u1", Type: memory.TypePreference,
		Content: "Prefers concise answers.", Importance: 0.5,
	}
	first, err := store.Upsert(ctx, "main", []memory.UpsertInput{in})
	if err != nil {
		t.Fatalf("first upsert: %v", err)
	}
	time.Sleep(5 * time.Millisecond)
	second, err := store.Upsert(ctx, "main", []memory.UpsertInput{in})
	if err != nil {
		t.Fatalf("second upsert: %v", err)
	}
	if first[0].ID != second[0].ID {
		t.Fatalf("expected same row id across upserts, got %d and %d", first[0].ID, second[0].ID)
	}

	items, err := store.List(ctx, "main", memory.ScopeUser, "u1", memory.TypePreference)
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(items) != 1 {
		t.Fatalf("expected exactly one row, got %d", len(items))
	}
	if items[0].Importance != 0.5 {
		t.Fatalf("expected importance 0.5, got %v", items[0].Importance)
	}
	if !items[0].UpdatedAt.After(first[0].UpdatedAt) && !items[0].UpdatedAt.Equal(first[0].UpdatedAt) {
		t.Fatalf("expected updated_at to not go backwards")
	}
}

func TestUpsert_MergesImportanceByMaxAndUnionsTags(t *testing.T) {
	store := openTestStore(t)
	ctx := context.Background()

	base := memory.UpsertInput{
		Scope: memory.ScopeGroup, Type: memory.TypeFact, Content: "likes go",
		Importance: 0.2, Tags: []string{"lang"},
	}
	stronger := memory.UpsertInput{
		Scope: memory.ScopeGroup, Type: memory.TypeFact, Content: "likes go a lot more than before",
		Importance: 0.9, Tags: []string{"pref"},
	}
	if _, err := store.Upsert(ctx, "main", []memory.UpsertInput{base}); err != nil {
		t.Fatalf("base upsert: %v", err)
	}
	merged, err := store.Upsert(ctx, "main", []memory.UpsertInput{stronger})
	if err != nil {
		t.Fatalf("merge upsert: %v", err)
	}
	if merged[0].Importance != 0.9 {
		t.Fatalf("expected merged importance 0.9, got %v", merged[0].Importance)
	}
	if merged[0].Content != stronger.Content {
		t.Fatalf("expected the longer content to win, got %q", merged[0].Content)
	}
	tagSet := map[string]bool{}
	for _, tag := range merged[0].Tags {
		tagSet[tag] = true
	}
	if !tagSet["lang"] || !tagSet["pref"] {
		t.Fatalf("expected tags to union, got %v", merged[0].Tags)
	}
}

func TestUpsert_DowngradesGlobalScopeForNonMainGroup(t *testing.T) {
	store := openTestStore(t)
	ctx := context.Background()

	items, err := store.Upsert(ctx, "side-project", []memory.UpsertInput{{
		Scope: memory.ScopeGlobal, Type: memory.TypeNote, Content: "shared note",
	}})
	if err != nil {
		t.Fatalf("upsert: %v", err)
	}
	if items[0].Scope != memory.ScopeGroup {
		t.Fatalf("expected downgrade to scope=group, got %s", items[0].Scope)
	}
}

func TestRecall_EmptyCorpusReturnsEmpty(t *testing.T) {
	store := openTestStore(t)
	ctx := context.Background()
	results, err := store.Recall(ctx, "main", "u1", "anything", 10, 1000, nil)
	if err != nil {
		t.Fatalf("recall: %v", err)
	}
	if len(results) != 0 {
		t.Fatalf("expected no results, got %d", len(results))
	}
}

func TestRecall_ScoresAndOrdersByBlendedScore(t *testing.T) {
	store := openTestStore(t)
	ctx := context.Background()

	if _, err := store.Upsert(ctx, "main", []memory.UpsertInput{
		{Scope: memory.ScopeGroup, Type: memory.TypeFact, Content: "The deploy pipeline uses GitHub Actions.", Importance: 0.9},
		{Scope: memory.ScopeGroup, Type: memory.TypeFact, Content: "The team prefers tabs over spaces.", Importance: 0.1},
	}); err != nil {
		t.Fatalf("upsert: %v", err)
	}

	results, err := store.Recall(ctx, "main", "u1", "deploy pipeline", 10, 1000, nil)
	if err != nil {
		t.Fatalf("recall: %v", err)
	}
	if len(results) == 0 {
		t.Fatalf("expected at least one recall hit")
	}
	if results[0].Item.Content != "The deploy pipeline uses GitHub Actions." {
		t.Fatalf("expected the lexically matching row to rank first, got %q", results[0].Item.Content)
	}
}

func TestRecall_RespectsUserScopeIsolation(t *testing.T) {
	store := openTestStore(t)
	ctx := context.Background()

	if _, err := store.Upsert(ctx, "main", []memory.UpsertInput{{
		Scope: memory.ScopeUser, SubjectID: "alice", Type: memory.TypeFact, Content: "alice secret project codename orion",
	}}); err != nil {
		t.Fatalf("upsert: %v", err)
	}
	results, err := store.Recall(ctx, "main", "bob", "orion", 10, 1000, nil)
	if err != nil {
		t.Fatalf("recall: %v", err)
	}
	if len(results) != 0 {
		t.Fatalf("expected bob to not see alice's user-scoped memory, got %d", len(results))
	}
}

func TestCleanupExpired_RemovesOnlyExpiredRows(t *testing.T) {
	store := openTestStore(t)
	ctx := context.Background()
	past := time.Now().UTC().Add(-time.Hour)
	future := time.Now().UTC().Add(time.Hour)

	if _, err := store.Upsert(ctx, "main", []memory.UpsertInput{
		{Scope: memory.ScopeGroup, Type: memory.TypeNote, Content: "expired", ExpiresAt: &past},
		{Scope: memory.ScopeGroup, Type: memory.TypeNote, Content: "still fresh", ExpiresAt: &future},
	}); err != nil {
		t.Fatalf("upsert: %v", err)
	}

	n, err := store.CleanupExpired(ctx)
	if err != nil {
		t.Fatalf("cleanup expired: %v", err)
	}
	if n != 1 {
		t.Fatalf("expected 1 row cleaned up, got %d", n)
	}
	remaining, err := store.List(ctx, "main", "", "", "")
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(remaining) != 1 || remaining[0].Content != "still fresh" {
		t.Fatalf("expected only the unexpired row to remain, got %v", remaining)
	}
}
