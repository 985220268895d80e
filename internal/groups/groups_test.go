package groups_test

import (
	"path/filepath"
	"testing"
	"time"

	"github.com/dotclaw/host/internal/groups"
)

func TestRegistry_AlwaysIncludesMainGroup(t *testing.T) {
	dir := t.TempDir()
	reg, err := groups.OpenRegistry(filepath.Join(dir, "registered_groups.json"))
	if err != nil {
		t.Fatalf("open registry: %v", err)
	}
	if _, ok := reg.Get("main"); !ok {
		t.Fatal("expected the main group to exist by default")
	}
}

func TestRegistry_RemoveRefusesMain(t *testing.T) {
	dir := t.TempDir()
	reg, _ := groups.OpenRegistry(filepath.Join(dir, "registered_groups.json"))
	if err := reg.Remove("main"); err == nil {
		t.Fatal("expected removing the main group to be refused")
	}
}

func TestRegistry_PersistsAcrossReopen(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "registered_groups.json")
	reg, _ := groups.OpenRegistry(path)
	if err := reg.Register(groups.Group{Name: "eng", Mode: "daemon"}); err != nil {
		t.Fatalf("register: %v", err)
	}

	reopened, err := groups.OpenRegistry(path)
	if err != nil {
		t.Fatalf("reopen: %v", err)
	}
	g, ok := reopened.Get("eng")
	if !ok || g.Mode != "daemon" {
		t.Fatalf("expected eng group to persist across reopen, got %+v ok=%v", g, ok)
	}
}

func TestAuthorized_NonMainGroupsAreSelfScoped(t *testing.T) {
	if groups.Authorized("eng", "ops") {
		t.Fatal("expected a non-main group to be refused cross-group authorization")
	}
	if !groups.Authorized("eng", "eng") {
		t.Fatal("expected a group to be authorized for itself")
	}
	if !groups.Authorized("main", "eng") {
		t.Fatal("expected main to be authorized cross-group")
	}
}

func TestSessions_AdvancePersistsCursor(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "sessions.json")
	s, err := groups.OpenSessions(path)
	if err != nil {
		t.Fatalf("open sessions: %v", err)
	}
	now := time.Now()
	if err := s.Advance(groups.ChatCursor{ChatID: "c1", SessionID: "s1", LastAgentTimestamp: now, LastAgentMessageID: "m1"}); err != nil {
		t.Fatalf("advance: %v", err)
	}

	reopened, err := groups.OpenSessions(path)
	if err != nil {
		t.Fatalf("reopen: %v", err)
	}
	cursor, ok := reopened.Get("c1")
	if !ok || cursor.LastAgentMessageID != "m1" {
		t.Fatalf("expected cursor to persist, got %+v ok=%v", cursor, ok)
	}
}

func TestTaskThreads_BindAndLookup(t *testing.T) {
	dir := t.TempDir()
	tt, err := groups.OpenTaskThreads(filepath.Join(dir, "task-threads.json"))
	if err != nil {
		t.Fatalf("open task threads: %v", err)
	}
	addr := groups.Address("telegram", "chat1", "thread1")
	if err := tt.Bind("task1", addr); err != nil {
		t.Fatalf("bind: %v", err)
	}
	got, ok := tt.Lookup("task1")
	if !ok || got != addr {
		t.Fatalf("expected lookup to return bound address, got %q ok=%v", got, ok)
	}
	if err := tt.Unbind("task1"); err != nil {
		t.Fatalf("unbind: %v", err)
	}
	if _, ok := tt.Lookup("task1"); ok {
		t.Fatal("expected lookup to fail after unbind")
	}
}
