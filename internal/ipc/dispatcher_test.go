package ipc_test

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/dotclaw/host/internal/groups"
	"github.com/dotclaw/host/internal/ipc"
	"github.com/dotclaw/host/internal/memory"
	"github.com/dotclaw/host/internal/models"
	"github.com/dotclaw/host/internal/sandbox"
	"github.com/dotclaw/host/internal/schedule"
)

func newTestDispatcher(t *testing.T) (*ipc.Dispatcher, *groups.Registry) {
	t.Helper()
	dir := t.TempDir()

	mem, err := memory.Open(filepath.Join(dir, "memory.db"))
	if err != nil {
		t.Fatalf("open memory: %v", err)
	}
	t.Cleanup(func() { _ = mem.Close() })

	sched, err := schedule.Open(filepath.Join(dir, "schedule.db"))
	if err != nil {
		t.Fatalf("open schedule: %v", err)
	}
	t.Cleanup(func() { _ = sched.Close() })

	cooldowns, err := models.OpenCooldownStore(filepath.Join(dir, "cooldowns.json"))
	if err != nil {
		t.Fatalf("open cooldowns: %v", err)
	}
	registry, err := models.OpenRegistryStore(filepath.Join(dir, "model.json"), cooldowns)
	if err != nil {
		t.Fatalf("open registry: %v", err)
	}

	groupsReg, err := groups.OpenRegistry(filepath.Join(dir, "groups.json"))
	if err != nil {
		t.Fatalf("open groups: %v", err)
	}

	threads, err := groups.OpenTaskThreads(filepath.Join(dir, "task-threads.json"))
	if err != nil {
		t.Fatalf("open task threads: %v", err)
	}

	disp := ipc.NewDispatcher(ipc.Config{
		Memory:       mem,
		Schedule:     sched,
		Registry:     registry,
		Groups:       groupsReg,
		Threads:      threads,
		Orchestrator: sandbox.NewOrchestrator(),
	})
	return disp, groupsReg
}

func testDispatcherWithThreads(t *testing.T) (*ipc.Dispatcher, *groups.TaskThreads) {
	t.Helper()
	dir := t.TempDir()

	mem, err := memory.Open(filepath.Join(dir, "memory.db"))
	if err != nil {
		t.Fatalf("open memory: %v", err)
	}
	t.Cleanup(func() { _ = mem.Close() })

	sched, err := schedule.Open(filepath.Join(dir, "schedule.db"))
	if err != nil {
		t.Fatalf("open schedule: %v", err)
	}
	t.Cleanup(func() { _ = sched.Close() })

	cooldowns, err := models.OpenCooldownStore(filepath.Join(dir, "cooldowns.json"))
	if err != nil {
		t.Fatalf("open cooldowns: %v", err)
	}
	registry, err := models.OpenRegistryStore(filepath.Join(dir, "model.json"), cooldowns)
	if err != nil {
		t.Fatalf("open registry: %v", err)
	}

	groupsReg, err := groups.OpenRegistry(filepath.Join(dir, "groups.json"))
	if err != nil {
		t.Fatalf("open groups: %v", err)
	}

	threads, err := groups.OpenTaskThreads(filepath.Join(dir, "task-threads.json"))
	if err != nil {
		t.Fatalf("open task threads: %v", err)
	}

	disp := ipc.NewDispatcher(ipc.Config{
		Memory:       mem,
		Schedule:     sched,
		Registry:     registry,
		Groups:       groupsReg,
		Threads:      threads,
		Orchestrator: sandbox.NewOrchestrator(),
	})
	return disp, threads
}

func TestDispatch_NonMainGroupCannotTargetAnotherGroup(t *testing.T) {
	disp, _ := newTestDispatcher(t)
	env := ipc.Envelope{Action: ipc.ActionListGroups, TargetGroup: "other"}
	if _, err := disp.Dispatch(context.Background(), "team-a", env); err == nil {
		t.Fatalf("expected authorization error")
	}
}

func TestDispatch_MainGroupCanTargetAnotherGroup(t *testing.T) {
	disp, _ := newTestDispatcher(t)
	env := ipc.Envelope{Action: ipc.ActionListGroups, TargetGroup: "other"}
	if _, err := disp.Dispatch(context.Background(), "main", env); err != nil {
		t.Fatalf("main should be cross-group authorized: %v", err)
	}
}

func TestDispatch_RegisterAndListGroups(t *testing.T) {
	disp, reg := newTestDispatcher(t)
	payload, _ := json.Marshal(map[string]any{"name": "team-a", "display_name": "Team A"})
	env := ipc.Envelope{Action: ipc.ActionRegisterGroup, Payload: payload}
	if _, err := disp.Dispatch(context.Background(), "main", env); err != nil {
		t.Fatalf("register group: %v", err)
	}
	if _, ok := reg.Get("team-a"); !ok {
		t.Fatalf("expected team-a to be registered")
	}
}

func TestDispatch_MemoryUpsertAndSearch(t *testing.T) {
	disp, _ := newTestDispatcher(t)
	payload, _ := json.Marshal(map[string]any{
		"items": []map[string]any{
			{"scope": "group", "type": "fact", "content": "likes tea", "importance": 0.5, "confidence": 0.9},
		},
	})
	env := ipc.Envelope{Action: ipc.ActionMemoryUpsert, Payload: payload}
	if _, err := disp.Dispatch(context.Background(), "main", env); err != nil {
		t.Fatalf("memory upsert: %v", err)
	}

	searchPayload, _ := json.Marshal(map[string]any{"query": "tea", "max_results": 5, "max_tokens": 200})
	out, err := disp.Dispatch(context.Background(), "main", ipc.Envelope{Action: ipc.ActionMemorySearch, Payload: searchPayload})
	if err != nil {
		t.Fatalf("memory search: %v", err)
	}
	results, ok := out.([]memory.RecallResult)
	if !ok || len(results) == 0 {
		t.Fatalf("expected at least one recall result, got %#v", out)
	}
}

func TestDispatch_ScheduleAndCancelTask(t *testing.T) {
	disp, _ := newTestDispatcher(t)
	payload, _ := json.Marshal(map[string]any{"kind": "interval", "interval_ms": 60000, "prompt": "ping"})
	out, err := disp.Dispatch(context.Background(), "main", ipc.Envelope{Action: ipc.ActionScheduleTask, Payload: payload})
	if err != nil {
		t.Fatalf("schedule task: %v", err)
	}
	result, ok := out.(map[string]any)
	if !ok {
		t.Fatalf("expected map result, got %#v", out)
	}
	id, _ := result["id"].(string)
	if id == "" {
		t.Fatalf("expected non-empty task id")
	}

	cancelPayload, _ := json.Marshal(map[string]any{"id": id})
	if _, err := disp.Dispatch(context.Background(), "main", ipc.Envelope{Action: ipc.ActionCancelTask, Payload: cancelPayload}); err != nil {
		t.Fatalf("cancel task: %v", err)
	}
}

func TestDispatch_UnknownActionErrors(t *testing.T) {
	disp, _ := newTestDispatcher(t)
	if _, err := disp.Dispatch(context.Background(), "main", ipc.Envelope{Action: "bogus"}); err == nil {
		t.Fatalf("expected error for unknown action")
	}
}

func TestDispatch_ScheduleTaskBindsReplyAddress(t *testing.T) {
	disp, threads := testDispatcherWithThreads(t)
	payload, _ := json.Marshal(map[string]any{
		"kind":          "once",
		"prompt":        "ping",
		"reply_address": "telegram:12345:",
	})
	out, err := disp.Dispatch(context.Background(), "main", ipc.Envelope{Action: ipc.ActionScheduleTask, Payload: payload})
	if err != nil {
		t.Fatalf("schedule task: %v", err)
	}
	id := out.(map[string]any)["id"].(string)

	addr, ok := threads.Lookup(id)
	if !ok {
		t.Fatalf("expected task thread binding for task %s", id)
	}
	if addr != "telegram:12345:" {
		t.Fatalf("addr = %q, want %q", addr, "telegram:12345:")
	}
}

func TestGroupWatcher_ProcessesRequestAndWritesResponse(t *testing.T) {
	disp, _ := newTestDispatcher(t)
	root := t.TempDir()

	watcher, err := ipc.NewGroupWatcher(ipc.WatcherConfig{RootDir: root, Group: "main", PollInterval: 20 * time.Millisecond}, disp, nil)
	if err != nil {
		t.Fatalf("new watcher: %v", err)
	}
	t.Cleanup(watcher.Close)

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	go watcher.Run(ctx)

	env := map[string]any{"id": "req-1", "action": "list_groups"}
	data, _ := json.Marshal(env)
	reqPath := filepath.Join(root, "main", "requests", "req-1.json")
	if err := os.WriteFile(reqPath, data, 0o644); err != nil {
		t.Fatalf("write request: %v", err)
	}

	respPath := filepath.Join(root, "main", "responses", "req-1.json")
	deadline := time.After(1500 * time.Millisecond)
	for {
		if _, err := os.Stat(respPath); err == nil {
			return
		}
		select {
		case <-deadline:
			t.Fatalf("response file never appeared")
		default:
			time.Sleep(10 * time.Millisecond)
		}
	}
}
