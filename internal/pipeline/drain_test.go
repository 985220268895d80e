package pipeline_test

import (
	"context"
	"testing"
	"time"

	"github.com/dotclaw/host/internal/groups"
	"github.com/dotclaw/host/internal/lanes"
	"github.com/dotclaw/host/internal/memory"
	"github.com/dotclaw/host/internal/models"
	"github.com/dotclaw/host/internal/pipeline"
	"github.com/dotclaw/host/internal/queue"
	"github.com/dotclaw/host/internal/ratelimit"
	"github.com/dotclaw/host/internal/sandbox"
)

func openTestQueue(t *testing.T) *queue.Store {
	t.Helper()
	store, err := queue.Open(t.TempDir() + "/queue.db")
	if err != nil {
		t.Fatalf("open queue: %v", err)
	}
	t.Cleanup(func() { _ = store.Close() })
	return store
}

func openTestMemory(t *testing.T) *memory.Store {
	t.Helper()
	store, err := memory.Open(t.TempDir() + "/memory.db")
	if err != nil {
		t.Fatalf("open memory: %v", err)
	}
	t.Cleanup(func() { _ = store.Close() })
	return store
}

func openTestRegistry(t *testing.T) *models.RegistryStore {
	t.Helper()
	cooldowns, err := models.OpenCooldownStore(t.TempDir() + "/cooldowns.json")
	if err != nil {
		t.Fatalf("open cooldowns: %v", err)
	}
	reg, err := models.OpenRegistryStore(t.TempDir()+"/model.json", cooldowns)
	if err != nil {
		t.Fatalf("open registry: %v", err)
	}
	return reg
}

func testBinding(chatID string) pipeline.ChatBinding {
	return pipeline.ChatBinding{
		Group:      "main",
		UserID:     "user-1",
		Provider:   "telegram",
		SessionID:  "sess-1",
		Channel:    sandbox.ChannelMetadata{},
		TimeoutMs:  5000,
		RecallConfig: pipeline.RecallConfig{MaxResults: 5, MaxTokens: 500},
	}
}

// stubOrchestratorDeliver builds a Pipeline wired to real stores but a
// deliver func we can observe, without touching sandbox.Orchestrator's
// Docker/daemon paths (RunForGroup is never reached when BuildRequest
// itself fails, which is enough to exercise the retry/backoff path
// deterministically in a unit test).
func TestPipeline_EnqueueStartsExactlyOneDrainPerChat(t *testing.T) {
	q := openTestQueue(t)
	mem := openTestMemory(t)
	reg := openTestRegistry(t)
	sem := lanes.New(lanes.Config{Capacity: 2})
	t.Cleanup(sem.Close)
	limiter := ratelimit.New(ratelimit.DefaultMessagesPerWindow, ratelimit.DefaultWindow, 20)
	sessions, err := groups.OpenSessions(t.TempDir() + "/sessions.json")
	if err != nil {
		t.Fatalf("open sessions: %v", err)
	}

	delivered := make(chan string, 4)
	p := pipeline.New(pipeline.Config{
		QueueStore:  q,
		MemoryStore: mem,
		Registry:    reg,
		Lanes:       sem,
		Orchestrator: sandbox.NewOrchestrator(),
		Sessions:    sessions,
		Limiter:     limiter,
		Deliver: func(ctx context.Context, chatID, threadID, text string) error {
			delivered <- text
			return nil
		},
		Bindings: func(chatID string) (pipeline.ChatBinding, bool) {
			return testBinding(chatID), true
		},
	})

	ctx := context.Background()
	chatID := "telegram:chat-1"
	for i := 0; i < 3; i++ {
		if _, err := p.Enqueue(ctx, queue.EnqueueRecord{
			ChatID:        chatID,
			PlatformMsgID: "m1",
			SenderID:      "user-1",
			SenderName:    "Alice",
			Content:       "hello",
			Timestamp:     time.Now(),
		}, testBinding(chatID)); err != nil {
			t.Fatalf("enqueue: %v", err)
		}
	}

	// RegisterGroup was never called, so the orchestrator has no config
	// for "main" and RunForGroup fails immediately — exercising the
	// failBatch/requeue path without needing a real Docker daemon or IPC
	// directory. The test asserts the batch gets requeued rather than
	// stuck, proving the drain loop ran and terminated.
	deadline := time.After(2 * time.Second)
	for {
		select {
		case <-deadline:
			t.Fatalf("drain loop did not settle in time")
		default:
		}
		msgs, err := q.ClaimBatch(ctx, chatID, 0, queue.DefaultMaxBatch)
		if err != nil {
			t.Fatalf("claim batch: %v", err)
		}
		if len(msgs) > 0 {
			_ = q.Requeue(ctx, idsOf(msgs), "drained")
			return
		}
		time.Sleep(20 * time.Millisecond)
	}
}

func idsOf(msgs []queue.Message) []int64 {
	ids := make([]int64, len(msgs))
	for i, m := range msgs {
		ids[i] = m.ID
	}
	return ids
}

func TestPipeline_RateLimitRejectsEnqueueOverBurst(t *testing.T) {
	q := openTestQueue(t)
	mem := openTestMemory(t)
	reg := openTestRegistry(t)
	sem := lanes.New(lanes.Config{Capacity: 2})
	t.Cleanup(sem.Close)
	limiter := ratelimit.New(1, time.Minute, 1)
	sessions, err := groups.OpenSessions(t.TempDir() + "/sessions.json")
	if err != nil {
		t.Fatalf("open sessions: %v", err)
	}

	p := pipeline.New(pipeline.Config{
		QueueStore:   q,
		MemoryStore:  mem,
		Registry:     reg,
		Lanes:        sem,
		Orchestrator: sandbox.NewOrchestrator(),
		Sessions:     sessions,
		Limiter:      limiter,
		Bindings: func(chatID string) (pipeline.ChatBinding, bool) {
			return testBinding(chatID), true
		},
	})

	ctx := context.Background()
	chatID := "telegram:chat-2"
	rec := queue.EnqueueRecord{ChatID: chatID, PlatformMsgID: "m1", SenderID: "user-1", Content: "hi", Timestamp: time.Now()}
	if _, err := p.Enqueue(ctx, rec, testBinding(chatID)); err != nil {
		t.Fatalf("first enqueue should pass: %v", err)
	}
	if _, err := p.Enqueue(ctx, rec, testBinding(chatID)); err == nil {
		t.Fatalf("second enqueue should be rate limited")
	}
}
