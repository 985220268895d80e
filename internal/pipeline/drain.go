package pipeline

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/dotclaw/host/internal/bus"
	"github.com/dotclaw/host/internal/groups"
	"github.com/dotclaw/host/internal/lanes"
	"github.com/dotclaw/host/internal/memory"
	"github.com/dotclaw/host/internal/models"
	"github.com/dotclaw/host/internal/pricing"
	"github.com/dotclaw/host/internal/queue"
	"github.com/dotclaw/host/internal/ratelimit"
	"github.com/dotclaw/host/internal/sandbox"
)

// Pipeline event topics, published on the shared bus for observability.
const (
	EventDrainStarted   = "pipeline.drain.started"
	EventBatchDelivered = "pipeline.batch.delivered"
	EventBatchFailed    = "pipeline.batch.failed"
	EventBatchRequeued  = "pipeline.batch.requeued"
)

// DeliverFunc sends the agent's reply back out through the owning channel
// adapter.
type DeliverFunc func(ctx context.Context, chatID, threadID, text string) error

// AttachmentLookup resolves the in-memory attachments a channel adapter
// captured for a platform message ID. Attachments are not durable: if the
// process restarts mid-batch, any pending attachments are dropped (noted
// in DESIGN.md) since their binary content was never written to the queue
// store.
type AttachmentLookup func(platformMsgID string) []Attachment

// ChatBinding is the per-chat context the pipeline needs to build a batch
// that a channel adapter/group config supplies.
type ChatBinding struct {
	Group        string
	UserID       string
	Provider     string
	ThreadID     string
	SessionID    string
	Channel      sandbox.ChannelMetadata
	MaxToolSteps int
	TimeoutMs    int64

	ToolPolicy     map[string]any
	BehaviorConfig map[string]any
	RecallConfig   RecallConfig
	IntentQuery    func(batchPrompt string) string // optional pre-filter
}

// Pipeline ties together C1 (queue), C2 (memory), C3 (models), C4 (lanes),
// and C5 (sandbox) into the single-drain-per-chat interactive message flow
// of spec.md §4.7.
type Pipeline struct {
	queueStore *queue.Store
	memStore   *memory.Store
	registry   *models.RegistryStore
	sem        *lanes.Semaphore
	orch       *sandbox.Orchestrator
	sessions   *groups.Sessions
	limiter    *ratelimit.Limiter
	bus        *bus.Bus
	logger     *slog.Logger
	deliver    DeliverFunc
	attachLookup AttachmentLookup
	bindings   func(chatID string) (ChatBinding, bool)

	mu       sync.Mutex
	draining map[string]bool
}

// Config collects Pipeline's dependencies.
type Config struct {
	QueueStore  *queue.Store
	MemoryStore *memory.Store
	Registry    *models.RegistryStore
	Lanes       *lanes.Semaphore
	Orchestrator *sandbox.Orchestrator
	Sessions    *groups.Sessions
	Limiter     *ratelimit.Limiter
	Bus         *bus.Bus
	Logger      *slog.Logger
	Deliver     DeliverFunc
	Attachments AttachmentLookup
	Bindings    func(chatID string) (ChatBinding, bool)
}

func New(cfg Config) *Pipeline {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Pipeline{
		queueStore:   cfg.QueueStore,
		memStore:     cfg.MemoryStore,
		registry:     cfg.Registry,
		sem:          cfg.Lanes,
		orch:         cfg.Orchestrator,
		sessions:     cfg.Sessions,
		limiter:      cfg.Limiter,
		bus:          cfg.Bus,
		logger:       logger,
		deliver:      cfg.Deliver,
		attachLookup: cfg.Attachments,
		bindings:     cfg.Bindings,
		draining:     make(map[string]bool),
	}
}

// Enqueue rate-limits and durably enqueues an inbound message, then kicks
// off a drain attempt for its chat if none is already running.
func (p *Pipeline) Enqueue(ctx context.Context, rec queue.EnqueueRecord, binding ChatBinding) (int64, error) {
	if p.limiter != nil && !p.limiter.Allow(binding.Provider, binding.UserID) {
		return 0, fmt.Errorf("pipeline: rate limit exceeded for user %s on %s", binding.UserID, binding.Provider)
	}
	id, err := p.queueStore.Enqueue(ctx, rec)
	if err != nil {
		return 0, err
	}
	p.TryDrain(ctx, rec.ChatID)
	return id, nil
}

// TryDrain starts a drain loop for chatID unless one is already running,
// implementing the single-drain-per-chat invariant.
func (p *Pipeline) TryDrain(ctx context.Context, chatID string) {
	p.mu.Lock()
	if p.draining[chatID] {
		p.mu.Unlock()
		return
	}
	p.draining[chatID] = true
	p.mu.Unlock()

	go func() {
		defer func() {
			p.mu.Lock()
			delete(p.draining, chatID)
			p.mu.Unlock()
		}()
		p.drainLoop(ctx, chatID)
	}()
}

func (p *Pipeline) drainLoop(ctx context.Context, chatID string) {
	binding, ok := p.bindings(chatID)
	if !ok {
		p.logger.Error("pipeline: no binding for chat, dropping drain", "chat_id", chatID)
		return
	}

	for {
		batchMsgs, err := p.queueStore.ClaimBatch(ctx, chatID, queue.DefaultBatchWindow, queue.DefaultMaxBatch)
		if err != nil {
			p.logger.Error("pipeline: claim batch failed", "chat_id", chatID, "error", err)
			return
		}
		if len(batchMsgs) == 0 {
			return
		}

		if p.bus != nil {
			p.bus.Publish(EventDrainStarted, map[string]any{"chat_id": chatID, "count": len(batchMsgs)})
		}

		inbound := make([]InboundMessage, 0, len(batchMsgs))
		for _, m := range batchMsgs {
			var attachments []Attachment
			if p.attachLookup != nil {
				attachments = p.attachLookup(m.PlatformMsgID)
			}
			inbound = append(inbound, InboundMessage{Message: m, Attachments: attachments})
		}
		batch := ComposeBatch(chatID, inbound)

		p.processBatch(ctx, batch, binding)
	}
}

func (p *Pipeline) processBatch(ctx context.Context, batch Batch, binding ChatBinding) {
	intentQuery := ""
	if binding.IntentQuery != nil {
		intentQuery = binding.IntentQuery(batch.Prompt)
	}

	sessionID := binding.SessionID
	if p.sessions != nil {
		if cursor, ok := p.sessions.Get(batch.ChatID); ok && cursor.SessionID != "" {
			sessionID = cursor.SessionID
		}
	}

	req, err := BuildRequest(ctx, batch, binding.Group, binding.UserID, sessionID,
		p.registry, p.memStore, binding.RecallConfig, intentQuery,
		binding.ToolPolicy, binding.BehaviorConfig, binding.Channel, binding.MaxToolSteps, binding.TimeoutMs)
	if err != nil {
		p.failBatch(ctx, batch, fmt.Errorf("build request: %w", err))
		return
	}

	if err := p.sem.Acquire(ctx, lanes.LaneInteractive); err != nil {
		p.failBatch(ctx, batch, fmt.Errorf("acquire interactive lane: %w", err))
		return
	}
	resp, runErr := p.orch.RunForGroup(ctx, req, binding.Group, nil)
	p.sem.Release()

	if runErr != nil {
		if p.registry != nil && p.registry.Cooldowns() != nil {
			category := models.ClassifyError(ctx, runErr)
			p.registry.Cooldowns().RecordFailure(req.Model, category)
		}
		p.failBatch(ctx, batch, runErr)
		return
	}
	if resp.Status == sandbox.ResponseError {
		p.failBatch(ctx, batch, fmt.Errorf("sandbox run failed: %s", resp.Error))
		return
	}

	if resp.PromptTokens > 0 || resp.CompletionTokens > 0 {
		cost := pricing.EstimateCost(resp.Model, resp.PromptTokens, resp.CompletionTokens)
		p.logger.Info("pipeline: run completed",
			"chat_id", batch.ChatID, "model", resp.Model,
			"prompt_tokens", resp.PromptTokens, "completion_tokens", resp.CompletionTokens,
			"estimated_cost_usd", cost, "latency_ms", resp.LatencyMs,
		)
	}

	text := ""
	if resp.Result != nil {
		text = *resp.Result
	}
	if p.deliver != nil {
		if err := p.deliver(ctx, batch.ChatID, binding.ThreadID, text); err != nil {
			p.failBatch(ctx, batch, fmt.Errorf("deliver: %w", err))
			return
		}
	}

	if err := p.queueStore.Complete(ctx, batch.MessageIDs); err != nil {
		p.logger.Error("pipeline: failed to mark batch complete", "chat_id", batch.ChatID, "error", err)
	}
	if p.sessions != nil {
		newSessionID := sessionID
		if resp.NewSessionID != "" {
			newSessionID = resp.NewSessionID
		}
		if aerr := p.sessions.Advance(groups.ChatCursor{
			ChatID:             batch.ChatID,
			SessionID:          newSessionID,
			LastAgentTimestamp: time.Now(),
			LastAgentMessageID: batch.LastPlatformMsgID,
		}); aerr != nil {
			p.logger.Error("pipeline: failed to advance session cursor", "chat_id", batch.ChatID, "error", aerr)
		}
	}
	if p.bus != nil {
		p.bus.Publish(EventBatchDelivered, map[string]any{"chat_id": batch.ChatID, "count": len(batch.MessageIDs)})
	}
}

// failBatch requeues a batch until its messages' attempt counts reach
// MaxRetries, at which point it is marked permanently failed, per
// spec.md §4.7.
func (p *Pipeline) failBatch(ctx context.Context, batch Batch, cause error) {
	p.logger.Warn("pipeline: batch failed", "chat_id", batch.ChatID, "error", cause)

	if batch.MaxAttemptCount >= MaxRetries {
		if err := p.queueStore.Fail(ctx, batch.MessageIDs, cause.Error()); err != nil {
			p.logger.Error("pipeline: failed to mark batch failed", "chat_id", batch.ChatID, "error", err)
		}
		if p.bus != nil {
			p.bus.Publish(EventBatchFailed, map[string]any{"chat_id": batch.ChatID, "error": cause.Error()})
		}
		return
	}

	if err := p.queueStore.Requeue(ctx, batch.MessageIDs, cause.Error()); err != nil {
		p.logger.Error("pipeline: failed to requeue batch", "chat_id", batch.ChatID, "error", err)
	}
	if p.bus != nil {
		p.bus.Publish(EventBatchRequeued, map[string]any{"chat_id": batch.ChatID, "error": cause.Error()})
	}
}
