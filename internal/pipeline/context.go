package pipeline

import (
	"context"
	"fmt"

	"github.com/dotclaw/host/internal/memory"
	"github.com/dotclaw/host/internal/models"
	"github.com/dotclaw/host/internal/sandbox"
)

// RecallConfig bounds how much memory context is folded into a run.
type RecallConfig struct {
	MaxResults int
	MaxTokens  int
}

func (c RecallConfig) withDefaults() RecallConfig {
	if c.MaxResults <= 0 {
		c.MaxResults = 20
	}
	if c.MaxTokens <= 0 {
		c.MaxTokens = 2000
	}
	return c
}

// BuildRequest assembles a sandbox.Request for one batch: it resolves the
// effective model through the registry cascade (C3), recalls relevant
// memory (C2) — optionally pre-filtered by an intent query distinct from
// the raw batch prompt — and attaches the group's tool policy and behavior
// config verbatim.
func BuildRequest(
	ctx context.Context,
	batch Batch,
	group, userID string,
	sessionID string,
	registry *models.RegistryStore,
	mem *memory.Store,
	recallCfg RecallConfig,
	intentQuery string,
	toolPolicy map[string]any,
	behaviorConfig map[string]any,
	channel sandbox.ChannelMetadata,
	maxToolSteps int,
	timeoutMs int64,
) (sandbox.Request, error) {
	recallCfg = recallCfg.withDefaults()

	model, err := registry.ResolveModel(group, userID, batch.Prompt)
	if err != nil {
		return sandbox.Request{}, fmt.Errorf("resolve model: %w", err)
	}

	query := batch.Prompt
	if intentQuery != "" {
		query = intentQuery
	}
	recalled, err := mem.Recall(ctx, group, userID, query, recallCfg.MaxResults, recallCfg.MaxTokens, nil)
	if err != nil {
		return sandbox.Request{}, fmt.Errorf("recall memory: %w", err)
	}
	bundle := make([]string, 0, len(recalled))
	for _, r := range recalled {
		bundle = append(bundle, r.Item.Content)
	}

	return sandbox.Request{
		Prompt:         batch.Prompt,
		SessionID:      sessionID,
		MemoryBundle:   bundle,
		ToolPolicy:     toolPolicy,
		BehaviorConfig: behaviorConfig,
		Model:          model,
		Channel:        channel,
		MaxToolSteps:   maxToolSteps,
		TimeoutMs:      timeoutMs,
	}, nil
}
