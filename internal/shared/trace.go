// Package shared carries the small cross-cutting helpers every package
// needs: context-propagated identifiers (trace/run/task/agent/delegation
// hop), sampling overrides, and log/event redaction.
package shared

import (
	"context"

	"github.com/google/uuid"
)

type (
	traceKey          struct{}
	runKey            struct{}
	taskKey           struct{}
	agentKey          struct{}
	delegationHopKey  struct{}
	samplingConfigKey struct{}
)

// SamplingConfig carries per-request generation overrides (temperature,
// top-p/top-k, max tokens, stop sequences) from the inbound request down
// into the model call, without threading them through every signature.
type SamplingConfig struct {
	Temperature     *float64
	TopP            *float64
	TopK            *int
	MaxOutputTokens *int
	StopSequences   []string
}

// WithTraceID attaches a trace_id to the context.
func WithTraceID(ctx context.Context, traceID string) context.Context {
	return context.WithValue(ctx, traceKey{}, traceID)
}

// TraceID extracts trace_id from context. Returns "-" if absent.
func TraceID(ctx context.Context) string {
	if v, ok := ctx.Value(traceKey{}).(string); ok && v != "" {
		return v
	}
	return "-"
}

// NewTraceID generates a new trace_id.
func NewTraceID() string {
	return uuid.NewString()
}

// WithRunID attaches a run_id (one per dispatched task execution) to the context.
func WithRunID(ctx context.Context, runID string) context.Context {
	return context.WithValue(ctx, runKey{}, runID)
}

// RunID extracts run_id from context. Returns "-" if absent.
func RunID(ctx context.Context) string {
	if v, ok := ctx.Value(runKey{}).(string); ok && v != "" {
		return v
	}
	return "-"
}

// NewRunID generates a new run_id.
func NewRunID() string {
	return uuid.NewString()
}

// WithTaskID attaches a task_id to the context.
func WithTaskID(ctx context.Context, taskID string) context.Context {
	return context.WithValue(ctx, taskKey{}, taskID)
}

// TaskID extracts task_id from context. Returns "-" if absent.
func TaskID(ctx context.Context) string {
	if v, ok := ctx.Value(taskKey{}).(string); ok && v != "" {
		return v
	}
	return "-"
}

// WithAgentID attaches an agent_id to the context.
func WithAgentID(ctx context.Context, agentID string) context.Context {
	return context.WithValue(ctx, agentKey{}, agentID)
}

// AgentID extracts agent_id from context. Returns "-" if absent.
func AgentID(ctx context.Context) string {
	if v, ok := ctx.Value(agentKey{}).(string); ok && v != "" {
		return v
	}
	return "-"
}

// WithDelegationHop records the current delegation depth on the context.
func WithDelegationHop(ctx context.Context, hop int) context.Context {
	return context.WithValue(ctx, delegationHopKey{}, hop)
}

// DelegationHop extracts the delegation depth from context. Returns 0 if absent.
func DelegationHop(ctx context.Context) int {
	if v, ok := ctx.Value(delegationHopKey{}).(int); ok {
		return v
	}
	return 0
}

// WithSamplingConfig attaches per-request sampling overrides to the context.
func WithSamplingConfig(ctx context.Context, sc *SamplingConfig) context.Context {
	return context.WithValue(ctx, samplingConfigKey{}, sc)
}

// SamplingConfigFrom extracts sampling overrides from context, if any were set.
func SamplingConfigFrom(ctx context.Context) (*SamplingConfig, bool) {
	v, ok := ctx.Value(samplingConfigKey{}).(*SamplingConfig)
	return v, ok && v != nil
}
