// Package sandbox implements the sandbox orchestrator (C5): launching,
// heartbeating, and terminating isolated per-group agent runtimes, and
// routing requests/responses through either a one-shot stdin/stdout
// contract (ephemeral mode) or a file-based IPC contract (daemon mode).
// Isolation is Docker-based: each group's runtime executes inside its own
// container, built from the image configured for that group.
package sandbox

import "time"

// Mode selects how an agent run is executed.
type Mode string

const (
	ModeEphemeral Mode = "ephemeral"
	ModeDaemon    Mode = "daemon"
)

const (
	outputStartMarker = "---DOTCLAW_OUTPUT_START---"
	outputEndMarker   = "---DOTCLAW_OUTPUT_END---"
)

// SamplingOverrides carries effective-model generation tuning into a request.
type SamplingOverrides struct {
	ContextWindow   int     `json:"context_window,omitempty"`
	MaxOutputTokens int     `json:"max_output_tokens,omitempty"`
	Temperature     float64 `json:"temperature,omitempty"`
}

// ChannelMetadata identifies the platform context a run responds to.
type ChannelMetadata struct {
	Platform string `json:"platform"`
	ChatID   string `json:"chat_id"`
	ThreadID string `json:"thread_id,omitempty"`
}

// Request is the record sent into a sandbox for one agent run, per
// spec.md §4.5.
type Request struct {
	TraceID        string            `json:"trace_id"`
	RunID          string            `json:"run_id"`
	Prompt         string            `json:"prompt"`
	SessionID      string            `json:"session_id,omitempty"`
	MemoryBundle   []string          `json:"memory_bundle,omitempty"`
	UserProfile    map[string]any    `json:"user_profile,omitempty"`
	ToolPolicy     map[string]any    `json:"tool_policy,omitempty"`
	BehaviorConfig map[string]any    `json:"behavior_config,omitempty"`
	Model          string            `json:"model"`
	Overrides      SamplingOverrides `json:"overrides,omitempty"`
	Channel        ChannelMetadata   `json:"channel"`
	MaxToolSteps   int               `json:"max_tool_steps,omitempty"`
	TimeoutMs      int64             `json:"timeout_ms,omitempty"`
}

// ToolCallRecord summarizes one tool invocation made during a run.
type ToolCallRecord struct {
	Name       string `json:"name"`
	OK         bool   `json:"ok"`
	DurationMs int64  `json:"duration_ms"`
	Error      string `json:"error,omitempty"`
}

// ResponseStatus is the outcome of a sandbox run.
type ResponseStatus string

const (
	ResponseOK    ResponseStatus = "ok"
	ResponseError ResponseStatus = "error"
)

// Response is the record a sandbox emits for one agent run, per spec.md §4.5.
type Response struct {
	Status             ResponseStatus    `json:"status"`
	Result              *string          `json:"result"`
	Error               string           `json:"error,omitempty"`
	NewSessionID        string           `json:"new_session_id,omitempty"`
	ToolCalls           []ToolCallRecord `json:"tool_calls,omitempty"`
	Model               string           `json:"model"`
	LatencyMs           int64            `json:"latency_ms"`
	PromptTokens        int              `json:"prompt_tokens,omitempty"`
	CompletionTokens    int              `json:"completion_tokens,omitempty"`
	MemorySummary       string           `json:"memory_summary,omitempty"`
	FactsSummary        string           `json:"facts_summary,omitempty"`
	PromptPackVersions  map[string]string `json:"prompt_pack_versions,omitempty"`
}

// StreamChunk is one partial output fragment written during a run.
type StreamChunk struct {
	Seq     int    `json:"seq"`
	Content string `json:"content"`
	Final   bool   `json:"final"`
}

// GroupConfig is the per-group launch configuration resolved by the caller.
type GroupConfig struct {
	Group          string
	Mode           Mode
	ContainerImage string
	WorkspaceDir   string
	IPCDir         string // data/ipc/<group>
	HeartbeatGrace time.Duration
	EditInterval   time.Duration
	MaxEditLength  int
}

func (c GroupConfig) withDefaults() GroupConfig {
	if c.HeartbeatGrace <= 0 {
		c.HeartbeatGrace = 5 * time.Second
	}
	if c.EditInterval <= 0 {
		c.EditInterval = time.Second
	}
	if c.MaxEditLength <= 0 {
		c.MaxEditLength = 4000
	}
	return c
}
