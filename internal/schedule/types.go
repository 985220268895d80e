// Package schedule implements the task scheduler (C6): durable cron,
// interval, and one-shot tasks with lease-based claiming, retry backoff,
// and quarantine after repeated failure.
package schedule

import "time"

// Kind selects how NextRun is computed for a task.
type Kind string

const (
	KindCron     Kind = "cron"
	KindInterval Kind = "interval"
	KindOnce     Kind = "once"
)

// Status is the lifecycle state of a scheduled task.
type Status string

const (
	StatusActive    Status = "active"
	StatusPaused    Status = "paused"
	StatusCompleted Status = "completed"
	StatusDeleted   Status = "deleted"
)

// ContextMode controls whether a task's run shares its group's ongoing
// conversational session or starts isolated each time.
type ContextMode string

const (
	// ContextModeGroup persists the session id a run returns back onto the
	// task, so the next run continues the same agent conversation.
	ContextModeGroup ContextMode = "group"
	// ContextModeIsolated never persists a returned session id; every run
	// starts fresh from the task's own prompt.
	ContextModeIsolated ContextMode = "isolated"
)

const (
	DefaultTaskMaxRetries = 3
	DefaultRetryBaseMs    = 30_000       // 30s
	DefaultRetryMaxMs     = 30 * 60_000  // 30min
	StaleLeaseThreshold   = 15 * time.Minute
)

// Task is one durable scheduled unit of work.
type Task struct {
	ID           string      `json:"id,omitempty"`
	Group        string      `json:"group,omitempty"`
	SessionID    string      `json:"session_id,omitempty"`
	ContextMode  ContextMode `json:"context_mode,omitempty"`
	Kind         Kind        `json:"kind"`
	CronExpr     string      `json:"cron_expr,omitempty"`
	IntervalMs   int64       `json:"interval_ms,omitempty"`
	Timezone     string      `json:"timezone,omitempty"` // IANA zone name; empty means host local time
	Prompt       string      `json:"prompt"`
	Status       Status      `json:"status,omitempty"`
	NextRunAt    *time.Time  `json:"next_run_at,omitempty"`
	RunningSince *time.Time  `json:"running_since,omitempty"`
	LastRunAt    *time.Time  `json:"last_run_at,omitempty"`
	RetryCount   int         `json:"retry_count,omitempty"`
	LastError    string      `json:"last_error,omitempty"`
	CreatedAt    time.Time   `json:"created_at,omitempty"`
	UpdatedAt    time.Time   `json:"updated_at,omitempty"`
}
