// Package queue implements the durable message store (C1): the on-disk
// work queue that batches rapid bursts per chat and guarantees at most one
// in-flight conversation per chat at a time.
package queue

import "time"

// Status is the lifecycle state of a queued message row.
type Status string

const (
	StatusPending    Status = "pending"
	StatusProcessing Status = "processing"
	StatusCompleted  Status = "completed"
	StatusFailed     Status = "failed"
)

// Message is one inbound chat message tracked by the durable queue.
type Message struct {
	ID            int64
	ChatID        string
	PlatformMsgID string
	SenderID      string
	SenderName    string
	Content       string
	ChannelID     string
	ThreadID      string
	Timestamp     time.Time
	Status        Status
	AttemptCount  int
	CreatedAt     time.Time
	StartedAt     *time.Time
	CompletedAt   *time.Time
	LastError     string
}

// EnqueueRecord is the caller-supplied payload for Enqueue.
type EnqueueRecord struct {
	ChatID        string
	PlatformMsgID string
	SenderID      string
	SenderName    string
	Content       string
	ChannelID     string
	ThreadID      string
	Timestamp     time.Time
}

const (
	// DefaultBatchWindow is the duration after the oldest pending message
	// during which further messages from the same chat fold into one batch.
	DefaultBatchWindow = 2 * time.Second
	// DefaultMaxBatch caps the number of rows a single claimBatch returns.
	DefaultMaxBatch = 50
	// StartupStallThreshold is the resetStalled threshold used once at
	// process startup, to recover quickly from an unclean shutdown.
	StartupStallThreshold = 1 * time.Second
	// RoutineStallThreshold is the resetStalled threshold used by the
	// ongoing maintenance loop.
	RoutineStallThreshold = 5 * time.Minute
)
