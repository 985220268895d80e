// Package channels adapts chat-platform SDKs (out of scope per spec.md
// §1 — only their interfaces are specified here) to the message pipeline
// (C7): each adapter turns inbound platform events into pipeline.Enqueue
// calls and implements pipeline.DeliverFunc/ipc.MessageEditor for the
// outbound direction.
package channels

import (
	"context"
)

// Channel defines the interface for a messaging platform integration.
type Channel interface {
	// Name returns the unique name of the channel (e.g., "telegram").
	Name() string

	// Start begins listening for messages. It blocks until ctx is
	// canceled or a fatal, non-reconnectable error occurs.
	Start(ctx context.Context) error
}
