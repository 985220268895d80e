package pipeline

import (
	"fmt"
	"strings"

	"github.com/dotclaw/host/internal/queue"
)

// InboundMessage pairs a durable queue row with its (non-durable, in-memory
// only) attachments, supplied by the channel adapter that received it.
type InboundMessage struct {
	queue.Message
	Attachments []Attachment
}

// Batch is the result of composing a folded burst of messages into one
// agent-facing prompt, per spec.md §4.7.
type Batch struct {
	ChatID            string
	Prompt            string
	Attachments       []Attachment
	Dropped           []string // human-readable reasons an attachment was excluded
	MessageIDs        []int64
	MaxAttemptCount   int    // highest AttemptCount among the folded messages
	LastPlatformMsgID string // platform id of the newest folded message
}

// ComposeBatch merges a time-window burst of inbound messages for one chat
// into a single prompt, enforcing per-attachment and cumulative attachment
// size caps and dropping unsupported MIME types rather than failing the
// whole batch.
func ComposeBatch(chatID string, msgs []InboundMessage) Batch {
	b := Batch{ChatID: chatID}
	var sb strings.Builder
	var cumulative int

	for i, m := range msgs {
		b.MessageIDs = append(b.MessageIDs, m.ID)
		b.LastPlatformMsgID = m.PlatformMsgID
		if m.AttemptCount > b.MaxAttemptCount {
			b.MaxAttemptCount = m.AttemptCount
		}
		if i > 0 {
			sb.WriteString("\n")
		}
		speaker := m.SenderName
		if speaker == "" {
			speaker = m.SenderID
		}
		sb.WriteString(fmt.Sprintf("[%s]: %s", speaker, m.Content))

		for _, a := range m.Attachments {
			if !IsSupportedAttachment(a.MimeType) {
				b.Dropped = append(b.Dropped, fmt.Sprintf("%s: unsupported mime type %q", a.Name, a.MimeType))
				continue
			}
			if len(a.Data) > MaxAttachmentBytes {
				b.Dropped = append(b.Dropped, fmt.Sprintf("%s: exceeds per-attachment limit", a.Name))
				continue
			}
			if cumulative+len(a.Data) > MaxCumulativeAttachmentBytes {
				b.Dropped = append(b.Dropped, fmt.Sprintf("%s: exceeds cumulative batch limit", a.Name))
				continue
			}
			cumulative += len(a.Data)
			b.Attachments = append(b.Attachments, a)
		}
	}

	b.Prompt = sb.String()
	return b
}
