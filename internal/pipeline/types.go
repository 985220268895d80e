// Package pipeline implements the message pipeline (C7): per-chat batch
// composition, context assembly, interactive-lane dispatch into a sandbox
// run, and delivery with retry/backoff, per spec.md §4.7.
package pipeline

import "time"

const (
	MaxAttachmentBytes           = 10 * 1024 * 1024 // 10 MiB per attachment
	MaxCumulativeAttachmentBytes = 20 * 1024 * 1024 // 20 MiB per batch
	MaxRetries                   = 4

	// WakeRecoverySuspendWindow mirrors sandbox.wakeSuspendWindow: after a
	// detected wall-clock jump, liveness judgments are suspended for this
	// long before resuming normal checks.
	WakeRecoverySuspendWindow = 60 * time.Second
	StalledResetThreshold     = 1 * time.Second
)

// Attachment is one image (or other supported) attachment carried by a
// batch. Unsupported MIME types are dropped during composition rather than
// rejecting the whole batch.
type Attachment struct {
	MimeType string
	Data     []byte
	Name     string
}

var supportedAttachmentMimes = map[string]bool{
	"image/png":  true,
	"image/jpeg": true,
	"image/webp": true,
	"image/gif":  true,
}

// IsSupportedAttachment reports whether mime is an attachment type this
// pipeline will forward to the model.
func IsSupportedAttachment(mime string) bool {
	return supportedAttachmentMimes[mime]
}
