package pipeline_test

import (
	"testing"
	"time"

	"github.com/dotclaw/host/internal/pipeline"
	"github.com/dotclaw/host/internal/queue"
)

func TestComposeBatch_LastPlatformMsgIDIsNewestMessage(t *testing.T) {
	msgs := []pipeline.InboundMessage{
		{Message: queue.Message{ID: 1, PlatformMsgID: "m1", Content: "first", Timestamp: time.Now()}},
		{Message: queue.Message{ID: 2, PlatformMsgID: "m2", Content: "second", Timestamp: time.Now()}},
		{Message: queue.Message{ID: 3, PlatformMsgID: "m3", Content: "third", Timestamp: time.Now()}},
	}
	batch := pipeline.ComposeBatch("chat-1", msgs)
	if batch.LastPlatformMsgID != "m3" {
		t.Fatalf("expected the newest folded message's platform id, got %q", batch.LastPlatformMsgID)
	}
}

func TestComposeBatch_SingleMessageSetsLastPlatformMsgID(t *testing.T) {
	msgs := []pipeline.InboundMessage{
		{Message: queue.Message{ID: 1, PlatformMsgID: "only", Content: "hi", Timestamp: time.Now()}},
	}
	batch := pipeline.ComposeBatch("chat-1", msgs)
	if batch.LastPlatformMsgID != "only" {
		t.Fatalf("expected the sole message's platform id, got %q", batch.LastPlatformMsgID)
	}
}
