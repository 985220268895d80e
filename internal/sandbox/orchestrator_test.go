package sandbox

import (
	"testing"
	"time"
)

func TestGroupLocks_SameGroupSharesMutex(t *testing.T) {
	g := newGroupLocks()
	a := g.lockFor("eng")
	b := g.lockFor("eng")
	if a != b {
		t.Fatal("expected the same group to reuse the same mutex")
	}
	c := g.lockFor("ops")
	if a == c {
		t.Fatal("expected distinct groups to get distinct mutexes")
	}
}

func TestRateLimited_DropsChunksFasterThanInterval(t *testing.T) {
	cfg := GroupConfig{EditInterval: 50 * time.Millisecond, MaxEditLength: 100}.withDefaults()
	var delivered []StreamChunk
	limited := rateLimited(cfg, func(c StreamChunk) { delivered = append(delivered, c) })

	limited(StreamChunk{Seq: 0, Content: "a"})
	limited(StreamChunk{Seq: 1, Content: "b"}) // too soon, should drop
	time.Sleep(60 * time.Millisecond)
	limited(StreamChunk{Seq: 2, Content: "c"})
	limited(StreamChunk{Seq: 3, Content: "done", Final: true}) // final always delivered

	if len(delivered) != 3 {
		t.Fatalf("expected 3 delivered chunks (first, post-interval, final), got %d: %+v", len(delivered), delivered)
	}
	if !delivered[2].Final {
		t.Fatalf("expected the final chunk to always be delivered regardless of timing")
	}
}

func TestRateLimited_TruncatesToMaxEditLength(t *testing.T) {
	cfg := GroupConfig{MaxEditLength: 4}.withDefaults()
	var delivered StreamChunk
	limited := rateLimited(cfg, func(c StreamChunk) { delivered = c })
	limited(StreamChunk{Content: "abcdefgh"})
	if delivered.Content != "abcd" {
		t.Fatalf("expected truncated content, got %q", delivered.Content)
	}
}
