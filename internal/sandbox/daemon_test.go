package sandbox

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/dotclaw/host/internal/dbutil"
)

func TestDaemonRunner_SubmitWaitsForResponseFile(t *testing.T) {
	dir := t.TempDir()
	d, err := NewDaemonRunner("eng", dir, time.Second)
	if err != nil {
		t.Fatalf("new daemon runner: %v", err)
	}
	defer d.Close()

	req := Request{TraceID: "trace-1", Prompt: "hi"}

	go func() {
		// Simulate the daemon side: wait for the request file, then answer.
		reqPath := filepath.Join(dir, requestsDir, "trace-1.json")
		deadline := time.Now().Add(2 * time.Second)
		for time.Now().Before(deadline) {
			if _, err := os.Stat(reqPath); err == nil {
				break
			}
			time.Sleep(10 * time.Millisecond)
		}
		result := "done"
		resp := Response{Status: ResponseOK, Result: &result, Model: "claude-sonnet"}
		body, _ := json.Marshal(resp)
		_ = dbutil.WriteFileAtomic(filepath.Join(dir, responsesDir, "trace-1.json"), body, 0o644)
	}()

	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()
	resp, err := d.Submit(ctx, req)
	if err != nil {
		t.Fatalf("submit: %v", err)
	}
	if resp.Status != ResponseOK || resp.Result == nil || *resp.Result != "done" {
		t.Fatalf("unexpected response: %+v", resp)
	}

	// The response file must be consumed so it can't be replayed.
	if _, err := os.Stat(filepath.Join(dir, responsesDir, "trace-1.json")); !os.IsNotExist(err) {
		t.Fatalf("expected response file to be removed after delivery")
	}
}

func TestDaemonRunner_SubmitRespectsContextCancellation(t *testing.T) {
	dir := t.TempDir()
	d, err := NewDaemonRunner("eng", dir, time.Second)
	if err != nil {
		t.Fatalf("new daemon runner: %v", err)
	}
	defer d.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 100*time.Millisecond)
	defer cancel()
	_, err = d.Submit(ctx, Request{TraceID: "trace-2"})
	if err == nil {
		t.Fatal("expected timeout error when no response ever arrives")
	}
}

func TestDaemonRunner_StreamChunksDeliversInOrderUntilFinal(t *testing.T) {
	dir := t.TempDir()
	d, err := NewDaemonRunner("eng", dir, time.Second)
	if err != nil {
		t.Fatalf("new daemon runner: %v", err)
	}
	defer d.Close()

	traceID := "trace-3"
	streamDir := filepath.Join(dir, "stream", traceID)
	if err := os.MkdirAll(streamDir, 0o755); err != nil {
		t.Fatalf("mkdir: %v", err)
	}

	go func() {
		time.Sleep(20 * time.Millisecond)
		for i, final := range []bool{false, false, true} {
			chunk := StreamChunk{Seq: i, Content: "part", Final: final}
			body, _ := json.Marshal(chunk)
			path := filepath.Join(streamDir, filenameForSeq(i))
			_ = dbutil.WriteFileAtomic(path, body, 0o644)
			time.Sleep(15 * time.Millisecond)
		}
	}()

	var received []StreamChunk
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := d.StreamChunks(ctx, traceID, func(c StreamChunk) { received = append(received, c) }); err != nil {
		t.Fatalf("stream chunks: %v", err)
	}
	if len(received) != 3 || !received[2].Final {
		t.Fatalf("expected 3 chunks ending in final, got %+v", received)
	}
}

func filenameForSeq(seq int) string {
	return fmt.Sprintf("%06d.json", seq)
}
