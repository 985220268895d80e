package sandbox

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/google/uuid"

	"github.com/dotclaw/host/internal/dbutil"
)

const (
	requestsDir  = "agent_requests"
	responsesDir = "agent_responses"
	heartbeatFile = "heartbeat"
	// wakeJumpThreshold distinguishes a clock jump from a suspended laptop
	// or container pause from ordinary scheduling jitter on the liveness
	// ticker, mirroring the host's own wake-detection heuristic.
	wakeJumpThreshold = 20 * time.Second
	wakeSuspendWindow = 60 * time.Second
)

// DaemonRunner submits requests to a resident per-group agent daemon over a
// file-based IPC contract: requests and responses are JSON files dropped
// into well-known directories, and delivery is observed via fsnotify with a
// polling fallback for filesystems that don't support it reliably.
type DaemonRunner struct {
	group  string
	ipcDir string
	grace  time.Duration

	fsw        *fsnotify.Watcher
	pollTicker *time.Ticker

	lastHeartbeat  time.Time
	lastChecked    time.Time
	suspendedUntil time.Time
	healthy        bool
}

// NewDaemonRunner prepares the IPC directory tree under ipcDir and starts
// watching the daemon's heartbeat file.
func NewDaemonRunner(group, ipcDir string, grace time.Duration) (*DaemonRunner, error) {
	if grace <= 0 {
		grace = 5 * time.Second
	}
	for _, sub := range []string{requestsDir, responsesDir, "stream"} {
		if err := os.MkdirAll(filepath.Join(ipcDir, sub), 0o755); err != nil {
			return nil, fmt.Errorf("create ipc dir %s: %w", sub, err)
		}
	}

	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("fsnotify: %w", err)
	}
	if err := fsw.Add(filepath.Join(ipcDir, responsesDir)); err != nil {
		fsw.Close()
		return nil, fmt.Errorf("watch responses dir: %w", err)
	}

	d := &DaemonRunner{
		group:       group,
		ipcDir:      ipcDir,
		grace:       grace,
		fsw:         fsw,
		pollTicker:  time.NewTicker(500 * time.Millisecond),
		lastHeartbeat: time.Now(),
		lastChecked:   time.Now(),
		healthy:       true,
	}
	return d, nil
}

func (d *DaemonRunner) Close() error {
	d.pollTicker.Stop()
	return d.fsw.Close()
}

// WatchLiveness runs until ctx is cancelled, periodically checking the
// daemon's heartbeat file mtime against grace and flagging it unhealthy on
// staleness. A wall-clock jump larger than wakeJumpThreshold (host suspend,
// container pause) suspends the check for wakeSuspendWindow rather than
// immediately declaring the daemon dead.
func (d *DaemonRunner) WatchLiveness(ctx context.Context) {
	ticker := time.NewTicker(time.Second)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			now := time.Now()
			gap := now.Sub(d.lastChecked)
			d.lastChecked = now
			if gap > wakeJumpThreshold {
				d.suspendedUntil = now.Add(wakeSuspendWindow)
				d.healthy = true
				continue
			}
			if now.Before(d.suspendedUntil) {
				continue
			}
			d.refreshHeartbeat()
			d.healthy = now.Sub(d.lastHeartbeat) <= d.grace
		}
	}
}

func (d *DaemonRunner) refreshHeartbeat() {
	info, err := os.Stat(filepath.Join(d.ipcDir, heartbeatFile))
	if err != nil {
		return
	}
	d.lastHeartbeat = info.ModTime()
}

// Healthy reports the last-observed liveness state.
func (d *DaemonRunner) Healthy() bool {
	return d.healthy
}

// Submit writes req atomically to the requests directory and blocks until a
// matching response file appears or ctx is cancelled.
func (d *DaemonRunner) Submit(ctx context.Context, req Request) (Response, error) {
	id := req.TraceID
	if id == "" {
		id = uuid.NewString()
		req.TraceID = id
	}
	reqPath := filepath.Join(d.ipcDir, requestsDir, id+".json")
	respPath := filepath.Join(d.ipcDir, responsesDir, id+".json")

	body, err := json.Marshal(req)
	if err != nil {
		return Response{}, fmt.Errorf("marshal request: %w", err)
	}
	if err := dbutil.WriteFileAtomic(reqPath, body, 0o644); err != nil {
		return Response{}, fmt.Errorf("write request: %w", err)
	}

	if resp, ok := d.tryReadResponse(respPath); ok {
		return resp, nil
	}

	for {
		select {
		case <-ctx.Done():
			return Response{}, ctx.Err()
		case ev, ok := <-d.fsw.Events:
			if !ok {
				return Response{}, fmt.Errorf("response watcher closed")
			}
			if ev.Name != respPath {
				continue
			}
			if resp, ok := d.tryReadResponse(respPath); ok {
				return resp, nil
			}
		case <-d.fsw.Errors:
			// fall through to polling
		case <-d.pollTicker.C:
			if resp, ok := d.tryReadResponse(respPath); ok {
				return resp, nil
			}
		}
	}
}

func (d *DaemonRunner) tryReadResponse(path string) (Response, bool) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Response{}, false
	}
	var resp Response
	if err := json.Unmarshal(data, &resp); err != nil {
		return Response{}, false
	}
	_ = os.Remove(path)
	return resp, true
}

// StreamChunks tails <ipcDir>/stream/<traceID>/ for sequentially numbered
// chunk files and delivers them to onChunk in order until a final chunk is
// seen or ctx is cancelled. Delivery is rate-limited by the caller via
// editInterval; StreamChunks itself delivers as soon as a chunk is durable.
func (d *DaemonRunner) StreamChunks(ctx context.Context, traceID string, onChunk func(StreamChunk)) error {
	dir := filepath.Join(d.ipcDir, "stream", traceID)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("create stream dir: %w", err)
	}
	if err := d.fsw.Add(dir); err != nil {
		return fmt.Errorf("watch stream dir: %w", err)
	}
	defer d.fsw.Remove(dir)

	next := 0
	drain := func() bool {
		for {
			path := filepath.Join(dir, fmt.Sprintf("%06d.json", next))
			data, err := os.ReadFile(path)
			if err != nil {
				return false
			}
			var chunk StreamChunk
			if err := json.Unmarshal(data, &chunk); err != nil {
				return false
			}
			onChunk(chunk)
			next++
			if chunk.Final {
				return true
			}
		}
	}

	if drain() {
		return nil
	}
	poll := time.NewTicker(200 * time.Millisecond)
	defer poll.Stop()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case ev, ok := <-d.fsw.Events:
			if !ok {
				return fmt.Errorf("stream watcher closed")
			}
			if filepath.Dir(ev.Name) != dir {
				continue
			}
			if drain() {
				return nil
			}
		case <-poll.C:
			if drain() {
				return nil
			}
		}
	}
}
