package sandbox

import (
	"context"
	"fmt"
	"sync"
	"time"
)

// Orchestrator owns one runner per group (ephemeral container launcher or
// daemon IPC client) and serializes runs within a group while allowing
// different groups to run concurrently.
type Orchestrator struct {
	mu       sync.Mutex
	configs  map[string]GroupConfig
	daemons  map[string]*DaemonRunner
	locks    *groupLocks
	cancels  map[string]context.CancelFunc // trace ID -> cancel, for interrupt-on-new-message
	cancelMu sync.Mutex
}

// NewOrchestrator creates an orchestrator with no groups registered yet.
func NewOrchestrator() *Orchestrator {
	return &Orchestrator{
		configs: make(map[string]GroupConfig),
		daemons: make(map[string]*DaemonRunner),
		locks:   newGroupLocks(),
		cancels: make(map[string]context.CancelFunc),
	}
}

// RegisterGroup makes cfg available for future Run calls for cfg.Group. For
// ModeDaemon groups it opens the IPC directories and starts a liveness
// watcher; callers should cancel watchCtx on shutdown.
func (o *Orchestrator) RegisterGroup(watchCtx context.Context, cfg GroupConfig) error {
	cfg = cfg.withDefaults()
	o.mu.Lock()
	defer o.mu.Unlock()
	o.configs[cfg.Group] = cfg

	if cfg.Mode == ModeDaemon {
		d, err := NewDaemonRunner(cfg.Group, cfg.IPCDir, cfg.HeartbeatGrace)
		if err != nil {
			return fmt.Errorf("register group %s: %w", cfg.Group, err)
		}
		o.daemons[cfg.Group] = d
		go d.WatchLiveness(watchCtx)
	}
	return nil
}

// Suspended reports whether a daemon group's liveness watcher currently
// considers it unhealthy (stale heartbeat, not a recent wake event).
func (o *Orchestrator) Suspended(group string) bool {
	o.mu.Lock()
	d, ok := o.daemons[group]
	o.mu.Unlock()
	if !ok {
		return false
	}
	return !d.Healthy()
}

// RunForGroup serializes req under group's mutex, dispatches it to the
// configured backend (ephemeral container or resident daemon), and streams
// any partial output to onChunk at no faster than the group's configured
// edit interval. A concurrent call to Interrupt(req.TraceID) cancels the
// in-flight run.
func (o *Orchestrator) RunForGroup(ctx context.Context, req Request, group string, onChunk func(StreamChunk)) (Response, error) {
	o.mu.Lock()
	cfg, ok := o.configs[group]
	o.mu.Unlock()
	if !ok {
		return Response{}, fmt.Errorf("sandbox: group %q not registered", group)
	}

	lock := o.locks.lockFor(group)
	lock.Lock()
	defer lock.Unlock()

	runCtx, cancel := context.WithCancel(ctx)
	o.cancelMu.Lock()
	o.cancels[req.TraceID] = cancel
	o.cancelMu.Unlock()
	defer func() {
		o.cancelMu.Lock()
		delete(o.cancels, req.TraceID)
		o.cancelMu.Unlock()
		cancel()
	}()

	if req.TimeoutMs > 0 {
		var timeoutCancel context.CancelFunc
		runCtx, timeoutCancel = context.WithTimeout(runCtx, time.Duration(req.TimeoutMs)*time.Millisecond)
		defer timeoutCancel()
	}

	switch cfg.Mode {
	case ModeDaemon:
		o.mu.Lock()
		d := o.daemons[group]
		o.mu.Unlock()
		if d == nil {
			return Response{}, fmt.Errorf("sandbox: daemon for group %q not started", group)
		}
		if onChunk != nil {
			go func() {
				_ = d.StreamChunks(runCtx, req.TraceID, rateLimited(cfg, onChunk))
			}()
		}
		return d.Submit(runCtx, req)
	case ModeEphemeral:
		runner, err := newContainerRunner(cfg.ContainerImage, cfg.WorkspaceDir)
		if err != nil {
			return Response{}, err
		}
		defer runner.Close()
		return runner.run(runCtx, req)
	default:
		return Response{}, fmt.Errorf("sandbox: unknown mode %q for group %q", cfg.Mode, group)
	}
}

// Interrupt cancels an in-flight run by trace ID, implementing
// interrupt-on-new-message semantics for the caller.
func (o *Orchestrator) Interrupt(traceID string) bool {
	o.cancelMu.Lock()
	defer o.cancelMu.Unlock()
	cancel, ok := o.cancels[traceID]
	if !ok {
		return false
	}
	cancel()
	return true
}

// rateLimited wraps onChunk so it is invoked at most once per cfg's
// EditInterval, always delivering the final chunk regardless of timing, and
// truncating content to MaxEditLength.
func rateLimited(cfg GroupConfig, onChunk func(StreamChunk)) func(StreamChunk) {
	var last time.Time
	return func(c StreamChunk) {
		if len(c.Content) > cfg.MaxEditLength {
			c.Content = c.Content[:cfg.MaxEditLength]
		}
		now := time.Now()
		if !c.Final && now.Sub(last) < cfg.EditInterval {
			return
		}
		last = now
		onChunk(c)
	}
}
