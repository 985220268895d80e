package schedule

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/dotclaw/host/internal/lanes"
	"github.com/dotclaw/host/internal/sandbox"
)

// RunResult is the outcome of one dispatched task run.
type RunResult struct {
	Text         string
	NewSessionID string
}

// RunFunc dispatches one due task's prompt into a sandbox run for its group
// and returns the run's textual result plus any new session token the run
// returned. It is satisfied by a thin adapter around
// sandbox.Orchestrator.RunForGroup in the daemon wiring.
type RunFunc func(ctx context.Context, t Task) (RunResult, error)

// Dispatcher periodically claims due tasks and runs them on the
// scheduled lane, so background scheduled work never starves interactive
// chat handling, per spec.md §4.4/§4.6.
type Dispatcher struct {
	store    *Store
	sem      *lanes.Semaphore
	run      RunFunc
	logger   *slog.Logger
	interval time.Duration

	maxRetries int
	retryBaseMs int64
	retryMaxMs  int64

	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// DispatcherConfig configures a Dispatcher.
type DispatcherConfig struct {
	Store       *Store
	Lanes       *lanes.Semaphore
	Run         RunFunc
	Logger      *slog.Logger
	Interval    time.Duration // tick interval; defaults to 30s
	MaxRetries  int
	RetryBaseMs int64
	RetryMaxMs  int64
}

// NewDispatcher constructs a Dispatcher from cfg, applying defaults.
func NewDispatcher(cfg DispatcherConfig) *Dispatcher {
	interval := cfg.Interval
	if interval <= 0 {
		interval = 30 * time.Second
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Dispatcher{
		store:       cfg.Store,
		sem:         cfg.Lanes,
		run:         cfg.Run,
		logger:      logger,
		interval:    interval,
		maxRetries:  cfg.MaxRetries,
		retryBaseMs: cfg.RetryBaseMs,
		retryMaxMs:  cfg.RetryMaxMs,
	}
}

// Start begins the dispatch loop in the background.
func (d *Dispatcher) Start(ctx context.Context) {
	ctx, d.cancel = context.WithCancel(ctx)
	d.wg.Add(1)
	go d.loop(ctx)
	d.logger.Info("task dispatcher started", "interval", d.interval)
}

// Stop cancels the loop and waits for in-flight dispatch to settle.
func (d *Dispatcher) Stop() {
	if d.cancel != nil {
		d.cancel()
	}
	d.wg.Wait()
	d.logger.Info("task dispatcher stopped")
}

func (d *Dispatcher) loop(ctx context.Context) {
	defer d.wg.Done()
	ticker := time.NewTicker(d.interval)
	defer ticker.Stop()

	d.tick(ctx)
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			d.tick(ctx)
		}
	}
}

func (d *Dispatcher) tick(ctx context.Context) {
	due, err := d.store.ClaimDue(ctx, time.Now(), StaleLeaseThreshold)
	if err != nil {
		d.logger.Error("claim due tasks failed", "error", err)
		return
	}
	for _, t := range due {
		go d.dispatch(ctx, t)
	}
}

func (d *Dispatcher) dispatch(ctx context.Context, t Task) {
	if err := d.sem.Acquire(ctx, lanes.LaneScheduled); err != nil {
		d.logger.Warn("task dispatch aborted before acquiring a lane permit", "task_id", t.ID, "error", err)
		return
	}
	defer d.sem.Release()

	ranAt := time.Now()
	result, err := d.run(ctx, t)
	if err != nil {
		d.logger.Error("scheduled task failed", "task_id", t.ID, "error", err)
		if ferr := d.store.Fail(ctx, t.ID, err.Error(), d.maxRetries, d.retryBaseMs, d.retryMaxMs); ferr != nil {
			d.logger.Error("failed to record task failure", "task_id", t.ID, "error", ferr)
		}
		return
	}
	if cerr := d.store.Complete(ctx, t.ID, ranAt, result.NewSessionID); cerr != nil {
		d.logger.Error("failed to record task completion", "task_id", t.ID, "error", cerr)
	}
}

// SandboxRunFunc adapts an orchestrator into a RunFunc, running the task's
// prompt under group mutual exclusion and returning its textual result.
func SandboxRunFunc(orch *sandbox.Orchestrator) RunFunc {
	return func(ctx context.Context, t Task) (RunResult, error) {
		resp, err := orch.RunForGroup(ctx, sandbox.Request{
			TraceID:   t.ID,
			SessionID: t.SessionID,
			Prompt:    t.Prompt,
		}, t.Group, nil)
		if err != nil {
			return RunResult{}, err
		}
		if resp.Status == sandbox.ResponseError {
			return RunResult{}, &sandboxRunError{msg: resp.Error}
		}
		result := RunResult{NewSessionID: resp.NewSessionID}
		if resp.Result != nil {
			result.Text = *resp.Result
		}
		return result, nil
	}
}

type sandboxRunError struct{ msg string }

func (e *sandboxRunError) Error() string { return e.msg }
