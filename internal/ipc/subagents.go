package ipc

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/dotclaw/host/internal/sandbox"
)

// SubagentStatus is the lifecycle of one spawned subagent run.
type SubagentStatus string

const (
	SubagentRunning   SubagentStatus = "running"
	SubagentCompleted SubagentStatus = "completed"
	SubagentFailed    SubagentStatus = "failed"
)

// subagentRun tracks one in-flight or finished ephemeral run spawned via
// spawn_subagent. Unlike the interactive pipeline, subagent runs are
// always ephemeral (ModeEphemeral): they're one-shot delegated work, not a
// resident conversation.
type subagentRun struct {
	ID        string
	Status    SubagentStatus
	StartedAt time.Time
	Response  sandbox.Response
	Err       string
}

// SubagentManager spawns and tracks nested sandbox runs on behalf of the
// spawn_subagent/subagent_status/subagent_result actions, implemented
// directly against sandbox.Orchestrator.
type SubagentManager struct {
	orch *sandbox.Orchestrator

	mu   sync.Mutex
	runs map[string]*subagentRun
}

func NewSubagentManager(orch *sandbox.Orchestrator) *SubagentManager {
	return &SubagentManager{orch: orch, runs: make(map[string]*subagentRun)}
}

// Spawn starts req (forced to ModeEphemeral semantics by using RunForGroup
// against group) in the background and returns a subagent ID immediately.
func (m *SubagentManager) Spawn(group string, req sandbox.Request) string {
	id := uuid.NewString()
	req.TraceID = id
	run := &subagentRun{ID: id, Status: SubagentRunning, StartedAt: time.Now()}

	m.mu.Lock()
	m.runs[id] = run
	m.mu.Unlock()

	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Minute)
		defer cancel()
		resp, err := m.orch.RunForGroup(ctx, req, group, nil)

		m.mu.Lock()
		defer m.mu.Unlock()
		run.Response = resp
		if err != nil {
			run.Status = SubagentFailed
			run.Err = err.Error()
			return
		}
		if resp.Status == sandbox.ResponseError {
			run.Status = SubagentFailed
			run.Err = resp.Error
			return
		}
		run.Status = SubagentCompleted
	}()

	return id
}

// Status returns the current status of a spawned subagent.
func (m *SubagentManager) Status(id string) (SubagentStatus, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	run, ok := m.runs[id]
	if !ok {
		return "", fmt.Errorf("ipc: unknown subagent %q", id)
	}
	return run.Status, nil
}

// Result returns the finished response, erroring if the run is still in
// progress.
func (m *SubagentManager) Result(id string) (sandbox.Response, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	run, ok := m.runs[id]
	if !ok {
		return sandbox.Response{}, fmt.Errorf("ipc: unknown subagent %q", id)
	}
	if run.Status == SubagentRunning {
		return sandbox.Response{}, fmt.Errorf("ipc: subagent %q still running", id)
	}
	if run.Status == SubagentFailed {
		return run.Response, fmt.Errorf("ipc: subagent %q failed: %s", id, run.Err)
	}
	return run.Response, nil
}
