package ipc

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/dotclaw/host/internal/groups"
	"github.com/dotclaw/host/internal/memory"
	"github.com/dotclaw/host/internal/models"
	"github.com/dotclaw/host/internal/sandbox"
	"github.com/dotclaw/host/internal/schedule"
)

// MessageEditor abstracts the platform-side edit/delete surface (out of
// scope per spec.md §1 — only the interface is specified here; a channel
// adapter supplies the concrete implementation).
type MessageEditor interface {
	EditMessage(ctx context.Context, chatID, platformMsgID, newText string) error
	DeleteMessage(ctx context.Context, chatID, platformMsgID string) error
}

// ConfigReader exposes the subset of runtime config get_config returns.
type ConfigReader func() map[string]any

// Dispatcher wires the full C8 action catalogue to its owning subsystems.
type Dispatcher struct {
	mem        *memory.Store
	schedule   *schedule.Store
	registry   *models.RegistryStore
	groupsReg  *groups.Registry
	threads    *groups.TaskThreads
	subagents  *SubagentManager
	editor     MessageEditor
	readConfig ConfigReader
	logger     *slog.Logger
}

type Config struct {
	Memory       *memory.Store
	Schedule     *schedule.Store
	Registry     *models.RegistryStore
	Groups       *groups.Registry
	Threads      *groups.TaskThreads
	Orchestrator *sandbox.Orchestrator
	Editor       MessageEditor
	ReadConfig   ConfigReader
	Logger       *slog.Logger
}

func NewDispatcher(cfg Config) *Dispatcher {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Dispatcher{
		mem:        cfg.Memory,
		schedule:   cfg.Schedule,
		registry:   cfg.Registry,
		groupsReg:  cfg.Groups,
		threads:    cfg.Threads,
		subagents:  NewSubagentManager(cfg.Orchestrator),
		editor:     cfg.Editor,
		readConfig: cfg.ReadConfig,
		logger:     logger,
	}
}

// Dispatch authorizes and routes env, originating from originGroup (the
// directory under which the file was dropped). The non-`main` origin may
// only act on its own group; `main` may act cross-group via TargetGroup.
func (d *Dispatcher) Dispatch(ctx context.Context, originGroup string, env Envelope) (any, error) {
	targetGroup := env.TargetGroup
	if targetGroup == "" {
		targetGroup = originGroup
	}
	if !groups.Authorized(originGroup, targetGroup) {
		return nil, fmt.Errorf("ipc: group %q not authorized to act on %q", originGroup, targetGroup)
	}

	switch env.Action {
	case ActionMemoryUpsert:
		return d.memoryUpsert(ctx, targetGroup, env.Payload)
	case ActionMemoryForget:
		return d.memoryForget(ctx, targetGroup, env.Payload)
	case ActionMemoryList:
		return d.memoryList(ctx, targetGroup, env.Payload)
	case ActionMemorySearch:
		return d.memorySearch(ctx, targetGroup, env.Payload)
	case ActionMemoryStats:
		return d.mem.Stats(ctx, targetGroup)

	case ActionScheduleTask:
		return d.scheduleTask(ctx, targetGroup, env.Payload)
	case ActionPauseTask:
		return d.taskIDAction(ctx, env.Payload, d.schedule.Pause)
	case ActionResumeTask:
		return d.taskIDAction(ctx, env.Payload, d.schedule.Resume)
	case ActionCancelTask:
		return d.taskIDAction(ctx, env.Payload, d.schedule.Cancel)
	case ActionRunTask:
		return d.taskIDAction(ctx, env.Payload, d.schedule.RunNow)

	case ActionSetModel:
		return d.setModel(targetGroup, env.Payload)
	case ActionSetToolPolicy:
		return nil, fmt.Errorf("ipc: set_tool_policy not yet wired to a config store")
	case ActionSetBehavior:
		return nil, fmt.Errorf("ipc: set_behavior not yet wired to a config store")

	case ActionRegisterGroup:
		return d.registerGroup(env.Payload)
	case ActionRemoveGroup:
		return d.removeGroup(env.Payload)
	case ActionListGroups:
		return d.groupsReg.List(), nil

	case ActionEditMessage:
		return d.editMessage(ctx, env.Payload)
	case ActionDeleteMessage:
		return d.deleteMessage(ctx, env.Payload)

	case ActionSpawnSubagent:
		return d.spawnSubagent(targetGroup, env.Payload)
	case ActionSubagentStatus:
		return d.subagentStatus(env.Payload)
	case ActionSubagentResult:
		return d.subagentResult(env.Payload)

	case ActionGetConfig:
		if d.readConfig == nil {
			return map[string]any{}, nil
		}
		return d.readConfig(), nil

	default:
		return nil, fmt.Errorf("ipc: unknown action %q", env.Action)
	}
}

func (d *Dispatcher) memoryUpsert(ctx context.Context, group string, raw []byte) (any, error) {
	var payload struct {
		Items []memory.UpsertInput `json:"items"`
	}
	if err := decode(raw, &payload); err != nil {
		return nil, err
	}
	for i := range payload.Items {
		payload.Items[i].GroupFolder = group
	}
	return d.mem.Upsert(ctx, group, payload.Items)
}

func (d *Dispatcher) memoryForget(ctx context.Context, group string, raw []byte) (any, error) {
	var payload struct {
		IDs       []int64      `json:"ids"`
		Content   string       `json:"content"`
		Scope     memory.Scope `json:"scope"`
		SubjectID string       `json:"subject_id"`
	}
	if err := decode(raw, &payload); err != nil {
		return nil, err
	}
	if len(payload.IDs) > 0 {
		n, err := d.mem.ForgetByIDs(ctx, payload.IDs)
		return map[string]any{"forgotten": n}, err
	}
	n, err := d.mem.ForgetByIdentity(ctx, group, payload.Content, payload.Scope, payload.SubjectID)
	return map[string]any{"forgotten": n}, err
}

func (d *Dispatcher) memoryList(ctx context.Context, group string, raw []byte) (any, error) {
	var payload struct {
		Scope     memory.Scope   `json:"scope"`
		SubjectID string         `json:"subject_id"`
		Type      memory.ItemType `json:"type"`
	}
	if err := decode(raw, &payload); err != nil {
		return nil, err
	}
	return d.mem.List(ctx, group, payload.Scope, payload.SubjectID, payload.Type)
}

func (d *Dispatcher) memorySearch(ctx context.Context, group string, raw []byte) (any, error) {
	var payload struct {
		User       string `json:"user"`
		Query      string `json:"query"`
		MaxResults int    `json:"max_results"`
		MaxTokens  int    `json:"max_tokens"`
	}
	if err := decode(raw, &payload); err != nil {
		return nil, err
	}
	return d.mem.Recall(ctx, group, payload.User, payload.Query, payload.MaxResults, payload.MaxTokens, nil)
}

func (d *Dispatcher) scheduleTask(ctx context.Context, group string, raw []byte) (any, error) {
	var payload struct {
		schedule.Task
		ReplyAddress string `json:"reply_address"` // "platform:chatID:threadID"; binds the task to a chat thread for result delivery
	}
	if err := decode(raw, &payload); err != nil {
		return nil, err
	}
	t := payload.Task
	t.Group = group
	id, err := d.schedule.Create(ctx, t)
	if err != nil {
		return nil, err
	}
	if payload.ReplyAddress != "" && d.threads != nil {
		if berr := d.threads.Bind(id, payload.ReplyAddress); berr != nil {
			d.logger.Warn("failed to bind task thread", "task_id", id, "error", berr)
		}
	}
	return map[string]any{"id": id}, nil
}

func (d *Dispatcher) taskIDAction(ctx context.Context, raw []byte, fn func(context.Context, string) error) (any, error) {
	var payload struct {
		ID string `json:"id"`
	}
	if err := decode(raw, &payload); err != nil {
		return nil, err
	}
	if payload.ID == "" {
		return nil, fmt.Errorf("ipc: missing task id")
	}
	return nil, fn(ctx, payload.ID)
}

func (d *Dispatcher) setModel(group string, raw []byte) (any, error) {
	var payload struct {
		Scope string `json:"scope"` // "global" | "group" | "user"
		User  string `json:"user"`
		Model string `json:"model"`
	}
	if err := decode(raw, &payload); err != nil {
		return nil, err
	}
	switch payload.Scope {
	case "user":
		d.registry.SetUserOverride(payload.User, payload.Model)
	case "group":
		d.registry.SetGroupOverride(group, payload.Model)
	default:
		d.registry.SetGlobalOverride(payload.Model)
	}
	return nil, d.registry.Save()
}

func (d *Dispatcher) registerGroup(raw []byte) (any, error) {
	var g groups.Group
	if err := decode(raw, &g); err != nil {
		return nil, err
	}
	if g.CreatedAt.IsZero() {
		g.CreatedAt = time.Now().UTC()
	}
	return nil, d.groupsReg.Register(g)
}

func (d *Dispatcher) removeGroup(raw []byte) (any, error) {
	var payload struct {
		Name string `json:"name"`
	}
	if err := decode(raw, &payload); err != nil {
		return nil, err
	}
	return nil, d.groupsReg.Remove(payload.Name)
}

func (d *Dispatcher) editMessage(ctx context.Context, raw []byte) (any, error) {
	var payload struct {
		ChatID        string `json:"chat_id"`
		PlatformMsgID string `json:"platform_msg_id"`
		Text          string `json:"text"`
	}
	if err := decode(raw, &payload); err != nil {
		return nil, err
	}
	if d.editor == nil {
		return nil, fmt.Errorf("ipc: no message editor configured")
	}
	return nil, d.editor.EditMessage(ctx, payload.ChatID, payload.PlatformMsgID, payload.Text)
}

func (d *Dispatcher) deleteMessage(ctx context.Context, raw []byte) (any, error) {
	var payload struct {
		ChatID        string `json:"chat_id"`
		PlatformMsgID string `json:"platform_msg_id"`
	}
	if err := decode(raw, &payload); err != nil {
		return nil, err
	}
	if d.editor == nil {
		return nil, fmt.Errorf("ipc: no message editor configured")
	}
	return nil, d.editor.DeleteMessage(ctx, payload.ChatID, payload.PlatformMsgID)
}

func (d *Dispatcher) spawnSubagent(group string, raw []byte) (any, error) {
	var req sandbox.Request
	if err := decode(raw, &req); err != nil {
		return nil, err
	}
	id := d.subagents.Spawn(group, req)
	return map[string]any{"id": id}, nil
}

func (d *Dispatcher) subagentStatus(raw []byte) (any, error) {
	var payload struct {
		ID string `json:"id"`
	}
	if err := decode(raw, &payload); err != nil {
		return nil, err
	}
	status, err := d.subagents.Status(payload.ID)
	return map[string]any{"status": status}, err
}

func (d *Dispatcher) subagentResult(raw []byte) (any, error) {
	var payload struct {
		ID string `json:"id"`
	}
	if err := decode(raw, &payload); err != nil {
		return nil, err
	}
	return d.subagents.Result(payload.ID)
}
