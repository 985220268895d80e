package main

import (
	"context"
	"fmt"
	"strings"
	"sync"

	"github.com/dotclaw/host/internal/groups"
	"github.com/dotclaw/host/internal/pipeline"
	"github.com/dotclaw/host/internal/sandbox"
	"github.com/dotclaw/host/internal/schedule"
)

// chatAdapter is the subset of a channels.Channel implementation the
// pipeline and IPC dispatcher need for outbound delivery and edit/delete,
// satisfied by *channels.TelegramChannel and *channels.DiscordChannel via
// duck typing (see internal/channels' package doc for why it can't import
// pipeline/ipc directly, and vice versa).
type chatAdapter interface {
	Name() string
	Deliver(ctx context.Context, chatID, threadID, text string) error
	EditMessage(ctx context.Context, chatID, platformMsgID, newText string) error
	DeleteMessage(ctx context.Context, chatID, platformMsgID string) error
}

// channelRegistryT resolves a chat_id (namespaced "platform:identifier",
// per SPEC_FULL.md §6) back to the adapter that owns it, and supplies the
// pipeline.Config/ipc.Config function hooks that route through it. Every
// running daemon constructs exactly one of these.
type channelRegistryT struct {
	adapters map[string]chatAdapter // keyed by platform prefix, e.g. "telegram"
	group    string

	mu             sync.RWMutex
	toolPolicy     map[string]any
	behaviorConfig map[string]any
}

// setPolicy swaps in a freshly reloaded tool policy / behavior config,
// called from the config file watcher loop in main.go on every reload event.
func (r *channelRegistryT) setPolicy(toolPolicy, behaviorConfig map[string]any) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.toolPolicy = toolPolicy
	r.behaviorConfig = behaviorConfig
}

// currentPolicy returns the most recently reloaded tool policy and behavior
// config, for the IPC dispatcher's get_config introspection action.
func (r *channelRegistryT) currentPolicy() (toolPolicy, behaviorConfig map[string]any) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.toolPolicy, r.behaviorConfig
}

func (r *channelRegistryT) register(a chatAdapter) {
	if r.adapters == nil {
		r.adapters = make(map[string]chatAdapter)
	}
	r.adapters[a.Name()] = a
}

func platformOf(chatID string) string {
	i := strings.Index(chatID, ":")
	if i < 0 {
		return ""
	}
	return chatID[:i]
}

func (r *channelRegistryT) resolve(chatID string) (chatAdapter, error) {
	a, ok := r.adapters[platformOf(chatID)]
	if !ok {
		return nil, fmt.Errorf("no channel adapter registered for chat_id %q", chatID)
	}
	return a, nil
}

func (r *channelRegistryT) deliver(ctx context.Context, chatID, threadID, text string) error {
	a, err := r.resolve(chatID)
	if err != nil {
		return err
	}
	return a.Deliver(ctx, chatID, threadID, text)
}

// EditMessage and DeleteMessage implement ipc.MessageEditor by routing to
// whichever adapter owns chatID.
func (r *channelRegistryT) EditMessage(ctx context.Context, chatID, platformMsgID, newText string) error {
	a, err := r.resolve(chatID)
	if err != nil {
		return err
	}
	return a.EditMessage(ctx, chatID, platformMsgID, newText)
}

func (r *channelRegistryT) DeleteMessage(ctx context.Context, chatID, platformMsgID string) error {
	a, err := r.resolve(chatID)
	if err != nil {
		return err
	}
	return a.DeleteMessage(ctx, chatID, platformMsgID)
}

// attachments always returns nil: no adapter currently fetches platform
// attachment bytes ahead of batch composition (Telegram/Discord file-API
// downloads are unimplemented), so pending attachments are simply absent
// rather than looked up from a store that doesn't exist yet.
func (r *channelRegistryT) attachments(platformMsgID string) []pipeline.Attachment {
	return nil
}

// binding reconstructs the ChatBinding a drain needs purely from the
// chat_id's platform prefix, since every adapter in this process is bound
// to a single fixed group at construction (multi-group routing per
// adapter is left for a future config format revision).
func (r *channelRegistryT) binding(chatID string) (pipeline.ChatBinding, bool) {
	platform := platformOf(chatID)
	if _, ok := r.adapters[platform]; !ok {
		return pipeline.ChatBinding{}, false
	}
	r.mu.RLock()
	toolPolicy, behaviorConfig := r.toolPolicy, r.behaviorConfig
	r.mu.RUnlock()
	return pipeline.ChatBinding{
		Group:          r.group,
		Provider:       platform,
		SessionID:      chatID,
		Channel:        sandbox.ChannelMetadata{Platform: platform, ChatID: chatID},
		ToolPolicy:     toolPolicy,
		BehaviorConfig: behaviorConfig,
		RecallConfig:   pipeline.RecallConfig{MaxResults: 20, MaxTokens: 2000},
		TimeoutMs:      120_000,
	}, true
}

// scheduledRunFunc adapts an orchestrator into a schedule.RunFunc that also
// delivers a completed task's textual result back into whichever chat
// thread created it, via the address taskThreads.Bind recorded at
// schedule-task-creation time (ipc.go's schedule_task handler). Tasks with
// no bound thread (created outside a chat context) run silently, same as
// schedule.SandboxRunFunc.
func scheduledRunFunc(orch *sandbox.Orchestrator, threads *groups.TaskThreads, registry *channelRegistryT) schedule.RunFunc {
	return func(ctx context.Context, t schedule.Task) (schedule.RunResult, error) {
		resp, err := orch.RunForGroup(ctx, sandbox.Request{
			TraceID:   t.ID,
			SessionID: t.SessionID,
			Prompt:    t.Prompt,
		}, t.Group, nil)
		if err != nil {
			return schedule.RunResult{}, err
		}
		if resp.Status == sandbox.ResponseError {
			return schedule.RunResult{}, fmt.Errorf("sandbox run failed: %s", resp.Error)
		}
		result := schedule.RunResult{NewSessionID: resp.NewSessionID}
		if resp.Result != nil {
			result.Text = *resp.Result
		}

		if addr, ok := threads.Lookup(t.ID); ok {
			platform, chatID, threadID, perr := splitAddress(addr)
			if perr != nil {
				return result, nil
			}
			_ = registry.deliver(ctx, platform+":"+chatID, threadID, result.Text)
		}
		return result, nil
	}
}

func splitAddress(addr string) (platform, chatID, threadID string, err error) {
	parts := strings.SplitN(addr, ":", 3)
	if len(parts) != 3 {
		return "", "", "", fmt.Errorf("malformed task thread address %q", addr)
	}
	return parts[0], parts[1], parts[2], nil
}
