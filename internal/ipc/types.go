// Package ipc implements the file-based IPC dispatcher (C8): agents drop
// request/task/message files under a per-group directory tree and this
// package watches, authorizes, dispatches, and responds to them, per
// spec.md §4.8.
package ipc

import "encoding/json"

// Action names the full (non-exhaustive per spec.md §4.8, but exhaustively
// implemented here) catalogue this dispatcher understands.
type Action string

const (
	ActionMemoryUpsert Action = "memory_upsert"
	ActionMemoryForget Action = "memory_forget"
	ActionMemoryList   Action = "memory_list"
	ActionMemorySearch Action = "memory_search"
	ActionMemoryStats  Action = "memory_stats"

	ActionScheduleTask Action = "schedule_task"
	ActionPauseTask    Action = "pause_task"
	ActionResumeTask   Action = "resume_task"
	ActionCancelTask   Action = "cancel_task"
	ActionRunTask      Action = "run_task"

	ActionSetModel      Action = "set_model"
	ActionSetToolPolicy Action = "set_tool_policy"
	ActionSetBehavior   Action = "set_behavior"

	ActionRegisterGroup Action = "register_group"
	ActionRemoveGroup   Action = "remove_group"
	ActionListGroups    Action = "list_groups"

	ActionEditMessage   Action = "edit_message"
	ActionDeleteMessage Action = "delete_message"

	ActionSpawnSubagent   Action = "spawn_subagent"
	ActionSubagentStatus  Action = "subagent_status"
	ActionSubagentResult  Action = "subagent_result"

	ActionGetConfig Action = "get_config"
)

// Kind distinguishes the three watched sub-directories; only Requests
// carries a response back (Tasks and Messages are fire-and-forget).
type Kind string

const (
	KindRequest Kind = "requests"
	KindTask    Kind = "tasks"
	KindMessage Kind = "messages"
)

// Envelope is the on-disk shape of every dropped file, keyed loosely so
// that payload fields can be decoded per-action.
type Envelope struct {
	ID          string          `json:"id,omitempty"`
	Action      Action          `json:"action"`
	TargetGroup string          `json:"target_group,omitempty"` // cross-group, main only
	Payload     json.RawMessage `json:"payload,omitempty"`
}

// Response is written atomically to responses/<id>.json for every request
// that carries a non-empty ID.
type Response struct {
	ID     string `json:"id"`
	Status string `json:"status"` // "ok" | "error"
	Result any    `json:"result,omitempty"`
	Error  string `json:"error,omitempty"`
}

func decode(raw json.RawMessage, v any) error {
	if len(raw) == 0 {
		return nil
	}
	return json.Unmarshal(raw, v)
}
