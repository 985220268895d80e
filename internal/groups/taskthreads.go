package groups

import (
	"encoding/json"
	"fmt"
	"os"
	"sync"

	"github.com/dotclaw/host/internal/dbutil"
)

// TaskThreads maps scheduled-task IDs to the chat/thread that should
// receive their output, so a task created from a chat conversation keeps
// replying into that same thread across restarts.
type TaskThreads struct {
	mu      sync.RWMutex
	path    string
	threads map[string]string // task id -> "platform:chatID:threadID"
}

func OpenTaskThreads(path string) (*TaskThreads, error) {
	t := &TaskThreads{path: path, threads: make(map[string]string)}
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return t, nil
		}
		return nil, fmt.Errorf("read task threads: %w", err)
	}
	if err := json.Unmarshal(data, &t.threads); err != nil {
		return nil, fmt.Errorf("parse task threads: %w", err)
	}
	return t, nil
}

func (t *TaskThreads) persistLocked() error {
	body, err := json.MarshalIndent(t.threads, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal task threads: %w", err)
	}
	return dbutil.WriteFileAtomic(t.path, body, 0o644)
}

func Address(platform, chatID, threadID string) string {
	return platform + ":" + chatID + ":" + threadID
}

func (t *TaskThreads) Bind(taskID, address string) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.threads[taskID] = address
	return t.persistLocked()
}

func (t *TaskThreads) Lookup(taskID string) (string, bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	addr, ok := t.threads[taskID]
	return addr, ok
}

func (t *TaskThreads) Unbind(taskID string) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	delete(t.threads, taskID)
	return t.persistLocked()
}
