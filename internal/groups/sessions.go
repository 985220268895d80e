package groups

import (
	"encoding/json"
	"fmt"
	"os"
	"sync"
	"time"

	"github.com/dotclaw/host/internal/dbutil"
)

// ChatCursor tracks the durable drain position for one chat, per spec.md
// §4.7: the last agent-authored message a drain has already accounted for,
// so a wake-recovery re-drain doesn't reprocess history.
type ChatCursor struct {
	ChatID             string    `json:"chat_id"`
	SessionID          string    `json:"session_id"` // opaque agent session token, upserted from a run's returned NewSessionID
	LastAgentTimestamp time.Time `json:"last_agent_timestamp"`
	LastAgentMessageID string    `json:"last_agent_message_id"`
}

// Sessions is the atomic-JSON-backed store of per-chat cursors and session
// bindings.
type Sessions struct {
	mu      sync.RWMutex
	path    string
	cursors map[string]ChatCursor
}

func OpenSessions(path string) (*Sessions, error) {
	s := &Sessions{path: path, cursors: make(map[string]ChatCursor)}
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return s, nil
		}
		return nil, fmt.Errorf("read sessions: %w", err)
	}
	if err := json.Unmarshal(data, &s.cursors); err != nil {
		return nil, fmt.Errorf("parse sessions: %w", err)
	}
	return s, nil
}

func (s *Sessions) persistLocked() error {
	body, err := json.MarshalIndent(s.cursors, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal sessions: %w", err)
	}
	return dbutil.WriteFileAtomic(s.path, body, 0o644)
}

// Get returns the cursor for chatID, if any.
func (s *Sessions) Get(chatID string) (ChatCursor, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	c, ok := s.cursors[chatID]
	return c, ok
}

// Advance persists c as the new cursor for its chat.
func (s *Sessions) Advance(c ChatCursor) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.cursors[c.ChatID] = c
	return s.persistLocked()
}

// ChatIDs returns every chat with a known cursor.
func (s *Sessions) ChatIDs() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	ids := make([]string, 0, len(s.cursors))
	for id := range s.cursors {
		ids = append(ids, id)
	}
	return ids
}
