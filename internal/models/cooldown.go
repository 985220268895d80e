package models

import (
	"encoding/json"
	"os"
	"sync"
	"time"

	"github.com/dotclaw/host/internal/dbutil"
)

// CooldownStore tracks per-model cooldowns, persisted atomically to a JSON
// file (write-temp + rename), matching the host-wide durable-JSON
// convention described in spec.md §6.
type CooldownStore struct {
	mu      sync.Mutex
	path    string
	entries map[string]CooldownEntry
}

// OpenCooldownStore loads the cooldown file at path, if present.
func OpenCooldownStore(path string) (*CooldownStore, error) {
	s := &CooldownStore{path: path, entries: map[string]CooldownEntry{}}
	data, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return s, nil
	}
	if err != nil {
		return nil, err
	}
	if len(data) == 0 {
		return s, nil
	}
	if err := json.Unmarshal(data, &s.entries); err != nil {
		return nil, err
	}
	return s, nil
}

// RecordFailure classifies err's category and applies/escalates a cooldown
// for modelID per spec.md §4.3's policy table. Categories with no cooldown
// are a no-op.
func (s *CooldownStore) RecordFailure(modelID string, category ErrorCategory) error {
	policy, ok := policies[category]
	if !ok || policy.none {
		return nil
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	now := time.Now().UTC()
	prev, existed := s.entries[modelID]
	level := 0
	if existed && prev.Category == category {
		level = prev.EscalationLevel + 1
	}

	var until time.Time
	if policy.indefinite {
		until = now.AddDate(100, 0, 0) // "indefinite until cleared by operator"
	} else {
		d := policy.initial
		if policy.multiplier > 0 && level > 0 {
			mult := 1.0
			for i := 0; i < level; i++ {
				mult *= policy.multiplier
			}
			d = time.Duration(float64(policy.initial) * mult)
			if policy.cap > 0 && d > policy.cap {
				d = policy.cap
			}
		}
		until = now.Add(d)
	}

	s.entries[modelID] = CooldownEntry{Until: until, Category: category, EscalationLevel: level}
	return s.persistLocked()
}

// Clear removes a model's cooldown (operator action for auth/non_retryable entries).
func (s *CooldownStore) Clear(modelID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.entries, modelID)
	return s.persistLocked()
}

// InCooldown reports whether modelID is currently cooling down.
func (s *CooldownStore) InCooldown(modelID string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	entry, ok := s.entries[modelID]
	if !ok {
		return false
	}
	return time.Now().UTC().Before(entry.Until)
}

// Snapshot returns a copy of the current cooldown map, for diagnostics.
func (s *CooldownStore) Snapshot() map[string]CooldownEntry {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make(map[string]CooldownEntry, len(s.entries))
	for k, v := range s.entries {
		out[k] = v
	}
	return out
}

func (s *CooldownStore) persistLocked() error {
	data, err := json.MarshalIndent(s.entries, "", "  ")
	if err != nil {
		return err
	}
	return dbutil.WriteFileAtomic(s.path, data, 0o644)
}
