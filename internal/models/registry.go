package models

import (
	"encoding/json"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/dotclaw/host/internal/dbutil"
)

// RegistryStore holds the persisted model registry (`config/model.json`)
// and resolves the effective model for a (group, user, prompt) request.
type RegistryStore struct {
	mu        sync.RWMutex
	path      string
	reg       Registry
	cooldowns *CooldownStore
}

// OpenRegistryStore loads the registry file at path (creating an empty
// default in memory if absent) and wires it to cooldowns for resolution.
func OpenRegistryStore(path string, cooldowns *CooldownStore) (*RegistryStore, error) {
	s := &RegistryStore{path: path, cooldowns: cooldowns}
	data, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		s.reg = Registry{Model: "default"}
		return s, nil
	}
	if err != nil {
		return nil, err
	}
	if err := json.Unmarshal(data, &s.reg); err != nil {
		return nil, err
	}
	return s, nil
}

// Cooldowns exposes the registry's cooldown store so callers can record a
// provider failure against the model that was actually dispatched.
func (s *RegistryStore) Cooldowns() *CooldownStore {
	return s.cooldowns
}

// Save persists the registry atomically.
func (s *RegistryStore) Save() error {
	s.mu.RLock()
	defer s.mu.RUnlock()
	s.reg.UpdatedAt = time.Now().UTC()
	data, err := json.MarshalIndent(s.reg, "", "  ")
	if err != nil {
		return err
	}
	return dbutil.WriteFileAtomic(s.path, data, 0o644)
}

// SetGlobalOverride, SetGroupOverride, SetUserOverride mutate the
// in-memory registry; callers are responsible for calling Save.
func (s *RegistryStore) SetGlobalOverride(model string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.reg.GlobalOverride = model
}

func (s *RegistryStore) SetGroupOverride(group, model string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.reg.PerGroup == nil {
		s.reg.PerGroup = map[string]string{}
	}
	s.reg.PerGroup[group] = model
}

func (s *RegistryStore) SetUserOverride(user, model string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.reg.PerUser == nil {
		s.reg.PerUser = map[string]string{}
	}
	s.reg.PerUser[user] = model
}

// allowed reports whether model is acceptable under a non-empty allowlist.
// An empty allowlist means "no restriction".
func (s *RegistryStore) allowed(model string) bool {
	if len(s.reg.Allowlist) == 0 {
		return true
	}
	for _, m := range s.reg.Allowlist {
		if m == model {
			return true
		}
	}
	return false
}

// cascade builds the ordered candidate list per spec.md §4.3's five-step
// resolution, most-specific last (so ResolveModel can walk it in reverse
// preference order while respecting allowlist/cooldown fallback).
func (s *RegistryStore) cascade(group, user, prompt string) []string {
	s.mu.RLock()
	defer s.mu.RUnlock()

	candidates := []string{s.reg.Model} // 1. base default
	if s.reg.GlobalOverride != "" {
		candidates = append(candidates, s.reg.GlobalOverride) // 2. global override
	}
	if m, ok := s.reg.PerGroup[group]; ok && m != "" {
		candidates = append(candidates, m) // 3. per-group
	}
	if m, ok := s.reg.PerUser[user]; ok && m != "" {
		candidates = append(candidates, m) // 4. per-user
	}

	// 5. routing rules: user rules before group rules; first match wins
	// within each scope (slice order = priority order).
	for _, rule := range s.reg.RoutingRules {
		if rule.Scope != "user" || rule.Owner != user {
			continue
		}
		if rule.Pattern != "" && strings.Contains(strings.ToLower(prompt), strings.ToLower(rule.Pattern)) {
			candidates = append(candidates, rule.Model)
			break
		}
	}
	for _, rule := range s.reg.RoutingRules {
		if rule.Scope != "group" || rule.Owner != group {
			continue
		}
		if rule.Pattern != "" && strings.Contains(strings.ToLower(prompt), strings.ToLower(rule.Pattern)) {
			candidates = append(candidates, rule.Model)
			break
		}
	}
	return candidates
}

// ResolveModel walks the cascade from most- to least-specific, skipping any
// candidate that fails the allowlist (falling back to the previous
// candidate) or is currently in cooldown (falling back down the cascade).
// Returns ErrAllModelsUnavailable if every candidate is cooling down.
func (s *RegistryStore) ResolveModel(group, user, prompt string) (string, error) {
	candidates := s.cascade(group, user, prompt)

	// Apply allowlist fallback first: walk forward, and whenever a
	// candidate is disallowed, replace it with the last allowed one seen.
	filtered := make([]string, 0, len(candidates))
	lastAllowed := ""
	for _, c := range candidates {
		if s.allowed(c) {
			lastAllowed = c
			filtered = append(filtered, c)
		} else if lastAllowed != "" {
			filtered = append(filtered, lastAllowed)
		}
	}
	if len(filtered) == 0 {
		return "", &ErrAllModelsUnavailable{}
	}

	// Most-specific candidate is last; prefer it, falling back toward the
	// base default when candidates are in cooldown.
	for i := len(filtered) - 1; i >= 0; i-- {
		candidate := filtered[i]
		if s.cooldowns == nil || !s.cooldowns.InCooldown(candidate) {
			return candidate, nil
		}
	}
	return "", &ErrAllModelsUnavailable{Candidates: filtered}
}
