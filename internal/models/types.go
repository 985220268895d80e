// Package models implements the model registry and failover policy (C3):
// per-(group,user) model resolution cascades and per-model cooldowns driven
// by a classified error taxonomy.
package models

import "time"

// ErrorCategory is the taxonomy spec.md §7 classifies provider/transport
// failures into, feeding the cooldown policy of §4.3.
type ErrorCategory string

const (
	CategoryAuth            ErrorCategory = "auth"
	CategoryRateLimit       ErrorCategory = "rate_limit"
	CategoryTimeout         ErrorCategory = "timeout"
	CategoryOverloaded      ErrorCategory = "overloaded"
	CategoryTransport       ErrorCategory = "transport"
	CategoryInvalidResponse ErrorCategory = "invalid_response"
	CategoryContextOverflow ErrorCategory = "context_overflow"
	CategoryAborted         ErrorCategory = "aborted"
	CategoryNonRetryable    ErrorCategory = "non_retryable"
)

// RoutingRule matches a keyword pattern in the user prompt to a model
// override. User-scoped rules are evaluated before group-scoped rules;
// within a scope, rules are evaluated in slice order and the first match
// wins.
type RoutingRule struct {
	Pattern string `json:"pattern"`
	Model   string `json:"model"`
	Scope   string `json:"scope"` // "user" or "group"
	Owner   string `json:"owner"` // user id or group folder the rule applies to
}

// Registry is the persisted `config/model.json` document.
type Registry struct {
	Model         string            `json:"model"`
	Allowlist     []string          `json:"allowlist,omitempty"`
	Overrides     map[string]Tuning `json:"overrides,omitempty"`
	PerGroup      map[string]string `json:"per_group,omitempty"`
	PerUser       map[string]string `json:"per_user,omitempty"`
	RoutingRules  []RoutingRule     `json:"routing_rules,omitempty"`
	GlobalOverride string           `json:"global_override,omitempty"`
	UpdatedAt     time.Time         `json:"updated_at"`
}

// Tuning holds per-model generation overrides.
type Tuning struct {
	ContextWindow   int     `json:"context_window,omitempty"`
	MaxOutputTokens int     `json:"max_output_tokens,omitempty"`
	Temperature     float64 `json:"temperature,omitempty"`
}

// CooldownEntry is one row of the persisted `data/failover-cooldowns.json` map.
type CooldownEntry struct {
	Until           time.Time     `json:"until_iso"`
	Category        ErrorCategory `json:"category"`
	EscalationLevel int           `json:"escalation_level"`
}

// cooldownPolicy describes the initial duration and escalation rule for a
// category, per spec.md §4.3's table.
type cooldownPolicy struct {
	initial    time.Duration
	multiplier float64 // 0 means "no escalation"
	cap        time.Duration
	indefinite bool
	none       bool
}

var policies = map[ErrorCategory]cooldownPolicy{
	CategoryRateLimit:       {initial: 60 * time.Second},
	CategoryTimeout:         {initial: 15 * time.Minute, multiplier: 3, cap: 6 * time.Hour},
	CategoryOverloaded:      {initial: 2 * time.Minute, multiplier: 2, cap: 30 * time.Minute},
	CategoryAuth:            {indefinite: true},
	CategoryNonRetryable:    {indefinite: true},
	CategoryTransport:       {none: true},
	CategoryInvalidResponse: {none: true},
	CategoryContextOverflow: {none: true},
	CategoryAborted:         {none: true},
}

// ErrAllModelsUnavailable is returned by ResolveModel when every cascade
// candidate is currently in cooldown.
type ErrAllModelsUnavailable struct{ Candidates []string }

func (e *ErrAllModelsUnavailable) Error() string {
	return "all_models_unavailable"
}
