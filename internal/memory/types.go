// Package memory implements the long-term memory store (C2): a hybrid
// full-text + optional-vector item store backing contextual recall, with
// TTL expiry and group/user/global scoping.
package memory

import "time"

// Scope controls which requests may see an item.
type Scope string

const (
	ScopeUser   Scope = "user"
	ScopeGroup  Scope = "group"
	ScopeGlobal Scope = "global"
)

// ItemType classifies the kind of fact a memory item records.
type ItemType string

const (
	TypeIdentity     ItemType = "identity"
	TypePreference   ItemType = "preference"
	TypeFact         ItemType = "fact"
	TypeRelationship ItemType = "relationship"
	TypeProject      ItemType = "project"
	TypeTask         ItemType = "task"
	TypeNote         ItemType = "note"
	TypeArchive      ItemType = "archive"
)

// Item is one long-term memory record.
type Item struct {
	ID             int64
	GroupFolder    string
	Scope          Scope
	SubjectID      string
	Type           ItemType
	Content        string
	Normalized     string
	Importance     float64
	Confidence     float64
	Tags           []string
	ExpiresAt      *time.Time
	CreatedAt      time.Time
	UpdatedAt      time.Time
	LastAccessedAt time.Time
	Embedding      []float32
}

// UpsertInput is the caller-supplied payload for Upsert.
type UpsertInput struct {
	GroupFolder string
	Scope       Scope
	SubjectID   string
	Type        ItemType
	Content     string
	Importance  float64
	Confidence  float64
	Tags        []string
	ExpiresAt   *time.Time
	Embedding   []float32
}

// RecallResult is one scored hit from Recall.
type RecallResult struct {
	Item           Item
	BM25Norm       float64
	Recency        float64
	EmbeddingScore float64
	Score          float64
	EstTokens      int
}

const (
	// recencyHalfLifeDays matches spec's recency = exp(-ageDays/30).
	recencyHalfLifeDays = 30.0
	weightBM25          = 0.55
	weightImportance    = 0.30
	weightRecency       = 0.15
)
