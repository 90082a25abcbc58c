// Copyright 2025 Symbiont
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package memory

import (
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"time"
)

// Kind classifies what an entry remembers.
type Kind string

const (
	KindConversation Kind = "conversation"
	KindFact         Kind = "fact"
	KindPreference   Kind = "preference"
	KindSkill        Kind = "skill"
	KindGoal         Kind = "goal"
	KindContext      Kind = "context"
)

// Valid reports whether k is a known kind.
func (k Kind) Valid() bool {
	switch k {
	case KindConversation, KindFact, KindPreference, KindSkill, KindGoal, KindContext:
		return true
	}
	return false
}

// Priority orders entries for window construction and pruning.
type Priority string

const (
	PriorityCritical  Priority = "critical"
	PriorityHigh      Priority = "high"
	PriorityMedium    Priority = "medium"
	PriorityLow       Priority = "low"
	PriorityEphemeral Priority = "ephemeral"
)

// Valid reports whether p is a known priority.
func (p Priority) Valid() bool {
	switch p {
	case PriorityCritical, PriorityHigh, PriorityMedium, PriorityLow, PriorityEphemeral:
		return true
	}
	return false
}

// Weight maps the priority to its share of the composite relevance score.
func (p Priority) Weight() float64 {
	switch p {
	case PriorityCritical:
		return 1.0
	case PriorityHigh:
		return 0.8
	case PriorityMedium:
		return 0.5
	case PriorityLow:
		return 0.3
	case PriorityEphemeral:
		return 0.1
	default:
		return 0.5
	}
}

// atLeast reports whether p ranks at or above other.
func (p Priority) atLeast(other Priority) bool {
	return p.Weight() >= other.Weight()
}

var (
	ErrMissingUser     = errors.New("user id is required")
	ErrMissingContent  = errors.New("content is required")
	ErrInvalidKind     = errors.New("invalid memory kind")
	ErrInvalidPriority = errors.New("invalid memory priority")
	ErrEntryNotFound   = errors.New("memory entry not found")
	ErrThreadNotFound  = errors.New("thread not found")
	ErrWrongOwner      = errors.New("entry belongs to another user")
)

// Entry is one long-term memory record.
type Entry struct {
	ID           string     `json:"id"`
	UserID       string     `json:"user_id"`
	SessionID    string     `json:"session_id,omitempty"`
	Content      string     `json:"content"`
	Vector       []float64  `json:"vector,omitempty"`
	Tags         []string   `json:"tags,omitempty"`
	Kind         Kind       `json:"kind"`
	Priority     Priority   `json:"priority"`
	CreatedAt    time.Time  `json:"created_at"`
	AccessCount  int        `json:"access_count"`
	LastAccessed time.Time  `json:"last_accessed"`
	Relevance    float64    `json:"relevance"`
	ExpiresAt    *time.Time `json:"expires_at,omitempty"`
	ParentID     string     `json:"parent_id,omitempty"`
	Consolidated bool       `json:"consolidated"`
}

// EntryID derives the deterministic id for an entry. The same user
// storing the same content at the same instant always produces the same
// id, which makes replays idempotent.
func EntryID(userID, content string, createdAt time.Time) string {
	h := sha256.Sum256([]byte(userID + "|" + content + "|" + createdAt.UTC().Format(time.RFC3339Nano)))
	return hex.EncodeToString(h[:])
}

// Tokens estimates the entry's size in tokens (four characters each,
// rounded up).
func (e *Entry) Tokens() int {
	return (len(e.Content) + 3) / 4
}

// Expired reports whether the entry's TTL has passed.
func (e *Entry) Expired(now time.Time) bool {
	return e.ExpiresAt != nil && !now.Before(*e.ExpiresAt)
}

func (e *Entry) clone() Entry {
	out := *e
	out.Vector = append([]float64(nil), e.Vector...)
	out.Tags = append([]string(nil), e.Tags...)
	if e.ExpiresAt != nil {
		t := *e.ExpiresAt
		out.ExpiresAt = &t
	}
	return out
}

// Window is a token-bounded working set for one session.
type Window struct {
	UserID    string    `json:"user_id"`
	SessionID string    `json:"session_id,omitempty"`
	EntryIDs  []string  `json:"entry_ids"`
	Tokens    int       `json:"tokens"`
	TokenCap  int       `json:"token_cap"`
	PrunedIDs []string  `json:"pruned_ids,omitempty"`
	BuiltAt   time.Time `json:"built_at"`
}

// Thread links the memories created while one conversation ran.
type Thread struct {
	ID        string    `json:"id"`
	UserID    string    `json:"user_id"`
	SessionID string    `json:"session_id,omitempty"`
	Title     string    `json:"title,omitempty"`
	EntryIDs  []string  `json:"entry_ids"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// Stats summarizes one user's stored memories.
type Stats struct {
	UserID       string           `json:"user_id"`
	TotalEntries int              `json:"total_entries"`
	ByKind       map[Kind]int     `json:"by_kind"`
	ByPriority   map[Priority]int `json:"by_priority"`
	TotalTokens  int              `json:"total_tokens"`
	Consolidated int              `json:"consolidated"`
	Expired      int              `json:"expired"`
	AvgRelevance float64          `json:"avg_relevance"`
	OldestEntry  *time.Time       `json:"oldest_entry,omitempty"`
	NewestEntry  *time.Time       `json:"newest_entry,omitempty"`
}
