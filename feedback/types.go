// Copyright 2025 Symbiont
// SPDX-License-Identifier: Apache-2.0

package feedback

import (
	"errors"
	"time"
)

var (
	ErrMissingSource      = errors.New("feedback: source component is required")
	ErrInvalidKind        = errors.New("feedback: invalid event kind")
	ErrSuggestionNotFound = errors.New("feedback: suggestion not found")
)

// EventKind classifies a feedback event.
type EventKind string

const (
	KindUserExplicitPositive EventKind = "user-explicit-positive"
	KindUserExplicitNegative EventKind = "user-explicit-negative"
	KindUserImplicitPositive EventKind = "user-implicit-positive"
	KindUserImplicitNegative EventKind = "user-implicit-negative"
	KindGateViolation        EventKind = "gate-violation"
	KindARIAlert             EventKind = "ari-alert"
	KindEDMAlert             EventKind = "edm-alert"
	KindPerformanceMetric    EventKind = "performance-metric"
)

// Valid reports whether k is a known event kind.
func (k EventKind) Valid() bool {
	switch k {
	case KindUserExplicitPositive, KindUserExplicitNegative,
		KindUserImplicitPositive, KindUserImplicitNegative,
		KindGateViolation, KindARIAlert, KindEDMAlert, KindPerformanceMetric:
		return true
	}
	return false
}

// Negative reports whether k counts against a component when deciding
// if it needs improvement. Performance metrics are neutral: they carry
// a rating but do not by themselves indicate a defect.
func (k EventKind) Negative() bool {
	switch k {
	case KindUserExplicitNegative, KindUserImplicitNegative,
		KindGateViolation, KindARIAlert, KindEDMAlert:
		return true
	}
	return false
}

// Event is a single piece of feedback about a component.
type Event struct {
	ID        string            `json:"id"`
	Timestamp time.Time         `json:"timestamp"`
	Kind      EventKind         `json:"kind"`
	Source    string            `json:"source"`
	RequestID string            `json:"request_id,omitempty"`
	UserID    string            `json:"user_id,omitempty"`
	Rating    *float64          `json:"rating,omitempty"`
	Text      string            `json:"text,omitempty"`
	Metadata  map[string]string `json:"metadata,omitempty"`
}

func (e *Event) clone() *Event {
	cp := *e
	if e.Rating != nil {
		r := *e.Rating
		cp.Rating = &r
	}
	if e.Metadata != nil {
		cp.Metadata = make(map[string]string, len(e.Metadata))
		for k, v := range e.Metadata {
			cp.Metadata[k] = v
		}
	}
	return &cp
}

// ActionKind is the kind of change an improvement suggestion proposes.
type ActionKind string

const (
	ActionPromptRefinement    ActionKind = "prompt-refinement"
	ActionParameterAdjustment ActionKind = "parameter-adjustment"
	ActionBehaviorChange      ActionKind = "behavior-change"
	ActionFineTune            ActionKind = "fine-tune"
	ActionFeatureDisable      ActionKind = "feature-disable"
	ActionHumanReview         ActionKind = "human-review-required"
)

// Suggestion is a proposed improvement derived from accumulated feedback.
type Suggestion struct {
	ID                 string     `json:"id"`
	Action             ActionKind `json:"action"`
	Component          string     `json:"component"`
	Description        string     `json:"description"`
	Rationale          string     `json:"rationale"`
	Confidence         float64    `json:"confidence"`
	SupportingFeedback []string   `json:"supporting_feedback"`
	Approved           bool       `json:"approved"`
	Implemented        bool       `json:"implemented"`
	CreatedAt          time.Time  `json:"created_at"`
}

func (s *Suggestion) clone() *Suggestion {
	cp := *s
	cp.SupportingFeedback = append([]string(nil), s.SupportingFeedback...)
	return &cp
}

// Snapshot summarizes the loop's state for observability surfaces.
type Snapshot struct {
	TotalEvents      int               `json:"total_events"`
	EventsByKind     map[EventKind]int `json:"events_by_kind"`
	TotalSuggestions int               `json:"total_suggestions"`
	PendingApproval  int               `json:"pending_approval"`
	Implemented      int               `json:"implemented"`
}
