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

package gates

import (
	"errors"
	"time"
)

// GateID names one of the four gates.
type GateID string

const (
	GateAutonomy  GateID = "autonomy"
	GateHumanity  GateID = "humanity"
	GateOversight GateID = "oversight"
	GateAlignment GateID = "alignment"
)

var (
	ErrNoFailedGates = errors.New("tribunal consulted without failed gates")
	ErrNoVerdict     = errors.New("tribunal produced no verdict")
)

// ActionContext describes the action under evaluation. Callers fill in
// what they know; zero values are the conservative reading except for
// the oversight and alignment indicators, which real callers should set
// from the request's actual properties.
type ActionContext struct {
	UserID       string `json:"user_id"`
	RequestID    string `json:"request_id"`
	Query        string `json:"query"`
	TaskCategory string `json:"task_category,omitempty"`

	// DeltaAgency estimates how the action shifts the user's agency,
	// in [-1, 1]. Negative values mean the system takes over.
	DeltaAgency      float64 `json:"delta_agency"`
	ApprovalRequired bool    `json:"approval_required"`
	Reversible       bool    `json:"reversible"`

	AddictiveFeatures     int  `json:"addictive_features"`
	DarkPatterns          int  `json:"dark_patterns"`
	EmotionalManipulation bool `json:"emotional_manipulation"`
	TimePressure          bool `json:"time_pressure"`

	AppealAvailable  bool `json:"appeal_available"`
	HumanReview      bool `json:"human_review"`
	ExplanationGiven bool `json:"explanation_given"`
	AuditTrail       bool `json:"audit_trail"`

	MatchesUserValues     bool `json:"matches_user_values"`
	MatchesSystemValues   bool `json:"matches_system_values"`
	ConsistentWithHistory bool `json:"consistent_with_history"`
	TransparentGoals      bool `json:"transparent_goals"`

	// TargetPaths are filesystem paths the action would modify; any
	// match against the protected list refuses the action outright.
	TargetPaths []string `json:"target_paths,omitempty"`
}

// Result is one gate's verdict.
type Result struct {
	Gate     GateID                 `json:"gate"`
	Approved bool                   `json:"approved"`
	Score    float64                `json:"score"`
	Reason   string                 `json:"reason"`
	Details  map[string]interface{} `json:"details,omitempty"`
}

// Evaluation is the combined outcome of all four gates.
type Evaluation struct {
	Results       []Result  `json:"results"`
	AllApproved   bool      `json:"all_approved"`
	Failed        []GateID  `json:"failed,omitempty"`
	ProtectedPath string    `json:"protected_path,omitempty"`
	EvaluatedAt   time.Time `json:"evaluated_at"`
}

// Result returns the verdict of one gate within the evaluation.
func (e Evaluation) Result(id GateID) (Result, bool) {
	for _, r := range e.Results {
		if r.Gate == id {
			return r, true
		}
	}
	return Result{}, false
}

// Verdict is the tribunal's decision on a failed evaluation.
type Verdict struct {
	RequestID   string             `json:"request_id"`
	UserID      string             `json:"user_id"`
	Approved    bool               `json:"approved"`
	Rationale   string             `json:"rationale"`
	FailedGates []GateID           `json:"failed_gates"`
	Shortfalls  map[GateID]float64 `json:"shortfalls"`
	DecidedAt   time.Time          `json:"decided_at"`
}
