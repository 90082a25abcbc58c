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

package orchestrator

import (
	"errors"
	"time"

	"symbiont/core/gates"
	"symbiont/core/llm"
	"symbiont/core/memory"
	"symbiont/core/monitor"
	"symbiont/core/privacy"
	"symbiont/core/router"
)

var (
	ErrMissingUser = errors.New("orchestrator: user id is required")
	ErrEmptyQuery  = errors.New("orchestrator: query is required")
)

// Stage identifies one step of the pipeline. The two terminal markers,
// StageResponse and StageCancelled, never run work of their own.
type Stage string

const (
	StageIntake              Stage = "intake"
	StagePIIDetection        Stage = "pii-detection"
	StageContextRetrieval    Stage = "context-retrieval"
	StageGateEvaluation      Stage = "gate-evaluation"
	StageModelSelection      Stage = "model-selection"
	StageExecution           Stage = "execution"
	StageResponseValidation  Stage = "response-validation"
	StageMonitoring          Stage = "monitoring"
	StageContextUpdate       Stage = "context-update"
	StagePerformanceTracking Stage = "performance-tracking"
	StageFeedback            Stage = "feedback"

	// StageResponse marks a request that completed every stage.
	StageResponse Stage = "response"
	// StageCancelled marks a request aborted by upstream cancellation.
	StageCancelled Stage = "cancelled"
)

// rank orders the stages so stage_completed can be checked for
// monotonic advancement. Unknown stages rank below everything.
func (s Stage) rank() int {
	switch s {
	case StageIntake:
		return 1
	case StagePIIDetection:
		return 2
	case StageContextRetrieval:
		return 3
	case StageGateEvaluation:
		return 4
	case StageModelSelection:
		return 5
	case StageExecution:
		return 6
	case StageResponseValidation:
		return 7
	case StageMonitoring:
		return 8
	case StageContextUpdate:
		return 9
	case StagePerformanceTracking:
		return 10
	case StageFeedback:
		return 11
	case StageResponse, StageCancelled:
		return 12
	}
	return 0
}

// ErrorKind classifies why a request failed. The set is closed; callers
// branch on it to decide whether a retry with softer requirements could
// succeed.
type ErrorKind string

const (
	KindBudgetExceeded     ErrorKind = "privacy-budget-exceeded"
	KindGateBlocked        ErrorKind = "gate-blocked"
	KindTribunalDenied     ErrorKind = "tribunal-denied"
	KindModelFilteredEmpty ErrorKind = "model-filtered-empty"
	KindExecutionFailed    ErrorKind = "execution-failed"
	KindCancelled          ErrorKind = "cancelled"
	KindInternal           ErrorKind = "internal-invariant-violation"
)

// StageRecord is the per-stage entry on a Request's timeline.
type StageRecord struct {
	Stage       Stage                  `json:"stage"`
	StartedAt   time.Time              `json:"started_at"`
	CompletedAt time.Time              `json:"completed_at"`
	DurationMS  float64                `json:"duration_ms"`
	Error       string                 `json:"error,omitempty"`
	Detail      map[string]interface{} `json:"detail,omitempty"`
}

// Request is the full record of one trip through the pipeline. It is
// mutated only by the pipeline that owns it and frozen once a terminal
// stage is reached; readers obtained through the pipeline always see the
// frozen form.
type Request struct {
	ID           string `json:"id"`
	UserID       string `json:"user_id"`
	SessionID    string `json:"session_id,omitempty"`
	TaskCategory string `json:"task_category,omitempty"`

	// Query is the text as the user sent it; ProcessedQuery is the text
	// after privacy transformation, which is what left the process.
	Query          string `json:"query"`
	ProcessedQuery string `json:"processed_query,omitempty"`

	StageCompleted Stage         `json:"stage_completed"`
	Stages         []StageRecord `json:"stages"`

	Success   bool      `json:"success"`
	ErrorKind ErrorKind `json:"error_kind,omitempty"`
	Error     string    `json:"error,omitempty"`

	// Detections cover the user's input only; output detections stay in
	// the response-validation stage detail.
	Detections []privacy.Detection `json:"detections,omitempty"`
	Window     *memory.Window      `json:"window,omitempty"`
	Evaluation *gates.Evaluation   `json:"evaluation,omitempty"`
	Verdict    *gates.Verdict      `json:"verdict,omitempty"`
	Selection  *router.Selection   `json:"selection,omitempty"`

	Provider      llm.ProviderID `json:"provider,omitempty"`
	Model         string         `json:"model,omitempty"`
	ModelResponse string         `json:"model_response,omitempty"`
	CostUSD       float64        `json:"cost_usd"`
	InputTokens   int            `json:"input_tokens,omitempty"`
	OutputTokens  int            `json:"output_tokens,omitempty"`

	Alerts []monitor.Alert `json:"alerts,omitempty"`
	Debts  []monitor.Debt  `json:"debts,omitempty"`

	StartedAt   time.Time `json:"started_at"`
	CompletedAt time.Time `json:"completed_at"`
}

// advance records a completed stage and enforces monotonic ordering.
// The pipeline loop makes regression impossible; the guard exists so a
// future refactoring that breaks the ordering fails loudly instead of
// corrupting records.
func (r *Request) advance(rec StageRecord) error {
	if r.StageCompleted != "" && rec.Stage.rank() <= r.StageCompleted.rank() {
		return errors.New("orchestrator: stage_completed must advance monotonically")
	}
	r.StageCompleted = rec.Stage
	r.Stages = append(r.Stages, rec)
	return nil
}

// ProcessInput is everything a caller supplies to Process. UserID and
// Query are required; the rest defaults to a safe reading of an ordinary
// assistance request.
type ProcessInput struct {
	UserID       string `json:"user_id"`
	SessionID    string `json:"session_id,omitempty"`
	Query        string `json:"query"`
	TaskCategory string `json:"task_category,omitempty"`

	// Requirements steer model selection. Zero values mean a balanced
	// goal at moderate complexity.
	Requirements router.Requirements `json:"requirements,omitempty"`

	// ContextIDs force specific memories into the context window instead
	// of ranking the session's entries.
	ContextIDs []string `json:"context_ids,omitempty"`

	// Action describes the request to the gate system. When nil the
	// request is treated as a reversible, appealable, transparent
	// assistance action; a caller that provides one must attest every
	// property itself, since unset booleans read as the conservative
	// value.
	Action *gates.ActionContext `json:"action,omitempty"`

	// Agency is the caller's estimate of how this exchange affects the
	// user, fed to the agency monitor. Nil means the neutral estimate.
	Agency *AgencyInput `json:"agency,omitempty"`
}

// AgencyInput mirrors the measurable fields of an agency snapshot.
type AgencyInput struct {
	DeltaAgency       float64 `json:"delta_agency"`
	BHIR              float64 `json:"bhir"`
	TaskEfficacy      float64 `json:"task_efficacy"`
	PreSkill          float64 `json:"pre_skill"`
	PostSkill         float64 `json:"post_skill"`
	AIReliance        float64 `json:"ai_reliance"`
	AutonomyRetention float64 `json:"autonomy_retention"`
}

// neutralAgency is the estimate used when the caller provides none: a
// small agency gain, benefit proportional to input, and no skill
// movement.
func neutralAgency() AgencyInput {
	return AgencyInput{
		DeltaAgency:       0.05,
		BHIR:              1.0,
		TaskEfficacy:      0.7,
		PreSkill:          0.5,
		PostSkill:         0.5,
		AIReliance:        0.5,
		AutonomyRetention: 0.8,
	}
}

// defaultActionContext describes an ordinary assistance request to the
// gate system: reversible, appealable, explained, audited, and aligned.
// Human review and pre-approval stay false; with the default thresholds
// the oversight gate still clears on the other indicators.
func defaultActionContext(userID, requestID, query, taskCategory string) gates.ActionContext {
	return gates.ActionContext{
		UserID:                userID,
		RequestID:             requestID,
		Query:                 query,
		TaskCategory:          taskCategory,
		DeltaAgency:           0.05,
		Reversible:            true,
		AppealAvailable:       true,
		ExplanationGiven:      true,
		AuditTrail:            true,
		MatchesUserValues:     true,
		MatchesSystemValues:   true,
		ConsistentWithHistory: true,
		TransparentGoals:      true,
	}
}
