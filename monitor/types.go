// Copyright 2025 Symbiont
// SPDX-License-Identifier: Apache-2.0

package monitor

import (
	"errors"
	"time"

	"symbiont/core/feedback"
)

var (
	ErrMissingUser        = errors.New("monitor: user id is required")
	ErrInvalidSnapshot    = errors.New("monitor: snapshot field out of range")
	ErrNoSamples          = errors.New("monitor: no samples for user")
	ErrDebtNotFound       = errors.New("monitor: debt not found")
	ErrExportNotPermitted = errors.New("monitor: rdi export requires explicit opt-in")
)

// FeedbackSink receives alert events from the monitors. The feedback
// loop satisfies it.
type FeedbackSink interface {
	Submit(feedback.Event) (*feedback.Event, *feedback.Suggestion, error)
}

// feedbackComponent is the component alert feedback is charged to.
// Alerts indict the assistance pipeline, not the instrument that
// measured them.
const feedbackComponent = "orchestrator"

// AgencySnapshot is one immutable measurement of a request's effect on
// the user. BHIR is the benefit-to-human-input ratio.
type AgencySnapshot struct {
	Timestamp         time.Time         `json:"timestamp"`
	RequestID         string            `json:"request_id"`
	UserID            string            `json:"user_id"`
	TaskCategory      string            `json:"task_category,omitempty"`
	DeltaAgency       float64           `json:"delta_agency"`
	BHIR              float64           `json:"bhir"`
	TaskEfficacy      float64           `json:"task_efficacy"`
	PreSkill          float64           `json:"pre_skill"`
	PostSkill         float64           `json:"post_skill"`
	AIReliance        float64           `json:"ai_reliance"`
	AutonomyRetention float64           `json:"autonomy_retention"`
	Metadata          map[string]string `json:"metadata,omitempty"`
}

// SkillDelta is the skill movement this snapshot observed.
func (s *AgencySnapshot) SkillDelta() float64 {
	return s.PostSkill - s.PreSkill
}

func (s *AgencySnapshot) validate() error {
	if s.UserID == "" {
		return ErrMissingUser
	}
	switch {
	case s.DeltaAgency < -1 || s.DeltaAgency > 1:
		return errors.New("monitor: delta_agency outside [-1,1]")
	case s.BHIR < 0:
		return errors.New("monitor: bhir below 0")
	case s.TaskEfficacy < 0 || s.TaskEfficacy > 1:
		return errors.New("monitor: task_efficacy outside [0,1]")
	case s.PreSkill < 0 || s.PreSkill > 1:
		return errors.New("monitor: pre_skill outside [0,1]")
	case s.PostSkill < 0 || s.PostSkill > 1:
		return errors.New("monitor: post_skill outside [0,1]")
	case s.AIReliance < 0 || s.AIReliance > 1:
		return errors.New("monitor: ai_reliance outside [0,1]")
	case s.AutonomyRetention < 0 || s.AutonomyRetention > 1:
		return errors.New("monitor: autonomy_retention outside [0,1]")
	}
	return nil
}

// AlertKind names the threshold an agency snapshot crossed.
type AlertKind string

const (
	AlertAgencyDecline   AlertKind = "agency-decline"
	AlertLowBenefit      AlertKind = "low-benefit"
	AlertSkillRegression AlertKind = "skill-regression"
	AlertOverReliance    AlertKind = "over-reliance"
)

// Alert is a threshold crossing derived from a snapshot.
type Alert struct {
	Kind      AlertKind `json:"kind"`
	UserID    string    `json:"user_id"`
	RequestID string    `json:"request_id,omitempty"`
	Value     float64   `json:"value"`
	Threshold float64   `json:"threshold"`
	Message   string    `json:"message"`
	Timestamp time.Time `json:"timestamp"`
}

// Trend classifies the direction of a user's agency over a report
// window.
type Trend string

const (
	TrendIncreasing Trend = "increasing"
	TrendStable     Trend = "stable"
	TrendDecreasing Trend = "decreasing"
	TrendCritical   Trend = "critical"
)

// AgencyReport aggregates a user's snapshots.
type AgencyReport struct {
	UserID               string    `json:"user_id"`
	Samples              int       `json:"samples"`
	AvgDeltaAgency       float64   `json:"avg_delta_agency"`
	AvgBHIR              float64   `json:"avg_bhir"`
	AvgTaskEfficacy      float64   `json:"avg_task_efficacy"`
	AvgSkillDelta        float64   `json:"avg_skill_delta"`
	AvgAIReliance        float64   `json:"avg_ai_reliance"`
	AvgAutonomyRetention float64   `json:"avg_autonomy_retention"`
	Trend                Trend     `json:"trend"`
	GeneratedAt          time.Time `json:"generated_at"`
}

// DebtSeverity orders epistemic debts by how badly they need checking.
type DebtSeverity string

const (
	SeverityLow      DebtSeverity = "low"
	SeverityMedium   DebtSeverity = "medium"
	SeverityHigh     DebtSeverity = "high"
	SeverityCritical DebtSeverity = "critical"
)

func (s DebtSeverity) rank() int {
	switch s {
	case SeverityLow:
		return 0
	case SeverityMedium:
		return 1
	case SeverityHigh:
		return 2
	case SeverityCritical:
		return 3
	}
	return -1
}

// AtLeast reports whether s is at least as severe as min.
func (s DebtSeverity) AtLeast(min DebtSeverity) bool {
	return s.rank() >= min.rank()
}

// DebtKind classifies why a claim incurred debt.
type DebtKind string

const (
	DebtUnfalsifiable   DebtKind = "unfalsifiable"
	DebtMissingCitation DebtKind = "missing-citation"
	DebtVague           DebtKind = "vague"
	DebtOutdated        DebtKind = "outdated"
	DebtCircular        DebtKind = "circular"
)

// DebtStatus is the fact-check verdict on a claim.
type DebtStatus string

const (
	StatusPending      DebtStatus = "pending"
	StatusVerified     DebtStatus = "verified"
	StatusDisputed     DebtStatus = "disputed"
	StatusFalse        DebtStatus = "false"
	StatusUnverifiable DebtStatus = "unverifiable"
)

// Debt records one claim the model made without adequate support. Debts
// are append-only history: resolution mutates status fields, deletion
// never happens.
type Debt struct {
	ID               string       `json:"id"`
	UserID           string       `json:"user_id,omitempty"`
	RequestID        string       `json:"request_id,omitempty"`
	Claim            string       `json:"claim"`
	Context          string       `json:"context,omitempty"`
	Severity         DebtSeverity `json:"severity"`
	Kind             DebtKind     `json:"kind"`
	Status           DebtStatus   `json:"status"`
	Confidence       float64      `json:"confidence"`
	EvidenceSource   string       `json:"evidence_source,omitempty"`
	Resolved         bool         `json:"resolved"`
	ResolutionMethod string       `json:"resolution_method,omitempty"`
	ResolvedAt       *time.Time   `json:"resolved_at,omitempty"`
	DetectedAt       time.Time    `json:"detected_at"`
}

func (d *Debt) clone() *Debt {
	cp := *d
	if d.ResolvedAt != nil {
		t := *d.ResolvedAt
		cp.ResolvedAt = &t
	}
	return &cp
}

// FactCheckResult is the outcome of one cascade tier.
type FactCheckResult struct {
	Status     DebtStatus `json:"status"`
	Confidence float64    `json:"confidence"`
	Source     string     `json:"source"`
	Detail     string     `json:"detail,omitempty"`
}

// DriftBin buckets an RDI score.
type DriftBin string

const (
	BinAligned     DriftBin = "aligned"
	BinMinor       DriftBin = "minor"
	BinModerate    DriftBin = "moderate"
	BinSignificant DriftBin = "significant"
	BinCritical    DriftBin = "critical"
)

// binFor maps a drift score to its bin.
func binFor(score float64) DriftBin {
	switch {
	case score < 0.2:
		return BinAligned
	case score < 0.4:
		return BinMinor
	case score < 0.6:
		return BinModerate
	case score < 0.8:
		return BinSignificant
	default:
		return BinCritical
	}
}

// Assessment is one on-device reality-drift measurement. Values stay in
// process; only Export carries anything across the boundary.
type Assessment struct {
	Timestamp time.Time `json:"timestamp"`
	Semantic  float64   `json:"semantic"`
	Factual   float64   `json:"factual"`
	Logical   float64   `json:"logical"`
	Score     float64   `json:"score"`
	Bin       DriftBin  `json:"bin"`
}

// RDIExport is the only RDI shape allowed past the process boundary:
// a one-way-hashed user id plus aggregates.
type RDIExport struct {
	HashedUser  string           `json:"hashed_user"`
	Samples     int              `json:"samples"`
	MeanScore   float64          `json:"mean_score"`
	MaxScore    float64          `json:"max_score"`
	Bins        map[DriftBin]int `json:"bins"`
	GeneratedAt time.Time        `json:"generated_at"`
}

// SuiteSnapshot summarizes the monitors for observability surfaces. RDI
// appears only as global bin counts, never per-user values.
type SuiteSnapshot struct {
	ARIUsers        int                  `json:"ari_users"`
	ARISnapshots    int                  `json:"ari_snapshots"`
	ARIAlerts       int                  `json:"ari_alerts"`
	DebtsTotal      int                  `json:"debts_total"`
	DebtsOpen       int                  `json:"debts_open"`
	DebtsResolved   int                  `json:"debts_resolved"`
	DebtsBySeverity map[DebtSeverity]int `json:"debts_by_severity"`
	RDIAssessments  int                  `json:"rdi_assessments"`
	RDIBins         map[DriftBin]int     `json:"rdi_bins"`
}
