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
	"fmt"
	"path"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"symbiont/core/config"
	"symbiont/core/shared/logger"
	"symbiont/core/storage/journal"
)

// System evaluates actions against the four gates and enforces the
// protected-path list.
type System struct {
	mu      sync.RWMutex
	cfg     config.GatesConfig
	journal *journal.Journal
	log     *logger.Logger
	now     func() time.Time
}

// withDefaults fills the zero-value thresholds shared by the gate
// system and the tribunal.
func withDefaults(cfg config.GatesConfig) config.GatesConfig {
	if cfg.HumanityThreshold == 0 {
		cfg.HumanityThreshold = 0.8
	}
	if cfg.OversightThreshold == 0 {
		cfg.OversightThreshold = 0.5
	}
	if cfg.AlignmentThreshold == 0 {
		cfg.AlignmentThreshold = 0.5
	}
	if cfg.TribunalMargin == 0 {
		cfg.TribunalMargin = 0.15
	}
	return cfg
}

// NewSystem builds the gate system. journal may be nil-safe (a no-op
// journal still records to the log).
func NewSystem(cfg config.GatesConfig, j *journal.Journal) *System {
	return &System{
		cfg:     withDefaults(cfg),
		journal: j,
		log:     logger.New("gates"),
		now:     time.Now,
	}
}

// Reload swaps in new thresholds and protected paths. Evaluations in
// flight finish on the old values.
func (s *System) Reload(cfg config.GatesConfig) {
	cfg = withDefaults(cfg)
	s.mu.Lock()
	s.cfg = cfg
	s.mu.Unlock()
}

// Evaluate runs the protected-path enforcer and then all four gates.
// The protected-path refusal is unconditional: no gate scores, no
// tribunal.
func (s *System) Evaluate(action ActionContext) Evaluation {
	s.mu.RLock()
	defer s.mu.RUnlock()

	eval := Evaluation{EvaluatedAt: s.now().UTC()}

	if hit, protected := s.protectedPathHit(action.TargetPaths); protected {
		eval.ProtectedPath = hit
		s.log.Warn(action.UserID, action.RequestID, "protected path refused", map[string]interface{}{"path": hit})
		s.record(action, journal.CategoryProtectedPath, "denied", map[string]interface{}{"path": hit})
		return eval
	}

	eval.Results = []Result{
		s.autonomy(action),
		s.humanity(action),
		s.oversight(action),
		s.alignment(action),
	}
	eval.AllApproved = true
	for _, r := range eval.Results {
		if !r.Approved {
			eval.AllApproved = false
			eval.Failed = append(eval.Failed, r.Gate)
		}
	}

	decision := "approved"
	if !eval.AllApproved {
		decision = "denied"
		s.log.Warn(action.UserID, action.RequestID, "gate evaluation failed", map[string]interface{}{
			"failed": gateNames(eval.Failed),
		})
	}
	s.record(action, journal.CategoryGateVerdict, decision, map[string]interface{}{
		"failed": gateNames(eval.Failed),
		"scores": scoreMap(eval.Results),
	})
	return eval
}

// autonomy scores how the action shifts the user's agency. Approval
// rides on the agency delta alone; the score folds in the mitigating
// structure around it.
func (s *System) autonomy(a ActionContext) Result {
	score := 0.5 + 0.3*a.DeltaAgency + 0.2*boolWeight(a.ApprovalRequired) + 0.1*boolWeight(a.Reversible)
	score = clamp01(score)
	approved := a.DeltaAgency >= s.cfg.AutonomyDeltaMin

	reason := fmt.Sprintf("agency delta %+.2f within tolerance %+.2f", a.DeltaAgency, s.cfg.AutonomyDeltaMin)
	if !approved {
		reason = fmt.Sprintf("agency delta %+.2f below tolerance %+.2f", a.DeltaAgency, s.cfg.AutonomyDeltaMin)
	}
	return Result{
		Gate:     GateAutonomy,
		Approved: approved,
		Score:    score,
		Reason:   reason,
		Details: map[string]interface{}{
			"delta_agency":      a.DeltaAgency,
			"approval_required": a.ApprovalRequired,
			"reversible":        a.Reversible,
		},
	}
}

// humanity penalizes engagement mechanics that work against the user.
func (s *System) humanity(a ActionContext) Result {
	score := 1.0 -
		0.15*float64(a.AddictiveFeatures) -
		0.2*float64(a.DarkPatterns) -
		0.25*boolWeight(a.EmotionalManipulation) -
		0.15*boolWeight(a.TimePressure)
	score = clamp01(score)
	approved := score >= s.cfg.HumanityThreshold

	reason := fmt.Sprintf("humanity score %.2f meets threshold %.2f", score, s.cfg.HumanityThreshold)
	if !approved {
		reason = fmt.Sprintf("humanity score %.2f below threshold %.2f", score, s.cfg.HumanityThreshold)
	}
	return Result{
		Gate:     GateHumanity,
		Approved: approved,
		Score:    score,
		Reason:   reason,
		Details: map[string]interface{}{
			"addictive_features":     a.AddictiveFeatures,
			"dark_patterns":          a.DarkPatterns,
			"emotional_manipulation": a.EmotionalManipulation,
			"time_pressure":          a.TimePressure,
		},
	}
}

// oversight sums the human-control indicators the action offers.
func (s *System) oversight(a ActionContext) Result {
	score := 0.3*boolWeight(a.AppealAvailable) +
		0.3*boolWeight(a.HumanReview) +
		0.2*boolWeight(a.ExplanationGiven) +
		0.2*boolWeight(a.AuditTrail)
	approved := score >= s.cfg.OversightThreshold

	reason := fmt.Sprintf("oversight score %.2f meets threshold %.2f", score, s.cfg.OversightThreshold)
	if !approved {
		reason = fmt.Sprintf("oversight score %.2f below threshold %.2f", score, s.cfg.OversightThreshold)
	}
	return Result{
		Gate:     GateOversight,
		Approved: approved,
		Score:    score,
		Reason:   reason,
		Details: map[string]interface{}{
			"appeal_available":  a.AppealAvailable,
			"human_review":      a.HumanReview,
			"explanation_given": a.ExplanationGiven,
			"audit_trail":       a.AuditTrail,
		},
	}
}

// alignment checks the action against user values, system values,
// history, and goal transparency.
func (s *System) alignment(a ActionContext) Result {
	score := 0.3*boolWeight(a.MatchesUserValues) +
		0.3*boolWeight(a.MatchesSystemValues) +
		0.2*boolWeight(a.ConsistentWithHistory) +
		0.2*boolWeight(a.TransparentGoals)
	approved := score >= s.cfg.AlignmentThreshold

	reason := fmt.Sprintf("alignment score %.2f meets threshold %.2f", score, s.cfg.AlignmentThreshold)
	if !approved {
		reason = fmt.Sprintf("alignment score %.2f below threshold %.2f", score, s.cfg.AlignmentThreshold)
	}
	return Result{
		Gate:     GateAlignment,
		Approved: approved,
		Score:    score,
		Reason:   reason,
		Details: map[string]interface{}{
			"matches_user_values":     a.MatchesUserValues,
			"matches_system_values":   a.MatchesSystemValues,
			"consistent_with_history": a.ConsistentWithHistory,
			"transparent_goals":       a.TransparentGoals,
		},
	}
}

// protectedPathHit matches target paths against the protected list.
// A list entry protects itself, everything beneath it, and anything its
// glob matches.
func (s *System) protectedPathHit(targets []string) (string, bool) {
	for _, target := range targets {
		cleaned := filepath.ToSlash(filepath.Clean(target))
		for _, protected := range s.cfg.ProtectedPaths {
			p := filepath.ToSlash(filepath.Clean(protected))
			if cleaned == p || strings.HasPrefix(cleaned, p+"/") {
				return target, true
			}
			if ok, err := path.Match(p, cleaned); err == nil && ok {
				return target, true
			}
		}
	}
	return "", false
}

func (s *System) record(a ActionContext, category journal.Category, decision string, detail map[string]interface{}) {
	if s.journal == nil {
		return
	}
	s.journal.Record(a.RequestID, a.UserID, category, "gates", decision, a.Query, detail)
}

func boolWeight(b bool) float64 {
	if b {
		return 1
	}
	return 0
}

func clamp01(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}

func gateNames(ids []GateID) []string {
	out := make([]string, len(ids))
	for i, id := range ids {
		out[i] = string(id)
	}
	return out
}

func scoreMap(results []Result) map[string]float64 {
	out := make(map[string]float64, len(results))
	for _, r := range results {
		out[string(r.Gate)] = r.Score
	}
	return out
}
