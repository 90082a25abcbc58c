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
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"symbiont/core/config"
	"symbiont/core/shared/logger"
	"symbiont/core/storage/journal"
)

// Tribunal arbitrates failed gate evaluations. Its rule is deterministic:
// an override is granted only when every failed gate missed its threshold
// by at most the configured margin AND the action offers both an appeal
// channel and an audit trail. Anything worse stands denied.
type Tribunal struct {
	mu      sync.RWMutex
	cfg     config.GatesConfig
	journal *journal.Journal
	log     *logger.Logger
	now     func() time.Time
}

// NewTribunal builds the tribunal with the same configuration the gate
// system uses, so margins are measured against identical thresholds.
func NewTribunal(cfg config.GatesConfig, j *journal.Journal) *Tribunal {
	return &Tribunal{
		cfg:     withDefaults(cfg),
		journal: j,
		log:     logger.New("tribunal"),
		now:     time.Now,
	}
}

// Reload swaps in a new margin and thresholds. Reviews in flight finish
// on the old values.
func (t *Tribunal) Reload(cfg config.GatesConfig) {
	cfg = withDefaults(cfg)
	t.mu.Lock()
	t.cfg = cfg
	t.mu.Unlock()
}

// Review produces a verdict for a failed evaluation. A cancelled context
// returns an error so the caller fails closed. Every verdict is
// journaled.
func (t *Tribunal) Review(ctx context.Context, action ActionContext, eval Evaluation) (*Verdict, error) {
	if err := ctx.Err(); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrNoVerdict, err)
	}
	if len(eval.Failed) == 0 {
		return nil, ErrNoFailedGates
	}

	t.mu.RLock()
	defer t.mu.RUnlock()

	v := &Verdict{
		RequestID:   action.RequestID,
		UserID:      action.UserID,
		FailedGates: append([]GateID(nil), eval.Failed...),
		Shortfalls:  make(map[GateID]float64, len(eval.Failed)),
		DecidedAt:   t.now().UTC(),
	}

	allNear := true
	for _, id := range eval.Failed {
		result, ok := eval.Result(id)
		if !ok {
			return nil, fmt.Errorf("%w: failed gate %s missing from evaluation", ErrNoVerdict, id)
		}
		shortfall := t.shortfall(id, action, result)
		v.Shortfalls[id] = shortfall
		if shortfall > t.cfg.TribunalMargin {
			allNear = false
		}
	}

	switch {
	case !allNear:
		v.Rationale = fmt.Sprintf("denied: %s missed by more than the %.2f margin", worstGate(v), t.cfg.TribunalMargin)
	case !action.AppealAvailable || !action.AuditTrail:
		v.Rationale = "denied: near miss but the action offers no appeal or audit trail"
	default:
		v.Approved = true
		v.Rationale = fmt.Sprintf("override: %s within the %.2f margin with appeal and audit available",
			strings.Join(gateNames(v.FailedGates), ", "), t.cfg.TribunalMargin)
	}

	decision := "denied"
	if v.Approved {
		decision = "override"
	}
	t.log.Info(action.UserID, action.RequestID, "tribunal verdict", map[string]interface{}{
		"decision":  decision,
		"failed":    gateNames(v.FailedGates),
		"rationale": v.Rationale,
	})
	if t.journal != nil {
		t.journal.Record(action.RequestID, action.UserID, journal.CategoryTribunalVerdict, "tribunal", decision, action.Query, map[string]interface{}{
			"failed":     gateNames(v.FailedGates),
			"shortfalls": shortfallMap(v.Shortfalls),
			"rationale":  v.Rationale,
		})
	}
	return v, nil
}

// shortfall measures how far a failed gate landed from its approval
// line. Autonomy approves on the agency delta, so its shortfall is
// measured there; the other gates are measured on score.
func (t *Tribunal) shortfall(id GateID, action ActionContext, result Result) float64 {
	switch id {
	case GateAutonomy:
		return t.cfg.AutonomyDeltaMin - action.DeltaAgency
	case GateHumanity:
		return t.cfg.HumanityThreshold - result.Score
	case GateOversight:
		return t.cfg.OversightThreshold - result.Score
	default:
		return t.cfg.AlignmentThreshold - result.Score
	}
}

func worstGate(v *Verdict) GateID {
	worst := v.FailedGates[0]
	for _, id := range v.FailedGates[1:] {
		if v.Shortfalls[id] > v.Shortfalls[worst] {
			worst = id
		}
	}
	return worst
}

func shortfallMap(in map[GateID]float64) map[string]float64 {
	out := make(map[string]float64, len(in))
	for k, val := range in {
		out[string(k)] = val
	}
	return out
}
