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

// Package privacy is the request-path privacy engine: PII detection with
// checksum and context validation, protective text transforms, per-user
// differential-privacy budgets, and the consent ledger.
package privacy

import (
	"fmt"

	"symbiont/core/config"
	"symbiont/core/shared/logger"
	"symbiont/core/storage"
	"symbiont/core/storage/journal"
)

// Engine bundles the privacy components behind the operations the pipeline
// calls.
type Engine struct {
	detector    *Detector
	transformer *Transformer
	budgets     *BudgetManager
	consent     *ConsentLedger
	journal     *journal.Journal

	actions       map[PIIType]Action
	defaultAction Action
	epsilonCost   float64
	log           *logger.Logger
}

// NewEngine wires the engine from configuration. Every PII type uses the
// configured default action until SetAction installs an override.
func NewEngine(cfg config.PrivacyConfig, store *storage.Store, jrnl *journal.Journal) (*Engine, error) {
	if !IsValidAction(Action(cfg.DefaultAction)) {
		return nil, fmt.Errorf("default action %q: %w", cfg.DefaultAction, ErrInvalidAction)
	}

	budgets, err := NewBudgetManager(store, cfg.MaxEpsilon, cfg.MaxQueries)
	if err != nil {
		return nil, err
	}
	consent, err := NewConsentLedger(store, jrnl)
	if err != nil {
		return nil, err
	}

	detector := NewDetector(DetectorConfig{
		ContextWindow:    50,
		MinConfidence:    cfg.MinConfidence,
		EnableValidation: true,
	})

	return &Engine{
		detector:      detector,
		transformer:   NewTransformer(),
		budgets:       budgets,
		consent:       consent,
		journal:       jrnl,
		actions:       make(map[PIIType]Action),
		defaultAction: Action(cfg.DefaultAction),
		epsilonCost:   cfg.EpsilonPerQuery,
		log:           logger.New("privacy"),
	}, nil
}

// SetAction overrides the transformation for one PII type. Unset types use
// the configured default action.
func (e *Engine) SetAction(t PIIType, a Action) error {
	if !IsValidAction(a) {
		return fmt.Errorf("action %q: %w", a, ErrInvalidAction)
	}
	e.actions[t] = a
	return nil
}

// Detect scans text for PII.
func (e *Engine) Detect(text string) []Detection {
	return e.detector.Detect(text)
}

// Apply detects PII and rewrites the text with the configured actions. The
// returned detections describe what was found; the applied list what was
// done about it. An audit entry records counts by type, never values.
func (e *Engine) Apply(requestID, userID, text string) (string, []Detection, []Applied, error) {
	detections := e.detector.Detect(text)
	if len(detections) == 0 {
		return text, nil, nil, nil
	}

	transformed, applied, err := e.transformer.Apply(text, detections, e.actions, e.defaultAction)
	if err != nil {
		if e.journal != nil {
			e.journal.Record(requestID, userID, journal.CategoryPrivacyAction, "pii", "blocked", text, map[string]interface{}{
				"detections": countByType(detections),
			})
		}
		return "", detections, nil, err
	}

	if e.journal != nil {
		e.journal.Record(requestID, userID, journal.CategoryPrivacyAction, "pii", "transformed", text, map[string]interface{}{
			"detections": countByType(detections),
			"applied":    len(applied),
		})
	}

	return transformed, detections, applied, nil
}

// CheckAndCharge charges one query's epsilon cost against the user's budget.
func (e *Engine) CheckAndCharge(userID string) (*Budget, error) {
	return e.budgets.CheckAndCharge(userID, e.epsilonCost)
}

// RefundCharge reverses a charge for a request cancelled before execution.
func (e *Engine) RefundCharge(userID string) error {
	return e.budgets.Refund(userID, e.epsilonCost)
}

// Budget returns the user's current budget snapshot.
func (e *Engine) Budget(userID string) *Budget {
	return e.budgets.Get(userID)
}

// RecordConsent stores a consent record for the user.
func (e *Engine) RecordConsent(requestID string, record ConsentRecord) (*ConsentRecord, error) {
	return e.consent.Record(requestID, record)
}

// Consent returns the user's consent record, creating the standard default
// on first access.
func (e *Engine) Consent(requestID, userID string) (*ConsentRecord, error) {
	return e.consent.Get(requestID, userID)
}

// ConsentAllows reports whether the user has granted the permission.
func (e *Engine) ConsentAllows(requestID, userID string, perm Permission) (bool, error) {
	return e.consent.Allows(requestID, userID, perm)
}

// Minimize strips data beyond what the user's consent level covers: none and
// minimal redact every detection, standard redacts high-sensitivity
// detections, full passes data through unchanged.
func (e *Engine) Minimize(requestID, userID, data string) (string, error) {
	record, err := e.consent.Get(requestID, userID)
	if err != nil {
		return "", err
	}

	var targets []Detection
	switch record.Level {
	case ConsentFull:
		return data, nil
	case ConsentStandard:
		targets = FilterBySensitivity(e.detector.Detect(data), SensitivityHigh)
	default: // none, minimal
		targets = e.detector.Detect(data)
	}

	if len(targets) == 0 {
		return data, nil
	}

	redactAll := map[PIIType]Action{}
	minimized, _, err := e.transformer.Apply(data, targets, redactAll, ActionRedact)
	if err != nil {
		return "", err
	}
	return minimized, nil
}

// Sanitize rewrites model output before it reaches the user. Block never
// applies to generated text, so any block mapping downgrades to redact: a
// response must always be deliverable.
func (e *Engine) Sanitize(requestID, userID, text string) (string, []Detection, error) {
	detections := e.detector.Detect(text)
	if len(detections) == 0 {
		return text, nil, nil
	}

	actions := make(map[PIIType]Action, len(e.actions))
	for t, a := range e.actions {
		if a == ActionBlock {
			a = ActionRedact
		}
		actions[t] = a
	}
	defaultAction := e.defaultAction
	if defaultAction == ActionBlock {
		defaultAction = ActionRedact
	}

	sanitized, applied, err := e.transformer.Apply(text, detections, actions, defaultAction)
	if err != nil {
		return "", detections, err
	}
	if e.journal != nil {
		e.journal.Record(requestID, userID, journal.CategoryPrivacyAction, "output", "sanitized", "", map[string]interface{}{
			"detections": countByType(detections),
			"applied":    len(applied),
		})
	}
	return sanitized, detections, nil
}

// Detokenize resolves a reversible token back to its original value.
func (e *Engine) Detokenize(token string) (string, error) {
	return e.transformer.Detokenize(token)
}

// Snapshot is the aggregate state of the engine for status surfaces:
// totals across users, never per-user values.
type Snapshot struct {
	BudgetUsers     int            `json:"budget_users"`
	BudgetsExceeded int            `json:"budgets_exceeded"`
	EpsilonSpent    float64        `json:"epsilon_spent"`
	QueriesCharged  int            `json:"queries_charged"`
	ConsentUsers    int            `json:"consent_users"`
	ConsentByLevel  map[string]int `json:"consent_by_level"`
}

// Snapshot aggregates budget spend and consent levels across all users.
func (e *Engine) Snapshot() Snapshot {
	snap := Snapshot{ConsentByLevel: make(map[string]int)}
	e.budgets.aggregate(&snap)
	e.consent.aggregate(&snap)
	return snap
}

func countByType(detections []Detection) map[string]int {
	counts := make(map[string]int, len(detections))
	for _, d := range detections {
		counts[string(d.Type)]++
	}
	return counts
}
