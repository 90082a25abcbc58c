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

package feedback

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"symbiont/core/config"
	"symbiont/core/shared/logger"
	"symbiont/core/storage"
)

const (
	feedbackDir   = "improvements/feedback"
	suggestionDir = "improvements/suggestions"

	// confidenceVolumeCap is the negative-event count at which the volume
	// term of the confidence formula saturates.
	confidenceVolumeCap = 20
)

// Applier applies an auto-implemented suggestion to its component.
type Applier func(Suggestion) error

// Loop collects feedback events and turns sustained negative signal
// into improvement suggestions.
type Loop struct {
	cfg   config.FeedbackConfig
	files *storage.Store
	log   *logger.Logger

	mu          sync.Mutex
	events      map[string]*Event
	byComponent map[string][]string
	suggestions map[string]*Suggestion
	appliers    map[string]Applier

	now func() time.Time
}

// NewLoop restores persisted events and suggestions from the store and
// returns a ready loop. A nil store keeps everything in memory.
func NewLoop(cfg config.FeedbackConfig, files *storage.Store) (*Loop, error) {
	if cfg.MinFeedback <= 0 {
		cfg.MinFeedback = 10
	}
	if cfg.NegativeRatio <= 0 {
		cfg.NegativeRatio = 0.3
	}
	if cfg.WindowDays <= 0 {
		cfg.WindowDays = 30
	}
	if cfg.AutoImplementThreshold <= 0 {
		cfg.AutoImplementThreshold = 0.9
	}
	l := &Loop{
		cfg:         cfg,
		files:       files,
		log:         logger.New("feedback"),
		events:      make(map[string]*Event),
		byComponent: make(map[string][]string),
		suggestions: make(map[string]*Suggestion),
		appliers:    make(map[string]Applier),
		now:         time.Now,
	}
	if err := l.load(); err != nil {
		return nil, err
	}
	return l, nil
}

func (l *Loop) load() error {
	if l.files == nil {
		return nil
	}
	names, err := l.files.List(feedbackDir)
	if err != nil {
		return fmt.Errorf("failed to list feedback events: %w", err)
	}
	for _, name := range names {
		var ev Event
		if err := l.files.ReadJSON(feedbackDir+"/"+name, &ev); err != nil {
			l.log.Warn("", "", "skipping unreadable feedback event", map[string]interface{}{
				"file":  name,
				"error": err.Error(),
			})
			continue
		}
		l.events[ev.ID] = &ev
		l.byComponent[ev.Source] = append(l.byComponent[ev.Source], ev.ID)
	}
	names, err = l.files.List(suggestionDir)
	if err != nil {
		return fmt.Errorf("failed to list suggestions: %w", err)
	}
	for _, name := range names {
		var s Suggestion
		if err := l.files.ReadJSON(suggestionDir+"/"+name, &s); err != nil {
			l.log.Warn("", "", "skipping unreadable suggestion", map[string]interface{}{
				"file":  name,
				"error": err.Error(),
			})
			continue
		}
		l.suggestions[s.ID] = &s
	}
	return nil
}

// RegisterApplier wires the function that carries out auto-implemented
// suggestions for a component. At most one applier per component. The
// applier runs inside the loop's lock and must not call back into it.
func (l *Loop) RegisterApplier(component string, fn Applier) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.appliers[component] = fn
}

// Submit records an event and re-evaluates its source component. The
// returned suggestion is non-nil when this event tipped the component
// over the improvement threshold.
func (l *Loop) Submit(ev Event) (*Event, *Suggestion, error) {
	if ev.Source == "" {
		return nil, nil, ErrMissingSource
	}
	if !ev.Kind.Valid() {
		return nil, nil, fmt.Errorf("%w: %q", ErrInvalidKind, ev.Kind)
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	if ev.ID == "" {
		ev.ID = uuid.NewString()
	}
	if ev.Timestamp.IsZero() {
		ev.Timestamp = l.now().UTC()
	}
	stored := ev.clone()
	l.events[stored.ID] = stored
	l.byComponent[stored.Source] = append(l.byComponent[stored.Source], stored.ID)
	if err := l.persistEvent(stored); err != nil {
		return nil, nil, err
	}

	sug, err := l.evaluateLocked(stored.Source)
	if err != nil {
		return nil, nil, err
	}
	return stored.clone(), sug, nil
}

// Evaluate re-runs the improvement decision for a component without
// submitting new feedback.
func (l *Loop) Evaluate(component string) (*Suggestion, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.evaluateLocked(component)
}

// evaluateLocked decides whether component has earned a suggestion. It
// returns nil when the evidence is insufficient and the existing
// suggestion when the same evidence was already evaluated.
func (l *Loop) evaluateLocked(component string) (*Suggestion, error) {
	cutoff := l.now().UTC().Add(-time.Duration(l.cfg.WindowDays) * 24 * time.Hour)

	var window []*Event
	for _, id := range l.byComponent[component] {
		ev, ok := l.events[id]
		if !ok || ev.Timestamp.Before(cutoff) {
			continue
		}
		window = append(window, ev)
	}
	if len(window) < l.cfg.MinFeedback {
		return nil, nil
	}

	var negatives []*Event
	for _, ev := range window {
		if ev.Kind.Negative() {
			negatives = append(negatives, ev)
		}
	}
	ratio := float64(len(negatives)) / float64(len(window))
	if ratio <= l.cfg.NegativeRatio {
		return nil, nil
	}

	action := dominantAction(negatives)
	ids := make([]string, 0, len(negatives))
	for _, ev := range negatives {
		ids = append(ids, ev.ID)
	}
	sort.Strings(ids)
	id := suggestionID(component, action, ids)
	if existing, ok := l.suggestions[id]; ok {
		return existing.clone(), nil
	}

	volume := float64(len(negatives)) / confidenceVolumeCap
	if volume > 1 {
		volume = 1
	}
	confidence := 0.7*ratio + 0.3*volume

	sug := &Suggestion{
		ID:          id,
		Action:      action,
		Component:   component,
		Description: describeAction(action, component),
		Rationale: fmt.Sprintf("%d of %d feedback events in the last %d days were negative (%.0f%%)",
			len(negatives), len(window), l.cfg.WindowDays, ratio*100),
		Confidence:         confidence,
		SupportingFeedback: ids,
		CreatedAt:          l.now().UTC(),
	}

	if confidence >= l.cfg.AutoImplementThreshold {
		sug.Approved = true
		sug.Implemented = true
		if fn, ok := l.appliers[component]; ok {
			if err := fn(*sug.clone()); err != nil {
				sug.Implemented = false
				l.log.Warn("", "", "auto-implement failed, suggestion left pending", map[string]interface{}{
					"suggestion": sug.ID,
					"component":  component,
					"error":      err.Error(),
				})
			}
		}
	}

	l.suggestions[sug.ID] = sug
	if err := l.persistSuggestion(sug); err != nil {
		return nil, err
	}
	l.log.Info("", "", "improvement suggestion created", map[string]interface{}{
		"suggestion":  sug.ID,
		"component":   component,
		"action":      string(sug.Action),
		"confidence":  sug.Confidence,
		"implemented": sug.Implemented,
	})
	return sug.clone(), nil
}

// Approve marks a pending suggestion approved and carries it out through
// the component's applier when one is registered.
func (l *Loop) Approve(id string) (*Suggestion, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	sug, ok := l.suggestions[id]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrSuggestionNotFound, id)
	}
	if sug.Implemented {
		return sug.clone(), nil
	}
	sug.Approved = true
	sug.Implemented = true
	if fn, ok := l.appliers[sug.Component]; ok {
		if err := fn(*sug.clone()); err != nil {
			sug.Implemented = false
			if perr := l.persistSuggestion(sug); perr != nil {
				return nil, perr
			}
			return nil, fmt.Errorf("failed to apply suggestion %s: %w", id, err)
		}
	}
	if err := l.persistSuggestion(sug); err != nil {
		return nil, err
	}
	return sug.clone(), nil
}

// Suggestions returns suggestions for a component, newest first. An
// empty component matches all. Implemented suggestions are included
// only when includeImplemented is set.
func (l *Loop) Suggestions(component string, includeImplemented bool) []Suggestion {
	l.mu.Lock()
	defer l.mu.Unlock()

	var out []Suggestion
	for _, s := range l.suggestions {
		if component != "" && s.Component != component {
			continue
		}
		if s.Implemented && !includeImplemented {
			continue
		}
		out = append(out, *s.clone())
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].CreatedAt.After(out[j].CreatedAt)
		}
		return out[i].ID < out[j].ID
	})
	return out
}

// Events returns the stored events for a component inside the rolling
// window, oldest first.
func (l *Loop) Events(component string) []Event {
	l.mu.Lock()
	defer l.mu.Unlock()

	cutoff := l.now().UTC().Add(-time.Duration(l.cfg.WindowDays) * 24 * time.Hour)
	var out []Event
	for _, id := range l.byComponent[component] {
		ev, ok := l.events[id]
		if !ok || ev.Timestamp.Before(cutoff) {
			continue
		}
		out = append(out, *ev.clone())
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Timestamp.Before(out[j].Timestamp) })
	return out
}

// Snapshot reports aggregate loop state.
func (l *Loop) Snapshot() Snapshot {
	l.mu.Lock()
	defer l.mu.Unlock()

	snap := Snapshot{
		TotalEvents:      len(l.events),
		EventsByKind:     make(map[EventKind]int),
		TotalSuggestions: len(l.suggestions),
	}
	for _, ev := range l.events {
		snap.EventsByKind[ev.Kind]++
	}
	for _, s := range l.suggestions {
		if s.Implemented {
			snap.Implemented++
		} else if !s.Approved {
			snap.PendingApproval++
		}
	}
	return snap
}

// Run re-evaluates every known component on the configured interval
// until ctx is cancelled. Evaluation failures are logged, not fatal.
func (l *Loop) Run(ctx context.Context) {
	interval := l.cfg.EvaluateInterval
	if interval <= 0 {
		interval = time.Minute
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			for _, component := range l.components() {
				if _, err := l.Evaluate(component); err != nil {
					l.log.Warn("", "", "periodic evaluation failed", map[string]interface{}{
						"component": component,
						"error":     err.Error(),
					})
				}
			}
		}
	}
}

func (l *Loop) components() []string {
	l.mu.Lock()
	defer l.mu.Unlock()
	out := make([]string, 0, len(l.byComponent))
	for c := range l.byComponent {
		out = append(out, c)
	}
	sort.Strings(out)
	return out
}

func (l *Loop) persistEvent(ev *Event) error {
	if l.files == nil {
		return nil
	}
	return l.files.WriteJSON(feedbackDir+"/"+ev.ID+".json", ev)
}

func (l *Loop) persistSuggestion(s *Suggestion) error {
	if l.files == nil {
		return nil
	}
	return l.files.WriteJSON(suggestionDir+"/"+s.ID+".json", s)
}

// dominantAction maps the majority alert kind among the negative
// evidence to an action. Gate violations outrank agency alerts, which
// outrank epistemic alerts on ties; plain negative ratings default to
// parameter adjustment.
func dominantAction(negatives []*Event) ActionKind {
	var gates, ari, edm int
	for _, ev := range negatives {
		switch ev.Kind {
		case KindGateViolation:
			gates++
		case KindARIAlert:
			ari++
		case KindEDMAlert:
			edm++
		}
	}
	switch {
	case gates > 0 && gates >= ari && gates >= edm:
		return ActionBehaviorChange
	case ari > 0 && ari >= edm:
		return ActionParameterAdjustment
	case edm > 0:
		return ActionPromptRefinement
	default:
		return ActionParameterAdjustment
	}
}

func describeAction(action ActionKind, component string) string {
	switch action {
	case ActionBehaviorChange:
		return fmt.Sprintf("Change %s behavior to stop triggering gate violations", component)
	case ActionPromptRefinement:
		return fmt.Sprintf("Refine %s prompting to reduce unsupported claims", component)
	case ActionParameterAdjustment:
		return fmt.Sprintf("Adjust %s parameters to address negative feedback", component)
	default:
		return fmt.Sprintf("Improve %s", component)
	}
}

// suggestionID derives a stable id from the component, action, and the
// sorted supporting evidence, so the same window yields the same
// suggestion no matter how often it is evaluated.
func suggestionID(component string, action ActionKind, sortedIDs []string) string {
	h := sha256.New()
	h.Write([]byte(component))
	h.Write([]byte{0})
	h.Write([]byte(action))
	h.Write([]byte{0})
	h.Write([]byte(strings.Join(sortedIDs, ",")))
	return hex.EncodeToString(h.Sum(nil))
}
