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

package monitor

import (
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"symbiont/core/config"
	"symbiont/core/events"
	"symbiont/core/feedback"
	"symbiont/core/shared/logger"
	"symbiont/core/storage"
)

const ariDir = "ari"

// ARI is the agency-retention instrument. Snapshots are append-only;
// alerts fire on threshold crossings and feed the improvement loop.
type ARI struct {
	cfg   config.MonitorConfig
	files *storage.Store
	bus   *events.Bus
	sink  FeedbackSink
	log   *logger.Logger

	mu         sync.Mutex
	byUser     map[string][]*AgencySnapshot
	alertCount int

	now func() time.Time
}

// NewARI restores persisted snapshots and returns a ready instrument.
// bus and sink may be nil; alerts are then only logged.
func NewARI(cfg config.MonitorConfig, files *storage.Store, bus *events.Bus, sink FeedbackSink) (*ARI, error) {
	a := &ARI{
		cfg:    cfg,
		files:  files,
		bus:    bus,
		sink:   sink,
		log:    logger.New("monitor.ari"),
		byUser: make(map[string][]*AgencySnapshot),
		now:    time.Now,
	}
	if err := a.load(); err != nil {
		return nil, err
	}
	return a, nil
}

// Reload swaps in new alert thresholds. Recorded snapshots keep the
// alerts they already raised.
func (a *ARI) Reload(cfg config.MonitorConfig) {
	a.mu.Lock()
	a.cfg = cfg
	a.mu.Unlock()
}

func (a *ARI) load() error {
	if a.files == nil {
		return nil
	}
	names, err := a.files.List(ariDir)
	if err != nil {
		return fmt.Errorf("failed to list agency snapshots: %w", err)
	}
	for _, name := range names {
		var snap AgencySnapshot
		if err := a.files.ReadJSON(ariDir+"/"+name, &snap); err != nil {
			a.log.Warn("", "", "skipping unreadable agency snapshot", map[string]interface{}{
				"file":  name,
				"error": err.Error(),
			})
			continue
		}
		a.byUser[snap.UserID] = append(a.byUser[snap.UserID], &snap)
	}
	for _, snaps := range a.byUser {
		sort.Slice(snaps, func(i, j int) bool {
			return snaps[i].Timestamp.Before(snaps[j].Timestamp)
		})
	}
	return nil
}

// Record validates and appends a snapshot, persists it, and returns any
// alerts it raised. Alert delivery failures are logged, never returned:
// measurement must not fail the request being measured.
func (a *ARI) Record(snap AgencySnapshot) (*AgencySnapshot, []Alert, error) {
	if err := snap.validate(); err != nil {
		if errors.Is(err, ErrMissingUser) {
			return nil, nil, err
		}
		return nil, nil, fmt.Errorf("%w: %v", ErrInvalidSnapshot, err)
	}

	a.mu.Lock()
	defer a.mu.Unlock()

	if snap.Timestamp.IsZero() {
		snap.Timestamp = a.now().UTC()
	}
	stored := snap
	a.byUser[stored.UserID] = append(a.byUser[stored.UserID], &stored)
	if a.files != nil {
		if err := a.files.WriteJSON(snapshotPath(&stored), &stored); err != nil {
			return nil, nil, err
		}
	}

	alerts := a.alertsFor(&stored)
	a.alertCount += len(alerts)
	for _, alert := range alerts {
		a.dispatch(alert)
	}
	return &stored, alerts, nil
}

// snapshotPath builds the append-only record name. Colons in the ISO
// timestamp are unsafe on some filesystems and get replaced.
func snapshotPath(s *AgencySnapshot) string {
	iso := strings.ReplaceAll(s.Timestamp.UTC().Format(time.RFC3339Nano), ":", "-")
	return fmt.Sprintf("%s/%s_%s.json", ariDir, s.UserID, iso)
}

func (a *ARI) alertsFor(s *AgencySnapshot) []Alert {
	var alerts []Alert
	add := func(kind AlertKind, value, threshold float64, msg string) {
		alerts = append(alerts, Alert{
			Kind:      kind,
			UserID:    s.UserID,
			RequestID: s.RequestID,
			Value:     value,
			Threshold: threshold,
			Message:   msg,
			Timestamp: s.Timestamp,
		})
	}
	if s.DeltaAgency < a.cfg.ARIAgencyAlert {
		add(AlertAgencyDecline, s.DeltaAgency, a.cfg.ARIAgencyAlert,
			fmt.Sprintf("delta-agency %.2f below %.2f", s.DeltaAgency, a.cfg.ARIAgencyAlert))
	}
	if s.BHIR < a.cfg.ARIBHIRAlert {
		add(AlertLowBenefit, s.BHIR, a.cfg.ARIBHIRAlert,
			fmt.Sprintf("benefit-to-input ratio %.2f below %.2f", s.BHIR, a.cfg.ARIBHIRAlert))
	}
	if delta := s.SkillDelta(); delta < a.cfg.ARISkillAlert {
		add(AlertSkillRegression, delta, a.cfg.ARISkillAlert,
			fmt.Sprintf("skill delta %.2f below %.2f", delta, a.cfg.ARISkillAlert))
	}
	if s.AIReliance > a.cfg.ARIRelianceAlert {
		add(AlertOverReliance, s.AIReliance, a.cfg.ARIRelianceAlert,
			fmt.Sprintf("ai reliance %.2f above %.2f", s.AIReliance, a.cfg.ARIRelianceAlert))
	}
	return alerts
}

func (a *ARI) dispatch(alert Alert) {
	a.log.Warn(alert.UserID, alert.RequestID, "agency alert", map[string]interface{}{
		"kind":      string(alert.Kind),
		"value":     alert.Value,
		"threshold": alert.Threshold,
	})
	if a.bus != nil {
		a.bus.Publish(events.Event{
			Kind:      events.KindARIAlert,
			UserID:    alert.UserID,
			RequestID: alert.RequestID,
			Source:    "monitor.ari",
			Payload: map[string]interface{}{
				"alert_kind": string(alert.Kind),
				"value":      alert.Value,
				"threshold":  alert.Threshold,
				"message":    alert.Message,
			},
		})
	}
	if a.sink != nil {
		_, _, err := a.sink.Submit(feedback.Event{
			Kind:      feedback.KindARIAlert,
			Source:    feedbackComponent,
			RequestID: alert.RequestID,
			UserID:    alert.UserID,
			Text:      alert.Message,
			Metadata:  map[string]string{"alert_kind": string(alert.Kind)},
		})
		if err != nil {
			a.log.Warn(alert.UserID, alert.RequestID, "failed to submit alert feedback", map[string]interface{}{
				"error": err.Error(),
			})
		}
	}
}

// Snapshots returns the user's snapshots, oldest first. window limits
// the result to the most recent N when positive.
func (a *ARI) Snapshots(userID string, window int) []AgencySnapshot {
	a.mu.Lock()
	defer a.mu.Unlock()

	snaps := a.byUser[userID]
	if window > 0 && len(snaps) > window {
		snaps = snaps[len(snaps)-window:]
	}
	out := make([]AgencySnapshot, len(snaps))
	for i, s := range snaps {
		out[i] = *s
	}
	return out
}

// Report computes windowed averages and the agency trend for a user.
// window ≤ 0 covers every snapshot on record.
func (a *ARI) Report(userID string, window int) (*AgencyReport, error) {
	a.mu.Lock()
	defer a.mu.Unlock()

	snaps := a.byUser[userID]
	if len(snaps) == 0 {
		return nil, fmt.Errorf("%w: %s", ErrNoSamples, userID)
	}
	if window > 0 && len(snaps) > window {
		snaps = snaps[len(snaps)-window:]
	}

	rep := &AgencyReport{
		UserID:      userID,
		Samples:     len(snaps),
		GeneratedAt: a.now().UTC(),
	}
	for _, s := range snaps {
		rep.AvgDeltaAgency += s.DeltaAgency
		rep.AvgBHIR += s.BHIR
		rep.AvgTaskEfficacy += s.TaskEfficacy
		rep.AvgSkillDelta += s.SkillDelta()
		rep.AvgAIReliance += s.AIReliance
		rep.AvgAutonomyRetention += s.AutonomyRetention
	}
	n := float64(len(snaps))
	rep.AvgDeltaAgency /= n
	rep.AvgBHIR /= n
	rep.AvgTaskEfficacy /= n
	rep.AvgSkillDelta /= n
	rep.AvgAIReliance /= n
	rep.AvgAutonomyRetention /= n
	rep.Trend = trend(snaps, rep.AvgDeltaAgency, a.cfg.TrendCriticalAvg)
	return rep, nil
}

// trend compares the newest third of samples to the oldest third on
// delta-agency. A window average below criticalAvg overrides everything.
func trend(snaps []*AgencySnapshot, windowAvg, criticalAvg float64) Trend {
	if windowAvg < criticalAvg {
		return TrendCritical
	}
	third := len(snaps) / 3
	if third == 0 {
		return TrendStable
	}
	var oldest, newest float64
	for i := 0; i < third; i++ {
		oldest += snaps[i].DeltaAgency
		newest += snaps[len(snaps)-third+i].DeltaAgency
	}
	oldest /= float64(third)
	newest /= float64(third)

	const band = 0.05
	switch diff := newest - oldest; {
	case diff > band:
		return TrendIncreasing
	case diff < -band:
		return TrendDecreasing
	default:
		return TrendStable
	}
}

// stats reports totals for the suite snapshot.
func (a *ARI) stats() (users, snapshots, alerts int) {
	a.mu.Lock()
	defer a.mu.Unlock()
	for _, snaps := range a.byUser {
		snapshots += len(snaps)
	}
	return len(a.byUser), snapshots, a.alertCount
}
