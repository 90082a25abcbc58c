// Copyright 2025 Symbiont
// SPDX-License-Identifier: Apache-2.0

package monitor

import (
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"symbiont/core/config"
	"symbiont/core/events"
	"symbiont/core/feedback"
	"symbiont/core/storage"
)

func testMonitorConfig() config.MonitorConfig {
	return config.MonitorConfig{
		ARIAgencyAlert:      -0.1,
		ARIBHIRAlert:        0.8,
		ARISkillAlert:       -0.15,
		ARIRelianceAlert:    0.9,
		TrendCriticalAvg:    -0.2,
		CitationWindow:      160,
		FactCheckTimeout:    time.Second,
		AutoResolveVerified: true,
		RDIWeights:          config.RDIWeights{Semantic: 1, Factual: 1, Logical: 1},
	}
}

// stubSink captures feedback events for assertions.
type stubSink struct {
	mu     sync.Mutex
	events []feedback.Event
}

func (s *stubSink) Submit(ev feedback.Event) (*feedback.Event, *feedback.Suggestion, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.events = append(s.events, ev)
	return &ev, nil, nil
}

func (s *stubSink) all() []feedback.Event {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]feedback.Event(nil), s.events...)
}

func healthySnapshot(user string) AgencySnapshot {
	return AgencySnapshot{
		UserID:            user,
		RequestID:         "req-1",
		TaskCategory:      "writing",
		DeltaAgency:       0.2,
		BHIR:              1.5,
		TaskEfficacy:      0.8,
		PreSkill:          0.5,
		PostSkill:         0.55,
		AIReliance:        0.4,
		AutonomyRetention: 0.9,
	}
}

func newTestARI(t *testing.T, sink FeedbackSink, bus *events.Bus) (*ARI, *time.Time) {
	t.Helper()
	a, err := NewARI(testMonitorConfig(), nil, bus, sink)
	require.NoError(t, err)
	now := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	a.now = func() time.Time { return now }
	return a, &now
}

func TestRecordValidation(t *testing.T) {
	a, _ := newTestARI(t, nil, nil)

	_, _, err := a.Record(AgencySnapshot{})
	assert.ErrorIs(t, err, ErrMissingUser)

	bad := healthySnapshot("alice")
	bad.DeltaAgency = 1.5
	_, _, err = a.Record(bad)
	assert.ErrorIs(t, err, ErrInvalidSnapshot)

	bad = healthySnapshot("alice")
	bad.BHIR = -0.1
	_, _, err = a.Record(bad)
	assert.ErrorIs(t, err, ErrInvalidSnapshot)
}

func TestHealthySnapshotRaisesNoAlerts(t *testing.T) {
	sink := &stubSink{}
	a, _ := newTestARI(t, sink, nil)

	stored, alerts, err := a.Record(healthySnapshot("alice"))
	require.NoError(t, err)
	assert.Empty(t, alerts)
	assert.Empty(t, sink.all())
	assert.False(t, stored.Timestamp.IsZero())
}

func TestAlertsFireOnEveryThreshold(t *testing.T) {
	sink := &stubSink{}
	bus := events.NewBus(16)
	a, _ := newTestARI(t, sink, bus)
	sub := bus.Subscribe(events.KindARIAlert)
	defer sub.Close()

	snap := healthySnapshot("alice")
	snap.DeltaAgency = -0.3
	snap.BHIR = 0.5
	snap.PreSkill = 0.8
	snap.PostSkill = 0.5
	snap.AIReliance = 0.95

	_, alerts, err := a.Record(snap)
	require.NoError(t, err)
	require.Len(t, alerts, 4)

	kinds := make(map[AlertKind]bool)
	for _, al := range alerts {
		kinds[al.Kind] = true
	}
	assert.True(t, kinds[AlertAgencyDecline])
	assert.True(t, kinds[AlertLowBenefit])
	assert.True(t, kinds[AlertSkillRegression])
	assert.True(t, kinds[AlertOverReliance])

	fed := sink.all()
	require.Len(t, fed, 4)
	for _, ev := range fed {
		assert.Equal(t, feedback.KindARIAlert, ev.Kind)
		assert.Equal(t, "orchestrator", ev.Source)
		assert.Equal(t, "alice", ev.UserID)
	}

	for i := 0; i < 4; i++ {
		select {
		case ev := <-sub.C:
			assert.Equal(t, events.KindARIAlert, ev.Kind)
			assert.Equal(t, "monitor.ari", ev.Source)
		default:
			t.Fatalf("expected 4 bus events, got %d", i)
		}
	}
}

func TestBoundaryValuesDoNotAlert(t *testing.T) {
	a, _ := newTestARI(t, nil, nil)

	snap := healthySnapshot("alice")
	snap.DeltaAgency = -0.1 // exactly the threshold
	snap.BHIR = 0.8
	snap.PreSkill = 0.5
	snap.PostSkill = 0.5
	snap.AIReliance = 0.9

	_, alerts, err := a.Record(snap)
	require.NoError(t, err)
	assert.Empty(t, alerts)
}

func TestSnapshotPathSanitizesColons(t *testing.T) {
	snap := healthySnapshot("alice")
	snap.Timestamp = time.Date(2025, 6, 1, 12, 30, 45, 0, time.UTC)
	path := snapshotPath(&snap)
	assert.NotContains(t, path, ":")
	assert.True(t, strings.HasPrefix(path, "ari/alice_"))
}

func TestPersistenceReload(t *testing.T) {
	files, err := storage.New(t.TempDir())
	require.NoError(t, err)

	a, err := NewARI(testMonitorConfig(), files, nil, nil)
	require.NoError(t, err)
	now := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	a.now = func() time.Time { return now }

	for i := 0; i < 3; i++ {
		_, _, err := a.Record(healthySnapshot("alice"))
		require.NoError(t, err)
		now = now.Add(time.Minute)
	}

	reloaded, err := NewARI(testMonitorConfig(), files, nil, nil)
	require.NoError(t, err)
	snaps := reloaded.Snapshots("alice", 0)
	require.Len(t, snaps, 3)
	assert.True(t, snaps[0].Timestamp.Before(snaps[2].Timestamp))
}

func TestReportAverages(t *testing.T) {
	a, now := newTestARI(t, nil, nil)

	deltas := []float64{0.1, 0.2, 0.3}
	for _, d := range deltas {
		snap := healthySnapshot("alice")
		snap.DeltaAgency = d
		_, _, err := a.Record(snap)
		require.NoError(t, err)
		*now = now.Add(time.Minute)
	}

	rep, err := a.Report("alice", 0)
	require.NoError(t, err)
	assert.Equal(t, 3, rep.Samples)
	assert.InDelta(t, 0.2, rep.AvgDeltaAgency, 1e-9)
	assert.InDelta(t, 1.5, rep.AvgBHIR, 1e-9)
	assert.InDelta(t, 0.05, rep.AvgSkillDelta, 1e-9)
}

func TestReportNoSamples(t *testing.T) {
	a, _ := newTestARI(t, nil, nil)
	_, err := a.Report("nobody", 0)
	assert.ErrorIs(t, err, ErrNoSamples)
}

func TestReportWindowLimitsSamples(t *testing.T) {
	a, now := newTestARI(t, nil, nil)

	for i := 0; i < 10; i++ {
		_, _, err := a.Record(healthySnapshot("alice"))
		require.NoError(t, err)
		*now = now.Add(time.Minute)
	}
	rep, err := a.Report("alice", 3)
	require.NoError(t, err)
	assert.Equal(t, 3, rep.Samples)
}

func TestTrendClassification(t *testing.T) {
	record := func(t *testing.T, a *ARI, now *time.Time, deltas []float64) {
		t.Helper()
		for _, d := range deltas {
			snap := healthySnapshot("alice")
			snap.DeltaAgency = d
			_, _, err := a.Record(snap)
			require.NoError(t, err)
			*now = now.Add(time.Minute)
		}
	}

	t.Run("increasing", func(t *testing.T) {
		a, now := newTestARI(t, nil, nil)
		record(t, a, now, []float64{0, 0, 0, 0.1, 0.1, 0.1, 0.2, 0.2, 0.2})
		rep, err := a.Report("alice", 0)
		require.NoError(t, err)
		assert.Equal(t, TrendIncreasing, rep.Trend)
	})

	t.Run("decreasing", func(t *testing.T) {
		a, now := newTestARI(t, nil, nil)
		record(t, a, now, []float64{0.2, 0.2, 0.2, 0.1, 0.1, 0.1, 0, 0, 0})
		rep, err := a.Report("alice", 0)
		require.NoError(t, err)
		assert.Equal(t, TrendDecreasing, rep.Trend)
	})

	t.Run("stable", func(t *testing.T) {
		a, now := newTestARI(t, nil, nil)
		record(t, a, now, []float64{0.1, 0.1, 0.1, 0.1, 0.1, 0.1})
		rep, err := a.Report("alice", 0)
		require.NoError(t, err)
		assert.Equal(t, TrendStable, rep.Trend)
	})

	t.Run("critical average overrides direction", func(t *testing.T) {
		a, now := newTestARI(t, nil, nil)
		record(t, a, now, []float64{-0.4, -0.4, -0.4, -0.3, -0.3, -0.3, -0.2, -0.2, -0.2})
		rep, err := a.Report("alice", 0)
		require.NoError(t, err)
		assert.Equal(t, TrendCritical, rep.Trend)
	})

	t.Run("too few samples is stable", func(t *testing.T) {
		a, now := newTestARI(t, nil, nil)
		record(t, a, now, []float64{0.1, 0.3})
		rep, err := a.Report("alice", 0)
		require.NoError(t, err)
		assert.Equal(t, TrendStable, rep.Trend)
	})
}
