// Copyright 2025 Symbiont
// SPDX-License-Identifier: Apache-2.0

package feedback

import (
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"symbiont/core/config"
	"symbiont/core/storage"
)

func testFeedbackConfig() config.FeedbackConfig {
	return config.FeedbackConfig{
		MinFeedback:            10,
		NegativeRatio:          0.3,
		WindowDays:             30,
		AutoImplementThreshold: 0.9,
	}
}

func newTestLoop(t *testing.T, cfg config.FeedbackConfig) (*Loop, *time.Time) {
	t.Helper()
	l, err := NewLoop(cfg, nil)
	require.NoError(t, err)
	now := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	l.now = func() time.Time { return now }
	return l, &now
}

func submit(t *testing.T, l *Loop, component string, kind EventKind) *Suggestion {
	t.Helper()
	_, sug, err := l.Submit(Event{Kind: kind, Source: component, UserID: "alice"})
	require.NoError(t, err)
	return sug
}

func TestSubmitValidation(t *testing.T) {
	l, _ := newTestLoop(t, testFeedbackConfig())

	_, _, err := l.Submit(Event{Kind: KindUserExplicitNegative})
	assert.ErrorIs(t, err, ErrMissingSource)

	_, _, err = l.Submit(Event{Kind: "angry", Source: "router"})
	assert.ErrorIs(t, err, ErrInvalidKind)
}

func TestSubmitAssignsIdentityAndTimestamp(t *testing.T) {
	l, _ := newTestLoop(t, testFeedbackConfig())

	ev, _, err := l.Submit(Event{Kind: KindPerformanceMetric, Source: "router"})
	require.NoError(t, err)
	assert.NotEmpty(t, ev.ID)
	assert.False(t, ev.Timestamp.IsZero())
}

func TestNoSuggestionBelowMinFeedback(t *testing.T) {
	l, _ := newTestLoop(t, testFeedbackConfig())

	for i := 0; i < 9; i++ {
		sug := submit(t, l, "router", KindUserExplicitNegative)
		assert.Nil(t, sug)
	}
}

func TestNoSuggestionAtOrBelowNegativeRatio(t *testing.T) {
	l, _ := newTestLoop(t, testFeedbackConfig())

	// 3 negative out of 10 is exactly the threshold, not above it.
	for i := 0; i < 7; i++ {
		submit(t, l, "router", KindUserExplicitPositive)
	}
	for i := 0; i < 2; i++ {
		submit(t, l, "router", KindUserExplicitNegative)
	}
	sug := submit(t, l, "router", KindUserExplicitNegative)
	assert.Nil(t, sug)

	// One more negative tips the ratio over.
	sug = submit(t, l, "router", KindUserExplicitNegative)
	require.NotNil(t, sug)
	assert.Equal(t, "router", sug.Component)
	assert.Len(t, sug.SupportingFeedback, 4)
}

func TestConfidenceFormula(t *testing.T) {
	l, _ := newTestLoop(t, testFeedbackConfig())

	for i := 0; i < 4; i++ {
		submit(t, l, "memory", KindUserImplicitPositive)
	}
	var sug *Suggestion
	for i := 0; i < 6; i++ {
		sug = submit(t, l, "memory", KindUserExplicitNegative)
	}
	require.NotNil(t, sug)
	// 0.7*(6/10) + 0.3*(6/20)
	assert.InDelta(t, 0.51, sug.Confidence, 1e-9)
	assert.False(t, sug.Approved)
	assert.False(t, sug.Implemented)
}

func TestActionFollowsMajorityEvidence(t *testing.T) {
	cases := []struct {
		name  string
		kinds []EventKind
		want  ActionKind
	}{
		{
			name: "gate violations demand behavior change",
			kinds: []EventKind{
				KindGateViolation, KindGateViolation, KindGateViolation, KindGateViolation,
				KindARIAlert, KindARIAlert, KindARIAlert,
				KindUserExplicitNegative, KindUserExplicitNegative, KindUserExplicitNegative,
			},
			want: ActionBehaviorChange,
		},
		{
			name: "agency alerts demand parameter adjustment",
			kinds: []EventKind{
				KindARIAlert, KindARIAlert, KindARIAlert, KindARIAlert,
				KindEDMAlert, KindEDMAlert, KindEDMAlert,
				KindUserImplicitNegative, KindUserImplicitNegative, KindUserImplicitNegative,
			},
			want: ActionParameterAdjustment,
		},
		{
			name: "epistemic alerts demand prompt refinement",
			kinds: []EventKind{
				KindEDMAlert, KindEDMAlert, KindEDMAlert, KindEDMAlert,
				KindUserExplicitNegative, KindUserExplicitNegative, KindUserExplicitNegative,
				KindUserImplicitNegative, KindUserImplicitNegative, KindUserImplicitNegative,
			},
			want: ActionPromptRefinement,
		},
		{
			name: "plain negative ratings default to parameter adjustment",
			kinds: []EventKind{
				KindUserExplicitNegative, KindUserExplicitNegative, KindUserExplicitNegative,
				KindUserExplicitNegative, KindUserExplicitNegative, KindUserImplicitNegative,
				KindUserImplicitNegative, KindUserImplicitNegative, KindUserImplicitNegative,
				KindUserImplicitNegative,
			},
			want: ActionParameterAdjustment,
		},
	}
	for i, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			l, _ := newTestLoop(t, testFeedbackConfig())
			component := fmt.Sprintf("component-%d", i)
			var sug *Suggestion
			for _, k := range tc.kinds {
				sug = submit(t, l, component, k)
			}
			require.NotNil(t, sug)
			assert.Equal(t, tc.want, sug.Action)
		})
	}
}

func TestSuggestionIdempotentForSameEvidence(t *testing.T) {
	l, _ := newTestLoop(t, testFeedbackConfig())

	var sug *Suggestion
	for i := 0; i < 10; i++ {
		sug = submit(t, l, "router", KindUserExplicitNegative)
	}
	require.NotNil(t, sug)

	again, err := l.Evaluate("router")
	require.NoError(t, err)
	require.NotNil(t, again)
	assert.Equal(t, sug.ID, again.ID)
	assert.Len(t, l.Suggestions("router", true), 1)
}

func TestAutoImplementAboveThreshold(t *testing.T) {
	cfg := testFeedbackConfig()
	cfg.MinFeedback = 20
	l, _ := newTestLoop(t, cfg)

	var applied []Suggestion
	l.RegisterApplier("router", func(s Suggestion) error {
		applied = append(applied, s)
		return nil
	})

	var sug *Suggestion
	for i := 0; i < 20; i++ {
		sug = submit(t, l, "router", KindUserExplicitNegative)
	}
	require.NotNil(t, sug)
	// 0.7*1.0 + 0.3*min(1, 20/20)
	assert.InDelta(t, 1.0, sug.Confidence, 1e-9)
	assert.True(t, sug.Approved)
	assert.True(t, sug.Implemented)
	require.Len(t, applied, 1)
	assert.Equal(t, sug.ID, applied[0].ID)
}

func TestAutoImplementApplierFailureLeavesPending(t *testing.T) {
	cfg := testFeedbackConfig()
	cfg.MinFeedback = 20
	l, _ := newTestLoop(t, cfg)

	l.RegisterApplier("router", func(Suggestion) error {
		return errors.New("rollout window closed")
	})

	var sug *Suggestion
	for i := 0; i < 20; i++ {
		sug = submit(t, l, "router", KindGateViolation)
	}
	require.NotNil(t, sug)
	assert.True(t, sug.Approved)
	assert.False(t, sug.Implemented)
}

func TestApprove(t *testing.T) {
	l, _ := newTestLoop(t, testFeedbackConfig())

	var applied int
	l.RegisterApplier("memory", func(Suggestion) error {
		applied++
		return nil
	})

	var sug *Suggestion
	for i := 0; i < 6; i++ {
		submit(t, l, "memory", KindUserImplicitPositive)
	}
	for i := 0; i < 4; i++ {
		sug = submit(t, l, "memory", KindUserExplicitNegative)
	}
	require.NotNil(t, sug)
	require.False(t, sug.Implemented)

	approved, err := l.Approve(sug.ID)
	require.NoError(t, err)
	assert.True(t, approved.Approved)
	assert.True(t, approved.Implemented)
	assert.Equal(t, 1, applied)

	// Approving again is a no-op.
	_, err = l.Approve(sug.ID)
	require.NoError(t, err)
	assert.Equal(t, 1, applied)

	_, err = l.Approve("no-such-suggestion")
	assert.ErrorIs(t, err, ErrSuggestionNotFound)
}

func TestRollingWindowExcludesOldEvents(t *testing.T) {
	l, now := newTestLoop(t, testFeedbackConfig())

	for i := 0; i < 5; i++ {
		submit(t, l, "router", KindUserExplicitNegative)
	}

	*now = now.Add(31 * 24 * time.Hour)

	for i := 0; i < 6; i++ {
		submit(t, l, "router", KindUserExplicitPositive)
	}
	var sug *Suggestion
	for i := 0; i < 4; i++ {
		sug = submit(t, l, "router", KindUserExplicitNegative)
	}
	require.NotNil(t, sug)
	// Only the fresh negatives count as evidence.
	assert.Len(t, sug.SupportingFeedback, 4)
	assert.Len(t, l.Events("router"), 10)
}

func TestPersistenceRoundTrip(t *testing.T) {
	dir := t.TempDir()
	files, err := storage.New(dir)
	require.NoError(t, err)

	l, err := NewLoop(testFeedbackConfig(), files)
	require.NoError(t, err)
	now := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	l.now = func() time.Time { return now }

	var sug *Suggestion
	for i := 0; i < 10; i++ {
		sug = submit(t, l, "router", KindUserExplicitNegative)
	}
	require.NotNil(t, sug)

	reloaded, err := NewLoop(testFeedbackConfig(), files)
	require.NoError(t, err)
	reloaded.now = func() time.Time { return now }

	assert.Len(t, reloaded.Events("router"), 10)
	got := reloaded.Suggestions("router", true)
	require.Len(t, got, 1)
	assert.Equal(t, sug.ID, got[0].ID)

	// Replaying evaluation over the restored state stays idempotent.
	again, err := reloaded.Evaluate("router")
	require.NoError(t, err)
	require.NotNil(t, again)
	assert.Equal(t, sug.ID, again.ID)
}

func TestSnapshot(t *testing.T) {
	l, _ := newTestLoop(t, testFeedbackConfig())

	submit(t, l, "router", KindPerformanceMetric)
	submit(t, l, "memory", KindUserExplicitPositive)
	var sug *Suggestion
	for i := 0; i < 10; i++ {
		sug = submit(t, l, "gates", KindGateViolation)
	}
	require.NotNil(t, sug)

	snap := l.Snapshot()
	assert.Equal(t, 12, snap.TotalEvents)
	assert.Equal(t, 10, snap.EventsByKind[KindGateViolation])
	assert.Equal(t, 1, snap.TotalSuggestions)
	assert.Equal(t, 1, snap.PendingApproval)
	assert.Equal(t, 0, snap.Implemented)
}
