// Copyright 2025 Symbiont
// SPDX-License-Identifier: Apache-2.0

package monitor

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"symbiont/core/config"
	"symbiont/core/feedback"
	"symbiont/core/storage"
)

// stubChecker returns a fixed verdict without touching the network.
type stubChecker struct {
	result FactCheckResult
	err    error
}

func (s *stubChecker) Check(context.Context, string) (FactCheckResult, error) {
	return s.result, s.err
}

func newTestEDM(t *testing.T, cfg config.MonitorConfig, sink FeedbackSink, checker FactChecker) *EDM {
	t.Helper()
	if checker == nil {
		checker = &stubChecker{result: FactCheckResult{Status: StatusUnverifiable, Source: "heuristic"}}
	}
	e, err := NewEDM(cfg, nil, nil, sink, checker)
	require.NoError(t, err)
	e.now = func() time.Time { return time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC) }
	return e
}

func TestScanDetectsClaimFamilies(t *testing.T) {
	e := newTestEDM(t, testMonitorConfig(), nil, nil)

	text := "Everyone knows the earth is round. Some people say the weather is changing. " +
		"Studies show that coffee prevents all disease."
	debts, err := e.Scan("alice", "req-1", text)
	require.NoError(t, err)
	e.Wait()
	require.Len(t, debts, 3)

	byKind := make(map[DebtKind]Debt)
	for _, d := range debts {
		byKind[d.Kind] = d
	}
	assert.Equal(t, SeverityMedium, byKind[DebtUnfalsifiable].Severity)
	assert.Equal(t, SeverityLow, byKind[DebtVague].Severity)
	assert.Equal(t, SeverityHigh, byKind[DebtMissingCitation].Severity)
	assert.Contains(t, byKind[DebtMissingCitation].Claim, "Studies show")
	for _, d := range debts {
		assert.Equal(t, "alice", d.UserID)
		assert.Equal(t, "req-1", d.RequestID)
		assert.NotEmpty(t, d.Context)
	}
}

func TestCitationSuppressesMissingCitationDebt(t *testing.T) {
	e := newTestEDM(t, testMonitorConfig(), nil, nil)

	cited := "Studies show that exercise improves mood (Smith et al., 2019)."
	debts, err := e.Scan("alice", "req-1", cited)
	require.NoError(t, err)
	e.Wait()
	for _, d := range debts {
		assert.NotEqual(t, DebtMissingCitation, d.Kind)
	}

	uncited := "Studies show that exercise improves mood in every case imaginable."
	debts, err = e.Scan("alice", "req-2", uncited)
	require.NoError(t, err)
	e.Wait()
	require.Len(t, debts, 1)
	assert.Equal(t, DebtMissingCitation, debts[0].Kind)
}

func TestCitationWindowBoundsSuppression(t *testing.T) {
	cfg := testMonitorConfig()
	cfg.CitationWindow = 20
	e := newTestEDM(t, cfg, nil, nil)

	// The citation sits beyond the 20-character window.
	text := "Studies show that long daily walks in nature improve concentration substantially (2021)."
	debts, err := e.Scan("alice", "req-1", text)
	require.NoError(t, err)
	e.Wait()
	require.Len(t, debts, 1)
	assert.Equal(t, DebtMissingCitation, debts[0].Kind)
}

func TestHighSeverityTriggersFactCheck(t *testing.T) {
	checker := &stubChecker{result: FactCheckResult{
		Status:     StatusVerified,
		Confidence: 0.8,
		Source:     "fact-check-api",
	}}
	e := newTestEDM(t, testMonitorConfig(), nil, checker)

	debts, err := e.Scan("alice", "req-1", "Research shows that sleep matters.")
	require.NoError(t, err)
	require.Len(t, debts, 1)
	e.Wait()

	got, err := e.Debt(debts[0].ID)
	require.NoError(t, err)
	assert.Equal(t, StatusVerified, got.Status)
	assert.InDelta(t, 0.8, got.Confidence, 1e-9)
	assert.Equal(t, "fact-check-api", got.EvidenceSource)
	// auto_resolve_verified closes the debt.
	assert.True(t, got.Resolved)
	assert.Equal(t, "auto_verified", got.ResolutionMethod)
	require.NotNil(t, got.ResolvedAt)
}

func TestVerifiedStaysOpenWithoutAutoResolve(t *testing.T) {
	cfg := testMonitorConfig()
	cfg.AutoResolveVerified = false
	checker := &stubChecker{result: FactCheckResult{Status: StatusVerified, Confidence: 0.8, Source: "fact-check-api"}}
	e := newTestEDM(t, cfg, nil, checker)

	debts, err := e.Scan("alice", "req-1", "Statistics show crime fell last year.")
	require.NoError(t, err)
	require.Len(t, debts, 1)
	e.Wait()

	got, err := e.Debt(debts[0].ID)
	require.NoError(t, err)
	assert.Equal(t, StatusVerified, got.Status)
	assert.False(t, got.Resolved)
}

func TestDisputedLeavesDebtOpen(t *testing.T) {
	checker := &stubChecker{result: FactCheckResult{Status: StatusDisputed, Confidence: 0.5, Source: "heuristic"}}
	e := newTestEDM(t, testMonitorConfig(), nil, checker)

	debts, err := e.Scan("alice", "req-1", "Data shows that everyone agrees on this.")
	require.NoError(t, err)
	require.Len(t, debts, 1)
	e.Wait()

	got, err := e.Debt(debts[0].ID)
	require.NoError(t, err)
	assert.Equal(t, StatusDisputed, got.Status)
	assert.False(t, got.Resolved)
	assert.Empty(t, got.ResolutionMethod)
}

func TestLowSeverityNeverFactChecked(t *testing.T) {
	checker := &stubChecker{result: FactCheckResult{Status: StatusFalse, Confidence: 0.9, Source: "fact-check-api"}}
	e := newTestEDM(t, testMonitorConfig(), nil, checker)

	debts, err := e.Scan("alice", "req-1", "Reportedly the office moved last spring.")
	require.NoError(t, err)
	require.Len(t, debts, 1)
	e.Wait()

	got, err := e.Debt(debts[0].ID)
	require.NoError(t, err)
	assert.Equal(t, StatusPending, got.Status)
}

func TestFeedbackSubmittedForMediumAndAbove(t *testing.T) {
	sink := &stubSink{}
	e := newTestEDM(t, testMonitorConfig(), sink, nil)

	_, err := e.Scan("alice", "req-1", "Reportedly it rained. No one can deny the results.")
	require.NoError(t, err)
	e.Wait()

	fed := sink.all()
	require.Len(t, fed, 1)
	assert.Equal(t, feedback.KindEDMAlert, fed[0].Kind)
	assert.Equal(t, "orchestrator", fed[0].Source)
}

func TestManualResolution(t *testing.T) {
	e := newTestEDM(t, testMonitorConfig(), nil, nil)

	debts, err := e.Scan("alice", "req-1", "It is widely known that cats sleep a lot.")
	require.NoError(t, err)
	require.Len(t, debts, 1)
	e.Wait()

	resolved, err := e.Resolve(debts[0].ID, StatusVerified, "manual-review")
	require.NoError(t, err)
	assert.True(t, resolved.Resolved)
	assert.Equal(t, "manual-review", resolved.ResolutionMethod)

	// Resolution keeps the record; nothing is deleted.
	all := e.Debts("alice", false)
	assert.Len(t, all, 1)
	open := e.Debts("alice", true)
	assert.Empty(t, open)

	_, err = e.Resolve("missing", StatusFalse, "manual")
	assert.ErrorIs(t, err, ErrDebtNotFound)
}

func TestPersistenceReloadKeepsHistory(t *testing.T) {
	files, err := storage.New(t.TempDir())
	require.NoError(t, err)

	checker := &stubChecker{result: FactCheckResult{Status: StatusUnverifiable, Source: "heuristic"}}
	e, err := NewEDM(testMonitorConfig(), files, nil, nil, checker)
	require.NoError(t, err)

	debts, err := e.Scan("alice", "req-1", "Scientists have found that tests pass more often on Fridays.")
	require.NoError(t, err)
	require.Len(t, debts, 1)
	e.Wait()

	reloaded, err := NewEDM(testMonitorConfig(), files, nil, nil, checker)
	require.NoError(t, err)
	got, err := reloaded.Debt(debts[0].ID)
	require.NoError(t, err)
	assert.Equal(t, debts[0].Claim, got.Claim)
	assert.Equal(t, StatusUnverifiable, got.Status)
}
