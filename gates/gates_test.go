// Copyright 2025 Symbiont
// SPDX-License-Identifier: Apache-2.0

package gates

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"symbiont/core/config"
)

func testGatesConfig() config.GatesConfig {
	return config.DefaultConfig().Gates
}

// cleanAction is a well-behaved baseline that passes all four gates.
func cleanAction() ActionContext {
	return ActionContext{
		UserID:                "u1",
		RequestID:             "r1",
		Query:                 "summarize my notes",
		DeltaAgency:           0.1,
		Reversible:            true,
		AppealAvailable:       true,
		HumanReview:           true,
		ExplanationGiven:      true,
		AuditTrail:            true,
		MatchesUserValues:     true,
		MatchesSystemValues:   true,
		ConsistentWithHistory: true,
		TransparentGoals:      true,
	}
}

func TestEvaluateCleanActionApproved(t *testing.T) {
	s := NewSystem(testGatesConfig(), nil)

	eval := s.Evaluate(cleanAction())

	assert.True(t, eval.AllApproved)
	assert.Empty(t, eval.Failed)
	require.Len(t, eval.Results, 4)
	for _, r := range eval.Results {
		assert.True(t, r.Approved, "gate %s", r.Gate)
		assert.GreaterOrEqual(t, r.Score, 0.0)
		assert.LessOrEqual(t, r.Score, 1.0)
	}
}

func TestAutonomyFormula(t *testing.T) {
	s := NewSystem(testGatesConfig(), nil)

	a := cleanAction()
	a.DeltaAgency = 0.2
	a.ApprovalRequired = true
	a.Reversible = true
	r := s.autonomy(a)
	assert.True(t, r.Approved)
	assert.InDelta(t, 0.5+0.3*0.2+0.2+0.1, r.Score, 1e-9)

	a.DeltaAgency = -0.5
	a.ApprovalRequired = false
	a.Reversible = false
	r = s.autonomy(a)
	assert.False(t, r.Approved, "agency delta below tolerance must fail regardless of score")
	assert.InDelta(t, 0.5-0.15, r.Score, 1e-9)
}

func TestAutonomyApprovalRidesOnDeltaAlone(t *testing.T) {
	s := NewSystem(testGatesConfig(), nil)

	// High score from mitigations, but the delta is past tolerance.
	a := cleanAction()
	a.DeltaAgency = -0.2
	a.ApprovalRequired = true
	a.Reversible = true
	r := s.autonomy(a)
	assert.False(t, r.Approved)

	// Exactly at tolerance passes.
	a.DeltaAgency = -0.1
	r = s.autonomy(a)
	assert.True(t, r.Approved)
}

func TestHumanityFormula(t *testing.T) {
	s := NewSystem(testGatesConfig(), nil)

	a := cleanAction()
	r := s.humanity(a)
	assert.True(t, r.Approved)
	assert.InDelta(t, 1.0, r.Score, 1e-9)

	a.AddictiveFeatures = 1
	a.DarkPatterns = 1
	a.EmotionalManipulation = true
	r = s.humanity(a)
	assert.False(t, r.Approved)
	assert.InDelta(t, 1-0.15-0.2-0.25, r.Score, 1e-9)

	// Heavy abuse floors at zero rather than going negative.
	a.AddictiveFeatures = 4
	a.DarkPatterns = 3
	a.TimePressure = true
	r = s.humanity(a)
	assert.InDelta(t, 0.0, r.Score, 1e-9)
}

func TestOversightIndicators(t *testing.T) {
	s := NewSystem(testGatesConfig(), nil)

	a := ActionContext{AppealAvailable: true, HumanReview: true}
	r := s.oversight(a)
	assert.True(t, r.Approved)
	assert.InDelta(t, 0.6, r.Score, 1e-9)

	a = ActionContext{ExplanationGiven: true}
	r = s.oversight(a)
	assert.False(t, r.Approved)
	assert.InDelta(t, 0.2, r.Score, 1e-9)

	// Appeal plus audit trail sits exactly on the threshold.
	a = ActionContext{AppealAvailable: true, AuditTrail: true}
	r = s.oversight(a)
	assert.True(t, r.Approved)
	assert.InDelta(t, 0.5, r.Score, 1e-9)
}

func TestAlignmentIndicators(t *testing.T) {
	s := NewSystem(testGatesConfig(), nil)

	a := ActionContext{MatchesUserValues: true, MatchesSystemValues: true}
	r := s.alignment(a)
	assert.True(t, r.Approved)
	assert.InDelta(t, 0.6, r.Score, 1e-9)

	a = ActionContext{ConsistentWithHistory: true, TransparentGoals: true}
	r = s.alignment(a)
	assert.False(t, r.Approved)
	assert.InDelta(t, 0.4, r.Score, 1e-9)
}

func TestEvaluateReportsFailedGates(t *testing.T) {
	s := NewSystem(testGatesConfig(), nil)

	a := cleanAction()
	a.EmotionalManipulation = true // humanity 0.75 < 0.8
	a.DeltaAgency = -0.5           // autonomy fails

	eval := s.Evaluate(a)

	assert.False(t, eval.AllApproved)
	assert.ElementsMatch(t, []GateID{GateAutonomy, GateHumanity}, eval.Failed)
}

func TestProtectedPathRefusal(t *testing.T) {
	cfg := testGatesConfig()
	cfg.ProtectedPaths = []string{"/etc/passwd", "/home/u/keys", "secrets/*"}
	s := NewSystem(cfg, nil)

	cases := []struct {
		name   string
		target string
	}{
		{"exact", "/etc/passwd"},
		{"subpath", "/home/u/keys/id_rsa"},
		{"glob", "secrets/vault.json"},
		{"dot segments", "/home/u/keys/../keys/id_rsa"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			a := cleanAction()
			a.TargetPaths = []string{tc.target}
			eval := s.Evaluate(a)

			assert.False(t, eval.AllApproved)
			assert.NotEmpty(t, eval.ProtectedPath)
			assert.Empty(t, eval.Results, "protected paths refuse before any gate runs")
		})
	}

	// Unprotected paths evaluate normally.
	a := cleanAction()
	a.TargetPaths = []string{"/tmp/scratch.txt"}
	eval := s.Evaluate(a)
	assert.True(t, eval.AllApproved)
	assert.Empty(t, eval.ProtectedPath)
}

func TestReloadAppliesNewThresholds(t *testing.T) {
	s := NewSystem(testGatesConfig(), nil)

	a := cleanAction()
	a.EmotionalManipulation = true // humanity scores 0.75
	eval := s.Evaluate(a)
	assert.False(t, eval.AllApproved)

	relaxed := testGatesConfig()
	relaxed.HumanityThreshold = 0.7
	s.Reload(relaxed)
	eval = s.Evaluate(a)
	assert.True(t, eval.AllApproved)

	// Zero thresholds in a reloaded config fall back to the defaults
	// instead of waving everything through.
	s.Reload(config.GatesConfig{})
	eval = s.Evaluate(a)
	assert.False(t, eval.AllApproved)
	assert.Equal(t, []GateID{GateHumanity}, eval.Failed)
}
