// Copyright 2025 Symbiont
// SPDX-License-Identifier: Apache-2.0

package monitor

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"symbiont/core/config"
	"symbiont/core/events"
)

func newTestRDI(cfg config.MonitorConfig, bus *events.Bus) *RDI {
	r := NewRDI(cfg, bus)
	r.now = func() time.Time { return time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC) }
	return r
}

func TestFirstSampleEstablishesBaseline(t *testing.T) {
	r := newTestRDI(testMonitorConfig(), nil)

	a, err := r.Assess("alice", "proprietary flux capacitors synchronize beautifully")
	require.NoError(t, err)
	assert.Zero(t, a.Semantic)
	assert.Zero(t, a.Factual)
	assert.Zero(t, a.Logical)
	assert.Equal(t, BinAligned, a.Bin)
}

func TestAssessRequiresUser(t *testing.T) {
	r := newTestRDI(testMonitorConfig(), nil)
	_, err := r.Assess("", "hello")
	assert.ErrorIs(t, err, ErrMissingUser)
}

func TestSemanticDriftOnVocabularyShift(t *testing.T) {
	r := newTestRDI(testMonitorConfig(), nil)

	_, err := r.Assess("alice", "planning the quarterly report and the team meeting schedule")
	require.NoError(t, err)

	a, err := r.Assess("alice", "interdimensional lizard frequencies manipulate crystalline vibrations")
	require.NoError(t, err)
	assert.InDelta(t, 1.0, a.Semantic, 1e-9)
	assert.Equal(t, BinMinor, a.Bin) // drift only on the semantic axis
}

func TestFactualMarkerScore(t *testing.T) {
	r := newTestRDI(testMonitorConfig(), nil)

	a, err := r.Assess("alice", "the report is a hoax pushed by the mainstream media")
	require.NoError(t, err)
	assert.InDelta(t, 0.5, a.Factual, 1e-9)
}

func TestLogicalMarkerScore(t *testing.T) {
	r := newTestRDI(testMonitorConfig(), nil)

	a, err := r.Assess("alice", "you can't prove me wrong and it just makes sense")
	require.NoError(t, err)
	assert.InDelta(t, 0.5, a.Logical, 1e-9)
}

func TestWeightedCombination(t *testing.T) {
	cfg := testMonitorConfig()
	cfg.RDIWeights = config.RDIWeights{Semantic: 2, Factual: 1, Logical: 1}
	r := newTestRDI(cfg, nil)

	_, err := r.Assess("alice", "reviewing the budget spreadsheet before lunch")
	require.NoError(t, err)

	a, err := r.Assess("alice", "zygomorphic tesseracts juxtapose quixotic parallelograms")
	require.NoError(t, err)
	// semantic 1.0 at weight 2 of 4, factual and logical zero.
	assert.InDelta(t, 0.5, a.Score, 1e-9)
	assert.Equal(t, BinModerate, a.Bin)
}

func TestDriftedVocabularyNotAbsorbed(t *testing.T) {
	r := newTestRDI(testMonitorConfig(), nil)

	_, err := r.Assess("alice", "drafting meeting notes for the weekly project review")
	require.NoError(t, err)

	drifted := "chemtrail nanobots broadcast conspiracy frequencies, it is a cover-up"
	first, err := r.Assess("alice", drifted)
	require.NoError(t, err)
	require.True(t, first.Bin == BinModerate || first.Bin == BinSignificant || first.Bin == BinCritical)

	// The same drifted text reads identically the second time: its
	// vocabulary did not become baseline.
	second, err := r.Assess("alice", drifted)
	require.NoError(t, err)
	assert.InDelta(t, first.Semantic, second.Semantic, 1e-9)
	assert.InDelta(t, first.Score, second.Score, 1e-9)
}

func TestAlignedVocabularyAbsorbed(t *testing.T) {
	r := newTestRDI(testMonitorConfig(), nil)

	_, err := r.Assess("alice", "preparing the slides for tomorrow")
	require.NoError(t, err)

	// New but harmless vocabulary: high semantic novelty, low overall
	// score, so it joins the baseline.
	_, err = r.Assess("alice", "rehearsing the keynote presentation")
	require.NoError(t, err)

	a, err := r.Assess("alice", "rehearsing the keynote presentation")
	require.NoError(t, err)
	assert.Zero(t, a.Semantic)
	assert.Equal(t, BinAligned, a.Bin)
}

func TestExportRequiresBothFlags(t *testing.T) {
	cfg := testMonitorConfig()
	cfg.RDIExportOptIn = false
	r := newTestRDI(cfg, nil)

	_, err := r.Assess("alice", "hello world today")
	require.NoError(t, err)

	// Deployment flag off: no export even with user consent.
	r.SetExportOptIn("alice", true)
	_, err = r.Export("alice")
	assert.ErrorIs(t, err, ErrExportNotPermitted)

	// Deployment flag on but user has not consented.
	cfg.RDIExportOptIn = true
	r2 := newTestRDI(cfg, nil)
	_, err = r2.Assess("alice", "hello world today")
	require.NoError(t, err)
	_, err = r2.Export("alice")
	assert.ErrorIs(t, err, ErrExportNotPermitted)
}

func TestExportCarriesOnlyHashedAggregates(t *testing.T) {
	cfg := testMonitorConfig()
	cfg.RDIExportOptIn = true
	r := newTestRDI(cfg, nil)

	_, err := r.Assess("alice", "writing the weekly summary")
	require.NoError(t, err)
	_, err = r.Assess("alice", "reading the morning news")
	require.NoError(t, err)
	r.SetExportOptIn("alice", true)

	export, err := r.Export("alice")
	require.NoError(t, err)
	assert.NotEqual(t, "alice", export.HashedUser)
	assert.Len(t, export.HashedUser, 64) // hex sha-256
	assert.NotContains(t, export.HashedUser, "alice")
	assert.Equal(t, 2, export.Samples)
	assert.GreaterOrEqual(t, export.MaxScore, export.MeanScore)
	total := 0
	for _, n := range export.Bins {
		total += n
	}
	assert.Equal(t, 2, total)
}

func TestExportWithoutSamples(t *testing.T) {
	cfg := testMonitorConfig()
	cfg.RDIExportOptIn = true
	r := newTestRDI(cfg, nil)

	r.SetExportOptIn("alice", true)
	_, err := r.Export("alice")
	assert.ErrorIs(t, err, ErrNoSamples)
}

func TestPrivateEventsPublished(t *testing.T) {
	bus := events.NewBus(4)
	r := newTestRDI(testMonitorConfig(), bus)
	sub := bus.Subscribe(events.KindRDIPrivate)
	defer sub.Close()

	_, err := r.Assess("alice", "checking the calendar")
	require.NoError(t, err)

	select {
	case ev := <-sub.C:
		assert.Equal(t, events.KindRDIPrivate, ev.Kind)
		assert.Equal(t, "monitor.rdi", ev.Source)
	default:
		t.Fatal("expected an rdi-private event")
	}
}

func TestCurrentAndSeries(t *testing.T) {
	r := newTestRDI(testMonitorConfig(), nil)

	_, err := r.Current("alice")
	assert.ErrorIs(t, err, ErrNoSamples)

	_, err = r.Assess("alice", "first entry")
	require.NoError(t, err)
	_, err = r.Assess("alice", "second entry")
	require.NoError(t, err)

	cur, err := r.Current("alice")
	require.NoError(t, err)
	assert.NotNil(t, cur)
	assert.Len(t, r.Series("alice"), 2)
	assert.Empty(t, r.Series("bob"))
}
