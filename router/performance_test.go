// Copyright 2025 Symbiont
// SPDX-License-Identifier: Apache-2.0

package router

import (
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"symbiont/core/llm"
	"symbiont/core/storage"
)

func TestPerformanceRingsBounded(t *testing.T) {
	tr := NewPerformanceTracker(nil, 100)

	for i := 0; i < 150; i++ {
		tr.RecordCall(llm.ProviderOpenAI, "gpt-4o", time.Duration(i)*time.Millisecond, 0.001, true, "")
	}

	p, ok := tr.Get(llm.ProviderOpenAI, "gpt-4o")
	require.True(t, ok)
	assert.Len(t, p.LatenciesMs, 100)
	assert.Len(t, p.Costs, 100)
	assert.Equal(t, int64(150), p.TotalCalls)
	assert.Equal(t, int64(150), p.Successes)
	// Oldest samples dropped first: the ring starts at the 51st call.
	assert.Equal(t, int64(50), p.LatenciesMs[0])
}

func TestPerformanceAverages(t *testing.T) {
	tr := NewPerformanceTracker(nil, 10)

	tr.RecordCall(llm.ProviderAnthropic, "claude-3-5-haiku", 100*time.Millisecond, 0.002, true, "")
	tr.RecordCall(llm.ProviderAnthropic, "claude-3-5-haiku", 300*time.Millisecond, 0.004, true, "")
	tr.RecordCall(llm.ProviderAnthropic, "claude-3-5-haiku", 0, 0, false, "boom")

	p, ok := tr.Get(llm.ProviderAnthropic, "claude-3-5-haiku")
	require.True(t, ok)
	assert.InDelta(t, 200.0, p.AvgLatencyMs, 1e-9)
	assert.InDelta(t, 0.003, p.AvgCost, 1e-9)
	assert.InDelta(t, 1.0/3.0, p.ErrorRate, 1e-9)
	assert.Equal(t, "boom", p.LastError)
	assert.Equal(t, int64(1), p.Failures)
}

func TestPerformanceQualityClamped(t *testing.T) {
	tr := NewPerformanceTracker(nil, 10)

	tr.RecordQuality(llm.ProviderGoogle, "gemini-1.5-pro", 1.7)
	tr.RecordQuality(llm.ProviderGoogle, "gemini-1.5-pro", -0.3)

	p, ok := tr.Get(llm.ProviderGoogle, "gemini-1.5-pro")
	require.True(t, ok)
	assert.Equal(t, []float64{1, 0}, p.Quality)
	assert.InDelta(t, 0.5, p.AvgQuality, 1e-9)
}

func TestPerformancePersistRoundTrip(t *testing.T) {
	store, err := storage.New(t.TempDir())
	require.NoError(t, err)

	tr := NewPerformanceTracker(store, 100)
	tr.RecordCall(llm.ProviderMistral, "mistral-large", 250*time.Millisecond, 0.008, true, "")
	tr.RecordQuality(llm.ProviderMistral, "mistral-large", 0.9)

	require.True(t, store.Exists("orchestrator/model_performance.json"))

	reloaded := NewPerformanceTracker(store, 100)
	p, ok := reloaded.Get(llm.ProviderMistral, "mistral-large")
	require.True(t, ok)
	assert.Equal(t, int64(1), p.TotalCalls)
	assert.Equal(t, []int64{250}, p.LatenciesMs)
	assert.Equal(t, []float64{0.9}, p.Quality)
}

func TestPerformanceSnapshotIsCopy(t *testing.T) {
	tr := NewPerformanceTracker(nil, 10)
	tr.RecordCall(llm.ProviderLocal, llm.LocalModelName, time.Millisecond, 0, true, "")

	snap := tr.Snapshot()
	require.Len(t, snap, 1)
	key := fmt.Sprintf("%s:%s", llm.ProviderLocal, llm.LocalModelName)
	entry := snap[key]
	entry.LatenciesMs[0] = 9999

	p, _ := tr.Get(llm.ProviderLocal, llm.LocalModelName)
	assert.Equal(t, int64(1), p.LatenciesMs[0])
}
