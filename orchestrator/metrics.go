// Copyright 2025 Symbiont
// SPDX-License-Identifier: Apache-2.0

package orchestrator

import (
	"sort"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

var (
	pipelineRequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "symbiont_pipeline_requests_total",
			Help: "Requests by terminal status.",
		},
		[]string{"status"},
	)
	stageDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "symbiont_stage_duration_seconds",
			Help:    "Wall-clock duration of each pipeline stage.",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"stage"},
	)
	stageFailuresTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "symbiont_stage_failures_total",
			Help: "Stage failures by stage and error kind.",
		},
		[]string{"stage", "kind"},
	)
)

func init() {
	prometheus.MustRegister(pipelineRequestsTotal, stageDuration, stageFailuresTotal)
}

// Terminal status labels for pipelineRequestsTotal.
const (
	statusSuccess   = "success"
	statusFailure   = "failure"
	statusCancelled = "cancelled"
)

// timingWindow bounds the in-process samples kept per stage.
const timingWindow = 1000

// TimingSummary describes one stage's recent latency distribution.
type TimingSummary struct {
	Count int     `json:"count"`
	AvgMS float64 `json:"avg_ms"`
	P50MS float64 `json:"p50_ms"`
	P95MS float64 `json:"p95_ms"`
	P99MS float64 `json:"p99_ms"`
}

// stageTimings keeps a rolling window of durations per stage for the
// snapshot surface. Prometheus histograms cover scraping; this exists so
// the collaborator API can answer without a scrape round trip.
type stageTimings struct {
	mu      sync.Mutex
	samples map[Stage][]time.Duration
}

func newStageTimings() *stageTimings {
	return &stageTimings{samples: make(map[Stage][]time.Duration)}
}

func (t *stageTimings) record(s Stage, d time.Duration) {
	t.mu.Lock()
	defer t.mu.Unlock()
	window := t.samples[s]
	if len(window) >= timingWindow {
		window = window[1:]
	}
	t.samples[s] = append(window, d)
}

func (t *stageTimings) snapshot() map[Stage]TimingSummary {
	t.mu.Lock()
	defer t.mu.Unlock()

	out := make(map[Stage]TimingSummary, len(t.samples))
	for s, window := range t.samples {
		if len(window) == 0 {
			continue
		}
		sorted := make([]time.Duration, len(window))
		copy(sorted, window)
		sort.Slice(sorted, func(i, j int) bool { return sorted[i] < sorted[j] })

		var total time.Duration
		for _, d := range sorted {
			total += d
		}
		out[s] = TimingSummary{
			Count: len(sorted),
			AvgMS: durationMS(total / time.Duration(len(sorted))),
			P50MS: durationMS(percentileDuration(sorted, 0.50)),
			P95MS: durationMS(percentileDuration(sorted, 0.95)),
			P99MS: durationMS(percentileDuration(sorted, 0.99)),
		}
	}
	return out
}

// percentileDuration reads the given percentile from an already sorted
// sample window.
func percentileDuration(sorted []time.Duration, pct float64) time.Duration {
	if len(sorted) == 0 {
		return 0
	}
	idx := int(float64(len(sorted)) * pct)
	if idx >= len(sorted) {
		idx = len(sorted) - 1
	}
	return sorted[idx]
}

func durationMS(d time.Duration) float64 {
	return float64(d) / float64(time.Millisecond)
}
