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

package router

import (
	"sync"
	"time"

	"symbiont/core/llm"
	"symbiont/core/shared/logger"
	"symbiont/core/storage"
)

const (
	// performanceWindow bounds the rolling sample rings per backend.
	performanceWindow = 100

	// performancePath is where the tracker persists its state.
	performancePath = "orchestrator/model_performance.json"
)

// Performance is the rolling record for one backend. Rings hold at most
// performanceWindow samples, oldest dropped first; averages are
// recomputed on every insert so readers never aggregate.
type Performance struct {
	Provider    llm.ProviderID `json:"provider"`
	Model       string         `json:"model"`
	TotalCalls  int64          `json:"total_calls"`
	Successes   int64          `json:"successes"`
	Failures    int64          `json:"failures"`
	LatenciesMs []int64        `json:"latencies_ms"`
	Costs       []float64      `json:"costs"`
	Quality     []float64      `json:"quality"`

	AvgLatencyMs float64   `json:"avg_latency_ms"`
	AvgCost      float64   `json:"avg_cost"`
	AvgQuality   float64   `json:"avg_quality"`
	ErrorRate    float64   `json:"error_rate"`
	LastError    string    `json:"last_error,omitempty"`
	LastUsed     time.Time `json:"last_used"`
}

func (p *Performance) clone() Performance {
	out := *p
	out.LatenciesMs = append([]int64(nil), p.LatenciesMs...)
	out.Costs = append([]float64(nil), p.Costs...)
	out.Quality = append([]float64(nil), p.Quality...)
	return out
}

func (p *Performance) recompute() {
	if len(p.LatenciesMs) > 0 {
		var sum int64
		for _, v := range p.LatenciesMs {
			sum += v
		}
		p.AvgLatencyMs = float64(sum) / float64(len(p.LatenciesMs))
	}
	if len(p.Costs) > 0 {
		var sum float64
		for _, v := range p.Costs {
			sum += v
		}
		p.AvgCost = sum / float64(len(p.Costs))
	}
	if len(p.Quality) > 0 {
		var sum float64
		for _, v := range p.Quality {
			sum += v
		}
		p.AvgQuality = sum / float64(len(p.Quality))
	}
	if p.TotalCalls > 0 {
		p.ErrorRate = float64(p.Failures) / float64(p.TotalCalls)
	}
}

// PerformanceTracker accumulates per-backend call outcomes and quality
// feedback. It is the only writer of the persisted performance file.
type PerformanceTracker struct {
	mu     sync.Mutex
	window int
	store  *storage.Store
	log    *logger.Logger
	perf   map[string]*Performance
}

// NewPerformanceTracker builds a tracker backed by store. A nil store
// keeps the tracker memory-only; a window of zero or less uses the
// default. Previously persisted state is loaded when present; a corrupt
// file starts fresh rather than failing.
func NewPerformanceTracker(store *storage.Store, window int) *PerformanceTracker {
	if window <= 0 {
		window = performanceWindow
	}
	t := &PerformanceTracker{
		window: window,
		store:  store,
		log:    logger.New("router-performance"),
		perf:   make(map[string]*Performance),
	}
	if store != nil {
		var persisted map[string]*Performance
		if err := store.ReadJSON(performancePath, &persisted); err == nil {
			t.perf = persisted
		} else if !storage.IsNotFound(err) {
			t.log.Warn("", "", "discarding unreadable performance state", map[string]interface{}{"error": err.Error()})
		}
	}
	return t
}

// RecordCall records one execution attempt and persists the new state.
func (t *PerformanceTracker) RecordCall(provider llm.ProviderID, model string, latency time.Duration, cost float64, success bool, errMsg string) {
	t.mu.Lock()
	defer t.mu.Unlock()

	p := t.get(provider, model)
	p.TotalCalls++
	p.LastUsed = time.Now().UTC()
	if success {
		p.Successes++
		p.LatenciesMs = append(p.LatenciesMs, latency.Milliseconds())
		if len(p.LatenciesMs) > t.window {
			p.LatenciesMs = p.LatenciesMs[1:]
		}
		p.Costs = append(p.Costs, cost)
		if len(p.Costs) > t.window {
			p.Costs = p.Costs[1:]
		}
	} else {
		p.Failures++
		p.LastError = errMsg
	}
	p.recompute()
	t.persistLocked()
}

// RecordQuality folds an external quality signal, such as user feedback,
// into the backend's rolling quality ring. Scores are clamped to [0, 1].
func (t *PerformanceTracker) RecordQuality(provider llm.ProviderID, model string, quality float64) {
	if quality < 0 {
		quality = 0
	} else if quality > 1 {
		quality = 1
	}
	t.mu.Lock()
	defer t.mu.Unlock()

	p := t.get(provider, model)
	p.Quality = append(p.Quality, quality)
	if len(p.Quality) > t.window {
		p.Quality = p.Quality[1:]
	}
	p.recompute()
	t.persistLocked()
}

// Get returns a copy of one backend's record.
func (t *PerformanceTracker) Get(provider llm.ProviderID, model string) (Performance, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	p, ok := t.perf[string(provider)+":"+model]
	if !ok {
		return Performance{}, false
	}
	return p.clone(), true
}

// Snapshot returns copies of every backend record keyed by
// "provider:model".
func (t *PerformanceTracker) Snapshot() map[string]Performance {
	t.mu.Lock()
	defer t.mu.Unlock()
	out := make(map[string]Performance, len(t.perf))
	for k, p := range t.perf {
		out[k] = p.clone()
	}
	return out
}

func (t *PerformanceTracker) get(provider llm.ProviderID, model string) *Performance {
	key := string(provider) + ":" + model
	p, ok := t.perf[key]
	if !ok {
		p = &Performance{Provider: provider, Model: model}
		t.perf[key] = p
	}
	return p
}

func (t *PerformanceTracker) persistLocked() {
	if t.store == nil {
		return
	}
	if err := t.store.WriteJSON(performancePath, t.perf); err != nil {
		t.log.Warn("", "", "failed to persist performance state", map[string]interface{}{"error": err.Error()})
	}
}
