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
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/sony/gobreaker"
	"golang.org/x/sync/semaphore"

	"symbiont/core/config"
	"symbiont/core/llm"
	"symbiont/core/shared/logger"
	"symbiont/core/storage"
)

var (
	ErrMissingProvider   = errors.New("descriptor missing provider")
	ErrMissingModel      = errors.New("descriptor missing model")
	ErrNoAdapter         = errors.New("no adapter registered for provider")
	ErrAllBackendsFailed = errors.New("all backends failed")
	ErrCoolingDown       = errors.New("backend circuit open")
)

var (
	routerCallsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "symbiont_router_calls_total",
			Help: "Backend calls by provider and outcome.",
		},
		[]string{"provider", "status"},
	)
	routerCallDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "symbiont_router_call_duration_seconds",
			Help:    "Wall-clock duration of backend calls.",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"provider"},
	)
	routerFallbacksTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "symbiont_router_fallbacks_total",
			Help: "Executions completed by a backend other than the selected one.",
		},
	)
	routerSelectionsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "symbiont_router_selections_total",
			Help: "Selections by optimization goal.",
		},
		[]string{"goal"},
	)
)

func init() {
	prometheus.MustRegister(routerCallsTotal, routerCallDuration, routerFallbacksTotal, routerSelectionsTotal)
}

// Router picks a backend for each request and executes against it,
// falling back down a ranked provider list when calls fail. Each
// provider sits behind a circuit breaker; open breakers are invisible
// to selection.
type Router struct {
	cfg      config.RouterConfig
	registry *Registry
	perf     *PerformanceTracker
	log      *logger.Logger
	sem      *semaphore.Weighted

	mu       sync.RWMutex
	adapters map[llm.ProviderID]llm.Provider
	breakers map[llm.ProviderID]*gobreaker.CircuitBreaker
}

// New builds a Router. A nil registry gets the built-in catalog; a nil
// store keeps performance tracking memory-only.
func New(cfg config.RouterConfig, registry *Registry, store *storage.Store) *Router {
	if registry == nil {
		registry = NewDefaultRegistry()
	}
	r := &Router{
		cfg:      cfg,
		registry: registry,
		perf:     NewPerformanceTracker(store, cfg.PerformanceWindow),
		log:      logger.New("router"),
		adapters: make(map[llm.ProviderID]llm.Provider),
		breakers: make(map[llm.ProviderID]*gobreaker.CircuitBreaker),
	}
	if cfg.MaxConcurrentCalls > 0 {
		r.sem = semaphore.NewWeighted(cfg.MaxConcurrentCalls)
	}
	return r
}

// RegisterAdapter installs the execution adapter for a provider and arms
// its circuit breaker. Registering twice replaces the adapter but keeps
// the breaker history.
func (r *Router) RegisterAdapter(p llm.Provider) {
	r.mu.Lock()
	defer r.mu.Unlock()
	id := p.Name()
	r.adapters[id] = p
	if _, ok := r.breakers[id]; !ok {
		r.breakers[id] = r.newBreaker(id)
	}
}

// Registry exposes the descriptor catalog.
func (r *Router) Registry() *Registry {
	return r.registry
}

// Performance exposes the rolling per-backend tracker.
func (r *Router) Performance() *PerformanceTracker {
	return r.perf
}

// RecordQuality folds external quality feedback into the backend's
// rolling window.
func (r *Router) RecordQuality(provider llm.ProviderID, model string, quality float64) {
	r.perf.RecordQuality(provider, model, quality)
}

// Select filters the catalog against req's hard requirements, scores the
// survivors for req.Goal, and returns the winner. When nothing survives
// it returns the local backend with confidence 0.5 and Fallback set.
func (r *Router) Select(ctx context.Context, req Requirements) Selection {
	req = req.normalized()
	routerSelectionsTotal.WithLabelValues(string(req.Goal)).Inc()

	candidates := r.candidates(ctx, req)
	if len(candidates) == 0 {
		sel := Selection{
			Provider:   llm.ProviderLocal,
			Model:      r.localModel(),
			Confidence: 0.5,
			Goal:       req.Goal,
			Reason:     "no backend satisfied requirements, using local fallback",
			Fallback:   true,
		}
		r.log.Warn("", "", "selection fell back to local backend", map[string]interface{}{
			"goal":       string(req.Goal),
			"complexity": string(req.Complexity),
		})
		return sel
	}

	// A preferred model that survived filtering wins outright for tasks
	// up to moderate complexity. Harder tasks always go through scoring.
	if req.PreferredModel != "" && req.Complexity.AtMost(ComplexityModerate) {
		for _, c := range candidates {
			if c.Model == req.PreferredModel {
				return r.selected(c, score(c, req, r.cfg.ReferenceCostUSD), req, len(candidates), "preferred model")
			}
		}
	}

	best := candidates[0]
	bestScore := score(best, req, r.cfg.ReferenceCostUSD)
	for _, c := range candidates[1:] {
		if s := score(c, req, r.cfg.ReferenceCostUSD); s > bestScore {
			best, bestScore = c, s
		}
	}
	reason := fmt.Sprintf("best %s score among %d candidates", req.Goal, len(candidates))
	return r.selected(best, bestScore, req, len(candidates), reason)
}

func (r *Router) selected(d ModelDescriptor, confidence float64, req Requirements, n int, reason string) Selection {
	sel := Selection{
		Provider:   d.Provider,
		Model:      d.Model,
		Confidence: confidence,
		Goal:       req.Goal,
		Reason:     reason,
		Candidates: n,
	}
	r.log.Info("", "", "selected backend", map[string]interface{}{
		"provider":   string(sel.Provider),
		"model":      sel.Model,
		"goal":       string(req.Goal),
		"confidence": fmt.Sprintf("%.3f", confidence),
		"candidates": n,
	})
	return sel
}

// candidates returns the descriptors that satisfy every hard requirement
// and are currently callable. Order follows the registry's stable key
// order, so ties resolve deterministically.
func (r *Router) candidates(ctx context.Context, req Requirements) []ModelDescriptor {
	var out []ModelDescriptor
	for _, d := range r.registry.List() {
		if !r.meets(d, req) {
			continue
		}
		if !r.callable(ctx, d.Provider) {
			continue
		}
		out = append(out, d)
	}
	return out
}

func (r *Router) meets(d ModelDescriptor, req Requirements) bool {
	if req.NeedsStreaming && !d.SupportsStreaming {
		return false
	}
	if req.NeedsFunctions && !d.SupportsFunctions {
		return false
	}
	if req.NeedsVision && !d.SupportsVision {
		return false
	}
	if req.LocalOnly && !d.LocalExecution {
		return false
	}
	if req.EstimatedInputTokens+req.EstimatedOutputTokens > d.MaxContextTokens {
		return false
	}
	if req.MaxCostUSD > 0 && d.EstimateCost(req.EstimatedInputTokens, req.EstimatedOutputTokens) > req.MaxCostUSD {
		return false
	}
	if req.MaxLatency > 0 && d.TypicalLatency > req.MaxLatency {
		return false
	}
	return true
}

// callable requires a registered, reachable adapter with a closed or
// half-open breaker.
func (r *Router) callable(ctx context.Context, id llm.ProviderID) bool {
	r.mu.RLock()
	adapter, ok := r.adapters[id]
	breaker := r.breakers[id]
	r.mu.RUnlock()
	if !ok {
		return false
	}
	if breaker != nil && breaker.State() == gobreaker.StateOpen {
		return false
	}
	return adapter.IsAvailable(ctx)
}

// Execute runs the generation against the selected backend. On failure
// it walks the configured fallback order, ending at the local backend.
// A cancelled parent context stops the walk immediately.
func (r *Router) Execute(ctx context.Context, req Requirements, sel Selection, greq llm.GenerateRequest) (*llm.GenerateResponse, error) {
	req = req.normalized()

	plan := r.plan(req, sel)
	var lastErr error
	for i, step := range plan {
		if err := ctx.Err(); err != nil {
			return nil, llm.NewProviderError(step.Provider, llm.ErrCodeCancelled, err.Error())
		}
		resp, err := r.callBackend(ctx, step.Provider, step.Model, greq)
		if err == nil {
			if i > 0 {
				routerFallbacksTotal.Inc()
				r.log.Warn("", "", "execution fell back", map[string]interface{}{
					"selected": string(sel.Provider),
					"served":   string(step.Provider),
					"model":    step.Model,
				})
			}
			return resp, nil
		}
		lastErr = err
		if ctx.Err() != nil {
			return nil, err
		}
	}
	return nil, fmt.Errorf("%w: last error: %v", ErrAllBackendsFailed, lastErr)
}

type planStep struct {
	Provider llm.ProviderID
	Model    string
}

// plan is the execution order: the selection first, then the configured
// cloud fallback providers, then the local backend. Each fallback
// provider contributes its best descriptor that still meets the hard
// requirements; providers with open breakers or no adapter are skipped.
func (r *Router) plan(req Requirements, sel Selection) []planStep {
	steps := []planStep{{Provider: sel.Provider, Model: sel.Model}}
	seen := map[llm.ProviderID]bool{sel.Provider: true}

	order := make([]llm.ProviderID, 0, len(r.cfg.FallbackOrder)+1)
	for _, name := range r.cfg.FallbackOrder {
		order = append(order, llm.ProviderID(name))
	}
	order = append(order, llm.ProviderLocal)

	for _, pid := range order {
		if seen[pid] {
			continue
		}
		seen[pid] = true
		if !r.callableNow(pid) {
			continue
		}
		if d, ok := r.bestForProvider(pid, req); ok {
			steps = append(steps, planStep{Provider: pid, Model: d.Model})
		}
	}
	return steps
}

// callableNow checks adapter presence and breaker state without probing
// availability; the call itself is the probe during fallback.
func (r *Router) callableNow(id llm.ProviderID) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if _, ok := r.adapters[id]; !ok {
		return false
	}
	if b := r.breakers[id]; b != nil && b.State() == gobreaker.StateOpen {
		return false
	}
	return true
}

func (r *Router) bestForProvider(pid llm.ProviderID, req Requirements) (ModelDescriptor, bool) {
	var best ModelDescriptor
	bestScore := -1.0
	for _, d := range r.registry.ByProvider(pid) {
		if !r.meets(d, req) {
			continue
		}
		if s := score(d, req, r.cfg.ReferenceCostUSD); s > bestScore {
			best, bestScore = d, s
		}
	}
	return best, bestScore >= 0
}

// callBackend performs one guarded call, measures wall-clock latency,
// and records the outcome. Breaker rejections are not recorded as
// backend failures because no call reached the backend.
func (r *Router) callBackend(ctx context.Context, pid llm.ProviderID, model string, greq llm.GenerateRequest) (*llm.GenerateResponse, error) {
	r.mu.RLock()
	adapter, ok := r.adapters[pid]
	breaker := r.breakers[pid]
	r.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrNoAdapter, pid)
	}

	if r.sem != nil {
		if err := r.sem.Acquire(ctx, 1); err != nil {
			return nil, llm.NewProviderError(pid, llm.ErrCodeCancelled, err.Error())
		}
		defer r.sem.Release(1)
	}

	timeout := r.cfg.RemoteTimeout
	if pid == llm.ProviderLocal {
		timeout = r.cfg.LocalTimeout
	}
	greq.Model = model

	start := time.Now()
	out, err := breaker.Execute(func() (interface{}, error) {
		cctx := ctx
		if timeout > 0 {
			var cancel context.CancelFunc
			cctx, cancel = context.WithTimeout(ctx, timeout)
			defer cancel()
		}
		return adapter.Generate(cctx, greq)
	})
	latency := time.Since(start)

	if err != nil {
		if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
			routerCallsTotal.WithLabelValues(string(pid), "rejected").Inc()
			return nil, fmt.Errorf("%w: %s", ErrCoolingDown, pid)
		}
		r.perf.RecordCall(pid, model, latency, 0, false, err.Error())
		routerCallsTotal.WithLabelValues(string(pid), "error").Inc()
		routerCallDuration.WithLabelValues(string(pid)).Observe(latency.Seconds())
		r.log.Warn("", "", "backend call failed", map[string]interface{}{
			"provider": string(pid),
			"model":    model,
			"error":    err.Error(),
		})
		return nil, err
	}

	resp := out.(*llm.GenerateResponse)
	resp.Provider = pid
	resp.Latency = latency
	if resp.Model == "" {
		resp.Model = model
	}
	r.perf.RecordCall(pid, model, latency, resp.Cost, true, "")
	routerCallsTotal.WithLabelValues(string(pid), "success").Inc()
	routerCallDuration.WithLabelValues(string(pid)).Observe(latency.Seconds())
	return resp, nil
}

func (r *Router) newBreaker(id llm.ProviderID) *gobreaker.CircuitBreaker {
	minCalls := r.cfg.BreakerMinCalls
	if minCalls == 0 {
		minCalls = 20
	}
	ratio := r.cfg.BreakerErrorRatio
	if ratio == 0 {
		ratio = 0.5
	}
	cooldown := r.cfg.BreakerCooldown
	if cooldown == 0 {
		cooldown = time.Minute
	}
	return gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:        string(id),
		MaxRequests: 1,
		Timeout:     cooldown,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.Requests >= minCalls &&
				float64(counts.TotalFailures)/float64(counts.Requests) > ratio
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			r.log.Warn("", "", "breaker state changed", map[string]interface{}{
				"provider": name,
				"from":     from.String(),
				"to":       to.String(),
			})
		},
	})
}

func (r *Router) localModel() string {
	if ds := r.registry.ByProvider(llm.ProviderLocal); len(ds) > 0 {
		return ds[0].Model
	}
	return llm.LocalModelName
}

// ProviderStatus is the externally visible health of one provider.
type ProviderStatus struct {
	Provider  llm.ProviderID `json:"provider"`
	Available bool           `json:"available"`
	Breaker   string         `json:"breaker_state"`
	Models    []string       `json:"models"`
}

// ProviderStatuses reports every registered adapter with its breaker
// state and catalog models, ordered by provider id.
func (r *Router) ProviderStatuses(ctx context.Context) []ProviderStatus {
	r.mu.RLock()
	ids := make([]llm.ProviderID, 0, len(r.adapters))
	for id := range r.adapters {
		ids = append(ids, id)
	}
	r.mu.RUnlock()

	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	out := make([]ProviderStatus, 0, len(ids))
	for _, id := range ids {
		r.mu.RLock()
		adapter := r.adapters[id]
		breaker := r.breakers[id]
		r.mu.RUnlock()

		st := ProviderStatus{Provider: id, Breaker: "closed"}
		if breaker != nil {
			st.Breaker = breaker.State().String()
		}
		st.Available = adapter.IsAvailable(ctx) && st.Breaker != gobreaker.StateOpen.String()
		for _, d := range r.registry.ByProvider(id) {
			st.Models = append(st.Models, d.Model)
		}
		out = append(out, st)
	}
	return out
}
