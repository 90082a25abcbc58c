// Copyright 2025 Symbiont
// SPDX-License-Identifier: Apache-2.0

package router

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"symbiont/core/config"
	"symbiont/core/llm"
)

// mockProvider is a scriptable llm.Provider for routing tests.
type mockProvider struct {
	id        llm.ProviderID
	available bool
	failWith  error
	delay     time.Duration
	text      string
	cost      float64
	calls     int
}

func newMockProvider(id llm.ProviderID) *mockProvider {
	return &mockProvider{id: id, available: true, text: "ok"}
}

func (m *mockProvider) Name() llm.ProviderID { return m.id }

func (m *mockProvider) IsAvailable(ctx context.Context) bool { return m.available }

func (m *mockProvider) Generate(ctx context.Context, req llm.GenerateRequest) (*llm.GenerateResponse, error) {
	m.calls++
	if m.delay > 0 {
		select {
		case <-time.After(m.delay):
		case <-ctx.Done():
			return nil, llm.NewProviderError(m.id, llm.ErrCodeCancelled, ctx.Err().Error())
		}
	}
	if m.failWith != nil {
		return nil, m.failWith
	}
	return &llm.GenerateResponse{
		Text:         m.text,
		Model:        req.Model,
		InputTokens:  10,
		OutputTokens: 20,
		Cost:         m.cost,
		FinishReason: llm.FinishStop,
	}, nil
}

func (m *mockProvider) GenerateStream(ctx context.Context, req llm.GenerateRequest, fn llm.StreamHandler) (*llm.GenerateResponse, error) {
	resp, err := m.Generate(ctx, req)
	if err != nil {
		return nil, err
	}
	if fn != nil {
		if err := fn(llm.StreamChunk{Text: resp.Text, Done: true}); err != nil {
			return nil, err
		}
	}
	return resp, nil
}

func testRouterConfig() config.RouterConfig {
	cfg := config.DefaultConfig().Router
	cfg.MaxConcurrentCalls = 4
	return cfg
}

func TestSelectPrivacyGoalPrefersLocal(t *testing.T) {
	r := New(testRouterConfig(), nil, nil)
	r.RegisterAdapter(llm.NewLocal())
	r.RegisterAdapter(newMockProvider(llm.ProviderAnthropic))

	sel := r.Select(context.Background(), Requirements{Goal: GoalPrivacy})

	assert.Equal(t, llm.ProviderLocal, sel.Provider)
	assert.False(t, sel.Fallback)
	assert.InDelta(t, 1.0, sel.Confidence, 1e-9)
}

func TestSelectLocalOnlyExcludesCloud(t *testing.T) {
	r := New(testRouterConfig(), nil, nil)
	r.RegisterAdapter(llm.NewLocal())
	r.RegisterAdapter(newMockProvider(llm.ProviderAnthropic))
	r.RegisterAdapter(newMockProvider(llm.ProviderOpenAI))

	sel := r.Select(context.Background(), Requirements{Goal: GoalQuality, LocalOnly: true})

	assert.Equal(t, llm.ProviderLocal, sel.Provider)
	assert.Equal(t, 1, sel.Candidates)
}

func TestSelectQualityGoalPicksStrongestBlend(t *testing.T) {
	r := New(testRouterConfig(), nil, nil)
	r.RegisterAdapter(llm.NewLocal())
	r.RegisterAdapter(newMockProvider(llm.ProviderAnthropic))
	r.RegisterAdapter(newMockProvider(llm.ProviderOpenAI))

	complex := r.Select(context.Background(), Requirements{Goal: GoalQuality, Complexity: ComplexityComplex})
	assert.Equal(t, "claude-3-5-sonnet", complex.Model)

	// Expert weighs the weaker axis, where gpt-4o's narrower spread wins.
	expert := r.Select(context.Background(), Requirements{Goal: GoalQuality, Complexity: ComplexityExpert})
	assert.Equal(t, "gpt-4o", expert.Model)
}

func TestSelectCostGoalPrefersFree(t *testing.T) {
	r := New(testRouterConfig(), nil, nil)
	r.RegisterAdapter(llm.NewLocal())
	r.RegisterAdapter(newMockProvider(llm.ProviderOpenAI))

	sel := r.Select(context.Background(), Requirements{
		Goal:                  GoalCost,
		EstimatedInputTokens:  1000,
		EstimatedOutputTokens: 1000,
	})

	assert.Equal(t, llm.ProviderLocal, sel.Provider)
}

func TestSelectPreferredModelShortCircuit(t *testing.T) {
	r := New(testRouterConfig(), nil, nil)
	r.RegisterAdapter(llm.NewLocal())
	r.RegisterAdapter(newMockProvider(llm.ProviderAnthropic))
	r.RegisterAdapter(newMockProvider(llm.ProviderOpenAI))

	simple := r.Select(context.Background(), Requirements{
		Goal:           GoalQuality,
		Complexity:     ComplexitySimple,
		PreferredModel: "gpt-4o-mini",
	})
	assert.Equal(t, "gpt-4o-mini", simple.Model)
	assert.Equal(t, "preferred model", simple.Reason)

	// Preferences do not bind above moderate complexity.
	expert := r.Select(context.Background(), Requirements{
		Goal:           GoalQuality,
		Complexity:     ComplexityExpert,
		PreferredModel: "gpt-4o-mini",
	})
	assert.NotEqual(t, "gpt-4o-mini", expert.Model)
}

func TestSelectNoCandidatesFallsBackToLocal(t *testing.T) {
	r := New(testRouterConfig(), nil, nil)
	// No adapters registered at all.

	sel := r.Select(context.Background(), Requirements{Goal: GoalBalanced})

	assert.True(t, sel.Fallback)
	assert.Equal(t, llm.ProviderLocal, sel.Provider)
	assert.Equal(t, llm.LocalModelName, sel.Model)
	assert.InDelta(t, 0.5, sel.Confidence, 1e-9)
}

func TestSelectSkipsUnavailableAdapter(t *testing.T) {
	r := New(testRouterConfig(), nil, nil)
	down := newMockProvider(llm.ProviderAnthropic)
	down.available = false
	r.RegisterAdapter(down)
	r.RegisterAdapter(newMockProvider(llm.ProviderOpenAI))

	sel := r.Select(context.Background(), Requirements{Goal: GoalQuality, Complexity: ComplexityComplex})

	assert.Equal(t, llm.ProviderOpenAI, sel.Provider)
}

func TestExecuteFallbackWalk(t *testing.T) {
	cfg := testRouterConfig()
	cfg.FallbackOrder = []string{"openai"}
	r := New(cfg, nil, nil)

	primary := newMockProvider(llm.ProviderAnthropic)
	primary.failWith = llm.NewProviderError(llm.ProviderAnthropic, llm.ErrCodeServerError, "upstream 500")
	backup := newMockProvider(llm.ProviderOpenAI)
	r.RegisterAdapter(primary)
	r.RegisterAdapter(backup)

	sel := Selection{Provider: llm.ProviderAnthropic, Model: "claude-3-5-sonnet"}
	resp, err := r.Execute(context.Background(), Requirements{}, sel, llm.GenerateRequest{Prompt: "hi"})

	require.NoError(t, err)
	assert.Equal(t, llm.ProviderOpenAI, resp.Provider)
	assert.Equal(t, 1, primary.calls)
	assert.Equal(t, 1, backup.calls)

	failed, ok := r.Performance().Get(llm.ProviderAnthropic, "claude-3-5-sonnet")
	require.True(t, ok)
	assert.Equal(t, int64(1), failed.Failures)
}

func TestExecuteLocalIsTerminalFallback(t *testing.T) {
	cfg := testRouterConfig()
	cfg.FallbackOrder = nil
	r := New(cfg, nil, nil)

	primary := newMockProvider(llm.ProviderAnthropic)
	primary.failWith = errors.New("connection refused")
	r.RegisterAdapter(primary)
	r.RegisterAdapter(llm.NewLocal())

	sel := Selection{Provider: llm.ProviderAnthropic, Model: "claude-3-5-sonnet"}
	resp, err := r.Execute(context.Background(), Requirements{}, sel, llm.GenerateRequest{Prompt: "hello"})

	require.NoError(t, err)
	assert.Equal(t, llm.ProviderLocal, resp.Provider)
}

func TestExecuteAllBackendsFailed(t *testing.T) {
	cfg := testRouterConfig()
	cfg.FallbackOrder = nil
	r := New(cfg, nil, nil)

	primary := newMockProvider(llm.ProviderAnthropic)
	primary.failWith = errors.New("connection refused")
	r.RegisterAdapter(primary)

	sel := Selection{Provider: llm.ProviderAnthropic, Model: "claude-3-5-sonnet"}
	_, err := r.Execute(context.Background(), Requirements{}, sel, llm.GenerateRequest{Prompt: "hello"})

	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrAllBackendsFailed))
}

func TestExecuteLocalOnlyNeverLeavesDevice(t *testing.T) {
	cfg := testRouterConfig()
	r := New(cfg, nil, nil)

	local := newMockProvider(llm.ProviderLocal)
	local.failWith = errors.New("model crashed")
	cloud := newMockProvider(llm.ProviderAnthropic)
	r.RegisterAdapter(local)
	r.RegisterAdapter(cloud)

	sel := Selection{Provider: llm.ProviderLocal, Model: llm.LocalModelName}
	_, err := r.Execute(context.Background(), Requirements{LocalOnly: true}, sel, llm.GenerateRequest{Prompt: "hello"})

	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrAllBackendsFailed))
	assert.Equal(t, 0, cloud.calls, "local-only execution must not touch cloud backends")
}

func TestExecuteCancelledContextStopsWalk(t *testing.T) {
	r := New(testRouterConfig(), nil, nil)
	r.RegisterAdapter(llm.NewLocal())

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	sel := Selection{Provider: llm.ProviderLocal, Model: llm.LocalModelName}
	_, err := r.Execute(ctx, Requirements{}, sel, llm.GenerateRequest{Prompt: "hello"})

	require.Error(t, err)
	var pe *llm.ProviderError
	require.True(t, errors.As(err, &pe))
	assert.Equal(t, llm.ErrCodeCancelled, pe.Code)
}

func TestExecuteMeasuresWallClockLatency(t *testing.T) {
	r := New(testRouterConfig(), nil, nil)
	slow := newMockProvider(llm.ProviderAnthropic)
	slow.delay = 20 * time.Millisecond
	r.RegisterAdapter(slow)

	sel := Selection{Provider: llm.ProviderAnthropic, Model: "claude-3-5-haiku"}
	resp, err := r.Execute(context.Background(), Requirements{}, sel, llm.GenerateRequest{Prompt: "hello"})

	require.NoError(t, err)
	assert.GreaterOrEqual(t, resp.Latency, 20*time.Millisecond)
	assert.Equal(t, llm.ProviderAnthropic, resp.Provider)
}

func TestBreakerTripsAndSelectionSkips(t *testing.T) {
	cfg := testRouterConfig()
	cfg.FallbackOrder = nil
	cfg.BreakerMinCalls = 3
	cfg.BreakerErrorRatio = 0.5
	cfg.BreakerCooldown = time.Hour
	r := New(cfg, nil, nil)

	flappy := newMockProvider(llm.ProviderAnthropic)
	flappy.failWith = errors.New("upstream down")
	r.RegisterAdapter(flappy)

	sel := Selection{Provider: llm.ProviderAnthropic, Model: "claude-3-5-sonnet"}
	for i := 0; i < 3; i++ {
		_, err := r.Execute(context.Background(), Requirements{}, sel, llm.GenerateRequest{Prompt: "x"})
		require.Error(t, err)
	}

	// The breaker is open: selection must not offer the provider again.
	after := r.Select(context.Background(), Requirements{Goal: GoalQuality})
	assert.True(t, after.Fallback)
	assert.Equal(t, llm.ProviderLocal, after.Provider)

	// And direct execution is rejected without reaching the backend.
	before := flappy.calls
	_, err := r.Execute(context.Background(), Requirements{}, sel, llm.GenerateRequest{Prompt: "x"})
	require.Error(t, err)
	assert.Equal(t, before, flappy.calls)
}

func TestRegistryValidation(t *testing.T) {
	r := NewRegistry()

	err := r.Register(ModelDescriptor{Provider: llm.ProviderOpenAI, MaxContextTokens: 10})
	assert.True(t, errors.Is(err, ErrMissingModel))

	err = r.Register(ModelDescriptor{
		Provider: llm.ProviderOpenAI, Model: "m", MaxContextTokens: 10,
		Quality: QualityScores{Reasoning: 1.5},
	})
	assert.Error(t, err)

	require.NoError(t, r.Register(
		ModelDescriptor{Provider: llm.ProviderOpenAI, Model: "m", MaxContextTokens: 10},
		WithQuality(0.5, 0.5, 0.5, 0.5),
		WithCosts(0.001, 0.002),
		WithDataHandling(30, false),
	))
	d, ok := r.Get(llm.ProviderOpenAI, "m")
	require.True(t, ok)
	assert.Equal(t, 0.001, d.InputCostPer1K)
	assert.Equal(t, 30, d.RetentionDays)
}

func TestProviderStatuses(t *testing.T) {
	r := New(testRouterConfig(), nil, nil)
	r.RegisterAdapter(llm.NewLocal())
	down := newMockProvider(llm.ProviderAnthropic)
	down.available = false
	r.RegisterAdapter(down)

	statuses := r.ProviderStatuses(context.Background())
	require.Len(t, statuses, 2)

	byID := map[llm.ProviderID]ProviderStatus{}
	for _, s := range statuses {
		byID[s.Provider] = s
	}
	assert.True(t, byID[llm.ProviderLocal].Available)
	assert.Contains(t, byID[llm.ProviderLocal].Models, llm.LocalModelName)
	assert.False(t, byID[llm.ProviderAnthropic].Available)
	assert.Equal(t, "closed", byID[llm.ProviderAnthropic].Breaker)
}
