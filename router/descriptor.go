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
	"fmt"
	"sort"
	"sync"
	"time"

	"symbiont/core/llm"
)

// QualityScores rates a backend on four capability axes, each in [0, 1].
type QualityScores struct {
	Reasoning  float64 `json:"reasoning"`
	Breadth    float64 `json:"breadth"`
	Code       float64 `json:"code"`
	Creativity float64 `json:"creativity"`
}

// ModelDescriptor is the capability record for one backend model.
// Cost fields are USD per 1K tokens. RetentionDays of zero with
// TrainsOnData false means the provider discards prompts immediately.
type ModelDescriptor struct {
	Provider          llm.ProviderID `json:"provider"`
	Model             string         `json:"model"`
	MaxContextTokens  int            `json:"max_context_tokens"`
	SupportsStreaming bool           `json:"supports_streaming"`
	SupportsFunctions bool           `json:"supports_functions"`
	SupportsVision    bool           `json:"supports_vision"`
	Quality           QualityScores  `json:"quality"`
	InputCostPer1K    float64        `json:"input_cost_per_1k"`
	OutputCostPer1K   float64        `json:"output_cost_per_1k"`
	TypicalLatency    time.Duration  `json:"typical_latency"`
	Availability      float64        `json:"availability"`
	RetentionDays     int            `json:"retention_days"`
	TrainsOnData      bool           `json:"trains_on_data"`
	LocalExecution    bool           `json:"local_execution"`
}

// Key uniquely identifies the descriptor within the registry and in
// persisted performance records.
func (d ModelDescriptor) Key() string {
	return string(d.Provider) + ":" + d.Model
}

// Free reports whether the backend bills nothing per token.
func (d ModelDescriptor) Free() bool {
	return d.InputCostPer1K == 0 && d.OutputCostPer1K == 0
}

// EstimateCost projects the USD cost of a call with the given token split.
func (d ModelDescriptor) EstimateCost(inputTokens, outputTokens int) float64 {
	return float64(inputTokens)/1000*d.InputCostPer1K +
		float64(outputTokens)/1000*d.OutputCostPer1K
}

func (d ModelDescriptor) validate() error {
	if d.Provider == "" {
		return fmt.Errorf("descriptor %q: %w", d.Model, ErrMissingProvider)
	}
	if d.Model == "" {
		return fmt.Errorf("descriptor for %s: %w", d.Provider, ErrMissingModel)
	}
	if d.MaxContextTokens <= 0 {
		return fmt.Errorf("descriptor %s: context window must be positive", d.Key())
	}
	for name, v := range map[string]float64{
		"reasoning":  d.Quality.Reasoning,
		"breadth":    d.Quality.Breadth,
		"code":       d.Quality.Code,
		"creativity": d.Quality.Creativity,
	} {
		if v < 0 || v > 1 {
			return fmt.Errorf("descriptor %s: %s quality %.2f outside [0,1]", d.Key(), name, v)
		}
	}
	return nil
}

// DescriptorOption mutates a descriptor during registration.
type DescriptorOption func(*ModelDescriptor)

// WithQuality sets all four capability axes.
func WithQuality(reasoning, breadth, code, creativity float64) DescriptorOption {
	return func(d *ModelDescriptor) {
		d.Quality = QualityScores{Reasoning: reasoning, Breadth: breadth, Code: code, Creativity: creativity}
	}
}

// WithCosts sets per-1K-token pricing.
func WithCosts(inputPer1K, outputPer1K float64) DescriptorOption {
	return func(d *ModelDescriptor) {
		d.InputCostPer1K = inputPer1K
		d.OutputCostPer1K = outputPer1K
	}
}

// WithLatency sets the typical round-trip latency.
func WithLatency(l time.Duration) DescriptorOption {
	return func(d *ModelDescriptor) { d.TypicalLatency = l }
}

// WithDataHandling sets the privacy posture of the backend.
func WithDataHandling(retentionDays int, trainsOnData bool) DescriptorOption {
	return func(d *ModelDescriptor) {
		d.RetentionDays = retentionDays
		d.TrainsOnData = trainsOnData
	}
}

// WithCapabilities toggles streaming, function-calling and vision support.
func WithCapabilities(streaming, functions, vision bool) DescriptorOption {
	return func(d *ModelDescriptor) {
		d.SupportsStreaming = streaming
		d.SupportsFunctions = functions
		d.SupportsVision = vision
	}
}

// WithLocalExecution marks the backend as running in-process.
func WithLocalExecution() DescriptorOption {
	return func(d *ModelDescriptor) {
		d.LocalExecution = true
		d.RetentionDays = 0
		d.TrainsOnData = false
	}
}

// Registry is the thread-safe catalog of known backend models.
type Registry struct {
	mu          sync.RWMutex
	descriptors map[string]ModelDescriptor
}

// NewRegistry returns an empty registry.
func NewRegistry() *Registry {
	return &Registry{descriptors: make(map[string]ModelDescriptor)}
}

// NewDefaultRegistry returns a registry pre-populated with the built-in
// catalog.
func NewDefaultRegistry() *Registry {
	r := NewRegistry()
	for _, d := range DefaultCatalog() {
		// Catalog entries are validated at test time; an invalid
		// built-in would be a programming error.
		if err := r.Register(d); err != nil {
			panic(err)
		}
	}
	return r
}

// Register validates and stores a descriptor. Re-registering the same
// (provider, model) pair replaces the previous entry.
func (r *Registry) Register(d ModelDescriptor, opts ...DescriptorOption) error {
	for _, opt := range opts {
		opt(&d)
	}
	if d.Availability == 0 {
		d.Availability = 0.99
	}
	if err := d.validate(); err != nil {
		return err
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.descriptors[d.Key()] = d
	return nil
}

// Get returns the descriptor for a (provider, model) pair.
func (r *Registry) Get(provider llm.ProviderID, model string) (ModelDescriptor, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	d, ok := r.descriptors[string(provider)+":"+model]
	return d, ok
}

// List returns all descriptors ordered by key for stable iteration.
func (r *Registry) List() []ModelDescriptor {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]ModelDescriptor, 0, len(r.descriptors))
	for _, d := range r.descriptors {
		out = append(out, d)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Key() < out[j].Key() })
	return out
}

// ByProvider returns all descriptors for one provider.
func (r *Registry) ByProvider(provider llm.ProviderID) []ModelDescriptor {
	var out []ModelDescriptor
	for _, d := range r.List() {
		if d.Provider == provider {
			out = append(out, d)
		}
	}
	return out
}

// Remove deletes a descriptor; removing an absent key is a no-op.
func (r *Registry) Remove(provider llm.ProviderID, model string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.descriptors, string(provider)+":"+model)
}

// DefaultCatalog is the built-in backend catalog. Pricing is USD per 1K
// tokens at the published list rates; quality axes are calibrated
// relative to each other, not against an external benchmark.
func DefaultCatalog() []ModelDescriptor {
	return []ModelDescriptor{
		{
			Provider:          llm.ProviderLocal,
			Model:             llm.LocalModelName,
			MaxContextTokens:  8192,
			SupportsStreaming: true,
			Quality:           QualityScores{Reasoning: 0.35, Breadth: 0.30, Code: 0.25, Creativity: 0.30},
			TypicalLatency:    50 * time.Millisecond,
			Availability:      1.0,
			LocalExecution:    true,
		},
		{
			Provider:          llm.ProviderAnthropic,
			Model:             "claude-3-5-sonnet",
			MaxContextTokens:  200000,
			SupportsStreaming: true,
			SupportsFunctions: true,
			SupportsVision:    true,
			Quality:           QualityScores{Reasoning: 0.95, Breadth: 0.90, Code: 0.93, Creativity: 0.90},
			InputCostPer1K:    0.003,
			OutputCostPer1K:   0.015,
			TypicalLatency:    1800 * time.Millisecond,
			Availability:      0.995,
			RetentionDays:     30,
		},
		{
			Provider:          llm.ProviderAnthropic,
			Model:             "claude-3-5-haiku",
			MaxContextTokens:  200000,
			SupportsStreaming: true,
			SupportsFunctions: true,
			Quality:           QualityScores{Reasoning: 0.80, Breadth: 0.78, Code: 0.80, Creativity: 0.72},
			InputCostPer1K:    0.0008,
			OutputCostPer1K:   0.004,
			TypicalLatency:    700 * time.Millisecond,
			Availability:      0.995,
			RetentionDays:     30,
		},
		{
			Provider:          llm.ProviderOpenAI,
			Model:             "gpt-4o",
			MaxContextTokens:  128000,
			SupportsStreaming: true,
			SupportsFunctions: true,
			SupportsVision:    true,
			Quality:           QualityScores{Reasoning: 0.93, Breadth: 0.92, Code: 0.90, Creativity: 0.88},
			InputCostPer1K:    0.0025,
			OutputCostPer1K:   0.01,
			TypicalLatency:    1500 * time.Millisecond,
			Availability:      0.995,
			RetentionDays:     30,
		},
		{
			Provider:          llm.ProviderOpenAI,
			Model:             "gpt-4o-mini",
			MaxContextTokens:  128000,
			SupportsStreaming: true,
			SupportsFunctions: true,
			Quality:           QualityScores{Reasoning: 0.72, Breadth: 0.75, Code: 0.70, Creativity: 0.68},
			InputCostPer1K:    0.00015,
			OutputCostPer1K:   0.0006,
			TypicalLatency:    600 * time.Millisecond,
			Availability:      0.995,
			RetentionDays:     30,
		},
		{
			Provider:          llm.ProviderGoogle,
			Model:             "gemini-1.5-pro",
			MaxContextTokens:  1000000,
			SupportsStreaming: true,
			SupportsFunctions: true,
			SupportsVision:    true,
			Quality:           QualityScores{Reasoning: 0.90, Breadth: 0.93, Code: 0.85, Creativity: 0.85},
			InputCostPer1K:    0.00125,
			OutputCostPer1K:   0.005,
			TypicalLatency:    1900 * time.Millisecond,
			Availability:      0.99,
			RetentionDays:     55,
		},
		{
			Provider:          llm.ProviderGoogle,
			Model:             "gemini-1.5-flash",
			MaxContextTokens:  1000000,
			SupportsStreaming: true,
			SupportsFunctions: true,
			Quality:           QualityScores{Reasoning: 0.70, Breadth: 0.78, Code: 0.68, Creativity: 0.65},
			InputCostPer1K:    0.000075,
			OutputCostPer1K:   0.0003,
			TypicalLatency:    500 * time.Millisecond,
			Availability:      0.99,
			RetentionDays:     55,
		},
		{
			Provider:          llm.ProviderMistral,
			Model:             "mistral-large",
			MaxContextTokens:  128000,
			SupportsStreaming: true,
			SupportsFunctions: true,
			Quality:           QualityScores{Reasoning: 0.85, Breadth: 0.82, Code: 0.84, Creativity: 0.78},
			InputCostPer1K:    0.002,
			OutputCostPer1K:   0.006,
			TypicalLatency:    1400 * time.Millisecond,
			Availability:      0.99,
			RetentionDays:     30,
		},
	}
}
