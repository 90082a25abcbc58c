// Copyright 2025 Symbiont
// SPDX-License-Identifier: Apache-2.0

package router

import (
	"fmt"
	"time"

	"symbiont/core/llm"
)

// TaskComplexity grades how demanding a task is. It drives the quality
// blend during scoring and gates the preferred-model short circuit.
type TaskComplexity string

const (
	ComplexityTrivial  TaskComplexity = "trivial"
	ComplexitySimple   TaskComplexity = "simple"
	ComplexityModerate TaskComplexity = "moderate"
	ComplexityComplex  TaskComplexity = "complex"
	ComplexityExpert   TaskComplexity = "expert"
)

// rank orders complexities so they can be compared. Unknown values rank
// highest so a malformed complexity never unlocks the short circuit.
func (c TaskComplexity) rank() int {
	switch c {
	case ComplexityTrivial:
		return 0
	case ComplexitySimple:
		return 1
	case ComplexityModerate:
		return 2
	case ComplexityComplex:
		return 3
	case ComplexityExpert:
		return 4
	default:
		return 5
	}
}

// AtMost reports whether c is no more demanding than other.
func (c TaskComplexity) AtMost(other TaskComplexity) bool {
	return c.rank() <= other.rank()
}

// OptimizationGoal names what selection should maximize.
type OptimizationGoal string

const (
	GoalCost     OptimizationGoal = "cost"
	GoalLatency  OptimizationGoal = "latency"
	GoalQuality  OptimizationGoal = "quality"
	GoalPrivacy  OptimizationGoal = "privacy"
	GoalBalanced OptimizationGoal = "balanced"
)

// Valid reports whether g is a known goal.
func (g OptimizationGoal) Valid() bool {
	switch g {
	case GoalCost, GoalLatency, GoalQuality, GoalPrivacy, GoalBalanced:
		return true
	}
	return false
}

// Requirements are the hard and soft constraints of one request.
// Zero-valued limits are unconstrained.
type Requirements struct {
	Goal           OptimizationGoal `json:"goal"`
	Complexity     TaskComplexity   `json:"complexity"`
	NeedsStreaming bool             `json:"needs_streaming"`
	NeedsFunctions bool             `json:"needs_functions"`
	NeedsVision    bool             `json:"needs_vision"`
	LocalOnly      bool             `json:"local_only"`

	// EstimatedInputTokens and EstimatedOutputTokens size the request
	// against each backend's context window and projected cost.
	EstimatedInputTokens  int `json:"estimated_input_tokens"`
	EstimatedOutputTokens int `json:"estimated_output_tokens"`

	MaxCostUSD float64       `json:"max_cost_usd,omitempty"`
	MaxLatency time.Duration `json:"max_latency,omitempty"`

	// PreferredModel, when it survives filtering and the task is at
	// most moderate, wins without scoring.
	PreferredModel string `json:"preferred_model,omitempty"`
}

func (r Requirements) normalized() Requirements {
	if r.Goal == "" {
		r.Goal = GoalBalanced
	}
	if r.Complexity == "" {
		r.Complexity = ComplexityModerate
	}
	return r
}

// Selection is the routing decision for one request.
type Selection struct {
	Provider   llm.ProviderID   `json:"provider"`
	Model      string           `json:"model"`
	Confidence float64          `json:"confidence"`
	Goal       OptimizationGoal `json:"goal"`
	Reason     string           `json:"reason"`
	Fallback   bool             `json:"fallback"`
	Candidates int              `json:"candidates"`
}

func (s Selection) String() string {
	return fmt.Sprintf("%s:%s (%.2f, %s)", s.Provider, s.Model, s.Confidence, s.Goal)
}
