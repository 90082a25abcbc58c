// Copyright 2025 Symbiont
// SPDX-License-Identifier: Apache-2.0

package router

import "time"

// defaultReferenceCostUSD anchors cost normalization: a call projected
// at or above this price scores zero.
const defaultReferenceCostUSD = 0.10

// latencyCeiling anchors latency normalization: a typical latency at or
// above this scores zero.
const latencyCeiling = 5 * time.Second

// costScore favors free backends outright and decays linearly with the
// projected price of this call.
func costScore(d ModelDescriptor, inputTokens, outputTokens int, refCost float64) float64 {
	if d.Free() {
		return 1.0
	}
	if refCost <= 0 {
		refCost = defaultReferenceCostUSD
	}
	score := 1.0 - d.EstimateCost(inputTokens, outputTokens)/refCost
	if score < 0 {
		return 0
	}
	return score
}

func latencyScore(d ModelDescriptor) float64 {
	score := 1.0 - float64(d.TypicalLatency)/float64(latencyCeiling)
	if score < 0 {
		return 0
	}
	return score
}

// qualityScore blends the reasoning and breadth axes according to task
// complexity. Trivial tasks treat every backend as adequate; expert
// tasks are only as strong as the weaker axis.
func qualityScore(d ModelDescriptor, c TaskComplexity) float64 {
	r, b := d.Quality.Reasoning, d.Quality.Breadth
	switch c {
	case ComplexityTrivial:
		return 1.0
	case ComplexitySimple:
		if r > b {
			return r
		}
		return b
	case ComplexityModerate:
		return 0.6*r + 0.4*b
	case ComplexityComplex:
		return 0.8*r + 0.2*b
	case ComplexityExpert:
		if r < b {
			return r
		}
		return b
	default:
		return 0.6*r + 0.4*b
	}
}

// privacyScore ranks data-handling postures. Local execution is ideal;
// zero retention without training comes next; not training on user data
// still counts for something; everything else is a poor fit.
func privacyScore(d ModelDescriptor) float64 {
	switch {
	case d.LocalExecution:
		return 1.0
	case d.RetentionDays == 0 && !d.TrainsOnData:
		return 0.8
	case !d.TrainsOnData:
		return 0.6
	default:
		return 0.3
	}
}

// score computes the goal-specific score for one candidate.
func score(d ModelDescriptor, req Requirements, refCost float64) float64 {
	switch req.Goal {
	case GoalCost:
		return costScore(d, req.EstimatedInputTokens, req.EstimatedOutputTokens, refCost)
	case GoalLatency:
		return latencyScore(d)
	case GoalQuality:
		return qualityScore(d, req.Complexity)
	case GoalPrivacy:
		return privacyScore(d)
	default:
		return 0.3*costScore(d, req.EstimatedInputTokens, req.EstimatedOutputTokens, refCost) +
			0.2*latencyScore(d) +
			0.4*qualityScore(d, req.Complexity) +
			0.1*privacyScore(d)
	}
}
