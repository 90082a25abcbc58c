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

/*
Package router selects and executes language-model backends.

# Overview

A ModelDescriptor registry records what each backend can do and what it
costs. Selection filters descriptors against hard task requirements,
scores the survivors for the caller's optimization goal (cost, latency,
quality, privacy, or balanced), and returns the top candidate; when
nothing survives, the always-present local backend is the fallback.

Execution dispatches through the llm.Provider adapter registered for the
chosen backend. Failures walk a ranked cloud fallback list; each backend
sits behind a circuit breaker that trips on a high error ratio and
removes the backend from selection for a cool-down window. Every attempt,
successful or not, lands in the rolling performance window and is
persisted.

# Selection Goals

	cost:     free beats cheap beats expensive
	latency:  normalized against a 5 second ceiling
	quality:  complexity-dependent blend of the capability axes
	privacy:  local > no retention > no training > everything else
	balanced: 0.3 cost + 0.2 latency + 0.4 quality + 0.1 privacy

# Performance

The tracker keeps the last 100 samples per backend (latency, cost,
quality feedback) in drop-oldest rings, recomputes averages on every
insert, and persists to orchestrator/model_performance.json.
*/
package router
