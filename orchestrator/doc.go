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
Package orchestrator drives each request through the assistance pipeline
and produces an immutable Request record of everything that happened.

# Stages

	intake → pii-detection → context-retrieval → gate-evaluation →
	model-selection → execution → response-validation → monitoring →
	context-update → performance-tracking → feedback

The pipeline is a linear state machine: each stage runs exactly once, in
order, and records its timing and detail on the Request before the next
stage starts. A stage failure freezes the Request at that stage with a
typed error kind; a request that makes it through every stage terminates
at the response stage with Success set. Upstream cancellation terminates
at the cancelled stage, and the privacy charge is refunded unless
execution had already begun.

Requests from the same user are admitted strictly in start order, one at
a time, so budget charges, agency snapshots, and feedback events land in
a deterministic sequence. Requests from different users run concurrently.

Monitor measurement and feedback emission never fail a request: their
errors are logged and fed back as performance metrics instead.
*/
package orchestrator
