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
Package monitor measures what assistance does to the person using it.

Three instruments run per request:

ARI (agency retention) appends immutable snapshots of delta-agency,
benefit-to-human-input ratio, skill movement, and reliance, raises
alerts when any crosses its threshold, and reports windowed averages
with a trend computed from the newest third of samples against the
oldest third.

EDM (epistemic debt) scans model output for claim patterns that cannot
be verified as written. Each hit becomes a debt record; high-severity
debts are handed to an asynchronous fact-check cascade (keyed API,
then encyclopedia, then heuristic). Debts are historical records and
are never deleted, only resolved.

RDI (reality drift) compares user inputs against a consensus baseline
and bins the drift score. RDI is private by construction: raw scores
never leave the process, its bus events are never mirrored outward,
and the only export is an explicit per-user opt-in carrying a hashed
id and aggregate statistics.

Alerts from ARI and EDM are published on the event bus and fed into
the self-improvement loop as negative feedback against the assistance
pipeline.
*/
package monitor
