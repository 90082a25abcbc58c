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
Package feedback closes the self-improvement loop.

Every component can submit feedback events; the loop indexes them by
component and evaluates after each submission. A component earns an
improvement suggestion when it has collected at least min_feedback
events inside the rolling window and more than the configured share of
them are negative. The suggested action follows the majority evidence
(gate violations call for behavior change, agency alerts for parameter
adjustment, epistemic alerts for prompt refinement), and the suggestion
id is a content hash of the component, action, and supporting evidence,
so re-evaluating the same window never duplicates work.

Suggestions above the auto-implement confidence are applied immediately
through the registered applier; the rest wait for approval. Events and
suggestions are journaled under improvements/ and reload on startup.
*/
package feedback
