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
Package gates scores every action against four standing invariants and
arbitrates near misses.

# The Four Gates

	autonomy:  the action must not erode the user's agency
	humanity:  no addictive mechanics, dark patterns, manipulation,
	           or manufactured time pressure
	oversight: a human can appeal, review, inspect the explanation,
	           and audit the trail
	alignment: consistent with the user's values, the system's values,
	           prior history, and transparent goals

Each gate returns an approval, a score in [0, 1], a reason, and its
inputs. Protected paths short-circuit everything: a request touching one
is refused unconditionally, without tribunal review, and journaled.

# Tribunal

When gates fail, the tribunal re-examines the verdict deterministically:
an override is granted only when every failed gate missed its threshold
by at most the configured margin and the action offers both appeal and
an audit trail. Every verdict, override or denial, lands in the audit
journal, and the caller is expected to emit a gate-violation feedback
event either way.
*/
package gates
