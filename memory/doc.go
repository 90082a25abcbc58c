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
Package memory is the persistent long-term context store.

# Overview

Entries are typed, tagged, priority-weighted records with a deterministic
id (hash of user, content, and creation time) and an optional semantic
vector. Retrieval scores candidates by cosine similarity against the
query, weighted by the entry's decayable relevance; windows assemble a
token-bounded working set ranked by composite relevance.

# Lifecycle

An entry is created once, mutated only to update access statistics or
the consolidation flag, and removed only by TTL expiry or window-level
pruning. Critical-priority entries are never pruned. Relevance decays in
batch sweeps; frequently accessed entries decay slower, and no entry
decays below 0.1.

# Persistence

Every entry lives under context/memories/<id> and every conversation
thread under context/threads/<id>, written atomically. The store loads
the whole tree at startup and keeps it in memory behind a single writer.
*/
package memory
