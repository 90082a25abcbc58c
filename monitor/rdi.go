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

package monitor

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"regexp"
	"strings"
	"sync"
	"time"

	"symbiont/core/config"
	"symbiont/core/events"
	"symbiont/core/shared/logger"
)

// factualMarkers flag language that rejects verifiable consensus;
// logicalMarkers flag self-sealing or circular reasoning. Both families
// are deliberately narrow: false positives here accuse the user.
var (
	factualMarkers = compile(
		`(?i)\bhoax\b`,
		`(?i)\bcover[- ]?up\b`,
		`(?i)\bconspiracy\b`,
		`(?i)\bfake news\b`,
		`(?i)\bthey('re| are) (all )?lying\b`,
		`(?i)\bsheeple\b`,
		`(?i)\bmainstream media\b`,
		`(?i)\bdo your own research\b`,
		`(?i)\bwake up\b`,
	)
	logicalMarkers = compile(
		`(?i)\bproves itself\b`,
		`(?i)\bbecause i said so\b`,
		`(?i)\bcan'?t prove (it|me) wrong\b`,
		`(?i)\bno evidence against\b`,
		`(?i)\bit just makes sense\b`,
		`(?i)\bstands to reason\b`,
	)
)

// markerWeight converts a marker count into a sub-score.
const markerWeight = 0.25

// consensusVocab seeds every user's baseline with everyday vocabulary
// so ordinary language never reads as drift.
var consensusVocab = buildVocab(`
	today tomorrow yesterday morning evening week month year time work
	home family friend people person question answer help need want
	think know like make good well because where when what going plan
	look back still even find right take come over such only very than
	them then some more most other into your please thanks idea write
	read learn start finish meeting project email call schedule weather
	food health sleep walk book news money shop travel school children
`)

func buildVocab(corpus string) map[string]bool {
	vocab := make(map[string]bool)
	for _, w := range strings.Fields(corpus) {
		vocab[w] = true
	}
	return vocab
}

// userDrift is one user's on-device drift state. The vocabulary grows
// only from in-consensus samples so drifted language cannot normalize
// itself.
type userDrift struct {
	vocab       map[string]bool
	assessments []*Assessment
	optIn       bool
}

// RDI measures reality drift between a user's inputs and a consensus
// baseline. Everything here stays in process: assessments are never
// persisted, bus events use the private kind the mirror refuses, and
// the only export is opt-in, hashed, and aggregate.
type RDI struct {
	cfg config.MonitorConfig
	bus *events.Bus
	log *logger.Logger

	mu     sync.Mutex
	byUser map[string]*userDrift

	now func() time.Time
}

// NewRDI returns a ready instrument. bus may be nil.
func NewRDI(cfg config.MonitorConfig, bus *events.Bus) *RDI {
	return &RDI{
		cfg:    cfg,
		bus:    bus,
		log:    logger.New("monitor.rdi"),
		byUser: make(map[string]*userDrift),
		now:    time.Now,
	}
}

// Reload swaps in new drift weights and the deployment export flag.
// Per-user baselines and opt-ins are untouched.
func (r *RDI) Reload(cfg config.MonitorConfig) {
	r.mu.Lock()
	r.cfg = cfg
	r.mu.Unlock()
}

// Assess scores one user input. The first sample establishes the
// user's baseline and reads as zero semantic drift.
func (r *RDI) Assess(userID, input string) (*Assessment, error) {
	if userID == "" {
		return nil, ErrMissingUser
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	u := r.byUser[userID]
	if u == nil {
		u = &userDrift{vocab: make(map[string]bool)}
		r.byUser[userID] = u
	}

	words := significantWords(input)
	semantic := semanticDrift(words, u.vocab)
	factual := markerScore(input, factualMarkers)
	logical := markerScore(input, logicalMarkers)

	ws, wf, wl := normalizeWeights(r.cfg.RDIWeights)
	score := ws*semantic + wf*factual + wl*logical

	a := &Assessment{
		Timestamp: r.now().UTC(),
		Semantic:  semantic,
		Factual:   factual,
		Logical:   logical,
		Score:     score,
		Bin:       binFor(score),
	}
	u.assessments = append(u.assessments, a)

	// Only in-consensus samples extend the baseline vocabulary.
	if a.Bin == BinAligned || a.Bin == BinMinor {
		for _, w := range words {
			u.vocab[w] = true
		}
	}

	if r.bus != nil {
		r.bus.Publish(events.Event{
			Kind:   events.KindRDIPrivate,
			UserID: userID,
			Source: "monitor.rdi",
			Payload: map[string]interface{}{
				"bin":   string(a.Bin),
				"score": a.Score,
			},
		})
	}
	cp := *a
	return &cp, nil
}

// semanticDrift is the share of significant words absent from the
// user's accumulated baseline. An empty baseline or empty input is no
// drift.
func semanticDrift(words []string, vocab map[string]bool) float64 {
	if len(vocab) == 0 || len(words) == 0 {
		return 0
	}
	novel := 0
	for _, w := range words {
		if !vocab[w] && !consensusVocab[w] {
			novel++
		}
	}
	return float64(novel) / float64(len(words))
}

func markerScore(input string, markers []*regexp.Regexp) float64 {
	hits := 0
	for _, pat := range markers {
		hits += len(pat.FindAllStringIndex(input, -1))
	}
	score := markerWeight * float64(hits)
	if score > 1 {
		return 1
	}
	return score
}

func normalizeWeights(w config.RDIWeights) (semantic, factual, logical float64) {
	sum := w.Semantic + w.Factual + w.Logical
	if sum <= 0 {
		return 1.0 / 3, 1.0 / 3, 1.0 / 3
	}
	return w.Semantic / sum, w.Factual / sum, w.Logical / sum
}

func significantWords(input string) []string {
	fields := strings.FieldsFunc(strings.ToLower(input), func(r rune) bool {
		return (r < 'a' || r > 'z') && (r < '0' || r > '9')
	})
	out := fields[:0]
	for _, f := range fields {
		if len(f) >= 4 {
			out = append(out, f)
		}
	}
	return out
}

// Current returns the user's latest assessment. In-process callers
// only; nothing here may cross the collaborator boundary unhashed.
func (r *RDI) Current(userID string) (*Assessment, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	u := r.byUser[userID]
	if u == nil || len(u.assessments) == 0 {
		return nil, fmt.Errorf("%w: %s", ErrNoSamples, userID)
	}
	cp := *u.assessments[len(u.assessments)-1]
	return &cp, nil
}

// Series returns the user's assessments, oldest first. In-process
// callers only.
func (r *RDI) Series(userID string) []Assessment {
	r.mu.Lock()
	defer r.mu.Unlock()

	u := r.byUser[userID]
	if u == nil {
		return nil
	}
	out := make([]Assessment, len(u.assessments))
	for i, a := range u.assessments {
		out[i] = *a
	}
	return out
}

// SetExportOptIn records the user's explicit consent to aggregate
// export.
func (r *RDI) SetExportOptIn(userID string, optIn bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	u := r.byUser[userID]
	if u == nil {
		u = &userDrift{vocab: make(map[string]bool)}
		r.byUser[userID] = u
	}
	u.optIn = optIn
}

// Export produces the only RDI shape allowed off-device: a one-way
// hashed user id with aggregate statistics. It requires both the
// deployment flag and the user's explicit opt-in.
func (r *RDI) Export(userID string) (*RDIExport, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	u := r.byUser[userID]
	if !r.cfg.RDIExportOptIn || u == nil || !u.optIn {
		return nil, ErrExportNotPermitted
	}
	if len(u.assessments) == 0 {
		return nil, fmt.Errorf("%w: %s", ErrNoSamples, userID)
	}

	sum := sha256.Sum256([]byte(userID))
	export := &RDIExport{
		HashedUser:  hex.EncodeToString(sum[:]),
		Samples:     len(u.assessments),
		Bins:        make(map[DriftBin]int),
		GeneratedAt: r.now().UTC(),
	}
	for _, a := range u.assessments {
		export.MeanScore += a.Score
		if a.Score > export.MaxScore {
			export.MaxScore = a.Score
		}
		export.Bins[a.Bin]++
	}
	export.MeanScore /= float64(export.Samples)
	return export, nil
}

// stats reports anonymous totals for the suite snapshot.
func (r *RDI) stats() (assessments int, bins map[DriftBin]int) {
	r.mu.Lock()
	defer r.mu.Unlock()

	bins = make(map[DriftBin]int)
	for _, u := range r.byUser {
		assessments += len(u.assessments)
		for _, a := range u.assessments {
			bins[a.Bin]++
		}
	}
	return assessments, bins
}
