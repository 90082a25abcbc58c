// Copyright 2025 Symbiont
// SPDX-License-Identifier: Apache-2.0

package privacy

import (
	"crypto/rand"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"sort"
	"strings"
	"sync"
	"unicode"
)

// Transformer applies a protective action to detected PII spans. Tokenize is
// reversible through an in-memory map that never touches disk.
type Transformer struct {
	mu     sync.RWMutex
	tokens map[string]string // token -> original value
}

// NewTransformer creates a Transformer with an empty token map.
func NewTransformer() *Transformer {
	return &Transformer{tokens: make(map[string]string)}
}

// Applied describes one transformation performed on the text.
type Applied struct {
	Type        PIIType `json:"type"`
	Action      Action  `json:"action"`
	Replacement string  `json:"replacement"`
	StartIndex  int     `json:"start_index"`
	EndIndex    int     `json:"end_index"`
}

// Apply rewrites text according to the per-type action map, falling back to
// defaultAction for unmapped types. ActionBlock on any detection aborts with
// ErrBlocked; nothing is rewritten in that case.
func (t *Transformer) Apply(text string, detections []Detection, actions map[PIIType]Action, defaultAction Action) (string, []Applied, error) {
	if len(detections) == 0 {
		return text, nil, nil
	}

	for _, d := range detections {
		if actionFor(d.Type, actions, defaultAction) == ActionBlock {
			return "", nil, fmt.Errorf("%s detected: %w", d.Type, ErrBlocked)
		}
	}

	// Apply right-to-left so earlier indices stay valid.
	ordered := make([]Detection, len(detections))
	copy(ordered, detections)
	sort.Slice(ordered, func(i, j int) bool {
		return ordered[i].StartIndex > ordered[j].StartIndex
	})

	var applied []Applied
	out := text
	lastStart := len(text) + 1
	for _, d := range ordered {
		if d.EndIndex > lastStart {
			continue // overlapping with an already-replaced span
		}
		action := actionFor(d.Type, actions, defaultAction)
		replacement, err := t.replacement(d, action)
		if err != nil {
			return "", nil, err
		}
		out = out[:d.StartIndex] + replacement + out[d.EndIndex:]
		lastStart = d.StartIndex
		applied = append(applied, Applied{
			Type:        d.Type,
			Action:      action,
			Replacement: replacement,
			StartIndex:  d.StartIndex,
			EndIndex:    d.EndIndex,
		})
	}

	return out, applied, nil
}

// Detokenize restores the original value for a token produced by
// ActionTokenize. Returns ErrUnknownToken for anything else.
func (t *Transformer) Detokenize(token string) (string, error) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	original, ok := t.tokens[token]
	if !ok {
		return "", fmt.Errorf("%q: %w", token, ErrUnknownToken)
	}
	return original, nil
}

// TokenCount reports how many reversible tokens are held in memory.
func (t *Transformer) TokenCount() int {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return len(t.tokens)
}

func (t *Transformer) replacement(d Detection, action Action) (string, error) {
	switch action {
	case ActionRedact:
		return "[REDACTED]", nil
	case ActionMask:
		return maskValue(d.Value), nil
	case ActionHash:
		sum := sha256.Sum256([]byte(d.Value))
		return fmt.Sprintf("[HASH:%s]", hex.EncodeToString(sum[:])[:16]), nil
	case ActionTokenize:
		return t.tokenize(d), nil
	default:
		return "", fmt.Errorf("action %q: %w", action, ErrInvalidAction)
	}
}

func (t *Transformer) tokenize(d Detection) string {
	buf := make([]byte, 8)
	if _, err := rand.Read(buf); err != nil {
		// crypto/rand failing means something is deeply wrong; fall back to
		// a hash-derived token rather than leaking the value.
		sum := sha256.Sum256([]byte(d.Value))
		copy(buf, sum[:8])
	}
	token := fmt.Sprintf("[TOKEN:%s:%s]", strings.ToUpper(string(d.Type)), hex.EncodeToString(buf))

	t.mu.Lock()
	t.tokens[token] = d.Value
	t.mu.Unlock()

	return token
}

// maskValue keeps the shape of the value: digits become *, except the last
// four which stay visible; letters become *; separators pass through.
func maskValue(value string) string {
	digitCount := 0
	for _, r := range value {
		if unicode.IsDigit(r) {
			digitCount++
		}
	}

	var b strings.Builder
	seen := 0
	for _, r := range value {
		switch {
		case unicode.IsDigit(r):
			seen++
			if digitCount >= 4 && seen > digitCount-4 {
				b.WriteRune(r)
			} else {
				b.WriteRune('*')
			}
		case unicode.IsLetter(r):
			b.WriteRune('*')
		default:
			b.WriteRune(r)
		}
	}
	return b.String()
}

func actionFor(piiType PIIType, actions map[PIIType]Action, defaultAction Action) Action {
	if a, ok := actions[piiType]; ok {
		return a
	}
	return defaultAction
}
