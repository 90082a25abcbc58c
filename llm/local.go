// Copyright 2025 Symbiont
// SPDX-License-Identifier: Apache-2.0

package llm

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"
)

// LocalModelName is the model id of the built-in in-process backend.
const LocalModelName = "symbiont-local-1"

// Local is the in-process backend. It runs entirely on-device, costs
// nothing, and is always available, which makes it both the privacy-first
// default and the terminal fallback when every remote backend is down.
//
// Generation is template-based: it restates the request and produces a
// bounded deterministic answer. The point is a dependable floor, not
// fluency; embedders wanting a real on-device model plug their own
// Provider in under the same id.
type Local struct {
	model string
	// delay simulates inference time in tests; zero in production.
	delay time.Duration
}

// NewLocal returns the in-process backend.
func NewLocal() *Local {
	return &Local{model: LocalModelName}
}

// NewLocalWithDelay returns a Local that sleeps before answering. Tests use
// it to exercise latency accounting and cancellation.
func NewLocalWithDelay(d time.Duration) *Local {
	return &Local{model: LocalModelName, delay: d}
}

// Name implements Provider.
func (l *Local) Name() ProviderID {
	return ProviderLocal
}

// IsAvailable implements Provider. The in-process backend is always up.
func (l *Local) IsAvailable(ctx context.Context) bool {
	return true
}

// Generate implements Provider.
func (l *Local) Generate(ctx context.Context, req GenerateRequest) (*GenerateResponse, error) {
	start := time.Now()

	if l.delay > 0 {
		select {
		case <-time.After(l.delay):
		case <-ctx.Done():
			return nil, NewProviderError(ProviderLocal, ErrCodeCancelled, ctx.Err().Error())
		}
	}
	if err := ctx.Err(); err != nil {
		return nil, NewProviderError(ProviderLocal, ErrCodeCancelled, err.Error())
	}

	text, finish := l.compose(req)

	raw, _ := json.Marshal(map[string]interface{}{
		"backend": l.model,
		"mode":    "template",
	})

	return &GenerateResponse{
		Text:         text,
		InputTokens:  EstimateTokens(req.SystemPrompt) + EstimateTokens(req.Prompt),
		OutputTokens: EstimateTokens(text),
		Cost:         0,
		Model:        l.model,
		Provider:     ProviderLocal,
		Latency:      time.Since(start),
		FinishReason: finish,
		Raw:          raw,
	}, nil
}

// GenerateStream implements Provider by chunking a whole response word by
// word.
func (l *Local) GenerateStream(ctx context.Context, req GenerateRequest, handler StreamHandler) (*GenerateResponse, error) {
	resp, err := l.Generate(ctx, req)
	if err != nil {
		return nil, err
	}

	words := strings.Fields(resp.Text)
	for i, w := range words {
		if err := ctx.Err(); err != nil {
			return nil, NewProviderError(ProviderLocal, ErrCodeCancelled, err.Error())
		}
		chunk := StreamChunk{Text: w}
		if i < len(words)-1 {
			chunk.Text += " "
		}
		if err := handler(chunk); err != nil {
			return nil, err
		}
	}
	if err := handler(StreamChunk{Done: true}); err != nil {
		return nil, err
	}
	return resp, nil
}

// compose builds the deterministic answer. The shape is intentionally
// plain: acknowledge the task, restate the subject, and note any history
// context, truncated to the token budget and stop sequences.
func (l *Local) compose(req GenerateRequest) (string, FinishReason) {
	subject := strings.TrimSpace(req.Prompt)
	if subject == "" {
		return "I need a request to work with.", FinishStop
	}

	var b strings.Builder
	fmt.Fprintf(&b, "Here is what I can offer on device. %s", summarize(subject))
	if n := len(req.History); n > 0 {
		fmt.Fprintf(&b, " This continues a conversation with %d prior turns.", n)
	}
	b.WriteString(" For a deeper treatment, a cloud backend can be permitted in settings.")

	text := b.String()
	finish := FinishStop

	for _, stop := range req.StopSequences {
		if stop == "" {
			continue
		}
		if idx := strings.Index(text, stop); idx >= 0 {
			text = text[:idx]
		}
	}

	if req.MaxTokens > 0 && EstimateTokens(text) > req.MaxTokens {
		text = text[:req.MaxTokens*4]
		finish = FinishMaxTokens
	}

	return text, finish
}

// summarize produces a one-sentence restatement of the request, bounded to
// the first dozen words.
func summarize(prompt string) string {
	words := strings.Fields(prompt)
	const limit = 12
	if len(words) > limit {
		words = words[:limit]
	}
	head := strings.Join(words, " ")
	head = strings.TrimRight(head, ".?!,;:")
	return fmt.Sprintf("You asked about: %q.", head)
}
