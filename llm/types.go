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

package llm

import (
	"encoding/json"
	"fmt"
	"time"
)

// ProviderID identifies a model backend. The constants cover the backends
// the descriptor registry knows out of the box; embedders may add their own.
type ProviderID string

const (
	// ProviderLocal is the in-process backend. It is always registered and
	// always available, which makes it the terminal fallback.
	ProviderLocal ProviderID = "local"

	ProviderAnthropic ProviderID = "anthropic"
	ProviderOpenAI    ProviderID = "openai"
	ProviderGoogle    ProviderID = "google"
	ProviderMistral   ProviderID = "mistral"
)

// Turn is one entry of conversation history.
type Turn struct {
	Role    string `json:"role"` // "user" or "assistant"
	Content string `json:"content"`
}

// GenerateRequest is the unified request shape sent to every backend.
type GenerateRequest struct {
	// Prompt is the user's (already privacy-transformed) input text.
	Prompt string `json:"prompt"`

	// SystemPrompt optionally sets behavior. Backends without system
	// prompt support prepend it to the prompt.
	SystemPrompt string `json:"system_prompt,omitempty"`

	// MaxTokens bounds the response length. 0 means backend default.
	MaxTokens int `json:"max_tokens,omitempty"`

	// Temperature controls sampling randomness, 0.0 to 2.0.
	Temperature float64 `json:"temperature,omitempty"`

	// TopP is the nucleus sampling parameter, 0.0 to 1.0.
	TopP float64 `json:"top_p,omitempty"`

	// StopSequences end generation when produced.
	StopSequences []string `json:"stop_sequences,omitempty"`

	// History is prior conversation turns, oldest first.
	History []Turn `json:"history,omitempty"`

	// Model overrides the backend's default model.
	Model string `json:"model,omitempty"`

	// Metadata carries backend-specific options.
	Metadata map[string]interface{} `json:"metadata,omitempty"`
}

// FinishReason reports why generation stopped.
type FinishReason string

const (
	FinishStop      FinishReason = "stop"
	FinishMaxTokens FinishReason = "max_tokens"
	FinishFiltered  FinishReason = "content_filter"
	FinishCancelled FinishReason = "cancelled"
)

// GenerateResponse is the unified response shape.
type GenerateResponse struct {
	// Text is the generated output.
	Text string `json:"text"`

	InputTokens  int `json:"input_tokens"`
	OutputTokens int `json:"output_tokens"`

	// Cost is the USD charge for this call, 0 for local execution.
	Cost float64 `json:"cost"`

	// Model and Provider identify which backend actually answered.
	Model    string     `json:"model"`
	Provider ProviderID `json:"provider"`

	// Latency is wall-clock time around the whole call.
	Latency time.Duration `json:"latency"`

	FinishReason FinishReason `json:"finish_reason,omitempty"`

	// Raw is the provider's reply verbatim, kept opaque for debugging and
	// replay. Never inspected by the core.
	Raw json.RawMessage `json:"raw,omitempty"`
}

// StreamChunk is one piece of a streaming response.
type StreamChunk struct {
	Text string `json:"text,omitempty"`
	Done bool   `json:"done"`
}

// StreamHandler receives streaming chunks. Returning an error aborts the
// stream.
type StreamHandler func(chunk StreamChunk) error

// EstimateTokens approximates the token count of a text. Four characters
// per token matches what the hosted tokenizers average on English prose
// and keeps the estimate backend-independent.
func EstimateTokens(text string) int {
	if text == "" {
		return 0
	}
	return (len(text) + 3) / 4
}

// ProviderError is a structured backend failure.
type ProviderError struct {
	// Provider is the backend that failed.
	Provider ProviderID `json:"provider"`

	// Code is a machine-readable error code.
	Code string `json:"code"`

	// Message is human-readable.
	Message string `json:"message"`

	// Retryable reports whether another attempt (or a fallback backend)
	// could succeed.
	Retryable bool `json:"retryable"`

	// Cause is the underlying error, if any.
	Cause error `json:"-"`
}

// Error implements the error interface.
func (e *ProviderError) Error() string {
	return fmt.Sprintf("%s error: %s", e.Provider, e.Message)
}

// Unwrap returns the underlying error.
func (e *ProviderError) Unwrap() error {
	return e.Cause
}

// Error codes carried by ProviderError.
const (
	ErrCodeRateLimit     = "rate_limit"
	ErrCodeAuth          = "authentication_error"
	ErrCodeInvalidInput  = "invalid_request"
	ErrCodeContextLength = "context_length_exceeded"
	ErrCodeServerError   = "server_error"
	ErrCodeTimeout       = "timeout"
	ErrCodeUnavailable   = "unavailable"
	ErrCodeCancelled     = "cancelled"
)

// NewProviderError builds a ProviderError; retryability is derived from the
// code.
func NewProviderError(provider ProviderID, code, message string) *ProviderError {
	return &ProviderError{
		Provider:  provider,
		Code:      code,
		Message:   message,
		Retryable: isRetryableCode(code),
	}
}

func isRetryableCode(code string) bool {
	switch code {
	case ErrCodeRateLimit, ErrCodeServerError, ErrCodeTimeout, ErrCodeUnavailable:
		return true
	default:
		return false
	}
}
