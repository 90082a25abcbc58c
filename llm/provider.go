// Copyright 2025 Symbiont
// SPDX-License-Identifier: Apache-2.0

package llm

import "context"

// Provider is the interface every model backend implements. The router
// dispatches through it and never learns transport details.
//
// Implementations must be safe for concurrent use, must honor ctx
// cancellation by aborting the in-flight call, and should wrap failures in
// *ProviderError so the router can judge retryability.
type Provider interface {
	// Name returns the backend's provider id.
	Name() ProviderID

	// Generate produces a completion for the request.
	Generate(ctx context.Context, req GenerateRequest) (*GenerateResponse, error)

	// GenerateStream produces a completion incrementally, calling handler
	// for each chunk, and returns the aggregated response. Backends without
	// native streaming may emulate it by chunking a whole response.
	GenerateStream(ctx context.Context, req GenerateRequest, handler StreamHandler) (*GenerateResponse, error)

	// IsAvailable reports whether the backend can currently serve calls.
	// It must be cheap; the router consults it during selection.
	IsAvailable(ctx context.Context) bool
}
