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
Package llm defines the provider-agnostic wire shapes and the small
interface every language-model backend implements.

# Overview

Concrete transports live outside the core: the runtime ships only the
in-process Local backend, and everything else is plugged in by the
embedding process. The router never sees more than this interface:

	type Provider interface {
		Name() ProviderID
		Generate(ctx context.Context, req GenerateRequest) (*GenerateResponse, error)
		GenerateStream(ctx context.Context, req GenerateRequest, handler StreamHandler) (*GenerateResponse, error)
		IsAvailable(ctx context.Context) bool
	}

# Wire Shapes

GenerateRequest carries the prompt, optional system prompt, sampling
parameters, stop sequences, and conversation history. GenerateResponse
carries the generated text, token counts, cost, model and provider
names, wall-clock latency, finish reason, and the raw provider reply as
an opaque blob.

# Error Handling

Backend failures are wrapped in ProviderError with machine-readable
codes so the router can decide whether a fallback attempt is worth
making:

	resp, err := provider.Generate(ctx, req)
	if err != nil {
		var provErr *llm.ProviderError
		if errors.As(err, &provErr) && provErr.Retryable {
			// walk the fallback list
		}
	}

# Thread Safety

Provider implementations must be safe for concurrent use.
*/
package llm
