// Copyright 2025 Symbiont
// SPDX-License-Identifier: Apache-2.0

package memory

import (
	"math"
	"testing"
)

func TestEmbedDeterministicAndNormalized(t *testing.T) {
	a := Embed("the quick brown fox", 64)
	b := Embed("the quick brown fox", 64)
	if len(a) != 64 {
		t.Fatalf("dimension = %d, want 64", len(a))
	}
	for i := range a {
		if a[i] != b[i] {
			t.Fatalf("embedding not deterministic at index %d", i)
		}
	}
	var norm float64
	for _, v := range a {
		norm += v * v
	}
	if math.Abs(norm-1.0) > 1e-9 {
		t.Fatalf("squared norm = %f, want 1", norm)
	}
}

func TestCosineSimilarity(t *testing.T) {
	same := Cosine(Embed("quantum computing", 128), Embed("quantum computing", 128))
	if math.Abs(same-1.0) > 1e-9 {
		t.Fatalf("identical texts: cosine = %f, want 1", same)
	}

	near := Cosine(Embed("quantum computing with qubits", 128), Embed("qubits power quantum computing", 128))
	far := Cosine(Embed("quantum computing with qubits", 128), Embed("my cat enjoys sleeping outside", 128))
	if near <= far {
		t.Fatalf("related texts (%f) should score above unrelated (%f)", near, far)
	}

	if got := Cosine(nil, Embed("x", 8)); got != 0 {
		t.Fatalf("empty vector: cosine = %f, want 0", got)
	}
	if got := Cosine(make([]float64, 4), make([]float64, 8)); got != 0 {
		t.Fatalf("mismatched lengths: cosine = %f, want 0", got)
	}
}

func TestTokenizeDropsShortRunes(t *testing.T) {
	toks := tokenize("A to-do: fix DB, x y")
	for _, tok := range toks {
		if len(tok) < 2 {
			t.Fatalf("tokenize kept %q", tok)
		}
	}
}
