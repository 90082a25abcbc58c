// Copyright 2025 Symbiont
// SPDX-License-Identifier: Apache-2.0

package privacy

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"symbiont/core/config"
	"symbiont/core/storage"
)

func newEngine(t *testing.T) *Engine {
	t.Helper()
	files, err := storage.New(t.TempDir())
	require.NoError(t, err)
	e, err := NewEngine(config.PrivacyConfig{
		MaxEpsilon:      1.0,
		MaxQueries:      100,
		EpsilonPerQuery: 0.1,
		DefaultAction:   string(ActionRedact),
		MinConfidence:   0.5,
	}, files, nil)
	require.NoError(t, err)
	return e
}

func TestEngineRejectsUnknownDefaultAction(t *testing.T) {
	files, err := storage.New(t.TempDir())
	require.NoError(t, err)

	_, err = NewEngine(config.PrivacyConfig{DefaultAction: "shred"}, files, nil)
	assert.ErrorIs(t, err, ErrInvalidAction)
}

func TestEngineApplyRedactsSSN(t *testing.T) {
	e := newEngine(t)

	out, detections, applied, err := e.Apply("req-1", "ada", "My SSN is 123-45-6789")

	require.NoError(t, err)
	assert.Contains(t, out, "[REDACTED]")
	assert.NotContains(t, out, "123-45-6789")
	require.Len(t, detections, 1)
	assert.Equal(t, PIITypeSSN, detections[0].Type)
	require.Len(t, applied, 1)
	assert.Equal(t, ActionRedact, applied[0].Action)
}

func TestEngineApplyCleanTextPassesThrough(t *testing.T) {
	e := newEngine(t)

	out, detections, applied, err := e.Apply("req-1", "ada", "what is the capital of France?")

	require.NoError(t, err)
	assert.Equal(t, "what is the capital of France?", out)
	assert.Empty(t, detections)
	assert.Empty(t, applied)
}

func TestEngineSetActionOverride(t *testing.T) {
	e := newEngine(t)

	require.NoError(t, e.SetAction(PIITypeSSN, ActionTokenize))
	assert.ErrorIs(t, e.SetAction(PIITypeSSN, Action("shred")), ErrInvalidAction)

	out, _, applied, err := e.Apply("req-1", "ada", "my ssn is 123-45-6789")
	require.NoError(t, err)
	require.Len(t, applied, 1)
	assert.Equal(t, ActionTokenize, applied[0].Action)

	original, err := e.Detokenize(applied[0].Replacement)
	require.NoError(t, err)
	assert.Equal(t, "123-45-6789", original)
	assert.Contains(t, out, applied[0].Replacement)
}

func TestEngineApplyBlockSurfacesError(t *testing.T) {
	e := newEngine(t)
	require.NoError(t, e.SetAction(PIITypeSSN, ActionBlock))

	out, detections, _, err := e.Apply("req-1", "ada", "my ssn is 123-45-6789")

	require.ErrorIs(t, err, ErrBlocked)
	assert.Empty(t, out)
	assert.NotEmpty(t, detections)
}

func TestEngineSanitizeDowngradesBlockToRedact(t *testing.T) {
	e := newEngine(t)
	require.NoError(t, e.SetAction(PIITypeSSN, ActionBlock))

	out, detections, err := e.Sanitize("req-1", "ada", "your ssn is 123-45-6789, keep it safe")

	require.NoError(t, err)
	assert.Contains(t, out, "[REDACTED]")
	assert.NotContains(t, out, "123-45-6789")
	require.Len(t, detections, 1)
	assert.Equal(t, PIITypeSSN, detections[0].Type)
}

func TestEngineSanitizeCleanTextPassesThrough(t *testing.T) {
	e := newEngine(t)

	out, detections, err := e.Sanitize("req-1", "ada", "Paris is the capital of France.")

	require.NoError(t, err)
	assert.Equal(t, "Paris is the capital of France.", out)
	assert.Empty(t, detections)
}

func TestEngineBudgetChargeAndRefund(t *testing.T) {
	e := newEngine(t)

	b, err := e.CheckAndCharge("ada")
	require.NoError(t, err)
	assert.InDelta(t, 0.1, b.EpsilonSpent, 1e-9)
	assert.Equal(t, 1, b.QueryCount)

	require.NoError(t, e.RefundCharge("ada"))
	b = e.Budget("ada")
	assert.Zero(t, b.EpsilonSpent)
	assert.Zero(t, b.QueryCount)
}

func TestEngineMinimizeByConsentLevel(t *testing.T) {
	e := newEngine(t)
	data := "patient Jane Doe, ssn 123-45-6789, email jane@corp.example.org"

	// Standard (the default) strips high-sensitivity detections only.
	out, err := e.Minimize("req-1", "ada", data)
	require.NoError(t, err)
	assert.NotContains(t, out, "123-45-6789")
	assert.Contains(t, out, "jane@corp.example.org")

	// Full passes everything through.
	_, err = e.RecordConsent("req-2", *recordForLevel("ada", ConsentFull))
	require.NoError(t, err)
	out, err = e.Minimize("req-3", "ada", data)
	require.NoError(t, err)
	assert.Equal(t, data, out)

	// None redacts every detection.
	_, err = e.RecordConsent("req-4", *recordForLevel("ada", ConsentNone))
	require.NoError(t, err)
	out, err = e.Minimize("req-5", "ada", data)
	require.NoError(t, err)
	assert.NotContains(t, out, "123-45-6789")
	assert.NotContains(t, out, "jane@corp.example.org")
}

func TestEngineConsentAllowsDefault(t *testing.T) {
	e := newEngine(t)

	ok, err := e.ConsentAllows("req-1", "ada", PermissionStore)
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = e.ConsentAllows("req-2", "ada", PermissionShare)
	require.NoError(t, err)
	assert.False(t, ok)

	rec, err := e.Consent("req-3", "ada")
	require.NoError(t, err)
	assert.Equal(t, ConsentStandard, rec.Level)
}

func TestCountByType(t *testing.T) {
	counts := countByType([]Detection{
		{Type: PIITypeSSN},
		{Type: PIITypeSSN},
		{Type: PIITypeEmail},
	})
	assert.Equal(t, map[string]int{"ssn": 2, "email": 1}, counts)
}
