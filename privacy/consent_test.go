// Copyright 2025 Symbiont
// SPDX-License-Identifier: Apache-2.0

package privacy

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"symbiont/core/storage"
)

func newConsentLedger(t *testing.T) *ConsentLedger {
	t.Helper()
	files, err := storage.New(t.TempDir())
	require.NoError(t, err)
	l, err := NewConsentLedger(files, nil)
	require.NoError(t, err)
	return l
}

func TestConsentDefaultsToStandard(t *testing.T) {
	l := newConsentLedger(t)

	rec, err := l.Get("req-1", "ada")
	require.NoError(t, err)

	assert.Equal(t, ConsentStandard, rec.Level)
	assert.Equal(t, "v1", rec.Version)
	assert.True(t, rec.Store)
	assert.True(t, rec.Personalize)
	assert.False(t, rec.Analytics)
	assert.False(t, rec.Share)
	assert.False(t, rec.GrantedAt.IsZero())
}

func TestConsentRecordBumpsVersion(t *testing.T) {
	l := newConsentLedger(t)

	// Implicit default is v1; explicit writes move past it.
	_, err := l.Get("req-1", "ada")
	require.NoError(t, err)

	rec, err := l.Record("req-2", *recordForLevel("ada", ConsentFull))
	require.NoError(t, err)
	assert.Equal(t, "v2", rec.Version)
	assert.Equal(t, ConsentFull, rec.Level)

	rec, err = l.Record("req-3", *recordForLevel("ada", ConsentMinimal))
	require.NoError(t, err)
	assert.Equal(t, "v3", rec.Version)
	assert.True(t, rec.Store)
	assert.False(t, rec.Personalize)
}

func TestConsentAllows(t *testing.T) {
	l := newConsentLedger(t)

	_, err := l.Record("req-1", *recordForLevel("ada", ConsentFull))
	require.NoError(t, err)

	for _, perm := range []Permission{PermissionStore, PermissionAnalytics, PermissionPersonalize, PermissionShare} {
		ok, err := l.Allows("req-2", "ada", perm)
		require.NoError(t, err)
		assert.True(t, ok, "full consent should allow %s", perm)
	}

	rec, err := l.Revoke("req-3", "ada")
	require.NoError(t, err)
	assert.Equal(t, ConsentNone, rec.Level)
	assert.Equal(t, "v2", rec.Version)

	for _, perm := range []Permission{PermissionStore, PermissionAnalytics, PermissionPersonalize, PermissionShare} {
		ok, err := l.Allows("req-4", "ada", perm)
		require.NoError(t, err)
		assert.False(t, ok, "revoked consent should deny %s", perm)
	}
}

func TestConsentUnknownPermission(t *testing.T) {
	l := newConsentLedger(t)

	_, err := l.Allows("req-1", "ada", Permission("telepathy"))
	assert.Error(t, err)
}

func TestConsentExpiryDeniesEverything(t *testing.T) {
	l := newConsentLedger(t)

	expired := time.Now().Add(-time.Hour)
	rec := recordForLevel("ada", ConsentFull)
	rec.ExpiresAt = &expired
	_, err := l.Record("req-1", *rec)
	require.NoError(t, err)

	ok, err := l.Allows("req-2", "ada", PermissionStore)
	require.NoError(t, err)
	assert.False(t, ok)

	// A fresh grant without expiry allows again.
	_, err = l.Record("req-3", *recordForLevel("ada", ConsentFull))
	require.NoError(t, err)
	ok, err = l.Allows("req-4", "ada", PermissionStore)
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestConsentRecordValidation(t *testing.T) {
	l := newConsentLedger(t)

	_, err := l.Record("req-1", ConsentRecord{Level: ConsentFull})
	assert.Error(t, err, "missing user id")

	_, err = l.Record("req-2", ConsentRecord{UserID: "ada", Level: ConsentLevel("ultra")})
	assert.Error(t, err, "unknown level")
}

func TestConsentPersistsAcrossRestart(t *testing.T) {
	dir := t.TempDir()
	files, err := storage.New(dir)
	require.NoError(t, err)

	l1, err := NewConsentLedger(files, nil)
	require.NoError(t, err)
	_, err = l1.Record("req-1", *recordForLevel("ada", ConsentFull))
	require.NoError(t, err)

	l2, err := NewConsentLedger(files, nil)
	require.NoError(t, err)
	rec, err := l2.Get("req-2", "ada")
	require.NoError(t, err)
	assert.Equal(t, ConsentFull, rec.Level)
	assert.True(t, rec.Share)
}

func TestNextVersion(t *testing.T) {
	assert.Equal(t, "v1", nextVersion(nil))
	assert.Equal(t, "v2", nextVersion(&ConsentRecord{Version: "v1"}))
	assert.Equal(t, "v13", nextVersion(&ConsentRecord{Version: "v12"}))
	assert.Equal(t, "v1", nextVersion(&ConsentRecord{Version: "garbled"}))
}
