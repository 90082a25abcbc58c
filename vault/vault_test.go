// Copyright 2025 Symbiont
// SPDX-License-Identifier: Apache-2.0

package vault

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestOpenEmptyVault(t *testing.T) {
	path := filepath.Join(t.TempDir(), "credentials")

	v, err := Open(path, []byte("passphrase"))
	require.NoError(t, err)
	assert.Empty(t, v.Providers())

	_, err = v.Get("anthropic")
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestOpenRequiresPassphrase(t *testing.T) {
	_, err := Open(filepath.Join(t.TempDir(), "credentials"), nil)
	assert.ErrorIs(t, err, ErrNoPassphrase)
}

func TestSetGetRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "credentials")

	v, err := Open(path, []byte("passphrase"))
	require.NoError(t, err)

	require.NoError(t, v.Set("anthropic", "sk-ant-test"))
	require.NoError(t, v.Set("openai", "sk-oai-test"))

	secret, err := v.Get("anthropic")
	require.NoError(t, err)
	assert.Equal(t, "sk-ant-test", secret)

	assert.Equal(t, []string{"anthropic", "openai"}, v.Providers())

	// Reopen and verify persistence survives the round trip.
	v2, err := Open(path, []byte("passphrase"))
	require.NoError(t, err)
	secret, err = v2.Get("openai")
	require.NoError(t, err)
	assert.Equal(t, "sk-oai-test", secret)
}

func TestNoPlaintextOnDisk(t *testing.T) {
	path := filepath.Join(t.TempDir(), "credentials")

	v, err := Open(path, []byte("passphrase"))
	require.NoError(t, err)
	require.NoError(t, v.Set("anthropic", "sk-ant-super-secret"))

	raw, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.NotContains(t, string(raw), "sk-ant-super-secret")
	assert.NotContains(t, string(raw), "anthropic")
}

func TestWrongPassphrase(t *testing.T) {
	path := filepath.Join(t.TempDir(), "credentials")

	v, err := Open(path, []byte("correct"))
	require.NoError(t, err)
	require.NoError(t, v.Set("anthropic", "sk-ant-test"))

	_, err = Open(path, []byte("wrong"))
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrWrongPassword)
}

func TestDelete(t *testing.T) {
	path := filepath.Join(t.TempDir(), "credentials")

	v, err := Open(path, []byte("passphrase"))
	require.NoError(t, err)
	require.NoError(t, v.Set("anthropic", "sk-ant-test"))
	require.NoError(t, v.Delete("anthropic"))

	_, err = v.Get("anthropic")
	assert.ErrorIs(t, err, ErrNotFound)

	// Deleting a missing id is not an error.
	require.NoError(t, v.Delete("absent"))
}

func TestCorruptVault(t *testing.T) {
	path := filepath.Join(t.TempDir(), "credentials")
	require.NoError(t, os.WriteFile(path, []byte("not a vault"), 0o600))

	_, err := Open(path, []byte("passphrase"))
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrCorruptVault)
}
