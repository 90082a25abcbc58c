// Copyright 2025 Symbiont
// SPDX-License-Identifier: Apache-2.0

package config

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfigFile(t *testing.T, path, body string) {
	t.Helper()
	require.NoError(t, os.WriteFile(path, []byte(body), 0o600))
}

func TestWatcherReloadsOnWrite(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "symbiont.yaml")
	writeConfigFile(t, path, "data_dir: /tmp/symbiont-before\n")

	w, err := NewWatcher(path)
	require.NoError(t, err)

	reloaded := make(chan *Config, 4)
	w.OnReload(func(cfg *Config) { reloaded <- cfg })

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go w.Run(ctx)

	writeConfigFile(t, path, "data_dir: /tmp/symbiont-after\n")

	select {
	case cfg := <-reloaded:
		assert.Equal(t, "/tmp/symbiont-after", cfg.DataDir)
	case <-time.After(5 * time.Second):
		t.Fatal("no reload observed")
	}
}

func TestWatcherSkipsInvalidFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "symbiont.yaml")
	writeConfigFile(t, path, "data_dir: /tmp/symbiont-ok\n")

	w, err := NewWatcher(path)
	require.NoError(t, err)

	reloaded := make(chan *Config, 4)
	w.OnReload(func(cfg *Config) { reloaded <- cfg })

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go w.Run(ctx)

	// Fails Validate (empty data dir), so no callback may fire for it.
	writeConfigFile(t, path, "data_dir: \"\"\n")
	time.Sleep(200 * time.Millisecond)
	writeConfigFile(t, path, "data_dir: /tmp/symbiont-good\n")

	select {
	case cfg := <-reloaded:
		assert.Equal(t, "/tmp/symbiont-good", cfg.DataDir)
	case <-time.After(5 * time.Second):
		t.Fatal("no reload observed")
	}
}

func TestWatcherIgnoresOtherFiles(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "symbiont.yaml")
	writeConfigFile(t, path, "data_dir: /tmp/symbiont-watched\n")

	w, err := NewWatcher(path)
	require.NoError(t, err)

	reloaded := make(chan *Config, 4)
	w.OnReload(func(cfg *Config) { reloaded <- cfg })

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go w.Run(ctx)

	writeConfigFile(t, filepath.Join(dir, "other.yaml"), "data_dir: /tmp/elsewhere\n")
	writeConfigFile(t, path, "data_dir: /tmp/symbiont-final\n")

	// The watched file's write must be the first and only reload seen.
	select {
	case cfg := <-reloaded:
		assert.Equal(t, "/tmp/symbiont-final", cfg.DataDir)
	case <-time.After(5 * time.Second):
		t.Fatal("no reload observed")
	}
}
