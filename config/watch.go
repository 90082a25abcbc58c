// Copyright 2025 Symbiont
// SPDX-License-Identifier: Apache-2.0

package config

import (
	"context"
	"log"
	"path/filepath"
	"sync"

	"github.com/fsnotify/fsnotify"
)

// ReloadFunc receives the freshly validated configuration after the file
// changed on disk. Only threshold-and-weight fields should be consumed from
// it; structural fields (data_dir, listen_addr) require a restart.
type ReloadFunc func(*Config)

// Watcher re-reads the configuration file when it changes and hands the
// result to the registered callbacks.
type Watcher struct {
	path      string
	mu        sync.Mutex
	callbacks []ReloadFunc
	fsw       *fsnotify.Watcher
}

// NewWatcher creates a watcher for the given config file. The file does not
// need to exist yet; its directory does.
func NewWatcher(path string) (*Watcher, error) {
	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}
	if err := fsw.Add(filepath.Dir(path)); err != nil {
		fsw.Close()
		return nil, err
	}
	return &Watcher{path: path, fsw: fsw}, nil
}

// OnReload registers a callback invoked after each successful reload.
func (w *Watcher) OnReload(fn ReloadFunc) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.callbacks = append(w.callbacks, fn)
}

// Run blocks until ctx is cancelled, dispatching reloads as the file
// changes. Invalid files are logged and skipped; the previous configuration
// stays in effect.
func (w *Watcher) Run(ctx context.Context) {
	defer w.fsw.Close()
	for {
		select {
		case <-ctx.Done():
			return
		case ev, ok := <-w.fsw.Events:
			if !ok {
				return
			}
			if filepath.Clean(ev.Name) != filepath.Clean(w.path) {
				continue
			}
			if !ev.Has(fsnotify.Write) && !ev.Has(fsnotify.Create) {
				continue
			}
			cfg, err := Load(w.path)
			if err != nil {
				log.Printf("[Config] Reload skipped, file invalid: %v", err)
				continue
			}
			log.Printf("[Config] Reloaded %s", w.path)
			w.mu.Lock()
			cbs := make([]ReloadFunc, len(w.callbacks))
			copy(cbs, w.callbacks)
			w.mu.Unlock()
			for _, cb := range cbs {
				cb(cfg)
			}
		case err, ok := <-w.fsw.Errors:
			if !ok {
				return
			}
			log.Printf("[Config] Watcher error: %v", err)
		}
	}
}
