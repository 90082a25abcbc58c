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

// Package storage implements the persisted state tree. Every stateful
// component writes JSON documents beneath a single data directory; writes
// are atomic (temp file + rename) so a crash never leaves a partial record.
package storage

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
)

// Sentinel errors returned by the store.
var (
	ErrNotFound    = errors.New("record not found")
	ErrInvalidPath = errors.New("path escapes data directory")
)

// IsNotFound reports whether err means the record does not exist.
func IsNotFound(err error) bool {
	return errors.Is(err, ErrNotFound)
}

// Store reads and writes records under a root directory. It is safe for
// concurrent use: atomicity comes from rename, and callers serialize
// logical read-modify-write cycles themselves.
type Store struct {
	root string
}

// New creates the data directory if needed and returns a store rooted there.
func New(root string) (*Store, error) {
	if root == "" {
		return nil, errors.New("storage root is required")
	}
	if err := os.MkdirAll(root, 0o700); err != nil {
		return nil, fmt.Errorf("failed to create data directory: %w", err)
	}
	return &Store{root: root}, nil
}

// Root returns the absolute data directory.
func (s *Store) Root() string {
	return s.root
}

// resolve joins rel onto the root and rejects traversal outside it.
func (s *Store) resolve(rel string) (string, error) {
	clean := filepath.Clean(filepath.Join(s.root, rel))
	if clean != s.root && !strings.HasPrefix(clean, s.root+string(filepath.Separator)) {
		return "", fmt.Errorf("%w: %s", ErrInvalidPath, rel)
	}
	return clean, nil
}

// WriteJSON marshals v and atomically replaces the record at rel.
func (s *Store) WriteJSON(rel string, v interface{}) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal %s: %w", rel, err)
	}
	return s.WriteBytes(rel, data)
}

// WriteBytes atomically replaces the record at rel with raw bytes.
func (s *Store) WriteBytes(rel string, data []byte) error {
	path, err := s.resolve(rel)
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
		return fmt.Errorf("failed to create parent directory: %w", err)
	}

	tmp, err := os.CreateTemp(filepath.Dir(path), ".tmp-*")
	if err != nil {
		return fmt.Errorf("failed to create temp file: %w", err)
	}
	tmpName := tmp.Name()
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return fmt.Errorf("failed to write %s: %w", rel, err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("failed to close temp file: %w", err)
	}
	if err := os.Chmod(tmpName, 0o600); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("failed to set permissions: %w", err)
	}
	if err := os.Rename(tmpName, path); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("failed to replace %s: %w", rel, err)
	}
	return nil
}

// ReadJSON unmarshals the record at rel into v. Returns ErrNotFound when
// the record does not exist.
func (s *Store) ReadJSON(rel string, v interface{}) error {
	data, err := s.ReadBytes(rel)
	if err != nil {
		return err
	}
	if err := json.Unmarshal(data, v); err != nil {
		return fmt.Errorf("failed to unmarshal %s: %w", rel, err)
	}
	return nil
}

// ReadBytes returns the raw record at rel.
func (s *Store) ReadBytes(rel string) ([]byte, error) {
	path, err := s.resolve(rel)
	if err != nil {
		return nil, err
	}
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("%w: %s", ErrNotFound, rel)
		}
		return nil, fmt.Errorf("failed to read %s: %w", rel, err)
	}
	return data, nil
}

// Exists reports whether a record is present at rel.
func (s *Store) Exists(rel string) bool {
	path, err := s.resolve(rel)
	if err != nil {
		return false
	}
	_, err = os.Stat(path)
	return err == nil
}

// Delete removes the record at rel. Deleting a missing record is not an
// error.
func (s *Store) Delete(rel string) error {
	path, err := s.resolve(rel)
	if err != nil {
		return err
	}
	if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("failed to delete %s: %w", rel, err)
	}
	return nil
}

// List returns the sorted record names directly under the directory rel.
// A missing directory yields an empty list.
func (s *Store) List(rel string) ([]string, error) {
	path, err := s.resolve(rel)
	if err != nil {
		return nil, err
	}
	entries, err := os.ReadDir(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to list %s: %w", rel, err)
	}
	names := make([]string, 0, len(entries))
	for _, e := range entries {
		if e.IsDir() || strings.HasPrefix(e.Name(), ".tmp-") {
			continue
		}
		names = append(names, e.Name())
	}
	sort.Strings(names)
	return names, nil
}
