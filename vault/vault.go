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

// Package vault stores provider API secrets encrypted at rest. The whole
// credential set is one AES-256-GCM blob whose key derives from a
// passphrase via scrypt, so secrets never touch disk in plaintext.
package vault

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"sync"

	"golang.org/x/crypto/scrypt"
)

// Sentinel errors returned by the vault.
var (
	ErrNotFound      = errors.New("credential not found")
	ErrNoPassphrase  = errors.New("vault passphrase is required")
	ErrCorruptVault  = errors.New("vault file is corrupt")
	ErrWrongPassword = errors.New("vault passphrase does not match")
)

const (
	magic     = "SYMV1"
	saltLen   = 16
	nonceLen  = 12
	keyLen    = 32
	scryptN   = 1 << 15
	scryptR   = 8
	scryptP   = 1
)

// Vault holds the decrypted credential map in memory and re-encrypts the
// whole set on every mutation.
type Vault struct {
	path       string
	passphrase []byte

	mu      sync.RWMutex
	secrets map[string]string // provider id -> secret
}

// Open loads the vault at path, creating an empty one if the file does not
// exist yet.
func Open(path string, passphrase []byte) (*Vault, error) {
	if len(passphrase) == 0 {
		return nil, ErrNoPassphrase
	}
	v := &Vault{
		path:       path,
		passphrase: passphrase,
		secrets:    make(map[string]string),
	}

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return v, nil
		}
		return nil, fmt.Errorf("failed to read vault: %w", err)
	}
	if err := v.decrypt(data); err != nil {
		return nil, err
	}
	return v, nil
}

// Get returns the secret for a provider id.
func (v *Vault) Get(providerID string) (string, error) {
	v.mu.RLock()
	defer v.mu.RUnlock()
	secret, ok := v.secrets[providerID]
	if !ok {
		return "", fmt.Errorf("%w: %s", ErrNotFound, providerID)
	}
	return secret, nil
}

// Set stores a secret and persists the vault.
func (v *Vault) Set(providerID, secret string) error {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.secrets[providerID] = secret
	return v.persistLocked()
}

// Delete removes a secret and persists the vault. Deleting a missing id is
// not an error.
func (v *Vault) Delete(providerID string) error {
	v.mu.Lock()
	defer v.mu.Unlock()
	if _, ok := v.secrets[providerID]; !ok {
		return nil
	}
	delete(v.secrets, providerID)
	return v.persistLocked()
}

// Providers returns the sorted provider ids with stored secrets.
func (v *Vault) Providers() []string {
	v.mu.RLock()
	defer v.mu.RUnlock()
	ids := make([]string, 0, len(v.secrets))
	for id := range v.secrets {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

func (v *Vault) persistLocked() error {
	plaintext, err := json.Marshal(v.secrets)
	if err != nil {
		return fmt.Errorf("failed to marshal secrets: %w", err)
	}

	salt := make([]byte, saltLen)
	if _, err := rand.Read(salt); err != nil {
		return fmt.Errorf("failed to generate salt: %w", err)
	}
	key, err := scrypt.Key(v.passphrase, salt, scryptN, scryptR, scryptP, keyLen)
	if err != nil {
		return fmt.Errorf("failed to derive key: %w", err)
	}

	block, err := aes.NewCipher(key)
	if err != nil {
		return err
	}
	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return err
	}
	nonce := make([]byte, nonceLen)
	if _, err := rand.Read(nonce); err != nil {
		return fmt.Errorf("failed to generate nonce: %w", err)
	}

	blob := make([]byte, 0, len(magic)+saltLen+nonceLen+len(plaintext)+gcm.Overhead())
	blob = append(blob, magic...)
	blob = append(blob, salt...)
	blob = append(blob, nonce...)
	blob = gcm.Seal(blob, nonce, plaintext, nil)

	if err := os.MkdirAll(filepath.Dir(v.path), 0o700); err != nil {
		return fmt.Errorf("failed to create vault directory: %w", err)
	}
	tmp, err := os.CreateTemp(filepath.Dir(v.path), ".vault-*")
	if err != nil {
		return fmt.Errorf("failed to create temp vault: %w", err)
	}
	tmpName := tmp.Name()
	if _, err := tmp.Write(blob); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return fmt.Errorf("failed to write vault: %w", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return err
	}
	if err := os.Chmod(tmpName, 0o600); err != nil {
		os.Remove(tmpName)
		return err
	}
	if err := os.Rename(tmpName, v.path); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("failed to replace vault: %w", err)
	}
	return nil
}

func (v *Vault) decrypt(blob []byte) error {
	if len(blob) < len(magic)+saltLen+nonceLen {
		return ErrCorruptVault
	}
	if string(blob[:len(magic)]) != magic {
		return ErrCorruptVault
	}
	blob = blob[len(magic):]
	salt, blob := blob[:saltLen], blob[saltLen:]
	nonce, ciphertext := blob[:nonceLen], blob[nonceLen:]

	key, err := scrypt.Key(v.passphrase, salt, scryptN, scryptR, scryptP, keyLen)
	if err != nil {
		return fmt.Errorf("failed to derive key: %w", err)
	}
	block, err := aes.NewCipher(key)
	if err != nil {
		return err
	}
	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return err
	}
	plaintext, err := gcm.Open(nil, nonce, ciphertext, nil)
	if err != nil {
		return ErrWrongPassword
	}
	if err := json.Unmarshal(plaintext, &v.secrets); err != nil {
		return ErrCorruptVault
	}
	return nil
}
