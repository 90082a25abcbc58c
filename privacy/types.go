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

// Package privacy implements PII detection and transformation, the
// per-user differential-privacy budget, and the consent ledger. Nothing in
// this package ever sends user text off-device; transformations happen
// before any model call.
package privacy

import (
	"errors"
	"time"
)

// PIIType represents different categories of personally identifiable
// information.
type PIIType string

const (
	PIITypeEmail      PIIType = "email"
	PIITypePhone      PIIType = "phone"
	PIITypeSSN        PIIType = "ssn"
	PIITypeCreditCard PIIType = "credit-card"
	PIITypeName       PIIType = "name"
	PIITypeAddress    PIIType = "address"
	PIITypeDOB        PIIType = "dob"
	PIITypeIP         PIIType = "ip"
	PIITypeLocation   PIIType = "location"
	PIITypeMedical    PIIType = "medical"
	PIITypeFinancial  PIIType = "financial"
	PIITypeBiometric  PIIType = "biometric"
)

// Sensitivity classifies how damaging a leak of the detected value would be.
type Sensitivity string

const (
	SensitivityLow    Sensitivity = "low"
	SensitivityMedium Sensitivity = "medium"
	SensitivityHigh   Sensitivity = "high"
)

// Action is what the engine does with a detected span.
type Action string

const (
	ActionRedact   Action = "redact"   // replace with a marker
	ActionMask     Action = "mask"     // keep shape, obscure characters
	ActionHash     Action = "hash"     // one-way digest
	ActionTokenize Action = "tokenize" // reversible opaque token
	ActionBlock    Action = "block"    // refuse the request
)

// Detection is a single PII hit within a text.
type Detection struct {
	Type        PIIType     `json:"type"`
	Value       string      `json:"value"`
	Sensitivity Sensitivity `json:"sensitivity"`
	Confidence  float64     `json:"confidence"` // 0.0 to 1.0
	StartIndex  int         `json:"start_index"`
	EndIndex    int         `json:"end_index"`
	Context     string      `json:"context,omitempty"` // surrounding text
}

// ConsentLevel orders how much processing the user has agreed to.
type ConsentLevel string

const (
	ConsentNone     ConsentLevel = "none"
	ConsentMinimal  ConsentLevel = "minimal"
	ConsentStandard ConsentLevel = "standard"
	ConsentFull     ConsentLevel = "full"
)

// Permission names an individual capability inside a consent record.
type Permission string

const (
	PermissionStore       Permission = "store"
	PermissionAnalytics   Permission = "analytics"
	PermissionPersonalize Permission = "personalize"
	PermissionShare       Permission = "share"
)

// ConsentRecord is the per-user consent state. It is read-mostly; writes go
// through the ledger so each produces an audit entry.
type ConsentRecord struct {
	UserID      string       `json:"user_id"`
	Level       ConsentLevel `json:"level"`
	Store       bool         `json:"store"`
	Analytics   bool         `json:"analytics"`
	Personalize bool         `json:"personalize"`
	Share       bool         `json:"share"`
	GrantedAt   time.Time    `json:"granted_at"`
	ExpiresAt   *time.Time   `json:"expires_at,omitempty"`
	Version     string       `json:"version"`
}

// Budget tracks a user's differential-privacy spend. Counters roll over a
// day after the last reset.
type Budget struct {
	UserID       string    `json:"user_id"`
	EpsilonSpent float64   `json:"epsilon_spent"`
	MaxEpsilon   float64   `json:"max_epsilon"`
	QueryCount   int       `json:"query_count"`
	MaxQueries   int       `json:"max_queries"`
	LastReset    time.Time `json:"last_reset"`
	Exceeded     bool      `json:"exceeded"`
}

// Sentinel errors.
var (
	ErrBudgetExceeded = errors.New("privacy budget exceeded")
	ErrBlocked        = errors.New("request blocked by privacy action")
	ErrInvalidAction  = errors.New("invalid privacy action")
	ErrUnknownToken   = errors.New("unknown token")
)

// Validate checks that a consent record is internally consistent.
func (r *ConsentRecord) Validate() error {
	if r.UserID == "" {
		return errors.New("consent record requires a user id")
	}
	if !isValidConsentLevel(r.Level) {
		return errors.New("invalid consent level")
	}
	return nil
}

func isValidConsentLevel(l ConsentLevel) bool {
	switch l {
	case ConsentNone, ConsentMinimal, ConsentStandard, ConsentFull:
		return true
	}
	return false
}

// IsValidAction reports whether a is one of the five transformation
// actions.
func IsValidAction(a Action) bool {
	switch a {
	case ActionRedact, ActionMask, ActionHash, ActionTokenize, ActionBlock:
		return true
	}
	return false
}

// recordForLevel fills the boolean permissions a consent level implies.
func recordForLevel(userID string, level ConsentLevel) *ConsentRecord {
	rec := &ConsentRecord{
		UserID:    userID,
		Level:     level,
		GrantedAt: time.Now().UTC(),
		Version:   "v1",
	}
	switch level {
	case ConsentMinimal:
		rec.Store = true
	case ConsentStandard:
		rec.Store = true
		rec.Personalize = true
	case ConsentFull:
		rec.Store = true
		rec.Analytics = true
		rec.Personalize = true
		rec.Share = true
	}
	return rec
}
