// Copyright 2025 Symbiont
// SPDX-License-Identifier: Apache-2.0

package privacy

import (
	"fmt"
	"strconv"
	"strings"
	"sync"
	"time"

	"symbiont/core/shared/logger"
	"symbiont/core/storage"
	"symbiont/core/storage/journal"
)

const consentPath = "privacy/consent_records.json"

// ConsentLedger holds per-user consent records. Writes are serialized and
// persisted before returning, so a consent change is always observable by
// the user's next request. Every write appends an audit entry.
type ConsentLedger struct {
	mu      sync.RWMutex
	store   *storage.Store
	journal *journal.Journal
	records map[string]*ConsentRecord
	log     *logger.Logger
	now     func() time.Time
}

// NewConsentLedger loads the consent map from the store.
func NewConsentLedger(store *storage.Store, jrnl *journal.Journal) (*ConsentLedger, error) {
	l := &ConsentLedger{
		store:   store,
		journal: jrnl,
		records: make(map[string]*ConsentRecord),
		log:     logger.New("consent"),
		now:     time.Now,
	}

	var persisted map[string]*ConsentRecord
	if err := store.ReadJSON(consentPath, &persisted); err != nil {
		if !storage.IsNotFound(err) {
			return nil, fmt.Errorf("load consent records: %w", err)
		}
	} else {
		l.records = persisted
	}

	return l, nil
}

// Record validates and stores a consent record for record.UserID. The stored
// version is bumped past any existing record regardless of what the caller
// supplied.
func (l *ConsentLedger) Record(requestID string, record ConsentRecord) (*ConsentRecord, error) {
	if err := record.Validate(); err != nil {
		return nil, err
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	if record.GrantedAt.IsZero() {
		record.GrantedAt = l.now().UTC()
	}
	record.Version = nextVersion(l.records[record.UserID])

	l.records[record.UserID] = &record
	if err := l.persistLocked(); err != nil {
		return nil, err
	}

	l.audit(requestID, record.UserID, "updated", &record)

	copied := record
	return &copied, nil
}

// Get returns the user's consent record, creating a standard-level record on
// first access. The implicit default is itself audited so the trail shows
// when consent came into being.
func (l *ConsentLedger) Get(requestID, userID string) (*ConsentRecord, error) {
	l.mu.RLock()
	existing, ok := l.records[userID]
	l.mu.RUnlock()
	if ok {
		copied := *existing
		return &copied, nil
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	// Re-check under the write lock.
	if existing, ok := l.records[userID]; ok {
		copied := *existing
		return &copied, nil
	}

	record := recordForLevel(userID, ConsentStandard)
	record.GrantedAt = l.now().UTC()
	record.Version = "v1"
	l.records[userID] = record
	if err := l.persistLocked(); err != nil {
		return nil, err
	}

	l.audit(requestID, userID, "defaulted", record)

	copied := *record
	return &copied, nil
}

// Allows reports whether the user has granted the permission. Expired
// consent grants nothing.
func (l *ConsentLedger) Allows(requestID, userID string, perm Permission) (bool, error) {
	record, err := l.Get(requestID, userID)
	if err != nil {
		return false, err
	}

	if record.ExpiresAt != nil && l.now().After(*record.ExpiresAt) {
		return false, nil
	}

	switch perm {
	case PermissionStore:
		return record.Store, nil
	case PermissionAnalytics:
		return record.Analytics, nil
	case PermissionPersonalize:
		return record.Personalize, nil
	case PermissionShare:
		return record.Share, nil
	default:
		return false, fmt.Errorf("unknown permission %q", perm)
	}
}

// Revoke downgrades the user to the none level, clearing all permissions.
func (l *ConsentLedger) Revoke(requestID, userID string) (*ConsentRecord, error) {
	record := recordForLevel(userID, ConsentNone)
	return l.Record(requestID, *record)
}

// aggregate folds consent level counts into an engine snapshot.
func (l *ConsentLedger) aggregate(snap *Snapshot) {
	l.mu.RLock()
	defer l.mu.RUnlock()

	for _, r := range l.records {
		snap.ConsentUsers++
		snap.ConsentByLevel[string(r.Level)]++
	}
}

func (l *ConsentLedger) persistLocked() error {
	if err := l.store.WriteJSON(consentPath, l.records); err != nil {
		return fmt.Errorf("persist consent records: %w", err)
	}
	return nil
}

func (l *ConsentLedger) audit(requestID, userID, decision string, record *ConsentRecord) {
	if l.journal == nil {
		return
	}
	l.journal.Record(requestID, userID, journal.CategoryConsentWrite, "consent", decision, "", map[string]interface{}{
		"level":       string(record.Level),
		"store":       record.Store,
		"analytics":   record.Analytics,
		"personalize": record.Personalize,
		"share":       record.Share,
		"version":     record.Version,
	})
}

// nextVersion produces v1 for a fresh record, otherwise increments the
// numeric suffix of the previous version.
func nextVersion(prev *ConsentRecord) string {
	if prev == nil {
		return "v1"
	}
	n, err := strconv.Atoi(strings.TrimPrefix(prev.Version, "v"))
	if err != nil {
		return "v1"
	}
	return "v" + strconv.Itoa(n+1)
}
