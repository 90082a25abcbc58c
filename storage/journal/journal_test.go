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

package journal

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
)

// TestHashQuery verifies query hashing
func TestHashQuery(t *testing.T) {
	tests := []struct {
		name  string
		query string
	}{
		{"Simple query", "What is the weather?"},
		{"Complex query", "Plan a 3-day trip with moderate budget"},
		{"Query with special chars", "How much is 5 + 3 = ?"},
		{"Long query", strings.Repeat("test query ", 100)},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			hash := HashQuery(tt.query)

			if hash == "" {
				t.Error("Hash should not be empty")
			}

			// 64 hex chars of SHA-256
			if len(hash) != 64 {
				t.Errorf("Expected 64-char hash, got %d chars", len(hash))
			}

			// Deterministic
			if hash != HashQuery(tt.query) {
				t.Error("Same query should produce same hash")
			}

			// Distinct inputs produce distinct hashes
			if hash == HashQuery(tt.query+"different") {
				t.Error("Different queries should produce different hashes")
			}
		})
	}

	t.Run("Empty query", func(t *testing.T) {
		if HashQuery("") != "" {
			t.Error("Empty query should produce empty hash")
		}
	})
}

// TestNoOpJournal verifies graceful degradation without a DSN
func TestNoOpJournal(t *testing.T) {
	j := New("", 10)
	defer j.Close()

	if !j.IsHealthy() {
		t.Error("No-op journal should report healthy")
	}

	entry := j.Record("req-1", "alice", CategoryGateVerdict, "humanity", "denied", "some query", nil)
	if entry.ID == "" {
		t.Error("Entry should still be built for the caller")
	}
	if entry.QueryHash == "" {
		t.Error("Query hash should be set")
	}

	entries, err := j.Search(context.Background(), SearchCriteria{UserID: "alice"})
	if err != nil {
		t.Fatalf("Search on no-op journal should not error: %v", err)
	}
	if len(entries) != 0 {
		t.Errorf("Expected no entries, got %d", len(entries))
	}
}

// TestRecordNeverStoresPlaintext verifies the privacy property of entries
func TestRecordNeverStoresPlaintext(t *testing.T) {
	j := New("", 10)
	defer j.Close()

	raw := "My SSN is 123-45-6789"
	entry := j.Record("req-2", "alice", CategoryPrivacyAction, "ssn", "redacted", raw, nil)

	if strings.Contains(entry.QueryHash, "123-45-6789") {
		t.Error("Query hash must not contain raw text")
	}
	if entry.QueryHash != HashQuery(raw) {
		t.Error("Query hash should match HashQuery of the raw text")
	}
}

// TestBatchWrite verifies entries are flushed to the database
func TestBatchWrite(t *testing.T) {
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("Failed to create sqlmock: %v", err)
	}
	defer func() { _ = db.Close() }()

	mock.ExpectBegin()
	prep := mock.ExpectPrepare("INSERT INTO audit_journal")
	prep.ExpectExec().
		WithArgs(
			sqlmock.AnyArg(), "req-3", sqlmock.AnyArg(), "alice",
			"tribunal_verdict", "humanity", "denied", sqlmock.AnyArg(), sqlmock.AnyArg(),
		).
		WillReturnResult(sqlmock.NewResult(1, 1))
	mock.ExpectCommit()

	j := NewWithDB(db, 10)

	j.Record("req-3", "alice", CategoryTribunalVerdict, "humanity", "denied", "blocked request", map[string]interface{}{
		"score": 0.7,
	})

	// Give the queue worker a moment to pick the entry up, then flush.
	time.Sleep(50 * time.Millisecond)
	j.Flush()

	if err := mock.ExpectationsWereMet(); err != nil {
		t.Errorf("Unfulfilled expectations: %v", err)
	}
}

// TestSearch verifies criteria translate into SQL conditions
func TestSearch(t *testing.T) {
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("Failed to create sqlmock: %v", err)
	}
	defer func() { _ = db.Close() }()

	now := time.Now().UTC()
	rows := sqlmock.NewRows([]string{
		"id", "request_id", "timestamp", "user_id", "category",
		"subject", "decision", "query_hash", "detail",
	}).AddRow("id-1", "req-4", now, "alice", "consent_write", "standard", "recorded", "abc", []byte(`{"version":"1"}`))

	mock.ExpectQuery("SELECT (.+) FROM audit_journal").
		WithArgs("alice", "consent_write").
		WillReturnRows(rows)

	j := NewWithDB(db, 10)
	defer j.Close()

	entries, err := j.Search(context.Background(), SearchCriteria{
		UserID:   "alice",
		Category: CategoryConsentWrite,
		Limit:    10,
	})
	if err != nil {
		t.Fatalf("Search failed: %v", err)
	}

	if len(entries) != 1 {
		t.Fatalf("Expected 1 entry, got %d", len(entries))
	}
	if entries[0].Category != CategoryConsentWrite {
		t.Errorf("Expected consent_write category, got %s", entries[0].Category)
	}
	if entries[0].Detail["version"] != "1" {
		t.Errorf("Expected detail version 1, got %v", entries[0].Detail["version"])
	}

	if err := mock.ExpectationsWereMet(); err != nil {
		t.Errorf("Unfulfilled expectations: %v", err)
	}
}
