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

// Package journal records audit entries for decisions that must stay
// reviewable: gate verdicts, tribunal arbitrations, consent writes, and
// protected-path refusals. Entries never contain raw request text, only a
// one-way hash, so the journal can live off-device without weakening the
// privacy posture. Without a database DSN the journal degrades to a no-op
// and entries only reach the structured log.
package journal

import (
	"context"
	"crypto/sha256"
	"database/sql"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/google/uuid"
	_ "github.com/lib/pq"
)

// Category classifies what kind of decision an entry records.
type Category string

const (
	CategoryGateVerdict     Category = "gate_verdict"
	CategoryTribunalVerdict Category = "tribunal_verdict"
	CategoryConsentWrite    Category = "consent_write"
	CategoryProtectedPath   Category = "protected_path"
	CategoryPrivacyAction   Category = "privacy_action"
	CategoryInvariant       Category = "invariant_violation"
)

// Entry is a single audit record.
type Entry struct {
	ID        string                 `json:"id"`
	RequestID string                 `json:"request_id"`
	Timestamp time.Time              `json:"timestamp"`
	UserID    string                 `json:"user_id"`
	Category  Category               `json:"category"`
	Subject   string                 `json:"subject"`  // gate name, path, consent level
	Decision  string                 `json:"decision"` // approved, denied, refused, recorded
	QueryHash string                 `json:"query_hash"`
	Detail    map[string]interface{} `json:"detail,omitempty"`
}

// SearchCriteria narrows a journal query. Zero values are ignored.
type SearchCriteria struct {
	UserID    string
	RequestID string
	Category  Category
	StartTime time.Time
	EndTime   time.Time
	Limit     int
}

// Journal buffers entries on a bounded queue and batch-writes them to
// Postgres. All methods are safe for concurrent use.
type Journal struct {
	db           *sql.DB
	queue        chan *Entry
	wg           sync.WaitGroup
	shutdownChan chan struct{}
	closeOnce    sync.Once

	mu    sync.Mutex
	batch []*Entry
}

const batchSize = 100

// New opens the journal. An empty DSN or an unreachable database yields a
// functioning no-op journal.
func New(dsn string, queueSize int) *Journal {
	if queueSize <= 0 {
		queueSize = 10000
	}
	j := &Journal{
		queue:        make(chan *Entry, queueSize),
		shutdownChan: make(chan struct{}),
		batch:        make([]*Entry, 0, batchSize),
	}

	if dsn == "" {
		return j
	}

	db, err := sql.Open("postgres", dsn)
	if err != nil {
		log.Printf("[Journal] Failed to open audit database, journal disabled: %v", err)
		return j
	}
	if err := createTable(db); err != nil {
		log.Printf("[Journal] Failed to create audit table: %v", err)
	}
	j.db = db

	j.wg.Add(1)
	go j.processQueue()
	return j
}

// NewWithDB wires the journal onto an existing database handle. The caller
// owns table creation.
func NewWithDB(db *sql.DB, queueSize int) *Journal {
	if queueSize <= 0 {
		queueSize = 10000
	}
	j := &Journal{
		db:           db,
		queue:        make(chan *Entry, queueSize),
		shutdownChan: make(chan struct{}),
		batch:        make([]*Entry, 0, batchSize),
	}
	j.wg.Add(1)
	go j.processQueue()
	return j
}

// Record builds an entry and enqueues it. The raw query is hashed here so
// plaintext never reaches the queue.
func (j *Journal) Record(requestID, userID string, category Category, subject, decision, rawQuery string, detail map[string]interface{}) *Entry {
	entry := &Entry{
		ID:        uuid.NewString(),
		RequestID: requestID,
		Timestamp: time.Now().UTC(),
		UserID:    userID,
		Category:  category,
		Subject:   subject,
		Decision:  decision,
		QueryHash: HashQuery(rawQuery),
		Detail:    detail,
	}
	j.enqueue(entry)
	return entry
}

// HashQuery returns the hex SHA-256 of the query text, or empty for empty
// input.
func HashQuery(q string) string {
	if q == "" {
		return ""
	}
	sum := sha256.Sum256([]byte(q))
	return hex.EncodeToString(sum[:])
}

func (j *Journal) enqueue(entry *Entry) {
	if j.db == nil {
		return
	}
	select {
	case j.queue <- entry:
	default:
		// Queue full: write synchronously rather than drop an audit record.
		log.Printf("[Journal] Queue full, writing directly")
		j.writeBatch([]*Entry{entry})
	}
}

func (j *Journal) processQueue() {
	defer j.wg.Done()

	ticker := time.NewTicker(5 * time.Second)
	defer ticker.Stop()

	for {
		select {
		case entry := <-j.queue:
			j.add(entry)
		case <-ticker.C:
			j.Flush()
		case <-j.shutdownChan:
			for {
				select {
				case entry := <-j.queue:
					j.add(entry)
				default:
					j.Flush()
					return
				}
			}
		}
	}
}

func (j *Journal) add(entry *Entry) {
	j.mu.Lock()
	j.batch = append(j.batch, entry)
	full := len(j.batch) >= batchSize
	j.mu.Unlock()
	if full {
		j.Flush()
	}
}

// Flush writes any batched entries immediately.
func (j *Journal) Flush() {
	j.mu.Lock()
	if len(j.batch) == 0 {
		j.mu.Unlock()
		return
	}
	pending := j.batch
	j.batch = make([]*Entry, 0, batchSize)
	j.mu.Unlock()

	j.writeBatch(pending)
}

func (j *Journal) writeBatch(entries []*Entry) {
	if j.db == nil || len(entries) == 0 {
		return
	}

	tx, err := j.db.Begin()
	if err != nil {
		log.Printf("[Journal] Failed to begin batch: %v", err)
		return
	}
	defer func() { _ = tx.Rollback() }()

	stmt, err := tx.Prepare(`
		INSERT INTO audit_journal (
			id, request_id, timestamp, user_id, category,
			subject, decision, query_hash, detail
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
	`)
	if err != nil {
		log.Printf("[Journal] Failed to prepare batch: %v", err)
		return
	}
	defer func() { _ = stmt.Close() }()

	for _, entry := range entries {
		detailJSON, _ := json.Marshal(entry.Detail)
		if _, err := stmt.Exec(
			entry.ID,
			entry.RequestID,
			entry.Timestamp,
			entry.UserID,
			string(entry.Category),
			entry.Subject,
			entry.Decision,
			entry.QueryHash,
			detailJSON,
		); err != nil {
			log.Printf("[Journal] Failed to insert entry: %v", err)
		}
	}

	if err := tx.Commit(); err != nil {
		log.Printf("[Journal] Failed to commit batch: %v", err)
	}
}

// Search returns entries matching the criteria, newest first.
func (j *Journal) Search(ctx context.Context, criteria SearchCriteria) ([]*Entry, error) {
	if j.db == nil {
		return []*Entry{}, nil
	}

	query := `
		SELECT id, request_id, timestamp, user_id, category,
		       subject, decision, query_hash, detail
		FROM audit_journal
		WHERE 1=1
	`
	args := []interface{}{}
	argIndex := 1

	if criteria.UserID != "" {
		query += fmt.Sprintf(" AND user_id = $%d", argIndex)
		args = append(args, criteria.UserID)
		argIndex++
	}
	if criteria.RequestID != "" {
		query += fmt.Sprintf(" AND request_id = $%d", argIndex)
		args = append(args, criteria.RequestID)
		argIndex++
	}
	if criteria.Category != "" {
		query += fmt.Sprintf(" AND category = $%d", argIndex)
		args = append(args, string(criteria.Category))
		argIndex++
	}
	if !criteria.StartTime.IsZero() {
		query += fmt.Sprintf(" AND timestamp >= $%d", argIndex)
		args = append(args, criteria.StartTime)
		argIndex++
	}
	if !criteria.EndTime.IsZero() {
		query += fmt.Sprintf(" AND timestamp <= $%d", argIndex)
		args = append(args, criteria.EndTime)
		argIndex++
	}

	query += " ORDER BY timestamp DESC"
	if criteria.Limit > 0 {
		query += fmt.Sprintf(" LIMIT %d", criteria.Limit)
	}

	rows, err := j.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to search journal: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var entries []*Entry
	for rows.Next() {
		entry := &Entry{}
		var category string
		var detailJSON []byte

		if err := rows.Scan(
			&entry.ID,
			&entry.RequestID,
			&entry.Timestamp,
			&entry.UserID,
			&category,
			&entry.Subject,
			&entry.Decision,
			&entry.QueryHash,
			&detailJSON,
		); err != nil {
			log.Printf("[Journal] Error scanning entry: %v", err)
			continue
		}
		entry.Category = Category(category)
		_ = json.Unmarshal(detailJSON, &entry.Detail)
		entries = append(entries, entry)
	}
	return entries, rows.Err()
}

// IsHealthy reports whether the backing database is reachable. The no-op
// journal is always healthy.
func (j *Journal) IsHealthy() bool {
	if j.db == nil {
		return true
	}
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	return j.db.PingContext(ctx) == nil
}

// Close drains the queue, flushes, and closes the database.
func (j *Journal) Close() {
	j.closeOnce.Do(func() {
		close(j.shutdownChan)
		if j.db != nil {
			j.wg.Wait()
			_ = j.db.Close()
		}
	})
}

func createTable(db *sql.DB) error {
	query := `
	CREATE TABLE IF NOT EXISTS audit_journal (
		id VARCHAR(255) PRIMARY KEY,
		request_id VARCHAR(255),
		timestamp TIMESTAMP NOT NULL,
		user_id VARCHAR(255) NOT NULL,
		category VARCHAR(50) NOT NULL,
		subject VARCHAR(255),
		decision VARCHAR(50) NOT NULL,
		query_hash VARCHAR(64),
		detail JSONB,
		created_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP
	);

	CREATE INDEX IF NOT EXISTS idx_audit_journal_timestamp ON audit_journal(timestamp);
	CREATE INDEX IF NOT EXISTS idx_audit_journal_user_id ON audit_journal(user_id);
	CREATE INDEX IF NOT EXISTS idx_audit_journal_category ON audit_journal(category);
	CREATE INDEX IF NOT EXISTS idx_audit_journal_request_id ON audit_journal(request_id);
	`
	_, err := db.Exec(query)
	return err
}
