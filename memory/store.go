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

package memory

import (
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"symbiont/core/config"
	"symbiont/core/shared/logger"
	"symbiont/core/storage"
)

const (
	memoriesPrefix = "context/memories/"
	threadsPrefix  = "context/threads/"

	// consolidationSampleMax bounds how many sources are quoted in a
	// consolidation summary.
	consolidationSampleMax = 10

	defaultSearchLimit = 10
)

// StoreInput are the arguments for storing one memory.
type StoreInput struct {
	UserID    string
	SessionID string
	Content   string
	Kind      Kind
	Priority  Priority
	Tags      []string
	ParentID  string
	TTL       time.Duration
}

// SearchInput are the arguments for semantic retrieval. A zero
// MinRelevance uses the configured default; Limit defaults to 10.
type SearchInput struct {
	UserID       string
	Query        string
	Kind         Kind
	Tags         []string
	Limit        int
	MinRelevance float64
}

// Snapshot is the store-wide view exposed to the collaborator API.
type Snapshot struct {
	TotalEntries int `json:"total_entries"`
	TotalUsers   int `json:"total_users"`
	TotalThreads int `json:"total_threads"`
	VectorDim    int `json:"vector_dim"`
}

// ContextStore owns all memory entries and conversation threads. It is
// the single writer; readers get value copies.
type ContextStore struct {
	cfg   config.MemoryConfig
	files *storage.Store
	log   *logger.Logger
	now   func() time.Time

	mu      sync.RWMutex
	entries map[string]*Entry
	byUser  map[string][]string
	threads map[string]*Thread
}

// NewContextStore loads the persisted memory tree and returns the store.
// Unreadable records are skipped with a warning rather than failing
// startup.
func NewContextStore(cfg config.MemoryConfig, files *storage.Store) (*ContextStore, error) {
	if cfg.VectorDim <= 0 {
		cfg.VectorDim = 256
	}
	if cfg.MaxWindowTokens <= 0 {
		cfg.MaxWindowTokens = 4000
	}
	if cfg.DecayHorizonDays <= 0 {
		cfg.DecayHorizonDays = 90
	}
	if cfg.ConsolidationThreshold <= 0 {
		cfg.ConsolidationThreshold = 50
	}
	s := &ContextStore{
		cfg:     cfg,
		files:   files,
		log:     logger.New("context-store"),
		now:     time.Now,
		entries: make(map[string]*Entry),
		byUser:  make(map[string][]string),
		threads: make(map[string]*Thread),
	}
	if err := s.load(); err != nil {
		return nil, err
	}
	return s, nil
}

func (s *ContextStore) load() error {
	names, err := s.files.List("context/memories")
	if err != nil {
		return fmt.Errorf("failed to list memories: %w", err)
	}
	for _, name := range names {
		var e Entry
		if err := s.files.ReadJSON(memoriesPrefix+name, &e); err != nil {
			s.log.Warn("", "", "skipping unreadable memory record", map[string]interface{}{"record": name, "error": err.Error()})
			continue
		}
		s.entries[e.ID] = &e
		s.byUser[e.UserID] = append(s.byUser[e.UserID], e.ID)
	}
	for _, ids := range s.byUser {
		sort.Slice(ids, func(i, j int) bool {
			return s.entries[ids[i]].CreatedAt.Before(s.entries[ids[j]].CreatedAt)
		})
	}

	threadNames, err := s.files.List("context/threads")
	if err != nil {
		return fmt.Errorf("failed to list threads: %w", err)
	}
	for _, name := range threadNames {
		var t Thread
		if err := s.files.ReadJSON(threadsPrefix+name, &t); err != nil {
			s.log.Warn("", "", "skipping unreadable thread record", map[string]interface{}{"record": name, "error": err.Error()})
			continue
		}
		s.threads[t.ID] = &t
	}
	return nil
}

// Store persists a new memory. Ids are deterministic, so storing the
// same content at the same instant is idempotent. Exceeding the
// unconsolidated-entry threshold triggers consolidation for the user.
func (s *ContextStore) Store(in StoreInput) (*Entry, error) {
	if in.UserID == "" {
		return nil, ErrMissingUser
	}
	if strings.TrimSpace(in.Content) == "" {
		return nil, ErrMissingContent
	}
	if in.Kind == "" {
		in.Kind = KindContext
	} else if !in.Kind.Valid() {
		return nil, fmt.Errorf("%w: %q", ErrInvalidKind, in.Kind)
	}
	if in.Priority == "" {
		in.Priority = PriorityMedium
	} else if !in.Priority.Valid() {
		return nil, fmt.Errorf("%w: %q", ErrInvalidPriority, in.Priority)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now().UTC()
	id := EntryID(in.UserID, in.Content, now)
	if existing, ok := s.entries[id]; ok {
		out := existing.clone()
		return &out, nil
	}

	e := &Entry{
		ID:           id,
		UserID:       in.UserID,
		SessionID:    in.SessionID,
		Content:      in.Content,
		Vector:       Embed(in.Content, s.cfg.VectorDim),
		Tags:         append([]string(nil), in.Tags...),
		Kind:         in.Kind,
		Priority:     in.Priority,
		CreatedAt:    now,
		LastAccessed: now,
		Relevance:    1.0,
		ParentID:     in.ParentID,
	}
	if in.TTL > 0 {
		exp := now.Add(in.TTL)
		e.ExpiresAt = &exp
	}
	if err := s.persistEntry(e); err != nil {
		return nil, err
	}
	s.entries[id] = e
	s.byUser[in.UserID] = append(s.byUser[in.UserID], id)

	if s.unconsolidatedCountLocked(in.UserID) > s.cfg.ConsolidationThreshold {
		if _, err := s.consolidateLocked(in.UserID); err != nil {
			s.log.Warn(in.UserID, "", "consolidation failed", map[string]interface{}{"error": err.Error()})
		}
	}

	out := e.clone()
	return &out, nil
}

// Get returns one entry and records the access.
func (s *ContextStore) Get(userID, id string) (*Entry, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	e, ok := s.entries[id]
	if !ok {
		return nil, ErrEntryNotFound
	}
	if e.UserID != userID {
		return nil, ErrWrongOwner
	}
	if e.Expired(s.now().UTC()) {
		return nil, ErrEntryNotFound
	}
	s.touchLocked(e)
	out := e.clone()
	return &out, nil
}

// Search retrieves the user's entries ranked by cosine similarity
// against the query weighted by stored relevance; composite ties break
// toward the newer entry. Returned entries have their access statistics
// updated.
func (s *ContextStore) Search(in SearchInput) ([]Entry, error) {
	if in.UserID == "" {
		return nil, ErrMissingUser
	}
	if in.Limit <= 0 {
		in.Limit = defaultSearchLimit
	}
	minRelevance := in.MinRelevance
	if minRelevance <= 0 {
		minRelevance = s.cfg.MinRelevance
	}
	queryVec := Embed(in.Query, s.cfg.VectorDim)

	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now().UTC()
	type scored struct {
		e     *Entry
		score float64
	}
	var candidates []scored
	for _, id := range s.byUser[in.UserID] {
		e := s.entries[id]
		if e == nil || e.Expired(now) {
			continue
		}
		if in.Kind != "" && e.Kind != in.Kind {
			continue
		}
		if !hasAllTags(e.Tags, in.Tags) {
			continue
		}
		score := e.Relevance
		if in.Query != "" {
			score = Cosine(queryVec, e.Vector) * e.Relevance
		}
		if score < minRelevance {
			continue
		}
		candidates = append(candidates, scored{e: e, score: score})
	}

	sort.Slice(candidates, func(i, j int) bool {
		if candidates[i].score != candidates[j].score {
			return candidates[i].score > candidates[j].score
		}
		return candidates[i].e.CreatedAt.After(candidates[j].e.CreatedAt)
	})
	if len(candidates) > in.Limit {
		candidates = candidates[:in.Limit]
	}

	out := make([]Entry, 0, len(candidates))
	for _, c := range candidates {
		s.touchLocked(c.e)
		out = append(out, c.e.clone())
	}
	return out, nil
}

// BuildWindow assembles a token-bounded working set. With explicit ids
// the listed entries are included in order, evicting the lowest-value
// non-critical entries already in the window when space runs out;
// otherwise session entries are ranked by composite relevance and added
// until the next would overflow. Critical entries are never evicted.
func (s *ContextStore) BuildWindow(userID, sessionID string, ids []string) (*Window, error) {
	if userID == "" {
		return nil, ErrMissingUser
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	now := s.now().UTC()
	w := &Window{
		UserID:    userID,
		SessionID: sessionID,
		TokenCap:  s.cfg.MaxWindowTokens,
		BuiltAt:   now,
	}

	var included []*Entry
	add := func(e *Entry) bool {
		if w.Tokens+e.Tokens() <= w.TokenCap {
			included = append(included, e)
			w.Tokens += e.Tokens()
			return true
		}
		return false
	}

	if len(ids) > 0 {
		for _, id := range ids {
			e, ok := s.entries[id]
			if !ok || e.UserID != userID || e.Expired(now) {
				continue
			}
			if add(e) {
				continue
			}
			// Evict the cheapest non-critical entries until the
			// requested one fits or nothing evictable remains.
			for w.Tokens+e.Tokens() > w.TokenCap {
				victim := -1
				victimScore := 0.0
				for i, cand := range included {
					if cand.Priority == PriorityCritical {
						continue
					}
					score := s.composite(cand, now)
					if victim == -1 || score < victimScore {
						victim, victimScore = i, score
					}
				}
				if victim == -1 {
					break
				}
				w.Tokens -= included[victim].Tokens()
				w.PrunedIDs = append(w.PrunedIDs, included[victim].ID)
				included = append(included[:victim], included[victim+1:]...)
			}
			add(e)
		}
	} else {
		var session []*Entry
		for _, id := range s.byUser[userID] {
			e := s.entries[id]
			if e == nil || e.Expired(now) {
				continue
			}
			if sessionID != "" && e.SessionID != sessionID {
				continue
			}
			session = append(session, e)
		}
		sort.Slice(session, func(i, j int) bool {
			si, sj := s.composite(session[i], now), s.composite(session[j], now)
			if si != sj {
				return si > sj
			}
			return session[i].CreatedAt.After(session[j].CreatedAt)
		})
		for _, e := range session {
			if !add(e) {
				break
			}
		}
	}

	w.EntryIDs = make([]string, 0, len(included))
	for _, e := range included {
		w.EntryIDs = append(w.EntryIDs, e.ID)
	}
	return w, nil
}

// composite is the window-construction ranking score.
func (s *ContextStore) composite(e *Entry, now time.Time) float64 {
	horizon := time.Duration(s.cfg.DecayHorizonDays) * 24 * time.Hour
	recency := 1 - float64(now.Sub(e.CreatedAt))/float64(horizon)
	if recency < 0 {
		recency = 0
	}
	access := float64(e.AccessCount) / 10
	if access > 1 {
		access = 1
	}
	lastAccess := 1 - float64(now.Sub(e.LastAccessed))/float64(horizon)
	if lastAccess < 0 {
		lastAccess = 0
	}
	return 0.4*e.Priority.Weight() + 0.3*recency + 0.2*access + 0.1*lastAccess
}

// Decay sweeps every non-critical entry older than the horizon and
// recomputes its relevance: clamp(1 − age/horizon + min(0.3,
// 0.05·accesses), 0.1, 1). Only changed entries are rewritten. Returns
// the number of entries updated.
func (s *ContextStore) Decay() (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now().UTC()
	horizon := time.Duration(s.cfg.DecayHorizonDays) * 24 * time.Hour
	changed := 0
	for _, e := range s.entries {
		if e.Priority == PriorityCritical {
			continue
		}
		age := now.Sub(e.CreatedAt)
		if age <= horizon {
			continue
		}
		bonus := 0.05 * float64(e.AccessCount)
		if bonus > 0.3 {
			bonus = 0.3
		}
		rel := 1 - float64(age)/float64(horizon) + bonus
		if rel < 0.1 {
			rel = 0.1
		} else if rel > 1 {
			rel = 1
		}
		if rel == e.Relevance {
			continue
		}
		e.Relevance = rel
		if err := s.persistEntry(e); err != nil {
			return changed, err
		}
		changed++
	}
	if changed > 0 {
		s.log.Info("", "", "relevance decay sweep complete", map[string]interface{}{"updated": changed})
	}
	return changed, nil
}

// PruneExpired deletes every entry whose TTL has passed and returns the
// count. TTLs are author-set, so expiry applies to all priorities.
func (s *ContextStore) PruneExpired() (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now().UTC()
	pruned := 0
	for id, e := range s.entries {
		if !e.Expired(now) {
			continue
		}
		if err := s.files.Delete(memoriesPrefix + id); err != nil {
			return pruned, err
		}
		delete(s.entries, id)
		s.byUser[e.UserID] = removeID(s.byUser[e.UserID], id)
		pruned++
	}
	if pruned > 0 {
		s.log.Info("", "", "pruned expired memories", map[string]interface{}{"count": pruned})
	}
	return pruned, nil
}

// Consolidate flips the consolidated flag on the user's unconsolidated
// entries and stores one summary entry inheriting their maximum
// priority. Sources stay retrievable. A user with nothing to consolidate
// gets (nil, nil).
func (s *ContextStore) Consolidate(userID string) (*Entry, error) {
	if userID == "" {
		return nil, ErrMissingUser
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.consolidateLocked(userID)
}

func (s *ContextStore) consolidateLocked(userID string) (*Entry, error) {
	now := s.now().UTC()
	var sources []*Entry
	for _, id := range s.byUser[userID] {
		e := s.entries[id]
		if e == nil || e.Consolidated || e.Expired(now) {
			continue
		}
		sources = append(sources, e)
	}
	if len(sources) == 0 {
		return nil, nil
	}

	maxPriority := PriorityEphemeral
	tagSet := map[string]bool{}
	var b strings.Builder
	fmt.Fprintf(&b, "Consolidated %d memories:", len(sources))
	for i, e := range sources {
		if e.Priority.atLeast(maxPriority) {
			maxPriority = e.Priority
		}
		for _, t := range e.Tags {
			tagSet[t] = true
		}
		if i < consolidationSampleMax {
			b.WriteString("\n- " + firstClause(e.Content, 100))
		}
	}
	if len(sources) > consolidationSampleMax {
		fmt.Fprintf(&b, "\n(+%d more)", len(sources)-consolidationSampleMax)
	}

	tags := make([]string, 0, len(tagSet))
	for t := range tagSet {
		tags = append(tags, t)
	}
	sort.Strings(tags)

	content := b.String()
	summary := &Entry{
		ID:           EntryID(userID, content, now),
		UserID:       userID,
		Content:      content,
		Vector:       Embed(content, s.cfg.VectorDim),
		Tags:         tags,
		Kind:         KindContext,
		Priority:     maxPriority,
		CreatedAt:    now,
		LastAccessed: now,
		Relevance:    1.0,
		// The summary itself never feeds a later consolidation round.
		Consolidated: true,
	}
	if err := s.persistEntry(summary); err != nil {
		return nil, err
	}
	s.entries[summary.ID] = summary
	s.byUser[userID] = append(s.byUser[userID], summary.ID)

	for _, e := range sources {
		e.Consolidated = true
		if err := s.persistEntry(e); err != nil {
			return nil, err
		}
	}
	s.log.Info(userID, "", "consolidated memories", map[string]interface{}{
		"sources":  len(sources),
		"summary":  summary.ID,
		"priority": string(maxPriority),
	})
	out := summary.clone()
	return &out, nil
}

// UserStats summarizes a user's stored memories.
func (s *ContextStore) UserStats(userID string) Stats {
	s.mu.RLock()
	defer s.mu.RUnlock()

	now := s.now().UTC()
	st := Stats{
		UserID:     userID,
		ByKind:     make(map[Kind]int),
		ByPriority: make(map[Priority]int),
	}
	var relSum float64
	for _, id := range s.byUser[userID] {
		e := s.entries[id]
		if e == nil {
			continue
		}
		if e.Expired(now) {
			st.Expired++
			continue
		}
		st.TotalEntries++
		st.ByKind[e.Kind]++
		st.ByPriority[e.Priority]++
		st.TotalTokens += e.Tokens()
		if e.Consolidated {
			st.Consolidated++
		}
		relSum += e.Relevance
		created := e.CreatedAt
		if st.OldestEntry == nil || created.Before(*st.OldestEntry) {
			t := created
			st.OldestEntry = &t
		}
		if st.NewestEntry == nil || created.After(*st.NewestEntry) {
			t := created
			st.NewestEntry = &t
		}
	}
	if st.TotalEntries > 0 {
		st.AvgRelevance = relSum / float64(st.TotalEntries)
	}
	return st
}

// Snapshot is the store-wide summary for the collaborator API.
func (s *ContextStore) Snapshot() Snapshot {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return Snapshot{
		TotalEntries: len(s.entries),
		TotalUsers:   len(s.byUser),
		TotalThreads: len(s.threads),
		VectorDim:    s.cfg.VectorDim,
	}
}

// CreateThread opens a conversation thread.
func (s *ContextStore) CreateThread(userID, sessionID, title string) (*Thread, error) {
	if userID == "" {
		return nil, ErrMissingUser
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now().UTC()
	t := &Thread{
		ID:        uuid.NewString(),
		UserID:    userID,
		SessionID: sessionID,
		Title:     title,
		CreatedAt: now,
		UpdatedAt: now,
	}
	if err := s.files.WriteJSON(threadsPrefix+t.ID, t); err != nil {
		return nil, err
	}
	s.threads[t.ID] = t
	out := *t
	return &out, nil
}

// AppendToThread links entries into a thread. Every entry must exist and
// belong to the thread's owner.
func (s *ContextStore) AppendToThread(threadID string, entryIDs ...string) (*Thread, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	t, ok := s.threads[threadID]
	if !ok {
		return nil, ErrThreadNotFound
	}
	for _, id := range entryIDs {
		e, ok := s.entries[id]
		if !ok {
			return nil, fmt.Errorf("%w: %s", ErrEntryNotFound, id)
		}
		if e.UserID != t.UserID {
			return nil, ErrWrongOwner
		}
		t.EntryIDs = append(t.EntryIDs, id)
	}
	t.UpdatedAt = s.now().UTC()
	if err := s.files.WriteJSON(threadsPrefix+t.ID, t); err != nil {
		return nil, err
	}
	out := *t
	out.EntryIDs = append([]string(nil), t.EntryIDs...)
	return &out, nil
}

// GetThread returns one thread.
func (s *ContextStore) GetThread(threadID string) (*Thread, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	t, ok := s.threads[threadID]
	if !ok {
		return nil, ErrThreadNotFound
	}
	out := *t
	out.EntryIDs = append([]string(nil), t.EntryIDs...)
	return &out, nil
}

// Threads lists a user's threads, newest update first.
func (s *ContextStore) Threads(userID string) []Thread {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []Thread
	for _, t := range s.threads {
		if t.UserID != userID {
			continue
		}
		c := *t
		c.EntryIDs = append([]string(nil), t.EntryIDs...)
		out = append(out, c)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].UpdatedAt.After(out[j].UpdatedAt) })
	return out
}

func (s *ContextStore) touchLocked(e *Entry) {
	e.AccessCount++
	e.LastAccessed = s.now().UTC()
	if err := s.persistEntry(e); err != nil {
		s.log.Warn(e.UserID, "", "failed to persist access update", map[string]interface{}{"entry": e.ID, "error": err.Error()})
	}
}

func (s *ContextStore) persistEntry(e *Entry) error {
	return s.files.WriteJSON(memoriesPrefix+e.ID, e)
}

func (s *ContextStore) unconsolidatedCountLocked(userID string) int {
	now := s.now().UTC()
	n := 0
	for _, id := range s.byUser[userID] {
		if e := s.entries[id]; e != nil && !e.Consolidated && !e.Expired(now) {
			n++
		}
	}
	return n
}

func hasAllTags(have, want []string) bool {
	if len(want) == 0 {
		return true
	}
	set := make(map[string]bool, len(have))
	for _, t := range have {
		set[t] = true
	}
	for _, t := range want {
		if !set[t] {
			return false
		}
	}
	return true
}

func removeID(ids []string, id string) []string {
	for i, v := range ids {
		if v == id {
			return append(ids[:i], ids[i+1:]...)
		}
	}
	return ids
}

func firstClause(text string, max int) string {
	text = strings.TrimSpace(text)
	if idx := strings.IndexAny(text, ".\n"); idx > 0 && idx < max {
		return text[:idx]
	}
	if len(text) > max {
		return text[:max]
	}
	return text
}
