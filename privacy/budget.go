// Copyright 2025 Symbiont
// SPDX-License-Identifier: Apache-2.0

package privacy

import (
	"fmt"
	"sync"
	"time"

	"symbiont/core/shared/logger"
	"symbiont/core/storage"
)

const budgetPath = "privacy/privacy_budgets.json"

// BudgetManager tracks per-user differential-privacy spend. Budgets reset a
// day after their last reset; every mutation is persisted before the caller
// proceeds so a crash never forgets spend.
type BudgetManager struct {
	mu         sync.Mutex
	store      *storage.Store
	budgets    map[string]*Budget
	maxEpsilon float64
	maxQueries int
	log        *logger.Logger
	now        func() time.Time
}

// NewBudgetManager loads existing budgets from the store. A missing budget
// file is an empty ledger, not an error.
func NewBudgetManager(store *storage.Store, maxEpsilon float64, maxQueries int) (*BudgetManager, error) {
	m := &BudgetManager{
		store:      store,
		budgets:    make(map[string]*Budget),
		maxEpsilon: maxEpsilon,
		maxQueries: maxQueries,
		log:        logger.New("privacy-budget"),
		now:        time.Now,
	}

	var persisted map[string]*Budget
	if err := store.ReadJSON(budgetPath, &persisted); err != nil {
		if !storage.IsNotFound(err) {
			return nil, fmt.Errorf("load privacy budgets: %w", err)
		}
	} else {
		m.budgets = persisted
	}

	return m, nil
}

// CheckAndCharge atomically verifies and charges epsilon for one query.
// A budget older than 24h rolls over to zero spend first. On denial the
// budget is marked exceeded, persisted, and ErrBudgetExceeded returned;
// nothing is charged.
func (m *BudgetManager) CheckAndCharge(userID string, epsilon float64) (*Budget, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	b := m.budgetLocked(userID)
	m.rolloverLocked(b)

	if b.EpsilonSpent+epsilon > b.MaxEpsilon || b.QueryCount+1 > b.MaxQueries {
		b.Exceeded = true
		if err := m.persistLocked(); err != nil {
			return nil, err
		}
		m.log.Warn(userID, "", "privacy budget exhausted", map[string]interface{}{
			"epsilon_spent": b.EpsilonSpent,
			"max_epsilon":   b.MaxEpsilon,
			"query_count":   b.QueryCount,
		})
		return snapshot(b), fmt.Errorf("user %s: %w", userID, ErrBudgetExceeded)
	}

	b.EpsilonSpent += epsilon
	b.QueryCount++
	b.Exceeded = false
	if err := m.persistLocked(); err != nil {
		return nil, err
	}

	return snapshot(b), nil
}

// Refund returns epsilon charged for a query that never executed, such as a
// request cancelled before the execution stage.
func (m *BudgetManager) Refund(userID string, epsilon float64) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	b, ok := m.budgets[userID]
	if !ok {
		return nil
	}

	b.EpsilonSpent -= epsilon
	if b.EpsilonSpent < 0 {
		b.EpsilonSpent = 0
	}
	if b.QueryCount > 0 {
		b.QueryCount--
	}
	b.Exceeded = b.EpsilonSpent > b.MaxEpsilon || b.QueryCount > b.MaxQueries

	return m.persistLocked()
}

// Get returns a copy of the user's budget after applying any due rollover.
func (m *BudgetManager) Get(userID string) *Budget {
	m.mu.Lock()
	defer m.mu.Unlock()

	b := m.budgetLocked(userID)
	m.rolloverLocked(b)
	return snapshot(b)
}

// Remaining reports epsilon left before the user's cap.
func (m *BudgetManager) Remaining(userID string) float64 {
	b := m.Get(userID)
	remaining := b.MaxEpsilon - b.EpsilonSpent
	if remaining < 0 {
		return 0
	}
	return remaining
}

// aggregate folds budget totals into an engine snapshot.
func (m *BudgetManager) aggregate(snap *Snapshot) {
	m.mu.Lock()
	defer m.mu.Unlock()

	for _, b := range m.budgets {
		snap.BudgetUsers++
		if b.Exceeded {
			snap.BudgetsExceeded++
		}
		snap.EpsilonSpent += b.EpsilonSpent
		snap.QueriesCharged += b.QueryCount
	}
}

func (m *BudgetManager) budgetLocked(userID string) *Budget {
	if b, ok := m.budgets[userID]; ok {
		return b
	}
	b := &Budget{
		UserID:     userID,
		MaxEpsilon: m.maxEpsilon,
		MaxQueries: m.maxQueries,
		LastReset:  m.now().UTC(),
	}
	m.budgets[userID] = b
	return b
}

// rolloverLocked resets spend when at least a day has passed since the last
// reset.
func (m *BudgetManager) rolloverLocked(b *Budget) {
	if m.now().Sub(b.LastReset) < 24*time.Hour {
		return
	}
	b.EpsilonSpent = 0
	b.QueryCount = 0
	b.Exceeded = false
	b.LastReset = m.now().UTC()
}

func (m *BudgetManager) persistLocked() error {
	if err := m.store.WriteJSON(budgetPath, m.budgets); err != nil {
		return fmt.Errorf("persist privacy budgets: %w", err)
	}
	return nil
}

func snapshot(b *Budget) *Budget {
	c := *b
	return &c
}
