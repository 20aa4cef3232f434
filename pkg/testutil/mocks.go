// Package testutil provides common testing utilities and mock implementations.
package testutil

import (
	"context"
	"sync"

	"github.com/R3E-Network/tribute_layer/internal/app/domain/heat"
)

// MockItemChecker is a test implementation of the item existence check.
type MockItemChecker struct {
	mu    sync.RWMutex
	items map[string]struct{}
	err   error
}

// NewMockItemChecker creates a checker that knows the given item IDs.
func NewMockItemChecker(itemIDs ...string) *MockItemChecker {
	m := &MockItemChecker{items: make(map[string]struct{})}
	for _, id := range itemIDs {
		m.items[id] = struct{}{}
	}
	return m
}

// AddItem registers an item.
func (m *MockItemChecker) AddItem(itemID string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.items[itemID] = struct{}{}
}

// FailWith makes Exists return err; nil restores normal behaviour.
func (m *MockItemChecker) FailWith(err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.err = err
}

// Exists reports whether the item was registered.
func (m *MockItemChecker) Exists(_ context.Context, itemID string) (bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.err != nil {
		return false, m.err
	}
	_, ok := m.items[itemID]
	return ok, nil
}

// MockScorer returns preset scores. Unknown items score zero.
type MockScorer struct {
	mu     sync.RWMutex
	scores map[string]heat.Score
	failOn map[string]error
	calls  int
}

// NewMockScorer creates an empty scorer.
func NewMockScorer() *MockScorer {
	return &MockScorer{
		scores: make(map[string]heat.Score),
		failOn: make(map[string]error),
	}
}

// Set presets the score of itemID.
func (s *MockScorer) Set(itemID string, m, p float64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.scores[itemID] = heat.Score{ItemID: itemID, M: m, P: p}
}

// FailFor makes ItemScore return err for itemID.
func (s *MockScorer) FailFor(itemID string, err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.failOn[itemID] = err
}

func (s *MockScorer) ItemScore(_ context.Context, itemID string) (heat.Score, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.calls++
	if err := s.failOn[itemID]; err != nil {
		return heat.Score{}, err
	}
	if score, ok := s.scores[itemID]; ok {
		return score, nil
	}
	return heat.Score{ItemID: itemID}, nil
}

// Calls returns how many scores were requested.
func (s *MockScorer) Calls() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.calls
}
