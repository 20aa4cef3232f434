package memory

import (
	"context"
	"encoding/json"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	core "github.com/R3E-Network/tribute_layer/internal/app/core/service"
	"github.com/R3E-Network/tribute_layer/internal/app/domain/heat"
	"github.com/R3E-Network/tribute_layer/internal/app/domain/leaderboard"
	"github.com/R3E-Network/tribute_layer/internal/app/domain/ledger"
	"github.com/R3E-Network/tribute_layer/internal/app/storage"
)

// Store is an in-memory implementation of the storage interfaces. It is safe
// for concurrent use and is primarily intended for tests and local development.
type Store struct {
	mu           sync.RWMutex
	windows      map[string][]heat.Window
	transactions map[string]ledger.Transaction
	snapshot     *leaderboard.Snapshot
}

var _ storage.HeatWindowStore = (*Store)(nil)
var _ storage.LedgerTransactionStore = (*Store)(nil)
var _ storage.LeaderboardSnapshotStore = (*Store)(nil)

// New creates an empty store.
func New() *Store {
	return &Store{
		windows:      make(map[string][]heat.Window),
		transactions: make(map[string]ledger.Transaction),
	}
}

// HeatWindowStore implementation ----------------------------------------------

func (s *Store) IncrementOpenWindow(_ context.Context, itemID string, delta float64, now time.Time, duration time.Duration) (heat.Window, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	now = now.UTC()
	windows := s.windows[itemID]
	for i := len(windows) - 1; i >= 0; i-- {
		if windows[i].OpenAt(now) {
			windows[i].Delta += delta
			return windows[i], false, nil
		}
	}

	w := heat.Window{
		ID:        uuid.NewString(),
		ItemID:    itemID,
		Delta:     delta,
		CreatedAt: now,
		ExpiredAt: now.Add(duration),
	}
	s.windows[itemID] = append(windows, w)
	return w, true, nil
}

func (s *Store) SumSince(_ context.Context, itemID string, since time.Time) (float64, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var total float64
	for _, w := range s.windows[itemID] {
		if !w.CreatedAt.Before(since) {
			total += w.Delta
		}
	}
	return total, nil
}

func (s *Store) ListWindowsSince(_ context.Context, itemID string, since time.Time) ([]heat.Window, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var result []heat.Window
	for _, w := range s.windows[itemID] {
		if !w.CreatedAt.Before(since) {
			result = append(result, w)
		}
	}
	sort.SliceStable(result, func(i, j int) bool { return result[i].CreatedAt.Before(result[j].CreatedAt) })
	return result, nil
}

func (s *Store) ListActiveItems(_ context.Context, since time.Time, limit int) ([]string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	type weight struct {
		id    string
		total float64
	}
	var items []weight
	for id, windows := range s.windows {
		var total float64
		active := false
		for _, w := range windows {
			if !w.CreatedAt.Before(since) {
				total += w.Delta
				active = true
			}
		}
		if active {
			items = append(items, weight{id: id, total: total})
		}
	}
	sort.Slice(items, func(i, j int) bool {
		if items[i].total != items[j].total {
			return items[i].total > items[j].total
		}
		return items[i].id < items[j].id
	})
	if limit > 0 && len(items) > limit {
		items = items[:limit]
	}

	ids := make([]string, len(items))
	for i, it := range items {
		ids[i] = it.id
	}
	return ids, nil
}

// LedgerTransactionStore implementation ---------------------------------------

func (s *Store) CreateTransaction(_ context.Context, tx ledger.Transaction) (ledger.Transaction, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if tx.ID == "" {
		tx.ID = uuid.NewString()
	} else if _, exists := s.transactions[tx.ID]; exists {
		return ledger.Transaction{}, core.ErrAlreadyExists
	}
	if tx.CreatedAt.IsZero() {
		tx.CreatedAt = time.Now().UTC()
	}
	if tx.UpdatedAt.IsZero() {
		tx.UpdatedAt = tx.CreatedAt
	}
	if tx.Status == "" {
		tx.Status = ledger.StatusPendingExecution
	}

	s.transactions[tx.ID] = cloneTransaction(tx)
	return cloneTransaction(tx), nil
}

func (s *Store) GetTransaction(_ context.Context, id string) (ledger.Transaction, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	tx, ok := s.transactions[id]
	if !ok {
		return ledger.Transaction{}, core.NewNotFoundError("transaction", id)
	}
	return cloneTransaction(tx), nil
}

func (s *Store) ListTransactionsByStatus(_ context.Context, status ledger.Status, limit int) ([]ledger.Transaction, error) {
	return s.list(func(tx ledger.Transaction) bool { return tx.Status == status }, limit, true), nil
}

func (s *Store) ListTransactionsByUser(_ context.Context, userID string, limit int) ([]ledger.Transaction, error) {
	return s.list(func(tx ledger.Transaction) bool { return tx.UserID == userID }, limit, false), nil
}

func (s *Store) list(match func(ledger.Transaction) bool, limit int, oldestFirst bool) []ledger.Transaction {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var result []ledger.Transaction
	for _, tx := range s.transactions {
		if match(tx) {
			result = append(result, cloneTransaction(tx))
		}
	}
	sort.Slice(result, func(i, j int) bool {
		a, b := result[i], result[j]
		if !a.CreatedAt.Equal(b.CreatedAt) {
			if oldestFirst {
				return a.CreatedAt.Before(b.CreatedAt)
			}
			return a.CreatedAt.After(b.CreatedAt)
		}
		return a.ID < b.ID
	})
	if limit > 0 && len(result) > limit {
		result = result[:limit]
	}
	return result
}

func (s *Store) ClaimTransaction(_ context.Context, id string, status ledger.Status, seenUpdatedAt, now time.Time) (ledger.Transaction, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	tx, ok := s.transactions[id]
	if !ok {
		return ledger.Transaction{}, false, core.NewNotFoundError("transaction", id)
	}
	if tx.Status != status || !tx.UpdatedAt.Equal(seenUpdatedAt) {
		return ledger.Transaction{}, false, nil
	}
	tx.UpdatedAt = ledger.ClaimTime(seenUpdatedAt, now)
	s.transactions[id] = tx
	return cloneTransaction(tx), true, nil
}

func (s *Store) TransitionTransaction(_ context.Context, tr ledger.Transition) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	tx, ok := s.transactions[tr.ID]
	if !ok || !tr.Allows(tx) {
		return false, nil
	}
	s.transactions[tr.ID] = tr.Apply(tx)
	return true, nil
}

func (s *Store) FlagTransaction(_ context.Context, id string, status ledger.Status, message string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	tx, ok := s.transactions[id]
	if !ok || tx.Status != status || tx.ErrorMessage != "" {
		return false, nil
	}
	tx.ErrorMessage = message
	s.transactions[id] = tx
	return true, nil
}

// LeaderboardSnapshotStore implementation -------------------------------------

func (s *Store) LoadSnapshot(_ context.Context) (*leaderboard.Snapshot, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.snapshot == nil {
		return nil, nil
	}
	snap := cloneSnapshot(*s.snapshot)
	return &snap, nil
}

func (s *Store) SaveSnapshot(_ context.Context, snap leaderboard.Snapshot) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	cloned := cloneSnapshot(snap)
	s.snapshot = &cloned
	return nil
}

func cloneTransaction(tx ledger.Transaction) ledger.Transaction {
	if tx.Metadata != nil {
		tx.Metadata = append(json.RawMessage(nil), tx.Metadata...)
	}
	if tx.ConfirmedAt != nil {
		at := *tx.ConfirmedAt
		tx.ConfirmedAt = &at
	}
	return tx
}

func cloneSnapshot(snap leaderboard.Snapshot) leaderboard.Snapshot {
	ranks := make(map[string]int, len(snap.Ranks))
	for k, v := range snap.Ranks {
		ranks[k] = v
	}
	snap.Ranks = ranks
	return snap
}
