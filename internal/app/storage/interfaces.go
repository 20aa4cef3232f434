package storage

import (
	"context"
	"time"

	"github.com/R3E-Network/tribute_layer/internal/app/domain/heat"
	"github.com/R3E-Network/tribute_layer/internal/app/domain/leaderboard"
	"github.com/R3E-Network/tribute_layer/internal/app/domain/ledger"
)

// HeatWindowStore persists engagement windows. Callers pass the current time
// so every implementation observes the same clock.
type HeatWindowStore interface {
	// IncrementOpenWindow adds delta to the item's open window or opens a new
	// one lasting duration. The find-or-create is atomic per item. The bool
	// reports whether a window was created.
	IncrementOpenWindow(ctx context.Context, itemID string, delta float64, now time.Time, duration time.Duration) (heat.Window, bool, error)
	SumSince(ctx context.Context, itemID string, since time.Time) (float64, error)
	// ListWindowsSince returns windows created at or after since, oldest first.
	ListWindowsSince(ctx context.Context, itemID string, since time.Time) ([]heat.Window, error)
	// ListActiveItems returns up to limit item ids with windows created at or
	// after since, heaviest first.
	ListActiveItems(ctx context.Context, since time.Time, limit int) ([]string, error)
}

// LedgerTransactionStore persists ledger transactions. Every status change is
// a conditional write; the bool results report whether a row was affected.
type LedgerTransactionStore interface {
	CreateTransaction(ctx context.Context, tx ledger.Transaction) (ledger.Transaction, error)
	GetTransaction(ctx context.Context, id string) (ledger.Transaction, error)
	// ListTransactionsByStatus returns up to limit transactions, oldest first.
	ListTransactionsByStatus(ctx context.Context, status ledger.Status, limit int) ([]ledger.Transaction, error)
	ListTransactionsByUser(ctx context.Context, userID string, limit int) ([]ledger.Transaction, error)

	// ClaimTransaction bumps updated_at while the row still has status and
	// seenUpdatedAt. The returned transaction carries the new updated_at.
	ClaimTransaction(ctx context.Context, id string, status ledger.Status, seenUpdatedAt, now time.Time) (ledger.Transaction, bool, error)
	TransitionTransaction(ctx context.Context, tr ledger.Transition) (bool, error)
	// FlagTransaction annotates error_message once, leaving status and
	// updated_at untouched. It is a no-op when a message is already set.
	FlagTransaction(ctx context.Context, id string, status ledger.Status, message string) (bool, error)
}

// LeaderboardSnapshotStore keeps the most recent ranking used for trends.
type LeaderboardSnapshotStore interface {
	// LoadSnapshot returns nil when no snapshot has been taken yet.
	LoadSnapshot(ctx context.Context) (*leaderboard.Snapshot, error)
	SaveSnapshot(ctx context.Context, snap leaderboard.Snapshot) error
}
