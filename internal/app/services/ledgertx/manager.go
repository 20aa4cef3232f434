// Package ledgertx drives ledger transactions from submission to finality.
//
// The manager is stateless between ticks: every decision is taken from the
// persisted transaction, and every status change is a conditional write
// against the status (and, inside ticks, the updated_at) that was read. A
// tick that loses a race simply skips the transaction.
package ledgertx

import (
	"context"
	"strings"
	"time"

	core "github.com/R3E-Network/tribute_layer/internal/app/core/service"
	"github.com/R3E-Network/tribute_layer/internal/app/domain/ledger"
	"github.com/R3E-Network/tribute_layer/internal/app/storage"
	"github.com/R3E-Network/tribute_layer/internal/clock"
	"github.com/R3E-Network/tribute_layer/internal/content"
	"github.com/R3E-Network/tribute_layer/internal/gasbank"
	ledgerclient "github.com/R3E-Network/tribute_layer/internal/ledger"
	"github.com/R3E-Network/tribute_layer/pkg/logger"
)

const (
	DefaultBatchLimit  = 100
	DefaultConcurrency = 8
	DefaultListLimit   = 50
	MaxListLimit       = 200
)

// ContentResolver identifies committed content and its owner.
type ContentResolver interface {
	Resolve(ctx context.Context, contentType ledger.ContentType, ref string) (content.Item, error)
}

// WalletProvider supplies a payer's default address and spendable balance.
type WalletProvider interface {
	Wallet(ctx context.Context, userID string) (gasbank.Wallet, error)
}

// FeeLedger holds fees while a submission is in flight.
type FeeLedger interface {
	Reserve(ctx context.Context, userID, referenceID string, amount int64) (string, error)
	Consume(ctx context.Context, userID, reservationID string) error
	Release(ctx context.Context, userID, reservationID string) error
}

// ReferenceUpdater swaps a working content reference for a permanent one.
// Implementations must be idempotent.
type ReferenceUpdater interface {
	ReplaceReference(ctx context.Context, upd ledger.ReferenceUpdate) error
}

// Config tunes the ticks.
type Config struct {
	BatchLimit  int
	Concurrency int
	// StuckAfter is how long a transaction may wait for finality before it
	// is flagged for manual review. Zero disables flagging.
	StuckAfter time.Duration
	Fees       ledgerclient.FeeSchedule
}

// Manager advances ledger transactions through their lifecycle.
type Manager struct {
	store      storage.LedgerTransactionStore
	client     ledgerclient.Client
	content    ContentResolver
	wallets    WalletProvider
	references ReferenceUpdater
	fees       FeeLedger
	cfg        Config
	clock      clock.Clock
	log        *logger.Logger
}

// New creates a lifecycle manager.
func New(store storage.LedgerTransactionStore, client ledgerclient.Client, resolver ContentResolver, wallets WalletProvider, references ReferenceUpdater, cfg Config, clk clock.Clock, log *logger.Logger) *Manager {
	if cfg.BatchLimit <= 0 {
		cfg.BatchLimit = DefaultBatchLimit
	}
	if cfg.Concurrency <= 0 {
		cfg.Concurrency = DefaultConcurrency
	}
	if cfg.StuckAfter < 0 {
		cfg.StuckAfter = 0
	}
	if log == nil {
		log = logger.NewDefault("ledgertx")
	}
	return &Manager{
		store:      store,
		client:     client,
		content:    resolver,
		wallets:    wallets,
		references: references,
		cfg:        cfg,
		clock:      clock.OrReal(clk),
		log:        log,
	}
}

// WithFeeLedger makes Tick A reserve fees before submitting.
func (m *Manager) WithFeeLedger(fees FeeLedger) *Manager {
	m.fees = fees
	return m
}

// NewTransaction is the request the content-creation flow enqueues.
type NewTransaction struct {
	UserID           string
	TargetAddress    string
	ContentType      ledger.ContentType
	ContentReference string
	Metadata         ledger.Metadata
	DataSize         int64
	FeeAmount        int64
}

// Enqueue stores a new transaction in pending_execution.
func (m *Manager) Enqueue(ctx context.Context, req NewTransaction) (ledger.Transaction, error) {
	req.UserID = strings.TrimSpace(req.UserID)
	req.ContentReference = strings.TrimSpace(req.ContentReference)

	if req.UserID == "" {
		return ledger.Transaction{}, core.RequiredError("user_id")
	}
	if !req.ContentType.Valid() {
		return ledger.Transaction{}, core.NewValidationError("content_type", "unknown content type")
	}
	if req.ContentReference == "" {
		return ledger.Transaction{}, core.RequiredError("content_reference")
	}
	if req.Metadata.Kind != req.ContentType {
		return ledger.Transaction{}, core.NewValidationError("metadata.kind", "must match content_type")
	}
	if req.DataSize < 0 {
		return ledger.Transaction{}, core.NewValidationError("data_size", "must not be negative")
	}
	if req.FeeAmount < 0 {
		return ledger.Transaction{}, core.NewValidationError("fee_amount", "must not be negative")
	}
	target := strings.TrimSpace(req.TargetAddress)
	if target != "" {
		addr, err := ledgerclient.ValidateAddress(target)
		if err != nil {
			return ledger.Transaction{}, err
		}
		target = addr
	}
	raw, err := ledger.EncodeMetadata(req.Metadata)
	if err != nil {
		return ledger.Transaction{}, err
	}

	now := m.clock.Now().UTC().Truncate(time.Microsecond)
	tx, err := m.store.CreateTransaction(ctx, ledger.Transaction{
		UserID:           req.UserID,
		TargetAddress:    target,
		Status:           ledger.StatusPendingExecution,
		ContentType:      req.ContentType,
		ContentReference: req.ContentReference,
		Metadata:         raw,
		DataSize:         req.DataSize,
		FeeAmount:        req.FeeAmount,
		CreatedAt:        now,
		UpdatedAt:        now,
	})
	if err != nil {
		return ledger.Transaction{}, core.WrapServiceError("ledgertx", "Enqueue", err)
	}
	m.log.WithField("tx_id", tx.ID).
		WithField("user_id", tx.UserID).
		WithField("content_type", tx.ContentType).
		Info("ledger transaction enqueued")
	return tx, nil
}

// Get returns a transaction owned by requester.
func (m *Manager) Get(ctx context.Context, txID, requester string) (ledger.Transaction, error) {
	tx, err := m.store.GetTransaction(ctx, strings.TrimSpace(txID))
	if err != nil {
		return ledger.Transaction{}, err
	}
	if err := core.EnsureOwnership(tx.UserID, requester, "transaction", tx.ID); err != nil {
		return ledger.Transaction{}, err
	}
	return tx, nil
}

// ListForUser returns the user's transactions, newest first.
func (m *Manager) ListForUser(ctx context.Context, userID string, limit int) ([]ledger.Transaction, error) {
	userID = strings.TrimSpace(userID)
	if userID == "" {
		return nil, core.RequiredError("user_id")
	}
	if limit <= 0 {
		limit = DefaultListLimit
	}
	if limit > MaxListLimit {
		limit = MaxListLimit
	}
	return m.store.ListTransactionsByUser(ctx, userID, limit)
}

// RequestCancel cancels a transaction on behalf of its owner. Transactions
// already submitted or finished cannot be cancelled.
func (m *Manager) RequestCancel(ctx context.Context, txID, requester string) (ledger.Transaction, error) {
	return m.guarded(ctx, txID, requester, ledger.EventCancel, nil)
}

// RequestRetry sends a transaction parked in pending_balance or error back to
// pending_execution and clears its error message.
func (m *Manager) RequestRetry(ctx context.Context, txID, requester string) (ledger.Transaction, error) {
	return m.guarded(ctx, txID, requester, ledger.EventRetry, func(tr *ledger.Transition) {
		tr.ErrorMessage = strPtr("")
	})
}

// guarded applies a user-requested event. The write is conditional on the
// status still being a legal source, so it never overrides a tick.
func (m *Manager) guarded(ctx context.Context, txID, requester string, ev ledger.Event, mutate func(*ledger.Transition)) (ledger.Transaction, error) {
	txID = strings.TrimSpace(txID)
	if txID == "" {
		return ledger.Transaction{}, core.RequiredError("tx_id")
	}
	tx, err := m.Get(ctx, txID, requester)
	if err != nil {
		return ledger.Transaction{}, err
	}
	to, err := ledger.Next(tx.Status, ev)
	if err != nil {
		return ledger.Transaction{}, rejected(tx, ev)
	}

	tr := ledger.Transition{
		ID:        tx.ID,
		From:      ledger.Sources(ev),
		To:        to,
		UpdatedAt: ledger.ClaimTime(tx.UpdatedAt, m.clock.Now()),
	}
	if mutate != nil {
		mutate(&tr)
	}
	ok, err := m.store.TransitionTransaction(ctx, tr)
	if err != nil {
		return ledger.Transaction{}, core.WrapServiceError("ledgertx", string(ev), err)
	}
	if !ok {
		current, getErr := m.store.GetTransaction(ctx, tx.ID)
		if getErr != nil {
			current = tx
		}
		return ledger.Transaction{}, rejected(current, ev)
	}

	m.log.WithField("tx_id", tx.ID).
		WithField("event", ev).
		WithField("from", tx.Status).
		WithField("to", to).
		Info("ledger transaction updated by owner")
	return tr.Apply(tx), nil
}

func rejected(tx ledger.Transaction, ev ledger.Event) error {
	return &core.TransitionError{Resource: "transaction", ID: tx.ID, From: string(tx.Status), Event: string(ev)}
}

func strPtr(s string) *string { return &s }
