// Package gasbank tracks user balances for ledger fees.
//
// Fee Flow:
// 1. User deposits GAS to their wallet address
// 2. The deposit is credited to the user's balance
// 3. Before a submission, the fee is reserved from the balance
// 4. After the network accepts the submission, the reservation is consumed
// 5. If submission fails, the reservation is released back to the user
package gasbank

import (
	"context"
	"fmt"
	"sync"

	"github.com/google/uuid"

	core "github.com/R3E-Network/tribute_layer/internal/app/core/service"
	"github.com/R3E-Network/tribute_layer/internal/clock"
	"github.com/R3E-Network/tribute_layer/internal/ledger"
)

// Manager handles all balance operations. State is held in memory.
type Manager struct {
	mu           sync.RWMutex
	clock        clock.Clock
	accounts     map[string]*Account
	entries      map[string][]Entry
	reservations map[string]*Reservation
}

// NewManager creates a new balance manager.
func NewManager(clk clock.Clock) *Manager {
	return &Manager{
		clock:        clock.OrReal(clk),
		accounts:     make(map[string]*Account),
		entries:      make(map[string][]Entry),
		reservations: make(map[string]*Reservation),
	}
}

// =============================================================================
// Core Balance Operations
// =============================================================================

// OpenAccount registers the user's default wallet address. Reopening an
// account updates the address and keeps the balance.
func (m *Manager) OpenAccount(_ context.Context, userID, address string) (Account, error) {
	if userID == "" {
		return Account{}, core.RequiredError("user_id")
	}
	addr, err := ledger.ValidateAddress(address)
	if err != nil {
		return Account{}, err
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	now := m.clock.Now()
	acct, ok := m.accounts[userID]
	if !ok {
		acct = &Account{UserID: userID, CreatedAt: now}
		m.accounts[userID] = acct
	}
	acct.Address = addr
	acct.UpdatedAt = now
	return *acct, nil
}

// Wallet returns the user's default address and spendable balance.
func (m *Manager) Wallet(_ context.Context, userID string) (Wallet, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	acct, ok := m.accounts[userID]
	if !ok {
		return Wallet{}, core.NewNotFoundError("wallet", userID)
	}
	return Wallet{UserID: userID, Address: acct.Address, Spendable: acct.Available()}, nil
}

// GetBalance returns the user's balance information.
func (m *Manager) GetBalance(_ context.Context, userID string) (balance, reserved, available int64, err error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	acct, ok := m.accounts[userID]
	if !ok {
		return 0, 0, 0, core.NewNotFoundError("wallet", userID)
	}
	return acct.Balance, acct.Reserved, acct.Available(), nil
}

// Deposit adds funds to a user's account.
func (m *Manager) Deposit(_ context.Context, userID string, amount int64, txHash string) error {
	if amount <= 0 {
		return core.NewValidationError("amount", "must be positive")
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	acct, ok := m.accounts[userID]
	if !ok {
		return core.NewNotFoundError("wallet", userID)
	}
	acct.Balance += amount
	acct.UpdatedAt = m.clock.Now()
	m.recordLocked(userID, TxTypeDeposit, amount, acct.Balance, txHash)
	return nil
}

// Withdraw removes funds from a user's account.
func (m *Manager) Withdraw(_ context.Context, userID string, amount int64, address string) error {
	if amount <= 0 {
		return core.NewValidationError("amount", "must be positive")
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	acct, ok := m.accounts[userID]
	if !ok {
		return core.NewNotFoundError("wallet", userID)
	}
	if amount > acct.Available() {
		return fmt.Errorf("%w: available %d, requested %d", ledger.ErrInsufficientBalance, acct.Available(), amount)
	}
	acct.Balance -= amount
	acct.UpdatedAt = m.clock.Now()
	m.recordLocked(userID, TxTypeWithdraw, -amount, acct.Balance, address)
	return nil
}

// Entries returns the most recent balance movements, newest first.
func (m *Manager) Entries(_ context.Context, userID string, limit int) []Entry {
	m.mu.RLock()
	defer m.mu.RUnlock()

	all := m.entries[userID]
	out := make([]Entry, 0, len(all))
	for i := len(all) - 1; i >= 0; i-- {
		out = append(out, all[i])
		if limit > 0 && len(out) == limit {
			break
		}
	}
	return out
}

func (m *Manager) recordLocked(userID, kind string, amount, balanceAfter int64, ref string) {
	m.entries[userID] = append(m.entries[userID], Entry{
		ID:           uuid.NewString(),
		UserID:       userID,
		Type:         kind,
		Amount:       amount,
		BalanceAfter: balanceAfter,
		ReferenceID:  ref,
		CreatedAt:    m.clock.Now(),
	})
}
