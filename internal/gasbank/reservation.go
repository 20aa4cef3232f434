package gasbank

import (
	"context"
	"fmt"

	"github.com/google/uuid"

	core "github.com/R3E-Network/tribute_layer/internal/app/core/service"
	"github.com/R3E-Network/tribute_layer/internal/ledger"
)

// =============================================================================
// Reservation Operations
// =============================================================================

// Reserve holds amount for a pending submission identified by referenceID.
func (m *Manager) Reserve(_ context.Context, userID, referenceID string, amount int64) (string, error) {
	if amount < 0 {
		return "", core.NewValidationError("amount", "must not be negative")
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	acct, ok := m.accounts[userID]
	if !ok {
		return "", core.NewNotFoundError("wallet", userID)
	}
	if amount > acct.Available() {
		return "", fmt.Errorf("%w: available %d, required %d", ledger.ErrInsufficientBalance, acct.Available(), amount)
	}

	reservation := &Reservation{
		ID:          uuid.NewString(),
		UserID:      userID,
		ReferenceID: referenceID,
		Amount:      amount,
		Status:      ReservationPending,
		CreatedAt:   m.clock.Now(),
	}
	acct.Reserved += amount
	m.reservations[reservation.ID] = reservation
	return reservation.ID, nil
}

// Release returns a reservation to the user. Unknown reservations are treated
// as already released.
func (m *Manager) Release(_ context.Context, userID, reservationID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	reservation, ok := m.reservations[reservationID]
	if !ok {
		return nil
	}
	if reservation.UserID != userID {
		return core.NewOwnershipError("reservation", reservationID, userID)
	}
	delete(m.reservations, reservationID)

	if acct, ok := m.accounts[userID]; ok {
		acct.Reserved -= reservation.Amount
		if acct.Reserved < 0 {
			acct.Reserved = 0
		}
	}
	reservation.Status = ReservationReleased
	return nil
}

// Consume charges a reservation (submission accepted).
func (m *Manager) Consume(_ context.Context, userID, reservationID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	reservation, ok := m.reservations[reservationID]
	if !ok {
		return core.NewNotFoundError("reservation", reservationID)
	}
	if reservation.UserID != userID {
		return core.NewOwnershipError("reservation", reservationID, userID)
	}
	acct, ok := m.accounts[userID]
	if !ok {
		return core.NewNotFoundError("wallet", userID)
	}

	acct.Balance -= reservation.Amount
	acct.Reserved -= reservation.Amount
	if acct.Reserved < 0 {
		acct.Reserved = 0
	}
	acct.UpdatedAt = m.clock.Now()
	m.recordLocked(userID, TxTypeLedgerFee, -reservation.Amount, acct.Balance, reservation.ReferenceID)

	reservation.Status = ReservationConsumed
	reservation.ConsumedAt = m.clock.Now()
	delete(m.reservations, reservationID)
	return nil
}
