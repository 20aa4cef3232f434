package gasbank

import "time"

const (
	// Entry types
	TxTypeDeposit   = "deposit"
	TxTypeWithdraw  = "withdraw"
	TxTypeLedgerFee = "ledger_fee"

	// Reservation status
	ReservationPending  = "pending"
	ReservationConsumed = "consumed"
	ReservationReleased = "released"
)

// Account is a user's balance held in the smallest GAS unit (1e-8 GAS).
type Account struct {
	UserID    string    `json:"user_id"`
	Address   string    `json:"address"`
	Balance   int64     `json:"balance"`
	Reserved  int64     `json:"reserved"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// Available is the balance not held by reservations.
func (a Account) Available() int64 {
	return a.Balance - a.Reserved
}

// Wallet is what the ledger lifecycle needs to know about a payer.
type Wallet struct {
	UserID    string `json:"user_id"`
	Address   string `json:"address"`
	Spendable int64  `json:"spendable"`
}

// Entry records one balance movement.
type Entry struct {
	ID           string    `json:"id"`
	UserID       string    `json:"user_id"`
	Type         string    `json:"type"`
	Amount       int64     `json:"amount"`
	BalanceAfter int64     `json:"balance_after"`
	ReferenceID  string    `json:"reference_id"`
	CreatedAt    time.Time `json:"created_at"`
}

// Reservation holds a fee for a pending ledger submission.
type Reservation struct {
	ID          string    `json:"id"`
	UserID      string    `json:"user_id"`
	ReferenceID string    `json:"reference_id"`
	Amount      int64     `json:"amount"`
	Status      string    `json:"status"`
	CreatedAt   time.Time `json:"created_at"`
	ConsumedAt  time.Time `json:"consumed_at,omitempty"`
}
