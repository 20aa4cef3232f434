package ledger

import (
	"encoding/json"
	"time"
)

// Status is the lifecycle state of a ledger transaction.
type Status string

const (
	StatusPendingExecution    Status = "pending_execution"
	StatusPendingConfirmation Status = "pending_confirmation"
	StatusPendingBalance      Status = "pending_balance"
	StatusError               Status = "error"
	StatusConfirmed           Status = "confirmed"
	StatusCancelled           Status = "cancelled"
)

// Statuses lists every valid status.
var Statuses = []Status{
	StatusPendingExecution,
	StatusPendingConfirmation,
	StatusPendingBalance,
	StatusError,
	StatusConfirmed,
	StatusCancelled,
}

// Valid reports whether s is a known status.
func (s Status) Valid() bool {
	for _, known := range Statuses {
		if s == known {
			return true
		}
	}
	return false
}

// Terminal reports whether no further transition is possible.
func (s Status) Terminal() bool {
	return s == StatusConfirmed || s == StatusCancelled
}

// ContentType names the kind of content a transaction commits.
type ContentType string

const (
	ContentMemorial ContentType = "memorial"
	ContentImage    ContentType = "image"
	ContentCover    ContentType = "cover"
)

// Valid reports whether c is a known content type.
func (c ContentType) Valid() bool {
	switch c {
	case ContentMemorial, ContentImage, ContentCover:
		return true
	}
	return false
}

// Transaction tracks one payload on its way to the append-only network.
// TxRef is empty until submission succeeds. Metadata holds the encoded
// variant; use Payload to obtain the typed form.
type Transaction struct {
	ID               string          `json:"id"`
	UserID           string          `json:"user_id"`
	TargetAddress    string          `json:"target_address"`
	TxRef            string          `json:"tx_ref,omitempty"`
	Status           Status          `json:"status"`
	ContentType      ContentType     `json:"content_type"`
	ContentReference string          `json:"content_reference"`
	Metadata         json.RawMessage `json:"metadata"`
	DataSize         int64           `json:"data_size"`
	FeeAmount        int64           `json:"fee_amount"`
	ErrorMessage     string          `json:"error_message,omitempty"`
	CreatedAt        time.Time       `json:"created_at"`
	UpdatedAt        time.Time       `json:"updated_at"`
	ConfirmedAt      *time.Time      `json:"confirmed_at,omitempty"`
}

// Payload decodes the typed metadata and checks it matches ContentType.
func (t Transaction) Payload() (Metadata, error) {
	return DecodeMetadata(t.ContentType, t.Metadata)
}

// Transition describes a conditional status change. The write applies only
// while the stored status is one of From and, when ExpectUpdatedAt is set,
// the stored updated_at still equals it.
type Transition struct {
	ID              string
	From            []Status
	To              Status
	ExpectUpdatedAt *time.Time
	UpdatedAt       time.Time

	TxRef         *string
	TargetAddress *string
	FeeAmount     *int64
	ErrorMessage  *string
	ConfirmedAt   *time.Time
}

// ClaimTime returns the updated_at written by a claim: now, or one
// microsecond past seen when the clock has not moved, so a second claim
// against the same observation never matches.
func ClaimTime(seen, now time.Time) time.Time {
	now = now.UTC().Truncate(time.Microsecond)
	if now.After(seen) {
		return now
	}
	return seen.Add(time.Microsecond)
}

// Allows reports whether the transition's guard matches t.
func (tr Transition) Allows(t Transaction) bool {
	if tr.ExpectUpdatedAt != nil && !t.UpdatedAt.Equal(*tr.ExpectUpdatedAt) {
		return false
	}
	for _, s := range tr.From {
		if t.Status == s {
			return true
		}
	}
	return false
}

// Apply returns t with the transition's fields written.
func (tr Transition) Apply(t Transaction) Transaction {
	t.Status = tr.To
	t.UpdatedAt = tr.UpdatedAt
	if tr.TxRef != nil {
		t.TxRef = *tr.TxRef
	}
	if tr.TargetAddress != nil {
		t.TargetAddress = *tr.TargetAddress
	}
	if tr.FeeAmount != nil {
		t.FeeAmount = *tr.FeeAmount
	}
	if tr.ErrorMessage != nil {
		t.ErrorMessage = *tr.ErrorMessage
	}
	if tr.ConfirmedAt != nil {
		at := *tr.ConfirmedAt
		t.ConfirmedAt = &at
	}
	return t
}

// ReferenceKind names the external record a permanent reference replaces.
type ReferenceKind string

const (
	ReferenceGalleryImage  ReferenceKind = "gallery_image"
	ReferenceMemorialCover ReferenceKind = "memorial_cover"
)

// ReferenceUpdate asks the owning collaborator to swap a working reference
// for the permanent one produced by the ledger.
type ReferenceUpdate struct {
	Kind          ReferenceKind `json:"kind"`
	TransactionID string        `json:"transaction_id"`
	MemorialID    string        `json:"memorial_id"`
	EntryID       string        `json:"entry_id,omitempty"`
	OldRef        string        `json:"old_ref"`
	NewRef        string        `json:"new_ref"`
}
