// Package ledger talks to the append-only storage network that makes memorial
// content permanent. The wire protocol is hidden behind Client.
package ledger

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
)

// ErrInsufficientBalance is returned by Submit when the payer cannot cover the
// fee. It routes a transaction to pending_balance rather than error.
var ErrInsufficientBalance = errors.New("insufficient balance")

// Submission is one payload handed to the network.
type Submission struct {
	TransactionID    string          `json:"client_ref"`
	From             string          `json:"from"`
	Target           string          `json:"target"`
	ContentType      string          `json:"content_type"`
	ContentReference string          `json:"content_reference"`
	DataSize         int64           `json:"data_size"`
	Fee              int64           `json:"fee"`
	Metadata         json.RawMessage `json:"metadata,omitempty"`
}

// Client submits payloads and reports their finality.
type Client interface {
	Submit(ctx context.Context, sub Submission) (string, error)
	Finality(ctx context.Context, txRef string) (bool, error)
	// PermanentRef turns a transaction reference into the permanent content
	// reference stored by collaborators.
	PermanentRef(txRef string) string
}

// SubmissionError reports a submission the network refused or that could not
// be delivered.
type SubmissionError struct {
	StatusCode int
	Reason     string
	Err        error
}

func (e *SubmissionError) Error() string {
	switch {
	case e.StatusCode > 0 && e.Err != nil:
		return fmt.Sprintf("submission failed (status %d): %s: %v", e.StatusCode, e.Reason, e.Err)
	case e.StatusCode > 0:
		return fmt.Sprintf("submission failed (status %d): %s", e.StatusCode, e.Reason)
	case e.Err != nil:
		return fmt.Sprintf("submission failed: %s: %v", e.Reason, e.Err)
	default:
		return "submission failed: " + e.Reason
	}
}

func (e *SubmissionError) Unwrap() error { return e.Err }

// FeeSchedule prices a payload when the transaction carries no explicit fee.
type FeeSchedule struct {
	Base    int64
	PerByte int64
}

// Fee returns Base + PerByte*size, never negative.
func (f FeeSchedule) Fee(size int64) int64 {
	if size < 0 {
		size = 0
	}
	fee := f.Base + f.PerByte*size
	if fee < 0 {
		return 0
	}
	return fee
}
