package ledger

import (
	core "github.com/R3E-Network/tribute_layer/internal/app/core/service"
)

// Event is something that happens to a transaction.
type Event string

const (
	EventSubmitted           Event = "submitted"
	EventInsufficientBalance Event = "insufficient_balance"
	EventFailed              Event = "failed"
	EventObserved            Event = "observed"
	EventFinalized           Event = "finalized"
	EventCancel              Event = "cancel"
	EventRetry               Event = "retry"
)

// transitions is the single source of truth for legal state changes.
var transitions = map[Status]map[Event]Status{
	StatusPendingExecution: {
		EventSubmitted:           StatusPendingConfirmation,
		EventInsufficientBalance: StatusPendingBalance,
		EventFailed:              StatusError,
		EventCancel:              StatusCancelled,
	},
	StatusPendingConfirmation: {
		EventObserved:  StatusPendingConfirmation,
		EventFinalized: StatusConfirmed,
	},
	StatusPendingBalance: {
		EventCancel: StatusCancelled,
		EventRetry:  StatusPendingExecution,
	},
	StatusError: {
		EventCancel: StatusCancelled,
		EventRetry:  StatusPendingExecution,
	},
}

// Next returns the status reached by applying ev in from, or a
// *TransitionError when the table has no such edge.
func Next(from Status, ev Event) (Status, error) {
	if to, ok := transitions[from][ev]; ok {
		return to, nil
	}
	return "", &core.TransitionError{Resource: "transaction", From: string(from), Event: string(ev)}
}

// Sources lists, in canonical order, every status from which ev is legal.
// Conditional writes use it as the allowed set of current statuses.
func Sources(ev Event) []Status {
	var out []Status
	for _, s := range Statuses {
		if _, ok := transitions[s][ev]; ok {
			out = append(out, s)
		}
	}
	return out
}
