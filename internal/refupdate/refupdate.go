// Package refupdate tells content owners that a working reference has been
// replaced by a permanent one. Every update carries an idempotency key so
// consumers can apply it more than once safely.
package refupdate

import (
	"context"
	"sync"

	"github.com/R3E-Network/tribute_layer/internal/app/domain/ledger"
)

// IdempotencyKey identifies an update across redeliveries.
func IdempotencyKey(upd ledger.ReferenceUpdate) string {
	return upd.TransactionID + ":" + string(upd.Kind) + ":" + upd.EntryID
}

// Recorder keeps updates in memory, applying each idempotency key once.
type Recorder struct {
	mu      sync.Mutex
	seen    map[string]struct{}
	updates []ledger.ReferenceUpdate
	fail    error
}

// NewRecorder creates an empty recorder.
func NewRecorder() *Recorder {
	return &Recorder{seen: make(map[string]struct{})}
}

// FailWith makes subsequent calls return err; nil restores success.
func (r *Recorder) FailWith(err error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.fail = err
}

func (r *Recorder) ReplaceReference(ctx context.Context, upd ledger.ReferenceUpdate) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.fail != nil {
		return r.fail
	}
	key := IdempotencyKey(upd)
	if _, ok := r.seen[key]; ok {
		return nil
	}
	r.seen[key] = struct{}{}
	r.updates = append(r.updates, upd)
	return nil
}

// Updates returns the distinct updates applied so far.
func (r *Recorder) Updates() []ledger.ReferenceUpdate {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]ledger.ReferenceUpdate(nil), r.updates...)
}
