package ledgertx

import (
	"context"
	"fmt"
	"time"

	core "github.com/R3E-Network/tribute_layer/internal/app/core/service"
	"github.com/R3E-Network/tribute_layer/internal/app/domain/ledger"
	"github.com/R3E-Network/tribute_layer/internal/app/metrics"
)

// confirm runs Tick B for one transaction. onStuck is called for every
// transaction past the stuck threshold, with whether this call flagged it.
func (m *Manager) confirm(ctx context.Context, tx ledger.Transaction, onStuck func(flagged bool)) outcome {
	log := m.log.WithField("tick", TickConfirmation).WithField("tx_id", tx.ID)

	if tx.TxRef == "" {
		log.WithError(core.ErrMissingTxRef).Error("pending confirmation without tx_ref")
		return outcomeError
	}
	log = log.WithField("tx_ref", tx.TxRef)

	final, err := m.client.Finality(ctx, tx.TxRef)
	if err != nil {
		log.WithError(err).Warn("finality query failed")
		return outcomeError
	}
	now := m.clock.Now()
	if !final {
		m.checkStuck(ctx, tx, onStuck)
		return outcomePending
	}

	meta, err := tx.Payload()
	if err != nil {
		log.WithError(err).Error("cannot decode metadata of final transaction")
		return outcomeError
	}
	updates := meta.ReferenceUpdates(tx.ID, m.client.PermanentRef(tx.TxRef))
	if len(updates) > 0 && m.references == nil {
		log.Error("final transaction owns references but no updater is configured")
		return outcomeError
	}
	for _, upd := range updates {
		err := m.references.ReplaceReference(ctx, upd)
		metrics.RecordReferenceUpdate(string(upd.Kind), err == nil)
		if err != nil {
			log.WithError(err).
				WithField("kind", upd.Kind).
				WithField("memorial_id", upd.MemorialID).
				Warn("reference update failed; will retry next tick")
			return outcomeError
		}
	}

	confirmedAt := now.UTC().Truncate(time.Microsecond)
	o := m.advance(ctx, log, tx, ledger.EventFinalized, func(tr *ledger.Transition) {
		tr.ConfirmedAt = &confirmedAt
		tr.ErrorMessage = strPtr("")
	})
	if o == outcomeSucceeded {
		log.WithField("references", len(updates)).Info("transaction confirmed")
	}
	return o
}

// checkStuck flags a transaction once when it has waited longer than
// StuckAfter. Flagging leaves status and updated_at alone.
func (m *Manager) checkStuck(ctx context.Context, tx ledger.Transaction, onStuck func(bool)) {
	if m.cfg.StuckAfter <= 0 {
		return
	}
	age := m.clock.Now().Sub(tx.UpdatedAt)
	if age < m.cfg.StuckAfter {
		return
	}
	if tx.ErrorMessage != "" {
		onStuck(false)
		return
	}

	msg := fmt.Sprintf("awaiting finality for %s; flagged for manual review", age.Truncate(time.Second))
	flagged, err := m.store.FlagTransaction(ctx, tx.ID, ledger.StatusPendingConfirmation, msg)
	if err != nil {
		m.log.WithError(err).WithField("tx_id", tx.ID).Warn("flag stuck transaction failed")
		onStuck(false)
		return
	}
	if flagged {
		metrics.RecordStuckFlagged()
		m.log.WithField("tx_id", tx.ID).
			WithField("tx_ref", tx.TxRef).
			WithField("age", age.String()).
			Warn("transaction stuck in pending_confirmation; flagged for manual review")
	}
	onStuck(flagged)
}
