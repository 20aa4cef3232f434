package ledgertx

import (
	"context"
	"errors"
	"fmt"

	"github.com/sirupsen/logrus"

	core "github.com/R3E-Network/tribute_layer/internal/app/core/service"
	"github.com/R3E-Network/tribute_layer/internal/app/domain/ledger"
	ledgerclient "github.com/R3E-Network/tribute_layer/internal/ledger"
)

// plan is a claimed transaction ready for submission.
type plan struct {
	from   string
	target string
	fee    int64
	spend  int64
}

// execute runs Tick A for one transaction.
func (m *Manager) execute(ctx context.Context, tx ledger.Transaction) outcome {
	log := m.log.WithField("tick", TickExecution).WithField("tx_id", tx.ID)

	claimed, ok, err := m.store.ClaimTransaction(ctx, tx.ID, ledger.StatusPendingExecution, tx.UpdatedAt, m.clock.Now())
	if err != nil {
		log.WithError(err).Warn("claim transaction failed")
		return outcomeError
	}
	if !ok {
		log.Debug("transaction claimed elsewhere or changed; skipping")
		return outcomeSkipped
	}
	log = log.WithField("user_id", claimed.UserID)

	p, err := m.prepare(ctx, claimed)
	if err != nil {
		log.WithError(err).Warn("transaction failed validation")
		return m.fail(ctx, log, claimed, err)
	}
	if p.spend < p.fee {
		msg := fmt.Sprintf("insufficient balance: spendable %d, fee %d", p.spend, p.fee)
		return m.park(ctx, log, claimed, msg)
	}

	reservation := ""
	if m.fees != nil {
		reservation, err = m.fees.Reserve(ctx, claimed.UserID, claimed.ID, p.fee)
		switch {
		case errors.Is(err, ledgerclient.ErrInsufficientBalance):
			return m.park(ctx, log, claimed, err.Error())
		case err != nil:
			log.WithError(err).Warn("fee reservation failed")
			return m.fail(ctx, log, claimed, err)
		}
	}

	txRef, err := m.client.Submit(ctx, ledgerclient.Submission{
		TransactionID:    claimed.ID,
		From:             p.from,
		Target:           p.target,
		ContentType:      string(claimed.ContentType),
		ContentReference: claimed.ContentReference,
		DataSize:         claimed.DataSize,
		Fee:              p.fee,
		Metadata:         claimed.Metadata,
	})
	if err != nil {
		m.release(ctx, log, claimed.UserID, reservation)
		if errors.Is(err, ledgerclient.ErrInsufficientBalance) {
			return m.park(ctx, log, claimed, err.Error())
		}
		log.WithError(err).Warn("ledger submission failed")
		return m.fail(ctx, log, claimed, err)
	}
	log = log.WithField("tx_ref", txRef)

	if reservation != "" {
		if err := m.fees.Consume(ctx, claimed.UserID, reservation); err != nil {
			log.WithError(err).Warn("consume fee reservation failed")
		}
	}

	o := m.advance(ctx, log, claimed, ledger.EventSubmitted, func(tr *ledger.Transition) {
		tr.TxRef = &txRef
		tr.TargetAddress = &p.target
		tr.FeeAmount = &p.fee
		tr.ErrorMessage = strPtr("")
	})
	switch o {
	case outcomeSucceeded:
		log.Info("transaction submitted")
	case outcomeSkipped:
		m.recordOrphan(ctx, log, claimed.ID, txRef)
	}
	return o
}

// recordOrphan keeps the reference of a submission whose transaction changed
// while it was in flight, so the paid submission can be reconciled.
func (m *Manager) recordOrphan(ctx context.Context, log *logrus.Entry, id, txRef string) {
	current, err := m.store.GetTransaction(ctx, id)
	if err != nil {
		log.WithError(err).Warn("load transaction after lost transition failed")
		return
	}
	msg := fmt.Sprintf("submitted to ledger as %s after the transaction became %s; reconcile manually", txRef, current.Status)
	flagged, err := m.store.FlagTransaction(ctx, id, current.Status, msg)
	if err != nil {
		log.WithError(err).Warn("record orphaned submission failed")
		return
	}
	if flagged {
		log.WithField("status", current.Status).Warn("orphaned ledger submission recorded")
	}
}

// prepare resolves content, wallet, target and fee for a claimed transaction.
func (m *Manager) prepare(ctx context.Context, tx ledger.Transaction) (plan, error) {
	if _, err := tx.Payload(); err != nil {
		return plan{}, err
	}

	if m.content != nil {
		item, err := m.content.Resolve(ctx, tx.ContentType, tx.ContentReference)
		if err != nil {
			return plan{}, fmt.Errorf("resolve content: %w", err)
		}
		if err := core.EnsureOwnership(item.OwnerID, tx.UserID, string(tx.ContentType), item.ID); err != nil {
			return plan{}, err
		}
	}

	if m.wallets == nil {
		return plan{}, core.NewValidationError("wallet", "no wallet provider configured")
	}
	wallet, err := m.wallets.Wallet(ctx, tx.UserID)
	if err != nil {
		return plan{}, fmt.Errorf("resolve wallet: %w", err)
	}

	target := tx.TargetAddress
	if target == "" {
		target = wallet.Address
	}
	target, err = ledgerclient.ValidateAddress(target)
	if err != nil {
		return plan{}, err
	}

	fee := tx.FeeAmount
	if fee <= 0 {
		fee = m.cfg.Fees.Fee(tx.DataSize)
	}
	return plan{from: wallet.Address, target: target, fee: fee, spend: wallet.Spendable}, nil
}

func (m *Manager) park(ctx context.Context, log *logrus.Entry, tx ledger.Transaction, msg string) outcome {
	log.WithField("reason", msg).Info("transaction waiting for balance")
	return m.advance(ctx, log, tx, ledger.EventInsufficientBalance, func(tr *ledger.Transition) {
		tr.ErrorMessage = &msg
	})
}

func (m *Manager) fail(ctx context.Context, log *logrus.Entry, tx ledger.Transaction, cause error) outcome {
	msg := cause.Error()
	if o := m.advance(ctx, log, tx, ledger.EventFailed, func(tr *ledger.Transition) {
		tr.ErrorMessage = &msg
	}); o == outcomeSkipped {
		return o
	}
	return outcomeError
}

func (m *Manager) release(ctx context.Context, log *logrus.Entry, userID, reservation string) {
	if reservation == "" {
		return
	}
	if err := m.fees.Release(ctx, userID, reservation); err != nil {
		log.WithError(err).Warn("release fee reservation failed")
	}
}

// advance writes ev conditionally on the claimed status and updated_at.
func (m *Manager) advance(ctx context.Context, log *logrus.Entry, tx ledger.Transaction, ev ledger.Event, mutate func(*ledger.Transition)) outcome {
	to, err := ledger.Next(tx.Status, ev)
	if err != nil {
		log.WithError(err).Error("transition rejected by table")
		return outcomeError
	}
	seen := tx.UpdatedAt
	tr := ledger.Transition{
		ID:              tx.ID,
		From:            []ledger.Status{tx.Status},
		To:              to,
		ExpectUpdatedAt: &seen,
		UpdatedAt:       ledger.ClaimTime(seen, m.clock.Now()),
	}
	if mutate != nil {
		mutate(&tr)
	}
	ok, err := m.store.TransitionTransaction(ctx, tr)
	if err != nil {
		log.WithError(err).WithField("to", to).Warn("write transition failed")
		return outcomeError
	}
	if !ok {
		entry := log.WithField("to", to)
		if tr.TxRef != nil {
			entry = entry.WithField("submitted_tx_ref", *tr.TxRef)
		}
		entry.Warn("transaction changed concurrently; transition dropped")
		return outcomeSkipped
	}
	return outcomeSucceeded
}
