package ledgertx

import (
	"context"
	"fmt"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	core "github.com/R3E-Network/tribute_layer/internal/app/core/service"
	"github.com/R3E-Network/tribute_layer/internal/app/domain/ledger"
	"github.com/R3E-Network/tribute_layer/internal/app/metrics"
)

const (
	TickExecution    = "execution"
	TickConfirmation = "confirmation"
)

type outcome string

const (
	outcomeSucceeded outcome = "succeeded"
	outcomeError     outcome = "error"
	outcomeSkipped   outcome = "skipped"
	outcomePending   outcome = "pending"
)

// TickReport summarises one tick. Succeeded counts transactions that moved
// forward; Pending counts confirmations that are not final yet.
type TickReport struct {
	Tick      string        `json:"tick"`
	Fetched   int           `json:"fetched"`
	Succeeded int           `json:"succeeded"`
	Errors    int           `json:"errors"`
	Skipped   int           `json:"skipped"`
	Pending   int           `json:"pending,omitempty"`
	Flagged   int           `json:"flagged,omitempty"`
	Duration  time.Duration `json:"duration"`
}

func (r *TickReport) add(o outcome) {
	switch o {
	case outcomeSucceeded:
		r.Succeeded++
	case outcomeError:
		r.Errors++
	case outcomeSkipped:
		r.Skipped++
	case outcomePending:
		r.Pending++
	}
}

// RunPendingExecutionTick runs Tick A with the configured batch limit.
func (m *Manager) RunPendingExecutionTick(ctx context.Context) (TickReport, error) {
	return m.ProcessPendingExecution(ctx, m.cfg.BatchLimit)
}

// RunPendingConfirmationTick runs Tick B with the configured batch limit.
func (m *Manager) RunPendingConfirmationTick(ctx context.Context) (TickReport, error) {
	return m.ProcessPendingConfirmation(ctx, m.cfg.BatchLimit)
}

// ProcessPendingExecution submits up to batchLimit pending_execution
// transactions, oldest first.
func (m *Manager) ProcessPendingExecution(ctx context.Context, batchLimit int) (TickReport, error) {
	return m.runBatch(ctx, TickExecution, ledger.StatusPendingExecution, batchLimit, nil, m.execute)
}

// ProcessPendingConfirmation checks finality for up to batchLimit
// pending_confirmation transactions and confirms the final ones.
func (m *Manager) ProcessPendingConfirmation(ctx context.Context, batchLimit int) (TickReport, error) {
	var flagged, stuck int
	var mu sync.Mutex
	onStuck := func(didFlag bool) {
		mu.Lock()
		stuck++
		if didFlag {
			flagged++
		}
		mu.Unlock()
	}
	report, err := m.runBatch(ctx, TickConfirmation, ledger.StatusPendingConfirmation, batchLimit, func(r *TickReport) {
		r.Flagged = flagged
		metrics.SetStuckConfirmations(stuck)
	}, func(ctx context.Context, tx ledger.Transaction) outcome {
		return m.confirm(ctx, tx, onStuck)
	})
	return report, err
}

// runBatch fetches one batch and processes every transaction independently.
// Only a failed fetch fails the tick.
func (m *Manager) runBatch(ctx context.Context, tick string, status ledger.Status, limit int, finish func(*TickReport), fn func(context.Context, ledger.Transaction) outcome) (TickReport, error) {
	started := time.Now()
	if limit <= 0 {
		limit = m.cfg.BatchLimit
	}
	report := TickReport{Tick: tick}
	log := m.log.WithField("tick", tick)

	txs, err := m.store.ListTransactionsByStatus(ctx, status, limit)
	if err != nil {
		err = core.StoreUnavailable(fmt.Sprintf("list %s transactions", status), err)
		report.Duration = time.Since(started)
		metrics.RecordTick(tick, report.Duration, true)
		log.WithError(err).Error("tick aborted")
		return report, err
	}
	report.Fetched = len(txs)

	var mu sync.Mutex
	var g errgroup.Group
	g.SetLimit(m.cfg.Concurrency)
	for _, tx := range txs {
		tx := tx
		g.Go(func() error {
			o := m.isolate(ctx, tick, tx, fn)
			metrics.RecordTransactionOutcome(tick, string(o))
			mu.Lock()
			report.add(o)
			mu.Unlock()
			return nil
		})
	}
	_ = g.Wait()

	if finish != nil {
		finish(&report)
	}
	report.Duration = time.Since(started)
	metrics.RecordTick(tick, report.Duration, false)

	entry := log.WithField("fetched", report.Fetched).
		WithField("succeeded", report.Succeeded).
		WithField("errors", report.Errors).
		WithField("skipped", report.Skipped).
		WithField("duration", report.Duration)
	if tick == TickConfirmation {
		entry = entry.WithField("pending", report.Pending).WithField("flagged", report.Flagged)
	}
	entry.Info("tick finished")
	return report, nil
}

// isolate keeps a panic in one transaction from taking down its siblings.
func (m *Manager) isolate(ctx context.Context, tick string, tx ledger.Transaction, fn func(context.Context, ledger.Transaction) outcome) (o outcome) {
	defer func() {
		if r := recover(); r != nil {
			m.log.WithField("tick", tick).
				WithField("tx_id", tx.ID).
				Errorf("panic while processing transaction: %v", r)
			o = outcomeError
		}
	}()
	return fn(ctx, tx)
}
