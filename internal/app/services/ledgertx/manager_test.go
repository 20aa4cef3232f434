package ledgertx

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/nspcc-dev/neo-go/pkg/encoding/address"
	"github.com/nspcc-dev/neo-go/pkg/util"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	core "github.com/R3E-Network/tribute_layer/internal/app/core/service"
	"github.com/R3E-Network/tribute_layer/internal/app/domain/ledger"
	"github.com/R3E-Network/tribute_layer/internal/app/storage/memory"
	"github.com/R3E-Network/tribute_layer/internal/clock"
	"github.com/R3E-Network/tribute_layer/internal/content"
	"github.com/R3E-Network/tribute_layer/internal/gasbank"
	ledgerclient "github.com/R3E-Network/tribute_layer/internal/ledger"
	"github.com/R3E-Network/tribute_layer/internal/refupdate"
)

var start = time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)

type fixture struct {
	store    *memory.Store
	sim      *ledgerclient.Simulator
	registry *content.Registry
	bank     *gasbank.Manager
	refs     *refupdate.Recorder
	clk      *clock.Fake
	mgr      *Manager
}

func newFixture(t *testing.T, cfg Config) *fixture {
	t.Helper()
	clk := clock.NewFake(start)
	f := &fixture{
		store:    memory.New(),
		sim:      ledgerclient.NewSimulator(clk, -1),
		registry: content.NewRegistry(),
		bank:     gasbank.NewManager(clk),
		refs:     refupdate.NewRecorder(),
		clk:      clk,
	}
	if cfg.Fees == (ledgerclient.FeeSchedule{}) {
		cfg.Fees = ledgerclient.FeeSchedule{Base: 10, PerByte: 1}
	}
	f.mgr = New(f.store, f.sim, f.registry, f.bank, f.refs, cfg, clk, nil)
	f.openWallet(t, "u1", 1_000_000)
	return f
}

func walletAddress(seed byte) string {
	return address.Uint160ToString(util.Uint160{seed, 1, 2, 3})
}

func (f *fixture) openWallet(t *testing.T, user string, balance int64) {
	t.Helper()
	ctx := context.Background()
	_, err := f.bank.OpenAccount(ctx, user, walletAddress(byte(len(user))))
	require.NoError(t, err)
	if balance > 0 {
		require.NoError(t, f.bank.Deposit(ctx, user, balance, "seed"))
	}
}

func (f *fixture) enqueueImage(t *testing.T, user, ref string) ledger.Transaction {
	t.Helper()
	f.registry.Put(content.Item{ID: ref, Type: ledger.ContentImage, OwnerID: user})
	tx, err := f.mgr.Enqueue(context.Background(), NewTransaction{
		UserID:           user,
		ContentType:      ledger.ContentImage,
		ContentReference: ref,
		DataSize:         100,
		Metadata: ledger.NewImageMetadata(ledger.ImagePayload{
			MemorialID:     "mem-1",
			GalleryEntryID: "entry-" + ref,
			WorkingRef:     "s3://working/" + ref,
		}),
	})
	require.NoError(t, err)
	return tx
}

func (f *fixture) enqueueMemorial(t *testing.T, user, ref string) ledger.Transaction {
	t.Helper()
	f.registry.Put(content.Item{ID: ref, Type: ledger.ContentMemorial, OwnerID: user})
	tx, err := f.mgr.Enqueue(context.Background(), NewTransaction{
		UserID:           user,
		ContentType:      ledger.ContentMemorial,
		ContentReference: ref,
		DataSize:         10,
		Metadata:         ledger.NewMemorialMetadata(ledger.MemorialPayload{MemorialID: ref, Title: "In memory"}),
	})
	require.NoError(t, err)
	return tx
}

func (f *fixture) get(t *testing.T, id string) ledger.Transaction {
	t.Helper()
	tx, err := f.store.GetTransaction(context.Background(), id)
	require.NoError(t, err)
	return tx
}

// setStatus forces a transaction into status for guard tests.
func (f *fixture) setStatus(t *testing.T, id string, status ledger.Status, txRef string) ledger.Transaction {
	t.Helper()
	tx := f.get(t, id)
	tr := ledger.Transition{
		ID:        id,
		From:      []ledger.Status{tx.Status},
		To:        status,
		UpdatedAt: ledger.ClaimTime(tx.UpdatedAt, f.clk.Now()),
	}
	if txRef != "" {
		tr.TxRef = &txRef
	}
	ok, err := f.store.TransitionTransaction(context.Background(), tr)
	require.NoError(t, err)
	require.True(t, ok)
	return f.get(t, id)
}

func TestEnqueue(t *testing.T) {
	f := newFixture(t, Config{})
	tx := f.enqueueImage(t, "u1", "img-1")

	assert.Equal(t, ledger.StatusPendingExecution, tx.Status)
	assert.Equal(t, start, tx.CreatedAt)
	assert.Equal(t, tx.CreatedAt, tx.UpdatedAt)
	meta, err := tx.Payload()
	require.NoError(t, err)
	assert.Equal(t, "s3://working/img-1", meta.Image.WorkingRef)

	ctx := context.Background()
	image := ledger.NewImageMetadata(ledger.ImagePayload{MemorialID: "m", GalleryEntryID: "e", WorkingRef: "w"})
	bad := []NewTransaction{
		{ContentType: ledger.ContentImage, ContentReference: "r", Metadata: image},
		{UserID: "u1", ContentType: "video", ContentReference: "r", Metadata: image},
		{UserID: "u1", ContentType: ledger.ContentImage, Metadata: image},
		{UserID: "u1", ContentType: ledger.ContentCover, ContentReference: "r", Metadata: image},
		{UserID: "u1", ContentType: ledger.ContentImage, ContentReference: "r", Metadata: image, DataSize: -1},
		{UserID: "u1", ContentType: ledger.ContentImage, ContentReference: "r", Metadata: image, TargetAddress: "nope"},
		{UserID: "u1", ContentType: ledger.ContentImage, ContentReference: "r", Metadata: ledger.Metadata{Version: 1, Kind: ledger.ContentImage}},
	}
	for i, req := range bad {
		_, err := f.mgr.Enqueue(ctx, req)
		assert.True(t, core.IsValidationError(err), "case %d: %v", i, err)
	}
}

func TestProcessPendingExecution_IsolatesFailures(t *testing.T) {
	f := newFixture(t, Config{Concurrency: 3})
	f.openWallet(t, "poor", 0)
	ctx := context.Background()

	var txs []ledger.Transaction
	for _, ref := range []string{"a", "b", "c", "d", "e"} {
		txs = append(txs, f.enqueueImage(t, "u1", ref))
	}
	poor := f.enqueueImage(t, "poor", "f")

	failing := map[string]bool{txs[1].ID: true, txs[3].ID: true}
	f.sim.OnSubmit(func(sub ledgerclient.Submission) error {
		if failing[sub.TransactionID] {
			return &ledgerclient.SubmissionError{StatusCode: 422, Reason: "payload rejected"}
		}
		return nil
	})

	report, err := f.mgr.ProcessPendingExecution(ctx, 0)
	require.NoError(t, err)
	assert.Equal(t, TickExecution, report.Tick)
	assert.Equal(t, 6, report.Fetched)
	assert.Equal(t, 2, report.Errors)
	assert.Equal(t, 4, report.Succeeded)
	assert.Equal(t, 0, report.Skipped)

	for _, tx := range txs {
		got := f.get(t, tx.ID)
		if failing[tx.ID] {
			assert.Equal(t, ledger.StatusError, got.Status)
			assert.Contains(t, got.ErrorMessage, "payload rejected")
			assert.Empty(t, got.TxRef)
			continue
		}
		assert.Equal(t, ledger.StatusPendingConfirmation, got.Status)
		assert.NotEmpty(t, got.TxRef)
		assert.Equal(t, int64(110), got.FeeAmount)
		assert.Equal(t, walletAddress(2), got.TargetAddress)
		assert.Empty(t, got.ErrorMessage)
	}

	parked := f.get(t, poor.ID)
	assert.Equal(t, ledger.StatusPendingBalance, parked.Status)
	assert.Contains(t, parked.ErrorMessage, "insufficient balance")

	refs, _ := f.sim.Submissions()
	assert.Len(t, refs, 3)

	// A second run finds nothing left to submit.
	report, err = f.mgr.RunPendingExecutionTick(ctx)
	require.NoError(t, err)
	assert.Equal(t, 0, report.Fetched)
}

func TestProcessPendingExecution_NetworkInsufficientBalance(t *testing.T) {
	f := newFixture(t, Config{})
	f.mgr.WithFeeLedger(f.bank)
	tx := f.enqueueImage(t, "u1", "a")
	f.sim.OnSubmit(func(ledgerclient.Submission) error {
		return ledgerclient.ErrInsufficientBalance
	})

	report, err := f.mgr.ProcessPendingExecution(context.Background(), 10)
	require.NoError(t, err)
	assert.Equal(t, 1, report.Succeeded)
	assert.Equal(t, ledger.StatusPendingBalance, f.get(t, tx.ID).Status)

	balance, reserved, _, err := f.bank.GetBalance(context.Background(), "u1")
	require.NoError(t, err)
	assert.Equal(t, int64(1_000_000), balance)
	assert.Zero(t, reserved, "reservation must be released")
}

func TestProcessPendingExecution_ChargesFeeLedger(t *testing.T) {
	f := newFixture(t, Config{})
	f.mgr.WithFeeLedger(f.bank)
	tx := f.enqueueImage(t, "u1", "a")

	_, err := f.mgr.ProcessPendingExecution(context.Background(), 10)
	require.NoError(t, err)
	assert.Equal(t, ledger.StatusPendingConfirmation, f.get(t, tx.ID).Status)

	balance, reserved, _, err := f.bank.GetBalance(context.Background(), "u1")
	require.NoError(t, err)
	assert.Equal(t, int64(1_000_000-110), balance)
	assert.Zero(t, reserved)
	entries := f.bank.Entries(context.Background(), "u1", 1)
	require.Len(t, entries, 1)
	assert.Equal(t, gasbank.TxTypeLedgerFee, entries[0].Type)
	assert.Equal(t, tx.ID, entries[0].ReferenceID)
}

func TestProcessPendingExecution_ValidationErrors(t *testing.T) {
	f := newFixture(t, Config{})
	ctx := context.Background()

	missing := f.enqueueImage(t, "u1", "gone")
	f.registry = content.NewRegistry()
	f.mgr.content = f.registry

	f.registry.Put(content.Item{ID: "theirs", Type: ledger.ContentImage, OwnerID: "someone-else"})
	stolen, err := f.mgr.Enqueue(ctx, NewTransaction{
		UserID:           "u1",
		ContentType:      ledger.ContentImage,
		ContentReference: "theirs",
		Metadata:         ledger.NewImageMetadata(ledger.ImagePayload{MemorialID: "m", GalleryEntryID: "e", WorkingRef: "w"}),
	})
	require.NoError(t, err)

	garbled, err := f.store.CreateTransaction(ctx, ledger.Transaction{
		UserID:           "u1",
		Status:           ledger.StatusPendingExecution,
		ContentType:      ledger.ContentCover,
		ContentReference: "cover-1",
		Metadata:         []byte(`{"version":9}`),
		CreatedAt:        start,
	})
	require.NoError(t, err)

	f.registry.Put(content.Item{ID: "nowallet", Type: ledger.ContentMemorial, OwnerID: "ghost"})
	orphan, err := f.mgr.Enqueue(ctx, NewTransaction{
		UserID:           "ghost",
		ContentType:      ledger.ContentMemorial,
		ContentReference: "nowallet",
		Metadata:         ledger.NewMemorialMetadata(ledger.MemorialPayload{MemorialID: "nowallet"}),
	})
	require.NoError(t, err)

	report, err := f.mgr.ProcessPendingExecution(ctx, 10)
	require.NoError(t, err)
	assert.Equal(t, 4, report.Errors)

	for _, id := range []string{missing.ID, stolen.ID, garbled.ID, orphan.ID} {
		got := f.get(t, id)
		assert.Equal(t, ledger.StatusError, got.Status, id)
		assert.NotEmpty(t, got.ErrorMessage, id)
	}
	assert.Contains(t, f.get(t, stolen.ID).ErrorMessage, "does not belong")
	refs, _ := f.sim.Submissions()
	assert.Empty(t, refs)
}

func TestExecute_SkipsLostClaim(t *testing.T) {
	f := newFixture(t, Config{})
	ctx := context.Background()
	tx := f.enqueueImage(t, "u1", "a")

	_, ok, err := f.store.ClaimTransaction(ctx, tx.ID, ledger.StatusPendingExecution, tx.UpdatedAt, f.clk.Now())
	require.NoError(t, err)
	require.True(t, ok)

	assert.Equal(t, outcomeSkipped, f.mgr.execute(ctx, tx))
	refs, _ := f.sim.Submissions()
	assert.Empty(t, refs)
}

func TestExecute_CancelledDuringSubmission(t *testing.T) {
	f := newFixture(t, Config{})
	ctx := context.Background()
	tx := f.enqueueImage(t, "u1", "a")

	f.sim.OnSubmit(func(ledgerclient.Submission) error {
		_, err := f.mgr.RequestCancel(ctx, tx.ID, "u1")
		return err
	})

	report, err := f.mgr.ProcessPendingExecution(ctx, 10)
	require.NoError(t, err)
	assert.Equal(t, 1, report.Skipped)
	cancelled := f.get(t, tx.ID)
	assert.Equal(t, ledger.StatusCancelled, cancelled.Status)
	assert.Empty(t, cancelled.TxRef)
	assert.Contains(t, cancelled.ErrorMessage, "submitted to ledger as ")
	assert.Contains(t, cancelled.ErrorMessage, "reconcile manually")
}

func TestProcessPendingConfirmation_ImageReference(t *testing.T) {
	f := newFixture(t, Config{})
	ctx := context.Background()
	tx := f.enqueueImage(t, "u1", "a")
	_, err := f.mgr.ProcessPendingExecution(ctx, 10)
	require.NoError(t, err)
	submitted := f.get(t, tx.ID)

	report, err := f.mgr.ProcessPendingConfirmation(ctx, 10)
	require.NoError(t, err)
	assert.Equal(t, 1, report.Pending)
	assert.Empty(t, f.refs.Updates())

	f.clk.Advance(time.Minute)
	f.sim.MarkFinal(submitted.TxRef)
	report, err = f.mgr.RunPendingConfirmationTick(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, report.Succeeded)

	confirmed := f.get(t, tx.ID)
	assert.Equal(t, ledger.StatusConfirmed, confirmed.Status)
	require.NotNil(t, confirmed.ConfirmedAt)
	assert.True(t, confirmed.ConfirmedAt.Equal(f.clk.Now()))

	updates := f.refs.Updates()
	require.Len(t, updates, 1)
	assert.Equal(t, ledger.ReferenceGalleryImage, updates[0].Kind)
	assert.Equal(t, "s3://working/a", updates[0].OldRef)
	assert.Equal(t, "sim://"+submitted.TxRef, updates[0].NewRef)
	assert.Equal(t, "entry-a", updates[0].EntryID)

	report, err = f.mgr.ProcessPendingConfirmation(ctx, 10)
	require.NoError(t, err)
	assert.Equal(t, 0, report.Fetched)
	assert.Len(t, f.refs.Updates(), 1)
}

func TestProcessPendingConfirmation_MemorialOwnsNoReference(t *testing.T) {
	f := newFixture(t, Config{})
	ctx := context.Background()
	tx := f.enqueueMemorial(t, "u1", "mem-9")
	_, err := f.mgr.ProcessPendingExecution(ctx, 10)
	require.NoError(t, err)
	f.sim.MarkFinal(f.get(t, tx.ID).TxRef)

	_, err = f.mgr.ProcessPendingConfirmation(ctx, 10)
	require.NoError(t, err)
	assert.Equal(t, ledger.StatusConfirmed, f.get(t, tx.ID).Status)
	assert.Empty(t, f.refs.Updates())
}

func TestProcessPendingConfirmation_ReferenceFailureRetries(t *testing.T) {
	f := newFixture(t, Config{})
	ctx := context.Background()
	tx := f.enqueueImage(t, "u1", "a")
	_, err := f.mgr.ProcessPendingExecution(ctx, 10)
	require.NoError(t, err)
	f.sim.MarkFinal(f.get(t, tx.ID).TxRef)

	f.refs.FailWith(errors.New("gallery unavailable"))
	report, err := f.mgr.ProcessPendingConfirmation(ctx, 10)
	require.NoError(t, err)
	assert.Equal(t, 1, report.Errors)
	assert.Equal(t, ledger.StatusPendingConfirmation, f.get(t, tx.ID).Status)

	f.refs.FailWith(nil)
	report, err = f.mgr.ProcessPendingConfirmation(ctx, 10)
	require.NoError(t, err)
	assert.Equal(t, 1, report.Succeeded)
	assert.Equal(t, ledger.StatusConfirmed, f.get(t, tx.ID).Status)
	assert.Len(t, f.refs.Updates(), 1)
}

func TestProcessPendingConfirmation_Anomalies(t *testing.T) {
	f := newFixture(t, Config{})
	ctx := context.Background()

	noRef, err := f.store.CreateTransaction(ctx, ledger.Transaction{
		UserID:    "u1",
		Status:    ledger.StatusPendingConfirmation,
		CreatedAt: start,
	})
	require.NoError(t, err)

	tx := f.enqueueImage(t, "u1", "a")
	_, err = f.mgr.ProcessPendingExecution(ctx, 10)
	require.NoError(t, err)
	ref := f.get(t, tx.ID).TxRef
	f.sim.FailFinality(ref, errors.New("node timeout"))

	report, err := f.mgr.ProcessPendingConfirmation(ctx, 10)
	require.NoError(t, err)
	assert.Equal(t, 2, report.Fetched)
	assert.Equal(t, 2, report.Errors)
	assert.Equal(t, ledger.StatusPendingConfirmation, f.get(t, noRef.ID).Status)
	assert.Equal(t, ledger.StatusPendingConfirmation, f.get(t, tx.ID).Status)
}

func TestProcessPendingConfirmation_FlagsStuckOnce(t *testing.T) {
	f := newFixture(t, Config{StuckAfter: time.Hour})
	ctx := context.Background()
	tx := f.enqueueImage(t, "u1", "a")
	_, err := f.mgr.ProcessPendingExecution(ctx, 10)
	require.NoError(t, err)
	before := f.get(t, tx.ID)

	f.clk.Advance(30 * time.Minute)
	report, err := f.mgr.ProcessPendingConfirmation(ctx, 10)
	require.NoError(t, err)
	assert.Equal(t, 0, report.Flagged)

	f.clk.Advance(2 * time.Hour)
	report, err = f.mgr.ProcessPendingConfirmation(ctx, 10)
	require.NoError(t, err)
	assert.Equal(t, 1, report.Pending)
	assert.Equal(t, 1, report.Flagged)

	flagged := f.get(t, tx.ID)
	assert.Equal(t, ledger.StatusPendingConfirmation, flagged.Status)
	assert.Contains(t, flagged.ErrorMessage, "manual review")
	assert.Equal(t, before.UpdatedAt, flagged.UpdatedAt)

	report, err = f.mgr.ProcessPendingConfirmation(ctx, 10)
	require.NoError(t, err)
	assert.Equal(t, 0, report.Flagged)

	// A flagged transaction still confirms once final.
	f.sim.MarkFinal(flagged.TxRef)
	_, err = f.mgr.ProcessPendingConfirmation(ctx, 10)
	require.NoError(t, err)
	confirmed := f.get(t, tx.ID)
	assert.Equal(t, ledger.StatusConfirmed, confirmed.Status)
	assert.Empty(t, confirmed.ErrorMessage)
}

func TestRequestCancel(t *testing.T) {
	f := newFixture(t, Config{})
	ctx := context.Background()

	for _, status := range []ledger.Status{ledger.StatusConfirmed, ledger.StatusPendingConfirmation, ledger.StatusCancelled} {
		tx := f.enqueueImage(t, "u1", "x-"+string(status))
		fixed := f.setStatus(t, tx.ID, status, "ref-"+string(status))

		_, err := f.mgr.RequestCancel(ctx, tx.ID, "u1")
		assert.True(t, core.IsInvalidStatus(err), "%s: %v", status, err)
		after := f.get(t, tx.ID)
		assert.Equal(t, fixed, after, "%s must not be mutated", status)
	}

	for _, status := range []ledger.Status{ledger.StatusPendingExecution, ledger.StatusPendingBalance, ledger.StatusError} {
		tx := f.enqueueImage(t, "u1", "y-"+string(status))
		if status != ledger.StatusPendingExecution {
			f.setStatus(t, tx.ID, status, "")
		}
		got, err := f.mgr.RequestCancel(ctx, tx.ID, "u1")
		require.NoError(t, err, status)
		assert.Equal(t, ledger.StatusCancelled, got.Status)
		assert.Equal(t, ledger.StatusCancelled, f.get(t, tx.ID).Status)
	}

	tx := f.enqueueImage(t, "u1", "z")
	_, err := f.mgr.RequestCancel(ctx, tx.ID, "intruder")
	assert.True(t, core.IsForbidden(err))
	assert.Equal(t, ledger.StatusPendingExecution, f.get(t, tx.ID).Status)

	_, err = f.mgr.RequestCancel(ctx, "missing", "u1")
	assert.True(t, core.IsNotFound(err))
}

func TestRequestRetry(t *testing.T) {
	f := newFixture(t, Config{})
	f.openWallet(t, "poor", 0)
	ctx := context.Background()
	tx := f.enqueueImage(t, "poor", "a")

	_, err := f.mgr.ProcessPendingExecution(ctx, 10)
	require.NoError(t, err)
	require.Equal(t, ledger.StatusPendingBalance, f.get(t, tx.ID).Status)

	require.NoError(t, f.bank.Deposit(ctx, "poor", 1000, "topup"))
	got, err := f.mgr.RequestRetry(ctx, tx.ID, "poor")
	require.NoError(t, err)
	assert.Equal(t, ledger.StatusPendingExecution, got.Status)
	assert.Empty(t, f.get(t, tx.ID).ErrorMessage)

	_, err = f.mgr.ProcessPendingExecution(ctx, 10)
	require.NoError(t, err)
	assert.Equal(t, ledger.StatusPendingConfirmation, f.get(t, tx.ID).Status)

	_, err = f.mgr.RequestRetry(ctx, tx.ID, "poor")
	assert.True(t, core.IsInvalidStatus(err))
}

func TestGetAndListForUser(t *testing.T) {
	f := newFixture(t, Config{})
	ctx := context.Background()
	first := f.enqueueImage(t, "u1", "a")
	f.clk.Advance(time.Second)
	second := f.enqueueImage(t, "u1", "b")

	got, err := f.mgr.Get(ctx, first.ID, "u1")
	require.NoError(t, err)
	assert.Equal(t, first.ID, got.ID)
	_, err = f.mgr.Get(ctx, first.ID, "u2")
	assert.True(t, core.IsForbidden(err))

	list, err := f.mgr.ListForUser(ctx, "u1", 0)
	require.NoError(t, err)
	require.Len(t, list, 2)
	assert.Equal(t, second.ID, list[0].ID)

	_, err = f.mgr.ListForUser(ctx, "", 0)
	assert.True(t, core.IsValidationError(err))
}

type unavailableStore struct {
	*memory.Store
}

func (unavailableStore) ListTransactionsByStatus(context.Context, ledger.Status, int) ([]ledger.Transaction, error) {
	return nil, errors.New("connection refused")
}

func TestTick_StoreUnavailable(t *testing.T) {
	m := New(unavailableStore{memory.New()}, ledgerclient.NewSimulator(nil, 0), nil, nil, nil, Config{}, nil, nil)

	_, err := m.RunPendingExecutionTick(context.Background())
	assert.True(t, core.IsStoreUnavailable(err))
	_, err = m.RunPendingConfirmationTick(context.Background())
	assert.True(t, core.IsStoreUnavailable(err))
}
