package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"

	core "github.com/R3E-Network/tribute_layer/internal/app/core/service"
	"github.com/R3E-Network/tribute_layer/internal/app/domain/heat"
	"github.com/R3E-Network/tribute_layer/internal/app/domain/ledger"
	"github.com/R3E-Network/tribute_layer/internal/app/storage"
)

// Store implements the heat and ledger storage interfaces backed by PostgreSQL.
type Store struct {
	db *sqlx.DB
}

var _ storage.HeatWindowStore = (*Store)(nil)
var _ storage.LedgerTransactionStore = (*Store)(nil)

// New creates a Store using the provided database handle.
func New(db *sql.DB) *Store {
	return &Store{db: sqlx.NewDb(db, "postgres")}
}

const windowColumns = `id, item_id, delta, created_at, expired_at`

const transactionColumns = `id, user_id, target_address, tx_ref, status, content_type, content_reference,
	metadata, data_size, fee_amount, error_message, created_at, updated_at, confirmed_at`

// --- HeatWindowStore --------------------------------------------------------

func (s *Store) IncrementOpenWindow(ctx context.Context, itemID string, delta float64, now time.Time, duration time.Duration) (heat.Window, bool, error) {
	now = now.UTC().Truncate(time.Microsecond)

	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return heat.Window{}, false, err
	}
	defer func() { _ = tx.Rollback() }()

	// Serialises find-or-create per item even when no row exists yet to lock.
	if _, err := tx.ExecContext(ctx, `SELECT pg_advisory_xact_lock(hashtext($1))`, itemID); err != nil {
		return heat.Window{}, false, err
	}

	var w heat.Window
	err = tx.GetContext(ctx, &w, `
		SELECT `+windowColumns+`
		FROM heat_windows
		WHERE item_id = $1 AND expired_at > $2
		ORDER BY created_at DESC
		LIMIT 1
		FOR UPDATE
	`, itemID, now)

	created := false
	switch {
	case errors.Is(err, sql.ErrNoRows):
		w = heat.Window{
			ID:        uuid.NewString(),
			ItemID:    itemID,
			Delta:     delta,
			CreatedAt: now,
			ExpiredAt: now.Add(duration),
		}
		if _, err := tx.NamedExecContext(ctx, `
			INSERT INTO heat_windows (`+windowColumns+`)
			VALUES (:id, :item_id, :delta, :created_at, :expired_at)
		`, w); err != nil {
			return heat.Window{}, false, err
		}
		created = true
	case err != nil:
		return heat.Window{}, false, err
	default:
		if err := tx.GetContext(ctx, &w, `
			UPDATE heat_windows SET delta = delta + $2
			WHERE id = $1
			RETURNING `+windowColumns, w.ID, delta); err != nil {
			return heat.Window{}, false, err
		}
	}

	if err := tx.Commit(); err != nil {
		return heat.Window{}, false, err
	}
	w.CreatedAt = w.CreatedAt.UTC()
	w.ExpiredAt = w.ExpiredAt.UTC()
	return w, created, nil
}

func (s *Store) SumSince(ctx context.Context, itemID string, since time.Time) (float64, error) {
	var total float64
	err := s.db.GetContext(ctx, &total, `
		SELECT COALESCE(SUM(delta), 0)
		FROM heat_windows
		WHERE item_id = $1 AND created_at >= $2
	`, itemID, since.UTC())
	return total, err
}

func (s *Store) ListWindowsSince(ctx context.Context, itemID string, since time.Time) ([]heat.Window, error) {
	var windows []heat.Window
	err := s.db.SelectContext(ctx, &windows, `
		SELECT `+windowColumns+`
		FROM heat_windows
		WHERE item_id = $1 AND created_at >= $2
		ORDER BY created_at
	`, itemID, since.UTC())
	if err != nil {
		return nil, err
	}
	for i := range windows {
		windows[i].CreatedAt = windows[i].CreatedAt.UTC()
		windows[i].ExpiredAt = windows[i].ExpiredAt.UTC()
	}
	return windows, nil
}

func (s *Store) ListActiveItems(ctx context.Context, since time.Time, limit int) ([]string, error) {
	var ids []string
	err := s.db.SelectContext(ctx, &ids, `
		SELECT item_id
		FROM heat_windows
		WHERE created_at >= $1
		GROUP BY item_id
		ORDER BY SUM(delta) DESC, item_id
		LIMIT $2
	`, since.UTC(), limitArg(limit))
	return ids, err
}

// --- LedgerTransactionStore -------------------------------------------------

type transactionRow struct {
	ID               string         `db:"id"`
	UserID           string         `db:"user_id"`
	TargetAddress    string         `db:"target_address"`
	TxRef            sql.NullString `db:"tx_ref"`
	Status           string         `db:"status"`
	ContentType      string         `db:"content_type"`
	ContentReference string         `db:"content_reference"`
	Metadata         []byte         `db:"metadata"`
	DataSize         int64          `db:"data_size"`
	FeeAmount        int64          `db:"fee_amount"`
	ErrorMessage     sql.NullString `db:"error_message"`
	CreatedAt        time.Time      `db:"created_at"`
	UpdatedAt        time.Time      `db:"updated_at"`
	ConfirmedAt      sql.NullTime   `db:"confirmed_at"`
}

func (r transactionRow) toDomain() ledger.Transaction {
	tx := ledger.Transaction{
		ID:               r.ID,
		UserID:           r.UserID,
		TargetAddress:    r.TargetAddress,
		TxRef:            r.TxRef.String,
		Status:           ledger.Status(r.Status),
		ContentType:      ledger.ContentType(r.ContentType),
		ContentReference: r.ContentReference,
		DataSize:         r.DataSize,
		FeeAmount:        r.FeeAmount,
		ErrorMessage:     r.ErrorMessage.String,
		CreatedAt:        r.CreatedAt.UTC(),
		UpdatedAt:        r.UpdatedAt.UTC(),
	}
	if len(r.Metadata) > 0 {
		tx.Metadata = json.RawMessage(r.Metadata)
	}
	if r.ConfirmedAt.Valid {
		at := r.ConfirmedAt.Time.UTC()
		tx.ConfirmedAt = &at
	}
	return tx
}

func (s *Store) CreateTransaction(ctx context.Context, tx ledger.Transaction) (ledger.Transaction, error) {
	if tx.ID == "" {
		tx.ID = uuid.NewString()
	}
	if tx.CreatedAt.IsZero() {
		tx.CreatedAt = time.Now().UTC()
	}
	tx.CreatedAt = tx.CreatedAt.UTC().Truncate(time.Microsecond)
	if tx.UpdatedAt.IsZero() {
		tx.UpdatedAt = tx.CreatedAt
	}
	tx.UpdatedAt = tx.UpdatedAt.UTC().Truncate(time.Microsecond)
	if tx.Status == "" {
		tx.Status = ledger.StatusPendingExecution
	}

	metadata := "null"
	if len(tx.Metadata) > 0 {
		metadata = string(tx.Metadata)
	}

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO ledger_transactions (`+transactionColumns+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14)
	`, tx.ID, tx.UserID, tx.TargetAddress, nullString(tx.TxRef), tx.Status, tx.ContentType, tx.ContentReference,
		metadata, tx.DataSize, tx.FeeAmount, nullString(tx.ErrorMessage), tx.CreatedAt, tx.UpdatedAt, nullTime(tx.ConfirmedAt))
	if err != nil {
		var pqErr *pq.Error
		if errors.As(err, &pqErr) && pqErr.Code == "23505" {
			return ledger.Transaction{}, fmt.Errorf("transaction %s: %w", tx.ID, core.ErrAlreadyExists)
		}
		return ledger.Transaction{}, err
	}
	return tx, nil
}

func (s *Store) GetTransaction(ctx context.Context, id string) (ledger.Transaction, error) {
	var row transactionRow
	err := s.db.GetContext(ctx, &row, `
		SELECT `+transactionColumns+`
		FROM ledger_transactions
		WHERE id = $1
	`, id)
	if errors.Is(err, sql.ErrNoRows) {
		return ledger.Transaction{}, core.NewNotFoundError("transaction", id)
	}
	if err != nil {
		return ledger.Transaction{}, err
	}
	return row.toDomain(), nil
}

func (s *Store) ListTransactionsByStatus(ctx context.Context, status ledger.Status, limit int) ([]ledger.Transaction, error) {
	return s.selectTransactions(ctx, `
		SELECT `+transactionColumns+`
		FROM ledger_transactions
		WHERE status = $1
		ORDER BY created_at, id
		LIMIT $2
	`, string(status), limitArg(limit))
}

func (s *Store) ListTransactionsByUser(ctx context.Context, userID string, limit int) ([]ledger.Transaction, error) {
	return s.selectTransactions(ctx, `
		SELECT `+transactionColumns+`
		FROM ledger_transactions
		WHERE user_id = $1
		ORDER BY created_at DESC, id
		LIMIT $2
	`, userID, limitArg(limit))
}

func (s *Store) selectTransactions(ctx context.Context, query string, args ...any) ([]ledger.Transaction, error) {
	var rows []transactionRow
	if err := s.db.SelectContext(ctx, &rows, query, args...); err != nil {
		return nil, err
	}
	result := make([]ledger.Transaction, 0, len(rows))
	for _, row := range rows {
		result = append(result, row.toDomain())
	}
	return result, nil
}

func (s *Store) ClaimTransaction(ctx context.Context, id string, status ledger.Status, seenUpdatedAt, now time.Time) (ledger.Transaction, bool, error) {
	var row transactionRow
	err := s.db.GetContext(ctx, &row, `
		UPDATE ledger_transactions
		SET updated_at = $4
		WHERE id = $1 AND status = $2 AND updated_at = $3
		RETURNING `+transactionColumns,
		id, string(status), seenUpdatedAt.UTC(), ledger.ClaimTime(seenUpdatedAt, now))
	if errors.Is(err, sql.ErrNoRows) {
		return ledger.Transaction{}, false, nil
	}
	if err != nil {
		return ledger.Transaction{}, false, err
	}
	return row.toDomain(), true, nil
}

func (s *Store) TransitionTransaction(ctx context.Context, tr ledger.Transition) (bool, error) {
	if len(tr.From) == 0 {
		return false, fmt.Errorf("transition %s: no source statuses", tr.ID)
	}

	args := []any{string(tr.To), tr.UpdatedAt.UTC().Truncate(time.Microsecond)}
	set := []string{"status = $1", "updated_at = $2"}
	assign := func(column string, value any) {
		args = append(args, value)
		set = append(set, fmt.Sprintf("%s = $%d", column, len(args)))
	}
	if tr.TxRef != nil {
		assign("tx_ref", nullString(*tr.TxRef))
	}
	if tr.TargetAddress != nil {
		assign("target_address", *tr.TargetAddress)
	}
	if tr.FeeAmount != nil {
		assign("fee_amount", *tr.FeeAmount)
	}
	if tr.ErrorMessage != nil {
		assign("error_message", nullString(*tr.ErrorMessage))
	}
	if tr.ConfirmedAt != nil {
		assign("confirmed_at", nullTime(tr.ConfirmedAt))
	}

	from := make([]string, len(tr.From))
	for i, st := range tr.From {
		from[i] = string(st)
	}
	args = append(args, tr.ID, pq.Array(from))
	where := fmt.Sprintf("id = $%d AND status = ANY($%d)", len(args)-1, len(args))
	if tr.ExpectUpdatedAt != nil {
		args = append(args, tr.ExpectUpdatedAt.UTC())
		where += fmt.Sprintf(" AND updated_at = $%d", len(args))
	}

	query := "UPDATE ledger_transactions SET " + strings.Join(set, ", ") + " WHERE " + where
	result, err := s.db.ExecContext(ctx, query, args...)
	if err != nil {
		return false, err
	}
	rows, err := result.RowsAffected()
	if err != nil {
		return false, err
	}
	return rows > 0, nil
}

func (s *Store) FlagTransaction(ctx context.Context, id string, status ledger.Status, message string) (bool, error) {
	result, err := s.db.ExecContext(ctx, `
		UPDATE ledger_transactions
		SET error_message = $3
		WHERE id = $1 AND status = $2 AND COALESCE(error_message, '') = ''
	`, id, string(status), message)
	if err != nil {
		return false, err
	}
	rows, err := result.RowsAffected()
	if err != nil {
		return false, err
	}
	return rows > 0, nil
}

// --- helpers ----------------------------------------------------------------

// limitArg maps a non-positive limit to NULL, which postgres treats as LIMIT ALL.
func limitArg(limit int) any {
	if limit <= 0 {
		return nil
	}
	return limit
}

func nullString(v string) sql.NullString {
	return sql.NullString{String: v, Valid: v != ""}
}

func nullTime(v *time.Time) sql.NullTime {
	if v == nil {
		return sql.NullTime{}
	}
	return sql.NullTime{Time: v.UTC(), Valid: true}
}
