package transfer

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/wolfman30/tatamali-wallet/internal/ledger"
	"github.com/wolfman30/tatamali-wallet/internal/wallet"
)

type querier interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// PostgresJournal stores the journal in the transfer_journal table.
type PostgresJournal struct {
	db querier
}

var _ Journal = (*PostgresJournal)(nil)

func NewPostgresJournal(pool *pgxpool.Pool) *PostgresJournal {
	if pool == nil {
		panic("transfer: pgx pool required")
	}
	return &PostgresJournal{db: pool}
}

func newPostgresJournalWithDB(db querier) *PostgresJournal {
	return &PostgresJournal{db: db}
}

func (j *PostgresJournal) Get(ctx context.Context, key string) (Entry, error) {
	query := `
		SELECT idempotency_key, from_phone, to_phone, amount_minor, status,
		       success, message, transaction_id, failure_reason, created_at, updated_at
		FROM transfer_journal
		WHERE idempotency_key = $1
	`
	var (
		e       Entry
		amount  int64
		status  string
		failure string
	)
	err := j.db.QueryRow(ctx, query, key).Scan(
		&e.IdempotencyKey, &e.FromPhone, &e.ToPhone, &amount, &status,
		&e.Outcome.Success, &e.Outcome.Message, &e.Outcome.TransactionID, &failure,
		&e.CreatedAt, &e.UpdatedAt,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return Entry{}, ErrEntryNotFound
	}
	if err != nil {
		return Entry{}, fmt.Errorf("transfer: load journal entry: %w", err)
	}
	e.Amount = wallet.Amount(amount)
	e.Status = Status(status)
	e.Outcome.Failure = ledger.FailureReason(failure)
	e.Outcome.Ambiguous = e.Status == StatusAmbiguous
	return e, nil
}

func (j *PostgresJournal) Begin(ctx context.Context, cmd ledger.TransferCommand) (bool, error) {
	query := `
		INSERT INTO transfer_journal (idempotency_key, from_phone, to_phone, amount_minor, status)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (idempotency_key) DO NOTHING
	`
	ct, err := j.db.Exec(ctx, query, cmd.IdempotencyKey, cmd.FromPhone, cmd.ToPhone, int64(cmd.AmountMinor), string(StatusPending))
	if err != nil {
		return false, fmt.Errorf("transfer: begin journal entry: %w", err)
	}
	return ct.RowsAffected() > 0, nil
}

func (j *PostgresJournal) Settle(ctx context.Context, key string, status Status, outcome ledger.TransferOutcome) error {
	query := `
		UPDATE transfer_journal
		SET status = $2, success = $3, message = $4, transaction_id = $5, failure_reason = $6, updated_at = NOW()
		WHERE idempotency_key = $1
	`
	ct, err := j.db.Exec(ctx, query, key, string(status), outcome.Success, outcome.Message,
		outcome.TransactionID, string(outcome.Failure))
	if err != nil {
		return fmt.Errorf("transfer: settle journal entry: %w", err)
	}
	if ct.RowsAffected() == 0 {
		return ErrEntryNotFound
	}
	return nil
}
