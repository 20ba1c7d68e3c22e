package transfer

import (
	"context"
	"testing"
	"time"

	pgx "github.com/jackc/pgx/v5"
	pgxmock "github.com/pashagolub/pgxmock/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/wolfman30/tatamali-wallet/internal/ledger"
)

var journalColumns = []string{
	"idempotency_key", "from_phone", "to_phone", "amount_minor", "status",
	"success", "message", "transaction_id", "failure_reason", "created_at", "updated_at",
}

func TestPostgresJournal_Lifecycle(t *testing.T) {
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()
	j := newPostgresJournalWithDB(mock)
	ctx := context.Background()
	cmd := command("wamid.pg", 2550)

	mock.ExpectExec("INSERT INTO transfer_journal").
		WithArgs("wamid.pg", alice, bob, int64(2550), "pending").
		WillReturnResult(pgxmock.NewResult("INSERT", 1))
	created, err := j.Begin(ctx, cmd)
	require.NoError(t, err)
	assert.True(t, created)

	mock.ExpectExec("INSERT INTO transfer_journal").
		WithArgs("wamid.pg", alice, bob, int64(2550), "pending").
		WillReturnResult(pgxmock.NewResult("INSERT", 0))
	created, err = j.Begin(ctx, cmd)
	require.NoError(t, err)
	assert.False(t, created)

	outcome := ledger.TransferOutcome{Success: true, TransactionID: "tx-9", Message: "ok"}
	mock.ExpectExec("UPDATE transfer_journal").
		WithArgs("wamid.pg", "succeeded", true, "ok", "tx-9", "").
		WillReturnResult(pgxmock.NewResult("UPDATE", 1))
	require.NoError(t, j.Settle(ctx, "wamid.pg", StatusSucceeded, outcome))

	now := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)
	mock.ExpectQuery("SELECT idempotency_key").WithArgs("wamid.pg").
		WillReturnRows(pgxmock.NewRows(journalColumns).
			AddRow("wamid.pg", alice, bob, int64(2550), "succeeded", true, "ok", "tx-9", "", now, now))
	entry, err := j.Get(ctx, "wamid.pg")
	require.NoError(t, err)
	assert.Equal(t, StatusSucceeded, entry.Status)
	assert.EqualValues(t, 2550, entry.Amount)
	assert.Equal(t, "tx-9", entry.Outcome.TransactionID)
	assert.True(t, entry.Outcome.Success)

	require.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresJournal_Missing(t *testing.T) {
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()
	j := newPostgresJournalWithDB(mock)

	mock.ExpectQuery("SELECT idempotency_key").WithArgs("nope").WillReturnError(pgx.ErrNoRows)
	_, err = j.Get(context.Background(), "nope")
	assert.ErrorIs(t, err, ErrEntryNotFound)

	mock.ExpectExec("UPDATE transfer_journal").
		WithArgs("nope", "failed", false, "", "", "unknown").
		WillReturnResult(pgxmock.NewResult("UPDATE", 0))
	err = j.Settle(context.Background(), "nope", StatusFailed, ledger.Failed(ledger.FailureUnknown, ""))
	assert.ErrorIs(t, err, ErrEntryNotFound)

	require.NoError(t, mock.ExpectationsWereMet())
}

func TestMemoryJournal(t *testing.T) {
	j := NewMemoryJournal()
	ctx := context.Background()

	_, err := j.Get(ctx, "k")
	assert.ErrorIs(t, err, ErrEntryNotFound)
	assert.ErrorIs(t, j.Settle(ctx, "k", StatusFailed, ledger.TransferOutcome{}), ErrEntryNotFound)

	created, err := j.Begin(ctx, command("k", 100))
	require.NoError(t, err)
	assert.True(t, created)
	created, _ = j.Begin(ctx, command("k", 100))
	assert.False(t, created)

	entry, err := j.Get(ctx, "k")
	require.NoError(t, err)
	assert.Equal(t, StatusPending, entry.Status)
	assert.False(t, entry.Status.Settled())

	require.NoError(t, j.Settle(ctx, "k", StatusFailed, ledger.Failed(ledger.FailureInsufficientFunds, "no")))
	entry, _ = j.Get(ctx, "k")
	assert.True(t, entry.Status.Settled())
	assert.Equal(t, ledger.FailureInsufficientFunds, entry.Outcome.Failure)
}
