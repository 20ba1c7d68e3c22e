package events

import (
	"context"
	"errors"
	"testing"
	"time"

	pgx "github.com/jackc/pgx/v5"
	pgxmock "github.com/pashagolub/pgxmock/v4"
)

func TestProcessedStore(t *testing.T) {
	mock, err := pgxmock.NewPool()
	if err != nil {
		t.Fatalf("failed to create pgx mock: %v", err)
	}
	defer mock.Close()

	store := newProcessedStoreWithExec(mock)

	mock.ExpectQuery("SELECT 1 FROM processed_events").WithArgs("whatsapp", "wamid.1").WillReturnRows(pgxmock.NewRows([]string{"exists"}).AddRow(1))
	processed, err := store.AlreadyProcessed(context.Background(), "wamid.1")
	if err != nil || !processed {
		t.Fatalf("expected existing row, got processed=%v err=%v", processed, err)
	}

	mock.ExpectQuery("SELECT 1 FROM processed_events").WithArgs("whatsapp", "wamid.miss").WillReturnError(pgx.ErrNoRows)
	processed, err = store.AlreadyProcessed(context.Background(), "wamid.miss")
	if err != nil || processed {
		t.Fatalf("expected missing row, got processed=%v err=%v", processed, err)
	}

	mock.ExpectExec("INSERT INTO processed_events").WithArgs("whatsapp", "wamid.new").WillReturnResult(pgxmock.NewResult("INSERT", 1))
	dup, err := store.CheckAndMark(context.Background(), "wamid.new")
	if err != nil || dup {
		t.Fatalf("expected first claim, got dup=%v err=%v", dup, err)
	}

	mock.ExpectExec("INSERT INTO processed_events").WithArgs("whatsapp", "wamid.new").WillReturnResult(pgxmock.NewResult("INSERT", 0))
	dup, err = store.CheckAndMark(context.Background(), "wamid.new")
	if err != nil || !dup {
		t.Fatalf("expected duplicate, got dup=%v err=%v", dup, err)
	}

	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("unmet expectations: %v", err)
	}
}

func TestProcessedStore_Errors(t *testing.T) {
	mock, err := pgxmock.NewPool()
	if err != nil {
		t.Fatalf("failed to create pgx mock: %v", err)
	}
	defer mock.Close()
	store := newProcessedStoreWithExec(mock)

	mock.ExpectExec("INSERT INTO processed_events").WithArgs("whatsapp", "wamid.x").WillReturnError(errors.New("conn reset"))
	if _, err := store.CheckAndMark(context.Background(), "wamid.x"); err == nil {
		t.Fatal("expected error")
	}

	cutoff := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	mock.ExpectExec("DELETE FROM processed_events").WithArgs("whatsapp", cutoff).WillReturnResult(pgxmock.NewResult("DELETE", 7))
	n, err := store.PurgeBefore(context.Background(), cutoff)
	if err != nil || n != 7 {
		t.Fatalf("expected 7 purged, got %d err=%v", n, err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("unmet expectations: %v", err)
	}
}
