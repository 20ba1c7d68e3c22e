package transfer

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/wolfman30/tatamali-wallet/internal/ledger"
	"github.com/wolfman30/tatamali-wallet/internal/wallet"
)

// ErrEntryNotFound is returned by Journal.Get for unknown keys.
var ErrEntryNotFound = errors.New("transfer: journal entry not found")

// Status is the lifecycle of a journaled transfer.
type Status string

const (
	StatusPending   Status = "pending"
	StatusSucceeded Status = "succeeded"
	StatusFailed    Status = "failed"
	StatusAmbiguous Status = "ambiguous"
)

// Settled reports whether the outcome is final and may be replayed.
func (s Status) Settled() bool {
	return s == StatusSucceeded || s == StatusFailed
}

// Entry is one journaled transfer, keyed by idempotency key.
type Entry struct {
	IdempotencyKey string
	FromPhone      string
	ToPhone        string
	Amount         wallet.Amount
	Status         Status
	Outcome        ledger.TransferOutcome
	CreatedAt      time.Time
	UpdatedAt      time.Time
}

// Journal records every orchestrated transfer so a repeated key returns the
// original outcome without touching the ledger.
type Journal interface {
	Get(ctx context.Context, key string) (Entry, error)
	// Begin records a pending entry; it returns false when the key exists.
	Begin(ctx context.Context, cmd ledger.TransferCommand) (bool, error)
	Settle(ctx context.Context, key string, status Status, outcome ledger.TransferOutcome) error
}

// MemoryJournal is a process-local Journal.
type MemoryJournal struct {
	mu      sync.Mutex
	entries map[string]Entry
	now     func() time.Time
}

var _ Journal = (*MemoryJournal)(nil)

func NewMemoryJournal() *MemoryJournal {
	return &MemoryJournal{entries: make(map[string]Entry), now: time.Now}
}

func (j *MemoryJournal) Get(ctx context.Context, key string) (Entry, error) {
	j.mu.Lock()
	defer j.mu.Unlock()
	e, ok := j.entries[key]
	if !ok {
		return Entry{}, ErrEntryNotFound
	}
	return e, nil
}

func (j *MemoryJournal) Begin(ctx context.Context, cmd ledger.TransferCommand) (bool, error) {
	j.mu.Lock()
	defer j.mu.Unlock()
	if _, ok := j.entries[cmd.IdempotencyKey]; ok {
		return false, nil
	}
	now := j.now().UTC()
	j.entries[cmd.IdempotencyKey] = Entry{
		IdempotencyKey: cmd.IdempotencyKey,
		FromPhone:      cmd.FromPhone,
		ToPhone:        cmd.ToPhone,
		Amount:         cmd.AmountMinor,
		Status:         StatusPending,
		CreatedAt:      now,
		UpdatedAt:      now,
	}
	return true, nil
}

func (j *MemoryJournal) Settle(ctx context.Context, key string, status Status, outcome ledger.TransferOutcome) error {
	j.mu.Lock()
	defer j.mu.Unlock()
	e, ok := j.entries[key]
	if !ok {
		return ErrEntryNotFound
	}
	e.Status = status
	e.Outcome = outcome
	e.UpdatedAt = j.now().UTC()
	j.entries[key] = e
	return nil
}
