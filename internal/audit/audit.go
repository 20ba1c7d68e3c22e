// Package audit keeps an append-only record of money movement and account
// events in Postgres.
package audit

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/wolfman30/tatamali-wallet/internal/ledger"
	"github.com/wolfman30/tatamali-wallet/internal/wallet"
)

// EventType names an audited event.
type EventType string

const (
	EventTransferSucceeded    EventType = "transfer.succeeded"
	EventTransferFailed       EventType = "transfer.failed"
	EventTransferRejected     EventType = "transfer.rejected"
	EventTransferAmbiguous    EventType = "transfer.ambiguous"
	EventCouponRedeemed       EventType = "coupon.redeemed"
	EventCouponRejected       EventType = "coupon.rejected"
	EventRegistrationComplete EventType = "registration.completed"
	EventRegistrationFailed   EventType = "registration.failed"
)

// Event is one immutable audit record.
type Event struct {
	ID             string          `json:"id"`
	EventType      EventType       `json:"event_type"`
	Phone          string          `json:"phone"`
	Counterparty   string          `json:"counterparty,omitempty"`
	AmountMinor    int64           `json:"amount_minor"`
	IdempotencyKey string          `json:"idempotency_key,omitempty"`
	Source         string          `json:"source,omitempty"`
	Details        json.RawMessage `json:"details,omitempty"`
	CreatedAt      time.Time       `json:"created_at"`
}

// Details carries event-specific fields.
type Details struct {
	TransactionID string `json:"transaction_id,omitempty"`
	Failure       string `json:"failure,omitempty"`
	Message       string `json:"message,omitempty"`
	Duplicate     bool   `json:"duplicate,omitempty"`
	CouponToken   string `json:"coupon_token,omitempty"`
}

// Service writes and reads wallet_audit_events.
type Service struct {
	db *sql.DB
}

func NewService(db *sql.DB) *Service {
	return &Service{db: db}
}

// LogEvent records event, filling in the id and timestamp when empty.
func (s *Service) LogEvent(ctx context.Context, event Event) error {
	if event.ID == "" {
		event.ID = uuid.NewString()
	}
	if event.CreatedAt.IsZero() {
		event.CreatedAt = time.Now().UTC()
	}
	query := `
		INSERT INTO wallet_audit_events (
			id, event_type, phone, counterparty, amount_minor,
			idempotency_key, source, details, created_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
	`
	_, err := s.db.ExecContext(ctx, query,
		event.ID,
		event.EventType,
		event.Phone,
		nullString(event.Counterparty),
		event.AmountMinor,
		nullString(event.IdempotencyKey),
		nullString(event.Source),
		[]byte(event.Details),
		event.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("audit: failed to log event: %w", err)
	}
	return nil
}

// LogTransfer records the outcome of an orchestrated transfer.
func (s *Service) LogTransfer(ctx context.Context, cmd ledger.TransferCommand, outcome ledger.TransferOutcome, source string) error {
	eventType := EventTransferFailed
	switch {
	case outcome.Success:
		eventType = EventTransferSucceeded
	case outcome.Ambiguous:
		eventType = EventTransferAmbiguous
	case outcome.Failure == ledger.FailureRejected:
		eventType = EventTransferRejected
	}
	details, _ := json.Marshal(Details{
		TransactionID: outcome.TransactionID,
		Failure:       string(outcome.Failure),
		Message:       outcome.Message,
		Duplicate:     outcome.Duplicate,
	})
	return s.LogEvent(ctx, Event{
		EventType:      eventType,
		Phone:          cmd.FromPhone,
		Counterparty:   cmd.ToPhone,
		AmountMinor:    int64(cmd.AmountMinor),
		IdempotencyKey: cmd.IdempotencyKey,
		Source:         source,
		Details:        details,
	})
}

// LogCouponRedemption records a coupon claim attempt.
func (s *Service) LogCouponRedemption(ctx context.Context, phone, token string, credited wallet.Amount, success bool) error {
	eventType := EventCouponRejected
	if success {
		eventType = EventCouponRedeemed
	}
	details, _ := json.Marshal(Details{CouponToken: token})
	return s.LogEvent(ctx, Event{
		EventType:   eventType,
		Phone:       phone,
		AmountMinor: int64(credited),
		Source:      "chat",
		Details:     details,
	})
}

// LogRegistration records the result reported by the registration callback.
func (s *Service) LogRegistration(ctx context.Context, phone string, success bool) error {
	eventType := EventRegistrationFailed
	if success {
		eventType = EventRegistrationComplete
	}
	return s.LogEvent(ctx, Event{EventType: eventType, Phone: phone, Source: "registration"})
}

// Filter selects audit events for one phone number.
type Filter struct {
	Phone     string
	EventType EventType
	StartTime time.Time
	EndTime   time.Time
	Limit     int
	Offset    int
}

// QueryEvents returns matching events, newest first.
func (s *Service) QueryEvents(ctx context.Context, filter Filter) ([]Event, error) {
	query := `
		SELECT id, event_type, phone, counterparty, amount_minor,
			   idempotency_key, source, details, created_at
		FROM wallet_audit_events
		WHERE phone = $1
	`
	args := []any{filter.Phone}
	argIdx := 2

	if filter.EventType != "" {
		query += fmt.Sprintf(" AND event_type = $%d", argIdx)
		args = append(args, filter.EventType)
		argIdx++
	}
	if !filter.StartTime.IsZero() {
		query += fmt.Sprintf(" AND created_at >= $%d", argIdx)
		args = append(args, filter.StartTime)
		argIdx++
	}
	if !filter.EndTime.IsZero() {
		query += fmt.Sprintf(" AND created_at <= $%d", argIdx)
		args = append(args, filter.EndTime)
	}

	query += " ORDER BY created_at DESC"
	if filter.Limit > 0 {
		query += fmt.Sprintf(" LIMIT %d", filter.Limit)
	}
	if filter.Offset > 0 {
		query += fmt.Sprintf(" OFFSET %d", filter.Offset)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("audit: failed to query events: %w", err)
	}
	defer rows.Close()

	var events []Event
	for rows.Next() {
		var e Event
		var counterparty, key, source sql.NullString
		var details []byte
		if err := rows.Scan(&e.ID, &e.EventType, &e.Phone, &counterparty, &e.AmountMinor,
			&key, &source, &details, &e.CreatedAt); err != nil {
			return nil, fmt.Errorf("audit: failed to scan event: %w", err)
		}
		e.Counterparty = counterparty.String
		e.IdempotencyKey = key.String
		e.Source = source.String
		if len(details) > 0 {
			e.Details = json.RawMessage(details)
		}
		events = append(events, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("audit: failed to read events: %w", err)
	}
	return events, nil
}

func nullString(s string) sql.NullString {
	if s == "" {
		return sql.NullString{}
	}
	return sql.NullString{String: s, Valid: true}
}
