package notify

import (
	"context"
	"fmt"
	"html"
	"time"

	"github.com/wolfman30/tatamali-wallet/internal/wallet"
	"github.com/wolfman30/tatamali-wallet/pkg/logging"
)

// AmbiguousTransfer describes a transfer whose ledger outcome is unknown.
type AmbiguousTransfer struct {
	IdempotencyKey string
	FromPhone      string
	ToPhone        string
	Amount         wallet.Amount
	Cause          string
	OccurredAt     time.Time
}

// AlertService emails the operations mailbox about transfers that need
// manual reconciliation.
type AlertService struct {
	email     EmailSender
	recipient string
	symbol    string
	logger    *logging.Logger
}

// NewAlertService creates an alert service. A nil sender or empty recipient
// turns alerts into log lines.
func NewAlertService(email EmailSender, recipient, currencySymbol string, logger *logging.Logger) *AlertService {
	if logger == nil {
		logger = logging.Default()
	}
	if currencySymbol == "" {
		currencySymbol = "R"
	}
	return &AlertService{
		email:     email,
		recipient: recipient,
		symbol:    currencySymbol,
		logger:    logger,
	}
}

// TransferAmbiguous sends one alert for an unresolved transfer.
func (s *AlertService) TransferAmbiguous(ctx context.Context, t AmbiguousTransfer) error {
	if s == nil {
		return nil
	}
	if t.OccurredAt.IsZero() {
		t.OccurredAt = time.Now().UTC()
	}
	amount := t.Amount.Format(s.symbol)

	if s.email == nil || s.recipient == "" {
		s.logger.Warn("notify: ambiguous transfer (alert email not configured)",
			"idempotency_key", t.IdempotencyKey, "from", logging.MaskPhone(t.FromPhone),
			"to", logging.MaskPhone(t.ToPhone), "amount", amount, "cause", t.Cause)
		return nil
	}

	subject := fmt.Sprintf("Transfer needs reconciliation - %s", t.IdempotencyKey)
	body := fmt.Sprintf(`A WhatsApp transfer could not be confirmed by the ledger.

Idempotency key: %s
From: %s
To: %s
Amount: %s
Cause: %s
At: %s

Check the ledger for this key before contacting the customer.`,
		t.IdempotencyKey, t.FromPhone, t.ToPhone, amount, t.Cause, t.OccurredAt.Format(time.RFC3339))

	htmlBody := fmt.Sprintf(`<div style="font-family: sans-serif; max-width: 600px;">
<h2 style="color: #d97706;">Transfer needs reconciliation</h2>
<table style="border-collapse: collapse; margin: 20px 0;">
<tr><td style="padding: 4px 12px 4px 0;"><strong>Idempotency key</strong></td><td>%s</td></tr>
<tr><td style="padding: 4px 12px 4px 0;"><strong>From</strong></td><td>%s</td></tr>
<tr><td style="padding: 4px 12px 4px 0;"><strong>To</strong></td><td>%s</td></tr>
<tr><td style="padding: 4px 12px 4px 0;"><strong>Amount</strong></td><td>%s</td></tr>
<tr><td style="padding: 4px 12px 4px 0;"><strong>Cause</strong></td><td>%s</td></tr>
</table>
<p>Check the ledger for this key before contacting the customer.</p>
</div>`,
		html.EscapeString(t.IdempotencyKey), html.EscapeString(t.FromPhone), html.EscapeString(t.ToPhone),
		html.EscapeString(amount), html.EscapeString(t.Cause))

	if err := s.email.Send(ctx, EmailMessage{
		To:        s.recipient,
		ToName:    "Operations",
		Subject:   subject,
		Text:      body,
		HTML:      htmlBody,
		Category:  categoryTransferAlert,
		Reference: t.IdempotencyKey,
	}); err != nil {
		s.logger.Error("notify: ambiguous transfer alert failed", "error", err, "idempotency_key", t.IdempotencyKey)
		return fmt.Errorf("notify: send alert: %w", err)
	}
	return nil
}
