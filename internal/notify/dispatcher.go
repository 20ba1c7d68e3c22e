package notify

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/wolfman30/tatamali-wallet/internal/channels/whatsapp"
	"github.com/wolfman30/tatamali-wallet/internal/observability/metrics"
	"github.com/wolfman30/tatamali-wallet/pkg/logging"
)

// Dispatcher delivers messages through a Sender, retrying transient provider
// failures with exponential backoff.
type Dispatcher struct {
	sender      Sender
	logger      *logging.Logger
	metrics     *metrics.WalletMetrics
	symbol      string
	maxAttempts int
	baseDelay   time.Duration
	sleep       func(ctx context.Context, d time.Duration) error
}

// NewDispatcher wraps sender. Defaults: 3 attempts, 500ms base delay, "R".
func NewDispatcher(sender Sender, logger *logging.Logger) *Dispatcher {
	if sender == nil {
		panic("notify: sender required")
	}
	if logger == nil {
		logger = logging.Default()
	}
	return &Dispatcher{
		sender:      sender,
		logger:      logger,
		symbol:      "R",
		maxAttempts: 3,
		baseDelay:   500 * time.Millisecond,
		sleep:       sleepCtx,
	}
}

func (d *Dispatcher) WithMaxAttempts(n int) *Dispatcher {
	if n > 0 {
		d.maxAttempts = n
	}
	return d
}

func (d *Dispatcher) WithBaseDelay(delay time.Duration) *Dispatcher {
	if delay >= 0 {
		d.baseDelay = delay
	}
	return d
}

func (d *Dispatcher) WithCurrencySymbol(symbol string) *Dispatcher {
	if symbol != "" {
		d.symbol = symbol
	}
	return d
}

func (d *Dispatcher) WithMetrics(m *metrics.WalletMetrics) *Dispatcher {
	d.metrics = m
	return d
}

// CurrencySymbol is the symbol used when rendering amounts.
func (d *Dispatcher) CurrencySymbol() string {
	return d.symbol
}

// Send delivers msg to the E.164 number and returns the provider message id.
func (d *Dispatcher) Send(ctx context.Context, to string, msg Message) (string, error) {
	kind := msg.Kind
	if kind == "" {
		kind = "text"
	}
	var lastErr error
	for attempt := 1; attempt <= d.maxAttempts; attempt++ {
		id, err := d.sendOnce(ctx, to, msg)
		if err == nil {
			d.metrics.ObserveNotification(kind, "sent")
			return id, nil
		}
		lastErr = err
		if !whatsapp.IsRetryable(err) || attempt == d.maxAttempts {
			break
		}
		delay := d.baseDelay * time.Duration(1<<(attempt-1))
		d.logger.Warn("notify: send failed, retrying",
			"error", err, "to", logging.MaskPhone(to), "kind", kind, "attempt", attempt, "delay", delay)
		if err := d.sleep(ctx, delay); err != nil {
			lastErr = errors.Join(lastErr, err)
			break
		}
	}
	d.metrics.ObserveNotification(kind, "failed")
	return "", fmt.Errorf("notify: send %s: %w", kind, lastErr)
}

// Notify renders n and sends it.
func (d *Dispatcher) Notify(ctx context.Context, to string, n Notification) (string, error) {
	msg, err := Render(n, d.symbol)
	if err != nil {
		return "", err
	}
	return d.Send(ctx, to, msg)
}

func (d *Dispatcher) sendOnce(ctx context.Context, to string, msg Message) (string, error) {
	if len(msg.Buttons) == 0 {
		return d.sender.SendText(ctx, to, msg.Body)
	}
	return d.sender.SendButtons(ctx, to, msg.Body, msg.Buttons)
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
