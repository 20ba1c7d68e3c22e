// Package transfer executes wallet transfers against the ledger and tells
// both parties about the result.
package transfer

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"

	"github.com/wolfman30/tatamali-wallet/internal/channels/whatsapp"
	"github.com/wolfman30/tatamali-wallet/internal/ledger"
	"github.com/wolfman30/tatamali-wallet/internal/notify"
	"github.com/wolfman30/tatamali-wallet/internal/observability/metrics"
	"github.com/wolfman30/tatamali-wallet/internal/wallet"
	"github.com/wolfman30/tatamali-wallet/pkg/logging"
)

var tracer = otel.Tracer("wallet.internal.transfer")

var errOutcomePending = errors.New("transfer: ledger reported the outcome as pending")

// Ledger is the ledger surface the orchestrator needs.
type Ledger interface {
	Balance(ctx context.Context, phone string) (wallet.Amount, error)
	Transfer(ctx context.Context, cmd ledger.TransferCommand) (ledger.TransferOutcome, error)
	TransferStatus(ctx context.Context, idempotencyKey string) (ledger.TransferOutcome, error)
}

// Notifier delivers rendered messages; *notify.Dispatcher implements it.
type Notifier interface {
	Send(ctx context.Context, to string, msg notify.Message) (string, error)
	CurrencySymbol() string
}

// Alerter is told about transfers whose outcome could not be determined.
type Alerter interface {
	TransferAmbiguous(ctx context.Context, t notify.AmbiguousTransfer) error
}

// Auditor records every transfer outcome.
type Auditor interface {
	LogTransfer(ctx context.Context, cmd ledger.TransferCommand, outcome ledger.TransferOutcome, source string) error
}

// Limiter is an optional per-sender rate limit.
type Limiter interface {
	Allow(ctx context.Context, phone string) bool
}

// Config holds orchestrator limits.
type Config struct {
	MaxAmount     wallet.Amount
	CallTimeout   time.Duration
	StatusTimeout time.Duration
	// NotifyInterval paces bulk recipient notifications.
	NotifyInterval time.Duration
}

// Deps wires an Orchestrator. Journal, Alerter, Auditor, Limiter and Metrics
// are optional.
type Deps struct {
	Ledger   Ledger
	Notifier Notifier
	Journal  Journal
	Alerter  Alerter
	Auditor  Auditor
	Limiter  Limiter
	Metrics  *metrics.WalletMetrics
	Logger   *logging.Logger
}

// Orchestrator is shared by the chat flow and the transfer API.
type Orchestrator struct {
	ledger   Ledger
	notifier Notifier
	journal  Journal
	alerter  Alerter
	auditor  Auditor
	limiter  Limiter
	metrics  *metrics.WalletMetrics
	logger   *logging.Logger
	cfg      Config
	sleep    func(ctx context.Context, d time.Duration) error
}

func NewOrchestrator(deps Deps, cfg Config) *Orchestrator {
	if deps.Ledger == nil || deps.Notifier == nil {
		panic("transfer: ledger and notifier are required")
	}
	if deps.Logger == nil {
		deps.Logger = logging.Default()
	}
	if deps.Journal == nil {
		deps.Journal = NewMemoryJournal()
	}
	if cfg.MaxAmount <= 0 {
		cfg.MaxAmount = wallet.AmountFromMajor(10000)
	}
	if cfg.CallTimeout <= 0 {
		cfg.CallTimeout = 15 * time.Second
	}
	if cfg.StatusTimeout <= 0 {
		cfg.StatusTimeout = 5 * time.Second
	}
	if cfg.NotifyInterval < 0 {
		cfg.NotifyInterval = 0
	}
	return &Orchestrator{
		ledger:   deps.Ledger,
		notifier: deps.Notifier,
		journal:  deps.Journal,
		alerter:  deps.Alerter,
		auditor:  deps.Auditor,
		limiter:  deps.Limiter,
		metrics:  deps.Metrics,
		logger:   deps.Logger,
		cfg:      cfg,
		sleep:    sleepCtx,
	}
}

// MaxAmount is the largest transfer accepted.
func (o *Orchestrator) MaxAmount() wallet.Amount {
	return o.cfg.MaxAmount
}

// ExecuteOption tunes one Execute call.
type ExecuteOption func(*executeOptions)

type executeOptions struct {
	senderMenu bool
	source     string
}

// WithSenderMenu attaches the main-menu buttons to the sender's result
// message; the chat flow ends with it.
func WithSenderMenu() ExecuteOption {
	return func(o *executeOptions) {
		o.senderMenu = true
		o.source = "chat"
	}
}

// WithSource labels the audit record ("chat", "api").
func WithSource(source string) ExecuteOption {
	return func(o *executeOptions) {
		if source != "" {
			o.source = source
		}
	}
}

// Execute runs cmd at most once per idempotency key:
//  1. validate and replay settled journal entries,
//  2. re-check the sender balance and the velocity limit,
//  3. call the ledger with the command's key,
//  4. notify the sender (and the recipient on success).
//
// A write whose result is unknown is never retried with another key; it is
// re-queried once by the same key and otherwise reported as ambiguous.
func (o *Orchestrator) Execute(ctx context.Context, cmd ledger.TransferCommand, opts ...ExecuteOption) ledger.TransferOutcome {
	options := executeOptions{source: "api"}
	for _, opt := range opts {
		opt(&options)
	}
	ctx, span := tracer.Start(ctx, "transfer.execute")
	defer span.End()
	span.SetAttributes(attribute.String("transfer.source", options.source))

	log := o.logger.With("idempotency_key", cmd.IdempotencyKey,
		"from", logging.MaskPhone(cmd.FromPhone), "to", logging.MaskPhone(cmd.ToPhone), "amount_minor", int64(cmd.AmountMinor))
	start := time.Now()

	if err := cmd.Validate(o.cfg.MaxAmount); err != nil {
		outcome := ledger.Failed(ledger.FailureRejected, validationMessage(err, o.cfg.MaxAmount, o.notifier.CurrencySymbol()))
		log.Info("transfer: rejected", "error", err)
		o.finish(ctx, cmd, outcome, options, "rejected", start)
		if options.senderMenu && wallet.ValidPhone(cmd.FromPhone) {
			o.sendSenderFailure(ctx, cmd, outcome, options)
		}
		return outcome
	}

	if entry, err := o.journal.Get(ctx, cmd.IdempotencyKey); err == nil && entry.Status.Settled() {
		outcome := entry.Outcome
		outcome.Duplicate = true
		log.Info("transfer: replaying settled outcome", "status", entry.Status)
		o.metrics.ObserveTransfer("duplicate", string(outcome.Failure), 0)
		return outcome
	} else if err != nil && !errors.Is(err, ErrEntryNotFound) {
		log.Warn("transfer: journal lookup failed", "error", err)
	}
	if _, err := o.journal.Begin(ctx, cmd); err != nil {
		log.Warn("transfer: journal begin failed", "error", err)
	}

	symbol := o.notifier.CurrencySymbol()
	balance, err := o.readBalance(ctx, cmd.FromPhone)
	if err != nil {
		log.Warn("transfer: sender balance unavailable", "error", err)
		outcome := ledger.Failed(ledger.FailureUnavailable, "Unable to check balance. Please try again.")
		o.finish(ctx, cmd, outcome, options, "failure", start)
		o.sendSenderFailure(ctx, cmd, outcome, options)
		return outcome
	}
	if balance < cmd.AmountMinor {
		outcome := ledger.Failed(ledger.FailureInsufficientFunds, fmt.Sprintf("Insufficient funds. Available: %s, Required: %s",
			balance.Format(symbol), cmd.AmountMinor.Format(symbol)))
		o.settle(ctx, log, cmd.IdempotencyKey, StatusFailed, outcome)
		o.finish(ctx, cmd, outcome, options, "failure", start)
		o.sendSenderFailure(ctx, cmd, outcome, options)
		return outcome
	}

	if o.limiter != nil && !o.limiter.Allow(ctx, cmd.FromPhone) {
		outcome := ledger.Failed(ledger.FailureRejected, "Transfer limit reached. Please try again later.")
		o.finish(ctx, cmd, outcome, options, "rejected", start)
		o.sendSenderFailure(ctx, cmd, outcome, options)
		return outcome
	}

	callCtx, cancel := context.WithTimeout(ctx, o.cfg.CallTimeout)
	outcome, err := o.ledger.Transfer(callCtx, cmd)
	cancel()
	if err == nil && outcome.Ambiguous {
		err = &ledger.UnavailableError{Op: "transfer", Sent: true, Err: errOutcomePending}
	}

	switch {
	case err == nil && outcome.Success:
		o.settle(ctx, log, cmd.IdempotencyKey, StatusSucceeded, outcome)
		o.finish(ctx, cmd, outcome, options, "success", start)
		o.notifySuccess(ctx, cmd, outcome, options)
		return outcome

	case err == nil:
		if outcome.Failure == ledger.FailureNone {
			outcome.Failure = ledger.FailureUnknown
		}
		o.settle(ctx, log, cmd.IdempotencyKey, StatusFailed, outcome)
		o.finish(ctx, cmd, outcome, options, "failure", start)
		o.sendSenderFailure(ctx, cmd, outcome, options)
		return outcome

	case !ledger.IsAmbiguous(err):
		log.Warn("transfer: ledger unavailable, request not sent", "error", err)
		outcome = ledger.Failed(ledger.FailureUnavailable, "The wallet service is temporarily unavailable. Please try again.")
		o.finish(ctx, cmd, outcome, options, "failure", start)
		o.sendSenderFailure(ctx, cmd, outcome, options)
		return outcome
	}

	log.Warn("transfer: outcome unknown, querying status", "error", err)
	if resolved, ok := o.resolve(ctx, log, cmd.IdempotencyKey); ok {
		if resolved.Success {
			o.settle(ctx, log, cmd.IdempotencyKey, StatusSucceeded, resolved)
			o.finish(ctx, cmd, resolved, options, "success", start)
			o.notifySuccess(ctx, cmd, resolved, options)
			return resolved
		}
		if resolved.Failure == ledger.FailureNone {
			resolved.Failure = ledger.FailureUnknown
		}
		o.settle(ctx, log, cmd.IdempotencyKey, StatusFailed, resolved)
		o.finish(ctx, cmd, resolved, options, "failure", start)
		o.sendSenderFailure(ctx, cmd, resolved, options)
		return resolved
	}

	outcome = ledger.TransferOutcome{
		Ambiguous: true,
		Failure:   ledger.FailureUnavailable,
		Message:   "Transfer status unknown. Please check your balance before trying again.",
	}
	o.settle(ctx, log, cmd.IdempotencyKey, StatusAmbiguous, outcome)
	o.finish(ctx, cmd, outcome, options, "ambiguous", start)
	o.sendSender(ctx, cmd.FromPhone, ambiguousMessage(cmd, symbol), options)
	if o.alerter != nil {
		if err := o.alerter.TransferAmbiguous(ctx, notify.AmbiguousTransfer{
			IdempotencyKey: cmd.IdempotencyKey,
			FromPhone:      cmd.FromPhone,
			ToPhone:        cmd.ToPhone,
			Amount:         cmd.AmountMinor,
			Cause:          err.Error(),
			OccurredAt:     time.Now().UTC(),
		}); err != nil {
			log.Error("transfer: ops alert failed", "error", err)
		}
	}
	return outcome
}

func (o *Orchestrator) readBalance(ctx context.Context, phone string) (wallet.Amount, error) {
	readCtx, cancel := context.WithTimeout(ctx, o.cfg.CallTimeout)
	defer cancel()
	return o.ledger.Balance(readCtx, phone)
}

// resolve re-queries the ledger by key. ok is false while the result is unknown.
func (o *Orchestrator) resolve(ctx context.Context, log *logging.Logger, key string) (ledger.TransferOutcome, bool) {
	statusCtx, cancel := context.WithTimeout(ctx, o.cfg.StatusTimeout)
	defer cancel()
	outcome, err := o.ledger.TransferStatus(statusCtx, key)
	if err != nil {
		log.Warn("transfer: status query did not resolve", "error", err)
		return ledger.TransferOutcome{}, false
	}
	if outcome.Ambiguous {
		log.Warn("transfer: ledger still reports the transfer as pending", "message", outcome.Message)
		return ledger.TransferOutcome{}, false
	}
	return outcome, true
}

func (o *Orchestrator) settle(ctx context.Context, log *logging.Logger, key string, status Status, outcome ledger.TransferOutcome) {
	if err := o.journal.Settle(ctx, key, status, outcome); err != nil {
		log.Warn("transfer: journal settle failed", "error", err, "status", status)
	}
}

func (o *Orchestrator) finish(ctx context.Context, cmd ledger.TransferCommand, outcome ledger.TransferOutcome, options executeOptions, label string, start time.Time) {
	o.metrics.ObserveTransfer(label, string(outcome.Failure), time.Since(start).Seconds())
	if o.auditor == nil {
		return
	}
	if err := o.auditor.LogTransfer(ctx, cmd, outcome, options.source); err != nil {
		o.logger.Warn("transfer: audit failed", "error", err, "idempotency_key", cmd.IdempotencyKey)
	}
}

func (o *Orchestrator) notifySuccess(ctx context.Context, cmd ledger.TransferCommand, outcome ledger.TransferOutcome, options executeOptions) {
	o.notifyParties(ctx, PartiesNotice{
		FromPhone:     cmd.FromPhone,
		ToPhone:       cmd.ToPhone,
		Amount:        cmd.AmountMinor,
		TransactionID: outcome.TransactionID,
	}, options.senderMenu)
}

func (o *Orchestrator) sendSenderFailure(ctx context.Context, cmd ledger.TransferCommand, outcome ledger.TransferOutcome, options executeOptions) {
	body := "❌ Transfer failed. Please try again."
	if outcome.Message != "" {
		body = "❌ Transfer failed: " + outcome.Message
	}
	o.sendSender(ctx, cmd.FromPhone, notify.Text(body), options)
}

func (o *Orchestrator) sendSender(ctx context.Context, phone string, msg notify.Message, options executeOptions) {
	if options.senderMenu {
		msg = attachMenu(msg)
	}
	if _, err := o.notifier.Send(ctx, phone, msg); err != nil {
		o.logger.Error("transfer: sender notification failed", "error", err, "phone", logging.MaskPhone(phone))
	}
}

func ambiguousMessage(cmd ledger.TransferCommand, symbol string) notify.Message {
	return notify.Text(fmt.Sprintf("⏳ We could not confirm your transfer of %s to %s.\n\n"+
		"Please check your balance before trying again.", cmd.AmountMinor.Format(symbol), cmd.ToPhone))
}

func validationMessage(err error, max wallet.Amount, symbol string) string {
	switch {
	case errors.Is(err, wallet.ErrSelfTransfer):
		return "You cannot send money to your own number."
	case errors.Is(err, wallet.ErrAmountNotPositive):
		return "Amount must be greater than 0."
	}
	return fmt.Sprintf("Invalid transfer request. Amounts must be between %s and %s.",
		wallet.Amount(1).Format(symbol), max.Format(symbol))
}

// attachMenu adds the main-menu buttons unless msg already has buttons or
// is too long for an interactive body.
func attachMenu(msg notify.Message) notify.Message {
	if len(msg.Buttons) > 0 || len([]rune(msg.Body)) > whatsapp.MaxInteractiveBodyLength {
		return msg
	}
	msg.Buttons = notify.MainMenu().Buttons
	return msg
}

// PartiesNotice describes a completed transfer to announce.
type PartiesNotice struct {
	FromPhone     string        `json:"senderPhone"`
	ToPhone       string        `json:"recipientPhone"`
	Amount        wallet.Amount `json:"amountMinor"`
	TransactionID string        `json:"transactionId,omitempty"`
}

// NotifyResult reports per-party delivery errors; nil means delivered.
type NotifyResult struct {
	SenderErr    error
	RecipientErr error
}

// NotifyParties tells both sides of a completed transfer, concurrently,
// including each party's fresh balance when it can be read.
func (o *Orchestrator) NotifyParties(ctx context.Context, n PartiesNotice) NotifyResult {
	return o.notifyParties(ctx, n, false)
}

func (o *Orchestrator) notifyParties(ctx context.Context, n PartiesNotice, senderMenu bool) NotifyResult {
	ctx, span := tracer.Start(ctx, "transfer.notify_parties")
	defer span.End()

	var senderBal, recipientBal *wallet.Amount
	var wg sync.WaitGroup
	wg.Add(2)
	go func() {
		defer wg.Done()
		senderBal = o.optionalBalance(ctx, n.FromPhone)
	}()
	go func() {
		defer wg.Done()
		recipientBal = o.optionalBalance(ctx, n.ToPhone)
	}()
	wg.Wait()

	symbol := o.notifier.CurrencySymbol()
	var res NotifyResult
	wg.Add(2)
	go func() {
		defer wg.Done()
		msg, err := notify.Render(notify.TransactionSent{Amount: n.Amount, To: n.ToPhone, NewBalance: senderBal}, symbol)
		if err == nil {
			if senderMenu {
				msg = attachMenu(msg)
			}
			_, err = o.notifier.Send(ctx, n.FromPhone, msg)
		}
		res.SenderErr = err
	}()
	go func() {
		defer wg.Done()
		msg, err := notify.Render(notify.TransactionReceived{Amount: n.Amount, From: n.FromPhone, NewBalance: recipientBal}, symbol)
		if err == nil {
			_, err = o.notifier.Send(ctx, n.ToPhone, msg)
		}
		res.RecipientErr = err
	}()
	wg.Wait()

	if res.SenderErr != nil {
		o.logger.Error("transfer: sender notification failed", "error", res.SenderErr,
			"phone", logging.MaskPhone(n.FromPhone), "transaction_id", n.TransactionID)
	}
	if res.RecipientErr != nil {
		o.logger.Error("transfer: recipient notification failed", "error", res.RecipientErr,
			"phone", logging.MaskPhone(n.ToPhone), "transaction_id", n.TransactionID)
	}
	return res
}

func (o *Orchestrator) optionalBalance(ctx context.Context, phone string) *wallet.Amount {
	b, err := o.readBalance(ctx, phone)
	if err != nil {
		o.logger.Warn("transfer: balance for notification unavailable", "error", err, "phone", logging.MaskPhone(phone))
		return nil
	}
	return &b
}

// RecipientNotice is one entry of a bulk notification.
type RecipientNotice struct {
	ToPhone       string        `json:"recipientPhone"`
	Amount        wallet.Amount `json:"amountMinor"`
	TransactionID string        `json:"transactionId,omitempty"`
}

// NotifyRecipients tells each recipient about a transfer from fromPhone,
// one at a time with NotifyInterval between sends. It returns how many were
// delivered.
func (o *Orchestrator) NotifyRecipients(ctx context.Context, fromPhone string, items []RecipientNotice) int {
	symbol := o.notifier.CurrencySymbol()
	delivered := 0
	for i, item := range items {
		if i > 0 && o.cfg.NotifyInterval > 0 {
			if err := o.sleep(ctx, o.cfg.NotifyInterval); err != nil {
				o.logger.Warn("transfer: bulk notification interrupted", "error", err, "remaining", len(items)-i)
				break
			}
		}
		msg, err := notify.Render(notify.TransactionReceived{
			Amount:     item.Amount,
			From:       fromPhone,
			NewBalance: o.optionalBalance(ctx, item.ToPhone),
		}, symbol)
		if err == nil {
			_, err = o.notifier.Send(ctx, item.ToPhone, msg)
		}
		if err != nil {
			o.logger.Error("transfer: recipient notification failed", "error", err,
				"phone", logging.MaskPhone(item.ToPhone), "transaction_id", item.TransactionID)
			continue
		}
		delivered++
	}
	return delivered
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
