package conversation

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/wolfman30/tatamali-wallet/internal/channels/whatsapp"
	"github.com/wolfman30/tatamali-wallet/internal/ledger"
	"github.com/wolfman30/tatamali-wallet/internal/notify"
	"github.com/wolfman30/tatamali-wallet/internal/observability/metrics"
	"github.com/wolfman30/tatamali-wallet/internal/transfer"
	"github.com/wolfman30/tatamali-wallet/internal/wallet"
	"github.com/wolfman30/tatamali-wallet/pkg/logging"
)

// ErrSessionContention is returned when every compare-and-swap attempt for
// an event lost to a concurrent writer.
var ErrSessionContention = errors.New("conversation: session update contention")

const defaultCASAttempts = 5

// Messenger delivers one outbound message.
type Messenger interface {
	Send(ctx context.Context, to string, msg notify.Message) (string, error)
}

// TransferExecutor runs a transfer and notifies both parties.
type TransferExecutor interface {
	Execute(ctx context.Context, cmd ledger.TransferCommand, opts ...transfer.ExecuteOption) ledger.TransferOutcome
}

// CouponService is the ledger surface used to redeem coupons.
type CouponService interface {
	GetOrCreateWallet(ctx context.Context, phone string) (*ledger.Wallet, error)
	RedeemCoupon(ctx context.Context, phone, token string) (ledger.CouponResult, error)
	Balance(ctx context.Context, phone string) (wallet.Amount, error)
}

// CouponAuditor records redemption attempts.
type CouponAuditor interface {
	LogCouponRedemption(ctx context.Context, phone, token string, credited wallet.Amount, success bool) error
}

// PipelineDeps wires a Pipeline. Audit and Metrics are optional.
type PipelineDeps struct {
	Store      Store
	Classifier *Classifier
	Engine     *Engine
	Transfers  TransferExecutor
	Coupons    CouponService
	Messenger  Messenger
	Audit      CouponAuditor
	Metrics    *metrics.WalletMetrics
	Logger     *logging.Logger
}

// Pipeline processes inbound events one phone at a time: load the session,
// classify, decide, commit by compare-and-swap, then run the actions.
type Pipeline struct {
	store       Store
	classifier  *Classifier
	engine      *Engine
	transfers   TransferExecutor
	coupons     CouponService
	messenger   Messenger
	audit       CouponAuditor
	metrics     *metrics.WalletMetrics
	logger      *logging.Logger
	locks       *keyedMutex
	casAttempts int
}

func NewPipeline(deps PipelineDeps) *Pipeline {
	if deps.Store == nil || deps.Classifier == nil || deps.Engine == nil {
		panic("conversation: store, classifier and engine are required")
	}
	if deps.Transfers == nil || deps.Coupons == nil || deps.Messenger == nil {
		panic("conversation: transfers, coupons and messenger are required")
	}
	if deps.Logger == nil {
		deps.Logger = logging.Default()
	}
	return &Pipeline{
		store:       deps.Store,
		classifier:  deps.Classifier,
		engine:      deps.Engine,
		transfers:   deps.Transfers,
		coupons:     deps.Coupons,
		messenger:   deps.Messenger,
		audit:       deps.Audit,
		metrics:     deps.Metrics,
		logger:      deps.Logger,
		locks:       newKeyedMutex(),
		casAttempts: defaultCASAttempts,
	}
}

// Process handles one inbound event. Status updates are dropped and events
// already recorded on the session are skipped. A returned error means the
// session was not committed and no action ran, so the event may be retried.
func (p *Pipeline) Process(ctx context.Context, ev whatsapp.InboundEvent) error {
	if ev.Kind == whatsapp.KindStatusUpdate {
		return nil
	}
	if ev.EventID == "" || !wallet.ValidPhone(ev.From) {
		return fmt.Errorf("%w: event id and sender are required", wallet.ErrValidation)
	}
	start := time.Now()
	log := p.logger.With("event_id", ev.EventID, "phone", logging.MaskPhone(ev.From))

	unlock, err := p.locks.Lock(ctx, ev.From)
	if err != nil {
		return fmt.Errorf("conversation: lock session: %w", err)
	}
	defer unlock()

	for attempt := 1; attempt <= p.casAttempts; attempt++ {
		sess, err := p.store.GetOrCreate(ctx, ev.From)
		if err != nil {
			return err
		}
		if sess.LastEventID == ev.EventID {
			log.Info("conversation: event already applied to session")
			return nil
		}

		intent, decision := p.plan(ctx, log, sess, ev)
		next := decision.Next
		next.LastEventID = ev.EventID

		ok, err := p.store.CompareAndSwap(ctx, ev.From, sess, next)
		if err != nil {
			return err
		}
		if !ok {
			p.metrics.ObserveCASConflict()
			log.Debug("conversation: session changed underneath, retrying", "attempt", attempt)
			continue
		}

		name := IntentName(intent)
		p.metrics.ObserveIntent(name)
		log.Info("conversation: event processed", "intent", name, "from_step", sess.Step, "to_step", next.Step)

		p.execute(context.WithoutCancel(ctx), log, ev.From, decision.Actions)
		p.metrics.ObservePipeline(name, time.Since(start).Seconds())
		return nil
	}
	return ErrSessionContention
}

func (p *Pipeline) plan(ctx context.Context, log *logging.Logger, sess Session, ev whatsapp.InboundEvent) (Intent, Decision) {
	intent, err := p.classifier.Classify(ctx, sess, ev)
	if err != nil {
		log.Warn("conversation: classification failed", "error", err)
		return nil, reply(sess, notify.Text(msgTemporaryIssue))
	}
	decision, err := p.engine.Decide(ctx, sess, intent, ev.EventID)
	if err != nil {
		log.Error("conversation: no transition for intent", "error", err, "intent", IntentName(intent))
		return intent, reply(sess.Reset(), withMenu(msgNotUnderstood))
	}
	return intent, decision
}

func (p *Pipeline) execute(ctx context.Context, log *logging.Logger, phone string, actions []Action) {
	for _, action := range actions {
		switch a := action.(type) {
		case Reply:
			p.send(ctx, log, phone, a.Message)
		case Transfer:
			outcome := p.transfers.Execute(ctx, a.Command, transfer.WithSenderMenu())
			log.Info("conversation: transfer finished",
				"success", outcome.Success, "ambiguous", outcome.Ambiguous, "duplicate", outcome.Duplicate,
				"failure", outcome.Failure, "transaction_id", outcome.TransactionID)
		case Redeem:
			p.send(ctx, log, phone, p.redeem(ctx, log, phone, a.Token))
		}
	}
}

func (p *Pipeline) send(ctx context.Context, log *logging.Logger, phone string, msg notify.Message) {
	if _, err := p.messenger.Send(ctx, phone, msg); err != nil {
		log.Error("conversation: reply not delivered", "error", err, "kind", msg.Kind)
	}
}

func (p *Pipeline) redeem(ctx context.Context, log *logging.Logger, phone, token string) notify.Message {
	if _, err := p.coupons.GetOrCreateWallet(ctx, phone); err != nil {
		log.Warn("conversation: wallet unavailable for coupon", "error", err)
		return notify.Text(msgRedeemFailed)
	}
	res, err := p.coupons.RedeemCoupon(ctx, phone, token)
	success := err == nil && res.Success
	if p.audit != nil {
		if aerr := p.audit.LogCouponRedemption(ctx, phone, token, res.Credited, success); aerr != nil {
			log.Warn("conversation: coupon audit failed", "error", aerr)
		}
	}
	if !success {
		log.Info("conversation: coupon not redeemed", "error", err, "reason", res.Message)
		return notify.Text(msgRedeemFailed)
	}

	symbol := p.engine.Config().CurrencySymbol
	var balance *wallet.Amount
	if b, err := p.coupons.Balance(ctx, phone); err == nil {
		balance = &b
	} else {
		log.Warn("conversation: balance after coupon unavailable", "error", err)
	}
	return couponClaimed(res.Credited, balance, symbol)
}
