package conversation

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/wolfman30/tatamali-wallet/internal/ledger"
	"github.com/wolfman30/tatamali-wallet/internal/notify"
	"github.com/wolfman30/tatamali-wallet/internal/wallet"
	"github.com/wolfman30/tatamali-wallet/pkg/logging"
)

// Action is the closed set of effects a Decision asks the pipeline to run
// after the session has been committed.
type Action interface {
	isAction()
}

// Reply sends Message to the user.
type Reply struct {
	Message notify.Message
}

// Transfer hands Command to the transfer orchestrator.
type Transfer struct {
	Command ledger.TransferCommand
}

// Redeem claims the coupon Token for the user.
type Redeem struct {
	Token string
}

func (Reply) isAction()    {}
func (Transfer) isAction() {}
func (Redeem) isAction()   {}

// Decision is the engine's output: the session to commit and what to do next.
type Decision struct {
	Next    Session
	Actions []Action
}

func reply(next Session, msg notify.Message) Decision {
	return Decision{Next: next, Actions: []Action{Reply{Message: msg}}}
}

// BalanceReader fetches live balances.
type BalanceReader interface {
	Balance(ctx context.Context, phone string) (wallet.Amount, error)
}

// EngineConfig holds the dialogue settings.
type EngineConfig struct {
	MaxAmount      wallet.Amount
	CurrencySymbol string
	RegisterURL    string
	CallbackURL    string
	DownloadURL    string
}

// Engine is the dialogue state machine. Decide only performs reads; every
// write it wants is returned as an Action.
type Engine struct {
	balances BalanceReader
	cfg      EngineConfig
	logger   *logging.Logger
}

func NewEngine(balances BalanceReader, cfg EngineConfig, logger *logging.Logger) *Engine {
	if balances == nil {
		panic("conversation: balance reader required")
	}
	if logger == nil {
		logger = logging.Default()
	}
	if cfg.CurrencySymbol == "" {
		cfg.CurrencySymbol = "R"
	}
	if cfg.MaxAmount <= 0 {
		cfg.MaxAmount = wallet.AmountFromMajor(10000)
	}
	return &Engine{balances: balances, cfg: cfg, logger: logger}
}

// Config returns the engine settings.
func (e *Engine) Config() EngineConfig {
	return e.cfg
}

// Decide computes the transition for intent in sess. eventID becomes the
// idempotency key of any transfer it starts.
func (e *Engine) Decide(ctx context.Context, sess Session, intent Intent, eventID string) (Decision, error) {
	switch in := intent.(type) {
	case CheckBalance:
		return e.checkBalance(ctx, sess), nil
	case StartTransfer:
		return reply(sess.Await(StepAwaitRecipient, ""), notify.Text(msgSendMoneyPrompt)), nil
	case SetRecipient:
		if sess.Step != StepAwaitRecipient {
			return e.unrecognized(sess, in.Phone), nil
		}
		return e.setRecipient(sess, in.Phone), nil
	case SetAmount:
		if sess.Step != StepAwaitAmount {
			return e.unrecognized(sess, in.Raw), nil
		}
		return e.setAmount(ctx, sess, in.Raw, eventID), nil
	case CancelFlow:
		return reply(sess.Reset(), withMenu(msgFlowCancelled)), nil
	case ClaimCoupon:
		return Decision{Next: sess, Actions: []Action{Redeem{Token: in.Token}}}, nil
	case Unrecognized:
		return e.unrecognized(sess, in.Text), nil
	case Unregistered:
		return reply(sess, unregisteredPrompt(in.Name)), nil
	case Register:
		link := registrationLink(e.cfg.RegisterURL, e.cfg.CallbackURL, sess.Phone)
		return reply(sess, notify.Text(fmt.Sprintf(msgRegistrationFmt, link))), nil
	case DownloadApp:
		return reply(sess, notify.Text(e.cfg.DownloadURL)), nil
	default:
		return Decision{}, wallet.ErrUnknownIntent
	}
}

func (e *Engine) checkBalance(ctx context.Context, sess Session) Decision {
	balance, err := e.balances.Balance(ctx, sess.Phone)
	if err != nil {
		e.logger.Warn("conversation: balance read failed", "error", err, "phone", logging.MaskPhone(sess.Phone))
		return reply(sess, notify.Text(msgCheckBalanceFailed))
	}
	return reply(sess, balanceReply(balance, e.cfg.CurrencySymbol))
}

func (e *Engine) setRecipient(sess Session, raw string) Decision {
	phone := strings.TrimSpace(raw)
	switch {
	case phone == "":
		return reply(sess, notify.Text(msgRecipientEmpty))
	case !wallet.ValidPhone(phone):
		return reply(sess, notify.Text(msgRecipientInvalid))
	case phone == sess.Phone:
		return reply(sess, notify.Text(msgRecipientSelf))
	}
	return reply(sess.Await(StepAwaitAmount, phone), recipientAccepted(phone))
}

func (e *Engine) setAmount(ctx context.Context, sess Session, raw, eventID string) Decision {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return reply(sess, notify.Text(msgAmountEmpty))
	}
	amount, err := wallet.ParseAmount(raw)
	if err != nil {
		if errors.Is(err, wallet.ErrAmountNotPositive) {
			return reply(sess, notify.Text(msgAmountNotPositive))
		}
		return reply(sess, notify.Text(msgAmountInvalid))
	}
	if amount > e.cfg.MaxAmount {
		return reply(sess, maximumExceeded(e.cfg.MaxAmount, e.cfg.CurrencySymbol))
	}

	balance, err := e.balances.Balance(ctx, sess.Phone)
	if err != nil {
		e.logger.Warn("conversation: balance read failed", "error", err, "phone", logging.MaskPhone(sess.Phone))
		return reply(sess, notify.Text(msgBalanceUnavailable))
	}
	if balance < amount {
		return reply(sess.Reset(), insufficientFunds(balance, amount, e.cfg.CurrencySymbol))
	}

	cmd := ledger.TransferCommand{
		FromPhone:      sess.Phone,
		ToPhone:        sess.PendingRecipient,
		AmountMinor:    amount,
		IdempotencyKey: eventID,
	}
	return Decision{Next: sess.Reset(), Actions: []Action{Transfer{Command: cmd}}}
}

func (e *Engine) unrecognized(sess Session, text string) Decision {
	switch sess.Step {
	case StepAwaitRecipient:
		return reply(sess, notify.Text(msgGuideRecipient))
	case StepAwaitAmount:
		return reply(sess, notify.Text(msgGuideAmount))
	}
	lower := strings.ToLower(text)
	switch {
	case strings.Contains(lower, "help"):
		return reply(sess.Reset(), withMenu(msgHelp))
	case strings.Contains(lower, "cancel"):
		return reply(sess.Reset(), withMenu(msgCancelled))
	default:
		return reply(sess.Reset(), withMenu(msgNotUnderstood))
	}
}
