package conversation

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"strings"

	"github.com/wolfman30/tatamali-wallet/internal/channels/whatsapp"
	"github.com/wolfman30/tatamali-wallet/internal/ledger"
	"github.com/wolfman30/tatamali-wallet/internal/notify"
	"github.com/wolfman30/tatamali-wallet/internal/wallet"
)

var claimPattern = regexp.MustCompile(`(?i)^claim\s+tx=(.+)$`)

// WalletLookup answers whether a phone number has a ledger wallet.
type WalletLookup interface {
	LookupWallet(ctx context.Context, phone string) (*ledger.Wallet, error)
}

// Classifier maps an inbound event plus the current step to one Intent.
type Classifier struct {
	wallets WalletLookup
}

func NewClassifier(wallets WalletLookup) *Classifier {
	if wallets == nil {
		panic("conversation: wallet lookup required")
	}
	return &Classifier{wallets: wallets}
}

// Classify applies, in order: coupon claims, the registration gate, menu
// buttons (a "cancel" typed mid-flow wins over them), then the current step.
// A failed registration lookup is returned as ErrUpstreamUnavailable.
func (c *Classifier) Classify(ctx context.Context, sess Session, ev whatsapp.InboundEvent) (Intent, error) {
	text := strings.TrimSpace(ev.Text)
	if m := claimPattern.FindStringSubmatch(text); m != nil {
		return ClaimCoupon{Token: strings.TrimSpace(m[1])}, nil
	}

	registered, err := c.registered(ctx, ev.From)
	if err != nil {
		return nil, err
	}
	if !registered {
		if ev.ButtonID == notify.ButtonRegisterAccount {
			return Register{}, nil
		}
		return Unregistered{Name: strings.TrimSpace(ev.ProfileName)}, nil
	}

	midFlow := sess.Step == StepAwaitRecipient || sess.Step == StepAwaitAmount
	if midFlow && strings.Contains(strings.ToLower(text), "cancel") {
		return CancelFlow{}, nil
	}
	if ev.Kind == whatsapp.KindUnsupported {
		return Unrecognized{}, nil
	}

	switch ev.ButtonID {
	case notify.ButtonCheckBalance:
		return CheckBalance{}, nil
	case notify.ButtonSendMoney, notify.ButtonTryTransfer:
		return StartTransfer{}, nil
	case notify.ButtonDownloadApp, notify.ButtonLearnMore, notify.ButtonAddFunds:
		return DownloadApp{}, nil
	case notify.ButtonRegisterAccount:
		return Register{}, nil
	}

	switch sess.Step {
	case StepAwaitRecipient:
		return SetRecipient{Phone: text}, nil
	case StepAwaitAmount:
		return SetAmount{Raw: text}, nil
	default:
		return Unrecognized{Text: text}, nil
	}
}

func (c *Classifier) registered(ctx context.Context, phone string) (bool, error) {
	_, err := c.wallets.LookupWallet(ctx, phone)
	switch {
	case err == nil:
		return true, nil
	case errors.Is(err, ledger.ErrWalletNotFound):
		return false, nil
	case errors.Is(err, wallet.ErrUpstreamUnavailable):
		return false, fmt.Errorf("conversation: registration lookup: %w", err)
	default:
		return false, fmt.Errorf("conversation: registration lookup: %w: %w", wallet.ErrUpstreamUnavailable, err)
	}
}
