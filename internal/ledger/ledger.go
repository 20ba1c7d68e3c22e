// Package ledger is the typed boundary to the external Ledger Service, the
// system of record for wallets, balances, transfers and coupons.
package ledger

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/wolfman30/tatamali-wallet/internal/wallet"
)

var (
	// ErrWalletNotFound means no user/wallet exists for the phone number.
	ErrWalletNotFound = errors.New("ledger: wallet not found")
	// ErrTransferNotFound is returned by TransferStatus for unknown keys.
	ErrTransferNotFound = errors.New("ledger: transfer not found")
	// ErrStatusUnsupported means the ledger cannot be queried by idempotency key.
	ErrStatusUnsupported = errors.New("ledger: transfer status lookup unsupported")
)

// FailureReason is the user-facing failure taxonomy for transfers.
type FailureReason string

const (
	FailureNone              FailureReason = ""
	FailureInsufficientFunds FailureReason = "insufficient_funds"
	FailureNotFound          FailureReason = "user_or_wallet_not_found"
	FailureUnavailable       FailureReason = "ledger_unavailable"
	FailureUnknown           FailureReason = "unknown"
	// FailureRejected is a refusal before the ledger was called (validation, limits).
	FailureRejected FailureReason = "rejected"
)

// Wallet is a ledger user together with its spendable balance.
type Wallet struct {
	UserID            string
	Phone             string
	Email             string
	PaymentIdentifier string
	Balance           wallet.Amount
}

// TransferCommand moves AmountMinor from FromPhone to ToPhone. The ledger
// applies a given IdempotencyKey at most once.
type TransferCommand struct {
	FromPhone      string        `json:"fromPhone"`
	ToPhone        string        `json:"toPhone"`
	AmountMinor    wallet.Amount `json:"amountMinor"`
	IdempotencyKey string        `json:"idempotencyKey"`
	Note           string        `json:"note,omitempty"`
}

// Validate checks the command shape against the given maximum (0 = unbounded).
func (c TransferCommand) Validate(max wallet.Amount) error {
	if !wallet.ValidPhone(c.FromPhone) {
		return fmt.Errorf("%w: invalid sender phone", wallet.ErrValidation)
	}
	if !wallet.ValidPhone(c.ToPhone) {
		return fmt.Errorf("%w: invalid recipient phone", wallet.ErrValidation)
	}
	if c.FromPhone == c.ToPhone {
		return fmt.Errorf("%w: %w", wallet.ErrValidation, wallet.ErrSelfTransfer)
	}
	if c.AmountMinor <= 0 {
		return fmt.Errorf("%w: %w", wallet.ErrValidation, wallet.ErrAmountNotPositive)
	}
	if max > 0 && c.AmountMinor > max {
		return fmt.Errorf("%w: amount exceeds maximum", wallet.ErrValidation)
	}
	if strings.TrimSpace(c.IdempotencyKey) == "" {
		return fmt.Errorf("%w: idempotency key required", wallet.ErrValidation)
	}
	return nil
}

// TransferOutcome is the result of a transfer attempt. Ambiguous is set when
// the write may or may not have been applied; Duplicate when the key had
// already been applied and the original result is being returned.
type TransferOutcome struct {
	Success       bool          `json:"success"`
	Message       string        `json:"message"`
	TransactionID string        `json:"transactionId,omitempty"`
	Failure       FailureReason `json:"failure,omitempty"`
	Ambiguous     bool          `json:"ambiguous,omitempty"`
	Duplicate     bool          `json:"duplicate,omitempty"`
}

// Failed builds a definite failure outcome.
func Failed(reason FailureReason, message string) TransferOutcome {
	return TransferOutcome{Success: false, Failure: reason, Message: message}
}

// CouponResult is the outcome of a coupon redemption.
type CouponResult struct {
	Success  bool
	Message  string
	Credited wallet.Amount
}

// Transaction is one entry of a wallet's history.
type Transaction struct {
	ID          string        `json:"id"`
	Type        string        `json:"type"`
	Amount      wallet.Amount `json:"amountMinor"`
	Status      string        `json:"status,omitempty"`
	Description string        `json:"description,omitempty"`
	CreatedAt   time.Time     `json:"createdAt"`
}

// Client is the contract the core relies on. Read methods may be retried;
// Transfer must not be retried with a different idempotency key.
type Client interface {
	LookupWallet(ctx context.Context, phone string) (*Wallet, error)
	GetOrCreateWallet(ctx context.Context, phone string) (*Wallet, error)
	Balance(ctx context.Context, phone string) (wallet.Amount, error)
	Transfer(ctx context.Context, cmd TransferCommand) (TransferOutcome, error)
	TransferStatus(ctx context.Context, idempotencyKey string) (TransferOutcome, error)
	RedeemCoupon(ctx context.Context, phone, token string) (CouponResult, error)
	Transactions(ctx context.Context, phone string) ([]Transaction, error)
}

// MapTransactionType folds ledger transaction kinds into the history categories.
func MapTransactionType(external string) string {
	switch strings.ToLower(strings.TrimSpace(external)) {
	case "transfer", "send", "payment", "sent":
		return "TRANSFER"
	case "receive", "received", "credit":
		return "RECEIVE"
	case "coupon", "reward", "bonus", "claim":
		return "COUPON"
	case "deposit", "mint":
		return "DEPOSIT"
	default:
		return "OTHER"
	}
}

// UnavailableError marks a ledger call that timed out or hit a 5xx. Sent is
// true when the request may have reached the ledger.
type UnavailableError struct {
	Op   string
	Sent bool
	Err  error
}

func (e *UnavailableError) Error() string {
	return fmt.Sprintf("ledger: %s unavailable: %v", e.Op, e.Err)
}

func (e *UnavailableError) Unwrap() []error {
	return []error{wallet.ErrUpstreamUnavailable, e.Err}
}

// IsAmbiguous reports whether a Transfer error leaves the outcome unknown.
func IsAmbiguous(err error) bool {
	var ue *UnavailableError
	if errors.As(err, &ue) {
		return ue.Sent
	}
	return errors.Is(err, context.DeadlineExceeded)
}
