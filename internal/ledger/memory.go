package ledger

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/wolfman30/tatamali-wallet/internal/wallet"
)

type memoryCoupon struct {
	amount    wallet.Amount
	claimed   bool
	expiresAt time.Time
}

type memoryAccount struct {
	userID  string
	balance wallet.Amount
	history []Transaction
}

// MemoryLedger is an in-process ledger with idempotent transfers, used for
// local development (LEDGER_DRIVER=memory) and tests.
type MemoryLedger struct {
	mu        sync.Mutex
	accounts  map[string]*memoryAccount
	coupons   map[string]*memoryCoupon
	transfers map[string]TransferOutcome
	applied   int
	now       func() time.Time
}

var _ Client = (*MemoryLedger)(nil)

// NewMemoryLedger returns an empty ledger.
func NewMemoryLedger() *MemoryLedger {
	return &MemoryLedger{
		accounts:  make(map[string]*memoryAccount),
		coupons:   make(map[string]*memoryCoupon),
		transfers: make(map[string]TransferOutcome),
		now:       time.Now,
	}
}

// Register creates (or tops up) a wallet with the given balance.
func (m *MemoryLedger) Register(phone string, balance wallet.Amount) {
	m.mu.Lock()
	defer m.mu.Unlock()
	acct := m.accountLocked(phone)
	acct.balance = balance
}

// AddCoupon makes token redeemable for amount until expiresAt (zero = never).
func (m *MemoryLedger) AddCoupon(token string, amount wallet.Amount, expiresAt time.Time) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.coupons[token] = &memoryCoupon{amount: amount, expiresAt: expiresAt}
}

// AppliedTransfers counts balance mutations performed by Transfer.
func (m *MemoryLedger) AppliedTransfers() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.applied
}

func (m *MemoryLedger) accountLocked(phone string) *memoryAccount {
	acct, ok := m.accounts[phone]
	if !ok {
		acct = &memoryAccount{userID: uuid.NewString()}
		m.accounts[phone] = acct
	}
	return acct
}

func (m *MemoryLedger) walletLocked(phone string, acct *memoryAccount) *Wallet {
	return &Wallet{UserID: acct.userID, Phone: phone, Balance: acct.balance}
}

func (m *MemoryLedger) LookupWallet(ctx context.Context, phone string) (*Wallet, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	acct, ok := m.accounts[phone]
	if !ok {
		return nil, ErrWalletNotFound
	}
	return m.walletLocked(phone, acct), nil
}

func (m *MemoryLedger) GetOrCreateWallet(ctx context.Context, phone string) (*Wallet, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.walletLocked(phone, m.accountLocked(phone)), nil
}

func (m *MemoryLedger) Balance(ctx context.Context, phone string) (wallet.Amount, error) {
	w, err := m.LookupWallet(ctx, phone)
	if err != nil {
		return 0, err
	}
	return w.Balance, nil
}

func (m *MemoryLedger) Transfer(ctx context.Context, cmd TransferCommand) (TransferOutcome, error) {
	if err := ctx.Err(); err != nil {
		return TransferOutcome{}, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	if prior, ok := m.transfers[cmd.IdempotencyKey]; ok {
		prior.Duplicate = true
		return prior, nil
	}
	from, ok := m.accounts[cmd.FromPhone]
	if !ok {
		return Failed(FailureNotFound, "Sender wallet not found"), nil
	}
	if from.balance < cmd.AmountMinor {
		outcome := Failed(FailureInsufficientFunds, fmt.Sprintf("Insufficient funds. Available: %s, Required: %s",
			from.balance.String(), cmd.AmountMinor.String()))
		m.transfers[cmd.IdempotencyKey] = outcome
		return outcome, nil
	}
	to := m.accountLocked(cmd.ToPhone)
	now := m.now().UTC()
	txID := uuid.NewString()
	from.balance -= cmd.AmountMinor
	to.balance += cmd.AmountMinor
	from.history = append(from.history, Transaction{ID: txID, Type: "TRANSFER", Amount: cmd.AmountMinor, Status: "completed", CreatedAt: now})
	to.history = append(to.history, Transaction{ID: txID, Type: "RECEIVE", Amount: cmd.AmountMinor, Status: "completed", CreatedAt: now})
	m.applied++

	outcome := TransferOutcome{
		Success:       true,
		TransactionID: txID,
		Message:       fmt.Sprintf("Successfully transferred %s to %s", cmd.AmountMinor.String(), cmd.ToPhone),
	}
	m.transfers[cmd.IdempotencyKey] = outcome
	return outcome, nil
}

func (m *MemoryLedger) TransferStatus(ctx context.Context, idempotencyKey string) (TransferOutcome, error) {
	if err := ctx.Err(); err != nil {
		return TransferOutcome{}, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	outcome, ok := m.transfers[idempotencyKey]
	if !ok {
		return TransferOutcome{}, ErrTransferNotFound
	}
	return outcome, nil
}

func (m *MemoryLedger) RedeemCoupon(ctx context.Context, phone, token string) (CouponResult, error) {
	if err := ctx.Err(); err != nil {
		return CouponResult{}, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	coupon, ok := m.coupons[token]
	switch {
	case !ok:
		return CouponResult{Message: "Invalid coupon code"}, nil
	case coupon.claimed:
		return CouponResult{Message: "This coupon has already been used"}, nil
	case !coupon.expiresAt.IsZero() && m.now().After(coupon.expiresAt):
		return CouponResult{Message: "This coupon has expired"}, nil
	}
	coupon.claimed = true
	acct := m.accountLocked(phone)
	acct.balance += coupon.amount
	acct.history = append(acct.history, Transaction{ID: uuid.NewString(), Type: "COUPON", Amount: coupon.amount, Status: "completed", CreatedAt: m.now().UTC()})
	return CouponResult{Success: true, Message: "Coupon redeemed successfully", Credited: coupon.amount}, nil
}

func (m *MemoryLedger) Transactions(ctx context.Context, phone string) ([]Transaction, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	acct, ok := m.accounts[phone]
	if !ok {
		return nil, ErrWalletNotFound
	}
	out := make([]Transaction, len(acct.history))
	copy(out, acct.history)
	return out, nil
}
