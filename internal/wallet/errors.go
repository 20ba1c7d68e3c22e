// Package wallet holds the value types and error taxonomy shared by the
// conversation, transfer and ledger packages.
package wallet

import "errors"

var (
	// ErrValidation marks malformed phone numbers, amounts or payloads.
	ErrValidation = errors.New("wallet: validation failed")
	// ErrNotRegistered blocks every operation except registration.
	ErrNotRegistered = errors.New("wallet: user not registered")
	// ErrInsufficientFunds is returned when the sender balance is below the amount.
	ErrInsufficientFunds = errors.New("wallet: insufficient funds")
	// ErrDuplicateOperation means the idempotency key was already applied.
	ErrDuplicateOperation = errors.New("wallet: duplicate operation")
	// ErrUpstreamUnavailable covers ledger or messaging timeouts and 5xx responses.
	ErrUpstreamUnavailable = errors.New("wallet: upstream unavailable")
	// ErrUnknownIntent is never surfaced to users; it resolves to guidance text.
	ErrUnknownIntent = errors.New("wallet: unknown intent")
	// ErrSelfTransfer is a validation failure for sender == recipient.
	ErrSelfTransfer = errors.New("wallet: cannot transfer to own wallet")
	// ErrAmountNotPositive is a validation failure for zero amounts.
	ErrAmountNotPositive = errors.New("wallet: amount must be greater than zero")
)
