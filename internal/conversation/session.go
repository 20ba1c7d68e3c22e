package conversation

import (
	"context"
	"errors"
	"time"

	"github.com/wolfman30/tatamali-wallet/internal/wallet"
)

// Step is the position of a phone number in the dialogue.
type Step string

const (
	StepMain           Step = "main"
	StepAwaitRecipient Step = "await_recipient"
	StepAwaitAmount    Step = "await_amount"
)

// ErrInvalidSession is returned by stores asked to persist a session that
// breaks the recipient/step invariant.
var ErrInvalidSession = errors.New("conversation: invalid session")

// Session is the per-phone dialogue state. PendingRecipient is set exactly
// when Step is StepAwaitAmount. Version is the compare-and-swap token; zero
// means the session has never been stored.
type Session struct {
	Phone            string    `json:"phone" dynamodbav:"phone"`
	Step             Step      `json:"step" dynamodbav:"step"`
	PendingRecipient string    `json:"pendingRecipient,omitempty" dynamodbav:"pendingRecipient,omitempty"`
	LastEventID      string    `json:"lastEventId,omitempty" dynamodbav:"lastEventId,omitempty"`
	Version          int64     `json:"version" dynamodbav:"version"`
	UpdatedAt        time.Time `json:"updatedAt" dynamodbav:"updatedAt"`
}

// NewSession is the state of a phone number that has never written.
func NewSession(phone string) Session {
	return Session{Phone: phone, Step: StepMain}
}

// Valid reports whether s satisfies the session invariant.
func (s Session) Valid() bool {
	if s.Phone == "" {
		return false
	}
	switch s.Step {
	case StepMain, StepAwaitRecipient:
		return s.PendingRecipient == ""
	case StepAwaitAmount:
		return wallet.ValidPhone(s.PendingRecipient)
	default:
		return false
	}
}

// Reset returns s back at the main menu.
func (s Session) Reset() Session {
	s.Step = StepMain
	s.PendingRecipient = ""
	return s
}

// Await moves s to a step that expects input.
func (s Session) Await(step Step, recipient string) Session {
	s.Step = step
	s.PendingRecipient = ""
	if step == StepAwaitAmount {
		s.PendingRecipient = recipient
	}
	return s
}

// Store owns Session values. CompareAndSwap writes next only when the stored
// version still equals expected.Version, and stores it at expected.Version+1.
type Store interface {
	GetOrCreate(ctx context.Context, phone string) (Session, error)
	CompareAndSwap(ctx context.Context, phone string, expected, next Session) (bool, error)
}

// prepareNext validates next and stamps the version and time a store persists.
func prepareNext(phone string, expected, next Session, now time.Time) (Session, error) {
	next.Phone = phone
	if !next.Valid() {
		return Session{}, ErrInvalidSession
	}
	next.Version = expected.Version + 1
	next.UpdatedAt = now.UTC()
	return next, nil
}
