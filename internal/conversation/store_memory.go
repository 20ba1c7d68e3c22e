package conversation

import (
	"context"
	"sync"
	"time"
)

// MemoryStore keeps sessions in a process-local map for single-instance
// deployments.
type MemoryStore struct {
	mu       sync.Mutex
	sessions map[string]Session
	now      func() time.Time
}

var _ Store = (*MemoryStore)(nil)

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{sessions: make(map[string]Session), now: time.Now}
}

func (m *MemoryStore) GetOrCreate(ctx context.Context, phone string) (Session, error) {
	if err := ctx.Err(); err != nil {
		return Session{}, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if s, ok := m.sessions[phone]; ok {
		return s, nil
	}
	return NewSession(phone), nil
}

func (m *MemoryStore) CompareAndSwap(ctx context.Context, phone string, expected, next Session) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, err
	}
	stamped, err := prepareNext(phone, expected, next, m.now())
	if err != nil {
		return false, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	current, ok := m.sessions[phone]
	if !ok {
		current = NewSession(phone)
	}
	if current.Version != expected.Version {
		return false, nil
	}
	m.sessions[phone] = stamped
	return true, nil
}

// Len reports how many phones have a stored session.
func (m *MemoryStore) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.sessions)
}
