package prefs

import (
	"context"
	"sync"
)

// Memory keeps the record in process memory.
type Memory struct {
	mu  sync.RWMutex
	p   Preferences
	set bool
	upd lockedUpdate
}

var _ Store = (*Memory)(nil)

// NewMemory returns an empty store.
func NewMemory() *Memory { return &Memory{} }

func (m *Memory) Get(context.Context) (Preferences, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if !m.set {
		return Preferences{}, ErrNotFound
	}
	return m.p, nil
}

func (m *Memory) Set(_ context.Context, p Preferences) error {
	m.mu.Lock()
	m.p, m.set = p, true
	m.mu.Unlock()
	return nil
}

func (m *Memory) Update(ctx context.Context, fn func(*Preferences)) (Preferences, error) {
	return m.upd.update(ctx, m, fn)
}

func (m *Memory) Ping(context.Context) error { return nil }

func (m *Memory) Close() error { return nil }
