package otc

import (
	"context"
	"sync"
	"time"
)

// Store holds at most one challenge per session id.
type Store interface {
	// Get returns (nil, nil) when no challenge exists.
	Get(ctx context.Context, sessionID string) (*Challenge, error)
	// Put replaces any existing challenge.
	Put(ctx context.Context, sessionID string, c Challenge, ttl time.Duration) error
	// IncrementAttempts atomically adds one attempt and returns the new
	// count, or ErrNoActiveChallenge when the challenge is gone.
	IncrementAttempts(ctx context.Context, sessionID string) (int, error)
	Delete(ctx context.Context, sessionID string) error
}

type MemoryStore struct {
	mu    sync.Mutex
	items map[string]memoryItem
	now   func() time.Time
}

type memoryItem struct {
	c         Challenge
	expiresAt time.Time
}

func NewMemoryStore(now func() time.Time) *MemoryStore {
	if now == nil {
		now = time.Now
	}
	return &MemoryStore{items: make(map[string]memoryItem), now: now}
}

func (m *MemoryStore) lookup(sessionID string) (*memoryItem, bool) {
	it, ok := m.items[sessionID]
	if !ok {
		return nil, false
	}
	if !it.expiresAt.IsZero() && !m.now().Before(it.expiresAt) {
		delete(m.items, sessionID)
		return nil, false
	}
	return &it, true
}

func (m *MemoryStore) Get(_ context.Context, sessionID string) (*Challenge, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	it, ok := m.lookup(sessionID)
	if !ok {
		return nil, nil
	}
	c := it.c
	return &c, nil
}

func (m *MemoryStore) Put(_ context.Context, sessionID string, c Challenge, ttl time.Duration) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	it := memoryItem{c: c}
	if ttl > 0 {
		it.expiresAt = m.now().Add(ttl)
	}
	m.items[sessionID] = it
	return nil
}

func (m *MemoryStore) IncrementAttempts(_ context.Context, sessionID string) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	it, ok := m.lookup(sessionID)
	if !ok {
		return 0, ErrNoActiveChallenge
	}
	it.c.Attempts++
	m.items[sessionID] = *it
	return it.c.Attempts, nil
}

func (m *MemoryStore) Delete(_ context.Context, sessionID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.items, sessionID)
	return nil
}
