// Package cooldown is a keyed store with TTL semantics, used to rate limit
// per-user actions such as faucet claims.
package cooldown

import (
	"context"
	"sync"
	"time"
)

type Store interface {
	// Claim holds key for ttl unless it is already held. When it is held,
	// ok is false and until reports when it frees up.
	Claim(ctx context.Context, key string, ttl time.Duration) (ok bool, until time.Time, err error)
	// Until reports when key frees up; the zero time means it is free now.
	Until(ctx context.Context, key string) (time.Time, error)
	Release(ctx context.Context, key string) error
}

type Memory struct {
	mu    sync.Mutex
	now   func() time.Time
	until map[string]time.Time
}

// NewMemory returns an in-process Store reading time from now, or from
// time.Now when now is nil.
func NewMemory(now func() time.Time) *Memory {
	if now == nil {
		now = time.Now
	}
	return &Memory{now: now, until: map[string]time.Time{}}
}

var _ Store = (*Memory)(nil)

func (m *Memory) Claim(ctx context.Context, key string, ttl time.Duration) (bool, time.Time, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	now := m.now()
	if u, ok := m.until[key]; ok && now.Before(u) {
		return false, u, nil
	}
	u := now.Add(ttl)
	m.until[key] = u
	return true, u, nil
}

func (m *Memory) Until(ctx context.Context, key string) (time.Time, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	u, ok := m.until[key]
	if !ok || !m.now().Before(u) {
		delete(m.until, key)
		return time.Time{}, nil
	}
	return u, nil
}

func (m *Memory) Release(ctx context.Context, key string) error {
	m.mu.Lock()
	delete(m.until, key)
	m.mu.Unlock()
	return nil
}
