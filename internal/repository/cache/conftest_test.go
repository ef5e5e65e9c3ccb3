package cache

import (
	"context"
	"sync"
	"testing"
	"time"

	"go.uber.org/zap"

	"github.com/kailas-cloud/venuesearch/internal/db"
)

// fakeClock is a settable clock shared by the cache and the fake store.
type fakeClock struct {
	mu sync.Mutex
	t  time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.t = c.t.Add(d)
}

type storedValue struct {
	data      []byte
	expiresAt time.Time
}

// mockStore is an in-memory shared tier honoring TTLs against the fake clock.
type mockStore struct {
	mu    sync.Mutex
	clock *fakeClock
	data  map[string]storedValue
	gets  int
	getFn func(ctx context.Context, key string) ([]byte, time.Duration, error)
	setFn func(ctx context.Context, key string, value []byte, ttl time.Duration) error
}

func (m *mockStore) GetWithTTL(ctx context.Context, key string) ([]byte, time.Duration, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.gets++
	if m.getFn != nil {
		return m.getFn(ctx, key)
	}
	v, ok := m.data[key]
	if !ok {
		return nil, 0, db.ErrKeyNotFound
	}
	remaining := v.expiresAt.Sub(m.clock.Now())
	if remaining <= 0 {
		delete(m.data, key)
		return nil, 0, db.ErrKeyNotFound
	}
	return v.data, remaining, nil
}

func (m *mockStore) SetWithTTL(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.setFn != nil {
		return m.setFn(ctx, key, value, ttl)
	}
	m.data[key] = storedValue{data: value, expiresAt: m.clock.Now().Add(ttl)}
	return nil
}

func newTestCache(t *testing.T, localTTL time.Duration) (*Tiered, *mockStore, *fakeClock) {
	t.Helper()
	clock := &fakeClock{t: time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)}
	ms := &mockStore{clock: clock, data: make(map[string]storedValue)}
	c := New(ms, "test:", 100, localTTL, zap.NewNop(), WithClock(clock.Now))
	t.Cleanup(c.Close)
	return c, ms, clock
}
