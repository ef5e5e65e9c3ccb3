package embcache

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"go.uber.org/zap"

	"github.com/kailas-cloud/venuesearch/internal/domain"
	"github.com/kailas-cloud/venuesearch/internal/repository/cache"
)

type mockEmbedder struct {
	result  domain.EmbeddingResult
	err     error
	calls   atomic.Int32
	release chan struct{} // when set, Embed blocks until closed
	healthy error
}

func (m *mockEmbedder) Embed(ctx context.Context, _ string) (domain.EmbeddingResult, error) {
	m.calls.Add(1)
	if m.release != nil {
		<-m.release
	}
	return m.result, m.err
}

func (m *mockEmbedder) HealthCheck(context.Context) error { return m.healthy }

// mockCache implements tieredCache in memory.
type mockCache struct {
	mu     sync.Mutex
	data   map[string][]byte
	setErr error
	sets   int
	setCtx error // ctx.Err() seen by the last Set
}

func (m *mockCache) Get(_ context.Context, a cache.Artifact, key string) ([]byte, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	v, ok := m.data[string(a)+":"+key]
	return v, ok
}

func (m *mockCache) Set(ctx context.Context, a cache.Artifact, key string, value []byte, _ time.Duration) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.sets++
	m.setCtx = ctx.Err()
	if m.setErr != nil {
		return m.setErr
	}
	m.data[string(a)+":"+key] = value
	return nil
}

func (m *mockCache) setCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.sets
}

func newTestCachedEmbedder(t *testing.T, inner *mockEmbedder) (*CachedEmbedder, *mockCache) {
	t.Helper()
	mc := &mockCache{data: make(map[string][]byte)}
	return New(inner, mc, "test-model", time.Hour, zap.NewNop()), mc
}
