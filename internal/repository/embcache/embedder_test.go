package embcache

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/kailas-cloud/venuesearch/internal/domain"
	"github.com/kailas-cloud/venuesearch/internal/repository/cache"
)

func TestEmbed_CacheMiss(t *testing.T) {
	inner := &mockEmbedder{result: domain.EmbeddingResult{
		Embedding:    []float32{0.1, 0.2, 0.3},
		PromptTokens: 10,
		TotalTokens:  10,
	}}
	ce, mc := newTestCachedEmbedder(t, inner)

	result, err := ce.Embed(context.Background(), "test text")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(result.Embedding) != 3 || result.Embedding[0] != 0.1 {
		t.Fatalf("unexpected vector: %v", result.Embedding)
	}
	if result.TotalTokens != 10 {
		t.Fatalf("expected TotalTokens=10, got %d", result.TotalTokens)
	}
	if mc.sets != 1 {
		t.Fatalf("expected one cache write, got %d", mc.sets)
	}
}

func TestEmbed_CacheHit(t *testing.T) {
	inner := &mockEmbedder{result: domain.EmbeddingResult{Embedding: []float32{0.1, 0.2, 0.3}}}
	ce, mc := newTestCachedEmbedder(t, inner)

	key := cache.Key("test-model", "test text")
	mc.data[string(cache.Embedding)+":"+key] = vectorToCacheBytes([]float32{0.4, 0.5, 0.6})

	result, err := ce.Embed(context.Background(), "test text")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if result.Embedding[0] != 0.4 {
		t.Fatalf("expected cached vector, got: %v", result.Embedding)
	}
	if result.TotalTokens != 0 {
		t.Fatalf("expected TotalTokens=0 on cache hit, got %d", result.TotalTokens)
	}
	if inner.calls.Load() != 0 {
		t.Fatal("inner embedder called on cache hit")
	}
}

func TestEmbed_ModelIsPartOfKey(t *testing.T) {
	inner := &mockEmbedder{result: domain.EmbeddingResult{Embedding: []float32{1}}}
	ce, mc := newTestCachedEmbedder(t, inner)

	mc.data[string(cache.Embedding)+":"+cache.Key("other-model", "q")] = vectorToCacheBytes([]float32{9})

	res, err := ce.Embed(context.Background(), "q")
	if err != nil {
		t.Fatal(err)
	}
	if res.Embedding[0] != 1 {
		t.Errorf("served a vector cached for another model: %v", res.Embedding)
	}
}

func TestEmbed_CorruptEntryRefetches(t *testing.T) {
	inner := &mockEmbedder{result: domain.EmbeddingResult{Embedding: []float32{0.7}}}
	ce, mc := newTestCachedEmbedder(t, inner)
	mc.data[string(cache.Embedding)+":"+cache.Key("test-model", "q")] = []byte{1, 2, 3}

	res, err := ce.Embed(context.Background(), "q")
	if err != nil {
		t.Fatal(err)
	}
	if res.Embedding[0] != 0.7 || inner.calls.Load() != 1 {
		t.Errorf("expected refetch, got %v after %d calls", res.Embedding, inner.calls.Load())
	}
}

func TestEmbed_InnerError(t *testing.T) {
	inner := &mockEmbedder{err: domain.ErrEmbeddingProviderError}
	ce, mc := newTestCachedEmbedder(t, inner)

	_, err := ce.Embed(context.Background(), "q")
	if !errors.Is(err, domain.ErrEmbeddingProviderError) {
		t.Fatalf("err = %v, want ErrEmbeddingProviderError", err)
	}
	if mc.sets != 0 {
		t.Error("failed embedding must not be cached")
	}
}

func TestEmbed_CacheWriteErrorIgnored(t *testing.T) {
	inner := &mockEmbedder{result: domain.EmbeddingResult{Embedding: []float32{0.1}}}
	ce, mc := newTestCachedEmbedder(t, inner)
	mc.setErr = errors.New("redis down")

	if _, err := ce.Embed(context.Background(), "q"); err != nil {
		t.Fatalf("cache write error should not fail Embed: %v", err)
	}
}

func TestEmbed_ConcurrentMissesShareOneCall(t *testing.T) {
	inner := &mockEmbedder{
		result:  domain.EmbeddingResult{Embedding: []float32{0.5}, TotalTokens: 4},
		release: make(chan struct{}),
	}
	ce, _ := newTestCachedEmbedder(t, inner)

	const callers = 8
	var wg sync.WaitGroup
	errs := make(chan error, callers)
	for range callers {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := ce.Embed(context.Background(), "same text")
			errs <- err
		}()
	}

	// Let every caller join the in-flight call before it completes.
	deadline := time.Now().Add(time.Second)
	for inner.calls.Load() == 0 && time.Now().Before(deadline) {
		time.Sleep(time.Millisecond)
	}
	time.Sleep(20 * time.Millisecond)
	close(inner.release)
	wg.Wait()
	close(errs)

	for err := range errs {
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
	}
	if got := inner.calls.Load(); got != 1 {
		t.Errorf("inner calls = %d, want 1", got)
	}
}

func TestEmbed_CallerCancellation(t *testing.T) {
	inner := &mockEmbedder{
		result:  domain.EmbeddingResult{Embedding: []float32{0.5}},
		release: make(chan struct{}),
	}
	ce, _ := newTestCachedEmbedder(t, inner)
	defer close(inner.release)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if _, err := ce.Embed(ctx, "q"); !errors.Is(err, context.Canceled) {
		t.Fatalf("err = %v, want context.Canceled", err)
	}
}

func TestEmbed_CancelledCallerStillCachesResult(t *testing.T) {
	inner := &mockEmbedder{
		result:  domain.EmbeddingResult{Embedding: []float32{0.5, 0.25}},
		release: make(chan struct{}),
	}
	ce, mc := newTestCachedEmbedder(t, inner)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if _, err := ce.Embed(ctx, "q"); !errors.Is(err, context.Canceled) {
		t.Fatalf("err = %v, want context.Canceled", err)
	}
	close(inner.release)

	deadline := time.Now().Add(2 * time.Second)
	for mc.setCount() == 0 {
		if time.Now().After(deadline) {
			t.Fatal("embedding never written to the cache")
		}
		time.Sleep(time.Millisecond)
	}

	mc.mu.Lock()
	defer mc.mu.Unlock()
	if mc.setCtx != nil {
		t.Errorf("cache write ran with a cancelled context: %v", mc.setCtx)
	}
	if _, ok := mc.data[string(cache.Embedding)+":"+cache.Key("test-model", "q")]; !ok {
		t.Error("embedding missing from cache")
	}
}

func TestHealthCheck(t *testing.T) {
	inner := &mockEmbedder{healthy: errors.New("down")}
	ce, _ := newTestCachedEmbedder(t, inner)
	if err := ce.HealthCheck(context.Background()); err == nil {
		t.Error("expected delegated health error")
	}
}

func TestVectorBytesRoundTrip(t *testing.T) {
	in := []float32{0, -1.5, 3.25}
	out, err := bytesToVector(vectorToCacheBytes(in))
	if err != nil {
		t.Fatal(err)
	}
	for i := range in {
		if in[i] != out[i] {
			t.Fatalf("index %d: %v != %v", i, out[i], in[i])
		}
	}
	if _, err := bytesToVector([]byte{1}); !errors.Is(err, errBadCacheData) {
		t.Errorf("err = %v", err)
	}
}
