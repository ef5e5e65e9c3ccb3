package embcache

import (
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"math"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"

	"github.com/kailas-cloud/venuesearch/internal/domain"
	"github.com/kailas-cloud/venuesearch/internal/repository/cache"
)

// tieredCache is the consumer interface for the two-tier cache (ISP).
type tieredCache interface {
	Get(ctx context.Context, a cache.Artifact, key string) ([]byte, bool)
	Set(ctx context.Context, a cache.Artifact, key string, value []byte, ttl time.Duration) error
}

// CachedEmbedder caches embeddings by model and text. Concurrent misses for
// the same text share a single provider call.
type CachedEmbedder struct {
	inner  domain.Embedder
	cache  tieredCache
	model  string
	ttl    time.Duration
	group  singleflight.Group
	logger *zap.Logger
}

// New creates a caching decorator. model is part of the key so switching
// models never serves vectors from the old space.
func New(inner domain.Embedder, c tieredCache, model string, ttl time.Duration, logger *zap.Logger) *CachedEmbedder {
	return &CachedEmbedder{
		inner:  inner,
		cache:  c,
		model:  model,
		ttl:    ttl,
		logger: logger,
	}
}

// Embed returns a cached embedding or calls the inner embedder.
// Cache hit: TotalTokens = 0 (no real tokens consumed).
func (c *CachedEmbedder) Embed(ctx context.Context, text string) (domain.EmbeddingResult, error) {
	key := cache.Key(c.model, text)

	if data, ok := c.cache.Get(ctx, cache.Embedding, key); ok {
		vec, err := bytesToVector(data)
		if err == nil && len(vec) > 0 {
			return domain.EmbeddingResult{Embedding: vec}, nil
		}
		c.logger.Warn("Failed to parse cached embedding", zap.String("key", key), zap.Error(err))
	}

	// The shared call and its cache write outlive any single caller's
	// cancellation; the provider client enforces its own timeout.
	detached := context.WithoutCancel(ctx)
	ch := c.group.DoChan(key, func() (any, error) {
		res, err := c.inner.Embed(detached, text)
		if err != nil {
			return nil, err
		}
		if err := c.cache.Set(detached, cache.Embedding, key, vectorToCacheBytes(res.Embedding), c.ttl); err != nil {
			c.logger.Warn("Failed to cache embedding", zap.String("key", key), zap.Error(err))
		}
		return res, nil
	})

	select {
	case <-ctx.Done():
		return domain.EmbeddingResult{}, fmt.Errorf("embed text: %w", ctx.Err())
	case r := <-ch:
		if r.Err != nil {
			return domain.EmbeddingResult{}, fmt.Errorf("embed text: %w", r.Err)
		}
		res, _ := r.Val.(domain.EmbeddingResult)
		if r.Shared {
			// Only one caller is charged for the tokens.
			res.PromptTokens, res.TotalTokens = 0, 0
		}
		return res, nil
	}
}

// HealthCheck delegates to the inner embedder when it supports it.
func (c *CachedEmbedder) HealthCheck(ctx context.Context) error {
	hc, ok := c.inner.(domain.HealthChecker)
	if !ok {
		return nil
	}
	if err := hc.HealthCheck(ctx); err != nil {
		return fmt.Errorf("embedder health: %w", err)
	}
	return nil
}

var errBadCacheData = errors.New("invalid embedding cache data")

func vectorToCacheBytes(v []float32) []byte {
	buf := make([]byte, len(v)*4)
	for i, f := range v {
		binary.LittleEndian.PutUint32(buf[i*4:], math.Float32bits(f))
	}
	return buf
}

func bytesToVector(data []byte) ([]float32, error) {
	if len(data)%4 != 0 {
		return nil, fmt.Errorf("%w: len=%d (not multiple of 4)", errBadCacheData, len(data))
	}
	vec := make([]float32, len(data)/4)
	for i := range vec {
		vec[i] = math.Float32frombits(binary.LittleEndian.Uint32(data[i*4:]))
	}
	return vec, nil
}
