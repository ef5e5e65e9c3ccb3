// Package cache implements the two-tier cache used for embeddings, parsed
// queries, result sets and resolved places: a bounded in-process LRU in front
// of the shared Redis tier. Entries are immutable once written and are never
// invalidated; staleness is bounded by TTL alone.
package cache

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/hashicorp/golang-lru/v2/expirable"
	"go.uber.org/zap"

	"github.com/kailas-cloud/venuesearch/internal/db"
	"github.com/kailas-cloud/venuesearch/internal/metrics"
)

// Artifact namespaces cached values.
type Artifact string

// Cached artifact kinds.
const (
	Embedding Artifact = "embedding"
	Query     Artifact = "query"
	Results   Artifact = "results"
	Place     Artifact = "place"
)

const (
	tierLocal  = "local"
	tierShared = "shared"
)

// store is the shared tier (ISP subset of db.KVStore).
type store interface {
	GetWithTTL(ctx context.Context, key string) ([]byte, time.Duration, error)
	SetWithTTL(ctx context.Context, key string, value []byte, ttl time.Duration) error
}

type entry struct {
	value     []byte
	expiresAt time.Time
}

// Tiered is the process-wide cache. Create it once at startup and call
// Close at shutdown.
type Tiered struct {
	local    *expirable.LRU[string, entry]
	shared   store
	prefix   string
	localTTL time.Duration
	now      func() time.Time
	logger   *zap.Logger
}

// Option configures a Tiered cache.
type Option func(*Tiered)

// WithClock replaces time.Now for expiry checks.
func WithClock(now func() time.Time) Option {
	return func(t *Tiered) { t.now = now }
}

// New creates the cache. localSize bounds the in-process tier; localTTL caps
// how long any entry lives there.
func New(shared store, prefix string, localSize int, localTTL time.Duration, logger *zap.Logger, opts ...Option) *Tiered {
	t := &Tiered{
		local:    expirable.NewLRU[string, entry](localSize, nil, localTTL),
		shared:   shared,
		prefix:   prefix + "cache:",
		localTTL: localTTL,
		now:      time.Now,
		logger:   logger,
	}
	for _, opt := range opts {
		opt(t)
	}
	return t
}

// Get looks up key in the local tier, then the shared tier. A shared hit
// populates the local tier for no longer than the shared copy has left.
// Shared-tier failures are logged and reported as a miss.
func (t *Tiered) Get(ctx context.Context, a Artifact, key string) ([]byte, bool) {
	k := t.key(a, key)
	now := t.now()

	if e, ok := t.local.Get(k); ok {
		if now.Before(e.expiresAt) {
			t.count(a, tierLocal, "hit")
			return e.value, true
		}
		t.local.Remove(k)
		t.count(a, tierLocal, "expired")
	} else {
		t.count(a, tierLocal, "miss")
	}

	val, remaining, err := t.shared.GetWithTTL(ctx, k)
	if err != nil {
		if errors.Is(err, db.ErrKeyNotFound) {
			t.count(a, tierShared, "miss")
		} else {
			t.count(a, tierShared, "error")
			t.logger.Warn("Shared cache read failed", zap.String("artifact", string(a)), zap.Error(err))
		}
		return nil, false
	}
	t.count(a, tierShared, "hit")

	ttl := t.localTTL
	if remaining > 0 && remaining < ttl {
		ttl = remaining
	}
	t.local.Add(k, entry{value: val, expiresAt: now.Add(ttl)})
	return val, true
}

// Set writes value to both tiers. The local copy lives for min(ttl, localTTL).
// Overwrites are safe: entries for a key are interchangeable.
func (t *Tiered) Set(ctx context.Context, a Artifact, key string, value []byte, ttl time.Duration) error {
	if ttl <= 0 {
		return fmt.Errorf("cache ttl must be positive")
	}
	k := t.key(a, key)
	t.local.Add(k, entry{value: value, expiresAt: t.now().Add(min(ttl, t.localTTL))})

	if err := t.shared.SetWithTTL(ctx, k, value, ttl); err != nil {
		return fmt.Errorf("shared cache write %s: %w", a, err)
	}
	return nil
}

// Close drops the local tier. The shared tier is owned by the store.
func (t *Tiered) Close() { t.local.Purge() }

func (t *Tiered) key(a Artifact, key string) string {
	return t.prefix + string(a) + ":" + key
}

func (t *Tiered) count(a Artifact, tier, result string) {
	metrics.CacheRequestsTotal.WithLabelValues(string(a), tier, result).Inc()
}

// Key derives a stable content key from parts. Parts are joined with a
// separator that cannot appear in normalized text before hashing.
func Key(parts ...string) string {
	h := sha256.Sum256([]byte(strings.Join(parts, "\x1f")))
	return hex.EncodeToString(h[:])
}

// GetJSON decodes a cached JSON value. Undecodable entries count as a miss.
func GetJSON[T any](ctx context.Context, t *Tiered, a Artifact, key string) (T, bool) {
	var v T
	data, ok := t.Get(ctx, a, key)
	if !ok {
		return v, false
	}
	if err := json.Unmarshal(data, &v); err != nil {
		t.logger.Warn("Dropping undecodable cache entry", zap.String("artifact", string(a)), zap.Error(err))
		return v, false
	}
	return v, true
}

// SetJSON encodes v as JSON and stores it.
func SetJSON[T any](ctx context.Context, t *Tiered, a Artifact, key string, v T, ttl time.Duration) error {
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("encode %s: %w", a, err)
	}
	return t.Set(ctx, a, key, data, ttl)
}
