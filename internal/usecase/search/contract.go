package search

import (
	"context"
	"time"

	"github.com/kailas-cloud/venuesearch/internal/domain/query"
	"github.com/kailas-cloud/venuesearch/internal/domain/search/result"
	"github.com/kailas-cloud/venuesearch/internal/repository/cache"
	"github.com/kailas-cloud/venuesearch/internal/usecase/retrieval"
)

// Understander parses raw query text.
type Understander interface {
	Parse(ctx context.Context, raw string) (query.ParsedQuery, error)
}

// Retriever produces the candidate set.
type Retriever interface {
	Retrieve(ctx context.Context, q query.ParsedQuery, limit int) (retrieval.Outcome, error)
}

// Ranker orders candidates.
type Ranker interface {
	Score(candidates []result.Candidate, q query.ParsedQuery) []result.Ranked
}

// Cache stores ranked result sets.
type Cache interface {
	Get(ctx context.Context, a cache.Artifact, key string) ([]byte, bool)
	Set(ctx context.Context, a cache.Artifact, key string, value []byte, ttl time.Duration) error
}
