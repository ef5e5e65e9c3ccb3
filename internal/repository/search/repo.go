// Package search runs candidate queries against the venue FT index.
package search

import (
	"context"
	"fmt"
	"strings"

	"github.com/kailas-cloud/venuesearch/internal/db"
	"github.com/kailas-cloud/venuesearch/internal/domain"
	"github.com/kailas-cloud/venuesearch/internal/domain/search/filter"
	"github.com/kailas-cloud/venuesearch/internal/domain/search/mode"
	"github.com/kailas-cloud/venuesearch/internal/domain/search/result"
	venuerepo "github.com/kailas-cloud/venuesearch/internal/repository/venue"
)

// store is the consumer interface for search operations (ISP).
type store interface {
	SearchKNN(ctx context.Context, q *db.KNNQuery) (*db.SearchResult, error)
	SearchBM25(ctx context.Context, q *db.TextQuery) (*db.SearchResult, error)
	SearchList(ctx context.Context, q *db.ListQuery) (*db.SearchResult, error)
	SearchCount(ctx context.Context, q *db.CountQuery) (int, error)
}

// Repo implements usecase/retrieval.Index.
type Repo struct {
	store     store
	indexName string
	keyPrefix string
	efRuntime int
}

// New creates a search repository. keyPrefix is the venue hash prefix the
// index covers; efRuntime tunes HNSW recall per query (0 keeps the index default).
func New(s store, indexName, keyPrefix string, efRuntime int) *Repo {
	return &Repo{store: s, indexName: indexName, keyPrefix: keyPrefix, efRuntime: efRuntime}
}

// Count returns how many venues match the filters. It is answered by the
// tag, numeric and geo indexes without touching vectors.
func (r *Repo) Count(ctx context.Context, filters filter.Expression) (int, error) {
	n, err := r.store.SearchCount(ctx, &db.CountQuery{IndexName: r.indexName, Filters: filters})
	if err != nil {
		return 0, r.wrap("count", err)
	}
	return n, nil
}

// KNN returns up to k venues nearest to vector among those matching filters.
// Scores are cosine similarities in [-1,1].
func (r *Repo) KNN(ctx context.Context, vector []float32, filters filter.Expression, k int) ([]result.Candidate, error) {
	sr, err := r.store.SearchKNN(ctx, &db.KNNQuery{
		IndexName:    r.indexName,
		VectorField:  venuerepo.FieldEmbedding,
		Filters:      filters,
		Vector:       vector,
		K:            k,
		EFRuntime:    r.efRuntime,
		ReturnFields: append(append([]string(nil), venuerepo.ReturnFields...), "__vector_score"),
	})
	if err != nil {
		return nil, r.wrap("knn", err)
	}
	return r.candidates(sr, mode.Semantic), nil
}

// Keyword returns up to k venues ranked by BM25 over search_text.
func (r *Repo) Keyword(ctx context.Context, text string, filters filter.Expression, k int) ([]result.Candidate, error) {
	sr, err := r.store.SearchBM25(ctx, &db.TextQuery{
		IndexName:    r.indexName,
		TextField:    venuerepo.FieldSearchText,
		Query:        text,
		Filters:      filters,
		TopK:         k,
		ReturnFields: venuerepo.ReturnFields,
	})
	if err != nil {
		return nil, r.wrap("bm25", err)
	}
	return r.candidates(sr, mode.Keyword), nil
}

// Browse returns up to k unscored venues matching filters.
func (r *Repo) Browse(ctx context.Context, filters filter.Expression, k int) ([]result.Candidate, error) {
	sr, err := r.store.SearchList(ctx, &db.ListQuery{
		IndexName:    r.indexName,
		Filters:      filters,
		Limit:        k,
		ReturnFields: venuerepo.ReturnFields,
	})
	if err != nil {
		return nil, r.wrap("list", err)
	}
	return r.candidates(sr, mode.Browse), nil
}

// wrap maps storage failures to domain.ErrIndexUnavailable so callers
// surface a retryable error instead of a partial result.
func (r *Repo) wrap(op string, err error) error {
	if db.IsUnavailable(err) {
		return fmt.Errorf("search %s %s: %w: %w", op, r.indexName, domain.ErrIndexUnavailable, err)
	}
	return fmt.Errorf("search %s %s: %w", op, r.indexName, err)
}

// candidates decodes hits in index order. Entries whose hash no longer
// decodes (deleted between match and fetch) are dropped.
func (r *Repo) candidates(sr *db.SearchResult, m mode.Mode) []result.Candidate {
	if sr == nil || len(sr.Entries) == 0 {
		return nil
	}
	out := make([]result.Candidate, 0, len(sr.Entries))
	for _, e := range sr.Entries {
		v, err := venuerepo.Decode(strings.TrimPrefix(e.Key, r.keyPrefix), e.Fields)
		if err != nil {
			continue
		}
		out = append(out, result.Candidate{Venue: v, Score: e.Score, Mode: m})
	}
	return out
}
