package retrieval

import (
	"context"

	"github.com/kailas-cloud/venuesearch/internal/domain/search/filter"
	"github.com/kailas-cloud/venuesearch/internal/domain/search/result"
)

// Index is the venue index contract. Errors caused by lost connectivity wrap
// domain.ErrIndexUnavailable.
type Index interface {
	Count(ctx context.Context, filters filter.Expression) (int, error)
	KNN(ctx context.Context, vector []float32, filters filter.Expression, k int) ([]result.Candidate, error)
	Keyword(ctx context.Context, text string, filters filter.Expression, k int) ([]result.Candidate, error)
	Browse(ctx context.Context, filters filter.Expression, k int) ([]result.Candidate, error)
}
