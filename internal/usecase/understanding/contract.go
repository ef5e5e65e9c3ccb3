package understanding

import (
	"context"
	"time"

	"github.com/kailas-cloud/venuesearch/internal/domain/attribute"
	"github.com/kailas-cloud/venuesearch/internal/domain/query"
	"github.com/kailas-cloud/venuesearch/internal/repository/cache"
	"github.com/kailas-cloud/venuesearch/internal/repository/constraints"
)

// Vocabulary maps informal phrases to constraints (the Constraint Store).
// Phrases are passed normalized.
type Vocabulary interface {
	Version() int
	Cuisine(phrase string) (string, bool)
	IsBroad(cuisine string) bool
	Price(phrase string) (query.PriceRange, bool)
	Attribute(phrase string) (attribute.Constraint, bool)
	Party(phrase string) (query.PartySize, bool)
	OpenNow(phrase string) bool
	ResolvePlace(ctx context.Context, name string) (constraints.Place, bool, error)
}

// Cache stores parsed queries.
type Cache interface {
	Get(ctx context.Context, a cache.Artifact, key string) ([]byte, bool)
	Set(ctx context.Context, a cache.Artifact, key string, value []byte, ttl time.Duration) error
}
