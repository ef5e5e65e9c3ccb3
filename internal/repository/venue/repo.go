// Package venue stores venues as Redis hashes covered by the FT index used
// for retrieval.
package venue

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/kailas-cloud/venuesearch/internal/db"
	"github.com/kailas-cloud/venuesearch/internal/domain"
	"github.com/kailas-cloud/venuesearch/internal/domain/attribute"
	domvenue "github.com/kailas-cloud/venuesearch/internal/domain/venue"
)

// store is the consumer interface for venues (ISP).
type store interface {
	HSet(ctx context.Context, key string, fields map[string]string) error
	HGetAll(ctx context.Context, key string) (map[string]string, error)
	HGetAllMulti(ctx context.Context, keys []string) ([]map[string]string, error)
	Exists(ctx context.Context, key string) (bool, error)
	CreateIndex(ctx context.Context, def *db.IndexDefinition) error
	IndexExists(ctx context.Context, name string) (bool, error)
}

// IndexParams sizes the venue FT index.
type IndexParams struct {
	Name            string
	Dimensions      int
	HNSWM           int
	HNSWEFConstruct int
	InitialCap      int
}

// Repo reads and writes venue hashes.
type Repo struct {
	store  store
	prefix string
	index  IndexParams
}

// New creates a venue repository. prefix is the service key prefix.
func New(s store, prefix string, index IndexParams) *Repo {
	return &Repo{store: s, prefix: prefix + "venue:", index: index}
}

// KeyPrefix is the hash key prefix covered by the index.
func (r *Repo) KeyPrefix() string { return r.prefix }

// IndexName returns the FT index name.
func (r *Repo) IndexName() string { return r.index.Name }

func (r *Repo) key(id string) string { return r.prefix + id }

// IndexDefinition describes the venue index: BM25 text, cuisine tags,
// sortable price, rating, a GEO point and an HNSW cosine vector.
func (r *Repo) IndexDefinition() (*db.IndexDefinition, error) {
	def, err := db.NewIndex(r.index.Name).
		Prefix(r.prefix).
		Text(FieldSearchText).
		TagWithOpts(FieldCuisines, ",", false).
		SortableNumeric(FieldPriceTier).
		Numeric(FieldRating).
		Geo(FieldLocation).
		VectorHNSW(FieldEmbedding, r.index.Dimensions, db.DistanceCosine,
			r.index.HNSWM, r.index.HNSWEFConstruct, r.index.InitialCap).
		Build()
	if err != nil {
		return nil, fmt.Errorf("venue index definition: %w", err)
	}
	return def, nil
}

// EnsureIndex creates the venue index if it does not exist.
func (r *Repo) EnsureIndex(ctx context.Context) error {
	exists, err := r.store.IndexExists(ctx, r.index.Name)
	if err != nil {
		return fmt.Errorf("check index %s: %w", r.index.Name, err)
	}
	if exists {
		return nil
	}
	def, err := r.IndexDefinition()
	if err != nil {
		return err
	}
	if err := r.store.CreateIndex(ctx, def); err != nil && !errors.Is(err, db.ErrIndexExists) {
		return fmt.Errorf("create index %s: %w", r.index.Name, err)
	}
	return nil
}

// Upsert writes a full venue record after validating it against the index dimension.
func (r *Repo) Upsert(ctx context.Context, v domvenue.Venue) error {
	if err := v.Validate(0); err != nil {
		return fmt.Errorf("invalid venue: %w", err)
	}
	if len(v.Embedding) != r.index.Dimensions {
		return fmt.Errorf("venue %s: %w: got %d, want %d",
			v.ID, domain.ErrVectorDimMismatch, len(v.Embedding), r.index.Dimensions)
	}
	fields, err := Encode(v)
	if err != nil {
		return err
	}
	if err := r.store.HSet(ctx, r.key(v.ID), fields); err != nil {
		return fmt.Errorf("hset %s: %w", v.ID, err)
	}
	return nil
}

// Get returns a venue by ID.
func (r *Repo) Get(ctx context.Context, id string) (domvenue.Venue, error) {
	m, err := r.store.HGetAll(ctx, r.key(id))
	if err != nil {
		if errors.Is(err, db.ErrKeyNotFound) {
			return domvenue.Venue{}, domain.ErrVenueNotFound
		}
		return domvenue.Venue{}, fmt.Errorf("hgetall %s: %w", id, err)
	}
	if len(m) == 0 {
		return domvenue.Venue{}, domain.ErrVenueNotFound
	}
	return Decode(id, m)
}

// GetMany returns the venues that exist among ids, in input order.
func (r *Repo) GetMany(ctx context.Context, ids []string) ([]domvenue.Venue, error) {
	if len(ids) == 0 {
		return nil, nil
	}
	keys := make([]string, len(ids))
	for i, id := range ids {
		keys[i] = r.key(id)
	}
	maps, err := r.store.HGetAllMulti(ctx, keys)
	if err != nil {
		return nil, fmt.Errorf("hgetall multi: %w", err)
	}
	out := make([]domvenue.Venue, 0, len(ids))
	for i, m := range maps {
		if len(m) == 0 {
			continue
		}
		v, err := Decode(ids[i], m)
		if err != nil {
			return nil, err
		}
		out = append(out, v)
	}
	return out, nil
}

// UpdateAttributes overwrites the aggregated attributes field. Concurrent
// recomputations for one venue are last-write-wins.
func (r *Repo) UpdateAttributes(ctx context.Context, id string, attrs map[attribute.Name]attribute.Aggregate) error {
	exists, err := r.store.Exists(ctx, r.key(id))
	if err != nil {
		return fmt.Errorf("check exists %s: %w", id, err)
	}
	if !exists {
		return domain.ErrVenueNotFound
	}
	data, err := json.Marshal(attrs)
	if err != nil {
		return fmt.Errorf("marshal attributes: %w", err)
	}
	if err := r.store.HSet(ctx, r.key(id), map[string]string{FieldAttributes: string(data)}); err != nil {
		return fmt.Errorf("hset attributes %s: %w", id, err)
	}
	return nil
}
