// Package constraints is the Constraint Store: it maps informal query
// vocabulary to structured constraints and place names to points.
//
// Vocabulary lives in memory. Places not in the vocabulary fall through to a
// shared gazetteer hash in Redis, keyed by vocabulary version and fronted by
// the tiered cache.
package constraints

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"slices"
	"strconv"
	"time"

	"go.uber.org/zap"

	"github.com/kailas-cloud/venuesearch/internal/db"
	"github.com/kailas-cloud/venuesearch/internal/domain/attribute"
	"github.com/kailas-cloud/venuesearch/internal/domain/geo"
	"github.com/kailas-cloud/venuesearch/internal/domain/query"
	"github.com/kailas-cloud/venuesearch/internal/repository/cache"
)

// MaxPhraseWords is the longest vocabulary phrase, in words, callers need to
// try when scanning text.
const MaxPhraseWords = 3

// Place is a resolved place reference.
type Place struct {
	Name         string    `json:"name"`
	Point        geo.Point `json:"point"`
	RadiusMeters float64   `json:"radius_m"`
}

// gazetteer is the shared place lookup (ISP subset of db.HashStore).
type gazetteer interface {
	HGet(ctx context.Context, key, field string) (string, error)
}

// placeCache is the subset of the tiered cache used for place lookups.
type placeCache interface {
	Get(ctx context.Context, a cache.Artifact, key string) ([]byte, bool)
	Set(ctx context.Context, a cache.Artifact, key string, value []byte, ttl time.Duration) error
}

// cachedPlace records negative lookups too, so unknown phrases do not hit
// the gazetteer on every request.
type cachedPlace struct {
	Found bool  `json:"found"`
	Place Place `json:"place"`
}

// Store answers vocabulary and place lookups. Safe for concurrent use; the
// vocabulary is immutable after construction.
type Store struct {
	vocab     *Vocabulary
	gazetteer gazetteer
	cache     placeCache
	placesKey string
	placeTTL  time.Duration
	logger    *zap.Logger
}

// New creates a Store over an already validated vocabulary.
func New(
	v *Vocabulary, g gazetteer, c placeCache, prefix string, placeTTL time.Duration, logger *zap.Logger,
) *Store {
	return &Store{
		vocab:     v,
		gazetteer: g,
		cache:     c,
		placesKey: prefix + "places:v" + strconv.Itoa(v.Version),
		placeTTL:  placeTTL,
		logger:    logger,
	}
}

// Version is the vocabulary version; it is part of every derived cache key.
func (s *Store) Version() int { return s.vocab.Version }

// DefaultRadius is the radius used when a place carries none.
func (s *Store) DefaultRadius() float64 { return s.vocab.DefaultRadiusM }

// Cuisine maps a normalized phrase to its canonical cuisine tag.
func (s *Store) Cuisine(phrase string) (string, bool) {
	key := cuisineKey(phrase)
	if slices.Contains(s.vocab.Cuisines, key) || slices.Contains(s.vocab.BroadCuisines, key) {
		return key, true
	}
	if c, ok := s.vocab.Aliases[phrase]; ok {
		return c, true
	}
	return "", false
}

// IsBroad reports whether cuisine is a too-broad category such as "asian".
func (s *Store) IsBroad(cuisine string) bool {
	return slices.Contains(s.vocab.BroadCuisines, cuisine)
}

// Price maps a normalized phrase ("cheap", "$$") to a tier range.
func (s *Store) Price(phrase string) (query.PriceRange, bool) {
	p, ok := s.vocab.PriceTerms[phrase]
	if !ok {
		return query.PriceRange{}, false
	}
	return query.PriceRange{Min: p.Min, Max: p.Max}, true
}

// Attribute maps a normalized phrase ("quiet") to an attribute constraint.
func (s *Store) Attribute(phrase string) (attribute.Constraint, bool) {
	a, ok := s.vocab.AttributeTerms[phrase]
	if !ok {
		return attribute.Constraint{}, false
	}
	return attribute.Constraint{
		Attribute: attribute.Name(a.Attribute),
		Term:      phrase,
		Max:       a.Max,
		Min:       a.Min,
		Equals:    a.Equals,
		Hard:      a.Hard,
	}, true
}

// Party maps a normalized phrase ("date night", "big group") to a party class.
func (s *Store) Party(phrase string) (query.PartySize, bool) {
	p, ok := s.vocab.PartyTerms[phrase]
	return query.PartySize(p), ok
}

// OpenNow reports whether phrase asks for venues open right now.
func (s *Store) OpenNow(phrase string) bool {
	return slices.Contains(s.vocab.OpenNowTerms, phrase)
}

// ResolvePlace maps a place name to a point. ok is false for unknown places;
// err is non-nil only when the gazetteer could not be consulted.
func (s *Store) ResolvePlace(ctx context.Context, name string) (Place, bool, error) {
	name = query.Normalize(name)
	if name == "" {
		return Place{}, false, nil
	}
	if e, ok := s.vocab.Places[name]; ok {
		return s.place(name, e), true, nil
	}

	key := cache.Key(strconv.Itoa(s.vocab.Version), name)
	if data, ok := s.cache.Get(ctx, cache.Place, key); ok {
		var cp cachedPlace
		if err := json.Unmarshal(data, &cp); err == nil {
			return cp.Place, cp.Found, nil
		}
	}

	raw, err := s.gazetteer.HGet(ctx, s.placesKey, name)
	var cp cachedPlace
	switch {
	case errors.Is(err, db.ErrKeyNotFound):
	case err != nil:
		return Place{}, false, fmt.Errorf("resolve place %q: %w", name, err)
	default:
		var e PlaceEntry
		if err := json.Unmarshal([]byte(raw), &e); err != nil || !(geo.Point{Lat: e.Lat, Lon: e.Lon}).Valid() {
			s.logger.Warn("Ignoring malformed gazetteer entry", zap.String("place", name))
		} else {
			cp = cachedPlace{Found: true, Place: s.place(name, e)}
		}
	}

	if data, err := json.Marshal(cp); err == nil {
		if err := s.cache.Set(ctx, cache.Place, key, data, s.placeTTL); err != nil {
			s.logger.Debug("Place cache write failed", zap.Error(err))
		}
	}
	return cp.Place, cp.Found, nil
}

func (s *Store) place(name string, e PlaceEntry) Place {
	r := e.RadiusM
	if r <= 0 {
		r = s.vocab.DefaultRadiusM
	}
	return Place{Name: name, Point: geo.Point{Lat: e.Lat, Lon: e.Lon}, RadiusMeters: r}
}
