// Package ranking orders retrieval candidates with a weighted hybrid score.
// It is pure: no I/O, no clocks, no caches.
package ranking

import (
	"cmp"
	"fmt"
	"math"
	"slices"

	"github.com/kailas-cloud/venuesearch/internal/domain/attribute"
	"github.com/kailas-cloud/venuesearch/internal/domain/query"
	"github.com/kailas-cloud/venuesearch/internal/domain/search/mode"
	"github.com/kailas-cloud/venuesearch/internal/domain/search/result"
	"github.com/kailas-cloud/venuesearch/internal/domain/venue"
)

// neutral is used for a signal the query or venue cannot provide.
const neutral = 0.5

// weightTolerance absorbs float error in configured weights.
const weightTolerance = 1e-6

// Weights are the hybrid score coefficients. They must sum to 1.
type Weights struct {
	Semantic  float64
	Proximity float64
	Rating    float64
	Price     float64
}

// Config tunes the scorer.
type Config struct {
	Weights Weights
	// RatingMax is the top of the rating scale.
	RatingMax float64
	// NeutralRating is the normalized rating given to unrated venues.
	NeutralRating float64
	// PriceDecay is the price-match penalty per tier outside the requested range.
	PriceDecay float64
	// DefaultRadius applies when the query has a location but no radius.
	DefaultRadius float64
}

// Scorer implements the hybrid ranking formula.
type Scorer struct {
	cfg Config
}

// New validates cfg and returns a Scorer.
func New(cfg Config) (*Scorer, error) {
	w := cfg.Weights
	if w.Semantic < 0 || w.Proximity < 0 || w.Rating < 0 || w.Price < 0 {
		return nil, fmt.Errorf("weights must be non-negative: %+v", w)
	}
	if sum := w.Semantic + w.Proximity + w.Rating + w.Price; math.Abs(sum-1) > weightTolerance {
		return nil, fmt.Errorf("weights must sum to 1, got %g", sum)
	}
	if cfg.RatingMax <= 0 || cfg.DefaultRadius <= 0 {
		return nil, fmt.Errorf("rating max and default radius must be positive")
	}
	if cfg.NeutralRating < 0 || cfg.NeutralRating > 1 || cfg.PriceDecay < 0 {
		return nil, fmt.Errorf("neutral rating must be in [0,1] and price decay non-negative")
	}
	return &Scorer{cfg: cfg}, nil
}

// Score ranks candidates for q. The result is sorted by final score
// descending with ties broken by venue id ascending. Venues demoted by a soft
// attribute constraint follow all others; venues reliably violating a hard
// one are dropped.
func (s *Scorer) Score(candidates []result.Candidate, q query.ParsedQuery) []result.Ranked {
	c := q.Constraints
	maxBM25 := 0.0
	for _, cand := range candidates {
		if cand.Mode == mode.Keyword {
			maxBM25 = max(maxBM25, cand.Score)
		}
	}

	out := make([]result.Ranked, 0, len(candidates))
	for _, cand := range candidates {
		highlights, excluded, demoted := checkAttributes(cand.Venue, c.Attributes)
		if excluded {
			continue
		}

		b := result.Breakdown{
			Semantic: semantic(cand, maxBM25),
			Rating:   s.rating(cand.Venue),
			Price:    s.priceMatch(cand.Venue.PriceTier, c.Price),
		}
		b.Proximity, b.DistanceMeters = s.proximity(cand.Venue, c)

		w := s.cfg.Weights
		score := w.Semantic*b.Semantic + w.Proximity*b.Proximity + w.Rating*b.Rating + w.Price*b.Price

		out = append(out, result.Ranked{
			Venue:      cand.Venue.Summarize(),
			Score:      score,
			Breakdown:  b,
			Highlights: append(cuisineHighlights(cand.Venue, c.Cuisines), highlights...),
			Demoted:    demoted,
		})
	}

	slices.SortStableFunc(out, func(a, b result.Ranked) int {
		if a.Demoted != b.Demoted {
			if a.Demoted {
				return 1
			}
			return -1
		}
		if d := cmp.Compare(b.Score, a.Score); d != 0 {
			return d
		}
		return cmp.Compare(a.Venue.ID, b.Venue.ID)
	})
	return out
}

// semantic rescales the raw retrieval score to [0,1] according to how it was
// produced.
func semantic(c result.Candidate, maxBM25 float64) float64 {
	switch c.Mode {
	case mode.Semantic:
		return clamp01((c.Score + 1) / 2)
	case mode.Keyword:
		if maxBM25 <= 0 {
			return 0
		}
		return clamp01(c.Score / maxBM25)
	}
	return neutral
}

func (s *Scorer) proximity(v venue.Venue, c query.Constraints) (float64, *float64) {
	if c.Location == nil {
		return neutral, nil
	}
	radius := c.RadiusMeters
	if radius <= 0 {
		radius = s.cfg.DefaultRadius
	}
	d := c.Location.DistanceTo(v.Location)
	return 1 - clamp01(d/radius), &d
}

func (s *Scorer) rating(v venue.Venue) float64 {
	if !v.HasRating() {
		return s.cfg.NeutralRating
	}
	return clamp01(v.Rating / s.cfg.RatingMax)
}

func (s *Scorer) priceMatch(tier int, r *query.PriceRange) float64 {
	if r == nil {
		return 1
	}
	return max(0, 1-s.cfg.PriceDecay*float64(r.Deviation(tier)))
}

// checkAttributes applies attribute constraints as post-score filters.
// Only reliable aggregates can exclude or demote; unknown ones pass.
func checkAttributes(v venue.Venue, cs []attribute.Constraint) (highlights []string, excluded, demoted bool) {
	for _, c := range cs {
		switch c.Check(v.Attributes) {
		case attribute.Satisfied:
			highlights = append(highlights, highlightFor(c))
		case attribute.Violated:
			if c.Hard {
				return nil, true, false
			}
			demoted = true
		}
	}
	return highlights, false, demoted
}

func highlightFor(c attribute.Constraint) string {
	if c.Term != "" {
		return c.Term
	}
	if c.Equals != "" {
		return c.Equals
	}
	return string(c.Attribute)
}

func cuisineHighlights(v venue.Venue, wanted []string) []string {
	var out []string
	for _, w := range wanted {
		if slices.Contains(v.Cuisines, w) {
			out = append(out, w)
		}
	}
	return out
}

func clamp01(x float64) float64 {
	return math.Max(0, math.Min(1, x))
}
