// Package query holds the parsed form of a natural-language search.
package query

import (
	"strings"
	"unicode"

	"github.com/kailas-cloud/venuesearch/internal/domain/attribute"
	"github.com/kailas-cloud/venuesearch/internal/domain/geo"
	"github.com/kailas-cloud/venuesearch/internal/domain/venue"
)

// MaxRawLength bounds the query text accepted from callers.
const MaxRawLength = 512

// Parse confidence levels.
const (
	ConfidenceModel     = 0.9
	ConfidenceHeuristic = 0.3
	// LowConfidenceBelow marks the threshold under which a parse is low confidence.
	LowConfidenceBelow = 0.5
)

// Source tells which parser produced the constraints.
type Source string

// Parser sources.
const (
	SourceModel     Source = "model"
	SourceHeuristic Source = "heuristic"
)

// PartySize is a coarse group-size class.
type PartySize string

// Party size classes.
const (
	PartyAny   PartySize = ""
	PartySolo  PartySize = "solo"
	PartyPair  PartySize = "pair"
	PartyGroup PartySize = "group"
	PartyLarge PartySize = "large_group"
)

// Valid reports whether p is a known class.
func (p PartySize) Valid() bool {
	switch p {
	case PartyAny, PartySolo, PartyPair, PartyGroup, PartyLarge:
		return true
	}
	return false
}

// PriceRange is an inclusive price tier range.
type PriceRange struct {
	Min int `json:"min"`
	Max int `json:"max"`
}

// Valid reports whether the range lies within venue price tiers and is ordered.
func (p PriceRange) Valid() bool {
	return p.Min >= venue.MinPriceTier && p.Max <= venue.MaxPriceTier && p.Min <= p.Max
}

// Deviation is how many tiers tier lies outside the range, zero when inside.
func (p PriceRange) Deviation(tier int) int {
	switch {
	case tier < p.Min:
		return p.Min - tier
	case tier > p.Max:
		return tier - p.Max
	}
	return 0
}

// Constraints is the structured part of a query.
type Constraints struct {
	Cuisines     []string               `json:"cuisines,omitempty"`
	Price        *PriceRange            `json:"price,omitempty"`
	Place        string                 `json:"place,omitempty"`
	Location     *geo.Point             `json:"location,omitempty"`
	RadiusMeters float64                `json:"radius_m,omitempty"`
	PartySize    PartySize              `json:"party_size,omitempty"`
	OpenNow      bool                   `json:"open_now,omitempty"`
	Attributes   []attribute.Constraint `json:"attributes,omitempty"`
	Residual     string                 `json:"residual,omitempty"`
}

// IsEmpty reports whether no structured constraint was extracted.
func (c Constraints) IsEmpty() bool {
	return len(c.Cuisines) == 0 && c.Price == nil && c.Location == nil &&
		c.PartySize == PartyAny && !c.OpenNow && len(c.Attributes) == 0
}

// ParsedQuery is the per-request result of query understanding. It is cached
// by normalized text and never persisted.
type ParsedQuery struct {
	Raw            string      `json:"raw"`
	Normalized     string      `json:"normalized"`
	Constraints    Constraints `json:"constraints"`
	Embedding      []float32   `json:"embedding,omitempty"`
	Confidence     float64     `json:"confidence"`
	Source         Source      `json:"source"`
	Ambiguous      bool        `json:"ambiguous,omitempty"`
	AmbiguousTerms []string    `json:"ambiguous_terms,omitempty"`
}

// LowConfidence reports whether callers should distrust the structured constraints.
func (q ParsedQuery) LowConfidence() bool {
	return q.Confidence < LowConfidenceBelow
}

// EnforceBounds drops constraints outside their domain and lowers confidence
// when it does. After it returns, any price range present is valid.
func (q *ParsedQuery) EnforceBounds() {
	c := &q.Constraints
	dropped := false
	if c.Price != nil && !c.Price.Valid() {
		c.Price = nil
		dropped = true
	}
	if c.Location != nil && !c.Location.Valid() {
		c.Location = nil
		c.RadiusMeters = 0
		dropped = true
	}
	if c.RadiusMeters < 0 {
		c.RadiusMeters = 0
		dropped = true
	}
	if !c.PartySize.Valid() {
		c.PartySize = PartyAny
		dropped = true
	}
	if dropped {
		q.Confidence = min(q.Confidence, ConfidenceHeuristic)
	}
}

// Normalize lowercases text, strips punctuation other than '$' and collapses
// whitespace. The result is the cache key basis for parsed queries.
func Normalize(raw string) string {
	var b strings.Builder
	b.Grow(len(raw))
	space := false
	for _, r := range strings.ToLower(raw) {
		switch {
		case unicode.IsLetter(r) || unicode.IsDigit(r) || r == '$' || r == '\'':
			if space && b.Len() > 0 {
				b.WriteByte(' ')
			}
			space = false
			b.WriteRune(r)
		default:
			space = true
		}
	}
	return b.String()
}
