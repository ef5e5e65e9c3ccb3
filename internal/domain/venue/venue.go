// Package venue holds the venue read model used by retrieval, ranking and
// the extraction pipeline.
package venue

import (
	"fmt"
	"regexp"
	"strings"

	"github.com/kailas-cloud/venuesearch/internal/domain/attribute"
	"github.com/kailas-cloud/venuesearch/internal/domain/geo"
)

// Price tier bounds.
const (
	MinPriceTier = 1
	MaxPriceTier = 4
)

var idRegex = regexp.MustCompile(`^[a-zA-Z0-9_-]{1,128}$`)

// Venue is a possibly-stale copy of a stored venue. Storage owns the record;
// the extraction pipeline is the only writer of Attributes.
type Venue struct {
	ID          string
	Name        string
	Location    geo.Point
	PriceTier   int
	Cuisines    []string
	Rating      float64 // rolling average, zero when RatingCount is zero
	RatingCount int
	Embedding   []float32
	Attributes  map[attribute.Name]attribute.Aggregate
}

// ValidateID checks a venue identifier.
func ValidateID(id string) error {
	if !idRegex.MatchString(id) {
		return fmt.Errorf("venue ID must be 1-128 alphanumeric, underscore or hyphen characters")
	}
	return nil
}

// Validate checks the fields the index relies on.
func (v Venue) Validate(dim int) error {
	if err := ValidateID(v.ID); err != nil {
		return err
	}
	if strings.TrimSpace(v.Name) == "" {
		return fmt.Errorf("venue %s: name is required", v.ID)
	}
	if !v.Location.Valid() {
		return fmt.Errorf("venue %s: invalid location %v", v.ID, v.Location)
	}
	if v.PriceTier < MinPriceTier || v.PriceTier > MaxPriceTier {
		return fmt.Errorf("venue %s: price tier %d outside [%d,%d]", v.ID, v.PriceTier, MinPriceTier, MaxPriceTier)
	}
	if dim > 0 && len(v.Embedding) != dim {
		return fmt.Errorf("venue %s: embedding has %d dimensions, want %d", v.ID, len(v.Embedding), dim)
	}
	return nil
}

// HasRating reports whether the venue has any rated reviews.
func (v Venue) HasRating() bool { return v.RatingCount > 0 }

// SearchText is the text indexed for keyword retrieval.
func (v Venue) SearchText() string {
	return strings.TrimSpace(v.Name + " " + strings.Join(v.Cuisines, " "))
}

// Filterable fields of the venue index.
const (
	FieldLocation  = "location"
	FieldPriceTier = "price_tier"
	FieldCuisines  = "cuisines"
)

// NormalizeCuisine lowercases and trims a cuisine tag.
func NormalizeCuisine(c string) string {
	return strings.ReplaceAll(strings.ToLower(strings.TrimSpace(c)), " ", "_")
}

// Summary is the venue projection returned to search callers.
type Summary struct {
	ID        string    `json:"id"`
	Name      string    `json:"name"`
	Location  geo.Point `json:"location"`
	PriceTier int       `json:"price_tier"`
	Cuisines  []string  `json:"cuisines"`
	Rating    float64   `json:"rating,omitempty"`
}

// Summarize projects v for callers.
func (v Venue) Summarize() Summary {
	return Summary{
		ID:        v.ID,
		Name:      v.Name,
		Location:  v.Location,
		PriceTier: v.PriceTier,
		Cuisines:  v.Cuisines,
		Rating:    v.Rating,
	}
}
