package main

import (
	"slices"
	"strings"

	"github.com/kailas-cloud/venuesearch/internal/domain/geo"
	"github.com/kailas-cloud/venuesearch/internal/domain/query"
	"github.com/kailas-cloud/venuesearch/internal/domain/venue"
)

// Skip reasons, used as metric labels.
const (
	skipNoCoords   = "no_coords"
	skipClosed     = "closed"
	skipNotDining  = "not_dining"
	skipInvalidRow = "invalid_row"
)

const (
	diningRoot     = "dining and drinking"
	labelSeparator = ">"
)

// FSQ category names carry a venue-type suffix ("Ramen Restaurant").
var labelSuffixes = []string{" restaurant", " joint", " place", " house", " shop", " bar"}

type cuisineMapper interface {
	Cuisine(phrase string) (string, bool)
}

// converter turns FSQ rows into venues without embeddings.
type converter struct {
	cuisines  cuisineMapper
	priceTier int
}

// convert returns the venue or the reason the row was skipped.
func (c converter) convert(row *placeRow) (venue.Venue, string) {
	if row.Latitude == nil || row.Longitude == nil {
		return venue.Venue{}, skipNoCoords
	}
	if row.DateClosed != nil && *row.DateClosed != "" {
		return venue.Venue{}, skipClosed
	}
	if !isDining(row.Labels) {
		return venue.Venue{}, skipNotDining
	}
	v := venue.Venue{
		ID:        row.ID,
		Name:      strings.TrimSpace(row.Name),
		Location:  geo.Point{Lat: *row.Latitude, Lon: *row.Longitude},
		PriceTier: c.priceTier,
		Cuisines:  c.cuisinesFromLabels(row.Labels),
	}
	if err := v.Validate(0); err != nil {
		return venue.Venue{}, skipInvalidRow
	}
	return v, ""
}

func isDining(labels []string) bool {
	for _, l := range labels {
		if strings.HasPrefix(strings.ToLower(strings.TrimSpace(l)), diningRoot) {
			return true
		}
	}
	return false
}

// cuisinesFromLabels maps every category path segment through the vocabulary,
// most specific first.
func (c converter) cuisinesFromLabels(labels []string) []string {
	var out []string
	for _, l := range labels {
		segments := strings.Split(l, labelSeparator)
		for i := len(segments) - 1; i > 0; i-- {
			cuisine, ok := c.lookup(segments[i])
			if ok && !slices.Contains(out, cuisine) {
				out = append(out, cuisine)
			}
		}
	}
	return out
}

func (c converter) lookup(segment string) (string, bool) {
	phrase := query.Normalize(segment)
	if cuisine, ok := c.cuisines.Cuisine(phrase); ok {
		return cuisine, true
	}
	for _, suffix := range labelSuffixes {
		if trimmed, ok := strings.CutSuffix(phrase, suffix); ok && trimmed != "" {
			return c.cuisines.Cuisine(trimmed)
		}
	}
	return "", false
}
