package request

import (
	"fmt"
	"strings"

	"github.com/kailas-cloud/venuesearch/internal/domain/geo"
	"github.com/kailas-cloud/venuesearch/internal/domain/query"
	"github.com/kailas-cloud/venuesearch/internal/domain/venue"
)

// Search parameter limits.
const (
	DefaultLimit = 20
	MaxLimit     = 100
	// MaxRadiusMeters caps explicit radius overrides.
	MaxRadiusMeters = 50_000
)

// Overrides are explicit caller filters. Set fields replace whatever the
// query parser extracted for the same constraint.
type Overrides struct {
	PriceMax     int
	Cuisines     []string
	RadiusMeters float64
}

// IsEmpty reports whether no override is set.
func (o Overrides) IsEmpty() bool {
	return o.PriceMax == 0 && len(o.Cuisines) == 0 && o.RadiusMeters == 0
}

// Request is a validated search call.
type Request struct {
	query     string
	location  *geo.Point
	overrides Overrides
	limit     int
}

// New validates and normalizes search parameters. Limit defaults to 20.
func New(q string, location *geo.Point, overrides Overrides, limit int) (Request, error) {
	if strings.TrimSpace(q) == "" {
		return Request{}, fmt.Errorf("query is required")
	}
	if len(q) > query.MaxRawLength {
		return Request{}, fmt.Errorf("query too long (max %d chars)", query.MaxRawLength)
	}
	if location != nil && !location.Valid() {
		return Request{}, fmt.Errorf("location out of range: lat must be in [-90,90], lon in [-180,180]")
	}
	if overrides.PriceMax != 0 &&
		(overrides.PriceMax < venue.MinPriceTier || overrides.PriceMax > venue.MaxPriceTier) {
		return Request{}, fmt.Errorf("price_max must be between %d and %d", venue.MinPriceTier, venue.MaxPriceTier)
	}
	if overrides.RadiusMeters < 0 || overrides.RadiusMeters > MaxRadiusMeters {
		return Request{}, fmt.Errorf("radius_m must be between 0 and %d", MaxRadiusMeters)
	}
	cuisines := make([]string, 0, len(overrides.Cuisines))
	for _, c := range overrides.Cuisines {
		if c = venue.NormalizeCuisine(c); c != "" {
			cuisines = append(cuisines, c)
		}
	}
	overrides.Cuisines = cuisines

	if limit <= 0 {
		limit = DefaultLimit
	}
	if limit > MaxLimit {
		limit = MaxLimit
	}

	return Request{
		query:     q,
		location:  location,
		overrides: overrides,
		limit:     limit,
	}, nil
}

// Query returns the raw query text.
func (r *Request) Query() string { return r.query }

// Location returns the caller's point, nil when not supplied.
func (r *Request) Location() *geo.Point { return r.location }

// Overrides returns the explicit filters.
func (r *Request) Overrides() Overrides { return r.overrides }

// Limit returns the maximum results to return.
func (r *Request) Limit() int { return r.limit }

// Apply merges the caller's location and overrides into parsed constraints.
// The caller's location wins over a resolved place name.
func (r *Request) Apply(c query.Constraints) query.Constraints {
	if r.location != nil {
		loc := *r.location
		c.Location = &loc
	}
	o := r.overrides
	if o.PriceMax != 0 {
		lo := venue.MinPriceTier
		if c.Price != nil && c.Price.Min <= o.PriceMax {
			lo = c.Price.Min
		}
		c.Price = &query.PriceRange{Min: lo, Max: o.PriceMax}
	}
	if len(o.Cuisines) > 0 {
		c.Cuisines = append([]string(nil), o.Cuisines...)
	}
	if o.RadiusMeters > 0 {
		c.RadiusMeters = o.RadiusMeters
	}
	return c
}
