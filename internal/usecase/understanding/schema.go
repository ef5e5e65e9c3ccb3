package understanding

import (
	"fmt"
	"strings"

	"github.com/sashabaranov/go-openai/jsonschema"

	"github.com/kailas-cloud/venuesearch/internal/domain/query"
	"github.com/kailas-cloud/venuesearch/internal/domain/search/request"
	"github.com/kailas-cloud/venuesearch/internal/domain/venue"
)

const (
	operation  = "query_parse"
	schemaName = "venue_query"
)

const systemPrompt = `You turn restaurant and venue search queries into structured constraints.
Return only JSON matching the schema. Omit fields the query does not mention; never emit null.
- cuisines: cuisine or dish categories, lowercase, e.g. "sushi", "italian".
- price_min / price_max: price tiers from 1 (cheapest) to 4 (most expensive).
- place: a neighborhood or landmark named in the query, verbatim.
- radius_m: only when the query states a distance.
- party_size: solo, pair, group or large_group.
- open_now: true only when the query asks for places open right now.
- attributes: atmosphere words from the query, e.g. "quiet", "romantic", "cozy".
- residual: the words not captured by any other field.`

var parseSchema = jsonschema.Definition{
	Type: jsonschema.Object,
	Properties: map[string]jsonschema.Definition{
		"cuisines":   {Type: jsonschema.Array, Items: &jsonschema.Definition{Type: jsonschema.String}},
		"price_min":  {Type: jsonschema.Integer},
		"price_max":  {Type: jsonschema.Integer},
		"place":      {Type: jsonschema.String},
		"radius_m":   {Type: jsonschema.Number},
		"party_size": {Type: jsonschema.String, Enum: []string{"solo", "pair", "group", "large_group"}},
		"open_now":   {Type: jsonschema.Boolean},
		"attributes": {Type: jsonschema.Array, Items: &jsonschema.Definition{Type: jsonschema.String}},
		"residual":   {Type: jsonschema.String},
	},
	Required: []string{"cuisines", "residual"},
}

// modelOutput is the completion payload after schema validation.
type modelOutput struct {
	Cuisines   []string `json:"cuisines"`
	PriceMin   *int     `json:"price_min,omitempty"`
	PriceMax   *int     `json:"price_max,omitempty"`
	Place      *string  `json:"place,omitempty"`
	RadiusM    float64  `json:"radius_m,omitempty"`
	PartySize  string   `json:"party_size,omitempty"`
	OpenNow    bool     `json:"open_now,omitempty"`
	Attributes []string `json:"attributes,omitempty"`
	Residual   string   `json:"residual"`
}

// checkOutput enforces domain bounds the JSON schema cannot express.
func checkOutput(o modelOutput) error {
	inTiers := func(p *int) bool {
		return p == nil || (*p >= venue.MinPriceTier && *p <= venue.MaxPriceTier)
	}
	if !inTiers(o.PriceMin) || !inTiers(o.PriceMax) {
		return fmt.Errorf("price outside tiers %d-%d", venue.MinPriceTier, venue.MaxPriceTier)
	}
	if o.PriceMin != nil && o.PriceMax != nil && *o.PriceMin > *o.PriceMax {
		return fmt.Errorf("price_min %d above price_max %d", *o.PriceMin, *o.PriceMax)
	}
	if o.Place != nil && strings.TrimSpace(*o.Place) == "" {
		return fmt.Errorf("place present but empty")
	}
	if o.RadiusM < 0 || o.RadiusM > request.MaxRadiusMeters {
		return fmt.Errorf("radius_m %g out of range", o.RadiusM)
	}
	if !query.PartySize(o.PartySize).Valid() {
		return fmt.Errorf("unknown party_size %q", o.PartySize)
	}
	return nil
}

// priceRange fills an open bound with the tier extreme.
func (o modelOutput) priceRange() *query.PriceRange {
	if o.PriceMin == nil && o.PriceMax == nil {
		return nil
	}
	r := query.PriceRange{Min: venue.MinPriceTier, Max: venue.MaxPriceTier}
	if o.PriceMin != nil {
		r.Min = *o.PriceMin
	}
	if o.PriceMax != nil {
		r.Max = *o.PriceMax
	}
	return &r
}
