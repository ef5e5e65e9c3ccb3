package constraints

import (
	"fmt"
	"os"
	"slices"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/kailas-cloud/venuesearch/internal/domain/attribute"
	"github.com/kailas-cloud/venuesearch/internal/domain/geo"
	"github.com/kailas-cloud/venuesearch/internal/domain/query"
	"github.com/kailas-cloud/venuesearch/internal/domain/venue"
)

// Vocabulary is the versioned, city-specific mapping from informal phrases to
// structured constraints. Bumping Version invalidates every cache entry that
// was derived from an older vocabulary.
type Vocabulary struct {
	Version        int                      `yaml:"version"`
	DefaultRadiusM float64                  `yaml:"default_radius_m"`
	Cuisines       []string                 `yaml:"cuisines"`
	Aliases        map[string]string        `yaml:"aliases"`
	BroadCuisines  []string                 `yaml:"broad_cuisines"`
	PriceTerms     map[string]PriceTerm     `yaml:"price_terms"`
	AttributeTerms map[string]AttributeTerm `yaml:"attribute_terms"`
	PartyTerms     map[string]string        `yaml:"party_terms"`
	OpenNowTerms   []string                 `yaml:"open_now_terms"`
	Places         map[string]PlaceEntry    `yaml:"places"`
}

// PriceTerm maps a phrase such as "cheap" to a tier range.
type PriceTerm struct {
	Min int `yaml:"min"`
	Max int `yaml:"max"`
}

// AttributeTerm maps a phrase such as "quiet" to an attribute constraint.
type AttributeTerm struct {
	Attribute string   `yaml:"attribute"`
	Max       *float64 `yaml:"max"`
	Min       *float64 `yaml:"min"`
	Equals    string   `yaml:"equals"`
	Hard      bool     `yaml:"hard"`
}

// PlaceEntry is a named point with an optional radius.
type PlaceEntry struct {
	Lat     float64 `yaml:"lat" json:"lat"`
	Lon     float64 `yaml:"lon" json:"lon"`
	RadiusM float64 `yaml:"radius_m,omitempty" json:"radius_m,omitempty"`
}

// LoadVocabulary reads and validates a vocabulary file.
func LoadVocabulary(path string) (*Vocabulary, error) {
	data, err := os.ReadFile(path) //nolint:gosec // path comes from trusted config
	if err != nil {
		return nil, fmt.Errorf("read vocabulary: %w", err)
	}
	return ParseVocabulary(data)
}

// ParseVocabulary decodes YAML, normalizes every key and validates entries.
func ParseVocabulary(data []byte) (*Vocabulary, error) {
	var v Vocabulary
	if err := yaml.Unmarshal(data, &v); err != nil {
		return nil, fmt.Errorf("parse vocabulary: %w", err)
	}
	v.normalize()
	if err := v.Validate(); err != nil {
		return nil, err
	}
	return &v, nil
}

// Validate checks versions, ranges and attribute references.
func (v *Vocabulary) Validate() error {
	if v.Version <= 0 {
		return fmt.Errorf("vocabulary version must be positive")
	}
	if v.DefaultRadiusM <= 0 {
		return fmt.Errorf("vocabulary default_radius_m must be positive")
	}
	for term, p := range v.PriceTerms {
		if !(query.PriceRange{Min: p.Min, Max: p.Max}).Valid() {
			return fmt.Errorf("price term %q: range %d-%d outside tiers %d-%d",
				term, p.Min, p.Max, venue.MinPriceTier, venue.MaxPriceTier)
		}
	}
	for term, a := range v.AttributeTerms {
		spec, ok := attribute.Lookup(attribute.Name(a.Attribute))
		if !ok {
			return fmt.Errorf("attribute term %q: unknown attribute %q", term, a.Attribute)
		}
		if a.Equals != "" && spec.Ordinal(a.Equals) == 0 {
			return fmt.Errorf("attribute term %q: unknown label %q", term, a.Equals)
		}
		if a.Equals == "" && a.Max == nil && a.Min == nil {
			return fmt.Errorf("attribute term %q: needs equals, min or max", term)
		}
	}
	for term, p := range v.PartyTerms {
		if !query.PartySize(p).Valid() {
			return fmt.Errorf("party term %q: unknown class %q", term, p)
		}
	}
	for name, p := range v.Places {
		if !(geo.Point{Lat: p.Lat, Lon: p.Lon}).Valid() {
			return fmt.Errorf("place %q: invalid coordinates", name)
		}
	}
	for alias, target := range v.Aliases {
		if !slices.Contains(v.Cuisines, target) && !slices.Contains(v.BroadCuisines, target) {
			return fmt.Errorf("alias %q: unknown cuisine %q", alias, target)
		}
	}
	return nil
}

func (v *Vocabulary) normalize() {
	v.Cuisines = normalizeList(v.Cuisines, venue.NormalizeCuisine)
	v.BroadCuisines = normalizeList(v.BroadCuisines, venue.NormalizeCuisine)
	v.OpenNowTerms = normalizeList(v.OpenNowTerms, query.Normalize)
	v.Aliases = normalizeKeys(v.Aliases)
	for k, c := range v.Aliases {
		v.Aliases[k] = venue.NormalizeCuisine(c)
	}
	v.PriceTerms = normalizeKeys(v.PriceTerms)
	v.AttributeTerms = normalizeKeys(v.AttributeTerms)
	v.PartyTerms = normalizeKeys(v.PartyTerms)
	v.Places = normalizeKeys(v.Places)
}

func normalizeList(in []string, f func(string) string) []string {
	out := make([]string, 0, len(in))
	for _, s := range in {
		if n := f(s); n != "" {
			out = append(out, n)
		}
	}
	return out
}

func normalizeKeys[V any](in map[string]V) map[string]V {
	out := make(map[string]V, len(in))
	for k, v := range in {
		out[query.Normalize(k)] = v
	}
	return out
}

// cuisineKey turns a normalized phrase into cuisine form ("middle eastern" ->
// "middle_eastern").
func cuisineKey(phrase string) string {
	return strings.ReplaceAll(phrase, " ", "_")
}
