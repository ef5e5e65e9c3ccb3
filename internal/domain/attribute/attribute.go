// Package attribute defines the fixed review attribute schema shared by
// extraction, aggregation and attribute filters.
package attribute

import (
	"fmt"
	"slices"
	"time"
)

// Name identifies an attribute.
type Name string

// Known attributes.
const (
	NoiseLevel  Name = "noise_level"
	Vibe        Name = "vibe"
	FoodQuality Name = "food_quality"
)

// Kind tells how values of an attribute combine.
type Kind int

const (
	// Ordinal values are ranked labels mapped to 1..len(Labels) and averaged.
	Ordinal Kind = iota
	// Categorical values are unordered labels combined by weighted vote.
	Categorical
)

// Spec describes one attribute of the schema.
type Spec struct {
	Name   Name
	Kind   Kind
	Labels []string
}

var schema = []Spec{
	{
		Name:   NoiseLevel,
		Kind:   Ordinal,
		Labels: []string{"very_quiet", "quiet", "moderate", "loud", "very_loud"},
	},
	{
		Name:   Vibe,
		Kind:   Categorical,
		Labels: []string{"romantic", "casual", "lively", "cozy", "upscale", "family_friendly"},
	},
	{
		Name:   FoodQuality,
		Kind:   Ordinal,
		Labels: []string{"poor", "average", "good", "excellent"},
	},
}

// Schema returns every attribute spec in a stable order.
func Schema() []Spec { return slices.Clone(schema) }

// Lookup returns the spec for name.
func Lookup(name Name) (Spec, bool) {
	for _, s := range schema {
		if s.Name == name {
			return s, true
		}
	}
	return Spec{}, false
}

// Ordinal returns the 1-based rank of label, or 0 if label is not part of the spec.
func (s Spec) Ordinal(label string) int {
	if i := slices.Index(s.Labels, label); i >= 0 {
		return i + 1
	}
	return 0
}

// LabelAt returns the label nearest to an ordinal value.
func (s Spec) LabelAt(v float64) string {
	if len(s.Labels) == 0 {
		return ""
	}
	i := int(v+0.5) - 1
	i = max(0, min(i, len(s.Labels)-1))
	return s.Labels[i]
}

// Value is one extracted attribute value for a single review.
type Value struct {
	Label string  `json:"label"`
	Score float64 `json:"score,omitempty"` // ordinal rank, zero for categorical
}

// Values maps attribute names to a review's extracted values.
type Values map[Name]Value

// NewValue validates label against the schema and fills the ordinal score.
func NewValue(name Name, label string) (Value, error) {
	spec, ok := Lookup(name)
	if !ok {
		return Value{}, fmt.Errorf("unknown attribute %q", name)
	}
	if !slices.Contains(spec.Labels, label) {
		return Value{}, fmt.Errorf("attribute %s: label %q not in %v", name, label, spec.Labels)
	}
	v := Value{Label: label}
	if spec.Kind == Ordinal {
		v.Score = float64(spec.Ordinal(label))
	}
	return v, nil
}

// Aggregate is the venue-level combination of per-review values.
type Aggregate struct {
	// Value is the weighted mean rank for ordinal attributes and the
	// winning label's weight share for categorical ones.
	Value      float64   `json:"value"`
	Label      string    `json:"label"`
	Confidence float64   `json:"confidence"`
	Agreement  float64   `json:"agreement"`
	Samples    int       `json:"samples"`
	Low        bool      `json:"low_confidence"`
	UpdatedAt  time.Time `json:"updated_at"`
}

// Reliable reports whether filters may hard-exclude a venue on this aggregate.
func (a Aggregate) Reliable() bool {
	return a.Samples > 0 && !a.Low
}
