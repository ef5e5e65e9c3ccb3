package attribute

// Constraint is an attribute requirement expressed by a query, e.g. "quiet"
// becomes noise_level <= 2.
type Constraint struct {
	Attribute Name     `json:"attribute"`
	Term      string   `json:"term,omitempty"`
	Max       *float64 `json:"max,omitempty"`
	Min       *float64 `json:"min,omitempty"`
	Equals    string   `json:"equals,omitempty"`
	// Hard constraints exclude reliable violators; soft ones only demote them.
	Hard bool `json:"hard"`
}

// Verdict is the outcome of checking one constraint against a venue.
type Verdict int

const (
	// Unknown means the venue has no reliable aggregate for the attribute.
	Unknown Verdict = iota
	// Satisfied means the reliable aggregate meets the constraint.
	Satisfied
	// Violated means the reliable aggregate breaks the constraint.
	Violated
)

// Check evaluates c against the venue's aggregates. Missing or low-confidence
// aggregates yield Unknown so callers never exclude a venue on thin evidence.
func (c Constraint) Check(aggs map[Name]Aggregate) Verdict {
	agg, ok := aggs[c.Attribute]
	if !ok || !agg.Reliable() {
		return Unknown
	}

	if c.Equals != "" && agg.Label != c.Equals {
		return Violated
	}
	spec, _ := Lookup(c.Attribute)
	if spec.Kind == Ordinal {
		if c.Max != nil && agg.Value > *c.Max {
			return Violated
		}
		if c.Min != nil && agg.Value < *c.Min {
			return Violated
		}
	}
	return Satisfied
}
