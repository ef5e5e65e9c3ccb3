package understanding

import (
	"context"
	"slices"
	"strings"

	"github.com/kailas-cloud/venuesearch/internal/domain/query"
	"github.com/kailas-cloud/venuesearch/internal/repository/constraints"
)

// placeMarkers introduce a place name: "sushi near soho".
var placeMarkers = []string{"near", "in", "around", "by"}

// fillers never carry a constraint and are dropped from the residual.
var fillers = []string{"a", "an", "the", "for", "with", "and", "to", "place", "places", "spot", "me", "some"}

// heuristic is the vocabulary-only parse used when the model is unavailable
// or its output is malformed. It scans for the longest known phrase at each
// position.
func (s *Service) heuristic(ctx context.Context, normalized string) (query.Constraints, string) {
	var (
		c        query.Constraints
		place    string
		residual []string
	)
	tokens := strings.Fields(normalized)

	for i := 0; i < len(tokens); {
		if slices.Contains(placeMarkers, tokens[i]) && i+1 < len(tokens) {
			if n, name := s.matchPlace(ctx, tokens[i+1:]); n > 0 {
				place = name
				i += 1 + n
				continue
			}
		}

		n := s.matchPhrase(tokens[i:], &c)
		if n == 0 {
			if !slices.Contains(fillers, tokens[i]) && !slices.Contains(placeMarkers, tokens[i]) {
				residual = append(residual, tokens[i])
			}
			n = 1
		}
		i += n
	}

	c.Residual = strings.Join(residual, " ")
	return c, place
}

// matchPhrase tries the longest vocabulary phrase at the head of tokens,
// records it in c and returns how many tokens it consumed.
func (s *Service) matchPhrase(tokens []string, c *query.Constraints) int {
	for n := min(constraints.MaxPhraseWords, len(tokens)); n > 0; n-- {
		phrase := strings.Join(tokens[:n], " ")
		if p, ok := s.vocab.Price(phrase); ok {
			c.Price = &p
			return n
		}
		if a, ok := s.vocab.Attribute(phrase); ok {
			c.Attributes = append(c.Attributes, a)
			return n
		}
		if cu, ok := s.vocab.Cuisine(phrase); ok {
			if !slices.Contains(c.Cuisines, cu) {
				c.Cuisines = append(c.Cuisines, cu)
			}
			return n
		}
		if p, ok := s.vocab.Party(phrase); ok {
			c.PartySize = p
			return n
		}
		if s.vocab.OpenNow(phrase) {
			c.OpenNow = true
			return n
		}
	}
	return 0
}

// matchPlace returns the longest known place name at the head of tokens.
// Gazetteer errors are treated as unknown places.
func (s *Service) matchPlace(ctx context.Context, tokens []string) (int, string) {
	for n := min(constraints.MaxPhraseWords, len(tokens)); n > 0; n-- {
		name := strings.Join(tokens[:n], " ")
		if _, ok, err := s.vocab.ResolvePlace(ctx, name); err == nil && ok {
			return n, name
		}
	}
	return 0, ""
}
