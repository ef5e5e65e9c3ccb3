// Package understanding turns raw query text into a ParsedQuery: structured
// constraints from the completion model (or a vocabulary heuristic when the
// model fails), a resolved place and a query embedding.
//
// Parsing never fails because of the model or embedding provider; it
// degrades instead.
package understanding

import (
	"context"
	"encoding/json"
	"slices"
	"strconv"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/kailas-cloud/venuesearch/internal/domain"
	"github.com/kailas-cloud/venuesearch/internal/domain/modeloutput"
	"github.com/kailas-cloud/venuesearch/internal/domain/query"
	"github.com/kailas-cloud/venuesearch/internal/domain/venue"
	logpkg "github.com/kailas-cloud/venuesearch/internal/logger"
	"github.com/kailas-cloud/venuesearch/internal/metrics"
	"github.com/kailas-cloud/venuesearch/internal/repository/cache"
)

// Service implements query understanding.
type Service struct {
	completer   domain.Completer
	embedder    domain.Embedder
	vocab       Vocabulary
	cache       Cache
	ttl         time.Duration
	// degradedTTL bounds how long a heuristic or embedding-less parse is
	// reused; zero disables caching them.
	degradedTTL time.Duration
	logger      *zap.Logger
}

// New creates a query understanding service.
func New(
	completer domain.Completer, embedder domain.Embedder, vocab Vocabulary,
	c Cache, ttl, degradedTTL time.Duration, logger *zap.Logger,
) *Service {
	return &Service{
		completer:   completer,
		embedder:    embedder,
		vocab:       vocab,
		cache:       c,
		ttl:         ttl,
		degradedTTL: degradedTTL,
		logger:      logger,
	}
}

// Parse returns the structured form of raw. The only error is a cancelled
// context; every provider failure degrades the result instead.
func (s *Service) Parse(ctx context.Context, raw string) (query.ParsedQuery, error) {
	if err := ctx.Err(); err != nil {
		return query.ParsedQuery{}, err //nolint:wrapcheck // context errors pass through
	}
	log := logpkg.Or(ctx, s.logger)

	normalized := query.Normalize(raw)
	q := query.ParsedQuery{Raw: raw, Normalized: normalized, Confidence: query.ConfidenceHeuristic}
	if normalized == "" {
		q.Source = query.SourceHeuristic
		return q, nil
	}

	key := cache.Key(strconv.Itoa(s.vocab.Version()), normalized)
	if data, ok := s.cache.Get(ctx, cache.Query, key); ok {
		var cached query.ParsedQuery
		if err := json.Unmarshal(data, &cached); err == nil {
			metrics.QueryParseTotal.WithLabelValues("cache").Inc()
			cached.Raw = raw
			return cached, nil
		}
	}

	var place string
	if out, ok := s.parseWithModel(ctx, log, normalized); ok {
		q.Constraints = s.fromModel(out)
		if out.Place != nil {
			place = *out.Place
		}
		q.Source = query.SourceModel
		q.Confidence = query.ConfidenceModel
	} else {
		q.Constraints, place = s.heuristic(ctx, normalized)
		q.Source = query.SourceHeuristic
	}
	metrics.QueryParseTotal.WithLabelValues(string(q.Source)).Inc()

	s.flagAmbiguity(&q)
	s.resolvePlace(ctx, log, &q, place)
	q.EnforceBounds()

	if res, err := s.embedder.Embed(ctx, normalized); err != nil {
		log.Warn("Query embedding unavailable, degrading to keyword retrieval", zap.Error(err))
	} else {
		q.Embedding = res.Embedding
	}

	s.store(ctx, log, key, q)
	return q, nil
}

// store caches q. Degraded parses are kept only briefly so an outage does
// not re-run the heuristic on every request, and recovery is picked up soon.
func (s *Service) store(ctx context.Context, log *zap.Logger, key string, q query.ParsedQuery) {
	ttl := s.ttl
	if q.Source != query.SourceModel || len(q.Embedding) == 0 {
		ttl = s.degradedTTL
	}
	if ttl <= 0 {
		return
	}
	data, err := json.Marshal(q)
	if err != nil {
		return
	}
	if err := s.cache.Set(ctx, cache.Query, key, data, ttl); err != nil {
		log.Debug("Parsed query cache write failed", zap.Error(err))
	}
}

func (s *Service) parseWithModel(ctx context.Context, log *zap.Logger, normalized string) (modelOutput, bool) {
	res, err := s.completer.Complete(ctx, domain.CompletionRequest{
		Operation:  operation,
		System:     systemPrompt,
		Prompt:     normalized,
		SchemaName: schemaName,
		Schema:     modeloutput.Schema(parseSchema),
	})
	if err != nil {
		log.Warn("Query parse model unavailable, using heuristic parse", zap.Error(err))
		return modelOutput{}, false
	}

	out := modeloutput.Decode(parseSchema, res.Content, checkOutput)
	if !out.Valid {
		metrics.ModelOutputTotal.WithLabelValues(operation, "malformed").Inc()
		log.Warn("Malformed query parse output, using heuristic parse", zap.Error(out.Err))
		return modelOutput{}, false
	}
	metrics.ModelOutputTotal.WithLabelValues(operation, "valid").Inc()
	return out.Value, true
}

// fromModel canonicalizes model output through the vocabulary. Unknown
// attribute words are dropped; unknown cuisines are kept as normalized tags.
func (s *Service) fromModel(o modelOutput) query.Constraints {
	c := query.Constraints{
		Price:        o.priceRange(),
		RadiusMeters: o.RadiusM,
		PartySize:    query.PartySize(o.PartySize),
		OpenNow:      o.OpenNow,
		Residual:     query.Normalize(o.Residual),
	}
	for _, raw := range o.Cuisines {
		phrase := query.Normalize(raw)
		if phrase == "" {
			continue
		}
		cu, ok := s.vocab.Cuisine(phrase)
		if !ok {
			cu = venue.NormalizeCuisine(phrase)
		}
		if !slices.Contains(c.Cuisines, cu) {
			c.Cuisines = append(c.Cuisines, cu)
		}
	}
	for _, raw := range o.Attributes {
		if a, ok := s.vocab.Attribute(query.Normalize(raw)); ok {
			c.Attributes = append(c.Attributes, a)
		}
	}
	return c
}

func (s *Service) flagAmbiguity(q *query.ParsedQuery) {
	for _, cu := range q.Constraints.Cuisines {
		if s.vocab.IsBroad(cu) {
			q.Ambiguous = true
			q.AmbiguousTerms = append(q.AmbiguousTerms, cu)
		}
	}
}

func (s *Service) resolvePlace(ctx context.Context, log *zap.Logger, q *query.ParsedQuery, name string) {
	name = query.Normalize(name)
	if name == "" {
		return
	}
	p, ok, err := s.vocab.ResolvePlace(ctx, name)
	switch {
	case err != nil:
		log.Warn("Place lookup failed", zap.String("place", name), zap.Error(err))
		return
	case !ok:
		log.Debug("Unknown place", zap.String("place", name))
		q.Constraints.Residual = strings.TrimSpace(q.Constraints.Residual + " " + name)
		return
	}
	loc := p.Point
	q.Constraints.Place = p.Name
	q.Constraints.Location = &loc
	if q.Constraints.RadiusMeters <= 0 {
		q.Constraints.RadiusMeters = p.RadiusMeters
	}
}
