// Package retrieval selects a bounded candidate set from the venue index:
// cheap exact filters and a geo pre-filter narrow the set, approximate
// vector search orders it.
package retrieval

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/kailas-cloud/venuesearch/internal/domain/query"
	"github.com/kailas-cloud/venuesearch/internal/domain/search/filter"
	"github.com/kailas-cloud/venuesearch/internal/domain/search/mode"
	"github.com/kailas-cloud/venuesearch/internal/domain/search/result"
	"github.com/kailas-cloud/venuesearch/internal/domain/venue"
	logpkg "github.com/kailas-cloud/venuesearch/internal/logger"
	"github.com/kailas-cloud/venuesearch/internal/metrics"
)

// Stage tells which filter set produced the candidates.
type Stage string

// Retrieval stages.
const (
	// StageFiltered ran with all applicable filters on the first try.
	StageFiltered Stage = "filtered"
	// StageWidened needed a larger geo region.
	StageWidened Stage = "widened"
	// StageFallback dropped every filter after widening was exhausted.
	StageFallback Stage = "fallback"
	// StageUnconstrained had no filters to apply.
	StageUnconstrained Stage = "unconstrained"
)

// Config tunes retrieval.
type Config struct {
	CandidateLimit    int
	MaxCandidateLimit int
	// MinCandidates is the filtered-set size below which the region widens.
	MinCandidates int
	// RegionExpansion scales the requested radius into the pre-filter region.
	RegionExpansion float64
	// RegionFloorMeters is the smallest pre-filter region.
	RegionFloorMeters float64
	MaxWidenings      int
	DefaultRadius     float64
}

// Outcome is a retrieved candidate set.
type Outcome struct {
	Candidates []result.Candidate
	Stage      Stage
	Mode       mode.Mode
	// RegionMeters is the geo region used, zero when none.
	RegionMeters float64
}

// Service implements candidate retrieval.
type Service struct {
	index  Index
	cfg    Config
	logger *zap.Logger
}

// New creates a retrieval service.
func New(index Index, cfg Config, logger *zap.Logger) *Service {
	return &Service{index: index, cfg: cfg, logger: logger}
}

// Retrieve returns at most limit candidates ordered by index relevance.
// limit <= 0 uses the configured default. An empty outcome is not an error.
func (s *Service) Retrieve(ctx context.Context, q query.ParsedQuery, limit int) (Outcome, error) {
	log := logpkg.Or(ctx, s.logger)
	limit = s.clampLimit(limit)
	m, text := searchMode(q)

	hard, err := hardFilters(q.Constraints)
	if err != nil {
		return Outcome{}, err
	}

	c := q.Constraints
	if c.Location != nil {
		radius := c.RadiusMeters
		if radius <= 0 {
			radius = s.cfg.DefaultRadius
		}
		region := max(radius*s.cfg.RegionExpansion, s.cfg.RegionFloorMeters)

		for attempt := 0; attempt <= s.cfg.MaxWidenings; attempt++ {
			geoCond, err := filter.NewGeo(venue.FieldLocation, filter.Radius{
				Lat: c.Location.Lat, Lon: c.Location.Lon, Meters: region,
			})
			if err != nil {
				return Outcome{}, fmt.Errorf("geo filter: %w", err)
			}
			filters := hard.With(geoCond)

			ok, err := s.enough(ctx, filters)
			if err != nil {
				return Outcome{}, err
			}
			if ok {
				stage := StageFiltered
				if attempt > 0 {
					stage = StageWidened
				}
				return s.run(ctx, q, m, text, filters, limit, stage, region)
			}
			log.Debug("Widening retrieval region",
				zap.Float64("region_m", region), zap.Int("attempt", attempt+1))
			region *= 2
		}
	} else if !hard.IsEmpty() {
		ok, err := s.enough(ctx, hard)
		if err != nil {
			return Outcome{}, err
		}
		if ok {
			return s.run(ctx, q, m, text, hard, limit, StageFiltered, 0)
		}
	} else {
		return s.run(ctx, q, m, text, filter.Expression{}, limit, StageUnconstrained, 0)
	}

	log.Warn("Filtered candidate set too small, falling back to unfiltered search",
		zap.Int("min_candidates", s.cfg.MinCandidates))
	return s.run(ctx, q, m, text, filter.Expression{}, limit, StageFallback, 0)
}

func (s *Service) enough(ctx context.Context, filters filter.Expression) (bool, error) {
	n, err := s.index.Count(ctx, filters)
	if err != nil {
		return false, fmt.Errorf("count candidates: %w", err)
	}
	return n >= s.cfg.MinCandidates, nil
}

func (s *Service) run(
	ctx context.Context, q query.ParsedQuery, m mode.Mode, text string,
	filters filter.Expression, limit int, stage Stage, region float64,
) (Outcome, error) {
	var (
		cands []result.Candidate
		err   error
	)
	switch m {
	case mode.Semantic:
		cands, err = s.index.KNN(ctx, q.Embedding, filters, limit)
	case mode.Keyword:
		cands, err = s.index.Keyword(ctx, text, filters, limit)
	default:
		cands, err = s.index.Browse(ctx, filters, limit)
	}
	if err != nil {
		return Outcome{}, fmt.Errorf("retrieve %s candidates: %w", m, err)
	}

	metrics.RetrievalStageTotal.WithLabelValues(string(stage), string(m)).Inc()
	metrics.RetrievalCandidates.Observe(float64(len(cands)))
	return Outcome{Candidates: cands, Stage: stage, Mode: m, RegionMeters: region}, nil
}

func (s *Service) clampLimit(limit int) int {
	if limit <= 0 {
		limit = s.cfg.CandidateLimit
	}
	return min(limit, s.cfg.MaxCandidateLimit)
}

// searchMode picks vector search when an embedding is present, BM25 over the
// leftover text otherwise, and a plain filtered listing as a last resort.
func searchMode(q query.ParsedQuery) (mode.Mode, string) {
	if len(q.Embedding) > 0 {
		return mode.Semantic, ""
	}
	text := q.Constraints.Residual
	if text == "" {
		text = q.Normalized
	}
	if text != "" {
		return mode.Keyword, text
	}
	return mode.Browse, ""
}

// hardFilters are the exact, index-backed constraints: price ceiling and
// cuisine membership (any of the requested tags).
func hardFilters(c query.Constraints) (filter.Expression, error) {
	var expr filter.Expression
	if c.Price != nil {
		cond, err := filter.NewRange(venue.FieldPriceTier, filter.AtMost(float64(c.Price.Max)))
		if err != nil {
			return filter.Expression{}, fmt.Errorf("price filter: %w", err)
		}
		expr = expr.With(cond)
	}
	if len(c.Cuisines) > 0 {
		conds := make([]filter.Condition, 0, len(c.Cuisines))
		for _, cu := range c.Cuisines {
			cond, err := filter.NewMatch(venue.FieldCuisines, cu)
			if err != nil {
				return filter.Expression{}, fmt.Errorf("cuisine filter: %w", err)
			}
			conds = append(conds, cond)
		}
		expr = expr.WithAny(conds...)
	}
	return expr, nil
}
