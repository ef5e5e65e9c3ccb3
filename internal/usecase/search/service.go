package search

import (
	"context"
	"encoding/binary"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"math"
	"strconv"
	"time"

	"go.uber.org/zap"

	"github.com/kailas-cloud/venuesearch/internal/domain"
	"github.com/kailas-cloud/venuesearch/internal/domain/geo"
	"github.com/kailas-cloud/venuesearch/internal/domain/query"
	"github.com/kailas-cloud/venuesearch/internal/domain/search/request"
	"github.com/kailas-cloud/venuesearch/internal/domain/search/result"
	logpkg "github.com/kailas-cloud/venuesearch/internal/logger"
	"github.com/kailas-cloud/venuesearch/internal/metrics"
	"github.com/kailas-cloud/venuesearch/internal/repository/cache"
)

// locationCellPrecision quantizes caller locations in result cache keys.
const locationCellPrecision = 7

// Service is the search entry point: understanding, retrieval and ranking
// behind a result-set cache.
type Service struct {
	understanding Understander
	retrieval     Retriever
	ranker        Ranker
	cache         Cache
	ttl           time.Duration
	logger        *zap.Logger
}

// New creates a search service.
func New(u Understander, r Retriever, rk Ranker, c Cache, ttl time.Duration, logger *zap.Logger) *Service {
	return &Service{
		understanding: u,
		retrieval:     r,
		ranker:        rk,
		cache:         c,
		ttl:           ttl,
		logger:        logger,
	}
}

// Search runs a free-text venue search. Explicit location and overrides win
// over what the parser extracted. Invalid parameters wrap
// domain.ErrInvalidQuery; storage loss wraps domain.ErrIndexUnavailable.
// Zero matches is a normal, empty result.
func (s *Service) Search(
	ctx context.Context, text string, location *geo.Point, o request.Overrides, limit int,
) (result.Set, error) {
	req, err := request.New(text, location, o, limit)
	if err != nil {
		return result.Set{}, fmt.Errorf("%w: %w", domain.ErrInvalidQuery, err)
	}

	start := time.Now()
	cached := false
	defer func() {
		metrics.SearchDuration.WithLabelValues(strconv.FormatBool(cached)).Observe(time.Since(start).Seconds())
	}()
	log := logpkg.Or(ctx, s.logger)

	pq, err := s.understanding.Parse(ctx, req.Query())
	if err != nil {
		return result.Set{}, fmt.Errorf("understand query: %w", err)
	}
	pq.Constraints = req.Apply(pq.Constraints)

	key := resultKey(pq, req.Limit())
	if data, ok := s.cache.Get(ctx, cache.Results, key); ok {
		var set result.Set
		if err := json.Unmarshal(data, &set); err == nil {
			cached = true
			return set, nil
		}
	}

	out, err := s.retrieval.Retrieve(ctx, pq, 0)
	if err != nil {
		return result.Set{}, fmt.Errorf("retrieve: %w", err)
	}

	ranked := s.ranker.Score(out.Candidates, pq)
	total := len(ranked)
	if len(ranked) > req.Limit() {
		ranked = ranked[:req.Limit()]
	}
	if ranked == nil {
		ranked = []result.Ranked{}
	}

	set := result.Set{
		Results:        ranked,
		Total:          total,
		Mode:           out.Mode,
		Stage:          string(out.Stage),
		LowConfidence:  pq.LowConfidence(),
		Ambiguous:      pq.Ambiguous,
		AmbiguousTerms: pq.AmbiguousTerms,
	}

	// Degraded answers are not cached so recovery shows up immediately.
	if !set.LowConfidence && len(pq.Embedding) > 0 {
		if data, err := json.Marshal(set); err == nil {
			if err := s.cache.Set(ctx, cache.Results, key, data, s.ttl); err != nil {
				log.Debug("Result cache write failed", zap.Error(err))
			}
		}
	}
	log.Debug("Search served",
		zap.String("stage", set.Stage),
		zap.String("mode", string(set.Mode)),
		zap.Int("total", total),
	)
	return set, nil
}

// resultKey hashes everything that shapes a result set. The location
// enters as a geohash cell so nearby callers share entries.
func resultKey(pq query.ParsedQuery, limit int) string {
	c := pq.Constraints
	cell := ""
	if c.Location != nil {
		cell = c.Location.Cell(locationCellPrecision)
		c.Location = nil
	}
	constraints, _ := json.Marshal(c)
	return cache.Key(string(constraints), cell, vectorHex(pq.Embedding), strconv.Itoa(limit))
}

func vectorHex(v []float32) string {
	buf := make([]byte, len(v)*4)
	for i, f := range v {
		binary.LittleEndian.PutUint32(buf[i*4:], math.Float32bits(f))
	}
	return hex.EncodeToString(buf)
}
