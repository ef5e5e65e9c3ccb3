package search

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"go.uber.org/zap"

	"github.com/kailas-cloud/venuesearch/internal/domain"
	"github.com/kailas-cloud/venuesearch/internal/domain/geo"
	"github.com/kailas-cloud/venuesearch/internal/domain/query"
	"github.com/kailas-cloud/venuesearch/internal/domain/search/mode"
	"github.com/kailas-cloud/venuesearch/internal/domain/search/request"
	"github.com/kailas-cloud/venuesearch/internal/domain/search/result"
	"github.com/kailas-cloud/venuesearch/internal/domain/venue"
	"github.com/kailas-cloud/venuesearch/internal/repository/cache"
	"github.com/kailas-cloud/venuesearch/internal/usecase/retrieval"
)

// --- Mocks ---

type mockUnderstander struct {
	parsed query.ParsedQuery
	err    error
	calls  int
}

func (m *mockUnderstander) Parse(_ context.Context, raw string) (query.ParsedQuery, error) {
	m.calls++
	q := m.parsed
	q.Raw = raw
	return q, m.err
}

type mockRetriever struct {
	outcome retrieval.Outcome
	err     error
	calls   int
	last    query.ParsedQuery
}

func (m *mockRetriever) Retrieve(_ context.Context, q query.ParsedQuery, _ int) (retrieval.Outcome, error) {
	m.calls++
	m.last = q
	return m.outcome, m.err
}

// passRanker keeps candidate order.
type passRanker struct{}

func (passRanker) Score(cs []result.Candidate, _ query.ParsedQuery) []result.Ranked {
	var out []result.Ranked
	for _, c := range cs {
		out = append(out, result.Ranked{Venue: c.Venue.Summarize(), Score: c.Score})
	}
	return out
}

type mapCache struct {
	data map[string][]byte
}

func (c *mapCache) Get(_ context.Context, a cache.Artifact, key string) ([]byte, bool) {
	v, ok := c.data[string(a)+key]
	return v, ok
}

func (c *mapCache) Set(_ context.Context, a cache.Artifact, key string, value []byte, _ time.Duration) error {
	c.data[string(a)+key] = value
	return nil
}

func candidates(n int) []result.Candidate {
	out := make([]result.Candidate, n)
	for i := range out {
		out[i] = result.Candidate{
			Venue: venue.Venue{ID: fmt.Sprintf("v%02d", i), Name: "Venue"},
			Score: 1 - float64(i)/100,
			Mode:  mode.Semantic,
		}
	}
	return out
}

type fixture struct {
	understanding *mockUnderstander
	retrieval     *mockRetriever
	cache         *mapCache
	svc           *Service
}

func newFixture() *fixture {
	f := &fixture{
		understanding: &mockUnderstander{parsed: query.ParsedQuery{
			Normalized:  "cheap sushi",
			Constraints: query.Constraints{Cuisines: []string{"sushi"}, Price: &query.PriceRange{Min: 1, Max: 1}},
			Embedding:   []float32{0.1, 0.2},
			Confidence:  query.ConfidenceModel,
			Source:      query.SourceModel,
		}},
		retrieval: &mockRetriever{outcome: retrieval.Outcome{
			Candidates: candidates(30),
			Stage:      retrieval.StageFiltered,
			Mode:       mode.Semantic,
		}},
		cache: &mapCache{data: map[string][]byte{}},
	}
	f.svc = New(f.understanding, f.retrieval, passRanker{}, f.cache, time.Minute, zap.NewNop())
	return f
}

// --- Tests ---

func TestSearch_RankedAndTruncated(t *testing.T) {
	f := newFixture()

	set, err := f.svc.Search(context.Background(), "cheap sushi", nil, request.Overrides{}, 10)
	if err != nil {
		t.Fatalf("Search: %v", err)
	}
	if len(set.Results) != 10 || set.Total != 30 {
		t.Errorf("results = %d total = %d", len(set.Results), set.Total)
	}
	if set.Results[0].Venue.ID != "v00" {
		t.Errorf("first = %s", set.Results[0].Venue.ID)
	}
	if set.Stage != string(retrieval.StageFiltered) || set.Mode != mode.Semantic || set.LowConfidence {
		t.Errorf("set = %+v", set)
	}
}

func TestSearch_OverridesWin(t *testing.T) {
	f := newFixture()
	loc := &geo.Point{Lat: 40.72, Lon: -74.0}

	_, err := f.svc.Search(context.Background(), "cheap sushi", loc,
		request.Overrides{PriceMax: 3, Cuisines: []string{"Ramen"}, RadiusMeters: 800}, 0)
	if err != nil {
		t.Fatal(err)
	}
	c := f.retrieval.last.Constraints
	if c.Location == nil || *c.Location != *loc || c.RadiusMeters != 800 {
		t.Errorf("location = %+v radius = %v", c.Location, c.RadiusMeters)
	}
	if c.Price == nil || *c.Price != (query.PriceRange{Min: 1, Max: 3}) {
		t.Errorf("price = %+v", c.Price)
	}
	if len(c.Cuisines) != 1 || c.Cuisines[0] != "ramen" {
		t.Errorf("cuisines = %v", c.Cuisines)
	}
}

func TestSearch_ResultCache(t *testing.T) {
	f := newFixture()
	ctx := context.Background()
	loc := &geo.Point{Lat: 40.72001, Lon: -74.00001}
	nearby := &geo.Point{Lat: 40.72002, Lon: -74.00002}

	first, err := f.svc.Search(ctx, "cheap sushi", loc, request.Overrides{}, 5)
	if err != nil {
		t.Fatal(err)
	}
	second, err := f.svc.Search(ctx, "cheap sushi", nearby, request.Overrides{}, 5)
	if err != nil {
		t.Fatal(err)
	}
	if f.retrieval.calls != 1 {
		t.Errorf("retrieval calls = %d, want 1 (same geohash cell)", f.retrieval.calls)
	}
	if second.Total != first.Total || len(second.Results) != 5 {
		t.Errorf("cached set = %+v", second)
	}

	if _, err := f.svc.Search(ctx, "cheap sushi", loc, request.Overrides{}, 6); err != nil {
		t.Fatal(err)
	}
	if f.retrieval.calls != 2 {
		t.Errorf("different limit must miss the cache")
	}
}

func TestSearch_DegradedResultsNotCached(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*query.ParsedQuery)
	}{
		{"heuristic parse", func(q *query.ParsedQuery) { q.Confidence = query.ConfidenceHeuristic }},
		{"no embedding", func(q *query.ParsedQuery) { q.Embedding = nil }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture()
			tt.mutate(&f.understanding.parsed)
			for range 2 {
				if _, err := f.svc.Search(context.Background(), "sushi", nil, request.Overrides{}, 0); err != nil {
					t.Fatal(err)
				}
			}
			if f.retrieval.calls != 2 {
				t.Errorf("retrieval calls = %d, want 2", f.retrieval.calls)
			}
		})
	}
}

func TestSearch_LowConfidenceAndAmbiguity(t *testing.T) {
	f := newFixture()
	f.understanding.parsed.Confidence = query.ConfidenceHeuristic
	f.understanding.parsed.Ambiguous = true
	f.understanding.parsed.AmbiguousTerms = []string{"asian"}

	set, err := f.svc.Search(context.Background(), "asian", nil, request.Overrides{}, 0)
	if err != nil {
		t.Fatal(err)
	}
	if !set.LowConfidence || !set.Ambiguous || set.AmbiguousTerms[0] != "asian" {
		t.Errorf("set = %+v", set)
	}
}

func TestSearch_EmptyResultIsNotAnError(t *testing.T) {
	f := newFixture()
	f.retrieval.outcome = retrieval.Outcome{Stage: retrieval.StageFallback, Mode: mode.Semantic}

	set, err := f.svc.Search(context.Background(), "sushi on the moon", nil, request.Overrides{}, 0)
	if err != nil {
		t.Fatalf("Search: %v", err)
	}
	if set.Results == nil || len(set.Results) != 0 || set.Total != 0 {
		t.Errorf("set = %+v", set)
	}
}

func TestSearch_Errors(t *testing.T) {
	t.Run("invalid request", func(t *testing.T) {
		f := newFixture()
		tests := []struct {
			name string
			text string
			loc  *geo.Point
			o    request.Overrides
		}{
			{"empty query", "   ", nil, request.Overrides{}},
			{"bad location", "sushi", &geo.Point{Lat: 91}, request.Overrides{}},
			{"bad price", "sushi", nil, request.Overrides{PriceMax: 9}},
			{"bad radius", "sushi", nil, request.Overrides{RadiusMeters: -1}},
		}
		for _, tt := range tests {
			_, err := f.svc.Search(context.Background(), tt.text, tt.loc, tt.o, 0)
			if !errors.Is(err, domain.ErrInvalidQuery) {
				t.Errorf("%s: err = %v, want ErrInvalidQuery", tt.name, err)
			}
		}
		if f.understanding.calls != 0 {
			t.Error("invalid requests must not reach the parser")
		}
	})

	t.Run("index unavailable", func(t *testing.T) {
		f := newFixture()
		f.retrieval.err = fmt.Errorf("count: %w", domain.ErrIndexUnavailable)
		_, err := f.svc.Search(context.Background(), "sushi", nil, request.Overrides{}, 0)
		if !errors.Is(err, domain.ErrIndexUnavailable) {
			t.Errorf("err = %v, want ErrIndexUnavailable", err)
		}
		if len(f.cache.data) != 0 {
			t.Error("failed search must not be cached")
		}
	})

	t.Run("cancelled", func(t *testing.T) {
		f := newFixture()
		f.understanding.err = context.Canceled
		_, err := f.svc.Search(context.Background(), "sushi", nil, request.Overrides{}, 0)
		if !errors.Is(err, context.Canceled) {
			t.Errorf("err = %v", err)
		}
	})
}
