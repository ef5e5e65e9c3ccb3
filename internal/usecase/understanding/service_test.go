package understanding

import (
	"context"
	"errors"
	"slices"
	"testing"
	"time"

	"go.uber.org/zap"

	"github.com/kailas-cloud/venuesearch/internal/domain"
	"github.com/kailas-cloud/venuesearch/internal/domain/attribute"
	"github.com/kailas-cloud/venuesearch/internal/domain/geo"
	"github.com/kailas-cloud/venuesearch/internal/domain/query"
	"github.com/kailas-cloud/venuesearch/internal/repository/cache"
	"github.com/kailas-cloud/venuesearch/internal/repository/constraints"
)

// --- Mocks ---

type mockCompleter struct {
	content string
	err     error
	calls   int
	lastReq domain.CompletionRequest
}

func (m *mockCompleter) Complete(_ context.Context, req domain.CompletionRequest) (domain.CompletionResult, error) {
	m.calls++
	m.lastReq = req
	if m.err != nil {
		return domain.CompletionResult{}, m.err
	}
	return domain.CompletionResult{Content: m.content}, nil
}

type mockEmbedder struct {
	err   error
	calls int
}

func (m *mockEmbedder) Embed(_ context.Context, _ string) (domain.EmbeddingResult, error) {
	m.calls++
	if m.err != nil {
		return domain.EmbeddingResult{}, m.err
	}
	return domain.EmbeddingResult{Embedding: []float32{0.1, 0.2, 0.3}}, nil
}

type stubVocab struct {
	cuisines map[string]string
	broad    []string
	prices   map[string]query.PriceRange
	attrs    map[string]attribute.Constraint
	places   map[string]geo.Point
	placeErr error
}

func newStubVocab() *stubVocab {
	maxQuiet := 2.0
	return &stubVocab{
		cuisines: map[string]string{"sushi": "sushi", "tacos": "mexican", "asian": "asian", "pizza": "pizza"},
		broad:    []string{"asian"},
		prices:   map[string]query.PriceRange{"cheap": {Min: 1, Max: 1}, "upscale": {Min: 3, Max: 4}},
		attrs: map[string]attribute.Constraint{
			"quiet":    {Attribute: attribute.NoiseLevel, Max: &maxQuiet, Hard: true},
			"romantic": {Attribute: attribute.Vibe, Equals: "romantic"},
		},
		places: map[string]geo.Point{"soho": {Lat: 40.7233, Lon: -74.003}, "east village": {Lat: 40.7265, Lon: -73.9815}},
	}
}

func (v *stubVocab) Version() int { return 3 }

func (v *stubVocab) Cuisine(p string) (string, bool) { c, ok := v.cuisines[p]; return c, ok }

func (v *stubVocab) IsBroad(c string) bool { return slices.Contains(v.broad, c) }

func (v *stubVocab) Price(p string) (query.PriceRange, bool) { r, ok := v.prices[p]; return r, ok }

func (v *stubVocab) Attribute(p string) (attribute.Constraint, bool) {
	a, ok := v.attrs[p]
	if ok {
		a.Term = p
	}
	return a, ok
}

func (v *stubVocab) Party(p string) (query.PartySize, bool) {
	if p == "date night" {
		return query.PartyPair, true
	}
	return query.PartyAny, false
}

func (v *stubVocab) OpenNow(p string) bool { return p == "open now" }

func (v *stubVocab) ResolvePlace(_ context.Context, name string) (constraints.Place, bool, error) {
	if v.placeErr != nil {
		return constraints.Place{}, false, v.placeErr
	}
	pt, ok := v.places[name]
	if !ok {
		return constraints.Place{}, false, nil
	}
	return constraints.Place{Name: name, Point: pt, RadiusMeters: 1200}, true, nil
}

type mapCache struct {
	data    map[string][]byte
	sets    int
	lastTTL time.Duration
}

func newMapCache() *mapCache { return &mapCache{data: map[string][]byte{}} }

func (c *mapCache) Get(_ context.Context, a cache.Artifact, key string) ([]byte, bool) {
	v, ok := c.data[string(a)+"|"+key]
	return v, ok
}

func (c *mapCache) Set(_ context.Context, a cache.Artifact, key string, value []byte, ttl time.Duration) error {
	c.sets++
	c.lastTTL = ttl
	c.data[string(a)+"|"+key] = value
	return nil
}

type fixture struct {
	completer *mockCompleter
	embedder  *mockEmbedder
	vocab     *stubVocab
	cache     *mapCache
	svc       *Service
}

func newFixture(content string) *fixture {
	f := &fixture{
		completer: &mockCompleter{content: content},
		embedder:  &mockEmbedder{},
		vocab:     newStubVocab(),
		cache:     newMapCache(),
	}
	f.svc = New(f.completer, f.embedder, f.vocab, f.cache, time.Hour, 30*time.Second, zap.NewNop())
	return f
}

// --- Tests ---

func TestParse_ModelOutput(t *testing.T) {
	f := newFixture(`{"cuisines":["Sushi"],"price_max":1,"place":"SoHo","attributes":["quiet","loud-ish"],"residual":"dinner"}`)

	q, err := f.svc.Parse(context.Background(), "Cheap sushi dinner, quiet, near SoHo")
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	if q.Source != query.SourceModel || q.LowConfidence() {
		t.Errorf("source = %s, confidence = %v", q.Source, q.Confidence)
	}
	c := q.Constraints
	if !slices.Equal(c.Cuisines, []string{"sushi"}) {
		t.Errorf("cuisines = %v", c.Cuisines)
	}
	if c.Price == nil || *c.Price != (query.PriceRange{Min: 1, Max: 1}) {
		t.Errorf("price = %+v, want 1-1", c.Price)
	}
	if c.Location == nil || c.Place != "soho" || c.RadiusMeters != 1200 {
		t.Errorf("location = %+v place = %q radius = %v", c.Location, c.Place, c.RadiusMeters)
	}
	if len(c.Attributes) != 1 || c.Attributes[0].Attribute != attribute.NoiseLevel {
		t.Errorf("attributes = %+v, want only noise_level", c.Attributes)
	}
	if c.Residual != "dinner" {
		t.Errorf("residual = %q", c.Residual)
	}
	if len(q.Embedding) == 0 {
		t.Error("expected query embedding")
	}
	if f.completer.lastReq.Operation != operation || len(f.completer.lastReq.Schema) == 0 {
		t.Errorf("request = %+v", f.completer.lastReq)
	}
	if f.cache.sets != 1 || f.cache.lastTTL != time.Hour {
		t.Errorf("cache sets = %d ttl = %v, want 1 at the full TTL", f.cache.sets, f.cache.lastTTL)
	}
}

func TestParse_CacheHitSkipsProviders(t *testing.T) {
	f := newFixture(`{"cuisines":["pizza"],"residual":""}`)
	ctx := context.Background()

	if _, err := f.svc.Parse(ctx, "Pizza!"); err != nil {
		t.Fatal(err)
	}
	q, err := f.svc.Parse(ctx, "  pizza ")
	if err != nil {
		t.Fatal(err)
	}
	if f.completer.calls != 1 || f.embedder.calls != 1 {
		t.Errorf("calls = %d/%d, want 1/1", f.completer.calls, f.embedder.calls)
	}
	if q.Raw != "  pizza " || !slices.Equal(q.Constraints.Cuisines, []string{"pizza"}) {
		t.Errorf("cached parse = %+v", q)
	}
}

func TestParse_MalformedOutputFallsBack(t *testing.T) {
	tests := []struct {
		name    string
		content string
	}{
		{"not json", `sure! here are your constraints`},
		{"truncated", `{"cuisines":["sushi"],"resid`},
		{"missing required", `{"price_max":2}`},
		{"price out of range", `{"cuisines":[],"price_max":7,"residual":""}`},
		{"inverted price", `{"cuisines":[],"price_min":4,"price_max":1,"residual":""}`},
		{"unknown party", `{"cuisines":[],"party_size":"horde","residual":""}`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture(tt.content)
			q, err := f.svc.Parse(context.Background(), "cheap sushi near soho")
			if err != nil {
				t.Fatalf("Parse: %v", err)
			}
			if q.Source != query.SourceHeuristic || !q.LowConfidence() {
				t.Errorf("source = %s, confidence = %v", q.Source, q.Confidence)
			}
			c := q.Constraints
			if !slices.Equal(c.Cuisines, []string{"sushi"}) {
				t.Errorf("cuisines = %v", c.Cuisines)
			}
			if c.Price == nil || c.Price.Max != 1 {
				t.Errorf("price = %+v", c.Price)
			}
			if c.Location == nil {
				t.Error("expected heuristic place resolution")
			}
			if f.cache.sets != 1 || f.cache.lastTTL != 30*time.Second {
				t.Errorf("cache sets = %d ttl = %v, want heuristic parse cached briefly", f.cache.sets, f.cache.lastTTL)
			}
		})
	}
}

func TestParse_CompleterErrorFallsBack(t *testing.T) {
	f := newFixture("")
	f.completer.err = domain.ErrCompletionProviderError

	q, err := f.svc.Parse(context.Background(), "quiet romantic tacos open now for date night")
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	if q.Source != query.SourceHeuristic {
		t.Fatalf("source = %s", q.Source)
	}
	c := q.Constraints
	if !slices.Equal(c.Cuisines, []string{"mexican"}) {
		t.Errorf("cuisines = %v", c.Cuisines)
	}
	if len(c.Attributes) != 2 {
		t.Errorf("attributes = %+v", c.Attributes)
	}
	if !c.OpenNow || c.PartySize != query.PartyPair {
		t.Errorf("open_now = %v party = %q", c.OpenNow, c.PartySize)
	}
	if c.Residual != "" {
		t.Errorf("residual = %q, want empty", c.Residual)
	}
}

func TestHeuristic_LongestPlaceMatch(t *testing.T) {
	f := newFixture("")
	c, place := f.svc.heuristic(context.Background(), "ramen in east village late")
	if place != "east village" {
		t.Errorf("place = %q", place)
	}
	if c.Residual != "ramen late" {
		t.Errorf("residual = %q", c.Residual)
	}
}

func TestParse_BroadCuisineIsAmbiguous(t *testing.T) {
	f := newFixture(`{"cuisines":["asian"],"residual":""}`)
	q, err := f.svc.Parse(context.Background(), "asian food")
	if err != nil {
		t.Fatal(err)
	}
	if !q.Ambiguous || !slices.Equal(q.AmbiguousTerms, []string{"asian"}) {
		t.Errorf("ambiguous = %v terms = %v", q.Ambiguous, q.AmbiguousTerms)
	}
}

func TestParse_UnknownPlaceKeptAsResidual(t *testing.T) {
	f := newFixture(`{"cuisines":["sushi"],"place":"Atlantis","residual":""}`)
	q, err := f.svc.Parse(context.Background(), "sushi near atlantis")
	if err != nil {
		t.Fatal(err)
	}
	if q.Constraints.Location != nil {
		t.Error("unknown place must not set a location")
	}
	if q.Constraints.Residual != "atlantis" {
		t.Errorf("residual = %q", q.Constraints.Residual)
	}
}

func TestParse_PlaceLookupErrorIgnored(t *testing.T) {
	f := newFixture(`{"cuisines":["sushi"],"place":"soho","residual":""}`)
	f.vocab.placeErr = errors.New("gazetteer down")
	q, err := f.svc.Parse(context.Background(), "sushi in soho")
	if err != nil {
		t.Fatal(err)
	}
	if q.Constraints.Location != nil {
		t.Error("expected no location")
	}
}

func TestParse_EmbeddingFailureDegrades(t *testing.T) {
	f := newFixture(`{"cuisines":["sushi"],"residual":""}`)
	f.embedder.err = domain.ErrEmbeddingProviderError

	q, err := f.svc.Parse(context.Background(), "sushi")
	if err != nil {
		t.Fatal(err)
	}
	if q.Embedding != nil {
		t.Error("expected nil embedding")
	}
	if f.cache.sets != 1 || f.cache.lastTTL != 30*time.Second {
		t.Errorf("cache sets = %d ttl = %v, want parse without embedding cached briefly", f.cache.sets, f.cache.lastTTL)
	}
}

func TestParse_OutageReusesDegradedParse(t *testing.T) {
	f := newFixture("")
	f.completer.err = domain.ErrCompletionProviderError
	ctx := context.Background()

	for range 3 {
		q, err := f.svc.Parse(ctx, "cheap sushi near soho")
		if err != nil {
			t.Fatal(err)
		}
		if q.Source != query.SourceHeuristic {
			t.Errorf("source = %s", q.Source)
		}
	}
	if f.completer.calls != 1 || f.embedder.calls != 1 {
		t.Errorf("calls = %d/%d, want one parse during the outage", f.completer.calls, f.embedder.calls)
	}
}

func TestParse_DegradedCachingDisabled(t *testing.T) {
	f := newFixture("")
	f.completer.err = domain.ErrCompletionProviderError
	f.svc.degradedTTL = 0

	if _, err := f.svc.Parse(context.Background(), "cheap sushi"); err != nil {
		t.Fatal(err)
	}
	if f.cache.sets != 0 {
		t.Error("degraded parse cached with caching disabled")
	}
}

func TestParse_EmptyQuery(t *testing.T) {
	f := newFixture("")
	q, err := f.svc.Parse(context.Background(), "?!")
	if err != nil {
		t.Fatal(err)
	}
	if !q.LowConfidence() || f.completer.calls != 0 || f.embedder.calls != 0 {
		t.Errorf("q = %+v calls = %d/%d", q, f.completer.calls, f.embedder.calls)
	}
}

func TestParse_CancelledContext(t *testing.T) {
	f := newFixture("")
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if _, err := f.svc.Parse(ctx, "sushi"); !errors.Is(err, context.Canceled) {
		t.Errorf("err = %v, want context.Canceled", err)
	}
}
