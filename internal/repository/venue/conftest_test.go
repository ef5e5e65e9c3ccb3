package venue

import (
	"context"
	"testing"

	"github.com/kailas-cloud/venuesearch/internal/db"
	"github.com/kailas-cloud/venuesearch/internal/domain/geo"
	domvenue "github.com/kailas-cloud/venuesearch/internal/domain/venue"
)

// mockStore implements the consumer interface for tests.
type mockStore struct {
	hashes         map[string]map[string]string
	indexExists    bool
	createIndexErr error
	created        *db.IndexDefinition
	hsetErr        error
}

func (m *mockStore) HSet(_ context.Context, key string, fields map[string]string) error {
	if m.hsetErr != nil {
		return m.hsetErr
	}
	h, ok := m.hashes[key]
	if !ok {
		h = make(map[string]string)
		m.hashes[key] = h
	}
	for k, v := range fields {
		h[k] = v
	}
	return nil
}

func (m *mockStore) HGetAll(_ context.Context, key string) (map[string]string, error) {
	return m.hashes[key], nil
}

func (m *mockStore) HGetAllMulti(_ context.Context, keys []string) ([]map[string]string, error) {
	out := make([]map[string]string, len(keys))
	for i, k := range keys {
		out[i] = m.hashes[k]
	}
	return out, nil
}

func (m *mockStore) Exists(_ context.Context, key string) (bool, error) {
	_, ok := m.hashes[key]
	return ok, nil
}

func (m *mockStore) CreateIndex(_ context.Context, def *db.IndexDefinition) error {
	m.created = def
	return m.createIndexErr
}

func (m *mockStore) IndexExists(context.Context, string) (bool, error) {
	return m.indexExists, nil
}

func newTestRepo(t *testing.T) (*Repo, *mockStore) {
	t.Helper()
	ms := &mockStore{hashes: make(map[string]map[string]string)}
	repo := New(ms, "vs:", IndexParams{Name: "venues-idx", Dimensions: 3, HNSWM: 16, HNSWEFConstruct: 200})
	return repo, ms
}

func testVenue(id string) domvenue.Venue {
	return domvenue.Venue{
		ID:          id,
		Name:        "Sushi Zen",
		Location:    geo.Point{Lat: 40.7211, Lon: -74.0012},
		PriceTier:   1,
		Cuisines:    []string{"sushi", "japanese"},
		Rating:      4.4,
		RatingCount: 12,
		Embedding:   []float32{0.1, -0.2, 0.3},
	}
}
