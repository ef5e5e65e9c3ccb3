package constraints

import (
	"context"
	"testing"
	"time"

	"go.uber.org/zap"

	"github.com/kailas-cloud/venuesearch/internal/db"
	"github.com/kailas-cloud/venuesearch/internal/repository/cache"
)

const testVocabulary = `
version: 2
default_radius_m: 1200
cuisines: [sushi, italian, Middle Eastern]
aliases:
  pasta: italian
broad_cuisines: [asian]
price_terms:
  cheap: {min: 1, max: 1}
  "$$": {min: 2, max: 2}
attribute_terms:
  Quiet: {attribute: noise_level, max: 2, hard: true}
  romantic: {attribute: vibe, equals: romantic}
party_terms:
  date night: pair
open_now_terms: [open now]
places:
  soho: {lat: 40.7233, lon: -74.0030, radius_m: 800}
  downtown: {lat: 40.7075, lon: -74.0113}
`

// mockGazetteer is a single shared hash.
type mockGazetteer struct {
	key    string
	fields map[string]string
	err    error
	calls  int
}

func (m *mockGazetteer) HGet(_ context.Context, key, field string) (string, error) {
	m.calls++
	if m.err != nil {
		return "", m.err
	}
	v, ok := m.fields[field]
	if !ok || key != m.key {
		return "", db.ErrKeyNotFound
	}
	return v, nil
}

// mapCache is an unbounded placeCache.
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

func newTestStore(t *testing.T) (*Store, *mockGazetteer) {
	t.Helper()
	v, err := ParseVocabulary([]byte(testVocabulary))
	if err != nil {
		t.Fatal(err)
	}
	g := &mockGazetteer{key: "vs:places:v2", fields: map[string]string{}}
	return New(v, g, &mapCache{data: map[string][]byte{}}, "vs:", time.Hour, zap.NewNop()), g
}
