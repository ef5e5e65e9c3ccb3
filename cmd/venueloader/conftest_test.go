package main

import (
	"context"
	"errors"
	"sync"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/kailas-cloud/venuesearch/internal/domain"
	"github.com/kailas-cloud/venuesearch/internal/domain/venue"
)

// --- Mocks ---

type stubCuisines map[string]string

func (s stubCuisines) Cuisine(phrase string) (string, bool) {
	c, ok := s[phrase]
	return c, ok
}

var testCuisines = stubCuisines{
	"ramen":    "ramen",
	"japanese": "japanese",
	"pizza":    "pizza",
	"thai":     "thai",
}

type mockEmbedder struct {
	fail map[string]bool
}

func (m *mockEmbedder) Embed(_ context.Context, text string) (domain.EmbeddingResult, error) {
	if m.fail[text] {
		return domain.EmbeddingResult{}, domain.ErrEmbeddingProviderError
	}
	return domain.EmbeddingResult{Embedding: []float32{1, 0, 0}}, nil
}

type mockWriter struct {
	mu     sync.Mutex
	stored map[string]venue.Venue
	err    error
}

func (m *mockWriter) Upsert(_ context.Context, v venue.Venue) error {
	if m.err != nil {
		return m.err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.stored == nil {
		m.stored = make(map[string]venue.Venue)
	}
	m.stored[v.ID] = v
	return nil
}

// sliceSource serves rows from memory as one file per slice.
type sliceSource struct {
	files [][]placeRow
}

func (s *sliceSource) ReadPlaces(fileIndex, rowOffset, maxRows int, cb placeCallback) error {
	read := 0
	for fi := fileIndex; fi < len(s.files); fi++ {
		start := 0
		if fi == fileIndex {
			start = rowOffset
		}
		for i := start; i < len(s.files[fi]); i++ {
			row := s.files[fi][i]
			if !cb(&row, fi, i) {
				return nil
			}
			read++
			if maxRows > 0 && read >= maxRows {
				return nil
			}
		}
	}
	return nil
}

var errStore = errors.New("store down")

func newTestMetrics() *loaderMetrics {
	return newLoaderMetrics(prometheus.NewRegistry())
}

func ptr[T any](v T) *T { return &v }

func diningRow(id, name, label string) placeRow {
	return placeRow{
		ID:        id,
		Name:      name,
		Latitude:  ptr(40.72),
		Longitude: ptr(-73.99),
		Labels:    []string{label},
	}
}
