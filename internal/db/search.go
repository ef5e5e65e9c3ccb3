package db

import "github.com/kailas-cloud/venuesearch/internal/domain/search/filter"

// KNNQuery is the input for vector similarity search.
type KNNQuery struct {
	IndexName    string
	VectorField  string
	Filters      filter.Expression
	Vector       []float32
	K            int
	EFRuntime    int // HNSW query-time candidate list size; 0 keeps the index default
	ReturnFields []string
	RawScores    bool // return the distance as-is instead of 1-distance
}

// TextQuery is the input for BM25 text search.
type TextQuery struct {
	IndexName    string
	TextField    string
	Query        string
	Filters      filter.Expression
	TopK         int
	ReturnFields []string
}

// ListQuery is the input for an unscored filtered listing.
type ListQuery struct {
	IndexName    string
	Filters      filter.Expression
	Offset       int
	Limit        int
	ReturnFields []string
}

// CountQuery counts documents matching a filter.
type CountQuery struct {
	IndexName string
	Filters   filter.Expression
}

// SearchResult is the output of a search operation.
type SearchResult struct {
	Total   int
	Entries []SearchEntry
}

// SearchEntry is a single document hit from a search.
type SearchEntry struct {
	Key    string
	Score  float64
	Fields map[string]string
}
