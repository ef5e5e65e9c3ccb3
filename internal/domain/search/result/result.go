package result

import (
	"github.com/kailas-cloud/venuesearch/internal/domain/search/mode"
	"github.com/kailas-cloud/venuesearch/internal/domain/venue"
)

// Candidate is a venue returned by retrieval with its raw index score.
type Candidate struct {
	Venue venue.Venue
	// Score is cosine similarity for Semantic, BM25 for Keyword, zero for Browse.
	Score float64
	Mode  mode.Mode
}

// Breakdown holds the normalized terms that produced a final score.
type Breakdown struct {
	Semantic       float64  `json:"semantic"`
	Proximity      float64  `json:"proximity"`
	Rating         float64  `json:"rating"`
	Price          float64  `json:"price"`
	DistanceMeters *float64 `json:"distance_m,omitempty"`
}

// Ranked is a scored venue in a result list.
type Ranked struct {
	Venue      venue.Summary `json:"venue"`
	Score      float64       `json:"score"`
	Breakdown  Breakdown     `json:"breakdown"`
	Highlights []string      `json:"highlights,omitempty"`
	// Demoted is set when a soft attribute filter pushed the venue down.
	Demoted bool `json:"demoted,omitempty"`
}

// Set is a ranked result list with the context needed to interpret it.
type Set struct {
	Results        []Ranked  `json:"results"`
	Total          int       `json:"total"`
	Mode           mode.Mode `json:"mode"`
	Stage          string    `json:"stage"`
	LowConfidence  bool      `json:"low_confidence"`
	Ambiguous      bool      `json:"ambiguous,omitempty"`
	AmbiguousTerms []string  `json:"ambiguous_terms,omitempty"`
}
