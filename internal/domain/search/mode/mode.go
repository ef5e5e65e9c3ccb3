package mode

// Mode tells how a candidate's raw retrieval score was produced, which
// decides how ranking rescales it.
type Mode string

// Retrieval mode constants.
const (
	// Semantic scores are cosine similarities in [-1,1].
	Semantic Mode = "semantic"
	// Keyword scores are unbounded BM25 values.
	Keyword Mode = "keyword"
	// Browse candidates carry no text score (no embedding, no residual text).
	Browse Mode = "browse"
)

// IsValid checks if the mode is one of the supported values.
func (m Mode) IsValid() bool {
	return m == Semantic || m == Keyword || m == Browse
}
