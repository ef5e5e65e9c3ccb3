package venue

import (
	"encoding/binary"
	"encoding/json"
	"fmt"
	"math"
	"strconv"
	"strings"

	"github.com/kailas-cloud/venuesearch/internal/domain/attribute"
	"github.com/kailas-cloud/venuesearch/internal/domain/geo"
	domvenue "github.com/kailas-cloud/venuesearch/internal/domain/venue"
)

// Hash field names. The FT index covers every field except name and attributes.
const (
	FieldName        = "name"
	FieldLocation    = domvenue.FieldLocation
	FieldPriceTier   = domvenue.FieldPriceTier
	FieldCuisines    = domvenue.FieldCuisines
	FieldRating      = "rating"
	FieldRatingCount = "rating_count"
	FieldSearchText  = "search_text"
	FieldEmbedding   = "embedding"
	FieldAttributes  = "attributes"
)

// ReturnFields is the projection retrieval asks for; the embedding is left out.
var ReturnFields = []string{
	FieldName, FieldLocation, FieldPriceTier, FieldCuisines,
	FieldRating, FieldRatingCount, FieldAttributes,
}

// Encode flattens a venue into hash fields.
func Encode(v domvenue.Venue) (map[string]string, error) {
	attrs, err := json.Marshal(v.Attributes)
	if err != nil {
		return nil, fmt.Errorf("marshal attributes: %w", err)
	}
	return map[string]string{
		FieldName:        v.Name,
		FieldLocation:    formatPoint(v.Location),
		FieldPriceTier:   strconv.Itoa(v.PriceTier),
		FieldCuisines:    strings.Join(v.Cuisines, ","),
		FieldRating:      strconv.FormatFloat(v.Rating, 'f', -1, 64),
		FieldRatingCount: strconv.Itoa(v.RatingCount),
		FieldSearchText:  v.SearchText(),
		FieldEmbedding:   vectorToBytes(v.Embedding),
		FieldAttributes:  string(attrs),
	}, nil
}

// Decode rebuilds a venue from hash fields. Missing optional fields decode
// to zero values; a malformed location or price tier is an error.
func Decode(id string, m map[string]string) (domvenue.Venue, error) {
	v := domvenue.Venue{ID: id, Name: m[FieldName]}

	loc, err := parsePoint(m[FieldLocation])
	if err != nil {
		return domvenue.Venue{}, fmt.Errorf("venue %s: %w", id, err)
	}
	v.Location = loc

	if v.PriceTier, err = strconv.Atoi(m[FieldPriceTier]); err != nil {
		return domvenue.Venue{}, fmt.Errorf("venue %s: price tier %q: %w", id, m[FieldPriceTier], err)
	}
	if c := m[FieldCuisines]; c != "" {
		v.Cuisines = strings.Split(c, ",")
	}
	if s := m[FieldRating]; s != "" {
		v.Rating, _ = strconv.ParseFloat(s, 64)
	}
	if s := m[FieldRatingCount]; s != "" {
		v.RatingCount, _ = strconv.Atoi(s)
	}
	if s := m[FieldEmbedding]; s != "" {
		v.Embedding = bytesToVector(s)
	}
	if s := m[FieldAttributes]; s != "" && s != "null" {
		var attrs map[attribute.Name]attribute.Aggregate
		if err := json.Unmarshal([]byte(s), &attrs); err == nil {
			v.Attributes = attrs
		}
	}
	return v, nil
}

// formatPoint renders the GEO field value, longitude first.
func formatPoint(p geo.Point) string {
	return strconv.FormatFloat(p.Lon, 'f', -1, 64) + "," + strconv.FormatFloat(p.Lat, 'f', -1, 64)
}

func parsePoint(s string) (geo.Point, error) {
	lonStr, latStr, ok := strings.Cut(s, ",")
	if !ok {
		return geo.Point{}, fmt.Errorf("location %q: want lon,lat", s)
	}
	lon, err := strconv.ParseFloat(strings.TrimSpace(lonStr), 64)
	if err != nil {
		return geo.Point{}, fmt.Errorf("location longitude: %w", err)
	}
	lat, err := strconv.ParseFloat(strings.TrimSpace(latStr), 64)
	if err != nil {
		return geo.Point{}, fmt.Errorf("location latitude: %w", err)
	}
	return geo.Point{Lat: lat, Lon: lon}, nil
}

// vectorToBytes serializes []float32 to a binary string (4 bytes per float, little-endian).
func vectorToBytes(v []float32) string {
	buf := make([]byte, len(v)*4)
	for i, f := range v {
		binary.LittleEndian.PutUint32(buf[i*4:], math.Float32bits(f))
	}
	return string(buf)
}

// bytesToVector deserializes a binary string back to []float32.
func bytesToVector(s string) []float32 {
	b := []byte(s)
	if len(b)%4 != 0 {
		return nil
	}
	v := make([]float32, len(b)/4)
	for i := range v {
		v[i] = math.Float32frombits(binary.LittleEndian.Uint32(b[i*4:]))
	}
	return v
}
