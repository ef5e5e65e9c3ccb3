// Package review stores reviews as hashes with a per-venue membership set.
package review

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"time"

	"github.com/kailas-cloud/venuesearch/internal/domain"
	"github.com/kailas-cloud/venuesearch/internal/domain/attribute"
	domreview "github.com/kailas-cloud/venuesearch/internal/domain/review"
)

// store is the consumer interface for reviews (ISP).
type store interface {
	HSet(ctx context.Context, key string, fields map[string]string) error
	HGetAll(ctx context.Context, key string) (map[string]string, error)
	HGetAllMulti(ctx context.Context, keys []string) ([]map[string]string, error)
	SAdd(ctx context.Context, key string, members ...string) error
	SMembers(ctx context.Context, key string) ([]string, error)
}

// Repo reads and writes reviews.
type Repo struct {
	store  store
	prefix string
}

// New creates a review repository. prefix is the service key prefix.
func New(s store, prefix string) *Repo {
	return &Repo{store: s, prefix: prefix}
}

func (r *Repo) key(id string) string { return r.prefix + "review:" + id }

func (r *Repo) venueSetKey(venueID string) string { return r.prefix + "venue_reviews:" + venueID }

// Create stores a new review and links it to its venue. This is the storage
// side of review submission; the pipeline is notified separately.
func (r *Repo) Create(ctx context.Context, rv domreview.Review) error {
	if rv.Status == "" {
		rv.Status = domreview.StatusPending
	}
	fields, err := encode(rv)
	if err != nil {
		return err
	}
	if err := r.store.HSet(ctx, r.key(rv.ID), fields); err != nil {
		return fmt.Errorf("hset review %s: %w", rv.ID, err)
	}
	if err := r.store.SAdd(ctx, r.venueSetKey(rv.VenueID), rv.ID); err != nil {
		return fmt.Errorf("link review %s to venue %s: %w", rv.ID, rv.VenueID, err)
	}
	return nil
}

// Get returns a review by ID.
func (r *Repo) Get(ctx context.Context, id string) (domreview.Review, error) {
	m, err := r.store.HGetAll(ctx, r.key(id))
	if err != nil {
		return domreview.Review{}, fmt.Errorf("hgetall review %s: %w", id, err)
	}
	if len(m) == 0 {
		return domreview.Review{}, domain.ErrReviewNotFound
	}
	return decode(id, m)
}

// SaveExtraction persists the pipeline-owned fields: status, attributes,
// attempts and error. Text, rating and venue are never rewritten.
func (r *Repo) SaveExtraction(ctx context.Context, rv domreview.Review) error {
	attrs, err := json.Marshal(rv.Attributes)
	if err != nil {
		return fmt.Errorf("marshal attributes: %w", err)
	}
	fields := map[string]string{
		"status":     string(rv.Status),
		"attributes": string(attrs),
		"attempts":   strconv.Itoa(rv.Attempts),
		"last_error": rv.LastError,
	}
	if !rv.ExtractedAt.IsZero() {
		fields["extracted_at"] = strconv.FormatInt(rv.ExtractedAt.UnixMilli(), 10)
	}
	if err := r.store.HSet(ctx, r.key(rv.ID), fields); err != nil {
		return fmt.Errorf("hset review %s: %w", rv.ID, err)
	}
	return nil
}

// ListByVenue returns the venue's reviews with the given status, or all of
// them when status is empty. Order is unspecified.
func (r *Repo) ListByVenue(ctx context.Context, venueID string, status domreview.Status) ([]domreview.Review, error) {
	ids, err := r.store.SMembers(ctx, r.venueSetKey(venueID))
	if err != nil {
		return nil, fmt.Errorf("smembers venue %s: %w", venueID, err)
	}
	if len(ids) == 0 {
		return nil, nil
	}
	keys := make([]string, len(ids))
	for i, id := range ids {
		keys[i] = r.key(id)
	}
	maps, err := r.store.HGetAllMulti(ctx, keys)
	if err != nil {
		return nil, fmt.Errorf("hgetall reviews of %s: %w", venueID, err)
	}

	out := make([]domreview.Review, 0, len(ids))
	for i, m := range maps {
		if len(m) == 0 {
			continue
		}
		rv, err := decode(ids[i], m)
		if err != nil {
			return nil, err
		}
		if status == "" || rv.Status == status {
			out = append(out, rv)
		}
	}
	return out, nil
}

func encode(rv domreview.Review) (map[string]string, error) {
	attrs, err := json.Marshal(rv.Attributes)
	if err != nil {
		return nil, fmt.Errorf("marshal attributes: %w", err)
	}
	m := map[string]string{
		"venue_id":   rv.VenueID,
		"text":       rv.Text,
		"rating":     strconv.FormatFloat(rv.Rating, 'f', -1, 64),
		"created_at": strconv.FormatInt(rv.CreatedAt.UnixMilli(), 10),
		"status":     string(rv.Status),
		"attributes": string(attrs),
		"attempts":   strconv.Itoa(rv.Attempts),
		"last_error": rv.LastError,
	}
	if !rv.ExtractedAt.IsZero() {
		m["extracted_at"] = strconv.FormatInt(rv.ExtractedAt.UnixMilli(), 10)
	}
	return m, nil
}

func decode(id string, m map[string]string) (domreview.Review, error) {
	rv := domreview.Review{
		ID:        id,
		VenueID:   m["venue_id"],
		Text:      m["text"],
		Status:    domreview.Status(m["status"]),
		LastError: m["last_error"],
	}
	if !rv.Status.Valid() {
		return domreview.Review{}, fmt.Errorf("review %s: unknown status %q", id, m["status"])
	}
	rv.Rating, _ = strconv.ParseFloat(m["rating"], 64)
	rv.Attempts, _ = strconv.Atoi(m["attempts"])
	rv.CreatedAt = parseMillis(m["created_at"])
	rv.ExtractedAt = parseMillis(m["extracted_at"])

	if s := m["attributes"]; s != "" && s != "null" {
		var vals attribute.Values
		if err := json.Unmarshal([]byte(s), &vals); err != nil {
			return domreview.Review{}, fmt.Errorf("review %s attributes: %w", id, err)
		}
		rv.Attributes = vals
	}
	return rv, nil
}

func parseMillis(s string) time.Time {
	ms, err := strconv.ParseInt(s, 10, 64)
	if err != nil || ms == 0 {
		return time.Time{}
	}
	return time.UnixMilli(ms).UTC()
}
