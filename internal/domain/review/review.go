// Package review holds the review record and its extraction state machine.
package review

import (
	"fmt"
	"time"

	"github.com/kailas-cloud/venuesearch/internal/domain"
	"github.com/kailas-cloud/venuesearch/internal/domain/attribute"
)

// Status is the extraction status of a review.
type Status string

// Extraction statuses.
const (
	StatusPending         Status = "pending"
	StatusExtracted       Status = "extracted"
	StatusFailedPermanent Status = "failed_permanent"
)

// Valid reports whether s is a known status.
func (s Status) Valid() bool {
	switch s {
	case StatusPending, StatusExtracted, StatusFailedPermanent:
		return true
	}
	return false
}

// CanTransition reports whether s may move to next. Extraction never goes
// backward; extracted -> extracted is the idempotent re-extraction overwrite.
func (s Status) CanTransition(next Status) bool {
	switch s {
	case StatusPending:
		return next == StatusExtracted || next == StatusFailedPermanent
	case StatusExtracted:
		return next == StatusExtracted
	}
	return false
}

// Review is a submitted review. Only the extraction pipeline mutates it.
type Review struct {
	ID          string
	VenueID     string
	Text        string
	Rating      float64
	CreatedAt   time.Time
	Status      Status
	Attributes  attribute.Values // nil until extracted
	Attempts    int
	LastError   string
	ExtractedAt time.Time
}

// MarkExtracted records a successful extraction.
func (r *Review) MarkExtracted(vals attribute.Values, at time.Time) error {
	if !r.Status.CanTransition(StatusExtracted) {
		return fmt.Errorf("review %s: %s -> %s: %w", r.ID, r.Status, StatusExtracted, domain.ErrInvalidTransition)
	}
	r.Status = StatusExtracted
	r.Attributes = vals
	r.ExtractedAt = at
	r.LastError = ""
	return nil
}

// MarkFailed records exhausted retries.
func (r *Review) MarkFailed(reason string) error {
	if !r.Status.CanTransition(StatusFailedPermanent) {
		return fmt.Errorf("review %s: %s -> %s: %w", r.ID, r.Status, StatusFailedPermanent, domain.ErrInvalidTransition)
	}
	r.Status = StatusFailedPermanent
	r.LastError = reason
	return nil
}

// Age returns how old the review is at now, never negative.
func (r Review) Age(now time.Time) time.Duration {
	if d := now.Sub(r.CreatedAt); d > 0 {
		return d
	}
	return 0
}
