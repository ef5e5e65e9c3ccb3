package extraction

import (
	"context"
	"time"

	"github.com/kailas-cloud/venuesearch/internal/domain/attribute"
	"github.com/kailas-cloud/venuesearch/internal/domain/review"
	"github.com/kailas-cloud/venuesearch/internal/repository/queue"
)

// Reviews is the review storage the pipeline reads and updates.
type Reviews interface {
	Get(ctx context.Context, id string) (review.Review, error)
	SaveExtraction(ctx context.Context, rv review.Review) error
	ListByVenue(ctx context.Context, venueID string, status review.Status) ([]review.Review, error)
}

// Venues receives recomputed aggregates.
type Venues interface {
	UpdateAttributes(ctx context.Context, id string, attrs map[attribute.Name]attribute.Aggregate) error
}

// Queue is the durable job queue.
//
//nolint:interfacebloat // queue, dead-letter and lease operations share one Redis-backed owner
type Queue interface {
	EnsureGroup(ctx context.Context) error
	Enqueue(ctx context.Context, reviewID string) (string, error)
	Dequeue(ctx context.Context, consumer string, count int64) ([]queue.Job, error)
	Ack(ctx context.Context, jobs ...queue.Job) error
	DeadLetter(ctx context.Context, job queue.Job, reason string, attempts int) error
	DeadLetters(ctx context.Context, count int64) ([]queue.DeadLetter, error)
	Backlog(ctx context.Context) (queue.Backlog, error)
	MarkCompleted(ctx context.Context, at time.Time) error
	LastCompletion(ctx context.Context) (time.Time, error)
	AcquireLease(ctx context.Context, reviewID string, ttl time.Duration) (queue.Lease, error)
	ReleaseLease(ctx context.Context, l queue.Lease) error
}
