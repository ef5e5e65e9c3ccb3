// Package extraction is the asynchronous attribute pipeline: workers take
// review jobs from the durable queue, extract per-review attributes with the
// completion model, and recompute the venue's aggregated attributes.
//
// Delivery is at-least-once. Re-extracting an extracted review overwrites
// its values, and aggregation is a pure function of the stored reviews, so
// redelivery is harmless.
package extraction

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/sethvargo/go-retry"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/kailas-cloud/venuesearch/internal/domain"
	"github.com/kailas-cloud/venuesearch/internal/domain/attribute"
	"github.com/kailas-cloud/venuesearch/internal/domain/modeloutput"
	"github.com/kailas-cloud/venuesearch/internal/domain/review"
	"github.com/kailas-cloud/venuesearch/internal/metrics"
	"github.com/kailas-cloud/venuesearch/internal/repository/queue"
)

// Config tunes the worker pool.
type Config struct {
	Workers int
	// MaxRetries is the number of retries after the first attempt.
	MaxRetries  uint64
	BaseBackoff time.Duration
	MaxBackoff  time.Duration
	LeaseTTL    time.Duration
	// IdleBackoff is the pause after a failed dequeue or after a job is
	// deferred because another worker holds its review.
	IdleBackoff time.Duration
	Aggregation AggregationConfig
}

// Service runs the extraction pipeline.
type Service struct {
	reviews   Reviews
	venues    Venues
	queue     Queue
	completer domain.Completer
	monitor   *Monitor
	cfg       Config
	logger    *zap.Logger
	now       func() time.Time
}

// New creates the pipeline service.
func New(
	reviews Reviews, venues Venues, q Queue, completer domain.Completer,
	monitor *Monitor, cfg Config, logger *zap.Logger,
) *Service {
	return &Service{
		reviews:   reviews,
		venues:    venues,
		queue:     q,
		completer: completer,
		monitor:   monitor,
		cfg:       cfg,
		logger:    logger,
		now:       time.Now,
	}
}

// OnReviewSubmitted enqueues extraction for an existing review.
func (s *Service) OnReviewSubmitted(ctx context.Context, reviewID string) error {
	if _, err := s.reviews.Get(ctx, reviewID); err != nil {
		return fmt.Errorf("review %s: %w", reviewID, err)
	}
	id, err := s.queue.Enqueue(ctx, reviewID)
	if err != nil {
		return err //nolint:wrapcheck // queue errors carry the review id
	}
	s.logger.Debug("Review enqueued", zap.String("review_id", reviewID), zap.String("message_id", id))
	return nil
}

// Run starts the workers and blocks until ctx is cancelled.
func (s *Service) Run(ctx context.Context) error {
	if err := s.queue.EnsureGroup(ctx); err != nil {
		return fmt.Errorf("ensure consumer group: %w", err)
	}
	g, gctx := errgroup.WithContext(ctx)
	for range s.cfg.Workers {
		consumer := "worker-" + uuid.NewString()
		g.Go(func() error {
			s.work(gctx, consumer)
			return nil
		})
	}
	s.logger.Info("Extraction workers started", zap.Int("workers", s.cfg.Workers))
	return g.Wait() //nolint:wrapcheck // workers never fail
}

func (s *Service) work(ctx context.Context, consumer string) {
	log := s.logger.With(zap.String("consumer", consumer))
	for ctx.Err() == nil {
		jobs, err := s.queue.Dequeue(ctx, consumer, 1)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			log.Error("Dequeue failed", zap.Error(err))
			s.pause(ctx)
			continue
		}
		deferred := false
		for _, job := range jobs {
			if s.Process(ctx, job) {
				deferred = true
			}
		}
		// A duplicate of a review in flight would otherwise be redelivered
		// as fast as the loop turns.
		if deferred {
			s.pause(ctx)
		}
	}
}

func (s *Service) pause(ctx context.Context) {
	t := time.NewTimer(s.cfg.IdleBackoff)
	defer t.Stop()
	select {
	case <-ctx.Done():
	case <-t.C:
	}
}

// Process handles one delivery. A job left unacknowledged (storage errors,
// shutdown, a review leased by another worker) is redelivered after the
// claim window. Reports whether the job was deferred to a lease holder.
func (s *Service) Process(ctx context.Context, job queue.Job) bool {
	log := s.logger.With(
		zap.String("review_id", job.ReviewID),
		zap.String("message_id", job.MessageID),
		zap.Bool("reclaimed", job.Reclaimed),
	)

	lease, err := s.queue.AcquireLease(ctx, job.ReviewID, s.cfg.LeaseTTL)
	if errors.Is(err, domain.ErrLeaseHeld) {
		metrics.ExtractionJobsTotal.WithLabelValues("deferred").Inc()
		log.Debug("Review leased by another worker, left pending")
		return true
	}
	if err != nil {
		log.Error("Lease unavailable", zap.Error(err))
		return false
	}
	defer func() {
		if err := s.queue.ReleaseLease(context.WithoutCancel(ctx), lease); err != nil {
			log.Warn("Lease release failed", zap.Error(err))
		}
	}()

	rv, err := s.reviews.Get(ctx, job.ReviewID)
	switch {
	case errors.Is(err, domain.ErrReviewNotFound):
		log.Warn("Review missing, dropping job")
		s.finish(ctx, log, job, "skipped")
		return false
	case err != nil:
		log.Error("Load review failed", zap.Error(err))
		return false
	case rv.Status == review.StatusFailedPermanent:
		log.Debug("Review already failed permanently, dropping job")
		s.finish(ctx, log, job, "skipped")
		return false
	}

	vals, attempts, err := s.extract(ctx, log, rv.Text)
	metrics.ExtractionAttempts.Observe(float64(attempts))
	if ctx.Err() != nil {
		return false
	}
	rv.Attempts = attempts
	if err != nil {
		s.fail(ctx, log, job, rv, err)
		return false
	}

	if err := rv.MarkExtracted(vals, s.now()); err != nil {
		log.Error("Invalid status transition", zap.Error(err))
		return false
	}
	if err := s.reviews.SaveExtraction(ctx, rv); err != nil {
		log.Error("Save extraction failed", zap.Error(err))
		return false
	}
	if err := s.Reaggregate(ctx, rv.VenueID); err != nil {
		log.Error("Aggregation failed", zap.String("venue_id", rv.VenueID), zap.Error(err))
		return false
	}
	log.Debug("Review extracted", zap.Int("attempts", attempts), zap.Int("attributes", len(vals)))
	s.finish(ctx, log, job, "extracted")
	return false
}

// extract calls the model with exponential backoff. Transport errors and
// malformed output are both retried.
func (s *Service) extract(ctx context.Context, log *zap.Logger, text string) (attribute.Values, int, error) {
	var (
		vals     attribute.Values
		attempts int
	)
	backoff := retry.WithCappedDuration(s.cfg.MaxBackoff,
		retry.WithMaxRetries(s.cfg.MaxRetries, retry.NewExponential(s.cfg.BaseBackoff)))

	err := retry.Do(ctx, backoff, func(ctx context.Context) error {
		attempts++
		v, err := s.extractOnce(ctx, text)
		if err != nil {
			log.Debug("Extraction attempt failed", zap.Int("attempt", attempts), zap.Error(err))
			return retry.RetryableError(err)
		}
		vals = v
		return nil
	})
	if err != nil {
		return nil, attempts, err //nolint:wrapcheck // attempt errors are already wrapped
	}
	return vals, attempts, nil
}

func (s *Service) extractOnce(ctx context.Context, text string) (attribute.Values, error) {
	res, err := s.completer.Complete(ctx, domain.CompletionRequest{
		Operation:  operation,
		System:     systemPrompt,
		Prompt:     text,
		SchemaName: schemaName,
		Schema:     modeloutput.Schema(reviewSchema),
	})
	if err != nil {
		return nil, err //nolint:wrapcheck // completer wraps with a domain sentinel
	}
	out := modeloutput.Decode(reviewSchema, res.Content, checkOutput)
	if !out.Valid {
		metrics.ModelOutputTotal.WithLabelValues(operation, "malformed").Inc()
		return nil, out.Err
	}
	metrics.ModelOutputTotal.WithLabelValues(operation, "valid").Inc()
	return out.Value.values()
}

// fail records exhausted retries. A review that was extracted earlier keeps
// its values; only a pending review becomes failed_permanent.
func (s *Service) fail(ctx context.Context, log *zap.Logger, job queue.Job, rv review.Review, cause error) {
	reason := cause.Error()
	if rv.Status == review.StatusPending {
		if err := rv.MarkFailed(reason); err != nil {
			log.Error("Invalid status transition", zap.Error(err))
			return
		}
	} else {
		rv.LastError = reason
	}
	// Dead-letter first: if the status write is lost, the review stays
	// pending but the job is still on record for reprocessing.
	if err := s.queue.DeadLetter(ctx, job, reason, rv.Attempts); err != nil {
		log.Error("Dead-letter failed", zap.Error(err))
		return
	}
	if err := s.reviews.SaveExtraction(ctx, rv); err != nil {
		log.Error("Save failure status failed", zap.Error(err))
	}
	metrics.DeadLettersTotal.Inc()
	metrics.ExtractionJobsTotal.WithLabelValues("dead_lettered").Inc()
	s.completed(ctx, log)
	log.Warn("Extraction failed permanently, job dead-lettered",
		zap.Int("attempts", rv.Attempts), zap.String("reason", reason))
}

func (s *Service) finish(ctx context.Context, log *zap.Logger, job queue.Job, outcome string) {
	if err := s.queue.Ack(ctx, job); err != nil {
		log.Error("Ack failed", zap.Error(err))
		return
	}
	metrics.ExtractionJobsTotal.WithLabelValues(outcome).Inc()
	s.completed(ctx, log)
}

// completed publishes the completion to every process through the queue.
// A lost write only delays the next liveness reading.
func (s *Service) completed(ctx context.Context, log *zap.Logger) {
	at := s.now()
	s.monitor.Completed(at)
	if err := s.queue.MarkCompleted(context.WithoutCancel(ctx), at); err != nil {
		log.Warn("Record completion failed", zap.Error(err))
	}
}

// Reaggregate recomputes a venue's aggregated attributes from its extracted
// reviews. Concurrent recomputations for one venue are last-write-wins.
func (s *Service) Reaggregate(ctx context.Context, venueID string) error {
	reviews, err := s.reviews.ListByVenue(ctx, venueID, review.StatusExtracted)
	if err != nil {
		metrics.AggregationsTotal.WithLabelValues("error").Inc()
		return fmt.Errorf("list reviews: %w", err)
	}
	// Fixed summation order keeps recomputation bit-for-bit repeatable.
	slices.SortFunc(reviews, func(a, b review.Review) int { return strings.Compare(a.ID, b.ID) })
	aggs := Aggregate(reviews, s.now(), s.cfg.Aggregation)
	if err := s.venues.UpdateAttributes(ctx, venueID, aggs); err != nil {
		if errors.Is(err, domain.ErrVenueNotFound) {
			metrics.AggregationsTotal.WithLabelValues("skipped").Inc()
			s.logger.Warn("Venue missing, aggregates dropped", zap.String("venue_id", venueID))
			return nil
		}
		metrics.AggregationsTotal.WithLabelValues("error").Inc()
		return fmt.Errorf("update attributes: %w", err)
	}
	metrics.AggregationsTotal.WithLabelValues("ok").Inc()
	return nil
}

// DeadLetters lists dead-lettered jobs for inspection.
func (s *Service) DeadLetters(ctx context.Context, limit int64) ([]queue.DeadLetter, error) {
	return s.queue.DeadLetters(ctx, limit) //nolint:wrapcheck // queue wraps
}

// Liveness reports pipeline liveness from the shared queue state. When the
// queue cannot be read the pipeline is reported as not stalled; the database
// check covers that outage.
func (s *Service) Liveness(ctx context.Context) Liveness {
	l := Liveness{Window: s.monitor.window}
	last, err := s.queue.LastCompletion(ctx)
	if err != nil {
		s.logger.Warn("Read last completion failed", zap.Error(err))
		return l
	}
	b, err := s.queue.Backlog(ctx)
	if err != nil {
		s.logger.Warn("Read backlog failed", zap.Error(err))
		return l
	}
	l.LastCompletion = last
	l.Backlog = b.Jobs
	l.OldestPending = b.Oldest
	l.Stalled = s.monitor.Stalled(s.now(), b, last)
	return l
}
