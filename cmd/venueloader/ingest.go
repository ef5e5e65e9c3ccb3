package main

import (
	"context"
	"fmt"
	"sync/atomic"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/kailas-cloud/venuesearch/internal/domain"
	"github.com/kailas-cloud/venuesearch/internal/domain/venue"
)

type placeSource interface {
	ReadPlaces(fileIndex, rowOffset, maxRows int, cb placeCallback) error
}

type venueWriter interface {
	Upsert(ctx context.Context, v venue.Venue) error
}

// ingester fans batches out to workers that embed and store each venue.
type ingester struct {
	venues    venueWriter
	embedder  domain.Embedder
	convert   func(*placeRow) (venue.Venue, string)
	workers   int
	batchSize int
	metrics   *loaderMetrics
	cursor    *cursorTracker
	logger    *zap.Logger
}

type batch struct {
	mark   batchMark
	venues []venue.Venue
}

type ingestResult struct {
	Processed int64
	Skipped   int64
	Failed    int64
	Duration  time.Duration
}

// Run loads places from the cursor position until the source is exhausted,
// maxRows rows are read, or ctx is cancelled.
func (ing *ingester) Run(ctx context.Context, src placeSource, maxRows int) (ingestResult, error) {
	start := time.Now()
	var processed, skipped, failed atomic.Int64

	batches := make(chan batch, ing.workers*2)
	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		defer close(batches)
		return ing.produce(gctx, src, maxRows, batches, &skipped)
	})
	for range ing.workers {
		g.Go(func() error {
			for b := range batches {
				ing.store(gctx, b, &processed, &failed)
			}
			return nil
		})
	}

	err := g.Wait()
	return ingestResult{
		Processed: processed.Load(),
		Skipped:   skipped.Load(),
		Failed:    failed.Load(),
		Duration:  time.Since(start),
	}, err
}

func (ing *ingester) produce(
	ctx context.Context, src placeSource, maxRows int, out chan<- batch, skipped *atomic.Int64,
) error {
	cur := ing.cursor.Get()
	seq := 0
	pending := batch{mark: batchMark{fileIndex: cur.FileIndex, rowOffset: cur.RowOffset}}
	moved := false

	send := func() bool {
		pending.mark.seq = seq
		select {
		case out <- pending:
		case <-ctx.Done():
			return false
		}
		seq++
		pending = batch{mark: batchMark{fileIndex: pending.mark.fileIndex, rowOffset: pending.mark.rowOffset}}
		moved = false
		return true
	}

	err := src.ReadPlaces(cur.FileIndex, cur.RowOffset, maxRows, func(row *placeRow, fileIndex, rowInFile int) bool {
		if ctx.Err() != nil {
			return false
		}
		pending.mark.fileIndex = fileIndex
		pending.mark.rowOffset = rowInFile + 1
		moved = true

		v, reason := ing.convert(row)
		if reason != "" {
			skipped.Add(1)
			ing.metrics.rowsSkipped.WithLabelValues(reason).Inc()
			return true
		}
		pending.venues = append(pending.venues, v)
		if len(pending.venues) >= ing.batchSize {
			return send()
		}
		return true
	})
	if err != nil {
		return fmt.Errorf("read places: %w", err)
	}
	if moved && ctx.Err() == nil {
		send()
	}
	return ctx.Err() //nolint:wrapcheck // cancellation passes through
}

func (ing *ingester) store(ctx context.Context, b batch, processed, failed *atomic.Int64) {
	start := time.Now()
	ok, bad := 0, 0
	for _, v := range b.venues {
		if ctx.Err() != nil {
			return
		}
		if err := ing.storeOne(ctx, v); err != nil {
			bad++
			ing.logger.Warn("Venue load failed", zap.String("venue_id", v.ID), zap.Error(err))
			continue
		}
		ok++
	}
	ing.metrics.batchDuration.Observe(time.Since(start).Seconds())
	ing.metrics.rowsProcessed.Add(float64(ok))

	processed.Add(int64(ok))
	failed.Add(int64(bad))
	b.mark.processed = ok
	b.mark.failed = bad
	ing.cursor.Complete(b.mark)
}

func (ing *ingester) storeOne(ctx context.Context, v venue.Venue) error {
	res, err := ing.embedder.Embed(ctx, v.SearchText())
	if err != nil {
		ing.metrics.rowsFailed.WithLabelValues("embed").Inc()
		return fmt.Errorf("embed: %w", err)
	}
	v.Embedding = res.Embedding
	if err := ing.venues.Upsert(ctx, v); err != nil {
		ing.metrics.rowsFailed.WithLabelValues("store").Inc()
		return fmt.Errorf("upsert: %w", err)
	}
	return nil
}
