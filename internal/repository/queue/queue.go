// Package queue is the durable extraction job queue: a Redis stream consumed
// through a consumer group, a dead-letter stream, and per-review leases.
//
// Delivery is at-least-once. A job stays pending until acknowledged; jobs a
// crashed worker left pending longer than the claim-idle window are
// reclaimed by the next Dequeue. Acknowledged entries are deleted, so the
// stream holds exactly the outstanding backlog.
package queue

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/kailas-cloud/venuesearch/internal/db"
	"github.com/kailas-cloud/venuesearch/internal/domain"
)

// store is the consumer interface for the queue (ISP).
type store interface {
	XAdd(ctx context.Context, stream string, fields map[string]string) (string, error)
	XGroupCreate(ctx context.Context, stream, group string) error
	XReadGroup(ctx context.Context, stream, group, consumer string, count int64, block time.Duration) ([]db.StreamEntry, error)
	XAutoClaim(ctx context.Context, stream, group, consumer string, minIdle time.Duration, count int64) ([]db.StreamEntry, error)
	XAckDel(ctx context.Context, stream, group string, ids ...string) error
	XRange(ctx context.Context, stream, start, end string, count int64) ([]db.StreamEntry, error)
	XLen(ctx context.Context, stream string) (int64, error)
	Get(ctx context.Context, key string) ([]byte, error)
	Set(ctx context.Context, key string, value []byte) error
	SetNX(ctx context.Context, key string, value []byte, ttl time.Duration) (bool, error)
	DelIfEqual(ctx context.Context, key string, value []byte) (bool, error)
}

// Config names the streams and tunes delivery.
type Config struct {
	Stream       string
	Group        string
	BlockTimeout time.Duration
	ClaimIdle    time.Duration
}

// Job is one delivery of an extraction request.
type Job struct {
	MessageID  string
	ReviewID   string
	EnqueuedAt time.Time
	Reclaimed  bool // redelivered after another consumer went idle
}

// DeadLetter is a job that exhausted its retries.
type DeadLetter struct {
	ID       string    `json:"id"`
	ReviewID string    `json:"review_id"`
	Reason   string    `json:"reason"`
	Attempts int       `json:"attempts"`
	FailedAt time.Time `json:"failed_at"`
}

// Backlog is the outstanding work: jobs not yet read plus jobs delivered
// but not acknowledged.
type Backlog struct {
	Jobs   int64
	Oldest time.Time // enqueue time of the oldest outstanding job, zero when empty
}

// Lease is exclusive ownership of a review while it is being extracted.
type Lease struct {
	key   string
	token string
}

// Queue implements usecase/extraction.Queue.
type Queue struct {
	store       store
	stream      string
	deadStream  string
	group       string
	leasePrefix string
	doneKey     string
	block       time.Duration
	claimIdle   time.Duration
	now         func() time.Time
}

// New creates a queue. prefix is the service key prefix.
func New(s store, prefix string, cfg Config) *Queue {
	return &Queue{
		store:       s,
		stream:      prefix + cfg.Stream,
		deadStream:  prefix + cfg.Stream + ":dead",
		group:       cfg.Group,
		leasePrefix: prefix + "lease:review:",
		doneKey:     prefix + cfg.Stream + ":last_completion",
		block:       cfg.BlockTimeout,
		claimIdle:   cfg.ClaimIdle,
		now:         time.Now,
	}
}

// EnsureGroup creates the consumer group (and stream) if missing.
func (q *Queue) EnsureGroup(ctx context.Context) error {
	if err := q.store.XGroupCreate(ctx, q.stream, q.group); err != nil && !errors.Is(err, db.ErrGroupExists) {
		return fmt.Errorf("create group %s: %w", q.group, err)
	}
	return nil
}

// Enqueue appends a job for reviewID and returns its message id.
func (q *Queue) Enqueue(ctx context.Context, reviewID string) (string, error) {
	id, err := q.store.XAdd(ctx, q.stream, map[string]string{
		"review_id":   reviewID,
		"enqueued_at": strconv.FormatInt(q.now().UnixMilli(), 10),
	})
	if err != nil {
		return "", fmt.Errorf("enqueue review %s: %w", reviewID, err)
	}
	return id, nil
}

// Dequeue returns up to count jobs for consumer: first jobs abandoned by
// other consumers, then new ones, blocking up to the configured timeout.
// An empty slice means nothing arrived in time.
func (q *Queue) Dequeue(ctx context.Context, consumer string, count int64) ([]Job, error) {
	claimed, err := q.store.XAutoClaim(ctx, q.stream, q.group, consumer, q.claimIdle, count)
	if err != nil {
		return nil, fmt.Errorf("reclaim jobs: %w", err)
	}
	if len(claimed) > 0 {
		return q.toJobs(claimed, true), nil
	}

	fresh, err := q.store.XReadGroup(ctx, q.stream, q.group, consumer, count, q.block)
	if err != nil {
		return nil, fmt.Errorf("read jobs: %w", err)
	}
	return q.toJobs(fresh, false), nil
}

// Ack marks jobs as done and drops them from the stream.
func (q *Queue) Ack(ctx context.Context, jobs ...Job) error {
	ids := make([]string, len(jobs))
	for i, j := range jobs {
		ids[i] = j.MessageID
	}
	if err := q.store.XAckDel(ctx, q.stream, q.group, ids...); err != nil {
		return fmt.Errorf("ack %d jobs: %w", len(ids), err)
	}
	return nil
}

// DeadLetter records job in the dead-letter stream, then acknowledges it.
func (q *Queue) DeadLetter(ctx context.Context, job Job, reason string, attempts int) error {
	_, err := q.store.XAdd(ctx, q.deadStream, map[string]string{
		"review_id": job.ReviewID,
		"reason":    reason,
		"attempts":  strconv.Itoa(attempts),
		"failed_at": strconv.FormatInt(q.now().UnixMilli(), 10),
	})
	if err != nil {
		return fmt.Errorf("dead-letter review %s: %w", job.ReviewID, err)
	}
	return q.Ack(ctx, job)
}

// DeadLetters lists up to count dead-lettered jobs, oldest first.
func (q *Queue) DeadLetters(ctx context.Context, count int64) ([]DeadLetter, error) {
	entries, err := q.store.XRange(ctx, q.deadStream, "-", "+", count)
	if err != nil {
		return nil, fmt.Errorf("list dead letters: %w", err)
	}
	out := make([]DeadLetter, 0, len(entries))
	for _, e := range entries {
		attempts, _ := strconv.Atoi(e.Fields["attempts"])
		out = append(out, DeadLetter{
			ID:       e.ID,
			ReviewID: e.Fields["review_id"],
			Reason:   e.Fields["reason"],
			Attempts: attempts,
			FailedAt: parseMillis(e.Fields["failed_at"]),
		})
	}
	return out, nil
}

// Backlog reports the outstanding jobs and when the oldest was enqueued.
func (q *Queue) Backlog(ctx context.Context) (Backlog, error) {
	n, err := q.store.XLen(ctx, q.stream)
	if err != nil {
		return Backlog{}, fmt.Errorf("queue backlog: %w", err)
	}
	if n == 0 {
		return Backlog{}, nil
	}
	head, err := q.store.XRange(ctx, q.stream, "-", "+", 1)
	if err != nil {
		return Backlog{}, fmt.Errorf("queue head: %w", err)
	}
	b := Backlog{Jobs: n}
	if len(head) > 0 {
		b.Oldest = entryTime(head[0])
	}
	return b, nil
}

// MarkCompleted records at as the last time any worker finished a job.
// Every process reads the same value, so liveness does not depend on which
// process did the work.
func (q *Queue) MarkCompleted(ctx context.Context, at time.Time) error {
	if err := q.store.Set(ctx, q.doneKey, []byte(strconv.FormatInt(at.UnixMilli(), 10))); err != nil {
		return fmt.Errorf("record completion: %w", err)
	}
	return nil
}

// LastCompletion returns the last recorded completion, zero if none.
func (q *Queue) LastCompletion(ctx context.Context) (time.Time, error) {
	raw, err := q.store.Get(ctx, q.doneKey)
	if errors.Is(err, db.ErrKeyNotFound) {
		return time.Time{}, nil
	}
	if err != nil {
		return time.Time{}, fmt.Errorf("read last completion: %w", err)
	}
	return parseMillis(string(raw)), nil
}

// AcquireLease takes exclusive ownership of reviewID for ttl.
// Returns domain.ErrLeaseHeld if another worker owns it.
func (q *Queue) AcquireLease(ctx context.Context, reviewID string, ttl time.Duration) (Lease, error) {
	l := Lease{key: q.leasePrefix + reviewID, token: uuid.NewString()}
	ok, err := q.store.SetNX(ctx, l.key, []byte(l.token), ttl)
	if err != nil {
		return Lease{}, fmt.Errorf("acquire lease %s: %w", reviewID, err)
	}
	if !ok {
		return Lease{}, domain.ErrLeaseHeld
	}
	return l, nil
}

// ReleaseLease drops l if it is still ours; an expired lease taken over by
// another worker is left alone.
func (q *Queue) ReleaseLease(ctx context.Context, l Lease) error {
	if l.key == "" {
		return nil
	}
	if _, err := q.store.DelIfEqual(ctx, l.key, []byte(l.token)); err != nil {
		return fmt.Errorf("release lease: %w", err)
	}
	return nil
}

func (q *Queue) toJobs(entries []db.StreamEntry, reclaimed bool) []Job {
	jobs := make([]Job, 0, len(entries))
	for _, e := range entries {
		jobs = append(jobs, Job{
			MessageID:  e.ID,
			ReviewID:   e.Fields["review_id"],
			EnqueuedAt: parseMillis(e.Fields["enqueued_at"]),
			Reclaimed:  reclaimed,
		})
	}
	return jobs
}

// entryTime prefers the enqueue stamp and falls back to the millisecond
// part of the stream id.
func entryTime(e db.StreamEntry) time.Time {
	if t := parseMillis(e.Fields["enqueued_at"]); !t.IsZero() {
		return t
	}
	ms, _, _ := strings.Cut(e.ID, "-")
	return parseMillis(ms)
}

func parseMillis(s string) time.Time {
	ms, err := strconv.ParseInt(s, 10, 64)
	if err != nil {
		return time.Time{}
	}
	return time.UnixMilli(ms).UTC()
}
