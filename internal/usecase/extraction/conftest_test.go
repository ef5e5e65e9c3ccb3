package extraction

import (
	"context"
	"errors"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/kailas-cloud/venuesearch/internal/domain"
	"github.com/kailas-cloud/venuesearch/internal/domain/attribute"
	"github.com/kailas-cloud/venuesearch/internal/domain/review"
	"github.com/kailas-cloud/venuesearch/internal/repository/queue"
)

var testNow = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

// --- Mocks ---

type mockReviews struct {
	mu      sync.Mutex
	byID    map[string]review.Review
	getErr  error
	saveErr error
	saves   []review.Review
}

func newMockReviews(rvs ...review.Review) *mockReviews {
	m := &mockReviews{byID: map[string]review.Review{}}
	for _, rv := range rvs {
		m.byID[rv.ID] = rv
	}
	return m
}

func (m *mockReviews) Get(_ context.Context, id string) (review.Review, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.getErr != nil {
		return review.Review{}, m.getErr
	}
	rv, ok := m.byID[id]
	if !ok {
		return review.Review{}, domain.ErrReviewNotFound
	}
	return rv, nil
}

func (m *mockReviews) SaveExtraction(_ context.Context, rv review.Review) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.saveErr != nil {
		return m.saveErr
	}
	m.saves = append(m.saves, rv)
	m.byID[rv.ID] = rv
	return nil
}

func (m *mockReviews) ListByVenue(_ context.Context, venueID string, status review.Status) ([]review.Review, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []review.Review
	for _, rv := range m.byID {
		if rv.VenueID == venueID && (status == "" || rv.Status == status) {
			out = append(out, rv)
		}
	}
	return out, nil
}

type mockVenues struct {
	updates map[string][]map[attribute.Name]attribute.Aggregate
	err     error
}

func newMockVenues() *mockVenues {
	return &mockVenues{updates: map[string][]map[attribute.Name]attribute.Aggregate{}}
}

func (m *mockVenues) UpdateAttributes(_ context.Context, id string, attrs map[attribute.Name]attribute.Aggregate) error {
	if m.err != nil {
		return m.err
	}
	m.updates[id] = append(m.updates[id], attrs)
	return nil
}

func (m *mockVenues) last(id string) map[attribute.Name]attribute.Aggregate {
	u := m.updates[id]
	if len(u) == 0 {
		return nil
	}
	return u[len(u)-1]
}

// mockQueue keeps the backlog and last completion the way Redis would: one
// copy shared by every service built over it.
type mockQueue struct {
	mu         sync.Mutex
	clock      time.Time // enqueue time stamped on new jobs
	enqueued   []string
	acked      []string
	dead       []queue.DeadLetter
	backlog    queue.Backlog
	completed  time.Time
	redeliver  *queue.Job // handed out on every Dequeue when set
	leaseHeld  bool
	leaseCalls int
	leases     int
	released   int
	deadErr    error
	enqueueErr error
	backlogErr error
}

func (m *mockQueue) EnsureGroup(context.Context) error { return nil }

func (m *mockQueue) Enqueue(_ context.Context, reviewID string) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.enqueueErr != nil {
		return "", m.enqueueErr
	}
	m.enqueued = append(m.enqueued, reviewID)
	if m.backlog.Jobs == 0 {
		m.backlog.Oldest = m.clock
	}
	m.backlog.Jobs++
	return "1-0", nil
}

func (m *mockQueue) Dequeue(ctx context.Context, _ string, _ int64) ([]queue.Job, error) {
	m.mu.Lock()
	job := m.redeliver
	m.mu.Unlock()
	if job != nil {
		return []queue.Job{*job}, nil
	}
	<-ctx.Done()
	return nil, ctx.Err()
}

func (m *mockQueue) ackLocked(jobs ...queue.Job) {
	for _, j := range jobs {
		m.acked = append(m.acked, j.MessageID)
		if m.backlog.Jobs > 0 {
			m.backlog.Jobs--
		}
	}
	if m.backlog.Jobs == 0 {
		m.backlog.Oldest = time.Time{}
	}
}

func (m *mockQueue) Ack(_ context.Context, jobs ...queue.Job) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.ackLocked(jobs...)
	return nil
}

func (m *mockQueue) DeadLetter(_ context.Context, job queue.Job, reason string, attempts int) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.deadErr != nil {
		return m.deadErr
	}
	m.dead = append(m.dead, queue.DeadLetter{ReviewID: job.ReviewID, Reason: reason, Attempts: attempts})
	m.ackLocked(job)
	return nil
}

func (m *mockQueue) DeadLetters(context.Context, int64) ([]queue.DeadLetter, error) { return m.dead, nil }

func (m *mockQueue) Backlog(context.Context) (queue.Backlog, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.backlog, m.backlogErr
}

func (m *mockQueue) MarkCompleted(_ context.Context, at time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.completed = at
	return nil
}

func (m *mockQueue) LastCompletion(context.Context) (time.Time, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.completed, nil
}

func (m *mockQueue) AcquireLease(context.Context, string, time.Duration) (queue.Lease, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.leaseCalls++
	if m.leaseHeld {
		return queue.Lease{}, domain.ErrLeaseHeld
	}
	m.leases++
	return queue.Lease{}, nil
}

func (m *mockQueue) ReleaseLease(context.Context, queue.Lease) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.released++
	return nil
}

// scriptedCompleter returns responses in order, repeating the last one.
type scriptedCompleter struct {
	mu        sync.Mutex
	responses []response
	calls     int
}

type response struct {
	content string
	err     error
}

func (c *scriptedCompleter) Complete(_ context.Context, _ domain.CompletionRequest) (domain.CompletionResult, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	r := c.responses[min(c.calls, len(c.responses)-1)]
	c.calls++
	return domain.CompletionResult{Content: r.content}, r.err
}

var errProvider = errors.Join(domain.ErrCompletionProviderError, errors.New("503"))

func testConfig() Config {
	return Config{
		Workers:     1,
		MaxRetries:  3,
		BaseBackoff: time.Millisecond,
		MaxBackoff:  5 * time.Millisecond,
		LeaseTTL:    time.Minute,
		IdleBackoff: time.Millisecond,
		Aggregation: AggregationConfig{
			HalfLife:          720 * time.Hour,
			OutlierDeviations: 2,
			MinSamples:        3,
			ConfidencePrior:   5,
		},
	}
}

type fixture struct {
	reviews   *mockReviews
	venues    *mockVenues
	queue     *mockQueue
	completer *scriptedCompleter
	monitor   *Monitor
	svc       *Service
}

func newFixture(completer *scriptedCompleter, rvs ...review.Review) *fixture {
	f := &fixture{
		reviews:   newMockReviews(rvs...),
		venues:    newMockVenues(),
		queue:     &mockQueue{clock: testNow},
		completer: completer,
		monitor:   NewMonitor(15 * time.Minute),
	}
	f.svc = New(f.reviews, f.venues, f.queue, completer, f.monitor, testConfig(), zap.NewNop())
	f.svc.now = func() time.Time { return testNow }
	return f
}

func pendingReview(id, venueID string) review.Review {
	return review.Review{
		ID:        id,
		VenueID:   venueID,
		Text:      "Lovely quiet spot, great sushi.",
		Rating:    5,
		CreatedAt: testNow.Add(-24 * time.Hour),
		Status:    review.StatusPending,
	}
}

func job(reviewID string) queue.Job {
	return queue.Job{MessageID: "msg-" + reviewID, ReviewID: reviewID}
}
