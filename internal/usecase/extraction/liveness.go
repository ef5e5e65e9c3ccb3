package extraction

import (
	"time"

	"github.com/kailas-cloud/venuesearch/internal/metrics"
	"github.com/kailas-cloud/venuesearch/internal/repository/queue"
)

// Liveness is the pipeline state reported to health checks and alerting.
type Liveness struct {
	LastCompletion time.Time     `json:"last_completion,omitzero"`
	Window         time.Duration `json:"-"`
	Stalled        bool          `json:"stalled"`
	Backlog        int64         `json:"backlog"`
	OldestPending  time.Time     `json:"oldest_pending,omitzero"`
}

// Monitor judges liveness from the shared queue state, so API-only and
// worker-only processes agree. The pipeline is stalled when outstanding
// work has gone without any completion for longer than the window.
type Monitor struct {
	window time.Duration
}

// NewMonitor creates a monitor.
func NewMonitor(window time.Duration) *Monitor {
	return &Monitor{window: window}
}

// Completed publishes a finished job, whatever its outcome.
func (m *Monitor) Completed(at time.Time) {
	metrics.LastCompletionTimestamp.Set(float64(at.Unix()))
}

// Stalled reports whether backlog has been waiting longer than the window.
// The wait starts at the later of the oldest outstanding enqueue and the
// last completion.
func (m *Monitor) Stalled(now time.Time, b queue.Backlog, lastCompletion time.Time) bool {
	if b.Jobs == 0 || b.Oldest.IsZero() {
		return false
	}
	since := b.Oldest
	if lastCompletion.After(since) {
		since = lastCompletion
	}
	return now.Sub(since) > m.window
}
