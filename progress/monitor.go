// Package progress periodically persists a run's processed-count and polls
// the batch row for an external cancellation request, on the same ticker
// lifecycle the teacher repo uses for its coordinator goroutines.
package progress

import (
	"context"
	"sync/atomic"
	"time"

	"gorm.io/gorm"

	"vitalpipe.dev/common"
	"vitalpipe.dev/dbmodel"
)

// Counter is the shared, single-writer-per-consumer processed-count the
// monitor reports. It is advisory only; exactness is not relied upon by
// correctness (spec.md §5).
type Counter struct {
	n int64
}

// Add increments the counter by delta.
func (c *Counter) Add(delta int64) { atomic.AddInt64(&c.n, delta) }

// Value reads the current count.
func (c *Counter) Value() int64 { return atomic.LoadInt64(&c.n) }

// Monitor polls a batch row's status and mirrors Counter into its
// record_count column every Interval.
type Monitor struct {
	DB       *gorm.DB
	BatchID  string
	Counter  *Counter
	Interval time.Duration

	// CancelRequested is set once the monitor observes status "cancelling".
	// Single-writer (the monitor), single-reader (the pipeline producer).
	CancelRequested atomic.Bool
}

// NewMonitor builds a Monitor with spec.md's default 2-second interval.
func NewMonitor(db *gorm.DB, batchID string, counter *Counter) *Monitor {
	return &Monitor{DB: db, BatchID: batchID, Counter: counter, Interval: 2 * time.Second}
}

// Run blocks until ctx is cancelled, ticking every Interval. Cancellation of
// ctx is treated as a clean exit, not an error, matching spec.md §4.7.
func (m *Monitor) Run(ctx context.Context) {
	ticker := time.NewTicker(m.Interval)
	defer ticker.Stop()

	var lastReported int64 = -1
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			m.tick(ctx, &lastReported)
		}
	}
}

func (m *Monitor) tick(ctx context.Context, lastReported *int64) {
	current := m.Counter.Value()
	if current != *lastReported {
		// Transient write errors are logged and ignored; the next tick retries.
		if err := m.DB.WithContext(ctx).
			Model(&dbmodel.ImportBatch{}).
			Where("id = ?", m.BatchID).
			Update("record_count", current).Error; err != nil {
			common.Logger.WithError(err).WithField("batch_id", m.BatchID).Warn("progress update failed")
		} else {
			*lastReported = current
		}
	}

	var status string
	if err := m.DB.WithContext(ctx).
		Model(&dbmodel.ImportBatch{}).
		Where("id = ?", m.BatchID).
		Pluck("status", &status).Error; err != nil {
		return
	}
	if status == dbmodel.StatusCancelling {
		m.CancelRequested.Store(true)
	}
}
