// Package pipeline wires the archive validator, element classifier, source
// registry, batch writer, and progress monitor into the bounded-channel
// producer/consumer that drives one ingestion run end to end. It plays the
// role the worker pool and websocket coordinator play in the teacher
// repo — a single goroutine feeding work, a fixed pool draining it — but
// the queue here is an in-process Go channel rather than a remote broker,
// since a run's whole lifetime fits inside one process.
package pipeline

import (
	"context"
	"fmt"
	"io"
	"sync"
	"sync/atomic"

	"github.com/jackc/pgx/v5/pgxpool"
	"gorm.io/gorm"

	"vitalpipe.dev/archive"
	"vitalpipe.dev/batch"
	"vitalpipe.dev/common"
	"vitalpipe.dev/healthxml"
	"vitalpipe.dev/ingesterr"
	"vitalpipe.dev/progress"
	"vitalpipe.dev/sources"
)

// Config tunes the producer/consumer shape. Zero-value fields fall back to
// DefaultConfig's numbers via applyDefaults.
type Config struct {
	// QueueDepth is the channel buffer between the producer and consumers.
	QueueDepth int
	// BatchSize is how many rows, across all entity kinds (route points
	// included), accumulate into one batch.Payload before it is handed to a
	// consumer.
	BatchSize int
	// ConsumerCount is how many goroutines call batch.Writer.Write concurrently.
	ConsumerCount int
}

// DefaultConfig matches spec.md §5's suggested starting point: a handful of
// consumers, enough queue depth to keep them fed without unbounded growth.
func DefaultConfig() Config {
	return Config{QueueDepth: 8, BatchSize: 25000, ConsumerCount: 3}
}

func (c Config) applyDefaults() Config {
	d := DefaultConfig()
	if c.QueueDepth <= 0 {
		c.QueueDepth = d.QueueDepth
	}
	if c.BatchSize <= 0 {
		c.BatchSize = d.BatchSize
	}
	if c.ConsumerCount <= 0 {
		c.ConsumerCount = d.ConsumerCount
	}
	return c
}

// Outcome summarises one completed or aborted run.
type Outcome struct {
	RecordCount  int
	SkippedCount int
	ErrorCount   int
	Cancelled    bool
}

// Run drives one ingestion attempt for candidate, landing rows tagged with
// ownerID and batchID. It returns once the input is fully consumed, a fatal
// error occurs, or cancellation is observed on the batch row.
func Run(ctx context.Context, cfg Config, db *gorm.DB, pool *pgxpool.Pool, ownerID int, batchID string, candidate *archive.Candidate) (Outcome, error) {
	cfg = cfg.applyDefaults()

	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	registry := sources.New(pool)
	if err := registry.Warm(runCtx); err != nil {
		return Outcome{}, ingesterr.New(ingesterr.WriteFatal, fmt.Errorf("warming source registry: %w", err))
	}
	writer := batch.NewWriter(pool)

	counter := &progress.Counter{}
	mon := progress.NewMonitor(db, batchID, counter)
	monDone := make(chan struct{})
	go func() {
		mon.Run(runCtx)
		close(monDone)
	}()

	chunks := make(chan batch.Payload, cfg.QueueDepth)

	var errMu sync.Mutex
	var firstErr error
	fail := func(err error) {
		errMu.Lock()
		defer errMu.Unlock()
		if firstErr == nil {
			firstErr = err
			cancel()
		}
	}

	var skipped, errored atomic.Int64
	var wg sync.WaitGroup
	for i := 0; i < cfg.ConsumerCount; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for payload := range chunks {
				stats, err := writer.Write(runCtx, payload)
				if err != nil {
					fail(err)
					continue
				}
				if len(stats.SubFailures) > 0 {
					errored.Add(int64(len(stats.SubFailures)))
					for _, sf := range stats.SubFailures {
						common.Logger.WithError(sf).WithField("batch_id", batchID).Warn("sub-write failed")
					}
				}
			}
		}()
	}

	reader := &ctxReader{ctx: runCtx, r: candidate.Reader}
	result, producerErr := runProducer(runCtx, reader, registry, mon, counter, batchID, ownerID, cfg.BatchSize, chunks, &skipped)

	close(chunks)
	wg.Wait()
	cancel()
	<-monDone

	if producerErr != nil {
		fail(producerErr)
	}

	out := Outcome{
		RecordCount:  result.Processed,
		SkippedCount: int(skipped.Load()),
		ErrorCount:   int(errored.Load()),
		Cancelled:    mon.CancelRequested.Load(),
	}
	if firstErr != nil {
		return out, firstErr
	}
	if out.Cancelled {
		return out, ingesterr.New(ingesterr.CancelledByUser, fmt.Errorf("batch %s cancelled", batchID))
	}
	return out, nil
}

// runProducer streams r through the classifier, converts each event into
// its dbmodel row shape, resolves sources, and flushes accumulated rows to
// chunks whenever their combined count reaches batchSize. The returned Result's Processed field is
// the authoritative processed_count (spec.md §8 property 2): one per
// classified element, incremented in lockstep with counter so the monitor's
// live record_count and the final Outcome agree on what "processed" means,
// independent of how many rows a write landed or deduplicated.
func runProducer(ctx context.Context, r io.Reader, registry *sources.Registry, mon *progress.Monitor, counter *progress.Counter, batchID string, ownerID, batchSize int, chunks chan<- batch.Payload, skipped *atomic.Int64) (healthxml.Result, error) {
	b := &builder{ctx: ctx, ownerID: ownerID, batchID: batchID, threshold: batchSize}

	result, err := healthxml.Parse(r, healthxml.Handler{
		Cancelled: func() bool { return mon.CancelRequested.Load() },
		OnRecord: func(e healthxml.RecordEvent) {
			b.addRecord(e, resolveSource(ctx, registry, e.Source))
			counter.Add(1)
			b.flushIfFull(chunks)
		},
		OnWorkout: func(e healthxml.WorkoutEvent) {
			b.addWorkout(e, resolveSource(ctx, registry, e.Source))
			counter.Add(1)
			b.flushIfFull(chunks)
		},
		OnActivitySummary: func(e healthxml.ActivitySummaryEvent) {
			b.addSummary(e)
			counter.Add(1)
			b.flushIfFull(chunks)
		},
		OnSkip: func(tag, reason string) {
			skipped.Add(1)
		},
	})
	if err != nil {
		return result, err
	}

	b.flush(chunks)
	return result, nil
}

// resolveSource looks up a classified Source, logging and falling back to
// an unattributed row (nil) on registry failure rather than aborting the run.
func resolveSource(ctx context.Context, registry *sources.Registry, src healthxml.Source) *int {
	id, ok, err := registry.Resolve(ctx, src.Name, src.BundleID, src.Device)
	if err != nil {
		common.Logger.WithError(err).Warn("source resolution failed, recording without a source")
		return nil
	}
	if !ok {
		return nil
	}
	return &id
}
