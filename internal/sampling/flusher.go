package sampling

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/banshee-data/noise.report/internal/db"
	"github.com/banshee-data/noise.report/internal/monitoring"
	"github.com/banshee-data/noise.report/internal/timeutil"
)

// ErrStorageExhausted is returned once a batch has failed every retry.
var ErrStorageExhausted = errors.New("sampling: storage retries exhausted")

// Store is the write side of the reading store.
type Store interface {
	InsertMany(ctx context.Context, readings []db.Reading) (db.InsertResult, error)
}

// Flusher hands drained batches to durable storage.
type Flusher interface {
	// Flush commits batch, retrying as configured. Failure is fatal to the
	// caller.
	Flush(ctx context.Context, batch []db.Reading) error
	// FlushFinal makes one last attempt at batch during shutdown and waits
	// for any outstanding work. Its failure is logged, not retried.
	FlushFinal(batch []db.Reading) error
}

// RetryPolicy bounds how hard a flush tries before giving up.
type RetryPolicy struct {
	Retries int
	Backoff time.Duration
}

// SyncFlusher writes batches inline on the caller's goroutine.
type SyncFlusher struct {
	store  Store
	policy RetryPolicy
	clock  timeutil.Clock
}

func NewSyncFlusher(store Store, policy RetryPolicy, clock timeutil.Clock) *SyncFlusher {
	if clock == nil {
		clock = timeutil.RealClock{}
	}
	if policy.Retries < 0 {
		policy.Retries = 0
	}
	return &SyncFlusher{store: store, policy: policy, clock: clock}
}

// Flush attempts the insert up to 1+Retries times. A cancelled ctx stops the
// retries but never interrupts an insert already under way.
func (f *SyncFlusher) Flush(ctx context.Context, batch []db.Reading) error {
	if len(batch) == 0 {
		return nil
	}
	var lastErr error
	for attempt := 0; attempt <= f.policy.Retries; attempt++ {
		if attempt > 0 {
			if err := f.clock.SleepContext(ctx, f.policy.Backoff); err != nil {
				return fmt.Errorf("flush of %d readings abandoned: %w", len(batch), errors.Join(lastErr, err))
			}
		}
		if lastErr = f.insert(context.WithoutCancel(ctx), batch); lastErr == nil {
			return nil
		}
		monitoring.Logf("sampling: flush attempt %d/%d failed: %v", attempt+1, f.policy.Retries+1, lastErr)
	}
	return fmt.Errorf("%w: %d readings after %d attempts: %w", ErrStorageExhausted, len(batch), f.policy.Retries+1, lastErr)
}

func (f *SyncFlusher) FlushFinal(batch []db.Reading) error {
	if len(batch) == 0 {
		return nil
	}
	if err := f.insert(context.Background(), batch); err != nil {
		monitoring.Logf("sampling: final flush of %d readings failed: %v", len(batch), err)
		return err
	}
	return nil
}

func (f *SyncFlusher) insert(ctx context.Context, batch []db.Reading) error {
	res, err := f.store.InsertMany(ctx, batch)
	if err != nil {
		monitoring.Sampling.StoreFaults.Add(1)
		return err
	}
	monitoring.Sampling.Flushes.Add(1)
	monitoring.Sampling.Inserted.Add(int64(res.Inserted))
	monitoring.Sampling.Skipped.Add(int64(res.Skipped))
	monitoring.Logf("sampling: flushed %d readings (inserted %d, skipped %d)", len(batch), res.Inserted, res.Skipped)
	return nil
}

// QueuedFlusher decouples the sampling loop from storage latency with a
// bounded channel drained by a single writer goroutine. Once the writer has
// given up on a batch, later Flush calls report that failure. Batches the
// writer could not commit are held back and get one more attempt, together
// with the shutdown batch, in FlushFinal.
type QueuedFlusher struct {
	inner *SyncFlusher
	queue chan []db.Reading

	ctx    context.Context
	cancel context.CancelFunc
	done   chan struct{}

	mu    sync.Mutex
	err   error
	final bool
}

// NewQueuedFlusher starts the writer goroutine. depth is the number of
// batches that may wait in the queue before Flush blocks.
func NewQueuedFlusher(inner *SyncFlusher, depth int) *QueuedFlusher {
	if depth <= 0 {
		depth = 1
	}
	ctx, cancel := context.WithCancel(context.Background())
	q := &QueuedFlusher{
		inner:  inner,
		queue:  make(chan []db.Reading, depth),
		ctx:    ctx,
		cancel: cancel,
		done:   make(chan struct{}),
	}
	go q.writer()
	return q
}

func (q *QueuedFlusher) writer() {
	defer close(q.done)
	var held []db.Reading
	for batch := range q.queue {
		if q.Err() != nil || q.ctx.Err() != nil {
			held = append(held, batch...)
			continue
		}
		if err := q.inner.Flush(q.ctx, batch); err != nil {
			held = append(held, batch...)
			if errors.Is(err, ErrStorageExhausted) {
				q.setErr(err)
			}
		}
	}

	// The queue is closed only by FlushFinal: one last attempt at everything
	// not yet committed.
	if len(held) == 0 {
		return
	}
	if err := q.inner.FlushFinal(held); err != nil {
		q.setErr(err)
		return
	}
	if q.Err() != nil {
		monitoring.Logf("sampling: %d readings held after storage failure committed on shutdown", len(held))
	}
}

func (q *QueuedFlusher) setErr(err error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.err == nil {
		q.err = err
	}
}

// Err returns the first failure recorded by the writer.
func (q *QueuedFlusher) Err() error {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.err
}

// Flush enqueues batch. It blocks while the queue is full and returns the
// writer's failure, if any, instead of enqueueing.
func (q *QueuedFlusher) Flush(ctx context.Context, batch []db.Reading) error {
	if err := q.Err(); err != nil {
		return err
	}
	if len(batch) == 0 {
		return nil
	}
	select {
	case q.queue <- batch:
		return nil
	case <-q.done:
		return q.Err()
	case <-ctx.Done():
		return ctx.Err()
	}
}

// FlushFinal stops retries, enqueues the last batch and waits for the writer
// to make its single final attempt. It returns the first failure the writer
// recorded, so an earlier ErrStorageExhausted is reported even when the final
// attempt succeeds. Calling it twice is a no-op.
func (q *QueuedFlusher) FlushFinal(batch []db.Reading) error {
	q.mu.Lock()
	if q.final {
		q.mu.Unlock()
		return nil
	}
	q.final = true
	q.mu.Unlock()

	q.cancel()
	if len(batch) > 0 {
		q.queue <- batch
	}
	close(q.queue)
	<-q.done
	return q.Err()
}
