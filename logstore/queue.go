package logstore

import (
	"context"
	"log/slog"
	"sync"

	"github.com/c360/takstreams/errors"
	"github.com/c360/takstreams/metric"
)

// BatchSize is the number of items written per store call
const BatchSize = 25

// Queue buffers feature snapshots and writes them to a Store in batches.
//
// At most one write is in flight per Queue. Each trigger writes a single
// batch; a backlog larger than BatchSize drains on later Queue calls or on
// Flush. A failed batch stays at the head of the buffer and is retried on the
// next trigger.
type Queue struct {
	store   Store
	logger  *slog.Logger
	onError func(error)
	metrics *queueMetrics

	ctx    context.Context
	cancel context.CancelFunc

	mu         sync.Mutex
	pending    []Item
	processing bool
	done       chan struct{}
}

// Option configures a Queue
type Option func(*Queue) error

// WithLogger sets the queue logger
func WithLogger(logger *slog.Logger) Option {
	return func(q *Queue) error {
		q.logger = logger
		return nil
	}
}

// WithErrorHandler receives every failed store write
func WithErrorHandler(fn func(error)) Option {
	return func(q *Queue) error {
		q.onError = fn
		return nil
	}
}

// WithMetricsRegistry exports backlog and write counters
func WithMetricsRegistry(registry *metric.MetricsRegistry) Option {
	return func(q *Queue) error {
		m, err := newQueueMetrics(registry)
		if err != nil {
			return err
		}
		q.metrics = m
		return nil
	}
}

// NewQueue creates a Queue writing to store
func NewQueue(store Store, opts ...Option) (*Queue, error) {
	q := &Queue{store: store, logger: slog.Default()}
	for _, opt := range opts {
		if err := opt(q); err != nil {
			return nil, errors.Wrap(err, "Queue", "NewQueue", "apply option")
		}
	}
	if q.onError == nil {
		q.onError = func(err error) {
			q.logger.Error("Feature log write failed", "error", err)
		}
	}
	q.ctx, q.cancel = context.WithCancel(context.Background())
	return q, nil
}

// Queue appends items and starts a write if none is in flight. It never blocks on the store.
func (q *Queue) Queue(items []Item) {
	q.mu.Lock()
	defer q.mu.Unlock()

	q.pending = append(q.pending, items...)
	q.metrics.setBacklog(len(q.pending))

	if q.processing || q.ctx.Err() != nil {
		return
	}
	done := q.startLocked()
	go q.process(q.ctx, done)
}

// Len returns the number of buffered items
func (q *Queue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.pending)
}

// startLocked marks a write in flight. Callers hold q.mu.
func (q *Queue) startLocked() chan struct{} {
	q.processing = true
	q.done = make(chan struct{})
	return q.done
}

// process writes one batch from the head of the buffer
func (q *Queue) process(ctx context.Context, done chan struct{}) error {
	q.mu.Lock()
	n := min(len(q.pending), BatchSize)
	batch := make([]Item, n)
	copy(batch, q.pending[:n])
	q.mu.Unlock()

	var err error
	if n > 0 {
		err = q.store.Put(ctx, batch)
	}

	q.mu.Lock()
	if err == nil {
		// Only process removes from the head, so the first n are still ours
		q.pending = q.pending[n:]
	}
	q.metrics.setBacklog(len(q.pending))
	q.processing = false
	close(done)
	q.mu.Unlock()

	q.metrics.recordWrite(n, err)
	if err != nil {
		err = errors.WrapTransient(err, "Queue", "process", "write feature log")
		q.onError(err)
	}
	return err
}

// Flush writes the whole backlog, waiting for any in-flight write first. It
// stops at the first failed batch.
func (q *Queue) Flush(ctx context.Context) error {
	for {
		q.mu.Lock()
		if q.processing {
			done := q.done
			q.mu.Unlock()
			select {
			case <-done:
				continue
			case <-ctx.Done():
				return ctx.Err()
			}
		}
		if len(q.pending) == 0 {
			q.mu.Unlock()
			return nil
		}
		done := q.startLocked()
		q.mu.Unlock()

		if err := q.process(ctx, done); err != nil {
			return err
		}
	}
}

// Close flushes the backlog and stops background writes
func (q *Queue) Close(ctx context.Context) error {
	err := q.Flush(ctx)
	q.cancel()
	return err
}
