package outgoing

import (
	"context"
	"encoding/json"
	"log/slog"
	"strconv"
	"sync"

	"github.com/c360/takstreams/cot"
)

const (
	// MaxQueueLength bounds a tasker's pending queue after each drained batch
	MaxQueueLength = 10000
	// BatchSize is the number of entries per broker call
	BatchSize = 10
)

// Key identifies a tasker
type Key struct {
	Connection int64
	Layer      int64
}

// Tasker owns the pending queue for one (connection, layer) pair and the
// goroutine draining it to the broker.
type Tasker struct {
	key     Key
	target  Target
	broker  Broker
	logger  *slog.Logger
	metrics *sinkMetrics
	ctx     context.Context

	mu         sync.Mutex
	pending    []*cot.CoT
	processing bool
	done       chan struct{}
}

func newTasker(ctx context.Context, target Target, broker Broker, logger *slog.Logger, metrics *sinkMetrics) *Tasker {
	key := Key{Connection: target.Connection, Layer: target.Layer}
	return &Tasker{
		key:     key,
		target:  target,
		broker:  broker,
		logger:  logger.With("connection", key.Connection, "layer", key.Layer),
		metrics: metrics,
		ctx:     ctx,
	}
}

// Key returns the tasker identity
func (t *Tasker) Key() Key {
	return t.key
}

// Len returns the number of pending events
func (t *Tasker) Len() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.pending)
}

func (t *Tasker) enqueue(cots []*cot.CoT) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.pending = append(t.pending, cots...)
	t.metrics.depth(t.key, len(t.pending))
}

// Ping starts a drain unless one is already running
func (t *Tasker) Ping() {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.processing || t.ctx.Err() != nil {
		return
	}
	t.processing = true
	t.done = make(chan struct{})
	go t.process(t.done)
}

// process sends the queue to the broker BatchSize events at a time, oldest
// first, until it is empty. A failed batch is logged and dropped.
func (t *Tasker) process(done chan struct{}) {
	for {
		t.mu.Lock()
		if len(t.pending) == 0 || t.ctx.Err() != nil {
			// Cleared under the lock that observed the empty queue so a
			// concurrent Ping either sees processing or finds work.
			t.processing = false
			close(done)
			t.mu.Unlock()
			return
		}
		n := min(len(t.pending), BatchSize)
		batch := make([]*cot.CoT, n)
		copy(batch, t.pending[:n])
		t.pending = t.pending[n:]
		t.mu.Unlock()

		t.send(batch)

		t.mu.Lock()
		shed := len(t.pending) - MaxQueueLength
		if shed > 0 {
			t.pending = t.pending[shed:]
		}
		depth := len(t.pending)
		t.mu.Unlock()

		t.metrics.depth(t.key, depth)
		if shed > 0 {
			t.metrics.shedN(t.key, shed)
			t.logger.Warn("Outgoing queue overflow, dropped oldest events", "dropped", shed, "max", MaxQueueLength)
		}
	}
}

func (t *Tasker) send(batch []*cot.CoT) {
	entries := make([]Entry, 0, len(batch))
	for _, c := range batch {
		e, err := t.entry(c)
		if err != nil {
			t.logger.Error("Skipping unencodable CoT", "uid", c.UID(), "error", err)
			continue
		}
		entries = append(entries, e)
	}
	if len(entries) == 0 {
		return
	}

	err := t.broker.SendBatch(t.ctx, t.target, entries)
	t.metrics.batch(t.key, len(entries), err)
	if err != nil {
		t.logger.Error("Outgoing batch failed", "size", len(entries), "error", err)
	}
}

func (t *Tasker) entry(c *cot.CoT) (Entry, error) {
	x, err := c.XML()
	if err != nil {
		return Entry{}, err
	}
	gj, err := json.Marshal(c.GeoJSON())
	if err != nil {
		return Entry{}, err
	}
	return Entry{
		XML:     x,
		GeoJSON: gj,
		GroupID: strconv.FormatInt(t.key.Layer, 10) + "-" + c.UID(),
	}, nil
}

// wait blocks until any running drain finishes or ctx is done
func (t *Tasker) wait(ctx context.Context) error {
	t.mu.Lock()
	done := t.done
	processing := t.processing
	t.mu.Unlock()

	if !processing {
		return nil
	}
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
