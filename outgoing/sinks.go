package outgoing

import (
	"context"
	"log/slog"
	"sort"
	"strconv"
	"sync"

	"github.com/c360/takstreams/cot"
	"github.com/c360/takstreams/errors"
	"github.com/c360/takstreams/layer"
	"github.com/c360/takstreams/metric"
)

// DefaultSubjectPrefix is used for layers without an explicit outgoing subject
const DefaultSubjectPrefix = "tak.outgoing"

// ConnectionRef identifies the connection a batch was delivered on. Ephemeral
// connections have non-numeric ids and no outgoing sinks.
type ConnectionRef struct {
	ID string
}

// LayerSource lists the broker-enabled layers of a connection. layer.Registry satisfies it.
type LayerSource interface {
	OutgoingLayers(connection int64) []layer.Layer
}

// TaskerStats is a point-in-time view of one tasker
type TaskerStats struct {
	Connection int64 `json:"connection"`
	Layer      int64 `json:"layer"`
	Pending    int   `json:"pending"`
}

// Sinks routes CoT batches to per-(connection, layer) taskers
type Sinks struct {
	layers  LayerSource
	broker  Broker
	prefix  string
	logger  *slog.Logger
	metrics *sinkMetrics

	ctx    context.Context
	cancel context.CancelFunc

	mu      sync.Mutex
	taskers map[Key]*Tasker
}

// Option configures Sinks
type Option func(*Sinks) error

// WithLogger sets the logger
func WithLogger(logger *slog.Logger) Option {
	return func(s *Sinks) error {
		s.logger = logger
		return nil
	}
}

// WithSubjectPrefix sets the subject prefix for layers without their own subject
func WithSubjectPrefix(prefix string) Option {
	return func(s *Sinks) error {
		s.prefix = prefix
		return nil
	}
}

// WithMetricsRegistry exports tasker queue metrics
func WithMetricsRegistry(registry *metric.MetricsRegistry) Option {
	return func(s *Sinks) error {
		m, err := newSinkMetrics(registry)
		if err != nil {
			return err
		}
		s.metrics = m
		return nil
	}
}

// NewSinks creates the outgoing fan-out
func NewSinks(layers LayerSource, broker Broker, opts ...Option) (*Sinks, error) {
	s := &Sinks{
		layers:  layers,
		broker:  broker,
		prefix:  DefaultSubjectPrefix,
		logger:  slog.Default(),
		taskers: make(map[Key]*Tasker),
	}
	for _, opt := range opts {
		if err := opt(s); err != nil {
			return nil, errors.Wrap(err, "Sinks", "NewSinks", "apply option")
		}
	}
	s.ctx, s.cancel = context.WithCancel(context.Background())
	return s, nil
}

// Cots queues the batch on every enabled layer of conn that has a broker sink
// and pings each tasker. It returns false for connections without a numeric
// id. An empty batch returns true without touching any queue. Each layer
// sends its events in arrival order, oldest first, and once a queue exceeds
// MaxQueueLength after a batch the oldest events are shed.
func (s *Sinks) Cots(conn ConnectionRef, cots []*cot.CoT) bool {
	id, err := strconv.ParseInt(conn.ID, 10, 64)
	if err != nil {
		return false
	}
	if len(cots) == 0 {
		return true
	}

	for _, l := range s.layers.OutgoingLayers(id) {
		t := s.Tasker(id, l)
		t.enqueue(cots)
		t.Ping()
	}
	return true
}

// Tasker returns the tasker for (connection, l), creating it on first use
func (s *Sinks) Tasker(connection int64, l layer.Layer) *Tasker {
	key := Key{Connection: connection, Layer: l.ID}

	s.mu.Lock()
	defer s.mu.Unlock()

	if t, ok := s.taskers[key]; ok {
		return t
	}
	t := newTasker(s.ctx, Target{
		Connection: connection,
		Layer:      l.ID,
		Subject:    s.subject(l),
	}, s.broker, s.logger, s.metrics)
	s.taskers[key] = t
	return t
}

func (s *Sinks) subject(l layer.Layer) string {
	if l.Outgoing != nil && l.Outgoing.Subject != "" {
		return l.Outgoing.Subject
	}
	return s.prefix + "." + strconv.FormatInt(l.ID, 10)
}

// Stats returns the pending depth of every tasker
func (s *Sinks) Stats() []TaskerStats {
	s.mu.Lock()
	taskers := make([]*Tasker, 0, len(s.taskers))
	for _, t := range s.taskers {
		taskers = append(taskers, t)
	}
	s.mu.Unlock()

	out := make([]TaskerStats, 0, len(taskers))
	for _, t := range taskers {
		out = append(out, TaskerStats{Connection: t.key.Connection, Layer: t.key.Layer, Pending: t.Len()})
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Connection != out[j].Connection {
			return out[i].Connection < out[j].Connection
		}
		return out[i].Layer < out[j].Layer
	})
	return out
}

// Close stops every drain after its current batch and waits for them to exit
func (s *Sinks) Close(ctx context.Context) error {
	s.cancel()

	s.mu.Lock()
	taskers := make([]*Tasker, 0, len(s.taskers))
	for _, t := range s.taskers {
		taskers = append(taskers, t)
	}
	s.mu.Unlock()

	for _, t := range taskers {
		if err := t.wait(ctx); err != nil {
			return errors.Wrap(err, "Sinks", "Close", "wait for tasker")
		}
	}
	return nil
}
