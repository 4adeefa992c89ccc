// Package connection provides live TAK links keyed by connection id.
package connection

import (
	"context"
	"fmt"
	"log/slog"
	"strconv"
	"sync"

	"github.com/c360/takstreams/cot"
	"github.com/c360/takstreams/errors"
	"github.com/c360/takstreams/layer"
)

// Writer sends CoT events over a live TAK link
type Writer interface {
	Write(ctx context.Context, cots []*cot.CoT) error
}

// Conn is a pooled connection
type Conn struct {
	Config layer.Connection
	TAK    Writer
}

// Source resolves connection configuration. layer.Registry satisfies it.
type Source interface {
	Connection(id int64) (layer.Connection, error)
}

// Publisher is the core NATS publish call. natsclient.Client satisfies it.
type Publisher interface {
	Publish(ctx context.Context, subject string, data []byte) error
}

// Subject returns the subject a connection's TAK bridge listens on
func Subject(id int64) string {
	return "tak.connection." + strconv.FormatInt(id, 10) + ".cot"
}

// NATSWriter forwards CoT XML to the TAK bridge for one connection
type NATSWriter struct {
	pub     Publisher
	subject string
}

// NewNATSWriter creates a writer for connection id
func NewNATSWriter(pub Publisher, id int64) *NATSWriter {
	return &NATSWriter{pub: pub, subject: Subject(id)}
}

// Write publishes each event. All events are attempted; the first error is returned.
func (w *NATSWriter) Write(ctx context.Context, cots []*cot.CoT) error {
	var first error
	failed := 0
	for _, c := range cots {
		x, err := c.XML()
		if err == nil {
			err = w.pub.Publish(ctx, w.subject, []byte(x))
		}
		if err != nil {
			failed++
			if first == nil {
				first = err
			}
		}
	}
	if first != nil {
		return errors.WrapTransient(fmt.Errorf("%d of %d events: %w", failed, len(cots), first),
			"NATSWriter", "Write", "publish to "+w.subject)
	}
	return nil
}

// Pool hands out one Conn per configured connection
type Pool struct {
	source Source
	pub    Publisher
	logger *slog.Logger

	mu    sync.Mutex
	conns map[int64]*Conn
}

// NewPool creates a pool backed by NATS
func NewPool(source Source, pub Publisher, logger *slog.Logger) *Pool {
	if logger == nil {
		logger = slog.Default()
	}
	return &Pool{
		source: source,
		pub:    pub,
		logger: logger,
		conns:  make(map[int64]*Conn),
	}
}

// Get returns the connection for id. Config is re-read on every call so a
// disabled connection is noticed without rebuilding the pool.
func (p *Pool) Get(id int64) (*Conn, error) {
	cfg, err := p.source.Connection(id)
	if err != nil {
		return nil, err
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	c, ok := p.conns[id]
	if !ok {
		c = &Conn{TAK: NewNATSWriter(p.pub, id)}
		p.conns[id] = c
		p.logger.Debug("Opened TAK connection", "connection", id, "subject", Subject(id))
	}
	c.Config = cfg
	return c, nil
}
