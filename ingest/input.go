package ingest

import (
	"context"
	"encoding/json"
	stderrors "errors"
	"log/slog"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/nats-io/nats.go"
	"golang.org/x/time/rate"

	"github.com/c360/takstreams/errors"
	"github.com/c360/takstreams/metric"
	"github.com/c360/takstreams/pkg/worker"
)

// DefaultSubject matches every layer's ingest subject
const DefaultSubject = "tak.layer.*.ingest"

// Subscriber is the NATS subscription call. natsclient.Client satisfies it.
type Subscriber interface {
	Subscribe(ctx context.Context, subject, queue string, handler func(context.Context, *nats.Msg)) error
}

// Ingester processes one request. Pipeline satisfies it.
type Ingester interface {
	Ingest(ctx context.Context, req Request) (Result, error)
}

// InputConfig configures the NATS ingest transport
type InputConfig struct {
	Subject   string  `json:"subject" env:"TAKSTREAMS_INGEST_SUBJECT"`
	Queue     string  `json:"queue" env:"TAKSTREAMS_INGEST_QUEUE"`
	Workers   int     `json:"workers" env:"TAKSTREAMS_INGEST_WORKERS"`
	QueueSize int     `json:"queue_size" env:"TAKSTREAMS_INGEST_QUEUE_SIZE"`
	RateLimit float64 `json:"rate_limit" env:"TAKSTREAMS_INGEST_RATE_LIMIT"` // requests per second, 0 = unlimited
	Burst     int     `json:"burst" env:"TAKSTREAMS_INGEST_BURST"`
}

// DefaultInputConfig returns the transport defaults
func DefaultInputConfig() InputConfig {
	return InputConfig{
		Subject:   DefaultSubject,
		Queue:     "takstreams-ingest",
		Workers:   4,
		QueueSize: 256,
	}
}

// Reply is the response body sent to requesters
type Reply struct {
	OK     bool    `json:"ok"`
	Error  string  `json:"error,omitempty"`
	Result *Result `json:"result,omitempty"`
}

type job struct {
	req Request
	msg *nats.Msg
}

// Input consumes ingest requests from NATS and runs them on a worker pool
type Input struct {
	nc       Subscriber
	pipeline Ingester
	cfg      InputConfig
	logger   *slog.Logger
	registry *metric.MetricsRegistry
	metrics  *metric.Metrics
	limiter  *rate.Limiter
	pool     *worker.Pool[job]
	respond  func(msg *nats.Msg, data []byte) error

	mu      sync.Mutex
	running bool
}

// InputOption configures an Input
type InputOption func(*Input)

// WithInputLogger sets the input logger
func WithInputLogger(logger *slog.Logger) InputOption {
	return func(i *Input) {
		i.logger = logger
	}
}

// WithInputMetrics exports worker pool metrics and counts rejected requests
func WithInputMetrics(registry *metric.MetricsRegistry) InputOption {
	return func(i *Input) {
		i.registry = registry
		if registry != nil {
			i.metrics = registry.CoreMetrics()
		}
	}
}

// NewInput creates an ingest input. Zero config fields take their defaults.
func NewInput(nc Subscriber, pipeline Ingester, cfg InputConfig, opts ...InputOption) *Input {
	def := DefaultInputConfig()
	if cfg.Subject == "" {
		cfg.Subject = def.Subject
	}
	if cfg.Queue == "" {
		cfg.Queue = def.Queue
	}
	if cfg.Workers <= 0 {
		cfg.Workers = def.Workers
	}
	if cfg.QueueSize <= 0 {
		cfg.QueueSize = def.QueueSize
	}

	i := &Input{
		nc:       nc,
		pipeline: pipeline,
		cfg:      cfg,
		logger:   slog.Default(),
		limiter:  rate.NewLimiter(rate.Inf, 0),
		respond:  func(msg *nats.Msg, data []byte) error { return msg.Respond(data) },
	}
	if cfg.RateLimit > 0 {
		burst := cfg.Burst
		if burst <= 0 {
			burst = 1
		}
		i.limiter = rate.NewLimiter(rate.Limit(cfg.RateLimit), burst)
	}
	for _, opt := range opts {
		opt(i)
	}
	i.logger = i.logger.With("component", "ingest-input", "subject", cfg.Subject)

	var poolOpts []worker.Option[job]
	poolOpts = append(poolOpts, worker.WithErrorHandler[job](func(j job, err error) {
		i.logger.Error("Ingest failed", "layer", j.req.Layer, "error", err)
	}))
	if i.registry != nil {
		poolOpts = append(poolOpts, worker.WithMetricsRegistry[job](i.registry, "ingest"))
	}
	i.pool = worker.NewPool[job](cfg.Workers, cfg.QueueSize, i.process, poolOpts...)
	return i
}

// Start launches the workers and subscribes to the ingest subject
func (i *Input) Start(ctx context.Context) error {
	i.mu.Lock()
	defer i.mu.Unlock()

	if i.running {
		return nil
	}
	if err := i.pool.Start(ctx); err != nil {
		return errors.WrapFatal(err, "Input", "Start", "start worker pool")
	}
	if err := i.nc.Subscribe(ctx, i.cfg.Subject, i.cfg.Queue, i.handle); err != nil {
		_ = i.pool.Stop(time.Second)
		return errors.WrapTransient(err, "Input", "Start", "subscribe "+i.cfg.Subject)
	}
	i.running = true
	i.logger.Info("Ingest input started", "queue", i.cfg.Queue, "workers", i.cfg.Workers)
	return nil
}

// Stop waits up to timeout for queued requests to finish. Subscriptions end
// with the context passed to Start.
func (i *Input) Stop(timeout time.Duration) error {
	i.mu.Lock()
	defer i.mu.Unlock()

	if !i.running {
		return nil
	}
	i.running = false
	return i.pool.Stop(timeout)
}

// Stats returns worker pool statistics
func (i *Input) Stats() worker.PoolStats {
	return i.pool.Stats()
}

func (i *Input) handle(_ context.Context, msg *nats.Msg) {
	req, err := decodeRequest(msg)
	if err != nil {
		i.reject(msg, err)
		return
	}
	if err := i.pool.Submit(job{req: req, msg: msg}); err != nil {
		if stderrors.Is(err, worker.ErrQueueFull) {
			err = errors.WrapTransient(errors.ErrRateLimited, "Input", "handle", "queue request")
		}
		i.reject(msg, err)
	}
}

// decodeRequest reads the body and takes the layer id from the subject when
// the body omits it. A body naming a different layer is rejected.
func decodeRequest(msg *nats.Msg) (Request, error) {
	var req Request
	if err := json.Unmarshal(msg.Data, &req); err != nil {
		return Request{}, errors.WrapInvalid(err, "Input", "decodeRequest", "decode request body")
	}

	if id, ok := subjectLayer(msg.Subject); ok {
		if req.Layer == 0 {
			req.Layer = id
		} else if req.Layer != id {
			return Request{}, errors.Validation("Input", "decodeRequest",
				"body layer %d does not match subject %s", req.Layer, msg.Subject)
		}
	}
	if req.Layer == 0 {
		return Request{}, errors.Validation("Input", "decodeRequest", "missing layer id")
	}
	return req, nil
}

// subjectLayer parses tak.layer.<id>.ingest
func subjectLayer(subject string) (int64, bool) {
	tokens := strings.Split(subject, ".")
	if len(tokens) != 4 || tokens[0] != "tak" || tokens[1] != "layer" {
		return 0, false
	}
	id, err := strconv.ParseInt(tokens[2], 10, 64)
	if err != nil {
		return 0, false
	}
	return id, true
}

func (i *Input) process(ctx context.Context, j job) error {
	if err := i.limiter.Wait(ctx); err != nil {
		i.reject(j.msg, err)
		return err
	}

	res, err := i.pipeline.Ingest(ctx, j.req)
	if err != nil {
		i.reply(j.msg, Reply{Error: err.Error()})
		i.recordError(err)
		return err
	}
	i.reply(j.msg, Reply{OK: true, Result: &res})
	return nil
}

func (i *Input) reject(msg *nats.Msg, err error) {
	i.logger.Warn("Rejected ingest request", "nats_subject", msg.Subject, "error", err)
	i.recordError(err)
	i.reply(msg, Reply{Error: err.Error()})
}

func (i *Input) reply(msg *nats.Msg, r Reply) {
	if msg.Reply == "" {
		return
	}
	data, err := json.Marshal(r)
	if err != nil {
		i.logger.Error("Failed to encode ingest reply", "error", err)
		return
	}
	if err := i.respond(msg, data); err != nil {
		i.logger.Warn("Failed to send ingest reply", "error", err)
	}
}

func (i *Input) recordError(err error) {
	if i.metrics != nil {
		i.metrics.RecordError("ingest", errors.Classify(err).String())
	}
}
