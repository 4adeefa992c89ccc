// Package ingest runs inbound layer features through styling, mission
// reconciliation and delivery to TAK, the feature log and broker sinks.
package ingest

import (
	"context"
	"log/slog"
	"strconv"
	"time"

	"github.com/paulmach/orb/geojson"

	"github.com/c360/takstreams/connection"
	"github.com/c360/takstreams/cot"
	"github.com/c360/takstreams/errors"
	"github.com/c360/takstreams/layer"
	"github.com/c360/takstreams/logstore"
	"github.com/c360/takstreams/metric"
	"github.com/c360/takstreams/mission"
	"github.com/c360/takstreams/outgoing"
	"github.com/c360/takstreams/style"
)

// Request is one inbound batch for a layer
type Request struct {
	Layer    int64                      `json:"layer"`
	Features *geojson.FeatureCollection `json:"features"`
	// UIDs is the full set of uids the layer currently publishes. Required
	// for mission diff layers.
	UIDs []string `json:"uids,omitempty"`
	// Logging set to false skips the feature log for this batch
	Logging *bool `json:"logging,omitempty"`
}

// Result summarises what happened to a batch
type Result struct {
	Received   int `json:"received"`
	Dropped    int `json:"dropped"`
	Unchanged  int `json:"unchanged"`
	Detached   int `json:"detached"`
	Dispatched int `json:"dispatched"`
	Logged     int `json:"logged"`
}

// LayerSource resolves a layer. layer.Registry satisfies it.
type LayerSource interface {
	Layer(id int64) (*layer.Entry, error)
}

// ConnectionPool hands out live TAK links. connection.Pool satisfies it.
type ConnectionPool interface {
	Get(id int64) (*connection.Conn, error)
}

// Reconciler computes the mission diff. mission.Reconciler satisfies it.
type Reconciler interface {
	Reconcile(ctx context.Context, mission string, cots []*cot.CoT, uids []string, opts mission.Options) (mission.Plan, error)
}

// LogQueue accepts feature snapshots without blocking. logstore.Queue satisfies it.
type LogQueue interface {
	Queue(items []logstore.Item)
}

// Sink fans a batch out to broker destinations. outgoing.Sinks satisfies it.
type Sink interface {
	Cots(conn outgoing.ConnectionRef, cots []*cot.CoT) bool
}

// Pipeline processes ingest requests
type Pipeline struct {
	layers     LayerSource
	conns      ConnectionPool
	reconciler Reconciler
	missions   mission.Client
	logQueue   LogQueue
	sink       Sink
	logger     *slog.Logger
	metrics    *metric.Metrics
}

// Option configures a Pipeline
type Option func(*Pipeline) error

// WithLogger sets the pipeline logger
func WithLogger(logger *slog.Logger) Option {
	return func(p *Pipeline) error {
		p.logger = logger
		return nil
	}
}

// WithMetricsRegistry records pipeline metrics in the registry's core metrics
func WithMetricsRegistry(registry *metric.MetricsRegistry) Option {
	return func(p *Pipeline) error {
		if registry != nil {
			p.metrics = registry.CoreMetrics()
		}
		return nil
	}
}

// WithReconciler enables mission diff for layers that ask for it
func WithReconciler(r Reconciler) Option {
	return func(p *Pipeline) error {
		p.reconciler = r
		return nil
	}
}

// WithMissionClient enables attaching dispatched uids to synced missions
func WithMissionClient(c mission.Client) Option {
	return func(p *Pipeline) error {
		p.missions = c
		return nil
	}
}

// WithLogQueue enables the feature log
func WithLogQueue(q LogQueue) Option {
	return func(p *Pipeline) error {
		p.logQueue = q
		return nil
	}
}

// WithSink enables broker fan-out
func WithSink(s Sink) Option {
	return func(p *Pipeline) error {
		p.sink = s
		return nil
	}
}

// NewPipeline creates a pipeline over the layer registry and connection pool
func NewPipeline(layers LayerSource, conns ConnectionPool, opts ...Option) (*Pipeline, error) {
	if layers == nil || conns == nil {
		return nil, errors.WrapFatal(errors.ErrMissingConfig, "Pipeline", "NewPipeline", "check collaborators")
	}
	p := &Pipeline{layers: layers, conns: conns, logger: slog.Default()}
	for _, opt := range opts {
		if err := opt(p); err != nil {
			return nil, errors.Wrap(err, "Pipeline", "NewPipeline", "apply option")
		}
	}
	return p, nil
}

// Ingest styles, encodes and delivers one batch.
//
// Only validation problems are returned as errors. Upstream failures (Mission
// API, TAK link, broker, log store) are logged and counted and the batch
// continues through the remaining stages.
func (p *Pipeline) Ingest(ctx context.Context, req Request) (Result, error) {
	start := time.Now()

	entry, err := p.layers.Layer(req.Layer)
	if err != nil {
		return Result{}, err
	}
	if !entry.Layer.Enabled {
		return Result{}, errors.Validation("Pipeline", "Ingest", "layer %d is disabled", req.Layer)
	}
	if req.Features == nil {
		return Result{}, errors.Validation("Pipeline", "Ingest", "layer %d: missing features", req.Layer)
	}
	if entry.MissionDiff() && req.UIDs == nil {
		return Result{}, errors.WrapInvalid(errors.ErrMissionDiffUIDs, "Pipeline", "Ingest", "check uids")
	}

	logger := p.logger.With("layer", req.Layer)
	res := Result{Received: len(req.Features.Features)}
	if p.metrics != nil {
		p.metrics.RecordFeaturesIngested(req.Layer, res.Received)
	}

	styled := p.style(logger, entry, req.Features.Features, &res)

	encoded := make([]*cot.CoT, 0, len(styled))
	for _, f := range styled {
		c, err := cot.FromFeature(f)
		if err != nil {
			logger.Warn("Dropping feature that cannot be encoded", "error", err)
			res.Dropped++
			p.recordDropped(req.Layer, "encode", 1)
			continue
		}
		encoded = append(encoded, c)
	}

	cots := p.plan(ctx, logger, entry, encoded, req.UIDs, &res)

	connID := entry.Layer.ConnectionID(entry.Data)
	p.dispatch(ctx, logger, connID, cots, &res)
	p.attach(ctx, logger, entry, cots)

	if p.logQueue != nil && entry.Layer.Logging && (req.Logging == nil || *req.Logging) {
		items := make([]logstore.Item, 0, len(encoded))
		for _, c := range encoded {
			items = append(items, logstore.ItemFromFeature(req.Layer, c.UID(), c.GeoJSON()))
		}
		p.logQueue.Queue(items)
		res.Logged = len(items)
	}

	if p.sink != nil {
		p.sink.Cots(outgoing.ConnectionRef{ID: strconv.FormatInt(connID, 10)}, cots)
	}

	if p.metrics != nil {
		p.metrics.RecordIngestDuration(req.Layer, time.Since(start))
	}
	logger.Debug("Ingested batch",
		"received", res.Received,
		"dropped", res.Dropped,
		"unchanged", res.Unchanged,
		"dispatched", res.Dispatched)
	return res, nil
}

func (p *Pipeline) style(logger *slog.Logger, entry *layer.Entry, features []*geojson.Feature, res *Result) []*geojson.Feature {
	cfg := entry.StyleConfig()
	out := make([]*geojson.Feature, 0, len(features))
	for _, f := range features {
		if f == nil {
			res.Dropped++
			continue
		}
		r, err := style.Apply(f, cfg)
		if err != nil {
			logger.Warn("Dropping feature that failed styling", "error", err)
			res.Dropped++
			p.recordDropped(entry.Layer.ID, "style_error", 1)
			continue
		}
		if r.Drop {
			res.Dropped++
			p.recordDropped(entry.Layer.ID, "style_delete", 1)
			continue
		}
		out = append(out, r.Feature)
	}
	return out
}

// plan decides which cots are dispatched. Mission diff layers send only what
// changed; when the diff cannot be computed every cot is sent to the mission.
func (p *Pipeline) plan(ctx context.Context, logger *slog.Logger, entry *layer.Entry, encoded []*cot.CoT, uids []string, res *Result) []*cot.CoT {
	if entry.Data == nil || !entry.Data.MissionSync {
		return encoded
	}

	name := entry.Data.Name
	if entry.MissionDiff() && p.reconciler != nil {
		plan, err := p.reconciler.Reconcile(ctx, name, encoded, uids, mission.Options{Token: entry.Data.MissionToken})
		if err == nil {
			res.Detached = len(plan.Detach)
			res.Unchanged = len(encoded) - len(plan.Submit)
			p.recordDropped(entry.Layer.ID, "unchanged", res.Unchanged)
			return plan.Submit
		}
		p.recordError("mission", err)
		logger.Error("Mission diff failed, sending full batch", "mission", name, "error", err)
	}

	for _, c := range encoded {
		c.AddDest(name)
	}
	return encoded
}

func (p *Pipeline) dispatch(ctx context.Context, logger *slog.Logger, connID int64, cots []*cot.CoT, res *Result) {
	conn, err := p.conns.Get(connID)
	if err != nil {
		p.recordError("connection", err)
		logger.Error("Connection lookup failed", "connection", connID, "error", err)
		return
	}
	if !conn.Config.Enabled || len(cots) == 0 {
		return
	}
	if err := conn.TAK.Write(ctx, cots); err != nil {
		p.recordError("connection", err)
		logger.Error("TAK write failed", "connection", connID, "error", err)
		return
	}
	res.Dispatched = len(cots)
	if p.metrics != nil {
		p.metrics.RecordCotsDispatched(strconv.FormatInt(connID, 10), len(cots))
	}
}

func (p *Pipeline) attach(ctx context.Context, logger *slog.Logger, entry *layer.Entry, cots []*cot.CoT) {
	if p.missions == nil || entry.Data == nil || !entry.Data.MissionSync || len(cots) == 0 {
		return
	}
	uids := make([]string, 0, len(cots))
	for _, c := range cots {
		uids = append(uids, c.UID())
	}
	opts := mission.Options{Token: entry.Data.MissionToken}
	if err := p.missions.AttachContents(ctx, entry.Data.Name, mission.Contents{UIDs: uids}, opts); err != nil {
		p.recordError("mission", err)
		logger.Warn("Mission attach failed", "mission", entry.Data.Name, "error", err)
	}
}

func (p *Pipeline) recordDropped(layer int64, reason string, n int) {
	if p.metrics != nil {
		p.metrics.RecordFeaturesDropped(layer, reason, n)
	}
}

func (p *Pipeline) recordError(component string, err error) {
	if p.metrics != nil {
		p.metrics.RecordError(component, errors.Classify(err).String())
	}
}
