package main

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/nats-io/nats.go/jetstream"
	"golang.org/x/sync/errgroup"

	"github.com/c360/takstreams/config"
	"github.com/c360/takstreams/connection"
	"github.com/c360/takstreams/health"
	"github.com/c360/takstreams/ingest"
	"github.com/c360/takstreams/layer"
	"github.com/c360/takstreams/logstore"
	"github.com/c360/takstreams/metric"
	"github.com/c360/takstreams/mission"
	"github.com/c360/takstreams/natsclient"
	"github.com/c360/takstreams/outgoing"
	"github.com/c360/takstreams/pkg/retry"
	"github.com/c360/takstreams/pkg/tlsutil"
)

// logBacklogLimit is the feature log depth at which health reports degraded
const logBacklogLimit = 40 * logstore.BatchSize

// app holds the wired pipeline and everything that needs an orderly shutdown
type app struct {
	cfg    *config.Config
	logger *slog.Logger

	nats     *natsclient.Client
	metrics  *metric.MetricsRegistry
	server   *metric.Server
	sqlite   *logstore.SQLiteStore
	logQueue *logstore.Queue
	sinks    *outgoing.Sinks
	input    *ingest.Input
}

func newApp(ctx context.Context, cfg *config.Config, reg *layer.Registry, logger *slog.Logger) (*app, error) {
	a := &app{
		cfg:     cfg,
		logger:  logger,
		metrics: metric.NewMetricsRegistry(),
	}

	if err := a.connectNATS(ctx); err != nil {
		return nil, err
	}

	opts := []ingest.Option{
		ingest.WithLogger(logger.With("component", "ingest")),
		ingest.WithMetricsRegistry(a.metrics),
	}

	logOpt, err := a.setupLogStore(ctx)
	if err != nil {
		a.close(ctx)
		return nil, err
	}
	if logOpt != nil {
		opts = append(opts, logOpt)
	}

	if cfg.Outgoing.Enabled {
		if err := a.setupSinks(ctx, reg); err != nil {
			a.close(ctx)
			return nil, err
		}
		opts = append(opts, ingest.WithSink(a.sinks))
	}

	missions := mission.NewNATSClient(a.nats)
	reconciler, err := mission.NewReconciler(missions,
		mission.WithLogger(logger.With("component", "mission")),
		mission.WithMetricsRegistry(a.metrics))
	if err != nil {
		a.close(ctx)
		return nil, fmt.Errorf("create reconciler: %w", err)
	}
	opts = append(opts, ingest.WithReconciler(reconciler), ingest.WithMissionClient(missions))

	pool := connection.NewPool(reg, a.nats, logger.With("component", "connection"))
	pipeline, err := ingest.NewPipeline(reg, pool, opts...)
	if err != nil {
		a.close(ctx)
		return nil, fmt.Errorf("create pipeline: %w", err)
	}

	a.input = ingest.NewInput(a.nats, pipeline, cfg.Ingest,
		ingest.WithInputLogger(logger),
		ingest.WithInputMetrics(a.metrics))

	if cfg.Metrics.Enabled {
		a.server = metric.NewServer(cfg.Metrics.Port, cfg.Metrics.Path, a.metrics)
		a.server.SetHealthHandler(a.healthMonitor())
		tlsCfg, err := tlsutil.LoadServerTLSConfig(cfg.Metrics.TLS)
		if err != nil {
			a.close(ctx)
			return nil, err
		}
		a.server.SetTLSConfig(tlsCfg)
	}
	return a, nil
}

// healthMonitor registers a check for every stage that was wired
func (a *app) healthMonitor() *health.Monitor {
	m := health.NewMonitor(appName)
	m.Register("nats", health.NATSCheck(a.nats))
	m.Register("ingest", health.BacklogCheck(func() int {
		return a.input.Stats().QueueDepth
	}, a.input.Stats().QueueSize))
	if a.logQueue != nil {
		m.Register("feature_log", health.BacklogCheck(a.logQueue.Len, logBacklogLimit))
	}
	if a.sinks != nil {
		m.Register("outgoing", health.BacklogCheck(a.maxPending, outgoing.MaxQueueLength))
	}
	return m
}

// maxPending returns the deepest tasker queue
func (a *app) maxPending() int {
	deepest := 0
	for _, st := range a.sinks.Stats() {
		deepest = max(deepest, st.Pending)
	}
	return deepest
}

// connectNATS creates the client and retries the initial connect
func (a *app) connectNATS(ctx context.Context) error {
	core := a.metrics.CoreMetrics()
	nc := a.cfg.NATS

	opts := []natsclient.ClientOption{
		natsclient.WithLogger(natsclient.NewSlogLogger(a.logger.With("component", "natsclient"))),
		natsclient.WithName(nc.Name),
		natsclient.WithMaxReconnects(nc.MaxReconnects),
		natsclient.WithHealthChangeCallback(core.RecordNATSStatus),
		natsclient.WithReconnectCallback(core.RecordNATSReconnect),
	}
	if nc.ReconnectWait > 0 {
		opts = append(opts, natsclient.WithReconnectWait(nc.ReconnectWait))
	}
	if nc.Timeout > 0 {
		opts = append(opts, natsclient.WithTimeout(nc.Timeout))
	}
	if nc.CircuitBreakerThreshold > 0 {
		opts = append(opts, natsclient.WithCircuitBreakerThreshold(nc.CircuitBreakerThreshold))
	}
	if nc.Username != "" {
		opts = append(opts, natsclient.WithCredentials(nc.Username, nc.Password))
	}
	if nc.Token != "" {
		opts = append(opts, natsclient.WithToken(nc.Token))
	}
	tlsCfg, err := tlsutil.LoadClientTLSConfig(nc.TLS)
	if err != nil {
		return err
	}
	if tlsCfg != nil {
		opts = append(opts, natsclient.WithTLSConfig(tlsCfg))
	}

	client, err := natsclient.NewClient(strings.Join(nc.URLs, ","), opts...)
	if err != nil {
		return fmt.Errorf("create NATS client: %w", err)
	}

	a.logger.Info("Connecting to NATS", "urls", nc.URLs)
	if err := retry.Do(ctx, retry.DefaultConfig(), func() error {
		return client.Connect(ctx)
	}); err != nil {
		return fmt.Errorf("connect to NATS: %w", err)
	}

	connCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()
	if err := client.WaitForConnection(connCtx); err != nil {
		_ = client.Close(ctx)
		return fmt.Errorf("NATS connection timeout: %w", err)
	}

	a.nats = client
	return nil
}

// setupLogStore opens the configured feature log backend. It returns nil
// when the log is disabled.
func (a *app) setupLogStore(ctx context.Context) (ingest.Option, error) {
	var store logstore.Store
	switch a.cfg.LogStore.Backend {
	case config.LogStoreKV:
		bucket, err := a.nats.CreateKeyValueBucket(ctx, jetstream.KeyValueConfig{
			Bucket:      a.cfg.LogStore.Bucket,
			Description: "takstreams feature log",
			Replicas:    a.cfg.LogStore.Replicas,
		})
		if err != nil {
			return nil, fmt.Errorf("create log bucket: %w", err)
		}
		store = logstore.NewKVStore(a.nats.NewKVStore(bucket))
	case config.LogStoreSQLite:
		s, err := logstore.OpenSQLite(a.cfg.LogStore.Path)
		if err != nil {
			return nil, fmt.Errorf("open log database: %w", err)
		}
		a.sqlite = s
		store = s
	default:
		a.logger.Info("Feature log disabled")
		return nil, nil
	}

	q, err := logstore.NewQueue(store,
		logstore.WithLogger(a.logger.With("component", "logstore")),
		logstore.WithMetricsRegistry(a.metrics))
	if err != nil {
		return nil, fmt.Errorf("create log queue: %w", err)
	}
	a.logQueue = q
	a.logger.Info("Feature log enabled", "backend", a.cfg.LogStore.Backend)
	return ingest.WithLogQueue(q), nil
}

// setupSinks creates the outgoing stream. Its subjects cover the default
// prefix and every per-layer subject override.
func (a *app) setupSinks(ctx context.Context, reg *layer.Registry) error {
	prefix := a.cfg.Outgoing.SubjectPrefix
	subjects := []string{prefix + ".>"}
	for _, conn := range reg.Connections() {
		for _, l := range reg.OutgoingLayers(conn.ID) {
			if s := l.Outgoing.Subject; s != "" && !strings.HasPrefix(s, prefix+".") {
				subjects = append(subjects, s)
			}
		}
	}

	broker := outgoing.NewJetStreamBroker(a.nats, a.cfg.Outgoing.Stream, subjects...)
	if err := broker.EnsureStream(ctx); err != nil {
		return err
	}

	sinks, err := outgoing.NewSinks(reg, broker,
		outgoing.WithLogger(a.logger.With("component", "outgoing")),
		outgoing.WithSubjectPrefix(prefix),
		outgoing.WithMetricsRegistry(a.metrics))
	if err != nil {
		return fmt.Errorf("create sinks: %w", err)
	}
	a.sinks = sinks
	return nil
}

// run serves until ctx is cancelled, then shuts down within the configured timeout
func (a *app) run(ctx context.Context) error {
	g, gctx := errgroup.WithContext(ctx)

	if a.server != nil {
		g.Go(a.server.Start)
		g.Go(func() error {
			<-gctx.Done()
			return a.server.Stop()
		})
		a.logger.Info("Metrics server started", "address", a.server.Address())
	}

	if err := a.input.Start(gctx); err != nil {
		a.shutdown()
		return err
	}
	a.logger.Info("takstreams started")

	<-gctx.Done()
	a.logger.Info("Received shutdown signal")

	a.shutdown()
	if err := g.Wait(); err != nil {
		return fmt.Errorf("service failed: %w", err)
	}
	a.logger.Info("takstreams shutdown complete")
	return nil
}

func (a *app) shutdown() {
	ctx, cancel := context.WithTimeout(context.Background(), a.cfg.ShutdownTimeout)
	defer cancel()

	if err := a.input.Stop(a.cfg.ShutdownTimeout); err != nil {
		a.logger.Warn("Ingest workers did not stop in time", "error", err)
	}
	a.close(ctx)
}

// close flushes queued work and releases connections
func (a *app) close(ctx context.Context) {
	if a.sinks != nil {
		if err := a.sinks.Close(ctx); err != nil {
			a.logger.Warn("Outgoing sinks did not drain", "error", err)
		}
	}
	if a.logQueue != nil {
		if err := a.logQueue.Close(ctx); err != nil {
			a.logger.Warn("Feature log did not flush", "error", err, "pending", a.logQueue.Len())
		}
	}
	if a.sqlite != nil {
		if err := a.sqlite.Close(); err != nil {
			a.logger.Warn("Closing log database failed", "error", err)
		}
	}
	if a.nats != nil {
		if err := a.nats.Close(ctx); err != nil {
			a.logger.Warn("Closing NATS failed", "error", err)
		}
	}
}
