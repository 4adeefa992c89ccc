package metric

import (
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Namespace prefixes every takstreams metric.
const Namespace = "takstreams"

// Metrics contains the pipeline-wide metrics shared by all components
type Metrics struct {
	FeaturesIngested *prometheus.CounterVec
	FeaturesDropped  *prometheus.CounterVec
	CotsDispatched   *prometheus.CounterVec
	IngestDuration   *prometheus.HistogramVec
	ErrorsTotal      *prometheus.CounterVec

	NATSConnected  prometheus.Gauge
	NATSReconnects prometheus.Counter
}

// NewMetrics creates a new Metrics instance
func NewMetrics() *Metrics {
	return &Metrics{
		FeaturesIngested: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: Namespace,
				Subsystem: "ingest",
				Name:      "features_total",
				Help:      "Total number of features received per layer",
			},
			[]string{"layer"},
		),

		FeaturesDropped: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: Namespace,
				Subsystem: "ingest",
				Name:      "features_dropped_total",
				Help:      "Features not dispatched (unchanged in mission diff or dropped by style)",
			},
			[]string{"layer", "reason"},
		),

		CotsDispatched: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: Namespace,
				Subsystem: "connection",
				Name:      "cots_dispatched_total",
				Help:      "Total number of CoT events written to live TAK connections",
			},
			[]string{"connection"},
		),

		IngestDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: Namespace,
				Subsystem: "ingest",
				Name:      "duration_seconds",
				Help:      "Time to style, reconcile and dispatch one ingest batch",
				Buckets:   prometheus.DefBuckets,
			},
			[]string{"layer"},
		),

		ErrorsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: Namespace,
				Subsystem: "errors",
				Name:      "total",
				Help:      "Total number of errors by component and class",
			},
			[]string{"component", "class"},
		),

		NATSConnected: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Namespace: Namespace,
				Subsystem: "nats",
				Name:      "connected",
				Help:      "NATS connection status (0=disconnected, 1=connected)",
			},
		),

		NATSReconnects: prometheus.NewCounter(
			prometheus.CounterOpts{
				Namespace: Namespace,
				Subsystem: "nats",
				Name:      "reconnects_total",
				Help:      "Total number of NATS reconnections",
			},
		),
	}
}

// RecordFeaturesIngested adds n to the per-layer ingest counter
func (c *Metrics) RecordFeaturesIngested(layer int64, n int) {
	c.FeaturesIngested.WithLabelValues(strconv.FormatInt(layer, 10)).Add(float64(n))
}

// RecordFeaturesDropped adds n to the per-layer drop counter
func (c *Metrics) RecordFeaturesDropped(layer int64, reason string, n int) {
	if n == 0 {
		return
	}
	c.FeaturesDropped.WithLabelValues(strconv.FormatInt(layer, 10), reason).Add(float64(n))
}

// RecordCotsDispatched adds n to the per-connection dispatch counter
func (c *Metrics) RecordCotsDispatched(connection string, n int) {
	c.CotsDispatched.WithLabelValues(connection).Add(float64(n))
}

// RecordIngestDuration records the time taken by one ingest batch
func (c *Metrics) RecordIngestDuration(layer int64, d time.Duration) {
	c.IngestDuration.WithLabelValues(strconv.FormatInt(layer, 10)).Observe(d.Seconds())
}

// RecordError increments the error counter
func (c *Metrics) RecordError(component, class string) {
	c.ErrorsTotal.WithLabelValues(component, class).Inc()
}

// RecordNATSStatus updates NATS connection status
func (c *Metrics) RecordNATSStatus(connected bool) {
	value := 0.0
	if connected {
		value = 1.0
	}
	c.NATSConnected.Set(value)
}

// RecordNATSReconnect increments reconnection counter
func (c *Metrics) RecordNATSReconnect() {
	c.NATSReconnects.Inc()
}
