package logstore

import (
	"github.com/prometheus/client_golang/prometheus"

	"github.com/c360/takstreams/metric"
)

type queueMetrics struct {
	backlog       prometheus.Gauge
	written       prometheus.Counter
	writeFailures prometheus.Counter
}

func newQueueMetrics(registry *metric.MetricsRegistry) (*queueMetrics, error) {
	if registry == nil {
		return nil, nil
	}

	m := &queueMetrics{
		backlog: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: metric.Namespace,
			Subsystem: "feature_log",
			Name:      "backlog",
			Help:      "Feature snapshots waiting to be written to the log store",
		}),
		written: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: metric.Namespace,
			Subsystem: "feature_log",
			Name:      "written_total",
			Help:      "Feature snapshots written to the log store",
		}),
		writeFailures: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: metric.Namespace,
			Subsystem: "feature_log",
			Name:      "write_failures_total",
			Help:      "Batched log store writes that failed",
		}),
	}

	if err := registry.RegisterGauge("feature_log", "backlog", m.backlog); err != nil {
		return nil, err
	}
	if err := registry.RegisterCounter("feature_log", "written_total", m.written); err != nil {
		return nil, err
	}
	if err := registry.RegisterCounter("feature_log", "write_failures_total", m.writeFailures); err != nil {
		return nil, err
	}
	return m, nil
}

func (m *queueMetrics) setBacklog(n int) {
	if m == nil {
		return
	}
	m.backlog.Set(float64(n))
}

func (m *queueMetrics) recordWrite(n int, err error) {
	if m == nil {
		return
	}
	if err != nil {
		m.writeFailures.Inc()
		return
	}
	m.written.Add(float64(n))
}
