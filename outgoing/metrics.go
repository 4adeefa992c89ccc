package outgoing

import (
	"strconv"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/c360/takstreams/metric"
)

type sinkMetrics struct {
	queueDepth    *prometheus.GaugeVec
	sent          *prometheus.CounterVec
	shed          *prometheus.CounterVec
	batchFailures *prometheus.CounterVec
}

func newSinkMetrics(registry *metric.MetricsRegistry) (*sinkMetrics, error) {
	if registry == nil {
		return nil, nil
	}

	labels := []string{"connection", "layer"}
	m := &sinkMetrics{
		queueDepth: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: metric.Namespace,
			Subsystem: "outgoing",
			Name:      "queue_depth",
			Help:      "CoT events pending broker submission per tasker",
		}, labels),
		sent: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: metric.Namespace,
			Subsystem: "outgoing",
			Name:      "sent_total",
			Help:      "CoT events accepted by the broker",
		}, labels),
		shed: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: metric.Namespace,
			Subsystem: "outgoing",
			Name:      "shed_total",
			Help:      "CoT events dropped because a tasker queue overflowed",
		}, labels),
		batchFailures: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: metric.Namespace,
			Subsystem: "outgoing",
			Name:      "batch_failures_total",
			Help:      "Broker batch submissions that failed",
		}, labels),
	}

	if err := registry.RegisterGaugeVec("outgoing", "queue_depth", m.queueDepth); err != nil {
		return nil, err
	}
	if err := registry.RegisterCounterVec("outgoing", "sent_total", m.sent); err != nil {
		return nil, err
	}
	if err := registry.RegisterCounterVec("outgoing", "shed_total", m.shed); err != nil {
		return nil, err
	}
	if err := registry.RegisterCounterVec("outgoing", "batch_failures_total", m.batchFailures); err != nil {
		return nil, err
	}
	return m, nil
}

func labelValues(key Key) []string {
	return []string{strconv.FormatInt(key.Connection, 10), strconv.FormatInt(key.Layer, 10)}
}

func (m *sinkMetrics) depth(key Key, n int) {
	if m == nil {
		return
	}
	m.queueDepth.WithLabelValues(labelValues(key)...).Set(float64(n))
}

func (m *sinkMetrics) batch(key Key, n int, err error) {
	if m == nil {
		return
	}
	if err != nil {
		m.batchFailures.WithLabelValues(labelValues(key)...).Inc()
		return
	}
	m.sent.WithLabelValues(labelValues(key)...).Add(float64(n))
}

func (m *sinkMetrics) shedN(key Key, n int) {
	if m == nil || n == 0 {
		return
	}
	m.shed.WithLabelValues(labelValues(key)...).Add(float64(n))
}
