package mission

import (
	"github.com/prometheus/client_golang/prometheus"

	"github.com/c360/takstreams/metric"
)

type reconcilerMetrics struct {
	submitted      prometheus.Counter
	skipped        prometheus.Counter
	detached       prometheus.Counter
	detachFailures prometheus.Counter
}

func newReconcilerMetrics(registry *metric.MetricsRegistry) (*reconcilerMetrics, error) {
	if registry == nil {
		return nil, nil
	}

	counter := func(name, help string) prometheus.Counter {
		return prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: metric.Namespace,
			Subsystem: "mission",
			Name:      name,
			Help:      help,
		})
	}

	m := &reconcilerMetrics{
		submitted:      counter("submitted_total", "CoT events submitted after mission diff"),
		skipped:        counter("skipped_total", "Unchanged CoT events skipped by mission diff"),
		detached:       counter("detached_total", "Mission items detached because they left the layer"),
		detachFailures: counter("detach_failures_total", "Mission detach calls that failed"),
	}

	for name, c := range map[string]prometheus.Counter{
		"submitted_total":       m.submitted,
		"skipped_total":         m.skipped,
		"detached_total":        m.detached,
		"detach_failures_total": m.detachFailures,
	} {
		if err := registry.RegisterCounter("mission", name, c); err != nil {
			return nil, err
		}
	}
	return m, nil
}

func (m *reconcilerMetrics) record(submitted, skipped, detached, failed int) {
	if m == nil {
		return
	}
	m.submitted.Add(float64(submitted))
	m.skipped.Add(float64(skipped))
	m.detached.Add(float64(detached))
	m.detachFailures.Add(float64(failed))
}
