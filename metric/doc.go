// Package metric provides Prometheus-based metrics for takstreams.
//
// A MetricsRegistry owns a private prometheus.Registry, the pipeline-wide
// core metrics (features ingested, CoT dispatched, errors, NATS status) and
// any component metrics registered through the MetricsRegistrar interface.
// Server exposes the registry over HTTP:
//
//	registry := metric.NewMetricsRegistry()
//	server := metric.NewServer(9090, "/metrics", registry)
//	go server.Start()
//	defer server.Stop()
//
// Components register their own collectors under a service name so the same
// metric name can never be registered twice:
//
//	depth := prometheus.NewGaugeVec(...)
//	if err := registry.RegisterGaugeVec("outgoing", "queue_depth", depth); err != nil {
//	    return err
//	}
package metric
