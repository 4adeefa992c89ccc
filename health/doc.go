// Package health reports process readiness for the takstreams pipeline.
//
// A Monitor holds named Checks that are polled whenever a report is
// requested, so statuses never go stale between updates. Each check returns
// one of three levels:
//   - healthy: the stage is working normally
//   - degraded: the stage still accepts work but is falling behind or reconnecting
//   - unhealthy: the stage cannot make progress
//
// Aggregate rolls the checks up using the worst level present. Monitor
// implements http.Handler and is mounted on the metrics server at /health,
// answering 503 only when the aggregate is unhealthy.
//
// Check messages are sanitized before being served: URLs, filesystem paths,
// IP addresses, ports and credential assignments are replaced with
// placeholders.
//
// Usage:
//
//	monitor := health.NewMonitor("takstreams")
//	monitor.Register("nats", health.NATSCheck(client))
//	monitor.Register("feature_log", health.BacklogCheck(queue.Len, 1000))
//	server.SetHealthHandler(monitor)
package health
