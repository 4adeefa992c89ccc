// Package takstreams ingests GeoJSON feature batches, styles them, encodes
// them as Cursor on Target (CoT) events and distributes them to TAK servers
// over NATS.
//
// # Pipeline
//
//	tak.layer.<id>.ingest ──► ingest.Input (worker pool, rate limit)
//	                               │
//	                               ▼
//	                         ingest.Pipeline
//	          style.Apply ─► cot.FromFeature ─► mission.Reconciler
//	                               │
//	       ┌───────────────┬───────┴────────┬──────────────────┐
//	       ▼               ▼                ▼                  ▼
//	 connection.Pool  mission attach   logstore.Queue    outgoing.Sinks
//	 (tak.connection  (Data sync)      (KV or SQLite)    (JetStream, one
//	  .<id>.cot)                                          tasker per layer)
//
// # Packages
//
//   - layer: connections, Data syncs and layers, and the registry that resolves them
//   - style: per-geometry style containers, templates and JSONata query overrides
//   - cot: GeoJSON to CoT XML encoding
//   - mission: Mission API client and the diff reconciler for mission-diff layers
//   - connection: per-connection CoT writers
//   - logstore: the feature log queue and its KV and SQLite stores
//   - outgoing: bounded per-(connection, layer) queues drained to JetStream
//   - ingest: the pipeline and its NATS request/reply input
//   - config: YAML/JSON configuration with environment overrides
//   - health, metric: readiness checks and Prometheus metrics
//   - natsclient, errors, pkg/retry, pkg/worker, pkg/tlsutil: shared infrastructure
//
// The takstreams binary under cmd/takstreams wires these together.
package takstreams
