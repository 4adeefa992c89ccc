// Package natsclient wraps the NATS Go client with a circuit breaker, reconnect
// handling and the JetStream helpers the pipeline needs.
//
// The pipeline uses NATS for four things: ingest requests arrive on core
// subjects, mission calls travel over request/reply, outgoing CoT entries are
// published to a JetStream stream with group headers, and the feature log can
// be persisted to a KV bucket.
//
// # Basic Usage
//
//	client, err := natsclient.NewClient("nats://localhost:4222",
//	    natsclient.WithName("takstreams"),
//	    natsclient.WithLogger(natsclient.NewSlogLogger(logger)),
//	)
//	if err != nil {
//	    return err
//	}
//	if err := client.Connect(ctx); err != nil {
//	    return err
//	}
//	defer client.Close(ctx)
//
//	err = client.Subscribe(ctx, "tak.layer.*.ingest", "ingest", func(ctx context.Context, msg *nats.Msg) {
//	    // handle request
//	})
//
// # Circuit Breaker
//
// After the configured number of consecutive failures (default 5) the client
// moves to StatusCircuitOpen and refuses Connect and JetStream operations until
// the backoff elapses. Backoff doubles on each re-open up to one minute.
// A successful operation resets the breaker.
//
// # Key-Value
//
// KVStore wraps a jetstream.KeyValue with size limits, prefix key listing and
// consistent not-found errors:
//
//	bucket, _ := client.CreateKeyValueBucket(ctx, jetstream.KeyValueConfig{Bucket: "FEATURE_LOG"})
//	kv := client.NewKVStore(bucket)
//	_, err = kv.Put(ctx, "3.abc", payload)
//
// # Testing
//
// NewTestClient starts a NATS container via testcontainers. Tests that use it
// carry the integration build tag.
package natsclient
