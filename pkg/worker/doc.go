// Package worker provides a bounded, generic worker pool.
//
// The ingest input hands each decoded request to a Pool so a slow layer does
// not hold up the NATS subscription callback:
//
//	pool := worker.NewPool(8, 256, pipeline.handle,
//	    worker.WithMetricsRegistry[*ingest.Request](registry, "ingest_pool"),
//	    worker.WithErrorHandler(func(req *ingest.Request, err error) {
//	        logger.Error("Ingest failed", "layer", req.Layer, "error", err)
//	    }),
//	)
//	if err := pool.Start(ctx); err != nil {
//	    return err
//	}
//	defer pool.Stop(10 * time.Second)
//
// Submit never blocks. When the queue is full it returns a transient error
// wrapping ErrQueueFull and the caller decides whether to reject the request.
//
// Stop closes the queue and waits for in-flight work up to the given timeout.
// Cancelling the context passed to Start makes workers exit without draining.
package worker
