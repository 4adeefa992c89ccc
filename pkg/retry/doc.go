// Package retry retries startup-time operations, such as the first broker
// connection, with exponential backoff and optional jitter.
//
// Errors classified as invalid or fatal by the errors package stop the loop
// immediately, as does anything wrapped with NonRetryable:
//
//	client, err := retry.DoWithResult(ctx, retry.DefaultConfig(), func() (*natsclient.Client, error) {
//	    return connect(ctx)
//	})
//
// The ingest path itself never retries. A failed Mission call or broker
// publish is logged and the batch moves on.
package retry
