// Package progress provides the event primitives, non-blocking hub, and
// emitter interfaces the ingestion pipeline uses to report run progress. It
// batches events on a background goroutine and fans them out to pluggable
// sinks such as structured logs or an in-memory status tracker.
package progress
