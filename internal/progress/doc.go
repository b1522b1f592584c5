// Package progress provides the event primitives, non-blocking hub, and emitter
// interfaces that stage workers use to report item outcomes. It batches events
// on a background goroutine and fans them out to pluggable sinks such as
// Prometheus metrics, structured logs or Pub/Sub notifications.
package progress
