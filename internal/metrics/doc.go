// Package metrics provides Prometheus metrics for monitoring.
//
// Key metrics:
//   - Channel states, transitions, evictions and reconnect delays
//   - Inbound message, decode failure and acknowledgement rates
//   - Broadcast volume and handler failures
//   - Outstanding acknowledgements
//
// A Collector implements both connection.Metrics and broadcast.Metrics and
// owns its own registry, so tests can build as many as they like.
package metrics
