// Package metrics exposes Prometheus metrics for pool activity and the
// push/receive protocol.
package metrics
