// Package api exposes the volume service over HTTP for monitoring:
// liveness and readiness endpoints, Prometheus metrics, a read-only
// volume listing, and a server-sent event stream of lifecycle events.
//
// Volume mutation stays on the CLI and the push protocol; the HTTP
// surface is observational only.
package api
