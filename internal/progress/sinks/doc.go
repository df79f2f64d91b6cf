// Package sinks implements progress consumers: structured logs, Prometheus
// collectors and an in-memory run snapshot served by the status API.
package sinks
