// Package api hosts the optional status server that runs alongside a
// pipeline run:
//   - GET /healthz and /readyz for probes.
//   - GET /metrics for Prometheus scraping.
//   - GET /v1/runs/latest for the current or last run snapshot.
package api
