// Package api hosts the optional status server for a sync run. Routes:
//   - GET /healthz and /readyz for probes.
//   - GET /metrics for Prometheus scraping.
//   - GET /v1/status for live run counters.
//   - GET /v1/records/{id} for the current record under a store key.
package api
