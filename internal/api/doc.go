// Package api hosts the HTTP server for operator access to a running crawler.
// Routes:
//   - GET /healthz for liveness probes.
//   - GET /metrics for Prometheus scraping.
//   - GET /v1/stats for a snapshot of the dispatch engine.
//   - POST /v1/requests to enqueue a fetch request.
package api
