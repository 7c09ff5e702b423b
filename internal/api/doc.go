// Package api hosts the operator HTTP server. Notable routes:
//   - GET /healthz and /readyz for probes.
//   - GET /metrics for Prometheus scraping.
//   - GET /v1/retrievals and /v1/retrievals/{id} for retrieval history.
//   - GET /v1/series/{name}/errors and /summary for per-series health.
//   - GET /v1/comics/{id}/{op} and /image for navigation through the cache.
package api
