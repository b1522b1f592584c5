// Package api hosts the HTTP server, middleware and REST handlers for operator
// access. Notable routes:
//   - GET /healthz and /readyz for probes.
//   - GET /metrics for Prometheus scraping.
//   - POST /v1/documents to enqueue URLs for crawling.
//   - GET /v1/documents?url= to inspect a stored document.
//   - GET /v1/entities and /v1/entities/{name}/relations to query the graph.
//
// When auth is enabled every /v1 route requires the X-API-Key header (or the
// api_key query parameter).
package api
