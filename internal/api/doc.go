// Package api hosts the HTTP server, middleware, and handlers. Notable routes:
//   - POST /api/shoe-image resolves a model name to a cached image.
//   - GET /health and /readyz for probes.
//   - GET /metrics for Prometheus scraping.
//   - GET /images/... serves the cache directory.
package api
