// Package api hosts the HTTP server, middleware, and handlers. Routes:
//   - GET /api/thumbnail renders a URL into an image or a base64 data URI.
//   - GET /healthz and /readyz for Kubernetes probes.
//   - GET /metrics for Prometheus scraping.
package api
