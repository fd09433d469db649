// Package api hosts the HTTP server, middleware, and REST handlers for the
// site map service. Notable routes:
//   - GET /healthz / readyz for Kubernetes probes.
//   - GET /metrics for Prometheus scraping.
//   - POST /v1/sitemaps to start a crawl, GET /v1/sitemaps to list jobs.
//   - GET /v1/sitemaps/{id}/... for status, the page tree, grouped pages,
//     child pages and XML/text/Markdown exports.
//   - POST /v1/sitemaps/{id}/cancel and DELETE /v1/sitemaps/{id} for
//     administration.
package api
