// Package api hosts the HTTP server, middleware, and REST handlers. Notable
// routes:
//   - GET /healthz / readyz for Kubernetes probes.
//   - GET /metrics for Prometheus scraping.
//   - POST /v1/snapshot for a single URL snapshot.
//   - POST /snap for a batch of URLs; failed URLs are left out of the reply.
package api
