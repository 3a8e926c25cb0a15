// Package api hosts the control-plane HTTP server for the crawl runner.
// Notable routes:
//   - GET /healthz and /readyz for Kubernetes probes; /readyz pings the
//     remote crawl service when an admin client is configured.
//   - GET /metrics for Prometheus scraping.
//   - POST /v1/crawls and friends for crawl submission and control.
//   - GET /v1/history/... for job-run records served from the journal.
package api
