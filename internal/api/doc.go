// Package api hosts the HTTP server, middleware, and REST handlers. Notable routes:
//   - GET /healthz and /readyz for Kubernetes probes.
//   - GET /metrics for Prometheus scraping.
//   - POST /v1/auth/register and /v1/auth/login, the only unauthenticated /v1 routes.
//   - /v1/jobs/... for scrape jobs, question selection, answers and export.
//   - /v1/me/... for the caller's AI key and third-party credentials.
//   - /v1/dashboard/... for per-user stats and recent activity.
package api
