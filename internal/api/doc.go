// Package api hosts the HTTP server, middleware, and REST handlers for operator
// access. Notable routes:
//   - GET /healthz / readyz for Kubernetes probes.
//   - GET /metrics for Prometheus scraping.
//   - POST /v1/clients/{client_id}/grounding to queue a manual grounding search.
//   - POST /v1/clients/{client_id}/social to sweep one client's social sources.
//   - POST /v1/collectors/{name}/run to queue a collector run out of schedule.
//   - POST /v1/social/{mention_id}/comments to queue comment extraction.
//   - GET /v1/queues for per-queue job counts.
package api
