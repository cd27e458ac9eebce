// Package api provides the JSON REST API server for logsift.
//
// # Architecture
//
// The API server uses Go 1.22+ routing with a layered middleware stack:
//
//	Recovery → RequestID → Logging → RateLimit → Routes
//
// Health probes (/health, /ready) bypass the middleware stack via a
// top-level mux, ensuring they remain fast and unthrottled.
//
// # Endpoints
//
// Health probes (no middleware):
//   - GET /health — returns {"status":"ok","version":...}
//   - GET /ready  — pings the database and reports pool stats
//
// Ingestion:
//   - POST /api/v1/ingest — parse, store and embed raw log content
//
// Batches:
//   - GET    /api/v1/batches      — list batches, newest first
//   - GET    /api/v1/batches/{id} — get one batch
//   - DELETE /api/v1/batches/{id} — delete a batch and its events
//
// Retrieval:
//   - GET  /api/v1/search — similarity search over ingested events
//   - POST /api/v1/chat   — retrieval-augmented answer with cited sources
//
// # Error Handling
//
// Errors use an envelope format:
//
//	{"error": {"code": "...", "message": "..."}}
//
// Domain sentinels map onto statuses: invalid input → 400, unknown
// batch → 404, lifecycle and integrity conflicts → 409, pool
// exhaustion and connection loss → 503 (with Retry-After on pool
// exhaustion), anything else → 500.
//
// # Rate Limiting
//
// Requests are limited per client IP with a token bucket
// (1 token/sec refill, configurable burst). Behind a reverse proxy,
// ServerConfig.TrustProxy switches client identification to
// X-Real-IP/X-Forwarded-For.
package api
