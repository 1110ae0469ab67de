// Package api implements the HTTP status API and WebSocket event stream of
// the history service.
//
// This package provides:
//   - REST endpoints for channel status, run history and on-demand sync
//   - WebSocket stream of channel status changes, filterable by resource
//   - Optional JWT bearer authentication with ticket-based WebSocket auth
//   - Middleware stack (request ID, logging, recovery, body size limit)
//
// # Endpoints
//
//	GET  /api/v1/health                        component health
//	GET  /api/v1/metrics                       runtime and channel metrics
//	GET  /api/v1/history                       status of every channel
//	GET  /api/v1/history/{resource}            status of one channel
//	GET  /api/v1/history/{resource}/runs       recent finished runs
//	POST /api/v1/history/{resource}/sync       request a run (202)
//	POST /api/v1/history/{resource}/sync?wait=true  run and return the result
//	POST /api/v1/auth/ws-ticket                single-use WebSocket ticket
//	GET  /api/v1/ws                            status event stream
//
// # Status stream
//
// A client sends {"type":"subscribe","resources":["res-1"]} (no resources
// selects every channel). The server answers with "subscribed", then a
// "snapshot" holding the current statuses, then one "status" frame per
// change. Frames that do not fit a slow client's queue are dropped and
// counted in /metrics; the next snapshot or status frame supersedes them.
//
// # Security
//
// When security.jwt.secret is set, every endpoint except health and metrics
// requires an HS256 bearer token, and WebSocket connections require a ticket.
// Without a secret the API is open and meant for a trusted LAN only.
package api
