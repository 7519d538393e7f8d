// Package api implements the read-only HTTP API and WebSocket stream for the
// Lake Shore logger.
//
// This package provides:
//   - REST endpoints for the latest cycle, rolling series, and stored history
//   - WebSocket hub broadcasting every completed cycle
//   - Prometheus metrics endpoint (when a handler is supplied)
//   - Middleware stack (request ID, logging, recovery, CORS)
//
// # Architecture
//
// The server is a presentation sink: the scheduler hands it each cycle via
// Present, which updates the latest snapshot and broadcasts to subscribers
// of the "cycle" channel. History is read through a separate read-only store
// handle so HTTP traffic never contends with the scheduler's writer.
//
// # Endpoints
//
//	GET /api/v1/health
//	GET /api/v1/status
//	GET /api/v1/readings
//	GET /api/v1/series/{source}/{channel}
//	GET /api/v1/samples?start=&end=&source=&limit=
//	GET /ws
//	GET /metrics
package api
