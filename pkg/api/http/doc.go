// Package http provides the HTTP REST API implementation.
//
// The HTTP server exposes endpoints for:
//   - Chat completion (POST /chat)
//   - Health checks
//   - Prometheus metrics
package http
