// Package health monitors the model backend.
//
// The monitor probes the backend on a fixed interval, keeps the latest
// status for the HTTP and gRPC health endpoints, and records the
// backend_up gauge.
package health
