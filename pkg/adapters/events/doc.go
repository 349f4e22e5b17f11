// Package events provides event bus implementations for chat lifecycle events.
//
// Implementations:
//   - redis: Redis Streams, shared across chatd replicas
//   - memory: in-process fan-out (default)
package events
