// Package websocket provides a real-time feed of chat lifecycle events.
//
// Clients can connect to /events/ws to receive chat.completed and
// chat.failed events as requests finish. Message contents are never sent.
package websocket
