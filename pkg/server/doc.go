// Package server provides the collaboration server: connection handling,
// the JSON wire protocol, and the HTTP endpoints around it.
//
// # Architecture
//
// The server runtime consists of several key components:
//
//   - Conn: one WebSocket connection with a bounded outbound queue
//   - Handler: the per-connection state machine (authenticate, join, edit, publish, save, leave)
//   - Server: HTTP router, WebSocket upgrade, route cleanup and graceful shutdown
//   - Metrics: Prometheus collectors for routes, joins, transactions and saves
//
// # Connection Lifecycle
//
// Each WebSocket connection gets a Conn and a Handler. The Conn runs two
// goroutines:
//   - ReadLoop: reads envelopes and runs Handler methods one at a time, in arrival order
//   - WriteLoop: drains the outbound queue and sends heartbeat pings
//
// When the read loop ends for any reason the Handler runs its leave protocol:
// the participant is removed from its route, publish rights are revoked if held,
// and the remaining participants receive client_disconnect.
//
// # Ordering
//
// Every route has an ordering lock. Joins, leaves, publish claims and
// transaction apply-plus-broadcast all run under it, and broadcasts only
// enqueue, so every participant observes transactions in the order the
// server applied them.
//
// # Wire Protocol
//
// Messages in both directions are WebSocket text frames carrying
//
//	{"event": "<name>", "data": <payload>}
//
// See protocol.go for event names and payload shapes.
package server
