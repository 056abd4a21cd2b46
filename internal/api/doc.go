// Package api implements the frontend HTTP API and WebSocket event stream.
//
// This package provides:
//   - REST endpoints for inserting notifications and commands, reporting
//     command results, and maintaining networks, device types and devices
//   - A WebSocket endpoint where clients open subscriptions and receive
//     matching device events as they happen
//   - Middleware stack (request ID, logging, recovery, CORS, body limit)
//
// # Architecture
//
// The API server holds no device state. Every request becomes an RPC call
// to a backend node through the frontend Service, over a direct broker or
// over the bridge. Subscription events pushed by the backend are relayed
// to the WebSocket client that opened the subscription.
//
// # Error Mapping
//
// Validation failures detected locally return 400 without a backend call.
// Backend response codes map onto HTTP statuses: 400, 403 and 404 pass
// through, call timeouts become 504 and lost transports 503.
package api
