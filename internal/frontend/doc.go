// Package frontend provides the typed client a frontend node uses to talk
// to the backend.
//
// Service wraps an rpc.Client, which may run over a direct broker or over
// the bridge. It turns each backend action into a method and routes
// subscription events to per-subscription callbacks.
package frontend
