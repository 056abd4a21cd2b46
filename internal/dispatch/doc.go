// Package dispatch runs RPC handlers on a bounded worker pool.
//
// Requests enter a bounded Ring. Producers block while the ring is full,
// which is the admission control for bursts. A fixed number of workers
// drain it, look up the Handler for each request's action and publish
// the handler's responses to the request's reply topic.
//
// Every request that reaches a worker produces exactly one terminal
// response: the handler's, a 404 for an unknown action, or a 500 when
// the handler fails or panics. The request's correlation id is stamped
// on every response regardless of what the handler returned.
//
// Server binds an Engine to a broker.Broker request topic and answers
// ping requests itself.
package dispatch
