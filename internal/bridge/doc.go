// Package bridge tunnels broker operations over a websocket.
//
// A frontend that cannot reach the message broker directly dials the
// backend's Gateway and uses a Client, which implements broker.Broker.
// Each operation (create topic, subscribe, unsubscribe, publish, ping) is
// a JSON frame with its own id, acknowledged by the gateway with an "ack"
// frame carrying the same id. Messages for a subscription arrive as
// "deliver" frames tagged with the subscribe frame's id.
//
// Bridge frame ids are independent of RPC correlation ids: the bridge only
// moves opaque payloads.
//
// The Client keeps one control connection plus a pool of worker
// connections. Group subscriptions are spread across the workers so a
// reply topic consumed by several workers fans out over several sockets.
// Connections are authenticated with short-lived HS256 tokens.
package bridge
