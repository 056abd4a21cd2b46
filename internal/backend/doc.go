// Package backend implements the request handlers of a backend node.
//
// Handlers are registered on a dispatch.Router. They resolve device scope
// through the directory, keep the subscription registry in step through
// the replicator, push matching events through the event bus, and archive
// device events to InfluxDB when an archive is attached.
package backend
