// Package directory stores the networks, device types and devices that
// scope subscriptions.
//
// Backend handlers use it to resolve a device's network and type when an
// event is published or a device-scoped subscription is made, and to list
// the devices swept up by a network or device type delete.
package directory
