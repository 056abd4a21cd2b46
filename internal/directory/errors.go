package directory

import "errors"

// Domain errors for the directory package.
var (
	// ErrNetworkNotFound is returned when a network id does not exist.
	ErrNetworkNotFound = errors.New("directory: network not found")

	// ErrDeviceTypeNotFound is returned when a device type id does not exist.
	ErrDeviceTypeNotFound = errors.New("directory: device type not found")

	// ErrDeviceNotFound is returned when a device id does not exist.
	ErrDeviceNotFound = errors.New("directory: device not found")

	// ErrInvalid is returned when an entity fails validation.
	ErrInvalid = errors.New("directory: invalid")
)
