package influxdb

import "errors"

var (
	// ErrDisabled is returned by Connect when archiving is off.
	ErrDisabled = errors.New("influxdb: archiving disabled")

	// ErrConnectionFailed wraps the ping failure seen by Connect.
	ErrConnectionFailed = errors.New("influxdb: connection failed")

	// ErrNotConnected is returned once the client is closed.
	ErrNotConnected = errors.New("influxdb: not connected")

	errUnhealthy = errors.New("server reports unhealthy")
)
