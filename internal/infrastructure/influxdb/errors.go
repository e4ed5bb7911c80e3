package influxdb

import "errors"

// Sentinel errors for BMC telemetry storage. Match with errors.Is.
var (
	// ErrDisabled is returned by Connect when influxdb.enabled is false.
	// The service runs without telemetry in that case.
	ErrDisabled = errors.New("influxdb: telemetry disabled")

	// ErrConnectionFailed wraps a failed or unhealthy ping, at Connect or
	// from HealthCheck.
	ErrConnectionFailed = errors.New("influxdb: server unreachable")

	// ErrNotConnected is returned after Close or before a successful Connect.
	ErrNotConnected = errors.New("influxdb: client closed")

	// ErrWriteFailed wraps asynchronous batch write failures passed to the
	// SetOnError callback. Sensor writes themselves never return errors.
	ErrWriteFailed = errors.New("influxdb: telemetry write failed")
)
