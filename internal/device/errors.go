package device

import "errors"

// Domain errors for the device package. Check with errors.Is.
var (
	// ErrDeviceNotFound is returned when a device ID does not exist.
	ErrDeviceNotFound = errors.New("device: not found")

	// ErrInvalidDevice is returned when device validation fails.
	ErrInvalidDevice = errors.New("device: invalid")

	// ErrInvalidName is returned when a device name is empty or too long.
	ErrInvalidName = errors.New("device: invalid name")

	// ErrInvalidState is returned when a state snapshot is too large or too deep.
	ErrInvalidState = errors.New("device: invalid state")

	// ErrInvalidHealth is returned for an unknown health status value.
	ErrInvalidHealth = errors.New("device: invalid health status")
)
