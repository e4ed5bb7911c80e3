package ipmi

import "errors"

// Domain errors for the IPMI bridge package.
var (
	// ErrDeviceNotFound is returned when a device id matches neither a
	// configured device nor a derived identity.
	ErrDeviceNotFound = errors.New("ipmi bridge: device not found")

	// ErrNotRegistered is returned when a device has not completed its
	// first successful poll yet.
	ErrNotRegistered = errors.New("ipmi bridge: device not registered")

	// ErrNoDevices is returned when the bridge is built without devices.
	ErrNoDevices = errors.New("ipmi bridge: no devices configured")

	// ErrInvalidMessage is returned when an MQTT payload cannot be decoded.
	ErrInvalidMessage = errors.New("ipmi bridge: invalid message")
)
