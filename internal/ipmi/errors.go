package ipmi

import (
	"errors"
	"fmt"
)

// Sentinel errors for the ipmi package.
// The typed errors below match these through errors.Is.
var (
	// ErrTransport is returned when the bridge could not be reached, the call
	// timed out, or the response could not be decoded.
	ErrTransport = errors.New("ipmi: transport error")

	// ErrBridgeRejected is returned when the bridge answered with success=false.
	ErrBridgeRejected = errors.New("ipmi: bridge rejected request")

	// ErrUnknownCommand is returned when a command name is not one of the
	// supported power commands.
	ErrUnknownCommand = errors.New("ipmi: unknown command")

	// ErrInvalidConfig is returned when connection parameters are unusable.
	ErrInvalidConfig = errors.New("ipmi: invalid connection config")
)

// TransportError wraps a failure to complete an HTTP exchange with the bridge.
type TransportError struct {
	Host string // BMC host the request was for
	Path string // bridge sub-path, empty for the status call
	Err  error
}

func (e *TransportError) Error() string {
	op := "status"
	if e.Path != "" {
		op = e.Path
	}
	return fmt.Sprintf("ipmi: %s request for %s failed: %v", op, e.Host, e.Err)
}

func (e *TransportError) Unwrap() error { return e.Err }

// Is reports ErrTransport as a match.
func (e *TransportError) Is(target error) bool { return target == ErrTransport }

// BridgeRejectedError carries the message the bridge returned with success=false.
type BridgeRejectedError struct {
	Host    string
	Message string
}

func (e *BridgeRejectedError) Error() string {
	return fmt.Sprintf("ipmi: bridge rejected request for %s: %s", e.Host, e.Message)
}

// Is reports ErrBridgeRejected as a match.
func (e *BridgeRejectedError) Is(target error) bool { return target == ErrBridgeRejected }

// UnknownCommandError names the command that could not be resolved.
type UnknownCommandError struct {
	Name string
}

func (e *UnknownCommandError) Error() string {
	return fmt.Sprintf("ipmi: unknown command %q", e.Name)
}

// Is reports ErrUnknownCommand as a match.
func (e *UnknownCommandError) Is(target error) bool { return target == ErrUnknownCommand }
