package api

import (
	"encoding/json"
	"errors"
	"net/http"

	ipmibridge "github.com/nerrad567/gray-logic-ipmi/internal/bridges/ipmi"
	"github.com/nerrad567/gray-logic-ipmi/internal/device"
	"github.com/nerrad567/gray-logic-ipmi/internal/ipmi"
)

// Error represents a structured error response.
type Error struct {
	Status  int    `json:"status"`
	Code    string `json:"code"`
	Message string `json:"message"`
}

// Common error codes.
const (
	ErrCodeBadRequest     = "bad_request"
	ErrCodeNotFound       = "not_found"
	ErrCodeInternal       = "internal_error"
	ErrCodeUnknownCommand = "unknown_command"
	ErrCodeUnreachable    = "device_unreachable"
	ErrCodeRejected       = "bridge_rejected"
	ErrCodeNotReady       = "not_ready"
)

// writeJSON writes a JSON response with the given status code and payload.
func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if v != nil {
		//nolint:errcheck // Best-effort write to response; connection may be closed
		json.NewEncoder(w).Encode(v)
	}
}

// writeError writes a structured error response.
func writeError(w http.ResponseWriter, status int, code, message string) {
	writeJSON(w, status, Error{
		Status:  status,
		Code:    code,
		Message: message,
	})
}

// writeBadRequest writes a 400 error response.
func writeBadRequest(w http.ResponseWriter, message string) {
	writeError(w, http.StatusBadRequest, ErrCodeBadRequest, message)
}

// writeNotFound writes a 404 error response.
func writeNotFound(w http.ResponseWriter, message string) {
	writeError(w, http.StatusNotFound, ErrCodeNotFound, message)
}

// writeInternalError writes a 500 error response.
func writeInternalError(w http.ResponseWriter, message string) {
	writeError(w, http.StatusInternalServerError, ErrCodeInternal, message)
}

// writeBridgeError maps an error from the bridge or the ipmi client onto a
// status code. Errors it does not recognise become a 500.
func writeBridgeError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, ipmibridge.ErrDeviceNotFound), errors.Is(err, device.ErrDeviceNotFound):
		writeNotFound(w, "device not found")
	case errors.Is(err, ipmibridge.ErrNotRegistered):
		writeError(w, http.StatusServiceUnavailable, ErrCodeNotReady, "device has not answered a poll yet")
	case errors.Is(err, ipmi.ErrUnknownCommand):
		writeError(w, http.StatusBadRequest, ErrCodeUnknownCommand, err.Error())
	case errors.Is(err, ipmi.ErrTransport):
		writeError(w, http.StatusBadGateway, ErrCodeUnreachable, err.Error())
	case errors.Is(err, ipmi.ErrBridgeRejected):
		writeError(w, http.StatusBadGateway, ErrCodeRejected, err.Error())
	default:
		writeInternalError(w, err.Error())
	}
}
