// Package ipmi is the client side of the IPMI-to-HTTP bridge.
//
// The bridge is an external HTTP service that speaks the actual IPMI protocol
// to a server's baseboard management controller. This package only issues
// HTTP GET requests against it:
//
//	GET <bridge-url>[/<command>]?host=<bmc>&port=<port>&user=<user>&password=<password>
//
// # Components
//
//   - Poller: fetches the status document and holds the last good Snapshot
//   - Dispatcher: sends the five power commands (fire-and-forget)
//   - StableIdentity: derives a stable device identifier from a Snapshot
//
// A failed poll never clears the cached snapshot. Callers observe the failure
// through the returned error and keep serving the last known state.
//
// # Errors
//
// All failures are typed and can be matched with errors.Is:
//
//	snap, err := poller.Update(ctx)
//	switch {
//	case errors.Is(err, ipmi.ErrBridgeRejected):
//	    // bridge answered, but reported a failure (bad credentials, ...)
//	case errors.Is(err, ipmi.ErrTransport):
//	    // network error, timeout or malformed response
//	}
//
// # Security
//
// ConnectionConfig carries the BMC password. Its String and MarshalJSON
// methods redact it; never log the raw struct fields.
package ipmi
