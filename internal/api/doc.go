// Package api implements the HTTP REST API and WebSocket server for the IPMI
// bridge service.
//
// This package provides:
//   - REST endpoints for listing devices and reading their last polled state
//   - State history from the local SQLite store
//   - Power actions and on-demand refresh through the IPMI bridge
//   - The command audit trail (GET /audit), filtered by device and outcome
//   - A WebSocket hub relaying state changes published by the bridge
//
// # Architecture
//
// The server is a read-mostly view over the bridge and the device registry.
// Actions go straight to the bridge's dispatcher rather than over MQTT, so
// the HTTP response carries the outcome of the BMC call:
//
//	202 accepted    the bridge acknowledged the command
//	400             unknown action name
//	404             device not configured
//	502             bridge unreachable or rejected the request
//	503             device has not answered a poll yet
//
// # WebSocket
//
// Clients subscribe to "device.state_changed" and "device.action":
//
//	{"type":"subscribe","id":"1","payload":{"channels":["device.state_changed"]}}
//
// The endpoint is unauthenticated; deploy it on a management network or
// behind a reverse proxy that authenticates.
package api
