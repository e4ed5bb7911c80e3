// Package audit records the power commands sent to managed BMCs.
//
// Every command the bridge executes or refuses produces one Entry, whether
// it arrived over MQTT or through the HTTP API. Entries are stored
// in the command_audit table and are never rewritten.
package audit
