// Package logging provides structured logging for the IPMI bridge service.
//
// This package wraps Go's standard log/slog package so every component logs
// the same way.
//
// # Features
//
//   - JSON output for production (machine-parsable)
//   - Text output for development (human-readable)
//   - Default fields (service, version) on all log entries
//   - Level-based filtering (debug, info, warn, error)
//
// # Configuration
//
//	logging:
//	  level: "info"      # debug, info, warn, error
//	  format: "json"     # json, text
//	  output: "stdout"   # stdout, stderr, discard
//
// # Usage
//
//	logger := logging.New(cfg.Logging, "1.0.0")
//	logger.Info("starting service", "devices", 3)
//	logger.Error("poll failed", "device", id, "error", err)
//
// # Security
//
// Never log BMC passwords, MQTT credentials or InfluxDB tokens. The config
// types that hold them redact them in String and MarshalJSON.
package logging
