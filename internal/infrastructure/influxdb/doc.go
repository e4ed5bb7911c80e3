// Package influxdb writes IPMI sensor telemetry to InfluxDB.
//
// It wraps the official influxdb-client-go v2 library with connection
// management, non-blocking batched writes and health monitoring.
//
// Two measurements are written after every successful poll:
//   - ipmi_sensor: one point per numeric reading, tagged device_id, sensor,
//     category and unit
//   - ipmi_power: chassis power as on=1/0, tagged device_id
//
// # Usage
//
//	client, err := influxdb.Connect(cfg.InfluxDB)
//	if errors.Is(err, influxdb.ErrDisabled) {
//	    // run without telemetry
//	}
//	defer client.Close()
//
//	client.WriteSensorReading(id, "fan1", "fan", "RPM", 3600, time.Now())
//
// # Error Handling
//
// Writes are asynchronous; failures reach the SetOnError callback wrapped in
// ErrWriteFailed. Connection and health check errors are returned directly.
package influxdb
