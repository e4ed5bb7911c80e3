package influxdb

import (
	"time"

	"github.com/influxdata/influxdb-client-go/v2/api/write"
)

// Measurement names written by the bridge.
const (
	MeasurementSensor = "ipmi_sensor"
	MeasurementPower  = "ipmi_power"
)

// WriteSensorReading records one numeric BMC sensor reading.
//
// The point is tagged by device, sensor id, category and unit so that a
// dashboard can group e.g. all fan speeds of a rack. Non-blocking.
//
// Example:
//
//	client.WriteSensorReading("Acme_rack3", "cpu_temp", "temperature", "°C", 42, time.Now())
func (c *Client) WriteSensorReading(deviceID, sensorID, category, unit string, value float64, at time.Time) {
	c.WritePointWithTime(
		MeasurementSensor,
		map[string]string{
			"device_id": deviceID,
			"sensor":    sensorID,
			"category":  category,
			"unit":      unit,
		},
		map[string]interface{}{
			"value": value,
		},
		at,
	)
}

// WritePowerState records the chassis power state as 1 (on) or 0 (off),
// which graphs as a step function.
func (c *Client) WritePowerState(deviceID string, on bool, at time.Time) {
	v := 0
	if on {
		v = 1
	}
	c.WritePointWithTime(
		MeasurementPower,
		map[string]string{"device_id": deviceID},
		map[string]interface{}{"on": v},
		at,
	)
}

// WritePoint writes a custom point stamped with the current time.
func (c *Client) WritePoint(measurement string, tags map[string]string, fields map[string]interface{}) {
	c.WritePointWithTime(measurement, tags, fields, time.Now())
}

// WritePointWithTime writes a custom point with a specific timestamp.
// It is a no-op once the client is closed.
func (c *Client) WritePointWithTime(measurement string, tags map[string]string, fields map[string]interface{}, timestamp time.Time) {
	if !c.IsConnected() {
		return
	}

	point := write.NewPoint(measurement, tags, fields, timestamp)
	c.writeAPI.WritePoint(point)
}
