package influxdb

import (
	"time"

	"github.com/influxdata/influxdb-client-go/v2/api/write"
)

// Measurement names written by wirehome.
const (
	MeasurementReading   = "channel_reading"
	MeasurementOutput    = "channel_output"
	MeasurementHealth    = "device_health"
	MeasurementActuation = "actuation"
	MeasurementLevel     = "level"
)

// WriteReading records an accepted analog or digital input value.
//
// Example:
//
//	client.WriteReading("bath", "bathroom-humidity", 71.5, ts)
func (c *Client) WriteReading(deviceID, role string, value float64, ts time.Time) {
	c.WritePoint(MeasurementReading,
		map[string]string{"device_id": deviceID, "role": role},
		map[string]any{"value": value},
		ts)
}

// WriteOutput records an output change. Switching counts accumulate in
// the query layer by counting points with on=true.
func (c *Client) WriteOutput(deviceID, role string, on bool, origin string, ts time.Time) {
	c.WritePoint(MeasurementOutput,
		map[string]string{"device_id": deviceID, "role": role, "origin": origin},
		map[string]any{"on": on},
		ts)
}

// WriteHealth records a device health transition.
func (c *Client) WriteHealth(deviceID, status string, ts time.Time) {
	c.WritePoint(MeasurementHealth,
		map[string]string{"device_id": deviceID},
		map[string]any{"status": status, "healthy": status == "healthy"},
		ts)
}

// WriteActuation records the outcome of one dispatched command.
func (c *Client) WriteActuation(deviceID, role, outcome string, attempts int, ts time.Time) {
	c.WritePoint(MeasurementActuation,
		map[string]string{"device_id": deviceID, "role": role, "outcome": outcome},
		map[string]any{"attempts": attempts},
		ts)
}

// WriteLevel records a level percentage, such as a tank fill level.
func (c *Client) WriteLevel(name string, percent float64, ts time.Time) {
	c.WritePoint(MeasurementLevel,
		map[string]string{"name": name},
		map[string]any{"percent": percent},
		ts)
}

// WritePoint queues one point. Dropped silently after Close.
func (c *Client) WritePoint(measurement string, tags map[string]string, fields map[string]any, ts time.Time) {
	if !c.IsConnected() {
		return
	}
	c.writeAPI.WritePoint(write.NewPoint(measurement, tags, fields, ts))
}
