package influxdb

import (
	"time"

	"github.com/influxdata/influxdb-client-go/v2/api/write"
)

// Measurement names written by swetrack-sync.
const (
	MeasurementDeviceTelemetry = "device_telemetry"
	MeasurementSyncCycle       = "sync_cycle"
)

// WriteDeviceTelemetry records one tracker observation. Fields with nil
// values are dropped; a point with no fields is not written.
//
// Example:
//
//	client.WriteDeviceTelemetry("1234", "Van 3",
//	    map[string]any{"latitude": 59.33, "longitude": 18.06, "voltage": 12.6},
//	    observedAt)
func (c *Client) WriteDeviceTelemetry(deviceID, name string, fields map[string]any, observedAt time.Time) {
	tags := map[string]string{"device_id": deviceID}
	if name != "" {
		tags["name"] = name
	}
	c.WritePointWithTime(MeasurementDeviceTelemetry, tags, fields, observedAt)
}

// WriteCycleMetric records the outcome of one poll cycle.
func (c *Client) WriteCycleMetric(outcome string, devices, changed int, duration time.Duration, at time.Time) {
	c.WritePointWithTime(MeasurementSyncCycle,
		map[string]string{"outcome": outcome},
		map[string]any{
			"devices":     devices,
			"changed":     changed,
			"duration_ms": duration.Milliseconds(),
		},
		at,
	)
}

// WritePointWithTime writes a point with an explicit timestamp.
func (c *Client) WritePointWithTime(measurement string, tags map[string]string, fields map[string]any, timestamp time.Time) {
	if !c.IsConnected() {
		return
	}

	clean := make(map[string]any, len(fields))
	for k, v := range fields {
		if v != nil {
			clean[k] = v
		}
	}
	if len(clean) == 0 {
		return
	}

	c.writeAPI.WritePoint(write.NewPoint(measurement, tags, clean, timestamp))
}
