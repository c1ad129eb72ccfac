// Package influxdb provides InfluxDB connectivity for swetrack-sync.
//
// It wraps the official influxdb-client-go v2 library for connection
// management, telemetry writes and health monitoring.
//
// # Measurements
//
//   - device_telemetry: one point per changed tracker per published
//     snapshot, tagged by device_id and name
//   - sync_cycle: one point per poll cycle, tagged by outcome
//
// # Usage
//
//	client, err := influxdb.Connect(ctx, cfg.InfluxDB)
//	if errors.Is(err, influxdb.ErrDisabled) {
//	    // telemetry export turned off
//	}
//	defer client.Close()
//
//	client.WriteDeviceTelemetry("1234", "Van 3", fields, observedAt)
//
// # Thread Safety
//
// All methods are safe for concurrent use. Writes are non-blocking and
// batched per batch_size / flush_interval; async write errors are delivered
// through SetOnError.
package influxdb
