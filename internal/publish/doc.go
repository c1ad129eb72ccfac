// Package publish forwards tracker snapshots and cycle reports to external
// sinks: retained MQTT state and InfluxDB telemetry points.
//
// Both sinks are registered as Store subscribers or Coordinator observers
// and only read snapshots. Sink failures are logged and never affect the
// cycle that produced the data.
package publish
