package publish

import (
	"time"

	"github.com/nerrad567/swetrack-sync/internal/tracker"
)

// DevicePayload is the retained MQTT message for one device.
type DevicePayload struct {
	tracker.DeviceRecord

	EffectiveVoltage *float64  `json:"effective_voltage,omitempty"`
	Seq              uint64    `json:"seq"`
	PublishedAt      time.Time `json:"published_at"`
}

// StatusPayload is the retained coordinator status message.
type StatusPayload struct {
	State               string     `json:"state"` // online | offline
	ConsecutiveFailures int        `json:"consecutive_failures"`
	AuthFailed          bool       `json:"auth_failed"`
	LastErrorKind       string     `json:"last_error_kind,omitempty"`
	LastSuccess         *time.Time `json:"last_success,omitempty"`
	LastCycleID         string     `json:"last_cycle_id,omitempty"`
	LastOutcome         string     `json:"last_outcome,omitempty"`
	Seq                 uint64     `json:"seq"`
	Devices             int        `json:"devices"`
	Timestamp           time.Time  `json:"timestamp"`
}

// Availability strings used in StatusPayload.State.
const (
	StateOnline  = "online"
	StateOffline = "offline"
)

func newDevicePayload(rec tracker.DeviceRecord, snap *tracker.Snapshot) DevicePayload {
	return DevicePayload{
		DeviceRecord:     rec,
		EffectiveVoltage: rec.EffectiveVoltage(),
		Seq:              snap.Seq(),
		PublishedAt:      snap.Time().UTC(),
	}
}

func newStatusPayload(st tracker.Status, report tracker.CycleReport, devices int, now time.Time) StatusPayload {
	state := StateOnline
	if !st.Available {
		state = StateOffline
	}
	return StatusPayload{
		State:               state,
		ConsecutiveFailures: st.ConsecutiveFailures,
		AuthFailed:          st.AuthFailed,
		LastErrorKind:       st.LastErrorKind,
		LastSuccess:         st.LastSuccess,
		LastCycleID:         report.ID,
		LastOutcome:         string(report.Outcome),
		Seq:                 st.Seq,
		Devices:             devices,
		Timestamp:           now.UTC(),
	}
}

// telemetryFields returns the present measurements of rec as InfluxDB
// fields. Unknown values are omitted, never zero-filled.
func telemetryFields(rec tracker.DeviceRecord) map[string]any {
	fields := make(map[string]any)
	if rec.Position != nil {
		fields["latitude"] = rec.Position.Latitude
		fields["longitude"] = rec.Position.Longitude
	}
	addFloat(fields, "battery_percent", rec.BatteryPercent)
	addFloat(fields, "external_voltage", rec.ExternalVoltage)
	addFloat(fields, "voltage", rec.EffectiveVoltage())
	addFloat(fields, "speed", rec.Speed)
	addFloat(fields, "speed_limit", rec.SpeedLimit)
	addBool(fields, "ignition", rec.Ignition)
	addBool(fields, "connectivity", rec.Connectivity)
	addBool(fields, "external_power", rec.ExternalPower)
	return fields
}

// observedAt picks the timestamp for a telemetry point: the device's last
// update, then its position time, then the snapshot time.
func observedAt(rec tracker.DeviceRecord, snap *tracker.Snapshot) time.Time {
	switch {
	case rec.LastUpdate != nil:
		return *rec.LastUpdate
	case rec.PositionTime != nil:
		return *rec.PositionTime
	default:
		return snap.Time()
	}
}

func addFloat(fields map[string]any, key string, v *float64) {
	if v != nil {
		fields[key] = *v
	}
}

func addBool(fields map[string]any, key string, v *bool) {
	if v != nil {
		fields[key] = *v
	}
}
