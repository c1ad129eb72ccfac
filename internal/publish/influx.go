package publish

import (
	"time"

	"github.com/nerrad567/swetrack-sync/internal/tracker"
)

// PointWriter is the InfluxDB surface the writer needs.
// *influxdb.Client satisfies it.
type PointWriter interface {
	WriteDeviceTelemetry(deviceID, name string, fields map[string]any, observedAt time.Time)
	WriteCycleMetric(outcome string, devices, changed int, duration time.Duration, at time.Time)
}

// InfluxWriter turns snapshots into telemetry points.
type InfluxWriter struct {
	w PointWriter
}

// NewInfluxWriter creates a writer over w.
func NewInfluxWriter(w PointWriter) *InfluxWriter {
	return &InfluxWriter{w: w}
}

// HandleSnapshot writes one point per changed device. Devices with no
// present measurements produce no point.
func (i *InfluxWriter) HandleSnapshot(snap *tracker.Snapshot) {
	for _, id := range snap.Changed() {
		rec, ok := snap.Get(id)
		if !ok {
			continue
		}
		fields := telemetryFields(rec)
		if len(fields) == 0 {
			continue
		}
		i.w.WriteDeviceTelemetry(rec.ID, rec.Name, fields, observedAt(rec, snap))
	}
}

// HandleCycle writes the cycle metric for every cycle.
func (i *InfluxWriter) HandleCycle(report tracker.CycleReport) {
	devices, changed := 0, 0
	if report.Snapshot != nil {
		devices = report.Snapshot.Len()
		changed = len(report.Snapshot.Changed())
	}
	i.w.WriteCycleMetric(string(report.Outcome), devices, changed, report.Duration(), report.FinishedAt)
}
