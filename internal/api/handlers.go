package api

import (
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/nerrad567/swetrack-sync/internal/tracker"
)

// deviceView is a device record as served by the API.
type deviceView struct {
	tracker.DeviceRecord
	EffectiveVoltage *float64 `json:"effective_voltage,omitempty"`
	Changed          bool     `json:"changed"`
}

type devicesResponse struct {
	Seq     uint64       `json:"seq"`
	Time    *time.Time   `json:"time,omitempty"`
	CycleID string       `json:"cycle_id,omitempty"`
	Count   int          `json:"count"`
	Devices []deviceView `json:"devices"`
}

// snapshotEvent is the WebSocket payload for a published snapshot. Initial
// events, sent on subscribe, carry every device; later ones only changes.
type snapshotEvent struct {
	Seq     uint64       `json:"seq"`
	Time    *time.Time   `json:"time,omitempty"`
	CycleID string       `json:"cycle_id,omitempty"`
	Initial bool         `json:"initial"`
	Changed []string     `json:"changed"`
	Removed []string     `json:"removed"`
	Devices []deviceView `json:"devices"`
}

// cycleEvent is the WebSocket payload for a finished cycle.
type cycleEvent struct {
	ID             string    `json:"id"`
	Trigger        string    `json:"trigger"`
	Outcome        string    `json:"outcome"`
	StartedAt      time.Time `json:"started_at"`
	DurationMS     int64     `json:"duration_ms"`
	Seq            uint64    `json:"seq,omitempty"`
	Devices        int       `json:"devices"`
	EnrichFailures int       `json:"enrich_failures"`
	ErrorKind      string    `json:"error_kind,omitempty"`
	Error          string    `json:"error,omitempty"`
}

func newCycleEvent(report tracker.CycleReport) cycleEvent {
	ev := cycleEvent{
		ID:             report.ID,
		Trigger:        string(report.Trigger),
		Outcome:        string(report.Outcome),
		StartedAt:      report.StartedAt.UTC(),
		DurationMS:     report.Duration().Milliseconds(),
		EnrichFailures: report.EnrichFailures,
	}
	if report.Snapshot != nil {
		ev.Seq = report.Snapshot.Seq()
		ev.Devices = report.Snapshot.Len()
	}
	if report.Err != nil {
		ev.ErrorKind = report.ErrorKind.String()
		ev.Error = report.Err.Error()
	}
	return ev
}

func newDeviceView(rec tracker.DeviceRecord, snap *tracker.Snapshot) deviceView {
	return deviceView{
		DeviceRecord:     rec,
		EffectiveVoltage: rec.EffectiveVoltage(),
		Changed:          snap.IsChanged(rec.ID),
	}
}

func snapshotTime(snap *tracker.Snapshot) *time.Time {
	if snap.Time().IsZero() {
		return nil
	}
	t := snap.Time().UTC()
	return &t
}

func newSnapshotEvent(snap *tracker.Snapshot, initial bool) snapshotEvent {
	ev := snapshotEvent{
		Seq:     snap.Seq(),
		Time:    snapshotTime(snap),
		CycleID: snap.CycleID(),
		Initial: initial,
		Changed: nonNil(snap.Changed()),
		Removed: nonNil(snap.Removed()),
		Devices: []deviceView{},
	}

	ids := ev.Changed
	if initial {
		ids = snap.IDs()
	}
	for _, id := range ids {
		if rec, ok := snap.Get(id); ok {
			ev.Devices = append(ev.Devices, newDeviceView(rec, snap))
		}
	}
	return ev
}

// handleHealth returns the server health status.
func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	st := s.coordinator.Status()
	writeJSON(w, http.StatusOK, map[string]any{
		"status":    "ok",
		"version":   s.version,
		"available": st.Available,
	})
}

// handleStatus returns the coordinator state.
func (s *Server) handleStatus(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"coordinator":       s.coordinator.Status(),
		"websocket_clients": s.hub.ClientCount(),
		"version":           s.version,
	})
}

// handleRefresh asks the coordinator for an out-of-band cycle.
func (s *Server) handleRefresh(w http.ResponseWriter, r *http.Request) {
	inFlight := s.coordinator.Status().InFlight
	s.coordinator.RequestRefresh()
	s.logger.Info("refresh requested over API", "request_id", r.Context().Value(ctxKeyRequestID))

	status := "requested"
	if inFlight {
		status = "in_flight"
	}
	writeJSON(w, http.StatusAccepted, map[string]string{"status": status})
}

// handleListDevices returns every device of the current snapshot.
// ?changed=true limits the result to devices changed in that snapshot.
func (s *Server) handleListDevices(w http.ResponseWriter, r *http.Request) {
	onlyChanged, err := parseBool(r.URL.Query().Get("changed"))
	if err != nil {
		writeBadRequest(w, "changed must be a boolean")
		return
	}

	snap := s.snapshots.Current()
	resp := devicesResponse{
		Seq:     snap.Seq(),
		Time:    snapshotTime(snap),
		CycleID: snap.CycleID(),
		Devices: make([]deviceView, 0, snap.Len()),
	}
	for _, rec := range snap.Devices() {
		if onlyChanged && !snap.IsChanged(rec.ID) {
			continue
		}
		resp.Devices = append(resp.Devices, newDeviceView(rec, snap))
	}
	resp.Count = len(resp.Devices)

	writeJSON(w, http.StatusOK, resp)
}

// handleGetDevice returns one device of the current snapshot.
func (s *Server) handleGetDevice(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	snap := s.snapshots.Current()

	rec, ok := snap.Get(id)
	if !ok {
		writeNotFound(w, "device not found")
		return
	}
	writeJSON(w, http.StatusOK, newDeviceView(rec, snap))
}

// handleDeviceHistory returns recorded changes of one device, newest first.
func (s *Server) handleDeviceHistory(w http.ResponseWriter, r *http.Request) {
	if s.history == nil {
		writeUnavailable(w, "history is not enabled")
		return
	}
	limit, err := parseLimit(r.URL.Query().Get("limit"))
	if err != nil {
		writeBadRequest(w, err.Error())
		return
	}

	id := chi.URLParam(r, "id")
	entries, err := s.history.GetDeviceHistory(r.Context(), id, limit)
	if err != nil {
		s.logger.Error("reading device history failed", "device_id", id, "error", err)
		writeInternalError(w, "failed to read device history")
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"device_id": id,
		"count":     len(entries),
		"history":   entries,
	})
}

// handleListCycles returns the most recent sync cycles, newest first.
func (s *Server) handleListCycles(w http.ResponseWriter, r *http.Request) {
	if s.history == nil {
		writeUnavailable(w, "history is not enabled")
		return
	}
	limit, err := parseLimit(r.URL.Query().Get("limit"))
	if err != nil {
		writeBadRequest(w, err.Error())
		return
	}

	cycles, err := s.history.ListCycles(r.Context(), limit)
	if err != nil {
		s.logger.Error("reading cycle log failed", "error", err)
		writeInternalError(w, "failed to read cycle log")
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"count":  len(cycles),
		"cycles": cycles,
	})
}

func nonNil(ids []string) []string {
	if ids == nil {
		return []string{}
	}
	return ids
}

// parseLimit parses an optional positive limit; 0 means the default.
func parseLimit(raw string) (int, error) {
	if raw == "" {
		return 0, nil
	}
	n, err := strconv.Atoi(raw)
	if err != nil || n < 0 {
		return 0, errInvalidLimit
	}
	return n, nil
}

func parseBool(raw string) (bool, error) {
	if raw == "" {
		return false, nil
	}
	return strconv.ParseBool(raw)
}
