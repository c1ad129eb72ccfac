package tracker

import (
	"bytes"
	"context"
	"encoding/json"
	"strings"

	"github.com/nerrad567/swetrack-sync/internal/swetrack"
)

// API executes one SweTrack call. *swetrack.Client satisfies it.
type API interface {
	Execute(ctx context.Context, ep swetrack.Endpoint, body any) (*swetrack.Response, error)
}

// statusOnline is the roster status string for a connected device.
const statusOnline = "online"

// FetchRoster performs the roster call and normalises every entry into a
// DeviceRecord. Errors from the call are returned unchanged.
//
// A null or missing device list is an empty roster. Entries that are not
// objects or carry no id are dropped and logged; the remaining entries are
// still returned. When an id repeats, the first entry wins.
func FetchRoster(ctx context.Context, api API, logger Logger) ([]DeviceRecord, error) {
	if logger == nil {
		logger = noopLogger{}
	}

	resp, err := api.Execute(ctx, swetrack.EndpointRoster, nil)
	if err != nil {
		return nil, err
	}

	data := bytes.TrimSpace(resp.Data)
	if len(data) == 0 || string(data) == "null" {
		return []DeviceRecord{}, nil
	}

	var roster swetrack.RosterData
	if err := json.Unmarshal(data, &roster); err != nil {
		return nil, &swetrack.Error{
			Kind:     swetrack.KindProtocol,
			Endpoint: swetrack.EndpointRoster,
			Message:  "data is not an object",
			Err:      err,
		}
	}

	list := bytes.TrimSpace(roster.Devices)
	if len(list) == 0 || string(list) == "null" {
		return []DeviceRecord{}, nil
	}

	var items []json.RawMessage
	if err := json.Unmarshal(list, &items); err != nil {
		return nil, swetrack.ProtocolError(swetrack.EndpointRoster, "devices is not an array")
	}

	records := make([]DeviceRecord, 0, len(items))
	seen := make(map[string]struct{}, len(items))
	for i, item := range items {
		var entry swetrack.DeviceEntry
		if err := json.Unmarshal(item, &entry); err != nil {
			logger.Warn("dropping malformed roster entry", "index", i, "error", err)
			continue
		}

		id := strings.TrimSpace(string(entry.ID))
		if id == "" {
			logger.Warn("dropping roster entry without id", "index", i)
			continue
		}
		if _, dup := seen[id]; dup {
			logger.Warn("dropping duplicate roster entry", "index", i, "device_id", id)
			continue
		}
		seen[id] = struct{}{}

		records = append(records, normalise(id, &entry))
	}

	return records, nil
}

// normalise maps a roster entry onto a DeviceRecord. Nested members that
// are missing leave their fields nil.
func normalise(id string, e *swetrack.DeviceEntry) DeviceRecord {
	rec := DeviceRecord{
		ID:         id,
		Name:       strings.TrimSpace(string(e.Name)),
		UniqueID:   textPtr(e.UniqueID),
		LastUpdate: e.LastUpdate.Ptr(),
	}
	if rec.Name == "" {
		rec.Name = id
	}

	if e.Model != nil {
		rec.Model = textPtr(e.Model.Model)
	}

	if p := e.PositionInfo; p != nil {
		if p.Latitude.Valid && p.Longitude.Valid {
			rec.Position = &Position{Latitude: p.Latitude.Value, Longitude: p.Longitude.Value}
		}
		rec.PositionTime = p.DateTime.Ptr()
	}

	if b := e.Battery; b != nil {
		rec.BatteryPercent = b.Internal.Ptr()
		rec.ExternalVoltage = b.ExternalVoltage.Ptr()
		rec.ExternalPower = b.ExternalPowerSupply.Ptr()
	}

	if s := e.Speed; s != nil {
		if s.CurrentSpeed != nil {
			rec.Speed = s.CurrentSpeed.Value.Ptr()
		}
		if s.SpeedLimit != nil {
			rec.SpeedLimit = s.SpeedLimit.Value.Ptr()
		}
	}

	if e.Ignition != nil {
		rec.Ignition = e.Ignition.Value.Ptr()
	}

	if status := strings.TrimSpace(string(e.Status)); status != "" {
		online := strings.EqualFold(status, statusOnline)
		rec.Connectivity = &online
	}

	return rec
}

func textPtr(t swetrack.Text) *string {
	s := strings.TrimSpace(string(t))
	if s == "" {
		return nil
	}
	return &s
}
