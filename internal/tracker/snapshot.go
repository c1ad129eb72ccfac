package tracker

import (
	"encoding/json"
	"slices"
	"time"
)

// Snapshot is an immutable view of every device after one cycle.
// Accessors return copies; a published Snapshot never changes.
type Snapshot struct {
	seq     uint64
	at      time.Time
	cycleID string

	ids     []string
	devices map[string]*DeviceRecord

	changed []string
	removed []string
}

func emptySnapshot() *Snapshot {
	return &Snapshot{devices: map[string]*DeviceRecord{}}
}

// buildSnapshot assembles the snapshot for a completed cycle and tags the
// ids that differ from prev.
func buildSnapshot(prev *Snapshot, records []DeviceRecord, seq uint64, cycleID string, at time.Time) *Snapshot {
	s := &Snapshot{
		seq:     seq,
		at:      at,
		cycleID: cycleID,
		ids:     make([]string, 0, len(records)),
		devices: make(map[string]*DeviceRecord, len(records)),
		changed: []string{},
		removed: []string{},
	}

	for i := range records {
		rec := records[i].DeepCopy()
		s.devices[rec.ID] = rec
		s.ids = append(s.ids, rec.ID)

		if old, ok := prev.devices[rec.ID]; !ok || !old.Equal(rec) {
			s.changed = append(s.changed, rec.ID)
		}
	}
	for _, id := range prev.ids {
		if _, ok := s.devices[id]; !ok {
			s.removed = append(s.removed, id)
		}
	}

	slices.Sort(s.ids)
	slices.Sort(s.changed)
	slices.Sort(s.removed)
	return s
}

// Seq is the cycle sequence number; 0 is the initial empty snapshot.
func (s *Snapshot) Seq() uint64 { return s.seq }

// Time is when the snapshot was committed; zero for the initial snapshot.
func (s *Snapshot) Time() time.Time { return s.at }

// CycleID identifies the cycle that produced the snapshot.
func (s *Snapshot) CycleID() string { return s.cycleID }

// Len returns the number of devices.
func (s *Snapshot) Len() int { return len(s.ids) }

// IDs returns the device ids in ascending order.
func (s *Snapshot) IDs() []string { return slices.Clone(s.ids) }

// Changed returns the ids whose record differs from the previous snapshot,
// including devices that are new.
func (s *Snapshot) Changed() []string { return slices.Clone(s.changed) }

// Removed returns the ids present in the previous snapshot but not this one.
func (s *Snapshot) Removed() []string { return slices.Clone(s.removed) }

// IsChanged reports whether id is tagged as changed.
func (s *Snapshot) IsChanged(id string) bool {
	_, found := slices.BinarySearch(s.changed, id)
	return found
}

// Get returns a copy of the record for id.
func (s *Snapshot) Get(id string) (DeviceRecord, bool) {
	rec, ok := s.devices[id]
	if !ok {
		return DeviceRecord{}, false
	}
	return *rec.DeepCopy(), true
}

// Devices returns copies of all records ordered by id.
func (s *Snapshot) Devices() []DeviceRecord {
	out := make([]DeviceRecord, 0, len(s.ids))
	for _, id := range s.ids {
		out = append(out, *s.devices[id].DeepCopy())
	}
	return out
}

// extended returns the stored extended sub-record for id without copying.
// Callers must not modify it.
func (s *Snapshot) extended(id string) *ExtendedInfo {
	if rec, ok := s.devices[id]; ok {
		return rec.Extended
	}
	return nil
}

type snapshotJSON struct {
	Seq     uint64         `json:"seq"`
	Time    *time.Time     `json:"time,omitempty"`
	CycleID string         `json:"cycle_id,omitempty"`
	Devices []DeviceRecord `json:"devices"`
	Changed []string       `json:"changed"`
	Removed []string       `json:"removed"`
}

// MarshalJSON encodes the snapshot with devices ordered by id.
func (s *Snapshot) MarshalJSON() ([]byte, error) {
	out := snapshotJSON{
		Seq:     s.seq,
		CycleID: s.cycleID,
		Devices: s.Devices(),
		Changed: s.Changed(),
		Removed: s.Removed(),
	}
	if !s.at.IsZero() {
		at := s.at
		out.Time = &at
	}
	if out.Changed == nil {
		out.Changed = []string{}
	}
	if out.Removed == nil {
		out.Removed = []string{}
	}
	return json.Marshal(out)
}
