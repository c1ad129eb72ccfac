package tracker

import (
	"time"
)

// Position is a WGS84 coordinate pair.
type Position struct {
	Latitude  float64 `json:"latitude"`
	Longitude float64 `json:"longitude"`
}

// ExtendedInfo holds the latest values from the extended telemetry calls.
// Nil fields mean no data has been received for them.
type ExtendedInfo struct {
	Voltage           *float64   `json:"voltage,omitempty"`
	VoltageServerTime *time.Time `json:"voltage_servertime,omitempty"`
	PositionTime      *time.Time `json:"position_time,omitempty"`
	Position          *Position  `json:"position,omitempty"`
}

// DeviceRecord is one tracker as published in a snapshot.
//
// Optional measurements are pointers: nil means the device did not report
// the value (often unsupported by the model), which is distinct from zero.
type DeviceRecord struct {
	ID       string  `json:"id"`
	Name     string  `json:"name"`
	UniqueID *string `json:"unique_id,omitempty"`
	Model    *string `json:"model,omitempty"`

	Position     *Position  `json:"position,omitempty"`
	PositionTime *time.Time `json:"position_time,omitempty"`

	BatteryPercent  *float64 `json:"battery_percent,omitempty"`
	ExternalVoltage *float64 `json:"external_voltage,omitempty"`
	Speed           *float64 `json:"speed,omitempty"`
	SpeedLimit      *float64 `json:"speed_limit,omitempty"`

	Ignition      *bool `json:"ignition,omitempty"`
	Connectivity  *bool `json:"connectivity,omitempty"`
	ExternalPower *bool `json:"external_power,omitempty"`

	LastUpdate *time.Time `json:"last_update,omitempty"`

	Extended *ExtendedInfo `json:"extended,omitempty"`
}

// EffectiveVoltage returns the extended voltage when known, otherwise the
// roster's external voltage.
func (d *DeviceRecord) EffectiveVoltage() *float64 {
	if d.Extended != nil && d.Extended.Voltage != nil {
		return d.Extended.Voltage
	}
	return d.ExternalVoltage
}

// Stale reports whether the device has not updated within maxAge of now.
// A device that has never reported is stale.
func (d *DeviceRecord) Stale(now time.Time, maxAge time.Duration) bool {
	if d.LastUpdate == nil {
		return true
	}
	return now.Sub(*d.LastUpdate) > maxAge
}

// DeepCopy returns a copy that shares no pointers with d.
func (d *DeviceRecord) DeepCopy() *DeviceRecord {
	if d == nil {
		return nil
	}

	cpy := *d
	cpy.UniqueID = clonePtr(d.UniqueID)
	cpy.Model = clonePtr(d.Model)
	cpy.Position = clonePtr(d.Position)
	cpy.PositionTime = clonePtr(d.PositionTime)
	cpy.BatteryPercent = clonePtr(d.BatteryPercent)
	cpy.ExternalVoltage = clonePtr(d.ExternalVoltage)
	cpy.Speed = clonePtr(d.Speed)
	cpy.SpeedLimit = clonePtr(d.SpeedLimit)
	cpy.Ignition = clonePtr(d.Ignition)
	cpy.Connectivity = clonePtr(d.Connectivity)
	cpy.ExternalPower = clonePtr(d.ExternalPower)
	cpy.LastUpdate = clonePtr(d.LastUpdate)
	cpy.Extended = d.Extended.DeepCopy()
	return &cpy
}

// Equal reports whether d and o carry the same values field by field.
func (d *DeviceRecord) Equal(o *DeviceRecord) bool {
	if d == nil || o == nil {
		return d == o
	}
	return d.ID == o.ID &&
		d.Name == o.Name &&
		eqPtr(d.UniqueID, o.UniqueID) &&
		eqPtr(d.Model, o.Model) &&
		eqPtr(d.Position, o.Position) &&
		eqTime(d.PositionTime, o.PositionTime) &&
		eqPtr(d.BatteryPercent, o.BatteryPercent) &&
		eqPtr(d.ExternalVoltage, o.ExternalVoltage) &&
		eqPtr(d.Speed, o.Speed) &&
		eqPtr(d.SpeedLimit, o.SpeedLimit) &&
		eqPtr(d.Ignition, o.Ignition) &&
		eqPtr(d.Connectivity, o.Connectivity) &&
		eqPtr(d.ExternalPower, o.ExternalPower) &&
		eqTime(d.LastUpdate, o.LastUpdate) &&
		d.Extended.Equal(o.Extended)
}

// DeepCopy returns a copy that shares no pointers with e.
func (e *ExtendedInfo) DeepCopy() *ExtendedInfo {
	if e == nil {
		return nil
	}
	return &ExtendedInfo{
		Voltage:           clonePtr(e.Voltage),
		VoltageServerTime: clonePtr(e.VoltageServerTime),
		PositionTime:      clonePtr(e.PositionTime),
		Position:          clonePtr(e.Position),
	}
}

// Equal reports whether e and o carry the same values.
func (e *ExtendedInfo) Equal(o *ExtendedInfo) bool {
	if e == nil || o == nil {
		return e == o
	}
	return eqPtr(e.Voltage, o.Voltage) &&
		eqTime(e.VoltageServerTime, o.VoltageServerTime) &&
		eqTime(e.PositionTime, o.PositionTime) &&
		eqPtr(e.Position, o.Position)
}

func (e *ExtendedInfo) empty() bool {
	return e == nil || (e.Voltage == nil && e.VoltageServerTime == nil && e.PositionTime == nil && e.Position == nil)
}

func clonePtr[T any](p *T) *T {
	if p == nil {
		return nil
	}
	v := *p
	return &v
}

func eqPtr[T comparable](a, b *T) bool {
	if a == nil || b == nil {
		return a == b
	}
	return *a == *b
}

func eqTime(a, b *time.Time) bool {
	if a == nil || b == nil {
		return a == b
	}
	return a.Equal(*b)
}
