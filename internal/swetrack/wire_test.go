package swetrack

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNumber(t *testing.T) {
	tests := []struct {
		in    string
		want  float64
		valid bool
	}{
		{`12.6`, 12.6, true},
		{`"12.6"`, 12.6, true},
		{`0`, 0, true},
		{`null`, 0, false},
		{`"n/a"`, 0, false},
		{`{}`, 0, false},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			var n Number
			require.NoError(t, json.Unmarshal([]byte(tt.in), &n))
			assert.Equal(t, tt.valid, n.Valid)
			assert.Equal(t, tt.want, n.Value)
			if !tt.valid {
				assert.Nil(t, n.Ptr())
			}
		})
	}
}

func TestFlag(t *testing.T) {
	tests := []struct {
		in    string
		want  bool
		valid bool
	}{
		{`true`, true, true},
		{`false`, false, true},
		{`1`, true, true},
		{`0`, false, true},
		{`"on"`, true, true},
		{`"Off"`, false, true},
		{`null`, false, false},
		{`"maybe"`, false, false},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			var f Flag
			require.NoError(t, json.Unmarshal([]byte(tt.in), &f))
			assert.Equal(t, tt.valid, f.Valid)
			assert.Equal(t, tt.want, f.Value)
		})
	}
}

func TestTimestamp(t *testing.T) {
	want := time.Date(2026, 2, 4, 10, 30, 0, 0, time.UTC)

	tests := []struct {
		in    string
		valid bool
	}{
		{`"2026-02-04T10:30:00Z"`, true},
		{`"2026-02-04T11:30:00+01:00"`, true},
		{`"2026-02-04 10:30:00"`, true},
		{`"2026-02-04T10:30:00"`, true},
		{`1770201000`, true},
		{`1770201000000`, true},
		{`"1770201000"`, true},
		{`null`, false},
		{`""`, false},
		{`"yesterday"`, false},
		{`0`, false},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			var ts Timestamp
			require.NoError(t, json.Unmarshal([]byte(tt.in), &ts))
			assert.Equal(t, tt.valid, ts.Valid)
			if tt.valid {
				assert.True(t, want.Equal(ts.Time), "got %v", ts.Time)
				assert.Equal(t, time.UTC, ts.Time.Location())
			}
		})
	}
}

func TestDeviceEntry(t *testing.T) {
	raw := `{
		"id": 1234,
		"name": "Van 3",
		"uniqueid": "356307042441013",
		"status": "online",
		"model": {"model": "FMB920"},
		"position_info": {"latitude": 59.3293, "longitude": "18.0686", "datetime": "2026-02-04T10:30:00Z"},
		"battery": {"internal": 87, "external_voltage": 12.4, "external_power_supply": 1},
		"speed": {"current_speed": {"value": 0}, "speed_limit": {"value": null}},
		"ignition": {"value": false},
		"last_update": "2026-02-04 10:31:00"
	}`

	var entry DeviceEntry
	require.NoError(t, json.Unmarshal([]byte(raw), &entry))

	assert.Equal(t, Text("1234"), entry.ID)
	assert.Equal(t, Text("Van 3"), entry.Name)
	assert.Equal(t, Text("FMB920"), entry.Model.Model)
	assert.Equal(t, 18.0686, entry.PositionInfo.Longitude.Value)
	assert.True(t, entry.Battery.ExternalPowerSupply.Value)
	assert.True(t, entry.Speed.CurrentSpeed.Value.Valid)
	assert.Equal(t, 0.0, entry.Speed.CurrentSpeed.Value.Value)
	assert.False(t, entry.Speed.SpeedLimit.Value.Valid)
	require.True(t, entry.Ignition.Value.Valid)
	assert.False(t, entry.Ignition.Value.Value)
	assert.True(t, entry.LastUpdate.Valid)
}

func TestDeviceEntry_LenientShapes(t *testing.T) {
	raw := `{"id":"7","model":"TK905","battery":"n/a","speed":[],"ignition":true,"position_info":null}`

	var entry DeviceEntry
	require.NoError(t, json.Unmarshal([]byte(raw), &entry))

	assert.Equal(t, Text("TK905"), entry.Model.Model)
	require.NotNil(t, entry.Battery)
	assert.False(t, entry.Battery.Internal.Valid)
	require.NotNil(t, entry.Speed)
	assert.Nil(t, entry.Speed.CurrentSpeed)
	assert.True(t, entry.Ignition.Value.Value)
	assert.Nil(t, entry.PositionInfo)
	assert.False(t, entry.LastUpdate.Valid)
}

func TestDecodeExtendedRows(t *testing.T) {
	t.Run("positions", func(t *testing.T) {
		data := `{"positions":[{"positiontime":"2026-02-04T10:00:00Z","servertime":"2026-02-04T10:00:05Z","latitude":1,"longitude":2},"junk"]}`
		rows, err := DecodeExtendedRows(json.RawMessage(data), ExtendedPosition)
		require.NoError(t, err)
		require.Len(t, rows, 1)
		assert.Equal(t, 1.0, rows[0].Latitude.Value)
		assert.True(t, rows[0].ServerTime.Valid)
	})

	t.Run("voltage", func(t *testing.T) {
		rows, err := DecodeExtendedRows(json.RawMessage(`{"voltage":[{"value":"12.1","servertime":1770201000}]}`), ExtendedVoltage)
		require.NoError(t, err)
		require.Len(t, rows, 1)
		assert.Equal(t, 12.1, rows[0].Value.Value)
	})

	t.Run("single object", func(t *testing.T) {
		rows, err := DecodeExtendedRows(json.RawMessage(`{"voltage":{"value":11.9}}`), ExtendedVoltage)
		require.NoError(t, err)
		assert.Len(t, rows, 1)
	})

	t.Run("no rows", func(t *testing.T) {
		for _, data := range []string{``, `null`, `{}`, `{"voltage":null}`, `{"voltage":[]}`} {
			rows, err := DecodeExtendedRows(json.RawMessage(data), ExtendedVoltage)
			require.NoError(t, err, data)
			assert.Empty(t, rows, data)
		}
	})

	t.Run("malformed", func(t *testing.T) {
		for _, data := range []string{`[]`, `"x"`, `{"voltage":"x"}`, `{"voltage":12}`} {
			_, err := DecodeExtendedRows(json.RawMessage(data), ExtendedVoltage)
			assert.ErrorIs(t, err, ErrProtocol, data)
		}
	})
}
