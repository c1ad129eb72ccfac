package swetrack

import (
	"bytes"
	"encoding/json"
	"strconv"
	"strings"
	"time"
)

// The API is loosely typed: numbers sometimes arrive as strings, ids as
// either, and booleans as 0/1. The types below decode leniently and keep
// "absent" distinct from zero. A value that cannot be interpreted decodes
// as absent rather than failing the surrounding object.

// Text is a string that may arrive as a JSON string or number.
type Text string

func (t *Text) UnmarshalJSON(b []byte) error {
	b = bytes.TrimSpace(b)
	switch {
	case len(b) == 0, string(b) == "null":
		*t = ""
	case b[0] == '"':
		var s string
		if err := json.Unmarshal(b, &s); err != nil {
			return err
		}
		*t = Text(strings.TrimSpace(s))
	case b[0] == '-' || (b[0] >= '0' && b[0] <= '9'):
		*t = Text(b)
	default:
		*t = ""
	}
	return nil
}

// Number is an optional float.
type Number struct {
	Value float64
	Valid bool
}

func (n *Number) UnmarshalJSON(b []byte) error {
	*n = Number{}
	b = bytes.TrimSpace(b)
	if len(b) == 0 || string(b) == "null" {
		return nil
	}
	s := string(b)
	if b[0] == '"' {
		if err := json.Unmarshal(b, &s); err != nil {
			return nil
		}
		s = strings.TrimSpace(s)
	}
	if v, err := strconv.ParseFloat(s, 64); err == nil {
		*n = Number{Value: v, Valid: true}
	}
	return nil
}

// Ptr returns the value as a pointer, nil when absent.
func (n Number) Ptr() *float64 {
	if !n.Valid {
		return nil
	}
	v := n.Value
	return &v
}

// Flag is an optional boolean.
type Flag struct {
	Value bool
	Valid bool
}

func (f *Flag) UnmarshalJSON(b []byte) error {
	*f = Flag{}
	b = bytes.TrimSpace(b)
	if len(b) == 0 || string(b) == "null" {
		return nil
	}
	s := string(b)
	if b[0] == '"' {
		if err := json.Unmarshal(b, &s); err != nil {
			return nil
		}
	}
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "true", "1", "on", "yes":
		*f = Flag{Value: true, Valid: true}
	case "false", "0", "off", "no":
		*f = Flag{Value: false, Valid: true}
	}
	return nil
}

// Ptr returns the value as a pointer, nil when absent.
func (f Flag) Ptr() *bool {
	if !f.Valid {
		return nil
	}
	v := f.Value
	return &v
}

// Timestamp is an optional instant. Accepted encodings: RFC 3339 (with or
// without zone), "2006-01-02 15:04:05" (UTC), and Unix epoch numbers in
// seconds or milliseconds.
type Timestamp struct {
	Time  time.Time
	Valid bool
}

var timestampLayouts = []string{
	time.RFC3339Nano,
	"2006-01-02T15:04:05",
	"2006-01-02 15:04:05",
	"2006-01-02 15:04:05Z07:00",
}

// epochMillisThreshold separates seconds from milliseconds: 1e11 seconds
// is the year 5138.
const epochMillisThreshold = 1e11

func (ts *Timestamp) UnmarshalJSON(b []byte) error {
	*ts = Timestamp{}
	b = bytes.TrimSpace(b)
	if len(b) == 0 || string(b) == "null" {
		return nil
	}
	if b[0] != '"' {
		v, err := strconv.ParseFloat(string(b), 64)
		if err != nil {
			return nil
		}
		*ts = epochTimestamp(v)
		return nil
	}

	var s string
	if err := json.Unmarshal(b, &s); err != nil {
		return nil
	}
	if parsed, ok := ParseTimestamp(s); ok {
		*ts = Timestamp{Time: parsed, Valid: true}
	}
	return nil
}

// ParseTimestamp parses s in any accepted encoding and returns it in UTC.
func ParseTimestamp(s string) (time.Time, bool) {
	s = strings.TrimSpace(s)
	if s == "" {
		return time.Time{}, false
	}
	for _, layout := range timestampLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			return t.UTC(), true
		}
	}
	if v, err := strconv.ParseFloat(s, 64); err == nil {
		ts := epochTimestamp(v)
		return ts.Time, ts.Valid
	}
	return time.Time{}, false
}

func epochTimestamp(v float64) Timestamp {
	if v <= 0 {
		return Timestamp{}
	}
	if v >= epochMillisThreshold {
		return Timestamp{Time: time.UnixMilli(int64(v)).UTC(), Valid: true}
	}
	return Timestamp{Time: time.Unix(int64(v), 0).UTC(), Valid: true}
}

// Ptr returns the instant as a pointer, nil when absent.
func (ts Timestamp) Ptr() *time.Time {
	if !ts.Valid {
		return nil
	}
	t := ts.Time
	return &t
}

// DeviceEntry is one element of the roster's data.devices array.
type DeviceEntry struct {
	ID           Text          `json:"id"`
	Name         Text          `json:"name"`
	UniqueID     Text          `json:"uniqueid"`
	Status       Text          `json:"status"`
	Model        *ModelInfo    `json:"model"`
	PositionInfo *PositionInfo `json:"position_info"`
	Battery      *BatteryInfo  `json:"battery"`
	Speed        *SpeedInfo    `json:"speed"`
	Ignition     *ValueFlag    `json:"ignition"`
	LastUpdate   Timestamp     `json:"last_update"`
}

type ModelInfo struct {
	Model Text `json:"model"`
}

type PositionInfo struct {
	Latitude  Number    `json:"latitude"`
	Longitude Number    `json:"longitude"`
	DateTime  Timestamp `json:"datetime"`
}

type BatteryInfo struct {
	Internal            Number `json:"internal"`
	ExternalVoltage     Number `json:"external_voltage"`
	ExternalPowerSupply Flag   `json:"external_power_supply"`
}

type SpeedInfo struct {
	CurrentSpeed *ValueNumber `json:"current_speed"`
	SpeedLimit   *ValueNumber `json:"speed_limit"`
}

type ValueNumber struct {
	Value Number `json:"value"`
}

type ValueFlag struct {
	Value Flag `json:"value"`
}

// RosterData is the data member of the roster response.
type RosterData struct {
	Devices json.RawMessage `json:"devices"`
}

// ExtendedType selects the row kind returned by the extended endpoint.
type ExtendedType string

const (
	ExtendedPosition ExtendedType = "position"
	ExtendedVoltage  ExtendedType = "voltage"
)

// rowsKey is the member of data that holds the rows for t.
func (t ExtendedType) rowsKey() string {
	switch t {
	case ExtendedPosition:
		return "positions"
	case ExtendedVoltage:
		return "voltage"
	default:
		return string(t)
	}
}

// ExtendedRequest is the body of an extended telemetry call.
type ExtendedRequest struct {
	DeviceID      string       `json:"deviceid"`
	Type          ExtendedType `json:"type"`
	Page          int          `json:"page"`
	PageSize      int          `json:"pagesize"`
	StartDateTime string       `json:"startdatetime,omitempty"`
	StopDateTime  string       `json:"stopdatetime,omitempty"`
}

// ExtendedRow is one position or voltage sample.
type ExtendedRow struct {
	PositionTime Timestamp `json:"positiontime"`
	ServerTime   Timestamp `json:"servertime"`
	Latitude     Number    `json:"latitude"`
	Longitude    Number    `json:"longitude"`
	Value        Number    `json:"value"`
}

// DecodeExtendedRows extracts the rows of type t from an extended response's
// data member. Missing or null rows yield no rows. A single object where an
// array is expected is treated as one row. Rows that are not objects are
// skipped.
func DecodeExtendedRows(data json.RawMessage, t ExtendedType) ([]ExtendedRow, error) {
	trimmed := bytes.TrimSpace(data)
	if len(trimmed) == 0 || string(trimmed) == "null" {
		return nil, nil
	}

	var members map[string]json.RawMessage
	if err := json.Unmarshal(trimmed, &members); err != nil {
		return nil, &Error{Kind: KindProtocol, Endpoint: EndpointExtended, Message: "data is not an object", Err: err}
	}

	raw := bytes.TrimSpace(members[t.rowsKey()])
	if len(raw) == 0 || string(raw) == "null" {
		return nil, nil
	}

	var items []json.RawMessage
	switch raw[0] {
	case '[':
		if err := json.Unmarshal(raw, &items); err != nil {
			return nil, &Error{Kind: KindProtocol, Endpoint: EndpointExtended, Message: "decoding rows", Err: err}
		}
	case '{':
		items = []json.RawMessage{raw}
	default:
		return nil, ProtocolError(EndpointExtended, "%s rows have unexpected type", t)
	}

	rows := make([]ExtendedRow, 0, len(items))
	for _, item := range items {
		var row ExtendedRow
		if err := json.Unmarshal(item, &row); err != nil {
			continue
		}
		rows = append(rows, row)
	}
	return rows, nil
}

// Account is the decoded account info payload. Its shape is not documented,
// so it is kept as a generic object.
type Account map[string]any

// Identity returns a human-readable account label.
func (a Account) Identity() string {
	for _, key := range []string{"name", "email", "username", "id"} {
		switch v := a[key].(type) {
		case string:
			if v != "" {
				return v
			}
		case float64:
			return strconv.FormatFloat(v, 'f', -1, 64)
		}
	}
	return ""
}

// Nested members decode leniently too: a member that is not an object is
// treated as absent, and {value: x} wrappers also accept a bare x.

func isObject(b []byte) bool {
	b = bytes.TrimSpace(b)
	return len(b) > 0 && b[0] == '{'
}

func (m *ModelInfo) UnmarshalJSON(b []byte) error {
	*m = ModelInfo{}
	if !isObject(b) {
		return m.Model.UnmarshalJSON(b)
	}
	type plain ModelInfo
	return json.Unmarshal(b, (*plain)(m))
}

func (p *PositionInfo) UnmarshalJSON(b []byte) error {
	*p = PositionInfo{}
	if !isObject(b) {
		return nil
	}
	type plain PositionInfo
	return json.Unmarshal(b, (*plain)(p))
}

func (bi *BatteryInfo) UnmarshalJSON(b []byte) error {
	*bi = BatteryInfo{}
	if !isObject(b) {
		return nil
	}
	type plain BatteryInfo
	return json.Unmarshal(b, (*plain)(bi))
}

func (s *SpeedInfo) UnmarshalJSON(b []byte) error {
	*s = SpeedInfo{}
	if !isObject(b) {
		return nil
	}
	type plain SpeedInfo
	return json.Unmarshal(b, (*plain)(s))
}

func (v *ValueNumber) UnmarshalJSON(b []byte) error {
	*v = ValueNumber{}
	if !isObject(b) {
		return v.Value.UnmarshalJSON(b)
	}
	type plain ValueNumber
	return json.Unmarshal(b, (*plain)(v))
}

func (v *ValueFlag) UnmarshalJSON(b []byte) error {
	*v = ValueFlag{}
	if !isObject(b) {
		return v.Value.UnmarshalJSON(b)
	}
	type plain ValueFlag
	return json.Unmarshal(b, (*plain)(v))
}
