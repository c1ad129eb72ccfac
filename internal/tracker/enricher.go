package tracker

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/nerrad567/swetrack-sync/internal/swetrack"
)

// Field names used in FieldError.
const (
	FieldPosition = "position"
	FieldVoltage  = "voltage"
)

// extendedTimeLayout is the request format for startdatetime/stopdatetime,
// always rendered in UTC with a Z suffix.
const extendedTimeLayout = time.RFC3339

// FieldError records the failure of one half of an enrichment.
type FieldError struct {
	Field string
	Err   error
}

func (e *FieldError) Error() string {
	return fmt.Sprintf("extended %s: %v", e.Field, e.Err)
}

func (e *FieldError) Unwrap() error {
	return e.Err
}

// Enrichment is the outcome of the two extended calls for one device.
//
// PositionOK and VoltageOK report whether each call succeeded; a call can
// succeed with zero rows, in which case the matching fields of Info are nil.
type Enrichment struct {
	Info       ExtendedInfo
	PositionOK bool
	VoltageOK  bool
}

// EnrichOptions tunes the extended requests.
type EnrichOptions struct {
	// PageSize is the number of rows requested per call. Values below 1
	// request a single row.
	PageSize int

	// Lookback, when positive, bounds each request to [now-Lookback, now].
	Lookback time.Duration

	// Now is the clock used for the lookback window. Nil uses time.Now.
	Now func() time.Time
}

// Enricher fetches extended telemetry for one device at a time.
// It holds no mutable state and is safe for concurrent use.
type Enricher struct {
	api  API
	opts EnrichOptions
}

// NewEnricher creates an enricher over api.
func NewEnricher(api API, opts EnrichOptions) *Enricher {
	if opts.PageSize < 1 {
		opts.PageSize = 1
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	return &Enricher{api: api, opts: opts}
}

// Enrich issues the position and voltage calls for deviceID. Exactly two
// calls are made and neither is retried. The calls are independent: the
// result carries whatever succeeded, and the error joins one *FieldError
// per failed half. The error is nil only when both calls succeeded.
func (e *Enricher) Enrich(ctx context.Context, deviceID string) (Enrichment, error) {
	var (
		out  Enrichment
		errs []error
	)

	posRows, err := e.fetch(ctx, deviceID, swetrack.ExtendedPosition)
	if err != nil {
		errs = append(errs, &FieldError{Field: FieldPosition, Err: err})
	} else {
		out.PositionOK = true
		if row, ok := SelectLatest(posRows); ok {
			out.Info.PositionTime = rowTime(row)
			if row.Latitude.Valid && row.Longitude.Valid {
				out.Info.Position = &Position{Latitude: row.Latitude.Value, Longitude: row.Longitude.Value}
			}
		}
	}

	voltRows, err := e.fetch(ctx, deviceID, swetrack.ExtendedVoltage)
	if err != nil {
		errs = append(errs, &FieldError{Field: FieldVoltage, Err: err})
	} else {
		out.VoltageOK = true
		if row, ok := SelectLatest(voltRows); ok && row.Value.Valid {
			out.Info.Voltage = row.Value.Ptr()
			if t, ok := rowRank(row); ok {
				out.Info.VoltageServerTime = &t
			}
		}
	}

	return out, errors.Join(errs...)
}

func (e *Enricher) fetch(ctx context.Context, deviceID string, typ swetrack.ExtendedType) ([]swetrack.ExtendedRow, error) {
	req := swetrack.ExtendedRequest{
		DeviceID: deviceID,
		Type:     typ,
		Page:     1,
		PageSize: e.opts.PageSize,
	}
	if e.opts.Lookback > 0 {
		now := e.opts.Now().UTC()
		req.StartDateTime = now.Add(-e.opts.Lookback).Format(extendedTimeLayout)
		req.StopDateTime = now.Format(extendedTimeLayout)
	}

	resp, err := e.api.Execute(ctx, swetrack.EndpointExtended, req)
	if err != nil {
		return nil, err
	}
	return swetrack.DecodeExtendedRows(resp.Data, typ)
}

// rowRank is the ordering key of a row: the server timestamp, falling back
// to the device's position time.
func rowRank(row swetrack.ExtendedRow) (time.Time, bool) {
	if row.ServerTime.Valid {
		return row.ServerTime.Time, true
	}
	if row.PositionTime.Valid {
		return row.PositionTime.Time, true
	}
	return time.Time{}, false
}

// rowTime is the instant reported for a selected row: the position time
// when present, otherwise the server time.
func rowTime(row swetrack.ExtendedRow) *time.Time {
	if row.PositionTime.Valid {
		return row.PositionTime.Ptr()
	}
	return row.ServerTime.Ptr()
}

// SelectLatest returns the row with the greatest timestamp. Ties go to the
// later row in response order. Rows without any timestamp are ignored.
func SelectLatest(rows []swetrack.ExtendedRow) (swetrack.ExtendedRow, bool) {
	var (
		best     swetrack.ExtendedRow
		bestTime time.Time
		found    bool
	)
	for _, row := range rows {
		t, ok := rowRank(row)
		if !ok {
			continue
		}
		if !found || !t.Before(bestTime) {
			best, bestTime, found = row, t, true
		}
	}
	return best, found
}
