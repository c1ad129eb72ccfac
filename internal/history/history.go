package history

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/nerrad567/swetrack-sync/internal/tracker"
)

const (
	defaultHistoryLimit = 50
	maxHistoryLimit     = 200

	defaultCycleLimit = 50
	maxCycleLimit     = 500

	// timeLayout is fixed width so stored timestamps sort as text.
	timeLayout = "2006-01-02T15:04:05.000000000Z07:00"
)

// ErrDeviceIDRequired is returned when a device query has no id.
var ErrDeviceIDRequired = errors.New("history: device id is required")

// CycleEntry is one row of the cycle log.
type CycleEntry struct {
	ID             string    `json:"id"`
	StartedAt      time.Time `json:"started_at"`
	FinishedAt     time.Time `json:"finished_at"`
	Trigger        string    `json:"trigger"`
	Outcome        string    `json:"outcome"`
	ErrorKind      string    `json:"error_kind,omitempty"`
	ErrorMessage   string    `json:"error_message,omitempty"`
	SnapshotSeq    *uint64   `json:"snapshot_seq,omitempty"`
	DeviceCount    int       `json:"device_count"`
	ChangedCount   int       `json:"changed_count"`
	RemovedCount   int       `json:"removed_count"`
	EnrichFailures int       `json:"enrich_failures"`
	DurationMS     int64     `json:"duration_ms"`
}

// DeviceEntry is one recorded change of a device.
type DeviceEntry struct {
	ID          int64     `json:"id"`
	DeviceID    string    `json:"device_id"`
	SnapshotSeq uint64    `json:"snapshot_seq"`
	CycleID     string    `json:"cycle_id"`
	RecordedAt  time.Time `json:"recorded_at"`

	// Removed marks a tombstone: the device left the roster and Record is nil.
	Removed bool                  `json:"removed"`
	Record  *tracker.DeviceRecord `json:"record,omitempty"`
}

// Repository reads and writes the history tables.
// It is safe for concurrent use.
type Repository struct {
	db *sql.DB
}

// NewRepository creates a repository over an open, migrated database.
func NewRepository(db *sql.DB) *Repository {
	return &Repository{db: db}
}

// RecordCycle inserts the log row for a finished cycle.
func (r *Repository) RecordCycle(ctx context.Context, report tracker.CycleReport) error {
	if report.ID == "" {
		return fmt.Errorf("cycle id is required")
	}

	var (
		errKind, errMsg sql.NullString
		seq             sql.NullInt64
		devices         int
		changed         int
		removed         int
	)
	if report.Err != nil {
		errKind = sql.NullString{String: report.ErrorKind.String(), Valid: true}
		errMsg = sql.NullString{String: report.Err.Error(), Valid: true}
	}
	if snap := report.Snapshot; snap != nil {
		seq = sql.NullInt64{Int64: int64(snap.Seq()), Valid: true} // #nosec G115 -- sequence fits int64
		devices = snap.Len()
		changed = len(snap.Changed())
		removed = len(snap.Removed())
	}

	_, err := r.db.ExecContext(ctx,
		`INSERT INTO sync_cycles
		 (id, started_at, finished_at, trigger, outcome, error_kind, error_message,
		  snapshot_seq, device_count, changed_count, removed_count, enrich_failures, duration_ms)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		report.ID,
		formatTime(report.StartedAt),
		formatTime(report.FinishedAt),
		string(report.Trigger),
		string(report.Outcome),
		errKind,
		errMsg,
		seq,
		devices,
		changed,
		removed,
		report.EnrichFailures,
		report.Duration().Milliseconds(),
	)
	if err != nil {
		return fmt.Errorf("inserting sync cycle: %w", err)
	}
	return nil
}

// ListCycles returns the most recent cycles, newest first
// (default 50, max 500).
func (r *Repository) ListCycles(ctx context.Context, limit int) ([]CycleEntry, error) {
	limit = clamp(limit, defaultCycleLimit, maxCycleLimit)

	rows, err := r.db.QueryContext(ctx,
		`SELECT id, started_at, finished_at, trigger, outcome, error_kind, error_message,
		        snapshot_seq, device_count, changed_count, removed_count, enrich_failures, duration_ms
		 FROM sync_cycles
		 ORDER BY started_at DESC, rowid DESC
		 LIMIT ?`,
		limit,
	)
	if err != nil {
		return nil, fmt.Errorf("querying sync cycles: %w", err)
	}
	defer rows.Close()

	entries := make([]CycleEntry, 0, limit)
	for rows.Next() {
		var (
			e                   CycleEntry
			started, finished   string
			errKind, errMessage sql.NullString
			seq                 sql.NullInt64
		)
		if err := rows.Scan(&e.ID, &started, &finished, &e.Trigger, &e.Outcome, &errKind, &errMessage,
			&seq, &e.DeviceCount, &e.ChangedCount, &e.RemovedCount, &e.EnrichFailures, &e.DurationMS); err != nil {
			return nil, fmt.Errorf("scanning sync cycle: %w", err)
		}
		if e.StartedAt, err = parseTime(started); err != nil {
			return nil, err
		}
		if e.FinishedAt, err = parseTime(finished); err != nil {
			return nil, err
		}
		e.ErrorKind = errKind.String
		e.ErrorMessage = errMessage.String
		if seq.Valid {
			v := uint64(seq.Int64) // #nosec G115 -- stored from a uint64
			e.SnapshotSeq = &v
		}
		entries = append(entries, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating sync cycles: %w", err)
	}
	return entries, nil
}

// RecordDeviceChange inserts one history row for rec as published in
// snapshot seq.
func (r *Repository) RecordDeviceChange(ctx context.Context, seq uint64, cycleID string, at time.Time, rec tracker.DeviceRecord) error {
	return insertDeviceRow(ctx, r.db, seq, cycleID, at, rec.ID, &rec)
}

// RecordSnapshot stores a row for every changed device and a tombstone for
// every removed one, in a single transaction.
func (r *Repository) RecordSnapshot(ctx context.Context, snap *tracker.Snapshot) error {
	changed := snap.Changed()
	removed := snap.Removed()
	if len(changed) == 0 && len(removed) == 0 {
		return nil
	}

	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("starting transaction: %w", err)
	}
	defer tx.Rollback() //nolint:errcheck // no-op after commit

	for _, id := range changed {
		rec, ok := snap.Get(id)
		if !ok {
			continue
		}
		if err := insertDeviceRow(ctx, tx, snap.Seq(), snap.CycleID(), snap.Time(), id, &rec); err != nil {
			return err
		}
	}
	for _, id := range removed {
		if err := insertDeviceRow(ctx, tx, snap.Seq(), snap.CycleID(), snap.Time(), id, nil); err != nil {
			return err
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("committing device history: %w", err)
	}
	return nil
}

type execer interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
}

func insertDeviceRow(ctx context.Context, db execer, seq uint64, cycleID string, at time.Time, deviceID string, rec *tracker.DeviceRecord) error {
	if deviceID == "" {
		return ErrDeviceIDRequired
	}

	payload := "null"
	removed := 1
	if rec != nil {
		b, err := json.Marshal(rec)
		if err != nil {
			return fmt.Errorf("marshalling device record: %w", err)
		}
		payload = string(b)
		removed = 0
	}

	_, err := db.ExecContext(ctx,
		`INSERT INTO device_history (device_id, snapshot_seq, cycle_id, recorded_at, removed, record)
		 VALUES (?, ?, ?, ?, ?, ?)`,
		deviceID,
		int64(seq), // #nosec G115 -- sequence fits int64
		cycleID,
		formatTime(at),
		removed,
		payload,
	)
	if err != nil {
		return fmt.Errorf("inserting device history: %w", err)
	}
	return nil
}

// GetDeviceHistory returns recent history for a device, newest first
// (default 50, max 200).
func (r *Repository) GetDeviceHistory(ctx context.Context, deviceID string, limit int) ([]DeviceEntry, error) {
	if deviceID == "" {
		return nil, ErrDeviceIDRequired
	}
	limit = clamp(limit, defaultHistoryLimit, maxHistoryLimit)

	rows, err := r.db.QueryContext(ctx,
		`SELECT id, device_id, snapshot_seq, cycle_id, recorded_at, removed, record
		 FROM device_history
		 WHERE device_id = ?
		 ORDER BY id DESC
		 LIMIT ?`,
		deviceID,
		limit,
	)
	if err != nil {
		return nil, fmt.Errorf("querying device history: %w", err)
	}
	defer rows.Close()

	entries := make([]DeviceEntry, 0, limit)
	for rows.Next() {
		var (
			e        DeviceEntry
			seq      int64
			recorded string
			removed  int
			payload  string
		)
		if err := rows.Scan(&e.ID, &e.DeviceID, &seq, &e.CycleID, &recorded, &removed, &payload); err != nil {
			return nil, fmt.Errorf("scanning device history: %w", err)
		}
		e.SnapshotSeq = uint64(seq) // #nosec G115 -- stored from a uint64
		e.Removed = removed != 0
		if e.RecordedAt, err = parseTime(recorded); err != nil {
			return nil, err
		}
		if !e.Removed {
			if err := json.Unmarshal([]byte(payload), &e.Record); err != nil {
				return nil, fmt.Errorf("unmarshalling device record: %w", err)
			}
		}
		entries = append(entries, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating device history: %w", err)
	}
	return entries, nil
}

// Prune keeps the newest keep rows of each table and deletes the rest.
// It returns the number of rows deleted.
func (r *Repository) Prune(ctx context.Context, keep int) (int64, error) {
	if keep <= 0 {
		return 0, fmt.Errorf("keep must be positive")
	}

	var total int64
	for _, q := range []string{
		`DELETE FROM device_history WHERE id NOT IN
		 (SELECT id FROM device_history ORDER BY id DESC LIMIT ?)`,
		`DELETE FROM sync_cycles WHERE rowid NOT IN
		 (SELECT rowid FROM sync_cycles ORDER BY started_at DESC, rowid DESC LIMIT ?)`,
	} {
		result, err := r.db.ExecContext(ctx, q, keep)
		if err != nil {
			return total, fmt.Errorf("pruning history: %w", err)
		}
		n, err := result.RowsAffected()
		if err != nil {
			return total, fmt.Errorf("checking rows affected: %w", err)
		}
		total += n
	}
	return total, nil
}

func clamp(limit, def, maxLimit int) int {
	if limit <= 0 {
		return def
	}
	if limit > maxLimit {
		return maxLimit
	}
	return limit
}

func formatTime(t time.Time) string {
	return t.UTC().Format(timeLayout)
}

func parseTime(value string) (time.Time, error) {
	if value == "" {
		return time.Time{}, fmt.Errorf("timestamp is empty")
	}
	t, err := time.Parse(timeLayout, value)
	if err != nil {
		t, err = time.Parse(time.RFC3339Nano, value)
	}
	if err != nil {
		return time.Time{}, fmt.Errorf("parsing timestamp: %w", err)
	}
	return t, nil
}
