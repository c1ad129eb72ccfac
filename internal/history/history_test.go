package history

import (
	"context"
	"encoding/json"
	"errors"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nerrad567/swetrack-sync/internal/infrastructure/config"
	"github.com/nerrad567/swetrack-sync/internal/infrastructure/database"
	"github.com/nerrad567/swetrack-sync/internal/swetrack"
	"github.com/nerrad567/swetrack-sync/internal/tracker"
	"github.com/nerrad567/swetrack-sync/migrations"
)

func setupRepo(t *testing.T) *Repository {
	t.Helper()
	ctx := context.Background()

	db, err := database.Open(ctx, config.DatabaseConfig{
		Path:        filepath.Join(t.TempDir(), "history.db"),
		WALMode:     true,
		BusyTimeout: 5,
	})
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })

	require.NoError(t, db.Migrate(ctx, migrations.Source()))
	return NewRepository(db.DB)
}

// rosterAPI serves a configurable roster.
type rosterAPI struct {
	mu      sync.Mutex
	devices []map[string]any
	err     error
}

func (a *rosterAPI) set(devices ...map[string]any) {
	a.mu.Lock()
	a.devices = devices
	a.err = nil
	a.mu.Unlock()
}

func (a *rosterAPI) fail(err error) {
	a.mu.Lock()
	a.err = err
	a.mu.Unlock()
}

func (a *rosterAPI) Execute(context.Context, swetrack.Endpoint, any) (*swetrack.Response, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.err != nil {
		return nil, a.err
	}
	b, err := json.Marshal(map[string]any{"devices": a.devices})
	if err != nil {
		return nil, err
	}
	return &swetrack.Response{Status: 200, Data: b}, nil
}

func TestRecordAndListCycles(t *testing.T) {
	repo := setupRepo(t)
	ctx := context.Background()

	api := &rosterAPI{}
	api.set(map[string]any{"id": "1", "name": "Van"})
	c := tracker.NewCoordinator(api, tracker.NewStore(), tracker.Settings{})

	published, err := c.RunCycle(ctx, tracker.TriggerStartup)
	require.NoError(t, err)
	require.NoError(t, repo.RecordCycle(ctx, published))

	api.fail(&swetrack.Error{Kind: swetrack.KindAuth, Endpoint: swetrack.EndpointRoster, Status: 401})
	failed, err := c.RunCycle(ctx, tracker.TriggerScheduled)
	require.Error(t, err)
	require.NoError(t, repo.RecordCycle(ctx, failed))

	cycles, err := repo.ListCycles(ctx, 0)
	require.NoError(t, err)
	require.Len(t, cycles, 2)

	// newest first
	assert.Equal(t, failed.ID, cycles[0].ID)
	assert.Equal(t, "failed", cycles[0].Outcome)
	assert.Equal(t, "auth", cycles[0].ErrorKind)
	assert.NotEmpty(t, cycles[0].ErrorMessage)
	assert.Nil(t, cycles[0].SnapshotSeq)

	assert.Equal(t, published.ID, cycles[1].ID)
	assert.Equal(t, "published", cycles[1].Outcome)
	assert.Equal(t, "startup", cycles[1].Trigger)
	require.NotNil(t, cycles[1].SnapshotSeq)
	assert.Equal(t, uint64(1), *cycles[1].SnapshotSeq)
	assert.Equal(t, 1, cycles[1].DeviceCount)
	assert.Equal(t, 1, cycles[1].ChangedCount)
	assert.Empty(t, cycles[1].ErrorKind)
}

func TestRecordCycle_RequiresID(t *testing.T) {
	repo := setupRepo(t)
	assert.Error(t, repo.RecordCycle(context.Background(), tracker.CycleReport{}))
}

func TestRecordSnapshot_ChangesAndTombstones(t *testing.T) {
	repo := setupRepo(t)
	ctx := context.Background()

	api := &rosterAPI{}
	c := tracker.NewCoordinator(api, tracker.NewStore(), tracker.Settings{})

	api.set(map[string]any{"id": "1", "name": "Van"}, map[string]any{"id": "2", "name": "Truck"})
	r1, err := c.RunCycle(ctx, tracker.TriggerStartup)
	require.NoError(t, err)
	require.NoError(t, repo.RecordSnapshot(ctx, r1.Snapshot))

	// unchanged roster: nothing recorded
	r2, err := c.RunCycle(ctx, tracker.TriggerScheduled)
	require.NoError(t, err)
	require.NoError(t, repo.RecordSnapshot(ctx, r2.Snapshot))

	api.set(map[string]any{"id": "1", "name": "Van renamed"})
	r3, err := c.RunCycle(ctx, tracker.TriggerScheduled)
	require.NoError(t, err)
	require.NoError(t, repo.RecordSnapshot(ctx, r3.Snapshot))

	h1, err := repo.GetDeviceHistory(ctx, "1", 0)
	require.NoError(t, err)
	require.Len(t, h1, 2)
	assert.Equal(t, uint64(3), h1[0].SnapshotSeq)
	require.NotNil(t, h1[0].Record)
	assert.Equal(t, "Van renamed", h1[0].Record.Name)
	assert.Equal(t, r3.ID, h1[0].CycleID)
	assert.Equal(t, "Van", h1[1].Record.Name)

	h2, err := repo.GetDeviceHistory(ctx, "2", 0)
	require.NoError(t, err)
	require.Len(t, h2, 2)
	assert.True(t, h2[0].Removed)
	assert.Nil(t, h2[0].Record)
	assert.False(t, h2[1].Removed)
}

func TestRecordDeviceChange(t *testing.T) {
	repo := setupRepo(t)
	ctx := context.Background()
	at := time.Date(2026, 10, 19, 10, 0, 0, 0, time.UTC)

	v := 12.5
	rec := tracker.DeviceRecord{ID: "9", Name: "Boat", ExternalVoltage: &v}
	require.NoError(t, repo.RecordDeviceChange(ctx, 4, "cycle-4", at, rec))

	err := repo.RecordDeviceChange(ctx, 4, "cycle-4", at, tracker.DeviceRecord{})
	assert.True(t, errors.Is(err, ErrDeviceIDRequired))

	entries, err := repo.GetDeviceHistory(ctx, "9", 10)
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.True(t, entries[0].RecordedAt.Equal(at))
	assert.True(t, rec.Equal(entries[0].Record))
}

func TestGetDeviceHistory_Limits(t *testing.T) {
	repo := setupRepo(t)
	ctx := context.Background()
	at := time.Date(2026, 10, 19, 10, 0, 0, 0, time.UTC)

	for i := 1; i <= 210; i++ {
		require.NoError(t, repo.RecordDeviceChange(ctx, uint64(i), "c", at, tracker.DeviceRecord{ID: "d", Name: "D"}))
	}

	_, err := repo.GetDeviceHistory(ctx, "", 10)
	assert.True(t, errors.Is(err, ErrDeviceIDRequired))

	tests := []struct {
		limit int
		want  int
	}{
		{0, defaultHistoryLimit},
		{-1, defaultHistoryLimit},
		{5, 5},
		{1000, maxHistoryLimit},
	}
	for _, tt := range tests {
		entries, err := repo.GetDeviceHistory(ctx, "d", tt.limit)
		require.NoError(t, err)
		assert.Len(t, entries, tt.want, "limit %d", tt.limit)
	}

	entries, err := repo.GetDeviceHistory(ctx, "d", 3)
	require.NoError(t, err)
	assert.Equal(t, uint64(210), entries[0].SnapshotSeq)
	assert.Equal(t, uint64(208), entries[2].SnapshotSeq)
}

func TestPrune(t *testing.T) {
	repo := setupRepo(t)
	ctx := context.Background()
	at := time.Date(2026, 10, 19, 10, 0, 0, 0, time.UTC)

	for i := 1; i <= 10; i++ {
		require.NoError(t, repo.RecordDeviceChange(ctx, uint64(i), "c", at, tracker.DeviceRecord{ID: "d"}))
		require.NoError(t, repo.RecordCycle(ctx, tracker.CycleReport{
			ID:         "cycle-" + string(rune('a'+i)),
			Trigger:    tracker.TriggerScheduled,
			Outcome:    tracker.OutcomePublished,
			StartedAt:  at.Add(time.Duration(i) * time.Minute),
			FinishedAt: at.Add(time.Duration(i) * time.Minute),
		}))
	}

	_, err := repo.Prune(ctx, 0)
	assert.Error(t, err)

	n, err := repo.Prune(ctx, 4)
	require.NoError(t, err)
	assert.Equal(t, int64(12), n)

	entries, err := repo.GetDeviceHistory(ctx, "d", 100)
	require.NoError(t, err)
	require.Len(t, entries, 4)
	assert.Equal(t, uint64(10), entries[0].SnapshotSeq)

	cycles, err := repo.ListCycles(ctx, 100)
	require.NoError(t, err)
	require.Len(t, cycles, 4)
	assert.True(t, cycles[0].StartedAt.Equal(at.Add(10*time.Minute)))
}

type testLogger struct {
	mu    sync.Mutex
	warns []string
}

func (l *testLogger) Warn(msg string, _ ...any) {
	l.mu.Lock()
	l.warns = append(l.warns, msg)
	l.mu.Unlock()
}

func (l *testLogger) Debug(string, ...any) {}

func TestRecorder_HandleCycle(t *testing.T) {
	repo := setupRepo(t)
	ctx := context.Background()
	logger := &testLogger{}

	api := &rosterAPI{}
	api.set(map[string]any{"id": "1", "name": "Van"})
	c := tracker.NewCoordinator(api, tracker.NewStore(), tracker.Settings{})
	c.OnCycle(NewRecorder(repo, logger, 1000).HandleCycle)

	_, err := c.RunCycle(ctx, tracker.TriggerStartup)
	require.NoError(t, err)

	cycles, err := repo.ListCycles(ctx, 10)
	require.NoError(t, err)
	require.Len(t, cycles, 1)

	entries, err := repo.GetDeviceHistory(ctx, "1", 10)
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Empty(t, logger.warns)
}
