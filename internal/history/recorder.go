package history

import (
	"context"
	"time"

	"github.com/nerrad567/swetrack-sync/internal/tracker"
)

const (
	recordTimeout = 5 * time.Second

	// pruneEvery is the number of recorded cycles between prunes.
	pruneEvery = 100
)

// Logger is the logging surface the recorder needs.
type Logger interface {
	Warn(msg string, args ...any)
	Debug(msg string, args ...any)
}

// Recorder writes every cycle report into a Repository. Register
// HandleCycle with tracker.Coordinator.OnCycle.
type Recorder struct {
	repo   *Repository
	logger Logger
	keep   int
	count  int
}

// NewRecorder creates a recorder that keeps at most keep rows per table.
// keep <= 0 disables pruning.
func NewRecorder(repo *Repository, logger Logger, keep int) *Recorder {
	return &Recorder{repo: repo, logger: logger, keep: keep}
}

// HandleCycle records report and, for published cycles, the device
// changes of its snapshot. Failures are logged and never affect the cycle.
// Cycle observers run one at a time, so the counter needs no lock.
func (r *Recorder) HandleCycle(report tracker.CycleReport) {
	ctx, cancel := context.WithTimeout(context.Background(), recordTimeout)
	defer cancel()

	if err := r.repo.RecordCycle(ctx, report); err != nil {
		r.logger.Warn("recording sync cycle failed", "cycle_id", report.ID, "error", err)
	}
	if report.Snapshot != nil {
		if err := r.repo.RecordSnapshot(ctx, report.Snapshot); err != nil {
			r.logger.Warn("recording device history failed", "cycle_id", report.ID, "error", err)
		}
	}

	r.count++
	if r.keep > 0 && r.count%pruneEvery == 0 {
		n, err := r.repo.Prune(ctx, r.keep)
		if err != nil {
			r.logger.Warn("pruning history failed", "error", err)
			return
		}
		r.logger.Debug("history pruned", "deleted", n)
	}
}
