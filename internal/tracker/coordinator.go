package tracker

import (
	"cmp"
	"context"
	"errors"
	"slices"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/nerrad567/swetrack-sync/internal/swetrack"
)

const (
	// DefaultScanInterval is used when Settings.ScanInterval is not positive.
	DefaultScanInterval = 5 * time.Minute

	// DefaultEnrichWorkers bounds concurrent enrichment when unset.
	DefaultEnrichWorkers = 4

	// DefaultUnavailableAfter is the failure streak that marks the
	// integration unavailable when unset.
	DefaultUnavailableAfter = 3
)

var (
	// ErrCycleInFlight is returned by RunCycle when another cycle is running.
	ErrCycleInFlight = errors.New("tracker: cycle already in flight")

	// ErrAlreadyRunning is returned by Run when the loop is already active.
	ErrAlreadyRunning = errors.New("tracker: coordinator already running")

	// ErrCycleAbandoned is reported when shutdown cancels a cycle before it
	// could publish.
	ErrCycleAbandoned = errors.New("tracker: cycle abandoned")
)

// Settings are the runtime options of a Coordinator. Changes made through
// UpdateSettings apply from the next cycle; a new ScanInterval applies from
// the next scheduled tick.
type Settings struct {
	ScanInterval     time.Duration
	FetchExtended    bool
	EnrichWorkers    int
	ExtendedPageSize int
	ExtendedLookback time.Duration
	UnavailableAfter int
}

func (s Settings) normalised() Settings {
	if s.ScanInterval <= 0 {
		s.ScanInterval = DefaultScanInterval
	}
	if s.EnrichWorkers < 1 {
		s.EnrichWorkers = DefaultEnrichWorkers
	}
	if s.ExtendedPageSize < 1 {
		s.ExtendedPageSize = 1
	}
	if s.ExtendedLookback < 0 {
		s.ExtendedLookback = 0
	}
	if s.UnavailableAfter < 1 {
		s.UnavailableAfter = DefaultUnavailableAfter
	}
	return s
}

// Trigger says what started a cycle.
type Trigger string

const (
	TriggerStartup   Trigger = "startup"
	TriggerScheduled Trigger = "scheduled"
	TriggerManual    Trigger = "manual"
)

// Outcome is how a cycle ended.
type Outcome string

const (
	OutcomePublished Outcome = "published"
	OutcomeFailed    Outcome = "failed"
	OutcomeAbandoned Outcome = "abandoned"
)

// CycleResult is the per-device outcome of one cycle.
type CycleResult struct {
	DeviceID   string
	RosterOK   bool
	Enriched   bool // enrichment ran this cycle
	ExtendedOK bool // both extended calls succeeded
	Err        error
	ErrorKind  swetrack.Kind
}

// CycleReport describes a finished cycle. Snapshot is set only when the
// cycle published.
type CycleReport struct {
	ID         string
	Trigger    Trigger
	StartedAt  time.Time
	FinishedAt time.Time
	Outcome    Outcome

	Err       error
	ErrorKind swetrack.Kind

	Snapshot        *Snapshot
	Results         []CycleResult
	EnrichFailures  int
	ConsecutiveFail int
}

// Duration is the wall time the cycle took.
func (r *CycleReport) Duration() time.Duration {
	return r.FinishedAt.Sub(r.StartedAt)
}

// Status is a point-in-time view of the coordinator for the availability
// layer.
type Status struct {
	Running  bool `json:"running"`
	InFlight bool `json:"in_flight"`

	CyclesRun    uint64 `json:"cycles_run"`
	DroppedTicks uint64 `json:"dropped_ticks"`

	ConsecutiveFailures int    `json:"consecutive_failures"`
	LastError           string `json:"last_error,omitempty"`
	LastErrorKind       string `json:"last_error_kind,omitempty"`

	// AuthFailed is set after a roster AuthError and cleared by the next
	// successful cycle. While set, scheduled ticks are skipped.
	AuthFailed bool `json:"auth_failed"`

	// Available is false once ConsecutiveFailures reaches UnavailableAfter.
	Available bool `json:"available"`

	LastSuccess *time.Time `json:"last_success,omitempty"`
	LastCycleID string     `json:"last_cycle_id,omitempty"`
	Seq         uint64     `json:"seq"`

	ScanInterval  time.Duration `json:"scan_interval"`
	FetchExtended bool          `json:"fetch_extended"`
}

type apiHolder struct{ api API }

// Coordinator owns the poll loop and is the only writer of its Store.
type Coordinator struct {
	store    *Store
	api      atomic.Pointer[apiHolder]
	settings atomic.Pointer[Settings]
	logger   Logger
	now      func() time.Time

	running  atomic.Bool
	inFlight atomic.Bool
	cycles   atomic.Uint64
	dropped  atomic.Uint64
	wg       sync.WaitGroup
	refresh  chan struct{}

	mu          sync.Mutex
	failures    int
	lastErr     error
	authFailed  bool
	lastSuccess time.Time
	lastCycleID string
	observers   []func(CycleReport)
}

// NewCoordinator creates a coordinator that publishes into store.
func NewCoordinator(api API, store *Store, settings Settings) *Coordinator {
	c := &Coordinator{
		store:   store,
		logger:  noopLogger{},
		now:     time.Now,
		refresh: make(chan struct{}, 1),
	}
	c.api.Store(&apiHolder{api: api})
	s := settings.normalised()
	c.settings.Store(&s)
	return c
}

// SetLogger sets the logger. Call before Run.
func (c *Coordinator) SetLogger(logger Logger) {
	if logger == nil {
		logger = noopLogger{}
	}
	c.logger = logger
}

// SetClock replaces the clock used for cycle timestamps. Call before Run.
func (c *Coordinator) SetClock(now func() time.Time) {
	if now != nil {
		c.now = now
	}
}

// Store returns the store the coordinator publishes into.
func (c *Coordinator) Store() *Store {
	return c.store
}

// Settings returns the current runtime options.
func (c *Coordinator) Settings() Settings {
	return *c.settings.Load()
}

// UpdateSettings replaces the runtime options. The cycle in flight, if any,
// keeps the options it started with.
func (c *Coordinator) UpdateSettings(s Settings) {
	s = s.normalised()
	c.settings.Store(&s)
}

// SetAPI swaps the client used from the next cycle, typically after the
// token changed. It lifts the auth suspension so the next scheduled tick
// polls again.
func (c *Coordinator) SetAPI(api API) {
	c.api.Store(&apiHolder{api: api})

	c.mu.Lock()
	suspended := c.authFailed
	c.authFailed = false
	c.mu.Unlock()

	if suspended {
		c.logger.Info("credentials replaced, resuming scheduled polls")
	}
}

// OnCycle registers fn to be called after every cycle, published or not.
func (c *Coordinator) OnCycle(fn func(CycleReport)) {
	c.mu.Lock()
	c.observers = append(c.observers, fn)
	c.mu.Unlock()
}

// RequestRefresh asks the running loop for an out-of-band cycle. The
// request is dropped when a cycle is already in flight.
func (c *Coordinator) RequestRefresh() {
	select {
	case c.refresh <- struct{}{}:
	default:
	}
}

// Status returns the current coordinator state.
func (c *Coordinator) Status() Status {
	s := c.Settings()

	c.mu.Lock()
	defer c.mu.Unlock()

	st := Status{
		Running:             c.running.Load(),
		InFlight:            c.inFlight.Load(),
		CyclesRun:           c.cycles.Load(),
		DroppedTicks:        c.dropped.Load(),
		ConsecutiveFailures: c.failures,
		AuthFailed:          c.authFailed,
		Available:           c.failures < s.UnavailableAfter,
		LastCycleID:         c.lastCycleID,
		Seq:                 c.store.Current().Seq(),
		ScanInterval:        s.ScanInterval,
		FetchExtended:       s.FetchExtended,
	}
	if c.lastErr != nil {
		st.LastError = c.lastErr.Error()
		st.LastErrorKind = swetrack.KindOf(c.lastErr).String()
	}
	if !c.lastSuccess.IsZero() {
		t := c.lastSuccess
		st.LastSuccess = &t
	}
	return st
}

// Run polls immediately and then on every scan interval until ctx is
// cancelled. On return no cycle is in flight: a cycle running at
// cancellation either publishes before its calls observe the cancellation
// or is abandoned without touching the store.
func (c *Coordinator) Run(ctx context.Context) error {
	if !c.running.CompareAndSwap(false, true) {
		return ErrAlreadyRunning
	}
	defer c.running.Store(false)
	defer c.wg.Wait()

	interval := c.Settings().ScanInterval
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	c.logger.Info("coordinator started", "scan_interval", interval.String())
	c.startCycle(ctx, TriggerStartup)

	for {
		select {
		case <-ctx.Done():
			c.logger.Info("coordinator stopping")
			return nil

		case <-ticker.C:
			if next := c.Settings().ScanInterval; next != interval {
				interval = next
				ticker.Reset(interval)
				c.logger.Info("scan interval changed", "scan_interval", interval.String())
			}
			if c.suspended() {
				c.logger.Debug("scheduled poll skipped, token rejected")
				continue
			}
			c.startCycle(ctx, TriggerScheduled)

		case <-c.refresh:
			c.startCycle(ctx, TriggerManual)
		}
	}
}

// startCycle runs a cycle in the background unless one is in flight, in
// which case the trigger is dropped.
func (c *Coordinator) startCycle(ctx context.Context, trigger Trigger) {
	if !c.inFlight.CompareAndSwap(false, true) {
		c.dropped.Add(1)
		c.logger.Debug("cycle in flight, trigger dropped", "trigger", string(trigger))
		return
	}

	c.wg.Add(1)
	go func() {
		defer c.wg.Done()
		defer c.inFlight.Store(false)
		c.cycle(ctx, trigger)
	}()
}

// RunCycle runs one cycle synchronously. It returns ErrCycleInFlight
// without doing anything when another cycle is running. A roster failure
// is returned as the error alongside the report.
func (c *Coordinator) RunCycle(ctx context.Context, trigger Trigger) (CycleReport, error) {
	if !c.inFlight.CompareAndSwap(false, true) {
		c.dropped.Add(1)
		return CycleReport{}, ErrCycleInFlight
	}
	defer c.inFlight.Store(false)

	report := c.cycle(ctx, trigger)
	return report, report.Err
}

func (c *Coordinator) suspended() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.authFailed
}

// cycle performs fetch, enrich, merge and publish. The caller holds the
// in-flight flag.
func (c *Coordinator) cycle(ctx context.Context, trigger Trigger) CycleReport {
	settings := c.Settings()
	api := c.api.Load().api
	c.cycles.Add(1)

	report := CycleReport{
		ID:        uuid.NewString(),
		Trigger:   trigger,
		StartedAt: c.now(),
	}

	records, err := FetchRoster(ctx, api, c.logger)
	if err != nil {
		return c.finishFailed(ctx, report, err)
	}

	var (
		enrichments []*Enrichment
		enrichErrs  []error
	)
	if settings.FetchExtended && len(records) > 0 {
		enrichments, enrichErrs = c.enrichAll(ctx, api, records, settings)
	}

	if ctx.Err() != nil {
		return c.finishFailed(ctx, report, ctx.Err())
	}

	prev := c.store.Current()
	report.Results = make([]CycleResult, len(records))
	for i := range records {
		rec := &records[i]
		res := CycleResult{DeviceID: rec.ID, RosterOK: true}

		var en *Enrichment
		if enrichments != nil {
			en = enrichments[i]
			res.Enriched = true
			res.ExtendedOK = en.PositionOK && en.VoltageOK
			res.Err = enrichErrs[i]
			res.ErrorKind = swetrack.KindOf(res.Err)
			if !res.ExtendedOK {
				report.EnrichFailures++
			}
		}
		rec.Extended = mergeExtended(prev.extended(rec.ID), en)
		applyExtendedPosition(rec)
		report.Results[i] = res
	}

	slices.SortFunc(report.Results, func(a, b CycleResult) int {
		return cmp.Compare(a.DeviceID, b.DeviceID)
	})

	report.FinishedAt = c.now()
	snap := buildSnapshot(prev, records, prev.Seq()+1, report.ID, report.FinishedAt)
	c.store.publish(snap)

	report.Outcome = OutcomePublished
	report.Snapshot = snap
	c.recordSuccess(&report)

	c.logger.Info("cycle published",
		"cycle_id", report.ID,
		"trigger", string(trigger),
		"seq", snap.Seq(),
		"devices", snap.Len(),
		"changed", len(snap.changed),
		"removed", len(snap.removed),
		"enrich_failures", report.EnrichFailures,
		"duration_ms", report.Duration().Milliseconds(),
	)
	c.notifyObservers(report)
	return report
}

// enrichAll runs the enricher for every record with bounded concurrency.
// Each worker writes only its own slot.
func (c *Coordinator) enrichAll(ctx context.Context, api API, records []DeviceRecord, s Settings) ([]*Enrichment, []error) {
	enricher := NewEnricher(api, EnrichOptions{
		PageSize: s.ExtendedPageSize,
		Lookback: s.ExtendedLookback,
		Now:      c.now,
	})

	out := make([]*Enrichment, len(records))
	errs := make([]error, len(records))

	var g errgroup.Group
	g.SetLimit(s.EnrichWorkers)
	for i := range records {
		id := records[i].ID
		g.Go(func() error {
			en, err := enricher.Enrich(ctx, id)
			out[i] = &en
			errs[i] = err
			if err != nil {
				c.logEnrichFailure(id, err)
			}
			return nil
		})
	}
	_ = g.Wait()

	return out, errs
}

func (c *Coordinator) logEnrichFailure(deviceID string, err error) {
	if errors.Is(err, swetrack.ErrRateLimit) {
		c.logger.Warn("extended telemetry rate limited, consider a longer scan interval or disabling extended telemetry",
			"device_id", deviceID, "error", err)
		return
	}
	c.logger.Warn("extended telemetry failed, keeping previous values", "device_id", deviceID, "error", err)
}

// finishFailed records a cycle that published nothing.
func (c *Coordinator) finishFailed(ctx context.Context, report CycleReport, err error) CycleReport {
	report.FinishedAt = c.now()
	report.Err = err
	report.ErrorKind = swetrack.KindOf(err)

	if ctx.Err() != nil {
		report.Outcome = OutcomeAbandoned
		report.Err = errors.Join(ErrCycleAbandoned, err)
		c.mu.Lock()
		report.ConsecutiveFail = c.failures
		c.mu.Unlock()
		c.logger.Info("cycle abandoned on shutdown", "cycle_id", report.ID)
		c.notifyObservers(report)
		return report
	}

	report.Outcome = OutcomeFailed

	c.mu.Lock()
	c.failures++
	c.lastErr = err
	c.lastCycleID = report.ID
	if report.ErrorKind == swetrack.KindAuth {
		c.authFailed = true
	}
	report.ConsecutiveFail = c.failures
	c.mu.Unlock()

	attrs := []any{
		"cycle_id", report.ID,
		"trigger", string(report.Trigger),
		"kind", report.ErrorKind.String(),
		"consecutive_failures", report.ConsecutiveFail,
		"error", err,
	}
	switch report.ErrorKind {
	case swetrack.KindAuth:
		c.logger.Error("token rejected, scheduled polls suspended until credentials change", attrs...)
	case swetrack.KindRateLimit:
		c.logger.Warn("roster rate limited, consider a longer scan interval or disabling extended telemetry", attrs...)
	default:
		c.logger.Warn("roster fetch failed, keeping previous snapshot", attrs...)
	}

	c.notifyObservers(report)
	return report
}

func (c *Coordinator) recordSuccess(report *CycleReport) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.failures > 0 {
		c.logger.Info("roster fetch recovered", "after_failures", c.failures)
	}
	c.failures = 0
	c.lastErr = nil
	c.authFailed = false
	c.lastSuccess = report.FinishedAt
	c.lastCycleID = report.ID
	report.ConsecutiveFail = 0
}

func (c *Coordinator) notifyObservers(report CycleReport) {
	c.mu.Lock()
	fns := slices.Clone(c.observers)
	c.mu.Unlock()

	for _, fn := range fns {
		func() {
			defer func() {
				if r := recover(); r != nil {
					c.logger.Error("cycle observer panicked", "cycle_id", report.ID, "panic", r)
				}
			}()
			fn(report)
		}()
	}
}
