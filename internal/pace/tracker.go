package pace

import (
	"context"
	"fmt"
	"log/slog"
	"time"
)

// RecordStore persists timing records keyed by (graph, node).
type RecordStore interface {
	// TimingRecord returns the stored record, or nil when the node has
	// never completed.
	TimingRecord(ctx context.Context, graphID, nodeID string) (*Record, error)
	PutTimingRecord(ctx context.Context, graphID, nodeID string, rec Record) error
}

// Timer describes the display timer for the current node visit. Ticks are
// presentation-only; nothing commits until Finish or Abort.
type Timer struct {
	// CountDown is true when a learned average exists; the display runs
	// down from TargetMs. False means a calibration count-up.
	CountDown bool
	TargetMs  float64
	StartedAt time.Time
}

// Result is the outcome of finishing one node visit.
type Result struct {
	ElapsedMs float64
	Points    int
	// Calibration is true on a node's first-ever completion. Calibration
	// runs seed the average and never score.
	Calibration bool
}

type visit struct {
	graphID   string
	nodeID    string
	startedAt time.Time
	prior     *Record
}

// Tracker runs at most one node timer at a time. Exactly one of Finish or
// Abort must close each Start.
type Tracker struct {
	store RecordStore
	log   *slog.Logger
	now   func() time.Time

	active *visit
}

// NewTracker returns a tracker backed by store.
func NewTracker(store RecordStore, log *slog.Logger) *Tracker {
	return &Tracker{
		store: store,
		log:   log,
		now:   time.Now,
	}
}

// SetClock overrides the time source. Tests only.
func (t *Tracker) SetClock(now func() time.Time) {
	t.now = now
}

// Start begins timing a node visit. Any previous visit must already be
// finished or aborted.
func (t *Tracker) Start(ctx context.Context, graphID, nodeID string) (Timer, error) {
	if t.active != nil {
		return Timer{}, fmt.Errorf("timer already running for node %q", t.active.nodeID)
	}
	prior, err := t.store.TimingRecord(ctx, graphID, nodeID)
	if err != nil {
		return Timer{}, fmt.Errorf("load timing record: %w", err)
	}
	started := t.now()
	t.active = &visit{
		graphID:   graphID,
		nodeID:    nodeID,
		startedAt: started,
		prior:     prior,
	}
	timer := Timer{StartedAt: started}
	if prior != nil && prior.AvgMs > 0 {
		timer.CountDown = true
		timer.TargetMs = prior.AvgMs
	}
	return timer, nil
}

// Finish commits the elapsed time for the active visit, updates the stored
// record, and returns the score. Points are zero on calibration runs.
func (t *Tracker) Finish(ctx context.Context) (Result, error) {
	v := t.active
	if v == nil {
		return Result{}, fmt.Errorf("no timer running")
	}
	t.active = nil

	elapsed := float64(t.now().Sub(v.startedAt)) / float64(time.Millisecond)
	updated := UpdateRobustAverage(v.prior, elapsed)
	if err := t.store.PutTimingRecord(ctx, v.graphID, v.nodeID, updated); err != nil {
		return Result{}, fmt.Errorf("store timing record: %w", err)
	}

	res := Result{ElapsedMs: elapsed, Calibration: v.prior == nil}
	if v.prior != nil && v.prior.AvgMs > 0 {
		res.Points = Points(elapsed, v.prior.AvgMs)
	}
	t.log.Debug("node timing finished",
		"graph", v.graphID,
		"node", v.nodeID,
		"elapsed_ms", elapsed,
		"points", res.Points,
		"calibration", res.Calibration,
	)
	return res, nil
}

// Abort discards the active visit without committing a sample. Aborting
// with no active timer is a no-op.
func (t *Tracker) Abort() {
	if t.active == nil {
		return
	}
	t.log.Debug("node timing aborted", "graph", t.active.graphID, "node", t.active.nodeID)
	t.active = nil
}

// Running reports whether a visit timer is active.
func (t *Tracker) Running() bool {
	return t.active != nil
}
