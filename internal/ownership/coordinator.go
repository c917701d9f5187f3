package ownership

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/calderf/branchline/internal/nav"
)

// Options tunes the coordination timings.
type Options struct {
	// LeaseWindow is how long another device's claim stays fresh.
	LeaseWindow time.Duration
	// WriteDebounce coalesces rapid successive publishes. Stop and
	// TakeOver bypass it.
	WriteDebounce time.Duration
	// PollInterval is the watcher's read cadence.
	PollInterval time.Duration
	// MissingGrace is how long the watcher tolerates a missing artifact
	// before concluding the session was stopped remotely.
	MissingGrace time.Duration
}

// DefaultOptions mirrors the documented defaults.
func DefaultOptions() Options {
	return Options{
		LeaseWindow:   60 * time.Second,
		WriteDebounce: 300 * time.Millisecond,
		PollInterval:  2 * time.Second,
		MissingGrace:  time.Second,
	}
}

// Coordinator implements nav.Guard over a shared artifact store. It is safe
// for use by the navigation goroutine and the watcher concurrently.
type Coordinator struct {
	store    Store
	deviceID string
	opts     Options
	log      *slog.Logger
	now      func() time.Time

	mu           sync.Mutex
	pending      *nav.Snapshot
	flushTimer   *time.Timer
	readDegraded bool

	// watcher state
	lastApplied  uint64
	mirroring    bool
	missingSince time.Time
}

// NewCoordinator returns a coordinator for this device.
func NewCoordinator(store Store, deviceID string, opts Options, log *slog.Logger) *Coordinator {
	return &Coordinator{
		store:    store,
		deviceID: deviceID,
		opts:     opts,
		log:      log,
		now:      time.Now,
	}
}

// SetClock overrides the time source. Tests only.
func (c *Coordinator) SetClock(now func() time.Time) {
	c.now = now
}

// Acquire decides whether this device may mutate the session right now.
//
// The policy is asymmetric on purpose: a read failure with no conflicting
// snapshot visible fails open (a lone user is never locked out), while a
// successfully parsed artifact owned freshly by someone else fails closed.
func (c *Coordinator) Acquire(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	art, err := c.store.Read()
	switch {
	case errors.Is(err, ErrNoArtifact):
		c.setReadDegraded(false)
		return nil
	case err != nil:
		// Unreadable is not the same as absent; note it loudly so
		// accidental double-ownership stays observable.
		c.log.Warn("session artifact unreadable, failing open", "error", err)
		c.setReadDegraded(true)
		return nil
	}
	c.setReadDegraded(false)

	if art.OwnerDeviceID == "" || art.OwnerDeviceID == c.deviceID {
		return nil
	}
	if c.fresh(art) {
		return fmt.Errorf("%w: %s", ErrNotOwner, art.OwnerDeviceID)
	}
	// Stale claim: lease expired, mutation allowed.
	return nil
}

// Publish persists the post-mutation snapshot. Writes within the debounce
// window are coalesced; immediate flushes right away.
func (c *Coordinator) Publish(ctx context.Context, snap nav.Snapshot, immediate bool) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	c.mu.Lock()
	defer c.mu.Unlock()

	c.pending = &snap
	if immediate || c.opts.WriteDebounce <= 0 {
		return c.flushLocked(false)
	}
	if c.flushTimer == nil {
		c.flushTimer = time.AfterFunc(c.opts.WriteDebounce, func() {
			c.mu.Lock()
			defer c.mu.Unlock()
			c.flushTimer = nil
			if err := c.flushLocked(false); err != nil {
				c.log.Warn("debounced session write failed", "error", err)
			}
		})
	}
	return nil
}

// Flush writes any pending debounced snapshot now.
func (c *Coordinator) Flush() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.flushLocked(false)
}

// TakeOver force-claims ownership with snap as the new truth. Last write
// wins; there is no negotiation.
func (c *Coordinator) TakeOver(ctx context.Context, snap nav.Snapshot) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.pending = &snap
	if err := c.flushLocked(true); err != nil {
		return err
	}
	c.log.Info("took over session ownership", "device", c.deviceID)
	return nil
}

// Clear removes the shared artifact after a local stop. A non-owner cannot
// clear a session another device is playing.
func (c *Coordinator) Clear(ctx context.Context) error {
	if err := c.Acquire(ctx); err != nil {
		return err
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.stopFlushTimerLocked()
	c.pending = nil
	return c.store.Remove()
}

// Status describes the artifact as last read, for display.
type Status struct {
	Exists       bool
	OwnerDevice  string
	OwnedBySelf  bool
	Fresh        bool
	Version      uint64
	UpdatedAt    time.Time
	CurrentGraph string
	CurrentNode  string
	// ReadDegraded is set when the last ownership check could not read an
	// existing artifact and permitted mutation anyway.
	ReadDegraded bool
}

// Inspect reads the artifact and summarizes the ownership picture.
func (c *Coordinator) Inspect(ctx context.Context) (Status, error) {
	if err := ctx.Err(); err != nil {
		return Status{}, err
	}
	st := Status{ReadDegraded: c.isReadDegraded()}
	art, err := c.store.Read()
	if errors.Is(err, ErrNoArtifact) {
		return st, nil
	}
	if err != nil {
		return st, err
	}
	st.Exists = true
	st.OwnerDevice = art.OwnerDeviceID
	st.OwnedBySelf = art.OwnerDeviceID == c.deviceID
	st.Fresh = c.fresh(art)
	st.Version = art.Version
	st.UpdatedAt = time.UnixMilli(art.UpdatedAtMs)
	st.CurrentGraph = art.Session.CurrentGraph
	st.CurrentNode = art.Session.CurrentNode
	return st, nil
}

// flushLocked writes the pending snapshot, bumping the version and, unless
// forcing a takeover, preserving any existing owner claim.
func (c *Coordinator) flushLocked(claim bool) error {
	if c.pending == nil {
		return nil
	}
	snap := *c.pending

	owner := c.deviceID
	var version uint64 = 1
	if prev, err := c.store.Read(); err == nil {
		version = prev.Version + 1
		if !claim && prev.OwnerDeviceID != "" {
			owner = prev.OwnerDeviceID
		}
	}
	if claim {
		owner = c.deviceID
	}

	art := &Artifact{
		Session:           snap,
		OwnerDeviceID:     owner,
		UpdatedAtMs:       c.now().UnixMilli(),
		UpdatedByDeviceID: c.deviceID,
		Version:           version,
	}
	if err := c.store.Write(art); err != nil {
		return err
	}
	c.pending = nil
	c.lastApplied = version
	return nil
}

func (c *Coordinator) stopFlushTimerLocked() {
	if c.flushTimer != nil {
		c.flushTimer.Stop()
		c.flushTimer = nil
	}
}

func (c *Coordinator) fresh(art *Artifact) bool {
	age := c.now().UnixMilli() - art.UpdatedAtMs
	return age <= c.opts.LeaseWindow.Milliseconds()
}

func (c *Coordinator) setReadDegraded(v bool) {
	c.mu.Lock()
	c.readDegraded = v
	c.mu.Unlock()
}

func (c *Coordinator) isReadDegraded() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.readDegraded
}
