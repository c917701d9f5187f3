package ownership

import (
	"context"
	"errors"
	"time"
)

// RemoteHandler mirrors remote changes into local state on a non-owner
// device.
type RemoteHandler interface {
	RemoteUpdated(art *Artifact)
	RemoteStopped()
}

// Watch polls the artifact until ctx ends, mirroring newer snapshots
// written by other devices into handler. A missing artifact is tolerated
// for one grace interval before it counts as a remote stop.
func (c *Coordinator) Watch(ctx context.Context, handler RemoteHandler) {
	ticker := time.NewTicker(c.opts.PollInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			c.pollOnce(handler)
		}
	}
}

// pollOnce is one watcher iteration, split out so tests can drive it
// without real time.
func (c *Coordinator) pollOnce(handler RemoteHandler) {
	art, err := c.store.Read()
	switch {
	case errors.Is(err, ErrNoArtifact):
		c.handleMissing(handler)
		return
	case err != nil:
		c.log.Warn("watcher could not read session artifact", "error", err)
		return
	}

	c.mu.Lock()
	c.missingSince = time.Time{}
	if art.UpdatedByDeviceID == c.deviceID {
		// Our own write coming back; nothing to mirror.
		if art.Version > c.lastApplied {
			c.lastApplied = art.Version
		}
		c.mu.Unlock()
		return
	}
	if art.Version <= c.lastApplied {
		c.mu.Unlock()
		return
	}
	c.lastApplied = art.Version
	c.mirroring = true
	c.mu.Unlock()

	c.log.Debug("mirroring remote session",
		"version", art.Version,
		"from", art.UpdatedByDeviceID,
		"node", art.Session.CurrentNode,
	)
	handler.RemoteUpdated(art)
}

func (c *Coordinator) handleMissing(handler RemoteHandler) {
	c.mu.Lock()
	if !c.mirroring {
		// Nothing mirrored locally; a missing artifact is not news.
		c.missingSince = time.Time{}
		c.mu.Unlock()
		return
	}
	now := c.now()
	if c.missingSince.IsZero() {
		// First sighting: a delete-then-recreate writer may bring it
		// back. Wait one grace interval.
		c.missingSince = now
		c.mu.Unlock()
		return
	}
	if now.Sub(c.missingSince) < c.opts.MissingGrace {
		c.mu.Unlock()
		return
	}
	c.mirroring = false
	c.lastApplied = 0
	c.missingSince = time.Time{}
	c.mu.Unlock()

	c.log.Info("remote session stopped")
	handler.RemoteStopped()
}
