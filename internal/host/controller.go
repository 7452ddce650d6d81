package host

import (
	"context"
	"log/slog"
	"sync"

	"github.com/fentz26/pacer/internal/logging"
	"github.com/fentz26/pacer/internal/models"
	"github.com/fentz26/pacer/internal/timer"
)

// Controller fronts a Host that may not be connected yet. A start requested
// before the host connects is queued and replayed exactly once when it does.
type Controller struct {
	logger *slog.Logger

	mu      sync.Mutex
	host    *Host
	pending *pendingStart
}

type pendingStart struct {
	plan models.Plan
	meta SessionMeta
}

// NewController returns a controller with no host.
func NewController(logger *slog.Logger) *Controller {
	return &Controller{logger: logging.NewComponentLogger(logger, "controller")}
}

// Host returns the connected host or nil.
func (c *Controller) Host() *Host {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.host
}

// Pending reports whether a start intent is queued.
func (c *Controller) Pending() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.pending != nil
}

// RequestStart starts a session on the connected host, or queues the intent
// and returns ErrStartPending. Invalid plans are rejected either way. A newer
// queued intent replaces an older one.
func (c *Controller) RequestStart(ctx context.Context, plan models.Plan, meta SessionMeta) (SessionInfo, error) {
	if err := timer.ValidatePlan(plan); err != nil {
		return SessionInfo{}, err
	}

	c.mu.Lock()
	h := c.host
	if h == nil {
		c.pending = &pendingStart{plan: plan.Clone(), meta: meta}
		c.mu.Unlock()
		c.logger.Info("start queued until host connects")
		return SessionInfo{}, ErrStartPending
	}
	c.mu.Unlock()
	return h.StartSession(ctx, plan, meta)
}

// OnHostConnected attaches h and drains a queued start. The drained start
// publishes its first snapshot as part of starting.
func (c *Controller) OnHostConnected(ctx context.Context, h *Host) (SessionInfo, bool, error) {
	c.mu.Lock()
	c.host = h
	p := c.pending
	c.pending = nil
	c.mu.Unlock()

	if p == nil {
		return SessionInfo{}, false, nil
	}
	info, err := h.StartSession(ctx, p.plan, p.meta)
	if err != nil {
		c.logger.Warn("drain queued start", logging.Error(err))
		return SessionInfo{}, true, err
	}
	c.logger.Info("queued start drained", logging.Session(info.ID))
	return info, true, nil
}

// OnHostDisconnected detaches the host. The host keeps running any session
// it owns.
func (c *Controller) OnHostDisconnected() {
	c.mu.Lock()
	c.host = nil
	c.mu.Unlock()
}
