package scheduler

import (
	"time"

	"github.com/maco144/pickle/internal/domain"
	"github.com/maco144/pickle/internal/infra/metrics"
	"github.com/maco144/pickle/internal/infra/timeline"
)

// ─── Mode Controller ────────────────────────────────────────────────────────
// Normal:   every NormalInterval, maybe submit one item and assign one.
// Flooding: every FloodInterval, enqueue FloodBatch items silently and emit
//           once. Nothing is assigned until the flood stops.
// Draining: every DrainInterval, assign up to DrainPerTick items; back to
//           Normal once the queue is empty. The normal driver keeps running.
//
// Drivers are armed only while the controller is running. Mode commands are
// accepted while stopped and take effect on Start.

// Controller layers the interval drivers and the mode machine over a Scheduler.
type Controller struct {
	s       *Scheduler
	mode    domain.Mode
	running bool

	normal timeline.Handle
	flood  timeline.Handle
	drain  timeline.Handle
}

// NewController creates a stopped controller in Normal mode.
func NewController(s *Scheduler) *Controller {
	metrics.Mode.Set(float64(domain.ModeNormal))
	return &Controller{s: s, mode: domain.ModeNormal}
}

// Mode returns the current mode.
func (c *Controller) Mode() domain.Mode { return c.mode }

// Running reports whether drivers are armed.
func (c *Controller) Running() bool { return c.running }

// Start arms the driver for the current mode. Returns false if already running.
func (c *Controller) Start() bool {
	if c.running {
		return false
	}
	c.running = true
	c.reconcile()
	c.s.log.V(1).Info("controller started", "mode", c.mode)
	return true
}

// Stop cancels all drivers. In-flight completions still land.
// Returns false if already stopped.
func (c *Controller) Stop() bool {
	if !c.running {
		return false
	}
	c.running = false
	c.reconcile()
	c.s.log.V(1).Info("controller stopped", "mode", c.mode)
	return true
}

// StartFlood enters Flooding: in-flight completions are cancelled and the
// flood driver replaces the normal and drain drivers. Returns false if
// already flooding.
func (c *Controller) StartFlood() bool {
	if c.mode == domain.ModeFlooding {
		return false
	}
	cancelled := c.s.CancelAllPending()
	c.setMode(domain.ModeFlooding)
	c.s.log.Info("flood started", "cancelled", cancelled, "queued", c.s.QueueDepth())
	return true
}

// StopFlood leaves Flooding for Draining and restarts the normal driver.
// Returns false if not flooding.
func (c *Controller) StopFlood() bool {
	if c.mode != domain.ModeFlooding {
		return false
	}
	c.setMode(domain.ModeDraining)
	c.s.log.Info("flood stopped, draining", "queued", c.s.QueueDepth())
	return true
}

// Reset clears scheduler state. Mode and drivers are left alone.
func (c *Controller) Reset() {
	c.s.Reset()
}

func (c *Controller) setMode(m domain.Mode) {
	c.mode = m
	metrics.Mode.Set(float64(m))
	c.reconcile()
}

// reconcile arms exactly the driver the current (running, mode) pair calls for.
func (c *Controller) reconcile() {
	cfg := c.s.cfg
	c.normal = c.arm(c.normal, c.running && c.mode != domain.ModeFlooding, cfg.NormalInterval, c.normalTick)
	c.flood = c.arm(c.flood, c.running && c.mode == domain.ModeFlooding, cfg.FloodInterval, c.floodTick)
	c.drain = c.arm(c.drain, c.running && c.mode == domain.ModeDraining, cfg.DrainInterval, c.drainTick)
}

func (c *Controller) arm(h timeline.Handle, want bool, every time.Duration, fn func()) timeline.Handle {
	switch {
	case want && h == nil:
		return c.s.timers.Every(every, fn)
	case !want && h != nil:
		h.Cancel()
		return nil
	}
	return h
}

// ─── Drivers ────────────────────────────────────────────────────────────────

func (c *Controller) normalTick() {
	if c.s.rand.Float64() >= c.s.cfg.NormalSubmitProbability {
		return
	}
	c.s.Submit(SubmitOptions{Emission: EmitDeferred})
	c.s.AssignOne()
	c.s.emit()
}

func (c *Controller) floodTick() {
	metrics.FloodBatches.Inc()
	c.s.Submit(SubmitOptions{Count: c.s.cfg.FloodBatch, Emission: EmitBatch})
}

func (c *Controller) drainTick() {
	for i := 0; i < c.s.cfg.DrainPerTick; i++ {
		if !c.s.AssignOne() {
			break
		}
	}
	if c.s.QueueDepth() == 0 {
		c.setMode(domain.ModeNormal)
		c.s.log.Info("drain complete")
	}
	c.s.emit()
}
