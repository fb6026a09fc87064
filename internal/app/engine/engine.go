// Package engine is the facade over the scheduler and mode controller.
// Every call is marshalled onto the engine's timeline; every mutation ends
// with one immutable snapshot delivered to each subscribed observer.
package engine

import (
	"context"
	"fmt"
	"math/rand/v2"
	"sync"

	"github.com/go-logr/logr"
	"github.com/google/uuid"

	"github.com/maco144/pickle/internal/domain"
	"github.com/maco144/pickle/internal/infra/metrics"
	"github.com/maco144/pickle/internal/infra/scheduler"
	"github.com/maco144/pickle/internal/infra/timeline"
)

// Observer receives snapshots. It runs on the engine timeline and must not
// block or call back into the engine.
type Observer func(domain.Snapshot)

// Recorder receives every successful completion, on the engine timeline.
// Implementations must not block.
type Recorder interface {
	Record(domain.Completion)
}

// Options configures an Engine. Zero values select defaults.
type Options struct {
	Config   scheduler.Config
	Roster   []domain.Validator // nil selects domain.DefaultRoster()
	Rand     scheduler.Rand     // nil selects a randomly seeded PCG
	Session  string             // empty generates a UUID
	Recorder Recorder
	Logger   logr.Logger
}

type subscription struct {
	id uint64
	fn Observer
}

// Engine composes the scheduler and the mode controller.
type Engine struct {
	tl       timeline.Timeline
	sched    *scheduler.Scheduler
	ctrl     *scheduler.Controller
	log      logr.Logger
	session  string
	recorder Recorder
	maxBatch int

	// timeline-owned
	sequence  uint64
	observers []subscription
	nextObs   uint64
}

// New creates a stopped engine on tl.
func New(tl timeline.Timeline, opts Options) (*Engine, error) {
	roster := opts.Roster
	if roster == nil {
		roster = domain.DefaultRoster()
	}
	if err := domain.ValidateRoster(roster); err != nil {
		return nil, fmt.Errorf("engine: %w", err)
	}
	cfg := opts.Config
	if cfg == (scheduler.Config{}) {
		cfg = scheduler.DefaultConfig()
	}
	r := opts.Rand
	if r == nil {
		r = rand.New(rand.NewPCG(rand.Uint64(), rand.Uint64()))
	}
	session := opts.Session
	if session == "" {
		session = uuid.NewString()
	}
	log := opts.Logger.WithName("engine").WithValues("session", session)

	if cfg.MaxBatch <= 0 {
		cfg.MaxBatch = scheduler.DefaultMaxBatch
	}

	s := scheduler.New(cfg, roster, tl, r, opts.Logger)
	e := &Engine{
		tl:       tl,
		maxBatch: cfg.MaxBatch,
		sched:    s,
		ctrl:     scheduler.NewController(s),
		log:      log,
		session:  session,
		recorder: opts.Recorder,
	}
	s.OnEmit(e.emit)
	s.OnComplete(e.record)
	return e, nil
}

// MaxBatch returns the largest batch SubmitBatch accepts.
func (e *Engine) MaxBatch() int { return e.maxBatch }

// Session returns the engine's session id.
func (e *Engine) Session() string { return e.session }

// ─── Lifecycle ──────────────────────────────────────────────────────────────

// Start arms the drivers for the current mode. Reports whether anything changed.
func (e *Engine) Start() (bool, error) {
	return e.toggle(e.ctrl.Start)
}

// Stop disarms all drivers. In-flight completions still land.
func (e *Engine) Stop() (bool, error) {
	return e.toggle(e.ctrl.Stop)
}

// StartFlood enters flood mode. A no-op while already flooding.
func (e *Engine) StartFlood() (bool, error) {
	return e.toggle(e.ctrl.StartFlood)
}

// StopFlood leaves flood mode for draining. A no-op unless flooding.
func (e *Engine) StopFlood() (bool, error) {
	return e.toggle(e.ctrl.StopFlood)
}

func (e *Engine) toggle(fn func() bool) (bool, error) {
	var changed bool
	err := e.tl.Do(func() {
		if changed = fn(); changed {
			e.emit()
		}
	})
	return changed, err
}

// ─── Work ───────────────────────────────────────────────────────────────────

// Submit enqueues one item without assigning it. An empty category draws one
// uniformly.
func (e *Engine) Submit(category domain.Category) (domain.WorkItem, error) {
	if category != "" && !category.Valid() {
		return domain.WorkItem{}, fmt.Errorf("submit %q: %w", category, domain.ErrUnknownCategory)
	}
	var item domain.WorkItem
	err := e.tl.Do(func() {
		item = e.sched.Submit(scheduler.SubmitOptions{Category: category, Emission: scheduler.EmitEach})[0]
	})
	return item, err
}

// SubmitBatch enqueues n items, then attempts n assignments, then emits once.
// n <= 0 is a no-op; n above MaxBatch returns domain.ErrInvalidCount.
func (e *Engine) SubmitBatch(n int) ([]domain.WorkItem, error) {
	if n <= 0 {
		return nil, nil
	}
	if n > e.maxBatch {
		return nil, fmt.Errorf("submit batch of %d exceeds limit %d: %w", n, e.maxBatch, domain.ErrInvalidCount)
	}
	var items []domain.WorkItem
	err := e.tl.Do(func() {
		items = e.sched.Submit(scheduler.SubmitOptions{Count: n, Emission: scheduler.EmitDeferred})
		for i := 0; i < n; i++ {
			e.sched.AssignOne()
		}
		e.emit()
	})
	return items, err
}

// Reset zeroes aggregates and earnings, clears the queue and cancels
// in-flight completions. Mode and drivers are unchanged.
func (e *Engine) Reset() error {
	return e.tl.Do(func() {
		e.ctrl.Reset()
		e.log.Info("reset", "epoch", e.sched.Epoch())
		e.emit()
	})
}

// ─── Observation ────────────────────────────────────────────────────────────

// Snapshot returns the current state.
func (e *Engine) Snapshot() (domain.Snapshot, error) {
	var snap domain.Snapshot
	err := e.tl.Do(func() { snap = e.snapshot() })
	return snap, err
}

// Subscribe registers obs for every future snapshot. The returned function
// unsubscribes; it is safe to call more than once but not from an observer.
func (e *Engine) Subscribe(obs Observer) (func(), error) {
	var id uint64
	err := e.tl.Do(func() {
		e.nextObs++
		id = e.nextObs
		e.observers = append(e.observers, subscription{id: id, fn: obs})
		metrics.Observers.Set(float64(len(e.observers)))
	})
	if err != nil {
		return nil, err
	}
	var once sync.Once
	return func() {
		once.Do(func() {
			_ = e.tl.Do(func() { e.unsubscribe(id) })
		})
	}, nil
}

// Ping round-trips through the timeline. Used as a liveness check.
func (e *Engine) Ping(ctx context.Context) error {
	done := make(chan error, 1)
	go func() { done <- e.tl.Do(func() {}) }()
	select {
	case err := <-done:
		return err
	case <-ctx.Done():
		return fmt.Errorf("engine ping: %w", ctx.Err())
	}
}

// ─── Internal ───────────────────────────────────────────────────────────────

func (e *Engine) unsubscribe(id uint64) {
	for i, sub := range e.observers {
		if sub.id == id {
			e.observers = append(e.observers[:i:i], e.observers[i+1:]...)
			break
		}
	}
	metrics.Observers.Set(float64(len(e.observers)))
}

func (e *Engine) snapshot() domain.Snapshot {
	snap := e.sched.Snapshot()
	snap.Session = e.session
	snap.Sequence = e.sequence
	snap.TakenAt = e.tl.Now()
	snap.Mode = e.ctrl.Mode()
	snap.Running = e.ctrl.Running()
	return snap
}

func (e *Engine) emit() {
	e.sequence++
	if len(e.observers) == 0 {
		return
	}
	snap := e.snapshot()
	for _, sub := range e.observers {
		sub.fn(snap)
	}
	metrics.SnapshotsEmitted.Inc()
}

func (e *Engine) record(c domain.Completion) {
	if e.recorder == nil {
		return
	}
	c.Session = e.session
	c.At = e.tl.Now()
	e.recorder.Record(c)
}
