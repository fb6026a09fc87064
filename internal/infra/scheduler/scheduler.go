// Package scheduler implements the work-assignment core: a FIFO work queue,
// the noisy assignment policy, per-item completion timers held in a
// cancellable registry, and the flood/drain mode controller.
//
// Core concepts:
//   - Queue: unbounded FIFO of pending work items, oldest assigned first
//   - In-flight registry: one cancellable timer handle per assigned item
//   - Completion: a single accuracy trial; success pays the validator and the
//     prize pool the same curve-derived reward
//   - Controller: Normal / Flooding / Draining drivers layered on top
//
// Nothing in this package locks. Every method must run on the timeline that
// also runs the scheduler's timers.
package scheduler

import (
	"time"

	"github.com/go-logr/logr"

	"github.com/maco144/pickle/internal/domain"
	"github.com/maco144/pickle/internal/infra/metrics"
	"github.com/maco144/pickle/internal/infra/pricing"
	"github.com/maco144/pickle/internal/infra/timeline"
)

// ─── Configuration ──────────────────────────────────────────────────────────

const (
	DefaultRewardShare             = 0.25
	DefaultNormalInterval          = 2 * time.Second
	DefaultNormalSubmitProbability = 0.35
	DefaultFloodInterval           = 50 * time.Millisecond
	DefaultFloodBatch              = 500
	DefaultDrainInterval           = 100 * time.Millisecond
	DefaultDrainPerTick            = 20
	DefaultMaxBatch                = 10000
)

// Config configures the scheduler and its drivers.
type Config struct {
	Curve       pricing.Curve
	Policy      PolicyConfig
	RewardShare float64 // fraction of the unit price paid per completion

	NormalInterval          time.Duration
	NormalSubmitProbability float64 // chance a normal tick submits one item
	FloodInterval           time.Duration
	FloodBatch              int // items enqueued per flood tick
	DrainInterval           time.Duration
	DrainPerTick            int // assignments per drain tick
	MaxBatch                int // largest accepted SubmitBatch
}

// DefaultConfig returns the stock simulation parameters.
func DefaultConfig() Config {
	return Config{
		Curve:                   pricing.DefaultCurve(),
		Policy:                  DefaultPolicyConfig(),
		RewardShare:             DefaultRewardShare,
		NormalInterval:          DefaultNormalInterval,
		NormalSubmitProbability: DefaultNormalSubmitProbability,
		FloodInterval:           DefaultFloodInterval,
		FloodBatch:              DefaultFloodBatch,
		DrainInterval:           DefaultDrainInterval,
		DrainPerTick:            DefaultDrainPerTick,
		MaxBatch:                DefaultMaxBatch,
	}
}

// Timers is the slice of a timeline the scheduler needs.
type Timers interface {
	AfterFunc(d time.Duration, fn func()) timeline.Handle
	Every(d time.Duration, fn func()) timeline.Handle
}

// ─── Submission ─────────────────────────────────────────────────────────────

// Emission controls how many snapshots a submission produces.
type Emission int

const (
	EmitEach     Emission = iota // one snapshot per enqueued item
	EmitBatch                    // one snapshot after the whole batch
	EmitDeferred                 // none; the caller emits when its unit of work ends
)

// SubmitOptions configures a submission.
type SubmitOptions struct {
	Category domain.Category // empty draws uniformly over the category set
	Count    int             // values below 1 mean 1
	Emission Emission
}

// ─── Scheduler ──────────────────────────────────────────────────────────────

type inflight struct {
	handle    timeline.Handle
	validator int // roster index
	item      domain.WorkItem
}

// Scheduler owns the roster, the queue, the aggregates and the in-flight
// completion timers.
type Scheduler struct {
	cfg    Config
	timers Timers
	rand   Rand
	policy *Policy
	log    logr.Logger

	roster []domain.Validator

	// queue[head:] is pending work.
	queue      []domain.WorkItem
	head       int
	byCategory map[domain.Category]int

	nextWorkID        uint64
	totalSubmitted    uint64
	totalValidated    uint64
	validationCounter uint64
	prizePool         float64
	history           []domain.PriceSample
	epoch             uint64

	pending    map[uint64]inflight
	nextHandle uint64

	emitFn     func()
	completeFn func(domain.Completion)
}

// New creates a scheduler over a copy of roster. The roster must be valid
// (see domain.ValidateRoster).
func New(cfg Config, roster []domain.Validator, timers Timers, r Rand, log logr.Logger) *Scheduler {
	own := make([]domain.Validator, len(roster))
	copy(own, roster)
	for i := range own {
		own[i].Validated = 0
		own[i].Earned = 0
	}
	return &Scheduler{
		cfg:        cfg,
		timers:     timers,
		rand:       r,
		policy:     NewPolicy(cfg.Policy, r),
		log:        log.WithName("scheduler"),
		roster:     own,
		byCategory: make(map[domain.Category]int),
		history:    cfg.Curve.InitialHistory(),
		pending:    make(map[uint64]inflight),
	}
}

// OnEmit sets the snapshot emission hook.
func (s *Scheduler) OnEmit(fn func()) { s.emitFn = fn }

// OnComplete sets the hook that receives every successful completion.
func (s *Scheduler) OnComplete(fn func(domain.Completion)) { s.completeFn = fn }

// Submit creates and enqueues work items and returns them in queue order.
func (s *Scheduler) Submit(opts SubmitOptions) []domain.WorkItem {
	n := opts.Count
	if n < 1 {
		n = 1
	}
	cats := domain.Categories()
	items := make([]domain.WorkItem, 0, n)
	for i := 0; i < n; i++ {
		cat := opts.Category
		if cat == "" {
			cat = cats[s.rand.IntN(len(cats))]
		}
		s.nextWorkID++
		item := domain.WorkItem{
			ID:       domain.WorkID(s.nextWorkID),
			Category: cat,
			Status:   domain.WorkPending,
		}
		s.queue = append(s.queue, item)
		s.byCategory[cat]++
		s.totalSubmitted++
		items = append(items, item)
		if opts.Emission == EmitEach {
			s.emit()
		}
	}
	metrics.WorkSubmitted.Add(float64(n))
	s.observeQueue()
	if opts.Emission == EmitBatch {
		s.emit()
	}
	return items
}

// AssignOne dequeues the oldest item, routes it and arms its completion
// timer. Returns false when the queue is empty.
func (s *Scheduler) AssignOne() bool {
	item, ok := s.dequeue()
	if !ok {
		return false
	}

	idx, route := s.policy.Select(item, s.roster)
	v := s.roster[idx]
	delay := s.policy.Delay(v)

	s.nextHandle++
	id := s.nextHandle
	h := s.timers.AfterFunc(delay, func() { s.fire(id) })
	s.pending[id] = inflight{handle: h, validator: idx, item: item}

	match := "miss"
	if v.Specialization == item.Category {
		match = "match"
	}
	metrics.Assignments.WithLabelValues(v.Name, string(route), match).Inc()
	metrics.CompletionDelay.Observe(delay.Seconds())
	s.observeQueue()
	s.log.V(2).Info("assigned", "work", item.ID, "category", item.Category,
		"validator", v.Name, "route", route, "delay", delay)
	return true
}

// CancelAllPending cancels every outstanding completion timer and clears the
// registry. Returns how many were cancelled.
func (s *Scheduler) CancelAllPending() int {
	n := len(s.pending)
	for id, p := range s.pending {
		p.handle.Cancel()
		delete(s.pending, id)
	}
	if n > 0 {
		metrics.CompletionsCancelled.Add(float64(n))
		s.log.V(1).Info("cancelled in-flight completions", "count", n)
	}
	s.observeQueue()
	return n
}

// Reset zeroes aggregates and earnings, clears the queue, cancels in-flight
// completions and restores the base price sample. Work ids keep counting.
func (s *Scheduler) Reset() {
	s.CancelAllPending()
	for i := range s.roster {
		s.roster[i].Validated = 0
		s.roster[i].Earned = 0
	}
	s.queue = nil
	s.head = 0
	s.byCategory = make(map[domain.Category]int)
	s.totalSubmitted = 0
	s.totalValidated = 0
	s.validationCounter = 0
	s.prizePool = 0
	s.history = s.cfg.Curve.InitialHistory()
	s.epoch++
	s.observeQueue()
	metrics.PrizePool.Set(0)
	metrics.CurrentPrice.Set(s.cfg.Curve.Price(0))
}

// QueueDepth returns the number of pending items.
func (s *Scheduler) QueueDepth() int {
	return len(s.queue) - s.head
}

// InFlight returns the number of armed completion timers.
func (s *Scheduler) InFlight() int {
	return len(s.pending)
}

// Epoch counts resets since creation.
func (s *Scheduler) Epoch() uint64 {
	return s.epoch
}

// CurrentPrice returns the curve price at the current unit count.
func (s *Scheduler) CurrentPrice() float64 {
	return s.cfg.Curve.Price(s.totalValidated)
}

// Snapshot captures the scheduler-owned part of engine state. Every slice
// and map is a fresh copy; nothing in it aliases scheduler memory.
func (s *Scheduler) Snapshot() domain.Snapshot {
	roster := make([]domain.Validator, len(s.roster))
	copy(roster, s.roster)

	queue := make([]domain.WorkItem, len(s.queue)-s.head)
	copy(queue, s.queue[s.head:])

	history := make([]domain.PriceSample, len(s.history))
	copy(history, s.history)

	byCat := make(map[domain.Category]int, len(s.byCategory))
	for c, n := range s.byCategory {
		if n > 0 {
			byCat[c] = n
		}
	}
	return domain.Snapshot{
		Epoch:             s.epoch,
		Validators:        roster,
		Queue:             queue,
		QueueByCategory:   byCat,
		InFlight:          len(s.pending),
		TotalValidated:    s.totalValidated,
		TotalSubmitted:    s.totalSubmitted,
		PrizePool:         s.prizePool,
		PriceHistory:      history,
		ValidationCounter: s.validationCounter,
		CurrentPrice:      s.CurrentPrice(),
	}
}

// ─── Internal ───────────────────────────────────────────────────────────────

func (s *Scheduler) dequeue() (domain.WorkItem, bool) {
	if s.head >= len(s.queue) {
		return domain.WorkItem{}, false
	}
	item := s.queue[s.head]
	s.head++
	s.byCategory[item.Category]--

	switch {
	case s.head == len(s.queue):
		s.queue = nil
		s.head = 0
	case s.head >= 1024 && s.head*2 >= len(s.queue):
		// Compact in place once the consumed prefix dominates.
		s.queue = s.queue[:copy(s.queue, s.queue[s.head:])]
		s.head = 0
	}
	return item, true
}

// fire resolves the completion timer registered under id.
func (s *Scheduler) fire(id uint64) {
	p, ok := s.pending[id]
	if !ok {
		return // cancelled
	}
	delete(s.pending, id)

	v := s.roster[p.validator]
	if !s.policy.Accept(v) {
		s.log.V(2).Info("validation failed, dropping work", "work", p.item.ID, "validator", v.Name)
		s.observeQueue()
		return
	}
	s.complete(p.validator, p.item)
}

// complete pays out one validated unit. The reward is quoted at the price in
// force before the unit is counted.
func (s *Scheduler) complete(idx int, item domain.WorkItem) {
	price := s.cfg.Curve.Price(s.totalValidated)
	reward := price * s.cfg.RewardShare

	v := &s.roster[idx]
	v.Validated++
	v.Earned += reward

	s.totalValidated++
	s.validationCounter++
	s.prizePool += reward
	s.history = s.cfg.Curve.RecordIfMilestone(s.totalValidated, s.cfg.Curve.Price(s.totalValidated), s.history)

	metrics.Completions.WithLabelValues(v.Name, string(item.Category)).Inc()
	metrics.PrizePool.Set(s.prizePool)
	metrics.CurrentPrice.Set(s.CurrentPrice())
	s.observeQueue()

	if s.completeFn != nil {
		s.completeFn(domain.Completion{
			Epoch:       s.epoch,
			Unit:        s.totalValidated,
			ValidatorID: v.ID,
			WorkID:      item.ID,
			Category:    item.Category,
			Price:       price,
			Reward:      reward,
		})
	}
	s.emit()
}

func (s *Scheduler) emit() {
	if s.emitFn != nil {
		s.emitFn()
	}
}

func (s *Scheduler) observeQueue() {
	metrics.QueueDepth.Set(float64(s.QueueDepth()))
	metrics.InFlight.Set(float64(len(s.pending)))
}
