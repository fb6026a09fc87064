package timeline

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/go-logr/logr"
	"k8s.io/utils/clock"

	"github.com/maco144/pickle/internal/domain"
)

// Loop is a real-time Timeline. A single goroutine (Run) executes closures
// from an unbounded mailbox. Clock timers never touch engine state directly:
// when they fire they post their callback to the mailbox.
//
// AfterFunc, Every and Handle.Cancel must only be called from closures running
// on the loop. Do must not be called from the loop: it would wait on itself.
// Do from any other goroutine queues behind the closure currently running.
type Loop struct {
	clk clock.WithTickerAndDelayedExecution
	log logr.Logger

	mu      sync.Mutex
	mailbox []func()
	wake    chan struct{}

	started atomic.Bool
	stopped chan struct{}

	// live handles, only touched on the loop
	live   map[uint64]*loopHandle
	nextID uint64
}

// NewLoop creates a loop driven by clk. Pass clock.RealClock{} in production.
func NewLoop(clk clock.WithTickerAndDelayedExecution, log logr.Logger) *Loop {
	return &Loop{
		clk:     clk,
		log:     log.WithName("timeline"),
		wake:    make(chan struct{}, 1),
		stopped: make(chan struct{}),
		live:    make(map[uint64]*loopHandle),
	}
}

// Run executes posted closures until ctx is done, then stops every live
// timer. Run may only be called once.
func (l *Loop) Run(ctx context.Context) error {
	if !l.started.CompareAndSwap(false, true) {
		return nil
	}
	defer close(l.stopped)
	defer l.shutdown()

	l.log.V(1).Info("loop started")
	for {
		select {
		case <-ctx.Done():
			l.log.V(1).Info("loop stopped")
			return nil
		case <-l.wake:
		}
		for {
			if ctx.Err() != nil {
				break
			}
			fn := l.next()
			if fn == nil {
				break
			}
			fn()
		}
	}
}

// Do posts fn to the loop and waits until it has run. Returns
// domain.ErrEngineClosed if the loop stops before fn runs.
func (l *Loop) Do(fn func()) error {
	select {
	case <-l.stopped:
		return domain.ErrEngineClosed
	default:
	}

	done := make(chan struct{})
	l.post(func() {
		defer close(done)
		fn()
	})

	select {
	case <-done:
		return nil
	case <-l.stopped:
		// fn may have been the last closure the loop ran.
		select {
		case <-done:
			return nil
		default:
			return domain.ErrEngineClosed
		}
	}
}

// Now returns the clock's current time.
func (l *Loop) Now() time.Time {
	return l.clk.Now()
}

// AfterFunc schedules fn to run once on the loop after d.
func (l *Loop) AfterFunc(d time.Duration, fn func()) Handle {
	h := l.register()
	h.timer = l.clk.AfterFunc(d, func() {
		l.post(func() {
			if h.dead.Swap(true) {
				return
			}
			delete(l.live, h.id)
			fn()
		})
	})
	return h
}

// Every schedules fn to run on the loop every d. Ticks that arrive while a
// previous tick is still waiting in the mailbox are coalesced.
func (l *Loop) Every(d time.Duration, fn func()) Handle {
	if d <= 0 {
		panic("timeline: non-positive interval for Every")
	}
	h := l.register()
	h.ticker = l.clk.NewTicker(d)
	h.done = make(chan struct{})

	var queued atomic.Bool
	tick := func() {
		queued.Store(false)
		if h.dead.Load() {
			return
		}
		fn()
	}
	go func() {
		for {
			select {
			case <-h.done:
				return
			case <-h.ticker.C():
				if queued.CompareAndSwap(false, true) {
					l.post(tick)
				}
			}
		}
	}()
	return h
}

// Pending returns the number of live timers and tickers. Loop only.
func (l *Loop) Pending() int {
	return len(l.live)
}

func (l *Loop) register() *loopHandle {
	l.nextID++
	h := &loopHandle{loop: l, id: l.nextID}
	l.live[h.id] = h
	return h
}

func (l *Loop) post(fn func()) {
	l.mu.Lock()
	l.mailbox = append(l.mailbox, fn)
	l.mu.Unlock()

	select {
	case l.wake <- struct{}{}:
	default:
	}
}

func (l *Loop) next() func() {
	l.mu.Lock()
	defer l.mu.Unlock()
	if len(l.mailbox) == 0 {
		return nil
	}
	fn := l.mailbox[0]
	l.mailbox[0] = nil
	l.mailbox = l.mailbox[1:]
	if len(l.mailbox) == 0 {
		l.mailbox = nil
	}
	return fn
}

func (l *Loop) shutdown() {
	for _, h := range l.live {
		h.Cancel()
	}
	l.mu.Lock()
	l.mailbox = nil
	l.mu.Unlock()
}

type loopHandle struct {
	loop   *Loop
	id     uint64
	dead   atomic.Bool
	timer  clock.Timer
	ticker clock.Ticker
	done   chan struct{}
}

func (h *loopHandle) Cancel() {
	if h.dead.Swap(true) {
		return
	}
	delete(h.loop.live, h.id)
	if h.timer != nil {
		h.timer.Stop()
	}
	if h.ticker != nil {
		h.ticker.Stop()
		close(h.done)
	}
}
