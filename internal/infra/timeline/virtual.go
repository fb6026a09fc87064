package timeline

import (
	"container/heap"
	"time"
)

// Virtual is a deterministic discrete-event Timeline. Nothing happens until
// the caller advances time; due events then fire in time order, ties broken by
// scheduling order, all on the caller's goroutine. It is not safe for
// concurrent use.
type Virtual struct {
	now    time.Time
	seq    uint64
	events eventHeap
	live   int
}

// NewVirtual creates a virtual timeline starting at start.
func NewVirtual(start time.Time) *Virtual {
	return &Virtual{now: start}
}

// Now returns the virtual time.
func (v *Virtual) Now() time.Time {
	return v.now
}

// Do runs fn immediately; the caller already owns the timeline.
func (v *Virtual) Do(fn func()) error {
	fn()
	return nil
}

// AfterFunc schedules fn once at Now()+d.
func (v *Virtual) AfterFunc(d time.Duration, fn func()) Handle {
	return v.schedule(d, 0, fn)
}

// Every schedules fn at Now()+d and every d after that.
func (v *Virtual) Every(d time.Duration, fn func()) Handle {
	if d <= 0 {
		panic("timeline: non-positive interval for Every")
	}
	return v.schedule(d, d, fn)
}

// Advance moves time forward by d, firing every event that falls due.
func (v *Virtual) Advance(d time.Duration) {
	v.RunUntil(v.now.Add(d))
}

// RunUntil fires every event due at or before t and leaves the clock at t.
// Events scheduled by firing callbacks are honored if they fall due in range.
func (v *Virtual) RunUntil(t time.Time) {
	for len(v.events) > 0 {
		ev := v.events[0]
		if ev.at.After(t) {
			break
		}
		heap.Pop(&v.events)
		if ev.handle.dead {
			continue
		}
		if ev.at.After(v.now) {
			v.now = ev.at
		}
		if ev.every > 0 {
			ev.at = ev.at.Add(ev.every)
			v.seq++
			ev.seq = v.seq
			heap.Push(&v.events, ev)
		} else {
			ev.handle.dead = true
			v.live--
		}
		ev.fn()
	}
	if t.After(v.now) {
		v.now = t
	}
}

// Pending returns the number of live scheduled events.
func (v *Virtual) Pending() int {
	return v.live
}

func (v *Virtual) schedule(d, every time.Duration, fn func()) Handle {
	if d < 0 {
		d = 0
	}
	v.seq++
	h := &virtualHandle{timeline: v}
	heap.Push(&v.events, &event{
		at:     v.now.Add(d),
		seq:    v.seq,
		every:  every,
		fn:     fn,
		handle: h,
	})
	v.live++
	return h
}

type virtualHandle struct {
	timeline *Virtual
	dead     bool
}

// Cancel marks the event dead; it is discarded when it reaches the heap top.
func (h *virtualHandle) Cancel() {
	if h.dead {
		return
	}
	h.dead = true
	h.timeline.live--
}

type event struct {
	at     time.Time
	seq    uint64
	every  time.Duration
	fn     func()
	handle *virtualHandle
}

// eventHeap orders events by due time, then by scheduling sequence.
type eventHeap []*event

func (h eventHeap) Len() int { return len(h) }
func (h eventHeap) Less(i, j int) bool {
	if h[i].at.Equal(h[j].at) {
		return h[i].seq < h[j].seq
	}
	return h[i].at.Before(h[j].at)
}
func (h eventHeap) Swap(i, j int) { h[i], h[j] = h[j], h[i] }
func (h *eventHeap) Push(x any)   { *h = append(*h, x.(*event)) }
func (h *eventHeap) Pop() any {
	old := *h
	n := len(old)
	ev := old[n-1]
	old[n-1] = nil
	*h = old[:n-1]
	return ev
}
