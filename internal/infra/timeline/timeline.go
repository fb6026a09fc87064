// Package timeline provides the single serialized execution context the
// engine runs on. Every effect (commands, interval drivers, completion
// timers) executes on one timeline, one closure at a time, so engine state
// needs no locking.
//
// Two implementations are provided:
//   - Loop: a real-time mailbox loop backed by a k8s.io/utils clock
//   - Virtual: a deterministic discrete-event timeline advanced by the caller
package timeline

import "time"

// Handle cancels a scheduled callback. Cancel is idempotent and must be
// called from the timeline itself. Once Cancel returns the callback will not
// run again, even if its timer already fired.
type Handle interface {
	Cancel()
}

// Timeline schedules work onto a serialized execution context.
type Timeline interface {
	// AfterFunc runs fn once on the timeline after d.
	AfterFunc(d time.Duration, fn func()) Handle
	// Every runs fn on the timeline every d until cancelled. Panics if d <= 0.
	Every(d time.Duration, fn func()) Handle
	// Do runs fn on the timeline and waits for it to return. Closures already
	// running on the timeline must not call it.
	Do(fn func()) error
	// Now returns the timeline's current time.
	Now() time.Time
}
