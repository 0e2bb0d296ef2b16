// Package handoff implements a single-slot, overwrite-on-write value
// transfer between a non-realtime writer and a realtime reader.
//
// The cyclic side of the bridge is paced by the robot controller's
// clock, so nothing on its path may block on another goroutine. The
// slot is an atomically swapped pointer: writes replace the whole
// value, reads observe either the previous or the new value, never a
// torn one. There is no queue on purpose: only the latest command or
// state is meaningful to a motion controller, and queueing would
// reintroduce unbounded staleness.
package handoff

import "sync/atomic"

// Handoff is a single-slot container holding zero or one value of T.
//
// Access pattern is single-writer/single-reader per direction:
// Write is called from the non-realtime side, Read and Reset from the
// realtime side. All operations return immediately.
type Handoff[T any] struct {
	slot atomic.Pointer[T]

	// fresh is set by Write and cleared by Read. It only feeds the
	// drop counter, so the slight race between it and the slot swap
	// costs at most one count, never a torn value.
	fresh  atomic.Bool
	writes atomic.Uint64
	drops  atomic.Uint64
}

// New creates an empty Handoff.
func New[T any]() *Handoff[T] {
	return &Handoff[T]{}
}

// Write replaces the slot content unconditionally. If the previous
// value was never read it is silently discarded and counted as a drop
// (at-most-one-pending semantics).
func (h *Handoff[T]) Write(v T) {
	if h.fresh.Swap(true) {
		h.drops.Add(1)
	}
	h.slot.Store(&v)
	h.writes.Add(1)
}

// Read returns the latest written value. The value is not consumed:
// repeated reads between writes return the same value. The second
// return is false if the slot is empty (never written, or Reset).
func (h *Handoff[T]) Read() (T, bool) {
	p := h.slot.Load()
	h.fresh.Store(false)
	if p == nil {
		var zero T
		return zero, false
	}
	return *p, true
}

// Reset clears the slot so that reads return empty until the next
// Write. Used when the controller re-enters a phase that expects a
// fresh command stream: a command written before the transition must
// not be replayed after it.
func (h *Handoff[T]) Reset() {
	h.slot.Store(nil)
	h.fresh.Store(false)
}

// Writes returns the total number of writes.
func (h *Handoff[T]) Writes() uint64 {
	return h.writes.Load()
}

// Drops returns the number of values overwritten before being read.
// Advisory: used for monitoring, not for control decisions.
func (h *Handoff[T]) Drops() uint64 {
	return h.drops.Load()
}
