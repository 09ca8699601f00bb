// File: internal/sched/sched.go
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0
//
// Fixed-capacity task scheduler: a table of generation-counted slots, a
// CAS-linked ready stack of handles, and handle-based wakers. Slots own
// their futures; wakers carry handles only, so a completed slot can be
// freed while stale wakers are still in the wild.

package sched

import (
	"sync/atomic"

	"github.com/gundemirbas/async-nostd/api"
	"github.com/gundemirbas/async-nostd/internal/arena"
)

// DefaultSlots is the capacity of the slot table.
const DefaultSlots = 1024

// Slot state tags. A slot moves empty -> live on register, live ->
// scheduled on wake, scheduled -> polling while a worker drives its
// future, then back to live (pending) or empty (ready).
//
// statePollingWoken is polling with a wake coalesced on top: the waker
// fired while a worker held the slot, and the worker reschedules the task
// itself once the poll returns pending.
const (
	stateEmpty uint32 = iota
	stateLive
	stateScheduled
	statePolling
	statePollingWoken
)

// PollResult is the outcome of PollOne.
type PollResult uint8

const (
	// PollInvalid means the handle did not refer to a schedulable task.
	PollInvalid PollResult = iota
	// PollPending means the future parked and the slot returned to live.
	PollPending
	// PollReady means the future completed and the slot was freed.
	PollReady
)

type slot struct {
	state atomic.Uint32
	gen   atomic.Uint32
	fut   api.Future // owned while gen is odd; guarded by the state tag
}

// Scheduler is the fixed-capacity task table plus its ready stack.
type Scheduler struct {
	slots  []slot
	ready  *readyStack
	live   atomic.Int64
	notify func()
}

// New builds a scheduler with the given slot capacity, allocating its
// ready-stack nodes from heap. notify is invoked after every push on the
// ready stack; the executor wires it to the I/O registry's eventfd so a
// wake from any thread unblocks a parked ppoll.
func New(capacity int, heap *arena.Arena, notify func()) *Scheduler {
	if capacity <= 0 {
		capacity = DefaultSlots
	}
	if notify == nil {
		notify = func() {}
	}
	return &Scheduler{
		slots:  make([]slot, capacity),
		ready:  newReadyStack(heap),
		notify: notify,
	}
}

// Cap returns the slot table capacity.
func (s *Scheduler) Cap() int { return len(s.slots) }

// LiveCount returns the number of occupied slots.
func (s *Scheduler) LiveCount() int { return int(s.live.Load()) }

// Register stores fut in an empty slot and returns its handle. The caller
// still has to Wake the handle for the task to run. When every slot is
// occupied Register returns InvalidHandle and the caller owns the dropped
// future's resources.
func (s *Scheduler) Register(fut api.Future) api.Handle {
	if fut == nil {
		return api.InvalidHandle
	}
	for i := range s.slots {
		sl := &s.slots[i]
		// Claim through the polling tag so no waker can observe a
		// half-initialised live slot.
		if !sl.state.CompareAndSwap(stateEmpty, statePolling) {
			continue
		}
		sl.fut = fut
		gen := sl.gen.Add(1) // even -> odd
		sl.state.Store(stateLive)
		s.live.Add(1)
		return api.NewHandle(uint32(i), gen)
	}
	return api.InvalidHandle
}

// Spawn registers fut and immediately wakes it.
func (s *Scheduler) Spawn(fut api.Future) api.Handle {
	h := s.Register(fut)
	if h != api.InvalidHandle {
		s.Wake(h)
	}
	return h
}

// validate reports whether h refers to the slot's current occupant.
func (s *Scheduler) validate(h api.Handle) (*slot, bool) {
	if !h.Valid() {
		return nil, false
	}
	idx := int(h.Index())
	if idx >= len(s.slots) {
		return nil, false
	}
	sl := &s.slots[idx]
	if sl.gen.Load() != h.Generation() {
		return nil, false
	}
	return sl, true
}

// Wake schedules the task h refers to. Stale handles are ignored; waking a
// task that is already scheduled is a no-op; a wake landing while a worker
// is polling the task is coalesced and replayed when the poll finishes.
func (s *Scheduler) Wake(h api.Handle) {
	sl, ok := s.validate(h)
	if !ok {
		return
	}
	for {
		switch sl.state.Load() {
		case stateLive:
			if sl.state.CompareAndSwap(stateLive, stateScheduled) {
				// The slot may have been freed and re-registered
				// between validate and the CAS. Push whatever
				// generation occupies it now: the worst case is a
				// spurious wake of the new occupant, which futures
				// tolerate.
				cur := sl.gen.Load()
				if cur&1 == 1 && cur != h.Generation() {
					h = api.NewHandle(h.Index(), cur)
				}
				s.ready.push(h)
				s.notify()
				return
			}
		case statePolling:
			if sl.state.CompareAndSwap(statePolling, statePollingWoken) {
				return
			}
		default:
			// empty, scheduled, or already coalesced: nothing to do.
			return
		}
	}
}

// TakeReady pops the most recently scheduled handle.
func (s *Scheduler) TakeReady() (api.Handle, bool) {
	return s.ready.pop()
}

// PollOne drives the task behind h through one poll. Only handles in the
// scheduled state are accepted, which is what guarantees a single poller
// per task: the scheduled -> polling transition can succeed on exactly one
// worker.
func (s *Scheduler) PollOne(h api.Handle) PollResult {
	sl, ok := s.validate(h)
	if !ok {
		return PollInvalid
	}
	if !sl.state.CompareAndSwap(stateScheduled, statePolling) {
		return PollInvalid
	}
	if sl.gen.Load() != h.Generation() {
		// Lost a reuse race after the state transition; hand the slot
		// back as scheduled so the rightful wake is not swallowed.
		sl.state.Store(stateScheduled)
		return PollInvalid
	}

	fut := sl.fut
	cx := api.NewContext(&waker{sched: s, handle: h})
	if fut.Poll(cx) == api.Ready {
		sl.fut = nil
		sl.gen.Add(1) // odd -> even
		sl.state.Store(stateEmpty)
		s.live.Add(-1)
		return PollReady
	}

	if sl.state.CompareAndSwap(statePolling, stateLive) {
		return PollPending
	}
	// A wake was coalesced during the poll: reschedule ourselves.
	sl.state.Store(stateScheduled)
	s.ready.push(h)
	s.notify()
	return PollPending
}

// waker is the handle-carrying callable parked with the I/O registry.
type waker struct {
	sched  *Scheduler
	handle api.Handle
}

func (w *waker) Wake()                  { w.sched.Wake(w.handle) }
func (w *waker) TaskHandle() api.Handle { return w.handle }

// NewWaker builds a waker for h, for callers outside the poll path that
// need to schedule a task (the acceptor, tests).
func (s *Scheduler) NewWaker(h api.Handle) api.Waker {
	return &waker{sched: s, handle: h}
}

// The process-global scheduler, lazily initialised with a one-shot CAS so
// two racing threads produce exactly one instance.
var defaultSched atomic.Pointer[Scheduler]

// Default returns the process-global scheduler backed by the default
// arena. The global instance has no notify hook; executors built on it
// attach their registry's signal through SetNotify.
func Default() *Scheduler {
	if s := defaultSched.Load(); s != nil {
		return s
	}
	s := New(DefaultSlots, arena.Default(), nil)
	if !defaultSched.CompareAndSwap(nil, s) {
		return defaultSched.Load()
	}
	return s
}

// SetNotify replaces the push notification hook. Must be called before any
// task is registered.
func (s *Scheduler) SetNotify(fn func()) {
	if fn == nil {
		fn = func() {}
	}
	s.notify = fn
}
