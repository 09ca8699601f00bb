// File: internal/ioreg/registry.go
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0
//
// I/O readiness registry: descriptors with parked wakers, drained by one
// blocking ppoll. The registry is the single legitimate blocking point in
// the runtime; everything else either completes or parks here.

package ioreg

import (
	"encoding/binary"
	"runtime"
	"sync/atomic"

	"github.com/eapache/queue"

	"github.com/gundemirbas/async-nostd/api"
	"github.com/gundemirbas/async-nostd/internal/sys"
)

// Interest masks accepted by Park.
const (
	Readable = sys.POLLIN
	Writable = sys.POLLOUT
)

// deadMask marks a descriptor the kernel has given up on. Every waker for
// such a descriptor fires so its future observes the error on next poll.
const deadMask = sys.POLLERR | sys.POLLHUP | sys.POLLNVAL

// parkedWaiter is one waker with the interest bit it parked for. The
// drain step fires a waiter only when its own interest is satisfied, so a
// writer parked on an fd that merely turned readable stays parked.
type parkedWaiter struct {
	w        api.Waker
	interest int16
}

// entry collects the waiters parked on one descriptor. events is the
// union of the waiters' interests and is recomputed when waiters leave.
type entry struct {
	fd      int32
	events  int16
	waiters *queue.Queue // of parkedWaiter, FIFO
}

// Logf is the logging hook signature the registry accepts. A nil hook
// disables logging.
type Logf func(format string, args ...any)

// Registry maps descriptors to parked wakers and owns the eventfd used to
// interrupt its blocking poll from other threads.
type Registry struct {
	lk      spinLock
	entries []*entry
	eventfd int32
	logf    Logf
}

// New creates a registry and its eventfd. The eventfd exists before any
// worker starts and is shared for the life of the process.
func New(logf Logf) (*Registry, error) {
	efd := sys.Eventfd()
	if efd < 0 {
		return nil, api.Errno(-efd)
	}
	return &Registry{eventfd: int32(efd), logf: logf}, nil
}

func (r *Registry) log(format string, args ...any) {
	if r.logf != nil {
		r.logf(format, args...)
	}
}

// Park appends w to the waiters on (fd, interest). Re-parking the same
// task on the same (fd, interest) is deduplicated so a readiness
// transition wakes each parked task at most once per interest.
func (r *Registry) Park(fd int, interest int16, w api.Waker) {
	r.lk.lock()
	defer r.lk.unlock()
	for _, e := range r.entries {
		if e.fd != int32(fd) {
			continue
		}
		e.events |= interest
		for i := 0; i < e.waiters.Length(); i++ {
			pw := e.waiters.Get(i).(parkedWaiter)
			if pw.w.TaskHandle() == w.TaskHandle() && pw.interest&interest != 0 {
				return
			}
		}
		e.waiters.Add(parkedWaiter{w: w, interest: interest})
		return
	}
	q := queue.New()
	q.Add(parkedWaiter{w: w, interest: interest})
	r.entries = append(r.entries, &entry{fd: int32(fd), events: interest, waiters: q})
}

// Unpark drops every waker parked on fd, then signals the eventfd so a
// blocked drain refreshes its descriptor list. Tasks call it when they
// close a descriptor, so a recycled fd number cannot inherit stale wakers.
func (r *Registry) Unpark(fd int) {
	r.lk.lock()
	r.removeLocked(int32(fd))
	r.lk.unlock()
	r.log("[ppoll] removing closed fd=%d", fd)
	r.Signal()
}

// findLocked returns the entry for fd, if any. Caller holds the lock.
func (r *Registry) findLocked(fd int32) *entry {
	for _, e := range r.entries {
		if e.fd == fd {
			return e
		}
	}
	return nil
}

// removeLocked deletes the entry for fd. Caller holds the lock.
func (r *Registry) removeLocked(fd int32) *entry {
	for i, e := range r.entries {
		if e.fd == fd {
			last := len(r.entries) - 1
			r.entries[i] = r.entries[last]
			r.entries[last] = nil
			r.entries = r.entries[:last]
			return e
		}
	}
	return nil
}

// Parked returns the number of descriptors with at least one waiter.
func (r *Registry) Parked() int {
	r.lk.lock()
	defer r.lk.unlock()
	return len(r.entries)
}

// Signal makes a blocked DrainAndWake return by bumping the eventfd
// counter. Safe from any thread.
func (r *Registry) Signal() {
	var buf [8]byte
	binary.LittleEndian.PutUint64(buf[:], 1)
	sys.Write(int(r.eventfd), buf[:])
}

// DrainAndWake blocks in ppoll until a registered descriptor turns ready
// or the eventfd is signalled, then fires the corresponding wakers.
// Dead descriptors (POLLERR/POLLHUP/POLLNVAL) fire every waker parked on
// them and drop out of the registry; their futures surface the error on
// next poll. Wakers fire outside the lock.
func (r *Registry) DrainAndWake() {
	r.lk.lock()
	fds := make([]sys.PollFd, 0, len(r.entries)+1)
	fds = append(fds, sys.PollFd{Fd: r.eventfd, Events: sys.POLLIN})
	for _, e := range r.entries {
		fds = append(fds, sys.PollFd{Fd: e.fd, Events: e.events})
	}
	r.lk.unlock()

	r.log("[ppoll] monitoring %d fds", len(fds))
	n := sys.Ppoll(fds)
	if n <= 0 {
		// EINTR is a plain zero-ready wakeup; anything else is left to
		// the next drain.
		return
	}

	if fds[0].Revents&sys.POLLIN != 0 {
		r.drainEventfd()
	}

	var fired []api.Waker
	for _, pfd := range fds[1:] {
		if pfd.Revents == 0 {
			continue
		}
		dead := pfd.Revents&deadMask != 0
		if !dead && pfd.Revents&pfd.Events == 0 {
			continue
		}
		r.lk.lock()
		if dead {
			// The descriptor is gone: every waiter fires regardless of
			// interest, so its future observes the error on next poll.
			e := r.removeLocked(pfd.Fd)
			r.lk.unlock()
			if e == nil {
				continue
			}
			r.log("[ppoll] removing closed fd=%d", pfd.Fd)
			for e.waiters.Length() > 0 {
				fired = append(fired, e.waiters.Remove().(parkedWaiter).w)
			}
			continue
		}
		// Fire only the waiters whose own interest bit is satisfied; a
		// writer parked on a readable-only fd stays parked. The queue is
		// rotated once so survivors keep their FIFO order.
		e := r.findLocked(pfd.Fd)
		if e == nil {
			r.lk.unlock()
			continue
		}
		var remaining int16
		for n := e.waiters.Length(); n > 0; n-- {
			pw := e.waiters.Remove().(parkedWaiter)
			if pw.interest&pfd.Revents != 0 {
				fired = append(fired, pw.w)
				continue
			}
			e.waiters.Add(pw)
			remaining |= pw.interest
		}
		if e.waiters.Length() == 0 {
			r.removeLocked(pfd.Fd)
		} else {
			e.events = remaining
		}
		r.lk.unlock()
	}
	for _, w := range fired {
		w.Wake()
	}
}

// drainEventfd empties the counter. The eventfd is non-blocking because
// several workers may race here after the same batch.
func (r *Registry) drainEventfd() {
	var buf [8]byte
	for sys.Read(int(r.eventfd), buf[:]) > 0 {
	}
}

// spinLock is a minimal test-and-set lock, held only for list
// manipulation, never across a syscall.
type spinLock struct {
	state atomic.Bool
}

func (l *spinLock) lock() {
	for !l.state.CompareAndSwap(false, true) {
		runtime.Gosched()
	}
}

func (l *spinLock) unlock() { l.state.Store(false) }
