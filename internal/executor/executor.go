// File: internal/executor/executor.go
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0
//
// Worker pool driving the scheduler. Each worker drains the ready stack
// and, when it comes up empty, blocks in the registry's ppoll until a
// descriptor turns ready or a wake signals the eventfd.

package executor

import (
	"sync"
	"sync/atomic"

	"github.com/gundemirbas/async-nostd/internal/ioreg"
	"github.com/gundemirbas/async-nostd/internal/sched"
	"github.com/gundemirbas/async-nostd/internal/sys"
)

// DefaultWorkers is the worker-pool size when the caller does not choose one.
const DefaultWorkers = 16

// Executor owns the worker pool over one scheduler/registry pair.
type Executor struct {
	sched   *sched.Scheduler
	reg     *ioreg.Registry
	workers int

	// exitWhenIdle makes workers return once no task is live and the
	// ready stack is empty. Serving deployments leave it off: an idle
	// worker then parks in ppoll on the eventfd alone and resumes when
	// the acceptor registers the next connection.
	exitWhenIdle bool

	stopped atomic.Bool
	wg      sync.WaitGroup
}

// Option configures an Executor.
type Option func(*Executor)

// WithWorkers sets the worker-pool size.
func WithWorkers(n int) Option {
	return func(e *Executor) {
		if n > 0 {
			e.workers = n
		}
	}
}

// WithExitWhenIdle makes Run return once all tasks have completed.
func WithExitWhenIdle() Option {
	return func(e *Executor) { e.exitWhenIdle = true }
}

// New wires an executor over s and reg, attaching the registry's eventfd
// signal to the scheduler's wake path.
func New(s *sched.Scheduler, reg *ioreg.Registry, opts ...Option) *Executor {
	e := &Executor{sched: s, reg: reg, workers: DefaultWorkers}
	for _, opt := range opts {
		opt(e)
	}
	s.SetNotify(reg.Signal)
	return e
}

// Scheduler returns the executor's scheduler.
func (e *Executor) Scheduler() *sched.Scheduler { return e.sched }

// Registry returns the executor's I/O registry.
func (e *Executor) Registry() *ioreg.Registry { return e.reg }

// Run starts workers 1..n-1 on their own threads and turns the calling
// thread into worker zero. It returns when the workers return: on Stop,
// or — with exit-when-idle — once the last task completes.
func (e *Executor) Run() {
	for i := 1; i < e.workers; i++ {
		e.wg.Add(1)
		sys.SpawnThread(func() {
			defer e.wg.Done()
			e.workerLoop()
		})
	}
	e.workerLoop()
	e.wg.Wait()
}

// Stop makes every worker return after its current drain. The eventfd is
// signalled once per worker, and every worker that returns signals it once
// more, so none stays parked in ppoll even when one drain consumed the
// whole counter.
func (e *Executor) Stop() {
	if e.stopped.CompareAndSwap(false, true) {
		for i := 0; i < e.workers; i++ {
			e.reg.Signal()
		}
	}
}

// workerLoop: pop a ready handle and poll it, otherwise block in the
// drain step, otherwise return.
func (e *Executor) workerLoop() {
	for {
		if e.stopped.Load() {
			// A drain reads the whole eventfd counter; pass the wake on
			// to workers still parked in ppoll.
			e.reg.Signal()
			return
		}
		if h, ok := e.sched.TakeReady(); ok {
			e.sched.PollOne(h)
			continue
		}
		if e.sched.LiveCount() > 0 || !e.exitWhenIdle {
			e.reg.DrainAndWake()
			continue
		}
		// Idle and draining down: one last look at the ready stack in
		// case a racing wake slipped in after the live count dropped.
		if h, ok := e.sched.TakeReady(); ok {
			e.sched.PollOne(h)
			continue
		}
		// Other workers may still be parked; let them re-evaluate.
		e.reg.Signal()
		return
	}
}
