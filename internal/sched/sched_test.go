// Copyright 2025 momentics@gmail.com
// Licensed under the Apache License, Version 2.0.

// sched_test.go — scheduler semantics: registration and saturation, wake
// coalescing, stale-handle wakes, generation lifecycle, poll exclusivity.

package sched_test

import (
	"sync"
	"sync/atomic"
	"testing"

	"github.com/gundemirbas/async-nostd/api"
	"github.com/gundemirbas/async-nostd/internal/arena"
	"github.com/gundemirbas/async-nostd/internal/sched"
)

func newSched(t *testing.T, slots int) *sched.Scheduler {
	t.Helper()
	heap, err := arena.New(1 << 18)
	if err != nil {
		t.Fatalf("arena: %v", err)
	}
	return sched.New(slots, heap, nil)
}

// stubFuture counts polls and returns a scripted sequence of statuses.
type stubFuture struct {
	mu     sync.Mutex
	script []api.Status
	polls  int
	waker  api.Waker
}

func (f *stubFuture) Poll(cx *api.Context) api.Status {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.waker = cx.Waker()
	st := api.Ready
	if f.polls < len(f.script) {
		st = f.script[f.polls]
	}
	f.polls++
	return st
}

func (f *stubFuture) pollCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.polls
}

func (f *stubFuture) lastWaker() api.Waker {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.waker
}

func runReady(t *testing.T, s *sched.Scheduler) int {
	t.Helper()
	n := 0
	for {
		h, ok := s.TakeReady()
		if !ok {
			return n
		}
		s.PollOne(h)
		n++
	}
}

func TestRegisterWakePollCompletes(t *testing.T) {
	s := newSched(t, 8)
	f := &stubFuture{}
	h := s.Spawn(f)
	if h == api.InvalidHandle {
		t.Fatal("Spawn returned invalid handle")
	}
	if s.LiveCount() != 1 {
		t.Fatalf("LiveCount = %d, want 1", s.LiveCount())
	}

	got, ok := s.TakeReady()
	if !ok || got != h {
		t.Fatalf("TakeReady = (%v,%v), want (%v,true)", got, ok, h)
	}
	if res := s.PollOne(got); res != sched.PollReady {
		t.Fatalf("PollOne = %v, want PollReady", res)
	}
	if s.LiveCount() != 0 {
		t.Fatalf("LiveCount = %d after completion, want 0", s.LiveCount())
	}
	if f.pollCount() != 1 {
		t.Fatalf("future polled %d times, want 1", f.pollCount())
	}
}

func TestSaturationAndRecovery(t *testing.T) {
	const slots = 8
	s := newSched(t, slots)

	handles := make([]api.Handle, 0, slots)
	for i := 0; i < slots; i++ {
		h := s.Register(&stubFuture{script: []api.Status{api.Pending}})
		if h == api.InvalidHandle {
			t.Fatalf("register %d failed below capacity", i)
		}
		handles = append(handles, h)
	}
	if h := s.Register(&stubFuture{}); h != api.InvalidHandle {
		t.Fatal("register above capacity succeeded")
	}
	if s.LiveCount() != slots {
		t.Fatalf("LiveCount = %d, want %d", s.LiveCount(), slots)
	}

	// Complete one occupant; registration must succeed again.
	s.Wake(handles[0])
	if h, ok := s.TakeReady(); !ok || s.PollOne(h) != sched.PollPending {
		t.Fatal("expected first task to poll pending")
	}
	// Second poll completes it (script exhausted -> Ready).
	s.Wake(handles[0])
	if h, ok := s.TakeReady(); !ok || s.PollOne(h) != sched.PollReady {
		t.Fatal("expected first task to complete")
	}
	if h := s.Register(&stubFuture{}); h == api.InvalidHandle {
		t.Fatal("register failed after a slot freed")
	}
}

func TestWakeCoalesces(t *testing.T) {
	s := newSched(t, 4)
	f := &stubFuture{script: []api.Status{api.Pending, api.Pending}}
	h := s.Register(f)

	s.Wake(h)
	s.Wake(h)
	s.Wake(h)
	if n := runReady(t, s); n != 1 {
		t.Fatalf("polled %d times for coalesced wakes, want 1", n)
	}
	if f.pollCount() != 1 {
		t.Fatalf("future polled %d times, want 1", f.pollCount())
	}
}

func TestStaleWakeIgnored(t *testing.T) {
	s := newSched(t, 4)
	f := &stubFuture{script: []api.Status{api.Pending}}
	h := s.Spawn(f)
	runReady(t, s) // pending: waker captured, slot back to live
	stale := f.lastWaker()

	// Complete the task.
	s.Wake(h)
	runReady(t, s)
	if s.LiveCount() != 0 {
		t.Fatal("task did not complete")
	}

	// Reuse the slot with a new occupant.
	g := &stubFuture{}
	h2 := s.Register(g)
	if h2.Index() != h.Index() {
		t.Skipf("slot not reused (got %d, want %d)", h2.Index(), h.Index())
	}
	if h2.Generation() == h.Generation() {
		t.Fatal("generation did not advance on reuse")
	}

	// The stale waker must not schedule the new occupant.
	stale.Wake()
	if n := runReady(t, s); n != 0 {
		t.Fatalf("stale wake scheduled %d polls, want 0", n)
	}
	if g.pollCount() != 0 {
		t.Fatalf("new occupant polled %d times by stale wake, want 0", g.pollCount())
	}
}

func TestGenerationAdvancesAcrossLifecycle(t *testing.T) {
	s := newSched(t, 1)
	var lastGen uint32
	for i := 0; i < 5; i++ {
		h := s.Spawn(&stubFuture{})
		if h == api.InvalidHandle {
			t.Fatalf("round %d: register failed", i)
		}
		if h.Generation()&1 != 1 {
			t.Fatalf("round %d: live generation %d is even", i, h.Generation())
		}
		if i > 0 && h.Generation() <= lastGen {
			t.Fatalf("round %d: generation %d did not advance past %d", i, h.Generation(), lastGen)
		}
		lastGen = h.Generation()
		runReady(t, s)
	}
}

// TestWakeDuringPollReschedules exercises the coalescing path where a wake
// lands while the worker holds the slot in the polling state.
func TestWakeDuringPollReschedules(t *testing.T) {
	s := newSched(t, 4)

	inPoll := make(chan struct{})
	release := make(chan struct{})
	f := &selfWakeFuture{inPoll: inPoll, release: release}
	h := s.Spawn(f)

	done := make(chan struct{})
	go func() {
		defer close(done)
		hh, ok := s.TakeReady()
		if !ok {
			t.Error("no ready handle")
			return
		}
		s.PollOne(hh)
	}()

	<-inPoll
	s.Wake(h) // lands in the polling state
	close(release)
	<-done

	// The coalesced wake must have rescheduled the task.
	if n := runReady(t, s); n != 1 {
		t.Fatalf("rescheduled polls = %d, want 1", n)
	}
}

type selfWakeFuture struct {
	inPoll  chan struct{}
	release chan struct{}
	polls   atomic.Int32
}

func (f *selfWakeFuture) Poll(cx *api.Context) api.Status {
	if f.polls.Add(1) == 1 {
		close(f.inPoll)
		<-f.release
		return api.Pending
	}
	return api.Ready
}

func TestDefaultSchedulerSingleton(t *testing.T) {
	var wg sync.WaitGroup
	got := make([]*sched.Scheduler, 8)
	for i := range got {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			got[i] = sched.Default()
		}(i)
	}
	wg.Wait()
	for i := 1; i < len(got); i++ {
		if got[i] != got[0] {
			t.Fatal("racing Default calls produced distinct schedulers")
		}
	}
	if got[0].Cap() != sched.DefaultSlots {
		t.Fatalf("default capacity = %d, want %d", got[0].Cap(), sched.DefaultSlots)
	}
}

func TestConcurrentWakeStorm(t *testing.T) {
	const tasks = 256
	s := newSched(t, tasks)

	futs := make([]*stubFuture, tasks)
	handles := make([]api.Handle, tasks)
	for i := range futs {
		futs[i] = &stubFuture{}
		handles[i] = s.Register(futs[i])
		if handles[i] == api.InvalidHandle {
			t.Fatalf("register %d failed", i)
		}
	}

	var wg sync.WaitGroup
	for _, h := range handles {
		wg.Add(1)
		go func(h api.Handle) {
			defer wg.Done()
			s.Wake(h)
		}(h)
	}
	wg.Wait()

	var polled atomic.Int64
	var workers sync.WaitGroup
	for w := 0; w < 4; w++ {
		workers.Add(1)
		go func() {
			defer workers.Done()
			for {
				h, ok := s.TakeReady()
				if !ok {
					return
				}
				if s.PollOne(h) == sched.PollReady {
					polled.Add(1)
				}
			}
		}()
	}
	workers.Wait()

	if polled.Load() != tasks {
		t.Fatalf("completed %d tasks, want %d", polled.Load(), tasks)
	}
	for i, f := range futs {
		if f.pollCount() != 1 {
			t.Fatalf("task %d polled %d times, want exactly 1", i, f.pollCount())
		}
	}
	if s.LiveCount() != 0 {
		t.Fatalf("LiveCount = %d after storm, want 0", s.LiveCount())
	}
}
