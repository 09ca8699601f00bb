// File: internal/sched/stack.go
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0
//
// Ready stack: a Treiber stack of task handles with a bounded free-list
// of nodes. The head is updated by CAS; pops and the free-list are
// serialised by short spin guards. Nodes live in the arena mapping, never in the Go
// heap, so pushing and popping never allocates after the free-list warms
// up; nodes evicted past the free-list bound are simply leaked back to
// the arena.

package sched

import (
	"sync/atomic"
	"unsafe"

	"github.com/gundemirbas/async-nostd/api"
	"github.com/gundemirbas/async-nostd/internal/arena"
)

// freelistMax bounds the node free-list. Nodes freed past the bound are
// abandoned in the arena.
const freelistMax = 256

type node struct {
	handle api.Handle
	next   *node
}

// readyStack is the LIFO of scheduled handles plus its node free-list.
//
// Pushes take the free-list spin guard only to obtain a node, then splice
// it in with a CAS loop, so Wake stays safe to call from any thread. Pops
// serialise on a separate short spin guard: node reuse through the
// free-list makes a concurrent-popper CAS vulnerable to ABA, and a single
// popper at a time closes that window without taking the pop guard on the
// push path. Neither the free-list nor pops are lock-free.
type readyStack struct {
	head      atomic.Pointer[node]
	popLk     spinLock
	free      atomic.Pointer[node]
	freeLk    spinLock
	freeCount atomic.Int32
	heap      *arena.Arena
}

func newReadyStack(heap *arena.Arena) *readyStack {
	return &readyStack{heap: heap}
}

// allocNode pops the free-list, falling back to a fresh arena allocation.
func (r *readyStack) allocNode(h api.Handle) *node {
	r.freeLk.lock()
	head := r.free.Load()
	if head != nil {
		r.free.Store(head.next)
		r.freeCount.Add(-1)
		r.freeLk.unlock()
		head.handle = h
		head.next = nil
		return head
	}
	r.freeLk.unlock()
	n := (*node)(r.heap.MustAlloc(unsafe.Sizeof(node{}), unsafe.Alignof(node{})))
	n.handle = h
	n.next = nil
	return n
}

// freeNode returns a node to the free-list, or leaks it when the list is
// at its bound.
func (r *readyStack) freeNode(n *node) {
	r.freeLk.lock()
	if r.freeCount.Load() >= freelistMax {
		r.freeLk.unlock()
		return
	}
	n.next = r.free.Load()
	r.free.Store(n)
	r.freeCount.Add(1)
	r.freeLk.unlock()
}

// push adds a handle on top of the stack.
func (r *readyStack) push(h api.Handle) {
	n := r.allocNode(h)
	for {
		head := r.head.Load()
		n.next = head
		if r.head.CompareAndSwap(head, n) {
			return
		}
	}
}

// pop removes and returns the most recently pushed handle.
func (r *readyStack) pop() (api.Handle, bool) {
	r.popLk.lock()
	for {
		head := r.head.Load()
		if head == nil {
			r.popLk.unlock()
			return api.InvalidHandle, false
		}
		// CAS instead of a plain store: pushers are not serialised by
		// the pop guard and may splice a new head at any moment.
		if r.head.CompareAndSwap(head, head.next) {
			r.popLk.unlock()
			h := head.handle
			r.freeNode(head)
			return h, true
		}
	}
}
