// File: internal/arena/arena.go
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0
//
// Bump allocator over one anonymous mapping. Allocation advances an atomic
// offset by CAS; freeing is a no-op. The default arena backs the
// scheduler's ready-stack nodes for the life of the process.

package arena

import (
	"sync/atomic"
	"unsafe"

	"github.com/gundemirbas/async-nostd/api"
	"github.com/gundemirbas/async-nostd/internal/sys"
)

// DefaultHeapSize is the size of the process-global arena mapping.
const DefaultHeapSize = 16 * 1024 * 1024

// Arena is a bump allocator over a single mapped region. Allocated ranges
// are pairwise disjoint and never reclaimed.
type Arena struct {
	data   []byte
	offset atomic.Uint64
}

// New maps size bytes of anonymous memory and returns an arena over it.
func New(size int) (*Arena, error) {
	b, err := sys.MmapAnon(size)
	if err != nil {
		return nil, err
	}
	return &Arena{data: b}, nil
}

// Alloc carves size bytes aligned to align out of the mapping. Returns nil
// when the mapping is exhausted. align must be a power of two no larger
// than a page; the mapping itself is page-aligned, so aligning the offset
// aligns the pointer.
func (a *Arena) Alloc(size, align uintptr) unsafe.Pointer {
	if size == 0 {
		return nil
	}
	for {
		cur := uintptr(a.offset.Load())
		aligned := (cur + align - 1) &^ (align - 1)
		next := aligned + size
		if next > uintptr(len(a.data)) {
			return nil
		}
		if a.offset.CompareAndSwap(uint64(cur), uint64(next)) {
			return unsafe.Add(unsafe.Pointer(unsafe.SliceData(a.data)), aligned)
		}
	}
}

// Used returns the number of bytes handed out so far, padding included.
func (a *Arena) Used() int { return int(a.offset.Load()) }

// Cap returns the total size of the mapping.
func (a *Arena) Cap() int { return len(a.data) }

// The process-global arena. Initialisation is lazy and idempotent under
// race: losers of the CAS close over the winner's mapping.
var defaultArena atomic.Pointer[Arena]

// Default returns the process-global arena, mapping it on first use.
// Mapping failure is fatal: the runtime cannot operate without its heap.
func Default() *Arena {
	if a := defaultArena.Load(); a != nil {
		return a
	}
	a, err := New(DefaultHeapSize)
	if err != nil {
		sys.Fatalf("arena: %v", err)
	}
	if !defaultArena.CompareAndSwap(nil, a) {
		// Another thread won the race; its mapping is the arena. Ours
		// stays mapped and unused, which the no-release model permits.
		return defaultArena.Load()
	}
	return a
}

// MustAlloc is Alloc for callers with no recovery path. Exhaustion of the
// process-global heap is fatal by design.
func (a *Arena) MustAlloc(size, align uintptr) unsafe.Pointer {
	p := a.Alloc(size, align)
	if p == nil {
		sys.Fatalf("arena: %v (%d of %d bytes used)", api.ErrArenaExhausted, a.Used(), a.Cap())
	}
	return p
}
