package colosseum

import (
	"sync/atomic"
	"unsafe"

	"github.com/dolthub/maphash"
	"github.com/timandy/routine"

	"github.com/flier/colosseum/internal/debug"
)

// Colosseum is a sharded, concurrent heap allocator. The zero value is not
// usable; construct one with New.
type Colosseum struct {
	pages pageSource

	arenas    [arenaMax]*arena
	liveCount atomic.Int32

	queue      *handoffQueue
	barrier    *barrier
	state      atomic.Int32
	unmapToken atomic.Bool

	workerDone chan struct{}
	goidHasher maphash.Hasher[uint64]
}

// New constructs a Colosseum and starts its background maintenance
// goroutine. Callers that want a private instance instead of the package
// default use this directly; most callers use the package-level Allocate /
// Free / Reallocate, backed by the instance init creates automatically.
func New() *Colosseum {
	c := &Colosseum{
		pages:      osPages{},
		queue:      &handoffQueue{},
		barrier:    newBarrier(),
		workerDone: make(chan struct{}),
		goidHasher: maphash.NewHasher[uint64](),
	}
	for i := range c.arenas {
		c.arenas[i] = &arena{}
	}
	c.liveCount.Store(1)
	c.unmapToken.Store(true)

	go c.runMaintenance()

	return c
}

// Shutdown stops the background maintenance goroutine after it has drained
// any pending frees, and blocks until it has exited. Go has no equivalent
// of an automatic destructor, so callers are expected to invoke this
// explicitly (e.g. via a deferred call in main) before process exit.
func (c *Colosseum) Shutdown() {
	c.barrier.requestShutdown()
	<-c.workerDone
}

// State reports the maintenance worker's current phase, for tests and
// diagnostics.
func (c *Colosseum) State() string {
	return workerState(c.state.Load()).String()
}

// liveArenas returns the currently active shard set.
func (c *Colosseum) liveArenas() []*arena {
	n := c.liveCount.Load()
	return c.arenas[:n]
}

// growArenas doubles the live shard count, capped at arenaMax, giving the
// allocator more parallelism once the existing shards are seeing traffic.
func (c *Colosseum) growArenas() {
	for {
		cur := c.liveCount.Load()
		if cur >= arenaMax {
			return
		}
		next := cur * arenaMultiplier
		if next > arenaMax {
			next = arenaMax
		}
		if next == cur {
			next = cur + 1
		}
		if c.liveCount.CompareAndSwap(cur, next) {
			debug.Log(nil, "colosseum.growArenas", "%d -> %d arenas", cur, next)
			return
		}
	}
}

// scanStart picks which arena a mutator should start scanning from,
// spreading goroutines across shards by hashing the calling goroutine's id
// rather than always starting at arena 0 and piling contention onto the
// first few shards.
func (c *Colosseum) scanStart(n int) int {
	if n <= 1 {
		return 0
	}
	id := uint64(routine.Goid())
	h := c.goidHasher.Hash(id)
	return int(h % uint64(n))
}

// Allocate returns a pointer to size usable bytes, or ErrOutOfMemory if the
// host cannot map more pages. Requests smaller than nodeSize-headerSize
// bytes (including 0) are rounded up to that size, so that the block can
// hold a free node once it is freed; requesting 0 bytes therefore returns a
// distinct, freeable pointer with no identity guarantee beyond being valid
// to Free exactly once.
func (c *Colosseum) Allocate(size uintptr) (unsafe.Pointer, error) {
	if minSize := nodeSize - headerSize; size < minSize {
		size = minSize
	}

	total := size + headerSize
	if total >= pageSize {
		return c.mapLarge(size)
	}

	arenas := c.liveArenas()
	start := c.scanStart(len(arenas))
	for i := range arenas {
		a := arenas[(start+i)%len(arenas)]
		if p, ok := a.tryCarve(total); ok {
			h := headerAt(p)
			h.size = size
			return unsafe.Add(p, int(headerSize)), nil
		}
	}

	return c.mapFreshSmall(size)
}

// mapLarge maps a request too big to carve out of an arena directly; the
// whole mapping belongs to this one allocation, with no leftover tracked.
func (c *Colosseum) mapLarge(size uintptr) (unsafe.Pointer, error) {
	total := size + headerSize
	pages := divUp(total, pageSize)

	p, err := c.pages.mapPages(pages)
	if err != nil {
		return nil, mapError("mmap", pages, err)
	}
	c.noteFreshMap()

	h := headerAt(p)
	h.size = size
	return unsafe.Add(p, int(headerSize)), nil
}

// mapFreshSmall maps fresh pages to satisfy a small request that missed
// every arena, adding one more page when the leftover would be too small to
// hold a free node, and queues the leftover space for the maintenance
// worker to pick up.
func (c *Colosseum) mapFreshSmall(size uintptr) (unsafe.Pointer, error) {
	total := size + headerSize
	pages := divUp(total, pageSize)
	if pages*pageSize-total < nodeSize+1 {
		pages++
	}
	bytes := pages * pageSize

	p, err := c.pages.mapPages(pages)
	if err != nil {
		return nil, mapError("mmap", pages, err)
	}
	c.noteFreshMap()
	c.growArenas()

	h := headerAt(p)
	h.size = size

	leftover := bytes - total
	if leftover >= nodeSize+1 {
		n := nodeAt(unsafe.Add(p, int(total)))
		n.size = leftover - nodeSize
		c.queue.enqueue(n)
		c.barrier.signalFree()
	}

	return unsafe.Add(p, int(headerSize)), nil
}

// Free releases a pointer previously returned by Allocate or Reallocate.
// Freeing anything else, double-freeing, or using the pointer afterward is
// undefined behavior.
func (c *Colosseum) Free(ptr unsafe.Pointer) {
	base := unsafe.Add(ptr, -int(headerSize))
	h := headerAt(base)
	size := h.size
	total := size + headerSize

	if total >= pageSize {
		pages := divUp(total, pageSize)
		if err := c.pages.unmapPages(base, pages); err != nil {
			debug.Log(nil, "colosseum.Free", "munmap failed: %v", err)
		}
		return
	}

	n := nodeAt(base)
	n.size = total - nodeSize
	c.queue.enqueue(n)
	c.barrier.signalFree()
}

// Reallocate resizes the allocation at ptr to newSize, preserving the
// lesser of the old and new sizes' worth of content. The returned pointer
// may differ from ptr; ptr must not be used afterward except as the value
// returned.
func (c *Colosseum) Reallocate(ptr unsafe.Pointer, newSize uintptr) (unsafe.Pointer, error) {
	if minSize := nodeSize - headerSize; newSize < minSize {
		newSize = minSize
	}

	base := unsafe.Add(ptr, -int(headerSize))
	h := headerAt(base)
	oldSize := h.size

	switch {
	case newSize == oldSize:
		return ptr, nil

	case oldSize >= newSize+nodeSize+1:
		// Shrinking with enough slack left over to form a free node in
		// place: no new allocation is made, and the tail is queued on the
		// handoff queue as a free node.
		remainder := oldSize - newSize
		h.size = newSize

		n := nodeAt(unsafe.Add(ptr, int(newSize)))
		n.size = remainder - nodeSize
		c.queue.enqueue(n)
		c.barrier.signalFree()
		return ptr, nil

	default:
		// Either growing, or shrinking without enough slack to bother
		// splitting: allocate fresh, copy, free the old block.
		next, err := c.Allocate(newSize)
		if err != nil {
			return nil, err
		}

		copySize := oldSize
		if newSize < copySize {
			copySize = newSize
		}
		copy(unsafe.Slice((*byte)(next), int(copySize)), unsafe.Slice((*byte)(ptr), int(copySize)))

		c.Free(ptr)
		return next, nil
	}
}
