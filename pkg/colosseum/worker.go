package colosseum

import (
	"github.com/flier/colosseum/internal/debug"
)

// workerState is observable maintenance-worker progress, exposed for tests
// and diagnostics. The zero value is workerIdle.
type workerState int32

const (
	workerIdle workerState = iota
	workerDistributing
	workerSorting
	workerMerging
	workerCoalescing
	workerReleasing
	workerStopped
)

func (s workerState) String() string {
	switch s {
	case workerIdle:
		return "idle"
	case workerDistributing:
		return "distributing"
	case workerSorting:
		return "sorting"
	case workerMerging:
		return "merging"
	case workerCoalescing:
		return "coalescing"
	case workerReleasing:
		return "releasing"
	case workerStopped:
		return "stopped"
	default:
		return "unknown"
	}
}

// runMaintenance is the background goroutine's body. It never blocks on an
// arena lock: every step is a TryLock, so a busy mutator arena is simply
// skipped for this pass and revisited on the next wakeup.
func (c *Colosseum) runMaintenance() {
	defer close(c.workerDone)

	for {
		if !c.barrier.waitForWork() {
			c.state.Store(int32(workerStopped))
			debug.Log(nil, "worker", "stopped")
			return
		}

		if c.barrier.pendingAfterShutdown() {
			debug.Log(nil, "worker", "draining pending frees before shutdown")
		}

		c.distribute()
		c.sortArenas()
		c.mergeArenas()
		c.coalesceArenas()
		c.releasePages()

		c.state.Store(int32(workerIdle))
	}
}

// distribute drains the handoff queue and appends each node to a live arena
// chosen by placeInArena. It does not change the number of live arenas.
func (c *Colosseum) distribute() {
	c.state.Store(int32(workerDistributing))

	if c.queue.empty() {
		return
	}

	head := c.queue.drain()
	if head == nil {
		return
	}

	var n uintptr
	for node := head; node != nil; {
		next := node.next
		c.placeInArena(node)
		n++
		node = next
	}

	c.barrier.markPlaced(n)
	debug.Log(nil, "worker.distribute", "placed %d node(s)", n)
}

// placeInArena appends n to whichever live arena currently holds the least
// total free space, try-locking each in turn so a busy arena is skipped
// rather than stalling the whole pass.
func (c *Colosseum) placeInArena(n *freeNode) {
	arenas := c.liveArenas()

	var best *arena
	var bestSize uintptr
	for _, a := range arenas {
		if !a.mu.TryLock() {
			continue
		}
		if best == nil || a.size < bestSize {
			if best != nil {
				best.mu.Unlock()
			}
			best, bestSize = a, a.size
			continue
		}
		a.mu.Unlock()
	}

	if best == nil {
		// Every arena was contended; keep try-locking them in turn until one
		// is free, so the node is not lost and no arena lock is waited on.
		for i := 0; best == nil; i = (i + 1) % len(arenas) {
			if arenas[i].mu.TryLock() {
				best = arenas[i]
			}
		}
	}
	best.append(n)
	best.mu.Unlock()
}

// sortArenas orders each arena's free list by address so coalesceArenas can
// find adjacent neighbors with a linear scan.
func (c *Colosseum) sortArenas() {
	c.state.Store(int32(workerSorting))

	for _, a := range c.liveArenas() {
		if !a.mu.TryLock() {
			continue
		}
		a.bubbleSort()
		a.mu.Unlock()
	}
}

// mergeArenas moves the free list of the arena whose first node has the
// higher address into the arena whose first node has the lower address,
// whenever both are non-empty and can be try-locked together. The emptied
// arena stays live; the number of live arenas does not change.
func (c *Colosseum) mergeArenas() {
	c.state.Store(int32(workerMerging))

	arenas := c.liveArenas()
	for i := range arenas {
		for j := range arenas {
			if i == j {
				continue
			}
			a, b := arenas[i], arenas[j]
			if !a.mu.TryLock() {
				continue
			}
			if !b.mu.TryLock() {
				a.mu.Unlock()
				continue
			}
			if a.first != nil && b.first != nil && addr(ptrOf(b.first)) < addr(ptrOf(a.first)) {
				mergeInto(b, a)
			}
			b.mu.Unlock()
			a.mu.Unlock()
		}
	}
}

// mergeInto splices src's entire free list onto dst's, in address order,
// leaving src empty. Caller holds both locks.
func mergeInto(dst, src *arena) {
	for n := src.first; n != nil; {
		next := n.next
		dst.insertSorted(n)
		n = next
	}
	src.first, src.last, src.size = nil, nil, 0
}

// coalesceArenas merges physically adjacent free nodes within each arena.
// Arenas must already be sorted by address (sortArenas).
func (c *Colosseum) coalesceArenas() {
	c.state.Store(int32(workerCoalescing))

	for _, a := range c.liveArenas() {
		if !a.mu.TryLock() {
			continue
		}
		a.coalesce()
		a.mu.Unlock()
	}
}

// releasePages hands fully-free, whole-page regions back to the OS. Each
// unmap consumes the colosseum-wide unmap hysteresis token, and no further
// region is released (from any arena) until a fresh mapping sets it again,
// so that an allocate/free churn of exactly one page's worth of memory
// doesn't thrash mmap/munmap on every cycle.
func (c *Colosseum) releasePages() {
	c.state.Store(int32(workerReleasing))

	for _, a := range c.liveArenas() {
		if !a.mu.TryLock() {
			continue
		}
		_, pages, ok := a.releasable()
		if !ok {
			a.mu.Unlock()
			continue
		}
		if !c.consumeUnmapToken() {
			a.mu.Unlock()
			continue
		}
		p := a.releaseFront(pages)
		a.mu.Unlock()

		if err := c.pages.unmapPages(p, pages); err != nil {
			debug.Log(nil, "worker.releasePages", "unmap failed: %v", err)
		}
	}
}

// consumeUnmapToken implements the single-bit unmap hysteresis: the worker
// may only unmap if a spare-page token is currently set, and consuming it
// clears the bit until a fresh mapping sets it again.
func (c *Colosseum) consumeUnmapToken() bool {
	return c.unmapToken.CompareAndSwap(true, false)
}

// noteFreshMap sets the unmap token whenever new pages are mapped in,
// mirroring the idea that a recently grown arena is allowed to shed a page
// again once it quiets down.
func (c *Colosseum) noteFreshMap() {
	c.unmapToken.Store(true)
}
