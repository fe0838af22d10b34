package colosseum

import (
	"sync"
	"unsafe"

	"github.com/flier/colosseum/internal/debug"
)

// arena is one shard of free space. Mutators only ever TryLock an arena;
// the maintenance worker is the sole owner of blocking-free access to its
// internals, and even it only ever TryLocks, so a long-held lock in one
// goroutine never stalls another.
type arena struct {
	mu sync.Mutex

	first, last *freeNode
	size        uintptr // sum of every node's usable size currently in this arena
}

// tryCarve attempts to satisfy a total (header+payload) byte request from
// this arena's free list without blocking. ok is false if the arena's lock
// is contended or no node is large enough.
func (a *arena) tryCarve(total uintptr) (p unsafe.Pointer, ok bool) {
	if !a.mu.TryLock() {
		return nil, false
	}
	defer a.mu.Unlock()

	var prev *freeNode
	for n := a.first; n != nil; n = n.next {
		switch {
		case n.size+nodeSize == total:
			// Exact fit: the whole node, header included, becomes the
			// allocation.
			a.unlink(prev, n)
			a.size -= n.size
			return ptrOf(n), true

		case n.size >= total+1:
			// Split fit: carve `total` bytes off the front of the node and
			// leave the remainder in place as a smaller free node. The
			// remainder spans [n+total, n+nodeSize+n.size), so its usable
			// size is n.size-total, not leftover-nodeSize: the new node's
			// own header is already accounted for by that range, it isn't
			// subtracted again.
			leftover := n.size - total
			rest := nodeAt(unsafe.Add(ptrOf(n), total))
			rest.size = leftover
			rest.next = n.next

			if prev == nil {
				a.first = rest
			} else {
				prev.next = rest
			}
			if a.last == n {
				a.last = rest
			}

			a.size -= total
			return ptrOf(n), true
		}
		prev = n
	}

	return nil, false
}

// unlink removes n from the list, given its predecessor (nil if n is a.first).
func (a *arena) unlink(prev, n *freeNode) {
	if prev == nil {
		a.first = n.next
	} else {
		prev.next = n.next
	}
	if a.last == n {
		a.last = prev
	}
}

// append adds n to the tail of the arena's free list and its size tally.
// Caller must hold a.mu.
func (a *arena) append(n *freeNode) {
	n.next = nil
	if a.last == nil {
		a.first, a.last = n, n
	} else {
		a.last.next = n
		a.last = n
	}
	a.size += n.size
}

// maxSaneNodeSize bounds what a free node's size field can plausibly hold.
// A size above this looks like it underflowed (e.g. a split or shrink gone
// wrong) rather than describing real free space.
const maxSaneNodeSize = ^uintptr(0) / 2

// checkSane panics via corruption if n's size is implausible or n links to
// itself, catching the kind of corrupted metadata that would otherwise
// turn coalesce or insertSorted into an infinite loop or a bogus merge.
func checkSane(n *freeNode) {
	if n.next == n {
		corruption("free node at %p links to itself", ptrOf(n))
	}
	if n.size > maxSaneNodeSize {
		corruption("free node at %p has implausible size %d", ptrOf(n), n.size)
	}
}

// insertSorted inserts n into the list in increasing address order. Caller
// must hold a.mu. Used by the maintenance worker, never by mutators.
func (a *arena) insertSorted(n *freeNode) {
	checkSane(n)

	if a.first == nil || addr(ptrOf(n)) < addr(ptrOf(a.first)) {
		n.next = a.first
		a.first = n
		if a.last == nil {
			a.last = n
		}
		a.size += n.size
		return
	}

	prev := a.first
	for prev.next != nil && addr(ptrOf(prev.next)) < addr(ptrOf(n)) {
		prev = prev.next
	}
	n.next = prev.next
	prev.next = n
	if prev == a.last {
		a.last = n
	}
	a.size += n.size
}

// bubbleSort orders the free list by ascending address so that coalesce can
// find physically adjacent neighbors by a single linear scan. Caller must
// hold a.mu.
func (a *arena) bubbleSort() {
	if a.first == nil {
		return
	}

	for swapped := true; swapped; {
		swapped = false
		prev := (*freeNode)(nil)
		cur := a.first
		for cur != nil && cur.next != nil {
			next := cur.next
			if addr(ptrOf(cur)) > addr(ptrOf(next)) {
				cur.next = next.next
				next.next = cur
				if prev == nil {
					a.first = next
				} else {
					prev.next = next
				}
				prev = next
				swapped = true
			} else {
				prev = cur
				cur = cur.next
			}
		}
	}

	tail := a.first
	for tail != nil && tail.next != nil {
		tail = tail.next
	}
	a.last = tail
}

// coalesce merges physically adjacent free nodes, assuming the list is
// sorted by address (see bubbleSort). Caller must hold a.mu.
func (a *arena) coalesce() {
	n := a.first
	for n != nil && n.next != nil {
		checkSane(n)
		end := addr(ptrOf(n)) + nodeSize + n.size
		if end == addr(ptrOf(n.next)) {
			merged := n.next
			n.size += nodeSize + merged.size
			a.size += nodeSize // merged's header becomes usable space
			n.next = merged.next
			if a.last == merged {
				a.last = n
			}
			continue // re-check n against its new neighbor
		}
		n = n.next
	}
}

// releasable reports the leading free node if it both begins on a page
// boundary and spans a whole multiple of the page size, so it can be
// handed back to the OS via unmap without touching a partial page that
// belongs to a live allocation on either side. The arena keeps one free
// page in reserve (the unmap hysteresis bit, owned by the colosseum, not
// the arena) before it actually unmaps anything.
func (a *arena) releasable() (n *freeNode, pages uintptr, ok bool) {
	n = a.first
	if n == nil || n.size < pageSize {
		return nil, 0, false
	}
	if addr(ptrOf(n))%pageSize != 0 || n.size%pageSize != 0 {
		return nil, 0, false
	}
	return n, n.size / pageSize, true
}

// releaseFront removes the leading node that releasable reported, shrinking
// it to whatever sub-page remainder is left (if any) rather than discarding
// slack smaller than a page.
func (a *arena) releaseFront(pages uintptr) (released unsafe.Pointer) {
	n := a.first
	released = ptrOf(n)
	bytes := pages * pageSize

	remainder := n.size - bytes
	a.size -= bytes

	if remainder == 0 {
		a.unlink(nil, n)
		return released
	}

	// Keep the tail of the node that didn't divide evenly into whole pages.
	rest := nodeAt(unsafe.Add(released, bytes))
	rest.size = remainder
	rest.next = n.next
	a.first = rest
	if a.last == n {
		a.last = rest
	}
	debug.Log(nil, "arena.releaseFront", "released %d page(s), kept %d byte remainder", pages, remainder)
	return released
}
