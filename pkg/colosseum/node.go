package colosseum

import (
	"unsafe"

	"github.com/flier/colosseum/pkg/xunsafe"
	"github.com/flier/colosseum/pkg/xunsafe/layout"
)

// header precedes every live allocation. The pointer returned to the caller
// is the first byte after the header; size is the payload size requested by
// the caller, not including the header itself.
type header struct {
	size uintptr
}

// freeNode is the in-band metadata for a region that is not currently part
// of any live allocation. size is the number of usable free bytes following
// the node's own header-sized prefix; next links to the following node in
// whichever list (an arena's free list, or the handoff queue) currently owns
// it.
type freeNode struct {
	size uintptr
	next *freeNode
}

const (
	// pageSize is the assumed OS page size.
	pageSize = uintptr(4096)

	arenaMultiplier = 2
	arenaMax        = 32
)

var (
	headerSize = uintptr(layout.Size[header]())
	nodeSize   = uintptr(layout.Size[freeNode]())
)

// divUp computes the number of pages needed to cover xx bytes.
func divUp(xx, yy uintptr) uintptr {
	zz := xx / yy
	if zz*yy == xx {
		return zz
	}
	return zz + 1
}

// headerAt reinterprets the memory at p as a header.
func headerAt(p unsafe.Pointer) *header {
	return xunsafe.Cast[header]((*byte)(p))
}

// nodeAt reinterprets the memory at p as a freeNode.
func nodeAt(p unsafe.Pointer) *freeNode {
	return xunsafe.Cast[freeNode]((*byte)(p))
}

// ptrOf returns the raw pointer backing a freeNode or header value.
func ptrOf[T any](v *T) unsafe.Pointer {
	return unsafe.Pointer(xunsafe.Cast[byte](v))
}

// addr is the address of p as an integer, used for ordering free nodes by
// their physical location.
func addr(p unsafe.Pointer) uintptr { return uintptr(p) }
