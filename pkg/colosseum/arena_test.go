package colosseum

import (
	"testing"
	"unsafe"

	. "github.com/smartystreets/goconvey/convey"
)

func newNodeAt(p unsafe.Pointer, size uintptr) *freeNode {
	n := nodeAt(p)
	n.size = size
	n.next = nil
	return n
}

func TestArenaCarve(t *testing.T) {
	Convey("Given an arena with one free node", t, func() {
		buf := make([]byte, 256)
		p := unsafe.Pointer(&buf[0])
		n := newNodeAt(p, 256-nodeSize)

		a := &arena{}
		a.append(n)

		Convey("An exact-fit request consumes the whole node", func() {
			total := n.size + nodeSize
			got, ok := a.tryCarve(total)

			So(ok, ShouldBeTrue)
			So(got, ShouldEqual, p)
			So(a.first, ShouldBeNil)
			So(a.size, ShouldEqual, 0)
		})

		Convey("A smaller request splits the node and leaves a remainder", func() {
			got, ok := a.tryCarve(64)

			So(ok, ShouldBeTrue)
			So(got, ShouldEqual, p)
			So(a.first, ShouldNotBeNil)
			So(a.first.size, ShouldEqual, 256-64-nodeSize)
		})

		Convey("A request larger than the node fails", func() {
			_, ok := a.tryCarve(1 << 20)

			So(ok, ShouldBeFalse)
		})
	})
}

func TestArenaCoalesce(t *testing.T) {
	Convey("Given two physically adjacent free nodes", t, func() {
		buf := make([]byte, 512)
		base := unsafe.Pointer(&buf[0])

		first := newNodeAt(base, 128-nodeSize)
		second := newNodeAt(unsafe.Add(base, 128), 128-nodeSize)

		a := &arena{}
		a.append(first)
		a.append(second)
		a.bubbleSort()

		Convey("Coalescing merges them into one node", func() {
			a.coalesce()

			So(a.first, ShouldNotBeNil)
			So(a.first.next, ShouldBeNil)
			So(a.first.size, ShouldEqual, 256-nodeSize)
		})
	})

	Convey("Given two non-adjacent free nodes", t, func() {
		buf := make([]byte, 1024)
		base := unsafe.Pointer(&buf[0])

		first := newNodeAt(base, 64-nodeSize)
		second := newNodeAt(unsafe.Add(base, 512), 64-nodeSize)

		a := &arena{}
		a.append(second)
		a.append(first)
		a.bubbleSort()

		Convey("Sorting orders them by address and coalescing leaves both separate", func() {
			So(a.first, ShouldEqual, first)
			So(a.first.next, ShouldEqual, second)

			a.coalesce()

			So(a.first.next, ShouldEqual, second)
		})
	})
}

// pageAligned carves a page-aligned pointer out of buf, which must be large
// enough to contain size bytes after alignment slack is discarded.
func pageAligned(buf []byte, size uintptr) unsafe.Pointer {
	base := uintptr(unsafe.Pointer(&buf[0]))
	aligned := (base + pageSize - 1) &^ (pageSize - 1)
	if aligned+size > base+uintptr(len(buf)) {
		panic("pageAligned: buffer too small for alignment slack")
	}
	return unsafe.Pointer(aligned)
}

func TestArenaReleasable(t *testing.T) {
	Convey("Given an arena whose leading node is page-aligned and spans whole pages", t, func() {
		buf := make([]byte, 4*int(pageSize))
		p := pageAligned(buf, 2*pageSize)
		n := newNodeAt(p, 2*pageSize)

		a := &arena{}
		a.append(n)

		Convey("releasable reports the whole-page count", func() {
			node, pages, ok := a.releasable()

			So(ok, ShouldBeTrue)
			So(node, ShouldEqual, n)
			So(pages, ShouldEqual, 2)
		})

		Convey("releaseFront consumes the node entirely, leaving nothing behind", func() {
			_, pages, _ := a.releasable()
			released := a.releaseFront(pages)

			So(released, ShouldEqual, p)
			So(a.first, ShouldBeNil)
			So(a.size, ShouldEqual, 0)
		})
	})

	Convey("Given an arena with less than a page free", t, func() {
		buf := make([]byte, 128)
		n := newNodeAt(unsafe.Pointer(&buf[0]), 128-nodeSize)

		a := &arena{}
		a.append(n)

		Convey("releasable reports nothing to release", func() {
			_, _, ok := a.releasable()

			So(ok, ShouldBeFalse)
		})
	})

	Convey("Given an arena whose leading node spans whole pages but starts mid-page", t, func() {
		buf := make([]byte, 4*int(pageSize))
		p := pageAligned(buf, 3*pageSize)
		n := newNodeAt(unsafe.Add(p, 1), 2*pageSize)

		a := &arena{}
		a.append(n)

		Convey("releasable refuses it: unmapping an unaligned pointer would corrupt neighbors", func() {
			_, _, ok := a.releasable()

			So(ok, ShouldBeFalse)
		})
	})
}
