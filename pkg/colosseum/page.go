package colosseum

import "unsafe"

// pageSource hands out and reclaims contiguous, page-aligned,
// zero-initialized, read-write, privately-mapped anonymous memory. It is
// the only component that talks to the OS directly.
type pageSource interface {
	// mapPages maps n pages and returns a pointer to the first byte.
	mapPages(n uintptr) (unsafe.Pointer, error)

	// unmapPages releases a region previously returned by mapPages. p must
	// be a pointer previously returned by mapPages, and n the same page
	// count (or a prefix of it starting at a page boundary).
	unmapPages(p unsafe.Pointer, n uintptr) error
}
