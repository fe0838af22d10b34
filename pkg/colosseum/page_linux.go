//go:build linux

package colosseum

import (
	"unsafe"

	"golang.org/x/sys/unix"

	"github.com/flier/colosseum/internal/debug"
)

// osPages maps and unmaps anonymous, private memory via mmap(2)/munmap(2).
type osPages struct{}

var _ pageSource = osPages{}

func (osPages) mapPages(n uintptr) (unsafe.Pointer, error) {
	size := int(n * pageSize)

	b, err := unix.Mmap(-1, 0, size, unix.PROT_READ|unix.PROT_WRITE, unix.MAP_ANON|unix.MAP_PRIVATE)
	if err != nil {
		return nil, err
	}

	p := unsafe.Pointer(&b[0])

	debug.Log(nil, "mmap", "%v:%d pages (%d bytes)", p, n, size)

	return p, nil
}

func (osPages) unmapPages(p unsafe.Pointer, n uintptr) error {
	b := unsafe.Slice((*byte)(p), int(n*pageSize))

	debug.Log(nil, "munmap", "%v:%d pages", p, n)

	return unix.Munmap(b)
}
