//go:build !linux

package colosseum

import (
	"unsafe"

	"github.com/flier/colosseum/internal/debug"
)

// osPages is unimplemented outside Linux: anonymous page mapping is
// inherently OS-specific, and there is no portable fallback worth
// emulating in software for platforms this package was never asked to
// support.
type osPages struct{}

var _ pageSource = osPages{}

func (osPages) mapPages(uintptr) (unsafe.Pointer, error) {
	return nil, debug.Unsupported()
}

func (osPages) unmapPages(unsafe.Pointer, uintptr) error {
	return debug.Unsupported()
}
