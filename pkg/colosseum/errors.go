package colosseum

import (
	"errors"
	"fmt"
)

// ErrOutOfMemory is returned by Allocate and Reallocate when the underlying
// OS page mapping call fails.
var ErrOutOfMemory = errors.New("colosseum: out of memory")

// mapError wraps an OS mapping failure as ErrOutOfMemory, preserving the
// underlying error for errors.Is/As.
func mapError(op string, n uintptr, cause error) error {
	return fmt.Errorf("colosseum: %s %d page(s): %w: %w", op, n, ErrOutOfMemory, cause)
}

// corruption panics on a structural-invariant violation in the free list or
// arena bookkeeping. The maintenance worker is the only caller; a panic
// there crashes the process rather than continuing against metadata it can
// no longer trust.
func corruption(format string, args ...any) {
	panic(fmt.Errorf("colosseum: structural corruption: "+format, args...))
}
