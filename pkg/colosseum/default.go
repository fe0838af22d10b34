package colosseum

import "unsafe"

// def is constructed automatically by this package's own init, mirroring
// the automatic-construction lifecycle this package is modeled on.
var def *Colosseum

func init() {
	def = New()
}

// Allocate delegates to the package's default instance. See
// (*Colosseum).Allocate.
func Allocate(size uintptr) (unsafe.Pointer, error) {
	return def.Allocate(size)
}

// Free delegates to the package's default instance. See (*Colosseum).Free.
func Free(ptr unsafe.Pointer) {
	def.Free(ptr)
}

// Reallocate delegates to the package's default instance. See
// (*Colosseum).Reallocate.
func Reallocate(ptr unsafe.Pointer, newSize uintptr) (unsafe.Pointer, error) {
	return def.Reallocate(ptr, newSize)
}

// Shutdown stops the package's default instance's maintenance goroutine.
// There is no automatic equivalent in Go; call this explicitly (for
// example with a deferred call in main) before process exit.
func Shutdown() {
	def.Shutdown()
}
