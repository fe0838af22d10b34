// Package colosseum implements a thread-safe general-purpose heap allocator
// on top of anonymous virtual-memory mapping calls provided by the host
// operating system.
//
// Free space is sharded across a fixed number of arenas, each guarded by its
// own mutex, so that allocating and freeing threads contend with each other
// only incidentally. Coalescing, sorting, and unmapping of entirely-free
// pages are performed by a single background maintenance goroutine instead
// of inline during free. The allocate path only try-locks arenas, and the
// free path takes only the handoff queue's lock for a constant-time splice.
//
// # Usage
//
//	p, err := colosseum.Allocate(128)
//	if err != nil {
//		// OS page mapping exhausted.
//	}
//	colosseum.Free(p)
//
// The default instance is constructed by this package's own init(), mirroring the
// constructor/destructor lifecycle of the allocator this package is modeled
// on. There is no equivalent of an automatic destructor in Go; call
// Shutdown explicitly (for example with a deferred call in main) to drain
// the handoff queue and stop the maintenance goroutine before process exit.
package colosseum
