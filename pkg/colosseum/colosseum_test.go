package colosseum

import (
	"sync"
	"testing"
	"time"
	"unsafe"

	. "github.com/smartystreets/goconvey/convey"
)

func waitUntil(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for !cond() {
		if time.Now().After(deadline) {
			t.Fatal("timed out waiting for condition")
		}
		time.Sleep(time.Millisecond)
	}
}

func TestAllocateFree(t *testing.T) {
	Convey("Given a fresh Colosseum", t, func() {
		c := New()
		defer c.Shutdown()

		Convey("Allocating a small size returns usable, writable memory", func() {
			p, err := c.Allocate(64)

			So(err, ShouldBeNil)
			So(p, ShouldNotBeNil)

			b := unsafe.Slice((*byte)(p), 64)
			for i := range b {
				b[i] = byte(i)
			}
			for i := range b {
				So(b[i], ShouldEqual, byte(i))
			}

			c.Free(p)
		})

		Convey("Allocating size 0 returns a distinct freeable pointer", func() {
			a, err := c.Allocate(0)
			So(err, ShouldBeNil)
			b, err := c.Allocate(0)
			So(err, ShouldBeNil)

			So(a, ShouldNotEqual, b)

			c.Free(a)
			c.Free(b)
		})

		Convey("A request at or above the page threshold bypasses arenas entirely", func() {
			p, err := c.Allocate(pageSize * 2)

			So(err, ShouldBeNil)
			So(p, ShouldNotBeNil)

			c.Free(p)
		})

		Convey("Freed small blocks are eventually placed into an arena by the worker", func() {
			p, err := c.Allocate(32)
			So(err, ShouldBeNil)

			c.Free(p)

			waitUntil(t, func() bool {
				for _, a := range c.liveArenas() {
					a.mu.Lock()
					has := a.first != nil
					a.mu.Unlock()
					if has {
						return true
					}
				}
				return false
			})
		})
	})
}

func TestReallocate(t *testing.T) {
	Convey("Given an existing small allocation", t, func() {
		c := New()
		defer c.Shutdown()

		p, err := c.Allocate(256)
		So(err, ShouldBeNil)

		b := unsafe.Slice((*byte)(p), 256)
		for i := range b {
			b[i] = byte(i)
		}

		Convey("Shrinking preserves the retained prefix", func() {
			np, err := c.Reallocate(p, 32)
			So(err, ShouldBeNil)

			nb := unsafe.Slice((*byte)(np), 32)
			for i := range nb {
				So(nb[i], ShouldEqual, byte(i))
			}

			c.Free(np)
		})

		Convey("Growing preserves the original content and may move", func() {
			np, err := c.Reallocate(p, 4096)
			So(err, ShouldBeNil)
			So(np, ShouldNotBeNil)

			nb := unsafe.Slice((*byte)(np), 256)
			for i := range nb {
				So(nb[i], ShouldEqual, byte(i))
			}

			c.Free(np)
		})

		Convey("Reallocating to the same size is a no-op", func() {
			np, err := c.Reallocate(p, 256)
			So(err, ShouldBeNil)
			So(np, ShouldEqual, p)

			c.Free(np)
		})
	})
}

func TestConcurrentChurn(t *testing.T) {
	Convey("Given many goroutines allocating, writing, and freeing concurrently", t, func() {
		c := New()
		defer c.Shutdown()

		const goroutines = 16
		const iterations = 200

		var wg sync.WaitGroup
		wg.Add(goroutines)
		for g := 0; g < goroutines; g++ {
			go func(seed int) {
				defer wg.Done()
				for i := 0; i < iterations; i++ {
					size := uintptr(8 + (i*seed)%500)
					p, err := c.Allocate(size)
					if err != nil {
						t.Errorf("allocate failed: %v", err)
						return
					}
					b := unsafe.Slice((*byte)(p), int(size))
					b[0] = byte(seed)
					b[size-1] = byte(seed)
					c.Free(p)
				}
			}(g + 1)
		}
		wg.Wait()

		Convey("The allocator remains usable afterward", func() {
			p, err := c.Allocate(128)
			So(err, ShouldBeNil)
			c.Free(p)
		})
	})
}

func TestShutdownDrainsPendingFrees(t *testing.T) {
	Convey("Given a Colosseum with a block freed right before shutdown", t, func() {
		c := New()

		p, err := c.Allocate(48)
		So(err, ShouldBeNil)
		c.Free(p)

		Convey("Shutdown still waits for the worker to place it before returning", func() {
			c.Shutdown()

			So(c.State(), ShouldEqual, "stopped")
		})
	})
}
