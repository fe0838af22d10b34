// Command allocstress drives concurrent allocate/free/reallocate churn
// against a Colosseum, for manual soak testing.
package main

import (
	"flag"
	"fmt"
	"log"
	"math/rand"
	"sync"
	"time"
	"unsafe"

	"github.com/flier/colosseum/pkg/colosseum"
)

func main() {
	goroutines := flag.Int("goroutines", 8, "concurrent worker goroutines")
	iterations := flag.Int("iterations", 10000, "allocate/free cycles per goroutine")
	maxSize := flag.Int("max-size", 8192, "largest single allocation, in bytes")
	flag.Parse()

	c := colosseum.New()
	defer c.Shutdown()

	start := time.Now()

	var wg sync.WaitGroup
	wg.Add(*goroutines)
	for g := 0; g < *goroutines; g++ {
		go func(seed int64) {
			defer wg.Done()
			rnd := rand.New(rand.NewSource(seed))

			for i := 0; i < *iterations; i++ {
				size := uintptr(1 + rnd.Intn(*maxSize))

				p, err := c.Allocate(size)
				if err != nil {
					log.Fatalf("allocate(%d): %v", size, err)
				}

				b := unsafe.Slice((*byte)(p), int(size))
				b[0] = byte(seed)

				if rnd.Intn(3) == 0 {
					p, err = c.Reallocate(p, uintptr(1+rnd.Intn(*maxSize)))
					if err != nil {
						log.Fatalf("reallocate: %v", err)
					}
				}

				c.Free(p)
			}
		}(int64(g) + 1)
	}
	wg.Wait()

	elapsed := time.Since(start)
	total := *goroutines * *iterations
	fmt.Printf("%d cycles across %d goroutines in %s (%.0f cycles/sec)\n",
		total, *goroutines, elapsed, float64(total)/elapsed.Seconds())
}
