package kernels

import (
	"runtime"
	"sync"
)

// minParallelChunk is the minimum number of work units handed to one
// goroutine. Below one chunk the dispatch overhead dominates and the work
// runs inline.
const minParallelChunk = 4096

// parallelFor splits [0, n) into chunks of at least `chunk` units and runs
// fn over them on separate goroutines. fn must not touch units outside its
// [start, end) range; callers guarantee ranges never alias.
func parallelFor(n, chunk int, fn func(start, end int)) {
	if chunk < 1 {
		chunk = minParallelChunk
	}
	if n <= chunk || runtime.GOMAXPROCS(0) == 1 {
		fn(0, n)
		return
	}
	var wg sync.WaitGroup
	for start := 0; start < n; start += chunk {
		end := min(start+chunk, n)
		wg.Add(1)
		go func(start, end int) {
			defer wg.Done()
			fn(start, end)
		}(start, end)
	}
	wg.Wait()
}

// rowChunk sizes a row-wise partition so each goroutine sees at least
// minParallelChunk elements, rounded to a power of two number of rows.
func rowChunk(rows, cols int) int {
	if cols <= 0 {
		return rows
	}
	target := (minParallelChunk + cols - 1) / cols
	chunk := 1
	for chunk < target {
		chunk <<= 1
	}
	return chunk
}
