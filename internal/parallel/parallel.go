// Package parallel provides the data-parallel execution utilities used
// by the neighborhood attention kernels.
package parallel

import (
	"runtime"
	"sync"
)

// Config controls parallel execution behavior.
type Config struct {
	Enabled      bool // Whether parallel execution is enabled.
	NumWorkers   int  // Number of worker goroutines to use.
	MinChunkSize int  // Minimum items per goroutine to avoid overhead.
}

// DefaultConfig returns sensible defaults based on CPU count.
func DefaultConfig() Config {
	n := runtime.NumCPU()
	return Config{
		Enabled:      n > 1,
		NumWorkers:   n,
		MinChunkSize: 1, // Work units are whole (batch, head) planes; even one per worker pays off.
	}
}

// Sequential returns a config that disables parallelism.
// Useful for verifying that results do not depend on the worker partitioning.
func Sequential() Config {
	return Config{Enabled: false}
}

// For executes f(i) for i in [0, n) with optional parallelism.
// Falls back to sequential execution if parallelism is disabled or n is too small.
//
// Each index is executed exactly once by exactly one goroutine. The
// backward scatter-add relies on this: a worker owns every write to the
// planes it is handed, so no two goroutines touch the same output cell.
func For(n int, f func(i int), cfg Config) {
	if !cfg.Enabled || n <= cfg.MinChunkSize {
		// Sequential fallback.
		for i := 0; i < n; i++ {
			f(i)
		}
		return
	}

	var wg sync.WaitGroup
	chunkSize := max((n+cfg.NumWorkers-1)/cfg.NumWorkers, cfg.MinChunkSize)

	for start := 0; start < n; start += chunkSize {
		end := min(start+chunkSize, n)
		wg.Add(1)
		go func(s, e int) {
			defer wg.Done()
			for i := s; i < e; i++ {
				f(i)
			}
		}(start, end)
	}
	wg.Wait()
}

// ForBatch executes f(b, h) over a batch*heads grid.
// This is the decomposition used by the attention kernels: the
// (batch, head) dimensions are independent and carry no cross-talk.
func ForBatch(batch, heads int, f func(b, h int), cfg Config) {
	n := batch * heads
	For(n, func(k int) {
		f(k/heads, k%heads)
	}, cfg)
}
