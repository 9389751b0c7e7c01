package pool

import (
	"sync/atomic"

	"github.com/apache/arrow-go/v18/arrow/memory"
)

// TrackedAllocator wraps an arrow memory.Allocator with atomic accounting of
// outstanding and peak bytes. It is safe to share one TrackedAllocator across
// multiple readers running on separate goroutines, letting a caller observe
// aggregate batch-buffer usage for a whole shuffle stage.
type TrackedAllocator struct {
	mem       memory.Allocator
	allocated atomic.Int64
	peak      atomic.Int64
}

var _ memory.Allocator = (*TrackedAllocator)(nil)

// NewTrackedAllocator creates a tracked allocator over mem. A nil mem defaults
// to the Go allocator.
func NewTrackedAllocator(mem memory.Allocator) *TrackedAllocator {
	if mem == nil {
		mem = memory.NewGoAllocator()
	}
	return &TrackedAllocator{mem: mem}
}

// Allocate allocates size bytes through the underlying allocator.
func (a *TrackedAllocator) Allocate(size int) []byte {
	buf := a.mem.Allocate(size)
	a.add(int64(size))
	return buf
}

// Reallocate resizes b to size bytes through the underlying allocator.
func (a *TrackedAllocator) Reallocate(size int, b []byte) []byte {
	buf := a.mem.Reallocate(size, b)
	a.add(int64(size - len(b)))
	return buf
}

// Free releases b back to the underlying allocator.
func (a *TrackedAllocator) Free(b []byte) {
	a.mem.Free(b)
	a.allocated.Add(int64(-len(b)))
}

// AllocatedBytes returns the bytes currently outstanding.
func (a *TrackedAllocator) AllocatedBytes() int64 {
	return a.allocated.Load()
}

// PeakBytes returns the high-water mark of outstanding bytes.
func (a *TrackedAllocator) PeakBytes() int64 {
	return a.peak.Load()
}

func (a *TrackedAllocator) add(n int64) {
	cur := a.allocated.Add(n)
	for {
		peak := a.peak.Load()
		if cur <= peak || a.peak.CompareAndSwap(peak, cur) {
			return
		}
	}
}
