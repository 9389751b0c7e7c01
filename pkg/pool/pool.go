// Package pool provides object and buffer pooling for the shuffle read path.
// It offers a generic type-safe pool, a size-bucketed byte buffer pool for
// decompression scratch space, and pooled bytes.Buffer instances for codec
// streaming, all designed to keep per-block allocations off the hot path.
package pool

import (
	"bytes"
	"sync"
	"sync/atomic"
)

// Pool represents a generic object pool with type safety.
// It wraps sync.Pool with statistics tracking and automatic reset
// functionality. The pool is safe for concurrent use.
type Pool[T any] struct {
	pool  sync.Pool
	new   func() T
	reset func(T)
	stats struct {
		allocated int64
		inUse     int64
		hits      int64
	}
}

// New creates a new typed pool with custom allocation and reset functions.
// The new function is called when the pool is empty. The reset function,
// if non-nil, is called before an object is returned to the pool.
func New[T any](new func() T, reset func(T)) *Pool[T] {
	p := &Pool[T]{
		new:   new,
		reset: reset,
	}
	p.pool.New = func() interface{} {
		atomic.AddInt64(&p.stats.allocated, 1)
		return new()
	}
	return p
}

// Get retrieves an object from the pool, creating one if the pool is empty.
func (p *Pool[T]) Get() T {
	atomic.AddInt64(&p.stats.inUse, 1)
	obj := p.pool.Get().(T)
	atomic.AddInt64(&p.stats.hits, 1)
	return obj
}

// Put returns an object to the pool for reuse.
func (p *Pool[T]) Put(obj T) {
	if p.reset != nil {
		p.reset(obj)
	}
	atomic.AddInt64(&p.stats.inUse, -1)
	p.pool.Put(obj)
}

// Stats returns current pool statistics.
func (p *Pool[T]) Stats() (allocated, inUse, hits int64) {
	return atomic.LoadInt64(&p.stats.allocated),
		atomic.LoadInt64(&p.stats.inUse),
		atomic.LoadInt64(&p.stats.hits)
}

// BufferPool manages byte buffer pooling with size-based buckets.
// It maintains multiple pools for different buffer sizes, selecting the
// smallest bucket that can hold a requested size. Buffers larger than the
// biggest bucket are allocated directly and released to the GC on Put.
type BufferPool struct {
	pools []*Pool[[]byte]
	sizes []int
}

// NewBufferPool creates a new buffer pool with power-of-2 size buckets
// from 512 bytes to 16MB, matching typical shuffle block sizes.
func NewBufferPool() *BufferPool {
	sizes := []int{
		512,      // 512B
		1024,     // 1KB
		4096,     // 4KB
		16384,    // 16KB
		65536,    // 64KB
		262144,   // 256KB
		1048576,  // 1MB
		4194304,  // 4MB
		16777216, // 16MB
	}

	pools := make([]*Pool[[]byte], len(sizes))
	for i, size := range sizes {
		size := size
		pools[i] = New(
			func() []byte {
				return make([]byte, size)
			},
			nil,
		)
	}

	return &BufferPool{
		pools: pools,
		sizes: sizes,
	}
}

// Get returns a buffer of at least the requested size from the pool.
// The returned buffer's length is set to the requested size; its capacity
// may be larger.
func (p *BufferPool) Get(size int) []byte {
	for i, s := range p.sizes {
		if s >= size {
			buf := p.pools[i].Get()
			return buf[:size]
		}
	}

	// Fallback to allocation for very large buffers
	return make([]byte, size)
}

// Put returns a buffer to the pool for reuse. Buffers whose capacity does
// not match a bucket size are left to the garbage collector.
func (p *BufferPool) Put(buf []byte) {
	size := cap(buf)

	for i, s := range p.sizes {
		if s == size {
			p.pools[i].Put(buf[:s])
			return
		}
	}
}

// Global pools shared across readers.
var (
	// GlobalBufferPool provides size-based byte buffer pooling for frame
	// payloads and decompression scratch space.
	GlobalBufferPool = NewBufferPool()

	// BytesBufferPool provides pooled bytes.Buffer instances for streaming
	// codecs and IPC serialization.
	BytesBufferPool = New(
		func() *bytes.Buffer {
			return bytes.NewBuffer(make([]byte, 0, 4096))
		},
		func(b *bytes.Buffer) {
			b.Reset()
		},
	)
)

// GetBuffer retrieves a pooled bytes.Buffer.
func GetBuffer() *bytes.Buffer {
	return BytesBufferPool.Get()
}

// PutBuffer returns a bytes.Buffer to the pool.
func PutBuffer(b *bytes.Buffer) {
	BytesBufferPool.Put(b)
}
