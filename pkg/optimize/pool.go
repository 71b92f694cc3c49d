package optimize

import (
	"sync"
)

// BufferPool is a pool of slices to reduce allocations on hot media paths
type BufferPool[T any] struct {
	pool sync.Pool
	size int
}

// NewBufferPool creates a pool whose fresh slices have capacity size
func NewBufferPool[T any](size int) *BufferPool[T] {
	p := &BufferPool[T]{size: size}
	p.pool.New = func() interface{} {
		b := make([]T, 0, size)
		return &b
	}
	return p
}

// Get returns a slice of length n. Contents are not zeroed.
func (p *BufferPool[T]) Get(n int) []T {
	bp := p.pool.Get().(*[]T)
	b := *bp
	if cap(b) < n {
		return make([]T, n)
	}
	return b[:n]
}

// Put returns a slice to the pool
func (p *BufferPool[T]) Put(b []T) {
	// Undersized slices would force a reallocation on the next Get
	if cap(b) < p.size {
		return
	}
	b = b[:0]
	p.pool.Put(&b)
}

// BytePool is a pool of byte slices
type BytePool = BufferPool[byte]

// NewBytePool creates a new byte pool with specified size
func NewBytePool(size int) *BytePool {
	return NewBufferPool[byte](size)
}
