// Package pool provides reusable byte-slice buffers for the Executor's
// copy loop, avoiding a fresh allocation per file.
package pool

import "sync"

// FixedBufferPool hands out byte slices of exactly one size — the
// Executor's configured copy-chunk size (1 MiB by default, per the
// cancellation-granularity requirement on the copy loop).
type FixedBufferPool struct {
	size int64
	pool sync.Pool
}

func NewFixedBuffer(size int64) *FixedBufferPool {
	return &FixedBufferPool{
		size: size,
		pool: sync.Pool{
			New: func() any {
				b := make([]byte, int(size))
				return &b
			},
		},
	}
}

func (fp *FixedBufferPool) Get() *[]byte {
	return fp.pool.Get().(*[]byte)
}

func (fp *FixedBufferPool) Put(b *[]byte) {
	if b == nil || int64(cap(*b)) != fp.size {
		return
	}
	*b = (*b)[:fp.size]
	fp.pool.Put(b)
}
