// Package pool provides reusable byte buffers for file copy loops.
package pool

import "sync"

// FixedBufferPool hands out byte slices of a single fixed size. The copy and
// archive paths request one buffer per operation, so a single bucket is
// enough; buffers of any other capacity are refused on return.
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
	// Only put it back if it's the right size.
	if b == nil || int64(cap(*b)) != fp.size {
		return
	}
	*b = (*b)[:fp.size]
	fp.pool.Put(b)
}

// Size returns the buffer size this pool was created with.
func (fp *FixedBufferPool) Size() int64 {
	return fp.size
}
