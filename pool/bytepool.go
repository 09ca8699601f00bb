// File: pool/bytepool.go
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0

// Package pool provides fixed-size byte buffer pooling for the receive
// path, so every parked-and-resumed read does not cost a fresh allocation.
package pool

import "sync"

// DefaultBufferSize is the read-buffer size handed to network futures.
const DefaultBufferSize = 4096

// BytePool hands out fixed-size byte slices backed by sync.Pool.
type BytePool struct {
	size int
	pool sync.Pool
}

// NewBytePool builds a pool of size-byte buffers.
func NewBytePool(size int) *BytePool {
	if size <= 0 {
		size = DefaultBufferSize
	}
	bp := &BytePool{size: size}
	bp.pool.New = func() any { return make([]byte, size) }
	return bp
}

// Size returns the length of the buffers this pool hands out.
func (b *BytePool) Size() int { return b.size }

// GetBuffer returns a buffer of the pool's size.
func (b *BytePool) GetBuffer() []byte {
	return b.pool.Get().([]byte)
}

// PutBuffer returns a buffer to the pool. Buffers of the wrong size are
// dropped rather than poisoning the pool.
func (b *BytePool) PutBuffer(buf []byte) {
	if cap(buf) != b.size {
		return
	}
	b.pool.Put(buf[:b.size])
}

var defaultPool = NewBytePool(DefaultBufferSize)

// Default returns the shared pool of DefaultBufferSize buffers.
func Default() *BytePool { return defaultPool }
