// Package fifobuf implements the fixed-capacity circular byte buffer
// (component A, spec §3.2) backed by a process-global slab allocator
// of fixed-size slices. It is the substrate under every buffered
// socket and every growing-buffer istream in the engine.
package fifobuf

import "sync"

// SliceSize is the capacity of every slice handed out by the pool. The
// reference implementation uses a single fixed allocation size so the
// kernel can give pages back when a slice is freed instead of churning
// the heap allocator; a Go sync.Pool bucketed on one size gives the same
// property without a custom slab allocator.
const SliceSize = 8192

// pool is the process-global slab allocator. It is the only global
// mutable state the FIFO buffer owns; everything else is request-scoped
// (spec §9 "Global state").
var pool = sync.Pool{
	New: func() any {
		return make([]byte, SliceSize)
	},
}

// GetSlice borrows a zeroed-length slice of capacity SliceSize from the
// process-global pool.
func GetSlice() []byte {
	b := pool.Get().([]byte)
	return b[:0]
}

// PutSlice returns a slice obtained from GetSlice. Slices of any other
// capacity are silently dropped instead of pooled, so callers that grow
// a buffer past SliceSize don't poison the pool with oversize slices.
func PutSlice(b []byte) {
	if cap(b) != SliceSize {
		return
	}
	pool.Put(b[:0]) //nolint:staticcheck // intentional cap-preserving reslice
}
