package fifobuf

import "errors"

// ErrFull is returned by Write when there is not enough writable
// capacity left for the requested bytes.
var ErrFull = errors.New("fifobuf: buffer full")

// Buffer is a fixed-size circular byte buffer with a pointer-stable
// readable region, mirroring the C fifo-buffer.c contract: peek/consume
// on the read side, writable/commit on the write side (spec §3.2).
//
// Unlike a textbook ring buffer, Buffer never wraps the readable region
// around the end of the backing slice: once the tail reaches the end of
// the slab, further writes compact the buffer (moving the unread bytes
// back to offset 0) rather than splitting the readable region in two.
// That keeps Peek a single contiguous slice, which is what every istream
// handler in this engine expects.
type Buffer struct {
	data  []byte
	start int // offset of the first unread byte
	end   int // offset one past the last written byte
}

// New allocates a Buffer backed by a slab slice from the pool, grown to
// at least capacity bytes (rounded up to the slab size).
func New(capacity int) *Buffer {
	if capacity <= 0 {
		capacity = SliceSize
	}
	b := GetSlice()
	if cap(b) < capacity {
		b = make([]byte, capacity)
	}
	return &Buffer{data: b[:cap(b)]}
}

// Release returns the backing slab to the pool. The Buffer must not be
// used afterwards.
func (b *Buffer) Release() {
	PutSlice(b.data[:0])
	b.data = nil
	b.start = 0
	b.end = 0
}

// Peek returns the contiguous slice of unread bytes. The caller must not
// retain it past the next Consume/Write/compact call.
func (b *Buffer) Peek() []byte {
	return b.data[b.start:b.end]
}

// Consume discards the first n unread bytes. n must not exceed the
// length of the last Peek() result.
func (b *Buffer) Consume(n int) {
	if n <= 0 {
		return
	}
	b.start += n
	if b.start > b.end {
		b.start = b.end
	}
	if b.start == b.end {
		b.start, b.end = 0, 0
	}
}

// Writable returns the contiguous slice available for writing at the
// tail. Compacts the buffer first if the unread region has drifted away
// from offset 0 and more room is needed at the tail.
func (b *Buffer) Writable() []byte {
	if b.end == len(b.data) && b.start > 0 {
		b.compact()
	}
	return b.data[b.end:]
}

// Commit marks n bytes, previously written into the slice returned by
// Writable, as readable.
func (b *Buffer) Commit(n int) {
	if n <= 0 {
		return
	}
	b.end += n
}

// Write copies p into the buffer, compacting first if necessary. It
// returns ErrFull (without partial writes) if p does not fit.
func (b *Buffer) Write(p []byte) (int, error) {
	if len(p) == 0 {
		return 0, nil
	}
	if b.end+len(p) > len(b.data) {
		b.compact()
	}
	if b.end+len(p) > len(b.data) {
		return 0, ErrFull
	}
	n := copy(b.data[b.end:], p)
	b.end += n
	return n, nil
}

func (b *Buffer) compact() {
	if b.start == 0 {
		return
	}
	n := copy(b.data, b.data[b.start:b.end])
	b.start = 0
	b.end = n
}

// Len returns the number of unread bytes currently buffered.
func (b *Buffer) Len() int { return b.end - b.start }

// Cap returns the total capacity of the backing slab.
func (b *Buffer) Cap() int { return len(b.data) }

// Empty reports whether there are no unread bytes.
func (b *Buffer) Empty() bool { return b.start == b.end }

// Full reports whether there is no writable capacity left, even after a
// compaction.
func (b *Buffer) Full() bool { return b.end-b.start == len(b.data) }
