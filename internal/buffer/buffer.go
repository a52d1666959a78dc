// Package buffer provides growable byte buffers for partial non-blocking I/O.
//
// A Buffer is a contiguous slice with two cursors: head is the offset of the first
// unconsumed byte and filled is the number of valid bytes after it. Bytes are
// appended at the tail and consumed from the head; the invariant
// head+filled <= Cap() always holds.
package buffer

// DefaultReserve is the initial capacity of buffers created with New(0).
const DefaultReserve = 512

// Buffer is the bookkeeping shared by ReadBuffer and WriteBuffer.
type Buffer struct {
	buf    []byte
	head   int
	filled int
}

// New creates a buffer with the given initial capacity.
func New(reserve int) *Buffer {
	if reserve <= 0 {
		reserve = DefaultReserve
	}
	return &Buffer{buf: make([]byte, reserve)}
}

func (b *Buffer) init() {
	if b.buf == nil {
		b.buf = make([]byte, DefaultReserve)
	}
}

// Cap returns the size of the backing storage.
func (b *Buffer) Cap() int { return len(b.buf) }

// Head returns the offset of the first unconsumed byte.
func (b *Buffer) Head() int { return b.head }

// FilledSize returns the number of unconsumed bytes.
func (b *Buffer) FilledSize() int { return b.filled }

// RestSize returns the number of free bytes after the tail.
func (b *Buffer) RestSize() int { return len(b.buf) - (b.head + b.filled) }

// Empty reports whether there are no unconsumed bytes.
func (b *Buffer) Empty() bool { return b.filled == 0 }

// Bytes returns the unconsumed bytes. The slice aliases the buffer and is only
// valid until the next mutating call.
func (b *Buffer) Bytes() []byte { return b.buf[b.head : b.head+b.filled] }

// Reset discards all unconsumed bytes.
func (b *Buffer) Reset() {
	b.head = 0
	b.filled = 0
}

// Release drops the backing storage.
func (b *Buffer) Release() {
	b.Reset()
	b.buf = nil
}

// Cut discards n bytes from the head. The head returns to offset 0 once the
// buffer is empty; with compact the remaining bytes are moved to offset 0.
// Cutting more than FilledSize bytes panics.
func (b *Buffer) Cut(n int, compact bool) {
	if n < 0 || n > b.filled {
		panic("buffer: cut out of range")
	}
	b.head += n
	b.filled -= n
	if b.filled == 0 {
		b.head = 0
	}
	if compact {
		b.compact()
	}
}

// Reserve guarantees at least n free trailing bytes, growing the storage if
// needed. With compact the unconsumed bytes are first moved to offset 0 so the
// consumed prefix can be reused.
func (b *Buffer) Reserve(n int, compact bool) {
	b.init()
	if b.RestSize() >= n {
		return
	}
	if compact {
		b.compact()
		if b.RestSize() >= n {
			return
		}
	}
	grown := make([]byte, b.head+b.filled+n)
	copy(grown, b.buf[:b.head+b.filled])
	b.buf = grown
}

func (b *Buffer) compact() {
	if b.head == 0 {
		return
	}
	copy(b.buf, b.buf[b.head:b.head+b.filled])
	b.head = 0
}

// ReadBuffer receives bytes from a descriptor at its tail.
type ReadBuffer struct {
	Buffer
}

// NewReadBuffer creates a read buffer with the given initial capacity.
func NewReadBuffer(reserve int) *ReadBuffer {
	return &ReadBuffer{Buffer: *New(reserve)}
}

// Free returns the writable tail. Call AddFilled with the number of bytes
// stored into it.
func (b *ReadBuffer) Free() []byte {
	b.init()
	return b.buf[b.head+b.filled:]
}

// AddFilled records n bytes written into the slice returned by Free.
func (b *ReadBuffer) AddFilled(n int) {
	if n < 0 || b.head+b.filled+n > len(b.buf) {
		panic("buffer: add beyond capacity")
	}
	b.filled += n
}

// WriteBuffer queues bytes for a descriptor and drains them from its head.
type WriteBuffer struct {
	Buffer
}

// NewWriteBuffer creates a write buffer with the given initial capacity.
func NewWriteBuffer(reserve int) *WriteBuffer {
	return &WriteBuffer{Buffer: *New(reserve)}
}

// Append copies p to the tail, growing the storage as needed.
func (b *WriteBuffer) Append(p []byte, compact bool) *WriteBuffer {
	b.Reserve(len(p), compact)
	copy(b.buf[b.head+b.filled:], p)
	b.filled += len(p)
	return b
}

// Consume discards n written bytes from the head.
func (b *WriteBuffer) Consume(n int, compact bool) {
	b.Cut(n, compact)
}
