// Package bufpool provides the pooled, position/limit byte cursors the
// wire codecs read and write through, plus a disk-spilling buffer for
// bodies an application opts to retain in full.
package bufpool

import (
	"fmt"
)

// DefaultBufferSize is the capacity a fresh Buffer is allocated with.
// It covers a typical request line plus headers without growing.
const DefaultBufferSize = 8 * 1024

// Buffer is a growable byte cursor with the classic position/limit/
// capacity relationship: bytes in [0, position) are consumed, bytes in
// [position, limit) are pending, and bytes in [limit, cap) are free
// space a socket read can fill after a Compact.
type Buffer struct {
	data     []byte
	position int
	limit    int
	max      int
}

// NewBuffer allocates a Buffer that starts at DefaultBufferSize and may
// grow up to max bytes before reporting ErrExhausted.
func NewBuffer(max int) *Buffer {
	if max <= 0 {
		max = DefaultBufferSize
	}
	cap := DefaultBufferSize
	if cap > max {
		cap = max
	}
	return &Buffer{data: make([]byte, cap), max: max}
}

// ErrExhausted is returned when a single logical token would need the
// buffer to grow past its configured maximum.
type ErrExhausted struct{ Max int }

func (e *ErrExhausted) Error() string {
	return fmt.Sprintf("bufpool: token exceeds maximum buffer size of %d bytes", e.Max)
}

// Bytes returns the pending region, [position, limit).
func (b *Buffer) Bytes() []byte { return b.data[b.position:b.limit] }

// Len reports how many pending bytes remain.
func (b *Buffer) Len() int { return b.limit - b.position }

// Advance consumes n bytes from the front of the pending region. It
// panics if n exceeds Len, which would indicate a parser bug.
func (b *Buffer) Advance(n int) {
	if n < 0 || b.position+n > b.limit {
		panic("bufpool: Advance out of range")
	}
	b.position += n
}

// Free returns the writable tail, [limit, cap), growing the backing
// slice first if there is no room and the buffer hasn't hit max.
func (b *Buffer) Free() ([]byte, error) {
	if b.limit == len(b.data) {
		if err := b.grow(); err != nil {
			return nil, err
		}
	}
	return b.data[b.limit:], nil
}

// Fill records that n bytes were written into the slice returned by a
// prior Free call, extending the pending region.
func (b *Buffer) Fill(n int) {
	b.limit += n
	if b.limit > len(b.data) {
		panic("bufpool: Fill out of range")
	}
}

// Compact shifts the pending region down to offset 0, reclaiming the
// consumed prefix so the next Free call has room without growing.
func (b *Buffer) Compact() {
	if b.position == 0 {
		return
	}
	n := copy(b.data, b.data[b.position:b.limit])
	b.position = 0
	b.limit = n
}

// Reset empties the buffer for reuse from a pool.
func (b *Buffer) Reset() {
	b.position = 0
	b.limit = 0
}

func (b *Buffer) grow() error {
	cur := len(b.data)
	if cur >= b.max {
		return &ErrExhausted{Max: b.max}
	}
	next := cur * 2
	if next > b.max {
		next = b.max
	}
	if next <= cur {
		return &ErrExhausted{Max: b.max}
	}
	grown := make([]byte, next)
	copy(grown, b.data)
	b.data = grown
	return nil
}
