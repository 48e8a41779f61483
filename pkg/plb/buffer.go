// Package plb implements the Path Lookup Buffer: a fixed-size circular byte
// buffer shared between the VFS dispatcher, which writes canonical paths into
// it, and file-system servers, which read them back while resolving a lookup.
//
// A path is referenced by a Range of two inclusive offsets. A range wraps when
// Last < Next; readers unwrap it with Range.Unwrap and read characters through
// CharAt, which reduces any offset modulo the buffer size.
package plb

import (
	"errors"
	"fmt"
	"sync"
)

// DefaultSize is the capacity used when no size is configured.
const DefaultSize = 4096

var (
	// ErrEmptyPath is returned by Put for a zero-length path.
	ErrEmptyPath = errors.New("plb: empty path")

	// ErrPathTooLong is returned by Put when a path does not fit in the buffer.
	ErrPathTooLong = errors.New("plb: path longer than buffer")

	// ErrBadRange is returned by Range.Check for offsets outside the buffer.
	ErrBadRange = errors.New("plb: range outside buffer")
)

// Reader is the read side of the buffer used by the lookup engine.
type Reader interface {
	// CharAt returns the byte at off modulo Size. It never fails.
	CharAt(off uint64) byte

	// Size returns the buffer capacity.
	Size() uint64
}

// Buffer is a circular path buffer.
//
// Writes are serialised by an internal mutex. Reads are lock-free: the
// dispatcher hands a range to a server only after the bytes are written, and
// the hand-off (a channel send or a network round trip) orders the accesses.
type Buffer struct {
	mu     sync.Mutex
	data   []byte
	cursor uint64
}

// New creates a buffer with the given capacity.
func New(size int) (*Buffer, error) {
	if size <= 0 {
		return nil, fmt.Errorf("plb: invalid size %d", size)
	}
	return &Buffer{data: make([]byte, size)}, nil
}

// Size returns the capacity of the buffer.
func (b *Buffer) Size() uint64 {
	return uint64(len(b.data))
}

// CharAt returns the byte at off modulo the capacity.
func (b *Buffer) CharAt(off uint64) byte {
	return b.data[off%uint64(len(b.data))]
}

// Put appends path at the write cursor and returns the range it occupies.
//
// The cursor wraps around, so older paths are eventually overwritten. Callers
// must not keep more than Size bytes of paths in flight at once.
func (b *Buffer) Put(path string) (Range, error) {
	n := uint64(len(path))
	if n == 0 {
		return Range{}, ErrEmptyPath
	}
	if n > b.Size() {
		return Range{}, fmt.Errorf("%w: %d > %d", ErrPathTooLong, n, b.Size())
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	size := b.Size()
	next := b.cursor
	for i := uint64(0); i < n; i++ {
		b.data[(next+i)%size] = path[i]
	}
	b.cursor = (next + n) % size

	return Range{
		Next: uint32(next),
		Last: uint32((next + n - 1) % size),
	}, nil
}

// WriteAt copies data into the buffer starting at off, wrapping as needed.
//
// It is used by servers to mirror writes the dispatcher made to its own copy
// of the buffer when the two do not share memory.
func (b *Buffer) WriteAt(off uint64, data []byte) error {
	if uint64(len(data)) > b.Size() {
		return fmt.Errorf("%w: %d > %d", ErrPathTooLong, len(data), b.Size())
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	size := b.Size()
	for i, c := range data {
		b.data[(off+uint64(i))%size] = c
	}
	return nil
}

// Text returns the bytes referenced by r, unwrapped. Intended for logging;
// the output never exceeds the buffer size.
func Text(r Reader, rng Range) string {
	size := r.Size()
	next, last := rng.Unwrap(size)
	if last-next+1 > size {
		last = next + size - 1
	}
	out := make([]byte, 0, last-next+1)
	for off := next; off <= last; off++ {
		out = append(out, r.CharAt(off))
	}
	return string(out)
}
