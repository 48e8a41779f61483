package plb

import "fmt"

// Range identifies a path in the buffer by two inclusive offsets.
type Range struct {
	Next uint32
	Last uint32
}

// Unwrap returns the range as absolute offsets. When Last < Next the range
// wraps and size is added to Last; offsets may therefore exceed size and must
// be read through CharAt.
func (r Range) Unwrap(size uint64) (next, last uint64) {
	next, last = uint64(r.Next), uint64(r.Last)
	if last < next {
		last += size
	}
	return next, last
}

// Len returns the number of bytes covered by the range.
func (r Range) Len(size uint64) uint64 {
	next, last := r.Unwrap(size)
	return last - next + 1
}

// Check reports ErrBadRange unless both offsets lie inside a buffer of the
// given size.
func (r Range) Check(size uint64) error {
	if uint64(r.Next) >= size || uint64(r.Last) >= size || r.Len(size) > size {
		return fmt.Errorf("%w: %s in %d bytes", ErrBadRange, r, size)
	}
	return nil
}

func (r Range) String() string {
	return fmt.Sprintf("[%d..%d]", r.Next, r.Last)
}
