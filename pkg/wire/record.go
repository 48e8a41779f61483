// Package wire defines the callback protocol between the VFS dispatcher and
// a file-system server.
//
// Messages are XDR encoded and framed with RPC record marking: each record
// is a sequence of fragments, every fragment preceded by a 4-byte big-endian
// header whose high bit flags the last fragment and whose low 31 bits give
// the fragment length.
package wire

import (
	"encoding/binary"
	"errors"
	"fmt"
	"io"
)

const (
	lastFragmentBit   = 0x80000000
	fragmentLengthMax = 0x7FFFFFFF
)

// DefaultMaxRecordSize bounds a reassembled record.
const DefaultMaxRecordSize = 1 << 20

// ErrRecordTooLarge is returned when a record exceeds the configured limit.
var ErrRecordTooLarge = errors.New("wire: record too large")

type fragmentHeader struct {
	IsLast bool
	Length uint32
}

func readFragmentHeader(r io.Reader) (fragmentHeader, error) {
	var buf [4]byte
	if _, err := io.ReadFull(r, buf[:]); err != nil {
		return fragmentHeader{}, err
	}

	header := binary.BigEndian.Uint32(buf[:])
	return fragmentHeader{
		IsLast: header&lastFragmentBit != 0,
		Length: header & fragmentLengthMax,
	}, nil
}

// ReadRecord reads fragments until the last one and returns the
// reassembled record. io.EOF is returned unwrapped when the stream ends
// cleanly between records.
func ReadRecord(r io.Reader, maxSize int) ([]byte, error) {
	if maxSize <= 0 {
		maxSize = DefaultMaxRecordSize
	}

	var record []byte
	for first := true; ; first = false {
		header, err := readFragmentHeader(r)
		if err != nil {
			if first && errors.Is(err, io.EOF) {
				return nil, io.EOF
			}
			return nil, fmt.Errorf("read fragment header: %w", err)
		}

		if len(record)+int(header.Length) > maxSize {
			return nil, fmt.Errorf("%w: more than %d bytes", ErrRecordTooLarge, maxSize)
		}

		start := len(record)
		record = append(record, make([]byte, header.Length)...)
		if _, err := io.ReadFull(r, record[start:]); err != nil {
			return nil, fmt.Errorf("read fragment: %w", err)
		}

		if header.IsLast {
			return record, nil
		}
	}
}

// WriteRecord writes data as a single-fragment record.
func WriteRecord(w io.Writer, data []byte) error {
	if len(data) > fragmentLengthMax {
		return fmt.Errorf("%w: %d bytes", ErrRecordTooLarge, len(data))
	}

	buf := make([]byte, 4+len(data))
	binary.BigEndian.PutUint32(buf, lastFragmentBit|uint32(len(data)))
	copy(buf[4:], data)

	if _, err := w.Write(buf); err != nil {
		return fmt.Errorf("write record: %w", err)
	}
	return nil
}
