package wire

import (
	"bytes"
	"encoding/binary"
	"io"
	"testing"

	"github.com/marmos91/libfs/pkg/lookup"
	"github.com/marmos91/libfs/pkg/plb"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRecordFraming(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, WriteRecord(&buf, []byte("hello")))

	raw := buf.Bytes()
	require.Len(t, raw, 9)
	assert.Equal(t, uint32(0x80000005), binary.BigEndian.Uint32(raw[:4]))

	got, err := ReadRecord(&buf, 0)
	require.NoError(t, err)
	assert.Equal(t, []byte("hello"), got)

	_, err = ReadRecord(&buf, 0)
	assert.Equal(t, io.EOF, err)
}

func TestReadRecordReassemblesFragments(t *testing.T) {
	var buf bytes.Buffer
	header := make([]byte, 4)

	binary.BigEndian.PutUint32(header, 3)
	buf.Write(header)
	buf.WriteString("abc")
	binary.BigEndian.PutUint32(header, lastFragmentBit|2)
	buf.Write(header)
	buf.WriteString("de")

	got, err := ReadRecord(&buf, 0)
	require.NoError(t, err)
	assert.Equal(t, []byte("abcde"), got)
}

func TestReadRecordLimits(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, WriteRecord(&buf, make([]byte, 64)))

	_, err := ReadRecord(&buf, 16)
	assert.ErrorIs(t, err, ErrRecordTooLarge)

	truncated := bytes.NewReader([]byte{0x80, 0, 0, 10, 'x'})
	_, err = ReadRecord(truncated, 0)
	assert.Error(t, err)
	assert.NotEqual(t, io.EOF, err)
}

func TestCallEncoding(t *testing.T) {
	req := lookup.Request{
		Range:  plb.Range{Next: 4090, Last: 3},
		Device: 2,
		Flags:  lookup.FlagCreate | lookup.FlagExclusive,
		Index:  1 << 33,
	}

	data, err := EncodeCall(42, ProcLookup, LookupArgsFromRequest(req))
	require.NoError(t, err)

	header, rest, err := DecodeCall(data)
	require.NoError(t, err)
	assert.Equal(t, uint32(42), header.XID)
	assert.Equal(t, ProcLookup, header.Proc)

	var args LookupArgs
	require.NoError(t, DecodeArgs(rest, &args))
	assert.Equal(t, req, args.Request())
}

func TestPLBWriteEncoding(t *testing.T) {
	data, err := EncodeCall(7, ProcPLBWrite, &PLBWriteArgs{Offset: 10, Data: []byte("/a/b")})
	require.NoError(t, err)

	header, rest, err := DecodeCall(data)
	require.NoError(t, err)
	assert.Equal(t, "plb_write", ProcName(header.Proc))

	var args PLBWriteArgs
	require.NoError(t, DecodeArgs(rest, &args))
	assert.Equal(t, uint64(10), args.Offset)
	assert.Equal(t, []byte("/a/b"), args.Data)
}

func TestReplyEncoding(t *testing.T) {
	want := lookup.Reply{Status: lookup.StatusNotEmpty, FSHandle: 1, Device: 2, Index: 3, Size: 4, LinkCount: 5}

	data, err := EncodeReply(&Reply{XID: 9, Status: int32(want.Status), FSHandle: 1, Device: 2, Index: 3, Size: 4, LinkCount: 5})
	require.NoError(t, err)

	got, err := DecodeReply(data)
	require.NoError(t, err)
	assert.Equal(t, uint32(9), got.XID)
	assert.Equal(t, want, got.Lookup())
	assert.Equal(t, *got, NewReply(9, want))
}
