package wire

import (
	"bytes"
	"fmt"

	"github.com/marmos91/libfs/pkg/lookup"
	"github.com/marmos91/libfs/pkg/plb"
	xdr "github.com/rasky/go-xdr/xdr2"
)

// Procedure numbers.
const (
	ProcNull     uint32 = 0
	ProcPLBWrite uint32 = 1
	ProcLookup   uint32 = 2
)

// ProcName returns a short name for a procedure, for logs and metrics.
func ProcName(proc uint32) string {
	switch proc {
	case ProcNull:
		return "null"
	case ProcPLBWrite:
		return "plb_write"
	case ProcLookup:
		return "lookup"
	default:
		return "unknown"
	}
}

// CallHeader starts every call.
type CallHeader struct {
	XID  uint32
	Proc uint32
}

// PLBWriteArgs mirrors a dispatcher write into the server's copy of the PLB.
type PLBWriteArgs struct {
	Offset uint64
	Data   []byte
}

// LookupArgs carries a lookup request.
type LookupArgs struct {
	Next   uint32
	Last   uint32
	Device uint32
	Flags  uint32
	Index  uint64
}

// Reply answers a call. Only Status is meaningful for procedures other
// than ProcLookup.
type Reply struct {
	XID       uint32
	Status    int32
	FSHandle  uint32
	Device    uint32
	Index     uint64
	Size      uint64
	LinkCount uint32
}

// LookupArgsFromRequest converts an engine request for the wire.
func LookupArgsFromRequest(req lookup.Request) LookupArgs {
	return LookupArgs{
		Next:   req.Range.Next,
		Last:   req.Range.Last,
		Device: uint32(req.Device),
		Flags:  uint32(req.Flags),
		Index:  uint64(req.Index),
	}
}

// Request converts the arguments back into an engine request.
func (a LookupArgs) Request() lookup.Request {
	return lookup.Request{
		Range:  plb.Range{Next: a.Next, Last: a.Last},
		Device: lookup.Device(a.Device),
		Flags:  lookup.Flags(a.Flags),
		Index:  lookup.Index(a.Index),
	}
}

// NewReply builds the wire reply for an engine reply.
func NewReply(xid uint32, r lookup.Reply) Reply {
	return Reply{
		XID:       xid,
		Status:    int32(r.Status),
		FSHandle:  uint32(r.FSHandle),
		Device:    uint32(r.Device),
		Index:     uint64(r.Index),
		Size:      r.Size,
		LinkCount: r.LinkCount,
	}
}

// Lookup converts the wire reply back into an engine reply.
func (r Reply) Lookup() lookup.Reply {
	return lookup.Reply{
		Status:    lookup.Status(r.Status),
		FSHandle:  lookup.FSHandle(r.FSHandle),
		Device:    lookup.Device(r.Device),
		Index:     lookup.Index(r.Index),
		Size:      r.Size,
		LinkCount: r.LinkCount,
	}
}

// EncodeCall encodes a call header followed by args. args may be nil for
// ProcNull.
func EncodeCall(xid, proc uint32, args any) ([]byte, error) {
	var buf bytes.Buffer
	if _, err := xdr.Marshal(&buf, &CallHeader{XID: xid, Proc: proc}); err != nil {
		return nil, fmt.Errorf("marshal call header: %w", err)
	}
	if args != nil {
		if _, err := xdr.Marshal(&buf, args); err != nil {
			return nil, fmt.Errorf("marshal %s args: %w", ProcName(proc), err)
		}
	}
	return buf.Bytes(), nil
}

// DecodeCall splits a call record into its header and the encoded
// arguments.
func DecodeCall(data []byte) (*CallHeader, []byte, error) {
	header := &CallHeader{}
	n, err := xdr.Unmarshal(bytes.NewReader(data), header)
	if err != nil {
		return nil, nil, fmt.Errorf("unmarshal call header: %w", err)
	}
	return header, data[n:], nil
}

// DecodeArgs decodes procedure arguments into v.
func DecodeArgs(data []byte, v any) error {
	if _, err := xdr.Unmarshal(bytes.NewReader(data), v); err != nil {
		return fmt.Errorf("unmarshal args: %w", err)
	}
	return nil
}

// EncodeReply encodes a reply.
func EncodeReply(r *Reply) ([]byte, error) {
	var buf bytes.Buffer
	if _, err := xdr.Marshal(&buf, r); err != nil {
		return nil, fmt.Errorf("marshal reply: %w", err)
	}
	return buf.Bytes(), nil
}

// DecodeReply decodes a reply.
func DecodeReply(data []byte) (*Reply, error) {
	r := &Reply{}
	if _, err := xdr.Unmarshal(bytes.NewReader(data), r); err != nil {
		return nil, fmt.Errorf("unmarshal reply: %w", err)
	}
	return r, nil
}
