package server

import (
	"context"
	"errors"
	"fmt"
	"net"
	"sync"

	"github.com/marmos91/libfs/pkg/lookup"
	"github.com/marmos91/libfs/pkg/plb"
	"github.com/marmos91/libfs/pkg/wire"
)

// ErrXIDMismatch is returned when a reply does not answer the call that
// was sent.
var ErrXIDMismatch = errors.New("server: reply XID does not match call")

// Client is the dispatcher side of a connection. It keeps its own PLB,
// mirrors every path it places there to the server and then asks for the
// lookup by range.
//
// A Client is safe for concurrent use; calls are serialised.
type Client struct {
	mu      sync.Mutex
	conn    net.Conn
	plb     *plb.Buffer
	nextXID uint32
	maxSize int
}

// Dial connects to a server at addr.
func Dial(ctx context.Context, addr string) (*Client, error) {
	var d net.Dialer
	c, err := d.DialContext(ctx, "tcp", addr)
	if err != nil {
		return nil, fmt.Errorf("dial %s: %w", addr, err)
	}

	client, err := NewClient(ctx, c)
	if err != nil {
		_ = c.Close()
		return nil, err
	}
	return client, nil
}

// NewClient wraps an established connection. The server's PLB size is
// learned with a null call so both copies wrap at the same offsets.
func NewClient(ctx context.Context, c net.Conn) (*Client, error) {
	client := &Client{conn: c, nextXID: 1, maxSize: wire.DefaultMaxRecordSize}

	reply, err := client.call(ctx, wire.ProcNull, nil)
	if err != nil {
		return nil, fmt.Errorf("null call: %w", err)
	}
	if reply.Status != int32(lookup.StatusOK) {
		return nil, fmt.Errorf("null call: %w", lookup.Status(reply.Status).Err())
	}

	buf, err := plb.New(int(reply.Size))
	if err != nil {
		return nil, fmt.Errorf("server PLB: %w", err)
	}
	client.plb = buf
	return client, nil
}

// PLBSize returns the capacity of the shared buffer.
func (c *Client) PLBSize() uint64 {
	return c.plb.Size()
}

// Null pings the server.
func (c *Client) Null(ctx context.Context) error {
	reply, err := c.call(ctx, wire.ProcNull, nil)
	if err != nil {
		return err
	}
	return lookup.Status(reply.Status).Err()
}

// Lookup canonicalises path and resolves it on device. index is only used
// with lookup.FlagLink.
//
// Transport failures are returned as errors; lookup outcomes, including
// failures, come back in the reply.
func (c *Client) Lookup(ctx context.Context, dev lookup.Device, path string, flags lookup.Flags, index lookup.Index) (lookup.Reply, error) {
	canonical, err := plb.Canonicalize(path)
	if err != nil {
		return lookup.Reply{}, err
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	rng, err := c.plb.Put(canonical)
	if err != nil {
		return lookup.Reply{}, err
	}

	reply, err := c.callLocked(ctx, wire.ProcPLBWrite, &wire.PLBWriteArgs{
		Offset: uint64(rng.Next),
		Data:   []byte(canonical),
	})
	if err != nil {
		return lookup.Reply{}, err
	}
	if status := lookup.Status(reply.Status); status != lookup.StatusOK {
		return lookup.Failure(status), nil
	}

	args := wire.LookupArgsFromRequest(lookup.Request{
		Range:  rng,
		Device: dev,
		Flags:  flags,
		Index:  index,
	})
	reply, err = c.callLocked(ctx, wire.ProcLookup, &args)
	if err != nil {
		return lookup.Reply{}, err
	}
	return reply.Lookup(), nil
}

// Close closes the connection.
func (c *Client) Close() error {
	return c.conn.Close()
}

func (c *Client) call(ctx context.Context, proc uint32, args any) (*wire.Reply, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.callLocked(ctx, proc, args)
}

func (c *Client) callLocked(ctx context.Context, proc uint32, args any) (*wire.Reply, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	// No deadline clears any previous one.
	deadline, _ := ctx.Deadline()
	if err := c.conn.SetDeadline(deadline); err != nil {
		return nil, fmt.Errorf("set deadline: %w", err)
	}

	xid := c.nextXID
	c.nextXID++

	data, err := wire.EncodeCall(xid, proc, args)
	if err != nil {
		return nil, err
	}
	if err := wire.WriteRecord(c.conn, data); err != nil {
		return nil, err
	}

	record, err := wire.ReadRecord(c.conn, c.maxSize)
	if err != nil {
		return nil, fmt.Errorf("read %s reply: %w", wire.ProcName(proc), err)
	}
	reply, err := wire.DecodeReply(record)
	if err != nil {
		return nil, err
	}
	if reply.XID != xid {
		return nil, fmt.Errorf("%w: sent 0x%x, got 0x%x", ErrXIDMismatch, xid, reply.XID)
	}
	return reply, nil
}
