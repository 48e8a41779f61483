package server

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"os"
	"time"

	"github.com/google/uuid"
	"github.com/marmos91/libfs/internal/logger"
	"github.com/marmos91/libfs/pkg/lookup"
	"github.com/marmos91/libfs/pkg/plb"
	"github.com/marmos91/libfs/pkg/wire"
)

type conn struct {
	server *Server
	conn   net.Conn
	id     string
	client string // remote host, the per-client rate limit key
	plb    *plb.Buffer
}

func newConn(s *Server, c net.Conn) *conn {
	client := c.RemoteAddr().String()
	if host, _, err := net.SplitHostPort(client); err == nil {
		client = host
	}

	// The size was validated by applyDefaults.
	buf, _ := plb.New(s.config.PLBSize)

	return &conn{
		server: s,
		conn:   c,
		id:     uuid.NewString(),
		client: client,
		plb:    buf,
	}
}

// serve handles calls until the peer disconnects or the server shuts down.
// A call being handled when shutdown starts is still answered.
func (c *conn) serve(ctx context.Context) {
	remote := c.conn.RemoteAddr().String()

	c.server.registry.RecordSession(c.id, remote, time.Now().Unix())
	logger.Debug("Connection %s from %s opened", c.id, remote)

	done := make(chan struct{})
	defer func() {
		if r := recover(); r != nil {
			logger.Error("Panic in connection %s from %s: %v", c.id, remote, r)
		}
		close(done)
		_ = c.conn.Close()
		c.server.registry.RemoveSession(c.id)
		logger.Debug("Connection %s from %s closed", c.id, remote)
	}()

	// Unblock a pending read on shutdown.
	go func() {
		select {
		case <-ctx.Done():
		case <-c.server.shutdown:
		case <-done:
			return
		}
		_ = c.conn.SetReadDeadline(time.Now())
	}()

	for {
		record, err := wire.ReadRecord(c.conn, c.server.config.MaxRecordSize)
		if err != nil {
			switch {
			case errors.Is(err, io.EOF):
				logger.Debug("Connection %s closed by peer", c.id)
			case errors.Is(err, os.ErrDeadlineExceeded):
				logger.Debug("Connection %s stopped for shutdown", c.id)
			default:
				logger.Debug("Error reading from connection %s: %v", c.id, err)
			}
			return
		}

		if err := c.handleCall(ctx, record); err != nil {
			logger.Debug("Connection %s: %v", c.id, err)
			return
		}
	}
}

// handleCall decodes and answers one call. An error means the connection
// is unusable.
func (c *conn) handleCall(ctx context.Context, record []byte) (err error) {
	header, args, err := wire.DecodeCall(record)
	if err != nil {
		// Without a header there is no XID to answer.
		return fmt.Errorf("malformed call: %w", err)
	}

	start := time.Now()
	proc := wire.ProcName(header.Proc)
	rp := &replier{conn: c, xid: header.XID, proc: proc}
	defer func() {
		if r := recover(); r != nil {
			logger.Error("Panic handling %s XID=0x%x on %s: %v", proc, header.XID, c.id, r)
		}
		if !rp.sent {
			// Every call is answered, even when the handler failed to.
			if sendErr := rp.send(lookup.Failure(lookup.StatusIO)); sendErr != nil && err == nil {
				err = sendErr
			}
		}
		if err == nil {
			err = rp.err
		}
		c.server.metrics.RecordRequest(proc, rp.status.String(), time.Since(start))
	}()

	logger.Debug("Call XID=0x%x proc=%s on %s", header.XID, proc, c.id)

	if !c.server.limiter.Allow(c.client) {
		c.server.metrics.RecordThrottled()
		return rp.send(lookup.Failure(lookup.StatusBusy))
	}

	switch header.Proc {
	case wire.ProcNull:
		// The PLB capacity lets the dispatcher size its own buffer.
		return rp.send(lookup.Reply{Status: lookup.StatusOK, Size: c.plb.Size()})

	case wire.ProcPLBWrite:
		var a wire.PLBWriteArgs
		if err := wire.DecodeArgs(args, &a); err != nil {
			logger.Debug("Bad PLB write on %s: %v", c.id, err)
			return rp.send(lookup.Failure(lookup.StatusInvalid))
		}
		if err := c.plb.WriteAt(a.Offset, a.Data); err != nil {
			logger.Debug("PLB write on %s rejected: %v", c.id, err)
			return rp.send(lookup.Failure(lookup.StatusInvalid))
		}
		return rp.send(lookup.Reply{Status: lookup.StatusOK})

	case wire.ProcLookup:
		var a wire.LookupArgs
		if err := wire.DecodeArgs(args, &a); err != nil {
			logger.Debug("Bad lookup on %s: %v", c.id, err)
			return rp.send(lookup.Failure(lookup.StatusInvalid))
		}
		req := a.Request()
		if err := req.Range.Check(c.plb.Size()); err != nil {
			logger.Debug("Lookup on %s rejected: %v", c.id, err)
			return rp.send(lookup.Failure(lookup.StatusInvalid))
		}
		return rp.send(c.server.resolve(c.plb, c.conn.RemoteAddr().String(), req))

	default:
		logger.Debug("Unknown procedure %d on %s", header.Proc, c.id)
		return rp.send(lookup.Failure(lookup.StatusNotSupported))
	}
}

// resolve runs a lookup for a remote or in-process caller.
func (s *Server) resolve(buf plb.Reader, clientAddr string, req lookup.Request) lookup.Reply {
	m, err := s.registry.Resolve(req.Device)
	if err != nil {
		return lookup.Failure(lookup.StatusOf(err))
	}
	if status := m.Authorize(clientAddr, req.Flags); status != lookup.StatusOK {
		logger.Debug("Lookup on device %d refused for %s: %s", req.Device, clientAddr, status)
		return lookup.Failure(status)
	}

	engine := lookup.NewEngine(m.Ops, m.FSHandle, buf,
		lookup.WithNameMax(s.config.NameMax),
		lookup.WithMetrics(s.lookupMetrics, m.Backend))
	return engine.Resolve(req)
}
