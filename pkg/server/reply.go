package server

import (
	"github.com/marmos91/libfs/internal/logger"
	"github.com/marmos91/libfs/pkg/lookup"
	"github.com/marmos91/libfs/pkg/wire"
)

// replier answers one call. The first send goes on the wire; any later one
// is a handler bug, logged and dropped.
type replier struct {
	conn *conn
	xid  uint32
	proc string

	sent   bool
	status lookup.Status
	err    error
}

func (r *replier) send(reply lookup.Reply) error {
	if r.sent {
		logger.Error("Dropping second reply to %s XID=0x%x on %s: already answered %s, now %s",
			r.proc, r.xid, r.conn.id, r.status, reply)
		return nil
	}
	r.sent = true
	r.status = reply.Status

	msg := wire.NewReply(r.xid, reply)
	data, err := wire.EncodeReply(&msg)
	if err == nil {
		err = wire.WriteRecord(r.conn.conn, data)
	}
	r.err = err
	return err
}
