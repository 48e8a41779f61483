package server

import (
	"context"
	"io"
	"net"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/marmos91/libfs/internal/ratelimiter"
	"github.com/marmos91/libfs/pkg/backend/memory"
	"github.com/marmos91/libfs/pkg/lookup"
	"github.com/marmos91/libfs/pkg/plb"
	"github.com/marmos91/libfs/pkg/registry"
	"github.com/marmos91/libfs/pkg/wire"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const (
	devMain     lookup.Device   = 1
	devReadOnly lookup.Device   = 2
	devRemote   lookup.Device   = 3
	testFS      lookup.FSHandle = 7
)

type recordingMetrics struct {
	mu        sync.Mutex
	requests  map[string]int
	throttled atomic.Int32
	accepted  atomic.Int32
	closed    atomic.Int32
}

func newRecordingMetrics() *recordingMetrics {
	return &recordingMetrics{requests: make(map[string]int)}
}

func (m *recordingMetrics) RecordRequest(procedure, status string, _ time.Duration) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.requests[procedure+"/"+status]++
}

func (m *recordingMetrics) count(key string) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.requests[key]
}

func (m *recordingMetrics) RecordThrottled()           { m.throttled.Add(1) }
func (m *recordingMetrics) SetActiveConnections(int32) {}
func (m *recordingMetrics) RecordConnectionAccepted()  { m.accepted.Add(1) }
func (m *recordingMetrics) RecordConnectionClosed()    { m.closed.Add(1) }

type testServer struct {
	server  *Server
	metrics *recordingMetrics
	addr    string
	cancel  context.CancelFunc
	done    chan error
}

func startServer(t *testing.T, cfg Config) *testServer {
	t.Helper()

	reg := registry.NewRegistry()
	require.NoError(t, reg.RegisterBackend("main", memory.New(memory.Config{}, nil)))
	require.NoError(t, reg.AddDevice(&registry.MountConfig{Device: devMain, FSHandle: testFS, Backend: "main"}))
	require.NoError(t, reg.AddDevice(&registry.MountConfig{Device: devReadOnly, FSHandle: testFS, Backend: "main", ReadOnly: true}))
	require.NoError(t, reg.AddDevice(&registry.MountConfig{
		Device: devRemote, FSHandle: testFS, Backend: "main",
		AllowedClients: []string{"10.0.0.0/8"},
	}))
	t.Cleanup(func() { _ = reg.Close() })

	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)

	m := newRecordingMetrics()
	ctx, cancel := context.WithCancel(context.Background())
	ts := &testServer{
		server:  New(cfg, reg, m, nil),
		metrics: m,
		addr:    ln.Addr().String(),
		cancel:  cancel,
		done:    make(chan error, 1),
	}
	go func() { ts.done <- ts.server.Serve(ctx, ln) }()

	t.Cleanup(func() {
		cancel()
		select {
		case <-ts.done:
		case <-time.After(5 * time.Second):
			t.Error("server did not stop")
		}
	})
	return ts
}

func dial(t *testing.T, ts *testServer) *Client {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	c, err := Dial(ctx, ts.addr)
	require.NoError(t, err)
	t.Cleanup(func() { _ = c.Close() })
	return c
}

func lookupPath(t *testing.T, c *Client, dev lookup.Device, path string, flags lookup.Flags) lookup.Reply {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	reply, err := c.Lookup(ctx, dev, path, flags, 0)
	require.NoError(t, err)
	return reply
}

func TestLookupOverConnection(t *testing.T) {
	ts := startServer(t, Config{})
	c := dial(t, ts)
	assert.EqualValues(t, 4096, c.PLBSize())

	root := lookupPath(t, c, devMain, "/", lookup.FlagNone)
	require.True(t, root.OK(), root.String())
	assert.Equal(t, testFS, root.FSHandle)
	assert.Equal(t, devMain, root.Device)

	dir := lookupPath(t, c, devMain, "/docs", lookup.FlagCreate|lookup.FlagDirectory)
	require.True(t, dir.OK(), dir.String())
	assert.EqualValues(t, 1, dir.LinkCount)

	file := lookupPath(t, c, devMain, "/docs/readme", lookup.FlagCreate|lookup.FlagFile)
	require.True(t, file.OK(), file.String())

	again := lookupPath(t, c, devMain, "//docs/./tmp/../readme/", lookup.FlagNone)
	require.True(t, again.OK(), again.String())
	assert.Equal(t, file.Index, again.Index)

	exclusive := lookupPath(t, c, devMain, "/docs/readme", lookup.FlagCreate|lookup.FlagExclusive)
	assert.Equal(t, lookup.StatusExists, exclusive.Status)

	parent := lookupPath(t, c, devMain, "/docs/readme", lookup.FlagParent)
	require.True(t, parent.OK(), parent.String())
	assert.Equal(t, dir.Index, parent.Index)

	unlinked := lookupPath(t, c, devMain, "/docs/readme", lookup.FlagUnlink)
	assert.Equal(t, lookup.StatusOK, unlinked.Status)
	assert.Equal(t, file.Index, unlinked.Index)
	assert.EqualValues(t, 1, unlinked.LinkCount)

	gone := lookupPath(t, c, devMain, "/docs/readme", lookup.FlagNone)
	assert.Equal(t, lookup.StatusNotFound, gone.Status)

	require.Eventually(t, func() bool {
		return ts.metrics.count("lookup/OK") >= 5 && ts.metrics.count("plb_write/OK") >= 8
	}, time.Second, 10*time.Millisecond)
}

func TestLinkOverConnection(t *testing.T) {
	ts := startServer(t, Config{})
	c := dial(t, ts)

	file := lookupPath(t, c, devMain, "/orig", lookup.FlagCreate|lookup.FlagFile)
	require.True(t, file.OK())

	ctx := context.Background()
	linked, err := c.Lookup(ctx, devMain, "/alias", lookup.FlagLink, file.Index)
	require.NoError(t, err)
	require.True(t, linked.OK(), linked.String())
	assert.Equal(t, file.Index, linked.Index)
	assert.EqualValues(t, 2, linked.LinkCount)
}

func TestPLBWrapsAcrossLookups(t *testing.T) {
	ts := startServer(t, Config{PLBSize: 16})
	c := dial(t, ts)
	assert.EqualValues(t, 16, c.PLBSize())

	created := lookupPath(t, c, devMain, "/abcdef", lookup.FlagCreate|lookup.FlagFile)
	require.True(t, created.OK(), created.String())

	// Seven-byte paths in a 16-byte buffer keep landing on wrapped ranges.
	for i := 0; i < 5; i++ {
		r := lookupPath(t, c, devMain, "/abcdef", lookup.FlagNone)
		require.True(t, r.OK(), "lookup %d: %s", i, r)
		assert.Equal(t, created.Index, r.Index)
	}

	odd := lookupPath(t, c, devMain, "/abc", lookup.FlagNone)
	assert.Equal(t, lookup.StatusNotFound, odd.Status)
	again := lookupPath(t, c, devMain, "/abcdef", lookup.FlagNone)
	assert.True(t, again.OK(), again.String())
}

func TestLookupUnknownDevice(t *testing.T) {
	ts := startServer(t, Config{})
	c := dial(t, ts)

	r := lookupPath(t, c, 99, "/", lookup.FlagNone)
	assert.Equal(t, lookup.StatusNotFound, r.Status)
}

func TestReadOnlyDevice(t *testing.T) {
	ts := startServer(t, Config{})
	c := dial(t, ts)

	assert.True(t, lookupPath(t, c, devReadOnly, "/", lookup.FlagNone).OK())
	for _, flags := range []lookup.Flags{lookup.FlagCreate, lookup.FlagLink, lookup.FlagUnlink} {
		r := lookupPath(t, c, devReadOnly, "/x", flags)
		assert.Equal(t, lookup.StatusAccess, r.Status, flags.String())
	}
}

func TestAllowedClients(t *testing.T) {
	ts := startServer(t, Config{})
	c := dial(t, ts)

	r := lookupPath(t, c, devRemote, "/", lookup.FlagNone)
	assert.Equal(t, lookup.StatusAccess, r.Status)
}

func TestPerClientRateLimit(t *testing.T) {
	ts := startServer(t, Config{
		PerClientRateLimit: ratelimiter.Config{RequestsPerSecond: 1, Burst: 1},
	})

	// The null call made while connecting takes the only token.
	c := dial(t, ts)
	err := c.Null(context.Background())
	assert.Equal(t, lookup.StatusBusy, lookup.StatusOf(err))
	assert.EqualValues(t, 1, ts.metrics.throttled.Load())
}

func rawCall(t *testing.T, nc net.Conn, xid, proc uint32, args any) *wire.Reply {
	t.Helper()
	data, err := wire.EncodeCall(xid, proc, args)
	require.NoError(t, err)
	require.NoError(t, wire.WriteRecord(nc, data))

	record, err := wire.ReadRecord(nc, 0)
	require.NoError(t, err)
	reply, err := wire.DecodeReply(record)
	require.NoError(t, err)
	return reply
}

func TestUnknownProcedure(t *testing.T) {
	ts := startServer(t, Config{})
	nc, err := net.Dial("tcp", ts.addr)
	require.NoError(t, err)
	defer nc.Close()

	reply := rawCall(t, nc, 9, 42, nil)
	assert.EqualValues(t, 9, reply.XID)
	assert.Equal(t, lookup.StatusNotSupported, lookup.Status(reply.Status))

	// The connection stays usable.
	reply = rawCall(t, nc, 10, wire.ProcNull, nil)
	assert.EqualValues(t, 10, reply.XID)
	assert.Equal(t, lookup.StatusOK, lookup.Status(reply.Status))
	assert.EqualValues(t, 4096, reply.Size)
}

func TestOversizedPLBWrite(t *testing.T) {
	ts := startServer(t, Config{PLBSize: 32})
	nc, err := net.Dial("tcp", ts.addr)
	require.NoError(t, err)
	defer nc.Close()

	reply := rawCall(t, nc, 1, wire.ProcPLBWrite, &wire.PLBWriteArgs{Offset: 0, Data: make([]byte, 33)})
	assert.Equal(t, lookup.StatusInvalid, lookup.Status(reply.Status))
}

func TestLookupRangeOutsidePLB(t *testing.T) {
	ts := startServer(t, Config{PLBSize: 32})
	nc, err := net.Dial("tcp", ts.addr)
	require.NoError(t, err)
	defer nc.Close()

	for i, rng := range []plb.Range{
		{Next: 1, Last: 0xFFFFFFFF},
		{Next: 32, Last: 0},
		{Next: 0, Last: 32},
	} {
		reply := rawCall(t, nc, uint32(20+i), wire.ProcLookup, &wire.LookupArgs{
			Next: rng.Next, Last: rng.Last, Device: 1,
		})
		assert.Equal(t, lookup.StatusInvalid, lookup.Status(reply.Status), "range %s", rng)
	}

	// The connection stays usable.
	reply := rawCall(t, nc, 30, wire.ProcNull, nil)
	assert.Equal(t, lookup.StatusOK, lookup.Status(reply.Status))
}

func TestMalformedCallClosesConnection(t *testing.T) {
	ts := startServer(t, Config{})
	nc, err := net.Dial("tcp", ts.addr)
	require.NoError(t, err)
	defer nc.Close()

	require.NoError(t, wire.WriteRecord(nc, []byte{0x01}))
	_ = nc.SetReadDeadline(time.Now().Add(5 * time.Second))
	_, err = wire.ReadRecord(nc, 0)
	assert.ErrorIs(t, err, io.EOF)
}

func TestGracefulShutdown(t *testing.T) {
	ts := startServer(t, Config{ShutdownTimeout: 5 * time.Second})
	c := dial(t, ts)
	require.NoError(t, c.Null(context.Background()))

	// An idle connection must not hold up shutdown.
	ts.cancel()
	select {
	case err := <-ts.done:
		assert.NoError(t, err)
		ts.done <- err
	case <-time.After(5 * time.Second):
		t.Fatal("Serve did not return")
	}

	assert.Error(t, c.Null(context.Background()))
	assert.Eventually(t, func() bool {
		return ts.metrics.accepted.Load() == ts.metrics.closed.Load()
	}, time.Second, 10*time.Millisecond)
}

func TestReplierSendsOnce(t *testing.T) {
	server, client := net.Pipe()
	defer client.Close()

	c := &conn{conn: server, id: "pipe"}
	rp := &replier{conn: c, xid: 3, proc: wire.ProcName(wire.ProcLookup)}

	records := make(chan []byte, 2)
	go func() {
		for {
			record, err := wire.ReadRecord(client, 0)
			if err != nil {
				close(records)
				return
			}
			records <- record
		}
	}()

	require.NoError(t, rp.send(lookup.Failure(lookup.StatusNotFound)))
	require.NoError(t, rp.send(lookup.Reply{Status: lookup.StatusOK, Index: 4}))
	require.NoError(t, server.Close())

	var got []*wire.Reply
	for record := range records {
		reply, err := wire.DecodeReply(record)
		require.NoError(t, err)
		got = append(got, reply)
	}
	require.Len(t, got, 1)
	assert.EqualValues(t, 3, got[0].XID)
	assert.Equal(t, lookup.StatusNotFound, lookup.Status(got[0].Status))
	assert.Equal(t, lookup.StatusNotFound, rp.status)
}
