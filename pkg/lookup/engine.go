package lookup

import (
	"time"

	"github.com/marmos91/libfs/internal/logger"
	"github.com/marmos91/libfs/pkg/metrics"
	"github.com/marmos91/libfs/pkg/plb"
)

// Resolve runs one lookup against ops and returns its reply.
//
// fs is echoed in successful replies. buf holds the path referenced by
// req.Range. Components are limited to DefaultNameMax-1 bytes.
func Resolve(ops Ops, fs FSHandle, buf plb.Reader, req Request) Reply {
	w := newWalk(ops, fs, buf, DefaultNameMax, req)
	return w.run()
}

// Engine binds the lookup algorithm to one back-end and PLB, adding
// logging and metrics around each call.
type Engine struct {
	ops      Ops
	fsHandle FSHandle
	plb      plb.Reader
	nameMax  int
	metrics  metrics.LookupMetrics
	backend  string
}

// Option configures an Engine.
type Option func(*Engine)

// WithNameMax overrides DefaultNameMax.
func WithNameMax(n int) Option {
	return func(e *Engine) {
		if n > 1 {
			e.nameMax = n
		}
	}
}

// WithMetrics records every lookup in m.
func WithMetrics(m metrics.LookupMetrics, backend string) Option {
	return func(e *Engine) {
		if m != nil {
			e.metrics = m
			e.backend = backend
		}
	}
}

// NewEngine creates an engine for one back-end.
func NewEngine(ops Ops, fs FSHandle, buf plb.Reader, opts ...Option) *Engine {
	e := &Engine{
		ops:      ops,
		fsHandle: fs,
		plb:      buf,
		nameMax:  DefaultNameMax,
		metrics:  metrics.NewNoopLookupMetrics(),
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// FSHandle returns the file-system handle echoed in replies.
func (e *Engine) FSHandle() FSHandle {
	return e.fsHandle
}

// Resolve runs one lookup.
func (e *Engine) Resolve(req Request) Reply {
	start := time.Now()

	w := newWalk(e.ops, e.fsHandle, e.plb, e.nameMax, req)
	reply := w.run()

	e.metrics.RecordLookup(e.backend, w.rule, reply.Status.String(), time.Since(start))
	if w.rolledBack {
		e.metrics.RecordRollback(e.backend)
	}

	if logger.IsEnabled(logger.LevelDebug) {
		logger.Debug("lookup dev=%d path=%q flags=%s outcome=%s reply=%s",
			req.Device, plb.Text(e.plb, req.Range), req.Flags, w.rule, reply)
	}
	return reply
}

// walk is the state of one lookup.
type walk struct {
	ops     Ops
	fs      FSHandle
	req     Request
	nameMax int
	cur     cursor
	h       handles

	// rule names the terminal outcome, for logs and metrics.
	rule string

	// rolledBack is set when a created node was destroyed after a failed link.
	rolledBack bool
}

func newWalk(ops Ops, fs FSHandle, buf plb.Reader, nameMax int, req Request) *walk {
	return &walk{
		ops:     ops,
		fs:      fs,
		req:     req,
		nameMax: nameMax,
		cur:     newCursor(buf, req.Range),
		h:       handles{ops: ops},
	}
}

func (w *walk) run() Reply {
	defer w.h.release()

	w.h.current.set(w.ops.RootGet(w.req.Device))
	if !w.h.current.held() {
		// Unknown device. Callers normally validate it first.
		return w.fail("root", StatusNotFound)
	}
	w.cur.skipSeparator()

	for w.cur.more() && w.ops.HasChildren(w.h.current.node) {
		name, status := w.cur.component(w.nameMax)
		if status != StatusOK {
			w.reportMalformed(status)
			return w.fail("component", status)
		}

		w.h.candidate.set(w.ops.Match(w.h.current.node, name))
		if !w.h.candidate.held() {
			return w.miss(name)
		}
		w.h.descend()
	}

	if w.cur.more() {
		// current is a leaf but the path continues.
		return w.trailing()
	}
	return w.finish()
}

// miss handles a component that is not among current's children.
func (w *walk) miss(name string) Reply {
	flags := w.req.Flags
	switch {
	case w.cur.more():
		return w.fail("miss-intermediate", StatusNotFound)
	case flags.Any(FlagCreate | FlagLink):
		if !w.ops.IsDirectory(w.h.current.node) {
			return w.fail("attach", StatusNotDirectory)
		}
		return w.attach(name)
	case flags.Has(FlagParent):
		if !w.h.promoteParent() {
			return w.fail("miss-parent", StatusNotFound)
		}
		w.rule = "miss-parent"
		return w.describe(w.h.current.node)
	default:
		return w.fail("miss", StatusNotFound)
	}
}

// trailing handles components left over below a node that cannot have
// children. Only a single component under a creation flag is acceptable.
func (w *walk) trailing() Reply {
	if !w.req.Flags.Any(FlagCreate | FlagLink) {
		return w.fail("trailing", StatusNotFound)
	}
	if !w.ops.IsDirectory(w.h.current.node) {
		return w.fail("attach", StatusNotDirectory)
	}

	name, status := w.cur.finalComponent(w.nameMax)
	if status != StatusOK {
		w.reportMalformed(status)
		return w.fail("trailing", status)
	}
	return w.attach(name)
}

// attach creates (FlagCreate) or fetches (FlagLink) a node and links it
// under current as name. A created node whose link fails is destroyed.
func (w *walk) attach(name string) Reply {
	created := w.req.Flags.Has(FlagCreate)

	var n Node
	if created {
		n = w.ops.Create(w.req.Device, w.req.Flags)
	} else {
		n = w.ops.NodeGet(w.req.Device, w.req.Index)
	}
	w.h.candidate.set(n)
	if !w.h.candidate.held() {
		return w.fail("attach", StatusNoSpace)
	}

	if err := w.ops.Link(w.h.current.node, n, name); err != nil {
		if created {
			if status := w.ops.Destroy(w.h.candidate.take()); status != StatusOK {
				logger.Warn("lookup: destroying unlinked node %q: %s", name, status)
			}
			w.rolledBack = true
		}
		return w.fail("attach", StatusOf(err))
	}

	w.rule = "attach"
	return w.describe(n)
}

// reportMalformed logs an empty component, which only a caller that skipped
// canonicalisation can produce. Only this request is aborted.
func (w *walk) reportMalformed(status Status) {
	if status == StatusInvalid {
		logger.Error("lookup: empty component at offset %d on dev=%d, path is not canonical",
			w.cur.next, w.req.Device)
	}
}

func (w *walk) fail(rule string, status Status) Reply {
	w.rule = rule
	return Failure(status)
}

// describe builds a success reply from n's metadata.
func (w *walk) describe(n Node) Reply {
	return Reply{
		Status:    StatusOK,
		FSHandle:  w.fs,
		Device:    w.req.Device,
		Index:     w.ops.IndexGet(n),
		Size:      w.ops.SizeGet(n),
		LinkCount: w.ops.LinkCountGet(n),
	}
}
