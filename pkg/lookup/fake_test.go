package lookup

import (
	"testing"

	"github.com/marmos91/libfs/pkg/plb"
	"github.com/stretchr/testify/require"
)

type fakeKind int

const (
	kindDir fakeKind = iota
	kindFile
	kindOther
)

type fakeNode struct {
	index    Index
	kind     fakeKind
	size     uint64
	links    uint32
	children map[string]*fakeNode
	refs     int
}

// fakeOps is an in-memory tree that counts every handle it lends out and
// gets back.
type fakeOps struct {
	t         *testing.T
	root      *fakeNode
	nodes     map[Index]*fakeNode
	nextIndex Index

	acquired      int
	released      int
	doubleRelease int

	creates   int
	destroyed []*fakeNode

	linkErr     error
	createFails bool
	unlinkCalls int
}

func newFakeOps(t *testing.T) *fakeOps {
	f := &fakeOps{t: t, nodes: make(map[Index]*fakeNode), nextIndex: 1}
	f.root = f.alloc(kindDir)
	f.root.links = 1
	return f
}

func (f *fakeOps) alloc(kind fakeKind) *fakeNode {
	n := &fakeNode{index: f.nextIndex, kind: kind, children: make(map[string]*fakeNode)}
	f.nodes[n.index] = n
	f.nextIndex++
	return n
}

// add links a new node of kind under parent without going through the
// engine.
func (f *fakeOps) add(parent *fakeNode, name string, kind fakeKind, size uint64) *fakeNode {
	n := f.alloc(kind)
	n.size = size
	n.links = 1
	parent.children[name] = n
	return n
}

func (f *fakeOps) acquire(n *fakeNode) Node {
	if n == nil {
		return nil
	}
	n.refs++
	f.acquired++
	return n
}

func (f *fakeOps) node(n Node) *fakeNode {
	fn, ok := n.(*fakeNode)
	if !ok {
		f.t.Fatalf("unexpected node %#v", n)
	}
	return fn
}

func (f *fakeOps) outstanding() int {
	return f.acquired - f.released
}

func (f *fakeOps) RootGet(dev Device) Node { return f.acquire(f.root) }

func (f *fakeOps) Match(parent Node, name string) Node {
	child, ok := f.node(parent).children[name]
	if !ok {
		return nil
	}
	return f.acquire(child)
}

func (f *fakeOps) HasChildren(n Node) bool {
	fn := f.node(n)
	return fn.kind != kindFile && len(fn.children) > 0
}

func (f *fakeOps) IsDirectory(n Node) bool { return f.node(n).kind == kindDir }
func (f *fakeOps) IsFile(n Node) bool      { return f.node(n).kind == kindFile }

func (f *fakeOps) Create(dev Device, flags Flags) Node {
	f.creates++
	if f.createFails {
		return nil
	}
	kind := kindFile
	if flags.Has(FlagDirectory) {
		kind = kindDir
	}
	return f.acquire(f.alloc(kind))
}

func (f *fakeOps) NodeGet(dev Device, index Index) Node {
	n, ok := f.nodes[index]
	if !ok {
		return nil
	}
	return f.acquire(n)
}

func (f *fakeOps) Link(parent, child Node, name string) error {
	if f.linkErr != nil {
		return f.linkErr
	}
	p := f.node(parent)
	if _, ok := p.children[name]; ok {
		return &Error{Code: StatusExists, Name: name}
	}
	c := f.node(child)
	p.children[name] = c
	c.links++
	return nil
}

func (f *fakeOps) Unlink(parent, n Node) Status {
	f.unlinkCalls++
	if parent == nil {
		return StatusBusy
	}
	p, c := f.node(parent), f.node(n)
	if c.kind == kindDir && len(c.children) > 0 {
		return StatusNotEmpty
	}
	for name, child := range p.children {
		if child == c {
			delete(p.children, name)
			c.links--
			return StatusOK
		}
	}
	return StatusNotFound
}

func (f *fakeOps) Destroy(n Node) Status {
	fn := f.node(n)
	f.destroyed = append(f.destroyed, fn)
	f.release(fn)
	delete(f.nodes, fn.index)
	return StatusOK
}

func (f *fakeOps) IndexGet(n Node) Index       { return f.node(n).index }
func (f *fakeOps) SizeGet(n Node) uint64       { return f.node(n).size }
func (f *fakeOps) LinkCountGet(n Node) uint32  { return f.node(n).links }
func (f *fakeOps) NodePut(n Node)              { f.release(f.node(n)) }

func (f *fakeOps) release(n *fakeNode) {
	if n.refs == 0 {
		f.doubleRelease++
		return
	}
	n.refs--
	f.released++
}

// requireBalanced asserts that every handle lent out came back exactly once.
func (f *fakeOps) requireBalanced(t *testing.T) {
	t.Helper()
	require.Zero(t, f.doubleRelease, "double release")
	require.Zero(t, f.outstanding(), "leaked handles")
	for idx, n := range f.nodes {
		require.Zerof(t, n.refs, "node %d still referenced", idx)
	}
}

// testPLB writes path into a fresh buffer and returns it with its range.
func testPLB(t *testing.T, path string) (*plb.Buffer, plb.Range) {
	t.Helper()
	buf, err := plb.New(plb.DefaultSize)
	require.NoError(t, err)
	rng, err := buf.Put(path)
	require.NoError(t, err)
	return buf, rng
}

func resolvePath(t *testing.T, f *fakeOps, path string, flags Flags, index Index) Reply {
	t.Helper()
	buf, rng := testPLB(t, path)
	return Resolve(f, 7, buf, Request{Range: rng, Device: 3, Flags: flags, Index: index})
}
