// Package memory implements an in-memory node store.
//
// Directory entries are kept in a B-tree per directory so that names stay
// ordered. Nothing survives a restart.
package memory

import (
	"fmt"
	"sync"

	"github.com/google/btree"
	"github.com/marmos91/libfs/internal/logger"
	"github.com/marmos91/libfs/pkg/lookup"
	"github.com/marmos91/libfs/pkg/metrics"
)

// Type is the back-end type name used in configuration and metrics.
const Type = "memory"

// btreeDegree is the branching factor of directory entry trees.
const btreeDegree = 16

// Config configures the in-memory store.
type Config struct {
	// MaxNodes caps the number of allocated nodes across all devices,
	// roots included. Create fails with OutOfSpace once it is reached.
	// 0 means unlimited.
	MaxNodes uint64 `mapstructure:"max_nodes" yaml:"max_nodes"`
}

type kind int

const (
	kindFile kind = iota
	kindDirectory
)

type node struct {
	dev   lookup.Device
	index lookup.Index
	kind  kind
	size  uint64
	links uint32

	// refs counts handles lent out by the store.
	refs int

	// entries is nil for files.
	entries *btree.BTreeG[entry]

	// parent is the directory holding a linked directory.
	parent *node
}

type entry struct {
	name string
	node *node
}

func entryLess(a, b entry) bool {
	return a.name < b.name
}

type device struct {
	root      *node
	nodes     map[lookup.Index]*node
	nextIndex lookup.Index
}

// Store is an in-memory lookup.Ops implementation.
//
// Thread Safety:
// Every operation takes the store mutex, so concurrent lookups interleave
// at operation granularity.
type Store struct {
	mu       sync.Mutex
	devices  map[lookup.Device]*device
	maxNodes uint64
	nodes    uint64
	handles  int64
	metrics  metrics.BackendMetrics
}

// New creates an empty store. Devices must be mounted before use.
func New(cfg Config, m metrics.BackendMetrics) *Store {
	if m == nil {
		m = metrics.NewNoopBackendMetrics()
	}
	return &Store{
		devices:  make(map[lookup.Device]*device),
		maxNodes: cfg.MaxNodes,
		metrics:  m,
	}
}

// Type implements backend.Backend.
func (s *Store) Type() string { return Type }

// Mount creates the root directory of dev.
func (s *Store) Mount(dev lookup.Device) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.devices[dev]; ok {
		return nil
	}
	if s.full() {
		return fmt.Errorf("memory: mount device %d: %w", dev, lookup.StatusNoSpace.Err())
	}

	d := &device{nodes: make(map[lookup.Index]*node), nextIndex: 1}
	s.devices[dev] = d
	d.root = s.alloc(dev, d, kindDirectory)
	// The root is never unlinked, so it is never freed.
	d.root.links = 1

	logger.Debug("memory: mounted device %d", dev)
	return nil
}

// Close drops every device.
func (s *Store) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.handles != 0 {
		logger.Warn("memory: closing with %d node handles outstanding", s.handles)
	}
	s.devices = make(map[lookup.Device]*device)
	s.nodes = 0
	s.metrics.SetNodes(0)
	return nil
}

// OpenHandles returns the number of borrowed handles.
func (s *Store) OpenHandles() int64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.handles
}

// Nodes returns the number of allocated nodes across all devices.
func (s *Store) Nodes() uint64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.nodes
}

func (s *Store) full() bool {
	return s.maxNodes > 0 && s.nodes >= s.maxNodes
}

func (s *Store) alloc(dev lookup.Device, d *device, k kind) *node {
	n := &node{dev: dev, index: d.nextIndex, kind: k}
	if k == kindDirectory {
		n.entries = btree.NewG(btreeDegree, entryLess)
	}
	d.nodes[n.index] = n
	d.nextIndex++
	s.nodes++
	s.metrics.SetNodes(int64(s.nodes))
	return n
}

// acquire lends out a handle to n. It returns an untyped nil for a nil n.
func (s *Store) acquire(n *node) lookup.Node {
	if n == nil {
		return nil
	}
	n.refs++
	s.handles++
	s.metrics.SetOpenHandles(s.handles)
	return n
}

// release takes back a handle and frees n when nothing references it.
func (s *Store) release(n *node) {
	if n.refs == 0 {
		logger.Error("memory: node %d/%d released more often than acquired", n.dev, n.index)
		return
	}
	n.refs--
	s.handles--
	s.metrics.SetOpenHandles(s.handles)
	s.maybeFree(n)
}

func (s *Store) maybeFree(n *node) {
	if n.links > 0 || n.refs > 0 {
		return
	}
	d, ok := s.devices[n.dev]
	if !ok {
		return
	}
	if _, ok := d.nodes[n.index]; !ok {
		return
	}
	delete(d.nodes, n.index)
	s.nodes--
	s.metrics.SetNodes(int64(s.nodes))
}

func toNode(n lookup.Node) *node {
	mn, ok := n.(*node)
	if !ok {
		panic(fmt.Sprintf("memory: foreign node handle %T", n))
	}
	return mn
}
