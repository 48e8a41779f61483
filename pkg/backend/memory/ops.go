package memory

import (
	"github.com/marmos91/libfs/pkg/lookup"
)

// RootGet implements lookup.Ops.
func (s *Store) RootGet(dev lookup.Device) lookup.Node {
	s.mu.Lock()
	defer s.mu.Unlock()

	d, ok := s.devices[dev]
	if !ok {
		return nil
	}
	return s.acquire(d.root)
}

// Match implements lookup.Ops.
func (s *Store) Match(parent lookup.Node, name string) lookup.Node {
	s.mu.Lock()
	defer s.mu.Unlock()

	p := toNode(parent)
	if p.entries == nil {
		return nil
	}
	e, ok := p.entries.Get(entry{name: name})
	if !ok {
		return nil
	}
	return s.acquire(e.node)
}

// HasChildren implements lookup.Ops. Empty directories have no children.
func (s *Store) HasChildren(n lookup.Node) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	mn := toNode(n)
	return mn.entries != nil && mn.entries.Len() > 0
}

// IsDirectory implements lookup.Ops.
func (s *Store) IsDirectory(n lookup.Node) bool {
	return toNode(n).kind == kindDirectory
}

// IsFile implements lookup.Ops.
func (s *Store) IsFile(n lookup.Node) bool {
	return toNode(n).kind == kindFile
}

// Create implements lookup.Ops.
func (s *Store) Create(dev lookup.Device, flags lookup.Flags) lookup.Node {
	s.mu.Lock()
	defer s.mu.Unlock()

	d, ok := s.devices[dev]
	if !ok || s.full() {
		return nil
	}

	k := kindFile
	if flags.Has(lookup.FlagDirectory) {
		k = kindDirectory
	}
	return s.acquire(s.alloc(dev, d, k))
}

// NodeGet implements lookup.Ops.
func (s *Store) NodeGet(dev lookup.Device, index lookup.Index) lookup.Node {
	s.mu.Lock()
	defer s.mu.Unlock()

	d, ok := s.devices[dev]
	if !ok {
		return nil
	}
	return s.acquire(d.nodes[index])
}

// Link implements lookup.Ops.
func (s *Store) Link(parent, child lookup.Node, name string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	p, c := toNode(parent), toNode(child)
	if p.entries == nil {
		return lookup.NewError(lookup.StatusNotDirectory, name, "parent %d is not a directory", p.index)
	}
	if p.dev != c.dev {
		return lookup.NewError(lookup.StatusInvalid, name, "cross-device link")
	}
	if _, ok := p.entries.Get(entry{name: name}); ok {
		return lookup.NewError(lookup.StatusExists, name, "entry already exists")
	}
	if c.kind == kindDirectory && c.links > 0 {
		return lookup.NewError(lookup.StatusInvalid, name, "directory %d is already linked", c.index)
	}

	p.entries.ReplaceOrInsert(entry{name: name, node: c})
	c.links++
	if c.kind == kindDirectory {
		c.parent = p
	}
	return nil
}

// Unlink implements lookup.Ops.
func (s *Store) Unlink(parent, n lookup.Node) lookup.Status {
	if parent == nil {
		return lookup.StatusBusy
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	p, c := toNode(parent), toNode(n)
	if c.entries != nil && c.entries.Len() > 0 {
		return lookup.StatusNotEmpty
	}
	if p.entries == nil {
		return lookup.StatusNotDirectory
	}

	var found *entry
	p.entries.Ascend(func(e entry) bool {
		if e.node == c {
			found = &e
			return false
		}
		return true
	})
	if found == nil {
		return lookup.StatusNotFound
	}

	p.entries.Delete(*found)
	c.links--
	if c.kind == kindDirectory {
		c.parent = nil
	}
	s.maybeFree(c)
	return lookup.StatusOK
}

// Destroy implements lookup.Ops. The handle is consumed even when the node
// is still linked and the call fails.
func (s *Store) Destroy(n lookup.Node) lookup.Status {
	s.mu.Lock()
	defer s.mu.Unlock()

	c := toNode(n)
	if c.links > 0 {
		s.release(c)
		return lookup.StatusBusy
	}
	s.release(c)
	return lookup.StatusOK
}

// IndexGet implements lookup.Ops.
func (s *Store) IndexGet(n lookup.Node) lookup.Index {
	return toNode(n).index
}

// SizeGet implements lookup.Ops.
func (s *Store) SizeGet(n lookup.Node) uint64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return toNode(n).size
}

// LinkCountGet implements lookup.Ops.
func (s *Store) LinkCountGet(n lookup.Node) uint32 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return toNode(n).links
}

// NodePut implements lookup.Ops.
func (s *Store) NodePut(n lookup.Node) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.release(toNode(n))
}
