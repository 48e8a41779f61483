package badger

import (
	"errors"
	"fmt"

	"github.com/dgraph-io/badger/v4"
	"github.com/marmos91/libfs/internal/logger"
	"github.com/marmos91/libfs/pkg/lookup"
)

func toHandle(n lookup.Node) *handle {
	h, ok := n.(*handle)
	if !ok {
		panic(fmt.Sprintf("badger: foreign node handle %T", n))
	}
	return h
}

// acquire lends out a handle. Callers hold s.mu.
func (s *Store) acquire(key handleKey, k kind) lookup.Node {
	s.refs[key]++
	s.handles++
	s.metrics.SetOpenHandles(s.handles)
	return &handle{handleKey: key, kind: k}
}

// release takes back a handle and deletes the node once it has neither
// links nor handles. Callers hold s.mu.
func (s *Store) release(key handleKey) {
	refs, ok := s.refs[key]
	if !ok {
		logger.Error("badger: node %d/%d released more often than acquired", key.dev, key.index)
		return
	}
	s.handles--
	s.metrics.SetOpenHandles(s.handles)
	if refs > 1 {
		s.refs[key] = refs - 1
		return
	}
	delete(s.refs, key)

	if err := s.freeIfUnlinked(key); err != nil {
		logger.Warn("badger: freeing node %d/%d: %v", key.dev, key.index, err)
	}
}

func (s *Store) freeIfUnlinked(key handleKey) error {
	freed := false
	err := s.update("free", func(txn *badger.Txn) error {
		freed = false
		rec, err := getNode(txn, key.dev, key.index)
		if errors.Is(err, badger.ErrKeyNotFound) {
			return nil
		}
		if err != nil {
			return err
		}
		if rec.Links > 0 || rec.Root {
			return nil
		}
		if err := txn.Delete(keyNode(key.dev, key.index)); err != nil {
			return err
		}
		freed = true
		return addNodes(txn, -1)
	})
	if err == nil && freed {
		s.publishNodes()
	}
	return err
}

func (s *Store) publishNodes() {
	if count, err := s.nodeCount(); err == nil {
		s.metrics.SetNodes(int64(count))
	}
}

// load reads a node and lends out a handle to it. A missing node yields
// nil.
func (s *Store) load(op string, dev lookup.Device, index func(txn *badger.Txn) (lookup.Index, error)) lookup.Node {
	s.mu.Lock()
	defer s.mu.Unlock()

	var key handleKey
	var rec *nodeRecord
	err := s.view(op, func(txn *badger.Txn) error {
		idx, err := index(txn)
		if err != nil {
			return err
		}
		key = handleKey{dev: dev, index: idx}
		rec, err = getNode(txn, dev, idx)
		return err
	})
	if errors.Is(err, badger.ErrKeyNotFound) {
		return nil
	}
	if err != nil {
		logger.Warn("badger: %s on device %d: %v", op, dev, err)
		return nil
	}
	return s.acquire(key, rec.Kind)
}

// RootGet implements lookup.Ops.
func (s *Store) RootGet(dev lookup.Device) lookup.Node {
	return s.load("root_get", dev, func(txn *badger.Txn) (lookup.Index, error) {
		item, err := txn.Get(keyRoot(dev))
		if err != nil {
			return 0, err
		}
		var idx lookup.Index
		err = item.Value(func(val []byte) error {
			idx, err = decodeIndex(val)
			return err
		})
		return idx, err
	})
}

// Match implements lookup.Ops.
func (s *Store) Match(parent lookup.Node, name string) lookup.Node {
	p := toHandle(parent)
	if p.kind != kindDirectory {
		return nil
	}
	return s.load("match", p.dev, func(txn *badger.Txn) (lookup.Index, error) {
		item, err := txn.Get(keyEntry(p.dev, p.index, name))
		if err != nil {
			return 0, err
		}
		var idx lookup.Index
		err = item.Value(func(val []byte) error {
			idx, err = decodeIndex(val)
			return err
		})
		return idx, err
	})
}

// NodeGet implements lookup.Ops.
func (s *Store) NodeGet(dev lookup.Device, index lookup.Index) lookup.Node {
	return s.load("node_get", dev, func(*badger.Txn) (lookup.Index, error) {
		return index, nil
	})
}

// HasChildren implements lookup.Ops. Empty directories have no children.
func (s *Store) HasChildren(n lookup.Node) bool {
	h := toHandle(n)
	if h.kind != kindDirectory {
		return false
	}
	var found bool
	err := s.view("has_children", func(txn *badger.Txn) error {
		found = hasEntries(txn, h.dev, h.index)
		return nil
	})
	return err == nil && found
}

// IsDirectory implements lookup.Ops.
func (s *Store) IsDirectory(n lookup.Node) bool {
	return toHandle(n).kind == kindDirectory
}

// IsFile implements lookup.Ops.
func (s *Store) IsFile(n lookup.Node) bool {
	return toHandle(n).kind == kindFile
}

// Create implements lookup.Ops.
func (s *Store) Create(dev lookup.Device, flags lookup.Flags) lookup.Node {
	k := kindFile
	if flags.Has(lookup.FlagDirectory) {
		k = kindDirectory
	}

	index, err := s.nextIndex()
	if err != nil {
		logger.Warn("badger: create on device %d: %v", dev, err)
		return nil
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	err = s.update("create", func(txn *badger.Txn) error {
		if _, err := txn.Get(keyRoot(dev)); err != nil {
			return err
		}
		if err := s.reserveNode(txn); err != nil {
			return err
		}
		return putNode(txn, dev, index, &nodeRecord{Kind: k})
	})
	if err != nil {
		if lookup.StatusOf(err) != lookup.StatusNoSpace {
			logger.Warn("badger: create on device %d: %v", dev, err)
		}
		return nil
	}
	s.publishNodes()
	return s.acquire(handleKey{dev: dev, index: index}, k)
}

// Link implements lookup.Ops.
func (s *Store) Link(parent, child lookup.Node, name string) error {
	p, c := toHandle(parent), toHandle(child)
	if p.kind != kindDirectory {
		return lookup.NewError(lookup.StatusNotDirectory, name, "parent %d is not a directory", p.index)
	}
	if p.dev != c.dev {
		return lookup.NewError(lookup.StatusInvalid, name, "cross-device link")
	}

	return s.update("link", func(txn *badger.Txn) error {
		entryKey := keyEntry(p.dev, p.index, name)
		if _, err := txn.Get(entryKey); err == nil {
			return lookup.NewError(lookup.StatusExists, name, "entry already exists")
		} else if !errors.Is(err, badger.ErrKeyNotFound) {
			return err
		}

		rec, err := getNode(txn, c.dev, c.index)
		if err != nil {
			return fmt.Errorf("link %q: %w", name, err)
		}
		if rec.Kind == kindDirectory && rec.Links > 0 {
			return lookup.NewError(lookup.StatusInvalid, name, "directory %d is already linked", c.index)
		}

		rec.Links++
		if rec.Kind == kindDirectory {
			rec.Parent = p.index
		}
		if err := putNode(txn, c.dev, c.index, rec); err != nil {
			return err
		}
		return txn.Set(entryKey, encodeIndex(c.index))
	})
}

var errEntryNotFound = errors.New("entry not found")

// Unlink implements lookup.Ops.
func (s *Store) Unlink(parent, n lookup.Node) lookup.Status {
	if parent == nil {
		return lookup.StatusBusy
	}
	p, c := toHandle(parent), toHandle(n)
	if p.kind != kindDirectory {
		return lookup.StatusNotDirectory
	}

	err := s.update("unlink", func(txn *badger.Txn) error {
		rec, err := getNode(txn, c.dev, c.index)
		if err != nil {
			return err
		}
		if rec.Kind == kindDirectory && hasEntries(txn, c.dev, c.index) {
			return lookup.StatusNotEmpty.Err()
		}

		entryKey, err := findEntry(txn, p.dev, p.index, c.index)
		if err != nil {
			return err
		}
		if err := txn.Delete(entryKey); err != nil {
			return err
		}

		if rec.Links > 0 {
			rec.Links--
		}
		if rec.Kind == kindDirectory {
			rec.Parent = 0
		}
		return putNode(txn, c.dev, c.index, rec)
	})

	switch {
	case err == nil:
		return lookup.StatusOK
	case errors.Is(err, errEntryNotFound), errors.Is(err, badger.ErrKeyNotFound):
		return lookup.StatusNotFound
	default:
		status := lookup.StatusOf(err)
		if status == lookup.StatusIO {
			logger.Warn("badger: unlink %d from %d: %v", c.index, p.index, err)
		}
		return status
	}
}

// findEntry returns the key of the entry in dir that points at target.
func findEntry(txn *badger.Txn, dev lookup.Device, dir, target lookup.Index) ([]byte, error) {
	opts := badger.DefaultIteratorOptions
	opts.Prefix = keyEntryPrefix(dev, dir)

	it := txn.NewIterator(opts)
	defer it.Close()

	for it.Rewind(); it.Valid(); it.Next() {
		item := it.Item()
		var idx lookup.Index
		err := item.Value(func(val []byte) error {
			var err error
			idx, err = decodeIndex(val)
			return err
		})
		if err != nil {
			return nil, err
		}
		if idx == target {
			return item.KeyCopy(nil), nil
		}
	}
	return nil, errEntryNotFound
}

// Destroy implements lookup.Ops. The handle is consumed even when the node
// is still linked and the call fails.
func (s *Store) Destroy(n lookup.Node) lookup.Status {
	h := toHandle(n)

	s.mu.Lock()
	defer s.mu.Unlock()

	var linked bool
	err := s.view("destroy", func(txn *badger.Txn) error {
		rec, err := getNode(txn, h.dev, h.index)
		if err != nil {
			return err
		}
		linked = rec.Links > 0
		return nil
	})

	// release frees the record when this was the last handle.
	s.release(h.handleKey)

	switch {
	case err != nil && !errors.Is(err, badger.ErrKeyNotFound):
		logger.Warn("badger: destroy %d: %v", h.index, err)
		return lookup.StatusIO
	case linked:
		return lookup.StatusBusy
	default:
		return lookup.StatusOK
	}
}

// IndexGet implements lookup.Ops.
func (s *Store) IndexGet(n lookup.Node) lookup.Index {
	return toHandle(n).index
}

// SizeGet implements lookup.Ops.
func (s *Store) SizeGet(n lookup.Node) uint64 {
	rec := s.record("size_get", toHandle(n))
	if rec == nil {
		return 0
	}
	return rec.Size
}

// LinkCountGet implements lookup.Ops.
func (s *Store) LinkCountGet(n lookup.Node) uint32 {
	rec := s.record("link_count_get", toHandle(n))
	if rec == nil {
		return 0
	}
	return rec.Links
}

func (s *Store) record(op string, h *handle) *nodeRecord {
	var rec *nodeRecord
	err := s.view(op, func(txn *badger.Txn) error {
		var err error
		rec, err = getNode(txn, h.dev, h.index)
		return err
	})
	if err != nil {
		logger.Warn("badger: %s %d: %v", op, h.index, err)
		return nil
	}
	return rec
}

// NodePut implements lookup.Ops.
func (s *Store) NodePut(n lookup.Node) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.release(toHandle(n).handleKey)
}
