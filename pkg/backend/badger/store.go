// Package badger implements a persistent node store on BadgerDB.
//
// Node records, directory entries and device roots live in the database.
// Handle reference counts are process-local: a node whose last link is
// removed is deleted once the last handle to it is put back, and records
// left unlinked by a crash are swept when the store is opened.
package badger

import (
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/dgraph-io/badger/v4"
	"github.com/dgraph-io/badger/v4/options"
	"github.com/google/uuid"
	"github.com/marmos91/libfs/internal/logger"
	"github.com/marmos91/libfs/pkg/lookup"
	"github.com/marmos91/libfs/pkg/metrics"
)

// Type is the back-end type name used in configuration and metrics.
const Type = "badger"

const (
	// sequenceBandwidth is how many indices are leased from the database at
	// a time.
	sequenceBandwidth = 128

	// maxConflictRetries bounds retries of a transaction that lost a race.
	maxConflictRetries = 32
)

// Config configures the BadgerDB store.
type Config struct {
	// Path is the database directory. It is created if missing.
	Path string `mapstructure:"path" yaml:"path"`

	// InMemory keeps the database in memory; Path is ignored.
	InMemory bool `mapstructure:"in_memory" yaml:"in_memory"`

	// MaxNodes caps the number of stored nodes, roots included. 0 means
	// unlimited.
	MaxNodes uint64 `mapstructure:"max_nodes" yaml:"max_nodes"`

	// BlockCacheSizeMB is BadgerDB's block cache size in MB (default: 64).
	BlockCacheSizeMB int64 `mapstructure:"block_cache_size_mb" yaml:"block_cache_size_mb"`

	// IndexCacheSizeMB is BadgerDB's index cache size in MB (default: 32).
	IndexCacheSizeMB int64 `mapstructure:"index_cache_size_mb" yaml:"index_cache_size_mb"`
}

type handleKey struct {
	dev   lookup.Device
	index lookup.Index
}

// handle is the lookup.Node lent out by the store. Each borrow gets its own
// value; reference counts are kept per node in Store.refs.
type handle struct {
	handleKey
	kind kind
}

// Store is a BadgerDB-backed lookup.Ops implementation.
//
// Thread Safety:
// Structural changes run in BadgerDB transactions and are retried on
// conflict. mu guards the reference counts and serialises freeing a node
// against handing out a new handle to it.
type Store struct {
	db       *badger.DB
	seq      *badger.Sequence
	instance uuid.UUID
	maxNodes uint64
	metrics  metrics.BackendMetrics

	mu      sync.Mutex
	refs    map[handleKey]int
	handles int64
}

// Open opens (or creates) a store.
//
// Parameters:
//   - ctx: Context for cancellation during initialization
//   - cfg: Database location, limits and cache sizes
//   - m: Metrics sink; nil records nothing
//
// Returns:
//   - *Store: A store ready for use
//   - error: Error if the database cannot be opened or initialized
func Open(ctx context.Context, cfg Config, m metrics.BackendMetrics) (*Store, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if m == nil {
		m = metrics.NewNoopBackendMetrics()
	}

	opts := badger.DefaultOptions(cfg.Path)
	if cfg.InMemory {
		opts = badger.DefaultOptions("").WithInMemory(true)
	}
	opts = opts.WithLoggingLevel(badger.WARNING)
	opts = opts.WithCompression(options.None) // records are tiny

	blockCacheMB := cfg.BlockCacheSizeMB
	if blockCacheMB == 0 {
		blockCacheMB = 64
	}
	indexCacheMB := cfg.IndexCacheSizeMB
	if indexCacheMB == 0 {
		indexCacheMB = 32
	}
	opts = opts.WithBlockCacheSize(blockCacheMB << 20)
	opts = opts.WithIndexCacheSize(indexCacheMB << 20)

	db, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("failed to open BadgerDB at %s: %w", cfg.Path, err)
	}

	seq, err := db.GetSequence(keySequence, sequenceBandwidth)
	if err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to lease index sequence: %w", err)
	}

	s := &Store{
		db:       db,
		seq:      seq,
		maxNodes: cfg.MaxNodes,
		metrics:  m,
		refs:     make(map[handleKey]int),
	}

	if err := s.initialize(ctx); err != nil {
		_ = seq.Release()
		_ = db.Close()
		return nil, err
	}
	return s, nil
}

// initialize loads or creates the instance id and sweeps orphaned nodes.
func (s *Store) initialize(ctx context.Context) error {
	err := s.db.Update(func(txn *badger.Txn) error {
		item, err := txn.Get(keyInstance)
		if errors.Is(err, badger.ErrKeyNotFound) {
			s.instance = uuid.New()
			return txn.Set(keyInstance, []byte(s.instance.String()))
		}
		if err != nil {
			return err
		}
		return item.Value(func(val []byte) error {
			id, err := uuid.ParseBytes(val)
			if err != nil {
				return fmt.Errorf("invalid instance id: %w", err)
			}
			s.instance = id
			return nil
		})
	})
	if err != nil {
		return fmt.Errorf("failed to initialize instance id: %w", err)
	}

	swept, err := s.sweepOrphans(ctx)
	if err != nil {
		return fmt.Errorf("failed to sweep orphaned nodes: %w", err)
	}
	if swept > 0 {
		logger.Info("badger: removed %d unlinked nodes left by a previous run", swept)
	}

	count, err := s.nodeCount()
	if err != nil {
		return err
	}
	s.metrics.SetNodes(int64(count))
	return nil
}

// sweepOrphans deletes non-root records with no links. No handles exist
// yet, so every such record is unreachable.
func (s *Store) sweepOrphans(ctx context.Context) (int, error) {
	var orphans [][]byte
	err := s.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.Prefix = []byte(prefixNode)

		it := txn.NewIterator(opts)
		defer it.Close()

		for it.Rewind(); it.Valid(); it.Next() {
			if err := ctx.Err(); err != nil {
				return err
			}
			item := it.Item()
			err := item.Value(func(val []byte) error {
				rec, err := decodeNode(val)
				if err != nil {
					return err
				}
				if rec.Links == 0 && !rec.Root {
					orphans = append(orphans, item.KeyCopy(nil))
				}
				return nil
			})
			if err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil || len(orphans) == 0 {
		return 0, err
	}

	err = s.update("sweep", func(txn *badger.Txn) error {
		for _, key := range orphans {
			if err := txn.Delete(key); err != nil {
				return err
			}
		}
		return addNodes(txn, -int64(len(orphans)))
	})
	return len(orphans), err
}

// Type implements backend.Backend.
func (s *Store) Type() string { return Type }

// InstanceID identifies this database across restarts.
func (s *Store) InstanceID() uuid.UUID { return s.instance }

// OpenHandles returns the number of borrowed handles.
func (s *Store) OpenHandles() int64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.handles
}

// Nodes returns the number of stored nodes.
func (s *Store) Nodes() (uint64, error) {
	return s.nodeCount()
}

// Close releases the index sequence and closes the database.
func (s *Store) Close() error {
	if n := s.OpenHandles(); n != 0 {
		logger.Warn("badger: closing with %d node handles outstanding", n)
	}
	if err := s.seq.Release(); err != nil {
		logger.Warn("badger: releasing index sequence: %v", err)
	}
	if err := s.db.Close(); err != nil {
		return fmt.Errorf("failed to close BadgerDB: %w", err)
	}
	return nil
}

// Mount creates the root directory of dev unless it already exists.
func (s *Store) Mount(dev lookup.Device) error {
	index, err := s.nextIndex()
	if err != nil {
		return err
	}

	created := false
	err = s.update("mount", func(txn *badger.Txn) error {
		created = false
		if _, err := txn.Get(keyRoot(dev)); err == nil {
			return nil
		} else if !errors.Is(err, badger.ErrKeyNotFound) {
			return err
		}
		if err := s.reserveNode(txn); err != nil {
			return err
		}
		if err := putNode(txn, dev, index, &nodeRecord{Kind: kindDirectory, Links: 1, Root: true}); err != nil {
			return err
		}
		created = true
		return txn.Set(keyRoot(dev), encodeIndex(index))
	})
	if err != nil {
		return fmt.Errorf("badger: mount device %d: %w", dev, err)
	}
	if created {
		logger.Debug("badger: created root %d for device %d", index, dev)
	}
	return nil
}

func (s *Store) nextIndex() (lookup.Index, error) {
	v, err := s.seq.Next()
	if err != nil {
		return 0, fmt.Errorf("failed to allocate node index: %w", err)
	}
	// Index 0 is never handed out.
	return lookup.Index(v + 1), nil
}

// update runs fn in a read-write transaction, retrying on conflicts, and
// records the operation.
func (s *Store) update(op string, fn func(txn *badger.Txn) error) error {
	start := time.Now()
	var err error
	for range maxConflictRetries {
		err = s.db.Update(fn)
		if !errors.Is(err, badger.ErrConflict) {
			break
		}
	}
	s.metrics.RecordStorageOperation(op, time.Since(start), err)
	return err
}

// view runs fn in a read-only transaction and records the operation.
func (s *Store) view(op string, fn func(txn *badger.Txn) error) error {
	start := time.Now()
	err := s.db.View(fn)
	s.metrics.RecordStorageOperation(op, time.Since(start), err)
	return err
}

func (s *Store) nodeCount() (uint64, error) {
	var count uint64
	err := s.db.View(func(txn *badger.Txn) error {
		var err error
		count, err = readNodes(txn)
		return err
	})
	return count, err
}

// reserveNode accounts for one more node, failing with OutOfSpace at the
// quota.
func (s *Store) reserveNode(txn *badger.Txn) error {
	count, err := readNodes(txn)
	if err != nil {
		return err
	}
	if s.maxNodes > 0 && count >= s.maxNodes {
		return lookup.NewError(lookup.StatusNoSpace, "", "node quota of %d reached", s.maxNodes)
	}
	return writeNodes(txn, count+1)
}

func readNodes(txn *badger.Txn) (uint64, error) {
	item, err := txn.Get(keyNodes)
	if errors.Is(err, badger.ErrKeyNotFound) {
		return 0, nil
	}
	if err != nil {
		return 0, err
	}
	var count uint64
	err = item.Value(func(val []byte) error {
		if len(val) != 8 {
			return fmt.Errorf("invalid node count length: %d", len(val))
		}
		count = binary.BigEndian.Uint64(val)
		return nil
	})
	return count, err
}

func writeNodes(txn *badger.Txn, count uint64) error {
	buf := make([]byte, 8)
	binary.BigEndian.PutUint64(buf, count)
	return txn.Set(keyNodes, buf)
}

func addNodes(txn *badger.Txn, delta int64) error {
	count, err := readNodes(txn)
	if err != nil {
		return err
	}
	next := int64(count) + delta
	if next < 0 {
		next = 0
	}
	return writeNodes(txn, uint64(next))
}

func getNode(txn *badger.Txn, dev lookup.Device, index lookup.Index) (*nodeRecord, error) {
	item, err := txn.Get(keyNode(dev, index))
	if err != nil {
		return nil, err
	}
	var rec *nodeRecord
	err = item.Value(func(val []byte) error {
		rec, err = decodeNode(val)
		return err
	})
	return rec, err
}

func putNode(txn *badger.Txn, dev lookup.Device, index lookup.Index, rec *nodeRecord) error {
	data, err := encodeNode(rec)
	if err != nil {
		return err
	}
	return txn.Set(keyNode(dev, index), data)
}

// hasEntries reports whether the directory has at least one entry.
func hasEntries(txn *badger.Txn, dev lookup.Device, dir lookup.Index) bool {
	opts := badger.DefaultIteratorOptions
	opts.PrefetchValues = false
	opts.Prefix = keyEntryPrefix(dev, dir)

	it := txn.NewIterator(opts)
	defer it.Close()

	it.Rewind()
	return it.Valid()
}
