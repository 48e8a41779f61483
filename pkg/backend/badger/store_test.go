package badger

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/dgraph-io/badger/v4"
	"github.com/marmos91/libfs/pkg/backend"
	backendtesting "github.com/marmos91/libfs/pkg/backend/testing"
	"github.com/marmos91/libfs/pkg/lookup"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func openStore(t *testing.T, cfg Config) *Store {
	t.Helper()
	s, err := Open(context.Background(), cfg, nil)
	require.NoError(t, err)
	return s
}

func TestBadgerBackend(t *testing.T) {
	suite := &backendtesting.BackendTestSuite{
		NewBackend: func(t *testing.T, maxNodes uint64) backend.Backend {
			return openStore(t, Config{Path: t.TempDir(), MaxNodes: maxNodes})
		},
	}
	suite.Run(t)
}

func TestInMemoryBackend(t *testing.T) {
	suite := &backendtesting.BackendTestSuite{
		NewBackend: func(t *testing.T, maxNodes uint64) backend.Backend {
			return openStore(t, Config{InMemory: true, MaxNodes: maxNodes})
		},
	}
	suite.Run(t)
}

func TestTreeSurvivesReopen(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "db")

	s := openStore(t, Config{Path: dir})
	require.NoError(t, s.Mount(1))
	instance := s.InstanceID()

	root := s.RootGet(1)
	d := s.Create(1, lookup.FlagDirectory)
	require.NoError(t, s.Link(root, d, "d"))
	f := s.Create(1, lookup.FlagFile)
	require.NoError(t, s.Link(d, f, "f"))
	fileIndex := s.IndexGet(f)
	for _, n := range []lookup.Node{f, d, root} {
		s.NodePut(n)
	}
	require.NoError(t, s.Close())

	s = openStore(t, Config{Path: dir})
	defer func() { require.NoError(t, s.Close()) }()
	assert.Equal(t, instance, s.InstanceID())
	require.NoError(t, s.Mount(1))

	root = s.RootGet(1)
	d = s.Match(root, "d")
	require.NotNil(t, d)
	assert.True(t, s.HasChildren(d))
	f = s.Match(d, "f")
	require.NotNil(t, f)
	assert.Equal(t, fileIndex, s.IndexGet(f))
	assert.True(t, s.IsFile(f))
	assert.Equal(t, uint32(1), s.LinkCountGet(f))

	// New indices never collide with persisted ones.
	n := s.Create(1, lookup.FlagFile)
	assert.Greater(t, s.IndexGet(n), fileIndex)
	assert.Equal(t, lookup.StatusOK, s.Destroy(n))

	for _, n := range []lookup.Node{f, d, root} {
		s.NodePut(n)
	}
	nodes, err := s.Nodes()
	require.NoError(t, err)
	assert.Equal(t, uint64(3), nodes)
}

func TestOpenSweepsOrphans(t *testing.T) {
	dir := t.TempDir()

	s := openStore(t, Config{Path: dir})
	require.NoError(t, s.Mount(1))

	// Simulate a crash between create and link by writing an unlinked
	// record directly.
	require.NoError(t, s.db.Update(func(txn *badger.Txn) error {
		if err := putNode(txn, 1, 999, &nodeRecord{Kind: kindFile}); err != nil {
			return err
		}
		return addNodes(txn, 1)
	}))
	require.NoError(t, s.Close())

	s = openStore(t, Config{Path: dir})
	defer func() { require.NoError(t, s.Close()) }()

	assert.Nil(t, s.NodeGet(1, 999))
	nodes, err := s.Nodes()
	require.NoError(t, err)
	assert.Equal(t, uint64(1), nodes)
}

func TestKeyLayout(t *testing.T) {
	assert.Equal(t, "r:3", string(keyRoot(3)))
	assert.Equal(t, "n:3:42", string(keyNode(3, 42)))
	assert.Equal(t, "e:3:42:name", string(keyEntry(3, 42, "name")))
	assert.Equal(t, "e:3:4:", string(keyEntryPrefix(3, 4)))

	idx, err := decodeIndex(encodeIndex(1 << 40))
	require.NoError(t, err)
	assert.Equal(t, lookup.Index(1<<40), idx)

	_, err = decodeIndex([]byte{1, 2})
	assert.Error(t, err)
}
