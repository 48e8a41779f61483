package testing

import (
	"fmt"
	"sync"
	"testing"

	"github.com/marmos91/libfs/pkg/backend"
	"github.com/marmos91/libfs/pkg/lookup"
	"github.com/marmos91/libfs/pkg/plb"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// Devices mounted by the suite before each test.
const (
	DeviceA lookup.Device = 1
	DeviceB lookup.Device = 2
)

const testFSHandle lookup.FSHandle = 11

// BackendTestSuite checks a back-end against the lookup contract by driving
// it through the engine, so it covers the behaviour callers observe rather
// than implementation details.
//
// Usage:
//
//	func TestMyBackend(t *testing.T) {
//	    suite := &testing.BackendTestSuite{
//	        NewBackend: func(t *testing.T, maxNodes uint64) backend.Backend {
//	            return mybackend.New(maxNodes)
//	        },
//	    }
//	    suite.Run(t)
//	}
type BackendTestSuite struct {
	// NewBackend creates a fresh back-end with no devices mounted. maxNodes
	// is the node quota, 0 for unlimited. The suite closes it.
	NewBackend func(t *testing.T, maxNodes uint64) backend.Backend
}

// Run executes all tests in the suite.
func (suite *BackendTestSuite) Run(t *testing.T) {
	t.Run("Resolve", suite.RunResolveTests)
	t.Run("Create", suite.RunCreateTests)
	t.Run("Link", suite.RunLinkTests)
	t.Run("Unlink", suite.RunUnlinkTests)
	t.Run("Destroy", suite.RunDestroyTests)
	t.Run("Quota", suite.RunQuotaTests)
	t.Run("Devices", suite.RunDeviceTests)
	t.Run("Concurrency", suite.RunConcurrencyTests)
}

// fixture is a mounted back-end plus a PLB to write request paths into.
type fixture struct {
	t   *testing.T
	b   backend.Backend
	buf *plb.Buffer
}

func (suite *BackendTestSuite) setup(t *testing.T, maxNodes uint64, devices ...lookup.Device) *fixture {
	t.Helper()

	b := suite.NewBackend(t, maxNodes)
	t.Cleanup(func() {
		assert.Zero(t, b.OpenHandles(), "handles outstanding at end of test")
		assert.NoError(t, b.Close())
	})

	if len(devices) == 0 {
		devices = []lookup.Device{DeviceA, DeviceB}
	}
	for _, dev := range devices {
		require.NoError(t, b.Mount(dev))
	}

	buf, err := plb.New(plb.DefaultSize)
	require.NoError(t, err)
	return &fixture{t: t, b: b, buf: buf}
}

func (f *fixture) resolveOn(dev lookup.Device, path string, flags lookup.Flags, index lookup.Index) lookup.Reply {
	f.t.Helper()

	rng, err := f.buf.Put(path)
	require.NoError(f.t, err)

	reply := lookup.Resolve(f.b, testFSHandle, f.buf, lookup.Request{
		Range: rng, Device: dev, Flags: flags, Index: index,
	})
	require.Zerof(f.t, f.b.OpenHandles(), "handles leaked by %s %s", path, flags)
	return reply
}

func (f *fixture) resolve(path string, flags lookup.Flags) lookup.Reply {
	f.t.Helper()
	return f.resolveOn(DeviceA, path, flags, 0)
}

// mustCreate creates path and returns its reply.
func (f *fixture) mustCreate(path string, flags lookup.Flags) lookup.Reply {
	f.t.Helper()
	reply := f.resolve(path, lookup.FlagCreate|lookup.FlagExclusive|flags)
	require.Equalf(f.t, lookup.StatusOK, reply.Status, "create %s", path)
	return reply
}

// RunResolveTests covers lookups that do not modify the tree.
func (suite *BackendTestSuite) RunResolveTests(t *testing.T) {
	t.Run("RootIsAnEmptyDirectory", func(t *testing.T) {
		f := suite.setup(t, 0)

		root := f.resolve("/", lookup.FlagDirectory)
		require.Equal(t, lookup.StatusOK, root.Status)
		assert.Equal(t, testFSHandle, root.FSHandle)
		assert.Equal(t, DeviceA, root.Device)
		assert.Equal(t, uint32(1), root.LinkCount)

		assert.Equal(t, lookup.StatusIsDirectory, f.resolve("/", lookup.FlagFile).Status)
		assert.Equal(t, lookup.StatusNotFound, f.resolve("/x", lookup.FlagNone).Status)
	})

	t.Run("NestedPath", func(t *testing.T) {
		f := suite.setup(t, 0)
		d := f.mustCreate("/d", lookup.FlagDirectory)
		e := f.mustCreate("/d/e", lookup.FlagDirectory)
		x := f.mustCreate("/d/e/x", lookup.FlagFile)

		got := f.resolve("/d/e/x", lookup.FlagFile)
		require.Equal(t, lookup.StatusOK, got.Status)
		assert.Equal(t, x.Index, got.Index)
		assert.Zero(t, got.Size)

		assert.Equal(t, e.Index, f.resolve("/d/e/x", lookup.FlagParent).Index)
		assert.Equal(t, d.Index, f.resolve("/d/e/missing", lookup.FlagParent).Index)
		assert.Equal(t, lookup.StatusNotFound, f.resolve("/d/missing/x", lookup.FlagNone).Status)
		assert.Equal(t, lookup.StatusNotFound, f.resolve("/d/e/x/y", lookup.FlagNone).Status)
		assert.Equal(t, lookup.StatusNotDirectory, f.resolve("/d/e/x", lookup.FlagDirectory).Status)
		assert.Equal(t, lookup.StatusIsDirectory, f.resolve("/d/e", lookup.FlagFile).Status)
	})

	t.Run("UnknownDevice", func(t *testing.T) {
		f := suite.setup(t, 0)
		assert.Equal(t, lookup.StatusNotFound, f.resolveOn(99, "/", lookup.FlagNone, 0).Status)
	})
}

// RunCreateTests covers FlagCreate.
func (suite *BackendTestSuite) RunCreateTests(t *testing.T) {
	t.Run("FileInEmptyRoot", func(t *testing.T) {
		f := suite.setup(t, 0)

		reply := f.mustCreate("/f", lookup.FlagFile)
		assert.Equal(t, uint32(1), reply.LinkCount)
		assert.Zero(t, reply.Size)
		assert.NotZero(t, reply.Index)

		again := f.resolve("/f", lookup.FlagFile)
		assert.Equal(t, reply.Index, again.Index)
	})

	t.Run("KindFollowsFlags", func(t *testing.T) {
		f := suite.setup(t, 0)
		f.mustCreate("/d", lookup.FlagDirectory)
		f.mustCreate("/f", lookup.FlagNone)

		assert.Equal(t, lookup.StatusOK, f.resolve("/d", lookup.FlagDirectory).Status)
		assert.Equal(t, lookup.StatusNotDirectory, f.resolve("/f", lookup.FlagDirectory).Status)
	})

	t.Run("Exclusive", func(t *testing.T) {
		f := suite.setup(t, 0)
		first := f.mustCreate("/f", lookup.FlagFile)

		assert.Equal(t, lookup.StatusExists, f.resolve("/f", lookup.FlagCreate|lookup.FlagExclusive).Status)

		reopened := f.resolve("/f", lookup.FlagCreate)
		require.Equal(t, lookup.StatusOK, reopened.Status)
		assert.Equal(t, first.Index, reopened.Index)
	})

	t.Run("UnderFile", func(t *testing.T) {
		f := suite.setup(t, 0)
		f.mustCreate("/f", lookup.FlagFile)

		assert.Equal(t, lookup.StatusNotDirectory, f.resolve("/f/x", lookup.FlagCreate).Status)
	})

	t.Run("MissingIntermediate", func(t *testing.T) {
		f := suite.setup(t, 0)
		f.mustCreate("/d", lookup.FlagDirectory)

		assert.Equal(t, lookup.StatusNotFound, f.resolve("/d/x/y", lookup.FlagCreate).Status)
		assert.Equal(t, lookup.StatusNotFound, f.resolve("/d/x", lookup.FlagNone).Status)
	})

	t.Run("NameTooLong", func(t *testing.T) {
		f := suite.setup(t, 0)
		long := make([]byte, lookup.DefaultNameMax)
		for i := range long {
			long[i] = 'n'
		}

		assert.Equal(t, lookup.StatusNameTooLong, f.resolve("/"+string(long), lookup.FlagCreate).Status)
		f.mustCreate("/"+string(long[1:]), lookup.FlagFile)
	})
}

// RunLinkTests covers FlagLink.
func (suite *BackendTestSuite) RunLinkTests(t *testing.T) {
	t.Run("HardLink", func(t *testing.T) {
		f := suite.setup(t, 0)
		orig := f.mustCreate("/f", lookup.FlagFile)
		f.mustCreate("/d", lookup.FlagDirectory)

		linked := f.resolveOn(DeviceA, "/d/g", lookup.FlagLink, orig.Index)
		require.Equal(t, lookup.StatusOK, linked.Status)
		assert.Equal(t, orig.Index, linked.Index)
		assert.Equal(t, uint32(2), linked.LinkCount)

		assert.Equal(t, uint32(2), f.resolve("/f", lookup.FlagNone).LinkCount)
	})

	t.Run("OntoExistingName", func(t *testing.T) {
		f := suite.setup(t, 0)
		orig := f.mustCreate("/f", lookup.FlagFile)
		f.mustCreate("/g", lookup.FlagFile)

		assert.Equal(t, lookup.StatusExists, f.resolveOn(DeviceA, "/g", lookup.FlagLink, orig.Index).Status)
	})

	t.Run("DirectoryRejected", func(t *testing.T) {
		f := suite.setup(t, 0)
		d := f.mustCreate("/d", lookup.FlagDirectory)

		assert.Equal(t, lookup.StatusInvalid, f.resolveOn(DeviceA, "/d2", lookup.FlagLink, d.Index).Status)
		assert.Equal(t, lookup.StatusNotFound, f.resolve("/d2", lookup.FlagNone).Status)
	})

	t.Run("UnknownIndex", func(t *testing.T) {
		f := suite.setup(t, 0)
		assert.Equal(t, lookup.StatusNoSpace, f.resolveOn(DeviceA, "/g", lookup.FlagLink, 1<<40).Status)
	})
}

// RunUnlinkTests covers FlagUnlink.
func (suite *BackendTestSuite) RunUnlinkTests(t *testing.T) {
	t.Run("ReportsCountBeforeUnlink", func(t *testing.T) {
		f := suite.setup(t, 0)
		orig := f.mustCreate("/f", lookup.FlagFile)
		f.mustCreate("/d", lookup.FlagDirectory)
		require.True(t, f.resolveOn(DeviceA, "/d/g", lookup.FlagLink, orig.Index).OK())

		reply := f.resolve("/d/g", lookup.FlagUnlink)
		require.Equal(t, lookup.StatusOK, reply.Status)
		assert.Equal(t, orig.Index, reply.Index)
		assert.Equal(t, uint32(2), reply.LinkCount)

		assert.Equal(t, lookup.StatusNotFound, f.resolve("/d/g", lookup.FlagNone).Status)
		assert.Equal(t, uint32(1), f.resolve("/f", lookup.FlagNone).LinkCount)
	})

	t.Run("SeveralLinksInOneDirectory", func(t *testing.T) {
		f := suite.setup(t, 0)
		f.mustCreate("/d", lookup.FlagDirectory)
		orig := f.mustCreate("/d/b", lookup.FlagFile)
		require.True(t, f.resolveOn(DeviceA, "/d/a", lookup.FlagLink, orig.Index).OK())

		// Unlink names no entry, so the first one in name order goes.
		reply := f.resolve("/d/b", lookup.FlagUnlink)
		require.Equal(t, lookup.StatusOK, reply.Status)
		assert.Equal(t, uint32(2), reply.LinkCount)

		assert.Equal(t, lookup.StatusNotFound, f.resolve("/d/a", lookup.FlagNone).Status)
		remaining := f.resolve("/d/b", lookup.FlagNone)
		require.Equal(t, lookup.StatusOK, remaining.Status)
		assert.Equal(t, orig.Index, remaining.Index)
		assert.Equal(t, uint32(1), remaining.LinkCount)
	})

	t.Run("LastLinkFreesNode", func(t *testing.T) {
		f := suite.setup(t, 0)
		orig := f.mustCreate("/f", lookup.FlagFile)

		reply := f.resolve("/f", lookup.FlagUnlink)
		require.Equal(t, lookup.StatusOK, reply.Status)
		assert.Equal(t, uint32(1), reply.LinkCount)

		assert.Equal(t, lookup.StatusNoSpace, f.resolveOn(DeviceA, "/g", lookup.FlagLink, orig.Index).Status)
	})

	t.Run("NonEmptyDirectory", func(t *testing.T) {
		f := suite.setup(t, 0)
		d := f.mustCreate("/d", lookup.FlagDirectory)
		f.mustCreate("/d/e", lookup.FlagFile)

		reply := f.resolve("/d", lookup.FlagUnlink)
		assert.Equal(t, lookup.StatusNotEmpty, reply.Status)
		assert.Equal(t, d.Index, reply.Index)
		assert.Equal(t, uint32(1), reply.LinkCount)

		require.True(t, f.resolve("/d/e", lookup.FlagUnlink).OK())
		require.True(t, f.resolve("/d", lookup.FlagUnlink|lookup.FlagDirectory).OK())
		assert.Equal(t, lookup.StatusNotFound, f.resolve("/d", lookup.FlagNone).Status)
	})

	t.Run("ParentOfTopLevel", func(t *testing.T) {
		f := suite.setup(t, 0)
		f.mustCreate("/d", lookup.FlagDirectory)

		assert.Equal(t, lookup.StatusBusy, f.resolve("/d", lookup.FlagUnlink|lookup.FlagParent).Status)
		assert.Equal(t, lookup.StatusOK, f.resolve("/d", lookup.FlagNone).Status)
	})

	t.Run("Missing", func(t *testing.T) {
		f := suite.setup(t, 0)
		assert.Equal(t, lookup.StatusNotFound, f.resolve("/nope", lookup.FlagUnlink).Status)
	})
}

// RunDestroyTests calls Destroy directly, as the engine only does so on a
// failed link.
func (suite *BackendTestSuite) RunDestroyTests(t *testing.T) {
	t.Run("Unlinked", func(t *testing.T) {
		f := suite.setup(t, 0)

		n := f.b.Create(DeviceA, lookup.FlagFile)
		require.NotNil(t, n)
		index := f.b.IndexGet(n)
		assert.Equal(t, uint32(0), f.b.LinkCountGet(n))

		assert.Equal(t, lookup.StatusOK, f.b.Destroy(n))
		assert.Zero(t, f.b.OpenHandles())
		assert.Nil(t, f.b.NodeGet(DeviceA, index))
	})

	t.Run("LinkedIsBusy", func(t *testing.T) {
		f := suite.setup(t, 0)

		root := f.b.RootGet(DeviceA)
		n := f.b.Create(DeviceA, lookup.FlagFile)
		require.NoError(t, f.b.Link(root, n, "f"))
		f.b.NodePut(root)

		assert.Equal(t, lookup.StatusBusy, f.b.Destroy(n))
		assert.Zero(t, f.b.OpenHandles())
		assert.True(t, f.resolve("/f", lookup.FlagFile).OK())
	})

	t.Run("LinkErrorsCarryStatus", func(t *testing.T) {
		f := suite.setup(t, 0)
		f.mustCreate("/f", lookup.FlagFile)

		root := f.b.RootGet(DeviceA)
		n := f.b.Create(DeviceA, lookup.FlagFile)
		err := f.b.Link(root, n, "f")
		assert.Equal(t, lookup.StatusExists, lookup.StatusOf(err))
		assert.Equal(t, lookup.StatusOK, f.b.Destroy(n))
		f.b.NodePut(root)
	})
}

// RunQuotaTests covers OutOfSpace.
func (suite *BackendTestSuite) RunQuotaTests(t *testing.T) {
	// The root counts against the quota.
	f := suite.setup(t, 2, DeviceA)

	f.mustCreate("/a", lookup.FlagFile)
	assert.Equal(t, lookup.StatusNoSpace, f.resolve("/b", lookup.FlagCreate).Status)

	require.True(t, f.resolve("/a", lookup.FlagUnlink).OK())
	f.mustCreate("/b", lookup.FlagFile)
}

// RunDeviceTests checks that devices are independent trees.
func (suite *BackendTestSuite) RunDeviceTests(t *testing.T) {
	f := suite.setup(t, 0)

	a := f.resolveOn(DeviceA, "/shared", lookup.FlagCreate|lookup.FlagFile, 0)
	require.True(t, a.OK())
	assert.Equal(t, lookup.StatusNotFound, f.resolveOn(DeviceB, "/shared", lookup.FlagNone, 0).Status)

	b := f.resolveOn(DeviceB, "/shared", lookup.FlagCreate|lookup.FlagDirectory, 0)
	require.True(t, b.OK())
	assert.Equal(t, DeviceB, b.Device)
	assert.Equal(t, lookup.StatusNotDirectory, f.resolveOn(DeviceA, "/shared", lookup.FlagDirectory, 0).Status)

	// Mounting again keeps the existing tree.
	require.NoError(t, f.b.Mount(DeviceA))
	assert.True(t, f.resolveOn(DeviceA, "/shared", lookup.FlagFile, 0).OK())
}

// RunConcurrencyTests runs independent lookups from several goroutines.
func (suite *BackendTestSuite) RunConcurrencyTests(t *testing.T) {
	f := suite.setup(t, 0)
	f.mustCreate("/d", lookup.FlagDirectory)

	const workers, perWorker = 8, 16
	var wg sync.WaitGroup
	statuses := make(chan lookup.Status, workers*perWorker*2)

	for w := range workers {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := range perWorker {
				path := fmt.Sprintf("/d/w%d-%d", w, i)
				for _, flags := range []lookup.Flags{lookup.FlagCreate | lookup.FlagExclusive, lookup.FlagUnlink} {
					rng, err := f.buf.Put(path)
					if err != nil {
						statuses <- lookup.StatusIO
						continue
					}
					reply := lookup.Resolve(f.b, testFSHandle, f.buf, lookup.Request{
						Range: rng, Device: DeviceA, Flags: flags,
					})
					statuses <- reply.Status
				}
			}
		}()
	}
	wg.Wait()
	close(statuses)

	for status := range statuses {
		assert.Equal(t, lookup.StatusOK, status)
	}
	assert.Zero(t, f.b.OpenHandles())
}
