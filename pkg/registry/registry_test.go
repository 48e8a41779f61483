package registry

import (
	"testing"

	"github.com/marmos91/libfs/pkg/backend/memory"
	"github.com/marmos91/libfs/pkg/lookup"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestRegistry(t *testing.T) *Registry {
	t.Helper()
	reg := NewRegistry()
	require.NoError(t, reg.RegisterBackend("main", memory.New(memory.Config{}, nil)))
	t.Cleanup(func() { _ = reg.Close() })
	return reg
}

func TestRegisterBackend(t *testing.T) {
	reg := newTestRegistry(t)

	assert.Error(t, reg.RegisterBackend("main", memory.New(memory.Config{}, nil)))
	assert.Error(t, reg.RegisterBackend("", memory.New(memory.Config{}, nil)))
	assert.Error(t, reg.RegisterBackend("nil", nil))

	b, err := reg.GetBackend("main")
	require.NoError(t, err)
	assert.Equal(t, memory.Type, b.Type())
	assert.Equal(t, []string{"main"}, reg.ListBackends())

	_, err = reg.GetBackend("other")
	assert.Error(t, err)
}

func TestAddDeviceAndResolve(t *testing.T) {
	reg := newTestRegistry(t)

	require.NoError(t, reg.AddDevice(&MountConfig{Device: 2, FSHandle: 5, Backend: "main"}))
	require.NoError(t, reg.AddDevice(&MountConfig{Device: 1, FSHandle: 5, Backend: "main"}))
	assert.Equal(t, []lookup.Device{1, 2}, reg.Devices())

	m, err := reg.Resolve(2)
	require.NoError(t, err)
	assert.Equal(t, lookup.FSHandle(5), m.FSHandle)
	assert.Equal(t, "main", m.Backend)

	root := m.Ops.RootGet(2)
	require.NotNil(t, root)
	m.Ops.NodePut(root)

	_, err = reg.Resolve(3)
	assert.Equal(t, lookup.StatusNotFound, lookup.StatusOf(err))

	assert.Error(t, reg.AddDevice(&MountConfig{Device: 2, FSHandle: 5, Backend: "main"}))
	assert.Error(t, reg.AddDevice(&MountConfig{Device: 4, FSHandle: 5, Backend: "missing"}))
	assert.Error(t, reg.AddDevice(&MountConfig{Device: 4, Backend: "main"}))

	require.NoError(t, reg.RemoveDevice(2))
	assert.Equal(t, lookup.StatusNotFound, lookup.StatusOf(reg.RemoveDevice(2)))
	assert.Equal(t, []lookup.Device{1}, reg.Devices())
}

func TestAuthorize(t *testing.T) {
	reg := newTestRegistry(t)
	require.NoError(t, reg.AddDevice(&MountConfig{
		Device: 1, FSHandle: 1, Backend: "main",
		AllowedClients: []string{"10.0.0.0/8", "192.168.1.7"},
	}))
	require.NoError(t, reg.AddDevice(&MountConfig{Device: 2, FSHandle: 1, Backend: "main", ReadOnly: true}))

	open, err := reg.Resolve(1)
	require.NoError(t, err)
	readOnly, err := reg.Resolve(2)
	require.NoError(t, err)

	tests := []struct {
		name   string
		mount  *Mount
		client string
		flags  lookup.Flags
		want   lookup.Status
	}{
		{name: "AllowedRange", mount: open, client: "10.1.2.3:4000", want: lookup.StatusOK},
		{name: "AllowedHost", mount: open, client: "192.168.1.7", want: lookup.StatusOK},
		{name: "MappedIPv4", mount: open, client: "[::ffff:10.0.0.1]:80", want: lookup.StatusOK},
		{name: "DeniedHost", mount: open, client: "192.168.1.8:1", want: lookup.StatusAccess},
		{name: "DeniedHostPlainLookup", mount: open, client: "192.168.1.8:1", flags: lookup.FlagFile, want: lookup.StatusAccess},
		{name: "Unparsable", mount: open, client: "nonsense", want: lookup.StatusAccess},
		{name: "InProcess", mount: open, client: "", flags: lookup.FlagCreate, want: lookup.StatusOK},
		{name: "ReadOnlyLookup", mount: readOnly, client: "1.2.3.4:5", flags: lookup.FlagFile, want: lookup.StatusOK},
		{name: "ReadOnlyCreate", mount: readOnly, client: "", flags: lookup.FlagCreate, want: lookup.StatusAccess},
		{name: "ReadOnlyUnlink", mount: readOnly, client: "1.2.3.4:5", flags: lookup.FlagUnlink, want: lookup.StatusAccess},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, tt.mount.Authorize(tt.client, tt.flags))
		})
	}

	assert.Error(t, reg.AddDevice(&MountConfig{
		Device: 3, FSHandle: 1, Backend: "main", AllowedClients: []string{"10.0.0.0/99"},
	}))
}

func TestSessions(t *testing.T) {
	reg := newTestRegistry(t)

	reg.RecordSession("a", "127.0.0.1:1", 100)
	reg.RecordSession("b", "127.0.0.1:2", 200)
	assert.Len(t, reg.ListSessions(), 2)

	assert.True(t, reg.RemoveSession("a"))
	assert.False(t, reg.RemoveSession("a"))

	sessions := reg.ListSessions()
	require.Len(t, sessions, 1)
	assert.Equal(t, "127.0.0.1:2", sessions[0].ClientAddr)
}
