package registry

import (
	"github.com/marmos91/libfs/pkg/backend"
	"github.com/marmos91/libfs/pkg/lookup"
)

// Mount binds a device to the back-end serving it.
//
// Multiple devices can share one back-end instance.
type Mount struct {
	Device    lookup.Device
	FSHandle  lookup.FSHandle
	Backend   string // Name of the back-end
	ReadOnly  bool
	Ops       backend.Backend
	MountedAt int64 // Unix timestamp

	access accessList
}

// MountConfig contains all configuration needed to mount a device.
type MountConfig struct {
	Device   lookup.Device
	FSHandle lookup.FSHandle
	Backend  string
	ReadOnly bool

	// AllowedClients lists IP addresses or CIDR ranges that may issue
	// lookups. Empty allows everyone.
	AllowedClients []string
}
