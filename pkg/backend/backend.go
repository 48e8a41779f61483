// Package backend defines what a node store must provide beyond the lookup
// operations to be mounted by a libfs server.
package backend

import (
	"io"

	"github.com/marmos91/libfs/pkg/lookup"
)

// Backend is a node store that can serve lookups for one or more devices.
type Backend interface {
	lookup.Ops
	io.Closer

	// Mount creates an empty root directory for dev. Mounting a device that
	// already has a root is a no-op.
	Mount(dev lookup.Device) error

	// OpenHandles returns the number of node handles currently borrowed.
	// It is zero whenever no lookup is in flight.
	OpenHandles() int64

	// Type names the implementation, e.g. "memory" or "badger".
	Type() string
}
