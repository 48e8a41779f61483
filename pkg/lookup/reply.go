package lookup

import (
	"fmt"

	"github.com/marmos91/libfs/pkg/plb"
)

// Request is the immutable input of one lookup.
type Request struct {
	// Range locates the canonical path in the PLB.
	Range plb.Range

	// Device is the mounted instance to resolve against.
	Device Device

	// Flags selects create/link/unlink/parent semantics and type checks.
	Flags Flags

	// Index is the existing node to attach; only meaningful with FlagLink.
	Index Index
}

// Reply is the single outcome of a lookup.
//
// On success Status is StatusOK and the remaining fields describe the
// resolved node. Plain failures carry only Status. An unlink reply carries
// the back-end's unlink status together with the node's metadata and its
// link count from before the unlink.
type Reply struct {
	Status    Status
	FSHandle  FSHandle
	Device    Device
	Index     Index
	Size      uint64
	LinkCount uint32
}

// Failure builds a reply that carries only a status.
func Failure(status Status) Reply {
	return Reply{Status: status}
}

// OK reports whether the reply describes a successful lookup.
func (r Reply) OK() bool {
	return r.Status == StatusOK
}

// Err returns nil on success and an *Error otherwise.
func (r Reply) Err() error {
	return r.Status.Err()
}

func (r Reply) String() string {
	if r.Status != StatusOK && r.FSHandle == 0 && r.Index == 0 && r.Size == 0 && r.LinkCount == 0 {
		return r.Status.String()
	}
	return fmt.Sprintf("%s fs=%d dev=%d index=%d size=%d lnkcnt=%d",
		r.Status, r.FSHandle, r.Device, r.Index, r.Size, r.LinkCount)
}
