package lookup

// FSHandle identifies a registered file-system server.
type FSHandle uint32

// Device identifies a mounted instance of a file system.
type Device uint32

// Index identifies a node within a device.
type Index uint64

// Node is an opaque handle to a node in a back-end's tree.
//
// A non-nil Node returned by any Ops method is borrowed: the engine gives it
// back exactly once, either through NodePut or, for a node that failed to be
// linked after creation, through Destroy. Back-ends must return an untyped
// nil, never a typed nil pointer, to signal "no node".
type Node any

// Ops is the node-operations capability set every back-end implements.
//
// The engine never branches on back-end identity. Implementations must keep
// Match, Create, Link, Unlink and Destroy consistent with each other for the
// calls issued by a single request; how that is achieved (and how concurrent
// requests are isolated) is up to the back-end.
type Ops interface {
	// RootGet returns a handle to the root of dev. The device is normally
	// validated by the caller; an unmounted device yields nil and the lookup
	// fails with StatusNotFound.
	RootGet(dev Device) Node

	// Match looks up name among the children of parent. It returns nil on a
	// miss.
	Match(parent Node, name string) Node

	// HasChildren reports whether further components can be resolved below
	// n, i.e. n is a directory that currently holds entries.
	HasChildren(n Node) bool

	// IsDirectory and IsFile are type predicates. A node may be neither.
	IsDirectory(n Node) bool
	IsFile(n Node) bool

	// Create allocates an unlinked node whose kind is implied by flags
	// (FlagDirectory selects a directory). It returns nil when out of space.
	Create(dev Device, flags Flags) Node

	// NodeGet returns an existing node by index, or nil.
	NodeGet(dev Device, index Index) Node

	// Link attaches child under parent as name. Errors should be *Error so
	// that their status reaches the caller unchanged.
	Link(parent, child Node, name string) error

	// Unlink detaches n from parent. parent is nil when the request asked
	// for the parent of the root. Refusals such as a non-empty directory are
	// reported as a status rather than a hard failure.
	//
	// No name is passed, so when parent holds several links to n the
	// back-end picks which entry goes; the bundled ones drop the first
	// entry in name order.
	Unlink(parent, n Node) Status

	// Destroy frees a node that was created but never linked. It consumes
	// the caller's handle.
	Destroy(n Node) Status

	// IndexGet, SizeGet and LinkCountGet read node metadata.
	IndexGet(n Node) Index
	SizeGet(n Node) uint64
	LinkCountGet(n Node) uint32

	// NodePut returns a borrowed handle to the back-end.
	NodePut(n Node)
}
