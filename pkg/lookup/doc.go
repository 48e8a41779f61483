// Package lookup implements the path-resolution engine shared by every
// file-system server.
//
// A lookup request names a path in the Path Lookup Buffer (see package plb),
// a device, a set of Flags and, for FlagLink, the index of an existing node.
// Resolve walks the back-end's tree one component at a time through the Ops
// capability set, applies the create/link/unlink/parent semantics requested
// by the flags, and produces exactly one Reply.
//
// Node handles borrowed from the back-end are held in owned slots. Every slot
// that still holds a handle when Resolve returns is released through
// Ops.NodePut, so no exit path can leak or double-release a handle.
package lookup
