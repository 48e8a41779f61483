package lookup

import (
	"strconv"
	"strings"
)

// Flags is the set of lookup flags carried by a request. Values combine.
type Flags uint32

const (
	// FlagFile requires the resolved node not to be a directory.
	FlagFile Flags = 1 << iota

	// FlagDirectory requires the resolved node not to be a file.
	FlagDirectory

	// FlagCreate creates the last component if it does not exist.
	FlagCreate

	// FlagExclusive, together with FlagCreate, fails when the last component
	// already exists.
	FlagExclusive

	// FlagLink attaches the existing node named by Request.Index under the
	// last component.
	FlagLink

	// FlagUnlink removes the last component from its parent.
	FlagUnlink

	// FlagParent returns the parent of the last component instead of the
	// component itself.
	FlagParent
)

// FlagNone is the empty flag set.
const FlagNone Flags = 0

// AllFlags is the union of every defined flag.
const AllFlags = FlagFile | FlagDirectory | FlagCreate | FlagExclusive |
	FlagLink | FlagUnlink | FlagParent

var flagNames = []struct {
	flag Flags
	name string
}{
	{FlagFile, "FILE"},
	{FlagDirectory, "DIRECTORY"},
	{FlagCreate, "CREATE"},
	{FlagExclusive, "EXCLUSIVE"},
	{FlagLink, "LINK"},
	{FlagUnlink, "UNLINK"},
	{FlagParent, "PARENT"},
}

// Has reports whether every flag in mask is set.
func (f Flags) Has(mask Flags) bool {
	return f&mask == mask
}

// Any reports whether at least one flag in mask is set.
func (f Flags) Any(mask Flags) bool {
	return f&mask != 0
}

func (f Flags) String() string {
	if f == FlagNone {
		return "NONE"
	}

	var parts []string
	for _, fn := range flagNames {
		if f&fn.flag != 0 {
			parts = append(parts, fn.name)
		}
	}
	if rest := f &^ AllFlags; rest != 0 {
		parts = append(parts, "0x"+strconv.FormatUint(uint64(rest), 16))
	}
	return strings.Join(parts, "|")
}
