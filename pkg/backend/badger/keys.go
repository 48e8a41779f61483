package badger

import (
	"encoding/binary"
	"fmt"

	"github.com/marmos91/libfs/pkg/lookup"
)

// Key layout
// ==========
//
// Data Type        Prefix   Key Format                       Value
// ====================================================================
// Device root      "r:"     r:<dev>                          root index (uint64)
// Node record      "n:"     n:<dev>:<index>                  nodeRecord (JSON)
// Directory entry  "e:"     e:<dev>:<parent>:<name>          child index (uint64)
// Store metadata   "meta:"  meta:instance, meta:nodes        uuid / uint64
// Index sequence   "seq:"   seq:index                        badger.Sequence
//
// Devices and indices are rendered in decimal and terminated by ':', so the
// entries of one directory share the prefix e:<dev>:<parent>: and can be
// listed with a prefix scan.

const (
	prefixRoot  = "r:"
	prefixNode  = "n:"
	prefixEntry = "e:"
)

var (
	keyInstance = []byte("meta:instance")
	keyNodes    = []byte("meta:nodes")
	keySequence = []byte("seq:index")
)

func keyRoot(dev lookup.Device) []byte {
	return fmt.Appendf(nil, "%s%d", prefixRoot, dev)
}

func keyNode(dev lookup.Device, index lookup.Index) []byte {
	return fmt.Appendf(nil, "%s%d:%d", prefixNode, dev, index)
}

func keyEntry(dev lookup.Device, parent lookup.Index, name string) []byte {
	return append(keyEntryPrefix(dev, parent), name...)
}

// keyEntryPrefix is the scan prefix for all entries of a directory.
func keyEntryPrefix(dev lookup.Device, parent lookup.Index) []byte {
	return fmt.Appendf(nil, "%s%d:%d:", prefixEntry, dev, parent)
}

func encodeIndex(index lookup.Index) []byte {
	buf := make([]byte, 8)
	binary.BigEndian.PutUint64(buf, uint64(index))
	return buf
}

func decodeIndex(val []byte) (lookup.Index, error) {
	if len(val) != 8 {
		return 0, fmt.Errorf("invalid index length: %d", len(val))
	}
	return lookup.Index(binary.BigEndian.Uint64(val)), nil
}
