package badger

import (
	"encoding/json"
	"fmt"

	"github.com/marmos91/libfs/pkg/lookup"
)

type kind string

const (
	kindFile      kind = "file"
	kindDirectory kind = "directory"
)

// nodeRecord is the persisted state of a node.
type nodeRecord struct {
	Kind  kind   `json:"kind"`
	Size  uint64 `json:"size"`
	Links uint32 `json:"links"`

	// Parent is the directory holding a linked directory, 0 otherwise.
	Parent lookup.Index `json:"parent,omitempty"`

	// Root marks the root directory of a device. Roots are never freed.
	Root bool `json:"root,omitempty"`
}

func encodeNode(rec *nodeRecord) ([]byte, error) {
	data, err := json.Marshal(rec)
	if err != nil {
		return nil, fmt.Errorf("failed to encode node: %w", err)
	}
	return data, nil
}

func decodeNode(data []byte) (*nodeRecord, error) {
	var rec nodeRecord
	if err := json.Unmarshal(data, &rec); err != nil {
		return nil, fmt.Errorf("failed to decode node: %w", err)
	}
	return &rec, nil
}
