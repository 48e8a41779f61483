package config

import (
	"context"
	"fmt"

	"github.com/marmos91/libfs/pkg/backend"
	"github.com/marmos91/libfs/pkg/backend/badger"
	"github.com/marmos91/libfs/pkg/backend/memory"
	"github.com/marmos91/libfs/pkg/metrics"
	"github.com/mitchellh/mapstructure"
)

// CreateBackend creates a back-end based on configuration.
//
// The Type field selects the implementation; the matching type-specific
// map is decoded into that implementation's Config. Unknown keys in the
// map are rejected so typos do not silently fall back to defaults.
//
// Supported types:
//   - "memory": pkg/backend/memory (volatile, btree-indexed)
//   - "badger": pkg/backend/badger (persistent BadgerDB)
func CreateBackend(ctx context.Context, cfg BackendConfig, m metrics.BackendMetrics) (backend.Backend, error) {
	switch cfg.Type {
	case memory.Type:
		var memoryCfg memory.Config
		if err := decodeOptions(cfg.Memory, &memoryCfg); err != nil {
			return nil, fmt.Errorf("invalid memory config: %w", err)
		}
		return memory.New(memoryCfg, m), nil

	case badger.Type:
		var badgerCfg badger.Config
		if err := decodeOptions(cfg.Badger, &badgerCfg); err != nil {
			return nil, fmt.Errorf("invalid badger config: %w", err)
		}
		if badgerCfg.Path == "" && !badgerCfg.InMemory {
			return nil, fmt.Errorf("badger backend: path is required")
		}
		store, err := badger.Open(ctx, badgerCfg, m)
		if err != nil {
			return nil, fmt.Errorf("failed to open badger database: %w", err)
		}
		return store, nil

	default:
		return nil, fmt.Errorf("unknown backend type: %q", cfg.Type)
	}
}

func decodeOptions(options map[string]any, out any) error {
	dec, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{
		Result:           out,
		ErrorUnused:      true,
		WeaklyTypedInput: true,
	})
	if err != nil {
		return err
	}
	return dec.Decode(options)
}
