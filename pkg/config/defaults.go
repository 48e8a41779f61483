package config

import (
	"strings"
	"time"

	"github.com/marmos91/libfs/pkg/backend/badger"
	"github.com/marmos91/libfs/pkg/backend/memory"
	"github.com/marmos91/libfs/pkg/lookup"
	"github.com/marmos91/libfs/pkg/plb"
	"github.com/marmos91/libfs/pkg/wire"
)

// DefaultBackend is the back-end created when none is configured.
const DefaultBackend = "default"

// ApplyDefaults sets default values for any unspecified configuration fields.
//
// This function is called after loading configuration from file and environment
// variables to fill in any missing values with sensible defaults.
//
// Default Strategy:
//   - Zero values (0, "", false, nil) are replaced with defaults
//   - Explicit values are preserved
//   - With no back-ends, an in-memory "default" back-end is added
//   - With no devices, device 1 is mounted on the "default" back-end
func ApplyDefaults(cfg *Config) {
	applyLoggingDefaults(&cfg.Logging)

	if cfg.PLB.Size == 0 {
		cfg.PLB.Size = plb.DefaultSize
	}
	if cfg.Lookup.NameMax == 0 {
		cfg.Lookup.NameMax = lookup.DefaultNameMax
	}

	if len(cfg.Backends) == 0 {
		cfg.Backends = map[string]BackendConfig{
			DefaultBackend: {Type: memory.Type},
		}
	}
	for name, b := range cfg.Backends {
		applyBackendDefaults(&b)
		cfg.Backends[name] = b
	}

	if len(cfg.Devices) == 0 {
		if _, ok := cfg.Backends[DefaultBackend]; ok {
			cfg.Devices = []DeviceConfig{{Handle: 1, Backend: DefaultBackend}}
		}
	}
	for i := range cfg.Devices {
		if cfg.Devices[i].AllowedClients == nil {
			cfg.Devices[i].AllowedClients = []string{}
		}
	}

	applyServerDefaults(&cfg.Server)

	if cfg.Metrics.Port == 0 {
		cfg.Metrics.Port = 9090
	}
}

// applyLoggingDefaults sets logging defaults and normalizes values.
func applyLoggingDefaults(cfg *LoggingConfig) {
	if cfg.Level == "" {
		cfg.Level = "INFO"
	}
	// Normalize log level to uppercase for consistent internal representation
	cfg.Level = strings.ToUpper(cfg.Level)

	if cfg.Format == "" {
		cfg.Format = "text"
	}
	if cfg.Output == "" {
		cfg.Output = "stdout"
	}
}

// applyBackendDefaults fills both type sections so a generated config
// documents every option.
func applyBackendDefaults(cfg *BackendConfig) {
	if cfg.Type == "" {
		cfg.Type = memory.Type
	}

	switch cfg.Type {
	case memory.Type:
		if cfg.Memory == nil {
			cfg.Memory = make(map[string]any)
		}
		if _, ok := cfg.Memory["max_nodes"]; !ok {
			cfg.Memory["max_nodes"] = uint64(0) // unlimited
		}
	case badger.Type:
		if cfg.Badger == nil {
			cfg.Badger = make(map[string]any)
		}
		if _, ok := cfg.Badger["path"]; !ok {
			cfg.Badger["path"] = "/tmp/libfs-badger"
		}
		if _, ok := cfg.Badger["block_cache_size_mb"]; !ok {
			cfg.Badger["block_cache_size_mb"] = int64(64)
		}
		if _, ok := cfg.Badger["index_cache_size_mb"]; !ok {
			cfg.Badger["index_cache_size_mb"] = int64(32)
		}
	}
}

// applyServerDefaults sets server defaults.
func applyServerDefaults(cfg *ServerConfig) {
	if cfg.Listen == "" {
		cfg.Listen = ":7070"
	}
	if cfg.FSHandle == 0 {
		cfg.FSHandle = 1
	}
	if cfg.ShutdownTimeout == 0 {
		cfg.ShutdownTimeout = 30 * time.Second
	}
	if cfg.MaxRecordSize == 0 {
		cfg.MaxRecordSize = 64 << 10
	}
	if cfg.MaxRecordSize > wire.DefaultMaxRecordSize {
		cfg.MaxRecordSize = wire.DefaultMaxRecordSize
	}
}

// GetDefaultConfig returns a Config struct with all default values applied.
//
// This is useful for:
//   - Generating sample configuration files
//   - Testing
//   - Documentation
func GetDefaultConfig() *Config {
	cfg := &Config{}
	ApplyDefaults(cfg)
	return cfg
}
