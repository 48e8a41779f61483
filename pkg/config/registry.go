package config

import (
	"context"
	"fmt"
	"sort"

	"github.com/marmos91/libfs/internal/logger"
	"github.com/marmos91/libfs/pkg/lookup"
	"github.com/marmos91/libfs/pkg/registry"
	"github.com/marmos91/libfs/pkg/seed"
)

// InitializeRegistry creates a fully configured Registry from the provided configuration.
//
// This function orchestrates the complete initialization process:
//  1. Creates and registers all back-ends from cfg.Backends
//  2. Mounts all devices from cfg.Devices
//  3. Applies each device's seed tree
//
// On failure every back-end opened so far is closed.
//
// Parameters:
//   - ctx: Context for cancellation and timeouts
//   - cfg: Complete configuration loaded from config file
//   - m: Metrics from InitializeMetrics; nil records nothing
//
// Example:
//
//	cfg, _ := config.Load("config.yaml")
//	reg, err := config.InitializeRegistry(ctx, cfg, config.InitializeMetrics(cfg))
//	if err != nil {
//	    log.Fatalf("Failed to initialize registry: %v", err)
//	}
func InitializeRegistry(ctx context.Context, cfg *Config, m *MetricsResult) (_ *registry.Registry, err error) {
	if cfg == nil {
		return nil, fmt.Errorf("configuration is nil")
	}
	if m == nil {
		m = &MetricsResult{}
	}
	logger.Debug("Initializing registry from configuration")

	reg := registry.NewRegistry()
	defer func() {
		if err != nil {
			if closeErr := reg.Close(); closeErr != nil {
				logger.Warn("Failed to close back-ends after init error: %v", closeErr)
			}
		}
	}()

	if err := registerBackends(ctx, reg, cfg, m); err != nil {
		return nil, fmt.Errorf("failed to register backends: %w", err)
	}
	logger.Debug("Registered %d backend(s)", len(reg.ListBackends()))

	if err := addDevices(reg, cfg); err != nil {
		return nil, fmt.Errorf("failed to add devices: %w", err)
	}
	logger.Debug("Mounted %d device(s)", len(reg.Devices()))

	if err := seedDevices(reg, cfg, m); err != nil {
		return nil, err
	}

	return reg, nil
}

func registerBackends(ctx context.Context, reg *registry.Registry, cfg *Config, m *MetricsResult) error {
	names := make([]string, 0, len(cfg.Backends))
	for name := range cfg.Backends {
		names = append(names, name)
	}
	sort.Strings(names)

	for _, name := range names {
		backendCfg := cfg.Backends[name]
		logger.Debug("Creating backend %q (type: %s)", name, backendCfg.Type)

		b, err := CreateBackend(ctx, backendCfg, m.Backend(name))
		if err != nil {
			return fmt.Errorf("failed to create backend %q: %w", name, err)
		}
		if err := reg.RegisterBackend(name, b); err != nil {
			_ = b.Close()
			return fmt.Errorf("failed to register backend %q: %w", name, err)
		}
	}
	return nil
}

func addDevices(reg *registry.Registry, cfg *Config) error {
	for _, dev := range cfg.Devices {
		fs := dev.FSHandle
		if fs == 0 {
			fs = cfg.Server.FSHandle
		}

		logger.Debug("Adding device %d (backend: %s, read_only: %v)", dev.Handle, dev.Backend, dev.ReadOnly)
		if err := reg.AddDevice(&registry.MountConfig{
			Device:         lookup.Device(dev.Handle),
			FSHandle:       lookup.FSHandle(fs),
			Backend:        dev.Backend,
			ReadOnly:       dev.ReadOnly,
			AllowedClients: dev.AllowedClients,
		}); err != nil {
			return err
		}
	}
	return nil
}

func seedDevices(reg *registry.Registry, cfg *Config, m *MetricsResult) error {
	for _, dev := range cfg.Devices {
		if dev.Seed == "" {
			continue
		}

		entries, err := seed.LoadFile(dev.Seed)
		if err != nil {
			return fmt.Errorf("device %d: %w", dev.Handle, err)
		}

		mount, err := reg.Resolve(lookup.Device(dev.Handle))
		if err != nil {
			return err
		}

		opts := []lookup.Option{lookup.WithNameMax(cfg.Lookup.NameMax)}
		if m.Lookup != nil {
			opts = append(opts, lookup.WithMetrics(m.Lookup, mount.Backend))
		}
		if _, err := seed.New(mount.Ops, mount.FSHandle, mount.Device, opts...).Apply(entries); err != nil {
			return err
		}
	}
	return nil
}
