package config

import (
	"github.com/marmos91/libfs/pkg/metrics"
	"github.com/prometheus/client_golang/prometheus"
)

// MetricsResult contains all metrics-related components created from configuration.
type MetricsResult struct {
	// Registry collects every metric (nil if disabled)
	Registry *prometheus.Registry

	// Server is the HTTP server exposing Prometheus metrics (nil if disabled)
	Server *metrics.Server

	// Lookup records engine outcomes (never nil, no-op if disabled)
	Lookup metrics.LookupMetrics

	// Connections records callback server activity (never nil, no-op if disabled)
	Connections metrics.ServerMetrics
}

// Backend returns metrics for the back-end called name.
func (r *MetricsResult) Backend(name string) metrics.BackendMetrics {
	return metrics.NewBackendMetrics(r.Registry, name)
}

// InitializeMetrics creates and initializes all metrics components based on configuration.
//
// If metrics are enabled in the configuration:
//   - Creates a Prometheus registry
//   - Creates the metrics HTTP server
//   - Creates Prometheus-backed metrics instances for all components
//
// If metrics are disabled:
//   - Returns nil registry and server
//   - Returns no-op metrics implementations (zero overhead)
func InitializeMetrics(cfg *Config) *MetricsResult {
	if !cfg.Metrics.Enabled {
		return &MetricsResult{
			Lookup:      metrics.NewNoopLookupMetrics(),
			Connections: metrics.NewNoopServerMetrics(),
		}
	}

	reg := prometheus.NewRegistry()

	return &MetricsResult{
		Registry:    reg,
		Server:      metrics.NewServer(metrics.ServerConfig{Port: cfg.Metrics.Port}, reg),
		Lookup:      metrics.NewLookupMetrics(reg),
		Connections: metrics.NewServerMetrics(reg),
	}
}
