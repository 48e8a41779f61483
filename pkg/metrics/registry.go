// Package metrics provides Prometheus metrics for the lookup engine, the
// back-ends and the file-system server.
//
// Metrics are optional. Every constructor takes the registry to register
// with; a nil registry yields a no-op implementation, so components can
// always hold a non-nil metrics value.
//
// Usage:
//
//	reg := prometheus.NewRegistry()
//	engineMetrics := metrics.NewLookupMetrics(reg)
//	serverMetrics := metrics.NewServerMetrics(reg)
//	srv := metrics.NewServer(metrics.ServerConfig{Port: 9090}, reg)
package metrics

func statusLabel(err error) string {
	if err != nil {
		return "error"
	}
	return "success"
}
