package metrics

import (
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// BackendMetrics observes a node store.
//
// This interface is optional - back-ends constructed without metrics use
// the no-op implementation.
type BackendMetrics interface {
	// RecordStorageOperation records a low-level storage operation such as
	// a BadgerDB transaction.
	//
	// Parameters:
	//   - operation: storage operation (e.g. "match", "link", "unlink")
	//   - duration: time taken
	//   - err: error if the operation failed
	RecordStorageOperation(operation string, duration time.Duration, err error)

	// SetOpenHandles updates the number of node handles currently borrowed.
	SetOpenHandles(count int64)

	// SetNodes updates the number of allocated nodes.
	SetNodes(count int64)
}

// backendCollectors are shared by every back-end registered with one
// registry; each back-end writes its own label value.
type backendCollectors struct {
	storageOpsTotal    *prometheus.CounterVec
	storageOpsDuration *prometheus.HistogramVec
	openHandles        *prometheus.GaugeVec
	nodes              *prometheus.GaugeVec
}

var (
	backendCollectorsMu sync.Mutex
	backendCollectorSet = make(map[*prometheus.Registry]*backendCollectors)
)

type backendMetrics struct {
	backend            string
	storageOpsTotal    *prometheus.CounterVec
	storageOpsDuration *prometheus.HistogramVec
	openHandles        prometheus.Gauge
	nodes              prometheus.Gauge
}

// NewBackendMetrics creates Prometheus-backed metrics for the back-end
// named backend. Several back-ends may share reg. A nil reg returns a no-op
// implementation.
func NewBackendMetrics(reg *prometheus.Registry, backend string) BackendMetrics {
	if reg == nil {
		return NewNoopBackendMetrics()
	}

	c := collectorsFor(reg)
	return &backendMetrics{
		backend:            backend,
		storageOpsTotal:    c.storageOpsTotal,
		storageOpsDuration: c.storageOpsDuration,
		openHandles:        c.openHandles.WithLabelValues(backend),
		nodes:              c.nodes.WithLabelValues(backend),
	}
}

func collectorsFor(reg *prometheus.Registry) *backendCollectors {
	backendCollectorsMu.Lock()
	defer backendCollectorsMu.Unlock()

	if c, ok := backendCollectorSet[reg]; ok {
		return c
	}

	c := &backendCollectors{
		storageOpsTotal: promauto.With(reg).NewCounterVec(
			prometheus.CounterOpts{
				Name: "libfs_backend_storage_operations_total",
				Help: "Total number of back-end storage operations by type and status",
			},
			[]string{"backend", "operation", "status"},
		),
		storageOpsDuration: promauto.With(reg).NewHistogramVec(
			prometheus.HistogramOpts{
				Name: "libfs_backend_storage_operation_duration_seconds",
				Help: "Duration of back-end storage operations in seconds",
				Buckets: []float64{
					0.0001, // 100µs
					0.0005, // 500µs
					0.001,  // 1ms
					0.005,  // 5ms
					0.01,   // 10ms
					0.05,   // 50ms
					0.1,    // 100ms
				},
			},
			[]string{"backend", "operation"},
		),
		openHandles: promauto.With(reg).NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "libfs_backend_open_handles",
				Help: "Node handles currently borrowed from the back-end",
			},
			[]string{"backend"},
		),
		nodes: promauto.With(reg).NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "libfs_backend_nodes",
				Help: "Nodes currently allocated by the back-end",
			},
			[]string{"backend"},
		),
	}
	backendCollectorSet[reg] = c
	return c
}

func (m *backendMetrics) RecordStorageOperation(operation string, duration time.Duration, err error) {
	m.storageOpsTotal.WithLabelValues(m.backend, operation, statusLabel(err)).Inc()
	m.storageOpsDuration.WithLabelValues(m.backend, operation).Observe(duration.Seconds())
}

func (m *backendMetrics) SetOpenHandles(count int64) {
	m.openHandles.Set(float64(count))
}

func (m *backendMetrics) SetNodes(count int64) {
	m.nodes.Set(float64(count))
}

// NewNoopBackendMetrics returns BackendMetrics that record nothing.
func NewNoopBackendMetrics() BackendMetrics {
	return noopBackendMetrics{}
}

type noopBackendMetrics struct{}

func (noopBackendMetrics) RecordStorageOperation(operation string, duration time.Duration, err error) {
}
func (noopBackendMetrics) SetOpenHandles(count int64) {}
func (noopBackendMetrics) SetNodes(count int64)       {}
