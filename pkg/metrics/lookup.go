package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// LookupMetrics observes lookup engine outcomes.
type LookupMetrics interface {
	// RecordLookup records one completed lookup.
	//
	// Parameters:
	//   - backend: back-end type label (e.g. "memory", "badger")
	//   - outcome: the engine branch that produced the reply (e.g. "found",
	//     "attach", "miss")
	//   - status: reply status name
	//   - duration: time spent in the engine
	RecordLookup(backend, outcome, status string, duration time.Duration)

	// RecordRollback records a created node destroyed after a failed link.
	RecordRollback(backend string)
}

type lookupMetrics struct {
	lookupsTotal   *prometheus.CounterVec
	lookupDuration *prometheus.HistogramVec
	rollbacksTotal *prometheus.CounterVec
}

// NewLookupMetrics creates Prometheus-backed lookup metrics registered with
// reg. A nil reg returns a no-op implementation.
func NewLookupMetrics(reg *prometheus.Registry) LookupMetrics {
	if reg == nil {
		return NewNoopLookupMetrics()
	}

	return &lookupMetrics{
		lookupsTotal: promauto.With(reg).NewCounterVec(
			prometheus.CounterOpts{
				Name: "libfs_lookups_total",
				Help: "Total number of lookups by back-end, outcome and reply status",
			},
			[]string{"backend", "outcome", "status"},
		),
		lookupDuration: promauto.With(reg).NewHistogramVec(
			prometheus.HistogramOpts{
				Name: "libfs_lookup_duration_seconds",
				Help: "Time spent resolving a lookup in seconds",
				Buckets: []float64{
					0.00001, // 10µs
					0.0001,  // 100µs
					0.001,   // 1ms
					0.01,    // 10ms
					0.1,     // 100ms
					1.0,     // 1s
				},
			},
			[]string{"backend"},
		),
		rollbacksTotal: promauto.With(reg).NewCounterVec(
			prometheus.CounterOpts{
				Name: "libfs_lookup_rollbacks_total",
				Help: "Created nodes destroyed because linking them failed",
			},
			[]string{"backend"},
		),
	}
}

func (m *lookupMetrics) RecordLookup(backend, outcome, status string, duration time.Duration) {
	m.lookupsTotal.WithLabelValues(backend, outcome, status).Inc()
	m.lookupDuration.WithLabelValues(backend).Observe(duration.Seconds())
}

func (m *lookupMetrics) RecordRollback(backend string) {
	m.rollbacksTotal.WithLabelValues(backend).Inc()
}

// NewNoopLookupMetrics returns LookupMetrics that record nothing.
func NewNoopLookupMetrics() LookupMetrics {
	return noopLookupMetrics{}
}

type noopLookupMetrics struct{}

func (noopLookupMetrics) RecordLookup(backend, outcome, status string, duration time.Duration) {}
func (noopLookupMetrics) RecordRollback(backend string)                                          {}
