package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// ServerMetrics observes the file-system server's callback connections.
type ServerMetrics interface {
	// RecordRequest records one answered call.
	RecordRequest(procedure string, status string, duration time.Duration)

	// RecordThrottled records a call that waited on the rate limiter.
	RecordThrottled()

	SetActiveConnections(count int32)
	RecordConnectionAccepted()
	RecordConnectionClosed()
}

type serverMetrics struct {
	requestsTotal       *prometheus.CounterVec
	requestDuration     *prometheus.HistogramVec
	throttledTotal      prometheus.Counter
	activeConnections   prometheus.Gauge
	connectionsAccepted prometheus.Counter
	connectionsClosed   prometheus.Counter
}

// NewServerMetrics creates Prometheus-backed server metrics registered with
// reg. A nil reg returns a no-op implementation.
func NewServerMetrics(reg *prometheus.Registry) ServerMetrics {
	if reg == nil {
		return NewNoopServerMetrics()
	}

	return &serverMetrics{
		requestsTotal: promauto.With(reg).NewCounterVec(
			prometheus.CounterOpts{
				Name: "libfs_server_requests_total",
				Help: "Total number of calls answered by procedure and status",
			},
			[]string{"procedure", "status"},
		),
		requestDuration: promauto.With(reg).NewHistogramVec(
			prometheus.HistogramOpts{
				Name: "libfs_server_request_duration_seconds",
				Help: "Duration of calls in seconds, including decode and encode",
				Buckets: []float64{
					0.0001, // 100µs
					0.001,  // 1ms
					0.01,   // 10ms
					0.1,    // 100ms
					1.0,    // 1s
				},
			},
			[]string{"procedure"},
		),
		throttledTotal: promauto.With(reg).NewCounter(
			prometheus.CounterOpts{
				Name: "libfs_server_throttled_requests_total",
				Help: "Calls rejected by the request rate limiter",
			},
		),
		activeConnections: promauto.With(reg).NewGauge(
			prometheus.GaugeOpts{
				Name: "libfs_server_active_connections",
				Help: "Current number of callback connections",
			},
		),
		connectionsAccepted: promauto.With(reg).NewCounter(
			prometheus.CounterOpts{
				Name: "libfs_server_connections_accepted_total",
				Help: "Total number of callback connections accepted",
			},
		),
		connectionsClosed: promauto.With(reg).NewCounter(
			prometheus.CounterOpts{
				Name: "libfs_server_connections_closed_total",
				Help: "Total number of callback connections closed",
			},
		),
	}
}

func (m *serverMetrics) RecordRequest(procedure string, status string, duration time.Duration) {
	m.requestsTotal.WithLabelValues(procedure, status).Inc()
	m.requestDuration.WithLabelValues(procedure).Observe(duration.Seconds())
}

func (m *serverMetrics) RecordThrottled() {
	m.throttledTotal.Inc()
}

func (m *serverMetrics) SetActiveConnections(count int32) {
	m.activeConnections.Set(float64(count))
}

func (m *serverMetrics) RecordConnectionAccepted() {
	m.connectionsAccepted.Inc()
}

func (m *serverMetrics) RecordConnectionClosed() {
	m.connectionsClosed.Inc()
}

// NewNoopServerMetrics returns ServerMetrics that record nothing.
func NewNoopServerMetrics() ServerMetrics {
	return noopServerMetrics{}
}

type noopServerMetrics struct{}

func (noopServerMetrics) RecordRequest(procedure string, status string, duration time.Duration) {}
func (noopServerMetrics) RecordThrottled()                                                      {}
func (noopServerMetrics) SetActiveConnections(count int32)                                      {}
func (noopServerMetrics) RecordConnectionAccepted()                                             {}
func (noopServerMetrics) RecordConnectionClosed()                                               {}
