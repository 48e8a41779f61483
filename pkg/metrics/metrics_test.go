package metrics

import (
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNilRegistryYieldsNoop(t *testing.T) {
	assert.IsType(t, noopLookupMetrics{}, NewLookupMetrics(nil))
	assert.IsType(t, noopBackendMetrics{}, NewBackendMetrics(nil, "memory"))
	assert.IsType(t, noopServerMetrics{}, NewServerMetrics(nil))

	// No-ops must be callable.
	NewLookupMetrics(nil).RecordLookup("memory", "found", "OK", time.Millisecond)
	NewBackendMetrics(nil, "memory").RecordStorageOperation("link", time.Millisecond, errors.New("x"))
	NewServerMetrics(nil).RecordThrottled()
}

func TestLookupMetricsCounts(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := NewLookupMetrics(reg).(*lookupMetrics)

	m.RecordLookup("memory", "found", "OK", time.Microsecond)
	m.RecordLookup("memory", "found", "OK", time.Microsecond)
	m.RecordLookup("memory", "miss", "NotFound", time.Microsecond)
	m.RecordRollback("memory")

	assert.Equal(t, 2.0, testutil.ToFloat64(m.lookupsTotal.WithLabelValues("memory", "found", "OK")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.lookupsTotal.WithLabelValues("memory", "miss", "NotFound")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.rollbacksTotal.WithLabelValues("memory")))
}

func TestBackendMetricsStatusLabel(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := NewBackendMetrics(reg, "badger").(*backendMetrics)

	m.RecordStorageOperation("link", time.Millisecond, nil)
	m.RecordStorageOperation("link", time.Millisecond, errors.New("boom"))
	m.SetOpenHandles(3)

	assert.Equal(t, 1.0, testutil.ToFloat64(m.storageOpsTotal.WithLabelValues("badger", "link", "success")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.storageOpsTotal.WithLabelValues("badger", "link", "error")))
	assert.Equal(t, 3.0, testutil.ToFloat64(m.openHandles))
}

func TestServerHandler(t *testing.T) {
	reg := prometheus.NewRegistry()
	NewLookupMetrics(reg).RecordLookup("memory", "found", "OK", time.Microsecond)

	srv := NewServer(ServerConfig{}, reg)
	assert.Equal(t, 9090, srv.Port())

	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	assert.True(t, strings.Contains(rec.Body.String(), "libfs_lookups_total"))

	rec = httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/healthz", nil))
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestServerWithoutRegistry(t *testing.T) {
	srv := NewServer(ServerConfig{Port: 9191}, nil)

	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
}

func TestBackendsShareRegistry(t *testing.T) {
	reg := prometheus.NewRegistry()
	a := NewBackendMetrics(reg, "main").(*backendMetrics)
	b := NewBackendMetrics(reg, "archive").(*backendMetrics)

	a.SetNodes(4)
	b.SetNodes(9)
	a.RecordStorageOperation("link", time.Millisecond, nil)

	assert.Equal(t, 4.0, testutil.ToFloat64(a.nodes))
	assert.Equal(t, 9.0, testutil.ToFloat64(b.nodes))
	assert.Equal(t, 0.0, testutil.ToFloat64(b.storageOpsTotal.WithLabelValues("archive", "link", "success")))
	assert.Equal(t, 1.0, testutil.ToFloat64(a.storageOpsTotal.WithLabelValues("main", "link", "success")))
}
