package lookup

import (
	"testing"

	"github.com/marmos91/libfs/pkg/metrics"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEngineRecordsOutcomes(t *testing.T) {
	f, _ := tree(t)
	reg := prometheus.NewRegistry()
	buf, rng := testPLB(t, "/a/new")
	engine := NewEngine(f, 7, buf, WithMetrics(metrics.NewLookupMetrics(reg), "fake"))

	f.linkErr = &Error{Code: StatusExists}
	reply := engine.Resolve(Request{Range: rng, Device: 3, Flags: FlagCreate})
	require.Equal(t, StatusExists, reply.Status)

	f.linkErr = nil
	reply = engine.Resolve(Request{Range: rng, Device: 3, Flags: FlagCreate})
	require.True(t, reply.OK())
	assert.Equal(t, FSHandle(7), engine.FSHandle())

	assert.Equal(t, 2, testutil.CollectAndCount(reg, "libfs_lookups_total"))
	assert.Equal(t, 1, testutil.CollectAndCount(reg, "libfs_lookup_rollbacks_total"))
	f.requireBalanced(t)
}

func TestEngineNameMax(t *testing.T) {
	f, _ := tree(t)
	buf, rng := testPLB(t, "/a/abcd")
	engine := NewEngine(f, 7, buf, WithNameMax(4))

	assert.Equal(t, StatusNameTooLong, engine.Resolve(Request{Range: rng, Device: 3}).Status)

	engine = NewEngine(f, 7, buf, WithNameMax(5))
	assert.Equal(t, StatusNotFound, engine.Resolve(Request{Range: rng, Device: 3}).Status)
	f.requireBalanced(t)
}
