package metrics

import (
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/onchainrisk/monitor/internal/cache"
	"github.com/onchainrisk/monitor/internal/domain"
)

type fakeCacheSource struct{ stats map[string]cache.Stats }

func (f fakeCacheSource) Stats(ns string) cache.Stats { return f.stats[ns] }

type fakeCircuitSource struct{ snapshots []domain.CircuitState }

func (f fakeCircuitSource) Snapshots() []domain.CircuitState { return f.snapshots }

func TestPollerRecordsCacheDeltasAndCircuitState(t *testing.T) {
	reg := New()
	cacheSrc := fakeCacheSource{stats: map[string]cache.Stats{
		"positions": {Hits: 5, Misses: 2, Size: 3},
	}}
	circuitSrc := fakeCircuitSource{snapshots: []domain.CircuitState{
		{ServiceID: "chain:1", State: domain.CircuitOpen},
	}}

	poller := NewPoller(reg, cacheSrc, circuitSrc, []string{"positions"})
	poller.poll()

	assert.Equal(t, float64(5), testutil.ToFloat64(reg.CacheHits.WithLabelValues("positions", "tier1")))
	assert.Equal(t, float64(2), testutil.ToFloat64(reg.CacheMisses.WithLabelValues("positions")))
	assert.Equal(t, float64(3), testutil.ToFloat64(reg.CacheEntries.WithLabelValues("positions")))
	assert.Equal(t, float64(2), testutil.ToFloat64(reg.CircuitState.WithLabelValues("chain:1")))

	// second poll only adds the delta, not the cumulative total again
	cacheSrc.stats["positions"] = cache.Stats{Hits: 7, Misses: 2, Size: 4}
	poller.poll()
	assert.Equal(t, float64(7), testutil.ToFloat64(reg.CacheHits.WithLabelValues("positions", "tier1")))
}

type fakeAlertSink struct {
	created  []domain.Alert
	resolved []string
}

func (f *fakeAlertSink) CreateAlert(alert domain.Alert) { f.created = append(f.created, alert) }
func (f *fakeAlertSink) ResolveAlert(alertID string, resolvedAt time.Time) {
	f.resolved = append(f.resolved, alertID)
}

func TestAlertRecorderIncrementsAndDelegates(t *testing.T) {
	reg := New()
	inner := &fakeAlertSink{}
	recorder := AlertRecorder{Reg: reg, Inner: inner}

	recorder.CreateAlert(domain.Alert{ID: "a1", Severity: domain.SeverityHigh})
	recorder.ResolveAlert("a1", time.Now())

	require.Len(t, inner.created, 1)
	require.Len(t, inner.resolved, 1)
	assert.Equal(t, float64(1), testutil.ToFloat64(reg.AlertsCreated.WithLabelValues("high")))
	assert.Equal(t, float64(1), testutil.ToFloat64(reg.AlertsResolved.WithLabelValues("unknown")))
}

func TestStreamDropRecorderIncrements(t *testing.T) {
	reg := New()
	recorder := StreamDropRecorder{Reg: reg}
	recorder.RecordDrop("risk:pos-1")
	assert.Equal(t, float64(1), testutil.ToFloat64(reg.StreamDrops.WithLabelValues("risk:pos-1")))
}
