// Package metrics is the shared prometheus registry for the risk monitor,
// grounded on the HealthLogger pattern found in the retrieval pack: a single
// registry, one gauge/counter per concern, registered once at construction
// and updated in place by each component.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Registry holds every collector the monitor's components update. A single
// instance is constructed in cmd/monitor and threaded into C2/C3/C7/C9.
type Registry struct {
	reg *prometheus.Registry

	CacheHits       *prometheus.CounterVec
	CacheMisses     *prometheus.CounterVec
	CacheEntries    *prometheus.GaugeVec
	CircuitState    *prometheus.GaugeVec
	CircuitTrips    *prometheus.CounterVec
	MonitorTicks    prometheus.Counter
	MonitorSkips    prometheus.Counter
	MonitorDuration prometheus.Histogram
	StreamDrops     *prometheus.CounterVec
	AlertsCreated   *prometheus.CounterVec
	AlertsResolved  *prometheus.CounterVec
}

// New builds and registers every collector. Call Registry() to hand the
// underlying *prometheus.Registry to an HTTP handler (promhttp.HandlerFor).
func New() *Registry {
	reg := prometheus.NewRegistry()

	m := &Registry{
		reg: reg,
		CacheHits: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "monitor_cache_hits_total",
			Help: "Cache hits by namespace and tier.",
		}, []string{"namespace", "tier"}),
		CacheMisses: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "monitor_cache_misses_total",
			Help: "Cache misses by namespace.",
		}, []string{"namespace"}),
		CacheEntries: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "monitor_cache_entries",
			Help: "Current entry count by namespace.",
		}, []string{"namespace"}),
		CircuitState: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "monitor_circuit_state",
			Help: "Circuit breaker state (0=closed, 1=half_open, 2=open) by service id.",
		}, []string{"service"}),
		CircuitTrips: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "monitor_circuit_trips_total",
			Help: "Circuit breaker open transitions by service id.",
		}, []string{"service"}),
		MonitorTicks: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "monitor_ticks_total",
			Help: "Completed owner ticks.",
		}),
		MonitorSkips: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "monitor_ticks_skipped_total",
			Help: "Owner ticks skipped (previous tick still running, concurrency limit).",
		}),
		MonitorDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "monitor_tick_duration_seconds",
			Help:    "Owner tick wall-clock duration.",
			Buckets: prometheus.DefBuckets,
		}),
		StreamDrops: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "monitor_stream_dropped_messages_total",
			Help: "Messages dropped by a subscriber's bounded queue, by topic.",
		}, []string{"topic"}),
		AlertsCreated: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "monitor_alerts_created_total",
			Help: "Alerts created by severity.",
		}, []string{"severity"}),
		AlertsResolved: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "monitor_alerts_resolved_total",
			Help: "Alerts resolved by severity.",
		}, []string{"severity"}),
	}

	reg.MustRegister(
		m.CacheHits, m.CacheMisses, m.CacheEntries,
		m.CircuitState, m.CircuitTrips,
		m.MonitorTicks, m.MonitorSkips, m.MonitorDuration,
		m.StreamDrops,
		m.AlertsCreated, m.AlertsResolved,
	)
	return m
}

// Registry returns the underlying prometheus registry for HTTP exposition.
func (m *Registry) Registry() *prometheus.Registry { return m.reg }
