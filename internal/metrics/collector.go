package metrics

import (
	"time"

	"github.com/onchainrisk/monitor/internal/cache"
	"github.com/onchainrisk/monitor/internal/domain"
)

// CacheSource is the narrow slice of the two-tier cache the poller reads.
type CacheSource interface {
	Stats(namespace string) cache.Stats
}

// CircuitSource is the narrow slice of the circuit breaker registry the
// poller reads.
type CircuitSource interface {
	Snapshots() []domain.CircuitState
}

// Poller periodically snapshots cache and circuit breaker state into the
// registry's gauges, mirroring the HealthLogger pattern of updating
// pre-registered collectors in place rather than re-registering per scrape.
type Poller struct {
	reg        *Registry
	cache      CacheSource
	circuits   CircuitSource
	namespaces []string

	prevHits   map[string]int64
	prevMisses map[string]int64

	stop chan struct{}
}

// NewPoller builds a poller over the given cache namespaces.
func NewPoller(reg *Registry, cache CacheSource, circuits CircuitSource, namespaces []string) *Poller {
	return &Poller{
		reg:        reg,
		cache:      cache,
		circuits:   circuits,
		namespaces: namespaces,
		prevHits:   make(map[string]int64),
		prevMisses: make(map[string]int64),
		stop:       make(chan struct{}),
	}
}

// Start runs the poll loop until Stop is called.
func (p *Poller) Start(interval time.Duration) {
	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		p.poll()
		for {
			select {
			case <-ticker.C:
				p.poll()
			case <-p.stop:
				return
			}
		}
	}()
}

// Stop halts the poll loop.
func (p *Poller) Stop() { close(p.stop) }

func (p *Poller) poll() {
	if p.cache != nil {
		for _, ns := range p.namespaces {
			stats := p.cache.Stats(ns)
			if delta := stats.Hits - p.prevHits[ns]; delta > 0 {
				p.reg.CacheHits.WithLabelValues(ns, "tier1").Add(float64(delta))
			}
			if delta := stats.Misses - p.prevMisses[ns]; delta > 0 {
				p.reg.CacheMisses.WithLabelValues(ns).Add(float64(delta))
			}
			p.prevHits[ns] = stats.Hits
			p.prevMisses[ns] = stats.Misses
			p.reg.CacheEntries.WithLabelValues(ns).Set(float64(stats.Size))
		}
	}

	if p.circuits != nil {
		for _, cs := range p.circuits.Snapshots() {
			p.reg.CircuitState.WithLabelValues(cs.ServiceID).Set(circuitStateValue(cs.State))
		}
	}
}

func circuitStateValue(state domain.CircuitStateKind) float64 {
	switch state {
	case domain.CircuitClosed:
		return 0
	case domain.CircuitHalfOpen:
		return 1
	case domain.CircuitOpen:
		return 2
	default:
		return -1
	}
}

// TickRecorder adapts the registry to monitor.TickMetrics.
type TickRecorder struct{ Reg *Registry }

// ObserveTick records a completed owner tick's wall-clock duration.
func (r TickRecorder) ObserveTick(d time.Duration) {
	r.Reg.MonitorTicks.Inc()
	r.Reg.MonitorDuration.Observe(d.Seconds())
}

// ObserveSkip records an owner tick dropped by the scheduler.
func (r TickRecorder) ObserveSkip() {
	r.Reg.MonitorSkips.Inc()
}

// StreamDropRecorder adapts the registry to stream.DropRecorder.
type StreamDropRecorder struct{ Reg *Registry }

// RecordDrop increments the dropped-message counter for topic.
func (r StreamDropRecorder) RecordDrop(topic string) {
	r.Reg.StreamDrops.WithLabelValues(topic).Inc()
}

// AlertRecorder adapts the registry to alerts.Sink, wrapping an inner sink
// so created/resolved counts are recorded alongside persistence.
type AlertRecorder struct {
	Reg   *Registry
	Inner interface {
		CreateAlert(alert domain.Alert)
		ResolveAlert(alertID string, resolvedAt time.Time)
	}
}

// CreateAlert increments AlertsCreated then delegates to Inner.
func (r AlertRecorder) CreateAlert(alert domain.Alert) {
	r.Reg.AlertsCreated.WithLabelValues(string(alert.Severity)).Inc()
	r.Inner.CreateAlert(alert)
}

// ResolveAlert increments AlertsResolved then delegates to Inner. The
// severity label isn't available at resolution time (only the id is), so
// resolutions are recorded under "unknown"; callers wanting a precise
// severity breakdown should track it alongside their own alert state.
func (r AlertRecorder) ResolveAlert(alertID string, resolvedAt time.Time) {
	r.Reg.AlertsResolved.WithLabelValues("unknown").Inc()
	r.Inner.ResolveAlert(alertID, resolvedAt)
}
