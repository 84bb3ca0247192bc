// Package alerts implements the Alert Engine (C8): threshold transition
// detection, severity banding, and resolve-hysteresis deduplication.
package alerts

import (
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/onchainrisk/monitor/internal/domain"
)

// Config controls dedup behavior.
type Config struct {
	ResolveHysteresisTicks int
}

// DefaultConfig matches §4.8.
var DefaultConfig = Config{ResolveHysteresisTicks: 3}

// Sink receives alerts as they're created or resolved, typically wired to
// the Persistence Facade and the Stream Hub.
type Sink interface {
	CreateAlert(alert domain.Alert)
	ResolveAlert(alertID string, resolvedAt time.Time)
}

// openAlertKey identifies the (owner, position, threshold) tuple an open
// alert suppresses duplicates for (§4.8 Deduplication).
type openAlertKey struct {
	owner       domain.Address
	positionID  string
	thresholdID string
}

type openAlertState struct {
	alert          domain.Alert
	belowCount     int // consecutive ticks the factor has been back under threshold
}

// Engine evaluates ThresholdRules against metrics transitions.
type Engine struct {
	cfg   Config
	sink  Sink
	log   zerolog.Logger

	mu    sync.Mutex
	open  map[openAlertKey]*openAlertState
	rules func(owner domain.Address) []domain.ThresholdRule
}

// NewEngine wires a rule source (e.g. the Persistence Facade's
// list_thresholds) and an output sink.
func NewEngine(cfg Config, rules func(owner domain.Address) []domain.ThresholdRule, sink Sink, log zerolog.Logger) *Engine {
	return &Engine{
		cfg:   cfg,
		sink:  sink,
		log:   log.With().Str("component", "alerts").Logger(),
		open:  make(map[openAlertKey]*openAlertState),
		rules: rules,
	}
}

// Evaluate implements §4.8 for one position's metrics transition.
func (e *Engine) Evaluate(owner domain.Address, positionID string, newMetrics, prevMetrics domain.RiskMetrics, now time.Time) {
	for _, rule := range e.rules(owner) {
		if !rule.Enabled || !rule.Matches(positionID) {
			continue
		}

		newValue, hasNew := newMetrics.Factors[rule.Factor]
		if !hasNew {
			continue
		}
		prevValue, hasPrev := prevMetrics.Factors[rule.Factor]

		newSatisfies := rule.Comparator.Evaluate(newValue, rule.Value)
		prevSatisfies := hasPrev && rule.Comparator.Evaluate(prevValue, rule.Value)

		key := openAlertKey{owner: owner, positionID: positionID, thresholdID: rule.ID}

		if newSatisfies {
			e.handleSatisfied(key, rule, newValue, !prevSatisfies, now)
			continue
		}
		e.handleUnsatisfied(key, now)
	}
}

func (e *Engine) handleSatisfied(key openAlertKey, rule domain.ThresholdRule, value float64, isTransition bool, now time.Time) {
	e.mu.Lock()
	defer e.mu.Unlock()

	if state, ok := e.open[key]; ok {
		// Already open: reset the hysteresis counter, suppress a new alert.
		state.belowCount = 0
		state.alert.CurrentValue = value
		return
	}

	if !isTransition {
		// Re-evaluating a rule whose previous value already satisfied it
		// (e.g. engine restarted mid-violation) without an open alert on
		// record: still flapping-prone to alert on every tick, so wait for
		// the next genuine transition instead.
		return
	}

	// Transition: wasn't satisfied, now is. Create a new alert (§4.8).
	alert := domain.Alert{
		ID:            uuid.New().String(),
		Owner:         key.owner,
		PositionID:    rule.PositionID,
		ThresholdID:   rule.ID,
		Factor:        rule.Factor,
		CrossedValue:  rule.Value,
		CurrentValue:  value,
		Severity:      severityFor(value, rule.Value),
		State:         domain.AlertOpen,
		CreatedAt:     now,
	}
	e.open[key] = &openAlertState{alert: alert}
	if e.sink != nil {
		e.sink.CreateAlert(alert)
	}
}

func (e *Engine) handleUnsatisfied(key openAlertKey, now time.Time) {
	e.mu.Lock()
	defer e.mu.Unlock()

	state, ok := e.open[key]
	if !ok {
		return
	}

	state.belowCount++
	if state.belowCount < e.cfg.ResolveHysteresisTicks {
		return
	}

	delete(e.open, key)
	if e.sink != nil {
		e.sink.ResolveAlert(state.alert.ID, now)
	}
}

// severityFor implements §4.8's severity bands: how far the factor exceeds
// the threshold, as a fraction of the threshold's own magnitude.
func severityFor(value, threshold float64) domain.Severity {
	if threshold == 0 {
		return domain.SeverityCritical
	}
	overshoot := absFloat(value-threshold) / absFloat(threshold)
	switch {
	case overshoot <= 0.10:
		return domain.SeverityLow
	case overshoot <= 0.25:
		return domain.SeverityMedium
	case overshoot <= 0.50:
		return domain.SeverityHigh
	default:
		return domain.SeverityCritical
	}
}

func absFloat(f float64) float64 {
	if f < 0 {
		return -f
	}
	return f
}
