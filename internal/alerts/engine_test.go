package alerts

import (
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/onchainrisk/monitor/internal/domain"
)

type fakeSink struct {
	created  []domain.Alert
	resolved []string
}

func (f *fakeSink) CreateAlert(alert domain.Alert) {
	f.created = append(f.created, alert)
}

func (f *fakeSink) ResolveAlert(alertID string, resolvedAt time.Time) {
	f.resolved = append(f.resolved, alertID)
}

func testOwner() domain.Address {
	addr, _ := domain.ParseAddress("0x1111111111111111111111111111111111111111")
	return addr
}

func singleRule(factor string, comp domain.Comparator, value float64) func(domain.Address) []domain.ThresholdRule {
	rule := domain.ThresholdRule{
		ID:         "rule-1",
		Factor:     factor,
		Comparator: comp,
		Value:      value,
		Enabled:    true,
	}
	return func(domain.Address) []domain.ThresholdRule {
		return []domain.ThresholdRule{rule}
	}
}

func TestEvaluateCreatesAlertOnTransition(t *testing.T) {
	sink := &fakeSink{}
	engine := NewEngine(DefaultConfig, singleRule(domain.FactorLiquidation, domain.CompGTE, 0.8), sink, zerolog.Nop())

	prev := domain.RiskMetrics{Factors: map[string]float64{domain.FactorLiquidation: 0.5}}
	next := domain.RiskMetrics{Factors: map[string]float64{domain.FactorLiquidation: 0.9}}

	engine.Evaluate(testOwner(), "pos-1", next, prev, time.Now())

	require.Len(t, sink.created, 1)
	assert.Equal(t, domain.AlertOpen, sink.created[0].State)
	assert.Equal(t, domain.SeverityMedium, sink.created[0].Severity)
}

func TestEvaluateSuppressesDuplicateWhileOpen(t *testing.T) {
	sink := &fakeSink{}
	engine := NewEngine(DefaultConfig, singleRule(domain.FactorLiquidation, domain.CompGTE, 0.8), sink, zerolog.Nop())

	prev := domain.RiskMetrics{Factors: map[string]float64{domain.FactorLiquidation: 0.5}}
	high := domain.RiskMetrics{Factors: map[string]float64{domain.FactorLiquidation: 0.9}}
	higher := domain.RiskMetrics{Factors: map[string]float64{domain.FactorLiquidation: 0.95}}

	engine.Evaluate(testOwner(), "pos-1", high, prev, time.Now())
	engine.Evaluate(testOwner(), "pos-1", higher, high, time.Now())

	assert.Len(t, sink.created, 1, "second still-satisfying tick must not create a duplicate alert")
}

func TestEvaluateResolvesAfterHysteresisTicks(t *testing.T) {
	sink := &fakeSink{}
	cfg := Config{ResolveHysteresisTicks: 2}
	engine := NewEngine(cfg, singleRule(domain.FactorLiquidation, domain.CompGTE, 0.8), sink, zerolog.Nop())

	prev := domain.RiskMetrics{Factors: map[string]float64{domain.FactorLiquidation: 0.5}}
	high := domain.RiskMetrics{Factors: map[string]float64{domain.FactorLiquidation: 0.9}}
	low := domain.RiskMetrics{Factors: map[string]float64{domain.FactorLiquidation: 0.1}}

	engine.Evaluate(testOwner(), "pos-1", high, prev, time.Now())
	require.Len(t, sink.created, 1)

	// First below-threshold tick: within hysteresis window, stays open.
	engine.Evaluate(testOwner(), "pos-1", low, high, time.Now())
	assert.Empty(t, sink.resolved)

	// Second consecutive below-threshold tick: resolves.
	engine.Evaluate(testOwner(), "pos-1", low, low, time.Now())
	require.Len(t, sink.resolved, 1)
	assert.Equal(t, sink.created[0].ID, sink.resolved[0])
}

func TestEvaluateResetsHysteresisOnFlapBackAboveThreshold(t *testing.T) {
	sink := &fakeSink{}
	cfg := Config{ResolveHysteresisTicks: 2}
	engine := NewEngine(cfg, singleRule(domain.FactorLiquidation, domain.CompGTE, 0.8), sink, zerolog.Nop())

	prev := domain.RiskMetrics{Factors: map[string]float64{domain.FactorLiquidation: 0.5}}
	high := domain.RiskMetrics{Factors: map[string]float64{domain.FactorLiquidation: 0.9}}
	low := domain.RiskMetrics{Factors: map[string]float64{domain.FactorLiquidation: 0.1}}

	engine.Evaluate(testOwner(), "pos-1", high, prev, time.Now())
	engine.Evaluate(testOwner(), "pos-1", low, high, time.Now())  // belowCount=1
	engine.Evaluate(testOwner(), "pos-1", high, low, time.Now())  // flaps back up, resets
	engine.Evaluate(testOwner(), "pos-1", low, high, time.Now())  // belowCount=1 again

	assert.Empty(t, sink.resolved, "flap back above threshold should reset the hysteresis counter")
	assert.Len(t, sink.created, 1, "still the same single open alert, no duplicate on re-satisfy")
}

func TestSeverityBands(t *testing.T) {
	cases := []struct {
		value, threshold float64
		want             domain.Severity
	}{
		{0.85, 0.8, domain.SeverityLow},
		{0.95, 0.8, domain.SeverityMedium},
		{1.1, 0.8, domain.SeverityHigh},
		{1.5, 0.8, domain.SeverityCritical},
		{1.0, 0, domain.SeverityCritical},
	}
	for _, c := range cases {
		assert.Equal(t, c.want, severityFor(c.value, c.threshold))
	}
}

func TestEvaluateSkipsUnmatchedOrDisabledRules(t *testing.T) {
	sink := &fakeSink{}
	positionID := "pos-other"
	rule := domain.ThresholdRule{
		ID: "rule-1", Factor: domain.FactorLiquidation, Comparator: domain.CompGTE,
		Value: 0.5, Enabled: true, PositionID: &positionID,
	}
	engine := NewEngine(DefaultConfig, func(domain.Address) []domain.ThresholdRule {
		return []domain.ThresholdRule{rule}
	}, sink, zerolog.Nop())

	high := domain.RiskMetrics{Factors: map[string]float64{domain.FactorLiquidation: 0.9}}
	engine.Evaluate(testOwner(), "pos-1", high, domain.RiskMetrics{}, time.Now())

	assert.Empty(t, sink.created, "rule scoped to a different position must not fire")
}
