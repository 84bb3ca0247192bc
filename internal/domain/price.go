package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

// ValidatedPrice is the output of the price aggregator (§4.4). Immutable once
// produced.
type ValidatedPrice struct {
	Token             TokenRef
	PriceUSD          decimal.Decimal
	Confidence        float64 // [0,1]
	DeviationPercent  float64
	SourceCount       int
	Timestamp         time.Time
	AnomalyFlag       bool
}

// Level is the categorical risk level derived from an overall score.
type Level string

const (
	LevelVeryLow  Level = "very_low"
	LevelLow      Level = "low"
	LevelMedium   Level = "medium"
	LevelHigh     Level = "high"
	LevelCritical Level = "critical"
)

// LevelFor maps an overall score in [0,1] to its categorical level (§4.6).
func LevelFor(overall float64) Level {
	switch {
	case overall < 0.2:
		return LevelVeryLow
	case overall < 0.4:
		return LevelLow
	case overall < 0.6:
		return LevelMedium
	case overall < 0.8:
		return LevelHigh
	default:
		return LevelCritical
	}
}

// Factor names risk dimensions scored in [0,1] (§4.6).
const (
	FactorImpermanentLoss = "impermanent_loss"
	FactorPriceImpact     = "price_impact"
	FactorVolatility      = "volatility"
	FactorLiquidity       = "liquidity"
	FactorTVLDrop         = "tvl_drop"
	FactorLiquidation     = "liquidation"
	FactorUtilization     = "utilization"
	FactorInterestRate    = "interest_rate"
	FactorOracle          = "oracle"
	FactorMEV             = "mev"
	FactorSandwich        = "sandwich"
	FactorFrontrun        = "frontrun"
	FactorProtocol        = "protocol"
	FactorGovernance      = "governance"
	FactorCrossChain      = "cross_chain"
	FactorBridge          = "bridge"
	FactorSlashing        = "slashing"
	FactorPegStability    = "peg_stability"
)

// RiskMetrics is a flat record of factor scores plus an overall composite and
// confidence, attached to a Position id and timestamp (§3). Immutable.
type RiskMetrics struct {
	PositionID string
	Timestamp  time.Time
	Factors    map[string]float64
	Overall    float64
	Level      Level
	Confidence float64
}

// Clone returns a deep copy so callers can diff against a previous snapshot
// without aliasing the Factors map.
func (m RiskMetrics) Clone() RiskMetrics {
	out := m
	out.Factors = make(map[string]float64, len(m.Factors))
	for k, v := range m.Factors {
		out.Factors[k] = v
	}
	return out
}

// Comparator for ThresholdRule evaluation.
type Comparator string

const (
	CompGT  Comparator = "gt"
	CompGTE Comparator = "gte"
	CompLT  Comparator = "lt"
	CompLTE Comparator = "lte"
)

// Evaluate applies the comparator to (value, threshold). Panics on an
// invalid comparator: this is an invariant violation that must be
// unreachable once ThresholdRule is validated at the boundary.
func (c Comparator) Evaluate(value, threshold float64) bool {
	switch c {
	case CompGT:
		return value > threshold
	case CompGTE:
		return value >= threshold
	case CompLT:
		return value < threshold
	case CompLTE:
		return value <= threshold
	default:
		panic("domain: invalid comparator " + string(c))
	}
}

// ThresholdRule is owned by the Persistence Facade; mutated only by user API.
type ThresholdRule struct {
	ID         string
	Owner      Address
	PositionID *string // nil => applies to every position of Owner
	Factor     string
	Comparator Comparator
	Value      float64
	Enabled    bool
}

// Matches reports whether the rule applies to a given position id.
func (r ThresholdRule) Matches(positionID string) bool {
	return r.PositionID == nil || *r.PositionID == positionID
}

// Severity classifies how far an alert's triggering value exceeded its
// threshold (§4.8).
type Severity string

const (
	SeverityLow      Severity = "low"
	SeverityMedium   Severity = "medium"
	SeverityHigh     Severity = "high"
	SeverityCritical Severity = "critical"
)

// AlertState distinguishes open from resolved alerts.
type AlertState string

const (
	AlertOpen     AlertState = "open"
	AlertResolved AlertState = "resolved"
)

// Alert is created by the Alert Engine; only ResolvedAt is ever updated after
// creation.
type Alert struct {
	ID           string
	Owner        Address
	PositionID   *string
	ThresholdID  string
	Factor       string
	CrossedValue float64
	CurrentValue float64
	Severity     Severity
	State        AlertState
	CreatedAt    time.Time
	ResolvedAt   *time.Time
}
