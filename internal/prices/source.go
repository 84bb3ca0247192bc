// Package prices implements the Price Aggregator (C4): concurrent fan-out
// to multiple sources, weighted mean, deviation-based confidence, and
// rolling-window anomaly detection.
package prices

import (
	"context"
	"time"

	"github.com/shopspring/decimal"

	"github.com/onchainrisk/monitor/internal/domain"
)

// Source is one upstream price feed. Implementations adapt a specific
// price API (DEX TWAP, CEX ticker, oracle) to this narrow contract.
type Source interface {
	Name() string
	FetchPrice(ctx context.Context, token domain.TokenRef) (decimal.Decimal, error)
}

// SourceConfig controls how a Source participates in aggregation.
type SourceConfig struct {
	Name    string
	Weight  float64
	Timeout time.Duration
	Enabled bool
}

// Config is the aggregator-wide configuration (§4.4).
type Config struct {
	Sources                 []SourceConfig
	MinSourcesRequired      int
	PriceStaleness          time.Duration
	MaxDeviationPercentHard float64
	AnomalyThresholdPercent float64
	RollingWindowSize       int
	CacheTTL                time.Duration
}

// Validate enforces the configuration invariant from §4.4: sum of enabled
// weights > 0, and at least MinSourcesRequired enabled sources exist.
func (c Config) Validate() error {
	enabled := 0
	var totalWeight float64
	for _, s := range c.Sources {
		if s.Enabled {
			enabled++
			totalWeight += s.Weight
		}
	}
	if totalWeight <= 0 {
		return domain.ErrConstraintViolation
	}
	if enabled < c.MinSourcesRequired {
		return domain.ErrConstraintViolation
	}
	return nil
}
