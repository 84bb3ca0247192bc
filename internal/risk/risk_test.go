package risk

import (
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/onchainrisk/monitor/internal/domain"
)

func tokenA() domain.TokenRef {
	addr, _ := domain.ParseAddress("0xaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaa")
	return domain.TokenRef{Chain: domain.ChainEthereum, Address: addr}
}

func tokenB() domain.TokenRef {
	addr, _ := domain.ParseAddress("0xbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbb")
	return domain.TokenRef{Chain: domain.ChainEthereum, Address: addr}
}

func TestImpermanentLossZeroWhenPricesUnchanged(t *testing.T) {
	pos := &domain.Position{
		Legs: []domain.Leg{
			{Token: tokenA(), Amount: decimal.NewFromInt(1)},
			{Token: tokenB(), Amount: decimal.NewFromInt(1)},
		},
		EntrySnapshot: &domain.EntrySnapshot{
			Prices: []domain.EntryPrice{
				{Token: tokenA(), PriceUSD: decimal.NewFromInt(2000)},
				{Token: tokenB(), PriceUSD: decimal.NewFromInt(1)},
			},
		},
	}
	ctx := MarketContext{LegPrices: map[string]domain.ValidatedPrice{
		tokenA().Key(): {PriceUSD: decimal.NewFromInt(2000)},
		tokenB().Key(): {PriceUSD: decimal.NewFromInt(1)},
	}}
	il := impermanentLoss(pos, ctx)
	assert.InDelta(t, 0, il, 1e-9)
}

func TestImpermanentLossNonZeroOnDivergence(t *testing.T) {
	pos := &domain.Position{
		Legs: []domain.Leg{
			{Token: tokenA(), Amount: decimal.NewFromInt(1)},
			{Token: tokenB(), Amount: decimal.NewFromInt(1)},
		},
		EntrySnapshot: &domain.EntrySnapshot{
			Prices: []domain.EntryPrice{
				{Token: tokenA(), PriceUSD: decimal.NewFromInt(2000)},
				{Token: tokenB(), PriceUSD: decimal.NewFromInt(1)},
			},
		},
	}
	ctx := MarketContext{LegPrices: map[string]domain.ValidatedPrice{
		tokenA().Key(): {PriceUSD: decimal.NewFromInt(4000)},
		tokenB().Key(): {PriceUSD: decimal.NewFromInt(1)},
	}}
	il := impermanentLoss(pos, ctx)
	assert.Greater(t, il, 0.0)
}

func TestLiquidationFromHealthFactor(t *testing.T) {
	assert.InDelta(t, 0, liquidationFromHealthFactor(1.5, 0.5), 1e-9)
	assert.InDelta(t, 1, liquidationFromHealthFactor(1.0, 0.5), 1e-9)
	assert.Greater(t, liquidationFromHealthFactor(1.1, 0.5), 0.0)
}

func TestWeightedOverallRedistributesMissingDimensions(t *testing.T) {
	profile := weightProfile{"a": 0.5, "b": 0.5}
	full := weightedOverall(profile, map[string]float64{"a": 1, "b": 0})
	assert.InDelta(t, 0.5, full, 1e-9)

	partial := weightedOverall(profile, map[string]float64{"a": 1})
	assert.InDelta(t, 1.0, partial, 1e-9, "redistributed weight should push overall to the single dimension's value")
}

func TestCalculatorComputeLendingPosition(t *testing.T) {
	calc := NewCalculator(DefaultConfig)
	pos := &domain.Position{
		ID:          "pos-1",
		Protocol:    domain.ProtocolAaveV3,
		Kind:        domain.KindLendingCollateral,
		LastRefresh: time.Now(),
		Legs: []domain.Leg{
			{Token: tokenA(), Amount: decimal.NewFromInt(10), Role: domain.RoleCollateral},
		},
		ProtocolPayload: &domain.LendingPayload{
			HealthFactor:       decimal.NewFromFloat(1.2),
			ReserveUtilization: decimal.NewFromFloat(0.85),
			VariableBorrowRate: decimal.NewFromFloat(0.05),
			OracleAgeSeconds:   30,
			OracleDeviationPct: decimal.NewFromFloat(0.1),
		},
	}
	ctx := MarketContext{
		LegPrices: map[string]domain.ValidatedPrice{
			tokenA().Key(): {PriceUSD: decimal.NewFromInt(2000), Confidence: 0.95},
		},
		ProtocolBaseline: 0.2,
	}

	metrics := calc.Compute(pos, ctx, time.Now())
	require.Contains(t, metrics.Factors, domain.FactorLiquidation)
	assert.GreaterOrEqual(t, metrics.Overall, 0.0)
	assert.LessOrEqual(t, metrics.Overall, 1.0)
	assert.Equal(t, domain.LevelFor(metrics.Overall), metrics.Level)
}

func TestCalculatorConfidenceDegradesOnStalePosition(t *testing.T) {
	calc := NewCalculator(Config{MaxPositionAge: time.Minute})
	pos := &domain.Position{
		ID:          "pos-2",
		Protocol:    domain.ProtocolUniswapV3,
		Kind:        domain.KindLiquidity,
		LastRefresh: time.Now().Add(-2 * time.Minute),
		Legs: []domain.Leg{
			{Token: tokenA(), Amount: decimal.NewFromInt(1)},
		},
	}
	ctx := MarketContext{LegPrices: map[string]domain.ValidatedPrice{
		tokenA().Key(): {PriceUSD: decimal.NewFromInt(2000), Confidence: 1.0},
	}}

	metrics := calc.Compute(pos, ctx, time.Now())
	assert.InDelta(t, 0, metrics.Confidence, 1e-9, "position older than MaxPositionAge should floor freshness at 0")
}

func TestAggregatePortfolioConcentration(t *testing.T) {
	owner := domain.Address{}
	positions := []PositionValue{
		{Position: &domain.Position{Protocol: domain.ProtocolAaveV3}, Metrics: domain.RiskMetrics{Overall: 0.3}, AbsValueUSD: 1000},
		{Position: &domain.Position{Protocol: domain.ProtocolUniswapV3}, Metrics: domain.RiskMetrics{Overall: 0.6}, AbsValueUSD: 1000},
	}
	result := AggregatePortfolio(owner, positions)
	assert.InDelta(t, 0, result.Concentration, 1e-9, "two equal-value protocols should read minimal concentration")
	assert.Greater(t, result.OverallPortfolio, 0.0)
}

func TestAggregatePortfolioFullyConcentrated(t *testing.T) {
	owner := domain.Address{}
	positions := []PositionValue{
		{Position: &domain.Position{Protocol: domain.ProtocolAaveV3}, Metrics: domain.RiskMetrics{Overall: 0.4}, AbsValueUSD: 1000},
	}
	result := AggregatePortfolio(owner, positions)
	assert.Equal(t, 1.0, result.Concentration)
}

func TestAggregatePortfolioEmpty(t *testing.T) {
	result := AggregatePortfolio(domain.Address{}, nil)
	assert.Equal(t, domain.LevelVeryLow, result.Level)
}
