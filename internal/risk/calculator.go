package risk

import (
	"time"

	"github.com/shopspring/decimal"

	"github.com/onchainrisk/monitor/internal/domain"
)

// Config bounds the freshness factor used in confidence computation.
type Config struct {
	MaxPositionAge time.Duration
}

// DefaultConfig matches the monitor's default 30s tick interval scaled up
// to a generous staleness bound.
var DefaultConfig = Config{MaxPositionAge: 10 * time.Minute}

// Calculator computes RiskMetrics from a Position and its MarketContext.
// It holds no mutable state: every call is pure given its arguments.
type Calculator struct {
	cfg Config
}

// NewCalculator builds a Calculator with the given configuration.
func NewCalculator(cfg Config) *Calculator {
	return &Calculator{cfg: cfg}
}

// Compute implements §4.6. now is passed explicitly so the calculator never
// reads the wall clock itself.
func (c *Calculator) Compute(pos *domain.Position, ctx MarketContext, now time.Time) domain.RiskMetrics {
	factors := c.factorsFor(pos, ctx)
	profile := profileFor(pos.Protocol)
	overall := weightedOverall(profile, factors)

	confidence := c.confidenceFor(pos, ctx, now)

	return domain.RiskMetrics{
		PositionID: pos.ID,
		Timestamp:  now,
		Factors:    factors,
		Overall:    overall,
		Level:      domain.LevelFor(overall),
		Confidence: confidence,
	}
}

func (c *Calculator) factorsFor(pos *domain.Position, ctx MarketContext) map[string]float64 {
	factors := make(map[string]float64)

	positionValueUSD := c.positionValueUSD(pos, ctx)

	switch pos.Kind {
	case domain.KindLiquidity:
		factors[domain.FactorImpermanentLoss] = impermanentLoss(pos, ctx)
		factors[domain.FactorPriceImpact] = priceImpact(positionValueUSD, ctx.PoolTVLUSD)
		factors[domain.FactorLiquidity] = liquidity(ctx.PoolTVLUSD, ctx.Pool24hVolumeUSD)
		factors[domain.FactorTVLDrop] = tvlDrop(ctx.PoolTVLUSD, ctx.PoolTVL24hAgoUSD)
		factors[domain.FactorMEV] = mevComposite(factors[domain.FactorPriceImpact], ctx.RecentSandwiches)
		factors[domain.FactorSandwich] = clamp01(float64(ctx.RecentSandwiches) / 10)
		factors[domain.FactorFrontrun] = clamp01(float64(ctx.RecentSandwiches) / 15)

	case domain.KindLendingCollateral, domain.KindLendingDebt:
		if payload, ok := pos.ProtocolPayload.(*domain.LendingPayload); ok {
			hf, _ := payload.HealthFactor.Float64()
			factors[domain.FactorLiquidation] = liquidationFromHealthFactor(hf, 0.5)
			util, _ := payload.ReserveUtilization.Float64()
			factors[domain.FactorUtilization] = utilization(util, 0.8)
			rate, _ := payload.VariableBorrowRate.Float64()
			factors[domain.FactorInterestRate] = interestRate(rate)
			devPct, _ := payload.OracleDeviationPct.Float64()
			factors[domain.FactorOracle] = oracleFreshness(payload.OracleAgeSeconds, devPct, 3600)
		}

	case domain.KindCDP:
		if payload, ok := pos.ProtocolPayload.(*domain.CDPPayload); ok {
			ratio, _ := payload.CollateralizationPct.Float64()
			minRatio, _ := payload.MinCollateralRatio.Float64()
			factors[domain.FactorLiquidation] = liquidationFromCollateralRatio(ratio/100, minRatio)
			factors[domain.FactorPegStability] = pegStability(0)
		}

	case domain.KindStaking:
		validatorUptime := ctx.ValidatorUptime
		if payload, ok := pos.ProtocolPayload.(*domain.LiquidStakingPayload); ok {
			dev, _ := payload.PegDeviationPct.Float64()
			factors[domain.FactorPegStability] = pegStability(dev)
			if eff, _ := payload.ValidatorEffectiveness.Float64(); eff > 0 {
				validatorUptime = eff
			}
		}
		factors[domain.FactorSlashing] = slashingRisk(validatorUptime)

	case domain.KindVaultShare:
		factors[domain.FactorLiquidity] = liquidity(ctx.PoolTVLUSD, ctx.Pool24hVolumeUSD)
		factors[domain.FactorTVLDrop] = tvlDrop(ctx.PoolTVLUSD, ctx.PoolTVL24hAgoUSD)
	}

	// Dimensions applicable to every position kind.
	factors[domain.FactorVolatility] = c.volatilityAcrossLegs(pos, ctx)
	factors[domain.FactorProtocol] = protocolBaseline(ctx.ProtocolBaseline)
	factors[domain.FactorGovernance] = governanceBump(factors[domain.FactorProtocol], ctx.GovernanceBump)
	if ctx.BridgeExposure > 0 {
		factors[domain.FactorBridge] = bridgeExposure(ctx.BridgeExposure)
		factors[domain.FactorCrossChain] = bridgeExposure(ctx.BridgeExposure)
	}

	return factors
}

func (c *Calculator) volatilityAcrossLegs(pos *domain.Position, ctx MarketContext) float64 {
	var maxVol float64
	for _, leg := range pos.LegTokens() {
		history, ok := ctx.PriceHistory[leg.Key()]
		if !ok {
			continue
		}
		if v := volatility(history); v > maxVol {
			maxVol = v
		}
	}
	return maxVol
}

func (c *Calculator) positionValueUSD(pos *domain.Position, ctx MarketContext) float64 {
	total := decimal.Zero
	for _, leg := range pos.Legs {
		price, ok := ctx.LegPrices[leg.Token.Key()]
		if !ok {
			continue
		}
		value := leg.Amount.Mul(price.PriceUSD)
		if leg.Role == domain.RoleDebt {
			value = value.Neg()
		}
		total = total.Add(value)
	}
	f, _ := total.Abs().Float64()
	return f
}

// confidenceFor implements the confidence rule from §4.6: the minimum of
// per-leg price confidence, a freshness factor, and a completeness factor.
func (c *Calculator) confidenceFor(pos *domain.Position, ctx MarketContext, now time.Time) float64 {
	legs := pos.LegTokens()
	if len(legs) == 0 {
		return 0
	}

	minPriceConfidence := 1.0
	missingLegs := 0
	for _, leg := range legs {
		price, ok := ctx.LegPrices[leg.Key()]
		if !ok {
			missingLegs++
			continue
		}
		if price.Confidence < minPriceConfidence {
			minPriceConfidence = price.Confidence
		}
	}

	completeness := 1 - float64(missingLegs)/float64(len(legs))

	maxAge := c.cfg.MaxPositionAge
	if maxAge <= 0 {
		maxAge = DefaultConfig.MaxPositionAge
	}
	age := now.Sub(pos.LastRefresh)
	freshness := 1 - minFloat(1, age.Seconds()/maxAge.Seconds())
	if freshness < 0 {
		freshness = 0
	}

	confidence := minPriceConfidence
	if freshness < confidence {
		confidence = freshness
	}
	if completeness < confidence {
		confidence = completeness
	}
	return clamp01(confidence)
}

func minFloat(a, b float64) float64 {
	if a < b {
		return a
	}
	return b
}
