// Package risk implements the Risk Calculator (C6): one factor function per
// risk dimension, a per-protocol weighting profile, confidence computation,
// and portfolio-level aggregation. The calculator is pure: time enters only
// through an explicitly passed now.
package risk

import (
	"math"

	"gonum.org/v1/gonum/stat"

	"github.com/onchainrisk/monitor/internal/domain"
)

// MarketContext carries everything a factor function needs beyond the
// Position itself. All fields are optional; a missing field never panics,
// and each factor function applies its own fallback, which for several
// factors is a zero contribution rather than a conservative score.
type MarketContext struct {
	LegPrices         map[string]domain.ValidatedPrice // TokenRef.Key() -> price
	PriceHistory      map[string][]float64             // TokenRef.Key() -> rolling USD history, oldest first
	PoolTVLUSD        float64
	PoolTVL24hAgoUSD  float64
	Pool24hVolumeUSD  float64
	RecentSandwiches  int
	ProtocolBaseline  float64 // static per-protocol risk baseline in [0,1]
	GovernanceBump    float64 // additive, already decayed by caller
	BridgeExposure    float64 // fraction of position value held via a bridge
	ValidatorUptime   float64 // [0,1], 1 = perfect, used for slashing
}

func clamp01(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}

// impermanentLoss implements the standard LP IL formula from §4.6.
func impermanentLoss(pos *domain.Position, ctx MarketContext) float64 {
	if pos.EntrySnapshot == nil || len(pos.Legs) < 2 {
		return 0
	}
	p0Entry, ok0 := pos.EntrySnapshot.PriceFor(pos.Legs[0].Token)
	p1Entry, ok1 := pos.EntrySnapshot.PriceFor(pos.Legs[1].Token)
	if !ok0 || !ok1 || p0Entry.IsZero() || p1Entry.IsZero() {
		return 0
	}
	price0, found0 := ctx.LegPrices[pos.Legs[0].Token.Key()]
	price1, found1 := ctx.LegPrices[pos.Legs[1].Token.Key()]
	if !found0 || !found1 {
		return 0
	}

	p0EntryF, _ := p0Entry.Float64()
	p1EntryF, _ := p1Entry.Float64()
	p0NowF, _ := price0.PriceUSD.Float64()
	p1NowF, _ := price1.PriceUSD.Float64()
	if p0EntryF == 0 || p1EntryF == 0 || p1NowF == 0 {
		return 0
	}

	r := (p0NowF / p0EntryF) / (p1NowF / p1EntryF)
	if r <= 0 {
		return 0
	}
	il := math.Abs(2*math.Sqrt(r)/(1+r) - 1)
	return clamp01(il)
}

// priceImpact squashes position_value / (pool_tvl + position_value) with a
// log scale so small positions in deep pools score near zero.
func priceImpact(positionValueUSD, poolTVLUSD float64) float64 {
	if poolTVLUSD <= 0 {
		if positionValueUSD > 0 {
			return 1
		}
		return 0
	}
	share := positionValueUSD / (poolTVLUSD + positionValueUSD)
	return clamp01(math.Log1p(share*9) / math.Log(10))
}

// volatility computes a normalized rolling stddev over per-leg price
// history, saturating so extreme history doesn't blow past 1.
func volatility(history []float64) float64 {
	if len(history) < 2 {
		return 0
	}
	mean, stddev := stat.MeanStdDev(history, nil)
	if mean == 0 {
		return 0
	}
	coeffOfVariation := stddev / math.Abs(mean)

	// Saturating curve: cv of 0.5 (50% stddev relative to mean) already reads as near-maximal risk.
	return clamp01(coeffOfVariation / 0.5)
}

// liquidity scores low TVL and low volume as risky.
func liquidity(poolTVLUSD, volume24hUSD float64) float64 {
	tvlScore := clamp01(1 - math.Log1p(poolTVLUSD)/math.Log1p(50_000_000))
	volScore := clamp01(1 - math.Log1p(volume24hUSD)/math.Log1p(5_000_000))
	return clamp01(0.6*tvlScore + 0.4*volScore)
}

// tvlDrop implements the piecewise function from §4.6.
func tvlDrop(tvlNow, tvl24hAgo float64) float64 {
	if tvl24hAgo <= 0 {
		return 0
	}
	dropPct := (tvl24hAgo - tvlNow) / tvl24hAgo * 100
	return clamp01((dropPct - 5) / 45)
}

// liquidation scores lending/CDP positions by buffer over the liquidation
// threshold. safeMargin is the healthy buffer width (e.g. 0.5 = 50%).
func liquidationFromHealthFactor(healthFactor, safeMargin float64) float64 {
	if safeMargin <= 0 {
		safeMargin = 0.5
	}
	return clamp01(1 - (healthFactor-1)/safeMargin)
}

func liquidationFromCollateralRatio(ratio, minRatio float64) float64 {
	if minRatio <= 0 {
		return 1
	}
	buffer := (ratio - minRatio) / minRatio
	return clamp01(1 - buffer)
}

// utilization steps up sharply near the reserve's kink utilization.
func utilization(currentUtilization, kinkUtilization float64) float64 {
	if kinkUtilization <= 0 {
		kinkUtilization = 0.8
	}
	if currentUtilization <= kinkUtilization {
		return clamp01(currentUtilization / kinkUtilization * 0.5)
	}
	over := (currentUtilization - kinkUtilization) / (1 - kinkUtilization)
	return clamp01(0.5 + 0.5*over)
}

// interestRate is linear in the variable borrow rate, capped at 30% APR.
func interestRate(borrowRateAPR float64) float64 {
	const cap = 0.30
	return clamp01(borrowRateAPR / cap)
}

// oracleFreshness scores a feed by age and deviation; either condition
// alone can push the score high.
func oracleFreshness(ageSeconds int64, deviationPct, maxAgeSeconds float64) float64 {
	if maxAgeSeconds <= 0 {
		maxAgeSeconds = 3600
	}
	ageScore := clamp01(float64(ageSeconds) / maxAgeSeconds)
	devScore := clamp01(deviationPct / 10)
	if ageScore > devScore {
		return ageScore
	}
	return devScore
}

// mevComposite is a heuristic blend of the price-impact score (60%) and a
// score for recently observed sandwiching (40%, saturating at 10).
func mevComposite(priceImpactScore float64, recentSandwiches int) float64 {
	sandwichScore := clamp01(float64(recentSandwiches) / 10)
	return clamp01(0.6*priceImpactScore + 0.4*sandwichScore)
}

// protocolBaseline passes through a static per-protocol score, defaulting
// to a mid-range value for unrecognized protocols.
func protocolBaseline(baseline float64) float64 {
	if baseline <= 0 {
		return 0.3
	}
	return clamp01(baseline)
}

// governanceBump folds in a caller-decayed additive governance signal.
func governanceBump(base, bump float64) float64 {
	return clamp01(base + bump)
}

// bridgeExposure looks up a fixed bridge risk multiplied by exposure share.
func bridgeExposure(exposureShare float64) float64 {
	const bridgeBaseRisk = 0.4
	return clamp01(bridgeBaseRisk * exposureShare)
}

// slashingRisk derives from validator/restaking-provider uptime.
func slashingRisk(validatorUptime float64) float64 {
	if validatorUptime <= 0 {
		return 0.5
	}
	return clamp01((1 - validatorUptime) * 5)
}

// pegStability normalizes the absolute deviation of a receipt token from
// its underlying.
func pegStability(deviationPct float64) float64 {
	return clamp01(math.Abs(deviationPct) / 5)
}
