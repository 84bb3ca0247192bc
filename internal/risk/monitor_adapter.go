package risk

import (
	"time"

	"github.com/shopspring/decimal"

	"github.com/onchainrisk/monitor/internal/domain"
)

// protocolBaselines is the static per-protocol risk baseline MarketContext
// feeds to protocolBaseline(). Ratings reflect relative audit maturity and
// track record, not live market data, so they need no external wiring.
// Protocols absent from the table fall back to protocolBaseline's own
// mid-range default.
var protocolBaselines = map[domain.Protocol]float64{
	domain.ProtocolUniswapV3:  0.10,
	domain.ProtocolAaveV3:     0.12,
	domain.ProtocolCompoundV3: 0.15,
	domain.ProtocolMakerDAO:   0.15,
	domain.ProtocolLido:       0.18,
	domain.ProtocolBalancerV2: 0.20,
	domain.ProtocolConvex:     0.25,
	domain.ProtocolYearn:      0.25,
	domain.ProtocolEtherFi:    0.30,
	domain.ProtocolEigenLayer: 0.35,
	domain.ProtocolBeefy:      0.35,
}

// MonitorAdapter implements monitor.RiskCalculator over a Calculator,
// translating the Monitor Loop's flat price map into a MarketContext.
//
// Pool TVL and 24h volume are derived from the Uniswap-V3 adapter's own
// on-chain reads (pool reserves, Swap-log scan — see
// protocols/uniswapv3.Adapter.Refresh) priced through the same leg-price
// map used for position valuation, so they track real liquidity rather
// than a worst-case placeholder.
//
// PoolTVL24hAgoUSD, RecentSandwiches, GovernanceBump, BridgeExposure and
// ValidatorUptime (the staking fallback; per-position ValidatorEffectiveness
// on LiquidStakingPayload already overrides it when present) have no wired
// source yet: each needs an indexer or registry this module doesn't have
// (historical state at a past block, a mempool/MEV feed, a governance-event
// feed, a bridge exposure registry, a beacon-chain uptime feed). They're
// left at zero. No factor panics on that, but most do not fall back to a
// conservative value: tvl_drop scores 0 without a 24h-ago TVL, the sandwich
// term and the governance bump add nothing, and the bridge and cross-chain
// factors are omitted; only the slashing fallback uses a mid-range 0.5.
type MonitorAdapter struct {
	Calc *Calculator
}

// ComputeFor implements monitor.RiskCalculator.
func (m MonitorAdapter) ComputeFor(pos *domain.Position, prices map[string]domain.ValidatedPrice, now time.Time) domain.RiskMetrics {
	ctx := MarketContext{LegPrices: prices, ProtocolBaseline: protocolBaselines[pos.Protocol]}

	if payload, ok := pos.ProtocolPayload.(*domain.UniswapV3Payload); ok {
		ctx.PoolTVLUSD = usdValue(payload.Reserve0, payload.Token0, pos.Chain, prices) +
			usdValue(payload.Reserve1, payload.Token1, pos.Chain, prices)
		ctx.Pool24hVolumeUSD = usdValue(payload.Volume0, payload.Token0, pos.Chain, prices) +
			usdValue(payload.Volume1, payload.Token1, pos.Chain, prices)
	}

	return m.Calc.Compute(pos, ctx, now)
}

func usdValue(amount decimal.Decimal, token domain.Address, chain domain.ChainId, prices map[string]domain.ValidatedPrice) float64 {
	price, ok := prices[(domain.TokenRef{Chain: chain, Address: token}).Key()]
	if !ok {
		return 0
	}
	f, _ := amount.Mul(price.PriceUSD).Float64()
	return f
}
