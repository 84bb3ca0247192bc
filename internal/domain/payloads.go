package domain

import "github.com/shopspring/decimal"

// UniswapV3Payload carries decoded concentrated-liquidity state.
type UniswapV3Payload struct {
	PoolAddress Address
	Token0      Address
	Token1      Address
	TickLower   int32
	TickUpper   int32
	CurrentTick int32
	Liquidity   decimal.Decimal
	FeesOwed0   decimal.Decimal
	FeesOwed1   decimal.Decimal
	// Reserve0/Reserve1 are the pool contract's own token balances, refreshed
	// alongside the tick; the risk layer prices them to derive pool TVL.
	Reserve0 decimal.Decimal
	Reserve1 decimal.Decimal
	// Volume0/Volume1 sum absolute Swap amounts over the adapter's lookback
	// window (§4.1 FetchLogs block bound), priced the same way as reserves.
	Volume0    decimal.Decimal
	Volume1    decimal.Decimal
	OutOfRange bool
}

func (*UniswapV3Payload) isProtocolPayload() {}

// LendingPayload carries Aave-V3/Compound-V3-style reserve state.
type LendingPayload struct {
	HealthFactor         decimal.Decimal // debt positions; unset (zero) means "no debt"
	LTV                  decimal.Decimal
	LiquidationThreshold decimal.Decimal
	ReserveUtilization   decimal.Decimal
	VariableBorrowRate   decimal.Decimal
	OracleAgeSeconds      int64
	OracleDeviationPct   decimal.Decimal
}

func (*LendingPayload) isProtocolPayload() {}

// CDPPayload carries MakerDAO-style vault state.
type CDPPayload struct {
	Ilk                  string
	CDPID                uint64
	CollateralizationPct decimal.Decimal // ink value / art value * 100
	LiquidationPriceUSD  decimal.Decimal
	MinCollateralRatio   decimal.Decimal // e.g. 1.50 for 150%
	StabilityFeeAPR      decimal.Decimal
}

func (*CDPPayload) isProtocolPayload() {}

// LiquidStakingPayload carries Lido/Ether.fi-style receipt-token state.
type LiquidStakingPayload struct {
	RestakingProvider    string
	ExchangeRate         decimal.Decimal
	PegDeviationPct      decimal.Decimal
	WithdrawalQueueLen   int64
	ValidatorEffectiveness decimal.Decimal // 1.0 = perfect, used by the slashing factor
}

func (*LiquidStakingPayload) isProtocolPayload() {}

// VaultPayload carries Yearn/Beefy/Convex-style vault state.
type VaultPayload struct {
	StrategyID     string
	PricePerShare  decimal.Decimal
	VaultTVLUSD    decimal.Decimal
	Vault24hAgoTVL decimal.Decimal
}

func (*VaultPayload) isProtocolPayload() {}
