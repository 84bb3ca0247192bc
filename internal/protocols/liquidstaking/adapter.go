// Package liquidstaking adapts Lido/Ether.fi-style liquid-staking receipt
// tokens to the protocols.Adapter contract: receipt balance + exchange rate
// derives the underlying ETH amount.
package liquidstaking

import (
	"context"
	"math/big"

	"github.com/ethereum/go-ethereum/common"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"github.com/onchainrisk/monitor/internal/chainclient"
	"github.com/onchainrisk/monitor/internal/domain"
	"github.com/onchainrisk/monitor/internal/protocols"
)

// receiptTokenABI covers the receipt token's balance and its exchange rate
// to the underlying, expressed the way stETH/eETH-style tokens do (a
// getPooledEthByShares-equivalent call).
const receiptTokenABI = `[
  {"constant":true,"inputs":[{"name":"account","type":"address"}],"name":"balanceOf","outputs":[{"name":"","type":"uint256"}],"type":"function"},
  {"constant":true,"inputs":[{"name":"shares","type":"uint256"}],"name":"getPooledEthByShares","outputs":[{"name":"","type":"uint256"}],"type":"function"}
]`

// Config describes one liquid-staking deployment's contracts and a static
// provider label used by the slashing factor.
type Config struct {
	ReceiptToken domain.Address
	Provider     string
	WithdrawalQueueLen int64
}

// Adapter implements protocols.Adapter for liquid-staking receipt tokens.
// One Adapter instance covers a single protocol tag (Lido, Ether.fi, ...);
// callers register one instance per provider.
type Adapter struct {
	name      domain.Protocol
	client    *chainclient.Client
	contracts map[domain.ChainId]Config
	log       zerolog.Logger
}

// NewAdapter wires a Chain Client and a per-chain receipt-token registry
// for one named liquid-staking provider.
func NewAdapter(name domain.Protocol, client *chainclient.Client, contracts map[domain.ChainId]Config, log zerolog.Logger) *Adapter {
	return &Adapter{name: name, client: client, contracts: contracts, log: log.With().Str("adapter", string(name)).Logger()}
}

func (a *Adapter) Name() domain.Protocol { return a.name }

func (a *Adapter) SupportedChains() map[domain.ChainId]bool {
	out := make(map[domain.ChainId]bool, len(a.contracts))
	for chain := range a.contracts {
		out[chain] = true
	}
	return out
}

func (a *Adapter) Discover(ctx context.Context, owner domain.Address, chain domain.ChainId) ([]*domain.Position, error) {
	cfg, ok := a.contracts[chain]
	if !ok {
		return nil, &domain.AdapterError{Kind: "unsupported_chain", Retryable: false, Message: "liquid staking provider not configured for chain"}
	}

	pos := &domain.Position{
		ID:       uuid.New().String(),
		Owner:    owner,
		Protocol: a.name,
		Chain:    chain,
		Kind:     domain.KindStaking,
	}
	if err := a.loadBalance(ctx, chain, cfg, owner, pos); err != nil {
		return nil, err
	}
	if len(pos.Legs) == 0 {
		return nil, nil
	}
	return []*domain.Position{pos}, nil
}

func (a *Adapter) loadBalance(ctx context.Context, chain domain.ChainId, cfg Config, owner domain.Address, pos *domain.Position) error {
	ownerAddr := common.BytesToAddress(owner[:])
	balOut, err := a.client.Call(ctx, chain, cfg.ReceiptToken, receiptTokenABI, "balanceOf", ownerAddr)
	if err != nil {
		return adapterErrFrom(err)
	}
	shares := decimalOf(balOut[0])
	if shares.IsZero() {
		pos.Legs = nil
		return nil
	}

	underlyingOut, err := a.client.Call(ctx, chain, cfg.ReceiptToken, receiptTokenABI, "getPooledEthByShares", balOut[0])
	if err != nil {
		return adapterErrFrom(err)
	}
	underlying := decimalOf(underlyingOut[0])

	var exchangeRate decimal.Decimal
	if shares.GreaterThan(decimal.Zero) {
		exchangeRate = underlying.Div(shares)
	} else {
		exchangeRate = decimal.NewFromInt(1)
	}

	rateFloat, _ := exchangeRate.Float64()
	pegDeviationPct := (rateFloat - 1) * 100
	if pegDeviationPct < 0 {
		pegDeviationPct = -pegDeviationPct
	}

	pos.Legs = []domain.Leg{
		{Token: domain.TokenRef{Chain: chain, Address: cfg.ReceiptToken}, Amount: underlying, Role: domain.RoleUnderlying},
	}
	pos.ProtocolPayload = &domain.LiquidStakingPayload{
		RestakingProvider:      cfg.Provider,
		ExchangeRate:           exchangeRate,
		PegDeviationPct:        decimal.NewFromFloat(pegDeviationPct),
		WithdrawalQueueLen:     cfg.WithdrawalQueueLen,
		ValidatorEffectiveness: decimal.NewFromFloat(0.99),
	}
	return nil
}

func (a *Adapter) Refresh(ctx context.Context, pos *domain.Position) (*domain.Position, error) {
	cfg, ok := a.contracts[pos.Chain]
	if !ok {
		return pos, &domain.AdapterError{Kind: "unsupported_chain", Retryable: false, Message: "chain not configured"}
	}
	if err := a.loadBalance(ctx, pos.Chain, cfg, pos.Owner, pos); err != nil {
		return pos, err
	}
	protocols.MarkZeroTicks(pos)
	return pos, nil
}

func (a *Adapter) ValueUSD(pos *domain.Position, price protocols.PriceFunc) (decimal.Decimal, bool) {
	return protocols.ValueUSD(pos, price)
}

func (a *Adapter) Classify(pos *domain.Position) domain.PositionKind { return domain.KindStaking }

func decimalOf(v interface{}) decimal.Decimal {
	bi, ok := v.(*big.Int)
	if !ok {
		return decimal.Zero
	}
	return decimal.NewFromBigInt(bi, 0)
}

func adapterErrFrom(err error) error {
	return &domain.AdapterError{Kind: "transport", Retryable: domain.IsRetryable(err), Message: err.Error()}
}
