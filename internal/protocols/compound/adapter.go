// Package compound adapts Compound-V3 (Comet)-style single-borrow-asset
// lending markets to the protocols.Adapter contract.
package compound

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

// cometABI covers Comet's per-user balance and utilization reads.
const cometABI = `[
  {"constant":true,"inputs":[{"name":"account","type":"address"}],"name":"balanceOf","outputs":[{"name":"","type":"uint256"}],"type":"function"},
  {"constant":true,"inputs":[{"name":"account","type":"address"}],"name":"borrowBalanceOf","outputs":[{"name":"","type":"uint256"}],"type":"function"},
  {"constant":true,"inputs":[],"name":"getUtilization","outputs":[{"name":"","type":"uint256"}],"type":"function"},
  {"constant":true,"inputs":[{"name":"utilization","type":"uint256"}],"name":"getBorrowRate","outputs":[{"name":"","type":"uint256"}],"type":"function"}
]`

// ContractSet names one Comet market per chain. Compound V3 deploys one
// Comet instance per base asset; this adapter tracks a single market.
type ContractSet struct {
	Comet     domain.Address
	BaseAsset domain.Address
}

// Adapter implements protocols.Adapter for Compound-V3-style markets.
type Adapter struct {
	client    *chainclient.Client
	contracts map[domain.ChainId]ContractSet
	log       zerolog.Logger
}

// NewAdapter wires a Chain Client and the per-chain Comet registry.
func NewAdapter(client *chainclient.Client, contracts map[domain.ChainId]ContractSet, log zerolog.Logger) *Adapter {
	return &Adapter{client: client, contracts: contracts, log: log.With().Str("adapter", "compound_v3").Logger()}
}

func (a *Adapter) Name() domain.Protocol { return domain.ProtocolCompoundV3 }

func (a *Adapter) SupportedChains() map[domain.ChainId]bool {
	out := make(map[domain.ChainId]bool, len(a.contracts))
	for chain := range a.contracts {
		out[chain] = true
	}
	return out
}

func (a *Adapter) Discover(ctx context.Context, owner domain.Address, chain domain.ChainId) ([]*domain.Position, error) {
	set, ok := a.contracts[chain]
	if !ok {
		return nil, &domain.AdapterError{Kind: "unsupported_chain", Retryable: false, Message: "compound_v3 not configured for chain"}
	}

	pos := &domain.Position{
		ID:       uuid.New().String(),
		Owner:    owner,
		Protocol: domain.ProtocolCompoundV3,
		Chain:    chain,
		Kind:     domain.KindLendingCollateral,
	}
	if err := a.loadBalances(ctx, chain, set, owner, pos); err != nil {
		return nil, err
	}
	if len(pos.Legs) == 0 {
		return nil, nil
	}
	return []*domain.Position{pos}, nil
}

func (a *Adapter) loadBalances(ctx context.Context, chain domain.ChainId, set ContractSet, owner domain.Address, pos *domain.Position) error {
	ownerAddr := common.BytesToAddress(owner[:])

	supplyOut, err := a.client.Call(ctx, chain, set.Comet, cometABI, "balanceOf", ownerAddr)
	if err != nil {
		return adapterErrFrom(err)
	}
	borrowOut, err := a.client.Call(ctx, chain, set.Comet, cometABI, "borrowBalanceOf", ownerAddr)
	if err != nil {
		return adapterErrFrom(err)
	}
	utilOut, err := a.client.Call(ctx, chain, set.Comet, cometABI, "getUtilization")
	if err != nil {
		return adapterErrFrom(err)
	}
	rateOut, err := a.client.Call(ctx, chain, set.Comet, cometABI, "getBorrowRate", utilOut[0])
	if err != nil {
		return adapterErrFrom(err)
	}

	supply := decimalOf(supplyOut[0])
	borrow := decimalOf(borrowOut[0])

	pos.Legs = nil
	if supply.GreaterThan(decimal.Zero) {
		pos.Legs = append(pos.Legs, domain.Leg{Token: domain.TokenRef{Chain: chain, Address: set.BaseAsset}, Amount: supply, Role: domain.RoleCollateral})
	}
	if borrow.GreaterThan(decimal.Zero) {
		pos.Legs = append(pos.Legs, domain.Leg{Token: domain.TokenRef{Chain: chain, Address: set.BaseAsset}, Amount: borrow, Role: domain.RoleDebt})
	}

	utilFloat, _ := decimalOf(utilOut[0]).Div(decimal.New(1, 18)).Float64()
	rateFloat, _ := decimalOf(rateOut[0]).Div(decimal.New(1, 18)).Float64()

	var healthFactor decimal.Decimal
	if borrow.GreaterThan(decimal.Zero) {
		healthFactor = supply.Div(borrow)
	} else {
		healthFactor = decimal.NewFromInt(999)
	}

	pos.ProtocolPayload = &domain.LendingPayload{
		HealthFactor:       healthFactor,
		ReserveUtilization: decimal.NewFromFloat(utilFloat),
		VariableBorrowRate: decimal.NewFromFloat(rateFloat),
	}
	return nil
}

func (a *Adapter) Refresh(ctx context.Context, pos *domain.Position) (*domain.Position, error) {
	set, ok := a.contracts[pos.Chain]
	if !ok {
		return pos, &domain.AdapterError{Kind: "unsupported_chain", Retryable: false, Message: "chain not configured"}
	}
	if err := a.loadBalances(ctx, pos.Chain, set, pos.Owner, pos); err != nil {
		return pos, err
	}
	protocols.MarkZeroTicks(pos)
	return pos, nil
}

func (a *Adapter) ValueUSD(pos *domain.Position, price protocols.PriceFunc) (decimal.Decimal, bool) {
	return protocols.ValueUSD(pos, price)
}

func (a *Adapter) Classify(pos *domain.Position) domain.PositionKind {
	for _, leg := range pos.Legs {
		if leg.Role == domain.RoleDebt {
			return domain.KindLendingDebt
		}
	}
	return domain.KindLendingCollateral
}

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
