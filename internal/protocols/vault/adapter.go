// Package vault adapts Yearn/Beefy/Convex-style yield vaults to the
// protocols.Adapter contract: vault share balance times price-per-share.
package vault

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

// vaultABI covers the vault share accounting this adapter reads (balanceOf,
// pricePerShare, totalAssets). Share value always comes from pricePerShare;
// convertToAssets is not part of the ABI and is never called.
const vaultABI = `[
  {"constant":true,"inputs":[{"name":"account","type":"address"}],"name":"balanceOf","outputs":[{"name":"","type":"uint256"}],"type":"function"},
  {"constant":true,"inputs":[],"name":"pricePerShare","outputs":[{"name":"","type":"uint256"}],"type":"function"},
  {"constant":true,"inputs":[],"name":"totalAssets","outputs":[{"name":"","type":"uint256"}],"type":"function"}
]`

// Config describes one vault deployment tracked under a given strategy id.
type Config struct {
	VaultAddress domain.Address
	UnderlyingAsset domain.Address
	StrategyID   string
}

// Adapter implements protocols.Adapter for share-based yield vaults. One
// Adapter instance covers a single protocol tag (Yearn, Beefy, Convex);
// callers register one instance per family.
type Adapter struct {
	name      domain.Protocol
	client    *chainclient.Client
	contracts map[domain.ChainId][]Config
	log       zerolog.Logger
}

// NewAdapter wires a Chain Client and the per-chain vault registry for one
// named vault family.
func NewAdapter(name domain.Protocol, client *chainclient.Client, contracts map[domain.ChainId][]Config, log zerolog.Logger) *Adapter {
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
	vaults, ok := a.contracts[chain]
	if !ok {
		return nil, &domain.AdapterError{Kind: "unsupported_chain", Retryable: false, Message: "vault family not configured for chain"}
	}

	var positions []*domain.Position
	for _, cfg := range vaults {
		pos := &domain.Position{
			ID:       uuid.New().String(),
			Owner:    owner,
			Protocol: a.name,
			Chain:    chain,
			Kind:     domain.KindVaultShare,
		}
		if err := a.loadShares(ctx, chain, cfg, owner, pos); err != nil {
			a.log.Warn().Err(err).Str("vault", cfg.VaultAddress.String()).Msg("skipping vault on discovery error")
			continue
		}
		if len(pos.Legs) > 0 {
			positions = append(positions, pos)
		}
	}
	return positions, nil
}

func (a *Adapter) loadShares(ctx context.Context, chain domain.ChainId, cfg Config, owner domain.Address, pos *domain.Position) error {
	ownerAddr := common.BytesToAddress(owner[:])
	balOut, err := a.client.Call(ctx, chain, cfg.VaultAddress, vaultABI, "balanceOf", ownerAddr)
	if err != nil {
		return adapterErrFrom(err)
	}
	shares := decimalOf(balOut[0])
	if shares.IsZero() {
		pos.Legs = nil
		return nil
	}

	priceOut, err := a.client.Call(ctx, chain, cfg.VaultAddress, vaultABI, "pricePerShare")
	if err != nil {
		return adapterErrFrom(err)
	}
	pricePerShare := decimalOf(priceOut[0]).Div(decimal.New(1, 18))
	underlyingAmount := shares.Mul(pricePerShare)

	pos.Legs = []domain.Leg{
		{Token: domain.TokenRef{Chain: chain, Address: cfg.UnderlyingAsset}, Amount: underlyingAmount, Role: domain.RoleUnderlying},
	}
	pos.ProtocolPayload = &domain.VaultPayload{
		StrategyID:    cfg.StrategyID,
		PricePerShare: pricePerShare,
	}
	return nil
}

func (a *Adapter) Refresh(ctx context.Context, pos *domain.Position) (*domain.Position, error) {
	vaults, ok := a.contracts[pos.Chain]
	if !ok {
		return pos, &domain.AdapterError{Kind: "unsupported_chain", Retryable: false, Message: "chain not configured"}
	}
	payload, ok := pos.ProtocolPayload.(*domain.VaultPayload)
	if !ok {
		return pos, &domain.AdapterError{Kind: "bad_payload", Retryable: false, Message: "not a vault payload"}
	}
	for _, cfg := range vaults {
		if cfg.StrategyID != payload.StrategyID {
			continue
		}
		if err := a.loadShares(ctx, pos.Chain, cfg, pos.Owner, pos); err != nil {
			return pos, err
		}
		protocols.MarkZeroTicks(pos)
		return pos, nil
	}
	return pos, &domain.AdapterError{Kind: "not_found", Retryable: false, Message: "vault strategy no longer registered"}
}

func (a *Adapter) ValueUSD(pos *domain.Position, price protocols.PriceFunc) (decimal.Decimal, bool) {
	return protocols.ValueUSD(pos, price)
}

func (a *Adapter) Classify(pos *domain.Position) domain.PositionKind { return domain.KindVaultShare }

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
