// Package uniswapv3 adapts Uniswap-V3-style concentrated liquidity
// positions to the protocols.Adapter contract.
package uniswapv3

import (
	"context"
	"fmt"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"github.com/onchainrisk/monitor/internal/chainclient"
	"github.com/onchainrisk/monitor/internal/domain"
	"github.com/onchainrisk/monitor/internal/protocols"
)

// positionManagerABI covers the subset of NonfungiblePositionManager this
// adapter calls: owner enumeration and position decoding.
const positionManagerABI = `[
  {"constant":true,"inputs":[{"name":"owner","type":"address"}],"name":"balanceOf","outputs":[{"name":"","type":"uint256"}],"type":"function"},
  {"constant":true,"inputs":[{"name":"owner","type":"address"},{"name":"index","type":"uint256"}],"name":"tokenOfOwnerByIndex","outputs":[{"name":"","type":"uint256"}],"type":"function"},
  {"constant":true,"inputs":[{"name":"tokenId","type":"uint256"}],"name":"positions","outputs":[
    {"name":"nonce","type":"uint96"},{"name":"operator","type":"address"},
    {"name":"token0","type":"address"},{"name":"token1","type":"address"},
    {"name":"fee","type":"uint24"},{"name":"tickLower","type":"int24"},{"name":"tickUpper","type":"int24"},
    {"name":"liquidity","type":"uint128"},
    {"name":"feeGrowthInside0LastX128","type":"uint256"},{"name":"feeGrowthInside1LastX128","type":"uint256"},
    {"name":"tokensOwed0","type":"uint128"},{"name":"tokensOwed1","type":"uint128"}
  ],"type":"function"}
]`

// poolABI covers the pool's current tick and TVL-relevant state.
const poolABI = `[
  {"constant":true,"inputs":[],"name":"slot0","outputs":[
    {"name":"sqrtPriceX96","type":"uint160"},{"name":"tick","type":"int24"}
  ],"type":"function"}
]`

// factoryABI resolves a position's pool address from its two legs and fee
// tier; buildPosition never trusts a precomputed CREATE2 address.
const factoryABI = `[
  {"constant":true,"inputs":[{"name":"tokenA","type":"address"},{"name":"tokenB","type":"address"},{"name":"fee","type":"uint24"}],"name":"getPool","outputs":[{"name":"","type":"address"}],"type":"function"}
]`

// erc20BalanceOfABI is the minimal ERC20 fragment used to read pool reserves.
const erc20BalanceOfABI = `[
  {"constant":true,"inputs":[{"name":"account","type":"address"}],"name":"balanceOf","outputs":[{"name":"","type":"uint256"}],"type":"function"}
]`

// swapEventSignature is the Uniswap-V3 pool Swap event, used to bound a
// FetchLogs scan for 24h volume.
const swapEventSignature = "Swap(address,address,int256,int256,uint160,uint128,int24)"

// blocksPerDay approximates a 24h lookback window at a 12s block time
// (mainnet PoS); adapters for faster chains would need a per-chain value,
// out of scope for the chains this adapter is wired to today.
const blocksPerDay = 7200

// ContractSet names the per-chain contract addresses this adapter needs.
type ContractSet struct {
	PositionManager domain.Address
	Factory         domain.Address
}

// Adapter implements protocols.Adapter for Uniswap-V3-like DEXes.
type Adapter struct {
	client    *chainclient.Client
	contracts map[domain.ChainId]ContractSet
	log       zerolog.Logger
}

// NewAdapter wires a Chain Client and a static per-chain registry of
// position-manager addresses (§4.5: "static maps keyed by ChainId").
func NewAdapter(client *chainclient.Client, contracts map[domain.ChainId]ContractSet, log zerolog.Logger) *Adapter {
	return &Adapter{client: client, contracts: contracts, log: log.With().Str("adapter", "uniswap_v3").Logger()}
}

func (a *Adapter) Name() domain.Protocol { return domain.ProtocolUniswapV3 }

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
		return nil, &domain.AdapterError{Kind: "unsupported_chain", Retryable: false, Message: "uniswap_v3 not configured for chain"}
	}

	ownerAddr := common.BytesToAddress(owner[:])
	out, err := a.client.Call(ctx, chain, set.PositionManager, positionManagerABI, "balanceOf", ownerAddr)
	if err != nil {
		return nil, wrapAdapterErr(err)
	}

	n, err := toUint64(out[0])
	if err != nil {
		return nil, &domain.AdapterError{Kind: "decode", Retryable: false, Message: err.Error()}
	}

	positions := make([]*domain.Position, 0, n)
	for i := uint64(0); i < n; i++ {
		idxOut, err := a.client.Call(ctx, chain, set.PositionManager, positionManagerABI, "tokenOfOwnerByIndex", ownerAddr, newBigInt(i))
		if err != nil {
			return positions, wrapAdapterErr(err)
		}
		tokenID, err := toUint64(idxOut[0])
		if err != nil {
			continue
		}

		pos, err := a.buildPosition(ctx, chain, set, owner, tokenID)
		if err != nil {
			a.log.Warn().Err(err).Uint64("token_id", tokenID).Msg("skipping undecodeable position")
			continue
		}
		positions = append(positions, pos)
	}
	return positions, nil
}

func (a *Adapter) buildPosition(ctx context.Context, chain domain.ChainId, set ContractSet, owner domain.Address, tokenID uint64) (*domain.Position, error) {
	out, err := a.client.Call(ctx, chain, set.PositionManager, positionManagerABI, "positions", newBigInt(tokenID))
	if err != nil {
		return nil, wrapAdapterErr(err)
	}
	if len(out) < 12 {
		return nil, &domain.DecodeError{Reason: "short positions() tuple"}
	}

	token0 := addressOf(out[2])
	token1 := addressOf(out[3])
	fee := int32ValueOf(out[4])
	tickLower := int32ValueOf(out[5])
	tickUpper := int32ValueOf(out[6])
	liquidity := decimalOf(out[7])
	feesOwed0 := decimalOf(out[10])
	feesOwed1 := decimalOf(out[11])

	poolAddr, err := a.poolAddress(ctx, chain, set, token0, token1, fee)
	if err != nil {
		return nil, wrapAdapterErr(err)
	}

	pos := &domain.Position{
		ID:       uuid.New().String(),
		Owner:    owner,
		Protocol: domain.ProtocolUniswapV3,
		Chain:    chain,
		Kind:     domain.KindLiquidity,
		Legs: []domain.Leg{
			{Token: domain.TokenRef{Chain: chain, Address: token0}, Amount: liquidity, Role: domain.RoleUnderlying},
			{Token: domain.TokenRef{Chain: chain, Address: token1}, Amount: liquidity, Role: domain.RoleUnderlying},
		},
		ProtocolPayload: &domain.UniswapV3Payload{
			PoolAddress: poolAddr,
			Token0:      token0,
			Token1:      token1,
			TickLower:   tickLower,
			TickUpper:   tickUpper,
			Liquidity:   liquidity,
			FeesOwed0:   feesOwed0,
			FeesOwed1:   feesOwed1,
		},
	}
	return pos, nil
}

func (a *Adapter) poolAddress(ctx context.Context, chain domain.ChainId, set ContractSet, token0, token1 domain.Address, fee int32) (domain.Address, error) {
	out, err := a.client.Call(ctx, chain, set.Factory, factoryABI, "getPool",
		common.BytesToAddress(token0[:]), common.BytesToAddress(token1[:]), newBigInt(uint64(fee)))
	if err != nil {
		return domain.ZeroAddress, err
	}
	if len(out) < 1 {
		return domain.ZeroAddress, &domain.DecodeError{Reason: "short getPool() tuple"}
	}
	return addressOf(out[0]), nil
}

// Refresh reads the pool's current tick (slot0) to recompute out-of-range
// status, then re-reads pool reserves and recent volume. The position tuple
// is not re-read: liquidity, leg amounts and uncollected fees keep the values
// decoded at discovery.
func (a *Adapter) Refresh(ctx context.Context, pos *domain.Position) (*domain.Position, error) {
	payload, ok := pos.ProtocolPayload.(*domain.UniswapV3Payload)
	if !ok {
		return pos, &domain.AdapterError{Kind: "bad_payload", Retryable: false, Message: "not a uniswap_v3 payload"}
	}

	set, ok := a.contracts[pos.Chain]
	if !ok {
		return pos, &domain.AdapterError{Kind: "unsupported_chain", Retryable: false, Message: "chain not configured"}
	}

	slot0, err := a.client.Call(ctx, pos.Chain, payload.PoolAddress, poolABI, "slot0")
	if err != nil {
		return pos, wrapAdapterErr(err)
	}
	if len(slot0) < 2 {
		return pos, &domain.DecodeError{Reason: "short slot0() tuple"}
	}
	currentTick := int32ValueOf(slot0[1])
	payload.CurrentTick = currentTick
	payload.OutOfRange = currentTick < payload.TickLower || currentTick > payload.TickUpper

	_ = set
	a.refreshReserves(ctx, pos.Chain, payload)
	a.refreshVolume(ctx, pos.Chain, payload)

	pos.LastRefresh = time.Now()
	protocols.MarkZeroTicks(pos)
	return pos, nil
}

// refreshReserves reads the pool's own ERC20 balances for TVL pricing
// downstream (risk.MonitorAdapter turns these into MarketContext.PoolTVLUSD).
// A failed read leaves the previous reserves in place rather than zeroing
// TVL out for one missed tick.
func (a *Adapter) refreshReserves(ctx context.Context, chain domain.ChainId, payload *domain.UniswapV3Payload) {
	pool := common.BytesToAddress(payload.PoolAddress[:])
	if out, err := a.client.Call(ctx, chain, payload.Token0, erc20BalanceOfABI, "balanceOf", pool); err == nil && len(out) > 0 {
		payload.Reserve0 = decimalOf(out[0])
	} else if err != nil {
		a.log.Warn().Err(err).Msg("reserve0 read failed, keeping last known balance")
	}
	if out, err := a.client.Call(ctx, chain, payload.Token1, erc20BalanceOfABI, "balanceOf", pool); err == nil && len(out) > 0 {
		payload.Reserve1 = decimalOf(out[0])
	} else if err != nil {
		a.log.Warn().Err(err).Msg("reserve1 read failed, keeping last known balance")
	}
}

// refreshVolume sums absolute Swap amounts over the last ~24h of blocks.
// Best-effort: a log-fetch failure leaves the previous volume figures in
// place rather than collapsing the liquidity factor to worst-case.
func (a *Adapter) refreshVolume(ctx context.Context, chain domain.ChainId, payload *domain.UniswapV3Payload) {
	head, err := a.client.BlockNumber(ctx, chain)
	if err != nil {
		a.log.Warn().Err(err).Msg("block number read failed, skipping volume refresh")
		return
	}
	from := uint64(0)
	if head > blocksPerDay {
		from = head - blocksPerDay
	}

	events, err := a.client.FetchLogs(ctx, chain, chainclient.LogFilter{
		Contract:  payload.PoolAddress,
		Topics:    [][]common.Hash{{crypto.Keccak256Hash([]byte(swapEventSignature))}},
		FromBlock: from,
		ToBlock:   head,
	})
	if err != nil {
		a.log.Warn().Err(err).Msg("swap log fetch failed, keeping last known volume")
		return
	}

	vol0, vol1 := decimal.Zero, decimal.Zero
	for _, ev := range events {
		amt0, amt1, ok := decodeSwapAmounts(ev.Data)
		if !ok {
			continue
		}
		vol0 = vol0.Add(amt0.Abs())
		vol1 = vol1.Add(amt1.Abs())
	}
	payload.Volume0 = vol0
	payload.Volume1 = vol1
}

func (a *Adapter) ValueUSD(pos *domain.Position, price protocols.PriceFunc) (decimal.Decimal, bool) {
	return protocols.ValueUSD(pos, price)
}

func (a *Adapter) Classify(pos *domain.Position) domain.PositionKind { return domain.KindLiquidity }

func wrapAdapterErr(err error) error {
	return &domain.AdapterError{Kind: "transport", Retryable: domain.IsRetryable(err), Message: fmt.Sprint(err)}
}
