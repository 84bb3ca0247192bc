// Package makerdao adapts MakerDAO-style CDPs (vaults) to the
// protocols.Adapter contract: enumerate via the CDP manager, read
// (ilk, ink, art), and derive collateralization ratio and liquidation price.
package makerdao

import (
	"context"
	"math"
	"math/big"

	"github.com/ethereum/go-ethereum/common"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"github.com/onchainrisk/monitor/internal/chainclient"
	"github.com/onchainrisk/monitor/internal/domain"
	"github.com/onchainrisk/monitor/internal/protocols"
)

// secondsPerYear anchors the Jug per-second fee rate's annualization,
// matching Maker's own documented stability-fee convention.
const secondsPerYear = 365 * 24 * 60 * 60

// cdpManagerABI covers CDP enumeration (the "first"/"next" linked list the
// reference DssCdpManager exposes) and per-vault ilk/urn lookups.
const cdpManagerABI = `[
  {"constant":true,"inputs":[{"name":"owner","type":"address"}],"name":"first","outputs":[{"name":"","type":"uint256"}],"type":"function"},
  {"constant":true,"inputs":[{"name":"cdp","type":"uint256"}],"name":"next","outputs":[{"name":"","type":"uint256"}],"type":"function"},
  {"constant":true,"inputs":[{"name":"cdp","type":"uint256"}],"name":"ilks","outputs":[{"name":"","type":"bytes32"}],"type":"function"},
  {"constant":true,"inputs":[{"name":"cdp","type":"uint256"}],"name":"urns","outputs":[{"name":"","type":"address"}],"type":"function"}
]`

// vatABI covers the Vat's per-urn ink/art and per-ilk rate/spot.
const vatABI = `[
  {"constant":true,"inputs":[{"name":"ilk","type":"bytes32"},{"name":"urn","type":"address"}],"name":"urns","outputs":[
    {"name":"ink","type":"uint256"},{"name":"art","type":"uint256"}
  ],"type":"function"},
  {"constant":true,"inputs":[{"name":"ilk","type":"bytes32"}],"name":"ilks","outputs":[
    {"name":"Art","type":"uint256"},{"name":"rate","type":"uint256"},{"name":"spot","type":"uint256"},
    {"name":"line","type":"uint256"},{"name":"dust","type":"uint256"}
  ],"type":"function"}
]`

// jugABI covers the per-ilk stability fee accumulator (duty is the
// per-second fee rate, ray-scaled).
const jugABI = `[
  {"constant":true,"inputs":[{"name":"ilk","type":"bytes32"}],"name":"ilks","outputs":[
    {"name":"duty","type":"uint256"},{"name":"rho","type":"uint256"}
  ],"type":"function"}
]`

// ContractSet names the per-chain CDP manager, Vat and Jug addresses.
type ContractSet struct {
	CDPManager      domain.Address
	Vat             domain.Address
	Jug             domain.Address
	CollateralToken domain.Address
}

// Adapter implements protocols.Adapter for MakerDAO-style CDPs.
type Adapter struct {
	client    *chainclient.Client
	contracts map[domain.ChainId]ContractSet
	log       zerolog.Logger
}

// NewAdapter wires a Chain Client and the per-chain CDP manager registry.
func NewAdapter(client *chainclient.Client, contracts map[domain.ChainId]ContractSet, log zerolog.Logger) *Adapter {
	return &Adapter{client: client, contracts: contracts, log: log.With().Str("adapter", "makerdao").Logger()}
}

func (a *Adapter) Name() domain.Protocol { return domain.ProtocolMakerDAO }

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
		return nil, &domain.AdapterError{Kind: "unsupported_chain", Retryable: false, Message: "makerdao not configured for chain"}
	}

	ownerAddr := common.BytesToAddress(owner[:])
	firstOut, err := a.client.Call(ctx, chain, set.CDPManager, cdpManagerABI, "first", ownerAddr)
	if err != nil {
		return nil, adapterErrFrom(err)
	}
	cdpID, err := toUint64(firstOut[0])
	if err != nil || cdpID == 0 {
		return nil, nil
	}

	var positions []*domain.Position
	for cdpID != 0 {
		pos, err := a.buildPosition(ctx, chain, set, owner, cdpID)
		if err != nil {
			a.log.Warn().Err(err).Uint64("cdp_id", cdpID).Msg("skipping undecodeable vault")
		} else {
			positions = append(positions, pos)
		}

		nextOut, err := a.client.Call(ctx, chain, set.CDPManager, cdpManagerABI, "next", newBigInt(cdpID))
		if err != nil {
			break
		}
		next, err := toUint64(nextOut[0])
		if err != nil || next == cdpID {
			break
		}
		cdpID = next
	}
	return positions, nil
}

func (a *Adapter) buildPosition(ctx context.Context, chain domain.ChainId, set ContractSet, owner domain.Address, cdpID uint64) (*domain.Position, error) {
	ilkOut, err := a.client.Call(ctx, chain, set.CDPManager, cdpManagerABI, "ilks", newBigInt(cdpID))
	if err != nil {
		return nil, adapterErrFrom(err)
	}
	urnOut, err := a.client.Call(ctx, chain, set.CDPManager, cdpManagerABI, "urns", newBigInt(cdpID))
	if err != nil {
		return nil, adapterErrFrom(err)
	}
	urnAddr, ok := urnOut[0].(common.Address)
	if !ok {
		return nil, &domain.DecodeError{Reason: "bad urn address"}
	}
	ilk := ilkOut[0]

	urnState, err := a.client.Call(ctx, chain, set.Vat, vatABI, "urns", ilk, urnAddr)
	if err != nil {
		return nil, adapterErrFrom(err)
	}
	ilkState, err := a.client.Call(ctx, chain, set.Vat, vatABI, "ilks", ilk)
	if err != nil {
		return nil, adapterErrFrom(err)
	}
	if len(urnState) < 2 || len(ilkState) < 3 {
		return nil, &domain.DecodeError{Reason: "short Vat tuple"}
	}

	ink := decimalOf(urnState[0]).Div(decimal.New(1, 18))
	art := decimalOf(urnState[1]).Div(decimal.New(1, 18))
	rate := decimalOf(ilkState[1]).Div(decimal.New(1, 27))
	spot := decimalOf(ilkState[2]).Div(decimal.New(1, 27))
	minCollatRatio := decimal.NewFromFloat(1.5)

	debt := art.Mul(rate)
	collateralValue := ink.Mul(spot)

	var collatPct decimal.Decimal
	if debt.GreaterThan(decimal.Zero) {
		collatPct = collateralValue.Div(debt).Mul(decimal.NewFromInt(100))
	} else {
		collatPct = decimal.NewFromInt(99999)
	}

	// liquidationPriceUSD is the collateral price at which debt*minRatio
	// exactly equals collateral value — below it, the urn is unsafe.
	liquidationPriceUSD := decimal.Zero
	if ink.GreaterThan(decimal.Zero) {
		liquidationPriceUSD = debt.Mul(minCollatRatio).Div(ink)
	}

	pos := &domain.Position{
		ID:       uuid.New().String(),
		Owner:    owner,
		Protocol: domain.ProtocolMakerDAO,
		Chain:    chain,
		Kind:     domain.KindCDP,
		Legs: []domain.Leg{
			{Token: domain.TokenRef{Chain: chain, Address: set.CollateralToken}, Amount: ink, Role: domain.RoleCollateral},
		},
		ProtocolPayload: &domain.CDPPayload{
			Ilk:                  ilkString(ilk),
			CDPID:                cdpID,
			CollateralizationPct: collatPct,
			LiquidationPriceUSD:  liquidationPriceUSD,
			MinCollateralRatio:   minCollatRatio,
			StabilityFeeAPR:      a.stabilityFeeAPR(ctx, chain, set, ilk),
		},
	}
	if debt.GreaterThan(decimal.Zero) {
		pos.Legs = append(pos.Legs, domain.Leg{Amount: debt, Role: domain.RoleDebt})
	}
	return pos, nil
}

// stabilityFeeAPR reads the ilk's per-second fee accumulator from the Jug
// and annualizes it. A read failure degrades to zero rather than failing
// the whole vault decode — the fee rate doesn't gate liquidation math.
func (a *Adapter) stabilityFeeAPR(ctx context.Context, chain domain.ChainId, set ContractSet, ilk interface{}) decimal.Decimal {
	if set.Jug == domain.ZeroAddress {
		return decimal.Zero
	}
	out, err := a.client.Call(ctx, chain, set.Jug, jugABI, "ilks", ilk)
	if err != nil || len(out) < 1 {
		return decimal.Zero
	}
	duty, _ := decimalOf(out[0]).Div(decimal.New(1, 27)).Float64()
	if duty <= 0 {
		return decimal.Zero
	}
	apr := math.Pow(duty, secondsPerYear) - 1
	return decimal.NewFromFloat(apr)
}

func (a *Adapter) Refresh(ctx context.Context, pos *domain.Position) (*domain.Position, error) {
	payload, ok := pos.ProtocolPayload.(*domain.CDPPayload)
	if !ok {
		return pos, &domain.AdapterError{Kind: "bad_payload", Retryable: false, Message: "not a makerdao payload"}
	}
	set, ok := a.contracts[pos.Chain]
	if !ok {
		return pos, &domain.AdapterError{Kind: "unsupported_chain", Retryable: false, Message: "chain not configured"}
	}
	refreshed, err := a.buildPosition(ctx, pos.Chain, set, pos.Owner, payload.CDPID)
	if err != nil {
		return pos, err
	}
	refreshed.ID = pos.ID
	refreshed.ZeroAmountTicks = pos.ZeroAmountTicks
	protocols.MarkZeroTicks(refreshed)
	return refreshed, nil
}

func (a *Adapter) ValueUSD(pos *domain.Position, price protocols.PriceFunc) (decimal.Decimal, bool) {
	return protocols.ValueUSD(pos, price)
}

func (a *Adapter) Classify(pos *domain.Position) domain.PositionKind { return domain.KindCDP }

func newBigInt(v uint64) *big.Int { return new(big.Int).SetUint64(v) }

func toUint64(v interface{}) (uint64, error) {
	bi, ok := v.(*big.Int)
	if !ok {
		return 0, &domain.DecodeError{Reason: "expected *big.Int"}
	}
	if !bi.IsUint64() {
		return 0, &domain.DecodeError{Reason: "value overflows uint64"}
	}
	return bi.Uint64(), nil
}

func decimalOf(v interface{}) decimal.Decimal {
	bi, ok := v.(*big.Int)
	if !ok {
		return decimal.Zero
	}
	return decimal.NewFromBigInt(bi, 0)
}

// ilkString decodes a bytes32 ilk identifier (e.g. "ETH-A" right-padded
// with zero bytes) into its trimmed ASCII form.
func ilkString(v interface{}) string {
	raw, ok := v.([32]byte)
	if !ok {
		return ""
	}
	n := len(raw)
	for n > 0 && raw[n-1] == 0 {
		n--
	}
	return string(raw[:n])
}

func adapterErrFrom(err error) error {
	return &domain.AdapterError{Kind: "transport", Retryable: domain.IsRetryable(err), Message: err.Error()}
}
