package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

// Protocol is a tag drawn from a closed set of supported protocol families.
type Protocol string

const (
	ProtocolUniswapV3  Protocol = "uniswap_v3"
	ProtocolAaveV3     Protocol = "aave_v3"
	ProtocolCompoundV3 Protocol = "compound_v3"
	ProtocolMakerDAO   Protocol = "makerdao"
	ProtocolLido       Protocol = "lido"
	ProtocolEtherFi    Protocol = "etherfi"
	ProtocolEigenLayer Protocol = "eigenlayer"
	ProtocolBalancerV2 Protocol = "balancer_v2"
	ProtocolConvex     Protocol = "convex"
	ProtocolYearn      Protocol = "yearn"
	ProtocolBeefy      Protocol = "beefy"
)

// PositionKind classifies what a Position represents economically.
type PositionKind string

const (
	KindLiquidity         PositionKind = "liquidity"
	KindLendingCollateral PositionKind = "lending_collateral"
	KindLendingDebt       PositionKind = "lending_debt"
	KindStaking           PositionKind = "staking"
	KindVaultShare        PositionKind = "vault_share"
	KindCDP               PositionKind = "cdp"
)

// LegRole describes what a leg represents within a position.
type LegRole string

const (
	RoleCollateral LegRole = "collateral"
	RoleDebt       LegRole = "debt"
	RoleUnderlying LegRole = "underlying"
)

// Leg is one (token, amount, role) triple inside a Position. Amounts are
// never negative; sign is carried by Role, not by Amount.
type Leg struct {
	Token  TokenRef
	Amount decimal.Decimal
	Role   LegRole
}

// EntryPrice is the price of one leg's token frozen at position creation.
type EntryPrice struct {
	Token     TokenRef
	PriceUSD  decimal.Decimal
	Timestamp time.Time
}

// EntrySnapshot freezes per-leg entry prices at creation time. Never mutated
// after the Position is first discovered.
type EntrySnapshot struct {
	Prices    []EntryPrice
	Timestamp time.Time
}

// PriceFor returns the frozen entry price for a token, if recorded.
func (s *EntrySnapshot) PriceFor(t TokenRef) (decimal.Decimal, bool) {
	if s == nil {
		return decimal.Zero, false
	}
	for _, p := range s.Prices {
		if p.Token == t {
			return p.PriceUSD, true
		}
	}
	return decimal.Zero, false
}

// Position is the atomic unit of risk (§3). Owned by the Persistence Facade;
// mutated only via a complete replacement produced by the owning adapter.
type Position struct {
	ID              string
	Owner           Address
	Protocol        Protocol
	Chain           ChainId
	Kind            PositionKind
	Legs            []Leg
	EntrySnapshot   *EntrySnapshot
	LastRefresh     time.Time
	ProtocolPayload ProtocolPayload
	Archived        bool
	ZeroAmountTicks int // consecutive ticks observed with zero total amount
}

// ProtocolPayload is an opaque, protocol-specific bag of decoded on-chain
// state. The risk calculator reads it through the typed accessors below but
// never mutates it.
type ProtocolPayload interface {
	isProtocolPayload()
}

// HasNonZeroAmount reports whether any leg carries a non-zero amount.
func (p *Position) HasNonZeroAmount() bool {
	for _, leg := range p.Legs {
		if !leg.Amount.IsZero() {
			return true
		}
	}
	return false
}

// LegTokens returns the distinct set of tokens referenced by the position's
// legs, in leg order (duplicates removed).
func (p *Position) LegTokens() []TokenRef {
	seen := make(map[TokenRef]struct{}, len(p.Legs))
	out := make([]TokenRef, 0, len(p.Legs))
	for _, leg := range p.Legs {
		if _, ok := seen[leg.Token]; ok {
			continue
		}
		seen[leg.Token] = struct{}{}
		out = append(out, leg.Token)
	}
	return out
}
