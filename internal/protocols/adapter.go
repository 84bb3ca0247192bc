// Package protocols implements the Protocol Adapter capability (C5): one
// adapter per protocol family, registered by name, each translating
// on-chain state into domain.Position values without ever panicking.
package protocols

import (
	"context"

	"github.com/shopspring/decimal"

	"github.com/onchainrisk/monitor/internal/domain"
)

// PriceFunc resolves a token to its current validated USD price. Adapters
// never call the Price Aggregator directly; the Monitor Loop supplies this
// function so pricing stays batched at the loop level (§4.7 step 3).
type PriceFunc func(token domain.TokenRef) (domain.ValidatedPrice, bool)

// Adapter is the capability contract from §4.5. Implementations are
// stateless apart from a Chain Client handle and a per-chain contract
// address registry.
type Adapter interface {
	Name() domain.Protocol
	SupportedChains() map[domain.ChainId]bool
	Discover(ctx context.Context, owner domain.Address, chain domain.ChainId) ([]*domain.Position, error)
	Refresh(ctx context.Context, pos *domain.Position) (*domain.Position, error)
	ValueUSD(pos *domain.Position, price PriceFunc) (decimal.Decimal, bool)
	Classify(pos *domain.Position) domain.PositionKind
}

// Registry holds every wired adapter, keyed by protocol name.
type Registry struct {
	adapters map[domain.Protocol]Adapter
}

// NewRegistry builds an empty registry.
func NewRegistry() *Registry {
	return &Registry{adapters: make(map[domain.Protocol]Adapter)}
}

// Register wires one adapter. Adding a new protocol never requires
// changing the Monitor Loop (§4.5).
func (r *Registry) Register(a Adapter) {
	r.adapters[a.Name()] = a
}

// Get looks up an adapter by protocol name.
func (r *Registry) Get(name domain.Protocol) (Adapter, bool) {
	a, ok := r.adapters[name]
	return a, ok
}

// All returns every registered adapter, for discovery fan-out.
func (r *Registry) All() []Adapter {
	out := make([]Adapter, 0, len(r.adapters))
	for _, a := range r.adapters {
		out = append(out, a)
	}
	return out
}

// EnabledFor returns adapters that support the given chain.
func (r *Registry) EnabledFor(chain domain.ChainId) []Adapter {
	out := make([]Adapter, 0, len(r.adapters))
	for _, a := range r.adapters {
		if a.SupportedChains()[chain] {
			out = append(out, a)
		}
	}
	return out
}
