package protocols

import (
	"context"
	"time"

	"github.com/rs/zerolog"

	"github.com/onchainrisk/monitor/internal/domain"
)

// Coordinator adapts a Registry of per-protocol Adapters to the Monitor
// Loop's AdapterSource contract (§4.7 step 2): discover new positions
// across every registered adapter and supported chain, refresh known ones
// through their owning adapter, and never let one adapter's error drop
// another's results (§7: per-position adapter error degrades that position
// only).
type Coordinator struct {
	registry *Registry
	chains   []domain.ChainId
	log      zerolog.Logger

	// onAdapterError, if set, is notified alongside the warn-level log for
	// every per-adapter discover/refresh failure. Wired to the system event
	// bus's audit trail at the composition root; nil is a no-op.
	onAdapterError func(protocol string, chain domain.ChainId, err error)
}

// NewCoordinator builds a coordinator that discovers across chains.
func NewCoordinator(registry *Registry, chains []domain.ChainId, log zerolog.Logger) *Coordinator {
	return &Coordinator{registry: registry, chains: chains, log: log.With().Str("component", "protocols.coordinator").Logger()}
}

// OnAdapterError registers a callback invoked on every adapter-level
// discover/refresh error, in addition to the coordinator's own logging.
func (c *Coordinator) OnAdapterError(fn func(protocol string, chain domain.ChainId, err error)) {
	c.onAdapterError = fn
}

func (c *Coordinator) reportAdapterError(protocol string, chain domain.ChainId, err error) {
	if c.onAdapterError != nil {
		c.onAdapterError(protocol, chain, err)
	}
}

// DiscoverAndRefresh implements monitor.AdapterSource.
func (c *Coordinator) DiscoverAndRefresh(ctx context.Context, owner domain.Address, known []*domain.Position) ([]*domain.Position, error) {
	byID := make(map[string]*domain.Position, len(known))
	for _, pos := range known {
		byID[pos.ID] = pos
	}

	for _, chain := range c.chains {
		for _, adapter := range c.registry.EnabledFor(chain) {
			discovered, err := adapter.Discover(ctx, owner, chain)
			if err != nil {
				c.log.Warn().Err(err).Str("protocol", string(adapter.Name())).Uint32("chain", uint32(chain)).Msg("discovery failed for adapter, skipping")
				c.reportAdapterError(string(adapter.Name()), chain, err)
				continue
			}
			for _, pos := range discovered {
				if _, exists := byID[pos.ID]; !exists {
					byID[pos.ID] = pos
				}
			}
		}
	}

	out := make([]*domain.Position, 0, len(byID))
	for _, pos := range byID {
		if pos.Archived {
			continue
		}
		adapter, ok := c.registry.Get(pos.Protocol)
		if !ok {
			c.log.Warn().Str("protocol", string(pos.Protocol)).Str("position_id", pos.ID).Msg("no adapter registered for position's protocol, keeping last known state")
			out = append(out, pos)
			continue
		}
		refreshed, err := adapter.Refresh(ctx, pos)
		if err != nil {
			c.log.Warn().Err(err).Str("position_id", pos.ID).Msg("refresh failed, keeping last known state")
			c.reportAdapterError(string(adapter.Name()), pos.Chain, err)
			out = append(out, pos)
			continue
		}
		// Backfill LastRefresh centrally so every adapter's confidence
		// scoring (risk.confidenceFor's freshness term) reflects an actual
		// refresh time rather than depending on each adapter remembering to
		// stamp it itself.
		refreshed.LastRefresh = time.Now()
		out = append(out, refreshed)
	}
	return out, nil
}
