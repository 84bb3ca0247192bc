package protocols

import (
	"context"
	"errors"
	"testing"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/onchainrisk/monitor/internal/domain"
)

type coordAdapter struct {
	name        domain.Protocol
	chains      map[domain.ChainId]bool
	discovered  []*domain.Position
	discoverErr error
	refreshErr  error
}

func (a *coordAdapter) Name() domain.Protocol                    { return a.name }
func (a *coordAdapter) SupportedChains() map[domain.ChainId]bool { return a.chains }
func (a *coordAdapter) Discover(ctx context.Context, owner domain.Address, chain domain.ChainId) ([]*domain.Position, error) {
	if a.discoverErr != nil {
		return nil, a.discoverErr
	}
	return a.discovered, nil
}
func (a *coordAdapter) Refresh(ctx context.Context, pos *domain.Position) (*domain.Position, error) {
	if a.refreshErr != nil {
		return nil, a.refreshErr
	}
	refreshed := *pos
	refreshed.LastRefresh = refreshed.LastRefresh.Add(1)
	return &refreshed, nil
}
func (a *coordAdapter) ValueUSD(pos *domain.Position, price PriceFunc) (decimal.Decimal, bool) {
	return decimal.Zero, true
}
func (a *coordAdapter) Classify(pos *domain.Position) domain.PositionKind { return domain.KindLiquidity }

func TestCoordinatorMergesDiscoveredWithKnown(t *testing.T) {
	reg := NewRegistry()
	aave := &coordAdapter{
		name:   domain.ProtocolAaveV3,
		chains: map[domain.ChainId]bool{domain.ChainEthereum: true},
		discovered: []*domain.Position{
			{ID: "new-1", Protocol: domain.ProtocolAaveV3, Chain: domain.ChainEthereum},
		},
	}
	reg.Register(aave)

	known := []*domain.Position{
		{ID: "known-1", Protocol: domain.ProtocolAaveV3, Chain: domain.ChainEthereum},
	}

	c := NewCoordinator(reg, []domain.ChainId{domain.ChainEthereum}, zerolog.Nop())
	out, err := c.DiscoverAndRefresh(context.Background(), domain.Address{}, known)
	require.NoError(t, err)

	ids := map[string]bool{}
	for _, pos := range out {
		ids[pos.ID] = true
	}
	assert.Len(t, out, 2)
	assert.True(t, ids["new-1"])
	assert.True(t, ids["known-1"])
}

func TestCoordinatorSkipsArchivedPositions(t *testing.T) {
	reg := NewRegistry()
	reg.Register(&coordAdapter{name: domain.ProtocolAaveV3, chains: map[domain.ChainId]bool{domain.ChainEthereum: true}})

	known := []*domain.Position{
		{ID: "archived-1", Protocol: domain.ProtocolAaveV3, Archived: true},
	}

	c := NewCoordinator(reg, nil, zerolog.Nop())
	out, err := c.DiscoverAndRefresh(context.Background(), domain.Address{}, known)
	require.NoError(t, err)
	assert.Empty(t, out)
}

func TestCoordinatorDegradesPositionOnRefreshError(t *testing.T) {
	reg := NewRegistry()
	reg.Register(&coordAdapter{
		name:       domain.ProtocolAaveV3,
		chains:     map[domain.ChainId]bool{domain.ChainEthereum: true},
		refreshErr: errors.New("rpc unavailable"),
	})

	known := []*domain.Position{
		{ID: "known-1", Protocol: domain.ProtocolAaveV3},
	}

	c := NewCoordinator(reg, nil, zerolog.Nop())
	out, err := c.DiscoverAndRefresh(context.Background(), domain.Address{}, known)
	require.NoError(t, err)
	require.Len(t, out, 1)
	assert.Equal(t, "known-1", out[0].ID)
}

func TestCoordinatorSkipsDiscoveryErrorsWithoutAborting(t *testing.T) {
	reg := NewRegistry()
	reg.Register(&coordAdapter{
		name:        domain.ProtocolAaveV3,
		chains:      map[domain.ChainId]bool{domain.ChainEthereum: true},
		discoverErr: errors.New("chain rpc down"),
	})
	reg.Register(&coordAdapter{
		name:   domain.ProtocolCompoundV3,
		chains: map[domain.ChainId]bool{domain.ChainEthereum: true},
		discovered: []*domain.Position{
			{ID: "compound-1", Protocol: domain.ProtocolCompoundV3, Chain: domain.ChainEthereum},
		},
	})

	c := NewCoordinator(reg, []domain.ChainId{domain.ChainEthereum}, zerolog.Nop())
	out, err := c.DiscoverAndRefresh(context.Background(), domain.Address{}, nil)
	require.NoError(t, err)
	require.Len(t, out, 1)
	assert.Equal(t, "compound-1", out[0].ID)
}

func TestCoordinatorKeepsPositionWithoutRegisteredAdapter(t *testing.T) {
	reg := NewRegistry()
	known := []*domain.Position{
		{ID: "orphan-1", Protocol: domain.ProtocolYearn},
	}

	c := NewCoordinator(reg, nil, zerolog.Nop())
	out, err := c.DiscoverAndRefresh(context.Background(), domain.Address{}, known)
	require.NoError(t, err)
	require.Len(t, out, 1)
	assert.Equal(t, "orphan-1", out[0].ID)
}
