package sqlite

import (
	"context"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/onchainrisk/monitor/internal/domain"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	db, err := Open(Config{Path: "file::memory:?cache=shared"})
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })
	return NewStore(db, zerolog.Nop())
}

func testAddr(t *testing.T, hex string) domain.Address {
	t.Helper()
	addr, err := domain.ParseAddress(hex)
	require.NoError(t, err)
	return addr
}

func TestUpsertAndLoadPositionRoundTrips(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()
	owner := testAddr(t, "0x1111111111111111111111111111111111111111")
	token := testAddr(t, "0x2222222222222222222222222222222222222222")

	pos := &domain.Position{
		ID:       "pos-1",
		Owner:    owner,
		Protocol: domain.ProtocolUniswapV3,
		Chain:    domain.ChainEthereum,
		Kind:     domain.KindLiquidity,
		Legs: []domain.Leg{
			{Token: domain.TokenRef{Chain: domain.ChainEthereum, Address: token}, Amount: decimal.NewFromInt(10), Role: domain.RoleUnderlying},
		},
		LastRefresh: time.Now().Truncate(time.Millisecond),
		ProtocolPayload: &domain.UniswapV3Payload{
			TickLower:   -100,
			TickUpper:   100,
			CurrentTick: 0,
			Liquidity:   decimal.NewFromInt(500),
		},
	}

	require.NoError(t, store.UpsertPosition(ctx, pos))

	loaded, err := store.LoadPositions(ctx, owner)
	require.NoError(t, err)
	require.Len(t, loaded, 1)
	assert.Equal(t, pos.ID, loaded[0].ID)
	assert.Equal(t, pos.Protocol, loaded[0].Protocol)
	assert.Len(t, loaded[0].Legs, 1)
	payload, ok := loaded[0].ProtocolPayload.(*domain.UniswapV3Payload)
	require.True(t, ok)
	assert.Equal(t, int32(-100), payload.TickLower)
}

func TestArchivePositionExcludesFromLoad(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()
	owner := testAddr(t, "0x1111111111111111111111111111111111111111")

	pos := &domain.Position{ID: "pos-1", Owner: owner, Protocol: domain.ProtocolAaveV3, Kind: domain.KindLendingCollateral}
	require.NoError(t, store.UpsertPosition(ctx, pos))
	require.NoError(t, store.ArchivePosition(ctx, "pos-1"))

	loaded, err := store.LoadPositions(ctx, owner)
	require.NoError(t, err)
	assert.Empty(t, loaded)
}

func TestLatestRiskMetricsReturnsMostRecent(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	older := domain.RiskMetrics{Timestamp: time.Unix(100, 0), Overall: 0.3, Level: domain.LevelLow, Factors: map[string]float64{"a": 0.1}}
	newer := domain.RiskMetrics{Timestamp: time.Unix(200, 0), Overall: 0.7, Level: domain.LevelHigh, Factors: map[string]float64{"a": 0.5}}

	require.NoError(t, store.InsertRiskMetrics(ctx, "pos-1", older))
	require.NoError(t, store.InsertRiskMetrics(ctx, "pos-1", newer))

	got, ok, err := store.LatestRiskMetrics(ctx, "pos-1")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, 0.7, got.Overall)
}

func TestLatestRiskMetricsMissingReturnsFalse(t *testing.T) {
	store := newTestStore(t)
	_, ok, err := store.LatestRiskMetrics(context.Background(), "does-not-exist")
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestCreateAndResolveAlert(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()
	owner := testAddr(t, "0x1111111111111111111111111111111111111111")

	alert := domain.Alert{
		ID: "alert-1", Owner: owner, ThresholdID: "rule-1", Factor: "liquidation",
		CrossedValue: 0.8, CurrentValue: 0.9, Severity: domain.SeverityHigh, State: domain.AlertOpen, CreatedAt: time.Now(),
	}
	require.NoError(t, store.CreateAlert(ctx, alert))
	require.NoError(t, store.ResolveAlert(ctx, "alert-1", time.Now()))
}

func TestPruneRetentionRemovesOldRows(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	require.NoError(t, store.InsertRiskMetrics(ctx, "pos-1", domain.RiskMetrics{Timestamp: time.Unix(100, 0), Factors: map[string]float64{}}))
	require.NoError(t, store.InsertRiskMetrics(ctx, "pos-1", domain.RiskMetrics{Timestamp: time.Now(), Factors: map[string]float64{}}))

	riskRows, _, err := store.PruneRetention(ctx, time.Unix(1000, 0))
	require.NoError(t, err)
	assert.Equal(t, int64(1), riskRows)
}

func TestListThresholdsScopesByOwner(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()
	owner := testAddr(t, "0x1111111111111111111111111111111111111111")

	_, err := store.db.conn.ExecContext(ctx, `INSERT INTO threshold_rules (id, owner, position_id, factor, comparator, value, enabled) VALUES (?, ?, NULL, ?, ?, ?, 1)`,
		"rule-1", owner.String(), "liquidation", "gte", 0.8)
	require.NoError(t, err)

	rules, err := store.ListThresholds(ctx, owner)
	require.NoError(t, err)
	require.Len(t, rules, 1)
	assert.Equal(t, domain.CompGTE, rules[0].Comparator)
}
