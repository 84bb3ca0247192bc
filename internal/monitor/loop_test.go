package monitor

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/onchainrisk/monitor/internal/domain"
)

type fakeAdapters struct {
	positions []*domain.Position
	delay     time.Duration
	calls     int32
}

func (f *fakeAdapters) DiscoverAndRefresh(ctx context.Context, owner domain.Address, known []*domain.Position) ([]*domain.Position, error) {
	atomic.AddInt32(&f.calls, 1)
	if f.delay > 0 {
		time.Sleep(f.delay)
	}
	return f.positions, nil
}

type fakePrices struct{}

func (fakePrices) BatchPrices(ctx context.Context, tokens []domain.TokenRef) map[string]domain.ValidatedPrice {
	out := make(map[string]domain.ValidatedPrice, len(tokens))
	for _, t := range tokens {
		out[t.Key()] = domain.ValidatedPrice{Token: t, Confidence: 1}
	}
	return out
}

type fakeCalculator struct{ overall float64 }

func (f fakeCalculator) ComputeFor(pos *domain.Position, prices map[string]domain.ValidatedPrice, now time.Time) domain.RiskMetrics {
	return domain.RiskMetrics{PositionID: pos.ID, Overall: f.overall, Factors: map[string]float64{}, Timestamp: now}
}

type fakeAlerts struct {
	mu    sync.Mutex
	calls int
}

func (f *fakeAlerts) Evaluate(owner domain.Address, positionID string, newM, prevM domain.RiskMetrics, now time.Time) {
	f.mu.Lock()
	f.calls++
	f.mu.Unlock()
}

type fakePersistence struct {
	mu      sync.Mutex
	stored  map[string]domain.RiskMetrics
}

func newFakePersistence() *fakePersistence {
	return &fakePersistence{stored: make(map[string]domain.RiskMetrics)}
}

func (f *fakePersistence) UpsertPosition(ctx context.Context, pos *domain.Position) error { return nil }
func (f *fakePersistence) InsertRiskMetrics(ctx context.Context, positionID string, metrics domain.RiskMetrics) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.stored[positionID] = metrics
	return nil
}
func (f *fakePersistence) LatestRiskMetrics(ctx context.Context, positionID string) (domain.RiskMetrics, bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	m, ok := f.stored[positionID]
	return m, ok, nil
}
func (f *fakePersistence) LoadPositions(ctx context.Context, owner domain.Address) ([]*domain.Position, error) {
	return nil, nil
}

type fakePublisher struct {
	mu        sync.Mutex
	published int
}

func (f *fakePublisher) PublishRiskMetrics(positionID string, metrics domain.RiskMetrics) {
	f.mu.Lock()
	f.published++
	f.mu.Unlock()
}
func (f *fakePublisher) PublishPosition(owner domain.Address, pos *domain.Position) {}

func testOwner() domain.Address {
	addr, _ := domain.ParseAddress("0x2222222222222222222222222222222222222222")
	return addr
}

func TestRunTickPersistsAndPublishesOnFirstRun(t *testing.T) {
	addr, _ := domain.ParseAddress("0x1111111111111111111111111111111111111111")
	pos := &domain.Position{ID: "p1", Legs: []domain.Leg{{Token: domain.TokenRef{Chain: domain.ChainEthereum, Address: addr}}}}

	persistence := newFakePersistence()
	publisher := &fakePublisher{}
	loop := NewLoop(DefaultConfig, Deps{
		Adapters:    &fakeAdapters{positions: []*domain.Position{pos}},
		Prices:      fakePrices{},
		Calculator:  fakeCalculator{overall: 0.5},
		Alerts:      &fakeAlerts{},
		Persistence: persistence,
		Publisher:   publisher,
		Log:         zerolog.Nop(),
	})

	owner := testOwner()
	loop.RegisterOwner(owner)
	state := loop.owners[owner]
	loop.runTick(context.Background(), owner, state)

	assert.Equal(t, 1, publisher.published)
	_, ok := persistence.stored["p1"]
	assert.True(t, ok)
}

func TestRunTickSkipsEmitOnSmallDelta(t *testing.T) {
	addr, _ := domain.ParseAddress("0x1111111111111111111111111111111111111111")
	pos := &domain.Position{ID: "p1", Legs: []domain.Leg{{Token: domain.TokenRef{Chain: domain.ChainEthereum, Address: addr}}}}

	persistence := newFakePersistence()
	persistence.stored["p1"] = domain.RiskMetrics{Overall: 0.5, Factors: map[string]float64{}}
	publisher := &fakePublisher{}

	loop := NewLoop(DefaultConfig, Deps{
		Adapters:    &fakeAdapters{positions: []*domain.Position{pos}},
		Prices:      fakePrices{},
		Calculator:  fakeCalculator{overall: 0.501},
		Alerts:      &fakeAlerts{},
		Persistence: persistence,
		Publisher:   publisher,
		Log:         zerolog.Nop(),
	})

	owner := testOwner()
	loop.RegisterOwner(owner)
	state := loop.owners[owner]
	loop.runTick(context.Background(), owner, state)

	assert.Equal(t, 0, publisher.published, "delta below FactorDeltaEmit should not publish")
}

func TestScheduleTicksSkipsWhenOwnerAlreadyTicking(t *testing.T) {
	adapters := &fakeAdapters{positions: nil, delay: 50 * time.Millisecond}
	loop := NewLoop(DefaultConfig, Deps{
		Adapters:    adapters,
		Prices:      fakePrices{},
		Calculator:  fakeCalculator{},
		Persistence: newFakePersistence(),
		Log:         zerolog.Nop(),
	})
	owner := testOwner()
	loop.RegisterOwner(owner)

	ctx := context.Background()
	loop.scheduleTicks(ctx)
	loop.scheduleTicks(ctx)

	loop.wg.Wait()
	assert.Equal(t, int32(1), adapters.calls, "second schedule should skip the still-ticking owner")
	assert.Equal(t, int64(1), loop.SkipCount())
}

func TestApplyZeroAmountRuleArchivesAfterLimit(t *testing.T) {
	loop := NewLoop(Config{ZeroAmountTickLimit: 2}, Deps{Log: zerolog.Nop()})
	pos := &domain.Position{ZeroAmountTicks: 2}
	loop.applyZeroAmountRule([]*domain.Position{pos})
	assert.True(t, pos.Archived)
}

func TestFactorsChangedDetectsNewAndRemovedDimensions(t *testing.T) {
	newM := domain.RiskMetrics{Overall: 0.5, Factors: map[string]float64{"a": 0.5}}
	prevM := domain.RiskMetrics{Overall: 0.5, Factors: map[string]float64{}}
	require.True(t, factorsChanged(newM, prevM, 0.01))
}
