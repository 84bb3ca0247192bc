// Package monitor implements the Monitor Loop (C7): a cooperative scheduler
// running one task per tracked owner, non-blocking per-owner mutual
// exclusion, and a global concurrency cap.
package monitor

import (
	"context"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/onchainrisk/monitor/internal/domain"
)

// Deps bundles every collaborator a tick needs. Concrete types live in
// their own packages; this package depends only on narrow interfaces so it
// stays testable without a live chain.
type Deps struct {
	Adapters      AdapterSource
	Prices        PriceSource
	Calculator    RiskCalculator
	Alerts        AlertFeeder
	Persistence   Persistence
	Publisher     Publisher
	Metrics       TickMetrics
	Log           zerolog.Logger
}

// TickMetrics observes tick/skip counts and tick duration; nil disables
// recording. Wired to the prometheus registry in cmd/monitor.
type TickMetrics interface {
	ObserveTick(duration time.Duration)
	ObserveSkip()
}

// AdapterSource discovers and refreshes positions across every registered
// protocol adapter for one owner/chain.
type AdapterSource interface {
	DiscoverAndRefresh(ctx context.Context, owner domain.Address, known []*domain.Position) ([]*domain.Position, error)
}

// PriceSource resolves the union of leg tokens in one batched call.
type PriceSource interface {
	BatchPrices(ctx context.Context, tokens []domain.TokenRef) map[string]domain.ValidatedPrice
}

// RiskCalculator computes RiskMetrics given a position and its priced legs.
type RiskCalculator interface {
	ComputeFor(pos *domain.Position, prices map[string]domain.ValidatedPrice, now time.Time) domain.RiskMetrics
}

// AlertFeeder evaluates threshold rules against a metrics transition.
type AlertFeeder interface {
	Evaluate(owner domain.Address, positionID string, newMetrics, prevMetrics domain.RiskMetrics, now time.Time)
}

// Persistence is the narrow slice of the Persistence Facade (C10) the loop
// writes through.
type Persistence interface {
	UpsertPosition(ctx context.Context, pos *domain.Position) error
	InsertRiskMetrics(ctx context.Context, positionID string, metrics domain.RiskMetrics) error
	LatestRiskMetrics(ctx context.Context, positionID string) (domain.RiskMetrics, bool, error)
	LoadPositions(ctx context.Context, owner domain.Address) ([]*domain.Position, error)
}

// Publisher is the narrow slice of the Stream Hub (C9) the loop publishes
// through.
type Publisher interface {
	PublishRiskMetrics(positionID string, metrics domain.RiskMetrics)
	PublishPosition(owner domain.Address, pos *domain.Position)
}

// Config controls tick cadence, concurrency, and emit sensitivity.
type Config struct {
	TickInterval       time.Duration
	MaxConcurrentTicks int
	FactorDeltaEmit    float64
	ZeroAmountTickLimit int
}

// DefaultConfig matches §4.7's defaults.
var DefaultConfig = Config{
	TickInterval:        30 * time.Second,
	MaxConcurrentTicks:  16,
	FactorDeltaEmit:     0.01,
	ZeroAmountTickLimit: 3,
}

// Loop is the cooperative per-owner scheduler.
type Loop struct {
	cfg  Config
	deps Deps
	log  zerolog.Logger

	mu          sync.Mutex
	owners      map[domain.Address]*ownerState
	sem         chan struct{}
	stop        chan struct{}
	wg          sync.WaitGroup
	started     bool

	skipCounter   int64
	skipCounterMu sync.Mutex
}

type ownerState struct {
	tickMu sync.Mutex
	ticking bool
	positions []*domain.Position
}

// NewLoop builds a Loop. Call RegisterOwner for each owner to track before
// Start.
func NewLoop(cfg Config, deps Deps) *Loop {
	return &Loop{
		cfg:    cfg,
		deps:   deps,
		log:    deps.Log.With().Str("component", "monitor").Logger(),
		owners: make(map[domain.Address]*ownerState),
		sem:    make(chan struct{}, maxInt(cfg.MaxConcurrentTicks, 1)),
		stop:   make(chan struct{}),
	}
}

func maxInt(a, b int) int {
	if a > b {
		return a
	}
	return b
}

// RegisterOwner begins tracking an owner; safe to call before or after
// Start.
func (l *Loop) RegisterOwner(owner domain.Address) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if _, ok := l.owners[owner]; !ok {
		l.owners[owner] = &ownerState{}
	}
}

// DeregisterOwner stops scheduling new ticks for an owner. An in-flight
// tick runs to its next checkpoint and exits; no partial RiskMetrics is
// persisted (§4.7).
func (l *Loop) DeregisterOwner(owner domain.Address) {
	l.mu.Lock()
	defer l.mu.Unlock()
	delete(l.owners, owner)
}

// SkipCount reports how many ticks were dropped because the owner's
// previous tick was still running (§5 per-owner mutex discipline) or the
// concurrency semaphore was full.
func (l *Loop) SkipCount() int64 {
	l.skipCounterMu.Lock()
	defer l.skipCounterMu.Unlock()
	return l.skipCounter
}

func (l *Loop) incSkip() {
	l.skipCounterMu.Lock()
	l.skipCounter++
	l.skipCounterMu.Unlock()
	if l.deps.Metrics != nil {
		l.deps.Metrics.ObserveSkip()
	}
}

// Start begins the ticking goroutine. Idempotent.
func (l *Loop) Start(ctx context.Context) {
	l.mu.Lock()
	if l.started {
		l.mu.Unlock()
		return
	}
	l.started = true
	l.mu.Unlock()

	l.wg.Add(1)
	go l.run(ctx)
}

// Stop signals the loop to exit and blocks until every in-flight tick has
// returned.
func (l *Loop) Stop() {
	close(l.stop)
	l.wg.Wait()
}

func (l *Loop) run(ctx context.Context) {
	defer l.wg.Done()
	ticker := time.NewTicker(l.cfg.TickInterval)
	defer ticker.Stop()

	for {
		select {
		case <-l.stop:
			return
		case <-ctx.Done():
			return
		case <-ticker.C:
			l.scheduleTicks(ctx)
		}
	}
}

// scheduleTicks fans out one goroutine per owner, gated by the semaphore
// and the owner's non-blocking tick mutex (§5).
func (l *Loop) scheduleTicks(ctx context.Context) {
	l.mu.Lock()
	owners := make([]domain.Address, 0, len(l.owners))
	states := make(map[domain.Address]*ownerState, len(l.owners))
	for owner, state := range l.owners {
		owners = append(owners, owner)
		states[owner] = state
	}
	l.mu.Unlock()

	for _, owner := range owners {
		l.scheduleOneTick(ctx, owner, states[owner])
	}
}

// scheduleOneTick applies the same non-blocking per-owner mutex and global
// semaphore gating scheduleTicks uses, for a single owner.
func (l *Loop) scheduleOneTick(ctx context.Context, owner domain.Address, state *ownerState) {
	if !state.tickMu.TryLock() {
		l.incSkip()
		return
	}

	select {
	case l.sem <- struct{}{}:
	default:
		state.tickMu.Unlock()
		l.incSkip()
		return
	}

	l.wg.Add(1)
	go func() {
		defer l.wg.Done()
		defer func() { <-l.sem }()
		defer state.tickMu.Unlock()
		l.runTick(ctx, owner, state)
	}()
}

// TriggerTick runs one immediate, out-of-cadence tick for owner, subject to
// the same per-owner mutex and concurrency cap as the regular ticker. A
// no-op if owner isn't registered. Intended for a command channel (e.g. a
// newly-linked wallet) rather than the periodic scheduler.
func (l *Loop) TriggerTick(ctx context.Context, owner domain.Address) {
	l.mu.Lock()
	state, ok := l.owners[owner]
	l.mu.Unlock()
	if !ok {
		return
	}
	l.scheduleOneTick(ctx, owner, state)
}
