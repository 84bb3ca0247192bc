package monitor

import (
	"context"
	"math"
	"time"

	"github.com/onchainrisk/monitor/internal/domain"
)

// runTick implements one owner's pipeline from §4.7, steps 1-7. The caller
// already holds the owner's tick mutex and a semaphore slot.
func (l *Loop) runTick(ctx context.Context, owner domain.Address, state *ownerState) {
	now := time.Now()
	log := l.log.With().Str("owner", owner.String()).Logger()
	if l.deps.Metrics != nil {
		defer func(start time.Time) { l.deps.Metrics.ObserveTick(time.Since(start)) }(now)
	}

	// Steps 1-2: discover + refresh.
	positions, err := l.deps.Adapters.DiscoverAndRefresh(ctx, owner, state.positions)
	if err != nil {
		log.Warn().Err(err).Msg("discover/refresh failed; skipping this tick")
		return
	}
	l.applyZeroAmountRule(positions)
	state.positions = positions

	if len(positions) == 0 {
		return
	}

	// Step 3: batch price the union of all leg tokens.
	tokens := unionLegTokens(positions)
	prices := l.deps.Prices.BatchPrices(ctx, tokens)

	for _, pos := range positions {
		select {
		case <-ctx.Done():
			return
		default:
		}
		// Deregistration checkpoint: stop before the next position's writes.
		l.mu.Lock()
		current, registered := l.owners[owner]
		l.mu.Unlock()
		if !registered || current != state {
			return
		}
		l.processPosition(ctx, owner, pos, prices, now)
	}
}

func (l *Loop) processPosition(ctx context.Context, owner domain.Address, pos *domain.Position, prices map[string]domain.ValidatedPrice, now time.Time) {
	// Step 4: risk calculation.
	newMetrics := l.deps.Calculator.ComputeFor(pos, prices, now)

	prevMetrics, hadPrev, err := l.deps.Persistence.LatestRiskMetrics(ctx, pos.ID)
	if err != nil {
		l.log.Warn().Err(err).Str("position_id", pos.ID).Msg("failed to load previous metrics")
	}

	// Step 5: diff against last metrics; only emit on meaningful change.
	shouldEmit := !hadPrev || factorsChanged(newMetrics, prevMetrics, l.cfg.FactorDeltaEmit)

	// Step 6: feed the alert engine regardless of emit decision — alerts
	// react to threshold transitions, not to the diff gate.
	if l.deps.Alerts != nil {
		l.deps.Alerts.Evaluate(owner, pos.ID, newMetrics, prevMetrics, now)
	}

	// Step 7: persist and publish. The position is upserted first and the
	// metrics are inserted only if that succeeded; a failed metrics insert
	// leaves the upserted position in place, and nothing is published.
	if err := l.deps.Persistence.UpsertPosition(ctx, pos); err != nil {
		l.log.Warn().Err(err).Str("position_id", pos.ID).Msg("failed to persist position")
		return
	}
	if err := l.deps.Persistence.InsertRiskMetrics(ctx, pos.ID, newMetrics); err != nil {
		l.log.Warn().Err(err).Str("position_id", pos.ID).Msg("failed to persist risk metrics")
		return
	}

	if shouldEmit && l.deps.Publisher != nil {
		l.deps.Publisher.PublishRiskMetrics(pos.ID, newMetrics)
		l.deps.Publisher.PublishPosition(owner, pos)
	}
}

// factorsChanged reports whether any factor moved by more than threshold
// between two RiskMetrics snapshots (§4.7 step 5).
func factorsChanged(newM, prevM domain.RiskMetrics, threshold float64) bool {
	if math.Abs(newM.Overall-prevM.Overall) > threshold {
		return true
	}
	for dim, v := range newM.Factors {
		if math.Abs(v-prevM.Factors[dim]) > threshold {
			return true
		}
	}
	for dim, v := range prevM.Factors {
		if _, ok := newM.Factors[dim]; !ok {
			if math.Abs(v) > threshold {
				return true
			}
		}
	}
	return false
}

// applyZeroAmountRule marks positions archived once their consecutive
// zero-amount counter reaches ZeroAmountTickLimit, per §3's
// zero-amount-for-N-ticks rule. The adapters only maintain the counter
// (protocols.MarkZeroTicks during Refresh); the archive decision lives here
// in the loop per §4.5.
func (l *Loop) applyZeroAmountRule(positions []*domain.Position) {
	for _, pos := range positions {
		if pos.ZeroAmountTicks >= l.cfg.ZeroAmountTickLimit {
			pos.Archived = true
		}
	}
}

func unionLegTokens(positions []*domain.Position) []domain.TokenRef {
	seen := make(map[domain.TokenRef]struct{})
	var out []domain.TokenRef
	for _, pos := range positions {
		for _, t := range pos.LegTokens() {
			if _, ok := seen[t]; ok {
				continue
			}
			seen[t] = struct{}{}
			out = append(out, t)
		}
	}
	return out
}
