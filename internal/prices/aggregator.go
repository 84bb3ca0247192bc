package prices

import (
	"context"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
	"github.com/vmihailenco/msgpack/v5"

	"github.com/onchainrisk/monitor/internal/cache"
	"github.com/onchainrisk/monitor/internal/domain"
	"github.com/onchainrisk/monitor/internal/reliability"
)

const cacheNamespace = "prices"

// cachedSnapshot is the wire shape written to the cache for a token.
type cachedSnapshot struct {
	PriceUSD  string    `msgpack:"price_usd"`
	Timestamp time.Time `msgpack:"ts"`
}

// AnomalyEvent is emitted whenever a returned price deviates from its
// token's rolling window beyond the configured threshold.
type AnomalyEvent struct {
	Token            domain.TokenRef
	PriceUSD         decimal.Decimal
	DeviationPercent float64
}

// Aggregator implements the Price Aggregator (C4).
type Aggregator struct {
	cfg      Config
	sources  []Source
	cache    *cache.Cache
	executor *reliability.Executor
	log      zerolog.Logger
	windows  *windowStore

	onAnomaly func(AnomalyEvent)

	// writeLocks serializes cache writes per token so readers never observe
	// a torn ValidatedPrice (§4.4 ordering guarantee).
	writeLocks sync.Map
}

// NewAggregator wires sources, cache, and the fault-tolerance executor
// together. Callers should call cfg.Validate() beforehand.
func NewAggregator(cfg Config, sources []Source, c *cache.Cache, executor *reliability.Executor, log zerolog.Logger) *Aggregator {
	return &Aggregator{
		cfg:      cfg,
		sources:  sources,
		cache:    c,
		executor: executor,
		log:      log.With().Str("component", "prices").Logger(),
		windows:  newWindowStore(maxInt(cfg.RollingWindowSize, 1)),
	}
}

// OnAnomaly registers a callback invoked synchronously whenever a fresh
// price is flagged anomalous.
func (a *Aggregator) OnAnomaly(fn func(AnomalyEvent)) {
	a.onAnomaly = fn
}

func maxInt(a, b int) int {
	if a > b {
		return a
	}
	return b
}

func (a *Aggregator) writeLockFor(key string) *sync.Mutex {
	l, _ := a.writeLocks.LoadOrStore(key, &sync.Mutex{})
	return l.(*sync.Mutex)
}

// GetPrice runs the full pipeline from §4.4 for one token.
func (a *Aggregator) GetPrice(ctx context.Context, token domain.TokenRef) (domain.ValidatedPrice, error) {
	key := token.Key()

	if cached, ok, err := a.readCache(ctx, key, token); err == nil && ok {
		return cached, nil
	}

	sourceResults, err := a.fanOut(ctx, token)
	if err != nil {
		return domain.ValidatedPrice{}, err
	}

	successCount := len(sourceResults)
	if successCount < a.cfg.MinSourcesRequired {
		return domain.ValidatedPrice{}, domain.ErrInsufficientSources
	}

	weightedMean, totalWeight := weightedMeanOf(sourceResults)
	if totalWeight <= 0 {
		return domain.ValidatedPrice{}, domain.ErrInsufficientSources
	}

	maxDeviation := maxDeviationPercent(sourceResults, weightedMean)
	if maxDeviation > a.cfg.MaxDeviationPercentHard {
		a.log.Warn().
			Str("token", key).
			Float64("deviation_percent", maxDeviation).
			Msg("price sources disagree beyond hard threshold")
	}

	confidence := confidenceFor(successCount, maxDeviation)
	anomalous := a.windows.checkAndUpdate(key, weightedMean, a.cfg.AnomalyThresholdPercent)

	result := domain.ValidatedPrice{
		Token:            token,
		PriceUSD:         weightedMean,
		Confidence:       confidence,
		DeviationPercent: maxDeviation,
		SourceCount:      successCount,
		Timestamp:        timeNow(),
		AnomalyFlag:      anomalous,
	}

	if anomalous && a.onAnomaly != nil {
		a.onAnomaly(AnomalyEvent{Token: token, PriceUSD: weightedMean, DeviationPercent: maxDeviation})
	}

	a.writeCache(ctx, key, result)
	return result, nil
}

// timeNow is indirected so tests can freeze it; production always wants
// the wall clock at the moment of computation.
var timeNow = time.Now

func (a *Aggregator) readCache(ctx context.Context, key string, token domain.TokenRef) (domain.ValidatedPrice, bool, error) {
	if a.cache == nil {
		return domain.ValidatedPrice{}, false, nil
	}
	raw, found, err := a.cache.Get(ctx, cacheNamespace, key)
	if err != nil || !found {
		return domain.ValidatedPrice{}, false, err
	}

	var snap cachedSnapshot
	if err := msgpack.Unmarshal(raw, &snap); err != nil {
		return domain.ValidatedPrice{}, false, nil
	}
	if timeNow().Sub(snap.Timestamp) >= a.cfg.PriceStaleness {
		return domain.ValidatedPrice{}, false, nil
	}

	price, err := decimal.NewFromString(snap.PriceUSD)
	if err != nil {
		return domain.ValidatedPrice{}, false, nil
	}
	return domain.ValidatedPrice{
		Token:       token,
		PriceUSD:    price,
		Confidence:  0.9,
		SourceCount: a.cfg.MinSourcesRequired,
		Timestamp:   snap.Timestamp,
	}, true, nil
}

func (a *Aggregator) writeCache(ctx context.Context, key string, result domain.ValidatedPrice) {
	if a.cache == nil {
		return
	}
	lock := a.writeLockFor(key)
	lock.Lock()
	defer lock.Unlock()

	snap := cachedSnapshot{PriceUSD: result.PriceUSD.String(), Timestamp: result.Timestamp}
	raw, err := msgpack.Marshal(snap)
	if err != nil {
		return
	}
	if err := a.cache.Set(ctx, cacheNamespace, key, raw); err != nil {
		a.log.Warn().Err(err).Str("token", key).Msg("price cache write failed")
	}
}

type sourceResult struct {
	weight float64
	price  decimal.Decimal
}

// fanOut queries every enabled source concurrently, each under its own
// fault-tolerance envelope, waiting up to the slowest configured timeout.
func (a *Aggregator) fanOut(ctx context.Context, token domain.TokenRef) ([]sourceResult, error) {
	enabled := make([]SourceConfig, 0, len(a.cfg.Sources))
	var maxTimeout time.Duration
	for _, sc := range a.cfg.Sources {
		if sc.Enabled {
			enabled = append(enabled, sc)
			if sc.Timeout > maxTimeout {
				maxTimeout = sc.Timeout
			}
		}
	}

	byName := make(map[string]Source, len(a.sources))
	for _, s := range a.sources {
		byName[s.Name()] = s
	}

	fanCtx, cancel := context.WithTimeout(ctx, maxTimeout)
	defer cancel()

	type outcome struct {
		res sourceResult
		ok  bool
	}
	resultsCh := make(chan outcome, len(enabled))

	for _, sc := range enabled {
		sc := sc
		source, ok := byName[sc.Name]
		if !ok {
			resultsCh <- outcome{ok: false}
			continue
		}
		go func() {
			price, err := reliability.Run(fanCtx, a.executor, "price:"+sc.Name, reliability.RetryProfilePriceAPI, sc.Timeout,
				func(opCtx context.Context) (decimal.Decimal, error) {
					return source.FetchPrice(opCtx, token)
				})
			if err != nil {
				resultsCh <- outcome{ok: false}
				return
			}
			resultsCh <- outcome{res: sourceResult{weight: sc.Weight, price: price}, ok: true}
		}()
	}

	results := make([]sourceResult, 0, len(enabled))
	for range enabled {
		o := <-resultsCh
		if o.ok {
			results = append(results, o.res)
		}
	}
	return results, nil
}

func weightedMeanOf(results []sourceResult) (decimal.Decimal, float64) {
	sum := decimal.Zero
	var totalWeight float64
	for _, r := range results {
		sum = sum.Add(r.price.Mul(decimal.NewFromFloat(r.weight)))
		totalWeight += r.weight
	}
	if totalWeight <= 0 {
		return decimal.Zero, 0
	}
	return sum.Div(decimal.NewFromFloat(totalWeight)), totalWeight
}

func maxDeviationPercent(results []sourceResult, mean decimal.Decimal) float64 {
	if mean.IsZero() {
		return 0
	}
	meanF, _ := mean.Float64()
	var maxDev float64
	for _, r := range results {
		priceF, _ := r.price.Float64()
		dev := absFloat(priceF-meanF) / absFloat(meanF) * 100
		if dev > maxDev {
			maxDev = dev
		}
	}
	return maxDev
}

// confidenceFor implements §4.4 step 6.
func confidenceFor(successCount int, deviationPercent float64) float64 {
	sourceTerm := 0.5 * minFloat(1, float64(successCount)/5)
	deviationTerm := 0.5 * maxFloat(0, 1-deviationPercent/100)
	confidence := sourceTerm + deviationTerm
	if confidence < 0.1 {
		return 0.1
	}
	if confidence > 1.0 {
		return 1.0
	}
	return confidence
}

func minFloat(a, b float64) float64 {
	if a < b {
		return a
	}
	return b
}

func maxFloat(a, b float64) float64 {
	if a > b {
		return a
	}
	return b
}
