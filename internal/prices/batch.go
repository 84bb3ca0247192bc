package prices

import (
	"context"
	"sync"

	"github.com/onchainrisk/monitor/internal/domain"
)

// BatchPrices implements monitor.PriceSource: resolves every token
// concurrently through GetPrice, keyed by TokenRef.Key(), and silently
// omits tokens that fail (§4.7 step 3 degrades on a missing price rather
// than aborting the tick).
func (a *Aggregator) BatchPrices(ctx context.Context, tokens []domain.TokenRef) map[string]domain.ValidatedPrice {
	out := make(map[string]domain.ValidatedPrice, len(tokens))
	if len(tokens) == 0 {
		return out
	}

	var mu sync.Mutex
	var wg sync.WaitGroup
	for _, token := range tokens {
		token := token
		wg.Add(1)
		go func() {
			defer wg.Done()
			price, err := a.GetPrice(ctx, token)
			if err != nil {
				a.log.Warn().Err(err).Str("token", token.Key()).Msg("price unavailable for batch, position degrades")
				return
			}
			mu.Lock()
			out[token.Key()] = price
			mu.Unlock()
		}()
	}
	wg.Wait()
	return out
}
