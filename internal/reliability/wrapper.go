package reliability

import (
	"context"
	"math/rand"
	"time"

	"github.com/rs/zerolog"

	"github.com/onchainrisk/monitor/internal/domain"
)

// Op is any fallible async operation wrapped by Executor.Run.
type Op[T any] func(ctx context.Context) (T, error)

// Executor wraps operations with retry + circuit breaker + deadline (§4.3).
// One Executor is typically shared across many service ids; the breaker per
// id is looked up from the shared Registry.
type Executor struct {
	breakers *Registry
	log      zerolog.Logger
	rng      *rand.Rand
	sleep    func(ctx context.Context, d time.Duration) error
}

// NewExecutor creates an Executor backed by the given breaker registry.
func NewExecutor(breakers *Registry, log zerolog.Logger) *Executor {
	return &Executor{
		breakers: breakers,
		log:      log.With().Str("component", "reliability").Logger(),
		rng:      rand.New(rand.NewSource(time.Now().UnixNano())),
		sleep:    defaultSleep,
	}
}

func defaultSleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return nil
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

// Run executes op under serviceID's circuit breaker, retrying retryable
// errors per policy, and enforcing deadline as the call's overall timeout.
// A non-retryable error, retry exhaustion, or an open circuit all return
// immediately without invoking op again.
func Run[T any](ctx context.Context, ex *Executor, serviceID string, policy RetryPolicy, deadline time.Duration, op Op[T]) (T, error) {
	var zero T

	callCtx := ctx
	var cancel context.CancelFunc
	if deadline > 0 {
		callCtx, cancel = context.WithTimeout(ctx, deadline)
		defer cancel()
	}

	breaker := ex.breakers.Get(serviceID)

	var lastErr error
	for attempt := 0; attempt < maxInt(policy.MaxAttempts, 1); attempt++ {
		if !breaker.Allow(time.Now()) {
			ex.log.Warn().Str("service", serviceID).Msg("circuit open, failing fast")
			return zero, domain.ErrCircuitOpen
		}

		if callCtx.Err() != nil {
			return zero, domain.ErrTimeout
		}

		result, err := op(callCtx)
		if err == nil {
			breaker.RecordSuccess(time.Now())
			return result, nil
		}

		lastErr = err

		if callCtx.Err() != nil {
			// Deadline expired during the call; non-retryable by definition.
			breaker.RecordFailure(time.Now())
			return zero, domain.ErrTimeout
		}

		if !domain.IsRetryable(err) {
			breaker.RecordFailure(time.Now())
			return zero, err
		}

		breaker.RecordFailure(time.Now())

		if attempt == policy.MaxAttempts-1 {
			break
		}

		delay := policy.Delay(attempt, ex.rng)
		ex.log.Debug().Str("service", serviceID).Int("attempt", attempt).
			Dur("delay", delay).Err(err).Msg("retrying after failure")
		if sleepErr := ex.sleep(callCtx, delay); sleepErr != nil {
			return zero, domain.ErrTimeout
		}
	}

	return zero, lastErr
}

func maxInt(a, b int) int {
	if a > b {
		return a
	}
	return b
}
