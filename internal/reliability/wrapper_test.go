package reliability

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/onchainrisk/monitor/internal/domain"
)

func noSleep(ctx context.Context, d time.Duration) error { return nil }

func TestRunRetriesRetryableErrors(t *testing.T) {
	ex := NewExecutor(NewRegistry(DefaultCircuitConfig), zerolog.Nop())
	ex.sleep = noSleep

	calls := 0
	op := func(ctx context.Context) (int, error) {
		calls++
		if calls < 3 {
			return 0, &domain.TransportError{Retryable: true, Err: errors.New("boom")}
		}
		return 42, nil
	}

	result, err := Run(context.Background(), ex, "svc", RetryPolicy{
		MaxAttempts: 5, BaseDelay: time.Millisecond, MaxDelay: time.Millisecond, Multiplier: 1,
	}, 0, op)

	require.NoError(t, err)
	assert.Equal(t, 42, result)
	assert.Equal(t, 3, calls)
}

func TestRunDoesNotRetryNonRetryable(t *testing.T) {
	ex := NewExecutor(NewRegistry(DefaultCircuitConfig), zerolog.Nop())
	ex.sleep = noSleep

	calls := 0
	op := func(ctx context.Context) (int, error) {
		calls++
		return 0, &domain.DecodeError{Reason: "bad length"}
	}

	_, err := Run(context.Background(), ex, "svc", RetryPolicy{MaxAttempts: 5}, 0, op)
	require.Error(t, err)
	assert.Equal(t, 1, calls, "non-retryable errors must not be retried")
}

func TestRunExhaustionThenCircuitOpen(t *testing.T) {
	reg := NewRegistry(CircuitConfig{FailureThreshold: 1, SuccessThreshold: 1, Timeout: time.Hour})
	ex := NewExecutor(reg, zerolog.Nop())
	ex.sleep = noSleep

	calls := 0
	op := func(ctx context.Context) (int, error) {
		calls++
		return 0, &domain.TransportError{Retryable: true, Err: errors.New("down")}
	}

	_, err := Run(context.Background(), ex, "svc", RetryPolicy{MaxAttempts: 1}, 0, op)
	require.Error(t, err)
	assert.Equal(t, 1, calls)

	callsAfterOpen := calls
	_, err = Run(context.Background(), ex, "svc", RetryPolicy{MaxAttempts: 1}, 0, op)
	assert.ErrorIs(t, err, domain.ErrCircuitOpen)
	assert.Equal(t, callsAfterOpen, calls, "circuit-open call must not invoke the operation")
}

func TestRunDeadlineExceeded(t *testing.T) {
	ex := NewExecutor(NewRegistry(DefaultCircuitConfig), zerolog.Nop())
	op := func(ctx context.Context) (int, error) {
		<-ctx.Done()
		return 0, ctx.Err()
	}

	_, err := Run(context.Background(), ex, "svc", RetryPolicy{MaxAttempts: 1}, 5*time.Millisecond, op)
	assert.ErrorIs(t, err, domain.ErrTimeout)
}
