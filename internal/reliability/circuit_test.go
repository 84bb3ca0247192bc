package reliability

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/onchainrisk/monitor/internal/domain"
)

func TestBreakerOpensAfterThreshold(t *testing.T) {
	cfg := CircuitConfig{
		FailureThreshold:     3,
		SuccessThreshold:     2,
		Timeout:              10 * time.Millisecond,
		HalfOpenMaxInflight:  1,
		HalfOpenTestInterval: 0,
		Window:               time.Minute,
	}
	b := NewBreaker("price-api", cfg)
	now := time.Now()

	for i := 0; i < 3; i++ {
		require.True(t, b.Allow(now))
		b.RecordFailure(now)
	}

	assert.False(t, b.Allow(now), "4th call must fail fast without invoking the operation")
	assert.Equal(t, domain.CircuitOpen, b.Snapshot().State)
}

func TestBreakerHalfOpenRecovery(t *testing.T) {
	cfg := CircuitConfig{
		FailureThreshold:     1,
		SuccessThreshold:     2,
		Timeout:              5 * time.Millisecond,
		HalfOpenMaxInflight:  1,
		HalfOpenTestInterval: 0,
		Window:               time.Minute,
	}
	b := NewBreaker("rpc", cfg)
	now := time.Now()

	require.True(t, b.Allow(now))
	b.RecordFailure(now)
	assert.Equal(t, domain.CircuitOpen, b.Snapshot().State)

	later := now.Add(10 * time.Millisecond)
	require.True(t, b.Allow(later), "after timeout, one probe must be admitted in half-open")
	assert.Equal(t, domain.CircuitHalfOpen, b.Snapshot().State)

	b.RecordSuccess(later)
	assert.Equal(t, domain.CircuitHalfOpen, b.Snapshot().State, "one success is not enough")

	require.True(t, b.Allow(later))
	b.RecordSuccess(later)
	assert.Equal(t, domain.CircuitClosed, b.Snapshot().State)
}

func TestBreakerHalfOpenFailureReopens(t *testing.T) {
	cfg := CircuitConfig{
		FailureThreshold: 1, SuccessThreshold: 2,
		Timeout: 5 * time.Millisecond, HalfOpenMaxInflight: 1,
	}
	b := NewBreaker("rpc", cfg)
	now := time.Now()
	b.Allow(now)
	b.RecordFailure(now)

	later := now.Add(10 * time.Millisecond)
	require.True(t, b.Allow(later))
	b.RecordFailure(later)
	assert.Equal(t, domain.CircuitOpen, b.Snapshot().State)
}

func TestForceState(t *testing.T) {
	b := NewBreaker("svc", DefaultCircuitConfig)
	b.ForceState(domain.CircuitOpen)
	assert.Equal(t, domain.CircuitOpen, b.Snapshot().State)
	assert.False(t, b.Allow(time.Now().Add(-time.Hour)))
}

func TestRegistryReusesBreakerPerService(t *testing.T) {
	r := NewRegistry(DefaultCircuitConfig)
	a := r.Get("svc-a")
	b := r.Get("svc-a")
	assert.Same(t, a, b)

	c := r.Get("svc-b")
	assert.NotSame(t, a, c)
}
