// Package reliability implements the fault-tolerance substrate (C3):
// exponential-backoff retry, per-service circuit breakers and deadline
// enforcement, composed around any fallible async call.
package reliability

import (
	"math"
	"math/rand"
	"time"
)

// RetryPolicy configures exponential backoff with jitter (§4.3).
type RetryPolicy struct {
	MaxAttempts    int
	BaseDelay      time.Duration
	MaxDelay       time.Duration
	Multiplier     float64
	JitterFraction float64
}

// Preset retry profiles named in §4.3.
var (
	RetryProfileDatabase = RetryPolicy{
		MaxAttempts: 2, BaseDelay: 50 * time.Millisecond, MaxDelay: 2 * time.Second,
		Multiplier: 2.0, JitterFraction: 0.1,
	}
	RetryProfilePriceAPI = RetryPolicy{
		MaxAttempts: 3, BaseDelay: 500 * time.Millisecond, MaxDelay: 5 * time.Second,
		Multiplier: 2.0, JitterFraction: 0.2,
	}
	RetryProfileBlockchainRPC = RetryPolicy{
		MaxAttempts: 5, BaseDelay: 200 * time.Millisecond, MaxDelay: 10 * time.Second,
		Multiplier: 3.0, JitterFraction: 0.25,
	}
)

// Delay computes the backoff delay for attempt n (0-indexed): attempt 0 is
// the delay before the first retry, i.e. after the initial attempt fails.
func (p RetryPolicy) Delay(n int, rng *rand.Rand) time.Duration {
	raw := float64(p.BaseDelay) * math.Pow(p.Multiplier, float64(n))
	if raw > float64(p.MaxDelay) {
		raw = float64(p.MaxDelay)
	}
	if p.JitterFraction > 0 {
		jitter := (rng.Float64()*2 - 1) * p.JitterFraction
		raw *= 1 + jitter
		if raw < 0 {
			raw = 0
		}
	}
	return time.Duration(raw)
}
