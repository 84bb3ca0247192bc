package domain

import "time"

// CircuitStateKind is one of the three states of a per-service circuit
// breaker (§3, §4.3).
type CircuitStateKind string

const (
	CircuitClosed   CircuitStateKind = "closed"
	CircuitOpen     CircuitStateKind = "open"
	CircuitHalfOpen CircuitStateKind = "half_open"
)

// CircuitState is a snapshot of one service id's circuit breaker. Owned by
// the Fault-Tolerance Wrapper.
type CircuitState struct {
	ServiceID       string
	State           CircuitStateKind
	FailureCount    int
	SuccessCount    int
	LastFailureAt   time.Time
	LastTransitionAt time.Time
	TransitionSeq   uint64
}
