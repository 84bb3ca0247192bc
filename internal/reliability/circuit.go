package reliability

import (
	"sync"
	"time"

	"github.com/onchainrisk/monitor/internal/domain"
)

// CircuitConfig configures one service's circuit breaker (§4.3, §6).
type CircuitConfig struct {
	FailureThreshold    int
	SuccessThreshold    int
	Timeout             time.Duration
	HalfOpenMaxInflight int
	HalfOpenTestInterval time.Duration
	// Window bounds the gap between consecutive failures while the circuit
	// is closed: a failure more than Window after the previous one restarts
	// the count toward FailureThreshold.
	Window time.Duration
}

// DefaultCircuitConfig is a reasonable default for outbound service calls.
var DefaultCircuitConfig = CircuitConfig{
	FailureThreshold:     5,
	SuccessThreshold:     2,
	Timeout:              30 * time.Second,
	HalfOpenMaxInflight:  1,
	HalfOpenTestInterval: 1 * time.Second,
	Window:               60 * time.Second,
}

// Breaker is a single service-id circuit breaker: one mutex-guarded state
// cell transitioning closed -> open -> half_open -> closed (§4.3, §5).
type Breaker struct {
	serviceID string
	cfg       CircuitConfig

	mu              sync.Mutex
	state           domain.CircuitStateKind
	failureCount    int
	successCount    int
	lastFailureAt   time.Time
	lastTransition  time.Time
	lastProbeAt     time.Time
	inflightProbes  int
	transitionSeq   uint64
	onTransition    func(from, to domain.CircuitStateKind, seq uint64)
}

// NewBreaker creates a closed breaker for serviceID.
func NewBreaker(serviceID string, cfg CircuitConfig) *Breaker {
	return &Breaker{
		serviceID:      serviceID,
		cfg:            cfg,
		state:          domain.CircuitClosed,
		lastTransition: time.Now(),
	}
}

// OnTransition registers a callback invoked (under the breaker's lock) on
// every state transition, used to feed metrics.
func (b *Breaker) OnTransition(fn func(from, to domain.CircuitStateKind, seq uint64)) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.onTransition = fn
}

// Snapshot returns the current breaker state for observability/tests.
func (b *Breaker) Snapshot() domain.CircuitState {
	b.mu.Lock()
	defer b.mu.Unlock()
	return domain.CircuitState{
		ServiceID:        b.serviceID,
		State:            b.state,
		FailureCount:     b.failureCount,
		SuccessCount:     b.successCount,
		LastFailureAt:    b.lastFailureAt,
		LastTransitionAt: b.lastTransition,
		TransitionSeq:    b.transitionSeq,
	}
}

// ForceState is a test-only API for driving the breaker into a known state.
func (b *Breaker) ForceState(state domain.CircuitStateKind) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.transitionLocked(state)
	b.failureCount = 0
	b.successCount = 0
}

// Allow decides whether a call may proceed right now. When it returns false
// the caller must treat the attempt as ErrCircuitOpen without invoking the
// underlying operation (the defining circuit-breaker test property).
func (b *Breaker) Allow(now time.Time) bool {
	b.mu.Lock()
	defer b.mu.Unlock()

	switch b.state {
	case domain.CircuitClosed:
		return true
	case domain.CircuitOpen:
		if now.Sub(b.lastTransition) >= b.cfg.Timeout {
			b.transitionLocked(domain.CircuitHalfOpen)
			b.successCount = 0
			b.inflightProbes = 0
			// fall through to half-open admission below
		} else {
			return false
		}
		fallthrough
	case domain.CircuitHalfOpen:
		if b.inflightProbes >= b.cfg.HalfOpenMaxInflight {
			return false
		}
		if !b.lastProbeAt.IsZero() && now.Sub(b.lastProbeAt) < b.cfg.HalfOpenTestInterval {
			return false
		}
		b.inflightProbes++
		b.lastProbeAt = now
		return true
	default:
		return false
	}
}

// RecordSuccess reports that an admitted call succeeded.
func (b *Breaker) RecordSuccess(now time.Time) {
	b.mu.Lock()
	defer b.mu.Unlock()

	switch b.state {
	case domain.CircuitHalfOpen:
		b.inflightProbes--
		if b.inflightProbes < 0 {
			b.inflightProbes = 0
		}
		b.successCount++
		if b.successCount >= b.cfg.SuccessThreshold {
			b.transitionLocked(domain.CircuitClosed)
			b.failureCount = 0
			b.successCount = 0
		}
	case domain.CircuitClosed:
		b.failureCount = 0
	}
}

// RecordFailure reports that an admitted call failed with a retryable error
// (the only kind that should ever reach the breaker after retry exhaustion).
func (b *Breaker) RecordFailure(now time.Time) {
	b.mu.Lock()
	defer b.mu.Unlock()

	prevFailureAt := b.lastFailureAt
	b.lastFailureAt = now

	switch b.state {
	case domain.CircuitHalfOpen:
		b.inflightProbes--
		if b.inflightProbes < 0 {
			b.inflightProbes = 0
		}
		b.transitionLocked(domain.CircuitOpen)
		b.failureCount = 0
		b.successCount = 0
	case domain.CircuitClosed:
		if b.cfg.Window > 0 && !prevFailureAt.IsZero() && b.failureCount > 0 &&
			now.Sub(prevFailureAt) > b.cfg.Window {
			// More than Window since the previous failure; restart the count.
			b.failureCount = 0
		}
		b.failureCount++
		if b.failureCount >= b.cfg.FailureThreshold {
			b.transitionLocked(domain.CircuitOpen)
			b.failureCount = 0
		}
	}
}

func (b *Breaker) transitionLocked(to domain.CircuitStateKind) {
	from := b.state
	if from == to {
		return
	}
	b.state = to
	b.lastTransition = time.Now()
	b.transitionSeq++
	if b.onTransition != nil {
		b.onTransition(from, to, b.transitionSeq)
	}
}

// Registry holds one Breaker per service id, created lazily. This is one of
// the two pieces of process-wide state the design allows (§9).
type Registry struct {
	mu       sync.Mutex
	breakers map[string]*Breaker
	cfg      CircuitConfig

	onTransition func(serviceID string, from, to domain.CircuitStateKind, seq uint64)
}

// NewRegistry creates a breaker registry with a default config applied to
// breakers created via Get.
func NewRegistry(cfg CircuitConfig) *Registry {
	return &Registry{breakers: make(map[string]*Breaker), cfg: cfg}
}

// OnTransition registers a callback applied to every breaker the registry
// creates (existing and future), notified on every state transition.
// Wired to the system event bus's audit trail at the composition root.
func (r *Registry) OnTransition(fn func(serviceID string, from, to domain.CircuitStateKind, seq uint64)) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.onTransition = fn
	for id, b := range r.breakers {
		id := id
		b.OnTransition(func(from, to domain.CircuitStateKind, seq uint64) { fn(id, from, to, seq) })
	}
}

// Get returns the breaker for serviceID, creating it (closed) on first use.
func (r *Registry) Get(serviceID string) *Breaker {
	r.mu.Lock()
	defer r.mu.Unlock()
	b, ok := r.breakers[serviceID]
	if !ok {
		b = NewBreaker(serviceID, r.cfg)
		if r.onTransition != nil {
			id := serviceID
			b.OnTransition(func(from, to domain.CircuitStateKind, seq uint64) { r.onTransition(id, from, to, seq) })
		}
		r.breakers[serviceID] = b
	}
	return b
}

// Snapshots returns a point-in-time view of every known breaker, for the
// "system" stream topic and for metrics scraping.
func (r *Registry) Snapshots() []domain.CircuitState {
	r.mu.Lock()
	ids := make([]*Breaker, 0, len(r.breakers))
	for _, b := range r.breakers {
		ids = append(ids, b)
	}
	r.mu.Unlock()

	out := make([]domain.CircuitState, 0, len(ids))
	for _, b := range ids {
		out = append(out, b.Snapshot())
	}
	return out
}
