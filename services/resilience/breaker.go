package resilience

import (
	"sync"
	"time"
)

// State represents the circuit breaker state
type State int

const (
	// StateClosed allows all requests through and tracks failures
	StateClosed State = iota

	// StateOpen rejects all requests until the reset timeout elapses
	StateOpen

	// StateHalfOpen permits a probe request to test recovery
	StateHalfOpen
)

// String returns the string representation of the state
func (s State) String() string {
	switch s {
	case StateClosed:
		return "closed"
	case StateOpen:
		return "open"
	case StateHalfOpen:
		return "half-open"
	default:
		return "unknown"
	}
}

// Settings configures a circuit breaker. Immutable after construction.
type Settings struct {
	// FailureThreshold is the number of consecutive failures that opens
	// the circuit from closed state
	FailureThreshold int

	// ResetTimeout is the minimum dwell time in open state before a
	// probe is permitted
	ResetTimeout time.Duration
}

// DefaultSettings returns the default breaker configuration
func DefaultSettings() Settings {
	return Settings{
		FailureThreshold: 5,
		ResetTimeout:     30 * time.Second,
	}
}

// CircuitBreaker tracks the health of a single upstream provider.
//
// State transitions:
//
//	Closed    --(threshold consecutive failures)--> Open
//	Open      --(reset timeout elapsed, checked lazily)--> HalfOpen
//	HalfOpen  --(success)--> Closed
//	HalfOpen  --(failure)--> Open
//
// There is no background timer; the Open to HalfOpen transition happens
// inside Allow when the stored timestamp is old enough. All state is
// guarded by a mutex, so the breaker is safe for concurrent use.
type CircuitBreaker struct {
	settings Settings
	now      func() time.Time

	mu                  sync.Mutex
	state               State
	consecutiveFailures int
	openedAt            time.Time // zero unless state == StateOpen
}

// New creates a circuit breaker in closed state. Zero or negative
// settings fall back to the defaults.
func New(settings Settings) *CircuitBreaker {
	return NewWithClock(settings, time.Now)
}

// NewWithClock creates a circuit breaker with an injected clock.
// Production code uses New; tests and simulations supply their own clock.
func NewWithClock(settings Settings, clock func() time.Time) *CircuitBreaker {
	if settings.FailureThreshold <= 0 {
		settings.FailureThreshold = DefaultSettings().FailureThreshold
	}
	if settings.ResetTimeout <= 0 {
		settings.ResetTimeout = DefaultSettings().ResetTimeout
	}
	if clock == nil {
		clock = time.Now
	}
	return &CircuitBreaker{
		settings: settings,
		now:      clock,
		state:    StateClosed,
	}
}

// Allow reports whether a call should be attempted right now.
//
// While open, the first check at or after openedAt+ResetTimeout moves the
// breaker to half-open and returns true; this is the only path into
// half-open. While half-open every caller is admitted, so concurrent
// callers may probe simultaneously (see the dispatcher documentation for
// why this is accepted).
func (b *CircuitBreaker) Allow() bool {
	b.mu.Lock()
	defer b.mu.Unlock()

	switch b.state {
	case StateClosed, StateHalfOpen:
		return true
	case StateOpen:
		if b.now().Sub(b.openedAt) >= b.settings.ResetTimeout {
			b.state = StateHalfOpen
			b.openedAt = time.Time{}
			return true
		}
		return false
	default:
		return false
	}
}

// RecordSuccess registers a successful call. A success while half-open
// closes the circuit; any success resets the consecutive failure count.
func (b *CircuitBreaker) RecordSuccess() {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.state == StateHalfOpen {
		b.state = StateClosed
	}
	b.consecutiveFailures = 0
}

// RecordFailure registers a failed call. While closed, reaching the
// failure threshold opens the circuit. A single failed probe while
// half-open reopens it immediately, without further threshold counting.
func (b *CircuitBreaker) RecordFailure() {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.consecutiveFailures++

	switch b.state {
	case StateClosed:
		if b.consecutiveFailures >= b.settings.FailureThreshold {
			b.state = StateOpen
			b.openedAt = b.now()
		}
	case StateHalfOpen:
		b.state = StateOpen
		b.openedAt = b.now()
	}
}

// Reset forces the breaker back to closed state, clearing the failure
// count and the open timestamp regardless of timers
func (b *CircuitBreaker) Reset() {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.state = StateClosed
	b.consecutiveFailures = 0
	b.openedAt = time.Time{}
}

// Snapshot is a point-in-time view of breaker internals
type Snapshot struct {
	State               State
	ConsecutiveFailures int
}

// Snapshot returns the current state without mutating it. An open
// breaker whose reset timeout has elapsed still reports open here; only
// Allow performs the transition.
func (b *CircuitBreaker) Snapshot() Snapshot {
	b.mu.Lock()
	defer b.mu.Unlock()

	return Snapshot{
		State:               b.state,
		ConsecutiveFailures: b.consecutiveFailures,
	}
}
