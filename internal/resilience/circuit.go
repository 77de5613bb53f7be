// Package resilience provides the error taxonomy, bounded retry loops and the
// failure breaker used around upstream fetches and store writes.
package resilience

import "sync"

// CircuitState is the state of a CircuitBreaker.
type CircuitState int

const (
	// CircuitClosed lets work continue.
	CircuitClosed CircuitState = iota
	// CircuitOpen means the failure run reached the threshold.
	CircuitOpen
)

func (s CircuitState) String() string {
	switch s {
	case CircuitClosed:
		return "closed"
	case CircuitOpen:
		return "open"
	default:
		return "unknown"
	}
}

// CircuitBreakerConfig controls when a CircuitBreaker opens.
type CircuitBreakerConfig struct {
	// FailureThreshold is the length of the failure run that opens the
	// breaker. Default: 3.
	FailureThreshold int

	// ShouldTrip filters which errors extend the run. Nil counts every
	// non-nil error. Errors it rejects leave the run unchanged.
	ShouldTrip func(err error) bool

	// OnStateChange is called once per transition.
	OnStateChange func(from, to CircuitState)
}

// CircuitBreaker counts consecutive failures and latches open at the
// threshold. It never closes on its own; a paginated unit that trips is
// finished, and the next unit gets a fresh breaker.
type CircuitBreaker struct {
	cfg CircuitBreakerConfig

	mu     sync.Mutex
	state  CircuitState
	streak int
}

// NewCircuitBreaker creates a closed breaker.
func NewCircuitBreaker(cfg CircuitBreakerConfig) *CircuitBreaker {
	if cfg.FailureThreshold <= 0 {
		cfg.FailureThreshold = 3
	}
	return &CircuitBreaker{cfg: cfg}
}

// Record feeds one outcome into the breaker. A nil error ends the current
// failure run. It reports whether the breaker is open afterwards.
func (cb *CircuitBreaker) Record(err error) bool {
	cb.mu.Lock()
	if cb.state == CircuitOpen {
		cb.mu.Unlock()
		return true
	}
	if err == nil {
		cb.streak = 0
		cb.mu.Unlock()
		return false
	}
	if cb.cfg.ShouldTrip != nil && !cb.cfg.ShouldTrip(err) {
		cb.mu.Unlock()
		return false
	}
	cb.streak++
	if cb.streak < cb.cfg.FailureThreshold {
		cb.mu.Unlock()
		return false
	}
	cb.state = CircuitOpen
	notify := cb.cfg.OnStateChange
	cb.mu.Unlock()

	if notify != nil {
		notify(CircuitClosed, CircuitOpen)
	}
	return true
}

// Open reports whether the breaker has tripped.
func (cb *CircuitBreaker) Open() bool {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	return cb.state == CircuitOpen
}

// State returns the current state.
func (cb *CircuitBreaker) State() CircuitState {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	return cb.state
}

// Streak returns the length of the current failure run.
func (cb *CircuitBreaker) Streak() int {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	return cb.streak
}
