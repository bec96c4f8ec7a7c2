package llm

import (
	"fmt"
	"sync"
	"time"
)

// CircuitState is the breaker position for one provider.
type CircuitState int

const (
	// CircuitClosed: requests flow through.
	CircuitClosed CircuitState = iota
	// CircuitOpen: the provider tripped on consecutive failures and
	// requests are rejected until the reset window passes.
	CircuitOpen
	// CircuitHalfOpen: one probe request is in flight to test
	// recovery.
	CircuitHalfOpen
)

func (s CircuitState) String() string {
	switch s {
	case CircuitClosed:
		return "closed"
	case CircuitOpen:
		return "open"
	case CircuitHalfOpen:
		return "half-open"
	default:
		return "unknown"
	}
}

// CircuitBreaker guards one provider against repeated generate
// failures so a down backend is not hammered with full-timeout
// requests.
type CircuitBreaker struct {
	mu               sync.RWMutex
	provider         ProviderType
	consecutiveFails int
	threshold        int
	resetAfter       time.Duration
	lastFailure      time.Time
	state            CircuitState
}

// NewCircuitBreaker trips after threshold consecutive failures and
// half-opens after resetAfter.
func NewCircuitBreaker(provider ProviderType, threshold int, resetAfter time.Duration) *CircuitBreaker {
	if threshold <= 0 {
		threshold = 5
	}
	if resetAfter <= 0 {
		resetAfter = 30 * time.Second
	}
	return &CircuitBreaker{
		provider:   provider,
		threshold:  threshold,
		resetAfter: resetAfter,
		state:      CircuitClosed,
	}
}

// Allow reports whether a request may proceed, transitioning to
// half-open once the reset window has passed.
func (cb *CircuitBreaker) Allow() error {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	switch cb.state {
	case CircuitClosed:
		return nil
	case CircuitOpen:
		if time.Since(cb.lastFailure) > cb.resetAfter {
			cb.state = CircuitHalfOpen
			return nil
		}
		return &Error{
			Kind:        KindConnection,
			Provider:    cb.provider,
			Recoverable: true,
			Message: fmt.Sprintf("circuit open: %d consecutive failures, last %v ago",
				cb.consecutiveFails, time.Since(cb.lastFailure).Round(time.Second)),
		}
	case CircuitHalfOpen:
		return &Error{
			Kind:        KindConnection,
			Provider:    cb.provider,
			Recoverable: true,
			Message:     "circuit half-open: recovery probe in flight",
		}
	default:
		return &Error{
			Kind:     KindProvider,
			Provider: cb.provider,
			Message:  fmt.Sprintf("circuit in unknown state %v", cb.state),
		}
	}
}

// RecordSuccess closes the circuit and clears the failure count.
func (cb *CircuitBreaker) RecordSuccess() {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	cb.consecutiveFails = 0
	cb.state = CircuitClosed
}

// RecordFailure counts a failure, tripping the circuit at the
// threshold. A failed half-open probe reopens immediately.
func (cb *CircuitBreaker) RecordFailure() {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	cb.consecutiveFails++
	cb.lastFailure = time.Now()

	if cb.state == CircuitHalfOpen {
		cb.state = CircuitOpen
		return
	}
	if cb.consecutiveFails >= cb.threshold {
		cb.state = CircuitOpen
	}
}

// State returns the current breaker position.
func (cb *CircuitBreaker) State() CircuitState {
	cb.mu.RLock()
	defer cb.mu.RUnlock()
	return cb.state
}
