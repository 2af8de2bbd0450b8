// Package recovery guards the vendor auth HTTP calls with a circuit
// breaker so a degraded auth endpoint fails fast instead of letting
// every cloud client pile up slow, doomed requests against it. This is
// independent of and does not replace the cloud client's tier-3
// reconnect backoff: the breaker governs a single HTTP round trip, the
// reconnect tiers govern the whole session lifecycle.
package recovery

import (
	"fmt"
	"sync"
	"time"
)

// CircuitState is one of the three classic breaker states.
type CircuitState int

const (
	StateClosed CircuitState = iota
	StateOpen
	StateHalfOpen
)

func (s CircuitState) String() string {
	switch s {
	case StateClosed:
		return "CLOSED"
	case StateOpen:
		return "OPEN"
	case StateHalfOpen:
		return "HALF_OPEN"
	default:
		return "UNKNOWN"
	}
}

// CircuitBreakerConfig controls the failure threshold and the cooldown
// before the breaker allows another probe.
type CircuitBreakerConfig struct {
	MaxFailures      int
	Timeout          time.Duration
	HalfOpenMaxTries int
}

func defaultedConfig(cfg CircuitBreakerConfig) CircuitBreakerConfig {
	if cfg.MaxFailures <= 0 {
		cfg.MaxFailures = 5
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 30 * time.Second
	}
	if cfg.HalfOpenMaxTries <= 0 {
		cfg.HalfOpenMaxTries = 3
	}
	return cfg
}

// CircuitBreaker wraps calls to the auth HTTP endpoint (anonymous
// token, login, MQTT token exchange). Once MaxFailures consecutive
// calls fail it opens and rejects further calls until Timeout has
// elapsed, then allows a limited number of half-open probes before
// fully closing again.
type CircuitBreaker struct {
	cfg CircuitBreakerConfig

	mu               sync.RWMutex
	state            CircuitState
	failures         int
	lastFailureTime  time.Time
	lastStateChange  time.Time
	halfOpenAttempts int
}

func NewCircuitBreaker(cfg CircuitBreakerConfig) *CircuitBreaker {
	return &CircuitBreaker{
		cfg:             defaultedConfig(cfg),
		state:           StateClosed,
		lastStateChange: time.Now(),
	}
}

// Call runs fn if the breaker currently allows it, then records the
// outcome. The returned error is either fn's own error or a breaker
// rejection error when the circuit is open.
func (cb *CircuitBreaker) Call(fn func() error) error {
	if err := cb.beforeCall(); err != nil {
		return err
	}
	err := fn()
	cb.afterCall(err)
	return err
}

func (cb *CircuitBreaker) beforeCall() error {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	switch cb.state {
	case StateClosed:
		return nil
	case StateOpen:
		if time.Since(cb.lastStateChange) >= cb.cfg.Timeout {
			cb.state = StateHalfOpen
			cb.lastStateChange = time.Now()
			cb.halfOpenAttempts = 0
			return nil
		}
		return fmt.Errorf("recovery: auth circuit open, retry after %s",
			cb.cfg.Timeout-time.Since(cb.lastStateChange))
	case StateHalfOpen:
		if cb.halfOpenAttempts >= cb.cfg.HalfOpenMaxTries {
			return fmt.Errorf("recovery: auth circuit half-open probe limit reached")
		}
		cb.halfOpenAttempts++
		return nil
	default:
		return nil
	}
}

func (cb *CircuitBreaker) afterCall(err error) {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	if err != nil {
		cb.onFailure()
		return
	}
	cb.onSuccess()
}

func (cb *CircuitBreaker) onFailure() {
	cb.failures++
	cb.lastFailureTime = time.Now()

	switch cb.state {
	case StateHalfOpen:
		cb.state = StateOpen
		cb.lastStateChange = time.Now()
	case StateClosed:
		if cb.failures >= cb.cfg.MaxFailures {
			cb.state = StateOpen
			cb.lastStateChange = time.Now()
		}
	}
}

func (cb *CircuitBreaker) onSuccess() {
	switch cb.state {
	case StateHalfOpen:
		cb.state = StateClosed
		cb.lastStateChange = time.Now()
		cb.failures = 0
		cb.halfOpenAttempts = 0
	case StateClosed:
		cb.failures = 0
	}
}

func (cb *CircuitBreaker) State() CircuitState {
	cb.mu.RLock()
	defer cb.mu.RUnlock()
	return cb.state
}

func (cb *CircuitBreaker) Failures() int {
	cb.mu.RLock()
	defer cb.mu.RUnlock()
	return cb.failures
}

func (cb *CircuitBreaker) IsOpen() bool {
	return cb.State() == StateOpen
}

// Reset forces the breaker back to closed, used after a successful
// cold re-authentication (tier 2) clears whatever was failing.
func (cb *CircuitBreaker) Reset() {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	cb.state = StateClosed
	cb.failures = 0
	cb.halfOpenAttempts = 0
	cb.lastStateChange = time.Now()
}

// Stats is a snapshot suitable for the health/metrics endpoints.
type Stats struct {
	State           string    `json:"state"`
	Failures        int       `json:"failures"`
	LastFailureTime time.Time `json:"last_failure_time,omitempty"`
}

func (cb *CircuitBreaker) Stats() Stats {
	cb.mu.RLock()
	defer cb.mu.RUnlock()
	return Stats{
		State:           cb.state.String(),
		Failures:        cb.failures,
		LastFailureTime: cb.lastFailureTime,
	}
}
