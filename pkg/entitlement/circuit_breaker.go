package entitlement

import (
	"context"
	"errors"
	"sync"
	"time"
)

// CircuitBreakerState represents the current state of the circuit breaker.
type CircuitBreakerState string

const (
	StateClosed   CircuitBreakerState = "closed"
	StateOpen     CircuitBreakerState = "open"
	StateHalfOpen CircuitBreakerState = "half_open"
)

// ErrCircuitOpen is returned when the circuit breaker is open.
// The Issuer surfaces it to callers as ErrBackendUnavailable.
var ErrCircuitOpen = errors.New("circuit breaker is open")

// CircuitBreakerConfig holds circuit breaker configuration
type CircuitBreakerConfig struct {
	// Enabled determines if the circuit breaker is active
	Enabled bool

	// FailureThreshold is the number of consecutive storage failures before
	// opening the circuit (default: 5)
	FailureThreshold int

	// ResetTimeout is the duration to wait before transitioning from Open to
	// Half-Open (default: 30 seconds)
	ResetTimeout time.Duration
}

// CircuitBreaker defines the interface for a circuit breaker.
type CircuitBreaker interface {
	// Execute runs fn within the circuit breaker. Business errors
	// (insufficient credits, forbidden tiers) never trip the breaker.
	Execute(ctx context.Context, fn func() error) error
	// State returns the current state of the circuit breaker.
	State() CircuitBreakerState
}

// isStorageFailure distinguishes infrastructure failures from business
// outcomes. Only the former count toward opening the circuit.
func isStorageFailure(err error) bool {
	if err == nil {
		return false
	}
	switch {
	case errors.Is(err, ErrInsufficientCredits),
		errors.Is(err, ErrTierForbidden),
		errors.Is(err, ErrUnknownAccount),
		errors.Is(err, ErrUnknownComponent),
		errors.Is(err, ErrUnknownTier),
		errors.Is(err, ErrAccountDeactivated),
		errors.Is(err, ErrSessionNotFound),
		errors.Is(err, ErrInvalidAmount):
		return false
	}
	return true
}

// defaultCircuitBreaker is a consecutive-failure circuit breaker.
type defaultCircuitBreaker struct {
	mu sync.RWMutex

	state               CircuitBreakerState
	failureThreshold    int
	resetTimeout        time.Duration
	consecutiveFailures int
	lastFailureTime     time.Time

	onStateChange func(state CircuitBreakerState)
}

// newCircuitBreaker creates a circuit breaker from config, applying defaults.
func newCircuitBreaker(cfg CircuitBreakerConfig, onStateChange func(CircuitBreakerState)) *defaultCircuitBreaker {
	if cfg.FailureThreshold <= 0 {
		cfg.FailureThreshold = 5
	}
	if cfg.ResetTimeout <= 0 {
		cfg.ResetTimeout = 30 * time.Second
	}
	return &defaultCircuitBreaker{
		state:            StateClosed,
		failureThreshold: cfg.FailureThreshold,
		resetTimeout:     cfg.ResetTimeout,
		onStateChange:    onStateChange,
	}
}

func (cb *defaultCircuitBreaker) State() CircuitBreakerState {
	cb.mu.RLock()
	defer cb.mu.RUnlock()
	return cb.currentState()
}

func (cb *defaultCircuitBreaker) currentState() CircuitBreakerState {
	if cb.state == StateOpen && time.Since(cb.lastFailureTime) >= cb.resetTimeout {
		return StateHalfOpen
	}
	return cb.state
}

func (cb *defaultCircuitBreaker) Execute(_ context.Context, fn func() error) error {
	if cb.State() == StateOpen {
		return ErrCircuitOpen
	}

	err := fn()
	if isStorageFailure(err) {
		cb.failure()
		return err
	}

	cb.success()
	return err
}

func (cb *defaultCircuitBreaker) success() {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	if cb.state == StateHalfOpen || cb.state == StateOpen {
		cb.changeState(StateClosed)
	}
	cb.consecutiveFailures = 0
}

func (cb *defaultCircuitBreaker) failure() {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	cb.consecutiveFailures++
	cb.lastFailureTime = time.Now()

	if cb.state == StateClosed && cb.consecutiveFailures >= cb.failureThreshold {
		cb.changeState(StateOpen)
	} else if cb.currentState() == StateHalfOpen {
		cb.changeState(StateOpen)
	}
}

func (cb *defaultCircuitBreaker) changeState(newState CircuitBreakerState) {
	if cb.state != newState {
		cb.state = newState
		if cb.onStateChange != nil {
			cb.onStateChange(newState)
		}
	}
}
