package entitlement

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestCircuitBreaker_OpensOnConsecutiveFailures(t *testing.T) {
	var lastState CircuitBreakerState
	cb := newCircuitBreaker(CircuitBreakerConfig{
		FailureThreshold: 3,
		ResetTimeout:     50 * time.Millisecond,
	}, func(state CircuitBreakerState) {
		lastState = state
	})

	ctx := context.Background()
	assert.Equal(t, StateClosed, cb.State())

	boom := errors.New("connection refused")
	for i := 0; i < 2; i++ {
		err := cb.Execute(ctx, func() error { return boom })
		assert.Equal(t, boom, err)
		assert.Equal(t, StateClosed, cb.State())
	}

	// Third consecutive failure trips the breaker
	err := cb.Execute(ctx, func() error { return boom })
	assert.Equal(t, boom, err)
	assert.Equal(t, StateOpen, cb.State())
	assert.Equal(t, StateOpen, lastState)

	// Open circuit short-circuits without calling fn
	called := false
	err = cb.Execute(ctx, func() error { called = true; return nil })
	assert.Equal(t, ErrCircuitOpen, err)
	assert.False(t, called)
}

func TestCircuitBreaker_SuccessResetsCounter(t *testing.T) {
	cb := newCircuitBreaker(CircuitBreakerConfig{FailureThreshold: 3}, nil)
	ctx := context.Background()
	boom := errors.New("timeout")

	for i := 0; i < 2; i++ {
		_ = cb.Execute(ctx, func() error { return boom })
	}
	_ = cb.Execute(ctx, func() error { return nil })

	// Two more failures still don't reach the threshold
	for i := 0; i < 2; i++ {
		_ = cb.Execute(ctx, func() error { return boom })
	}
	assert.Equal(t, StateClosed, cb.State())
}

func TestCircuitBreaker_HalfOpenRecovery(t *testing.T) {
	cb := newCircuitBreaker(CircuitBreakerConfig{
		FailureThreshold: 1,
		ResetTimeout:     20 * time.Millisecond,
	}, nil)
	ctx := context.Background()

	_ = cb.Execute(ctx, func() error { return errors.New("down") })
	assert.Equal(t, StateOpen, cb.State())

	time.Sleep(30 * time.Millisecond)
	assert.Equal(t, StateHalfOpen, cb.State())

	// A success in half-open closes the circuit
	err := cb.Execute(ctx, func() error { return nil })
	assert.NoError(t, err)
	assert.Equal(t, StateClosed, cb.State())
}

func TestCircuitBreaker_HalfOpenFailureReopens(t *testing.T) {
	cb := newCircuitBreaker(CircuitBreakerConfig{
		FailureThreshold: 1,
		ResetTimeout:     20 * time.Millisecond,
	}, nil)
	ctx := context.Background()

	_ = cb.Execute(ctx, func() error { return errors.New("down") })
	time.Sleep(30 * time.Millisecond)
	assert.Equal(t, StateHalfOpen, cb.State())

	_ = cb.Execute(ctx, func() error { return errors.New("still down") })
	assert.Equal(t, StateOpen, cb.State())
}

func TestCircuitBreaker_BusinessErrorsDoNotTrip(t *testing.T) {
	cb := newCircuitBreaker(CircuitBreakerConfig{FailureThreshold: 2}, nil)
	ctx := context.Background()

	businessErrs := []error{
		&InsufficientCreditsError{Required: 10, Available: 3},
		fmt.Errorf("free excludes aiAnalysis: %w", ErrTierForbidden),
		fmt.Errorf("ghost: %w", ErrUnknownAccount),
		fmt.Errorf("holograms: %w", ErrUnknownComponent),
		ErrInvalidAmount,
	}
	for _, businessErr := range businessErrs {
		for i := 0; i < 5; i++ {
			err := cb.Execute(ctx, func() error { return businessErr })
			assert.Equal(t, businessErr, err)
		}
		assert.Equal(t, StateClosed, cb.State(), "business error %v tripped the breaker", businessErr)
	}
}

func TestIsStorageFailure(t *testing.T) {
	assert.False(t, isStorageFailure(nil))
	assert.False(t, isStorageFailure(&InsufficientCreditsError{Required: 5, Available: 1}))
	assert.False(t, isStorageFailure(fmt.Errorf("x: %w", ErrAccountDeactivated)))
	assert.False(t, isStorageFailure(fmt.Errorf("x: %w", ErrSessionNotFound)))
	assert.True(t, isStorageFailure(errors.New("dial tcp: connection refused")))
	assert.True(t, isStorageFailure(context.DeadlineExceeded))
}
