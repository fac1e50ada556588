package resilience_test

import (
	"context"
	"errors"
	"testing"
	"time"

	. "cuewise/pkg/resilience"
)

var errProbe = errors.New("renderer down")

func fail(cb *CircuitBreaker) error {
	return cb.Execute(context.Background(), func() error { return errProbe })
}

func succeed(cb *CircuitBreaker) error {
	return cb.Execute(context.Background(), func() error { return nil })
}

func TestCircuitBreaker_InitialState(t *testing.T) {
	cb := NewCircuitBreaker("test", DefaultCircuitBreakerConfig())

	if cb.State() != CircuitClosed {
		t.Errorf("expected initial state Closed, got %v", cb.State())
	}
}

func TestCircuitBreaker_OpensAfterFailures(t *testing.T) {
	cb := NewCircuitBreaker("test", CircuitBreakerConfig{
		FailureThreshold: 3,
		SuccessThreshold: 2,
		Timeout:          time.Second,
		MaxRequests:      1,
	})

	for i := 0; i < 3; i++ {
		_ = fail(cb)
	}

	if cb.State() != CircuitOpen {
		t.Errorf("expected Open after 3 failures, got %v", cb.State())
	}
}

func TestCircuitBreaker_RejectsWhenOpen(t *testing.T) {
	cb := NewCircuitBreaker("test", CircuitBreakerConfig{
		FailureThreshold: 1,
		SuccessThreshold: 1,
		Timeout:          time.Second,
		MaxRequests:      1,
	})

	_ = fail(cb)

	called := false
	err := cb.Execute(context.Background(), func() error {
		called = true
		return nil
	})
	if err != ErrCircuitOpen {
		t.Errorf("expected ErrCircuitOpen, got %v", err)
	}
	if called {
		t.Error("function must not run while the circuit is open")
	}
}

func TestCircuitBreaker_SuccessesResetFailureCount(t *testing.T) {
	cb := NewCircuitBreaker("test", CircuitBreakerConfig{
		FailureThreshold: 3,
		SuccessThreshold: 1,
		Timeout:          time.Second,
		MaxRequests:      1,
	})

	_ = fail(cb)
	_ = fail(cb)
	_ = succeed(cb)
	_ = fail(cb)
	_ = fail(cb)

	if cb.State() != CircuitClosed {
		t.Errorf("expected Closed (failures reset by success), got %v", cb.State())
	}
}

func TestCircuitBreaker_RecoversThroughHalfOpen(t *testing.T) {
	cb := NewCircuitBreaker("test", CircuitBreakerConfig{
		FailureThreshold: 1,
		SuccessThreshold: 2,
		Timeout:          20 * time.Millisecond,
		MaxRequests:      3,
	})

	_ = fail(cb)
	time.Sleep(30 * time.Millisecond)

	if cb.State() != CircuitHalfOpen {
		t.Fatalf("expected HalfOpen after timeout, got %v", cb.State())
	}

	_ = succeed(cb)
	_ = succeed(cb)

	if cb.State() != CircuitClosed {
		t.Errorf("expected Closed after successful probes, got %v", cb.State())
	}
}

func TestCircuitBreaker_HalfOpenFailureReopens(t *testing.T) {
	cb := NewCircuitBreaker("test", CircuitBreakerConfig{
		FailureThreshold: 1,
		SuccessThreshold: 2,
		Timeout:          20 * time.Millisecond,
		MaxRequests:      3,
	})

	_ = fail(cb)
	time.Sleep(30 * time.Millisecond)
	_ = fail(cb)

	if cb.State() != CircuitOpen {
		t.Errorf("expected a failed probe to reopen the circuit, got %v", cb.State())
	}
}

func TestCircuitBreaker_HalfOpenLimitsProbes(t *testing.T) {
	cb := NewCircuitBreaker("test", CircuitBreakerConfig{
		FailureThreshold: 1,
		SuccessThreshold: 10,
		Timeout:          20 * time.Millisecond,
		MaxRequests:      2,
	})

	_ = fail(cb)
	time.Sleep(30 * time.Millisecond)

	_ = succeed(cb)
	_ = succeed(cb)
	err := succeed(cb)

	if err != ErrCircuitOpen {
		t.Errorf("expected the third probe to be rejected, got %v", err)
	}
}

func TestCircuitBreaker_Reset(t *testing.T) {
	cb := NewCircuitBreaker("test", CircuitBreakerConfig{
		FailureThreshold: 1,
		SuccessThreshold: 1,
		Timeout:          time.Hour,
		MaxRequests:      1,
	})

	_ = fail(cb)
	cb.Reset()

	if cb.State() != CircuitClosed {
		t.Errorf("expected Closed after reset, got %v", cb.State())
	}
	if err := succeed(cb); err != nil {
		t.Errorf("expected call to pass after reset, got %v", err)
	}
}
