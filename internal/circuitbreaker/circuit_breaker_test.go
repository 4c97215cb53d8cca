package circuitbreaker

import (
	"context"
	"errors"
	"testing"
	"time"

	"go.uber.org/zap/zaptest"
)

func TestBreakerStates(t *testing.T) {
	logger := zaptest.NewLogger(t)
	config := DefaultConfig()
	config.FailureThreshold = 3
	config.SuccessThreshold = 2
	config.MaxRequests = 5
	config.Timeout = 100 * time.Millisecond
	config.Interval = 200 * time.Millisecond

	b := New("upstream", config, logger)
	ctx := context.Background()

	if b.State() != StateClosed {
		t.Errorf("expected initial state closed, got %s", b.State())
	}

	for i := 0; i < 3; i++ {
		if err := b.Execute(ctx, func() error { return nil }); err != nil {
			t.Errorf("expected success, got %v", err)
		}
	}
	if b.State() != StateClosed {
		t.Errorf("expected state to remain closed, got %s", b.State())
	}

	for i := 0; i < 3; i++ {
		if err := b.Execute(ctx, func() error { return errors.New("boom") }); err == nil {
			t.Error("expected error, got nil")
		}
	}
	if b.State() != StateOpen {
		t.Errorf("expected state open, got %s", b.State())
	}

	if err := b.Execute(ctx, func() error { return nil }); err != ErrOpen {
		t.Errorf("expected ErrOpen, got %v", err)
	}

	time.Sleep(150 * time.Millisecond)
	b.beforeRequest()
	if b.State() != StateHalfOpen {
		t.Errorf("expected state half-open, got %s", b.State())
	}

	for i := 0; i < 2; i++ {
		if err := b.Execute(ctx, func() error { return nil }); err != nil {
			t.Errorf("expected success, got %v", err)
		}
	}
	if b.State() != StateClosed {
		t.Errorf("expected state closed, got %s", b.State())
	}
}

func TestBreakerMaxRequestsHalfOpen(t *testing.T) {
	logger := zaptest.NewLogger(t)
	config := DefaultConfig()
	config.MaxRequests = 2
	config.Timeout = 100 * time.Millisecond
	config.SuccessThreshold = 5

	b := New("upstream", config, logger)
	ctx := context.Background()

	b.mutex.Lock()
	b.state = StateHalfOpen
	b.generation++
	b.counts = Counts{}
	b.mutex.Unlock()

	for i := 0; i < 2; i++ {
		if err := b.Execute(ctx, func() error { return nil }); err != nil {
			t.Errorf("expected success, got %v", err)
		}
	}

	if err := b.Execute(ctx, func() error { return nil }); err != ErrTooManyRequests {
		t.Errorf("expected ErrTooManyRequests, got %v", err)
	}
}

func TestBreakerFailureClassifier(t *testing.T) {
	logger := zaptest.NewLogger(t)
	config := DefaultConfig()
	config.FailureThreshold = 2
	benign := errors.New("not found")
	config.IsFailure = func(err error) bool { return !errors.Is(err, benign) }

	b := New("upstream", config, logger)
	ctx := context.Background()

	// Classified-benign errors never open the breaker.
	for i := 0; i < 5; i++ {
		_ = b.Execute(ctx, func() error { return benign })
	}
	if b.State() != StateClosed {
		t.Errorf("expected closed after benign errors, got %s", b.State())
	}

	for i := 0; i < 2; i++ {
		_ = b.Execute(ctx, func() error { return errors.New("connection reset") })
	}
	if b.State() != StateOpen {
		t.Errorf("expected open after real failures, got %s", b.State())
	}
}

func TestBreakerIgnoresContextErrors(t *testing.T) {
	logger := zaptest.NewLogger(t)
	config := DefaultConfig()
	config.FailureThreshold = 1

	b := New("upstream", config, logger)
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		_ = b.Execute(ctx, func() error { return context.Canceled })
	}
	if b.State() != StateClosed {
		t.Errorf("expected closed after cancellations, got %s", b.State())
	}
}

func TestBreakerCounts(t *testing.T) {
	logger := zaptest.NewLogger(t)
	b := New("upstream", DefaultConfig(), logger)
	ctx := context.Background()

	_ = b.Execute(ctx, func() error { return nil })
	_ = b.Execute(ctx, func() error { return errors.New("boom") })
	_ = b.Execute(ctx, func() error { return nil })

	counts := b.Counts()
	if counts.Requests != 3 {
		t.Errorf("expected 3 requests, got %d", counts.Requests)
	}
	if counts.TotalSuccesses != 2 {
		t.Errorf("expected 2 successes, got %d", counts.TotalSuccesses)
	}
	if counts.TotalFailures != 1 {
		t.Errorf("expected 1 failure, got %d", counts.TotalFailures)
	}
}

func TestStateChangeCallback(t *testing.T) {
	logger := zaptest.NewLogger(t)
	config := DefaultConfig()
	config.FailureThreshold = 2

	var from, to State
	var called bool
	config.OnStateChange = func(name string, f, t State) {
		called = true
		from, to = f, t
	}

	b := New("upstream", config, logger)
	ctx := context.Background()

	for i := 0; i < 2; i++ {
		_ = b.Execute(ctx, func() error { return errors.New("boom") })
	}

	if !called {
		t.Fatal("expected state change callback")
	}
	if from != StateClosed || to != StateOpen {
		t.Errorf("expected closed->open, got %s->%s", from, to)
	}
}
