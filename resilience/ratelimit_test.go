package resilience

import (
	"context"
	"errors"
	"testing"
	"time"
)

func TestRateLimiter_Disabled(t *testing.T) {
	r := NewRateLimiter(RateLimiterConfig{})
	for i := 0; i < 1000; i++ {
		if err := r.Wait(context.Background(), "read"); err != nil {
			t.Fatalf("Wait() #%d error = %v", i, err)
		}
	}
}

func TestRateLimiter_RejectsBeyondBurst(t *testing.T) {
	r := NewRateLimiter(RateLimiterConfig{Rate: 1, Burst: 2})
	ctx := context.Background()

	for i := 0; i < 2; i++ {
		if err := r.Wait(ctx, "write"); err != nil {
			t.Fatalf("Wait() #%d error = %v", i+1, err)
		}
	}

	err := r.Wait(ctx, "write")
	var gerr *GuardError
	if !errors.As(err, &gerr) || !errors.Is(err, ErrRateLimited) {
		t.Fatalf("Wait() beyond burst = %v, want GuardError wrapping ErrRateLimited", err)
	}
	if gerr.Op != "write" || gerr.Stage != StageRate {
		t.Errorf("GuardError = %+v, want write/rate", gerr)
	}
	if m := r.Metrics(); m.Rejected != 1 || m.Waited != 0 {
		t.Errorf("metrics = %+v", m)
	}
}

func TestRateLimiter_WaitsForToken(t *testing.T) {
	r := NewRateLimiter(RateLimiterConfig{Rate: 100, Burst: 1, MaxWait: time.Second})
	ctx := context.Background()
	_ = r.Wait(ctx, "read")

	start := time.Now()
	if err := r.Wait(ctx, "read"); err != nil {
		t.Fatalf("Wait() error = %v", err)
	}
	if time.Since(start) < 5*time.Millisecond {
		t.Error("second call should have waited for a token")
	}
	if r.Metrics().Waited != 1 {
		t.Errorf("Waited = %d, want 1", r.Metrics().Waited)
	}
}

func TestRateLimiter_WaitCanceled(t *testing.T) {
	r := NewRateLimiter(RateLimiterConfig{Rate: 1, Burst: 1, MaxWait: time.Minute})
	_ = r.Wait(context.Background(), "read")

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()
	if err := r.Wait(ctx, "read"); !errors.Is(err, context.DeadlineExceeded) {
		t.Errorf("Wait() error = %v, want context.DeadlineExceeded", err)
	}
	if r.Metrics().Rejected != 0 {
		t.Error("cancellation is not a rejection")
	}
}

func TestRateLimiter_Execute(t *testing.T) {
	r := NewRateLimiter(RateLimiterConfig{Rate: 1, Burst: 1})
	calls := 0
	op := func(context.Context) error {
		calls++
		return nil
	}

	_ = r.Execute(context.Background(), "list", op)
	if err := r.Execute(context.Background(), "list", op); StageOf(err) != StageRate {
		t.Errorf("Execute() error = %v, want rate rejection", err)
	}
	if calls != 1 {
		t.Errorf("calls = %d, want 1", calls)
	}
}
