package resilience

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/jonboulle/clockwork"
)

func TestDo_SuccessOnFirstAttempt(t *testing.T) {
	var calls int
	err := Do(context.Background(), DefaultRetryConfig(), func(_ context.Context) error {
		calls++
		return nil
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if calls != 1 {
		t.Errorf("expected 1 call, got %d", calls)
	}
}

func TestDo_SuccessAfterRetry(t *testing.T) {
	var calls int
	cfg := RetryConfig{
		MaxAttempts:    3,
		InitialBackoff: time.Millisecond,
		MaxBackoff:     10 * time.Millisecond,
	}

	err := Do(context.Background(), cfg, func(_ context.Context) error {
		calls++
		if calls < 3 {
			return NewTransientError(errors.New("temporary"), 503)
		}
		return nil
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if calls != 3 {
		t.Errorf("expected 3 calls, got %d", calls)
	}
}

func TestDo_ExhaustsRetries(t *testing.T) {
	var calls int
	cfg := RetryConfig{
		MaxAttempts:    3,
		InitialBackoff: time.Millisecond,
		MaxBackoff:     10 * time.Millisecond,
	}

	err := Do(context.Background(), cfg, func(_ context.Context) error {
		calls++
		return NewTransientError(errors.New("always fails"), 500)
	})
	if err == nil {
		t.Fatal("expected error after exhausting retries")
	}
	if calls != 3 {
		t.Errorf("expected 3 calls, got %d", calls)
	}
}

func TestDo_NonTransientError_NoRetry(t *testing.T) {
	var calls int
	cfg := RetryConfig{MaxAttempts: 3, InitialBackoff: time.Millisecond}

	err := Do(context.Background(), cfg, func(_ context.Context) error {
		calls++
		return errors.New("permanent error: bad request")
	})
	if err == nil {
		t.Fatal("expected error")
	}
	if calls != 1 {
		t.Errorf("expected 1 call, got %d", calls)
	}
}

func TestDo_NoData_NoRetry(t *testing.T) {
	var calls int
	err := Do(context.Background(), DefaultRetryConfig(), func(_ context.Context) error {
		calls++
		return ErrNoData
	})
	if !IsNoData(err) {
		t.Fatalf("expected ErrNoData, got %v", err)
	}
	if calls != 1 {
		t.Errorf("expected 1 call, got %d", calls)
	}
}

func TestDoVal_FakeClock(t *testing.T) {
	clock := clockwork.NewFakeClock()
	cfg := RetryConfig{
		MaxAttempts:    3,
		InitialBackoff: time.Minute,
		MaxBackoff:     time.Hour,
		JitterFraction: 0, // deterministic delays for BlockUntil
		Clock:          clock,
	}

	done := make(chan struct{})
	var calls int
	var got int
	var err error
	go func() {
		got, err = DoVal(context.Background(), cfg, func(_ context.Context) (int, error) {
			calls++
			if calls < 3 {
				return 0, NewTransientError(errors.New("flaky"), 502)
			}
			return 42, nil
		})
		close(done)
	}()

	// Two backoff sleeps: 1m then 2m. Advance through both.
	clock.BlockUntil(1)
	clock.Advance(time.Minute)
	clock.BlockUntil(1)
	clock.Advance(2 * time.Minute)
	<-done

	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got != 42 {
		t.Errorf("expected 42, got %d", got)
	}
	if calls != 3 {
		t.Errorf("expected 3 calls, got %d", calls)
	}
}

func TestDo_ContextCancelled_StopsRetrying(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	var calls int
	cfg := RetryConfig{MaxAttempts: 5, InitialBackoff: 50 * time.Millisecond}

	err := Do(ctx, cfg, func(_ context.Context) error {
		calls++
		cancel()
		return NewTransientError(errors.New("flaky"), 503)
	})
	if err == nil {
		t.Fatal("expected error")
	}
	if calls != 1 {
		t.Errorf("expected 1 call, got %d", calls)
	}
}

func TestBackoff_Schedule(t *testing.T) {
	tests := []struct {
		attempt int
		want    time.Duration
	}{
		{0, time.Second},
		{1, 2 * time.Second},
		{2, 4 * time.Second},
		{3, 8 * time.Second},
		{10, 30 * time.Second}, // capped
	}
	for _, tt := range tests {
		got := Backoff(tt.attempt, time.Second, 30*time.Second, 2.0)
		if got != tt.want {
			t.Errorf("Backoff(%d) = %v, want %v", tt.attempt, got, tt.want)
		}
	}
}

func TestRegionBackoff_Schedule(t *testing.T) {
	if got := RegionBackoff(1); got != 5*time.Minute {
		t.Errorf("RegionBackoff(1) = %v, want 5m", got)
	}
	if got := RegionBackoff(3); got != 20*time.Minute {
		t.Errorf("RegionBackoff(3) = %v, want 20m", got)
	}
	if got := RegionBackoff(20); got != 6*time.Hour {
		t.Errorf("RegionBackoff(20) = %v, want cap 6h", got)
	}
}

func TestNextRetryAt_CeilingClearsRetry(t *testing.T) {
	now := time.Date(2024, 6, 1, 12, 0, 0, 0, time.UTC)

	if at := NextRetryAt(now, 2, 5); at == nil || !at.Equal(now.Add(10*time.Minute)) {
		t.Errorf("NextRetryAt(2) = %v, want now+10m", at)
	}
	if at := NextRetryAt(now, 5, 5); at != nil {
		t.Errorf("NextRetryAt at ceiling = %v, want nil", at)
	}
}
