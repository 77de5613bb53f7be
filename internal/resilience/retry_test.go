package resilience

import (
	"context"
	"errors"
	"testing"
	"time"
)

// recordSleep returns a Sleep func that records requested delays without waiting.
func recordSleep(delays *[]time.Duration) func(context.Context, time.Duration) error {
	return func(ctx context.Context, d time.Duration) error {
		*delays = append(*delays, d)
		return ctx.Err()
	}
}

func TestExponentialTable(t *testing.T) {
	got := ExponentialTable(time.Second, 5*time.Second, 5)
	want := []time.Duration{time.Second, 2 * time.Second, 4 * time.Second, 5 * time.Second, 5 * time.Second}
	if len(got) != len(want) {
		t.Fatalf("len = %d, want %d", len(got), len(want))
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("table[%d] = %v, want %v", i, got[i], want[i])
		}
	}
	if ExponentialTable(time.Second, time.Minute, 0) != nil {
		t.Error("expected nil table for n=0")
	}
}

func TestLinearTable(t *testing.T) {
	got := LinearTable(time.Second, 3)
	want := []time.Duration{time.Second, 2 * time.Second, 3 * time.Second}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("table[%d] = %v, want %v", i, got[i], want[i])
		}
	}
}

func TestDo_SuccessOnFirstAttempt(t *testing.T) {
	var calls int
	err := Do(context.Background(), RetryConfig{}, func(_ context.Context) error {
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
	var delays []time.Duration
	cfg := RetryConfig{
		MaxAttempts: 3,
		Backoff:     ExponentialTable(time.Millisecond, 10*time.Millisecond, 2),
		Sleep:       recordSleep(&delays),
	}

	err := Do(context.Background(), cfg, func(_ context.Context) error {
		calls++
		if calls < 3 {
			return NewHTTPError(KindNetwork, errors.New("temporary"), 503)
		}
		return nil
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if calls != 3 {
		t.Errorf("expected 3 calls, got %d", calls)
	}
	if len(delays) != 2 || delays[0] != time.Millisecond || delays[1] != 2*time.Millisecond {
		t.Errorf("unexpected delays: %v", delays)
	}
}

func TestDo_ExhaustsRetries(t *testing.T) {
	var calls int
	var delays []time.Duration
	cfg := RetryConfig{
		MaxAttempts: 3,
		Backoff:     LinearTable(time.Millisecond, 2),
		Sleep:       recordSleep(&delays),
	}

	err := Do(context.Background(), cfg, func(_ context.Context) error {
		calls++
		return NewError(KindPersistence, errors.New("always fails"))
	})
	if err == nil {
		t.Fatal("expected error after exhausting retries")
	}
	if calls != 3 {
		t.Errorf("expected 3 calls, got %d", calls)
	}
	if len(delays) != 2 {
		t.Errorf("expected no sleep after the last attempt, got %d sleeps", len(delays))
	}
}

func TestDo_NonRetryableError_NoRetry(t *testing.T) {
	var calls int
	err := Do(context.Background(), RetryConfig{MaxAttempts: 3}, func(_ context.Context) error {
		calls++
		return NewError(KindAuth, errors.New("proxy auth required"))
	})
	if err == nil {
		t.Fatal("expected error")
	}
	if calls != 1 {
		t.Errorf("expected 1 call for terminal error, got %d", calls)
	}
}

func TestDo_ContextCancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	var calls int
	err := Do(ctx, RetryConfig{MaxAttempts: 5, Backoff: LinearTable(time.Hour, 4)}, func(_ context.Context) error {
		calls++
		cancel()
		return NewHTTPError(KindNetwork, errors.New("temporary"), 503)
	})
	if err == nil {
		t.Fatal("expected error")
	}
	if calls != 1 {
		t.Errorf("expected 1 call after cancellation, got %d", calls)
	}
}

func TestDoVal_ReturnsValue(t *testing.T) {
	var calls int
	var delays []time.Duration
	v, err := DoVal(context.Background(), RetryConfig{MaxAttempts: 2, Sleep: recordSleep(&delays)}, func(_ context.Context) (string, error) {
		calls++
		if calls == 1 {
			return "", NewHTTPError(KindNetwork, errors.New("blip"), 0)
		}
		return "ok", nil
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if v != "ok" {
		t.Errorf("expected ok, got %q", v)
	}
}

func TestDo_OnRetryCallback(t *testing.T) {
	var attempts []int
	var delays []time.Duration
	cfg := RetryConfig{
		MaxAttempts: 3,
		Sleep:       recordSleep(&delays),
		OnRetry:     func(attempt int, _ error) { attempts = append(attempts, attempt) },
	}
	_ = Do(context.Background(), cfg, func(_ context.Context) error {
		return NewHTTPError(KindNetwork, errors.New("x"), 500)
	})
	if len(attempts) != 2 || attempts[0] != 1 || attempts[1] != 2 {
		t.Errorf("unexpected OnRetry attempts: %v", attempts)
	}
}

func TestRetryConfig_DelayReusesLastEntry(t *testing.T) {
	cfg := RetryConfig{Backoff: []time.Duration{time.Second, 3 * time.Second}}
	if d := cfg.Delay(5); d != 3*time.Second {
		t.Errorf("Delay(5) = %v, want 3s", d)
	}
	if d := (RetryConfig{}).Delay(0); d != 0 {
		t.Errorf("empty table Delay = %v, want 0", d)
	}
}

func TestDelay_JitterBounds(t *testing.T) {
	cfg := RetryConfig{Backoff: []time.Duration{time.Second}, JitterFraction: 0.5}
	for i := 0; i < 100; i++ {
		d := cfg.Delay(0)
		if d < 500*time.Millisecond || d > 1500*time.Millisecond {
			t.Fatalf("delay %v outside jitter bounds", d)
		}
	}
}
