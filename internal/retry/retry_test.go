package retry

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/backtran/backtran/internal/provider"
)

func fastPolicy(attempts int) Policy {
	return Policy{
		MaxAttempts: attempts,
		BaseDelay:   time.Millisecond,
		MaxDelay:    5 * time.Millisecond,
		Jitter:      time.Millisecond,
	}
}

func TestExecutor_Do_SuccessFirstTry(t *testing.T) {
	e := New(fastPolicy(3), nil, nil)

	calls := 0
	got, err := e.Do(context.Background(), func(ctx context.Context) (string, error) {
		calls++
		return "ok", nil
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got != "ok" {
		t.Errorf("expected ok, got %q", got)
	}
	if calls != 1 {
		t.Errorf("expected 1 call, got %d", calls)
	}
}

func TestExecutor_Do_RetriesTransientThenSucceeds(t *testing.T) {
	e := New(fastPolicy(3), nil, nil)

	calls := 0
	got, err := e.Do(context.Background(), func(ctx context.Context) (string, error) {
		calls++
		if calls < 3 {
			return "", provider.Error{Code: provider.CodeNetworkError, Message: "flaky"}
		}
		return "ok", nil
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got != "ok" {
		t.Errorf("expected ok, got %q", got)
	}
	if calls != 3 {
		t.Errorf("expected 3 calls, got %d", calls)
	}
}

func TestExecutor_Do_ExhaustsAttempts(t *testing.T) {
	e := New(fastPolicy(3), nil, nil)

	calls := 0
	_, err := e.Do(context.Background(), func(ctx context.Context) (string, error) {
		calls++
		return "", provider.Error{Code: provider.CodeRateLimited, Message: "slow down"}
	})
	if err == nil {
		t.Fatal("expected error after exhausting attempts")
	}
	if calls != 3 {
		t.Errorf("expected exactly 3 calls, got %d", calls)
	}

	var perr provider.Error
	if !errors.As(err, &perr) || perr.Code != provider.CodeRateLimited {
		t.Errorf("expected the last provider error to propagate, got %v", err)
	}
}

func TestExecutor_Do_FatalErrorShortCircuits(t *testing.T) {
	e := New(fastPolicy(3), nil, nil)

	calls := 0
	_, err := e.Do(context.Background(), func(ctx context.Context) (string, error) {
		calls++
		return "", provider.Error{Code: provider.CodeBlocked, Message: "captcha"}
	})
	if err == nil {
		t.Fatal("expected error")
	}
	if calls != 1 {
		t.Errorf("fatal error must not be retried, got %d calls", calls)
	}
}

func TestExecutor_Do_UnclassifiedErrorNotRetried(t *testing.T) {
	e := New(fastPolicy(3), nil, nil)

	calls := 0
	_, err := e.Do(context.Background(), func(ctx context.Context) (string, error) {
		calls++
		return "", fmt.Errorf("something odd")
	})
	if err == nil {
		t.Fatal("expected error")
	}
	if calls != 1 {
		t.Errorf("unclassified error must not be retried, got %d calls", calls)
	}
}

func TestExecutor_Do_ContextCancelledBeforeStart(t *testing.T) {
	e := New(fastPolicy(3), nil, nil)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	calls := 0
	_, err := e.Do(ctx, func(ctx context.Context) (string, error) {
		calls++
		return "ok", nil
	})
	if !errors.Is(err, context.Canceled) {
		t.Errorf("expected context.Canceled, got %v", err)
	}
	if calls != 0 {
		t.Errorf("expected no calls after cancellation, got %d", calls)
	}
}

func TestExecutor_Do_ContextCancelledDuringBackoff(t *testing.T) {
	policy := Policy{
		MaxAttempts: 3,
		BaseDelay:   10 * time.Second,
		MaxDelay:    10 * time.Second,
	}
	e := New(policy, nil, nil)

	ctx, cancel := context.WithCancel(context.Background())

	calls := 0
	start := time.Now()
	_, err := e.Do(ctx, func(ctx context.Context) (string, error) {
		calls++
		cancel()
		return "", provider.Error{Code: provider.CodeNetworkError, Message: "down"}
	})
	if !errors.Is(err, context.Canceled) {
		t.Errorf("expected context.Canceled, got %v", err)
	}
	if calls != 1 {
		t.Errorf("expected 1 call, got %d", calls)
	}
	if elapsed := time.Since(start); elapsed > time.Second {
		t.Errorf("backoff sleep was not cancelled, took %v", elapsed)
	}
}

func TestExecutor_Do_EmitsEvents(t *testing.T) {
	events := make(chan Event, 10)
	e := New(fastPolicy(3), nil, events)

	calls := 0
	_, err := e.Do(context.Background(), func(ctx context.Context) (string, error) {
		calls++
		if calls < 2 {
			return "", provider.Error{Code: provider.CodeNetworkError, Message: "flaky"}
		}
		return "ok", nil
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	close(events)

	var got []Event
	for ev := range events {
		got = append(got, ev)
	}
	if len(got) != 1 {
		t.Fatalf("expected 1 event, got %d", len(got))
	}
	if got[0].Attempt != 1 || got[0].MaxAttempts != 3 {
		t.Errorf("unexpected event %+v", got[0])
	}
	if got[0].Delay <= 0 {
		t.Error("expected a positive backoff delay in the event")
	}
}

func TestExecutor_DelayGrowsAndCaps(t *testing.T) {
	e := New(Policy{
		MaxAttempts: 5,
		BaseDelay:   100 * time.Millisecond,
		MaxDelay:    300 * time.Millisecond,
	}, nil, nil)

	d1 := e.delay(1)
	d2 := e.delay(2)
	d3 := e.delay(3)

	if d1 != 100*time.Millisecond {
		t.Errorf("expected base delay for attempt 1, got %v", d1)
	}
	if d2 != 200*time.Millisecond {
		t.Errorf("expected doubled delay for attempt 2, got %v", d2)
	}
	if d3 != 300*time.Millisecond {
		t.Errorf("expected delay capped at max, got %v", d3)
	}
}

func TestRetryable(t *testing.T) {
	tests := []struct {
		err  error
		want bool
	}{
		{provider.Error{Code: provider.CodeNetworkError}, true},
		{provider.Error{Code: provider.CodeRateLimited}, true},
		{provider.Error{Code: provider.CodeBlocked}, false},
		{provider.Error{Code: provider.CodeInvalidAPIKey}, false},
		{provider.Error{Code: provider.CodeInvalidResponse}, false},
		{provider.Error{Code: provider.CodeInvalidInput}, false},
		{fmt.Errorf("wrapped: %w", provider.Error{Code: provider.CodeNetworkError}), true},
		{context.Canceled, false},
		{context.DeadlineExceeded, false},
		{errors.New("plain"), false},
	}

	for _, tt := range tests {
		if got := Retryable(tt.err); got != tt.want {
			t.Errorf("Retryable(%v) = %v, want %v", tt.err, got, tt.want)
		}
	}
}
