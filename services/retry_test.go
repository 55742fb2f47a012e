package services

import (
	"context"
	"errors"
	"testing"
	"time"
)

func TestRetry_SucceedsAfterFailures(t *testing.T) {
	calls := 0
	err := Retry(context.Background(), RetryConfig{Attempts: 3, Delay: time.Millisecond}, func() error {
		calls++
		if calls < 3 {
			return errors.New("not yet")
		}
		return nil
	})
	if err != nil {
		t.Fatalf("Retry() = %v, want nil", err)
	}
	if calls != 3 {
		t.Errorf("calls = %d, want 3", calls)
	}
}

func TestRetry_ReturnsLastError(t *testing.T) {
	last := errors.New("attempt 2")
	calls := 0
	err := Retry(context.Background(), RetryConfig{Attempts: 2, Delay: time.Millisecond}, func() error {
		calls++
		if calls == 1 {
			return errors.New("attempt 1")
		}
		return last
	})
	if !errors.Is(err, last) {
		t.Errorf("Retry() = %v, want %v", err, last)
	}
}

func TestRetry_ZeroAttemptsRunsOnce(t *testing.T) {
	calls := 0
	Retry(context.Background(), RetryConfig{}, func() error {
		calls++
		return nil
	})
	if calls != 1 {
		t.Errorf("calls = %d, want 1", calls)
	}
}

func TestRetry_CancelledContextStopsRetrying(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	calls := 0
	err := Retry(ctx, RetryConfig{Attempts: 5, Delay: time.Hour}, func() error {
		calls++
		return errors.New("fail")
	})
	if err == nil {
		t.Fatal("Retry() = nil, want error")
	}
	if calls != 1 {
		t.Errorf("calls = %d, want 1 (no retries after cancellation)", calls)
	}
}

func TestWaitInterval_CompletesFullDuration(t *testing.T) {
	start := time.Now()
	ok := WaitInterval(context.Background(), 30*time.Millisecond, 10*time.Millisecond, nil)
	if !ok {
		t.Fatal("WaitInterval() = false, want true")
	}
	if elapsed := time.Since(start); elapsed < 30*time.Millisecond {
		t.Errorf("returned after %v, want >= 30ms", elapsed)
	}
}

func TestWaitInterval_StopCallbackAbandonsWait(t *testing.T) {
	checks := 0
	ok := WaitInterval(context.Background(), time.Hour, time.Millisecond, func() bool {
		checks++
		return checks >= 2
	})
	if ok {
		t.Error("WaitInterval() = true, want false when stop fires")
	}
}

func TestWaitInterval_ContextCancellation(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		time.Sleep(5 * time.Millisecond)
		cancel()
	}()

	ok := WaitInterval(ctx, time.Hour, 10*time.Millisecond, nil)
	if ok {
		t.Error("WaitInterval() = true, want false on cancellation")
	}
}
