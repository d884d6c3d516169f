package llm

import (
	"context"
	"errors"
	"testing"
	"time"
)

func fastPolicy() RetryPolicy {
	return RetryPolicy{
		MaxAttempts:  3,
		InitialDelay: time.Millisecond,
		Multiplier:   2.0,
		MaxDelay:     10 * time.Millisecond,
	}
}

func TestRetryTransientSucceeds(t *testing.T) {
	calls := 0
	err := fastPolicy().Do(context.Background(), func() error {
		calls++
		if calls < 3 {
			return NewError(KindTransientNetwork, errors.New("flaky"))
		}
		return nil
	})
	if err != nil || calls != 3 {
		t.Fatalf("err=%v calls=%d", err, calls)
	}
}

func TestRetryPermanentStopsImmediately(t *testing.T) {
	calls := 0
	err := fastPolicy().Do(context.Background(), func() error {
		calls++
		return NewError(KindProviderError, errors.New("fatal"))
	})
	if err == nil || calls != 1 {
		t.Fatalf("expected single attempt, err=%v calls=%d", err, calls)
	}
}

func TestRetryExhaustsAttempts(t *testing.T) {
	calls := 0
	err := fastPolicy().Do(context.Background(), func() error {
		calls++
		return NewError(KindRateLimited, errors.New("429"))
	})
	if err == nil || calls != 3 {
		t.Fatalf("expected 3 attempts, err=%v calls=%d", err, calls)
	}
	if KindOf(err) != KindRateLimited {
		t.Errorf("kind lost through retries: %v", KindOf(err))
	}
}

func TestRetryCancelledContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	err := fastPolicy().Do(ctx, func() error { return nil })
	if KindOf(err) != KindCancelled {
		t.Fatalf("expected cancelled, got %v", err)
	}
}

func TestDelayCapped(t *testing.T) {
	p := RetryPolicy{InitialDelay: time.Second, Multiplier: 10, MaxDelay: 3 * time.Second, MaxAttempts: 5}
	if d := p.Delay(4); d != 3*time.Second {
		t.Errorf("delay not capped: %v", d)
	}
}

func TestKindOf(t *testing.T) {
	if KindOf(context.Canceled) != KindCancelled {
		t.Error("context.Canceled must map to KindCancelled")
	}
	if KindOf(errors.New("anything")) != KindProviderError {
		t.Error("unclassified errors default to provider error")
	}
	wrapped := NewError(KindContextOverflow, errors.New("too big"))
	if KindOf(wrapped) != KindContextOverflow {
		t.Error("wrapped kind lost")
	}
}

func TestIsRetryable(t *testing.T) {
	if !IsRetryable(NewError(KindTransientNetwork, nil)) || !IsRetryable(NewError(KindRateLimited, nil)) {
		t.Error("transient kinds must be retryable")
	}
	if IsRetryable(NewError(KindInvalidStructuredOutput, nil)) || IsRetryable(NewError(KindCancelled, nil)) {
		t.Error("permanent kinds must not be retryable")
	}
}
