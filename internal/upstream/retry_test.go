package upstream

import (
	"context"
	"errors"
	"testing"
	"time"
)

func fastPolicy(retries uint64) Policy {
	return Policy{Initial: time.Millisecond, Multiplier: 2, MaxRetries: retries}
}

func TestRetry_TransientThenSuccess(t *testing.T) {
	calls := 0
	err := Retry(context.Background(), fastPolicy(3), func() error {
		calls++
		if calls < 3 {
			return FromStatus("telegram", 503, errors.New("unavailable"))
		}
		return nil
	})
	if err != nil {
		t.Fatalf("Retry: %v", err)
	}
	if calls != 3 {
		t.Errorf("calls = %d, ожидается 3", calls)
	}
}

func TestRetry_PermanentStops(t *testing.T) {
	calls := 0
	err := Retry(context.Background(), fastPolicy(3), func() error {
		calls++
		return FromStatus("telegram", 400, errors.New("bad request"))
	})
	if !IsPermanent(err) {
		t.Fatalf("ожидается постоянная ошибка, получено %v", err)
	}
	if calls != 1 {
		t.Errorf("постоянная ошибка не должна повторяться, calls = %d", calls)
	}
}

func TestRetry_MaxRetries(t *testing.T) {
	calls := 0
	err := Retry(context.Background(), fastPolicy(2), func() error {
		calls++
		return FromStatus("stt", 500, errors.New("boom"))
	})
	if err == nil || KindOf(err) != Transient {
		t.Fatalf("ожидается временная ошибка после исчерпания, получено %v", err)
	}
	if calls != 3 {
		t.Errorf("calls = %d, ожидается 3 (1 попытка + 2 повтора)", calls)
	}
}

func TestRetry_RateLimitedHonoursRetryAfter(t *testing.T) {
	calls := 0
	start := time.Now()
	err := Retry(context.Background(), fastPolicy(1), func() error {
		calls++
		if calls == 1 {
			return &Error{Service: "telegram", Kind: RateLimited, Status: 429, RetryAfter: 50 * time.Millisecond, Err: errors.New("slow down")}
		}
		return nil
	})
	if err != nil {
		t.Fatalf("Retry: %v", err)
	}
	if elapsed := time.Since(start); elapsed < 50*time.Millisecond {
		t.Errorf("пауза %v короче Retry-After 50ms", elapsed)
	}
}

func TestRetry_ContextCancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	err := Retry(ctx, fastPolicy(5), func() error {
		return FromStatus("telegram", 503, errors.New("unavailable"))
	})
	if !errors.Is(err, context.Canceled) {
		t.Errorf("ожидается context.Canceled, получено %v", err)
	}
}
