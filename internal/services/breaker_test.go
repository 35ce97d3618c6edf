package services

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
)

func newRedisStore(t *testing.T, name string) (BreakerStore, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	return NewRedisBreakerStore(client, name), mr
}

func exerciseBreaker(t *testing.T, store BreakerStore) {
	t.Helper()
	ctx := context.Background()
	breaker := NewCircuitBreaker(store, 3, time.Minute)
	now := time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)

	for i := 1; i <= 2; i++ {
		opened, err := breaker.RecordFailure(ctx, now)
		if err != nil {
			t.Fatalf("record failure %d: %v", i, err)
		}
		if opened {
			t.Fatalf("expected breaker closed after %d failures", i)
		}
	}

	opened, err := breaker.RecordFailure(ctx, now)
	if err != nil {
		t.Fatalf("record failure: %v", err)
	}
	if !opened {
		t.Fatalf("expected breaker open after 3 failures")
	}

	state, _ := breaker.State(ctx)
	if state.FailureCount != 3 || state.NextRetryTime == nil || !state.NextRetryTime.Equal(now.Add(time.Minute)) {
		t.Fatalf("unexpected open state: %+v", state)
	}

	if allowed, _ := breaker.Allow(ctx, now.Add(30*time.Second)); allowed {
		t.Fatalf("expected breaker to reject before the retry time")
	}

	allowed, err := breaker.Allow(ctx, now.Add(2*time.Minute))
	if err != nil {
		t.Fatalf("allow: %v", err)
	}
	if !allowed {
		t.Fatalf("expected a half-open attempt after the retry time")
	}
	state, _ = breaker.State(ctx)
	if state.IsOpen || state.FailureCount != 0 {
		t.Fatalf("expected reset state after half-open, got %+v", state)
	}

	if _, err := breaker.RecordFailure(ctx, now); err != nil {
		t.Fatalf("record failure: %v", err)
	}
	if err := breaker.RecordSuccess(ctx); err != nil {
		t.Fatalf("record success: %v", err)
	}
	state, _ = breaker.State(ctx)
	if state.FailureCount != 0 {
		t.Fatalf("expected success to reset the failure count, got %d", state.FailureCount)
	}
}

func TestCircuitBreakerMemoryStore(t *testing.T) {
	exerciseBreaker(t, NewMemoryBreakerStore())
}

func TestCircuitBreakerRedisStore(t *testing.T) {
	store, _ := newRedisStore(t, "assess-test")
	exerciseBreaker(t, store)
}

func TestRedisBreakerStateIsShared(t *testing.T) {
	mr := miniredis.RunT(t)
	ctx := context.Background()
	now := time.Now()

	newBreaker := func() *CircuitBreaker {
		client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
		t.Cleanup(func() { _ = client.Close() })
		return NewCircuitBreaker(NewRedisBreakerStore(client, "shared"), 2, time.Minute)
	}
	a, b := newBreaker(), newBreaker()

	if _, err := a.RecordFailure(ctx, now); err != nil {
		t.Fatalf("record failure: %v", err)
	}
	opened, err := b.RecordFailure(ctx, now)
	if err != nil {
		t.Fatalf("record failure: %v", err)
	}
	if !opened {
		t.Fatalf("expected failures from both instances to open the breaker")
	}
	if allowed, _ := a.Allow(ctx, now); allowed {
		t.Fatalf("expected the other instance to see the open breaker")
	}
	if !mr.Exists("breaker:shared") {
		t.Fatalf("expected state stored under breaker:shared")
	}
}

func TestRedisBreakerConcurrentFailuresAreCounted(t *testing.T) {
	store, _ := newRedisStore(t, "concurrent")
	breaker := NewCircuitBreaker(store, 100, time.Minute)
	ctx := context.Background()

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, err := breaker.RecordFailure(ctx, time.Now()); err != nil {
				t.Errorf("record failure: %v", err)
			}
		}()
	}
	wg.Wait()

	state, err := breaker.State(ctx)
	if err != nil {
		t.Fatalf("state: %v", err)
	}
	if state.FailureCount != 8 {
		t.Fatalf("expected 8 counted failures, got %d", state.FailureCount)
	}
}
