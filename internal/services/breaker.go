package services

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
)

type BreakerState struct {
	IsOpen          bool       `json:"is_open"`
	FailureCount    int        `json:"failure_count"`
	LastFailureTime *time.Time `json:"last_failure_time,omitempty"`
	NextRetryTime   *time.Time `json:"next_retry_time,omitempty"`
}

// BreakerStore holds the state of one breaker. Update runs fn atomically against the
// current state; fn may return errNoChange to skip the write.
type BreakerStore interface {
	Load(ctx context.Context) (BreakerState, error)
	Update(ctx context.Context, fn func(*BreakerState) error) (BreakerState, error)
}

type memoryBreakerStore struct {
	mu    sync.Mutex
	state BreakerState
}

func NewMemoryBreakerStore() BreakerStore {
	return &memoryBreakerStore{}
}

func (m *memoryBreakerStore) Load(ctx context.Context) (BreakerState, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state, nil
}

func (m *memoryBreakerStore) Update(ctx context.Context, fn func(*BreakerState) error) (BreakerState, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	next := m.state
	if err := fn(&next); err != nil {
		if errors.Is(err, errNoChange) {
			return m.state, nil
		}
		return m.state, err
	}
	m.state = next
	return next, nil
}

const maxBreakerTxAttempts = 10

// redisBreakerStore shares one breaker between all instances using the same name.
type redisBreakerStore struct {
	client *redis.Client
	key    string
}

func NewRedisBreakerStore(client *redis.Client, name string) BreakerStore {
	return &redisBreakerStore{client: client, key: "breaker:" + name}
}

func (r *redisBreakerStore) Load(ctx context.Context) (BreakerState, error) {
	return r.read(ctx, r.client)
}

func (r *redisBreakerStore) read(ctx context.Context, c redis.Cmdable) (BreakerState, error) {
	var state BreakerState
	data, err := c.Get(ctx, r.key).Bytes()
	if err == redis.Nil {
		return state, nil
	}
	if err != nil {
		return state, fmt.Errorf("failed to read breaker state: %w", err)
	}
	if err := json.Unmarshal(data, &state); err != nil {
		return state, fmt.Errorf("failed to decode breaker state: %w", err)
	}
	return state, nil
}

func (r *redisBreakerStore) Update(ctx context.Context, fn func(*BreakerState) error) (BreakerState, error) {
	var result BreakerState

	txf := func(tx *redis.Tx) error {
		state, err := r.read(ctx, tx)
		if err != nil {
			return err
		}

		if err := fn(&state); err != nil {
			if errors.Is(err, errNoChange) {
				result = state
				return nil
			}
			return err
		}

		data, err := json.Marshal(state)
		if err != nil {
			return fmt.Errorf("failed to encode breaker state: %w", err)
		}

		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.Set(ctx, r.key, data, 0)
			return nil
		})
		if err == nil {
			result = state
		}
		return err
	}

	for attempt := 0; attempt < maxBreakerTxAttempts; attempt++ {
		err := r.client.Watch(ctx, txf, r.key)
		if err == nil {
			return result, nil
		}
		if errors.Is(err, redis.TxFailedErr) {
			continue
		}
		return BreakerState{}, err
	}

	return BreakerState{}, fmt.Errorf("failed to update breaker state: %w", redis.TxFailedErr)
}

// CircuitBreaker guards the AI strategy. It opens after threshold consecutive failures
// and lets one attempt through once the recovery timeout has passed.
type CircuitBreaker struct {
	store     BreakerStore
	threshold int
	recovery  time.Duration
}

func NewCircuitBreaker(store BreakerStore, threshold int, recovery time.Duration) *CircuitBreaker {
	if threshold < 1 {
		threshold = 3
	}
	return &CircuitBreaker{store: store, threshold: threshold, recovery: recovery}
}

// Allow reports whether the AI strategy may be attempted at now. An open breaker whose
// retry time has passed is closed with a reset count (half-open).
func (b *CircuitBreaker) Allow(ctx context.Context, now time.Time) (bool, error) {
	state, err := b.store.Update(ctx, func(s *BreakerState) error {
		if !s.IsOpen || s.NextRetryTime == nil || now.Before(*s.NextRetryTime) {
			return errNoChange
		}
		s.IsOpen = false
		s.FailureCount = 0
		s.NextRetryTime = nil
		log.Printf("🔌 Circuit breaker half-open, retrying AI\n")
		return nil
	})
	if err != nil {
		return true, err
	}
	BreakerOpen.Set(boolGauge(state.IsOpen))
	return !state.IsOpen, nil
}

func (b *CircuitBreaker) RecordSuccess(ctx context.Context) error {
	state, err := b.store.Update(ctx, func(s *BreakerState) error {
		if !s.IsOpen && s.FailureCount == 0 {
			return errNoChange
		}
		s.IsOpen = false
		s.FailureCount = 0
		s.NextRetryTime = nil
		return nil
	})
	if err != nil {
		return err
	}
	BreakerOpen.Set(boolGauge(state.IsOpen))
	return nil
}

// RecordFailure counts a failed AI attempt and reports whether the breaker is now open.
func (b *CircuitBreaker) RecordFailure(ctx context.Context, now time.Time) (bool, error) {
	state, err := b.store.Update(ctx, func(s *BreakerState) error {
		s.FailureCount++
		s.LastFailureTime = &now
		if !s.IsOpen && s.FailureCount >= b.threshold {
			retry := now.Add(b.recovery)
			s.IsOpen = true
			s.NextRetryTime = &retry
			log.Printf("🔌 Circuit breaker opened after %d failures, next retry at %s\n", s.FailureCount, retry.Format(time.RFC3339))
		}
		return nil
	})
	if err != nil {
		return false, err
	}
	BreakerOpen.Set(boolGauge(state.IsOpen))
	return state.IsOpen, nil
}

func (b *CircuitBreaker) State(ctx context.Context) (BreakerState, error) {
	return b.store.Load(ctx)
}

func boolGauge(v bool) float64 {
	if v {
		return 1
	}
	return 0
}
