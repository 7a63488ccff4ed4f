package ratelimit

import (
	"context"
	"errors"
	"time"

	"github.com/aman-churiwal/indicator-gateway/internal/circuitbreaker"
	"go.uber.org/zap"
	"golang.org/x/time/rate"
)

// FailoverStore prefers a shared primary store and falls back to a local one
// when the primary errors or its breaker is open. While on the fallback each
// instance counts on its own, so the effective quota is multiplied by the
// number of instances.
type FailoverStore struct {
	primary  AtomicStore
	fallback AtomicStore
	breaker  *circuitbreaker.CircuitBreaker
	logger   *zap.Logger
	warn     rate.Sometimes
}

func NewFailoverStore(primary AtomicStore, fallback Store, breaker *circuitbreaker.CircuitBreaker, logger *zap.Logger) *FailoverStore {
	return &FailoverStore{
		primary:  primary,
		fallback: withLocks(fallback),
		breaker:  breaker,
		logger:   logger.Named("failover"),
		warn:     rate.Sometimes{First: 1, Interval: 10 * time.Second},
	}
}

func (f *FailoverStore) degraded(op string, err error) {
	f.warn.Do(func() {
		f.logger.Warn("primary rate limit store unavailable, using fallback",
			zap.String("op", op),
			zap.String("breaker", f.breaker.State().String()),
			zap.Error(err),
		)
	})
}

func (f *FailoverStore) Step(ctx context.Context, id string, now time.Time, policy Policy) (Record, error) {
	var rec Record
	err := f.breaker.Call(func() error {
		var err error
		rec, err = f.primary.Step(ctx, id, now, policy)
		return err
	})
	if err == nil {
		return rec, nil
	}

	f.degraded("step", err)
	return f.fallback.Step(ctx, id, now, policy)
}

func (f *FailoverStore) Get(ctx context.Context, id string) (Record, bool, error) {
	var (
		rec Record
		ok  bool
	)
	err := f.breaker.Call(func() error {
		var err error
		rec, ok, err = f.primary.Get(ctx, id)
		return err
	})
	if err == nil {
		return rec, ok, nil
	}

	f.degraded("get", err)
	return f.fallback.Get(ctx, id)
}

func (f *FailoverStore) Set(ctx context.Context, id string, rec Record) error {
	err := f.breaker.Call(func() error {
		return f.primary.Set(ctx, id, rec)
	})
	if err == nil {
		return nil
	}

	f.degraded("set", err)
	return f.fallback.Set(ctx, id, rec)
}

// Delete clears the identifier in both stores.
func (f *FailoverStore) Delete(ctx context.Context, id string) error {
	primaryErr := f.breaker.Call(func() error {
		return f.primary.Delete(ctx, id)
	})
	fallbackErr := f.fallback.Delete(ctx, id)

	if primaryErr != nil && !errors.Is(primaryErr, circuitbreaker.ErrCircuitOpen) {
		f.degraded("delete", primaryErr)
	}

	return fallbackErr
}

// Sweep only touches the fallback; the primary expires its own keys.
func (f *FailoverStore) Sweep(ctx context.Context, cutoff time.Time) (int, error) {
	return f.fallback.Sweep(ctx, cutoff)
}

func (f *FailoverStore) Snapshot(ctx context.Context) (map[string]Record, error) {
	var out map[string]Record
	err := f.breaker.Call(func() error {
		var err error
		out, err = f.primary.Snapshot(ctx)
		return err
	})
	if err == nil {
		return out, nil
	}

	f.degraded("snapshot", err)
	return f.fallback.Snapshot(ctx)
}

func (f *FailoverStore) Breaker() *circuitbreaker.CircuitBreaker {
	return f.breaker
}
