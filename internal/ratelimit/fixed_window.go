// Package ratelimit implements per-identifier fixed-window quotas.
//
// Each identifier owns one Record. A record is replaced lazily, on the first
// request that arrives strictly after its ResetAt; there is no global timer.
// Every attempt is counted, admitted or not. The read-modify-write of one
// identifier is serialized either by the store itself (AtomicStore) or by a
// striped mutex inside this package.
package ratelimit

import (
	"context"
	"time"

	"github.com/aman-churiwal/indicator-gateway/internal/models"
)

// Result is the outcome of one quota check.
type Result struct {
	Allowed   bool      `json:"allowed"`
	Limit     int       `json:"limit"`
	Remaining int       `json:"remaining"`
	ResetAt   time.Time `json:"reset_at"`
}

type Limiter struct {
	store    AtomicStore
	raw      Store
	policies PolicyTable
	now      func() time.Time
}

type Option func(*Limiter)

// WithClock replaces time.Now.
func WithClock(now func() time.Time) Option {
	return func(l *Limiter) {
		l.now = now
	}
}

func NewLimiter(store Store, policies PolicyTable, opts ...Option) *Limiter {
	l := &Limiter{
		store:    withLocks(store),
		raw:      store,
		policies: policies,
		now:      time.Now,
	}

	for _, opt := range opts {
		opt(l)
	}

	return l
}

// Check counts one attempt for identifier and reports whether it is within
// quota. A fresh window takes its ceiling from tier; an open window keeps the
// ceiling it started with even if the caller's tier has since changed.
func (l *Limiter) Check(ctx context.Context, identifier string, tier models.Tier) (Result, error) {
	now := l.now()

	rec, err := l.store.Step(ctx, identifier, now, l.policies.For(tier))
	if err != nil {
		return Result{}, err
	}

	remaining := rec.Limit - rec.Count
	if remaining < 0 {
		remaining = 0
	}

	return Result{
		Allowed:   rec.Count <= rec.Limit,
		Limit:     rec.Limit,
		Remaining: remaining,
		ResetAt:   rec.ResetAt,
	}, nil
}

// Reset drops the identifier's record; its next request opens a new window.
func (l *Limiter) Reset(ctx context.Context, identifier string) error {
	return l.store.Delete(ctx, identifier)
}

func (l *Limiter) Snapshot(ctx context.Context) (map[string]Record, error) {
	return l.store.Snapshot(ctx)
}

func (l *Limiter) Now() time.Time {
	return l.now()
}

func (l *Limiter) Policies() PolicyTable {
	return l.policies
}

// Store returns the store the limiter was built with.
func (l *Limiter) Store() Store {
	return l.raw
}
