package ratelimit

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/aman-churiwal/indicator-gateway/internal/circuitbreaker"
	"github.com/aman-churiwal/indicator-gateway/internal/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

type brokenStore struct {
	*MemoryStore
	calls int
}

var errUnavailable = errors.New("store unavailable")

func (b *brokenStore) Step(ctx context.Context, id string, now time.Time, policy Policy) (Record, error) {
	b.calls++
	return Record{}, errUnavailable
}

func (b *brokenStore) Snapshot(ctx context.Context) (map[string]Record, error) {
	b.calls++
	return nil, errUnavailable
}

func TestFailoverStore_FallsBackAndOpensBreaker(t *testing.T) {
	clock := newFakeClock()
	primary := &brokenStore{MemoryStore: NewMemoryStore()}
	breaker := circuitbreaker.New(circuitbreaker.Config{Name: "redis", MaxFailures: 3, Timeout: time.Minute})
	store := NewFailoverStore(primary, NewMemoryStore(), breaker, zap.NewNop())

	l := NewLimiter(store, DefaultPolicies(), WithClock(clock.Now))
	ctx := context.Background()

	for i := 1; i <= 10; i++ {
		res, err := l.Check(ctx, "k1", models.TierFree)
		require.NoError(t, err)
		assert.Equal(t, 100-i, res.Remaining)
	}

	assert.Equal(t, circuitbreaker.StateOpen, breaker.State())
	assert.Equal(t, 3, primary.calls)

	snap, err := store.Snapshot(ctx)
	require.NoError(t, err)
	assert.Equal(t, 10, snap["k1"].Count)
}

func TestFailoverStore_UsesPrimaryWhenHealthy(t *testing.T) {
	clock := newFakeClock()
	primary := NewMemoryStore()
	fallback := NewMemoryStore()
	breaker := circuitbreaker.New(circuitbreaker.Config{Name: "redis"})
	store := NewFailoverStore(withLocks(primary), fallback, breaker, zap.NewNop())

	l := NewLimiter(store, DefaultPolicies(), WithClock(clock.Now))
	_, err := l.Check(context.Background(), "k1", models.TierFree)
	require.NoError(t, err)

	assert.Equal(t, 1, primary.Len())
	assert.Equal(t, 0, fallback.Len())

	require.NoError(t, l.Reset(context.Background(), "k1"))
	assert.Equal(t, 0, primary.Len())
}
