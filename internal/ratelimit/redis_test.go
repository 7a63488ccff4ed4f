package ratelimit

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/aman-churiwal/indicator-gateway/internal/models"
	"github.com/aman-churiwal/indicator-gateway/internal/storage"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newRedisStore(t *testing.T, clock *fakeClock) (*RedisStore, *miniredis.Miniredis) {
	t.Helper()

	mr := miniredis.RunT(t)
	client, err := storage.NewRedis(mr.Addr(), "", 0)
	require.NoError(t, err)
	t.Cleanup(func() { client.Close() })

	return NewRedisStore(client, RedisStoreConfig{Now: clock.Now}), mr
}

func TestRedisStore_LimiterQuota(t *testing.T) {
	clock := newFakeClock()
	store, _ := newRedisStore(t, clock)
	l := NewLimiter(store, DefaultPolicies(), WithClock(clock.Now))
	ctx := context.Background()

	for i := 1; i <= 20; i++ {
		res, err := l.Check(ctx, "anonymous", models.TierAnonymous)
		require.NoError(t, err)
		assert.True(t, res.Allowed)
		assert.Equal(t, 20-i, res.Remaining)
	}

	res, err := l.Check(ctx, "anonymous", models.TierAnonymous)
	require.NoError(t, err)
	assert.False(t, res.Allowed)
	assert.Equal(t, 0, res.Remaining)
	assert.Equal(t, clock.Now().Add(time.Hour), res.ResetAt)
}

func TestRedisStore_StepBoundaryAndReset(t *testing.T) {
	clock := newFakeClock()
	store, _ := newRedisStore(t, clock)
	ctx := context.Background()
	policy := Policy{Window: time.Hour, MaxRequests: 100}

	first, err := store.Step(ctx, "k1", clock.Now(), policy)
	require.NoError(t, err)
	assert.Equal(t, 1, first.Count)

	atBoundary, err := store.Step(ctx, "k1", first.ResetAt, policy)
	require.NoError(t, err)
	assert.Equal(t, 2, atBoundary.Count)

	after, err := store.Step(ctx, "k1", first.ResetAt.Add(time.Millisecond), policy)
	require.NoError(t, err)
	assert.Equal(t, 1, after.Count)
	assert.Equal(t, first.ResetAt.Add(time.Millisecond).Add(time.Hour), after.ResetAt)
}

func TestRedisStore_KeepsRecordedLimit(t *testing.T) {
	clock := newFakeClock()
	store, _ := newRedisStore(t, clock)
	ctx := context.Background()

	_, err := store.Step(ctx, "k1", clock.Now(), Policy{Window: time.Hour, MaxRequests: 100})
	require.NoError(t, err)

	rec, err := store.Step(ctx, "k1", clock.Now(), Policy{Window: time.Hour, MaxRequests: 1000})
	require.NoError(t, err)
	assert.Equal(t, 100, rec.Limit)
}

func TestRedisStore_GetSetSnapshotDelete(t *testing.T) {
	clock := newFakeClock()
	store, mr := newRedisStore(t, clock)
	ctx := context.Background()

	rec := Record{Count: 3, ResetAt: clock.Now().Add(time.Hour).Truncate(time.Millisecond), Limit: 100}
	require.NoError(t, store.Set(ctx, "key:abc", rec))

	got, ok, err := store.Get(ctx, "key:abc")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, rec.Count, got.Count)
	assert.True(t, rec.ResetAt.Equal(got.ResetAt))
	assert.True(t, mr.TTL(DefaultKeyPrefix+"key:abc") > time.Hour)

	snap, err := store.Snapshot(ctx)
	require.NoError(t, err)
	assert.Contains(t, snap, "key:abc")

	require.NoError(t, store.Delete(ctx, "key:abc"))
	_, ok, err = store.Get(ctx, "key:abc")
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestRedisStore_ErrorsSurface(t *testing.T) {
	clock := newFakeClock()
	store, mr := newRedisStore(t, clock)
	mr.Close()

	l := NewLimiter(store, DefaultPolicies(), WithClock(clock.Now))
	_, err := l.Check(context.Background(), "k1", models.TierFree)
	assert.Error(t, err)
}
