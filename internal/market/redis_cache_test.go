package market

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestCache(t *testing.T) *SnapshotCache {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	return NewSnapshotCache(client, time.Minute)
}

// TestSnapshotCachePutGet round-trips a snapshot through Redis
func TestSnapshotCachePutGet(t *testing.T) {
	cache := newTestCache(t)
	ctx := context.Background()

	m := testMarket("m1", 5000)
	require.NoError(t, cache.Put(ctx, m))

	got, ok, err := cache.Get(ctx, "m1")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, m.ID, got.ID)
	assert.Equal(t, m.Liquidity, got.Liquidity)
	assert.Equal(t, m.Category, got.Category)
}

// TestSnapshotCacheMiss returns not-found without error
func TestSnapshotCacheMiss(t *testing.T) {
	cache := newTestCache(t)

	_, ok, err := cache.Get(context.Background(), "absent")
	require.NoError(t, err)
	assert.False(t, ok)
}

// TestSnapshotCacheDelete removes a mirrored snapshot
func TestSnapshotCacheDelete(t *testing.T) {
	cache := newTestCache(t)
	ctx := context.Background()

	require.NoError(t, cache.Put(ctx, testMarket("m1", 5000)))
	require.NoError(t, cache.Delete(ctx, "m1"))

	_, ok, err := cache.Get(ctx, "m1")
	require.NoError(t, err)
	assert.False(t, ok)
}
