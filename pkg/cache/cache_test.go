package cache

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMemoryCache(t *testing.T) {
	ctx := context.Background()
	c := NewMemory()

	_, ok, err := c.Get(ctx, "missing")
	require.NoError(t, err)
	assert.False(t, ok)

	require.NoError(t, c.Set(ctx, "k", []byte("v"), 0))
	val, ok, err := c.Get(ctx, "k")
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, []byte("v"), val)

	require.NoError(t, c.Delete(ctx, "k"))
	_, ok, _ = c.Get(ctx, "k")
	assert.False(t, ok)
}

func TestMemoryCacheExpiry(t *testing.T) {
	ctx := context.Background()
	c := NewMemory()

	now := time.Now()
	c.now = func() time.Time { return now }

	require.NoError(t, c.Set(ctx, "k", []byte("v"), time.Minute))

	_, ok, _ := c.Get(ctx, "k")
	assert.True(t, ok)

	now = now.Add(2 * time.Minute)
	_, ok, _ = c.Get(ctx, "k")
	assert.False(t, ok, "entry should expire after its TTL")
}

func TestRedisCache(t *testing.T) {
	srv := miniredis.RunT(t)
	ctx := context.Background()

	c := NewRedis(srv.Addr(), "", 0, "sommelier")

	_, ok, err := c.Get(ctx, "missing")
	require.NoError(t, err)
	assert.False(t, ok)

	require.NoError(t, c.Set(ctx, "quality:run-1", []byte(`{"coverage":0.8}`), time.Minute))

	val, ok, err := c.Get(ctx, "quality:run-1")
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, []byte(`{"coverage":0.8}`), val)

	// Keys are namespaced under the prefix.
	assert.True(t, srv.Exists("sommelier:quality:run-1"))

	require.NoError(t, c.Delete(ctx, "quality:run-1"))
	_, ok, _ = c.Get(ctx, "quality:run-1")
	assert.False(t, ok)
}

func TestRedisCacheTTL(t *testing.T) {
	srv := miniredis.RunT(t)
	ctx := context.Background()

	c := NewRedis(srv.Addr(), "", 0, "")
	require.NoError(t, c.Set(ctx, "k", []byte("v"), time.Minute))

	srv.FastForward(2 * time.Minute)

	_, ok, err := c.Get(ctx, "k")
	require.NoError(t, err)
	assert.False(t, ok)
}
