package cache

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMemoryCache_SetGet(t *testing.T) {
	c := NewMemory()
	ctx := context.Background()

	require.NoError(t, c.Set(ctx, "k", "v", 0))

	val, ok, err := c.Get(ctx, "k")
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, "v", val)

	_, ok, err = c.Get(ctx, "missing")
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestMemoryCache_TTLExpiry(t *testing.T) {
	c := NewMemory()
	ctx := context.Background()

	now := time.Now()
	c.SetClock(func() time.Time { return now })

	require.NoError(t, c.Set(ctx, "k", "v", 60*time.Second))

	_, ok, _ := c.Get(ctx, "k")
	assert.True(t, ok, "key should be live inside the TTL")

	// Advance past the TTL
	now = now.Add(61 * time.Second)
	c.SetClock(func() time.Time { return now })

	_, ok, _ = c.Get(ctx, "k")
	assert.False(t, ok, "key should expire after the TTL")
}

func TestMemoryCache_IncrAppliesTTLOnFirstIncrementOnly(t *testing.T) {
	c := NewMemory()
	ctx := context.Background()

	now := time.Now()
	c.SetClock(func() time.Time { return now })

	count, err := c.Incr(ctx, "counter", 60*time.Second)
	require.NoError(t, err)
	assert.Equal(t, int64(1), count)

	count, err = c.Incr(ctx, "counter", 60*time.Second)
	require.NoError(t, err)
	assert.Equal(t, int64(2), count)

	// The window is anchored at the first increment
	now = now.Add(61 * time.Second)
	c.SetClock(func() time.Time { return now })

	count, err = c.Incr(ctx, "counter", 60*time.Second)
	require.NoError(t, err)
	assert.Equal(t, int64(1), count, "expired counter restarts at 1")
}

func TestMemoryCache_DeleteAndScan(t *testing.T) {
	c := NewMemory()
	ctx := context.Background()

	require.NoError(t, c.Set(ctx, "ioc:ip:1.2.3.4", "x", 0))
	require.NoError(t, c.Set(ctx, "ioc:domain:evil.test", "x", 0))
	require.NoError(t, c.Set(ctx, "dedup:abc", "x", 0))

	keys, err := c.Scan(ctx, "ioc:")
	require.NoError(t, err)
	assert.Len(t, keys, 2)

	require.NoError(t, c.Delete(ctx, "ioc:ip:1.2.3.4"))
	keys, err = c.Scan(ctx, "ioc:")
	require.NoError(t, err)
	assert.Len(t, keys, 1)
}
