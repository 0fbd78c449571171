package cache_test

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/approvio/approvio/pkg/cache"
)

func TestMemoryCacheSetGet(t *testing.T) {
	c := cache.NewMemoryCache()

	_, err := c.Get(t.Context(), "missing")
	assert.ErrorIs(t, err, cache.ErrKeyNotFound)

	require.NoError(t, c.Set(t.Context(), "key", "value", 0))

	value, err := c.Get(t.Context(), "key")
	require.NoError(t, err)
	assert.Equal(t, "value", value)
}

func TestMemoryCacheSetNX(t *testing.T) {
	c := cache.NewMemoryCache()

	acquired, err := c.SetNX(t.Context(), "lease", "holder-1", time.Minute)
	require.NoError(t, err)
	assert.True(t, acquired)

	acquired, err = c.SetNX(t.Context(), "lease", "holder-2", time.Minute)
	require.NoError(t, err)
	assert.False(t, acquired)

	value, err := c.Get(t.Context(), "lease")
	require.NoError(t, err)
	assert.Equal(t, "holder-1", value)
}

func TestMemoryCacheSetNXAfterExpiry(t *testing.T) {
	c := cache.NewMemoryCache()

	acquired, err := c.SetNX(t.Context(), "lease", "holder-1", time.Millisecond)
	require.NoError(t, err)
	require.True(t, acquired)

	time.Sleep(5 * time.Millisecond)

	acquired, err = c.SetNX(t.Context(), "lease", "holder-2", time.Minute)
	require.NoError(t, err)
	assert.True(t, acquired)
}

func TestMemoryCacheCompareAndDelete(t *testing.T) {
	c := cache.NewMemoryCache()

	require.NoError(t, c.Set(t.Context(), "lease", "holder-1", time.Minute))

	// The wrong token never releases another holder's lease.
	released, err := c.CompareAndDelete(t.Context(), "lease", "holder-2")
	require.NoError(t, err)
	assert.False(t, released)

	released, err = c.CompareAndDelete(t.Context(), "lease", "holder-1")
	require.NoError(t, err)
	assert.True(t, released)

	released, err = c.CompareAndDelete(t.Context(), "lease", "holder-1")
	require.NoError(t, err)
	assert.False(t, released)
}

func TestMemoryCacheExpire(t *testing.T) {
	c := cache.NewMemoryCache()

	renewed, err := c.Expire(t.Context(), "missing", time.Minute)
	require.NoError(t, err)
	assert.False(t, renewed)

	require.NoError(t, c.Set(t.Context(), "key", "value", time.Millisecond))

	renewed, err = c.Expire(t.Context(), "key", time.Minute)
	require.NoError(t, err)
	assert.True(t, renewed)

	time.Sleep(5 * time.Millisecond)

	// The renewed TTL outlived the original one.
	value, err := c.Get(t.Context(), "key")
	require.NoError(t, err)
	assert.Equal(t, "value", value)
}
