package utils

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCache_RoundTripAndInvalidate(t *testing.T) {
	mr, rdb := newMiniRedis(t)
	SetRedis(rdb)
	t.Cleanup(func() { SetRedis(nil) })

	CacheSetJSON(UsersCacheKey(1, 20), map[string]int{"total": 3}, time.Minute)
	CacheSetBytes(UsersCacheKey(2, 20), []byte(`{}`), 0)
	CacheSetBytes("unrelated", []byte("x"), time.Minute)

	b, ok := CacheGetBytes(UsersCacheKey(1, 20))
	require.True(t, ok)
	assert.JSONEq(t, `{"total":3}`, string(b))
	assert.Equal(t, defaultCacheTTL, mr.TTL(UsersCacheKey(2, 20)))

	InvalidateByPrefix(UsersCachePrefix)

	_, ok = CacheGetBytes(UsersCacheKey(1, 20))
	assert.False(t, ok)
	_, ok = CacheGetBytes(UsersCacheKey(2, 20))
	assert.False(t, ok)
	assert.True(t, mr.Exists("unrelated"))
}

func TestCache_DisabledWithoutRedis(t *testing.T) {
	SetRedis(nil)

	CacheSetJSON("k", 1, time.Minute)
	_, ok := CacheGetBytes("k")

	assert.False(t, ok)
	InvalidateByPrefix("k")
}
