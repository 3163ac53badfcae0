package cache

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestCache(t *testing.T) (*Redis, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { rdb.Close() })
	return NewRedis(rdb), mr
}

func TestGetSet(t *testing.T) {
	c, mr := newTestCache(t)
	ctx := context.Background()

	_, ok, err := c.Get(ctx, "missing")
	require.NoError(t, err)
	assert.False(t, ok)

	require.NoError(t, c.Set(ctx, "k", []byte("v"), 0))
	got, ok, err := c.Get(ctx, "k")
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, []byte("v"), got)
	assert.Equal(t, time.Duration(0), mr.TTL("k"), "zero ttl is permanent")

	require.NoError(t, c.Set(ctx, "short", []byte("x"), time.Minute))
	mr.FastForward(2 * time.Minute)
	_, ok, err = c.Get(ctx, "short")
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestSetNX(t *testing.T) {
	c, mr := newTestCache(t)
	ctx := context.Background()

	ok, err := c.SetNX(ctx, "lock", []byte("1"), 10*time.Minute)
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = c.SetNX(ctx, "lock", []byte("2"), 10*time.Minute)
	require.NoError(t, err)
	assert.False(t, ok)
	assert.Equal(t, 10*time.Minute, mr.TTL("lock"))

	require.NoError(t, c.Del(ctx, "lock"))
	ok, err = c.SetNX(ctx, "lock", []byte("3"), time.Minute)
	require.NoError(t, err)
	assert.True(t, ok)

	require.NoError(t, c.Del(ctx))
}

func TestDial(t *testing.T) {
	mr := miniredis.RunT(t)
	rdb, err := Dial(context.Background(), mr.Addr(), "", 0)
	require.NoError(t, err)
	rdb.Close()

	mr.Close()
	_, err = Dial(context.Background(), mr.Addr(), "", 0)
	assert.Error(t, err)
}

func TestCompareAndDel(t *testing.T) {
	c, mr := newTestCache(t)
	ctx := context.Background()

	require.NoError(t, mr.Set("lock", "theirs"))
	ok, err := c.CompareAndDel(ctx, "lock", []byte("ours"))
	require.NoError(t, err)
	assert.False(t, ok)
	assert.True(t, mr.Exists("lock"))

	ok, err = c.CompareAndDel(ctx, "lock", []byte("theirs"))
	require.NoError(t, err)
	assert.True(t, ok)
	assert.False(t, mr.Exists("lock"))

	ok, err = c.CompareAndDel(ctx, "lock", []byte("theirs"))
	require.NoError(t, err)
	assert.False(t, ok)
}
