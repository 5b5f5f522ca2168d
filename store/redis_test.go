package store

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	redis "github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestRedis(t *testing.T) (*Redis, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	return NewRedis(client), mr
}

func TestSetGetDel(t *testing.T) {
	r, _ := newTestRedis(t)
	ctx := context.Background()

	require.NoError(t, r.Set(ctx, "k", []byte("v"), time.Minute))
	data, ok, err := r.Get(ctx, "k")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, []byte("v"), data)

	n, err := r.Del(ctx, "k", "absent")
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)

	_, ok, err = r.Get(ctx, "k")
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestDelNoKeys(t *testing.T) {
	r, _ := newTestRedis(t)
	n, err := r.Del(context.Background())
	require.NoError(t, err)
	assert.Zero(t, n)
}

func TestSetNX(t *testing.T) {
	r, _ := newTestRedis(t)
	ctx := context.Background()

	ok, err := r.SetNX(ctx, "k", "a", time.Minute)
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = r.SetNX(ctx, "k", "b", time.Minute)
	require.NoError(t, err)
	assert.False(t, ok)

	data, _, err := r.Get(ctx, "k")
	require.NoError(t, err)
	assert.Equal(t, "a", string(data))
}

func TestCompareAndDelete(t *testing.T) {
	r, _ := newTestRedis(t)
	ctx := context.Background()

	require.NoError(t, r.Set(ctx, "k", []byte("token"), time.Minute))

	ok, err := r.CompareAndDelete(ctx, "k", "other")
	require.NoError(t, err)
	assert.False(t, ok, "mismatched value must not delete")

	exists, err := r.Exists(ctx, "k")
	require.NoError(t, err)
	assert.True(t, exists)

	ok, err = r.CompareAndDelete(ctx, "k", "token")
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = r.CompareAndDelete(ctx, "k", "token")
	require.NoError(t, err)
	assert.False(t, ok, "second delete must be a no-op")
}

func TestCompareAndExpire(t *testing.T) {
	r, mr := newTestRedis(t)
	ctx := context.Background()

	require.NoError(t, r.Set(ctx, "k", []byte("token"), time.Minute))

	ok, err := r.CompareAndExpire(ctx, "k", "other", time.Hour)
	require.NoError(t, err)
	assert.False(t, ok)
	assert.Equal(t, time.Minute, mr.TTL("k"), "mismatched value must not touch the ttl")

	ok, err = r.CompareAndExpire(ctx, "k", "token", time.Hour)
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, time.Hour, mr.TTL("k"))
}

func TestTTLStates(t *testing.T) {
	r, _ := newTestRedis(t)
	ctx := context.Background()

	_, ok, err := r.TTL(ctx, "absent")
	require.NoError(t, err)
	assert.False(t, ok)

	require.NoError(t, r.Set(ctx, "forever", []byte("v"), 0))
	_, ok, err = r.TTL(ctx, "forever")
	require.NoError(t, err)
	assert.False(t, ok)

	require.NoError(t, r.Set(ctx, "bounded", []byte("v"), time.Minute))
	d, ok, err := r.TTL(ctx, "bounded")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, time.Minute, d)
}

func TestScanMatchesPattern(t *testing.T) {
	r, _ := newTestRedis(t)
	ctx := context.Background()

	for i := 0; i < 25; i++ {
		require.NoError(t, r.Set(ctx, fmt.Sprintf("app:user:%d", i), []byte("v"), 0))
	}
	require.NoError(t, r.Set(ctx, "app:station:1", []byte("v"), 0))

	keys, err := r.Scan(ctx, "app:user:*", 10)
	require.NoError(t, err)
	assert.Len(t, keys, 25)
	assert.NotContains(t, keys, "app:station:1")
}

func TestConnectivityErrorWrapped(t *testing.T) {
	r, mr := newTestRedis(t)
	mr.Close()

	err := r.Ping(context.Background())
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrConnectivity)

	_, _, err = r.Get(context.Background(), "k")
	assert.ErrorIs(t, err, ErrConnectivity)
}
