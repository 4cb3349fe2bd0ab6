package mailbox

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newRedis(t *testing.T) (*redis.Client, *miniredis.Miniredis) {
	t.Helper()
	srv := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: srv.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	return client, srv
}

func TestRedisLock(t *testing.T) {
	client, srv := newRedis(t)
	lock := NewRedisLock(client, "test:poll:lock")
	ctx := context.Background()

	release, err := lock.Acquire(ctx, time.Minute)
	require.NoError(t, err)
	assert.Equal(t, time.Minute, srv.TTL("test:poll:lock"))

	_, err = lock.Acquire(ctx, time.Minute)
	assert.ErrorIs(t, err, ErrCycleInProgress)

	require.NoError(t, release(ctx))
	assert.False(t, srv.Exists("test:poll:lock"))
}

func TestRedisLockReleaseKeepsForeignLock(t *testing.T) {
	client, srv := newRedis(t)
	lock := NewRedisLock(client, "test:poll:lock")
	ctx := context.Background()

	release, err := lock.Acquire(ctx, time.Minute)
	require.NoError(t, err)

	// Our lock expired and another process took it.
	srv.FastForward(2 * time.Minute)
	_, err = lock.Acquire(ctx, time.Minute)
	require.NoError(t, err)

	require.NoError(t, release(ctx))
	assert.True(t, srv.Exists("test:poll:lock"))
}

func TestRedisWatermark(t *testing.T) {
	client, _ := newRedis(t)
	w := NewRedisWatermark(client, "test:poll:watermark")
	ctx := context.Background()

	_, ok, err := w.Load(ctx)
	require.NoError(t, err)
	assert.False(t, ok)

	at := time.Date(2024, 5, 1, 12, 30, 15, 500, time.UTC)
	require.NoError(t, w.Save(ctx, at))
	got, ok, err := w.Load(ctx)
	require.NoError(t, err)
	assert.True(t, ok)
	assert.True(t, at.Equal(got))
}
