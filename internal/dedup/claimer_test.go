package dedup

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newRedisClaimer(t *testing.T) (*RedisClaimer, *miniredis.Miniredis) {
	t.Helper()
	srv := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: srv.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	return NewRedisClaimer(client, "test:", time.Minute, time.Hour), srv
}

func TestRedisClaimerExclusive(t *testing.T) {
	c, _ := newRedisClaimer(t)
	ctx := context.Background()

	ok, err := c.Claim(ctx, "<a@x>")
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = c.Claim(ctx, "<a@x>")
	require.NoError(t, err)
	assert.False(t, ok)

	require.NoError(t, c.Release(ctx, "<a@x>"))
	ok, err = c.Claim(ctx, "<a@x>")
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestRedisClaimerKeepExtendsTTL(t *testing.T) {
	c, srv := newRedisClaimer(t)
	ctx := context.Background()

	_, err := c.Claim(ctx, "id")
	require.NoError(t, err)
	assert.Equal(t, time.Minute, srv.TTL("test:ingest:id"))

	require.NoError(t, c.Keep(ctx, "id"))
	assert.Equal(t, time.Hour, srv.TTL("test:ingest:id"))

	srv.FastForward(2 * time.Hour)
	ok, err := c.Claim(ctx, "id")
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestRedisClaimerSurfacesErrors(t *testing.T) {
	c, srv := newRedisClaimer(t)
	srv.Close()
	_, err := c.Claim(context.Background(), "id")
	assert.Error(t, err)
}

func TestLocalClaimer(t *testing.T) {
	c := NewLocalClaimer(0)
	ctx := context.Background()
	ok, _ := c.Claim(ctx, "id")
	assert.True(t, ok)
	ok, _ = c.Claim(ctx, "id")
	assert.False(t, ok)
	require.NoError(t, c.Release(ctx, "id"))
	ok, _ = c.Claim(ctx, "id")
	assert.True(t, ok)
}

func TestLocalClaimerExpiresEntries(t *testing.T) {
	now := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
	c := NewLocalClaimer(time.Hour).WithClock(func() time.Time { return now })
	ctx := context.Background()

	for _, id := range []string{"a", "b", "c"} {
		ok, err := c.Claim(ctx, id)
		require.NoError(t, err)
		require.True(t, ok)
		require.NoError(t, c.Keep(ctx, id))
	}
	assert.Equal(t, 3, c.Len())

	now = now.Add(30 * time.Minute)
	ok, _ := c.Claim(ctx, "a")
	assert.False(t, ok, "kept claim still held inside the ttl")

	now = now.Add(time.Hour)
	ok, _ = c.Claim(ctx, "a")
	assert.True(t, ok, "expired claim can be taken again")
	assert.Equal(t, 1, c.Len(), "expired entries are swept")
}
