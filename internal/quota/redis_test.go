package quota

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newRedisCounter(t *testing.T) (*RedisCounter, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	mr.SetTime(day1)
	rc := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = rc.Close() })
	return NewRedisCounter(rc), mr
}

func TestRedisCounterIncrementIfBelow(t *testing.T) {
	ctx := context.Background()
	c, mr := newRedisCounter(t)

	n, err := c.Count(ctx, "a@example.com", day1)
	require.NoError(t, err)
	assert.Equal(t, 0, n)

	for want := 1; want <= 3; want++ {
		n, ok, err := c.IncrementIfBelow(ctx, "a@example.com", day1, 3)
		require.NoError(t, err)
		require.True(t, ok)
		assert.Equal(t, want, n)
	}
	n, ok, err := c.IncrementIfBelow(ctx, "a@example.com", day1, 3)
	require.NoError(t, err)
	assert.False(t, ok)
	assert.Equal(t, 3, n)

	got, err := mr.Get("quota:a@example.com:2026-03-01")
	require.NoError(t, err)
	assert.Equal(t, "3", got)
	assert.True(t, mr.Exists("quota:a@example.com:2026-03-01"))
}

func TestRedisCounterDecrementFloorsAtZero(t *testing.T) {
	ctx := context.Background()
	c, _ := newRedisCounter(t)

	_, _, err := c.IncrementIfBelow(ctx, "a@example.com", day1, 5)
	require.NoError(t, err)
	require.NoError(t, c.Decrement(ctx, "a@example.com", day1))
	require.NoError(t, c.Decrement(ctx, "a@example.com", day1))

	n, err := c.Count(ctx, "a@example.com", day1)
	require.NoError(t, err)
	assert.Equal(t, 0, n)
}

func TestRedisCounterSeedKeepsExisting(t *testing.T) {
	ctx := context.Background()
	c, mr := newRedisCounter(t)
	today := time.Now().UTC()

	_, _, err := c.IncrementIfBelow(ctx, "a@example.com", today, 5)
	require.NoError(t, err)
	require.NoError(t, c.Seed(ctx, []string{"a@example.com", "b@example.com"}, today))

	n, err := c.Count(ctx, "a@example.com", today)
	require.NoError(t, err)
	assert.Equal(t, 1, n)
	n, err = c.Count(ctx, "b@example.com", today)
	require.NoError(t, err)
	assert.Equal(t, 0, n)
	assert.Greater(t, mr.TTL(c.key("b@example.com", today)), time.Duration(0))
}

func TestRedisCounterWithTracker(t *testing.T) {
	c, _ := newRedisCounter(t)
	s := NewSelector(newTracker(c, day1), PolicyOrdered)
	accts := pool(1, 1)

	sent := 0
	for i := 0; i < 3; i++ {
		_, ok, err := s.Select(context.Background(), accts)
		require.NoError(t, err)
		if ok {
			sent++
		}
	}
	assert.Equal(t, 2, sent)
}
