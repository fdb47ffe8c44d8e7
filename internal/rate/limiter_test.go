package rate

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newLimiterTest(t *testing.T, cfg Config) (*Limiter, *miniredis.Miniredis, func()) {
	t.Helper()

	mr, err := miniredis.Run()
	require.NoError(t, err)

	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	return New(rdb, cfg), mr, func() {
		_ = rdb.Close()
		mr.Close()
	}
}

func TestLimiterBlocksAfterMaxFailures(t *testing.T) {
	ctx := context.Background()
	l, _, cleanup := newLimiterTest(t, Config{MaxLoginAttempts: 3, LoginCooldown: time.Minute})
	defer cleanup()

	for i := 0; i < 3; i++ {
		require.NoError(t, l.CheckLogin(ctx, "u1", ""))
		require.NoError(t, l.RecordFailure(ctx, "u1", ""))
	}

	require.ErrorIs(t, l.CheckLogin(ctx, "u1", ""), ErrRateLimited)
	require.NoError(t, l.CheckLogin(ctx, "u2", ""), "other usernames are unaffected")

	attempts, err := l.Attempts(ctx, "u1")
	require.NoError(t, err)
	assert.Equal(t, 3, attempts)
}

func TestLimiterWindowExpires(t *testing.T) {
	ctx := context.Background()
	l, mr, cleanup := newLimiterTest(t, Config{MaxLoginAttempts: 1, LoginCooldown: time.Minute})
	defer cleanup()

	require.NoError(t, l.RecordFailure(ctx, "u1", ""))
	require.ErrorIs(t, l.CheckLogin(ctx, "u1", ""), ErrRateLimited)

	mr.FastForward(61 * time.Second)
	require.NoError(t, l.CheckLogin(ctx, "u1", ""))
}

func TestLimiterResetClearsUsernameOnly(t *testing.T) {
	ctx := context.Background()
	l, _, cleanup := newLimiterTest(t, Config{EnableIPThrottle: true, MaxLoginAttempts: 2, LoginCooldown: time.Minute})
	defer cleanup()

	require.NoError(t, l.RecordFailure(ctx, "u1", "10.0.0.1"))
	require.NoError(t, l.RecordFailure(ctx, "u2", "10.0.0.1"))

	require.ErrorIs(t, l.CheckLogin(ctx, "u3", "10.0.0.1"), ErrRateLimited, "ip budget is shared across usernames")

	require.NoError(t, l.Reset(ctx, "u1"))
	attempts, err := l.Attempts(ctx, "u1")
	require.NoError(t, err)
	assert.Zero(t, attempts)
	require.ErrorIs(t, l.CheckLogin(ctx, "u1", "10.0.0.1"), ErrRateLimited)
}

func TestLimiterSurfacesRedisOutage(t *testing.T) {
	ctx := context.Background()
	l, mr, cleanup := newLimiterTest(t, Config{MaxLoginAttempts: 2, LoginCooldown: time.Minute})
	defer cleanup()

	mr.Close()
	require.ErrorIs(t, l.CheckLogin(ctx, "u1", ""), ErrRedisUnavailable)
	require.ErrorIs(t, l.RecordFailure(ctx, "u1", ""), ErrRedisUnavailable)
}
