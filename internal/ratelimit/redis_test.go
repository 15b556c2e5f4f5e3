package ratelimit

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go/modules/redis"
)

func TestRedisLimiter(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping redis container test in short mode")
	}
	ctx := context.Background()

	container, err := redis.Run(ctx, "redis:7-alpine")
	require.NoError(t, err)
	t.Cleanup(func() { _ = container.Terminate(ctx) })

	url, err := container.ConnectionString(ctx)
	require.NoError(t, err)

	l, closeFn, err := New(ctx, url, 4, time.Minute, nil)
	require.NoError(t, err)
	defer closeFn()
	require.NotNil(t, l.(*Window).fallback)

	for i := 0; i < 4; i++ {
		ok, _ := l.Allow(ctx, "203.0.113.9")
		require.True(t, ok)
	}
	ok, wait := l.Allow(ctx, "203.0.113.9")
	require.False(t, ok)
	require.GreaterOrEqual(t, wait, time.Second)
	require.LessOrEqual(t, wait, time.Minute)

	// A second instance sees the same counters.
	other, closeOther, err := New(ctx, url, 4, time.Minute, nil)
	require.NoError(t, err)
	defer closeOther()
	ok, _ = other.Allow(ctx, "203.0.113.9")
	require.False(t, ok)

	// With Redis gone the limiter keeps counting in process.
	require.NoError(t, container.Stop(ctx, nil))
	for i := 0; i < 4; i++ {
		ok, _ = l.Allow(ctx, "203.0.113.10")
		require.True(t, ok)
	}
	ok, _ = l.Allow(ctx, "203.0.113.10")
	require.False(t, ok)
}
