package ratelimit

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestLimiterWait(t *testing.T) {
	t.Parallel()

	// 10 RPS = one token every 100ms, starting with a single token.
	l, err := New(Config{PerHostRPS: 10, Burst: 1})
	require.NoError(t, err)
	require.True(t, l.Enabled())

	ctx := context.Background()
	require.NoError(t, l.Wait(ctx, "test.com"))

	start := time.Now()
	require.NoError(t, l.Wait(ctx, "TEST.com"))
	require.GreaterOrEqual(t, time.Since(start), 80*time.Millisecond)
}

func TestLimiterDifferentHosts(t *testing.T) {
	t.Parallel()

	l, err := New(Config{PerHostRPS: 1, Burst: 1})
	require.NoError(t, err)

	ctx := context.Background()
	require.NoError(t, l.Wait(ctx, "a.com"))

	start := time.Now()
	require.NoError(t, l.Wait(ctx, "b.com"))
	require.Less(t, time.Since(start), 50*time.Millisecond, "b.com must not wait for a.com")
}

func TestLimiterDisabled(t *testing.T) {
	t.Parallel()

	l, err := New(Config{})
	require.NoError(t, err)
	require.False(t, l.Enabled())
	for i := 0; i < 100; i++ {
		require.NoError(t, l.Wait(context.Background(), "a.com"))
	}

	var nilLimiter *Limiter
	require.NoError(t, nilLimiter.Wait(context.Background(), "a.com"))
}

func TestLimiterHonorsContext(t *testing.T) {
	t.Parallel()

	l, err := New(Config{PerHostRPS: 0.01, Burst: 1})
	require.NoError(t, err)
	require.NoError(t, l.Wait(context.Background(), "slow.com"))

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	require.Error(t, l.Wait(ctx, "slow.com"))
}
