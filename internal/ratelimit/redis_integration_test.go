//go:build integration

package ratelimit

import (
	"context"
	"testing"
	"time"

	"github.com/lk2023060901/vidgrab-bot/internal/pkg/redis"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// 需要本地 Redis: localhost:6379
func TestRedisLimiterIntegration(t *testing.T) {
	client, err := redis.New(redis.DefaultConfig(), nil)
	require.NoError(t, err)
	defer client.Close()

	ctx := context.Background()
	prefix := "vidgrab:test:" + time.Now().Format("150405.000")
	l := NewRedisLimiter(client, Config{MaxRequests: 3, Period: 2 * time.Second}, prefix)
	defer client.Eval(ctx, "return redis.call('DEL', KEYS[1])", []string{l.key(99)})

	for i := 1; i <= 3; i++ {
		d, err := l.Allow(ctx, 99)
		require.NoError(t, err)
		assert.True(t, d.Allowed)
		assert.Equal(t, i, d.Count)
	}

	d, err := l.Allow(ctx, 99)
	require.NoError(t, err)
	assert.False(t, d.Allowed)
	assert.Greater(t, d.RetryAfter, time.Duration(0))
	assert.LessOrEqual(t, d.RetryAfter, 2*time.Second)

	time.Sleep(d.RetryAfter + 100*time.Millisecond)
	d, err = l.Allow(ctx, 99)
	require.NoError(t, err)
	assert.True(t, d.Allowed)
	assert.Equal(t, 1, d.Count)
}
