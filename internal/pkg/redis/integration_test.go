//go:build integration

package redis

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const delScript = "return redis.call('DEL', KEYS[1])"

// 需要本地 Redis: localhost:6379
func TestEvalIntegration(t *testing.T) {
	client, err := New(DefaultConfig(), nil)
	require.NoError(t, err)
	defer client.Close()

	ctx := context.Background()
	key := "vidgrab:test:eval"
	_, _ = client.Eval(ctx, delScript, []string{key})

	res, err := client.Eval(ctx, "return redis.call('INCR', KEYS[1])", []string{key})
	require.NoError(t, err)
	assert.EqualValues(t, 1, res)

	res, err = client.Eval(ctx, "return redis.call('INCR', KEYS[1])", []string{key})
	require.NoError(t, err)
	assert.EqualValues(t, 2, res)

	_, err = client.Eval(ctx, delScript, []string{key})
	assert.NoError(t, err)
}
