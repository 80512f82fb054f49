package ratelimit

import (
	"context"
	"testing"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTakeNilLimiter(t *testing.T) {
	d, err := Take(context.Background(), nil)
	require.NoError(t, err)
	assert.Zero(t, d)
}

func TestLocalTake(t *testing.T) {
	l := NewLocalLimiter(100, 1)

	_, err := Take(context.Background(), l)
	require.NoError(t, err)
}

func TestLocalTakeCancelled(t *testing.T) {
	l := NewLocalLimiter(1, 1)

	// drain the single token
	_, err := l.Take(context.Background())
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err = l.Take(ctx)
	assert.Error(t, err)
}

func TestNewRedisLimiter(t *testing.T) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	defer client.Close()

	l, ok := NewRedisLimiter(client, 10).(Redis)
	require.True(t, ok)
	assert.Equal(t, 10, l.MaxRPS)
	assert.NotNil(t, l.Limiter)
}
