package db

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/stretchr/testify/require"

	"ultramedic/internal/configs"
)

func TestNewRedisPings(t *testing.T) {
	mr := miniredis.RunT(t)

	client, err := NewRedis(context.Background(), configs.RedisConfig{Addr: mr.Addr()})
	require.NoError(t, err)
	require.NoError(t, client.Close())
}

func TestNewRedisFailsWhenUnreachable(t *testing.T) {
	mr := miniredis.RunT(t)
	addr := mr.Addr()
	mr.Close()

	_, err := NewRedis(context.Background(), configs.RedisConfig{Addr: addr, Timeout: 200 * time.Millisecond})
	require.Error(t, err)
}
