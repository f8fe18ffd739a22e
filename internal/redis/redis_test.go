package redis

import (
	"context"
	"testing"

	"github.com/alicebob/miniredis/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/honeycombio/rebalancer/config"
	"github.com/honeycombio/rebalancer/logger"
)

func TestNewClient(t *testing.T) {
	server := miniredis.RunT(t)
	ctx := context.Background()

	client, err := NewClient(ctx, config.RedisConfig{Host: server.Addr()}, &logger.NullLogger{})
	require.NoError(t, err)
	defer client.Close()

	require.NoError(t, client.Set(ctx, "k", "v", 0).Err())
	got, err := server.Get("k")
	require.NoError(t, err)
	assert.Equal(t, "v", got)
}

func TestNewClientAuthCode(t *testing.T) {
	server := miniredis.RunT(t)
	server.RequireAuth("sekrit")
	ctx := context.Background()

	_, err := NewClient(ctx, config.RedisConfig{Host: server.Addr(), AuthCode: "wrong"}, &logger.NullLogger{})
	assert.Error(t, err)

	client, err := NewClient(ctx, config.RedisConfig{Host: server.Addr(), AuthCode: "sekrit"}, &logger.NullLogger{})
	require.NoError(t, err)
	client.Close()
}

func TestPrefixKey(t *testing.T) {
	assert.Equal(t, "ds::o:1", PrefixKey("", "ds::o:1"))
	assert.Equal(t, "prod:ds::o:1", PrefixKey("prod", "ds::o:1"))
}
