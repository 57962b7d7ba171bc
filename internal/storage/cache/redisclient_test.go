//go:build integration

package cache_test

import (
	"context"
	"testing"
	"time"

	"github.com/illmade-knight/go-test/emulators"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tinywideclouds/go-push-relay/internal/storage/cache"
	"github.com/tinywideclouds/go-push-relay/pkg/push"
)

func TestRedisClient_Integration(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	t.Cleanup(cancel)

	connInfo := emulators.SetupRedisContainer(t, context.Background(), emulators.GetDefaultRedisImageContainer())
	client, err := cache.NewRedisClient(connInfo.EmulatorAddress, "", 0)
	require.NoError(t, err)
	t.Cleanup(func() { _ = client.Close() })

	var out []push.DeviceToken
	err = client.Get(ctx, "relay:tokens:nobody", &out)
	assert.ErrorIs(t, err, cache.ErrCacheMiss)

	in := []push.DeviceToken{{UserID: "alice", Token: "a1", IsActive: true}}
	require.NoError(t, client.Set(ctx, "relay:tokens:alice", in, time.Minute))
	require.NoError(t, client.Get(ctx, "relay:tokens:alice", &out))
	assert.Equal(t, "a1", out[0].Token)

	require.NoError(t, client.Del(ctx, "relay:tokens:alice"))
	err = client.Get(ctx, "relay:tokens:alice", &out)
	assert.ErrorIs(t, err, cache.ErrCacheMiss)
}
