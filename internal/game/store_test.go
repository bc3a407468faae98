//go:build integration
// +build integration

package game

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestRedis(t *testing.T) *redis.Client {
	t.Helper()
	addr := os.Getenv("REDIS_ADDR")
	if addr == "" {
		addr = "localhost:6379"
	}
	client := redis.NewClient(&redis.Options{Addr: addr})
	if err := client.Ping(context.Background()).Err(); err != nil {
		t.Skipf("redis not reachable at %s: %v", addr, err)
	}
	t.Cleanup(func() { client.Close() })
	return client
}

func TestRedisSnapshotStoreRoundTrip(t *testing.T) {
	client := newTestRedis(t)
	store := NewRedisSnapshotStore(client, time.Minute, zerolog.Nop())
	ctx := context.Background()
	id := uuid.New()
	t.Cleanup(func() { _ = store.Delete(ctx, id) })

	missing, err := store.Load(ctx, id)
	require.NoError(t, err)
	assert.Nil(t, missing)

	require.NoError(t, store.Save(ctx, Snapshot{ID: id, Version: 2, Status: StatusPlaying}))
	got, err := store.Load(ctx, id)
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, StatusPlaying, got.Status)

	ttl, err := client.TTL(ctx, snapshotKey(id)).Result()
	require.NoError(t, err)
	assert.Greater(t, ttl, time.Duration(0))

	require.NoError(t, store.Delete(ctx, id))
	got, err = store.Load(ctx, id)
	require.NoError(t, err)
	assert.Nil(t, got)
}

func TestRedisSnapshotStoreIgnoresOlderVersions(t *testing.T) {
	client := newTestRedis(t)
	store := NewRedisSnapshotStore(client, time.Minute, zerolog.Nop())
	ctx := context.Background()
	id := uuid.New()
	t.Cleanup(func() { _ = store.Delete(ctx, id) })

	require.NoError(t, store.Save(ctx, Snapshot{ID: id, Version: 5, Status: StatusFinal}))
	require.NoError(t, store.Save(ctx, Snapshot{ID: id, Version: 4, Status: StatusWaiting}))

	got, err := store.Load(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, uint64(5), got.Version)
	assert.Equal(t, StatusFinal, got.Status)
}
