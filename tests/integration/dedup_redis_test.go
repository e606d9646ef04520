package integration

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"chatbridge/internal/dedup"
)

func TestRedisStore_Seen(t *testing.T) {
	client := SetupRedis(t)

	ctx := context.Background()
	store := dedup.NewRedisStore("inbound", client, "bridge:dedup:in:", 10*time.Second)

	seen, err := store.Seen(ctx, "msg-1")
	require.NoError(t, err)
	assert.False(t, seen)

	seen, err = store.Seen(ctx, "msg-1")
	require.NoError(t, err)
	assert.True(t, seen)

	seen, err = store.Seen(ctx, "msg-2")
	require.NoError(t, err)
	assert.False(t, seen)
}

func TestRedisStore_Seen_TTL(t *testing.T) {
	client := SetupRedis(t)

	ctx := context.Background()
	store := dedup.NewRedisStore("inbound", client, "bridge:dedup:in:", 1*time.Second)

	seen, err := store.Seen(ctx, "msg-ttl")
	require.NoError(t, err)
	assert.False(t, seen)

	// Wait for TTL to expire
	time.Sleep(2 * time.Second)

	seen, err = store.Seen(ctx, "msg-ttl")
	require.NoError(t, err)
	assert.False(t, seen)
}

func TestRedisStore_PrefixIsolation(t *testing.T) {
	client := SetupRedis(t)

	ctx := context.Background()
	inbound := dedup.NewRedisStore("inbound", client, "bridge:dedup:in:", 10*time.Second)
	outbound := dedup.NewRedisStore("outbound", client, "bridge:dedup:out:", 10*time.Second)

	seen, err := inbound.Seen(ctx, "msg-1")
	require.NoError(t, err)
	assert.False(t, seen)

	// The same id through the other store is a fresh key.
	seen, err = outbound.Seen(ctx, "msg-1")
	require.NoError(t, err)
	assert.False(t, seen)
}

func TestRedisStore_Size(t *testing.T) {
	client := SetupRedis(t)

	ctx := context.Background()
	store := dedup.NewRedisStore("inbound", client, "bridge:dedup:size:", 10*time.Second)

	for _, key := range []string{"a", "b", "c"} {
		_, err := store.Seen(ctx, key)
		require.NoError(t, err)
	}

	size, err := store.Size(ctx)
	require.NoError(t, err)
	assert.Equal(t, 3, size)
}
