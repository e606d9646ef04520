package dedup

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMemoryStore_FirstSightIsUnique(t *testing.T) {
	store := NewMemoryStore("test", 10*time.Second, 1000)
	defer store.Close()

	seen, err := store.Seen(context.Background(), "msg-1")
	require.NoError(t, err)
	assert.False(t, seen)

	seen, err = store.Seen(context.Background(), "msg-1")
	require.NoError(t, err)
	assert.True(t, seen)
}

func TestMemoryStore_IndependentKeys(t *testing.T) {
	store := NewMemoryStore("test", 10*time.Second, 1000)
	defer store.Close()

	ctx := context.Background()

	seen, err := store.Seen(ctx, "msg-1")
	require.NoError(t, err)
	assert.False(t, seen)

	seen, err = store.Seen(ctx, "msg-2")
	require.NoError(t, err)
	assert.False(t, seen)
}

func TestMemoryStore_TTLExpiry(t *testing.T) {
	now := time.Now()
	clock := func() time.Time { return now }

	store := NewMemoryStore("test", 10*time.Second, 1000, WithClock(func() time.Time { return clock() }))
	defer store.Close()

	ctx := context.Background()

	seen, err := store.Seen(ctx, "msg-1")
	require.NoError(t, err)
	assert.False(t, seen)

	// Inside the window the key stays suppressed.
	clock = func() time.Time { return now.Add(9 * time.Second) }
	seen, err = store.Seen(ctx, "msg-1")
	require.NoError(t, err)
	assert.True(t, seen)

	// Past the window the key is eligible again.
	clock = func() time.Time { return now.Add(20 * time.Second) }
	seen, err = store.Seen(ctx, "msg-1")
	require.NoError(t, err)
	assert.False(t, seen)
}

func TestMemoryStore_EvictsOldestHalfAtCeiling(t *testing.T) {
	base := time.Now()
	tick := 0
	store := NewMemoryStore("test", time.Hour, 10, WithClock(func() time.Time {
		tick++
		return base.Add(time.Duration(tick) * time.Millisecond)
	}))
	defer store.Close()

	ctx := context.Background()

	for i := 0; i < 11; i++ {
		_, err := store.Seen(ctx, fmt.Sprintf("msg-%d", i))
		require.NoError(t, err)
	}

	size, err := store.Size(ctx)
	require.NoError(t, err)
	assert.LessOrEqual(t, size, 6)

	// The newest entry survived eviction.
	seen, err := store.Seen(ctx, "msg-10")
	require.NoError(t, err)
	assert.True(t, seen)

	// The oldest did not.
	seen, err = store.Seen(ctx, "msg-0")
	require.NoError(t, err)
	assert.False(t, seen)
}

func TestMemoryStore_ConcurrentAccess(t *testing.T) {
	store := NewMemoryStore("test", 10*time.Second, 1000)
	defer store.Close()

	ctx := context.Background()

	var wg sync.WaitGroup
	var mu sync.Mutex
	uniqueCount := 0

	// Webhook handler and poll loop racing on the same key: exactly one
	// caller may win.
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			seen, err := store.Seen(ctx, "contested")
			require.NoError(t, err)
			if !seen {
				mu.Lock()
				uniqueCount++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, 1, uniqueCount)
}

func TestMemoryStore_CloseIsIdempotent(t *testing.T) {
	store := NewMemoryStore("test", 10*time.Second, 1000)
	require.NoError(t, store.Close())
	require.NoError(t, store.Close())
}
