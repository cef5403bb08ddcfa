package storage

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestStore(t *testing.T) *MemoryStore {
	t.Helper()
	store := NewMemoryStore(&MemoryConfig{EnableMetrics: true})
	t.Cleanup(func() { store.Close() })
	return store
}

func TestMemoryStore_Increment(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	for i := int64(1); i <= 3; i++ {
		count, err := store.Increment(ctx, "counter", time.Minute)
		require.NoError(t, err)
		assert.Equal(t, i, count)
	}
}

func TestMemoryStore_IncrementTTLExpiry(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	count, err := store.Increment(ctx, "counter", 100*time.Millisecond)
	require.NoError(t, err)
	assert.Equal(t, int64(1), count)

	time.Sleep(150 * time.Millisecond)

	count, err = store.Increment(ctx, "counter", 100*time.Millisecond)
	require.NoError(t, err)
	assert.Equal(t, int64(1), count, "expired counter should restart from zero")
}

func TestMemoryStore_WindowIncrementResetsOnNewWindow(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	count, err := store.WindowIncrement(ctx, "win", 100, time.Minute)
	require.NoError(t, err)
	assert.Equal(t, int64(1), count)

	count, err = store.WindowIncrement(ctx, "win", 100, time.Minute)
	require.NoError(t, err)
	assert.Equal(t, int64(2), count)

	// Same key, next window: counter starts over.
	count, err = store.WindowIncrement(ctx, "win", 101, time.Minute)
	require.NoError(t, err)
	assert.Equal(t, int64(1), count)
}

func TestMemoryStore_SlidingWindow(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()
	window := 200 * time.Millisecond

	now := time.Now()
	require.NoError(t, store.AddRequest(ctx, "sliding", now, window))
	require.NoError(t, store.AddRequest(ctx, "sliding", now, window))

	count, err := store.CountRequests(ctx, "sliding", window)
	require.NoError(t, err)
	assert.Equal(t, 2, count)

	time.Sleep(250 * time.Millisecond)

	count, err = store.CountRequests(ctx, "sliding", window)
	require.NoError(t, err)
	assert.Equal(t, 0, count, "timestamps outside the window should not count")
}

func TestMemoryStore_Markers(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	_, _, err := store.GetMarker(ctx, "missing")
	assert.ErrorIs(t, err, ErrKeyNotFound)

	require.NoError(t, store.SetMarker(ctx, "penalty:client", "until", time.Minute))

	value, remaining, err := store.GetMarker(ctx, "penalty:client")
	require.NoError(t, err)
	assert.Equal(t, "until", value)
	assert.Greater(t, remaining, 50*time.Second)

	require.NoError(t, store.Delete(ctx, "penalty:client"))
	_, _, err = store.GetMarker(ctx, "penalty:client")
	assert.ErrorIs(t, err, ErrKeyNotFound)
}

func TestMemoryStore_MarkerExpiry(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	require.NoError(t, store.SetMarker(ctx, "marker", "v", 100*time.Millisecond))
	time.Sleep(150 * time.Millisecond)

	_, _, err := store.GetMarker(ctx, "marker")
	assert.ErrorIs(t, err, ErrKeyNotFound)
}

func TestMemoryStore_EventListCapped(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	for i := 0; i < 10; i++ {
		payload := []byte(fmt.Sprintf("event-%d", i))
		require.NoError(t, store.PushEvent(ctx, "events", payload, 5, time.Minute))
	}

	events, err := store.RecentEvents(ctx, "events", 100)
	require.NoError(t, err)
	require.Len(t, events, 5, "list should be trimmed to maxLen")
	assert.Equal(t, "event-5", string(events[0]), "oldest entries are dropped first")
	assert.Equal(t, "event-9", string(events[4]))

	events, err = store.RecentEvents(ctx, "events", 2)
	require.NoError(t, err)
	require.Len(t, events, 2)
	assert.Equal(t, "event-8", string(events[0]))
}

func TestMemoryStore_ListKeys(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	require.NoError(t, store.SetMarker(ctx, "penalty:a", "1", time.Minute))
	require.NoError(t, store.SetMarker(ctx, "penalty:b", "1", time.Minute))
	require.NoError(t, store.SetMarker(ctx, "other:c", "1", time.Minute))

	keys, err := store.ListKeys(ctx, "penalty:*")
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{"penalty:a", "penalty:b"}, keys)
}

func TestMemoryStore_Eviction(t *testing.T) {
	store := NewMemoryStore(&MemoryConfig{MaxKeys: 3})
	defer store.Close()
	ctx := context.Background()

	for i := 0; i < 5; i++ {
		_, err := store.Increment(ctx, fmt.Sprintf("key-%d", i), time.Minute)
		require.NoError(t, err)
		time.Sleep(2 * time.Millisecond) // distinct lastAccess ordering
	}

	keys, err := store.ListKeys(ctx, "*")
	require.NoError(t, err)
	assert.Len(t, keys, 3, "store should evict down to MaxKeys")
}

func TestMemoryStore_ClosedStoreFails(t *testing.T) {
	store := NewMemoryStore(nil)
	require.NoError(t, store.Close())
	ctx := context.Background()

	_, err := store.Increment(ctx, "k", time.Minute)
	assert.ErrorIs(t, err, ErrStoreUnavailable)

	assert.ErrorIs(t, store.Ping(ctx), ErrStoreUnavailable)
}

func TestMemoryStore_Info(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	_, err := store.Increment(ctx, "k", time.Minute)
	require.NoError(t, err)

	info := store.Info()
	assert.Equal(t, MemoryStoreType, info.Type)
	assert.True(t, info.Connected)
	assert.Equal(t, 1, info.Metadata["key_count"])
	require.NotNil(t, info.Performance)
	assert.Equal(t, int64(1), info.Performance.TotalOperations)
}
