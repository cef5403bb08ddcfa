package storage

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newFallbackFixture(t *testing.T, interval time.Duration) (*FallbackStore, *MemoryStore, *MemoryStore) {
	t.Helper()

	primary := NewMemoryStore(nil)
	fallback := NewMemoryStore(nil)

	fs, err := NewFallbackStore(&FallbackConfig{
		Primary:             primary,
		Fallback:            fallback,
		HealthCheckInterval: interval,
		FailureThreshold:    1,
		RecoveryThreshold:   1,
	})
	require.NoError(t, err)
	t.Cleanup(func() { fs.Close() })
	return fs, primary, fallback
}

func TestFallbackStore_DelegatesToPrimary(t *testing.T) {
	fs, primary, _ := newFallbackFixture(t, time.Minute)
	ctx := context.Background()

	count, err := fs.Increment(ctx, "k", time.Minute)
	require.NoError(t, err)
	assert.Equal(t, int64(1), count)

	// The write landed on the primary.
	count, err = primary.Increment(ctx, "k", time.Minute)
	require.NoError(t, err)
	assert.Equal(t, int64(2), count)
}

func TestFallbackStore_RoutesToFallbackWhenPrimaryDies(t *testing.T) {
	fs, primary, fallback := newFallbackFixture(t, 20*time.Millisecond)
	ctx := context.Background()

	primary.Close()
	time.Sleep(60 * time.Millisecond) // health check marks the primary down

	count, err := fs.Increment(ctx, "k", time.Minute)
	require.NoError(t, err)
	assert.Equal(t, int64(1), count)

	count, err = fallback.Increment(ctx, "k", time.Minute)
	require.NoError(t, err)
	assert.Equal(t, int64(2), count, "writes route to the fallback store")

	info := fs.Info()
	assert.Equal(t, "fallback", info.Metadata["active_store"])
}

func TestFallbackStore_RequiresBothStores(t *testing.T) {
	_, err := NewFallbackStore(nil)
	assert.Error(t, err)

	_, err = NewFallbackStore(&FallbackConfig{Primary: NewMemoryStore(nil)})
	assert.Error(t, err)
}

func TestFallbackStore_Info(t *testing.T) {
	fs, _, _ := newFallbackFixture(t, time.Minute)

	info := fs.Info()
	assert.Equal(t, FallbackStoreType, info.Type)
	assert.Equal(t, "primary", info.Metadata["active_store"])
	assert.Equal(t, MemoryStoreType, info.Metadata["primary_type"])
}
