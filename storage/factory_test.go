package storage

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNew_DefaultsToMemory(t *testing.T) {
	store, err := New(nil)
	require.NoError(t, err)
	defer store.Close()
	assert.Equal(t, MemoryStoreType, store.Type())

	store, err = New(&Config{})
	require.NoError(t, err)
	defer store.Close()
	assert.Equal(t, MemoryStoreType, store.Type())
}

func TestNew_UnknownTypeFails(t *testing.T) {
	_, err := New(&Config{Type: "cassandra"})
	assert.Error(t, err)
}

func TestNew_RedisUnreachableWithoutFallbackFails(t *testing.T) {
	_, err := New(&Config{
		Type:  RedisStoreType,
		Redis: &RedisConfig{Addr: "127.0.0.1:1", DialTimeout: 100 * time.Millisecond},
	})
	assert.Error(t, err)
}

func TestNew_RedisUnreachableDegradesToMemory(t *testing.T) {
	store, err := New(&Config{
		Type:            RedisStoreType,
		Redis:           &RedisConfig{Addr: "127.0.0.1:1", DialTimeout: 100 * time.Millisecond},
		FallbackOnError: true,
	})
	require.NoError(t, err)
	defer store.Close()
	assert.Equal(t, MemoryStoreType, store.Type())
}

func TestFallbackConfig_HealthCheckIntervalHonored(t *testing.T) {
	fs, _, _ := newFallbackFixture(t, 45*time.Second)
	assert.Equal(t, 45*time.Second, fs.config.HealthCheckInterval)

	primary := NewMemoryStore(nil)
	fallback := NewMemoryStore(nil)
	defaulted, err := NewFallbackStore(&FallbackConfig{Primary: primary, Fallback: fallback})
	require.NoError(t, err)
	defer defaulted.Close()
	assert.Equal(t, 30*time.Second, defaulted.config.HealthCheckInterval, "zero falls back to the 30s default")
}
