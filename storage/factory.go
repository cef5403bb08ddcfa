package storage

import (
	"fmt"
	"log"
	"time"
)

// Config selects and configures a storage backend.
type Config struct {
	Type   StoreType     `json:"type"`
	Memory *MemoryConfig `json:"memory,omitempty"`
	Redis  *RedisConfig  `json:"redis,omitempty"`

	// FallbackOnError wraps a Redis store in a FallbackStore backed by
	// process-local memory when true.
	FallbackOnError     bool `json:"fallback_on_error"`
	HealthCheckInterval int  `json:"health_check_interval_seconds"`
}

// New builds a CounterStore from config. Unknown or empty types default to
// the in-memory store.
func New(config *Config) (CounterStore, error) {
	if config == nil {
		config = &Config{Type: MemoryStoreType}
	}

	switch config.Type {
	case RedisStoreType:
		primary, err := NewRedisStore(config.Redis)
		if err != nil {
			if !config.FallbackOnError {
				return nil, err
			}
			// Redis unreachable at startup: degrade to memory immediately.
			log.Printf("[STORAGE] redis unavailable, using memory store: %v", err)
			return NewMemoryStore(config.Memory), nil
		}

		if !config.FallbackOnError {
			return primary, nil
		}

		return NewFallbackStore(&FallbackConfig{
			Primary:             primary,
			Fallback:            NewMemoryStore(config.Memory),
			HealthCheckInterval: time.Duration(config.HealthCheckInterval) * time.Second,
			EnableLogging:       true,
		})

	case MemoryStoreType, "":
		return NewMemoryStore(config.Memory), nil

	default:
		return nil, fmt.Errorf("unknown store type: %q", config.Type)
	}
}
