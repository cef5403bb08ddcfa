// storage/storage.go
// Purpose: Counter store abstraction owning all mutable rate-limit and
// security state (counters, sliding windows, penalty/suppression markers,
// recent-event lists). Backends: in-memory, Redis, and a health-checked
// fallback pair.

package storage

import (
	"context"
	"fmt"
	"time"
)

// StoreType identifies the storage backend.
type StoreType string

const (
	MemoryStoreType   StoreType = "memory"
	RedisStoreType    StoreType = "redis"
	FallbackStoreType StoreType = "fallback"
)

// StoreInfo provides information about the storage backend.
type StoreInfo struct {
	Type        StoreType              `json:"type"`
	Status      string                 `json:"status"`
	Connected   bool                   `json:"connected"`
	LastError   string                 `json:"last_error,omitempty"`
	Metadata    map[string]interface{} `json:"metadata,omitempty"`
	Performance *PerformanceMetrics    `json:"performance,omitempty"`
}

// PerformanceMetrics tracks store operation counts and latency.
type PerformanceMetrics struct {
	TotalOperations int64         `json:"total_operations"`
	SuccessfulOps   int64         `json:"successful_ops"`
	FailedOps       int64         `json:"failed_ops"`
	AvgLatency      time.Duration `json:"avg_latency"`
	LastOperation   time.Time     `json:"last_operation"`
}

// Common errors. Callers map ErrStoreUnavailable onto the fail-open policy.
var (
	ErrKeyNotFound      = fmt.Errorf("key not found")
	ErrStoreUnavailable = fmt.Errorf("store unavailable")
	ErrInvalidKey       = fmt.Errorf("invalid key")
)

// CounterStore is the single source of truth for all mutable security state.
// No component may cache values obtained from it across requests.
//
// Key layout used by the core:
//
//	rate_limit:{client}:{endpoint}:{algorithm}:{window}  windowed counter, TTL window+buffer
//	sliding:{client}:{endpoint}                          sorted set of timestamps
//	abuse:{client}                                       rolling violation counter, TTL 1h
//	penalty:{client}                                     marker, TTL = penalty duration
//	alert_suppression:{category}:{level}:{ip}            marker, TTL level-dependent
//	security_events:{date}                               capped list, TTL 7d
type CounterStore interface {
	// Increment atomically increments a rolling counter, creating it with the
	// given TTL on first use, and returns the new value.
	Increment(ctx context.Context, key string, ttl time.Duration) (int64, error)

	// WindowIncrement atomically increments the counter for one fixed window
	// (identified by windowID) and returns the count within that window. The
	// increment and the window reset must not race with concurrent callers.
	WindowIncrement(ctx context.Context, key string, windowID int64, ttl time.Duration) (int64, error)

	// Sliding window operations over a per-key ordered set of timestamps.
	AddRequest(ctx context.Context, key string, timestamp time.Time, window time.Duration) error
	CountRequests(ctx context.Context, key string, window time.Duration) (int, error)
	TrimWindow(ctx context.Context, key string, window time.Duration) error

	// Markers are TTL-bounded string values (penalties, alert suppression).
	// GetMarker returns the value and the remaining TTL, or ErrKeyNotFound.
	SetMarker(ctx context.Context, key, value string, ttl time.Duration) error
	GetMarker(ctx context.Context, key string) (string, time.Duration, error)

	// Capped event lists, newest last. PushEvent trims to maxLen.
	PushEvent(ctx context.Context, key string, payload []byte, maxLen int64, ttl time.Duration) error
	RecentEvents(ctx context.Context, key string, limit int64) ([][]byte, error)

	// Generic operations.
	Exists(ctx context.Context, key string) (bool, error)
	Delete(ctx context.Context, key string) error
	ListKeys(ctx context.Context, pattern string) ([]string, error)

	// Health and lifecycle.
	Ping(ctx context.Context) error
	Close() error
	Type() StoreType
	Info() StoreInfo
}
