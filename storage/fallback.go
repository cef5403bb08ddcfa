package storage

import (
	"context"
	"fmt"
	"log"
	"sync"
	"time"
)

// FallbackConfig configuration for fallback storage.
type FallbackConfig struct {
	Primary             CounterStore  `json:"-"`
	Fallback            CounterStore  `json:"-"`
	HealthCheckInterval time.Duration `json:"health_check_interval"`
	FailureThreshold    int           `json:"failure_threshold"`
	RecoveryThreshold   int           `json:"recovery_threshold"`
	EnableLogging       bool          `json:"enable_logging"`
}

// FallbackStore routes to a primary store while healthy and to a fallback
// (typically process-local memory) otherwise. Under fallback, counters are
// per-instance; this degradation is accepted, not hidden.
type FallbackStore struct {
	primary  CounterStore
	fallback CounterStore
	config   *FallbackConfig

	// Health tracking
	primaryHealthy  bool
	failureCount    int
	recoveryCount   int
	lastHealthCheck time.Time
	mu              sync.RWMutex

	healthTicker    *time.Ticker
	stopHealthCheck chan struct{}
	stopOnce        sync.Once

	metrics   *PerformanceMetrics
	metricsMu sync.RWMutex
}

// NewFallbackStore creates a new fallback store pair.
func NewFallbackStore(config *FallbackConfig) (*FallbackStore, error) {
	if config == nil {
		return nil, fmt.Errorf("fallback config is required")
	}

	if config.Primary == nil || config.Fallback == nil {
		return nil, fmt.Errorf("both primary and fallback store are required")
	}

	if config.HealthCheckInterval <= 0 {
		config.HealthCheckInterval = 30 * time.Second
	}
	if config.FailureThreshold <= 0 {
		config.FailureThreshold = 3
	}
	if config.RecoveryThreshold <= 0 {
		config.RecoveryThreshold = 3
	}

	fs := &FallbackStore{
		primary:         config.Primary,
		fallback:        config.Fallback,
		config:          config,
		primaryHealthy:  true,
		stopHealthCheck: make(chan struct{}),
		metrics: &PerformanceMetrics{
			LastOperation: time.Now(),
		},
	}

	fs.startHealthCheck()

	return fs, nil
}

func (fs *FallbackStore) startHealthCheck() {
	fs.healthTicker = time.NewTicker(fs.config.HealthCheckInterval)

	go func() {
		for {
			select {
			case <-fs.healthTicker.C:
				fs.checkHealth()
			case <-fs.stopHealthCheck:
				fs.healthTicker.Stop()
				return
			}
		}
	}()
}

func (fs *FallbackStore) checkHealth() {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	err := fs.primary.Ping(ctx)

	fs.mu.Lock()
	defer fs.mu.Unlock()

	fs.lastHealthCheck = time.Now()

	if err != nil {
		fs.failureCount++
		fs.recoveryCount = 0

		if fs.primaryHealthy && fs.failureCount >= fs.config.FailureThreshold {
			fs.primaryHealthy = false
			if fs.config.EnableLogging {
				log.Printf("[FALLBACK_STORE] primary marked unhealthy after %d failures", fs.failureCount)
			}
		}
	} else {
		fs.failureCount = 0
		fs.recoveryCount++

		if !fs.primaryHealthy && fs.recoveryCount >= fs.config.RecoveryThreshold {
			fs.primaryHealthy = true
			if fs.config.EnableLogging {
				log.Printf("[FALLBACK_STORE] primary recovered after %d successful checks", fs.recoveryCount)
			}
		}
	}
}

func (fs *FallbackStore) getStore() CounterStore {
	fs.mu.RLock()
	defer fs.mu.RUnlock()

	if fs.primaryHealthy {
		return fs.primary
	}
	return fs.fallback
}

func (fs *FallbackStore) recordOperation(success bool, duration time.Duration) {
	fs.metricsMu.Lock()
	defer fs.metricsMu.Unlock()

	fs.metrics.TotalOperations++
	if success {
		fs.metrics.SuccessfulOps++
	} else {
		fs.metrics.FailedOps++
	}

	if fs.metrics.TotalOperations == 1 {
		fs.metrics.AvgLatency = duration
	} else {
		fs.metrics.AvgLatency = (fs.metrics.AvgLatency + duration) / 2
	}
	fs.metrics.LastOperation = time.Now()
}

// CounterStore implementation, delegating to the active store.

func (fs *FallbackStore) Increment(ctx context.Context, key string, ttl time.Duration) (int64, error) {
	start := time.Now()
	count, err := fs.getStore().Increment(ctx, key, ttl)
	fs.recordOperation(err == nil, time.Since(start))
	return count, err
}

func (fs *FallbackStore) WindowIncrement(ctx context.Context, key string, windowID int64, ttl time.Duration) (int64, error) {
	start := time.Now()
	count, err := fs.getStore().WindowIncrement(ctx, key, windowID, ttl)
	fs.recordOperation(err == nil, time.Since(start))
	return count, err
}

func (fs *FallbackStore) AddRequest(ctx context.Context, key string, timestamp time.Time, window time.Duration) error {
	start := time.Now()
	err := fs.getStore().AddRequest(ctx, key, timestamp, window)
	fs.recordOperation(err == nil, time.Since(start))
	return err
}

func (fs *FallbackStore) CountRequests(ctx context.Context, key string, window time.Duration) (int, error) {
	start := time.Now()
	count, err := fs.getStore().CountRequests(ctx, key, window)
	fs.recordOperation(err == nil, time.Since(start))
	return count, err
}

func (fs *FallbackStore) TrimWindow(ctx context.Context, key string, window time.Duration) error {
	start := time.Now()
	err := fs.getStore().TrimWindow(ctx, key, window)
	fs.recordOperation(err == nil, time.Since(start))
	return err
}

func (fs *FallbackStore) SetMarker(ctx context.Context, key, value string, ttl time.Duration) error {
	start := time.Now()
	err := fs.getStore().SetMarker(ctx, key, value, ttl)
	fs.recordOperation(err == nil, time.Since(start))
	return err
}

func (fs *FallbackStore) GetMarker(ctx context.Context, key string) (string, time.Duration, error) {
	start := time.Now()
	value, remaining, err := fs.getStore().GetMarker(ctx, key)
	fs.recordOperation(err == nil || err == ErrKeyNotFound, time.Since(start))
	return value, remaining, err
}

func (fs *FallbackStore) PushEvent(ctx context.Context, key string, payload []byte, maxLen int64, ttl time.Duration) error {
	start := time.Now()
	err := fs.getStore().PushEvent(ctx, key, payload, maxLen, ttl)
	fs.recordOperation(err == nil, time.Since(start))
	return err
}

func (fs *FallbackStore) RecentEvents(ctx context.Context, key string, limit int64) ([][]byte, error) {
	start := time.Now()
	events, err := fs.getStore().RecentEvents(ctx, key, limit)
	fs.recordOperation(err == nil, time.Since(start))
	return events, err
}

func (fs *FallbackStore) Exists(ctx context.Context, key string) (bool, error) {
	start := time.Now()
	exists, err := fs.getStore().Exists(ctx, key)
	fs.recordOperation(err == nil, time.Since(start))
	return exists, err
}

func (fs *FallbackStore) Delete(ctx context.Context, key string) error {
	start := time.Now()
	err := fs.getStore().Delete(ctx, key)
	fs.recordOperation(err == nil, time.Since(start))
	return err
}

func (fs *FallbackStore) ListKeys(ctx context.Context, pattern string) ([]string, error) {
	start := time.Now()
	keys, err := fs.getStore().ListKeys(ctx, pattern)
	fs.recordOperation(err == nil, time.Since(start))
	return keys, err
}

func (fs *FallbackStore) Ping(ctx context.Context) error {
	return fs.getStore().Ping(ctx)
}

func (fs *FallbackStore) Close() error {
	fs.stopOnce.Do(func() { close(fs.stopHealthCheck) })

	var errs []error
	if err := fs.primary.Close(); err != nil {
		errs = append(errs, fmt.Errorf("primary store close error: %w", err))
	}
	if err := fs.fallback.Close(); err != nil {
		errs = append(errs, fmt.Errorf("fallback store close error: %w", err))
	}

	if len(errs) > 0 {
		return fmt.Errorf("close errors: %v", errs)
	}
	return nil
}

func (fs *FallbackStore) Type() StoreType {
	return FallbackStoreType
}

func (fs *FallbackStore) Info() StoreInfo {
	fs.mu.RLock()
	primaryHealthy := fs.primaryHealthy
	failureCount := fs.failureCount
	recoveryCount := fs.recoveryCount
	lastHealthCheck := fs.lastHealthCheck
	fs.mu.RUnlock()

	fs.metricsMu.RLock()
	metrics := *fs.metrics
	fs.metricsMu.RUnlock()

	activeStore := "primary"
	if !primaryHealthy {
		activeStore = "fallback"
	}

	return StoreInfo{
		Type:      FallbackStoreType,
		Status:    "healthy",
		Connected: true,
		Metadata: map[string]interface{}{
			"active_store":      activeStore,
			"primary_healthy":   primaryHealthy,
			"failure_count":     failureCount,
			"recovery_count":    recoveryCount,
			"last_health_check": lastHealthCheck,
			"primary_type":      fs.primary.Type(),
			"fallback_type":     fs.fallback.Type(),
		},
		Performance: &metrics,
	}
}
