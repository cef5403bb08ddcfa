package storage

import (
	"context"
	"strings"
	"sync"
	"time"
)

// MemoryConfig configuration for memory storage.
type MemoryConfig struct {
	MaxKeys         int           `json:"max_keys"`
	CleanupInterval time.Duration `json:"cleanup_interval"`
	EnableMetrics   bool          `json:"enable_metrics"`
}

// memoryEntry holds one key's state. Which fields are populated depends on
// how the key is used (counter, window counter, marker, sorted set, list).
type memoryEntry struct {
	counter    int64
	windowID   int64
	marker     string
	hasMarker  bool
	requests   []int64 // unix-nano timestamps, ascending
	list       [][]byte
	expiresAt  time.Time // zero means no TTL
	lastAccess time.Time
	created    time.Time
}

func (e *memoryEntry) expired(now time.Time) bool {
	return !e.expiresAt.IsZero() && now.After(e.expiresAt)
}

// MemoryStore implements CounterStore with a process-local map. It is NOT
// shared across instances; under fallback this makes rate limits
// per-instance, an accepted degradation.
type MemoryStore struct {
	data      map[string]*memoryEntry
	mu        sync.RWMutex
	config    *MemoryConfig
	metrics   *PerformanceMetrics
	metricsMu sync.RWMutex
	stopChan  chan struct{}
	stopOnce  sync.Once
	closed    bool
}

// NewMemoryStore creates a new memory store instance.
func NewMemoryStore(config *MemoryConfig) *MemoryStore {
	if config == nil {
		config = &MemoryConfig{}
	}
	if config.MaxKeys == 0 {
		config.MaxKeys = 10000
	}
	if config.CleanupInterval == 0 {
		config.CleanupInterval = 5 * time.Minute
	}

	m := &MemoryStore{
		data:     make(map[string]*memoryEntry),
		config:   config,
		stopChan: make(chan struct{}),
		metrics: &PerformanceMetrics{
			LastOperation: time.Now(),
		},
	}

	go m.cleanupRoutine()

	return m
}

func (m *MemoryStore) recordOperation(success bool, duration time.Duration) {
	if !m.config.EnableMetrics {
		return
	}

	m.metricsMu.Lock()
	defer m.metricsMu.Unlock()

	m.metrics.TotalOperations++
	if success {
		m.metrics.SuccessfulOps++
	} else {
		m.metrics.FailedOps++
	}

	if m.metrics.TotalOperations == 1 {
		m.metrics.AvgLatency = duration
	} else {
		m.metrics.AvgLatency = (m.metrics.AvgLatency + duration) / 2
	}
	m.metrics.LastOperation = time.Now()
}

// entryLocked returns the live entry for key, discarding it if expired.
// Must be called with the write lock held.
func (m *MemoryStore) entryLocked(key string, now time.Time) (*memoryEntry, bool) {
	entry, exists := m.data[key]
	if !exists {
		return nil, false
	}
	if entry.expired(now) {
		delete(m.data, key)
		return nil, false
	}
	return entry, true
}

// createLocked allocates an entry for key, evicting the least recently used
// one when the key cap is reached. Must be called with the write lock held.
func (m *MemoryStore) createLocked(key string, now time.Time) *memoryEntry {
	if len(m.data) >= m.config.MaxKeys {
		m.removeOldestLocked()
	}
	entry := &memoryEntry{created: now, lastAccess: now}
	m.data[key] = entry
	return entry
}

func (m *MemoryStore) removeOldestLocked() {
	var oldestKey string
	oldestTime := time.Now()

	for key, entry := range m.data {
		if entry.lastAccess.Before(oldestTime) {
			oldestTime = entry.lastAccess
			oldestKey = key
		}
	}
	if oldestKey != "" {
		delete(m.data, oldestKey)
	}
}

func (m *MemoryStore) Increment(ctx context.Context, key string, ttl time.Duration) (int64, error) {
	start := time.Now()
	defer func() { m.recordOperation(!m.closed, time.Since(start)) }()

	if m.closed {
		return 0, ErrStoreUnavailable
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	now := time.Now()
	entry, ok := m.entryLocked(key, now)
	if !ok {
		entry = m.createLocked(key, now)
		if ttl > 0 {
			entry.expiresAt = now.Add(ttl)
		}
	}

	entry.counter++
	entry.lastAccess = now
	return entry.counter, nil
}

func (m *MemoryStore) WindowIncrement(ctx context.Context, key string, windowID int64, ttl time.Duration) (int64, error) {
	start := time.Now()
	defer func() { m.recordOperation(!m.closed, time.Since(start)) }()

	if m.closed {
		return 0, ErrStoreUnavailable
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	now := time.Now()
	entry, ok := m.entryLocked(key, now)
	if !ok {
		entry = m.createLocked(key, now)
		entry.windowID = windowID
	}

	// New window: reset counter before incrementing.
	if entry.windowID != windowID {
		entry.windowID = windowID
		entry.counter = 0
	}

	entry.counter++
	entry.lastAccess = now
	if ttl > 0 {
		entry.expiresAt = now.Add(ttl)
	}
	return entry.counter, nil
}

func (m *MemoryStore) AddRequest(ctx context.Context, key string, timestamp time.Time, window time.Duration) error {
	start := time.Now()
	defer func() { m.recordOperation(!m.closed, time.Since(start)) }()

	if m.closed {
		return ErrStoreUnavailable
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	now := time.Now()
	entry, ok := m.entryLocked(key, now)
	if !ok {
		entry = m.createLocked(key, now)
	}

	windowStart := now.Add(-window).UnixNano()
	valid := entry.requests[:0]
	for _, ts := range entry.requests {
		if ts > windowStart {
			valid = append(valid, ts)
		}
	}
	entry.requests = append(valid, timestamp.UnixNano())
	entry.lastAccess = now
	entry.expiresAt = now.Add(window * 2)
	return nil
}

func (m *MemoryStore) CountRequests(ctx context.Context, key string, window time.Duration) (int, error) {
	start := time.Now()
	defer func() { m.recordOperation(!m.closed, time.Since(start)) }()

	if m.closed {
		return 0, ErrStoreUnavailable
	}

	m.mu.RLock()
	defer m.mu.RUnlock()

	entry, exists := m.data[key]
	if !exists || entry.expired(time.Now()) {
		return 0, nil
	}

	windowStart := time.Now().Add(-window).UnixNano()
	count := 0
	for _, ts := range entry.requests {
		if ts > windowStart {
			count++
		}
	}
	return count, nil
}

func (m *MemoryStore) TrimWindow(ctx context.Context, key string, window time.Duration) error {
	start := time.Now()
	defer func() { m.recordOperation(!m.closed, time.Since(start)) }()

	if m.closed {
		return ErrStoreUnavailable
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	now := time.Now()
	entry, ok := m.entryLocked(key, now)
	if !ok {
		return nil
	}

	windowStart := now.Add(-window).UnixNano()
	valid := entry.requests[:0]
	for _, ts := range entry.requests {
		if ts > windowStart {
			valid = append(valid, ts)
		}
	}
	entry.requests = valid
	return nil
}

func (m *MemoryStore) SetMarker(ctx context.Context, key, value string, ttl time.Duration) error {
	start := time.Now()
	defer func() { m.recordOperation(!m.closed, time.Since(start)) }()

	if m.closed {
		return ErrStoreUnavailable
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	now := time.Now()
	entry, ok := m.entryLocked(key, now)
	if !ok {
		entry = m.createLocked(key, now)
	}

	entry.marker = value
	entry.hasMarker = true
	entry.lastAccess = now
	if ttl > 0 {
		entry.expiresAt = now.Add(ttl)
	}
	return nil
}

func (m *MemoryStore) GetMarker(ctx context.Context, key string) (string, time.Duration, error) {
	start := time.Now()
	defer func() { m.recordOperation(!m.closed, time.Since(start)) }()

	if m.closed {
		return "", 0, ErrStoreUnavailable
	}

	m.mu.RLock()
	defer m.mu.RUnlock()

	now := time.Now()
	entry, exists := m.data[key]
	if !exists || entry.expired(now) || !entry.hasMarker {
		return "", 0, ErrKeyNotFound
	}

	var remaining time.Duration
	if !entry.expiresAt.IsZero() {
		remaining = entry.expiresAt.Sub(now)
	}
	return entry.marker, remaining, nil
}

func (m *MemoryStore) PushEvent(ctx context.Context, key string, payload []byte, maxLen int64, ttl time.Duration) error {
	start := time.Now()
	defer func() { m.recordOperation(!m.closed, time.Since(start)) }()

	if m.closed {
		return ErrStoreUnavailable
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	now := time.Now()
	entry, ok := m.entryLocked(key, now)
	if !ok {
		entry = m.createLocked(key, now)
	}

	entry.list = append(entry.list, payload)
	if maxLen > 0 && int64(len(entry.list)) > maxLen {
		entry.list = entry.list[int64(len(entry.list))-maxLen:]
	}
	entry.lastAccess = now
	if ttl > 0 {
		entry.expiresAt = now.Add(ttl)
	}
	return nil
}

func (m *MemoryStore) RecentEvents(ctx context.Context, key string, limit int64) ([][]byte, error) {
	start := time.Now()
	defer func() { m.recordOperation(!m.closed, time.Since(start)) }()

	if m.closed {
		return nil, ErrStoreUnavailable
	}

	m.mu.RLock()
	defer m.mu.RUnlock()

	entry, exists := m.data[key]
	if !exists || entry.expired(time.Now()) {
		return nil, nil
	}

	list := entry.list
	if limit > 0 && int64(len(list)) > limit {
		list = list[int64(len(list))-limit:]
	}

	out := make([][]byte, len(list))
	copy(out, list)
	return out, nil
}

func (m *MemoryStore) Exists(ctx context.Context, key string) (bool, error) {
	start := time.Now()
	defer func() { m.recordOperation(!m.closed, time.Since(start)) }()

	if m.closed {
		return false, ErrStoreUnavailable
	}

	m.mu.RLock()
	defer m.mu.RUnlock()

	entry, exists := m.data[key]
	return exists && !entry.expired(time.Now()), nil
}

func (m *MemoryStore) Delete(ctx context.Context, key string) error {
	start := time.Now()
	defer func() { m.recordOperation(!m.closed, time.Since(start)) }()

	if m.closed {
		return ErrStoreUnavailable
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.data, key)
	return nil
}

func (m *MemoryStore) ListKeys(ctx context.Context, pattern string) ([]string, error) {
	start := time.Now()
	defer func() { m.recordOperation(!m.closed, time.Since(start)) }()

	if m.closed {
		return nil, ErrStoreUnavailable
	}

	m.mu.RLock()
	defer m.mu.RUnlock()

	now := time.Now()
	var keys []string
	for key, entry := range m.data {
		if entry.expired(now) {
			continue
		}
		if pattern == "" || pattern == "*" || strings.HasPrefix(key, strings.TrimSuffix(pattern, "*")) {
			keys = append(keys, key)
		}
	}
	return keys, nil
}

func (m *MemoryStore) cleanupRoutine() {
	ticker := time.NewTicker(m.config.CleanupInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			m.cleanupExpired()
		case <-m.stopChan:
			return
		}
	}
}

func (m *MemoryStore) cleanupExpired() {
	m.mu.Lock()
	defer m.mu.Unlock()

	now := time.Now()
	for key, entry := range m.data {
		if entry.expired(now) {
			delete(m.data, key)
		}
	}
}

func (m *MemoryStore) Ping(ctx context.Context) error {
	if m.closed {
		return ErrStoreUnavailable
	}
	return nil
}

func (m *MemoryStore) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.stopOnce.Do(func() { close(m.stopChan) })
	m.closed = true
	m.data = make(map[string]*memoryEntry)
	return nil
}

func (m *MemoryStore) Type() StoreType {
	return MemoryStoreType
}

func (m *MemoryStore) Info() StoreInfo {
	m.mu.RLock()
	keyCount := len(m.data)
	m.mu.RUnlock()

	m.metricsMu.RLock()
	metrics := *m.metrics
	m.metricsMu.RUnlock()

	return StoreInfo{
		Type:      MemoryStoreType,
		Status:    "healthy",
		Connected: !m.closed,
		Metadata: map[string]interface{}{
			"key_count": keyCount,
			"max_keys":  m.config.MaxKeys,
		},
		Performance: &metrics,
	}
}
