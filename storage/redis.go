package storage

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
)

// RedisConfig configuration for Redis storage.
type RedisConfig struct {
	// Connection settings
	Addr         string        `json:"addr"`
	Password     string        `json:"password"`
	DB           int           `json:"db"`
	PoolSize     int           `json:"pool_size"`
	MinIdleConns int           `json:"min_idle_conns"`
	MaxRetries   int           `json:"max_retries"`
	DialTimeout  time.Duration `json:"dial_timeout"`
	ReadTimeout  time.Duration `json:"read_timeout"`
	WriteTimeout time.Duration `json:"write_timeout"`

	KeyPrefix string `json:"key_prefix"`

	// Advanced settings
	ExistingClient redis.UniversalClient `json:"-"`
	EnableMetrics  bool                  `json:"enable_metrics"`
}

// RedisStore implements CounterStore using Redis.
type RedisStore struct {
	client      redis.UniversalClient
	prefix      string
	ownedClient bool
	config      *RedisConfig
	metrics     *PerformanceMetrics
	metricsMu   sync.RWMutex
	closed      bool
}

// windowIncrScript increments the counter for one fixed window and returns
// the in-window count. Reset happens implicitly because each window gets its
// own key; the INCR/EXPIRE pair is evaluated atomically server-side so
// concurrent checks for the same client cannot double-reset or lose updates.
var windowIncrScript = redis.NewScript(`
	local key = KEYS[1] .. ":" .. ARGV[1]
	local expire_seconds = tonumber(ARGV[2])

	local count = redis.call('INCR', key)
	if count == 1 then
		redis.call('EXPIRE', key, expire_seconds)
	end

	local ttl = redis.call('TTL', key)
	if ttl == -1 then
		redis.call('EXPIRE', key, expire_seconds)
	end

	return count
`)

// NewRedisStore creates a new Redis store instance and verifies connectivity.
func NewRedisStore(config *RedisConfig) (*RedisStore, error) {
	if config == nil {
		return nil, fmt.Errorf("redis config is required")
	}

	var client redis.UniversalClient
	var ownedClient bool

	// Priority 1: use an existing client
	if config.ExistingClient != nil {
		client = config.ExistingClient
		ownedClient = false

		// Priority 2: create a new client from config
	} else if config.Addr != "" {
		client = redis.NewClient(&redis.Options{
			Addr:         config.Addr,
			Password:     config.Password,
			DB:           config.DB,
			PoolSize:     config.PoolSize,
			MinIdleConns: config.MinIdleConns,
			MaxRetries:   config.MaxRetries,
			DialTimeout:  config.DialTimeout,
			ReadTimeout:  config.ReadTimeout,
			WriteTimeout: config.WriteTimeout,
		})
		ownedClient = true

	} else {
		return nil, fmt.Errorf("no redis client configuration provided")
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := client.Ping(ctx).Err(); err != nil {
		if ownedClient {
			client.Close()
		}
		return nil, fmt.Errorf("failed to connect to redis: %w", err)
	}

	prefix := config.KeyPrefix
	if prefix == "" {
		prefix = "secore:"
	}

	return &RedisStore{
		client:      client,
		prefix:      prefix,
		ownedClient: ownedClient,
		config:      config,
		metrics: &PerformanceMetrics{
			LastOperation: time.Now(),
		},
	}, nil
}

// NewRedisStoreFromClient creates a Redis store from an existing client.
func NewRedisStoreFromClient(client redis.UniversalClient, keyPrefix string) *RedisStore {
	if keyPrefix == "" {
		keyPrefix = "secore:"
	}

	return &RedisStore{
		client:      client,
		prefix:      keyPrefix,
		ownedClient: false,
		config: &RedisConfig{
			KeyPrefix:     keyPrefix,
			EnableMetrics: true,
		},
		metrics: &PerformanceMetrics{
			LastOperation: time.Now(),
		},
	}
}

func (r *RedisStore) key(key string) string {
	return r.prefix + key
}

func (r *RedisStore) recordOperation(success bool, duration time.Duration) {
	if !r.config.EnableMetrics {
		return
	}

	r.metricsMu.Lock()
	defer r.metricsMu.Unlock()

	r.metrics.TotalOperations++
	if success {
		r.metrics.SuccessfulOps++
	} else {
		r.metrics.FailedOps++
	}

	if r.metrics.TotalOperations == 1 {
		r.metrics.AvgLatency = duration
	} else {
		r.metrics.AvgLatency = (r.metrics.AvgLatency + duration) / 2
	}
	r.metrics.LastOperation = time.Now()
}

func (r *RedisStore) Increment(ctx context.Context, key string, ttl time.Duration) (int64, error) {
	start := time.Now()

	if r.closed {
		return 0, ErrStoreUnavailable
	}

	redisKey := r.key(key)

	pipe := r.client.Pipeline()
	incr := pipe.Incr(ctx, redisKey)
	if ttl > 0 {
		pipe.Expire(ctx, redisKey, ttl)
	}

	_, err := pipe.Exec(ctx)
	r.recordOperation(err == nil, time.Since(start))
	if err != nil {
		return 0, err
	}

	return incr.Val(), nil
}

func (r *RedisStore) WindowIncrement(ctx context.Context, key string, windowID int64, ttl time.Duration) (int64, error) {
	start := time.Now()

	if r.closed {
		return 0, ErrStoreUnavailable
	}

	expireSeconds := int64(ttl.Seconds())
	if expireSeconds <= 0 {
		expireSeconds = 60
	}

	count, err := windowIncrScript.Run(ctx, r.client,
		[]string{r.key(key)}, windowID, expireSeconds).Int64()
	r.recordOperation(err == nil, time.Since(start))
	if err != nil {
		return 0, err
	}

	return count, nil
}

func (r *RedisStore) AddRequest(ctx context.Context, key string, timestamp time.Time, window time.Duration) error {
	start := time.Now()

	if r.closed {
		return ErrStoreUnavailable
	}

	redisKey := r.key(key)
	windowStart := timestamp.Add(-window)

	pipe := r.client.Pipeline()
	pipe.ZAdd(ctx, redisKey, redis.Z{
		Score:  float64(timestamp.UnixNano()),
		Member: timestamp.UnixNano(),
	})
	pipe.ZRemRangeByScore(ctx, redisKey, "0", fmt.Sprintf("(%d", windowStart.UnixNano()))
	pipe.Expire(ctx, redisKey, window*2)

	_, err := pipe.Exec(ctx)
	r.recordOperation(err == nil, time.Since(start))
	return err
}

func (r *RedisStore) CountRequests(ctx context.Context, key string, window time.Duration) (int, error) {
	start := time.Now()

	if r.closed {
		return 0, ErrStoreUnavailable
	}

	now := time.Now()
	windowStart := now.Add(-window)

	count, err := r.client.ZCount(ctx, r.key(key),
		fmt.Sprintf("%d", windowStart.UnixNano()),
		fmt.Sprintf("%d", now.UnixNano())).Result()
	r.recordOperation(err == nil, time.Since(start))
	if err != nil {
		return 0, err
	}

	return int(count), nil
}

func (r *RedisStore) TrimWindow(ctx context.Context, key string, window time.Duration) error {
	start := time.Now()

	if r.closed {
		return ErrStoreUnavailable
	}

	windowStart := time.Now().Add(-window)

	_, err := r.client.ZRemRangeByScore(ctx, r.key(key), "0",
		fmt.Sprintf("(%d", windowStart.UnixNano())).Result()
	r.recordOperation(err == nil, time.Since(start))
	return err
}

func (r *RedisStore) SetMarker(ctx context.Context, key, value string, ttl time.Duration) error {
	start := time.Now()

	if r.closed {
		return ErrStoreUnavailable
	}

	err := r.client.Set(ctx, r.key(key), value, ttl).Err()
	r.recordOperation(err == nil, time.Since(start))
	return err
}

func (r *RedisStore) GetMarker(ctx context.Context, key string) (string, time.Duration, error) {
	start := time.Now()

	if r.closed {
		return "", 0, ErrStoreUnavailable
	}

	redisKey := r.key(key)

	pipe := r.client.Pipeline()
	get := pipe.Get(ctx, redisKey)
	ttl := pipe.TTL(ctx, redisKey)

	_, err := pipe.Exec(ctx)
	if err == redis.Nil {
		r.recordOperation(true, time.Since(start))
		return "", 0, ErrKeyNotFound
	}
	r.recordOperation(err == nil, time.Since(start))
	if err != nil {
		return "", 0, err
	}

	remaining := ttl.Val()
	if remaining < 0 {
		remaining = 0
	}
	return get.Val(), remaining, nil
}

func (r *RedisStore) PushEvent(ctx context.Context, key string, payload []byte, maxLen int64, ttl time.Duration) error {
	start := time.Now()

	if r.closed {
		return ErrStoreUnavailable
	}

	redisKey := r.key(key)

	pipe := r.client.Pipeline()
	pipe.RPush(ctx, redisKey, payload)
	if maxLen > 0 {
		pipe.LTrim(ctx, redisKey, -maxLen, -1)
	}
	if ttl > 0 {
		pipe.Expire(ctx, redisKey, ttl)
	}

	_, err := pipe.Exec(ctx)
	r.recordOperation(err == nil, time.Since(start))
	return err
}

func (r *RedisStore) RecentEvents(ctx context.Context, key string, limit int64) ([][]byte, error) {
	start := time.Now()

	if r.closed {
		return nil, ErrStoreUnavailable
	}

	begin := int64(0)
	if limit > 0 {
		begin = -limit
	}

	values, err := r.client.LRange(ctx, r.key(key), begin, -1).Result()
	r.recordOperation(err == nil, time.Since(start))
	if err != nil {
		return nil, err
	}

	out := make([][]byte, len(values))
	for i, v := range values {
		out[i] = []byte(v)
	}
	return out, nil
}

func (r *RedisStore) Exists(ctx context.Context, key string) (bool, error) {
	start := time.Now()

	if r.closed {
		return false, ErrStoreUnavailable
	}

	result, err := r.client.Exists(ctx, r.key(key)).Result()
	r.recordOperation(err == nil, time.Since(start))
	if err != nil {
		return false, err
	}
	return result > 0, nil
}

func (r *RedisStore) Delete(ctx context.Context, key string) error {
	start := time.Now()

	if r.closed {
		return ErrStoreUnavailable
	}

	err := r.client.Del(ctx, r.key(key)).Err()
	r.recordOperation(err == nil, time.Since(start))
	return err
}

func (r *RedisStore) ListKeys(ctx context.Context, pattern string) ([]string, error) {
	start := time.Now()

	if r.closed {
		return nil, ErrStoreUnavailable
	}

	searchPattern := r.key(pattern)
	if !strings.Contains(searchPattern, "*") {
		searchPattern += "*"
	}

	keys, err := r.client.Keys(ctx, searchPattern).Result()
	r.recordOperation(err == nil, time.Since(start))
	if err != nil {
		return nil, err
	}

	result := make([]string, len(keys))
	for i, key := range keys {
		result[i] = strings.TrimPrefix(key, r.prefix)
	}
	return result, nil
}

func (r *RedisStore) Ping(ctx context.Context) error {
	start := time.Now()

	if r.closed {
		return ErrStoreUnavailable
	}

	err := r.client.Ping(ctx).Err()
	r.recordOperation(err == nil, time.Since(start))
	return err
}

func (r *RedisStore) Close() error {
	r.closed = true
	if r.ownedClient && r.client != nil {
		return r.client.Close()
	}
	return nil
}

func (r *RedisStore) Type() StoreType {
	return RedisStoreType
}

func (r *RedisStore) Info() StoreInfo {
	r.metricsMu.RLock()
	metrics := *r.metrics
	r.metricsMu.RUnlock()

	status := "healthy"
	connected := !r.closed
	lastError := ""

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()

	if err := r.client.Ping(ctx).Err(); err != nil {
		status = "unhealthy"
		connected = false
		lastError = err.Error()
	}

	return StoreInfo{
		Type:      RedisStoreType,
		Status:    status,
		Connected: connected,
		LastError: lastError,
		Metadata: map[string]interface{}{
			"key_prefix":   r.prefix,
			"owned_client": r.ownedClient,
		},
		Performance: &metrics,
	}
}
