// config/config.go
// Purpose: YAML configuration for the security core. Load validates the
// whole tree at startup; a malformed rule or rule set is fatal, never
// silently skipped.

package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/carebot/secore/classifier"
	"github.com/carebot/secore/limiter"
	"github.com/carebot/secore/security"
	"github.com/carebot/secore/storage"
)

// Config is the root configuration.
type Config struct {
	Store     StoreConfig     `yaml:"store"`
	RateLimit RateLimitConfig `yaml:"rate_limit"`
	Abuse     AbuseConfig     `yaml:"abuse"`
	Security  SecurityConfig  `yaml:"security"`
	Logging   LoggingConfig   `yaml:"logging"`
}

// StoreConfig selects the storage backend.
type StoreConfig struct {
	Type            string `yaml:"type"` // memory | redis
	FallbackOnError bool   `yaml:"fallback_on_error"`

	Redis struct {
		Addr      string `yaml:"addr"`
		Password  string `yaml:"password"`
		DB        int    `yaml:"db"`
		KeyPrefix string `yaml:"key_prefix"`
		PoolSize  int    `yaml:"pool_size"`
	} `yaml:"redis"`

	Memory struct {
		MaxKeys         int           `yaml:"max_keys"`
		CleanupInterval time.Duration `yaml:"cleanup_interval"`
	} `yaml:"memory"`
}

// RuleConfig is one rate-limit rule in YAML form.
type RuleConfig struct {
	Algorithm      string `yaml:"algorithm"` // fixed-window | burst | sliding-window
	MaxRequests    int    `yaml:"max_requests"`
	WindowSeconds  int    `yaml:"window_seconds"`
	BurstAllowance int    `yaml:"burst_allowance"`
}

// RuleSetConfig binds rules to an (endpoint, client type) pair.
type RuleSetConfig struct {
	Endpoint   string       `yaml:"endpoint"`
	ClientType string       `yaml:"client_type"`
	Rules      []RuleConfig `yaml:"rules"`
}

// RateLimitConfig configures the rate-limit engine.
type RateLimitConfig struct {
	RequestTimeout time.Duration   `yaml:"request_timeout"`
	EnableLogging  bool            `yaml:"enable_logging"`
	RuleSets       []RuleSetConfig `yaml:"rule_sets"`

	// Global token-bucket guard in front of per-client limiting.
	// Zero disables it.
	GlobalRatePerSecond float64 `yaml:"global_rate_per_second"`
	GlobalBurst         int     `yaml:"global_burst"`
}

// AbuseConfig configures penalty escalation.
type AbuseConfig struct {
	Threshold       int           `yaml:"threshold"`
	CounterWindow   time.Duration `yaml:"counter_window"`
	PenaltyDuration time.Duration `yaml:"penalty_duration"`
}

// AlertRuleConfig is one alert rule in YAML form.
type AlertRuleConfig struct {
	ID           string        `yaml:"id"`
	Name         string        `yaml:"name"`
	EventPattern string        `yaml:"event_pattern"`
	Threshold    int           `yaml:"threshold"`
	TimeWindow   time.Duration `yaml:"time_window"`
	Level        string        `yaml:"level"`
	Channels     []string      `yaml:"channels"`
	Enabled      *bool         `yaml:"enabled"` // nil means enabled
}

// SecurityConfig configures event tracking and alerting.
type SecurityConfig struct {
	AuditPath          string        `yaml:"audit_path"`
	AuditRetentionDays int           `yaml:"audit_retention_days"`
	ChannelTimeout     time.Duration `yaml:"channel_timeout"`

	// AlertRules replaces the built-in defaults when non-empty.
	AlertRules []AlertRuleConfig `yaml:"alert_rules"`

	Email   security.EmailConfig   `yaml:"email"`
	Chat    security.ChatConfig    `yaml:"chat"`
	Webhook security.WebhookConfig `yaml:"webhook"`
}

// LoggingConfig configures the process log.
type LoggingConfig struct {
	Dir     string `yaml:"dir"`     // empty: console only
	Console bool   `yaml:"console"` // tee to stderr when file logging is on
}

// Default returns a config suitable for local development: memory store,
// built-in alert rules, log-only alerting.
func Default() *Config {
	c := &Config{}
	c.Store.Type = "memory"
	c.RateLimit.RequestTimeout = 5 * time.Second
	c.Abuse.Threshold = 5
	c.Abuse.CounterWindow = time.Hour
	c.Abuse.PenaltyDuration = 30 * time.Minute
	c.Logging.Console = true
	return c
}

// Load reads and validates a YAML config file.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config: %w", err)
	}

	config := Default()
	if err := yaml.Unmarshal(data, config); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}

	if err := config.Validate(); err != nil {
		return nil, err
	}
	return config, nil
}

// Validate rejects configurations the core cannot run with.
func (c *Config) Validate() error {
	switch c.Store.Type {
	case "", "memory", "redis":
	default:
		return fmt.Errorf("store.type: unknown backend %q", c.Store.Type)
	}
	if c.Store.Type == "redis" && c.Store.Redis.Addr == "" {
		return fmt.Errorf("store.redis.addr is required for the redis backend")
	}

	for i, set := range c.RateLimit.RuleSets {
		if set.Endpoint == "" {
			return fmt.Errorf("rate_limit.rule_sets[%d]: endpoint must not be empty", i)
		}
		if _, ok := classifier.ParseClientType(set.ClientType); !ok {
			return fmt.Errorf("rate_limit.rule_sets[%d]: unknown client_type %q", i, set.ClientType)
		}
		if len(set.Rules) == 0 {
			return fmt.Errorf("rate_limit.rule_sets[%d]: at least one rule required", i)
		}
		for j, rule := range set.Rules {
			if _, err := limiter.ParseAlgorithm(rule.Algorithm); err != nil {
				return fmt.Errorf("rate_limit.rule_sets[%d].rules[%d]: %w", i, j, err)
			}
			if rule.MaxRequests <= 0 {
				return fmt.Errorf("rate_limit.rule_sets[%d].rules[%d]: max_requests must be positive", i, j)
			}
			if rule.WindowSeconds <= 0 {
				return fmt.Errorf("rate_limit.rule_sets[%d].rules[%d]: window_seconds must be positive", i, j)
			}
		}
	}

	for i, rule := range c.Security.AlertRules {
		if _, err := rule.toRule(); err != nil {
			return fmt.Errorf("security.alert_rules[%d]: %w", i, err)
		}
	}

	return nil
}

// StorageConfig converts to the storage package's config.
func (c *Config) StorageConfig() *storage.Config {
	sc := &storage.Config{
		Type:            storage.StoreType(c.Store.Type),
		FallbackOnError: c.Store.FallbackOnError,
		Memory: &storage.MemoryConfig{
			MaxKeys:         c.Store.Memory.MaxKeys,
			CleanupInterval: c.Store.Memory.CleanupInterval,
			EnableMetrics:   true,
		},
	}
	if c.Store.Type == "" {
		sc.Type = storage.MemoryStoreType
	}
	if c.Store.Type == "redis" {
		sc.Redis = &storage.RedisConfig{
			Addr:      c.Store.Redis.Addr,
			Password:  c.Store.Redis.Password,
			DB:        c.Store.Redis.DB,
			KeyPrefix: c.Store.Redis.KeyPrefix,
			PoolSize:  c.Store.Redis.PoolSize,
		}
	}
	return sc
}

// Ruleset builds the limiter rule registry. Errors are startup-fatal for
// callers.
func (c *Config) Ruleset() (*limiter.Ruleset, error) {
	rs := limiter.NewRuleset()
	for _, set := range c.RateLimit.RuleSets {
		clientType, _ := classifier.ParseClientType(set.ClientType)
		for _, rule := range set.Rules {
			algorithm, err := limiter.ParseAlgorithm(rule.Algorithm)
			if err != nil {
				return nil, err
			}
			err = rs.Add(set.Endpoint, clientType, limiter.RateLimit{
				Algorithm:      algorithm,
				MaxRequests:    rule.MaxRequests,
				WindowSeconds:  rule.WindowSeconds,
				BurstAllowance: rule.BurstAllowance,
			})
			if err != nil {
				return nil, err
			}
		}
	}
	return rs, nil
}

// AlertRules builds the security rule set, falling back to the built-in
// defaults when none are configured.
func (c *Config) AlertRules() ([]security.Rule, error) {
	if len(c.Security.AlertRules) == 0 {
		return security.DefaultRules(), nil
	}

	rules := make([]security.Rule, 0, len(c.Security.AlertRules))
	for i, rc := range c.Security.AlertRules {
		rule, err := rc.toRule()
		if err != nil {
			return nil, fmt.Errorf("security.alert_rules[%d]: %w", i, err)
		}
		rules = append(rules, rule)
	}
	return rules, nil
}

func (rc *AlertRuleConfig) toRule() (security.Rule, error) {
	level, ok := security.ParseLevel(rc.Level)
	if !ok {
		return security.Rule{}, fmt.Errorf("unknown level %q", rc.Level)
	}

	channels := make([]security.Channel, 0, len(rc.Channels))
	for _, name := range rc.Channels {
		channels = append(channels, security.Channel(name))
	}

	rule := security.Rule{
		ID:           rc.ID,
		Name:         rc.Name,
		EventPattern: rc.EventPattern,
		Threshold:    rc.Threshold,
		TimeWindow:   rc.TimeWindow,
		Level:        level,
		Channels:     channels,
		Enabled:      rc.Enabled == nil || *rc.Enabled,
	}
	if err := rule.Validate(); err != nil {
		return security.Rule{}, err
	}
	return rule, nil
}
