package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/carebot/secore/classifier"
	"github.com/carebot/secore/security"
	"github.com/carebot/secore/storage"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "secore.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func TestLoad(t *testing.T) {
	path := writeConfig(t, `
store:
  type: redis
  fallback_on_error: true
  redis:
    addr: localhost:6379
    key_prefix: "carebot:"
rate_limit:
  request_timeout: 3s
  global_rate_per_second: 200
  rule_sets:
    - endpoint: /api/chat
      client_type: anonymous
      rules:
        - algorithm: sliding-window
          max_requests: 10
          window_seconds: 60
    - endpoint: default
      client_type: authenticated
      rules:
        - algorithm: fixed-window
          max_requests: 100
          window_seconds: 60
abuse:
  threshold: 3
  penalty_duration: 15m
security:
  audit_path: /var/lib/carebot/audit.db
  alert_rules:
    - id: login-storm
      name: Login Storm
      event_pattern: failed_login
      threshold: 10
      time_window: 5m
      level: critical
      channels: [log, email]
`)

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, "redis", cfg.Store.Type)
	assert.True(t, cfg.Store.FallbackOnError)
	assert.Equal(t, "localhost:6379", cfg.Store.Redis.Addr)
	assert.Equal(t, 3*time.Second, cfg.RateLimit.RequestTimeout)
	assert.Equal(t, float64(200), cfg.RateLimit.GlobalRatePerSecond)
	assert.Equal(t, 3, cfg.Abuse.Threshold)
	assert.Equal(t, 15*time.Minute, cfg.Abuse.PenaltyDuration)

	sc := cfg.StorageConfig()
	assert.Equal(t, storage.RedisStoreType, sc.Type)
	require.NotNil(t, sc.Redis)
	assert.Equal(t, "carebot:", sc.Redis.KeyPrefix)

	rules, err := cfg.Ruleset()
	require.NoError(t, err)
	matched := rules.Match("/api/chat", classifier.Anonymous)
	require.Len(t, matched, 1)
	assert.Equal(t, 10, matched[0].MaxRequests)

	alertRules, err := cfg.AlertRules()
	require.NoError(t, err)
	require.Len(t, alertRules, 1)
	assert.Equal(t, "login-storm", alertRules[0].ID)
	assert.Equal(t, security.LevelCritical, alertRules[0].Level)
	assert.True(t, alertRules[0].Enabled)
	assert.Equal(t, []security.Channel{security.ChannelLog, security.ChannelEmail}, alertRules[0].Channels)
}

func TestLoad_Defaults(t *testing.T) {
	cfg := Default()
	require.NoError(t, cfg.Validate())

	assert.Equal(t, "memory", cfg.Store.Type)
	assert.Equal(t, 5*time.Second, cfg.RateLimit.RequestTimeout)
	assert.Equal(t, 5, cfg.Abuse.Threshold)
	assert.Equal(t, 30*time.Minute, cfg.Abuse.PenaltyDuration)

	rules, err := cfg.AlertRules()
	require.NoError(t, err)
	assert.NotEmpty(t, rules, "defaults fall back to the built-in rule set")
}

func TestLoad_MissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "nope.yaml"))
	assert.Error(t, err)
}

func TestValidate_Errors(t *testing.T) {
	tests := []struct {
		name string
		yaml string
	}{
		{
			name: "unknown store backend",
			yaml: "store:\n  type: cassandra\n",
		},
		{
			name: "redis without addr",
			yaml: "store:\n  type: redis\n",
		},
		{
			name: "unknown client type",
			yaml: `
rate_limit:
  rule_sets:
    - endpoint: /x
      client_type: superuser
      rules:
        - {algorithm: fixed-window, max_requests: 1, window_seconds: 60}
`,
		},
		{
			name: "unknown algorithm",
			yaml: `
rate_limit:
  rule_sets:
    - endpoint: /x
      client_type: anonymous
      rules:
        - {algorithm: leaky-bucket, max_requests: 1, window_seconds: 60}
`,
		},
		{
			name: "non-positive max requests",
			yaml: `
rate_limit:
  rule_sets:
    - endpoint: /x
      client_type: anonymous
      rules:
        - {algorithm: fixed-window, max_requests: 0, window_seconds: 60}
`,
		},
		{
			name: "alert rule with unknown level",
			yaml: `
security:
  alert_rules:
    - {id: r, name: n, event_pattern: p, threshold: 1, time_window: 1m, level: loud}
`,
		},
		{
			name: "alert rule without threshold",
			yaml: `
security:
  alert_rules:
    - {id: r, name: n, event_pattern: p, threshold: 0, time_window: 1m, level: warning}
`,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Load(writeConfig(t, tt.yaml))
			assert.Error(t, err)
		})
	}
}

func TestAlertRules_ExplicitDisable(t *testing.T) {
	cfg, err := Load(writeConfig(t, `
security:
  alert_rules:
    - id: quiet
      name: Quiet Rule
      event_pattern: anything
      threshold: 1
      time_window: 1m
      level: info
      enabled: false
`))
	require.NoError(t, err)

	rules, err := cfg.AlertRules()
	require.NoError(t, err)
	require.Len(t, rules, 1)
	assert.False(t, rules[0].Enabled)
}
