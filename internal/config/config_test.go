package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"gatekeeper/internal/common/errors"
)

var managedEnvVars = []string{
	"PORT", "ENVIRONMENT", "LOG_LEVEL", "LOG_FILE", "UPSTREAM_URL", "JWT_SECRET",
	"REDIS_ADDRESS", "REDIS_PASSWORD", "REDIS_DB", "REDIS_POOL_SIZE", "REDIS_TIMEOUT",
	"REQUESTS_PER_MINUTE", "BURST_SIZE", "BLOCK_DURATION_SECONDS", "BURST_BLOCK_SECONDS",
	"DEV_MULTIPLIER", "DEV_BLOCK_DURATION_SECONDS", "AUTH_BLOCK_GRACE_SECONDS",
	"EXCLUDED_PATHS", "READ_ONLY_EXEMPT_PREFIXES", "READ_ONLY_HISTORY_TAIL", "IMPORTANT_PATHS",
	"AI_REQUESTS_PER_MINUTE", "AI_REQUESTS_PER_HOUR", "AI_BLOCK_DURATION_SECONDS", "METERED_PATH_PREFIXES",
	"PLAN_DAILY_UNIT_LIMITS", "DEFAULT_PLAN", "MONTHLY_UNIT_BUDGET", "MONTHLY_COST_BUDGET",
	"MODEL_UNIT_COSTS", "DEFAULT_MODEL", "UNIT_SCALE", "CHARS_PER_UNIT", "UNIT_OVERHEAD_PERCENT",
	"MIN_UNITS", "MONTHLY_AGGREGATE_TTL", "TIMEZONE",
	"LEDGER_DRIVER", "LEDGER_DSN", "LEDGER_RETENTION_DAYS", "LEDGER_PRUNE_SCHEDULE",
}

// clearTestEnvVars blanks every variable Load reads; t.Setenv restores them
func clearTestEnvVars(t *testing.T) {
	t.Helper()
	for _, key := range managedEnvVars {
		t.Setenv(key, "")
	}
}

func TestLoad_Defaults(t *testing.T) {
	clearTestEnvVars(t)

	cfg := Load()
	require.NoError(t, cfg.Validate())

	assert.Equal(t, 8080, cfg.Port)
	assert.Equal(t, EnvProduction, cfg.Environment)
	assert.False(t, cfg.IsDevelopment())
	assert.Empty(t, cfg.RedisAddress)
	assert.Equal(t, 100*time.Millisecond, cfg.RedisTimeout)

	assert.Equal(t, 60, cfg.RequestsPerMinute)
	assert.Equal(t, 10, cfg.BurstSize)
	assert.Equal(t, 300, cfg.BlockDurationSeconds)
	assert.Equal(t, 10, cfg.AIRequestsPerMinute)
	assert.Equal(t, 100, cfg.AIRequestsPerHour)
	assert.Greater(t, cfg.AIBlockDurationSeconds, cfg.BlockDurationSeconds)
	assert.Contains(t, cfg.ExcludedPaths, "/health")
	assert.Equal(t, []string{"/api/ai/"}, cfg.MeteredPathPrefixes)

	assert.Equal(t, int64(50000), cfg.PlanDailyUnitLimits["free"])
	assert.Equal(t, UnlimitedUnits, cfg.PlanDailyUnitLimits["enterprise"])
	assert.Equal(t, []string{"enterprise", "free", "pro"}, cfg.Plans())
	assert.InDelta(t, 0.00015, cfg.ModelUnitCosts["gpt-4o-mini"], 1e-12)
	assert.Equal(t, "sqlite", cfg.LedgerDriver)
	assert.Equal(t, time.Local, cfg.Location())
}

func TestLoad_Overrides(t *testing.T) {
	clearTestEnvVars(t)
	t.Setenv("ENVIRONMENT", "Development")
	t.Setenv("REQUESTS_PER_MINUTE", "120")
	t.Setenv("EXCLUDED_PATHS", " /health , ,/status ")
	t.Setenv("PLAN_DAILY_UNIT_LIMITS", "basic=1000, team=unlimited")
	t.Setenv("DEFAULT_PLAN", "basic")
	t.Setenv("REDIS_ADDRESS", "redis:6379")
	t.Setenv("REDIS_TIMEOUT", "250ms")
	t.Setenv("TIMEZONE", "UTC")
	t.Setenv("LEDGER_DRIVER", "memory")
	t.Setenv("LEDGER_DSN", "")

	cfg := Load()
	require.NoError(t, cfg.Validate())

	assert.True(t, cfg.IsDevelopment())
	assert.Equal(t, 120, cfg.RequestsPerMinute)
	assert.Equal(t, []string{"/health", "/status"}, cfg.ExcludedPaths)
	assert.Equal(t, map[string]int64{"basic": 1000, "team": UnlimitedUnits}, cfg.PlanDailyUnitLimits)
	assert.Equal(t, 250*time.Millisecond, cfg.RedisTimeout)
	assert.Equal(t, time.UTC, cfg.Location())
}

func TestLoad_PlanNamesAreCaseInsensitive(t *testing.T) {
	clearTestEnvVars(t)
	t.Setenv("PLAN_DAILY_UNIT_LIMITS", "Pro=500000, FREE=100")
	t.Setenv("DEFAULT_PLAN", "Free")

	cfg := Load()
	require.NoError(t, cfg.Validate())

	assert.Equal(t, map[string]int64{"pro": 500000, "free": 100}, cfg.PlanDailyUnitLimits)
	assert.Equal(t, "free", cfg.DefaultPlan)
	assert.Equal(t, []string{"free", "pro"}, cfg.Plans())
}

func TestValidate_Errors(t *testing.T) {
	tests := []struct {
		name     string
		env      map[string]string
		contains string
	}{
		{"unparseable integer", map[string]string{"BURST_SIZE": "ten"}, "BURST_SIZE"},
		{"unparseable duration", map[string]string{"REDIS_TIMEOUT": "fast"}, "REDIS_TIMEOUT"},
		{"zero limit", map[string]string{"REQUESTS_PER_MINUTE": "0"}, "REQUESTS_PER_MINUTE"},
		{"unknown environment", map[string]string{"ENVIRONMENT": "staging"}, "ENVIRONMENT"},
		{"short jwt secret", map[string]string{"JWT_SECRET": "short"}, "JWT_SECRET"},
		{"relative excluded path", map[string]string{"EXCLUDED_PATHS": "health"}, "EXCLUDED_PATHS"},
		{"bad plan pair", map[string]string{"PLAN_DAILY_UNIT_LIMITS": "free:100"}, "PLAN_DAILY_UNIT_LIMITS"},
		{"default plan missing", map[string]string{"DEFAULT_PLAN": "gold"}, "DEFAULT_PLAN"},
		{"default model missing", map[string]string{"DEFAULT_MODEL": "claude"}, "DEFAULT_MODEL"},
		{"bad cron", map[string]string{"LEDGER_PRUNE_SCHEDULE": "nightly"}, "LEDGER_PRUNE_SCHEDULE"},
		{"unknown driver", map[string]string{"LEDGER_DRIVER": "mongo"}, "LEDGER_DRIVER"},
		{"unknown timezone", map[string]string{"TIMEZONE": "Mars/Olympus"}, "TIMEZONE"},
		{"bad redis address", map[string]string{"REDIS_ADDRESS": "not an address"}, "REDIS_ADDRESS"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			clearTestEnvVars(t)
			for k, v := range tt.env {
				t.Setenv(k, v)
			}

			err := Load().Validate()
			require.Error(t, err)
			assert.True(t, errors.IsType(err, errors.ErrTypeConfig), "want config error, got %v", err)
			assert.Contains(t, err.Error(), tt.contains)
		})
	}
}
