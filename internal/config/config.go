// Package config loads the gateway configuration from environment variables.
//
// Configuration is resolved once at startup into an immutable Config value and
// validated before any component is built; a malformed value is a fatal
// configuration error, never a per-request failure.
//
// Environment Variables:
//
// Application:
//   - PORT: listen port (default: 8080)
//   - ENVIRONMENT: "production" or "development" (default: production)
//   - LOG_LEVEL: debug, info, warn, error (default: info)
//   - LOG_FILE: log file path, stdout when empty
//   - UPSTREAM_URL: application the gateway proxies admitted requests to
//   - JWT_SECRET: HS256 secret used to verify caller tokens (32+ characters when set)
//
// Redis (distributed counter backend, optional):
//   - REDIS_ADDRESS: host:port, empty disables the distributed backend
//   - REDIS_PASSWORD, REDIS_DB (0-15, default 0), REDIS_POOL_SIZE (default 10)
//   - REDIS_TIMEOUT: per-call timeout (default: 100ms)
//
// General limiter:
//   - REQUESTS_PER_MINUTE (60), BURST_SIZE (10)
//   - BLOCK_DURATION_SECONDS (300), BURST_BLOCK_SECONDS (60)
//   - DEV_MULTIPLIER (10), DEV_BLOCK_DURATION_SECONDS (10)
//   - AUTH_BLOCK_GRACE_SECONDS (30)
//   - EXCLUDED_PATHS, READ_ONLY_EXEMPT_PREFIXES, READ_ONLY_HISTORY_TAIL (10), IMPORTANT_PATHS
//
// Metered limiter:
//   - AI_REQUESTS_PER_MINUTE (10), AI_REQUESTS_PER_HOUR (100)
//   - AI_BLOCK_DURATION_SECONDS (900), METERED_PATH_PREFIXES (/api/ai/)
//
// Budgets and pricing:
//   - PLAN_DAILY_UNIT_LIMITS ("free=50000,pro=500000,enterprise=unlimited"), DEFAULT_PLAN (free)
//   - MONTHLY_UNIT_BUDGET (50000000), MONTHLY_COST_BUDGET (500)
//   - MODEL_UNIT_COSTS ("gpt-4o=0.005,gpt-4o-mini=0.00015"), DEFAULT_MODEL, UNIT_SCALE (1000)
//   - CHARS_PER_UNIT (4), UNIT_OVERHEAD_PERCENT (10), MIN_UNITS (100)
//   - MONTHLY_AGGREGATE_TTL (10s), TIMEZONE (Local)
//
// Ledger:
//   - LEDGER_DRIVER: memory, sqlite or postgres (default: sqlite)
//   - LEDGER_DSN: SQLite file or PostgreSQL URL (default: ./gatekeeper.db)
//   - LEDGER_RETENTION_DAYS (400), LEDGER_PRUNE_SCHEDULE (0 3 * * *)
//
// Example usage:
//
//	cfg := config.Load()
//	if err := cfg.Validate(); err != nil {
//		log.Fatalf("invalid configuration: %v", err)
//	}
package config

import (
	"fmt"
	"os"
	"sort"
	"strconv"
	"strings"
	"time"

	"gatekeeper/internal/common/errors"
	"gatekeeper/internal/common/validation"
)

// UnlimitedUnits is the daily limit sentinel for plans without a cap
const UnlimitedUnits int64 = -1

const (
	EnvProduction  = "production"
	EnvDevelopment = "development"
)

// Config holds every setting of the gateway. Field tags name the environment
// variable and the validation rule applied by Validate.
type Config struct {
	// Application settings
	Port        int    `env:"PORT" validate:"gte=1,lte=65535"`
	Environment string `env:"ENVIRONMENT" validate:"oneof=production development"`
	LogLevel    string `env:"LOG_LEVEL" validate:"oneof=debug info warn warning error"`
	LogFile     string `env:"LOG_FILE"`
	UpstreamURL string `env:"UPSTREAM_URL" validate:"omitempty,url"`
	JWTSecret   string `env:"JWT_SECRET" validate:"omitempty,min=32"`

	// Redis configuration for the distributed counter backend
	RedisAddress  string        `env:"REDIS_ADDRESS" validate:"omitempty,hostname_port"`
	RedisPassword string        `env:"REDIS_PASSWORD"`
	RedisDB       int           `env:"REDIS_DB" validate:"gte=0,lte=15"`
	RedisPoolSize int           `env:"REDIS_POOL_SIZE" validate:"gte=1"`
	RedisTimeout  time.Duration `env:"REDIS_TIMEOUT" validate:"gt=0"`

	// General limiter
	RequestsPerMinute       int      `env:"REQUESTS_PER_MINUTE" validate:"gt=0"`
	BurstSize               int      `env:"BURST_SIZE" validate:"gt=0"`
	BlockDurationSeconds    int      `env:"BLOCK_DURATION_SECONDS" validate:"gt=0"`
	BurstBlockSeconds       int      `env:"BURST_BLOCK_SECONDS" validate:"gt=0"`
	DevMultiplier           int      `env:"DEV_MULTIPLIER" validate:"gte=1"`
	DevBlockDurationSeconds int      `env:"DEV_BLOCK_DURATION_SECONDS" validate:"gt=0"`
	AuthBlockGraceSeconds   int      `env:"AUTH_BLOCK_GRACE_SECONDS" validate:"gte=0"`
	ExcludedPaths           []string `env:"EXCLUDED_PATHS" validate:"path_list"`
	ReadOnlyExemptPrefixes  []string `env:"READ_ONLY_EXEMPT_PREFIXES" validate:"path_list"`
	ReadOnlyHistoryTail     int      `env:"READ_ONLY_HISTORY_TAIL" validate:"gte=0"`
	ImportantPaths          []string `env:"IMPORTANT_PATHS" validate:"path_list"`

	// Metered limiter
	AIRequestsPerMinute    int      `env:"AI_REQUESTS_PER_MINUTE" validate:"gt=0"`
	AIRequestsPerHour      int      `env:"AI_REQUESTS_PER_HOUR" validate:"gt=0"`
	AIBlockDurationSeconds int      `env:"AI_BLOCK_DURATION_SECONDS" validate:"gt=0"`
	MeteredPathPrefixes    []string `env:"METERED_PATH_PREFIXES" validate:"required,min=1,path_list"`

	// Budgets and pricing
	PlanDailyUnitLimits map[string]int64   `env:"PLAN_DAILY_UNIT_LIMITS" validate:"required,min=1,dive,gte=-1"`
	DefaultPlan         string             `env:"DEFAULT_PLAN" validate:"required"`
	MonthlyUnitBudget   int64              `env:"MONTHLY_UNIT_BUDGET" validate:"gt=0"`
	MonthlyCostBudget   float64            `env:"MONTHLY_COST_BUDGET" validate:"gt=0"`
	ModelUnitCosts      map[string]float64 `env:"MODEL_UNIT_COSTS" validate:"required,min=1,dive,gte=0"`
	DefaultModel        string             `env:"DEFAULT_MODEL" validate:"required"`
	UnitScale           int64              `env:"UNIT_SCALE" validate:"gt=0"`
	CharsPerUnit        float64            `env:"CHARS_PER_UNIT" validate:"gt=0"`
	UnitOverheadPercent float64            `env:"UNIT_OVERHEAD_PERCENT" validate:"gte=0"`
	MinUnits            int64              `env:"MIN_UNITS" validate:"gte=1"`
	MonthlyAggregateTTL time.Duration      `env:"MONTHLY_AGGREGATE_TTL" validate:"gte=0"`
	Timezone            string             `env:"TIMEZONE" validate:"required"`

	// Ledger
	LedgerDriver        string `env:"LEDGER_DRIVER" validate:"oneof=memory sqlite postgres"`
	LedgerDSN           string `env:"LEDGER_DSN"`
	LedgerRetentionDays int    `env:"LEDGER_RETENTION_DAYS" validate:"gte=1"`
	LedgerPruneSchedule string `env:"LEDGER_PRUNE_SCHEDULE" validate:"cron_expression"`

	location    *time.Location
	parseErrors []string
}

// Load creates a Config from environment variables, falling back to defaults
// for unset variables. Values that fail to parse are reported by Validate.
func Load() *Config {
	c := &Config{}

	c.Port = c.getIntEnv("PORT", 8080)
	c.Environment = strings.ToLower(getEnv("ENVIRONMENT", EnvProduction))
	c.LogLevel = strings.ToLower(getEnv("LOG_LEVEL", "info"))
	c.LogFile = getEnv("LOG_FILE", "")
	c.UpstreamURL = getEnv("UPSTREAM_URL", "")
	c.JWTSecret = getEnv("JWT_SECRET", "")

	c.RedisAddress = getEnv("REDIS_ADDRESS", "")
	c.RedisPassword = getEnv("REDIS_PASSWORD", "")
	c.RedisDB = c.getIntEnv("REDIS_DB", 0)
	c.RedisPoolSize = c.getIntEnv("REDIS_POOL_SIZE", 10)
	c.RedisTimeout = c.getDurationEnv("REDIS_TIMEOUT", 100*time.Millisecond)

	c.RequestsPerMinute = c.getIntEnv("REQUESTS_PER_MINUTE", 60)
	c.BurstSize = c.getIntEnv("BURST_SIZE", 10)
	c.BlockDurationSeconds = c.getIntEnv("BLOCK_DURATION_SECONDS", 300)
	c.BurstBlockSeconds = c.getIntEnv("BURST_BLOCK_SECONDS", 60)
	c.DevMultiplier = c.getIntEnv("DEV_MULTIPLIER", 10)
	c.DevBlockDurationSeconds = c.getIntEnv("DEV_BLOCK_DURATION_SECONDS", 10)
	c.AuthBlockGraceSeconds = c.getIntEnv("AUTH_BLOCK_GRACE_SECONDS", 30)
	c.ExcludedPaths = getListEnv("EXCLUDED_PATHS", []string{
		"/health", "/metrics", "/api/auth/login", "/api/auth/register", "/api/auth/refresh",
	})
	c.ReadOnlyExemptPrefixes = getListEnv("READ_ONLY_EXEMPT_PREFIXES", []string{"/api/courses", "/api/modules"})
	c.ReadOnlyHistoryTail = c.getIntEnv("READ_ONLY_HISTORY_TAIL", 10)
	c.ImportantPaths = getListEnv("IMPORTANT_PATHS", []string{"/api/auth/me", "/api/users/me", "/api/exams/submit"})

	c.AIRequestsPerMinute = c.getIntEnv("AI_REQUESTS_PER_MINUTE", 10)
	c.AIRequestsPerHour = c.getIntEnv("AI_REQUESTS_PER_HOUR", 100)
	c.AIBlockDurationSeconds = c.getIntEnv("AI_BLOCK_DURATION_SECONDS", 900)
	c.MeteredPathPrefixes = getListEnv("METERED_PATH_PREFIXES", []string{"/api/ai/"})

	c.PlanDailyUnitLimits = c.getPlanLimitsEnv("PLAN_DAILY_UNIT_LIMITS", "free=50000,pro=500000,enterprise=unlimited")
	c.DefaultPlan = strings.ToLower(getEnv("DEFAULT_PLAN", "free"))
	c.MonthlyUnitBudget = c.getInt64Env("MONTHLY_UNIT_BUDGET", 50_000_000)
	c.MonthlyCostBudget = c.getFloatEnv("MONTHLY_COST_BUDGET", 500)
	c.ModelUnitCosts = c.getPriceListEnv("MODEL_UNIT_COSTS", "gpt-4o=0.005,gpt-4o-mini=0.00015")
	c.DefaultModel = getEnv("DEFAULT_MODEL", "gpt-4o-mini")
	c.UnitScale = c.getInt64Env("UNIT_SCALE", 1000)
	c.CharsPerUnit = c.getFloatEnv("CHARS_PER_UNIT", 4)
	c.UnitOverheadPercent = c.getFloatEnv("UNIT_OVERHEAD_PERCENT", 10)
	c.MinUnits = c.getInt64Env("MIN_UNITS", 100)
	c.MonthlyAggregateTTL = c.getDurationEnv("MONTHLY_AGGREGATE_TTL", 10*time.Second)
	c.Timezone = getEnv("TIMEZONE", "Local")

	c.LedgerDriver = strings.ToLower(getEnv("LEDGER_DRIVER", "sqlite"))
	c.LedgerDSN = getEnv("LEDGER_DSN", "./gatekeeper.db")
	c.LedgerRetentionDays = c.getIntEnv("LEDGER_RETENTION_DAYS", 400)
	c.LedgerPruneSchedule = getEnv("LEDGER_PRUNE_SCHEDULE", "0 3 * * *")

	return c
}

// Validate checks every field and the cross-field rules. The returned error
// is a configuration error and must stop startup.
func (c *Config) Validate() error {
	if len(c.parseErrors) > 0 {
		return errors.ConfigError(strings.Join(c.parseErrors, "; "))
	}

	if err := validation.NewCentralizedValidator().ValidateStruct(c); err != nil {
		return err
	}

	if _, ok := c.PlanDailyUnitLimits[c.DefaultPlan]; !ok {
		return errors.ConfigError(fmt.Sprintf("DEFAULT_PLAN %q has no entry in PLAN_DAILY_UNIT_LIMITS", c.DefaultPlan))
	}
	if _, ok := c.ModelUnitCosts[c.DefaultModel]; !ok {
		return errors.ConfigError(fmt.Sprintf("DEFAULT_MODEL %q has no entry in MODEL_UNIT_COSTS", c.DefaultModel))
	}
	if c.LedgerDriver != "memory" && c.LedgerDSN == "" {
		return errors.ConfigError("LEDGER_DSN is required unless LEDGER_DRIVER is memory")
	}

	loc, err := time.LoadLocation(c.Timezone)
	if err != nil {
		return errors.ConfigError(fmt.Sprintf("TIMEZONE %q is not a known location", c.Timezone))
	}
	c.location = loc

	return nil
}

// IsDevelopment reports whether reduced-restriction mode is active
func (c *Config) IsDevelopment() bool {
	return c.Environment == EnvDevelopment
}

// Location returns the zone used for local-midnight and month boundaries.
// Valid after Validate; time.Local before.
func (c *Config) Location() *time.Location {
	if c.location == nil {
		return time.Local
	}
	return c.location
}

// Plans returns the plan names in sorted order
func (c *Config) Plans() []string {
	plans := make([]string, 0, len(c.PlanDailyUnitLimits))
	for plan := range c.PlanDailyUnitLimits {
		plans = append(plans, plan)
	}
	sort.Strings(plans)
	return plans
}

func getEnv(key, defaultValue string) string {
	if value := strings.TrimSpace(os.Getenv(key)); value != "" {
		return value
	}
	return defaultValue
}

func (c *Config) fail(key, value, expected string) {
	c.parseErrors = append(c.parseErrors, fmt.Sprintf("%s=%q is not %s", key, value, expected))
}

func (c *Config) getIntEnv(key string, defaultValue int) int {
	value := getEnv(key, "")
	if value == "" {
		return defaultValue
	}
	parsed, err := strconv.Atoi(value)
	if err != nil {
		c.fail(key, value, "an integer")
		return defaultValue
	}
	return parsed
}

func (c *Config) getInt64Env(key string, defaultValue int64) int64 {
	value := getEnv(key, "")
	if value == "" {
		return defaultValue
	}
	parsed, err := strconv.ParseInt(value, 10, 64)
	if err != nil {
		c.fail(key, value, "an integer")
		return defaultValue
	}
	return parsed
}

func (c *Config) getFloatEnv(key string, defaultValue float64) float64 {
	value := getEnv(key, "")
	if value == "" {
		return defaultValue
	}
	parsed, err := strconv.ParseFloat(value, 64)
	if err != nil {
		c.fail(key, value, "a number")
		return defaultValue
	}
	return parsed
}

func (c *Config) getDurationEnv(key string, defaultValue time.Duration) time.Duration {
	value := getEnv(key, "")
	if value == "" {
		return defaultValue
	}
	parsed, err := time.ParseDuration(value)
	if err != nil {
		c.fail(key, value, "a duration (e.g. '100ms', '10s')")
		return defaultValue
	}
	return parsed
}

// getListEnv splits a comma separated variable, dropping empty entries
func getListEnv(key string, defaultValue []string) []string {
	value := getEnv(key, "")
	if value == "" {
		return defaultValue
	}
	var out []string
	for _, part := range strings.Split(value, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}

// getPlanLimitsEnv parses "plan=limit,..." where limit may be "unlimited"
func (c *Config) getPlanLimitsEnv(key, defaultValue string) map[string]int64 {
	limits := make(map[string]int64)
	for _, pair := range getListEnv(key, strings.Split(defaultValue, ",")) {
		name, value, ok := strings.Cut(pair, "=")
		// plan claims are matched case-insensitively, see quota.ContextWithPlan
		name, value = strings.ToLower(strings.TrimSpace(name)), strings.TrimSpace(value)
		if !ok || name == "" {
			c.fail(key, pair, "a plan=limit pair")
			continue
		}
		if strings.EqualFold(value, "unlimited") {
			limits[name] = UnlimitedUnits
			continue
		}
		parsed, err := strconv.ParseInt(value, 10, 64)
		if err != nil {
			c.fail(key, pair, "a plan=limit pair")
			continue
		}
		limits[name] = parsed
	}
	return limits
}

// getPriceListEnv parses "model=cost,..." with cost per UNIT_SCALE units
func (c *Config) getPriceListEnv(key, defaultValue string) map[string]float64 {
	prices := make(map[string]float64)
	for _, pair := range getListEnv(key, strings.Split(defaultValue, ",")) {
		name, value, ok := strings.Cut(pair, "=")
		name, value = strings.TrimSpace(name), strings.TrimSpace(value)
		if !ok || name == "" {
			c.fail(key, pair, "a model=cost pair")
			continue
		}
		parsed, err := strconv.ParseFloat(value, 64)
		if err != nil {
			c.fail(key, pair, "a model=cost pair")
			continue
		}
		prices[name] = parsed
	}
	return prices
}
