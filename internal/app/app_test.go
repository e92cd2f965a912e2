package app

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"net/url"
	"path/filepath"
	"strings"
	"testing"

	"github.com/alicebob/miniredis/v2"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	"gatekeeper/internal/auth"
	"gatekeeper/internal/common/errors"
	"gatekeeper/internal/config"
	"gatekeeper/internal/quota"
)

const testSecret = "test-secret-key-that-is-long-enough"

// testConfig loads a validated configuration with a memory ledger and no
// Redis; env overrides individual variables
func testConfig(t *testing.T, env map[string]string) *config.Config {
	t.Helper()

	base := map[string]string{
		"ENVIRONMENT":            "production",
		"LOG_FILE":               "",
		"JWT_SECRET":             testSecret,
		"UPSTREAM_URL":           "",
		"REDIS_ADDRESS":          "",
		"TIMEZONE":               "UTC",
		"LEDGER_DRIVER":          "memory",
		"LEDGER_DSN":             "",
		"LEDGER_PRUNE_SCHEDULE":  "0 3 * * *",
		"METERED_PATH_PREFIXES":  "/api/ai/",
		"PLAN_DAILY_UNIT_LIMITS": "free=50000,pro=500000",
		"DEFAULT_PLAN":           "free",
		"MODEL_UNIT_COSTS":       "gpt-4o=0.005,gpt-4o-mini=0.00015",
		"DEFAULT_MODEL":          "gpt-4o-mini",
	}
	for k, v := range env {
		base[k] = v
	}
	for k, v := range base {
		t.Setenv(k, v)
	}

	cfg := config.Load()
	require.NoError(t, cfg.Validate())
	return cfg
}

func newTestApp(t *testing.T, cfg *config.Config) *App {
	t.Helper()
	app, err := New(context.Background(), cfg)
	require.NoError(t, err)
	t.Cleanup(app.Cleanup)
	return app
}

func bearer(t *testing.T, userID, plan string) string {
	t.Helper()
	token, err := auth.New(testSecret).GenerateJWT(userID, plan)
	require.NoError(t, err)
	return "Bearer " + token
}

func TestNew_WithoutRedis(t *testing.T) {
	app := newTestApp(t, testConfig(t, nil))

	assert.Nil(t, app.RedisClient)
	assert.False(t, app.Counters.Distributed())
	assert.NotNil(t, app.Auth)
	assert.NotNil(t, app.Guard)
	assert.NotNil(t, app.Ledger)
}

func TestNew_WithRedis(t *testing.T) {
	mr := miniredis.RunT(t)

	app := newTestApp(t, testConfig(t, map[string]string{"REDIS_ADDRESS": mr.Addr()}))

	require.NotNil(t, app.RedisClient)
	assert.True(t, app.Counters.Distributed())
	assert.NoError(t, app.RedisClient.Health())
}

func TestNew_RedisDownAtStartup(t *testing.T) {
	mr, err := miniredis.Run()
	require.NoError(t, err)
	addr := mr.Addr()
	mr.Close()

	app := newTestApp(t, testConfig(t, map[string]string{"REDIS_ADDRESS": addr}))

	require.NotNil(t, app.RedisClient)
	assert.True(t, app.Counters.Distributed())
	assert.Error(t, app.RedisClient.Health())
}

func TestNew_WithoutSecretIdentifiesByIP(t *testing.T) {
	app := newTestApp(t, testConfig(t, map[string]string{"JWT_SECRET": ""}))
	assert.Nil(t, app.Auth)

	router := app.SetupRoutes(nil)
	req := httptest.NewRequest(http.MethodGet, "/api/quota", nil)
	req.RemoteAddr = "10.1.2.3:5555"
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	var snapshot quota.QuotaSnapshot
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &snapshot))
	assert.Equal(t, "ip:10.1.2.3", snapshot.CallerID)
	assert.Equal(t, "free", snapshot.Plan)
}

func newUpstream(t *testing.T) *url.URL {
	t.Helper()
	upstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if strings.HasPrefix(r.URL.Path, "/api/ai/") {
			w.Header().Set("X-Usage-Units", "300")
			w.Header().Set("X-Usage-Model", "gpt-4o-mini")
		}
		io.WriteString(w, `{"answer":"42"}`)
	}))
	t.Cleanup(upstream.Close)

	target, err := url.Parse(upstream.URL)
	require.NoError(t, err)
	return target
}

func TestSetupRoutes_MeteredCallIsCharged(t *testing.T) {
	app := newTestApp(t, testConfig(t, nil))
	router := app.SetupRoutes(newUpstream(t))
	authHeader := bearer(t, "42", "pro")

	req := httptest.NewRequest(http.MethodPost, "/api/ai/chat", strings.NewReader(`{"prompt":"hello"}`))
	req.Header.Set("Authorization", authHeader)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"answer":"42"}`, rec.Body.String())
	assert.Empty(t, rec.Header().Get("X-Usage-Units"))
	assert.NotEmpty(t, rec.Header().Get("X-Request-ID"))

	req = httptest.NewRequest(http.MethodGet, "/api/quota", nil)
	req.Header.Set("Authorization", authHeader)
	rec = httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	var snapshot quota.QuotaSnapshot
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &snapshot))
	assert.Equal(t, "user:42", snapshot.CallerID)
	assert.Equal(t, "pro", snapshot.Plan)
	assert.Equal(t, int64(300), snapshot.ConsumedToday)
	assert.Equal(t, int64(500000), snapshot.DailyLimit)
	assert.Equal(t, int64(499700), snapshot.RemainingToday)

	assert.Equal(t, float64(300), testutil.ToFloat64(app.Metrics.UsageUnits.WithLabelValues("gpt-4o-mini")))
}

func TestSetupRoutes_HealthAndMetrics(t *testing.T) {
	app := newTestApp(t, testConfig(t, nil))
	router := app.SetupRoutes(newUpstream(t))

	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/health", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"status":"healthy"`)

	rec = httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/courses", nil))
	require.Equal(t, http.StatusOK, rec.Code)

	rec = httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "gatekeeper_admission_decisions_total")
	assert.Contains(t, rec.Body.String(), "go_goroutines")
}

func TestSetupRoutes_BurstIsDenied(t *testing.T) {
	app := newTestApp(t, testConfig(t, map[string]string{"BURST_SIZE": "2"}))
	router := app.SetupRoutes(newUpstream(t))

	codes := make([]int, 0, 4)
	for i := 0; i < 4; i++ {
		req := httptest.NewRequest(http.MethodPost, "/api/orders", nil)
		req.RemoteAddr = "10.9.9.9:1000"
		rec := httptest.NewRecorder()
		router.ServeHTTP(rec, req)
		codes = append(codes, rec.Code)
	}

	assert.Equal(t, []int{200, 200, 429, 429}, codes)
}

func TestStartAndCleanup(t *testing.T) {
	defer goleak.VerifyNone(t, goleak.IgnoreCurrent())

	app, err := New(context.Background(), testConfig(t, nil))
	require.NoError(t, err)

	require.NoError(t, app.Start(context.Background()))
	assert.NotNil(t, app.Retention.NextRun())

	app.Cleanup()
}

func TestServe_RequiresUpstream(t *testing.T) {
	err := Serve(context.Background(), testConfig(t, nil))
	require.Error(t, err)
	assert.True(t, errors.IsType(err, errors.ErrTypeConfig))
}

func TestUsageAndPrune_ReadPersistedLedger(t *testing.T) {
	dsn := filepath.Join(t.TempDir(), "usage.db")
	cfg := testConfig(t, map[string]string{"LEDGER_DRIVER": "sqlite", "LEDGER_DSN": dsn})

	app, err := New(context.Background(), cfg)
	require.NoError(t, err)
	router := app.SetupRoutes(newUpstream(t))

	req := httptest.NewRequest(http.MethodPost, "/api/ai/summarize", strings.NewReader("text"))
	req.Header.Set("Authorization", bearer(t, "7", "free"))
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	require.Equal(t, http.StatusOK, rec.Code)
	app.Cleanup()

	ctx := context.Background()
	snapshot, err := Usage(ctx, cfg, "user:7", "")
	require.NoError(t, err)
	assert.Equal(t, "free", snapshot.Plan)
	assert.Equal(t, int64(300), snapshot.ConsumedToday)
	assert.Equal(t, int64(300), snapshot.ConsumedThisMonth)

	snapshot, err = Usage(ctx, cfg, "user:7", "pro")
	require.NoError(t, err)
	assert.Equal(t, int64(500000), snapshot.DailyLimit)

	removed, err := Prune(ctx, cfg)
	require.NoError(t, err)
	assert.Zero(t, removed)
}
