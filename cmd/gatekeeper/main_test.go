package main

import (
	"bytes"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"gatekeeper/internal/auth"
	"gatekeeper/internal/quota"
)

const testSecret = "test-secret-key-that-is-long-enough"

func execute(t *testing.T, args ...string) (string, error) {
	t.Helper()
	var out bytes.Buffer
	rootCmd.SetOut(&out)
	rootCmd.SetErr(&out)
	rootCmd.SetArgs(args)
	t.Cleanup(func() { rootCmd.SetArgs(nil) })
	err := rootCmd.Execute()
	return out.String(), err
}

func TestCommandsRegistered(t *testing.T) {
	names := map[string]bool{}
	for _, cmd := range rootCmd.Commands() {
		names[cmd.Name()] = true
	}
	for _, name := range []string{"serve", "usage", "prune", "token", "version"} {
		assert.True(t, names[name], "missing command %s", name)
	}
}

func TestVersionCommand(t *testing.T) {
	out, err := execute(t, "version")
	require.NoError(t, err)
	assert.Contains(t, out, "Gatekeeper ")
	assert.Contains(t, out, "Go Version:")
}

func TestTokenCommand(t *testing.T) {
	t.Setenv("JWT_SECRET", testSecret)
	t.Setenv("LEDGER_DRIVER", "memory")
	t.Setenv("TIMEZONE", "UTC")

	out, err := execute(t, "token", "42", "--plan", "pro")
	require.NoError(t, err)

	claims, err := auth.New(testSecret).ValidateJWT(strings.TrimSpace(out))
	require.NoError(t, err)
	assert.Equal(t, "42", claims.Caller())
	assert.Equal(t, "pro", claims.Plan)
}

func TestUsageCommand_RequiresCaller(t *testing.T) {
	_, err := execute(t, "usage")
	assert.Error(t, err)
}

func TestPrintSnapshot(t *testing.T) {
	now := time.Date(2025, 3, 14, 9, 0, 0, 0, time.UTC)
	snapshot := quota.QuotaSnapshot{
		CallerID:          "user:42",
		Plan:              "free",
		ConsumedToday:     50000,
		DailyLimit:        50000,
		Exhausted:         true,
		ConsumedThisMonth: 120000,
		CostThisMonth:     0.6,
		MonthlyUnitBudget: 10000000,
		MonthlyCostBudget: 500,
		ResetsAt:          time.Date(2025, 3, 15, 0, 0, 0, 0, time.UTC),
	}

	var out bytes.Buffer
	printSnapshot(&out, snapshot, now)

	text := out.String()
	assert.Contains(t, text, "Today:           50000 / 50000 units, 0 remaining")
	assert.Contains(t, text, "Status:          exhausted")
	assert.Contains(t, text, "Resets at:       2025-03-15 00:00 UTC (in 15.0h)")

	t.Run("unlimited plan", func(t *testing.T) {
		snapshot.DailyLimit = quota.Unlimited
		snapshot.Exhausted = false
		out.Reset()
		printSnapshot(&out, snapshot, snapshot.ResetsAt.Add(-45*time.Minute))

		assert.Contains(t, out.String(), "(unlimited)")
		assert.NotContains(t, out.String(), "exhausted")
		assert.Contains(t, out.String(), "(in 45m)")
	})
}
