package utils

import (
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTruncateToDay(t *testing.T) {
	tokyo, err := time.LoadLocation("Asia/Tokyo")
	require.NoError(t, err)

	// 20:00 UTC on the 1st is 05:00 on the 2nd in Tokyo
	ts := time.Date(2025, 3, 1, 20, 0, 0, 0, time.UTC)

	assert.Equal(t, time.Date(2025, 3, 1, 0, 0, 0, 0, time.UTC), TruncateToDay(ts, nil))
	assert.Equal(t, time.Date(2025, 3, 2, 0, 0, 0, 0, tokyo), TruncateToDay(ts, tokyo))
}

func TestNextMidnight_AcrossDST(t *testing.T) {
	ny, err := time.LoadLocation("America/New_York")
	require.NoError(t, err)

	// 2025-03-09 is 23 hours long in New York
	ts := time.Date(2025, 3, 9, 12, 0, 0, 0, ny)
	next := NextMidnight(ts, ny)

	assert.Equal(t, time.Date(2025, 3, 10, 0, 0, 0, 0, ny), next)
	assert.Equal(t, 23*time.Hour, next.Sub(TruncateToDay(ts, ny)))
}

func TestStartOfMonth(t *testing.T) {
	ts := time.Date(2025, 12, 31, 23, 59, 59, 0, time.UTC)
	assert.Equal(t, time.Date(2025, 12, 1, 0, 0, 0, 0, time.UTC), StartOfMonth(ts, time.UTC))
}

func TestFormatDuration(t *testing.T) {
	assert.Equal(t, "30s", FormatDuration(30*time.Second))
	assert.Equal(t, "15m", FormatDuration(15*time.Minute))
	assert.Equal(t, "2.5h", FormatDuration(150*time.Minute))
	assert.Equal(t, "1.5d", FormatDuration(36*time.Hour))
}

func TestIDs(t *testing.T) {
	first, second := NewRequestID(), NewRequestID()
	assert.NotEqual(t, first, second)

	_, err := uuid.Parse(NewRecordID())
	assert.NoError(t, err)
}
