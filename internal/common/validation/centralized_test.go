package validation

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"gatekeeper/internal/common/errors"
)

type sampleSettings struct {
	Limit    int      `env:"REQUESTS_PER_MINUTE" validate:"gt=0"`
	Mode     string   `env:"ENVIRONMENT" validate:"oneof=production development"`
	Paths    []string `env:"EXCLUDED_PATHS" validate:"path_list"`
	Schedule string   `env:"LEDGER_PRUNE_SCHEDULE" validate:"cron_expression"`
	Unnamed  int      `validate:"gte=0"`
}

func validSample() sampleSettings {
	return sampleSettings{
		Limit:    60,
		Mode:     "production",
		Paths:    []string{"/health", "/api/auth/login"},
		Schedule: "0 3 * * *",
	}
}

func TestValidateStruct(t *testing.T) {
	v := NewCentralizedValidator()

	t.Run("valid struct", func(t *testing.T) {
		assert.NoError(t, v.ValidateStruct(validSample()))
	})

	tests := []struct {
		name     string
		mutate   func(*sampleSettings)
		field    string
		contains string
	}{
		{"non-positive limit", func(s *sampleSettings) { s.Limit = 0 }, "REQUESTS_PER_MINUTE", "greater than 0"},
		{"unknown environment", func(s *sampleSettings) { s.Mode = "staging" }, "ENVIRONMENT", "one of"},
		{"relative path", func(s *sampleSettings) { s.Paths = []string{"health"} }, "EXCLUDED_PATHS", "absolute paths"},
		{"traversal path", func(s *sampleSettings) { s.Paths = []string{"/api/../admin"} }, "EXCLUDED_PATHS", "absolute paths"},
		{"bad cron", func(s *sampleSettings) { s.Schedule = "every day" }, "LEDGER_PRUNE_SCHEDULE", "cron expression"},
		{"field without env tag", func(s *sampleSettings) { s.Unnamed = -1 }, "Unnamed", "at least 0"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := validSample()
			tt.mutate(&s)

			err := v.ValidateStruct(s)
			require.Error(t, err)
			assert.True(t, errors.IsType(err, errors.ErrTypeConfig))
			assert.Contains(t, err.Error(), tt.contains)

			fieldErrors := v.FieldErrors(s)
			require.Len(t, fieldErrors, 1)
			assert.Equal(t, tt.field, fieldErrors[0].Field)
		})
	}
}

func TestFieldErrors_Multiple(t *testing.T) {
	v := NewCentralizedValidator()
	s := validSample()
	s.Limit = -5
	s.Mode = ""

	fieldErrors := v.FieldErrors(s)
	assert.Len(t, fieldErrors, 2)
	assert.Nil(t, v.FieldErrors(validSample()))
}
