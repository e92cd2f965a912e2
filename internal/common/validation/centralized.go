package validation

import (
	"fmt"
	"reflect"
	"strings"

	"github.com/go-playground/validator/v10"
	"github.com/robfig/cron/v3"

	"gatekeeper/internal/common/errors"
)

// CentralizedValidator provides unified validation using go-playground/validator
type CentralizedValidator struct {
	validator *validator.Validate
}

// FieldError represents a single validation failure with context
type FieldError struct {
	Field   string `json:"field"`
	Tag     string `json:"tag"`
	Value   string `json:"value,omitempty"`
	Message string `json:"message"`
	Param   string `json:"param,omitempty"`
}

// NewCentralizedValidator creates a validator with the gateway's custom tags
// registered. Field names in messages come from the `env` tag when present.
func NewCentralizedValidator() *CentralizedValidator {
	v := validator.New()

	registerGatewayValidators(v)

	v.RegisterTagNameFunc(func(fld reflect.StructField) string {
		name := strings.SplitN(fld.Tag.Get("env"), ",", 2)[0]
		if name == "-" || name == "" {
			return fld.Name
		}
		return name
	})

	return &CentralizedValidator{validator: v}
}

// ValidateStruct validates a struct using struct tags and returns a
// configuration error listing every failed field
func (cv *CentralizedValidator) ValidateStruct(s interface{}) error {
	err := cv.validator.Struct(s)
	if err == nil {
		return nil
	}

	fieldErrors := cv.extractFieldErrors(err)
	messages := make([]string, len(fieldErrors))
	for i, e := range fieldErrors {
		messages[i] = e.Message
	}

	appErr := errors.ConfigError(strings.Join(messages, "; "))
	if len(fieldErrors) > 0 {
		appErr.WithContext("field", fieldErrors[0].Field)
	}
	return appErr
}

// FieldErrors validates s and returns the individual failures
func (cv *CentralizedValidator) FieldErrors(s interface{}) []FieldError {
	err := cv.validator.Struct(s)
	if err == nil {
		return nil
	}
	return cv.extractFieldErrors(err)
}

func (cv *CentralizedValidator) extractFieldErrors(err error) []FieldError {
	var fieldErrors []FieldError

	if validationErrs, ok := err.(validator.ValidationErrors); ok {
		for _, fe := range validationErrs {
			fieldErrors = append(fieldErrors, FieldError{
				Field:   fe.Field(),
				Tag:     fe.Tag(),
				Value:   fmt.Sprintf("%v", fe.Value()),
				Message: formatFieldError(fe),
				Param:   fe.Param(),
			})
		}
		return fieldErrors
	}

	return []FieldError{{
		Field:   "unknown",
		Tag:     "error",
		Message: err.Error(),
	}}
}

func formatFieldError(err validator.FieldError) string {
	switch err.Tag() {
	case "required":
		return fmt.Sprintf("%s is required", err.Field())
	case "min", "gte":
		return fmt.Sprintf("%s must be at least %s", err.Field(), err.Param())
	case "gt":
		return fmt.Sprintf("%s must be greater than %s", err.Field(), err.Param())
	case "max", "lte":
		return fmt.Sprintf("%s must be at most %s", err.Field(), err.Param())
	case "oneof":
		return fmt.Sprintf("%s must be one of: %s", err.Field(), err.Param())
	case "url":
		return fmt.Sprintf("%s must be a valid URL", err.Field())
	case "hostname_port":
		return fmt.Sprintf("%s must be host:port", err.Field())
	case "path_list":
		return fmt.Sprintf("%s entries must be absolute paths starting with '/'", err.Field())
	case "path":
		return fmt.Sprintf("%s must be an absolute path starting with '/'", err.Field())
	case "cron_expression":
		return fmt.Sprintf("%s must be a valid cron expression", err.Field())
	default:
		return fmt.Sprintf("%s failed validation: %s", err.Field(), err.Tag())
	}
}

func registerGatewayValidators(v *validator.Validate) {
	v.RegisterValidation("path", func(fl validator.FieldLevel) bool {
		return isAbsolutePath(fl.Field().String())
	})

	v.RegisterValidation("path_list", func(fl validator.FieldLevel) bool {
		field := fl.Field()
		if field.Kind() != reflect.Slice {
			return false
		}
		for i := 0; i < field.Len(); i++ {
			if !isAbsolutePath(field.Index(i).String()) {
				return false
			}
		}
		return true
	})

	// Standard five-field expressions, matching cron.New() defaults
	v.RegisterValidation("cron_expression", func(fl validator.FieldLevel) bool {
		_, err := cron.ParseStandard(fl.Field().String())
		return err == nil
	})
}

func isAbsolutePath(p string) bool {
	return strings.HasPrefix(p, "/") && !strings.Contains(p, "..")
}
