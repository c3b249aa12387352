package config

import (
	"errors"
	"fmt"
	"reflect"
	"strings"

	"github.com/go-playground/validator/v10"
)

var validate = validator.New(validator.WithRequiredStructEnabled())

func init() {
	// Report fields by their koanf key, e.g. "client.retry.max"
	validate.RegisterTagNameFunc(func(fld reflect.StructField) string {
		name := strings.SplitN(fld.Tag.Get("koanf"), ",", 2)[0]
		if name == "-" {
			return ""
		}
		return name
	})
}

// Validate checks cfg against its struct tags and returns the first problem
// as a *ConfigError.
func Validate(cfg *Config) error {
	if cfg == nil {
		return NewValidationError("config", "is nil")
	}

	if err := validate.Struct(cfg); err != nil {
		var verrs validator.ValidationErrors
		if errors.As(err, &verrs) && len(verrs) > 0 {
			return fieldError(verrs[0])
		}
		return NewValidationError("config", err.Error())
	}

	return nil
}

// fieldError turns a validator failure into actionable guidance
func fieldError(fe validator.FieldError) *ConfigError {
	field := fieldPath(fe.Namespace())
	switch fe.Tag() {
	case "required", "required_if":
		return NewMissingFieldError(field, envVarFor(field), field)
	case "oneof":
		return NewInvalidFieldError(field, fmt.Sprintf("invalid value %q", fmt.Sprint(fe.Value())), strings.Fields(fe.Param()))
	case "url":
		return NewInvalidFieldError(field, fmt.Sprintf("%q is not an absolute URL", fmt.Sprint(fe.Value())), nil)
	case "min", "gt":
		return NewInvalidFieldError(field, fmt.Sprintf("must be %s %s", comparison(fe.Tag()), fe.Param()), nil)
	default:
		return NewValidationError(field, fmt.Sprintf("failed %q validation", fe.Tag()))
	}
}

// fieldPath strips the root struct name: "Config.client.retry.max" -> "client.retry.max"
func fieldPath(namespace string) string {
	if _, rest, ok := strings.Cut(namespace, "."); ok {
		return rest
	}
	return namespace
}

// envVarFor is the environment variable that sets field
func envVarFor(field string) string {
	return EnvPrefix + strings.ToUpper(strings.ReplaceAll(field, ".", "_"))
}

func comparison(tag string) string {
	if tag == "gt" {
		return "greater than"
	}
	return "at least"
}
