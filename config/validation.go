package config

import (
	"errors"
	"fmt"
	"net/url"
	"reflect"
	"strings"
	"sync"

	"github.com/go-playground/validator/v10"
)

var (
	validateOnce sync.Once
	validate     *validator.Validate
)

// structValidator reports field paths by their koanf keys and knows the
// httpurl rule.
func structValidator() *validator.Validate {
	validateOnce.Do(func() {
		v := validator.New(validator.WithRequiredStructEnabled())
		v.RegisterTagNameFunc(func(f reflect.StructField) string {
			name, _, _ := strings.Cut(f.Tag.Get("koanf"), ",")
			if name == "-" {
				return ""
			}
			return name
		})
		if err := v.RegisterValidation("httpurl", validateHTTPURL); err != nil {
			panic(err)
		}
		validate = v
	})
	return validate
}

// Validate checks cfg against its struct rules plus the cross-field rules
// tags cannot express. Every violation is reported as a *ConfigError.
func Validate(cfg *Config) error {
	var errs []error

	if err := structValidator().Struct(cfg); err != nil {
		var fieldErrs validator.ValidationErrors
		if !errors.As(err, &fieldErrs) {
			return err
		}
		for _, fe := range fieldErrs {
			errs = append(errs, toConfigError(fe))
		}
	}

	if strings.TrimSpace(cfg.Retrieval.UserAgent) == "" && cfg.Retrieval.UserAgent != "" {
		errs = append(errs, NewInvalidFieldError("retrieval.useragent", "must not be blank", nil))
	}

	seen := make(map[string]int, len(cfg.Fetchers))
	for i, f := range cfg.Fetchers {
		if prev, ok := seen[f.ID]; ok && f.ID != "" {
			errs = append(errs, NewInvalidFieldError(
				fmt.Sprintf("fetchers[%d].id", i),
				fmt.Sprintf("duplicates fetchers[%d].id %q", prev, f.ID),
				nil,
			))
			continue
		}
		seen[f.ID] = i
	}

	return errors.Join(errs...)
}

func toConfigError(fe validator.FieldError) *ConfigError {
	field := fieldPath(fe.Namespace())

	switch fe.Tag() {
	case "required", "required_with", "required_if":
		return NewMissingFieldError(field)
	case "oneof":
		return NewInvalidFieldError(field, fmt.Sprintf("invalid value %q", fmt.Sprint(fe.Value())), strings.Fields(fe.Param()))
	case "gt":
		return NewInvalidFieldError(field, "must be positive", nil)
	case "gte":
		return NewInvalidFieldError(field, "must not be negative", nil)
	case "min":
		return NewInvalidFieldError(field, fmt.Sprintf("must be at least %s", fe.Param()), nil)
	case "max":
		return NewInvalidFieldError(field, fmt.Sprintf("must be at most %s", fe.Param()), nil)
	case "url":
		return NewInvalidFieldError(field, "must be a valid URL", nil)
	case "httpurl":
		return NewInvalidFieldError(field, fmt.Sprintf("%q must be an absolute http or https URL", fmt.Sprint(fe.Value())), nil)
	case "cidr":
		return NewInvalidFieldError(field, fmt.Sprintf("%q is not CIDR notation", fmt.Sprint(fe.Value())), nil)
	default:
		return NewInvalidFieldError(field, "failed validation "+fe.Tag(), nil)
	}
}

// fieldPath strips the root struct name from a validator namespace.
func fieldPath(namespace string) string {
	if _, rest, ok := strings.Cut(namespace, "."); ok {
		return rest
	}
	return namespace
}

func validateHTTPURL(fl validator.FieldLevel) bool {
	u, err := url.Parse(fl.Field().String())
	if err != nil || u.Host == "" {
		return false
	}
	scheme := strings.ToLower(u.Scheme)
	return scheme == "http" || scheme == "https"
}
