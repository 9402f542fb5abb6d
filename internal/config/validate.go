package config

import (
	"errors"
	"fmt"
	"strings"
	stdsync "sync"

	"github.com/go-playground/validator/v10"
	"github.com/robfig/cron/v3"
)

var (
	once     stdsync.Once
	validate *validator.Validate
)

// FieldError is a single validation failure.
type FieldError struct {
	Field string
	Tag   string
	Param string
}

// ValidationErrors collects every failure found in a Config.
type ValidationErrors []FieldError

func (v ValidationErrors) Error() string {
	if len(v) == 0 {
		return "config: validation failed"
	}

	parts := make([]string, len(v))
	for i, fe := range v {
		if fe.Param != "" {
			parts[i] = fe.Field + " failed on " + fe.Tag + "=" + fe.Param
		} else {
			parts[i] = fe.Field + " failed on " + fe.Tag
		}
	}
	return "config: " + strings.Join(parts, "; ")
}

// Validate checks field constraints and that the daemon schedule parses.
func (c Config) Validate() error {
	err := getValidator().Struct(c)
	if err != nil {
		var ve validator.ValidationErrors
		if !errors.As(err, &ve) {
			return fmt.Errorf("config: %w", err)
		}
		failures := make(ValidationErrors, 0, len(ve))
		for _, fe := range ve {
			failures = append(failures, FieldError{
				Field: fe.Namespace(),
				Tag:   fe.Tag(),
				Param: fe.Param(),
			})
		}
		return failures
	}

	if c.HTTP.Timeout < 0 {
		return ValidationErrors{{Field: "Config.HTTP.Timeout", Tag: "gte", Param: "0"}}
	}
	if _, err := cron.ParseStandard(c.Daemon.Schedule); err != nil {
		return fmt.Errorf("config: daemon schedule %q: %w", c.Daemon.Schedule, err)
	}
	return nil
}

func getValidator() *validator.Validate {
	once.Do(func() {
		validate = validator.New(validator.WithRequiredStructEnabled())
	})
	return validate
}
