package config

import (
	"fmt"
	"slices"
	"strings"
)

// ValidationError represents a single validation failure
type ValidationError struct {
	Field   string
	Value   any
	Message string
}

func (e ValidationError) Error() string {
	return fmt.Sprintf("%s: %s (got: %v)", e.Field, e.Message, e.Value)
}

// ValidationErrors is a collection of validation errors
type ValidationErrors []ValidationError

func (e ValidationErrors) Error() string {
	if len(e) == 0 {
		return ""
	}
	if len(e) == 1 {
		return e[0].Error()
	}

	var sb strings.Builder
	sb.WriteString(fmt.Sprintf("%d validation errors:\n", len(e)))
	for i, err := range e {
		sb.WriteString(fmt.Sprintf("  %d. %s\n", i+1, err.Error()))
	}
	return sb.String()
}

// ValidLogLevels returns the list of valid log levels
func ValidLogLevels() []string {
	return []string{"debug", "info", "warn", "error"}
}

// Validate checks the Config for invalid values and returns all validation errors found
func (c *Config) Validate() []ValidationError {
	var errors []ValidationError
	errors = append(errors, c.validateTermination()...)
	errors = append(errors, c.validateManager()...)
	errors = append(errors, c.validateLogging()...)
	return errors
}

func (c *Config) validateTermination() []ValidationError {
	var errors []ValidationError

	fields := []struct {
		name  string
		value any
		ok    bool
	}{
		{"termination.default_timeout", c.Termination.DefaultTimeout, c.Termination.DefaultTimeout > 0},
		{"termination.short_timeout", c.Termination.ShortTimeout, c.Termination.ShortTimeout > 0},
		{"termination.long_timeout", c.Termination.LongTimeout, c.Termination.LongTimeout > 0},
		{"termination.extra_long_timeout", c.Termination.ExtraLongTimeout, c.Termination.ExtraLongTimeout > 0},
	}
	for _, f := range fields {
		if !f.ok {
			errors = append(errors, ValidationError{
				Field:   f.name,
				Value:   f.value,
				Message: "must be positive",
			})
		}
	}

	// Short <= Long <= ExtraLong
	if c.Termination.ShortTimeout > c.Termination.LongTimeout {
		errors = append(errors, ValidationError{
			Field:   "termination.short_timeout",
			Value:   c.Termination.ShortTimeout,
			Message: fmt.Sprintf("must not exceed termination.long_timeout (%v)", c.Termination.LongTimeout),
		})
	}
	if c.Termination.LongTimeout > c.Termination.ExtraLongTimeout {
		errors = append(errors, ValidationError{
			Field:   "termination.long_timeout",
			Value:   c.Termination.LongTimeout,
			Message: fmt.Sprintf("must not exceed termination.extra_long_timeout (%v)", c.Termination.ExtraLongTimeout),
		})
	}

	return errors
}

func (c *Config) validateManager() []ValidationError {
	if c.Manager.MaxWaitStop <= 0 {
		return []ValidationError{{
			Field:   "manager.max_wait_stop",
			Value:   c.Manager.MaxWaitStop,
			Message: "must be positive",
		}}
	}
	return nil
}

func (c *Config) validateLogging() []ValidationError {
	var errors []ValidationError

	if !slices.Contains(ValidLogLevels(), c.Logging.Level) {
		errors = append(errors, ValidationError{
			Field:   "logging.level",
			Value:   c.Logging.Level,
			Message: fmt.Sprintf("must be one of: %s", strings.Join(ValidLogLevels(), ", ")),
		})
	}

	return errors
}
