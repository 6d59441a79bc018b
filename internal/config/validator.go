package config

import (
	"fmt"
	"slices"
	"strings"
)

// ValidationError represents a single validation failure
type ValidationError struct {
	Field   string // The config field path (e.g., "executor.max_parallel")
	Value   any    // The invalid value
	Message string // Human-readable error description
}

// Error implements the error interface for ValidationError
func (e ValidationError) Error() string {
	return fmt.Sprintf("%s: %s (got: %v)", e.Field, e.Message, e.Value)
}

// ValidationErrors is a collection of validation errors
type ValidationErrors []ValidationError

// Error implements the error interface for ValidationErrors
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

// ValidStrategies returns the list of valid planner strategy settings
func ValidStrategies() []string {
	return []string{"auto", "htn", "generative"}
}

// ValidProviderBackends returns the list of valid provider backends
func ValidProviderBackends() []string {
	return []string{"none", "openai", "ollama"}
}

// ValidMemoryBackends returns the list of valid memory store backends
func ValidMemoryBackends() []string {
	return []string{"sqlite", "inmemory"}
}

// Validate checks the Config for invalid values and returns all validation errors found
func (c *Config) Validate() []ValidationError {
	var errors []ValidationError

	errors = append(errors, c.validateExecutor()...)
	errors = append(errors, c.validateReplan()...)
	errors = append(errors, c.validatePlanner()...)
	errors = append(errors, c.validateProvider()...)
	errors = append(errors, c.validateMemory()...)
	errors = append(errors, c.validateLogging()...)

	return errors
}

func (c *Config) validateExecutor() []ValidationError {
	var errors []ValidationError

	if c.Executor.MaxParallel < 1 {
		errors = append(errors, ValidationError{
			Field:   "executor.max_parallel",
			Value:   c.Executor.MaxParallel,
			Message: "must be at least 1",
		})
	}
	if c.Executor.StepTimeoutSeconds < 0 {
		errors = append(errors, ValidationError{
			Field:   "executor.step_timeout_seconds",
			Value:   c.Executor.StepTimeoutSeconds,
			Message: "must be 0 (disabled) or positive",
		})
	}
	if c.Executor.RetryBudget < 0 {
		errors = append(errors, ValidationError{
			Field:   "executor.retry_budget",
			Value:   c.Executor.RetryBudget,
			Message: "must be 0 or positive",
		})
	}

	return errors
}

func (c *Config) validateReplan() []ValidationError {
	var errors []ValidationError

	if c.Replan.MaxRounds < 0 {
		errors = append(errors, ValidationError{
			Field:   "replan.max_rounds",
			Value:   c.Replan.MaxRounds,
			Message: "must be 0 (replanning disabled) or positive",
		})
	}

	return errors
}

func (c *Config) validatePlanner() []ValidationError {
	var errors []ValidationError

	if !slices.Contains(ValidStrategies(), c.Planner.Strategy) {
		errors = append(errors, ValidationError{
			Field:   "planner.strategy",
			Value:   c.Planner.Strategy,
			Message: fmt.Sprintf("must be one of: %s", strings.Join(ValidStrategies(), ", ")),
		})
	}
	if c.Planner.Strategy == "htn" && c.Planner.DomainFile == "" {
		errors = append(errors, ValidationError{
			Field:   "planner.domain_file",
			Value:   c.Planner.DomainFile,
			Message: "required when planner.strategy is htn",
		})
	}

	return errors
}

func (c *Config) validateProvider() []ValidationError {
	var errors []ValidationError

	if !slices.Contains(ValidProviderBackends(), c.Provider.Backend) {
		errors = append(errors, ValidationError{
			Field:   "provider.backend",
			Value:   c.Provider.Backend,
			Message: fmt.Sprintf("must be one of: %s", strings.Join(ValidProviderBackends(), ", ")),
		})
	}
	if c.Provider.Backend != "none" && c.Provider.Model == "" {
		errors = append(errors, ValidationError{
			Field:   "provider.model",
			Value:   c.Provider.Model,
			Message: fmt.Sprintf("required when provider.backend is %q", c.Provider.Backend),
		})
	}
	if c.Planner.Strategy == "generative" && c.Provider.Backend == "none" {
		errors = append(errors, ValidationError{
			Field:   "provider.backend",
			Value:   c.Provider.Backend,
			Message: "a provider backend is required when planner.strategy is generative",
		})
	}

	return errors
}

func (c *Config) validateMemory() []ValidationError {
	var errors []ValidationError

	if !slices.Contains(ValidMemoryBackends(), c.Memory.Backend) {
		errors = append(errors, ValidationError{
			Field:   "memory.backend",
			Value:   c.Memory.Backend,
			Message: fmt.Sprintf("must be one of: %s", strings.Join(ValidMemoryBackends(), ", ")),
		})
	}

	return errors
}

func (c *Config) validateLogging() []ValidationError {
	var errors []ValidationError

	if !slices.Contains(ValidLogLevels(), strings.ToLower(c.Logging.Level)) {
		errors = append(errors, ValidationError{
			Field:   "logging.level",
			Value:   c.Logging.Level,
			Message: fmt.Sprintf("must be one of: %s", strings.Join(ValidLogLevels(), ", ")),
		})
	}
	if c.Logging.MaxSizeMB < 0 {
		errors = append(errors, ValidationError{
			Field:   "logging.max_size_mb",
			Value:   c.Logging.MaxSizeMB,
			Message: "must be 0 (rotation disabled) or positive",
		})
	}
	if c.Logging.MaxBackups < 0 {
		errors = append(errors, ValidationError{
			Field:   "logging.max_backups",
			Value:   c.Logging.MaxBackups,
			Message: "must be 0 or positive",
		})
	}

	return errors
}
