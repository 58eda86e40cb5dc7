package monitoring

import "github.com/core-tools/hsu-satellite/pkg/errors"

// ValidateRestartConfig validates restart configuration
func ValidateRestartConfig(config RestartConfig) error {
	switch config.Policy {
	case RestartNever, RestartOnFailure:
	default:
		return errors.NewValidationError("invalid restart policy: "+string(config.Policy), nil)
	}

	if config.MaxRetries < 0 {
		return errors.NewValidationError("max retries cannot be negative", nil)
	}

	if config.RetryDelay < 0 {
		return errors.NewValidationError("retry delay cannot be negative", nil)
	}

	if config.BackoffRate < 1.0 {
		return errors.NewValidationError("backoff rate must be at least 1.0", nil)
	}

	return nil
}

// ValidateHealthMonitorConfig validates the unit health monitor configuration
func ValidateHealthMonitorConfig(config HealthMonitorConfig) error {
	if !config.Enabled {
		return nil
	}

	if config.Interval <= 0 {
		return errors.NewValidationError("health monitor interval must be positive", nil)
	}

	if config.InitialDelay < 0 {
		return errors.NewValidationError("health monitor initial delay cannot be negative", nil)
	}

	if err := ValidateRestartConfig(config.Restart); err != nil {
		return errors.NewValidationError("invalid restart configuration", err)
	}

	return nil
}
