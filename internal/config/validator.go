package config

import (
	"fmt"
	"os"
	"strings"

	"github.com/spf13/viper"
)

// ValidateConfig validates configuration values and returns an error if any are invalid.
// This function should be called after viper has loaded the configuration.
func ValidateConfig() error {
	var errors []string

	// Timeouts and intervals are configured in whole seconds and must be positive.
	for _, key := range []string{"pip_timeout", "npm_timeout", "stop_grace", "restart_delay", "sample_interval"} {
		if viper.IsSet(key) {
			if v := viper.GetInt(key); v <= 0 {
				errors = append(errors, fmt.Sprintf("%s must be positive, got: %d", key, v))
			}
		}
	}

	// Resource limits must be positive.
	if viper.IsSet("memory_max") {
		if v := viper.GetInt("memory_max"); v <= 0 {
			errors = append(errors, fmt.Sprintf("memory_max must be positive, got: %d", v))
		}
	}
	if viper.IsSet("cpu_quota") {
		if v := viper.GetInt("cpu_quota"); v <= 0 {
			errors = append(errors, fmt.Sprintf("cpu_quota must be positive, got: %d", v))
		}
	}
	if viper.IsSet("max_bots_per_user") {
		if v := viper.GetInt("max_bots_per_user"); v <= 0 {
			errors = append(errors, fmt.Sprintf("max_bots_per_user must be positive, got: %d", v))
		}
	}
	if viper.IsSet("log_history") {
		if v := viper.GetInt("log_history"); v <= 0 {
			errors = append(errors, fmt.Sprintf("log_history must be positive, got: %d", v))
		}
	}

	// Validate metrics_port (if set, must be in valid range 1-65535)
	if viper.IsSet("metrics_port") {
		port := viper.GetInt("metrics_port")
		if port < 1 || port > 65535 {
			errors = append(errors, fmt.Sprintf("metrics_port must be between 1 and 65535, got: %d", port))
		}
	}

	// Validate db.type (only sqlite and postgres backends exist)
	if viper.IsSet("db.type") {
		t := strings.ToLower(viper.GetString("db.type"))
		switch t {
		case "", "sqlite", "sqlite3", "postgres", "postgresql":
		default:
			errors = append(errors, fmt.Sprintf("db.type must be sqlite or postgres, got: %s", t))
		}
	}

	// If there are any errors, return them
	if len(errors) > 0 {
		errorMsg := errors[0]
		for i := 1; i < len(errors); i++ {
			errorMsg += "\n  " + errors[i]
		}
		return fmt.Errorf("configuration validation failed:\n  %s", errorMsg)
	}

	return nil
}

// ValidateAndExit validates the configuration and exits with a non-zero code if validation fails.
// This is a convenience function that prints errors to stderr and exits.
func ValidateAndExit() {
	if err := ValidateConfig(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}
