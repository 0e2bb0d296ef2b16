package config

import (
	"errors"
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// Default values for Config.
const (
	DefaultDriver         = "sim"
	DefaultControllerPort = 30200
	DefaultSampleTimeMS   = 5
	DefaultJoinTimeoutMS  = 1000
	DefaultNATSURL        = "nats://127.0.0.1:4222"
	DefaultServerPort     = 8090
	DefaultLogLevel       = "info"
)

// Controller service band, inclusive. Mirrors the bridge's validation
// so a bad config fails at load time rather than at connect time.
const (
	ControllerPortMin = 30200
	ControllerPortMax = 30209
)

// DefaultConfig returns a Config with sensible default values.
func DefaultConfig() Config {
	return Config{
		Controller: Controller{
			Driver:        DefaultDriver,
			Port:          DefaultControllerPort,
			SampleTimeMS:  DefaultSampleTimeMS,
			JoinTimeoutMS: DefaultJoinTimeoutMS,
		},
		NATS: NATS{
			URL: DefaultNATSURL,
		},
		Server: Server{
			Port: DefaultServerPort,
		},
		LogLevel: DefaultLogLevel,
	}
}

// ValidationError represents a configuration validation error.
type ValidationError struct {
	Field   string
	Message string
}

func (e ValidationError) Error() string {
	return fmt.Sprintf("validation error: %s: %s", e.Field, e.Message)
}

// IsValidationError checks if an error is a ValidationError.
func IsValidationError(err error) bool {
	var ve ValidationError
	return errors.As(err, &ve)
}

// Load reads and parses the config file at path. A missing file
// returns the default config; a present file is merged over the
// defaults and validated.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			cfg := DefaultConfig()
			return &cfg, nil
		}
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	cfg := DefaultConfig()
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}

	if err := Validate(&cfg); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate checks that all config values are valid.
func Validate(cfg *Config) error {
	if cfg.Controller.Port < ControllerPortMin || cfg.Controller.Port > ControllerPortMax {
		return ValidationError{
			Field:   "controller.port",
			Message: fmt.Sprintf("must be in [%d, %d]", ControllerPortMin, ControllerPortMax),
		}
	}
	if cfg.Controller.Driver == "" {
		return ValidationError{Field: "controller.driver", Message: "required field is empty"}
	}
	if cfg.Controller.SampleTimeMS <= 0 {
		return ValidationError{Field: "controller.sample_time_ms", Message: "must be positive"}
	}
	if cfg.Controller.JoinTimeoutMS <= 0 {
		return ValidationError{Field: "controller.join_timeout_ms", Message: "must be positive"}
	}
	if cfg.NATS.URL == "" {
		return ValidationError{Field: "nats.url", Message: "required field is empty"}
	}
	if cfg.Server.Port < 0 || cfg.Server.Port > 65535 {
		return ValidationError{Field: "server.port", Message: "must be between 0 and 65535"}
	}
	switch cfg.LogLevel {
	case "debug", "info", "warn", "error":
	default:
		return ValidationError{Field: "log_level", Message: "must be one of debug, info, warn, error"}
	}
	return nil
}
