// Package config defines the global configuration structure for the CLEAR25
// early-warning service. Configuration is loaded once at process startup and
// is immutable thereafter, following 12-Factor principles: code and
// configuration stay strictly separated.
//
// Values are resolved via a priority chain:
//
//	OS Environment (Highest) -> Dotenv File (Lowest)
//
// Any missing required value or invalid format causes startup to fail
// immediately.
package config

import (
	"time"

	"clear25/internal/types"
)

// SecretString is an alias for types.SecretString, the redacted secret type
// used throughout configuration to prevent accidental logging of sensitive
// values.
type SecretString = types.SecretString

// Config is the top-level configuration struct. It is populated once during
// process initialization and never modified. Sub-components receive only the
// specific config subsets they require.
type Config struct {
	// System Metadata
	Environment string `envconfig:"APP_ENV" validate:"required,oneof=local dev staging prod"`
	Service     string `envconfig:"SERVICE_NAME" default:"clear25"`
	LogLevel    string `envconfig:"LOG_LEVEL" default:"info"`

	// Domain Configurations
	Server        ServerConfig
	Database      DatabaseConfig
	Registry      RegistryConfig
	SensorNetwork SensorNetworkConfig
	Evaluation    EvaluationConfig
	Security      SecurityConfig

	// Build Metadata (Injected via ldflags, not Env)
	Build BuildInfo
}

// ServerConfig holds HTTP server settings.
type ServerConfig struct {
	Port            string        `envconfig:"PORT" default:"8080"`
	ReadTimeout     time.Duration `envconfig:"SERVER_READ_TIMEOUT" default:"10s"`
	WriteTimeout    time.Duration `envconfig:"SERVER_WRITE_TIMEOUT" default:"30s"`
	ShutdownTimeout time.Duration `envconfig:"SERVER_SHUTDOWN_TIMEOUT" default:"15s"`
}

// DatabaseConfig holds database connection and pool tuning parameters.
type DatabaseConfig struct {
	URL SecretString `envconfig:"DATABASE_URL" validate:"required,url"`

	// Tuning Parameters
	MaxConns        int           `envconfig:"DB_MAX_CONNS" default:"10"`
	MinConns        int           `envconfig:"DB_MIN_CONNS" default:"2"`
	MaxConnLifetime time.Duration `envconfig:"DB_MAX_CONN_LIFETIME" default:"30m"`
	AcquireTimeout  time.Duration `envconfig:"DB_ACQUIRE_TIMEOUT" default:"2s"`
}

// RegistryConfig holds settings for the station-registry workbook source.
type RegistryConfig struct {
	// DataDir is the directory containing one regression workbook per city.
	DataDir string `envconfig:"DATA_DIR" default:"data"`
}

// SensorNetworkConfig holds credentials and tuning for the outdoor sensor
// network API.
type SensorNetworkConfig struct {
	BaseURL string       `envconfig:"SENSOR_API_BASE_URL" validate:"required,url"`
	APIKey  SecretString `envconfig:"SENSOR_API_KEY" validate:"required"`

	// MaxAgeSeconds bounds how stale a sensor observation may be.
	MaxAgeSeconds int           `envconfig:"SENSOR_MAX_AGE_SECONDS" default:"3600"`
	Timeout       time.Duration `envconfig:"SENSOR_FETCH_TIMEOUT" default:"30s"`
}

// EvaluationConfig holds tuning for the evaluation cycle.
type EvaluationConfig struct {
	// SnapshotMinAge and SnapshotMaxAge bound the validity window for the
	// previous cycle's readings when checking sustained conditions.
	SnapshotMinAge time.Duration `envconfig:"SNAPSHOT_MIN_AGE" default:"20m"`
	SnapshotMaxAge time.Duration `envconfig:"SNAPSHOT_MAX_AGE" default:"3h"`
}

// SecurityConfig holds API access credentials.
type SecurityConfig struct {
	// APIKeys is the comma-separated list of static keys accepted on the
	// public read endpoints.
	APIKeys []SecretString `envconfig:"API_KEYS" validate:"required,min=1"`
	// CronSecret gates the internal refresh trigger.
	CronSecret SecretString `envconfig:"CRON_SECRET" validate:"required,min=16"`
}

// BuildInfo holds build-time metadata injected via ldflags.
// These values are NOT populated from environment variables.
type BuildInfo struct {
	Version   string
	Commit    string
	BuildTime string
}

// ConfigErrorType categorizes configuration loading failures to aid debugging.
type ConfigErrorType string

const (
	// ErrValidation indicates the configuration failed struct validation rules.
	ErrValidation ConfigErrorType = "VALIDATION_FAILED"
	// ErrParsing indicates a failure when parsing environment variable values
	// into their target types.
	ErrParsing ConfigErrorType = "PARSING_FAILED"
)
