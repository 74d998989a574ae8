// Package config loads the service configuration from the environment.
package config

import (
	"fmt"
	"time"

	"github.com/joho/godotenv"
	"github.com/kelseyhightower/envconfig"
)

// Environment represents different deployment environments
type Environment string

const (
	EnvDevelopment Environment = "development"
	EnvTesting     Environment = "testing"
	EnvProduction  Environment = "production"
)

// Prefix is prepended to every variable, e.g. SCOREBOARD_HTTP_PORT.
const Prefix = "SCOREBOARD"

// Store drivers.
const (
	DriverMemory   = "memory"
	DriverRedis    = "redis"
	DriverSQLite   = "sqlite"
	DriverPostgres = "postgres"
	DriverHTTP     = "http"
)

// Config holds the configuration for the server and headless participants.
type Config struct {
	Environment Environment `envconfig:"ENVIRONMENT" default:"development"`
	LogLevel    string      `envconfig:"LOG_LEVEL" default:"info"`

	// HTTP Configuration
	HTTPPort   int    `envconfig:"HTTP_PORT" default:"8888"`
	PublicHost string `envconfig:"PUBLIC_HOST" default:""`

	// Storage
	StoreDriver    string        `envconfig:"STORE_DRIVER" default:"memory"`
	RedisURL       string        `envconfig:"REDIS_URL" default:""`
	SQLitePath     string        `envconfig:"SQLITE_PATH" default:""`
	PostgresDSN    string        `envconfig:"POSTGRES_DSN" default:""`
	StoreURL       string        `envconfig:"STORE_URL" default:""`
	PersistTimeout time.Duration `envconfig:"PERSIST_TIMEOUT" default:"2s"`
	RetryInterval  time.Duration `envconfig:"RETRY_INTERVAL" default:"5s"`
	HealthInterval time.Duration `envconfig:"HEALTH_INTERVAL" default:"2s"`

	// Presence
	SweepInterval time.Duration `envconfig:"SWEEP_INTERVAL" default:"1s"`
	CursorTTL     time.Duration `envconfig:"CURSOR_TTL" default:"5s"`
	StrokeTTL     time.Duration `envconfig:"STROKE_TTL" default:"30s"`

	// Rendering
	FrameInterval  time.Duration `envconfig:"FRAME_INTERVAL" default:"16ms"`
	SurfaceIdleTTL time.Duration `envconfig:"SURFACE_IDLE_TTL" default:"60s"`
	MemoryBudgetMB int64         `envconfig:"MEMORY_BUDGET_MB" default:"500"`

	// Reconnect
	ReconnectBase     time.Duration `envconfig:"RECONNECT_BASE" default:"1s"`
	ReconnectMax      time.Duration `envconfig:"RECONNECT_MAX" default:"30s"`
	ReconnectAttempts int           `envconfig:"RECONNECT_ATTEMPTS" default:"5"`

	MDNSEnabled bool `envconfig:"MDNS_ENABLED" default:"true"`
}

// Validate checks ranges and that the selected driver has its DSN.
func (c *Config) Validate() error {
	if c.HTTPPort <= 0 || c.HTTPPort > 65535 {
		return fmt.Errorf("invalid HTTP_PORT: %d", c.HTTPPort)
	}
	switch c.StoreDriver {
	case DriverMemory:
	case DriverRedis:
		if c.RedisURL == "" {
			return fmt.Errorf("STORE_DRIVER=redis requires REDIS_URL")
		}
	case DriverSQLite:
		if c.SQLitePath == "" {
			return fmt.Errorf("STORE_DRIVER=sqlite requires SQLITE_PATH")
		}
	case DriverPostgres:
		if c.PostgresDSN == "" {
			return fmt.Errorf("STORE_DRIVER=postgres requires POSTGRES_DSN")
		}
	case DriverHTTP:
		if c.StoreURL == "" {
			return fmt.Errorf("STORE_DRIVER=http requires STORE_URL")
		}
	default:
		return fmt.Errorf("unsupported STORE_DRIVER: %s", c.StoreDriver)
	}
	if c.StrokeTTL <= 0 || c.CursorTTL <= 0 {
		return fmt.Errorf("CURSOR_TTL and STROKE_TTL must be positive")
	}
	if c.ReconnectAttempts <= 0 {
		return fmt.Errorf("invalid RECONNECT_ATTEMPTS: %d", c.ReconnectAttempts)
	}
	if c.ReconnectMax < c.ReconnectBase {
		return fmt.Errorf("RECONNECT_MAX (%s) is below RECONNECT_BASE (%s)", c.ReconnectMax, c.ReconnectBase)
	}
	return nil
}

// New loads an optional .env file, then parses SCOREBOARD_ variables.
func New() (*Config, error) {
	_ = godotenv.Load()
	return Load()
}

// Load parses the environment without reading .env.
func Load() (*Config, error) {
	var cfg Config
	if err := envconfig.Process(Prefix, &cfg); err != nil {
		return nil, fmt.Errorf("failed to process environment variables: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// NewForTesting creates a config specifically for testing
func NewForTesting() *Config {
	return &Config{
		Environment:       EnvTesting,
		LogLevel:          "debug",
		HTTPPort:          8888,
		StoreDriver:       DriverMemory,
		PersistTimeout:    time.Second,
		RetryInterval:     time.Second,
		HealthInterval:    time.Second,
		SweepInterval:     time.Second,
		CursorTTL:         5 * time.Second,
		StrokeTTL:         30 * time.Second,
		FrameInterval:     16 * time.Millisecond,
		SurfaceIdleTTL:    60 * time.Second,
		MemoryBudgetMB:    500,
		ReconnectBase:     time.Second,
		ReconnectMax:      30 * time.Second,
		ReconnectAttempts: 5,
	}
}

// IsTesting returns true if the environment is set to testing
func (c *Config) IsTesting() bool {
	return c.Environment == EnvTesting
}

// IsProduction returns true if the environment is set to production
func (c *Config) IsProduction() bool {
	return c.Environment == EnvProduction
}

// GetHTTPAddr returns the HTTP server address
func (c *Config) GetHTTPAddr() string {
	return fmt.Sprintf(":%d", c.HTTPPort)
}

// MemoryBudget is the surface memory budget in bytes.
func (c *Config) MemoryBudget() int64 {
	return c.MemoryBudgetMB << 20
}
