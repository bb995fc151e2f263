// Package config loads and validates orchestrator settings from the
// environment.
package config

import (
	"errors"
	"fmt"
	"time"

	"github.com/caarlos0/env/v11"
)

// Config holds configuration settings for the orchestrator
type Config struct {
	// API Server
	APIHost  string `env:"API_HOST" envDefault:"0.0.0.0"`
	APIPort  int    `env:"API_PORT" envDefault:"8000"`
	Env      string `env:"ENV" envDefault:"local"`
	LogLevel string `env:"LOG_LEVEL" envDefault:"info"`

	// Auth
	JWTSecret string `env:"JWT_SECRET" envDefault:"insecure-local-secret"`

	// Rate limiting (redis-backed)
	RedisAddr     string `env:"REDIS_ADDR" envDefault:"localhost:6379"`
	RedisPassword string `env:"REDIS_PASSWORD"`
	RedisDB       int    `env:"REDIS_DB" envDefault:"0"`
	RatePerMinute int    `env:"RATE_LIMIT_PER_IP_RPM" envDefault:"100"`
	RateBurst     int    `env:"RATE_LIMIT_BURST_PER_SECOND" envDefault:"10"`

	// Downstream calls
	CallTimeout   time.Duration `env:"CALL_TIMEOUT" envDefault:"15s"`
	HealthTimeout time.Duration `env:"HEALTH_TIMEOUT" envDefault:"5s"`

	// Circuit breaker
	BreakerThreshold int           `env:"BREAKER_FAILURE_THRESHOLD" envDefault:"5"`
	BreakerRecovery  time.Duration `env:"BREAKER_RECOVERY_WINDOW" envDefault:"30s"`

	// Audit
	AuditQueueSize int `env:"AUDIT_QUEUE_SIZE" envDefault:"1024"`

	// Tracing
	TraceEnabled bool `env:"TRACE_ENABLED" envDefault:"false"`

	// Shutdown
	ShutdownTimeout time.Duration `env:"SHUTDOWN_TIMEOUT" envDefault:"10s"`
}

const MaxTCPPort = 65535

var (
	ErrInvalidAPIPort          = errors.New("invalid API port")
	ErrInvalidCallTimeout      = errors.New("call timeout must be positive")
	ErrInvalidHealthTimeout    = errors.New("health timeout must be positive")
	ErrInvalidBreakerThreshold = errors.New(
		"breaker failure threshold must be positive",
	)
	ErrInvalidBreakerRecovery = errors.New(
		"breaker recovery window must be positive",
	)
	ErrInvalidRateLimit      = errors.New("rate limits must be positive")
	ErrInvalidAuditQueueSize = errors.New("audit queue size must be positive")
	ErrInsecureJWTSecret     = errors.New(
		"JWT_SECRET must be set outside local environments",
	)
)

// insecureDefaultSecret is only acceptable when ENV is local
const insecureDefaultSecret = "insecure-local-secret"

// Load populates a Config from environment variables and validates it
func Load() (*Config, error) {
	cfg := &Config{}
	if err := env.Parse(cfg); err != nil {
		return nil, fmt.Errorf("parse env: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// NewDefaultConfig creates a configuration with sensible defaults for all
// orchestrator settings
func NewDefaultConfig() *Config {
	return &Config{
		APIHost:          "0.0.0.0",
		APIPort:          8000,
		Env:              "local",
		LogLevel:         "info",
		JWTSecret:        insecureDefaultSecret,
		RedisAddr:        "localhost:6379",
		RatePerMinute:    100,
		RateBurst:        10,
		CallTimeout:      15 * time.Second,
		HealthTimeout:    5 * time.Second,
		BreakerThreshold: 5,
		BreakerRecovery:  30 * time.Second,
		AuditQueueSize:   1024,
		ShutdownTimeout:  10 * time.Second,
	}
}

// Validate checks that all configuration values are valid
func (c *Config) Validate() error {
	if c.APIPort <= 0 || c.APIPort > MaxTCPPort {
		return fmt.Errorf("%w: %d", ErrInvalidAPIPort, c.APIPort)
	}
	if c.CallTimeout <= 0 {
		return ErrInvalidCallTimeout
	}
	if c.HealthTimeout <= 0 {
		return ErrInvalidHealthTimeout
	}
	if c.BreakerThreshold <= 0 {
		return ErrInvalidBreakerThreshold
	}
	if c.BreakerRecovery <= 0 {
		return ErrInvalidBreakerRecovery
	}
	if c.RatePerMinute <= 0 || c.RateBurst <= 0 {
		return ErrInvalidRateLimit
	}
	if c.AuditQueueSize <= 0 {
		return ErrInvalidAuditQueueSize
	}
	if c.Env != "local" && c.JWTSecret == insecureDefaultSecret {
		return ErrInsecureJWTSecret
	}
	return nil
}
