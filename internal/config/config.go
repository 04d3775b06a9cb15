// Package config loads gateway configuration from the environment, with an
// optional .env file for development.
package config

import (
	"fmt"
	"net/url"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/joho/godotenv"
	"github.com/rs/zerolog"
)

// Config holds all gateway configuration. Priority: environment variables
// over .env file over defaults.
type Config struct {
	// Core
	AdminToken       string `env:"IRONSTREAM_ADMIN_TOKEN,required"`
	APIEndpoint      string `env:"IRONSTREAM_API_ENDPOINT,required"`
	RateLimitCount   int    `env:"IRONSTREAM_RATE_LIMIT_COUNT" envDefault:"100"`
	RateLimitSeconds int    `env:"IRONSTREAM_RATE_LIMIT_SECONDS" envDefault:"60"`
	Port             int    `env:"IRONSTREAM_PORT" envDefault:"3113"`

	// Optional global connection-attempt guard (0 disables)
	GlobalConnRate  float64 `env:"IRONSTREAM_GLOBAL_CONN_RATE" envDefault:"0"`
	GlobalConnBurst int     `env:"IRONSTREAM_GLOBAL_CONN_BURST" envDefault:"0"`

	// Optional idle-channel sweeper (interval 0 disables)
	ChannelSweepInterval time.Duration `env:"IRONSTREAM_CHANNEL_SWEEP_INTERVAL" envDefault:"0"`
	ChannelIdleTTL       time.Duration `env:"IRONSTREAM_CHANNEL_IDLE_TTL" envDefault:"10m"`

	// HTTP server
	HTTPReadTimeout  time.Duration `env:"IRONSTREAM_HTTP_READ_TIMEOUT" envDefault:"10s"`
	HTTPWriteTimeout time.Duration `env:"IRONSTREAM_HTTP_WRITE_TIMEOUT" envDefault:"10s"`
	HTTPIdleTimeout  time.Duration `env:"IRONSTREAM_HTTP_IDLE_TIMEOUT" envDefault:"60s"`

	// Shutdown
	DrainGracePeriod time.Duration `env:"IRONSTREAM_DRAIN_GRACE_PERIOD" envDefault:"30s"`

	// Logging
	LogLevel  string `env:"LOG_LEVEL" envDefault:"info"`
	LogFormat string `env:"LOG_FORMAT" envDefault:"json"`
}

// Load reads configuration from a .env file (when present) and the
// environment, then validates it.
func Load(logger *zerolog.Logger) (*Config, error) {
	if err := godotenv.Load(); err != nil {
		// Absence of .env is normal outside development.
		if logger != nil {
			logger.Debug().Msg("No .env file found, using environment variables only")
		}
	} else if logger != nil {
		logger.Info().Msg("Loaded configuration from .env file")
	}

	cfg := &Config{}
	if err := env.Parse(cfg); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}
	return cfg, nil
}

// Validate checks the configuration for errors.
func (c *Config) Validate() error {
	if c.AdminToken == "" {
		return fmt.Errorf("IRONSTREAM_ADMIN_TOKEN must be non-empty")
	}
	u, err := url.Parse(c.APIEndpoint)
	if err != nil || !u.IsAbs() || (u.Scheme != "http" && u.Scheme != "https") {
		return fmt.Errorf("IRONSTREAM_API_ENDPOINT must be an absolute HTTP URL, got %q", c.APIEndpoint)
	}
	if c.RateLimitCount < 1 {
		return fmt.Errorf("IRONSTREAM_RATE_LIMIT_COUNT must be > 0, got %d", c.RateLimitCount)
	}
	if c.RateLimitSeconds < 1 {
		return fmt.Errorf("IRONSTREAM_RATE_LIMIT_SECONDS must be > 0, got %d", c.RateLimitSeconds)
	}
	if c.Port < 1 || c.Port > 65535 {
		return fmt.Errorf("IRONSTREAM_PORT must be 1-65535, got %d", c.Port)
	}
	if c.GlobalConnRate < 0 {
		return fmt.Errorf("IRONSTREAM_GLOBAL_CONN_RATE must be >= 0, got %g", c.GlobalConnRate)
	}
	if c.ChannelSweepInterval < 0 || c.ChannelIdleTTL < 0 {
		return fmt.Errorf("channel sweep settings must be >= 0")
	}
	return nil
}

// Addr is the listen address derived from Port.
func (c *Config) Addr() string {
	return fmt.Sprintf(":%d", c.Port)
}

// RateWindow is the fixed-window duration for the admission limiter.
func (c *Config) RateWindow() time.Duration {
	return time.Duration(c.RateLimitSeconds) * time.Second
}

// LogStartup writes a human-scannable summary of the effective configuration.
// The admin token is never logged.
func (c *Config) LogStartup(logger zerolog.Logger) {
	logger.Info().
		Int("port", c.Port).
		Str("api_endpoint", c.APIEndpoint).
		Int("rate_limit_count", c.RateLimitCount).
		Int("rate_limit_seconds", c.RateLimitSeconds).
		Float64("global_conn_rate", c.GlobalConnRate).
		Dur("channel_sweep_interval", c.ChannelSweepInterval).
		Str("log_level", c.LogLevel).
		Msg("Configuration loaded")
}
