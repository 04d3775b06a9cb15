package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func validConfig() *Config {
	return &Config{
		AdminToken:       "secret",
		APIEndpoint:      "http://auth.internal/check",
		RateLimitCount:   100,
		RateLimitSeconds: 60,
		Port:             3113,
	}
}

func TestLoadDefaults(t *testing.T) {
	t.Setenv("IRONSTREAM_ADMIN_TOKEN", "secret")
	t.Setenv("IRONSTREAM_API_ENDPOINT", "http://auth.internal/check")

	cfg, err := Load(nil)
	require.NoError(t, err)
	assert.Equal(t, 100, cfg.RateLimitCount)
	assert.Equal(t, 60, cfg.RateLimitSeconds)
	assert.Equal(t, 3113, cfg.Port)
	assert.Equal(t, ":3113", cfg.Addr())
	assert.Equal(t, time.Minute, cfg.RateWindow())
	assert.Equal(t, "info", cfg.LogLevel)
	assert.Zero(t, cfg.ChannelSweepInterval, "sweeper disabled by default")
	assert.Zero(t, cfg.GlobalConnRate, "global guard disabled by default")
}

func TestLoadMissingRequired(t *testing.T) {
	t.Setenv("IRONSTREAM_ADMIN_TOKEN", "")
	t.Setenv("IRONSTREAM_API_ENDPOINT", "")

	_, err := Load(nil)
	assert.Error(t, err)
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
		ok     bool
	}{
		{"valid", func(c *Config) {}, true},
		{"https endpoint", func(c *Config) { c.APIEndpoint = "https://auth/check" }, true},
		{"empty token", func(c *Config) { c.AdminToken = "" }, false},
		{"relative endpoint", func(c *Config) { c.APIEndpoint = "/check" }, false},
		{"bad scheme", func(c *Config) { c.APIEndpoint = "ftp://auth" }, false},
		{"zero rate count", func(c *Config) { c.RateLimitCount = 0 }, false},
		{"zero rate window", func(c *Config) { c.RateLimitSeconds = 0 }, false},
		{"port zero", func(c *Config) { c.Port = 0 }, false},
		{"port too high", func(c *Config) { c.Port = 70000 }, false},
		{"negative global rate", func(c *Config) { c.GlobalConnRate = -1 }, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := validConfig()
			tt.mutate(cfg)
			err := cfg.Validate()
			if tt.ok {
				assert.NoError(t, err)
			} else {
				assert.Error(t, err)
			}
		})
	}
}
