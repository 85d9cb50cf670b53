// Package config defines the service configuration and its validation.
package config

import (
	"fmt"
	"strings"
	"time"
)

// Config is the root configuration structure. Fields are populated from a
// TOML file and then optionally overridden by SAMSA_* environment variables.
type Config struct {
	Server   ServerConfig   `toml:"server"`
	Engine   EngineConfig   `toml:"engine"`
	Limits   LimitsConfig   `toml:"limits"`
	Database DatabaseConfig `toml:"database"`
	Redis    RedisConfig    `toml:"redis"`
	S3       S3Config       `toml:"s3"`
	LogLevel string         `toml:"log_level"`
}

// ServerConfig holds HTTP server parameters.
type ServerConfig struct {
	Port            string   `toml:"port"`
	ShutdownTimeout Duration `toml:"shutdown_timeout"`
}

// EngineConfig holds pricing defaults.
type EngineConfig struct {
	PlatformFee        float64 `toml:"platform_fee"`
	DefaultLiquidity   float64 `toml:"default_liquidity"`
	DefaultProbability float64 `toml:"default_probability"`
}

// LimitsConfig holds per-user stake limits. Zero disables a limit.
type LimitsConfig struct {
	MaxPerMarket  float64 `toml:"max_per_market"`
	MaxCorrelated float64 `toml:"max_correlated"`
}

// DatabaseConfig holds the PostgreSQL connection. An empty URL selects the
// in-memory store.
type DatabaseConfig struct {
	URL           string `toml:"url"`
	RunMigrations bool   `toml:"run_migrations"`
}

// RedisConfig holds the optional cache connection.
type RedisConfig struct {
	URL      string   `toml:"url"`
	CacheTTL Duration `toml:"cache_ttl"`
}

// S3Config holds the snapshot archive target. An empty bucket disables
// archiving.
type S3Config struct {
	Endpoint       string   `toml:"endpoint"`
	Region         string   `toml:"region"`
	Bucket         string   `toml:"bucket"`
	AccessKey      string   `toml:"access_key"`
	SecretKey      string   `toml:"secret_key"`
	ForcePathStyle bool     `toml:"force_path_style"`
	Prefix         string   `toml:"prefix"`
	Interval       Duration `toml:"interval"`
}

// Enabled reports whether archiving is configured.
func (c S3Config) Enabled() bool {
	return c.Bucket != ""
}

// Duration wraps time.Duration so TOML strings like "30s" decode into it.
type Duration struct {
	time.Duration
}

func (d *Duration) UnmarshalText(text []byte) error {
	var err error
	d.Duration, err = time.ParseDuration(string(text))
	return err
}

func (d Duration) MarshalText() ([]byte, error) {
	return []byte(d.Duration.String()), nil
}

// Defaults returns a Config populated with the values the service runs
// with when nothing is configured.
func Defaults() Config {
	return Config{
		Server: ServerConfig{
			Port:            "8080",
			ShutdownTimeout: Duration{10 * time.Second},
		},
		Engine: EngineConfig{
			PlatformFee:        0.01,
			DefaultLiquidity:   100,
			DefaultProbability: 0.5,
		},
		Redis: RedisConfig{
			CacheTTL: Duration{30 * time.Second},
		},
		S3: S3Config{
			Region:   "us-east-1",
			Prefix:   "snapshots",
			Interval: Duration{5 * time.Minute},
		},
		LogLevel: "info",
	}
}

var validLogLevels = map[string]bool{
	"debug": true,
	"info":  true,
	"warn":  true,
	"error": true,
}

// Validate checks Config for invalid values and returns a combined error
// describing every problem found.
func (c *Config) Validate() error {
	var errs []string

	if !validLogLevels[strings.ToLower(c.LogLevel)] {
		errs = append(errs, fmt.Sprintf("unknown log_level %q (valid: debug, info, warn, error)", c.LogLevel))
	}

	if strings.TrimSpace(c.Server.Port) == "" {
		errs = append(errs, "server: port must not be empty")
	}
	if c.Server.ShutdownTimeout.Duration <= 0 {
		errs = append(errs, "server: shutdown_timeout must be > 0")
	}

	if c.Engine.PlatformFee < 0 || c.Engine.PlatformFee >= 1 {
		errs = append(errs, fmt.Sprintf("engine: platform_fee must be in [0, 1), got %v", c.Engine.PlatformFee))
	}
	if !(c.Engine.DefaultLiquidity > 0) {
		errs = append(errs, fmt.Sprintf("engine: default_liquidity must be > 0, got %v", c.Engine.DefaultLiquidity))
	}
	if !(c.Engine.DefaultProbability > 0 && c.Engine.DefaultProbability < 1) {
		errs = append(errs, fmt.Sprintf("engine: default_probability must be in (0, 1), got %v", c.Engine.DefaultProbability))
	}

	if c.Limits.MaxPerMarket < 0 {
		errs = append(errs, "limits: max_per_market must be >= 0")
	}
	if c.Limits.MaxCorrelated < 0 {
		errs = append(errs, "limits: max_correlated must be >= 0")
	}

	if c.Redis.URL != "" && c.Redis.CacheTTL.Duration <= 0 {
		errs = append(errs, "redis: cache_ttl must be > 0")
	}

	if c.S3.Enabled() {
		if c.S3.Region == "" {
			errs = append(errs, "s3: region must not be empty")
		}
		if c.S3.Interval.Duration <= 0 {
			errs = append(errs, "s3: interval must be > 0")
		}
	}

	if len(errs) > 0 {
		return fmt.Errorf("config validation failed:\n  - %s", strings.Join(errs, "\n  - "))
	}
	return nil
}
