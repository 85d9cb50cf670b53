package config

import (
	"errors"
	"io/fs"
	"os"
	"strconv"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/joho/godotenv"
)

// Load reads an optional TOML configuration file at path, merges it on top
// of the defaults and applies environment overrides. A missing file is not
// an error. The returned Config has NOT been validated.
func Load(path string) (*Config, error) {
	cfg := Defaults()

	if path != "" {
		if _, err := toml.DecodeFile(path, &cfg); err != nil && !errors.Is(err, fs.ErrNotExist) {
			return nil, err
		}
	}

	// Load .env file if present (silently ignore if missing).
	_ = godotenv.Load()

	applyEnvOverrides(&cfg)

	return &cfg, nil
}

// applyEnvOverrides reads SAMSA_* variables, plus the plain PORT,
// DATABASE_URL and REDIS_URL names most platforms inject.
func applyEnvOverrides(cfg *Config) {
	setStr(&cfg.Server.Port, "PORT")
	setStr(&cfg.Server.Port, "SAMSA_SERVER_PORT")
	setDuration(&cfg.Server.ShutdownTimeout, "SAMSA_SERVER_SHUTDOWN_TIMEOUT")

	setFloat64(&cfg.Engine.PlatformFee, "SAMSA_ENGINE_PLATFORM_FEE")
	setFloat64(&cfg.Engine.DefaultLiquidity, "SAMSA_ENGINE_DEFAULT_LIQUIDITY")
	setFloat64(&cfg.Engine.DefaultProbability, "SAMSA_ENGINE_DEFAULT_PROBABILITY")

	setFloat64(&cfg.Limits.MaxPerMarket, "SAMSA_LIMITS_MAX_PER_MARKET")
	setFloat64(&cfg.Limits.MaxCorrelated, "SAMSA_LIMITS_MAX_CORRELATED")

	setStr(&cfg.Database.URL, "DATABASE_URL")
	setStr(&cfg.Database.URL, "SAMSA_DATABASE_URL")
	setBool(&cfg.Database.RunMigrations, "SAMSA_DATABASE_RUN_MIGRATIONS")

	setStr(&cfg.Redis.URL, "REDIS_URL")
	setStr(&cfg.Redis.URL, "SAMSA_REDIS_URL")
	setDuration(&cfg.Redis.CacheTTL, "SAMSA_REDIS_CACHE_TTL")

	setStr(&cfg.S3.Endpoint, "SAMSA_S3_ENDPOINT")
	setStr(&cfg.S3.Region, "SAMSA_S3_REGION")
	setStr(&cfg.S3.Bucket, "SAMSA_S3_BUCKET")
	setStr(&cfg.S3.AccessKey, "SAMSA_S3_ACCESS_KEY")
	setStr(&cfg.S3.SecretKey, "SAMSA_S3_SECRET_KEY")
	setBool(&cfg.S3.ForcePathStyle, "SAMSA_S3_FORCE_PATH_STYLE")
	setStr(&cfg.S3.Prefix, "SAMSA_S3_PREFIX")
	setDuration(&cfg.S3.Interval, "SAMSA_S3_INTERVAL")

	setStr(&cfg.LogLevel, "SAMSA_LOG_LEVEL")
}

// Typed env-var helpers. Each only mutates the target when the variable is
// present, non-empty and parses.

func setStr(dst *string, key string) {
	if v := os.Getenv(key); v != "" {
		*dst = v
	}
}

func setFloat64(dst *float64, key string) {
	if v := os.Getenv(key); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			*dst = f
		}
	}
}

func setBool(dst *bool, key string) {
	if v := os.Getenv(key); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			*dst = b
		}
	}
}

func setDuration(dst *Duration, key string) {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			dst.Duration = d
		}
	}
}
