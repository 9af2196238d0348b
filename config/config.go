// Package config loads runtime configuration from the environment and
// an optional .env file. Library packages take plain values; viper is
// confined to this edge.
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

type Config struct {
	Env                string        `mapstructure:"ENV"`
	LogLevel           string        `mapstructure:"LOG_LEVEL"`
	FHIRServerURL      string        `mapstructure:"FHIR_SERVER_URL"`
	TerminologyURL     string        `mapstructure:"TERMINOLOGY_SERVER_URL"`
	ProfileServerURLs  []string      `mapstructure:"PROFILE_SERVER_URLS"`
	DatabaseURL        string        `mapstructure:"DATABASE_URL"`
	RequestTimeout     time.Duration `mapstructure:"REQUEST_TIMEOUT"`
	WorkerCount        int           `mapstructure:"WORKER_COUNT"`
	BatchSize          int           `mapstructure:"BATCH_SIZE"`
	SubBatchSize       int           `mapstructure:"SUB_BATCH_SIZE"`
	ProfileCacheSize   int           `mapstructure:"PROFILE_CACHE_SIZE"`
	ProfileCacheTTL    time.Duration `mapstructure:"PROFILE_CACHE_TTL"`
	SkipUnchanged      bool          `mapstructure:"SKIP_UNCHANGED"`
	ExternalValidation bool          `mapstructure:"EXTERNAL_VALIDATION"`
}

func Load() (*Config, error) {
	v := viper.New()
	v.SetConfigFile(".env")
	v.AutomaticEnv()

	// Defaults
	v.SetDefault("ENV", "development")
	v.SetDefault("LOG_LEVEL", "info")
	v.SetDefault("REQUEST_TIMEOUT", "30s")
	v.SetDefault("WORKER_COUNT", 4)
	v.SetDefault("BATCH_SIZE", 1000)
	v.SetDefault("SUB_BATCH_SIZE", 50)
	v.SetDefault("PROFILE_CACHE_SIZE", 256)
	v.SetDefault("PROFILE_CACHE_TTL", "10m")
	v.SetDefault("SKIP_UNCHANGED", true)

	// Bind env vars explicitly so Unmarshal picks them up
	v.BindEnv("ENV")
	v.BindEnv("LOG_LEVEL")
	v.BindEnv("FHIR_SERVER_URL")
	v.BindEnv("TERMINOLOGY_SERVER_URL")
	v.BindEnv("PROFILE_SERVER_URLS")
	v.BindEnv("DATABASE_URL")
	v.BindEnv("REQUEST_TIMEOUT")
	v.BindEnv("WORKER_COUNT")
	v.BindEnv("BATCH_SIZE")
	v.BindEnv("SUB_BATCH_SIZE")
	v.BindEnv("PROFILE_CACHE_SIZE")
	v.BindEnv("PROFILE_CACHE_TTL")
	v.BindEnv("SKIP_UNCHANGED")
	v.BindEnv("EXTERNAL_VALIDATION")

	// Try reading .env file, but don't fail if missing
	_ = v.ReadInConfig()

	cfg := &Config{}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}

	if cfg.ProfileServerURLs == nil {
		urls := v.GetString("PROFILE_SERVER_URLS")
		if urls != "" {
			cfg.ProfileServerURLs = strings.Split(urls, ",")
		}
	}

	if cfg.WorkerCount <= 0 {
		return nil, fmt.Errorf("WORKER_COUNT must be positive, got %d", cfg.WorkerCount)
	}
	if cfg.BatchSize <= 0 || cfg.SubBatchSize <= 0 {
		return nil, fmt.Errorf("batch sizes must be positive, got %d/%d", cfg.BatchSize, cfg.SubBatchSize)
	}

	return cfg, nil
}

// IsDev reports whether the process runs in development mode.
func (c *Config) IsDev() bool {
	return c.Env == "development"
}

// HasDatabase reports whether a PostgreSQL store is configured. Without
// it the in-memory store is used.
func (c *Config) HasDatabase() bool {
	return c.DatabaseURL != ""
}
