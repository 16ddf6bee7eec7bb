// Package loader handles configuration file loading, validation, and application.
//
// This package is responsible for:
//   - Loading YAML configuration files
//   - Expanding environment variables
//   - Converting the file representation into engine and auth configs
//   - Watching the file for runtime-adjustable settings
package loader

import (
	"fmt"
	"os"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/xtxerr/salesdb/internal/auth"
	"github.com/xtxerr/salesdb/internal/errors"
	storageconfig "github.com/xtxerr/salesdb/internal/storage/config"
)

// Environment variables that override file values.
const (
	EnvListen    = "SALESDB_LISTEN"
	EnvDataDir   = "SALESDB_DATA_DIR"
	EnvRedisAddr = "SALESDB_REDIS_ADDR"
)

// =============================================================================
// Load
// =============================================================================

// Load loads configuration from a YAML file. An empty path yields the
// defaults. Environment overrides are applied on top.
func Load(path string) (*Config, error) {
	cfg := DefaultConfig()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("read config: %w", err)
		}

		// Expand environment variables
		expanded := os.ExpandEnv(string(data))

		if err := yaml.Unmarshal([]byte(expanded), cfg); err != nil {
			return nil, fmt.Errorf("parse config: %w", err)
		}
	}

	cfg.ApplyEnv(os.LookupEnv)
	return cfg, nil
}

// ApplyEnv overrides file values from the environment. lookup is usually
// os.LookupEnv.
func (c *Config) ApplyEnv(lookup func(string) (string, bool)) {
	if v, ok := lookup(EnvListen); ok && v != "" {
		c.Server.Listen = v
	}
	if v, ok := lookup(EnvDataDir); ok && v != "" {
		c.Storage.DataDir = v
	}
	if v, ok := lookup(EnvRedisAddr); ok && v != "" {
		c.Auth.Redis.Addr = v
		c.Auth.Backend = BackendRedis
	}
}

// =============================================================================
// Validate
// =============================================================================

// Validate validates the configuration.
func Validate(cfg *Config) error {
	errs := errors.NewValidationErrors()

	// Server validation
	if cfg.Server.Listen == "" {
		errs.AddField("server.listen", "cannot be empty")
	}
	if cfg.Server.MaxFrameSize.Bytes() < 8 {
		errs.AddField("server.max_frame_size", "must hold at least the frame header")
	}
	if cfg.Server.ShutdownTimeout < 0 {
		errs.AddField("server.shutdown_timeout", "must not be negative")
	}

	// Auth validation
	switch strings.ToLower(cfg.Auth.Backend) {
	case BackendMemory, "":
	case BackendRedis:
		if cfg.Auth.Redis.Addr == "" {
			errs.AddField("auth.redis.addr", "cannot be empty with the redis backend")
		}
	default:
		errs.AddField("auth.backend", fmt.Sprintf("unknown backend %q", cfg.Auth.Backend))
	}
	if cfg.Auth.BcryptCost != 0 && (cfg.Auth.BcryptCost < 4 || cfg.Auth.BcryptCost > 31) {
		errs.AddField("auth.bcrypt_cost", "must be between 4 and 31")
	}
	if cfg.Auth.RateLimitPerMinute < 0 {
		errs.AddField("auth.rate_limit_per_minute", "must not be negative")
	}

	// Storage validation is owned by the engine config.
	if err := ToStorageConfig(&cfg.Storage).Validate(); err != nil {
		errs.AddField("storage", err.Error())
	}

	// Metrics validation
	if cfg.Metrics.Enabled && cfg.Metrics.Listen == "" {
		errs.AddField("metrics.listen", "cannot be empty when enabled")
	}

	switch strings.ToLower(cfg.Logging.Format) {
	case "", "text", "json":
	default:
		errs.AddField("logging.format", "must be text or json")
	}

	return errs.Err()
}

// =============================================================================
// Conversion
// =============================================================================

// ToStorageConfig converts the storage section to the engine config.
func ToStorageConfig(cfg *StorageConfig) *storageconfig.Config {
	sweep := true
	if cfg.SweepOnStart != nil {
		sweep = *cfg.SweepOnStart
	}

	return &storageconfig.Config{
		DataDir:        cfg.DataDir,
		RetentionDays:  cfg.RetentionDays,
		ResidentDays:   cfg.ResidentDays,
		SketchAccuracy: cfg.SketchAccuracy,
		DayLength:      cfg.DayLength.Duration(),
		SweepOnStart:   sweep,
		Archive: storageconfig.ArchiveConfig{
			Enabled:     cfg.Archive.Enabled,
			Dir:         cfg.Archive.Dir,
			Compression: cfg.Archive.Compression,
			Keep:        cfg.Archive.Keep,
		},
	}
}

// ToRedisConfig converts the auth section to the redis directory config.
func ToRedisConfig(cfg *AuthConfig) auth.RedisConfig {
	return auth.RedisConfig{
		Addr:     cfg.Redis.Addr,
		Password: cfg.Redis.Password,
		DB:       cfg.Redis.DB,
		Key:      cfg.Redis.Key,
		Cost:     cfg.BcryptCost,
	}
}
