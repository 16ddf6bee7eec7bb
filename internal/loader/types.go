// Package loader - Configuration Types
//
// Defines the YAML configuration structure for salesdbd.
//
//	server:   listen address, frame limit, shutdown
//	auth:     user directory backend, bcrypt cost, login rate limit
//	storage:  retention window, residency, day files, archive
//	metrics:  Prometheus endpoint
//	logging:  level and format
package loader

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	defaults "github.com/xtxerr/salesdb/config"
)

// =============================================================================
// Root Configuration
// =============================================================================

// Config is the root configuration structure for salesdbd.
type Config struct {
	Server  ServerConfig  `yaml:"server"`
	Auth    AuthConfig    `yaml:"auth"`
	Storage StorageConfig `yaml:"storage"`
	Metrics MetricsConfig `yaml:"metrics"`
	Logging LoggingConfig `yaml:"logging"`
}

// =============================================================================
// Server Configuration
// =============================================================================

// ServerConfig configures the TCP listener.
type ServerConfig struct {
	// Listen is the server listen address.
	// Format: "host:port" or ":port"
	// Default: "0.0.0.0:12345"
	Listen string `yaml:"listen"`

	// MaxFrameSize bounds a single inbound frame, header included.
	// Supports "16MB" style sizes. Default: 16MB
	MaxFrameSize ByteSize `yaml:"max_frame_size"`

	// ShutdownTimeout is how long shutdown waits for in-flight handlers.
	// Default: 10s
	ShutdownTimeout Duration `yaml:"shutdown_timeout"`
}

// =============================================================================
// Auth Configuration
// =============================================================================

// AuthConfig configures the user directory.
type AuthConfig struct {
	// Backend is "memory" (default) or "redis".
	Backend string `yaml:"backend"`

	// BcryptCost is the work factor for stored passwords.
	// Range: 4-31, Default: 10
	BcryptCost int `yaml:"bcrypt_cost"`

	// RateLimitPerMinute is the max failed logins per IP per minute.
	// After this limit, the IP is temporarily blocked.
	// Default: 5
	RateLimitPerMinute int `yaml:"rate_limit_per_minute"`

	// Redis configures the redis backend.
	Redis RedisConfig `yaml:"redis"`
}

// RedisConfig configures the redis user directory.
type RedisConfig struct {
	Addr string `yaml:"addr"`

	// Password is best supplied as "${SALESDB_REDIS_PASSWORD}".
	Password string `yaml:"password"`

	DB int `yaml:"db"`

	// Key is the hash holding username → bcrypt hash.
	// Default: "salesdb:users"
	Key string `yaml:"key"`
}

// =============================================================================
// Storage Configuration
// =============================================================================

// StorageConfig configures the retention engine.
type StorageConfig struct {
	// DataDir holds day_<id>.bin files.
	DataDir string `yaml:"data_dir"`

	// RetentionDays (D) is how many closed days are kept.
	RetentionDays int `yaml:"retention_days"`

	// ResidentDays (S) bounds how many closed days hold raw events in memory.
	ResidentDays int `yaml:"resident_days"`

	// SketchAccuracy is the relative accuracy of price quantiles.
	// Range: (0, 1), Default: 0.01
	SketchAccuracy float64 `yaml:"sketch_accuracy"`

	// DayLength closes the current day on a timer. Zero disables the timer;
	// days are then closed from the console or by SIGUSR1.
	DayLength Duration `yaml:"day_length"`

	// SweepOnStart removes day files left behind by an earlier process.
	// Default: true
	SweepOnStart *bool `yaml:"sweep_on_start"`

	// Archive configures Parquet archiving of aged-out days.
	Archive ArchiveConfig `yaml:"archive"`
}

// ArchiveConfig configures Parquet archiving.
type ArchiveConfig struct {
	Enabled bool `yaml:"enabled"`

	// Dir defaults to {data_dir}/archive.
	Dir string `yaml:"dir"`

	// Compression: snappy, zstd, lz4, gzip, none. Default: zstd
	Compression string `yaml:"compression"`

	// Keep bounds the number of archives. Zero keeps all.
	Keep int `yaml:"keep"`
}

// =============================================================================
// Metrics and Logging
// =============================================================================

// MetricsConfig configures the Prometheus endpoint.
type MetricsConfig struct {
	Enabled bool `yaml:"enabled"`

	// Listen is the HTTP address serving /metrics.
	// Default: "127.0.0.1:9312"
	Listen string `yaml:"listen"`
}

// LoggingConfig configures the global logger.
type LoggingConfig struct {
	// Level: debug, info, warn, error. Default: info
	Level string `yaml:"level"`

	// Format: text or json. Default: text
	Format string `yaml:"format"`
}

// JSON reports whether logs are written as JSON.
func (l LoggingConfig) JSON() bool {
	return strings.EqualFold(l.Format, "json")
}

// =============================================================================
// Defaults
// =============================================================================

// DefaultConfig returns a Config with sensible defaults.
func DefaultConfig() *Config {
	sweep := true
	return &Config{
		Server: ServerConfig{
			Listen:          defaults.DefaultListenAddress,
			MaxFrameSize:    ByteSize(defaults.DefaultMaxFrameSize),
			ShutdownTimeout: Duration(defaults.DefaultShutdownTimeout),
		},

		Auth: AuthConfig{
			Backend:            BackendMemory,
			BcryptCost:         defaults.DefaultBcryptCost,
			RateLimitPerMinute: defaults.DefaultAuthRateLimitPerMinute,
			Redis: RedisConfig{
				Addr: "localhost:6379",
				Key:  defaults.DefaultRedisKey,
			},
		},

		Storage: StorageConfig{
			DataDir:        defaults.DefaultDataDir,
			RetentionDays:  defaults.DefaultRetentionDays,
			ResidentDays:   defaults.DefaultResidentDays,
			SketchAccuracy: defaults.DefaultSketchAccuracy,
			SweepOnStart:   &sweep,
			Archive: ArchiveConfig{
				Compression: "zstd",
			},
		},

		Metrics: MetricsConfig{
			Listen: defaults.DefaultMetricsAddress,
		},

		Logging: LoggingConfig{
			Level:  "info",
			Format: "text",
		},
	}
}

// Auth backends.
const (
	BackendMemory = "memory"
	BackendRedis  = "redis"
)

// =============================================================================
// Custom Types
// =============================================================================

// Duration is a time.Duration that can be unmarshaled from YAML.
type Duration time.Duration

// UnmarshalYAML implements yaml.Unmarshaler. It accepts Go duration
// strings ("30s", "24h") and plain integers as seconds.
func (d *Duration) UnmarshalYAML(unmarshal func(interface{}) error) error {
	// A scalar like 90 also decodes into a string, so try int first.
	var i int64
	if err := unmarshal(&i); err == nil {
		*d = Duration(time.Duration(i) * time.Second)
		return nil
	}

	var s string
	if err := unmarshal(&s); err != nil {
		return err
	}
	dur, err := time.ParseDuration(s)
	if err != nil {
		return fmt.Errorf("duration %q: %w", s, err)
	}
	*d = Duration(dur)
	return nil
}

// Duration returns the time.Duration value.
func (d Duration) Duration() time.Duration {
	return time.Duration(d)
}

// ByteSize is a size in bytes that can be unmarshaled from YAML.
// Supports: "16MB", "1GB", "500KB", or plain bytes.
type ByteSize int64

// UnmarshalYAML implements yaml.Unmarshaler.
func (b *ByteSize) UnmarshalYAML(unmarshal func(interface{}) error) error {
	var s string
	if err := unmarshal(&s); err != nil {
		var i int64
		if err := unmarshal(&i); err != nil {
			return err
		}
		*b = ByteSize(i)
		return nil
	}
	size, err := parseByteSize(s)
	if err != nil {
		return err
	}
	*b = ByteSize(size)
	return nil
}

// parseByteSize parses a size string like "16MB" or "1GB".
func parseByteSize(s string) (int64, error) {
	s = strings.ToUpper(strings.TrimSpace(s))
	if s == "" {
		return 0, nil
	}

	// Longest suffix first so "MB" is not read as "B".
	units := []struct {
		suffix string
		mult   int64
	}{
		{"TB", 1 << 40},
		{"GB", 1 << 30},
		{"MB", 1 << 20},
		{"KB", 1 << 10},
		{"B", 1},
	}

	for _, u := range units {
		if strings.HasSuffix(s, u.suffix) {
			numStr := strings.TrimSpace(strings.TrimSuffix(s, u.suffix))
			n, err := strconv.ParseInt(numStr, 10, 64)
			if err != nil {
				return 0, fmt.Errorf("parse byte size %q: %w", s, err)
			}
			return n * u.mult, nil
		}
	}

	n, err := strconv.ParseInt(s, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("parse byte size %q: %w", s, err)
	}
	return n, nil
}

// Bytes returns the size in bytes.
func (b ByteSize) Bytes() int64 {
	return int64(b)
}
