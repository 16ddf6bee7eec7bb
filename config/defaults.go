// Package config provides configuration defaults for salesdb.
//
// Every value here can be overridden via the YAML config file, the
// environment or command-line flags.
package config

import "time"

// =============================================================================
// Network Defaults
// =============================================================================

const (
	// DefaultListenAddress is the default server listen address.
	// Override via config: server.listen
	DefaultListenAddress = "0.0.0.0:12345"

	// DefaultServerAddress is where salesctl connects by default.
	DefaultServerAddress = "localhost:12345"

	// DefaultMaxFrameSize limits a single frame (header included) to
	// prevent a malicious length prefix from allocating unbounded memory.
	// Override via config: server.max_frame_size
	DefaultMaxFrameSize = 16 * 1024 * 1024

	// DefaultShutdownTimeout bounds how long Shutdown waits for handlers.
	DefaultShutdownTimeout = 10 * time.Second

	// DefaultMetricsAddress serves /metrics when metrics are enabled.
	// Override via config: metrics.listen
	DefaultMetricsAddress = "127.0.0.1:9312"
)

// =============================================================================
// Retention Defaults
// =============================================================================

const (
	// DefaultRetentionDays (D) is how many closed days are kept.
	// Override via config: storage.retention_days
	DefaultRetentionDays = 10

	// DefaultResidentDays (S) bounds how many closed days may hold raw
	// events in memory at the same time.
	// Override via config: storage.resident_days
	DefaultResidentDays = 5

	// DefaultDataDir is where per-day files are written.
	// Override via config: storage.data_dir
	DefaultDataDir = "data"

	// DefaultSketchAccuracy is the relative accuracy of per-day price
	// quantile sketches.
	// Override via config: storage.sketch_accuracy
	DefaultSketchAccuracy = 0.01
)

// =============================================================================
// Auth Defaults
// =============================================================================

const (
	// DefaultAuthRateLimitPerMinute is the max FAILED logins per IP per minute.
	// Successful logins reset the counter.
	// Override via config: auth.rate_limit_per_minute
	DefaultAuthRateLimitPerMinute = 5

	// DefaultBcryptCost is the bcrypt work factor for stored passwords.
	// Override via config: auth.bcrypt_cost
	DefaultBcryptCost = 10

	// DefaultRedisKey is the hash holding users when the redis backend is used.
	DefaultRedisKey = "salesdb:users"
)

// =============================================================================
// Client Defaults
// =============================================================================

const (
	// DefaultConnectTimeout bounds dialing the server.
	DefaultConnectTimeout = 10 * time.Second
)
