// Package config holds the configuration of the storage engine.
package config

import (
	"os"
	"path/filepath"
	"time"

	defaults "github.com/xtxerr/salesdb/config"
)

// Config represents the complete storage configuration.
type Config struct {
	// DataDir is the directory holding the day files of closed days.
	DataDir string

	// RetentionDays (D) is how many closed days are kept.
	RetentionDays int

	// ResidentDays (S) bounds how many closed days hold raw events in memory.
	ResidentDays int

	// SketchAccuracy is the relative accuracy of price quantile sketches.
	SketchAccuracy float64

	// DayLength closes the current day automatically when positive.
	// Zero leaves rollover to explicit AdvanceDay calls.
	DayLength time.Duration

	// SweepOnStart removes day files left behind by an earlier process.
	SweepOnStart bool

	// Archive configures Parquet archiving of aged-out days.
	Archive ArchiveConfig
}

// ArchiveConfig configures Parquet archiving of aged-out days.
type ArchiveConfig struct {
	// Enabled archives a day before its day file is deleted.
	Enabled bool

	// Dir is the archive directory. Defaults to {DataDir}/archive.
	Dir string

	// Compression is the algorithm: snappy, zstd, lz4, gzip, none.
	Compression string

	// Keep bounds the number of archives kept. Zero keeps all.
	Keep int
}

// DefaultConfig returns a configuration with sensible defaults.
func DefaultConfig() *Config {
	return &Config{
		DataDir:        defaults.DefaultDataDir,
		RetentionDays:  defaults.DefaultRetentionDays,
		ResidentDays:   defaults.DefaultResidentDays,
		SketchAccuracy: defaults.DefaultSketchAccuracy,
		SweepOnStart:   true,
		Archive: ArchiveConfig{
			Compression: "zstd",
		},
	}
}

// ArchiveDir returns the effective archive directory.
func (c *Config) ArchiveDir() string {
	if c.Archive.Dir != "" {
		return c.Archive.Dir
	}
	return filepath.Join(c.DataDir, "archive")
}

// EnsureDirectories creates the data and archive directories.
func (c *Config) EnsureDirectories() error {
	if err := os.MkdirAll(c.DataDir, 0755); err != nil {
		return err
	}
	if c.Archive.Enabled {
		return os.MkdirAll(c.ArchiveDir(), 0755)
	}
	return nil
}
