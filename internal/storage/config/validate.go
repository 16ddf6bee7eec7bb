package config

import (
	"errors"
	"fmt"
)

// Validate checks the configuration for errors.
func (c *Config) Validate() error {
	var errs []error

	if c.DataDir == "" {
		errs = append(errs, errors.New("data_dir is required"))
	}
	if c.RetentionDays < 1 {
		errs = append(errs, errors.New("retention_days must be at least 1"))
	}
	if c.ResidentDays < 1 {
		errs = append(errs, errors.New("resident_days must be at least 1"))
	}
	if c.SketchAccuracy <= 0 || c.SketchAccuracy >= 1 {
		errs = append(errs, errors.New("sketch_accuracy must be between 0 and 1"))
	}
	if c.DayLength < 0 {
		errs = append(errs, errors.New("day_length must not be negative"))
	}

	if err := c.Archive.Validate(); err != nil {
		errs = append(errs, fmt.Errorf("archive: %w", err))
	}

	if len(errs) > 0 {
		return errors.Join(errs...)
	}
	return nil
}

// Validate checks the archive configuration.
func (c *ArchiveConfig) Validate() error {
	var errs []error

	validAlgorithms := map[string]bool{
		"snappy": true,
		"zstd":   true,
		"lz4":    true,
		"gzip":   true,
		"none":   true,
		"":       true, // Empty means none
	}
	if !validAlgorithms[c.Compression] {
		errs = append(errs, fmt.Errorf("compression must be one of: snappy, zstd, lz4, gzip, none"))
	}
	if c.Keep < 0 {
		errs = append(errs, errors.New("keep must not be negative"))
	}

	if len(errs) > 0 {
		return errors.Join(errs...)
	}
	return nil
}
