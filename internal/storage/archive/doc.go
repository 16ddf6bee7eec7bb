// Package archive writes aged-out days to Parquet files.
//
// When a day leaves the retention window its events are flattened into one
// row per event and written to <archive_dir>/day_<id>.parquet before the day
// file is deleted. Archives are write-only from the store's point of view;
// ReadDay exists for offline inspection and tests.
package archive
