// Package retention removes day files that no longer belong to the store.
//
// The store deletes a day file itself when the day leaves the retention
// window. The Manager covers what that misses: files left behind by an
// earlier process, interrupted temp writes and, when archiving is enabled,
// Parquet archives beyond the configured count.
package retention

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/xtxerr/salesdb/internal/storage/dayfile"
)

// Config configures a Manager.
type Config struct {
	// DataDir holds the day_<id>.bin files.
	DataDir string

	// ArchiveDir holds the day_<id>.parquet archives. Empty disables
	// archive pruning.
	ArchiveDir string

	// ArchiveKeep is how many archives to keep, newest first. Zero keeps all.
	ArchiveKeep int
}

// Manager sweeps stale day files.
type Manager struct {
	mu     sync.Mutex
	config Config
	stats  Stats
}

// Stats holds retention statistics.
type Stats struct {
	LastRunTime  time.Time
	FilesDeleted int64
	BytesFreed   int64
	FilesSkipped int64
	Errors       int64
}

// SweepResult holds the result of a sweep.
type SweepResult struct {
	FilesDeleted int
	BytesFreed   int64
	FilesSkipped int
	Errors       []error
}

func (r *SweepResult) add(o SweepResult) {
	r.FilesDeleted += o.FilesDeleted
	r.BytesFreed += o.BytesFreed
	r.FilesSkipped += o.FilesSkipped
	r.Errors = append(r.Errors, o.Errors...)
}

// New creates a new retention manager.
func New(cfg Config) *Manager {
	return &Manager{config: cfg}
}

// Sweep deletes every day file in the data directory whose ID keep rejects,
// every leftover temp file and, if configured, the oldest archives.
// A nil keep deletes all day files.
func (m *Manager) Sweep(keep func(dayID int) bool) SweepResult {
	return m.run(keep, false)
}

// DryRun reports what Sweep would delete without deleting anything.
func (m *Manager) DryRun(keep func(dayID int) bool) SweepResult {
	return m.run(keep, true)
}

func (m *Manager) run(keep func(dayID int) bool, dryRun bool) SweepResult {
	m.mu.Lock()
	defer m.mu.Unlock()

	var result SweepResult
	result.add(m.sweepDayFiles(keep, dryRun))
	if m.config.ArchiveDir != "" && m.config.ArchiveKeep > 0 {
		result.add(m.pruneArchives(dryRun))
	}

	if !dryRun {
		m.stats.LastRunTime = time.Now()
		m.stats.FilesDeleted += int64(result.FilesDeleted)
		m.stats.BytesFreed += result.BytesFreed
		m.stats.FilesSkipped += int64(result.FilesSkipped)
		m.stats.Errors += int64(len(result.Errors))
	}
	return result
}

func (m *Manager) sweepDayFiles(keep func(int) bool, dryRun bool) SweepResult {
	var result SweepResult

	files, err := listFiles(m.config.DataDir)
	if err != nil {
		if !os.IsNotExist(err) {
			result.Errors = append(result.Errors, fmt.Errorf("list files: %w", err))
		}
		return result
	}

	for _, f := range files {
		switch {
		case strings.Contains(f.name, ".tmp-"):
			// interrupted dayfile.Write
		case filepath.Ext(f.name) == ".bin":
			id, ok := dayfile.ParseName(f.name)
			if !ok || (keep != nil && keep(id)) {
				result.FilesSkipped++
				continue
			}
		default:
			result.FilesSkipped++
			continue
		}
		m.remove(f, dryRun, &result)
	}
	return result
}

// pruneArchives keeps the ArchiveKeep archives with the highest day IDs.
func (m *Manager) pruneArchives(dryRun bool) SweepResult {
	var result SweepResult

	files, err := listFiles(m.config.ArchiveDir)
	if err != nil {
		if !os.IsNotExist(err) {
			result.Errors = append(result.Errors, fmt.Errorf("list archives: %w", err))
		}
		return result
	}

	type archived struct {
		file fileInfo
		id   int
	}
	var archives []archived
	for _, f := range files {
		id, ok := parseArchiveName(f.name)
		if !ok {
			result.FilesSkipped++
			continue
		}
		archives = append(archives, archived{file: f, id: id})
	}

	sort.Slice(archives, func(i, j int) bool { return archives[i].id > archives[j].id })
	for i, a := range archives {
		if i < m.config.ArchiveKeep {
			result.FilesSkipped++
			continue
		}
		m.remove(a.file, dryRun, &result)
	}
	return result
}

func (m *Manager) remove(f fileInfo, dryRun bool, result *SweepResult) {
	if !dryRun {
		if err := os.Remove(f.path); err != nil {
			result.Errors = append(result.Errors, fmt.Errorf("delete %s: %w", f.path, err))
			return
		}
	}
	result.FilesDeleted++
	result.BytesFreed += f.size
}

func parseArchiveName(name string) (int, bool) {
	if filepath.Ext(name) != ".parquet" {
		return 0, false
	}
	return dayfile.ParseName(strings.TrimSuffix(name, ".parquet") + ".bin")
}

// fileInfo holds information about a file.
type fileInfo struct {
	name string
	path string
	size int64
}

// listFiles lists the regular files of a directory in name order.
func listFiles(dir string) ([]fileInfo, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, err
	}

	var files []fileInfo
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		info, err := entry.Info()
		if err != nil {
			continue
		}
		files = append(files, fileInfo{
			name: entry.Name(),
			path: filepath.Join(dir, entry.Name()),
			size: info.Size(),
		})
	}

	sort.Slice(files, func(i, j int) bool {
		return files[i].name < files[j].name
	})
	return files, nil
}

// Stats returns cumulative statistics.
func (m *Manager) Stats() Stats {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.stats
}

// DiskUsage holds disk usage information.
type DiskUsage struct {
	FileCount int
	TotalSize int64
}

// DiskUsage returns the usage of day files and archives.
func (m *Manager) DiskUsage() (days, archives DiskUsage) {
	return usage(m.config.DataDir, ".bin"), usage(m.config.ArchiveDir, ".parquet")
}

func usage(dir, ext string) DiskUsage {
	var u DiskUsage
	if dir == "" {
		return u
	}
	files, err := listFiles(dir)
	if err != nil {
		return u
	}
	for _, f := range files {
		if filepath.Ext(f.name) == ext {
			u.FileCount++
			u.TotalSize += f.size
		}
	}
	return u
}

// FormatDiskUsage returns a formatted string of disk usage.
func (m *Manager) FormatDiskUsage() string {
	days, archives := m.DiskUsage()
	return fmt.Sprintf("Disk Usage:\n  days: %d files, %s\n  archives: %d files, %s\n",
		days.FileCount, formatBytes(days.TotalSize),
		archives.FileCount, formatBytes(archives.TotalSize))
}

// formatBytes formats bytes as human-readable string.
func formatBytes(b int64) string {
	const (
		KB = 1024
		MB = 1024 * KB
		GB = 1024 * MB
		TB = 1024 * GB
	)

	switch {
	case b >= TB:
		return fmt.Sprintf("%.2f TB", float64(b)/float64(TB))
	case b >= GB:
		return fmt.Sprintf("%.2f GB", float64(b)/float64(GB))
	case b >= MB:
		return fmt.Sprintf("%.2f MB", float64(b)/float64(MB))
	case b >= KB:
		return fmt.Sprintf("%.2f KB", float64(b)/float64(KB))
	default:
		return fmt.Sprintf("%d B", b)
	}
}
