package journal

import (
	"fmt"
	"os"
	"path/filepath"
	"time"
)

// Cleanup removes journal files older than the retention period
func Cleanup(dir string, config Config) error {
	files := listOldJournalFiles(dir, config)
	return removeFiles(files)
}

// CleanupStats tracks cleanup operation results
type CleanupStats struct {
	FilesRemoved  int
	BytesFreed    int64
	OldestRemoved time.Time
	NewestRemoved time.Time
}

// CleanupWithStats removes old files and returns statistics
func CleanupWithStats(dir string, config Config) (CleanupStats, error) {
	stats := CleanupStats{}
	files := listOldJournalFiles(dir, config)

	if len(files) == 0 {
		return stats, nil
	}

	stats.FilesRemoved = len(files)
	stats.BytesFreed = calculateTotalSize(files)
	stats.OldestRemoved, stats.NewestRemoved = findTimeRange(files)

	err := removeFiles(files)
	return stats, err
}

// listOldJournalFiles finds journal files older than retention period
func listOldJournalFiles(dir string, config Config) []string {
	cutoff := time.Now().AddDate(0, 0, -config.RetentionDays)
	allFiles := findAllJournalFiles(dir, config.FilePrefix)
	return filterOldFiles(allFiles, cutoff)
}

// findAllJournalFiles returns all journal files in directory
func findAllJournalFiles(dir, prefix string) []string {
	pattern := filepath.Join(dir, prefix+"-*.journal")
	files, err := filepath.Glob(pattern)
	if err != nil {
		return nil
	}
	return files
}

// filterOldFiles returns only files older than cutoff time
func filterOldFiles(files []string, cutoff time.Time) []string {
	var oldFiles []string
	for _, file := range files {
		if isOlderThan(file, cutoff) {
			oldFiles = append(oldFiles, file)
		}
	}
	return oldFiles
}

// isOlderThan checks if file modification time is before cutoff
func isOlderThan(path string, cutoff time.Time) bool {
	info, err := os.Stat(path)
	if err != nil {
		return false
	}
	return info.ModTime().Before(cutoff)
}

// removeFiles deletes all files in the list
func removeFiles(files []string) error {
	for _, file := range files {
		if err := os.Remove(file); err != nil {
			return fmt.Errorf("failed to remove %s: %w", file, err)
		}
	}
	return nil
}

// calculateTotalSize sums file sizes
func calculateTotalSize(files []string) int64 {
	var total int64
	for _, file := range files {
		info, err := os.Stat(file)
		if err == nil {
			total += info.Size()
		}
	}
	return total
}

// findTimeRange returns oldest and newest file modification times
func findTimeRange(files []string) (oldest, newest time.Time) {
	for i, file := range files {
		info, err := os.Stat(file)
		if err != nil {
			continue
		}

		modTime := info.ModTime()
		if i == 0 {
			oldest = modTime
			newest = modTime
			continue
		}

		if modTime.Before(oldest) {
			oldest = modTime
		}
		if modTime.After(newest) {
			newest = modTime
		}
	}

	return oldest, newest
}
