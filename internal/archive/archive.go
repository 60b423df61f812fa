// Package archive moves the results of earlier runs out of the way.
package archive

import (
	"fmt"
	"os"
	"path/filepath"
	"time"
)

// ArchiveOutputs moves outputDir to <parent>/archive/<name>-<timestamp> and
// returns the new location. A missing or empty outputDir is left alone and
// yields an empty path.
func ArchiveOutputs(outputDir string, now time.Time) (string, error) {
	entries, err := os.ReadDir(outputDir)
	if os.IsNotExist(err) {
		return "", nil
	}
	if err != nil {
		return "", fmt.Errorf("failed to read output directory: %w", err)
	}
	if len(entries) == 0 {
		return "", nil
	}

	cleaned := filepath.Clean(outputDir)
	archiveDir := filepath.Join(filepath.Dir(cleaned), "archive")
	if err := os.MkdirAll(archiveDir, 0755); err != nil {
		return "", fmt.Errorf("failed to create archive directory: %w", err)
	}

	base := filepath.Base(cleaned)
	archivePath := filepath.Join(archiveDir, fmt.Sprintf("%s-%s", base, now.Format("20060102-150405")))

	// Two runs within the same second
	if _, err := os.Stat(archivePath); err == nil {
		archivePath = filepath.Join(archiveDir, fmt.Sprintf("%s-%s", base, now.Format("20060102-150405.000000")))
	}

	if err := os.Rename(cleaned, archivePath); err != nil {
		return "", fmt.Errorf("failed to archive output directory: %w", err)
	}
	return archivePath, nil
}
