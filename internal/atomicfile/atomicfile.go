// Package atomicfile writes files so that readers never observe a partial
// document.
package atomicfile

import (
	"bytes"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
)

// sizeWarnBytes is the size above which a write is logged as unusually large.
const sizeWarnBytes = 50 * 1024 * 1024

// Write replaces path with data: temp file + fsync, then the current target
// is moved to path.bak, the temp file renamed into place and the backup
// removed. On failure the backup is restored. The temp file never survives.
func Write(path string, data []byte, logger *slog.Logger) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("failed to create directory: %w", err)
	}

	tempFile, err := os.CreateTemp(dir, "."+filepath.Base(path)+".*.tmp")
	if err != nil {
		return fmt.Errorf("failed to create temp file: %w", err)
	}
	tempPath := tempFile.Name()
	defer func() {
		if tempFile != nil {
			tempFile.Close()
		}
		os.Remove(tempPath)
	}()

	if _, err := tempFile.Write(data); err != nil {
		return fmt.Errorf("failed to write temp file: %w", err)
	}
	if err := tempFile.Sync(); err != nil {
		return fmt.Errorf("failed to sync temp file: %w", err)
	}
	if err := tempFile.Close(); err != nil {
		return fmt.Errorf("failed to close temp file: %w", err)
	}
	tempFile = nil

	backupPath := path + ".bak"
	hadTarget := false
	if _, err := os.Stat(path); err == nil {
		hadTarget = true
		_ = os.Remove(backupPath)
		if err := os.Rename(path, backupPath); err != nil {
			return fmt.Errorf("failed to back up target: %w", err)
		}
	}

	if err := os.Rename(tempPath, path); err != nil {
		if hadTarget {
			if _, statErr := os.Stat(path); errors.Is(statErr, os.ErrNotExist) {
				if restoreErr := os.Rename(backupPath, path); restoreErr != nil && logger != nil {
					logger.Error("Failed to restore backup", "path", path, "error", restoreErr)
				}
			}
		}
		return fmt.Errorf("failed to rename temp file: %w", err)
	}

	if hadTarget {
		_ = os.Remove(backupPath)
	}

	if logger != nil && len(data) > sizeWarnBytes {
		logger.Warn("File size exceeds recommended threshold",
			"path", path,
			"current_size_mb", float64(len(data))/(1024*1024),
			"threshold_mb", sizeWarnBytes/(1024*1024))
	}
	return nil
}

// WriteIfChanged calls Write only when the current content differs, so an
// unchanged document keeps its mtime. It reports whether a write happened.
func WriteIfChanged(path string, data []byte, logger *slog.Logger) (bool, error) {
	if existing, err := os.ReadFile(path); err == nil && bytes.Equal(existing, data) {
		return false, nil
	}
	if err := Write(path, data, logger); err != nil {
		return false, err
	}
	return true, nil
}
