package snapshot

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"

	"github.com/haidra-org/horde-model-reference/internal/atomicfile"
)

// FileTarget keeps a snapshot in a local file.
type FileTarget struct {
	path   string
	logger *slog.Logger
}

// NewFileTarget creates a target writing to path.
func NewFileTarget(path string, logger *slog.Logger) *FileTarget {
	return &FileTarget{path: path, logger: logger}
}

// Push replaces the snapshot file atomically.
func (t *FileTarget) Push(_ context.Context, data []byte) error {
	if err := atomicfile.Write(t.path, data, t.logger); err != nil {
		t.logger.Error("Snapshot write failed", "path", t.path, "error", err)
		return fmt.Errorf("%w: %v", ErrStorageUnavailable, err)
	}
	t.logger.Info("Snapshot written", "path", t.path, "size_bytes", len(data))
	return nil
}

// Pull reads the snapshot file.
func (t *FileTarget) Pull(_ context.Context) ([]byte, error) {
	data, err := os.ReadFile(t.path)
	if errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, t.path)
	}
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrStorageUnavailable, err)
	}
	return data, nil
}

// Exists reports whether the snapshot file exists.
func (t *FileTarget) Exists(_ context.Context) (bool, error) {
	_, err := os.Stat(t.path)
	if errors.Is(err, os.ErrNotExist) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("%w: %v", ErrStorageUnavailable, err)
	}
	return true, nil
}

func (t *FileTarget) String() string { return "file://" + t.path }
