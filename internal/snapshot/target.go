package snapshot

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
)

var (
	// ErrNotFound is returned when a target holds no snapshot.
	ErrNotFound = errors.New("snapshot not found")

	// ErrStorageUnavailable is returned when a target cannot be reached or
	// written.
	ErrStorageUnavailable = errors.New("snapshot storage unavailable")

	// ErrTokenRequired is returned when a scheme needs a token and none was
	// provided.
	ErrTokenRequired = errors.New("snapshot token required")
)

// Target stores one encoded snapshot bundle.
type Target interface {
	Push(ctx context.Context, data []byte) error
	Pull(ctx context.Context) ([]byte, error)
	Exists(ctx context.Context) (bool, error)
	String() string
}

// NewTarget creates the target for a URI scheme:
//   - file:// -> FileTarget
//   - s3:// or s3+http:// -> S3Target
//   - oci:// -> OCITarget (requires token)
func NewTarget(ctx context.Context, uri *URI, token string, logger *slog.Logger) (Target, error) {
	switch {
	case uri.IsFile():
		if token != "" {
			logger.Warn("Snapshot token provided but file targets do not use authentication",
				"path", uri.Path)
		}
		return NewFileTarget(uri.Path, logger), nil

	case uri.IsOCI():
		if token == "" {
			return nil, fmt.Errorf("%w: OCI snapshots require a token (--token or HORDE_MODEL_REFERENCE_SNAPSHOT_TOKEN)", ErrTokenRequired)
		}
		return NewOCITarget(uri, token, logger)

	case uri.IsS3():
		return NewS3Target(ctx, uri, token, logger)

	default:
		return nil, fmt.Errorf("unsupported snapshot scheme: %s", uri.Scheme)
	}
}
