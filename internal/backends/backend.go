// Package backends provides the sources a reference manager reads category
// documents from: the local filesystem, GitHub legacy repositories, a
// PRIMARY service over HTTP and a Redis cache in front of the filesystem.
package backends

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/haidra-org/horde-model-reference/internal/legacy"
	"github.com/haidra-org/horde-model-reference/internal/models"
)

var (
	// ErrUnavailable is returned when a category document cannot be produced.
	ErrUnavailable = errors.New("category unavailable")

	// ErrModelNotFound is returned when deleting a model that does not exist.
	ErrModelNotFound = errors.New("model not found")

	// ErrReplicaMode is returned when a PRIMARY-only operation runs in REPLICA mode.
	ErrReplicaMode = errors.New("operation requires PRIMARY mode")

	// ErrWrongMode is returned when a backend is constructed for a mode it does not serve.
	ErrWrongMode = errors.New("backend does not support this replicate mode")

	// ErrReadOnly is returned by backends that do not support writes.
	ErrReadOnly = errors.New("backend is read-only")

	// ErrLegacyWritesDisabled is returned when legacy writes are attempted
	// while the canonical format is v2.
	ErrLegacyWritesDisabled = errors.New("legacy writes require canonical_format=legacy")

	// ErrBackendPrefix is returned when writing a backend-prefixed text model.
	ErrBackendPrefix = errors.New("backend-prefixed text models are derived and cannot be written")

	// ErrDownloadDisabled is returned when GitHub downloads are not allowed.
	ErrDownloadDisabled = errors.New("github downloads disabled")
)

// ReplicateMode is the role of a deployment.
type ReplicateMode string

const (
	ModePrimary ReplicateMode = "PRIMARY"
	ModeReplica ReplicateMode = "REPLICA"
)

// ParseReplicateMode parses a mode name, case-insensitively.
func ParseReplicateMode(s string) (ReplicateMode, error) {
	switch ReplicateMode(strings.ToUpper(strings.TrimSpace(s))) {
	case ModePrimary:
		return ModePrimary, nil
	case ModeReplica:
		return ModeReplica, nil
	}
	return "", fmt.Errorf("invalid replicate mode %q (must be PRIMARY or REPLICA)", s)
}

// CanonicalFormat is the format that is the source of truth on a PRIMARY.
type CanonicalFormat string

const (
	FormatV2     CanonicalFormat = "v2"
	FormatLegacy CanonicalFormat = "legacy"
)

// InvalidationFunc is called with the category whenever it is marked stale.
type InvalidationFunc func(c models.Category)

// Backend is a source of category documents.
type Backend interface {
	// Name identifies the backend in logs and metadata ledgers.
	Name() string
	Mode() ReplicateMode

	// FetchCategory returns the v2 document of a category, refreshing it
	// first when the cache is invalid or force is set.
	FetchCategory(ctx context.Context, c models.Category, force bool) (models.RawDocument, error)
	// FetchAllCategories returns every category; unavailable ones map to nil.
	FetchAllCategories(ctx context.Context, force bool) (map[models.Category]models.RawDocument, error)

	NeedsRefresh(c models.Category) bool
	MarkStale(c models.Category)
	RegisterInvalidationCallback(fn InvalidationFunc)

	LegacyJSON(ctx context.Context, c models.Category, redownload bool) (legacy.Document, error)
	LegacyJSONString(ctx context.Context, c models.Category, redownload bool) (string, error)

	SupportsWrites() bool
	SupportsLegacyWrites() bool

	UpdateModel(ctx context.Context, c models.Category, rec *models.ModelRecord) error
	DeleteModel(ctx context.Context, c models.Category, name string) error
	UpdateModelLegacy(ctx context.Context, c models.Category, name string, raw json.RawMessage) error
	DeleteModelLegacy(ctx context.Context, c models.Category, name string) error

	// CategoryFilePath is the on-disk v2 path of a category, or "".
	CategoryFilePath(c models.Category) string

	Close() error
}

// CacheWarmer is implemented by backends that can preload their cache.
type CacheWarmer interface {
	WarmCache(ctx context.Context) error
}

// HealthChecker is implemented by backends with an external dependency.
type HealthChecker interface {
	HealthCheck(ctx context.Context) error
}

// StatisticsProvider is implemented by backends that report runtime statistics.
type StatisticsProvider interface {
	Statistics(ctx context.Context) (map[string]any, error)
}

// SupportsCacheWarming reports whether b implements CacheWarmer.
func SupportsCacheWarming(b Backend) bool {
	_, ok := b.(CacheWarmer)
	return ok
}

// SupportsHealthChecks reports whether b implements HealthChecker.
func SupportsHealthChecks(b Backend) bool {
	_, ok := b.(HealthChecker)
	return ok
}

// SupportsStatistics reports whether b implements StatisticsProvider.
func SupportsStatistics(b Backend) bool {
	_, ok := b.(StatisticsProvider)
	return ok
}

// readOnly implements the write half of Backend for REPLICA backends.
type readOnly struct{}

func (readOnly) SupportsWrites() bool       { return false }
func (readOnly) SupportsLegacyWrites() bool { return false }

func (readOnly) UpdateModel(context.Context, models.Category, *models.ModelRecord) error {
	return ErrReadOnly
}

func (readOnly) DeleteModel(context.Context, models.Category, string) error { return ErrReadOnly }

func (readOnly) UpdateModelLegacy(context.Context, models.Category, string, json.RawMessage) error {
	return ErrReadOnly
}

func (readOnly) DeleteModelLegacy(context.Context, models.Category, string) error {
	return ErrReadOnly
}
