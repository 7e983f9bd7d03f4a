package backends

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"sync"
	"time"

	"github.com/haidra-org/horde-model-reference/internal/atomicfile"
	"github.com/haidra-org/horde-model-reference/internal/legacy"
	"github.com/haidra-org/horde-model-reference/internal/metadata"
	"github.com/haidra-org/horde-model-reference/internal/models"
	"github.com/haidra-org/horde-model-reference/internal/paths"
)

// MetadataRecorder receives the operation ledger updates of write paths.
type MetadataRecorder interface {
	Record(ledger paths.Ledger, c models.Category, op metadata.Operation, model string, success bool, backend string, totalModels int) (*metadata.CategoryMetadata, error)
	RecordError(ledger paths.Ledger, c models.Category, backend string) error
	Ensure(ledger paths.Ledger, c models.Category, backend string) (*metadata.CategoryMetadata, error)
}

// FileSystemOptions configure a FileSystemBackend.
type FileSystemOptions struct {
	Layout          paths.Layout
	Mode            ReplicateMode
	CacheTTL        time.Duration
	CanonicalFormat CanonicalFormat
	// Metadata is optional; nil disables ledger updates.
	Metadata MetadataRecorder
	Logger   *slog.Logger
}

// FileSystemBackend serves the canonical documents of a PRIMARY from disk
// and is the only backend that writes them.
type FileSystemBackend struct {
	opts   FileSystemOptions
	logger *slog.Logger
	cache  *categoryCache

	// mu serializes refreshes and read-modify-write cycles.
	mu sync.Mutex
}

// NewFileSystemBackend creates a filesystem backend. It only runs in
// PRIMARY mode.
func NewFileSystemBackend(opts FileSystemOptions) (*FileSystemBackend, error) {
	if opts.Mode != ModePrimary {
		return nil, fmt.Errorf("%w: filesystem backend in %s mode", ErrReplicaMode, opts.Mode)
	}
	if opts.CanonicalFormat == "" {
		opts.CanonicalFormat = FormatV2
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	b := &FileSystemBackend{
		opts:   opts,
		logger: opts.Logger,
		cache:  newCategoryCache("filesystem", opts.CacheTTL, opts.Logger),
	}
	b.cache.pathFor = opts.Layout.CategoryFile
	b.cache.legacyPathFor = opts.Layout.LegacyFile

	if err := os.MkdirAll(opts.Layout.Base, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create base path: %w", err)
	}
	opts.Logger.Info("Filesystem backend ready",
		"base_path", opts.Layout.Base,
		"canonical_format", opts.CanonicalFormat)
	return b, nil
}

func (b *FileSystemBackend) Name() string        { return "filesystem" }
func (b *FileSystemBackend) Mode() ReplicateMode { return ModePrimary }
func (b *FileSystemBackend) Close() error        { return nil }

// Layout returns the on-disk layout served by the backend.
func (b *FileSystemBackend) Layout() paths.Layout { return b.opts.Layout }

func (b *FileSystemBackend) CategoryFilePath(c models.Category) string {
	return b.opts.Layout.CategoryFile(c)
}

func (b *FileSystemBackend) NeedsRefresh(c models.Category) bool { return b.cache.needsRefresh(c) }

func (b *FileSystemBackend) MarkStale(c models.Category) { b.cache.markStale(c) }

func (b *FileSystemBackend) RegisterInvalidationCallback(fn InvalidationFunc) {
	b.cache.register(fn)
}

func (b *FileSystemBackend) FetchCategory(ctx context.Context, c models.Category, force bool) (models.RawDocument, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.fetchLocked(c, force)
}

func (b *FileSystemBackend) fetchLocked(c models.Category, force bool) (models.RawDocument, error) {
	if !force && b.cache.valid(c) {
		if doc, ok := b.cache.get(c); ok {
			fetches.WithLabelValues(b.Name(), "hit").Inc()
			return doc, nil
		}
	}

	doc, err := b.readDocument(c)
	if err != nil {
		if prev, ok := b.cache.get(c); ok {
			b.logger.Warn("Failed to reload category, serving previous document",
				"category", c, "error", err)
			fetches.WithLabelValues(b.Name(), "stale").Inc()
			return prev, nil
		}
		fetches.WithLabelValues(b.Name(), "unavailable").Inc()
		return nil, fmt.Errorf("%w: %s: %v", ErrUnavailable, c, err)
	}
	b.cache.store(c, doc)
	fetches.WithLabelValues(b.Name(), "refreshed").Inc()
	b.logger.Debug("Category loaded", "category", c, "models", len(doc))
	return doc, nil
}

func (b *FileSystemBackend) readDocument(c models.Category) (models.RawDocument, error) {
	data, err := os.ReadFile(b.opts.Layout.CategoryFile(c))
	if err != nil {
		return nil, err
	}
	return models.DecodeRawDocument(data)
}

func (b *FileSystemBackend) FetchAllCategories(ctx context.Context, force bool) (map[models.Category]models.RawDocument, error) {
	out := make(map[models.Category]models.RawDocument, len(models.AllCategories))
	for _, c := range models.AllCategories {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		doc, err := b.FetchCategory(ctx, c, force)
		if err != nil {
			out[c] = nil
			continue
		}
		out[c] = doc
	}
	return out, nil
}

func (b *FileSystemBackend) LegacyJSON(ctx context.Context, c models.Category, redownload bool) (legacy.Document, error) {
	doc, _, err := b.legacy(c, redownload)
	return doc, err
}

func (b *FileSystemBackend) LegacyJSONString(ctx context.Context, c models.Category, redownload bool) (string, error) {
	_, s, err := b.legacy(c, redownload)
	return s, err
}

func (b *FileSystemBackend) legacy(c models.Category, reload bool) (legacy.Document, string, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if !reload && b.cache.legacyValid(c) {
		if doc, s, ok := b.cache.getLegacy(c); ok {
			return doc, s, nil
		}
	}
	data, err := os.ReadFile(b.opts.Layout.LegacyFile(c))
	if err != nil {
		return nil, "", fmt.Errorf("%w: legacy %s: %v", ErrUnavailable, c, err)
	}
	doc, s, err := decodeLegacyBytes(c, data)
	if err != nil {
		return nil, "", fmt.Errorf("%w: legacy %s: %v", ErrUnavailable, c, err)
	}
	b.cache.storeLegacy(c, doc, s)
	return doc, s, nil
}

// decodeLegacyBytes parses a legacy file. Text CSV is returned grouped,
// as JSON, with one entry per row.
func decodeLegacyBytes(c models.Category, data []byte) (legacy.Document, string, error) {
	if c.IsText() {
		doc, _, err := legacy.DecodeTextCSV(data)
		if err != nil {
			return nil, "", err
		}
		out, err := doc.Marshal()
		if err != nil {
			return nil, "", err
		}
		return doc, string(out), nil
	}
	doc, err := legacy.DecodeDocument(data)
	if err != nil {
		return nil, "", err
	}
	return doc, string(data), nil
}

func (b *FileSystemBackend) SupportsWrites() bool { return true }

func (b *FileSystemBackend) SupportsLegacyWrites() bool {
	return b.opts.CanonicalFormat == FormatLegacy
}

// UpdateModel creates or replaces a record in the v2 document of c.
func (b *FileSystemBackend) UpdateModel(ctx context.Context, c models.Category, rec *models.ModelRecord) error {
	if c.IsText() && models.HasTextBackendPrefix(rec.Name) {
		return fmt.Errorf("%w: %s", ErrBackendPrefix, rec.Name)
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	doc, err := b.readDocument(c)
	if errors.Is(err, os.ErrNotExist) {
		doc = models.RawDocument{}
	} else if err != nil {
		b.recordError(paths.LedgerV2, c)
		return fmt.Errorf("failed to read %s: %w", c, err)
	}

	op := metadata.OperationCreate
	var existing *models.ModelRecord
	if raw, ok := doc[rec.Name]; ok {
		op = metadata.OperationUpdate
		existing = &models.ModelRecord{}
		if err := json.Unmarshal(raw, existing); err != nil {
			existing = nil
		}
	}
	metadata.StampRecord(rec, existing, metadata.ActorFromContext(ctx), time.Now())

	raw, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("failed to encode %s: %w", rec.Name, err)
	}
	doc[rec.Name] = raw

	if err := b.writeDocument(c, doc); err != nil {
		b.recordError(paths.LedgerV2, c)
		return err
	}
	b.record(paths.LedgerV2, c, op, rec.Name, len(doc))
	b.logger.Info("Model updated", "category", c, "model", rec.Name, "operation", op)
	b.cache.markStale(c)
	return nil
}

// DeleteModel removes a record from the v2 document of c.
func (b *FileSystemBackend) DeleteModel(ctx context.Context, c models.Category, name string) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	doc, err := b.readDocument(c)
	if errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("%w: %s/%s", ErrModelNotFound, c, name)
	} else if err != nil {
		b.recordError(paths.LedgerV2, c)
		return fmt.Errorf("failed to read %s: %w", c, err)
	}
	if _, ok := doc[name]; !ok {
		return fmt.Errorf("%w: %s/%s", ErrModelNotFound, c, name)
	}
	delete(doc, name)

	if err := b.writeDocument(c, doc); err != nil {
		b.recordError(paths.LedgerV2, c)
		return err
	}
	b.record(paths.LedgerV2, c, metadata.OperationDelete, name, len(doc))
	b.logger.Info("Model deleted", "category", c, "model", name)
	b.cache.markStale(c)
	return nil
}

func (b *FileSystemBackend) writeDocument(c models.Category, doc models.RawDocument) error {
	data, err := doc.Marshal()
	if err != nil {
		return fmt.Errorf("failed to encode %s: %w", c, err)
	}
	if err := atomicfile.Write(b.opts.Layout.CategoryFile(c), data, b.logger); err != nil {
		return fmt.Errorf("failed to write %s: %w", c, err)
	}
	return nil
}

// UpdateModelLegacy creates or replaces a legacy record. Text categories
// are stored as grouped CSV. The v2 document of c is left untouched.
func (b *FileSystemBackend) UpdateModelLegacy(ctx context.Context, c models.Category, name string, raw json.RawMessage) error {
	if !b.SupportsLegacyWrites() {
		return ErrLegacyWritesDisabled
	}
	if c.IsText() && models.HasTextBackendPrefix(name) {
		return fmt.Errorf("%w: %s", ErrBackendPrefix, name)
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	doc, err := b.readLegacyDocument(c)
	if err != nil {
		b.recordError(paths.LedgerLegacy, c)
		return err
	}
	op := metadata.OperationCreate
	if _, ok := doc[name]; ok {
		op = metadata.OperationUpdate
	}
	doc[name] = raw
	return b.commitLegacy(c, doc, op, name)
}

// DeleteModelLegacy removes a legacy record.
func (b *FileSystemBackend) DeleteModelLegacy(ctx context.Context, c models.Category, name string) error {
	if !b.SupportsLegacyWrites() {
		return ErrLegacyWritesDisabled
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	doc, err := b.readLegacyDocument(c)
	if err != nil {
		b.recordError(paths.LedgerLegacy, c)
		return err
	}
	if _, ok := doc[name]; !ok {
		return fmt.Errorf("%w: legacy %s/%s", ErrModelNotFound, c, name)
	}
	delete(doc, name)
	return b.commitLegacy(c, doc, metadata.OperationDelete, name)
}

func (b *FileSystemBackend) readLegacyDocument(c models.Category) (legacy.Document, error) {
	data, err := os.ReadFile(b.opts.Layout.LegacyFile(c))
	if errors.Is(err, os.ErrNotExist) {
		return legacy.Document{}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read legacy %s: %w", c, err)
	}
	doc, _, err := decodeLegacyBytes(c, data)
	if err != nil {
		return nil, fmt.Errorf("failed to parse legacy %s: %w", c, err)
	}
	return doc, nil
}

func (b *FileSystemBackend) commitLegacy(c models.Category, doc legacy.Document, op metadata.Operation, name string) error {
	var (
		data []byte
		err  error
	)
	if c.IsText() {
		data, err = legacy.EncodeTextCSV(doc)
	} else {
		data, err = doc.Marshal()
	}
	if err != nil {
		return fmt.Errorf("failed to encode legacy %s: %w", c, err)
	}
	if err := atomicfile.Write(b.opts.Layout.LegacyFile(c), data, b.logger); err != nil {
		b.recordError(paths.LedgerLegacy, c)
		return fmt.Errorf("failed to write legacy %s: %w", c, err)
	}
	b.record(paths.LedgerLegacy, c, op, name, len(doc))
	b.logger.Info("Legacy model written", "category", c, "model", name, "operation", op)

	b.cache.markLegacyStale(c)
	return nil
}

// PopulateMetadata creates both ledgers of c if missing and stamps every
// record that has no per-record metadata yet. It returns the number of
// records stamped.
func (b *FileSystemBackend) PopulateMetadata(ctx context.Context, c models.Category) (int, error) {
	if b.opts.Metadata == nil {
		return 0, nil
	}
	b.mu.Lock()
	defer b.mu.Unlock()

	v2, err := b.opts.Metadata.Ensure(paths.LedgerV2, c, b.Name())
	if err != nil {
		return 0, err
	}
	if _, err := b.opts.Metadata.Ensure(paths.LedgerLegacy, c, b.Name()); err != nil {
		return 0, err
	}

	doc, err := b.readDocument(c)
	if errors.Is(err, os.ErrNotExist) {
		return 0, nil
	} else if err != nil {
		return 0, err
	}

	ts := time.Unix(v2.InitializationTime, 0)
	stamped := 0
	for name, raw := range doc {
		var rec models.ModelRecord
		if err := json.Unmarshal(raw, &rec); err != nil {
			continue
		}
		if rec.Metadata != nil && rec.Metadata.CreatedAt != 0 {
			continue
		}
		metadata.StampRecord(&rec, nil, metadata.ActorFromContext(ctx), ts)
		out, err := json.Marshal(&rec)
		if err != nil {
			return stamped, err
		}
		doc[name] = out
		stamped++
	}
	if stamped == 0 {
		return 0, nil
	}
	if err := b.writeDocument(c, doc); err != nil {
		return 0, err
	}
	b.logger.Info("Populated record metadata", "category", c, "models", stamped)
	b.cache.markStale(c)
	return stamped, nil
}

func (b *FileSystemBackend) record(ledger paths.Ledger, c models.Category, op metadata.Operation, name string, total int) {
	if b.opts.Metadata == nil {
		return
	}
	if _, err := b.opts.Metadata.Record(ledger, c, op, name, true, b.Name(), total); err != nil {
		b.logger.Warn("Failed to record metadata", "category", c, "ledger", ledger, "error", err)
	}
}

func (b *FileSystemBackend) recordError(ledger paths.Ledger, c models.Category) {
	if b.opts.Metadata == nil {
		return
	}
	if err := b.opts.Metadata.RecordError(ledger, c, b.Name()); err != nil {
		b.logger.Warn("Failed to record metadata error", "category", c, "ledger", ledger, "error", err)
	}
}
