// Package manager coordinates a backend with the parsed view of its
// category documents.
package manager

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"github.com/haidra-org/horde-model-reference/internal/backends"
	"github.com/haidra-org/horde-model-reference/internal/legacy"
	"github.com/haidra-org/horde-model-reference/internal/models"
)

var (
	// ErrReferenceUnavailable is returned when a category could not be
	// fetched or parsed.
	ErrReferenceUnavailable = errors.New("model reference unavailable")

	// ErrModelNotFound is returned when a model is not part of its category.
	ErrModelNotFound = errors.New("model not found")

	// ErrModeMismatch is returned when the backend serves a different mode
	// than the manager was asked for.
	ErrModeMismatch = errors.New("backend mode does not match manager mode")
)

// Options configure a Manager.
type Options struct {
	Mode backends.ReplicateMode
	// Lazy defers the first fetch until a reference is requested.
	Lazy bool
	// SafeMode turns a category parse failure into an error instead of a
	// nil reference.
	SafeMode bool
	Logger   *slog.Logger
}

// Manager serves parsed model references on top of a Backend.
type Manager struct {
	backend backends.Backend
	opts    Options
	logger  *slog.Logger

	// loadMu serializes backend loads; mu only guards the maps below.
	loadMu sync.Mutex
	mu     sync.Mutex
	parsed map[models.Category]*models.ModelReference

	listenersMu sync.Mutex
	listeners   []backends.InvalidationFunc
}

// New creates a manager over b. Non-lazy managers fetch every category
// before returning.
func New(ctx context.Context, b backends.Backend, opts Options) (*Manager, error) {
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	if opts.Mode == "" {
		opts.Mode = b.Mode()
	}
	if b.Mode() != opts.Mode {
		return nil, fmt.Errorf("%w: backend %s runs in %s, requested %s",
			ErrModeMismatch, b.Name(), b.Mode(), opts.Mode)
	}

	m := &Manager{
		backend: b,
		opts:    opts,
		logger:  opts.Logger,
		parsed:  make(map[models.Category]*models.ModelReference),
	}
	b.RegisterInvalidationCallback(m.onBackendInvalidated)

	if !opts.Lazy {
		if _, err := m.AllReferencesUnsafe(ctx, false); err != nil {
			return nil, fmt.Errorf("initial fetch: %w", err)
		}
	}
	m.logger.Info("Reference manager ready",
		"backend", b.Name(),
		"mode", opts.Mode,
		"lazy", opts.Lazy)
	return m, nil
}

// Backend returns the backend the manager reads from.
func (m *Manager) Backend() backends.Backend { return m.backend }

// Mode returns the replicate mode of the manager.
func (m *Manager) Mode() backends.ReplicateMode { return m.opts.Mode }

// Lazy reports whether the manager was created in lazy mode.
func (m *Manager) Lazy() bool { return m.opts.Lazy }

// Close releases the backend.
func (m *Manager) Close() error {
	m.invalidate(nil)
	return m.backend.Close()
}

// OnInvalidate registers fn to run after a category's parsed reference is
// dropped, whether by the backend or by a write through the manager.
func (m *Manager) OnInvalidate(fn backends.InvalidationFunc) {
	m.listenersMu.Lock()
	m.listeners = append(m.listeners, fn)
	m.listenersMu.Unlock()
}

func (m *Manager) onBackendInvalidated(c models.Category) {
	m.logger.Debug("Backend invalidated category", "category", c)
	m.invalidate(&c)
}

// invalidate drops one category, or all of them when c is nil.
func (m *Manager) invalidate(c *models.Category) {
	m.mu.Lock()
	var dropped []models.Category
	if c == nil {
		for cat := range m.parsed {
			dropped = append(dropped, cat)
		}
		m.parsed = make(map[models.Category]*models.ModelReference)
	} else {
		delete(m.parsed, *c)
		dropped = append(dropped, *c)
	}
	m.mu.Unlock()

	m.listenersMu.Lock()
	listeners := append([]backends.InvalidationFunc(nil), m.listeners...)
	m.listenersMu.Unlock()
	for _, cat := range dropped {
		for _, fn := range listeners {
			fn(cat)
		}
	}
}

func (m *Manager) snapshot() map[models.Category]*models.ModelReference {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make(map[models.Category]*models.ModelReference, len(m.parsed))
	for c, ref := range m.parsed {
		out[c] = ref
	}
	return out
}

// pending lists the categories that must be parsed again.
// The backend may fire invalidation callbacks from NeedsRefresh, so it is
// called without holding mu.
func (m *Manager) pending(overwrite bool) []models.Category {
	have := m.snapshot()
	var out []models.Category
	for _, c := range models.AllCategories {
		ref, ok := have[c]
		if overwrite || !ok || ref == nil || m.backend.NeedsRefresh(c) {
			out = append(out, c)
		}
	}
	return out
}

func (m *Manager) fullyCached() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, c := range models.AllCategories {
		if _, ok := m.parsed[c]; !ok {
			return false
		}
	}
	return true
}

func (m *Manager) needsBackendRefresh() bool {
	for _, c := range models.AllCategories {
		if m.backend.NeedsRefresh(c) {
			return true
		}
	}
	return false
}

// AllReferencesUnsafe returns every category's parsed reference. A category
// that could not be fetched or parsed maps to nil, unless the manager runs
// in safe mode, in which case a parse failure is returned as an error.
func (m *Manager) AllReferencesUnsafe(ctx context.Context, overwrite bool) (map[models.Category]*models.ModelReference, error) {
	m.loadMu.Lock()
	defer m.loadMu.Unlock()

	if !overwrite && m.fullyCached() && !m.needsBackendRefresh() {
		return m.snapshot(), nil
	}

	todo := m.pending(overwrite)
	docs, err := m.backend.FetchAllCategories(ctx, overwrite)
	if err != nil {
		return nil, fmt.Errorf("fetch categories from %s: %w", m.backend.Name(), err)
	}
	if len(todo) > 0 {
		m.logger.Debug("Loading model references", "categories", len(todo))
	}

	for _, c := range todo {
		ref, err := m.parse(c, docs[c])
		if err != nil {
			return nil, err
		}
		m.mu.Lock()
		m.parsed[c] = ref
		m.mu.Unlock()
	}
	return m.snapshot(), nil
}

func (m *Manager) parse(c models.Category, doc models.RawDocument) (*models.ModelReference, error) {
	if doc == nil {
		return nil, nil
	}
	ref, err := models.ParseReference(c, doc)
	if err != nil {
		if m.opts.SafeMode {
			return nil, fmt.Errorf("%w: %s: %v", ErrReferenceUnavailable, c, err)
		}
		m.logger.Error("Failed to parse model reference", "category", c, "error", err)
		return nil, nil
	}
	return ref, nil
}

// AllReferences returns every category's parsed reference, with failed
// categories mapped to an empty reference.
func (m *Manager) AllReferences(ctx context.Context, overwrite bool) (map[models.Category]*models.ModelReference, error) {
	all, err := m.AllReferencesUnsafe(ctx, overwrite)
	if err != nil {
		return nil, err
	}
	out := make(map[models.Category]*models.ModelReference, len(models.AllCategories))
	var missing []models.Category
	for _, c := range models.AllCategories {
		ref := all[c]
		if ref == nil {
			missing = append(missing, c)
			ref = models.NewModelReference(c, nil)
		}
		out[c] = ref
	}
	if len(missing) > 0 {
		m.logger.Error("Missing model references", "categories", missing)
	}
	return out, nil
}

// ReferenceUnsafe returns the parsed reference of c, or nil when it is
// unavailable.
func (m *Manager) ReferenceUnsafe(ctx context.Context, c models.Category, overwrite bool) (*models.ModelReference, error) {
	all, err := m.AllReferencesUnsafe(ctx, overwrite)
	if err != nil {
		return nil, err
	}
	return all[c], nil
}

// Reference returns the parsed reference of c.
func (m *Manager) Reference(ctx context.Context, c models.Category, overwrite bool) (*models.ModelReference, error) {
	ref, err := m.ReferenceUnsafe(ctx, c, overwrite)
	if err != nil {
		return nil, err
	}
	if ref == nil {
		return nil, fmt.Errorf("%w: %s", ErrReferenceUnavailable, c)
	}
	return ref, nil
}

// ModelNames returns the sorted model names of c.
func (m *Manager) ModelNames(ctx context.Context, c models.Category, overwrite bool) ([]string, error) {
	ref, err := m.Reference(ctx, c, overwrite)
	if err != nil {
		return nil, err
	}
	return ref.Names(), nil
}

// ModelUnsafe returns the named model, or nil when it or its category is
// unavailable.
func (m *Manager) ModelUnsafe(ctx context.Context, c models.Category, name string, overwrite bool) (*models.ModelRecord, error) {
	ref, err := m.ReferenceUnsafe(ctx, c, overwrite)
	if err != nil || ref == nil {
		return nil, err
	}
	rec, _ := ref.Get(name)
	return rec, nil
}

// Model returns the named model.
func (m *Manager) Model(ctx context.Context, c models.Category, name string, overwrite bool) (*models.ModelRecord, error) {
	ref, err := m.Reference(ctx, c, overwrite)
	if err != nil {
		return nil, err
	}
	rec, ok := ref.Get(name)
	if !ok {
		return nil, fmt.Errorf("%w: %s in %s", ErrModelNotFound, name, c)
	}
	return rec, nil
}

// RawReferenceJSON returns the unparsed v2 document of c straight from the
// backend.
func (m *Manager) RawReferenceJSON(ctx context.Context, c models.Category, overwrite bool) (models.RawDocument, error) {
	return m.backend.FetchCategory(ctx, c, overwrite)
}

// RawModelJSON returns the unparsed v2 record of one model.
func (m *Manager) RawModelJSON(ctx context.Context, c models.Category, name string, overwrite bool) (json.RawMessage, error) {
	doc, err := m.backend.FetchCategory(ctx, c, overwrite)
	if err != nil {
		return nil, err
	}
	raw, ok := doc[name]
	if !ok {
		return nil, fmt.Errorf("%w: %s in %s", ErrModelNotFound, name, c)
	}
	return raw, nil
}

// LegacyReferenceJSON returns the legacy document of c.
func (m *Manager) LegacyReferenceJSON(ctx context.Context, c models.Category, redownload bool) (legacy.Document, error) {
	return m.backend.LegacyJSON(ctx, c, redownload)
}

// LegacyReferenceString returns the legacy document of c as served on disk.
func (m *Manager) LegacyReferenceString(ctx context.Context, c models.Category, redownload bool) (string, error) {
	return m.backend.LegacyJSONString(ctx, c, redownload)
}

func (m *Manager) checkWritable() error {
	if m.opts.Mode != backends.ModePrimary {
		return backends.ErrReplicaMode
	}
	if !m.backend.SupportsWrites() {
		return backends.ErrReadOnly
	}
	return nil
}

// UpdateModel creates or replaces a model in the v2 document of c.
func (m *Manager) UpdateModel(ctx context.Context, c models.Category, rec *models.ModelRecord) error {
	if err := m.checkWritable(); err != nil {
		return err
	}
	if err := models.ValidateModelName(rec.Name); err != nil {
		return err
	}
	if err := rec.Validate(true); err != nil {
		return err
	}
	if err := m.backend.UpdateModel(ctx, c, rec); err != nil {
		return err
	}
	m.invalidate(&c)
	m.logger.Info("Model updated", "category", c, "model", rec.Name)
	return nil
}

// DeleteModel removes a model from the v2 document of c.
func (m *Manager) DeleteModel(ctx context.Context, c models.Category, name string) error {
	if err := m.checkWritable(); err != nil {
		return err
	}
	if err := m.backend.DeleteModel(ctx, c, name); err != nil {
		return err
	}
	m.invalidate(&c)
	m.logger.Info("Model deleted", "category", c, "model", name)
	return nil
}

// UpdateModelLegacy creates or replaces a model in the legacy document of c.
func (m *Manager) UpdateModelLegacy(ctx context.Context, c models.Category, name string, raw json.RawMessage) error {
	if err := m.checkWritable(); err != nil {
		return err
	}
	if !m.backend.SupportsLegacyWrites() {
		return backends.ErrLegacyWritesDisabled
	}
	if err := models.ValidateModelName(name); err != nil {
		return err
	}
	if err := m.backend.UpdateModelLegacy(ctx, c, name, raw); err != nil {
		return err
	}
	m.invalidate(&c)
	m.logger.Info("Legacy model updated", "category", c, "model", name)
	return nil
}

// DeleteModelLegacy removes a model from the legacy document of c.
func (m *Manager) DeleteModelLegacy(ctx context.Context, c models.Category, name string) error {
	if err := m.checkWritable(); err != nil {
		return err
	}
	if !m.backend.SupportsLegacyWrites() {
		return backends.ErrLegacyWritesDisabled
	}
	if err := m.backend.DeleteModelLegacy(ctx, c, name); err != nil {
		return err
	}
	m.invalidate(&c)
	m.logger.Info("Legacy model deleted", "category", c, "model", name)
	return nil
}
