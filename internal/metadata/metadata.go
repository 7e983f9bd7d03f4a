// Package metadata keeps the per-category operation ledgers for the legacy
// and v2 formats. The ledgers are observability data and never take part
// in reads of the references themselves.
package metadata

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"sync"
	"time"

	"github.com/haidra-org/horde-model-reference/internal/atomicfile"
	"github.com/haidra-org/horde-model-reference/internal/models"
	"github.com/haidra-org/horde-model-reference/internal/paths"
)

// SchemaVersion is written into every ledger.
const SchemaVersion = "1.0.0"

// DefaultCacheTTL bounds how long a ledger is served from memory.
const DefaultCacheTTL = 60 * time.Second

// ErrMetadataNotFound is returned when a ledger has not been created yet.
var ErrMetadataNotFound = errors.New("metadata not found")

// Operation is the kind of write recorded in a ledger.
type Operation string

const (
	OperationCreate Operation = "create"
	OperationUpdate Operation = "update"
	OperationDelete Operation = "delete"
)

// CategoryMetadata is the ledger of one category in one format.
type CategoryMetadata struct {
	Category                models.Category `json:"category"`
	LastUpdated             int64           `json:"last_updated"`
	LastOperationType       Operation       `json:"last_operation_type,omitempty"`
	LastOperationModel      string          `json:"last_operation_model,omitempty"`
	TotalCreates            int             `json:"total_creates"`
	TotalUpdates            int             `json:"total_updates"`
	TotalDeletes            int             `json:"total_deletes"`
	TotalModels             int             `json:"total_models"`
	InitializationTime      int64           `json:"initialization_time"`
	LastSuccessfulOperation int64           `json:"last_successful_operation"`
	ErrorCount              int             `json:"error_count"`
	MetadataSchemaVersion   string          `json:"metadata_schema_version"`
	BackendType             string          `json:"backend_type"`
}

type ledgerCache struct {
	entries map[models.Category]*CategoryMetadata
	stamps  map[models.Category]time.Time
	mtimes  map[models.Category]time.Time
	stale   map[models.Category]bool
}

func newLedgerCache() *ledgerCache {
	return &ledgerCache{
		entries: make(map[models.Category]*CategoryMetadata),
		stamps:  make(map[models.Category]time.Time),
		mtimes:  make(map[models.Category]time.Time),
		stale:   make(map[models.Category]bool),
	}
}

// Manager reads and writes the ledgers of every category.
type Manager struct {
	layout paths.Layout
	ttl    time.Duration
	logger *slog.Logger
	now    func() time.Time

	mu     sync.Mutex
	caches map[paths.Ledger]*ledgerCache
}

// NewManager creates a metadata manager rooted at layout.
func NewManager(layout paths.Layout, logger *slog.Logger) *Manager {
	return &Manager{
		layout: layout,
		ttl:    DefaultCacheTTL,
		logger: logger,
		now:    time.Now,
		caches: map[paths.Ledger]*ledgerCache{
			paths.LedgerLegacy: newLedgerCache(),
			paths.LedgerV2:     newLedgerCache(),
		},
	}
}

// RecordV2Operation records a v2 write.
func (m *Manager) RecordV2Operation(c models.Category, op Operation, model string, success bool, backend string) error {
	_, err := m.Record(paths.LedgerV2, c, op, model, success, backend, -1)
	return err
}

// RecordLegacyOperation records a legacy write.
func (m *Manager) RecordLegacyOperation(c models.Category, op Operation, model string, success bool, backend string) error {
	_, err := m.Record(paths.LedgerLegacy, c, op, model, success, backend, -1)
	return err
}

// RecordV2Error counts a failed v2 operation.
func (m *Manager) RecordV2Error(c models.Category, backend string) error {
	return m.RecordError(paths.LedgerV2, c, backend)
}

// RecordLegacyError counts a failed legacy operation.
func (m *Manager) RecordLegacyError(c models.Category, backend string) error {
	return m.RecordError(paths.LedgerLegacy, c, backend)
}

// Record applies one operation to a ledger. totalModels is stored when it
// is not negative.
func (m *Manager) Record(ledger paths.Ledger, c models.Category, op Operation, model string, success bool, backend string, totalModels int) (*CategoryMetadata, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	meta := m.loadOrInitLocked(ledger, c, backend)
	now := m.now().Unix()
	meta.LastUpdated = now
	meta.LastOperationType = op
	meta.LastOperationModel = model
	if backend != "" {
		meta.BackendType = backend
	}
	if totalModels >= 0 {
		meta.TotalModels = totalModels
	}
	if success {
		meta.LastSuccessfulOperation = now
		switch op {
		case OperationCreate:
			meta.TotalCreates++
		case OperationUpdate:
			meta.TotalUpdates++
		case OperationDelete:
			meta.TotalDeletes++
		}
	} else {
		meta.ErrorCount++
	}

	if err := m.writeLocked(ledger, c, meta); err != nil {
		return nil, err
	}
	out := *meta
	return &out, nil
}

// RecordError increments the error count of a ledger.
func (m *Manager) RecordError(ledger paths.Ledger, c models.Category, backend string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	meta := m.loadOrInitLocked(ledger, c, backend)
	meta.ErrorCount++
	meta.LastUpdated = m.now().Unix()
	return m.writeLocked(ledger, c, meta)
}

// SetTotalModels stores the current model count of a category.
func (m *Manager) SetTotalModels(ledger paths.Ledger, c models.Category, total int, backend string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	meta := m.loadOrInitLocked(ledger, c, backend)
	if meta.TotalModels == total {
		return nil
	}
	meta.TotalModels = total
	meta.LastUpdated = m.now().Unix()
	return m.writeLocked(ledger, c, meta)
}

// Get returns a copy of a ledger, or ErrMetadataNotFound.
func (m *Manager) Get(ledger paths.Ledger, c models.Category) (*CategoryMetadata, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	meta, err := m.loadLocked(ledger, c)
	if err != nil {
		return nil, err
	}
	if meta == nil {
		return nil, fmt.Errorf("%w: %s %s", ErrMetadataNotFound, ledger, c)
	}
	out := *meta
	return &out, nil
}

// V2 returns the v2 ledger of a category.
func (m *Manager) V2(c models.Category) (*CategoryMetadata, error) { return m.Get(paths.LedgerV2, c) }

// Legacy returns the legacy ledger of a category.
func (m *Manager) Legacy(c models.Category) (*CategoryMetadata, error) {
	return m.Get(paths.LedgerLegacy, c)
}

// Ensure returns the ledger of a category, creating it if needed.
func (m *Manager) Ensure(ledger paths.Ledger, c models.Category, backend string) (*CategoryMetadata, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	existing, err := m.loadLocked(ledger, c)
	if err != nil {
		return nil, err
	}
	if existing != nil {
		out := *existing
		return &out, nil
	}
	meta := m.newMetadata(c, backend)
	if err := m.writeLocked(ledger, c, meta); err != nil {
		return nil, err
	}
	out := *meta
	return &out, nil
}

// EnsureV2 lazily creates the v2 ledger.
func (m *Manager) EnsureV2(c models.Category, backend string) (*CategoryMetadata, error) {
	return m.Ensure(paths.LedgerV2, c, backend)
}

// EnsureLegacy lazily creates the legacy ledger.
func (m *Manager) EnsureLegacy(c models.Category, backend string) (*CategoryMetadata, error) {
	return m.Ensure(paths.LedgerLegacy, c, backend)
}

// All returns every existing ledger of one format.
func (m *Manager) All(ledger paths.Ledger) map[models.Category]*CategoryMetadata {
	out := make(map[models.Category]*CategoryMetadata)
	for _, c := range models.AllCategories {
		meta, err := m.Get(ledger, c)
		if err != nil {
			continue
		}
		out[c] = meta
	}
	return out
}

// LastUpdated returns the newest last_updated of a ledger format across all
// categories. ok is false while no ledger exists.
func (m *Manager) LastUpdated(ledger paths.Ledger) (ts int64, ok bool) {
	for _, meta := range m.All(ledger) {
		if !ok || meta.LastUpdated > ts {
			ts, ok = meta.LastUpdated, true
		}
	}
	return ts, ok
}

// MarkStale forces the next read of a ledger to go to disk.
func (m *Manager) MarkStale(ledger paths.Ledger, c models.Category) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.caches[ledger].stale[c] = true
}

func (m *Manager) newMetadata(c models.Category, backend string) *CategoryMetadata {
	now := m.now().Unix()
	return &CategoryMetadata{
		Category:                c,
		LastUpdated:             now,
		InitializationTime:      now,
		LastSuccessfulOperation: now,
		MetadataSchemaVersion:   SchemaVersion,
		BackendType:             backend,
	}
}

func (m *Manager) loadOrInitLocked(ledger paths.Ledger, c models.Category, backend string) *CategoryMetadata {
	meta, err := m.loadLocked(ledger, c)
	if err != nil {
		m.logger.Warn("Failed to read metadata, reinitializing", "ledger", ledger, "category", c, "error", err)
	}
	if meta == nil {
		return m.newMetadata(c, backend)
	}
	cp := *meta
	return &cp
}

// validLocked mirrors the staleness rules of the backends: stale flag,
// presence, TTL and file mtime.
func (m *Manager) validLocked(ledger paths.Ledger, c models.Category) bool {
	lc := m.caches[ledger]
	if lc.stale[c] {
		return false
	}
	if _, ok := lc.entries[c]; !ok {
		return false
	}
	stamp, ok := lc.stamps[c]
	if !ok || m.now().Sub(stamp) >= m.ttl {
		lc.stale[c] = true
		return false
	}
	info, err := os.Stat(m.layout.MetadataFile(ledger, c))
	if err != nil || !info.ModTime().Equal(lc.mtimes[c]) {
		lc.stale[c] = true
		return false
	}
	return true
}

func (m *Manager) loadLocked(ledger paths.Ledger, c models.Category) (*CategoryMetadata, error) {
	lc := m.caches[ledger]
	if m.validLocked(ledger, c) {
		return lc.entries[c], nil
	}

	path := m.layout.MetadataFile(ledger, c)
	data, err := os.ReadFile(path)
	if errors.Is(err, os.ErrNotExist) {
		delete(lc.entries, c)
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read metadata: %w", err)
	}
	var meta CategoryMetadata
	if err := json.Unmarshal(data, &meta); err != nil {
		return nil, fmt.Errorf("parse metadata %s: %w", path, err)
	}
	m.cacheLocked(ledger, c, &meta)
	return &meta, nil
}

func (m *Manager) writeLocked(ledger paths.Ledger, c models.Category, meta *CategoryMetadata) error {
	data, err := json.MarshalIndent(meta, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal metadata: %w", err)
	}
	if err := atomicfile.Write(m.layout.MetadataFile(ledger, c), data, m.logger); err != nil {
		m.logger.Error("Metadata write failed", "ledger", ledger, "category", c, "error", err)
		return err
	}
	m.cacheLocked(ledger, c, meta)
	return nil
}

func (m *Manager) cacheLocked(ledger paths.Ledger, c models.Category, meta *CategoryMetadata) {
	lc := m.caches[ledger]
	lc.entries[c] = meta
	lc.stamps[c] = m.now()
	delete(lc.stale, c)
	if info, err := os.Stat(m.layout.MetadataFile(ledger, c)); err == nil {
		lc.mtimes[c] = info.ModTime()
	}
}

// AllV2 returns every v2 ledger.
func (m *Manager) AllV2() map[models.Category]*CategoryMetadata { return m.All(paths.LedgerV2) }

// AllLegacy returns every legacy ledger.
func (m *Manager) AllLegacy() map[models.Category]*CategoryMetadata {
	return m.All(paths.LedgerLegacy)
}

// MarkStaleV2 drops the cached v2 ledger of c.
func (m *Manager) MarkStaleV2(c models.Category) { m.MarkStale(paths.LedgerV2, c) }

// MarkStaleLegacy drops the cached legacy ledger of c.
func (m *Manager) MarkStaleLegacy(c models.Category) { m.MarkStale(paths.LedgerLegacy, c) }
