package manager

import (
	"context"
	"encoding/json"
	"log/slog"
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/haidra-org/horde-model-reference/internal/backends"
	"github.com/haidra-org/horde-model-reference/internal/models"
	"github.com/haidra-org/horde-model-reference/internal/paths"
)

const testSHA = "ad2a33c361c1f593c4a1fb32ea81afce2b5bb7d1983c6b94793a26a3b54b08a0"

func newTestLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelError}))
}

func newTestRecord(name string) *models.ModelRecord {
	return &models.ModelRecord{
		Name:        name,
		Description: "test model",
		Config: map[string][]models.DownloadRecord{
			"download": {{FileName: name + ".pth", FileURL: "https://example.com/" + name + ".pth", SHA256Sum: testSHA}},
		},
	}
}

func writeDoc(t *testing.T, layout paths.Layout, c models.Category, names ...string) {
	t.Helper()
	doc := models.RawDocument{}
	for _, n := range names {
		raw, err := json.Marshal(newTestRecord(n))
		require.NoError(t, err)
		doc[n] = raw
	}
	data, err := doc.Marshal()
	require.NoError(t, err)
	require.NoError(t, os.WriteFile(layout.CategoryFile(c), data, 0o644))
}

func newTestBackend(t *testing.T) (*backends.FileSystemBackend, paths.Layout) {
	t.Helper()
	layout := paths.New(t.TempDir())
	b, err := backends.NewFileSystemBackend(backends.FileSystemOptions{
		Layout:   layout,
		Mode:     backends.ModePrimary,
		CacheTTL: time.Minute,
		Logger:   newTestLogger(),
	})
	require.NoError(t, err)
	return b, layout
}

func newTestManager(t *testing.T, lazy bool) (*Manager, paths.Layout) {
	t.Helper()
	b, layout := newTestBackend(t)
	writeDoc(t, layout, models.CategoryEsrgan, "RealESRGAN_x4plus", "RealESRGAN_x2plus")
	m, err := New(context.Background(), b, Options{Mode: backends.ModePrimary, Lazy: lazy, Logger: newTestLogger()})
	require.NoError(t, err)
	t.Cleanup(func() { _ = m.Close() })
	return m, layout
}

// replicaBackend is a read-only backend stub for mode checks.
type replicaBackend struct {
	backends.Backend
}

func (replicaBackend) Name() string { return "stub" }
func (replicaBackend) Mode() backends.ReplicateMode { return backends.ModeReplica }
func (replicaBackend) RegisterInvalidationCallback(backends.InvalidationFunc) {}
func (replicaBackend) SupportsWrites() bool { return false }
func (replicaBackend) Close() error { return nil }

func TestNew_ModeMismatch(t *testing.T) {
	b, _ := newTestBackend(t)
	_, err := New(context.Background(), b, Options{Mode: backends.ModeReplica, Lazy: true, Logger: newTestLogger()})
	assert.ErrorIs(t, err, ErrModeMismatch)
}

func TestManager_AllReferences(t *testing.T) {
	m, _ := newTestManager(t, false)
	ctx := context.Background()

	unsafe, err := m.AllReferencesUnsafe(ctx, false)
	require.NoError(t, err)
	assert.Len(t, unsafe, len(models.AllCategories))
	assert.Nil(t, unsafe[models.CategoryClip])
	require.NotNil(t, unsafe[models.CategoryEsrgan])

	safe, err := m.AllReferences(ctx, false)
	require.NoError(t, err)
	require.NotNil(t, safe[models.CategoryClip])
	assert.Equal(t, 0, safe[models.CategoryClip].Len())
	assert.Equal(t, 2, safe[models.CategoryEsrgan].Len())
}

func TestManager_Accessors(t *testing.T) {
	m, _ := newTestManager(t, true)
	ctx := context.Background()

	names, err := m.ModelNames(ctx, models.CategoryEsrgan, false)
	require.NoError(t, err)
	assert.Equal(t, []string{"RealESRGAN_x2plus", "RealESRGAN_x4plus"}, names)

	rec, err := m.Model(ctx, models.CategoryEsrgan, "RealESRGAN_x4plus", false)
	require.NoError(t, err)
	assert.Equal(t, "test model", rec.Description)

	_, err = m.Model(ctx, models.CategoryEsrgan, "missing", false)
	assert.ErrorIs(t, err, ErrModelNotFound)

	rec, err = m.ModelUnsafe(ctx, models.CategoryEsrgan, "missing", false)
	require.NoError(t, err)
	assert.Nil(t, rec)

	_, err = m.Reference(ctx, models.CategoryClip, false)
	assert.ErrorIs(t, err, ErrReferenceUnavailable)

	ref, err := m.ReferenceUnsafe(ctx, models.CategoryClip, false)
	require.NoError(t, err)
	assert.Nil(t, ref)

	raw, err := m.RawModelJSON(ctx, models.CategoryEsrgan, "RealESRGAN_x2plus", false)
	require.NoError(t, err)
	assert.Contains(t, string(raw), "RealESRGAN_x2plus.pth")

	_, err = m.RawModelJSON(ctx, models.CategoryEsrgan, "missing", false)
	assert.ErrorIs(t, err, ErrModelNotFound)
}

func TestManager_ParseFailure(t *testing.T) {
	b, layout := newTestBackend(t)
	require.NoError(t, os.WriteFile(layout.CategoryFile(models.CategoryBlip), []byte(`{"bad": {"name": 5}}`), 0o644))

	lenient, err := New(context.Background(), b, Options{Lazy: true, Logger: newTestLogger()})
	require.NoError(t, err)
	ref, err := lenient.ReferenceUnsafe(context.Background(), models.CategoryBlip, false)
	require.NoError(t, err)
	assert.Nil(t, ref)

	strict, err := New(context.Background(), b, Options{Lazy: true, SafeMode: true, Logger: newTestLogger()})
	require.NoError(t, err)
	_, err = strict.AllReferencesUnsafe(context.Background(), false)
	assert.ErrorIs(t, err, ErrReferenceUnavailable)
}

func TestManager_WriteDropsParsedCache(t *testing.T) {
	m, _ := newTestManager(t, false)
	ctx := context.Background()

	var dropped []models.Category
	m.OnInvalidate(func(c models.Category) { dropped = append(dropped, c) })

	require.NoError(t, m.UpdateModel(ctx, models.CategoryEsrgan, newTestRecord("fresh")))
	assert.Contains(t, dropped, models.CategoryEsrgan)

	names, err := m.ModelNames(ctx, models.CategoryEsrgan, false)
	require.NoError(t, err)
	assert.Contains(t, names, "fresh")

	require.NoError(t, m.DeleteModel(ctx, models.CategoryEsrgan, "fresh"))
	names, err = m.ModelNames(ctx, models.CategoryEsrgan, false)
	require.NoError(t, err)
	assert.NotContains(t, names, "fresh")

	err = m.DeleteModel(ctx, models.CategoryEsrgan, "fresh")
	assert.ErrorIs(t, err, backends.ErrModelNotFound)
}

func TestManager_ExternalEditIsPickedUp(t *testing.T) {
	m, layout := newTestManager(t, false)
	ctx := context.Background()

	writeDoc(t, layout, models.CategoryEsrgan, "only")
	future := time.Now().Add(2 * time.Second)
	require.NoError(t, os.Chtimes(layout.CategoryFile(models.CategoryEsrgan), future, future))

	names, err := m.ModelNames(ctx, models.CategoryEsrgan, false)
	require.NoError(t, err)
	assert.Equal(t, []string{"only"}, names)
}

func TestManager_InvalidRecordRejected(t *testing.T) {
	m, _ := newTestManager(t, true)
	err := m.UpdateModel(context.Background(), models.CategoryEsrgan, &models.ModelRecord{Name: " "})
	var ve *models.ValidationError
	assert.ErrorAs(t, err, &ve)
}

func TestManager_LegacyWritesDisabledForV2(t *testing.T) {
	m, _ := newTestManager(t, true)
	err := m.UpdateModelLegacy(context.Background(), models.CategoryEsrgan, "x", json.RawMessage(`{}`))
	assert.ErrorIs(t, err, backends.ErrLegacyWritesDisabled)
}

func TestManager_ReplicaRejectsWrites(t *testing.T) {
	m, err := New(context.Background(), replicaBackend{}, Options{Lazy: true, Logger: newTestLogger()})
	require.NoError(t, err)
	assert.Equal(t, backends.ModeReplica, m.Mode())

	err = m.UpdateModel(context.Background(), models.CategoryEsrgan, newTestRecord("x"))
	assert.ErrorIs(t, err, backends.ErrReplicaMode)
}

func TestHolder(t *testing.T) {
	var h Holder
	_, err := h.Get()
	assert.ErrorIs(t, err, ErrNotInitialized)

	b, _ := newTestBackend(t)
	ctx := context.Background()
	m, err := h.Create(ctx, b, Options{Lazy: true, Logger: newTestLogger()})
	require.NoError(t, err)

	again, err := h.Create(ctx, b, Options{Lazy: true, Logger: newTestLogger()})
	require.NoError(t, err)
	assert.Same(t, m, again)

	_, err = h.Create(ctx, b, Options{Lazy: false, Logger: newTestLogger()})
	assert.ErrorIs(t, err, ErrConflict)

	other, _ := newTestBackend(t)
	_, err = h.Create(ctx, other, Options{Lazy: true, Logger: newTestLogger()})
	assert.ErrorIs(t, err, ErrConflict)

	_, err = h.Create(ctx, b, Options{Mode: backends.ModeReplica, Lazy: true, Logger: newTestLogger()})
	assert.ErrorIs(t, err, ErrConflict)

	got, err := h.Get()
	require.NoError(t, err)
	assert.Same(t, m, got)

	require.NoError(t, h.Reset())
	_, err = h.Get()
	assert.ErrorIs(t, err, ErrNotInitialized)
	require.NoError(t, h.Reset())
}
