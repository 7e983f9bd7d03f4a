package backends

import (
	"context"
	"encoding/json"
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/haidra-org/horde-model-reference/internal/legacy"
	"github.com/haidra-org/horde-model-reference/internal/metadata"
	"github.com/haidra-org/horde-model-reference/internal/models"
	"github.com/haidra-org/horde-model-reference/internal/paths"
)

func newTestFileSystemBackend(t *testing.T, format CanonicalFormat) (*FileSystemBackend, *metadata.Manager) {
	t.Helper()
	layout := paths.New(t.TempDir())
	meta := metadata.NewManager(layout, newTestLogger())
	b, err := NewFileSystemBackend(FileSystemOptions{
		Layout:          layout,
		Mode:            ModePrimary,
		CacheTTL:        time.Minute,
		CanonicalFormat: format,
		Metadata:        meta,
		Logger:          newTestLogger(),
	})
	require.NoError(t, err)
	return b, meta
}

func TestNewFileSystemBackend_RejectsReplica(t *testing.T) {
	_, err := NewFileSystemBackend(FileSystemOptions{
		Layout: paths.New(t.TempDir()),
		Mode:   ModeReplica,
		Logger: newTestLogger(),
	})
	assert.ErrorIs(t, err, ErrReplicaMode)
}

func TestFileSystemBackend_FetchMissingIsUnavailable(t *testing.T) {
	b, _ := newTestFileSystemBackend(t, FormatV2)

	_, err := b.FetchCategory(context.Background(), models.CategoryClip, false)
	assert.ErrorIs(t, err, ErrUnavailable)

	all, err := b.FetchAllCategories(context.Background(), false)
	require.NoError(t, err)
	assert.Len(t, all, len(models.AllCategories))
	assert.Nil(t, all[models.CategoryClip])
}

func TestFileSystemBackend_UpdateThenFetch(t *testing.T) {
	b, meta := newTestFileSystemBackend(t, FormatV2)
	ctx := metadata.WithActor(context.Background(), "alice")

	var invalidated []models.Category
	b.RegisterInvalidationCallback(func(c models.Category) { invalidated = append(invalidated, c) })

	require.NoError(t, b.UpdateModel(ctx, models.CategoryEsrgan, newTestRecord("up")))
	assert.Equal(t, []models.Category{models.CategoryEsrgan}, invalidated)

	doc, err := b.FetchCategory(ctx, models.CategoryEsrgan, false)
	require.NoError(t, err)
	require.Contains(t, doc, "up")

	var rec models.ModelRecord
	require.NoError(t, json.Unmarshal(doc["up"], &rec))
	require.NotNil(t, rec.Metadata)
	assert.Equal(t, "alice", rec.Metadata.CreatedBy)

	ledger, err := meta.V2(models.CategoryEsrgan)
	require.NoError(t, err)
	assert.Equal(t, 1, ledger.TotalCreates)
	assert.Equal(t, 1, ledger.TotalModels)
	assert.Equal(t, "filesystem", ledger.BackendType)

	// Second write is an update and keeps the creator.
	require.NoError(t, b.UpdateModel(metadata.WithActor(context.Background(), "bob"), models.CategoryEsrgan, newTestRecord("up")))
	doc, err = b.FetchCategory(ctx, models.CategoryEsrgan, false)
	require.NoError(t, err)
	require.NoError(t, json.Unmarshal(doc["up"], &rec))
	assert.Equal(t, "alice", rec.Metadata.CreatedBy)
	assert.Equal(t, "bob", rec.Metadata.UpdatedBy)

	ledger, err = meta.V2(models.CategoryEsrgan)
	require.NoError(t, err)
	assert.Equal(t, 1, ledger.TotalUpdates)
}

func TestFileSystemBackend_DeleteModel(t *testing.T) {
	b, _ := newTestFileSystemBackend(t, FormatV2)
	ctx := context.Background()

	err := b.DeleteModel(ctx, models.CategoryClip, "ghost")
	assert.ErrorIs(t, err, ErrModelNotFound)

	require.NoError(t, b.UpdateModel(ctx, models.CategoryClip, newTestRecord("a")))
	require.NoError(t, b.UpdateModel(ctx, models.CategoryClip, newTestRecord("b")))
	require.NoError(t, b.DeleteModel(ctx, models.CategoryClip, "a"))

	doc, err := b.FetchCategory(ctx, models.CategoryClip, false)
	require.NoError(t, err)
	assert.Equal(t, []string{"b"}, doc.Names())

	err = b.DeleteModel(ctx, models.CategoryClip, "a")
	assert.ErrorIs(t, err, ErrModelNotFound)
}

func TestFileSystemBackend_RejectsPrefixedTextWrites(t *testing.T) {
	b, _ := newTestFileSystemBackend(t, FormatLegacy)
	ctx := context.Background()

	err := b.UpdateModel(ctx, models.CategoryTextGeneration, newTestRecord("koboldcpp/x"))
	assert.ErrorIs(t, err, ErrBackendPrefix)

	err = b.UpdateModelLegacy(ctx, models.CategoryTextGeneration, "aphrodite/x", json.RawMessage(`{}`))
	assert.ErrorIs(t, err, ErrBackendPrefix)
}

func TestFileSystemBackend_LegacyWritesGated(t *testing.T) {
	b, _ := newTestFileSystemBackend(t, FormatV2)
	assert.True(t, b.SupportsWrites())
	assert.False(t, b.SupportsLegacyWrites())

	err := b.UpdateModelLegacy(context.Background(), models.CategoryClip, "x", json.RawMessage(`{}`))
	assert.ErrorIs(t, err, ErrLegacyWritesDisabled)
	err = b.DeleteModelLegacy(context.Background(), models.CategoryClip, "x")
	assert.ErrorIs(t, err, ErrLegacyWritesDisabled)
}

func TestFileSystemBackend_LegacyAndV2WritesStaySeparate(t *testing.T) {
	b, meta := newTestFileSystemBackend(t, FormatLegacy)
	ctx := context.Background()

	require.NoError(t, b.UpdateModel(ctx, models.CategoryEsrgan, newTestRecord("v2only")))
	v2Before, err := os.ReadFile(b.Layout().CategoryFile(models.CategoryEsrgan))
	require.NoError(t, err)

	var doc legacy.Document
	require.NoError(t, json.Unmarshal([]byte(legacyEsrgan), &doc))
	require.NoError(t, b.UpdateModelLegacy(ctx, models.CategoryEsrgan, "RealESRGAN_x4plus", doc["RealESRGAN_x4plus"]))

	got, err := b.LegacyJSON(ctx, models.CategoryEsrgan, false)
	require.NoError(t, err)
	assert.Contains(t, got, "RealESRGAN_x4plus")
	assert.NotContains(t, got, "v2only")

	v2, err := b.FetchCategory(ctx, models.CategoryEsrgan, false)
	require.NoError(t, err)
	assert.Equal(t, []string{"v2only"}, v2.Names())

	v2After, err := os.ReadFile(b.Layout().CategoryFile(models.CategoryEsrgan))
	require.NoError(t, err)
	assert.Equal(t, v2Before, v2After)

	ledger, err := meta.Legacy(models.CategoryEsrgan)
	require.NoError(t, err)
	assert.Equal(t, 1, ledger.TotalCreates)

	require.NoError(t, b.UpdateModel(ctx, models.CategoryEsrgan, newTestRecord("second")))
	got, err = b.LegacyJSON(ctx, models.CategoryEsrgan, false)
	require.NoError(t, err)
	assert.NotContains(t, got, "second")

	require.NoError(t, b.DeleteModelLegacy(ctx, models.CategoryEsrgan, "RealESRGAN_x4plus"))
	err = b.DeleteModelLegacy(ctx, models.CategoryEsrgan, "RealESRGAN_x4plus")
	assert.ErrorIs(t, err, ErrModelNotFound)

	v2, err = b.FetchCategory(ctx, models.CategoryEsrgan, false)
	require.NoError(t, err)
	assert.Equal(t, []string{"second", "v2only"}, v2.Names())
}

func TestFileSystemBackend_SameMtimeRewriteWaitsForTTL(t *testing.T) {
	b, _ := newTestFileSystemBackend(t, FormatV2)
	ctx := context.Background()
	layout := b.Layout()
	path := layout.CategoryFile(models.CategoryCodeformer)

	now := time.Now()
	b.cache.now = func() time.Time { return now }

	writeCategoryFile(t, layout, models.CategoryCodeformer, models.RawDocument{"old": json.RawMessage(`{"name":"old"}`)})
	pinned := time.Now().Add(-time.Hour).Truncate(time.Second)
	require.NoError(t, os.Chtimes(path, pinned, pinned))

	doc, err := b.FetchCategory(ctx, models.CategoryCodeformer, false)
	require.NoError(t, err)
	assert.Equal(t, []string{"old"}, doc.Names())

	writeCategoryFile(t, layout, models.CategoryCodeformer, models.RawDocument{"new": json.RawMessage(`{"name":"new"}`)})
	require.NoError(t, os.Chtimes(path, pinned, pinned))

	now = now.Add(30 * time.Second)
	doc, err = b.FetchCategory(ctx, models.CategoryCodeformer, false)
	require.NoError(t, err)
	assert.Equal(t, []string{"old"}, doc.Names(), "cached until the TTL expires")

	now = now.Add(31 * time.Second)
	doc, err = b.FetchCategory(ctx, models.CategoryCodeformer, false)
	require.NoError(t, err)
	assert.Equal(t, []string{"new"}, doc.Names())
}

func TestFileSystemBackend_TextLegacyWritesCSV(t *testing.T) {
	b, _ := newTestFileSystemBackend(t, FormatLegacy)
	ctx := context.Background()

	entry := legacy.TextEntry{
		Name:        "org/Model-7B",
		ModelName:   "Model-7B",
		Parameters:  7_000_000_000,
		Description: "a text model",
		Version:     "1",
		Style:       "generalist",
		Baseline:    "llama",
		URL:         "https://huggingface.co/org/Model-7B",
	}
	raw, err := json.Marshal(entry)
	require.NoError(t, err)
	require.NoError(t, b.UpdateModelLegacy(ctx, models.CategoryTextGeneration, entry.Name, raw))

	data, err := os.ReadFile(b.Layout().LegacyCSVFile())
	require.NoError(t, err)
	assert.Contains(t, string(data), "org/Model-7B")

	s, err := b.LegacyJSONString(ctx, models.CategoryTextGeneration, true)
	require.NoError(t, err)
	assert.Contains(t, s, `"org/Model-7B"`)
	assert.NotContains(t, s, "koboldcpp/")
}

func TestFileSystemBackend_ExternalEditDetected(t *testing.T) {
	b, _ := newTestFileSystemBackend(t, FormatV2)
	ctx := context.Background()
	layout := b.Layout()

	writeCategoryFile(t, layout, models.CategoryBlip, models.RawDocument{"one": json.RawMessage(`{"name":"one"}`)})
	doc, err := b.FetchCategory(ctx, models.CategoryBlip, false)
	require.NoError(t, err)
	assert.Equal(t, []string{"one"}, doc.Names())
	assert.False(t, b.NeedsRefresh(models.CategoryBlip))

	fired := 0
	b.RegisterInvalidationCallback(func(models.Category) { fired++ })

	writeCategoryFile(t, layout, models.CategoryBlip, models.RawDocument{"two": json.RawMessage(`{"name":"two"}`)})
	future := time.Now().Add(time.Minute)
	require.NoError(t, os.Chtimes(layout.CategoryFile(models.CategoryBlip), future, future))

	assert.True(t, b.NeedsRefresh(models.CategoryBlip))
	assert.True(t, b.NeedsRefresh(models.CategoryBlip))
	assert.Equal(t, 1, fired)

	doc, err = b.FetchCategory(ctx, models.CategoryBlip, false)
	require.NoError(t, err)
	assert.Equal(t, []string{"two"}, doc.Names())
}

func TestFileSystemBackend_CorruptFileServesPrevious(t *testing.T) {
	b, _ := newTestFileSystemBackend(t, FormatV2)
	ctx := context.Background()
	layout := b.Layout()

	writeCategoryFile(t, layout, models.CategoryGfpgan, models.RawDocument{"g": json.RawMessage(`{"name":"g"}`)})
	_, err := b.FetchCategory(ctx, models.CategoryGfpgan, false)
	require.NoError(t, err)

	require.NoError(t, os.WriteFile(layout.CategoryFile(models.CategoryGfpgan), []byte("{broken"), 0o644))
	doc, err := b.FetchCategory(ctx, models.CategoryGfpgan, true)
	require.NoError(t, err)
	assert.Equal(t, []string{"g"}, doc.Names())
}

func TestFileSystemBackend_PopulateMetadata(t *testing.T) {
	b, meta := newTestFileSystemBackend(t, FormatV2)
	ctx := context.Background()
	layout := b.Layout()

	writeCategoryFile(t, layout, models.CategoryClip, models.RawDocument{
		"c": json.RawMessage(`{"name":"c","config":{"download":[{"file_name":"c.pt","file_url":"https://x/c.pt","sha256sum":"` + testSHA + `"}]}}`),
	})

	n, err := b.PopulateMetadata(ctx, models.CategoryClip)
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	n, err = b.PopulateMetadata(ctx, models.CategoryClip)
	require.NoError(t, err)
	assert.Zero(t, n)

	_, err = meta.V2(models.CategoryClip)
	assert.NoError(t, err)
	_, err = meta.Legacy(models.CategoryClip)
	assert.NoError(t, err)
}
