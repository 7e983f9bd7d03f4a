package backends

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/haidra-org/horde-model-reference/internal/models"
)

func TestWatch_MarksChangedCategoryStale(t *testing.T) {
	fs, _ := newTestFileSystemBackend(t, FormatV2)
	layout := fs.Layout()

	got := make(chan models.Category, 8)
	fs.RegisterInvalidationCallback(func(c models.Category) { got <- c })

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- Watch(ctx, layout, fs, newTestLogger()) }()
	time.Sleep(100 * time.Millisecond)

	require.NoError(t, os.WriteFile(layout.CategoryFile(models.CategoryCodeformer), []byte("{}"), 0o644))
	require.NoError(t, os.WriteFile(layout.CategoryFile(models.CategoryCodeformer), []byte(`{"a": {}}`), 0o644))

	select {
	case c := <-got:
		assert.Equal(t, models.CategoryCodeformer, c)
	case <-time.After(3 * time.Second):
		t.Fatal("no invalidation from watcher")
	}

	// Both writes fall in one debounce window.
	select {
	case c := <-got:
		t.Fatalf("unexpected second invalidation for %s", c)
	case <-time.After(2 * watchDebounce):
	}

	cancel()
	assert.NoError(t, <-done)
}

func TestWatchedFiles(t *testing.T) {
	fs, _ := newTestFileSystemBackend(t, FormatV2)
	files := watchedFiles(fs.Layout())

	assert.Equal(t, models.CategoryTextGeneration, files[fs.Layout().LegacyCSVFile()])
	assert.Equal(t, models.CategoryImageGeneration, files[fs.Layout().CategoryFile(models.CategoryImageGeneration)])
}
