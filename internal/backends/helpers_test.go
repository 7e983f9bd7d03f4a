package backends

import (
	"log/slog"
	"os"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/haidra-org/horde-model-reference/internal/models"
	"github.com/haidra-org/horde-model-reference/internal/paths"
)

const testSHA = "ad2a33c361c1f593c4a1fb32ea81afce2b5bb7d1983c6b94793a26a3b54b08a0"

const legacyEsrgan = `{
	"RealESRGAN_x4plus": {
		"name": "RealESRGAN_x4plus",
		"type": "realesrgan",
		"description": "upscaler",
		"version": "1",
		"config": {
			"files": [{"path": "RealESRGAN_x4plus.pth", "sha256sum": "` + testSHA + `"}],
			"download": [{"file_name": "RealESRGAN_x4plus.pth", "file_path": "", "file_url": "https://github.com/x/RealESRGAN_x4plus.pth"}]
		}
	}
}`

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

func writeCategoryFile(t *testing.T, layout paths.Layout, c models.Category, doc models.RawDocument) {
	t.Helper()
	data, err := doc.Marshal()
	require.NoError(t, err)
	require.NoError(t, os.MkdirAll(layout.Base, 0o755))
	require.NoError(t, os.WriteFile(layout.CategoryFile(c), data, 0o644))
}
