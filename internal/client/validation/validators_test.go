package validation

import (
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/haidra-org/horde-model-reference/internal/models"
	"github.com/haidra-org/horde-model-reference/internal/paths"
)

func TestValidateCategory(t *testing.T) {
	c, err := ValidateCategory("image_generation")
	require.NoError(t, err)
	assert.Equal(t, models.CategoryImageGeneration, c)

	_, err = ValidateCategory("images")
	assert.ErrorContains(t, err, "invalid category")
}

func TestValidateLedger(t *testing.T) {
	l, err := ValidateLedger("legacy")
	require.NoError(t, err)
	assert.Equal(t, paths.LedgerLegacy, l)

	_, err = ValidateLedger("v3")
	assert.Error(t, err)
}

func TestReadModelDocument(t *testing.T) {
	path := filepath.Join(t.TempDir(), "model.json")
	require.NoError(t, os.WriteFile(path, []byte(" {\"name\":\"x\"}\n"), 0o600))

	raw, err := ReadModelDocument(path, nil)
	require.NoError(t, err)
	assert.Equal(t, `{"name":"x"}`, string(raw))

	raw, err = ReadModelDocument("-", strings.NewReader(`{"baseline":"stable_diffusion_1"}`))
	require.NoError(t, err)
	assert.Contains(t, string(raw), "baseline")

	_, err = ReadModelDocument("-", strings.NewReader(`["not","an","object"]`))
	assert.Error(t, err)
	_, err = ReadModelDocument(filepath.Join(t.TempDir(), "missing.json"), nil)
	assert.Error(t, err)
}

func TestWithName(t *testing.T) {
	tests := []struct {
		name    string
		raw     string
		model   string
		want    string
		wantErr bool
	}{
		{name: "kept", raw: `{"name":"A","nsfw":false}`, model: "A", want: `{"name":"A","nsfw":false}`},
		{name: "added", raw: `{"nsfw":false}`, model: "A", want: `{"name":"A","nsfw":false}`},
		{name: "added to empty", raw: `{}`, model: "ViT-L/14", want: `{"name":"ViT-L/14"}`},
		{name: "mismatch", raw: `{"name":"B"}`, model: "A", wantErr: true},
		{name: "empty model", raw: `{}`, model: " ", wantErr: true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := WithName(json.RawMessage(tt.raw), tt.model)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, string(got))
			assert.True(t, json.Valid(got))
		})
	}
}
