package models

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseCategory(t *testing.T) {
	tests := []struct {
		in      string
		want    Category
		wantErr bool
	}{
		{"image_generation", CategoryImageGeneration, false},
		{"stable_diffusion", CategoryImageGeneration, false},
		{" CLIP ", CategoryClip, false},
		{"text_generation", CategoryTextGeneration, false},
		{"lora", "", true},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			got, err := ParseCategory(tt.in)
			if tt.wantErr {
				var ve *ValidationError
				assert.ErrorAs(t, err, &ve)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestClassificationFor(t *testing.T) {
	assert.Equal(t, Classification{DomainImage, PurposeGeneration}, ClassificationFor(CategoryImageGeneration))
	assert.Equal(t, Classification{DomainText, PurposeGeneration}, ClassificationFor(CategoryTextGeneration))
	assert.Equal(t, Classification{DomainImage, PurposeAuxiliaryOrPatch}, ClassificationFor(CategoryControlnet))
}

func TestLegacyFileName(t *testing.T) {
	assert.Equal(t, "stable_diffusion.json", CategoryImageGeneration.LegacyFileName())
	assert.Equal(t, "db.json", CategoryTextGeneration.LegacyFileName())
	assert.Equal(t, "esrgan.json", CategoryEsrgan.LegacyFileName())
}

func TestShowcaseFolderName(t *testing.T) {
	assert.Equal(t, "anything_v3", ShowcaseFolderName("Anything v3"))
	assert.Equal(t, "jims_model_2_0", ShowcaseFolderName("Jim's Model 2.0"))
}

func TestModelRecord_Validate(t *testing.T) {
	valid := func() *ModelRecord {
		return &ModelRecord{
			Name: "m",
			Config: map[string][]DownloadRecord{
				"download": {{FileName: "m.ckpt", FileURL: "https://huggingface.co/m.ckpt", SHA256Sum: "abc"}},
			},
		}
	}

	t.Run("valid", func(t *testing.T) {
		assert.NoError(t, valid().Validate(false))
	})

	t.Run("missing name", func(t *testing.T) {
		r := valid()
		r.Name = ""
		var ve *ValidationError
		require.ErrorAs(t, r.Validate(false), &ve)
		assert.Equal(t, "name", ve.Field)
	})

	t.Run("missing url", func(t *testing.T) {
		r := valid()
		r.Config["download"][0].FileURL = ""
		var ve *ValidationError
		require.ErrorAs(t, r.Validate(false), &ve)
		assert.Equal(t, "config.download[0]", ve.Field)
	})

	t.Run("placeholder checksum", func(t *testing.T) {
		r := valid()
		r.Config["download"][0].SHA256Sum = ChecksumPlaceholder
		assert.Error(t, r.Validate(false))
		assert.NoError(t, r.Validate(true))
	})
}

func TestDownloadHosts(t *testing.T) {
	r := &ModelRecord{Config: map[string][]DownloadRecord{
		"download": {
			{FileURL: "https://HuggingFace.co/a"},
			{FileURL: "https://civitai.com/b"},
			{FileURL: "https://huggingface.co/c"},
			{FileURL: "not a url"},
		},
	}}
	assert.Equal(t, []string{"civitai.com", "huggingface.co"}, r.DownloadHosts())
}

func TestRawDocument_MarshalIndent(t *testing.T) {
	doc := RawDocument{"a": json.RawMessage(`{"name":"a"}`)}
	out, err := doc.Marshal()
	require.NoError(t, err)
	assert.Equal(t, "{\n    \"a\": {\n        \"name\": \"a\"\n    }\n}\n", string(out))
}

func TestModelReference_AggregatesRebuildOnKeyChange(t *testing.T) {
	ref := NewModelReference(CategoryImageGeneration, map[string]*ModelRecord{
		"a": {Name: "a", Baseline: BaselineStableDiffusion1, Style: StyleAnime, Tags: []string{"x"}},
		"b": {Name: "b", Baseline: BaselineStableDiffusionXL, Style: "bogus"},
	})

	agg := ref.Aggregates()
	assert.Equal(t, 1, agg.Baselines[BaselineStableDiffusion1])
	assert.Equal(t, map[string]int{StyleAnime: 1}, agg.Styles)
	assert.Same(t, agg, ref.Aggregates())

	ref.Models["c"] = &ModelRecord{Name: "c", Baseline: BaselineStableDiffusion1}
	agg2 := ref.Aggregates()
	assert.NotSame(t, agg, agg2)
	assert.Equal(t, 2, agg2.Baselines[BaselineStableDiffusion1])
}

func TestParseReference(t *testing.T) {
	doc := RawDocument{"x": json.RawMessage(`{"config":{}}`)}
	ref, err := ParseReference(CategoryEsrgan, doc)
	require.NoError(t, err)
	rec, ok := ref.Get("x")
	require.True(t, ok)
	assert.Equal(t, "x", rec.Name)

	_, err = ParseReference(CategoryEsrgan, RawDocument{"y": json.RawMessage(`[1]`)})
	assert.Error(t, err)
}
