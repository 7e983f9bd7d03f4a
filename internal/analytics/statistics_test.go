package analytics

import (
	"context"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/haidra-org/horde-model-reference/internal/models"
)

func boolPtr(b bool) *bool { return &b }

func TestComputeStatistics_Image(t *testing.T) {
	a := record("A", "stable_diffusion_xl", "", "https://huggingface.co/a", "https://civitai.com/a")
	a.NSFW = boolPtr(true)
	a.Tags = []string{"anime", "portrait"}
	a.Style = "anime"
	a.Trigger = []string{"trigger"}
	a.SizeOnDiskBytes = 1000
	b := record("B", "stable_diffusion_xl", "", "https://huggingface.co/b")
	b.Tags = []string{"anime"}
	b.Inpainting = boolPtr(true)
	b.Requirements = map[string]any{"clip_skip": 2}
	b.SizeOnDiskBytes = 3000
	c := record("C", "stable_diffusion_1", "")
	c.Showcases = []string{"https://example.org/c.png"}

	s := ComputeStatistics(models.CategoryImageGeneration, map[string]*models.ModelRecord{"A": a, "B": b, "C": c}, false)

	assert.Equal(t, 3, s.TotalModels)
	assert.Equal(t, 1, s.NSFWCount)
	assert.Equal(t, 2, s.SFWCount)
	assert.Equal(t, 2, s.BaselineDistribution["stable_diffusion_xl"].Count)
	assert.Equal(t, 66.67, s.BaselineDistribution["stable_diffusion_xl"].Percentage)

	assert.Equal(t, 2, s.Downloads.ModelsWithDownloads)
	assert.Equal(t, 3, s.Downloads.DownloadEntries)
	assert.Equal(t, map[string]int{"huggingface.co": 2, "civitai.com": 1}, s.Downloads.Hosts)
	assert.Equal(t, int64(4000), s.Downloads.TotalSizeBytes)
	assert.Equal(t, 2000.0, s.Downloads.AverageSizeBytes)

	require.Len(t, s.TopTags, 2)
	assert.Equal(t, CountStats{Name: "anime", Count: 2, Percentage: 66.67}, s.TopTags[0])
	assert.Equal(t, "portrait", s.TopTags[1].Name)
	assert.Len(t, s.TopStyles, 1)

	assert.Equal(t, 1, s.ModelsWithTriggerWords)
	assert.Equal(t, 1, s.ModelsWithInpainting)
	assert.Equal(t, 1, s.ModelsWithRequirements)
	assert.Equal(t, 1, s.ModelsWithShowcases)
	assert.Empty(t, s.ParameterBuckets)
	assert.False(t, s.Grouped)
}

func TestComputeStatistics_TextBuckets(t *testing.T) {
	recs := map[string]*models.ModelRecord{}
	add := func(name string, params int64) {
		r := record(name, "", "")
		r.Parameters = params
		recs[name] = r
	}
	add("Tiny-1B", 1_000_000_000)
	add("Llama-3-8B", 8_000_000_000)
	add("Llama-3-8B-Instruct", 8_000_000_000)
	add("Mistral-7B", 7_000_000_000)
	add("Huge-120B", 120_000_000_000)
	add("Unknown", 0)
	add("koboldcpp/Llama-3-8B", 8_000_000_000)

	s := ComputeStatistics(models.CategoryTextGeneration, recs, false)
	assert.Equal(t, 6, s.TotalModels, "backend duplicates are not counted")
	assert.Equal(t, 1, s.ModelsWithoutParamInfo)

	byLabel := map[string]ParameterBucketStats{}
	for _, b := range s.ParameterBuckets {
		byLabel[b.Label] = b
	}
	assert.Len(t, byLabel, 3, "empty buckets are left out")
	assert.Equal(t, 1, byLabel["< 3B"].Count)
	assert.Equal(t, 3, byLabel["6B-9B"].Count)
	assert.Equal(t, 50.0, byLabel["6B-9B"].Percentage)
	require.NotNil(t, byLabel["6B-9B"].MaxParams)
	assert.Equal(t, int64(9_000_000_000), *byLabel["6B-9B"].MaxParams)
	assert.Nil(t, byLabel["> 70B"].MaxParams)

	grouped := ComputeStatistics(models.CategoryTextGeneration, recs, true)
	assert.True(t, grouped.Grouped)
	assert.Equal(t, 5, grouped.TotalModels, "Llama-3 variants collapse into one")
}

func TestComputeStatistics_TopIsBounded(t *testing.T) {
	recs := map[string]*models.ModelRecord{}
	for i := 0; i < 30; i++ {
		r := record(fmt.Sprintf("m%02d", i), "", "")
		r.Tags = []string{fmt.Sprintf("tag%02d", i), "common"}
		recs[r.Name] = r
	}
	s := ComputeStatistics(models.CategoryImageGeneration, recs, false)
	require.Len(t, s.TopTags, TopLimit)
	assert.Equal(t, "common", s.TopTags[0].Name)
	assert.Equal(t, 100.0, s.TopTags[0].Percentage)
	assert.Equal(t, "tag00", s.TopTags[1].Name, "ties are ordered by name")
}

func TestComputeStatistics_Empty(t *testing.T) {
	s := ComputeStatistics(models.CategoryClip, nil, false)
	assert.Equal(t, 0, s.TotalModels)
	assert.NotNil(t, s.TopTags)
	assert.NotNil(t, s.BaselineDistribution)
}

func TestStatisticsEngine_CachesAndInvalidates(t *testing.T) {
	src := newFakeSource()
	src.set(models.CategoryEsrgan, record("RealESRGAN_x4plus", "", "upscaler"))
	e := NewStatisticsEngine(src, StatisticsOptions{Logger: newTestLogger()})
	ctx := context.Background()

	s, err := e.Statistics(ctx, models.CategoryEsrgan, false)
	require.NoError(t, err)
	assert.Equal(t, 1, s.TotalModels)

	src.set(models.CategoryEsrgan, record("A", "", ""), record("B", "", ""))
	s, err = e.Statistics(ctx, models.CategoryEsrgan, false)
	require.NoError(t, err)
	assert.Equal(t, 1, s.TotalModels, "served from cache")

	src.invalidate(models.CategoryEsrgan)
	s, err = e.Statistics(ctx, models.CategoryEsrgan, false)
	require.NoError(t, err)
	assert.Equal(t, 2, s.TotalModels)
}

func TestStatisticsEngine_Hydrate(t *testing.T) {
	src, _ := newTextFixture()
	src.set(models.CategoryClip, record("ViT-L-14", "", ""))
	e := NewStatisticsEngine(src, StatisticsOptions{Logger: newTestLogger()})

	require.NoError(t, e.Hydrate(context.Background()))
	assert.Equal(t, 3, e.Cache().Info().Size, "clip plus both text groupings")

	_, err := e.Statistics(context.Background(), models.CategoryBlip, false)
	assert.Error(t, err)
}
