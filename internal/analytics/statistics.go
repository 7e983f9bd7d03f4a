package analytics

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"sort"
	"time"

	"github.com/haidra-org/horde-model-reference/internal/manager"
	"github.com/haidra-org/horde-model-reference/internal/models"
)

// TopLimit bounds the top tag and style lists.
const TopLimit = 20

// ParameterBucket is a text model size range; Max of 0 is unbounded.
type ParameterBucket struct {
	Label string
	Min   int64
	Max   int64
}

// ParameterBuckets are the size ranges text models are counted in.
var ParameterBuckets = []ParameterBucket{
	{"< 3B", 0, 3_000_000_000},
	{"3B-6B", 3_000_000_000, 6_000_000_000},
	{"6B-9B", 6_000_000_000, 9_000_000_000},
	{"9B-13B", 9_000_000_000, 13_000_000_000},
	{"13B-20B", 13_000_000_000, 20_000_000_000},
	{"20B-35B", 20_000_000_000, 35_000_000_000},
	{"35B-70B", 35_000_000_000, 70_000_000_000},
	{"> 70B", 70_000_000_000, 0},
}

func (b ParameterBucket) contains(n int64) bool {
	return n >= b.Min && (b.Max == 0 || n < b.Max)
}

// ParameterBucketStats counts text models in one size range.
type ParameterBucketStats struct {
	Label      string  `json:"bucket_label"`
	MinParams  int64   `json:"min_params"`
	MaxParams  *int64  `json:"max_params"`
	Count      int     `json:"count"`
	Percentage float64 `json:"percentage"`
}

// CountStats is the share of one value among a category's models.
type CountStats struct {
	Name       string  `json:"tag"`
	Count      int     `json:"count"`
	Percentage float64 `json:"percentage"`
}

// DownloadStats aggregates download entries of a category.
type DownloadStats struct {
	ModelsWithDownloads int            `json:"total_models_with_downloads"`
	DownloadEntries     int            `json:"total_download_entries"`
	TotalSizeBytes      int64          `json:"total_size_bytes"`
	ModelsWithSizeInfo  int            `json:"models_with_size_info"`
	AverageSizeBytes    float64        `json:"average_size_bytes"`
	Hosts               map[string]int `json:"hosts"`
}

// CategoryStatistics are the aggregate metrics of a category.
type CategoryStatistics struct {
	Category               models.Category        `json:"category"`
	Grouped                bool                   `json:"grouped"`
	TotalModels            int                    `json:"total_models"`
	NSFWCount              int                    `json:"nsfw_count"`
	SFWCount               int                    `json:"sfw_count"`
	BaselineDistribution   map[string]CountStats  `json:"baseline_distribution"`
	Downloads              DownloadStats          `json:"download_stats"`
	TopTags                []CountStats           `json:"top_tags"`
	TopStyles              []CountStats           `json:"top_styles"`
	ParameterBuckets       []ParameterBucketStats `json:"parameter_buckets"`
	ModelsWithoutParamInfo int                    `json:"models_without_param_info"`
	ModelsWithTriggerWords int                    `json:"models_with_trigger_words"`
	ModelsWithInpainting   int                    `json:"models_with_inpainting"`
	ModelsWithRequirements int                    `json:"models_with_requirements"`
	ModelsWithShowcases    int                    `json:"models_with_showcases"`
	ComputedAt             int64                  `json:"computed_at"`
}

// ComputeStatistics derives the statistics of a set of records. Text backend
// duplicates are not counted; grouped text statistics keep one record per
// base name.
func ComputeStatistics(c models.Category, records map[string]*models.ModelRecord, grouped bool) *CategoryStatistics {
	names := make([]string, 0, len(records))
	for n := range records {
		if c.IsText() && models.HasTextBackendPrefix(n) {
			continue
		}
		names = append(names, n)
	}
	sort.Strings(names)
	if grouped && c.IsText() {
		seen := make(map[string]bool)
		kept := names[:0]
		for _, n := range names {
			b := BaseModelName(n)
			if !seen[b] {
				seen[b] = true
				kept = append(kept, n)
			}
		}
		names = kept
	}

	s := &CategoryStatistics{
		Category:             c,
		Grouped:              grouped && c.IsText(),
		TotalModels:          len(names),
		BaselineDistribution: make(map[string]CountStats),
		Downloads:            DownloadStats{Hosts: make(map[string]int)},
		TopTags:              []CountStats{},
		TopStyles:            []CountStats{},
		ParameterBuckets:     []ParameterBucketStats{},
		ComputedAt:           time.Now().Unix(),
	}

	baselines := make(map[string]int)
	tags := make(map[string]int)
	styles := make(map[string]int)
	buckets := make([]int, len(ParameterBuckets))

	for _, n := range names {
		rec := records[n]
		if rec.IsNSFW() {
			s.NSFWCount++
		}
		if rec.Baseline != "" {
			baselines[rec.Baseline]++
		}
		if dl := rec.Downloads(); len(dl) > 0 {
			s.Downloads.ModelsWithDownloads++
			s.Downloads.DownloadEntries += len(dl)
			for _, d := range dl {
				if h := models.HostOf(d.FileURL); h != "" {
					s.Downloads.Hosts[h]++
				}
			}
		}
		if rec.SizeOnDiskBytes > 0 {
			s.Downloads.ModelsWithSizeInfo++
			s.Downloads.TotalSizeBytes += rec.SizeOnDiskBytes
		}
		for _, t := range rec.Tags {
			if t != "" {
				tags[t]++
			}
		}
		if rec.Style != "" {
			styles[rec.Style]++
		}
		if len(rec.Showcases) > 0 {
			s.ModelsWithShowcases++
		}

		switch c {
		case models.CategoryTextGeneration:
			if rec.Parameters <= 0 {
				s.ModelsWithoutParamInfo++
				break
			}
			for i, b := range ParameterBuckets {
				if b.contains(rec.Parameters) {
					buckets[i]++
					break
				}
			}
		case models.CategoryImageGeneration:
			if len(rec.Trigger) > 0 {
				s.ModelsWithTriggerWords++
			}
			if rec.IsInpainting() {
				s.ModelsWithInpainting++
			}
			if len(rec.Requirements) > 0 {
				s.ModelsWithRequirements++
			}
		}
	}
	s.SFWCount = s.TotalModels - s.NSFWCount

	if s.Downloads.ModelsWithSizeInfo > 0 {
		s.Downloads.AverageSizeBytes = round(float64(s.Downloads.TotalSizeBytes)/float64(s.Downloads.ModelsWithSizeInfo), 2)
	}
	if s.TotalModels == 0 {
		return s
	}
	for b, n := range baselines {
		s.BaselineDistribution[b] = CountStats{Name: b, Count: n, Percentage: pct(n, s.TotalModels)}
	}
	s.TopTags = top(tags, s.TotalModels)
	s.TopStyles = top(styles, s.TotalModels)
	for i, b := range ParameterBuckets {
		if buckets[i] == 0 {
			continue
		}
		st := ParameterBucketStats{
			Label:      b.Label,
			MinParams:  b.Min,
			Count:      buckets[i],
			Percentage: pct(buckets[i], s.TotalModels),
		}
		if b.Max != 0 {
			upper := b.Max
			st.MaxParams = &upper
		}
		s.ParameterBuckets = append(s.ParameterBuckets, st)
	}
	return s
}

func pct(n, total int) float64 {
	return math.Round(float64(n)/float64(total)*10000) / 100
}

// top returns the TopLimit most frequent values, ties broken by name.
func top(counts map[string]int, total int) []CountStats {
	out := make([]CountStats, 0, len(counts))
	for name, n := range counts {
		out = append(out, CountStats{Name: name, Count: n, Percentage: pct(n, total)})
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Count != out[j].Count {
			return out[i].Count > out[j].Count
		}
		return out[i].Name < out[j].Name
	})
	if len(out) > TopLimit {
		out = out[:TopLimit]
	}
	return out
}

// StatisticsOptions configure a StatisticsEngine.
type StatisticsOptions struct {
	Cache  CacheOptions
	Logger *slog.Logger
}

// StatisticsEngine computes and caches category statistics.
type StatisticsEngine struct {
	src    ReferenceSource
	logger *slog.Logger
	cache  *Cache[*CategoryStatistics]
}

// NewStatisticsEngine creates a statistics engine whose cache follows src's
// invalidations.
func NewStatisticsEngine(src ReferenceSource, opts StatisticsOptions) *StatisticsEngine {
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	if opts.Cache.Name == "" {
		opts.Cache.Name = "stats"
	}
	if opts.Cache.Logger == nil {
		opts.Cache.Logger = opts.Logger
	}
	e := &StatisticsEngine{
		src:    src,
		logger: opts.Logger,
		cache:  NewCache[*CategoryStatistics](opts.Cache),
	}
	src.OnInvalidate(func(c models.Category) {
		e.cache.Invalidate(context.Background(), c, nil, nil)
	})
	return e
}

// Cache exposes the engine's result cache.
func (e *StatisticsEngine) Cache() *Cache[*CategoryStatistics] { return e.cache }

func statsKey(c models.Category, grouped bool) Key {
	return Key{Category: c, Grouped: grouped && c.IsText()}
}

// Statistics returns the cached statistics of c, computing them on a miss.
func (e *StatisticsEngine) Statistics(ctx context.Context, c models.Category, grouped bool) (*CategoryStatistics, error) {
	key := statsKey(c, grouped)
	if s, _, ok := e.cache.Get(ctx, key); ok {
		return s, nil
	}
	s, err := e.Compute(ctx, c, grouped)
	if err != nil {
		return nil, err
	}
	e.cache.Set(ctx, key, s)
	return s, nil
}

// Compute derives the statistics of c without consulting the cache.
func (e *StatisticsEngine) Compute(ctx context.Context, c models.Category, grouped bool) (*CategoryStatistics, error) {
	ref, err := e.src.Reference(ctx, c, false)
	if err != nil {
		computations.WithLabelValues("statistics", "error").Inc()
		return nil, fmt.Errorf("statistics %s: %w", c, err)
	}
	s := ComputeStatistics(c, ref.Models, grouped)
	computations.WithLabelValues("statistics", "ok").Inc()
	e.logger.Debug("Statistics computed", "category", c, "models", s.TotalModels, "grouped", s.Grouped)
	return s, nil
}

// Hydrate recomputes the statistics of every category.
func (e *StatisticsEngine) Hydrate(ctx context.Context) error {
	var firstErr error
	for _, c := range models.AllCategories {
		groupings := []bool{false}
		if c.IsText() {
			groupings = append(groupings, true)
		}
		for _, g := range groupings {
			if err := ctx.Err(); err != nil {
				return err
			}
			s, err := e.Compute(ctx, c, g)
			if errors.Is(err, manager.ErrReferenceUnavailable) {
				continue
			}
			if err != nil {
				if firstErr == nil {
					firstErr = err
				}
				continue
			}
			e.cache.Set(ctx, statsKey(c, g), s)
		}
	}
	return firstErr
}
