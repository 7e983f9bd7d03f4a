package analytics

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/haidra-org/horde-model-reference/internal/backends"
	"github.com/haidra-org/horde-model-reference/internal/manager"
	"github.com/haidra-org/horde-model-reference/internal/models"
)

var _ ReferenceSource = (*manager.Manager)(nil)

type fakeSource struct {
	mu        sync.Mutex
	refs      map[models.Category]*models.ModelReference
	listeners []backends.InvalidationFunc
}

func newFakeSource() *fakeSource {
	return &fakeSource{refs: make(map[models.Category]*models.ModelReference)}
}

func (s *fakeSource) set(c models.Category, records ...*models.ModelRecord) {
	m := make(map[string]*models.ModelRecord, len(records))
	for _, r := range records {
		m[r.Name] = r
	}
	s.mu.Lock()
	s.refs[c] = models.NewModelReference(c, m)
	s.mu.Unlock()
}

func (s *fakeSource) Reference(_ context.Context, c models.Category, _ bool) (*models.ModelReference, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	ref, ok := s.refs[c]
	if !ok {
		return nil, manager.ErrReferenceUnavailable
	}
	return ref, nil
}

func (s *fakeSource) OnInvalidate(fn backends.InvalidationFunc) {
	s.listeners = append(s.listeners, fn)
}

func (s *fakeSource) invalidate(c models.Category) {
	for _, fn := range s.listeners {
		fn(c)
	}
}

type fakeUsage struct {
	mu    sync.Mutex
	data  map[models.Category]map[string]Usage
	err   error
	calls int
}

func (u *fakeUsage) Usage(_ context.Context, c models.Category) (map[string]Usage, error) {
	u.mu.Lock()
	defer u.mu.Unlock()
	u.calls++
	if u.err != nil {
		return nil, u.err
	}
	return u.data[c], nil
}

func (u *fakeUsage) callCount() int {
	u.mu.Lock()
	defer u.mu.Unlock()
	return u.calls
}

func record(name, baseline, description string, urls ...string) *models.ModelRecord {
	rec := &models.ModelRecord{Name: name, Baseline: baseline, Description: description}
	if len(urls) > 0 {
		dl := make([]models.DownloadRecord, 0, len(urls))
		for i, u := range urls {
			dl = append(dl, models.DownloadRecord{FileName: name + string(rune('a'+i)), FileURL: u})
		}
		rec.Config = map[string][]models.DownloadRecord{"download": dl}
	}
	return rec
}

func newImageFixture() (*fakeSource, *fakeUsage) {
	popular := record("Popular", "stable_diffusion_xl", "A popular model", "https://huggingface.co/a/popular.safetensors")
	popular.SizeOnDiskBytes = 2 << 30

	src := newFakeSource()
	src.set(models.CategoryImageGeneration,
		popular,
		record("Forgotten", "", "", "https://civitai.com/x.safetensors", "https://example.org/x.safetensors"),
		record("Bare", "stable_diffusion_1", "No files"),
	)
	usage := &fakeUsage{data: map[models.Category]map[string]Usage{
		models.CategoryImageGeneration: {
			"Popular":   {WorkerCount: 5, Day: 10, Month: 1000, Total: 5000},
			"forgotten": {},
		},
	}}
	return src, usage
}

func newTestAuditEngine(t *testing.T, src ReferenceSource, usage UsageSource) *AuditEngine {
	t.Helper()
	e, err := NewAuditEngine(src, AuditOptions{
		Cache:  CacheOptions{Name: "audit-test"},
		Usage:  usage,
		Logger: newTestLogger(),
	})
	require.NoError(t, err)
	return e
}

func findAudit(t *testing.T, audits []ModelAudit, name string) ModelAudit {
	t.Helper()
	for _, a := range audits {
		if a.Name == name {
			return a
		}
	}
	t.Fatalf("no audit for %q", name)
	return ModelAudit{}
}

func TestAudit_ImageFlags(t *testing.T) {
	src, usage := newImageFixture()
	e := newTestAuditEngine(t, src, usage)

	a, err := e.Audit(context.Background(), models.CategoryImageGeneration, AuditQuery{})
	require.NoError(t, err)

	assert.True(t, a.UsageAvailable)
	assert.Equal(t, int64(1000), a.CategoryTotalMonthUsage)
	assert.Equal(t, 3, a.TotalCount)
	require.Len(t, a.Models, 3)
	assert.Equal(t, "Popular", a.Models[0].Name, "ordered by monthly usage")

	popular := findAudit(t, a.Models, "Popular")
	assert.False(t, popular.AtRisk)
	assert.Equal(t, 0, popular.RiskScore)
	assert.Equal(t, 100.0, popular.UsagePercentage)
	require.NotNil(t, popular.SizeGB)
	assert.Equal(t, 2.0, *popular.SizeGB)
	require.NotNil(t, popular.CostBenefitScore)
	assert.Equal(t, 500.0, *popular.CostBenefitScore)
	require.NotNil(t, popular.UsageTrend.DayToMonth)
	assert.InDelta(t, 0.01, *popular.UsageTrend.DayToMonth, 1e-9)
	assert.Equal(t, []string{"huggingface.co"}, popular.DownloadHosts)

	forgotten := findAudit(t, a.Models, "Forgotten")
	f := forgotten.Flags
	assert.True(t, f.ZeroUsageMonth)
	assert.True(t, f.NoActiveWorkers)
	assert.True(t, f.HasMultipleHosts)
	assert.True(t, f.HasNonPreferredHost)
	assert.True(t, f.MissingDescription)
	assert.True(t, f.MissingBaseline)
	assert.True(t, f.LowUsage)
	assert.False(t, f.NoDownloadURLs)
	assert.Equal(t, 9, forgotten.RiskScore)
	assert.True(t, forgotten.Critical)
	assert.True(t, forgotten.Warning)
	assert.Nil(t, forgotten.SizeGB)

	bare := findAudit(t, a.Models, "Bare")
	assert.True(t, bare.Flags.NoDownloadURLs)
	assert.True(t, bare.Flags.ZeroUsageTotal, "models missing from usage data count as unused")
	assert.True(t, bare.Critical)

	assert.Equal(t, 2, a.Summary.ModelsAtRisk)
	assert.Equal(t, 2, a.Summary.ModelsCritical)
	assert.Equal(t, 2, a.Summary.ModelsWithWarnings)
	assert.Equal(t, 1, a.Summary.NoDownloads)
}

func TestAudit_WithoutUsage(t *testing.T) {
	src, usage := newImageFixture()
	usage.err = errors.New("horde down")
	e := newTestAuditEngine(t, src, usage)

	a, err := e.Audit(context.Background(), models.CategoryImageGeneration, AuditQuery{})
	require.NoError(t, err)
	assert.False(t, a.UsageAvailable)

	forgotten := findAudit(t, a.Models, "Forgotten")
	assert.False(t, forgotten.Flags.ZeroUsageMonth)
	assert.False(t, forgotten.Flags.NoActiveWorkers)
	assert.False(t, forgotten.Critical)
	assert.True(t, forgotten.Flags.MissingDescription)

	popular := findAudit(t, a.Models, "Popular")
	assert.Nil(t, popular.CostBenefitScore)
	assert.NotNil(t, popular.SizeGB)
}

func newTextFixture() (*fakeSource, *fakeUsage) {
	src := newFakeSource()
	src.set(models.CategoryTextGeneration,
		record("Llama-3-8B-Instruct", "llama3", "Chat model", "https://huggingface.co/meta/llama"),
		record("Llama-3-8B-Instruct-Q4", "llama3", "Quantized", "https://huggingface.co/meta/llama-q4"),
		record("koboldcpp/Llama-3-8B-Instruct", "llama3", "Backend duplicate"),
		record("Pygmalion", "pyg", "Roleplay", "https://huggingface.co/pyg"),
	)
	usage := &fakeUsage{data: map[models.Category]map[string]Usage{
		models.CategoryTextGeneration: {
			"Llama-3-8B-Instruct": {
				WorkerCount: 2, Day: 3, Month: 100, Total: 900,
				Variations: map[string]Usage{
					"canonical": {WorkerCount: 1, Month: 40},
					"koboldcpp": {WorkerCount: 2, Month: 60},
				},
			},
			"Llama-3-8B-Instruct-Q4": {Month: 5, Total: 20},
			"Pygmalion":              {Month: 50, Total: 70},
		},
	}}
	return src, usage
}

func TestAudit_TextCriticalAndVariations(t *testing.T) {
	src, usage := newTextFixture()
	e := newTestAuditEngine(t, src, usage)
	ctx := context.Background()

	a, err := e.Audit(ctx, models.CategoryTextGeneration, AuditQuery{})
	require.NoError(t, err)
	assert.Equal(t, 3, a.TotalCount, "backend duplicates are not audited")
	assert.Equal(t, int64(155), a.CategoryTotalMonthUsage)

	q4 := findAudit(t, a.Models, "Llama-3-8B-Instruct-Q4")
	assert.True(t, q4.Critical, "unserved and below the text usage floor")
	pyg := findAudit(t, a.Models, "Pygmalion")
	assert.False(t, pyg.Critical)
	assert.Nil(t, findAudit(t, a.Models, "Llama-3-8B-Instruct").BackendVariations)

	v, err := e.Audit(ctx, models.CategoryTextGeneration, AuditQuery{BackendVariations: true})
	require.NoError(t, err)
	llama := findAudit(t, v.Models, "Llama-3-8B-Instruct")
	require.Len(t, llama.BackendVariations, 2)
	assert.Equal(t, int64(60), llama.BackendVariations["koboldcpp"].Month)
}

func TestAudit_Grouped(t *testing.T) {
	src, usage := newTextFixture()
	e := newTestAuditEngine(t, src, usage)

	a, err := e.Audit(context.Background(), models.CategoryTextGeneration, AuditQuery{Grouped: true, BackendVariations: true})
	require.NoError(t, err)
	require.Len(t, a.Models, 2)

	g := findAudit(t, a.Models, "Llama-3 (grouped)")
	assert.Equal(t, int64(105), g.UsageMonth)
	assert.Equal(t, 2, g.WorkerCount)
	assert.True(t, g.Critical)
	assert.True(t, g.Flags.NoActiveWorkers)
	assert.Nil(t, g.BackendVariations)
	assert.Equal(t, []string{"huggingface.co"}, g.DownloadHosts)
	assert.Equal(t, 3, a.TotalCount)
	assert.Equal(t, 2, a.ReturnedCount)
}

func TestAudit_GroupingIgnoredOutsideText(t *testing.T) {
	src, usage := newImageFixture()
	e := newTestAuditEngine(t, src, usage)

	a, err := e.Audit(context.Background(), models.CategoryImageGeneration, AuditQuery{Grouped: true})
	require.NoError(t, err)
	assert.Len(t, a.Models, 3)
}

func TestAudit_CacheFollowsInvalidation(t *testing.T) {
	src, usage := newImageFixture()
	e := newTestAuditEngine(t, src, usage)
	ctx := context.Background()

	_, err := e.Audit(ctx, models.CategoryImageGeneration, AuditQuery{})
	require.NoError(t, err)
	_, err = e.Audit(ctx, models.CategoryImageGeneration, AuditQuery{})
	require.NoError(t, err)
	assert.Equal(t, 1, usage.callCount())

	src.set(models.CategoryImageGeneration, record("Only", "stable_diffusion_1", "new"))
	src.invalidate(models.CategoryImageGeneration)

	a, err := e.Audit(ctx, models.CategoryImageGeneration, AuditQuery{})
	require.NoError(t, err)
	assert.Equal(t, 2, usage.callCount())
	assert.Equal(t, 1, a.TotalCount)
}

func TestAudit_UnavailableReference(t *testing.T) {
	e := newTestAuditEngine(t, newFakeSource(), nil)

	_, err := e.Audit(context.Background(), models.CategoryTextGeneration, AuditQuery{})
	assert.ErrorIs(t, err, manager.ErrReferenceUnavailable)
	assert.NoError(t, e.Hydrate(context.Background()), "hydration skips missing references")
}

func TestAudit_HydrateFillsCache(t *testing.T) {
	src, usage := newTextFixture()
	e := newTestAuditEngine(t, src, usage)
	ctx := context.Background()

	require.NoError(t, e.Hydrate(ctx))
	calls := usage.callCount()
	assert.Equal(t, 3, calls)

	for _, q := range []AuditQuery{{}, {Grouped: true}, {BackendVariations: true}} {
		_, err := e.Audit(ctx, models.CategoryTextGeneration, q)
		require.NoError(t, err)
	}
	assert.Equal(t, calls, usage.callCount(), "every text variant was served from cache")
	assert.Equal(t, 3, e.Cache().Info().Size)
}

func TestCategoryAudit_View(t *testing.T) {
	src, usage := newImageFixture()
	e := newTestAuditEngine(t, src, usage)
	a, err := e.Audit(context.Background(), models.CategoryImageGeneration, AuditQuery{})
	require.NoError(t, err)

	critical, err := a.View("critical", 0, 0)
	require.NoError(t, err)
	assert.Equal(t, 2, critical.ReturnedCount)
	assert.Equal(t, 2, critical.Summary.TotalModels)
	assert.Nil(t, critical.Limit)

	page, err := a.View("", 1, 1)
	require.NoError(t, err)
	require.Len(t, page.Models, 1)
	assert.Equal(t, a.Models[1].Name, page.Models[0].Name)
	require.NotNil(t, page.Limit)
	assert.Equal(t, 1, *page.Limit)
	assert.Equal(t, 3, page.Summary.TotalModels, "summary covers the whole audit without a preset")

	past, err := a.View("", 10, 5)
	require.NoError(t, err)
	assert.Empty(t, past.Models)

	_, err = a.View("nope", 0, 0)
	assert.ErrorIs(t, err, ErrUnknownPreset)

	assert.Len(t, a.Models, 3, "views leave the cached audit alone")
}

func TestSortAudits(t *testing.T) {
	audits := []ModelAudit{
		{Name: "b", RiskScore: 1, WorkerCount: 3},
		{Name: "a", RiskScore: 5, WorkerCount: 1},
		{Name: "c", RiskScore: 3, WorkerCount: 2},
	}
	SortAudits(audits, "risk_score")
	assert.Equal(t, "a", audits[0].Name)
	SortAudits(audits, "name")
	assert.Equal(t, "a", audits[0].Name)
	assert.Equal(t, "c", audits[2].Name)
	SortAudits(audits, "worker_count")
	assert.Equal(t, "b", audits[0].Name)
	SortAudits(audits, "unknown")
	assert.Equal(t, "b", audits[0].Name)
}
