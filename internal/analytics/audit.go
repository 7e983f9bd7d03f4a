package analytics

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"net/url"
	"sort"
	"strings"
	"time"

	"github.com/haidra-org/horde-model-reference/internal/backends"
	"github.com/haidra-org/horde-model-reference/internal/manager"
	"github.com/haidra-org/horde-model-reference/internal/models"
)

const (
	// LowUsageThreshold is the share, in percent, of a category's monthly
	// usage below which a model is flagged as low usage.
	LowUsageThreshold = 0.1

	// DefaultTextCriticalUsage is the monthly usage below which an unserved
	// text model is critical.
	DefaultTextCriticalUsage = 10

	// VariantBackendVariations keys audits that carry per text backend usage.
	VariantBackendVariations = "backend_variations"
)

// DefaultPreferredHosts are the file hosts that do not raise a
// non-preferred host flag.
var DefaultPreferredHosts = []string{"huggingface.co"}

// AuditCategories are the categories served by the Horde and audited by the
// hydrator.
var AuditCategories = []models.Category{models.CategoryImageGeneration, models.CategoryTextGeneration}

// ReferenceSource provides parsed references and announces invalidations.
type ReferenceSource interface {
	Reference(ctx context.Context, c models.Category, overwrite bool) (*models.ModelReference, error)
	OnInvalidate(fn backends.InvalidationFunc)
}

// RiskFlags are the reasons a model may be a deletion candidate.
type RiskFlags struct {
	ZeroUsageDay        bool `json:"zero_usage_day"`
	ZeroUsageMonth      bool `json:"zero_usage_month"`
	ZeroUsageTotal      bool `json:"zero_usage_total"`
	NoActiveWorkers     bool `json:"no_active_workers"`
	HasMultipleHosts    bool `json:"has_multiple_hosts"`
	HasNonPreferredHost bool `json:"has_non_preferred_host"`
	HasUnknownHost      bool `json:"has_unknown_host"`
	NoDownloadURLs      bool `json:"no_download_urls"`
	MissingDescription  bool `json:"missing_description"`
	MissingBaseline     bool `json:"missing_baseline"`
	LowUsage            bool `json:"low_usage"`
}

func (f RiskFlags) list() []bool {
	return []bool{
		f.ZeroUsageDay, f.ZeroUsageMonth, f.ZeroUsageTotal, f.NoActiveWorkers,
		f.HasMultipleHosts, f.HasNonPreferredHost, f.HasUnknownHost, f.NoDownloadURLs,
		f.MissingDescription, f.MissingBaseline, f.LowUsage,
	}
}

// Count returns the number of flags set.
func (f RiskFlags) Count() int {
	n := 0
	for _, set := range f.list() {
		if set {
			n++
		}
	}
	return n
}

// Any reports whether any flag is set.
func (f RiskFlags) Any() bool { return f.Count() > 0 }

// HostIssues reports whether any download host flag is set.
func (f RiskFlags) HostIssues() bool {
	return f.HasMultipleHosts || f.HasNonPreferredHost || f.HasUnknownHost || f.NoDownloadURLs
}

func (f RiskFlags) or(o RiskFlags) RiskFlags {
	return RiskFlags{
		ZeroUsageDay:        f.ZeroUsageDay || o.ZeroUsageDay,
		ZeroUsageMonth:      f.ZeroUsageMonth || o.ZeroUsageMonth,
		ZeroUsageTotal:      f.ZeroUsageTotal || o.ZeroUsageTotal,
		NoActiveWorkers:     f.NoActiveWorkers || o.NoActiveWorkers,
		HasMultipleHosts:    f.HasMultipleHosts || o.HasMultipleHosts,
		HasNonPreferredHost: f.HasNonPreferredHost || o.HasNonPreferredHost,
		HasUnknownHost:      f.HasUnknownHost || o.HasUnknownHost,
		NoDownloadURLs:      f.NoDownloadURLs || o.NoDownloadURLs,
		MissingDescription:  f.MissingDescription || o.MissingDescription,
		MissingBaseline:     f.MissingBaseline || o.MissingBaseline,
		LowUsage:            f.LowUsage || o.LowUsage,
	}
}

// UsageTrend compares usage across periods. Ratios are nil when the
// denominator is zero.
type UsageTrend struct {
	DayToMonth   *float64 `json:"day_to_month_ratio"`
	MonthToTotal *float64 `json:"month_to_total_ratio"`
}

// ModelAudit is the audit of one model.
type ModelAudit struct {
	Name              string           `json:"name"`
	Category          models.Category  `json:"category"`
	Flags             RiskFlags        `json:"deletion_risk_flags"`
	AtRisk            bool             `json:"at_risk"`
	RiskScore         int              `json:"risk_score"`
	Critical          bool             `json:"is_critical"`
	Warning           bool             `json:"has_warning"`
	WorkerCount       int              `json:"worker_count"`
	UsageDay          int64            `json:"usage_day"`
	UsageMonth        int64            `json:"usage_month"`
	UsageTotal        int64            `json:"usage_total"`
	UsageHour         *int64           `json:"usage_hour"`
	UsageMinute       *int64           `json:"usage_minute"`
	UsagePercentage   float64          `json:"usage_percentage_of_category"`
	UsageTrend        UsageTrend       `json:"usage_trend"`
	CostBenefitScore  *float64         `json:"cost_benefit_score"`
	SizeGB            *float64         `json:"size_gb"`
	Baseline          string           `json:"baseline,omitempty"`
	NSFW              *bool            `json:"nsfw"`
	HasDescription    bool             `json:"has_description"`
	DownloadCount     int              `json:"download_count"`
	DownloadHosts     []string         `json:"download_hosts"`
	BackendVariations map[string]Usage `json:"backend_variations,omitempty"`
}

// AuditSummary aggregates the audits of a category.
type AuditSummary struct {
	TotalModels             int     `json:"total_models"`
	ModelsAtRisk            int     `json:"models_at_risk"`
	ModelsCritical          int     `json:"models_critical"`
	ModelsWithWarnings      int     `json:"models_with_warnings"`
	ZeroDayUsage            int     `json:"models_with_zero_day_usage"`
	ZeroMonthUsage          int     `json:"models_with_zero_month_usage"`
	ZeroTotalUsage          int     `json:"models_with_zero_total_usage"`
	NoActiveWorkers         int     `json:"models_with_no_active_workers"`
	NoDownloads             int     `json:"models_with_no_downloads"`
	NonPreferredHosts       int     `json:"models_with_non_preferred_hosts"`
	MultipleHosts           int     `json:"models_with_multiple_hosts"`
	LowUsage                int     `json:"models_with_low_usage"`
	AverageRiskScore        float64 `json:"average_risk_score"`
	CategoryTotalMonthUsage int64   `json:"category_total_month_usage"`
}

// CategoryAudit is the audit of a whole category.
type CategoryAudit struct {
	Category                models.Category `json:"category"`
	CategoryTotalMonthUsage int64           `json:"category_total_month_usage"`
	TotalCount              int             `json:"total_count"`
	ReturnedCount           int             `json:"returned_count"`
	Offset                  int             `json:"offset"`
	Limit                   *int            `json:"limit"`
	Models                  []ModelAudit    `json:"models"`
	Summary                 AuditSummary    `json:"summary"`
	UsageAvailable          bool            `json:"usage_available"`
	ComputedAt              int64           `json:"computed_at"`
}

// Summarize computes the summary of a list of model audits.
func Summarize(audits []ModelAudit, categoryMonth int64) AuditSummary {
	s := AuditSummary{TotalModels: len(audits), CategoryTotalMonthUsage: categoryMonth}
	score := 0
	for _, m := range audits {
		score += m.RiskScore
		count := func(cond bool, n *int) {
			if cond {
				*n++
			}
		}
		count(m.AtRisk, &s.ModelsAtRisk)
		count(m.Critical, &s.ModelsCritical)
		count(m.Warning, &s.ModelsWithWarnings)
		count(m.Flags.ZeroUsageDay, &s.ZeroDayUsage)
		count(m.Flags.ZeroUsageMonth, &s.ZeroMonthUsage)
		count(m.Flags.ZeroUsageTotal, &s.ZeroTotalUsage)
		count(m.Flags.NoActiveWorkers, &s.NoActiveWorkers)
		count(m.Flags.NoDownloadURLs, &s.NoDownloads)
		count(m.Flags.HasNonPreferredHost, &s.NonPreferredHosts)
		count(m.Flags.HasMultipleHosts, &s.MultipleHosts)
		count(m.Flags.LowUsage, &s.LowUsage)
	}
	if len(audits) > 0 {
		s.AverageRiskScore = round(float64(score)/float64(len(audits)), 2)
	}
	return s
}

// auditInput is what a per-record handler sees.
type auditInput struct {
	category      models.Category
	record        *models.ModelRecord
	usage         *Usage
	categoryMonth int64
	variations    bool
}

// AuditOptions configure an AuditEngine.
type AuditOptions struct {
	Cache          CacheOptions
	Usage          UsageSource
	PreferredHosts []string
	// TextCriticalUsage is the monthly usage below which an unserved text
	// model is critical.
	TextCriticalUsage int64
	Logger            *slog.Logger
}

// AuditEngine computes and caches category audits.
type AuditEngine struct {
	src    ReferenceSource
	opts   AuditOptions
	logger *slog.Logger
	cache  *Cache[*CategoryAudit]
	chain  *Chain[auditInput, ModelAudit]
}

// NewAuditEngine creates an audit engine whose cache follows src's
// invalidations.
func NewAuditEngine(src ReferenceSource, opts AuditOptions) (*AuditEngine, error) {
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	if len(opts.PreferredHosts) == 0 {
		opts.PreferredHosts = DefaultPreferredHosts
	}
	if opts.TextCriticalUsage <= 0 {
		opts.TextCriticalUsage = DefaultTextCriticalUsage
	}
	if opts.Cache.Name == "" {
		opts.Cache.Name = "audit"
	}
	if opts.Cache.Logger == nil {
		opts.Cache.Logger = opts.Logger
	}

	e := &AuditEngine{
		src:    src,
		opts:   opts,
		logger: opts.Logger,
		cache:  NewCache[*CategoryAudit](opts.Cache),
	}
	chain, err := NewChain(
		Handler[auditInput, ModelAudit]{
			Name:   "image_generation",
			Match:  func(in auditInput) bool { return in.category == models.CategoryImageGeneration },
			Handle: e.auditImage,
		},
		Handler[auditInput, ModelAudit]{
			Name:   "text_generation",
			Match:  func(in auditInput) bool { return in.category == models.CategoryTextGeneration },
			Handle: e.auditText,
		},
		Handler[auditInput, ModelAudit]{
			Name:   "generic",
			Handle: e.auditGeneric,
		},
	)
	if err != nil {
		return nil, err
	}
	e.chain = chain

	src.OnInvalidate(func(c models.Category) {
		e.cache.Invalidate(context.Background(), c, nil, nil)
	})
	return e, nil
}

// Cache exposes the engine's result cache.
func (e *AuditEngine) Cache() *Cache[*CategoryAudit] { return e.cache }

// AuditQuery selects an audit variant.
type AuditQuery struct {
	Grouped           bool
	BackendVariations bool
}

// normalize drops options that do not apply to c.
func (q AuditQuery) normalize(c models.Category) AuditQuery {
	if !c.IsText() {
		return AuditQuery{}
	}
	if q.Grouped {
		q.BackendVariations = false
	}
	return q
}

func (q AuditQuery) key(c models.Category) Key {
	k := Key{Category: c, Grouped: q.Grouped}
	if q.BackendVariations {
		k.Variant = VariantBackendVariations
	}
	return k
}

// Audit returns the cached audit of c, computing it on a miss.
func (e *AuditEngine) Audit(ctx context.Context, c models.Category, q AuditQuery) (*CategoryAudit, error) {
	q = q.normalize(c)
	key := q.key(c)
	if a, _, ok := e.cache.Get(ctx, key); ok {
		return a, nil
	}
	a, err := e.Compute(ctx, c, q)
	if err != nil {
		return nil, err
	}
	e.cache.Set(ctx, key, a)
	return a, nil
}

// Compute audits c without consulting the cache.
func (e *AuditEngine) Compute(ctx context.Context, c models.Category, q AuditQuery) (*CategoryAudit, error) {
	q = q.normalize(c)
	ref, err := e.src.Reference(ctx, c, false)
	if err != nil {
		computations.WithLabelValues("audit", "error").Inc()
		return nil, fmt.Errorf("audit %s: %w", c, err)
	}

	var usage map[string]Usage
	usageAvailable := false
	if e.opts.Usage != nil {
		usage, err = e.opts.Usage.Usage(ctx, c)
		if err != nil {
			e.logger.Warn("Usage data unavailable, auditing without it", "category", c, "error", err)
		} else if usage != nil {
			usageAvailable = true
		}
	}

	names := canonicalNames(ref)
	var categoryMonth int64
	if usageAvailable {
		for _, n := range names {
			if u, ok := lookupUsage(usage, n); ok {
				categoryMonth += u.Month
			}
		}
	}

	audits := make([]ModelAudit, 0, len(names))
	for _, n := range names {
		rec, _ := ref.Get(n)
		in := auditInput{category: c, record: rec, categoryMonth: categoryMonth, variations: q.BackendVariations}
		if usageAvailable {
			u, _ := lookupUsage(usage, n)
			in.usage = &u
		}
		a, _ := e.chain.Dispatch(in)
		audits = append(audits, a)
	}
	sort.SliceStable(audits, func(i, j int) bool { return audits[i].UsageMonth > audits[j].UsageMonth })

	if q.Grouped {
		audits = GroupAudits(audits)
	}

	out := &CategoryAudit{
		Category:                c,
		CategoryTotalMonthUsage: categoryMonth,
		TotalCount:              len(names),
		ReturnedCount:           len(audits),
		Models:                  audits,
		Summary:                 Summarize(audits, categoryMonth),
		UsageAvailable:          usageAvailable,
		ComputedAt:              time.Now().Unix(),
	}
	computations.WithLabelValues("audit", "ok").Inc()
	e.logger.Info("Audit computed",
		"category", c,
		"models", len(audits),
		"at_risk", out.Summary.ModelsAtRisk)
	return out, nil
}

// Hydrate recomputes every audit variant of the audited categories.
func (e *AuditEngine) Hydrate(ctx context.Context) error {
	var firstErr error
	for _, c := range AuditCategories {
		queries := []AuditQuery{{}, {Grouped: true}}
		if c.IsText() {
			queries = append(queries, AuditQuery{BackendVariations: true})
		}
		for _, q := range queries {
			if err := ctx.Err(); err != nil {
				return err
			}
			q = q.normalize(c)
			a, err := e.Compute(ctx, c, q)
			if errors.Is(err, manager.ErrReferenceUnavailable) {
				continue
			}
			if err != nil {
				if firstErr == nil {
					firstErr = err
				}
				continue
			}
			e.cache.Set(ctx, q.key(c), a)
		}
	}
	return firstErr
}

// canonicalNames lists model names, leaving out text backend duplicates.
func canonicalNames(ref *models.ModelReference) []string {
	names := ref.Names()
	if !ref.Category.IsText() {
		return names
	}
	out := names[:0:0]
	for _, n := range names {
		if !models.HasTextBackendPrefix(n) {
			out = append(out, n)
		}
	}
	return out
}

func (e *AuditEngine) auditGeneric(in auditInput) ModelAudit {
	rec := in.record
	a := ModelAudit{
		Name:           rec.Name,
		Category:       in.category,
		Baseline:       rec.Baseline,
		NSFW:           rec.NSFW,
		HasDescription: strings.TrimSpace(rec.Description) != "",
		DownloadCount:  len(rec.Downloads()),
		DownloadHosts:  []string{},
	}
	a.Flags = e.hostFlags(rec, &a)
	a.Flags.MissingDescription = !a.HasDescription
	if in.category == models.CategoryImageGeneration || in.category == models.CategoryTextGeneration {
		a.Flags.MissingBaseline = rec.Baseline == ""
	}

	if u := in.usage; u != nil {
		a.WorkerCount = u.WorkerCount
		a.UsageDay, a.UsageMonth, a.UsageTotal = u.Day, u.Month, u.Total
		a.UsageHour, a.UsageMinute = u.Hour, u.Minute
		a.Flags.NoActiveWorkers = u.WorkerCount == 0
		a.Flags.ZeroUsageDay = u.Day == 0
		a.Flags.ZeroUsageMonth = u.Month == 0
		a.Flags.ZeroUsageTotal = u.Total == 0
		if in.categoryMonth > 0 {
			pct := float64(u.Month) / float64(in.categoryMonth) * 100
			a.UsagePercentage = round(pct, 4)
			a.Flags.LowUsage = pct < LowUsageThreshold
		}
		if u.Month > 0 {
			r := float64(u.Day) / float64(u.Month)
			a.UsageTrend.DayToMonth = &r
		}
		if u.Total > 0 {
			r := float64(u.Month) / float64(u.Total)
			a.UsageTrend.MonthToTotal = &r
		}
	}

	a.finish()
	a.Critical = a.Flags.ZeroUsageMonth && a.Flags.NoActiveWorkers
	return a
}

func (e *AuditEngine) hostFlags(rec *models.ModelRecord, a *ModelAudit) RiskFlags {
	var f RiskFlags
	downloads := rec.Downloads()
	if len(downloads) == 0 {
		f.NoDownloadURLs = true
		return f
	}
	hosts := make(map[string]bool)
	valid, preferred := false, false
	for _, d := range downloads {
		if d.FileURL == "" {
			continue
		}
		u, err := url.Parse(d.FileURL)
		if err != nil {
			f.HasUnknownHost = true
			continue
		}
		if u.Scheme == "" || u.Host == "" {
			continue
		}
		valid = true
		if !hosts[u.Host] {
			hosts[u.Host] = true
			a.DownloadHosts = append(a.DownloadHosts, u.Host)
		}
		for _, p := range e.opts.PreferredHosts {
			if strings.Contains(u.Host, p) {
				preferred = true
			}
		}
	}
	f.NoDownloadURLs = !valid
	f.HasMultipleHosts = len(hosts) > 1
	f.HasNonPreferredHost = valid && !preferred
	return f
}

func (a *ModelAudit) finish() {
	a.RiskScore = a.Flags.Count()
	a.AtRisk = a.RiskScore > 0
	a.Warning = a.Flags.HostIssues()
}

func (e *AuditEngine) auditImage(in auditInput) ModelAudit {
	a := e.auditGeneric(in)
	if size := in.record.SizeOnDiskBytes; size > 0 {
		gb := float64(size) / (1 << 30)
		rounded := round(gb, 2)
		a.SizeGB = &rounded
		if in.usage != nil {
			cb := round(float64(a.UsageMonth)/gb, 2)
			a.CostBenefitScore = &cb
		}
	}
	return a
}

func (e *AuditEngine) auditText(in auditInput) ModelAudit {
	a := e.auditGeneric(in)
	if in.usage != nil {
		a.Critical = a.Flags.NoActiveWorkers && a.UsageMonth < e.opts.TextCriticalUsage
		if in.variations && len(in.usage.Variations) > 0 {
			a.BackendVariations = in.usage.Variations
		}
	}
	return a
}

// GroupAudits merges text model variants that share a base name.
func GroupAudits(audits []ModelAudit) []ModelAudit {
	order := []string{}
	groups := make(map[string][]ModelAudit)
	for _, a := range audits {
		b := BaseModelName(a.Name)
		if _, ok := groups[b]; !ok {
			order = append(order, b)
		}
		groups[b] = append(groups[b], a)
	}

	out := make([]ModelAudit, 0, len(order))
	for _, base := range order {
		variants := groups[base]
		if len(variants) == 1 {
			out = append(out, variants[0])
			continue
		}
		out = append(out, mergeAudits(base, variants))
	}
	return out
}

func mergeAudits(base string, variants []ModelAudit) ModelAudit {
	first := variants[0]
	g := ModelAudit{
		Name:           base + " (grouped)",
		Category:       first.Category,
		Baseline:       first.Baseline,
		NSFW:           first.NSFW,
		HasDescription: true,
		DownloadHosts:  []string{},
	}

	seenHosts := make(map[string]bool)
	var sizeSum float64
	var sizeN int
	var hour, minute int64
	var hasHour, hasMinute bool
	var dayToMonth, monthToTotal float64
	var hasD2M, hasM2T bool
	for _, v := range variants {
		g.Flags = g.Flags.or(v.Flags)
		g.UsageDay += v.UsageDay
		g.UsageMonth += v.UsageMonth
		g.UsageTotal += v.UsageTotal
		g.UsagePercentage += v.UsagePercentage
		g.DownloadCount += v.DownloadCount
		g.Critical = g.Critical || v.Critical
		g.HasDescription = g.HasDescription && v.HasDescription
		if v.WorkerCount > g.WorkerCount {
			g.WorkerCount = v.WorkerCount
		}
		if v.UsageHour != nil {
			hour += *v.UsageHour
			hasHour = true
		}
		if v.UsageMinute != nil {
			minute += *v.UsageMinute
			hasMinute = true
		}
		if v.SizeGB != nil {
			sizeSum += *v.SizeGB
			sizeN++
		}
		if v.UsageTrend.DayToMonth != nil {
			dayToMonth += *v.UsageTrend.DayToMonth * float64(v.UsageMonth)
			hasD2M = true
		}
		if v.UsageTrend.MonthToTotal != nil {
			monthToTotal += *v.UsageTrend.MonthToTotal * float64(v.UsageMonth)
			hasM2T = true
		}
		for _, h := range v.DownloadHosts {
			if !seenHosts[h] {
				seenHosts[h] = true
				g.DownloadHosts = append(g.DownloadHosts, h)
			}
		}
	}
	if hasHour {
		g.UsageHour = &hour
	}
	if hasMinute {
		g.UsageMinute = &minute
	}
	if g.UsageMonth > 0 {
		if hasD2M {
			r := dayToMonth / float64(g.UsageMonth)
			g.UsageTrend.DayToMonth = &r
		}
		if hasM2T {
			r := monthToTotal / float64(g.UsageMonth)
			g.UsageTrend.MonthToTotal = &r
		}
	}
	if sizeN > 0 && sizeSum > 0 {
		avg := sizeSum / float64(sizeN)
		g.SizeGB = &avg
		cb := float64(g.UsageMonth) / avg
		g.CostBenefitScore = &cb
	}
	g.finish()
	return g
}

func round(v float64, places int) float64 {
	p := math.Pow(10, float64(places))
	return math.Round(v*p) / p
}
