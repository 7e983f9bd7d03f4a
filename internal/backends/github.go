package backends

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"strings"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/haidra-org/horde-model-reference/internal/atomicfile"
	"github.com/haidra-org/horde-model-reference/internal/legacy"
	"github.com/haidra-org/horde-model-reference/internal/models"
	"github.com/haidra-org/horde-model-reference/internal/paths"
)

const rawGitHubBase = "https://raw.githubusercontent.com"

// GitHubRepos locate the legacy reference repositories.
type GitHubRepos struct {
	Owner     string
	Branch    string
	ImageRepo string
	TextRepo  string
	// ProxyURLBase, when set, is prefixed to every raw URL.
	ProxyURLBase string
}

// DefaultGitHubRepos are the upstream Haidra-Org repositories.
var DefaultGitHubRepos = GitHubRepos{
	Owner:     "Haidra-Org",
	Branch:    "main",
	ImageRepo: "AI-Horde-image-model-reference",
	TextRepo:  "AI-Horde-text-model-reference",
}

// RawURL is the raw content URL of file in repo, proxied when configured.
func (r GitHubRepos) RawURL(repo, file string) string {
	u := strings.Join([]string{rawGitHubBase, r.Owner, repo, r.Branch, file}, "/")
	if r.ProxyURLBase != "" {
		return strings.TrimRight(r.ProxyURLBase, "/") + "/" + u
	}
	return u
}

// ShowcaseURLBase is the raw URL base showcase files are served from.
func (r GitHubRepos) ShowcaseURLBase() string {
	return strings.Join([]string{rawGitHubBase, r.Owner, r.ImageRepo, r.Branch}, "/")
}

// CategoryURL is the URL the legacy document of c is downloaded from.
func (r GitHubRepos) CategoryURL(c models.Category) string {
	if c.IsText() {
		return r.RawURL(r.TextRepo, "models.csv")
	}
	return r.RawURL(r.ImageRepo, c.LegacyFileName())
}

// GitHubOptions configure a GitHubBackend.
type GitHubOptions struct {
	Layout           paths.Layout
	Mode             ReplicateMode
	CacheTTL         time.Duration
	Repos            GitHubRepos
	RetryMaxAttempts int
	RetryBackoff     time.Duration
	// SeedEnabled allows downloads in PRIMARY mode through Seed.
	SeedEnabled bool
	HTTPClient  *http.Client
	Logger      *slog.Logger
}

// GitHubBackend downloads the legacy documents from GitHub, converts them
// and serves the converted v2 documents.
type GitHubBackend struct {
	readOnly

	opts      GitHubOptions
	logger    *slog.Logger
	client    *http.Client
	converter *legacy.Converter
	cache     *categoryCache

	// mu is held across a download and conversion.
	mu sync.Mutex

	countMu    sync.Mutex
	downloaded map[models.Category]int
}

// NewGitHubBackend creates a GitHub backend.
func NewGitHubBackend(opts GitHubOptions) (*GitHubBackend, error) {
	if opts.Mode == ModePrimary && !opts.SeedEnabled {
		return nil, fmt.Errorf("%w: github backend in PRIMARY mode requires seeding", ErrWrongMode)
	}
	if opts.Repos.Owner == "" {
		opts.Repos = DefaultGitHubRepos
	}
	if opts.RetryMaxAttempts < 1 {
		opts.RetryMaxAttempts = 1
	}
	if opts.HTTPClient == nil {
		opts.HTTPClient = &http.Client{Timeout: 30 * time.Second}
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	b := &GitHubBackend{
		opts:   opts,
		logger: opts.Logger,
		client: opts.HTTPClient,
		converter: legacy.NewConverter(legacy.Options{
			Layout:          opts.Layout,
			ShowcaseURLBase: opts.Repos.ShowcaseURLBase(),
			Logger:          opts.Logger,
		}),
		cache:      newCategoryCache("github", opts.CacheTTL, opts.Logger),
		downloaded: make(map[models.Category]int),
	}
	b.cache.pathFor = opts.Layout.CategoryFile
	b.cache.legacyPathFor = opts.Layout.LegacyFile
	return b, nil
}

func (b *GitHubBackend) Name() string        { return "github" }
func (b *GitHubBackend) Mode() ReplicateMode { return b.opts.Mode }
func (b *GitHubBackend) Close() error        { return nil }

func (b *GitHubBackend) CategoryFilePath(c models.Category) string {
	return b.opts.Layout.CategoryFile(c)
}

func (b *GitHubBackend) NeedsRefresh(c models.Category) bool { return b.cache.needsRefresh(c) }

func (b *GitHubBackend) MarkStale(c models.Category) {
	b.logger.Debug("Marking category stale", "backend", b.Name(), "category", c)
	b.cache.markStale(c)
}

func (b *GitHubBackend) RegisterInvalidationCallback(fn InvalidationFunc) { b.cache.register(fn) }

// downloadsOnFetch reports whether reads may go to GitHub. A seeding
// PRIMARY only downloads through Seed.
func (b *GitHubBackend) downloadsOnFetch() bool { return b.opts.Mode == ModeReplica }

func (b *GitHubBackend) FetchCategory(ctx context.Context, c models.Category, force bool) (models.RawDocument, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if !force && b.cache.valid(c) {
		if doc, ok := b.cache.get(c); ok {
			fetches.WithLabelValues(b.Name(), "hit").Inc()
			return doc, nil
		}
	}

	if b.downloadsOnFetch() {
		err := b.refresh(ctx, c)
		if err == nil {
			if doc, ok := b.cache.get(c); ok {
				fetches.WithLabelValues(b.Name(), "refreshed").Inc()
				return doc, nil
			}
		}
		b.logger.Warn("GitHub refresh failed", "category", c, "error", err)
	}
	return b.fallbackLocked(c)
}

// fallbackLocked serves the previous document, or the converted file left
// on disk by an earlier run.
func (b *GitHubBackend) fallbackLocked(c models.Category) (models.RawDocument, error) {
	if doc, ok := b.cache.get(c); ok {
		fetches.WithLabelValues(b.Name(), "stale").Inc()
		return doc, nil
	}
	data, err := os.ReadFile(b.opts.Layout.CategoryFile(c))
	if err == nil {
		if doc, err := models.DecodeRawDocument(data); err == nil {
			b.cache.store(c, doc)
			fetches.WithLabelValues(b.Name(), "refreshed").Inc()
			return doc, nil
		}
	}
	fetches.WithLabelValues(b.Name(), "unavailable").Inc()
	return nil, fmt.Errorf("%w: %s", ErrUnavailable, c)
}

// FetchAllCategories downloads every category that needs it concurrently
// and then converts the successful downloads in one pass.
func (b *GitHubBackend) FetchAllCategories(ctx context.Context, force bool) (map[models.Category]models.RawDocument, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	var pending []models.Category
	for _, c := range models.AllCategories {
		if force || !b.cache.valid(c) {
			pending = append(pending, c)
		}
	}

	if b.downloadsOnFetch() && len(pending) > 0 {
		fetched := make([]*legacyDownload, len(pending))
		errs := make([]error, len(pending))
		g, gctx := errgroup.WithContext(ctx)
		for i, c := range pending {
			g.Go(func() error {
				fetched[i], errs[i] = b.download(gctx, c)
				return nil
			})
		}
		_ = g.Wait()

		for i, c := range pending {
			if errs[i] != nil {
				b.logger.Warn("GitHub download failed", "category", c, "error", errs[i])
				continue
			}
			if err := b.convertAndCommit(c, fetched[i]); err != nil {
				b.logger.Error("Conversion failed", "category", c, "error", err)
			}
		}
	}

	out := make(map[models.Category]models.RawDocument, len(models.AllCategories))
	for _, c := range models.AllCategories {
		if doc, ok := b.cache.get(c); ok && b.cache.valid(c) {
			out[c] = doc
			continue
		}
		doc, err := b.fallbackLocked(c)
		if err != nil {
			out[c] = nil
			continue
		}
		out[c] = doc
	}
	return out, nil
}

// legacyDownload is a legacy document written to disk but not yet cached.
// previous holds the replaced file so a failed conversion can restore it.
type legacyDownload struct {
	doc         legacy.Document
	raw         string
	previous    []byte
	hadPrevious bool
}

// refresh downloads and converts c. Both caches change together or not at
// all.
func (b *GitHubBackend) refresh(ctx context.Context, c models.Category) error {
	dl, err := b.download(ctx, c)
	if err != nil {
		return err
	}
	return b.convertAndCommit(c, dl)
}

// convertAndCommit converts the downloaded file of c. On success the
// converted and legacy caches are stored; on failure the previous legacy
// file is put back and both caches keep their previous entries.
func (b *GitHubBackend) convertAndCommit(c models.Category, dl *legacyDownload) error {
	if err := b.convert(c); err != nil {
		b.restoreLegacy(c, dl)
		return err
	}
	b.cache.storeLegacy(c, dl.doc, dl.raw)
	b.countMu.Lock()
	b.downloaded[c]++
	times := b.downloaded[c]
	b.countMu.Unlock()
	b.logger.Info("Legacy document refreshed",
		"category", c,
		"path", b.opts.Layout.LegacyFile(c),
		"times_downloaded", times)
	return nil
}

func (b *GitHubBackend) restoreLegacy(c models.Category, dl *legacyDownload) {
	path := b.opts.Layout.LegacyFile(c)
	var err error
	if dl.hadPrevious {
		err = atomicfile.Write(path, dl.previous, b.logger)
	} else {
		err = os.Remove(path)
	}
	if err != nil && !errors.Is(err, os.ErrNotExist) {
		b.logger.Error("Failed to restore previous legacy document", "category", c, "path", path, "error", err)
		return
	}
	b.cache.resyncLegacyMtime(c)
}

// download fetches the legacy document of c with bounded retries and writes
// it under legacy/ for the converter. Non-200 responses and undecodable
// bodies are retried.
func (b *GitHubBackend) download(ctx context.Context, c models.Category) (*legacyDownload, error) {
	url := b.opts.Repos.CategoryURL(c)
	var lastErr error
	for attempt := 1; attempt <= b.opts.RetryMaxAttempts; attempt++ {
		if attempt > 1 {
			b.logger.Debug("Retrying download",
				"category", c,
				"attempt", attempt,
				"max_attempts", b.opts.RetryMaxAttempts,
				"backoff", b.opts.RetryBackoff)
			if err := sleepContext(ctx, b.opts.RetryBackoff); err != nil {
				return nil, err
			}
		}

		body, err := b.get(ctx, url)
		if err != nil {
			lastErr = err
			b.logger.Error("Failed to download legacy document", "category", c, "url", url, "error", err)
			continue
		}
		doc, s, err := decodeLegacyBytes(c, body)
		if err != nil {
			lastErr = err
			b.logger.Error("Failed to parse legacy document", "category", c, "error", err)
			continue
		}
		path := b.opts.Layout.LegacyFile(c)
		dl := &legacyDownload{doc: doc, raw: s}
		if prev, err := os.ReadFile(path); err == nil {
			dl.previous, dl.hadPrevious = prev, true
		}
		if err := atomicfile.Write(path, body, b.logger); err != nil {
			return nil, err
		}
		downloads.WithLabelValues(b.Name(), "success").Inc()
		b.logger.Debug("Downloaded legacy document", "category", c, "url", url)
		return dl, nil
	}
	downloads.WithLabelValues(b.Name(), "failure").Inc()
	return nil, fmt.Errorf("%w: download %s after %d attempts: %v", ErrUnavailable, c, b.opts.RetryMaxAttempts, lastErr)
}

func (b *GitHubBackend) get(ctx context.Context, url string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, err
	}
	resp, err := b.client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("HTTP %d", resp.StatusCode)
	}
	return io.ReadAll(resp.Body)
}

// convert runs the legacy converter on the downloaded file of c and caches
// the result.
func (b *GitHubBackend) convert(c models.Category) error {
	res, err := b.converter.Convert(c)
	if err != nil {
		return err
	}
	b.cache.store(c, res.Document)
	return nil
}

// Seed downloads and converts the given categories regardless of cache
// state. It is the only download path of a PRIMARY.
func (b *GitHubBackend) Seed(ctx context.Context, categories []models.Category) (map[models.Category]error, error) {
	if b.opts.Mode == ModePrimary && !b.opts.SeedEnabled {
		return nil, ErrDownloadDisabled
	}
	b.mu.Lock()
	defer b.mu.Unlock()

	results := make(map[models.Category]error, len(categories))
	for _, c := range categories {
		err := b.refresh(ctx, c)
		results[c] = err
		if err != nil {
			b.logger.Error("Failed to seed category", "category", c, "error", err)
		} else {
			b.logger.Info("Seeded category from GitHub", "category", c)
		}
	}
	return results, nil
}

func (b *GitHubBackend) LegacyJSON(ctx context.Context, c models.Category, redownload bool) (legacy.Document, error) {
	doc, _, err := b.legacy(ctx, c, redownload)
	return doc, err
}

func (b *GitHubBackend) LegacyJSONString(ctx context.Context, c models.Category, redownload bool) (string, error) {
	_, s, err := b.legacy(ctx, c, redownload)
	return s, err
}

func (b *GitHubBackend) legacy(ctx context.Context, c models.Category, redownload bool) (legacy.Document, string, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.downloadsOnFetch() && (redownload || !b.cache.legacyValid(c)) {
		if err := b.refresh(ctx, c); err != nil {
			b.logger.Warn("Legacy refresh failed, using cached copy", "category", c, "error", err)
		}
	}
	if doc, s, ok := b.cache.getLegacy(c); ok {
		return doc, s, nil
	}
	data, err := os.ReadFile(b.opts.Layout.LegacyFile(c))
	if err != nil {
		return nil, "", fmt.Errorf("%w: legacy %s", ErrUnavailable, c)
	}
	doc, s, err := decodeLegacyBytes(c, data)
	if err != nil {
		return nil, "", fmt.Errorf("%w: legacy %s: %v", ErrUnavailable, c, err)
	}
	b.cache.storeLegacy(c, doc, s)
	return doc, s, nil
}

// sleepContext waits for d or until ctx is done.
func sleepContext(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
