package backends

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"sync/atomic"
	"time"

	"golang.org/x/sync/singleflight"

	"github.com/haidra-org/horde-model-reference/internal/client"
	"github.com/haidra-org/horde-model-reference/internal/legacy"
	"github.com/haidra-org/horde-model-reference/internal/models"
)

// HTTPOptions configure an HTTPBackend.
type HTTPOptions struct {
	PrimaryURL       string
	Timeout          time.Duration
	RetryMaxAttempts int
	RetryBackoff     time.Duration
	CacheTTL         time.Duration
	// Fallback serves categories the PRIMARY cannot; usually a GitHubBackend.
	Fallback Backend
	Logger   *slog.Logger
}

// HTTPBackend is a REPLICA reading v2 documents from a PRIMARY service.
type HTTPBackend struct {
	readOnly

	opts   HTTPOptions
	logger *slog.Logger
	api    *client.Client
	cache  *categoryCache
	group  singleflight.Group

	primaryHits     atomic.Int64
	githubFallbacks atomic.Int64
}

// NewHTTPBackend creates an HTTP backend for the PRIMARY at opts.PrimaryURL.
func NewHTTPBackend(opts HTTPOptions) (*HTTPBackend, error) {
	if opts.PrimaryURL == "" {
		return nil, fmt.Errorf("http backend requires a primary API URL")
	}
	if opts.Timeout <= 0 {
		opts.Timeout = 10 * time.Second
	}
	if opts.RetryMaxAttempts < 1 {
		opts.RetryMaxAttempts = 1
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	api := client.NewClient(opts.PrimaryURL, "", opts.Timeout, false)
	api.UserAgent = "horde-model-reference-replica"
	b := &HTTPBackend{
		opts:   opts,
		logger: opts.Logger,
		api:    api,
		cache:  newCategoryCache("http", opts.CacheTTL, opts.Logger),
	}
	if opts.Fallback != nil {
		// Categories refreshed by the fallback are stale here as well.
		opts.Fallback.RegisterInvalidationCallback(func(c models.Category) {
			b.cache.mu.Lock()
			b.cache.markStaleLocked(c)
			b.cache.mu.Unlock()
		})
	}
	return b, nil
}

func (b *HTTPBackend) Name() string        { return "http" }
func (b *HTTPBackend) Mode() ReplicateMode { return ModeReplica }

func (b *HTTPBackend) Close() error {
	if b.opts.Fallback != nil {
		return b.opts.Fallback.Close()
	}
	return nil
}

func (b *HTTPBackend) CategoryFilePath(models.Category) string { return "" }

func (b *HTTPBackend) NeedsRefresh(c models.Category) bool { return b.cache.needsRefresh(c) }

func (b *HTTPBackend) MarkStale(c models.Category) { b.cache.markStale(c) }

func (b *HTTPBackend) RegisterInvalidationCallback(fn InvalidationFunc) { b.cache.register(fn) }

func (b *HTTPBackend) FetchCategory(ctx context.Context, c models.Category, force bool) (models.RawDocument, error) {
	if !force && b.cache.valid(c) {
		if doc, ok := b.cache.get(c); ok {
			fetches.WithLabelValues(b.Name(), "hit").Inc()
			return doc, nil
		}
	}

	v, err, _ := b.group.Do(string(c), func() (any, error) {
		doc, err := b.fetchPrimary(ctx, c)
		if err == nil {
			b.primaryHits.Add(1)
			return doc, nil
		}
		b.logger.Warn("Primary API fetch failed", "category", c, "error", err)
		if b.opts.Fallback == nil {
			return nil, err
		}
		doc, ferr := b.opts.Fallback.FetchCategory(ctx, c, force)
		if ferr != nil {
			return nil, ferr
		}
		b.githubFallbacks.Add(1)
		return doc, nil
	})
	if err != nil {
		if prev, ok := b.cache.get(c); ok {
			fetches.WithLabelValues(b.Name(), "stale").Inc()
			return prev, nil
		}
		fetches.WithLabelValues(b.Name(), "unavailable").Inc()
		return nil, fmt.Errorf("%w: %s: %v", ErrUnavailable, c, err)
	}
	doc := v.(models.RawDocument)
	b.cache.store(c, doc)
	fetches.WithLabelValues(b.Name(), "refreshed").Inc()
	return doc, nil
}

// fetchPrimary retries with exponential backoff. A 404 is final.
func (b *HTTPBackend) fetchPrimary(ctx context.Context, c models.Category) (models.RawDocument, error) {
	var lastErr error
	for attempt := 1; attempt <= b.opts.RetryMaxAttempts; attempt++ {
		if attempt > 1 {
			delay := b.opts.RetryBackoff * time.Duration(1<<(attempt-2))
			if err := sleepContext(ctx, delay); err != nil {
				return nil, err
			}
		}
		body, status, err := b.get(ctx, client.V2CategoryPath(string(c)))
		if err != nil {
			lastErr = err
			continue
		}
		if status == http.StatusNotFound {
			downloads.WithLabelValues(b.Name(), "not_found").Inc()
			return nil, fmt.Errorf("primary has no %s", c)
		}
		if status != http.StatusOK {
			lastErr = fmt.Errorf("primary returned HTTP %d", status)
			continue
		}
		doc, err := models.DecodeRawDocument(body)
		if err != nil {
			lastErr = err
			continue
		}
		downloads.WithLabelValues(b.Name(), "success").Inc()
		return doc, nil
	}
	downloads.WithLabelValues(b.Name(), "failure").Inc()
	return nil, lastErr
}

func (b *HTTPBackend) get(ctx context.Context, path string) ([]byte, int, error) {
	resp, err := b.api.Get(ctx, path)
	if err != nil {
		return nil, 0, err
	}
	defer resp.Body.Close()
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, resp.StatusCode, err
	}
	return body, resp.StatusCode, nil
}

func (b *HTTPBackend) FetchAllCategories(ctx context.Context, force bool) (map[models.Category]models.RawDocument, error) {
	out := make(map[models.Category]models.RawDocument, len(models.AllCategories))
	for _, c := range models.AllCategories {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		doc, err := b.FetchCategory(ctx, c, force)
		if err != nil {
			out[c] = nil
			continue
		}
		out[c] = doc
	}
	return out, nil
}

func (b *HTTPBackend) LegacyJSON(ctx context.Context, c models.Category, redownload bool) (legacy.Document, error) {
	doc, _, err := b.legacy(ctx, c, redownload)
	return doc, err
}

func (b *HTTPBackend) LegacyJSONString(ctx context.Context, c models.Category, redownload bool) (string, error) {
	_, s, err := b.legacy(ctx, c, redownload)
	return s, err
}

func (b *HTTPBackend) legacy(ctx context.Context, c models.Category, redownload bool) (legacy.Document, string, error) {
	if !redownload && b.cache.legacyValid(c) {
		if doc, s, ok := b.cache.getLegacy(c); ok {
			return doc, s, nil
		}
	}
	body, status, err := b.get(ctx, client.V1CategoryPath(string(c)))
	if err == nil && status == http.StatusOK {
		var doc legacy.Document
		if jerr := json.Unmarshal(body, &doc); jerr == nil {
			b.cache.storeLegacy(c, doc, string(body))
			return doc, string(body), nil
		}
	}
	if b.opts.Fallback != nil {
		doc, err := b.opts.Fallback.LegacyJSON(ctx, c, redownload)
		if err == nil {
			s, err := b.opts.Fallback.LegacyJSONString(ctx, c, false)
			if err == nil {
				b.githubFallbacks.Add(1)
				b.cache.storeLegacy(c, doc, s)
				return doc, s, nil
			}
		}
	}
	if doc, s, ok := b.cache.getLegacy(c); ok {
		return doc, s, nil
	}
	return nil, "", fmt.Errorf("%w: legacy %s", ErrUnavailable, c)
}

// HealthCheck pings the PRIMARY.
func (b *HTTPBackend) HealthCheck(ctx context.Context) error {
	_, status, err := b.get(ctx, "/health")
	if err != nil {
		return err
	}
	if status != http.StatusOK {
		return fmt.Errorf("primary health returned HTTP %d", status)
	}
	return nil
}

// Statistics reports the source of served documents.
func (b *HTTPBackend) Statistics(ctx context.Context) (map[string]any, error) {
	return map[string]any{
		"backend":          b.Name(),
		"primary_url":      b.opts.PrimaryURL,
		"primary_hits":     b.primaryHits.Load(),
		"github_fallbacks": b.githubFallbacks.Load(),
		"cache_size":       b.cache.size(),
		"fallback_enabled": b.opts.Fallback != nil,
	}, nil
}
