package analytics

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/haidra-org/horde-model-reference/internal/models"
)

// DefaultHordeURL is the public AI Horde API.
const DefaultHordeURL = "https://aihorde.net/api"

// Usage is the live serving data of one model.
type Usage struct {
	WorkerCount int    `json:"worker_count"`
	Day         int64  `json:"day"`
	Month       int64  `json:"month"`
	Total       int64  `json:"total"`
	Hour        *int64 `json:"hour,omitempty"`
	Minute      *int64 `json:"minute,omitempty"`
	// Variations holds per text backend usage, keyed by backend name.
	Variations map[string]Usage `json:"variations,omitempty"`
}

// UsageSource provides live usage per model name of a category. Names are
// canonical: backend prefixes are folded into Variations.
type UsageSource interface {
	Usage(ctx context.Context, c models.Category) (map[string]Usage, error)
}

// HordeClient reads model status and statistics from the AI Horde API.
type HordeClient struct {
	baseURL    string
	httpClient *http.Client
	logger     *slog.Logger
}

// NewHordeClient creates a client for the API rooted at baseURL.
func NewHordeClient(baseURL string, timeout time.Duration, logger *slog.Logger) *HordeClient {
	if baseURL == "" {
		baseURL = DefaultHordeURL
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &HordeClient{
		baseURL:    strings.TrimRight(baseURL, "/") + "/v2",
		httpClient: &http.Client{Timeout: timeout},
		logger:     logger,
	}
}

type hordeStatus struct {
	Name  string `json:"name"`
	Count int    `json:"count"`
}

type hordeStats struct {
	Day   map[string]int64 `json:"day"`
	Month map[string]int64 `json:"month"`
	Total map[string]int64 `json:"total"`
}

func hordeType(c models.Category) (kind, statsPath string, ok bool) {
	switch c {
	case models.CategoryImageGeneration:
		return "image", "stats/img/models", true
	case models.CategoryTextGeneration:
		return "text", "stats/text/models", true
	}
	return "", "", false
}

// Usage fetches status and statistics concurrently and merges them per
// canonical model name. Categories the Horde does not serve return nil.
func (h *HordeClient) Usage(ctx context.Context, c models.Category) (map[string]Usage, error) {
	kind, statsPath, ok := hordeType(c)
	if !ok {
		return nil, nil
	}

	var status []hordeStatus
	var stats hordeStats
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		q := url.Values{"type": {kind}, "model_state": {"known"}}
		return h.getJSON(gctx, "status/models", q, &status)
	})
	g.Go(func() error {
		return h.getJSON(gctx, statsPath, url.Values{"model_state": {"known"}}, &stats)
	})
	if err := g.Wait(); err != nil {
		return nil, err
	}

	out := mergeUsage(status, stats)
	h.logger.Debug("Fetched horde usage", "category", c, "models", len(out))
	return out, nil
}

func (h *HordeClient) getJSON(ctx context.Context, path string, q url.Values, v any) error {
	u := h.baseURL + "/" + path + "?" + q.Encode()
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	resp, err := h.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("horde request %s: %w", path, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("horde request %s: status %d", path, resp.StatusCode)
	}
	if err := json.NewDecoder(resp.Body).Decode(v); err != nil {
		return fmt.Errorf("decode horde %s: %w", path, err)
	}
	return nil
}

// splitBackend separates a text backend prefix from a model name.
func splitBackend(name string) (backend, canonical string) {
	for _, p := range models.TextBackendPrefixes {
		if strings.HasPrefix(name, p) {
			return strings.TrimSuffix(p, "/"), strings.TrimPrefix(name, p)
		}
	}
	return "canonical", name
}

func mergeUsage(status []hordeStatus, stats hordeStats) map[string]Usage {
	out := make(map[string]Usage)
	variant := func(name string) (string, string, Usage) {
		backend, canonical := splitBackend(name)
		u := out[canonical]
		if u.Variations == nil {
			u.Variations = make(map[string]Usage)
		}
		return backend, canonical, u
	}

	for _, s := range status {
		backend, canonical, u := variant(s.Name)
		v := u.Variations[backend]
		v.WorkerCount += s.Count
		u.Variations[backend] = v
		if v.WorkerCount > u.WorkerCount {
			u.WorkerCount = v.WorkerCount
		}
		out[canonical] = u
	}

	add := func(counts map[string]int64, apply func(*Usage, int64)) {
		for name, n := range counts {
			backend, canonical, u := variant(name)
			v := u.Variations[backend]
			apply(&v, n)
			apply(&u, n)
			u.Variations[backend] = v
			out[canonical] = u
		}
	}
	add(stats.Day, func(u *Usage, n int64) { u.Day += n })
	add(stats.Month, func(u *Usage, n int64) { u.Month += n })
	add(stats.Total, func(u *Usage, n int64) { u.Total += n })

	for name, u := range out {
		if len(u.Variations) == 1 {
			if _, only := u.Variations["canonical"]; only {
				u.Variations = nil
				out[name] = u
			}
		}
	}
	return out
}

// lookupUsage matches a model name case-insensitively.
func lookupUsage(usage map[string]Usage, name string) (Usage, bool) {
	if u, ok := usage[name]; ok {
		return u, true
	}
	for k, u := range usage {
		if strings.EqualFold(k, name) {
			return u, true
		}
	}
	return Usage{}, false
}
