package refsync

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/haidra-org/horde-model-reference/internal/backends"
	"github.com/haidra-org/horde-model-reference/internal/client"
	clienterrors "github.com/haidra-org/horde-model-reference/internal/client/errors"
	"github.com/haidra-org/horde-model-reference/internal/legacy"
	"github.com/haidra-org/horde-model-reference/internal/models"
)

// ErrSourceUnavailable is returned when a document cannot be fetched.
var ErrSourceUnavailable = errors.New("sync source unavailable")

// Source loads the legacy document of a category.
type Source interface {
	Legacy(ctx context.Context, c models.Category) (legacy.Document, error)
}

// PrimarySource reads legacy documents and ledger timestamps from the v1
// API of a PRIMARY.
type PrimarySource struct {
	api *client.Client
}

// NewPrimarySource creates a source for the PRIMARY at baseURL.
func NewPrimarySource(baseURL string, timeout time.Duration) *PrimarySource {
	api := client.NewClient(baseURL, "", timeout, false)
	api.UserAgent = "hmr-sync"
	return &PrimarySource{api: api}
}

func (s *PrimarySource) get(ctx context.Context, path string) ([]byte, error) {
	resp, err := s.api.Get(ctx, path)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrSourceUnavailable, err)
	}
	defer resp.Body.Close()
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrSourceUnavailable, err)
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("%w: GET %s: HTTP %d: %s", ErrSourceUnavailable, path, resp.StatusCode, clienterrors.Describe(resp.StatusCode, body))
	}
	return body, nil
}

// Legacy returns the legacy document the PRIMARY serves for c.
func (s *PrimarySource) Legacy(ctx context.Context, c models.Category) (legacy.Document, error) {
	body, err := s.get(ctx, client.V1CategoryPath(string(c)))
	if err != nil {
		return nil, err
	}
	return legacy.DecodeDocument(body)
}

// LastUpdated returns the newest legacy ledger timestamp of the PRIMARY, or
// nil while it keeps no ledger.
func (s *PrimarySource) LastUpdated(ctx context.Context) (*int64, error) {
	body, err := s.get(ctx, client.LastUpdatedPath("v1"))
	if err != nil {
		return nil, err
	}
	var resp struct {
		LastUpdated *int64 `json:"last_updated"`
	}
	if err := json.Unmarshal(body, &resp); err != nil {
		return nil, fmt.Errorf("decode last_updated: %w", err)
	}
	return resp.LastUpdated, nil
}

// GitHubSource reads the legacy documents from the raw GitHub repositories.
type GitHubSource struct {
	repos  backends.GitHubRepos
	client *http.Client
}

// NewGitHubSource creates a source for repos. A nil httpClient uses a
// client with the given timeout.
func NewGitHubSource(repos backends.GitHubRepos, httpClient *http.Client, timeout time.Duration) *GitHubSource {
	if httpClient == nil {
		httpClient = &http.Client{Timeout: timeout}
	}
	return &GitHubSource{repos: repos, client: httpClient}
}

// Legacy downloads the legacy document of c. The text category is parsed
// from models.csv into its grouped form.
func (s *GitHubSource) Legacy(ctx context.Context, c models.Category) (legacy.Document, error) {
	url := s.repos.CategoryURL(c)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, err
	}
	resp, err := s.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrSourceUnavailable, err)
	}
	defer resp.Body.Close()
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrSourceUnavailable, err)
	}
	switch {
	case resp.StatusCode == http.StatusNotFound:
		// A category that was never published compares as empty.
		return legacy.Document{}, nil
	case resp.StatusCode != http.StatusOK:
		return nil, fmt.Errorf("%w: GET %s: HTTP %d", ErrSourceUnavailable, url, resp.StatusCode)
	}
	if c.IsText() {
		doc, _, err := legacy.DecodeTextCSV(body)
		return doc, err
	}
	return legacy.DecodeDocument(body)
}
