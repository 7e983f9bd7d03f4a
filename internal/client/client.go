package client

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"strings"
	"time"
)

// APIPrefix is the path under which the reference API is served.
const APIPrefix = "/api/model_references"

// Client wraps HTTP client for reference API calls
type Client struct {
	BaseURL    string
	Token      string
	HTTPClient *http.Client
	Verbose    bool
	UserAgent  string
}

// NewClient creates a new API client
func NewClient(baseURL, token string, timeout time.Duration, verbose bool) *Client {
	return &Client{
		BaseURL: strings.TrimRight(baseURL, "/"),
		Token:   token,
		HTTPClient: &http.Client{
			Timeout: timeout,
		},
		Verbose: verbose,
	}
}

// doRequest executes an HTTP request with authentication
func (c *Client) doRequest(ctx context.Context, method, path string, body any) (*http.Response, error) {
	var reqBody io.Reader
	if body != nil {
		switch b := body.(type) {
		case json.RawMessage:
			reqBody = bytes.NewReader(b)
		default:
			jsonData, err := json.Marshal(body)
			if err != nil {
				return nil, fmt.Errorf("failed to marshal request body: %w", err)
			}
			reqBody = bytes.NewReader(jsonData)
		}
	}

	url := c.BaseURL + path
	req, err := http.NewRequestWithContext(ctx, method, url, reqBody)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}

	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	req.Header.Set("Accept", "application/json")

	if c.UserAgent != "" {
		req.Header.Set("User-Agent", c.UserAgent)
	}
	if c.Token != "" {
		req.Header.Set("Authorization", "Basic "+c.Token)
	}

	if c.Verbose {
		fmt.Fprintf(os.Stderr, "[DEBUG] %s %s\n", method, url)
	}

	start := time.Now()
	resp, err := c.HTTPClient.Do(req)
	if c.Verbose && err == nil {
		fmt.Fprintf(os.Stderr, "[DEBUG] %d %s (%s)\n", resp.StatusCode, url, time.Since(start).Round(time.Millisecond))
	}
	return resp, err
}

// Get executes a GET request
func (c *Client) Get(ctx context.Context, path string) (*http.Response, error) {
	return c.doRequest(ctx, http.MethodGet, path, nil)
}

// Post executes a POST request
func (c *Client) Post(ctx context.Context, path string, body any) (*http.Response, error) {
	return c.doRequest(ctx, http.MethodPost, path, body)
}

// Put executes a PUT request
func (c *Client) Put(ctx context.Context, path string, body any) (*http.Response, error) {
	return c.doRequest(ctx, http.MethodPut, path, body)
}

// Delete executes a DELETE request
func (c *Client) Delete(ctx context.Context, path string) (*http.Response, error) {
	return c.doRequest(ctx, http.MethodDelete, path, nil)
}

// V2CategoryPath is the API path of a v2 category document.
func V2CategoryPath(category string) string {
	return APIPrefix + "/v2/" + category
}

// V1CategoryPath is the API path of a legacy category document.
func V1CategoryPath(category string) string {
	return APIPrefix + "/v1/" + category
}

// LastUpdatedPath is the API path of the newest ledger timestamp of a
// format version (v1 or v2).
func LastUpdatedPath(version string) string {
	return APIPrefix + "/" + version + "/metadata/last_updated"
}
