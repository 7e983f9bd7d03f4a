package server

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"os"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/haidra-org/horde-model-reference/internal/analytics"
	"github.com/haidra-org/horde-model-reference/internal/auth"
	"github.com/haidra-org/horde-model-reference/internal/backends"
	"github.com/haidra-org/horde-model-reference/internal/client"
	"github.com/haidra-org/horde-model-reference/internal/config"
	"github.com/haidra-org/horde-model-reference/internal/manager"
	"github.com/haidra-org/horde-model-reference/internal/metadata"
	"github.com/haidra-org/horde-model-reference/internal/models"
	"github.com/haidra-org/horde-model-reference/internal/paths"
)

const testSHA = "ad2a33c361c1f593c4a1fb32ea81afce2b5bb7d1983c6b94793a26a3b54b08a0"

func newTestLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelError}))
}

type testAuthenticator struct{}

func (testAuthenticator) Authenticate(r *http.Request) (*auth.User, error) {
	u, p, ok := r.BasicAuth()
	if !ok || u != "curator" || p != "pw" {
		return nil, auth.ErrInvalidCredentials
	}
	return &auth.User{Username: u}, nil
}

func recordJSON(name string) string {
	rec := models.ModelRecord{
		Name:        name,
		Description: "test model",
		Config: map[string][]models.DownloadRecord{
			"download": {{FileName: "model.pth", FileURL: "https://huggingface.co/x/model.pth", SHA256Sum: testSHA}},
		},
	}
	data, _ := json.Marshal(rec)
	return string(data)
}

type testServer struct {
	*httptest.Server
	layout paths.Layout
}

func newTestServer(t *testing.T) *testServer {
	t.Helper()
	logger := newTestLogger()
	layout := paths.New(t.TempDir())
	meta := metadata.NewManager(layout, logger)

	b, err := backends.NewFileSystemBackend(backends.FileSystemOptions{
		Layout:   layout,
		Mode:     backends.ModePrimary,
		CacheTTL: time.Minute,
		Metadata: meta,
		Logger:   logger,
	})
	require.NoError(t, err)

	doc := models.RawDocument{"ViT-L/14": json.RawMessage(recordJSON("ViT-L/14"))}
	data, err := doc.Marshal()
	require.NoError(t, err)
	require.NoError(t, os.WriteFile(layout.CategoryFile(models.CategoryClip), data, 0o644))

	m, err := manager.New(context.Background(), b, manager.Options{Mode: backends.ModePrimary, Logger: logger})
	require.NoError(t, err)

	cacheOpts := func(name string) analytics.CacheOptions {
		return analytics.CacheOptions{Name: name, TTL: time.Minute, StaleTTL: time.Hour, Logger: logger}
	}
	stats := analytics.NewStatisticsEngine(m, analytics.StatisticsOptions{Cache: cacheOpts("statistics"), Logger: logger})
	audits, err := analytics.NewAuditEngine(m, analytics.AuditOptions{Cache: cacheOpts("audit"), Logger: logger})
	require.NoError(t, err)

	cfg, err := config.Load("")
	require.NoError(t, err)
	srv := NewServer(cfg, logger, Deps{
		Manager:       m,
		Metadata:      meta,
		Statistics:    stats,
		Audits:        audits,
		Authenticator: testAuthenticator{},
	})
	ts := httptest.NewServer(srv.Handler())
	t.Cleanup(func() {
		ts.Close()
		_ = m.Close()
	})
	return &testServer{Server: ts, layout: layout}
}

func (s *testServer) do(t *testing.T, method, path, body string, authed bool) (int, []byte) {
	t.Helper()
	var rd io.Reader
	if body != "" {
		rd = strings.NewReader(body)
	}
	req, err := http.NewRequest(method, s.URL+client.APIPrefix+path, rd)
	require.NoError(t, err)
	if authed {
		req.SetBasicAuth("curator", "pw")
	}
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()
	data, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	return resp.StatusCode, data
}

func errorCode(t *testing.T, body []byte) string {
	t.Helper()
	var resp struct {
		Error struct {
			Code string `json:"code"`
		} `json:"error"`
	}
	require.NoError(t, json.Unmarshal(body, &resp), string(body))
	return resp.Error.Code
}

func TestServer_Reads(t *testing.T) {
	s := newTestServer(t)

	status, body := s.do(t, http.MethodGet, "/v2", "", false)
	require.Equal(t, http.StatusOK, status)
	var cats []map[string]any
	require.NoError(t, json.Unmarshal(body, &cats))
	assert.Len(t, cats, len(models.AllCategories))

	status, body = s.do(t, http.MethodGet, "/v2/clip", "", false)
	require.Equal(t, http.StatusOK, status)
	doc, err := models.DecodeRawDocument(body)
	require.NoError(t, err)
	assert.Equal(t, []string{"ViT-L/14"}, doc.Names())

	status, body = s.do(t, http.MethodGet, "/v2/clip/names", "", false)
	require.Equal(t, http.StatusOK, status)
	assert.JSONEq(t, `["ViT-L/14"]`, string(body))

	status, _ = s.do(t, http.MethodGet, "/v2/clip/ViT-L/14", "", false)
	assert.Equal(t, http.StatusOK, status, "names with slashes route to the model")
	status, _ = s.do(t, http.MethodGet, "/v2/clip/ViT-L%2F14", "", false)
	assert.Equal(t, http.StatusOK, status)

	status, body = s.do(t, http.MethodGet, "/v2/clip/missing", "", false)
	assert.Equal(t, http.StatusNotFound, status)
	assert.Equal(t, "MODEL_NOT_FOUND", errorCode(t, body))

	status, body = s.do(t, http.MethodGet, "/v2/nope", "", false)
	assert.Equal(t, http.StatusBadRequest, status)
	assert.Equal(t, "INVALID_CATEGORY", errorCode(t, body))

	status, body = s.do(t, http.MethodGet, "/v2/blip", "", false)
	assert.Equal(t, http.StatusServiceUnavailable, status)
	assert.Equal(t, "REFERENCE_UNAVAILABLE", errorCode(t, body))
}

func TestServer_WriteLifecycle(t *testing.T) {
	s := newTestServer(t)

	status, body := s.do(t, http.MethodPost, "/v2/esrgan", recordJSON("RealESRGAN_x4plus"), false)
	assert.Equal(t, http.StatusUnauthorized, status)
	assert.Equal(t, "UNAUTHORIZED", errorCode(t, body))

	status, body = s.do(t, http.MethodPost, "/v2/esrgan", recordJSON("RealESRGAN_x4plus"), true)
	require.Equal(t, http.StatusCreated, status, string(body))
	var created models.ModelRecord
	require.NoError(t, json.Unmarshal(body, &created))
	require.NotNil(t, created.Metadata)
	assert.Equal(t, "curator", created.Metadata.CreatedBy)

	status, body = s.do(t, http.MethodPost, "/v2/esrgan", recordJSON("RealESRGAN_x4plus"), true)
	assert.Equal(t, http.StatusConflict, status)
	assert.Equal(t, "MODEL_ALREADY_EXISTS", errorCode(t, body))

	status, _ = s.do(t, http.MethodPut, "/v2/esrgan/RealESRGAN_x4plus", recordJSON("Other"), true)
	assert.Equal(t, http.StatusBadRequest, status, "body name must match the URL")

	status, _ = s.do(t, http.MethodPut, "/v2/esrgan/Missing", recordJSON("Missing"), true)
	assert.Equal(t, http.StatusNotFound, status)

	status, _ = s.do(t, http.MethodPut, "/v2/esrgan/RealESRGAN_x4plus", recordJSON("RealESRGAN_x4plus"), true)
	assert.Equal(t, http.StatusOK, status)

	status, body = s.do(t, http.MethodGet, "/metadata/v2/esrgan", "", false)
	require.Equal(t, http.StatusOK, status)
	var meta metadata.CategoryMetadata
	require.NoError(t, json.Unmarshal(body, &meta))
	assert.Equal(t, 1, meta.TotalCreates)
	assert.Equal(t, 1, meta.TotalUpdates)

	status, _ = s.do(t, http.MethodDelete, "/v2/esrgan/RealESRGAN_x4plus", "", true)
	assert.Equal(t, http.StatusNoContent, status)
	status, _ = s.do(t, http.MethodDelete, "/v2/esrgan/RealESRGAN_x4plus", "", true)
	assert.Equal(t, http.StatusNotFound, status)

	status, body = s.do(t, http.MethodPost, "/v2/esrgan", "{", true)
	assert.Equal(t, http.StatusBadRequest, status)
	assert.Equal(t, "VALIDATION_ERROR", errorCode(t, body))
}

func TestServer_LegacyWritesNeedLegacyCanonicalFormat(t *testing.T) {
	s := newTestServer(t)

	status, body := s.do(t, http.MethodPut, "/v1/esrgan/RealESRGAN_x4plus", `{"name":"RealESRGAN_x4plus"}`, true)
	assert.Equal(t, http.StatusServiceUnavailable, status)
	assert.Equal(t, "LEGACY_WRITES_DISABLED", errorCode(t, body))

	status, _ = s.do(t, http.MethodPut, "/v1/esrgan/RealESRGAN_x4plus", `[1]`, true)
	assert.Equal(t, http.StatusBadRequest, status)
}

func TestServer_LastUpdated(t *testing.T) {
	s := newTestServer(t)

	status, body := s.do(t, http.MethodGet, "/v2/metadata/last_updated", "", false)
	require.Equal(t, http.StatusOK, status)
	assert.JSONEq(t, `{"last_updated":null}`, string(body))

	status, body = s.do(t, http.MethodGet, "/v2/metadata/esrgan/last_updated", "", false)
	assert.Equal(t, http.StatusNotFound, status)
	assert.Equal(t, "METADATA_NOT_FOUND", errorCode(t, body))

	status, _ = s.do(t, http.MethodPost, "/v2/esrgan", recordJSON("RealESRGAN_x4plus"), true)
	require.Equal(t, http.StatusCreated, status)

	status, body = s.do(t, http.MethodGet, "/v2/metadata/last_updated", "", false)
	require.Equal(t, http.StatusOK, status)
	var global struct {
		LastUpdated *int64 `json:"last_updated"`
	}
	require.NoError(t, json.Unmarshal(body, &global))
	require.NotNil(t, global.LastUpdated)
	assert.Positive(t, *global.LastUpdated)

	status, body = s.do(t, http.MethodGet, "/v2/metadata/esrgan/last_updated", "", false)
	require.Equal(t, http.StatusOK, status)
	var perCategory struct {
		Category    string `json:"category"`
		LastUpdated int64  `json:"last_updated"`
	}
	require.NoError(t, json.Unmarshal(body, &perCategory))
	assert.Equal(t, "esrgan", perCategory.Category)
	assert.Equal(t, *global.LastUpdated, perCategory.LastUpdated)

	status, body = s.do(t, http.MethodGet, "/v1/metadata/last_updated", "", false)
	assert.Equal(t, http.StatusServiceUnavailable, status, "v1 is not canonical")
	assert.Equal(t, "METADATA_UNAVAILABLE", errorCode(t, body))

	status, body = s.do(t, http.MethodGet, "/v2/metadata/nope/last_updated", "", false)
	assert.Equal(t, http.StatusBadRequest, status)
	assert.Equal(t, "INVALID_CATEGORY", errorCode(t, body))
}

func TestServer_Analytics(t *testing.T) {
	s := newTestServer(t)

	status, body := s.do(t, http.MethodGet, "/statistics/clip", "", false)
	require.Equal(t, http.StatusOK, status, string(body))
	var stats analytics.CategoryStatistics
	require.NoError(t, json.Unmarshal(body, &stats))
	assert.Equal(t, 1, stats.TotalModels)

	status, body = s.do(t, http.MethodGet, "/audit/clip?limit=1&sort=name", "", false)
	require.Equal(t, http.StatusOK, status, string(body))
	var audit analytics.CategoryAudit
	require.NoError(t, json.Unmarshal(body, &audit))
	assert.Equal(t, 1, audit.ReturnedCount)
	require.NotNil(t, audit.Limit)

	status, body = s.do(t, http.MethodGet, "/audit/clip?preset=bogus", "", false)
	assert.Equal(t, http.StatusBadRequest, status)
	assert.Equal(t, "UNKNOWN_PRESET", errorCode(t, body))

	status, _ = s.do(t, http.MethodGet, "/audit/clip?offset=-1", "", false)
	assert.Equal(t, http.StatusBadRequest, status)

	status, body = s.do(t, http.MethodGet, "/audit/presets", "", false)
	require.Equal(t, http.StatusOK, status)
	assert.Contains(t, string(body), "deletion_candidates")

	status, body = s.do(t, http.MethodGet, "/backend", "", false)
	require.Equal(t, http.StatusOK, status)
	var backend map[string]any
	require.NoError(t, json.Unmarshal(body, &backend))
	assert.Equal(t, "filesystem", backend["name"])
	assert.Equal(t, true, backend["supports_writes"])
	assert.Len(t, backend["analytics_caches"], 2)
}

func TestServer_HealthWhoamiMetrics(t *testing.T) {
	s := newTestServer(t)

	resp, err := http.Get(s.URL + "/health")
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	resp, err = http.Get(s.URL + "/metrics")
	require.NoError(t, err)
	data, _ := io.ReadAll(resp.Body)
	resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.True(t, bytes.Contains(data, []byte("hmr_")))

	status, _ := s.do(t, http.MethodGet, "/whoami", "", false)
	assert.Equal(t, http.StatusUnauthorized, status)
	status, body := s.do(t, http.MethodGet, "/whoami", "", true)
	require.Equal(t, http.StatusOK, status)
	assert.JSONEq(t, `{"username":"curator"}`, string(body))
}
