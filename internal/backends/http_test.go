package backends

import (
	"context"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/haidra-org/horde-model-reference/internal/models"
)

const v2Clip = `{"ViT-L/14": {"name": "ViT-L/14", "description": "clip"}}`

func newPrimaryAPI(t *testing.T, status *atomic.Int64, hits *atomic.Int64) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		switch r.URL.Path {
		case "/health":
			w.WriteHeader(http.StatusOK)
		case "/api/model_references/v2/clip":
			if code := int(status.Load()); code != http.StatusOK {
				w.WriteHeader(code)
				return
			}
			w.Write([]byte(v2Clip))
		case "/api/model_references/v1/clip":
			w.Write([]byte(`{"ViT-L/14": {"name": "ViT-L/14", "type": "clip"}}`))
		default:
			http.NotFound(w, r)
		}
	}))
	t.Cleanup(srv.Close)
	return srv
}

func newTestHTTPBackend(t *testing.T, url string, fallback Backend) *HTTPBackend {
	t.Helper()
	b, err := NewHTTPBackend(HTTPOptions{
		PrimaryURL:       url,
		Timeout:          time.Second,
		RetryMaxAttempts: 3,
		RetryBackoff:     time.Millisecond,
		CacheTTL:         time.Minute,
		Fallback:         fallback,
		Logger:           newTestLogger(),
	})
	require.NoError(t, err)
	return b
}

func TestHTTPBackend_FetchFromPrimary(t *testing.T) {
	var status, hits atomic.Int64
	status.Store(http.StatusOK)
	srv := newPrimaryAPI(t, &status, &hits)
	b := newTestHTTPBackend(t, srv.URL, nil)
	ctx := context.Background()

	doc, err := b.FetchCategory(ctx, models.CategoryClip, false)
	require.NoError(t, err)
	assert.Contains(t, doc, "ViT-L/14")

	_, err = b.FetchCategory(ctx, models.CategoryClip, false)
	require.NoError(t, err)
	assert.Equal(t, int64(1), hits.Load())

	stats, err := b.Statistics(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(1), stats["primary_hits"])
	assert.Equal(t, int64(0), stats["github_fallbacks"])
	assert.Equal(t, 1, stats["cache_size"])

	assert.NoError(t, b.HealthCheck(ctx))
	assert.Equal(t, ModeReplica, b.Mode())
	assert.False(t, b.SupportsWrites())
}

func TestHTTPBackend_NotFoundIsNotRetried(t *testing.T) {
	var status, hits atomic.Int64
	status.Store(http.StatusOK)
	srv := newPrimaryAPI(t, &status, &hits)
	b := newTestHTTPBackend(t, srv.URL, nil)

	_, err := b.FetchCategory(context.Background(), models.CategoryEsrgan, false)
	assert.ErrorIs(t, err, ErrUnavailable)
	assert.Equal(t, int64(1), hits.Load())
}

func TestHTTPBackend_ServerErrorsRetried(t *testing.T) {
	var status, hits atomic.Int64
	status.Store(http.StatusBadGateway)
	srv := newPrimaryAPI(t, &status, &hits)
	b := newTestHTTPBackend(t, srv.URL, nil)

	_, err := b.FetchCategory(context.Background(), models.CategoryClip, false)
	assert.ErrorIs(t, err, ErrUnavailable)
	assert.Equal(t, int64(3), hits.Load())
}

func TestHTTPBackend_FallsBackToGitHub(t *testing.T) {
	var status, hits atomic.Int64
	status.Store(http.StatusOK)
	primary := newPrimaryAPI(t, &status, &hits)
	gh := newTestGitHubBackend(t, newLegacyServer(t), ModeReplica, false)
	b := newTestHTTPBackend(t, primary.URL, gh)
	ctx := context.Background()

	doc, err := b.FetchCategory(ctx, models.CategoryEsrgan, false)
	require.NoError(t, err)
	assert.Contains(t, doc, "RealESRGAN_x4plus")

	stats, err := b.Statistics(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(1), stats["github_fallbacks"])
}

func TestHTTPBackend_LegacyJSON(t *testing.T) {
	var status, hits atomic.Int64
	status.Store(http.StatusOK)
	srv := newPrimaryAPI(t, &status, &hits)
	b := newTestHTTPBackend(t, srv.URL, nil)

	doc, err := b.LegacyJSON(context.Background(), models.CategoryClip, false)
	require.NoError(t, err)
	assert.Contains(t, doc, "ViT-L/14")

	_, err = b.LegacyJSON(context.Background(), models.CategoryBlip, false)
	assert.ErrorIs(t, err, ErrUnavailable)
}
