package commands

import (
	"bytes"
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/haidra-org/horde-model-reference/internal/client"
	"github.com/haidra-org/horde-model-reference/internal/client/auth"
	"github.com/haidra-org/horde-model-reference/internal/client/output"
)

type recorded struct {
	Method   string
	Path     string
	RawQuery string
	Auth     string
	Body     string
}

type fakeService struct {
	mu       sync.Mutex
	requests []recorded
	replies  map[string]string
}

func (f *fakeService) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	body, _ := io.ReadAll(r.Body)
	f.mu.Lock()
	f.requests = append(f.requests, recorded{
		Method:   r.Method,
		Path:     r.URL.EscapedPath(),
		RawQuery: r.URL.RawQuery,
		Auth:     r.Header.Get("Authorization"),
		Body:     string(body),
	})
	f.mu.Unlock()

	reply, ok := f.replies[r.Method+" "+r.URL.EscapedPath()]
	if !ok {
		http.NotFound(w, r)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	switch r.Method {
	case http.MethodPost:
		w.WriteHeader(http.StatusCreated)
	case http.MethodDelete:
		w.WriteHeader(http.StatusNoContent)
		return
	}
	io.WriteString(w, reply)
}

func (f *fakeService) last() recorded {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.requests[len(f.requests)-1]
}

// run executes hmr-ctl against svc and returns its stdout.
func run(t *testing.T, svc *fakeService, args ...string) string {
	t.Helper()
	ts := httptest.NewServer(svc)
	t.Cleanup(ts.Close)

	t.Setenv("HOME", t.TempDir())
	t.Setenv(auth.TokenEnvVar, "")

	var out bytes.Buffer
	prev := output.Stdout
	output.Stdout = &out
	t.Cleanup(func() { output.Stdout = prev })

	flagURL, flagToken, flagJSON, flagYes = "", "", false, false
	catLegacy, catRefresh, modelLegacy, modelFile = false, false, false, ""
	auditGrouped, auditVariations, auditPreset, auditSort, auditOffset, auditLimit = false, false, "", "", 0, 0

	rootCmd.SetArgs(append([]string{"--url", ts.URL}, args...))
	require.NoError(t, Execute(context.Background()))
	return out.String()
}

func TestCategoryList(t *testing.T) {
	svc := &fakeService{replies: map[string]string{
		"GET " + client.APIPrefix + "/v2": `[{"category":"clip","available":true,"models":2},{"category":"esrgan","available":false,"models":0}]`,
	}}

	out := run(t, svc, "category", "list")
	assert.Contains(t, out, "CATEGORY")
	assert.Contains(t, out, "clip")
	assert.Contains(t, out, "false")
}

func TestModelGet_EscapesSlashes(t *testing.T) {
	svc := &fakeService{replies: map[string]string{
		"GET " + client.APIPrefix + "/v2/clip/ViT-L%2F14": `{"name":"ViT-L/14","nsfw":false}`,
	}}

	out := run(t, svc, "model", "get", "clip", "ViT-L/14")
	assert.Contains(t, out, `"name": "ViT-L/14"`)
}

func TestModelCreate_AddsNameAndSendsToken(t *testing.T) {
	svc := &fakeService{replies: map[string]string{
		"POST " + client.APIPrefix + "/v1/clip": `{}`,
	}}
	path := filepath.Join(t.TempDir(), "record.json")
	require.NoError(t, os.WriteFile(path, []byte(`{"nsfw":false}`), 0o600))

	run(t, svc, "--token", "curator:pw", "model", "create", "clip", "ViT-B/32", "--legacy", "-f", path)

	req := svc.last()
	assert.Equal(t, http.MethodPost, req.Method)
	assert.JSONEq(t, `{"name":"ViT-B/32","nsfw":false}`, req.Body)
	assert.Equal(t, "Basic "+auth.EncodeBasic("curator:pw"), req.Auth)
}

func TestModelDelete(t *testing.T) {
	svc := &fakeService{replies: map[string]string{
		"DELETE " + client.APIPrefix + "/v2/esrgan/RealESRGAN_x4plus": ``,
	}}

	out := run(t, svc, "--yes", "model", "delete", "esrgan", "RealESRGAN_x4plus")
	assert.Contains(t, out, "Deleted model 'RealESRGAN_x4plus'")
}

func TestAudit_Query(t *testing.T) {
	svc := &fakeService{replies: map[string]string{
		"GET " + client.APIPrefix + "/audit/image_generation": `{"category":"image_generation","total_count":1,"returned_count":1,
			"models":[{"name":"Deliberate","risk_score":2,"worker_count":0,"usage_month":0,
			"deletion_risk_flags":{"no_active_workers":true,"zero_usage_month":true}}],
			"summary":{"models_at_risk":1},"usage_available":true}`,
	}}

	out := run(t, svc, "audit", "image_generation", "--preset", "no_workers", "--limit", "10")
	assert.Equal(t, "limit=10&preset=no_workers", svc.last().RawQuery)
	assert.Contains(t, out, "Deliberate")
	assert.Contains(t, out, "no_active_workers,zero_usage_month")
	assert.Contains(t, out, "1 of 1 models shown, 1 at risk")
}
