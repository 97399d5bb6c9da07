package app

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"image"
	"image/color"
	"image/draw"
	"image/png"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/JakeFAU/shoe-image-service/internal/config"
	"github.com/JakeFAU/shoe-image-service/internal/retrieval"
	"github.com/JakeFAU/shoe-image-service/internal/structural"
)

func productPNG(t *testing.T) []byte {
	t.Helper()
	img := image.NewRGBA(image.Rect(0, 0, 200, 160))
	draw.Draw(img, img.Bounds(), image.NewUniform(color.White), image.Point{}, draw.Src)
	draw.Draw(img, image.Rect(50, 50, 150, 110), image.NewUniform(color.RGBA{R: 40, G: 40, B: 90, A: 255}), image.Point{}, draw.Src)
	var buf bytes.Buffer
	require.NoError(t, png.Encode(&buf, img))
	return buf.Bytes()
}

type upstream struct {
	srv      *httptest.Server
	searches atomic.Int32
}

func newUpstream(t *testing.T) *upstream {
	t.Helper()
	u := &upstream{}
	shoe := productPNG(t)
	mux := http.NewServeMux()
	mux.HandleFunc("/images/search", func(w http.ResponseWriter, _ *http.Request) {
		u.searches.Add(1)
		w.Header().Set("Content-Type", "text/html; charset=utf-8")
		fmt.Fprintf(w, `<html><body><a class="iusc" m='{"murl":"%s/img/shoe.png"}' href="#"></a></body></html>`, u.srv.URL)
	})
	mux.HandleFunc("/img/shoe.png", func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "image/png")
		_, _ = w.Write(shoe)
	})
	u.srv = httptest.NewServer(mux)
	t.Cleanup(u.srv.Close)
	return u
}

func testConfig(t *testing.T, bingURL string) config.Config {
	t.Helper()
	var cfg config.Config
	cfg.Server = config.ServerConfig{Port: 8080, RequestTimeout: 10 * time.Second, StaticPrefix: "/images/"}
	cfg.Download = config.DownloadConfig{MaxAttempts: 2, InitialBackoff: time.Millisecond, Timeout: 5 * time.Second}
	cfg.Semantic = config.SemanticConfig{
		Provider:        config.ProviderNone,
		MaxAttempts:     2,
		InitialBackoff:  time.Millisecond,
		BypassOnFailure: true,
	}
	cfg.Structural = structural.Config{Threshold: structural.DefaultThreshold, WhiteLevel: structural.DefaultWhiteLevel}
	cfg.Normalize = config.NormalizeConfig{Seed: 7, JPEGQuality: 85, Copyright: "ACME", VisionMaxDim: 512}
	cfg.Sources = config.SourcesConfig{
		Order:         []string{config.SourceBing},
		BingBaseURL:   bingURL,
		MaxCandidates: 5,
		SearchTimeout: 5 * time.Second,
	}
	cfg.Cache.Dir = filepath.Join(t.TempDir(), "images")
	cfg.Cache.DebugArtifacts = true
	require.NoError(t, cfg.Validate())
	return cfg
}

func TestBuildAndResolveEndToEnd(t *testing.T) {
	t.Parallel()

	up := newUpstream(t)
	cfg := testConfig(t, up.srv.URL)

	a, err := Build(context.Background(), cfg, zap.NewNop())
	require.NoError(t, err)
	t.Cleanup(a.Close)

	res := a.Resolve(context.Background(), "Primus Lite")
	require.True(t, res.Success, "error: %v", res.Err)
	assert.Equal(t, "bing-images", res.Source)
	assert.Equal(t, retrieval.VerdictBypassed, res.ValidationStatus)
	assert.Equal(t, up.srv.URL+"/img/shoe.png", res.OriginalURL)
	assert.NotEmpty(t, res.Artifacts.Raw)
	assert.FileExists(t, filepath.Join(cfg.Cache.Dir, filepath.FromSlash(res.ArtifactPath)))

	again := a.Resolve(context.Background(), "primus   LITE!")
	require.True(t, again.Success)
	assert.Equal(t, retrieval.SourceCache, again.Source)
	assert.Equal(t, res.ArtifactPath, again.ArtifactPath)
	assert.Equal(t, int32(1), up.searches.Load())
}

func TestHTTPRoundTrip(t *testing.T) {
	t.Parallel()

	up := newUpstream(t)
	cfg := testConfig(t, up.srv.URL)

	a, err := Build(context.Background(), cfg, zap.NewNop())
	require.NoError(t, err)
	t.Cleanup(a.Close)

	srv := httptest.NewServer(a.Handler())
	t.Cleanup(srv.Close)

	resp, err := http.Post(srv.URL+"/api/shoe-image", "application/json", strings.NewReader(`{"model":"Primus Lite"}`))
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var body struct {
		Success  bool   `json:"success"`
		ImageURL string `json:"imageUrl"`
		Status   string `json:"geminiValidationStatus"`
	}
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&body))
	assert.True(t, body.Success)
	assert.Equal(t, "bypassed", body.Status)
	require.True(t, strings.HasPrefix(body.ImageURL, "/images/"))

	img, err := http.Get(srv.URL + body.ImageURL)
	require.NoError(t, err)
	defer img.Body.Close()
	assert.Equal(t, http.StatusOK, img.StatusCode)
	assert.Equal(t, "image/jpeg", img.Header.Get("Content-Type"))

	ready, err := http.Get(srv.URL + "/readyz")
	require.NoError(t, err)
	defer ready.Body.Close()
	assert.Equal(t, http.StatusOK, ready.StatusCode)
}

func TestResolveWithoutBypassIsNotFound(t *testing.T) {
	t.Parallel()

	up := newUpstream(t)
	cfg := testConfig(t, up.srv.URL)
	cfg.Semantic.BypassOnFailure = false

	a, err := Build(context.Background(), cfg, zap.NewNop())
	require.NoError(t, err)
	t.Cleanup(a.Close)

	res := a.Resolve(context.Background(), "Primus Lite")
	assert.False(t, res.Success)
	assert.Equal(t, retrieval.OutcomeNotFound, res.Outcome)
	entries, err := os.ReadDir(cfg.Cache.Dir)
	require.NoError(t, err)
	for _, e := range entries {
		assert.False(t, strings.HasSuffix(e.Name(), ".jpg") && !e.IsDir(), "unexpected published file %s", e.Name())
	}
}

func TestBuildFailsOnUnusableCacheDir(t *testing.T) {
	t.Parallel()

	cfg := testConfig(t, "http://127.0.0.1:1")
	file := filepath.Join(t.TempDir(), "not-a-dir")
	require.NoError(t, os.WriteFile(file, []byte("x"), 0o600))
	cfg.Cache.Dir = file

	_, err := Build(context.Background(), cfg, zap.NewNop())
	require.ErrorContains(t, err, "cache init failed")
}

func TestPipelineConfigMapping(t *testing.T) {
	t.Parallel()

	cfg := testConfig(t, "http://bing.test")
	cfg.Workers.Images = 3
	pc := pipelineConfig(cfg)
	assert.Equal(t, 2, pc.DownloadAttempts)
	assert.Equal(t, time.Millisecond, pc.SemanticBackoff)
	assert.True(t, pc.BypassOnFailure)
	assert.Equal(t, 5, pc.MaxCandidatesPerSource)
	assert.Equal(t, 512, pc.ValidatorMaxDim)
	assert.Equal(t, 3, pc.ImageWorkers)
}
