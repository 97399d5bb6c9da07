package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadWithFileOverrides(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	configYAML := `
server:
  port: 9090
  request_timeout: 45s
logging:
  development: false
  level: debug
download:
  max_attempts: 5
  initial_backoff: 250ms
  user_agent: shoe-bot
semantic:
  provider: openai
  api_key: sk-test
  model: gpt-4o
  max_attempts: 4
  bypass_on_failure: true
structural:
  threshold: 0.9
  white_level: 230
normalize:
  seed: 42
  jpeg_quality: 85
  copyright: ACME
sources:
  order: [bing-images]
  query_suffix: sneaker
  max_candidates: 4
browser:
  enabled: false
cache:
  dir: /tmp/shoes
  debug_artifacts: true
gcs:
  bucket: shoe-bucket
pubsub:
  project_id: proj
  topic: shoes
db:
  dsn: postgres://localhost/shoes
`
	require.NoError(t, os.WriteFile(path, []byte(configYAML), 0o600))

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, 9090, cfg.Server.Port)
	assert.Equal(t, 45*time.Second, cfg.Server.RequestTimeout)
	assert.Equal(t, "/images/", cfg.Server.StaticPrefix)
	assert.False(t, cfg.Logging.Development)
	assert.Equal(t, "debug", cfg.Logging.Level)
	assert.Equal(t, 5, cfg.Download.MaxAttempts)
	assert.Equal(t, 250*time.Millisecond, cfg.Download.InitialBackoff)
	assert.Equal(t, "shoe-bot", cfg.Download.UserAgent)
	assert.Equal(t, ProviderOpenAI, cfg.Semantic.Provider)
	assert.True(t, cfg.Semantic.BypassOnFailure)
	assert.InDelta(t, 0.9, cfg.Structural.Threshold, 1e-9)
	assert.Equal(t, uint8(230), cfg.Structural.WhiteLevel)
	assert.Equal(t, uint64(42), cfg.Normalize.Seed)
	assert.Equal(t, 85, cfg.Normalize.JPEGQuality)
	assert.Equal(t, []string{SourceBing}, cfg.Sources.Order)
	assert.Equal(t, 4, cfg.Sources.MaxCandidates)
	assert.Equal(t, "/tmp/shoes", cfg.Cache.Dir)
	assert.True(t, cfg.Cache.DebugArtifacts)
	assert.Equal(t, "shoe-bucket", cfg.GCS.Bucket)
	assert.Equal(t, "shoes", cfg.PubSub.Topic)
	assert.Equal(t, "postgres://localhost/shoes", cfg.DB.DSN)
	assert.False(t, cfg.UsesBrowser())
}

func TestLoadDefaults(t *testing.T) {
	t.Setenv("SHOEIMG_SEMANTIC_PROVIDER", "none")
	t.Setenv("SHOEIMG_SERVER_PORT", "7070")

	cfg, err := Load("")
	require.NoError(t, err)

	assert.Equal(t, 7070, cfg.Server.Port)
	assert.Equal(t, ProviderNone, cfg.Semantic.Provider)
	assert.Equal(t, 3, cfg.Download.MaxAttempts)
	assert.Equal(t, 500*time.Millisecond, cfg.Download.InitialBackoff)
	assert.Equal(t, time.Second, cfg.Semantic.InitialBackoff)
	assert.Equal(t, "index.json", cfg.Cache.IndexFile)
	assert.Equal(t, []string{SourceGoogleImages, SourceBing, SourceGoogleShopping}, cfg.Sources.Order)
	assert.True(t, cfg.UsesBrowser())
}

func TestLoadSecretFromEnv(t *testing.T) {
	t.Setenv("SHOEIMG_SEMANTIC_API_KEY", "from-env")

	cfg, err := Load("")
	require.NoError(t, err)
	assert.Equal(t, "from-env", cfg.Semantic.APIKey)
}

func TestLoadMissingFile(t *testing.T) {
	t.Parallel()

	_, err := Load(filepath.Join(t.TempDir(), "missing.yaml"))
	require.ErrorContains(t, err, "read config")
}

func TestConfigValidateErrors(t *testing.T) {
	t.Parallel()

	base := Config{
		Server:    ServerConfig{Port: 8080},
		Download:  DownloadConfig{MaxAttempts: 3},
		Semantic:  SemanticConfig{Provider: ProviderNone, MaxAttempts: 3},
		Normalize: NormalizeConfig{JPEGQuality: 90},
		Sources:   SourcesConfig{Order: []string{SourceBing}},
	}
	base.Structural.Threshold = 0.95
	base.Cache.Dir = "data"
	require.NoError(t, base.Validate())

	tests := []struct {
		name   string
		mutate func(*Config)
		want   string
	}{
		{"invalid port", func(c *Config) { c.Server.Port = 0 }, "server.port"},
		{"download attempts", func(c *Config) { c.Download.MaxAttempts = 0 }, "download.max_attempts"},
		{"semantic attempts", func(c *Config) { c.Semantic.MaxAttempts = 0 }, "semantic.max_attempts"},
		{"missing api key", func(c *Config) { c.Semantic.Provider = ProviderGemini }, "semantic.api_key"},
		{"unknown provider", func(c *Config) { c.Semantic.Provider = "claude" }, "semantic.provider"},
		{"threshold", func(c *Config) { c.Structural.Threshold = 1.5 }, "structural.threshold"},
		{"quality", func(c *Config) { c.Normalize.JPEGQuality = 0 }, "normalize.jpeg_quality"},
		{"cache dir", func(c *Config) { c.Cache.Dir = " " }, "cache.dir"},
		{"no sources", func(c *Config) { c.Sources.Order = nil }, "sources.order"},
		{"unknown source", func(c *Config) { c.Sources.Order = []string{"yahoo"} }, "unknown source"},
		{"browser source without browser", func(c *Config) { c.Sources.Order = []string{SourceGoogleImages} }, "browser.enabled"},
		{"topic without project", func(c *Config) { c.PubSub.Topic = "t" }, "pubsub.project_id"},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			cfg := base
			cfg.Sources.Order = append([]string(nil), base.Sources.Order...)
			tc.mutate(&cfg)
			err := cfg.Validate()
			require.Error(t, err)
			assert.Contains(t, err.Error(), tc.want)
		})
	}
}
