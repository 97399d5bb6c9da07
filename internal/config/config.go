// Package config loads and validates service configuration via Viper.
package config

import (
	"fmt"
	"slices"
	"strings"
	"time"

	"github.com/spf13/viper"

	"github.com/JakeFAU/shoe-image-service/internal/browser"
	"github.com/JakeFAU/shoe-image-service/internal/cache"
	"github.com/JakeFAU/shoe-image-service/internal/notify/postgres"
	notifypubsub "github.com/JakeFAU/shoe-image-service/internal/notify/pubsub"
	"github.com/JakeFAU/shoe-image-service/internal/storage/gcs"
	"github.com/JakeFAU/shoe-image-service/internal/structural"
)

// Semantic providers.
const (
	ProviderGemini = "gemini"
	ProviderOpenAI = "openai"
	ProviderNone   = "none"
)

// Source names accepted in sources.order.
const (
	SourceBing           = "bing-images"
	SourceGoogleImages   = "google-images"
	SourceGoogleShopping = "google-shopping"
)

// Config captures all service configuration knobs loaded via Viper.
type Config struct {
	Server     ServerConfig        `mapstructure:"server"`
	Logging    LoggingConfig       `mapstructure:"logging"`
	Download   DownloadConfig      `mapstructure:"download"`
	Semantic   SemanticConfig      `mapstructure:"semantic"`
	Structural structural.Config   `mapstructure:"structural"`
	Normalize  NormalizeConfig     `mapstructure:"normalize"`
	Browser    browser.Config      `mapstructure:"browser"`
	Sources    SourcesConfig       `mapstructure:"sources"`
	Cache      cache.Config        `mapstructure:"cache"`
	Workers    WorkersConfig       `mapstructure:"workers"`
	GCS        gcs.Config          `mapstructure:"gcs"`
	PubSub     notifypubsub.Config `mapstructure:"pubsub"`
	DB         postgres.Config     `mapstructure:"db"`
}

// ServerConfig controls HTTP server behavior.
type ServerConfig struct {
	Port           int           `mapstructure:"port"`
	RequestTimeout time.Duration `mapstructure:"request_timeout"`
	// StaticPrefix is the URL path the cache directory is served under.
	StaticPrefix string `mapstructure:"static_prefix"`
}

// LoggingConfig toggles zap development features.
type LoggingConfig struct {
	Development bool   `mapstructure:"development"`
	Level       string `mapstructure:"level"`
}

// DownloadConfig governs candidate downloads and their retry loop.
type DownloadConfig struct {
	MaxAttempts    int           `mapstructure:"max_attempts"`
	InitialBackoff time.Duration `mapstructure:"initial_backoff"`
	MaxBackoff     time.Duration `mapstructure:"max_backoff"`
	Timeout        time.Duration `mapstructure:"timeout"`
	UserAgent      string        `mapstructure:"user_agent"`
	MaxBytes       int           `mapstructure:"max_bytes"`
}

// SemanticConfig selects and tunes the vision-model validator.
type SemanticConfig struct {
	Provider        string        `mapstructure:"provider"`
	APIKey          string        `mapstructure:"api_key"`
	Model           string        `mapstructure:"model"`
	BaseURL         string        `mapstructure:"base_url"`
	Timeout         time.Duration `mapstructure:"timeout"`
	MaxAttempts     int           `mapstructure:"max_attempts"`
	InitialBackoff  time.Duration `mapstructure:"initial_backoff"`
	BypassOnFailure bool          `mapstructure:"bypass_on_failure"`
}

// NormalizeConfig controls output encoding and embedded metadata.
type NormalizeConfig struct {
	Seed        uint64 `mapstructure:"seed"`
	JPEGQuality int    `mapstructure:"jpeg_quality"`
	Copyright   string `mapstructure:"copyright"`
	Artist      string `mapstructure:"artist"`
	Software    string `mapstructure:"software"`
	// VisionMaxDim bounds the image sent to the semantic validator.
	VisionMaxDim int `mapstructure:"vision_max_dim"`
}

// SourcesConfig orders and throttles the image sources.
type SourcesConfig struct {
	Order         []string      `mapstructure:"order"`
	QuerySuffix   string        `mapstructure:"query_suffix"`
	MaxCandidates int           `mapstructure:"max_candidates"`
	SearchTimeout time.Duration `mapstructure:"search_timeout"`
	RatePerSecond float64       `mapstructure:"rate_per_second"`
	Burst         int           `mapstructure:"burst"`
	BingBaseURL   string        `mapstructure:"bing_base_url"`
	GoogleBaseURL string        `mapstructure:"google_base_url"`
}

// WorkersConfig bounds background work.
type WorkersConfig struct {
	Images        int           `mapstructure:"images"`
	NotifyTimeout time.Duration `mapstructure:"notify_timeout"`
}

// Load builds a Config from disk/environment.
func Load(path string) (Config, error) {
	v := viper.New()
	v.SetEnvPrefix("SHOEIMG")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	setDefaults(v)

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return Config{}, fmt.Errorf("read config: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, fmt.Errorf("unmarshal config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}

	return cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.request_timeout", "120s")
	v.SetDefault("server.static_prefix", "/images/")
	v.SetDefault("logging.development", true)
	v.SetDefault("logging.level", "info")
	v.SetDefault("download.max_attempts", 3)
	v.SetDefault("download.initial_backoff", "500ms")
	v.SetDefault("download.max_backoff", "8s")
	v.SetDefault("download.timeout", "15s")
	v.SetDefault("download.max_bytes", 15<<20)
	v.SetDefault("semantic.provider", ProviderGemini)
	v.SetDefault("semantic.timeout", "30s")
	v.SetDefault("semantic.max_attempts", 3)
	v.SetDefault("semantic.initial_backoff", "1s")
	v.SetDefault("semantic.bypass_on_failure", false)
	v.SetDefault("structural.threshold", structural.DefaultThreshold)
	v.SetDefault("structural.white_level", structural.DefaultWhiteLevel)
	v.SetDefault("normalize.jpeg_quality", 90)
	v.SetDefault("normalize.software", "shoe-image-service")
	v.SetDefault("normalize.vision_max_dim", 1024)
	v.SetDefault("browser.enabled", true)
	v.SetDefault("browser.headless", true)
	v.SetDefault("browser.window_width", 1366)
	v.SetDefault("browser.window_height", 900)
	v.SetDefault("browser.op_timeout", "45s")
	v.SetDefault("browser.launch_timeout", "30s")
	v.SetDefault("sources.order", []string{SourceGoogleImages, SourceBing, SourceGoogleShopping})
	v.SetDefault("sources.query_suffix", "shoe white background")
	v.SetDefault("sources.max_candidates", 10)
	v.SetDefault("sources.search_timeout", "30s")
	v.SetDefault("sources.rate_per_second", 1.0)
	v.SetDefault("sources.burst", 2)
	v.SetDefault("cache.dir", "data/images")
	v.SetDefault("cache.index_file", cache.DefaultIndexFile)
	v.SetDefault("cache.debug_artifacts", false)
	v.SetDefault("workers.notify_timeout", "10s")
	v.SetDefault("db.table", "shoe_image_resolutions")

	// Keys without a useful default are registered so AutomaticEnv can
	// populate them during Unmarshal.
	for _, key := range []string{
		"download.user_agent",
		"semantic.api_key", "semantic.model", "semantic.base_url",
		"normalize.copyright", "normalize.artist",
		"browser.exec_path", "browser.remote_url", "browser.user_agent",
		"sources.bing_base_url", "sources.google_base_url",
		"gcs.bucket", "gcs.prefix",
		"pubsub.project_id", "pubsub.topic",
		"db.dsn",
	} {
		v.SetDefault(key, "")
	}
	v.SetDefault("normalize.seed", 0)
	v.SetDefault("workers.images", 0)
}

// Validate enforces required values and reasonable limits.
func (c Config) Validate() error {
	if c.Server.Port <= 0 {
		return fmt.Errorf("server.port must be > 0")
	}
	if c.Download.MaxAttempts <= 0 {
		return fmt.Errorf("download.max_attempts must be > 0")
	}
	if c.Semantic.MaxAttempts <= 0 {
		return fmt.Errorf("semantic.max_attempts must be > 0")
	}
	switch c.Semantic.Provider {
	case ProviderGemini, ProviderOpenAI:
		if c.Semantic.APIKey == "" {
			return fmt.Errorf("semantic.api_key must be set for provider %q", c.Semantic.Provider)
		}
	case ProviderNone:
	default:
		return fmt.Errorf("semantic.provider must be one of gemini, openai, none")
	}
	if c.Structural.Threshold <= 0 || c.Structural.Threshold > 1 {
		return fmt.Errorf("structural.threshold must be in (0, 1]")
	}
	if c.Normalize.JPEGQuality < 1 || c.Normalize.JPEGQuality > 100 {
		return fmt.Errorf("normalize.jpeg_quality must be between 1 and 100")
	}
	if strings.TrimSpace(c.Cache.Dir) == "" {
		return fmt.Errorf("cache.dir is required")
	}
	if len(c.Sources.Order) == 0 {
		return fmt.Errorf("sources.order must name at least one source")
	}
	for _, name := range c.Sources.Order {
		switch name {
		case SourceBing:
		case SourceGoogleImages, SourceGoogleShopping:
			if !c.Browser.Enabled {
				return fmt.Errorf("source %q requires browser.enabled", name)
			}
		default:
			return fmt.Errorf("unknown source %q in sources.order", name)
		}
	}
	if c.PubSub.Topic != "" && c.PubSub.ProjectID == "" {
		return fmt.Errorf("pubsub.project_id must be set when pubsub.topic is set")
	}
	return nil
}

// UsesBrowser reports whether any configured source drives the browser.
func (c Config) UsesBrowser() bool {
	return c.Browser.Enabled && (slices.Contains(c.Sources.Order, SourceGoogleImages) ||
		slices.Contains(c.Sources.Order, SourceGoogleShopping))
}
