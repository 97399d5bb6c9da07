// Package app builds and holds the long-lived services of the shoe image
// service, acting as its dependency injection container.
package app

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"cloud.google.com/go/storage"
	"go.uber.org/zap"

	"github.com/JakeFAU/shoe-image-service/internal/api"
	"github.com/JakeFAU/shoe-image-service/internal/browser"
	"github.com/JakeFAU/shoe-image-service/internal/cache"
	"github.com/JakeFAU/shoe-image-service/internal/config"
	"github.com/JakeFAU/shoe-image-service/internal/download"
	"github.com/JakeFAU/shoe-image-service/internal/normalize"
	"github.com/JakeFAU/shoe-image-service/internal/notify/postgres"
	notifypubsub "github.com/JakeFAU/shoe-image-service/internal/notify/pubsub"
	"github.com/JakeFAU/shoe-image-service/internal/pipeline"
	"github.com/JakeFAU/shoe-image-service/internal/retrieval"
	"github.com/JakeFAU/shoe-image-service/internal/semantic"
	"github.com/JakeFAU/shoe-image-service/internal/source"
	"github.com/JakeFAU/shoe-image-service/internal/source/bing"
	"github.com/JakeFAU/shoe-image-service/internal/source/browsersearch"
	"github.com/JakeFAU/shoe-image-service/internal/storage/gcs"
	"github.com/JakeFAU/shoe-image-service/internal/structural"
)

// App contains the application's dependencies.
type App struct {
	cfg          config.Config
	logger       *zap.Logger
	cache        *cache.Cache
	orchestrator *pipeline.Orchestrator
	apiServer    *api.Server
	session      *browser.Session
	storage      *storage.Client
	publisher    *notifypubsub.Publisher
	auditStore   *postgres.AuditStore
}

// Build creates the application's dependencies. On error every resource
// acquired so far is released.
func Build(ctx context.Context, cfg config.Config, logger *zap.Logger) (_ *App, err error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	a := &App{cfg: cfg, logger: logger}
	defer func() {
		if err != nil {
			a.closeInfrastructure()
		}
	}()

	a.logger.Info("building application dependencies",
		zap.Int("server_port", cfg.Server.Port),
		zap.Strings("sources", cfg.Sources.Order),
		zap.String("semantic_provider", cfg.Semantic.Provider),
	)

	mirror, err := a.setupStorage(ctx)
	if err != nil {
		return nil, err
	}
	var cacheOpts []cache.Option
	if mirror != nil {
		cacheOpts = append(cacheOpts, cache.WithMirror(mirror))
	}
	a.cache, err = cache.New(cfg.Cache, logger, cacheOpts...)
	if err != nil {
		return nil, fmt.Errorf("cache init failed: %w", err)
	}

	sources, err := a.setupSources()
	if err != nil {
		return nil, err
	}
	classifier, err := a.setupSemantic(ctx)
	if err != nil {
		return nil, err
	}
	notifiers, err := a.setupNotifiers(ctx)
	if err != nil {
		return nil, err
	}

	a.orchestrator, err = pipeline.New(pipelineConfig(cfg), pipeline.Deps{
		Sources: sources,
		Downloader: download.New(download.Config{
			Timeout:   cfg.Download.Timeout,
			UserAgent: cfg.Download.UserAgent,
			MaxBytes:  cfg.Download.MaxBytes,
		}, logger),
		Structural: structural.New(cfg.Structural, logger),
		Semantic:   classifier,
		Normalizer: normalize.New(normalize.Config{
			Seed:        cfg.Normalize.Seed,
			JPEGQuality: cfg.Normalize.JPEGQuality,
			Copyright:   cfg.Normalize.Copyright,
			Artist:      cfg.Normalize.Artist,
			Software:    cfg.Normalize.Software,
		}, logger),
		Cache:     a.cache,
		Notifiers: notifiers,
	}, pipeline.WithLogger(logger))
	if err != nil {
		return nil, fmt.Errorf("pipeline init failed: %w", err)
	}

	a.apiServer = api.NewServer(a.orchestrator, func(context.Context) error {
		return a.cache.Ready()
	}, api.Config{
		RequestTimeout: cfg.Server.RequestTimeout,
		StaticPrefix:   cfg.Server.StaticPrefix,
		StaticDir:      a.cache.Dir(),
	}, logger)

	a.logger.Info("application built", zap.Strings("sources", a.orchestrator.SourceNames()))
	return a, nil
}

func pipelineConfig(cfg config.Config) pipeline.Config {
	return pipeline.Config{
		DownloadAttempts:       cfg.Download.MaxAttempts,
		DownloadBackoff:        cfg.Download.InitialBackoff,
		DownloadMaxBackoff:     cfg.Download.MaxBackoff,
		SemanticAttempts:       cfg.Semantic.MaxAttempts,
		SemanticBackoff:        cfg.Semantic.InitialBackoff,
		SemanticTimeout:        cfg.Semantic.Timeout,
		BypassOnFailure:        cfg.Semantic.BypassOnFailure,
		MaxCandidatesPerSource: cfg.Sources.MaxCandidates,
		ValidatorMaxDim:        cfg.Normalize.VisionMaxDim,
		ImageWorkers:           cfg.Workers.Images,
		NotifyTimeout:          cfg.Workers.NotifyTimeout,
	}
}

func (a *App) setupStorage(ctx context.Context) (cache.Mirror, error) {
	if a.cfg.GCS.Bucket == "" {
		a.logger.Info("no GCS bucket configured, artifacts stay local only")
		return nil, nil
	}
	var err error
	a.storage, err = storage.NewClient(ctx)
	if err != nil {
		return nil, fmt.Errorf("gcs client init failed: %w", err)
	}
	mirror, err := gcs.New(a.storage, a.cfg.GCS)
	if err != nil {
		return nil, fmt.Errorf("gcs mirror init failed: %w", err)
	}
	a.logger.Info("mirroring artifacts to GCS",
		zap.String("bucket", a.cfg.GCS.Bucket),
		zap.String("prefix", a.cfg.GCS.Prefix),
	)
	return mirror, nil
}

func (a *App) setupSources() ([]retrieval.ImageSource, error) {
	cfg := a.cfg
	if cfg.UsesBrowser() {
		a.session = browser.NewSession(browser.ChromeLauncher(cfg.Browser), cfg.Browser.OpTimeout, a.logger)
	}
	sources := make([]retrieval.ImageSource, 0, len(cfg.Sources.Order))
	for _, name := range cfg.Sources.Order {
		var src retrieval.ImageSource
		switch name {
		case config.SourceBing:
			src = bing.New(bing.Config{
				BaseURL:     cfg.Sources.BingBaseURL,
				QuerySuffix: cfg.Sources.QuerySuffix,
				UserAgent:   cfg.Download.UserAgent,
				Timeout:     cfg.Sources.SearchTimeout,
			}, a.logger)
		case config.SourceGoogleImages, config.SourceGoogleShopping:
			if a.session == nil {
				return nil, fmt.Errorf("source %q requires the browser session", name)
			}
			recipe := browsersearch.GoogleImages()
			if name == config.SourceGoogleShopping {
				recipe = browsersearch.GoogleShopping()
			}
			src = browsersearch.New(recipe, browsersearch.Config{
				BaseURL:     cfg.Sources.GoogleBaseURL,
				QuerySuffix: cfg.Sources.QuerySuffix,
				UserAgent:   cfg.Browser.UserAgent,
				Timeout:     cfg.Sources.SearchTimeout,
			}, a.session, a.logger)
		default:
			return nil, fmt.Errorf("unknown source %q", name)
		}
		sources = append(sources, source.Throttle(src, cfg.Sources.RatePerSecond, cfg.Sources.Burst))
	}
	return sources, nil
}

func (a *App) setupSemantic(ctx context.Context) (retrieval.SemanticValidator, error) {
	sc := a.cfg.Semantic
	switch sc.Provider {
	case config.ProviderGemini:
		g, err := semantic.NewGemini(ctx, semantic.GeminiConfig{APIKey: sc.APIKey, Model: sc.Model, BaseURL: sc.BaseURL}, a.logger)
		if err != nil {
			return nil, fmt.Errorf("gemini init failed: %w", err)
		}
		return g, nil
	case config.ProviderOpenAI:
		o, err := semantic.NewOpenAI(semantic.OpenAIConfig{APIKey: sc.APIKey, Model: sc.Model, BaseURL: sc.BaseURL}, a.logger)
		if err != nil {
			return nil, fmt.Errorf("openai init failed: %w", err)
		}
		return o, nil
	default:
		a.logger.Warn("no semantic validator configured",
			zap.Bool("bypass_on_failure", sc.BypassOnFailure),
		)
		return semantic.Unavailable{}, nil
	}
}

func (a *App) setupNotifiers(ctx context.Context) ([]retrieval.Notifier, error) {
	var notifiers []retrieval.Notifier
	if a.cfg.PubSub.Topic != "" {
		var err error
		a.publisher, err = notifypubsub.New(ctx, a.cfg.PubSub)
		if err != nil {
			return nil, fmt.Errorf("pubsub publisher init failed: %w", err)
		}
		notifiers = append(notifiers, a.publisher)
		a.logger.Info("Pub/Sub publisher initialized",
			zap.String("project", a.cfg.PubSub.ProjectID),
			zap.String("topic", a.cfg.PubSub.Topic),
		)
	}
	if a.cfg.DB.DSN != "" {
		var err error
		a.auditStore, err = postgres.New(ctx, a.cfg.DB)
		if err != nil {
			return nil, fmt.Errorf("audit store init failed: %w", err)
		}
		notifiers = append(notifiers, a.auditStore)
		a.logger.Info("audit store initialized", zap.String("table", a.cfg.DB.Table))
	}
	return notifiers, nil
}

// Resolve runs one pipeline resolution.
func (a *App) Resolve(ctx context.Context, model string) retrieval.Result {
	return a.orchestrator.Resolve(ctx, model)
}

// Handler returns the HTTP handler.
func (a *App) Handler() http.Handler {
	return a.apiServer.Handler()
}

// Run serves HTTP until ctx is canceled, then shuts down gracefully.
func (a *App) Run(ctx context.Context) error {
	ctx, stop := context.WithCancel(ctx)
	defer stop()

	srv := &http.Server{
		Addr:              fmt.Sprintf(":%d", a.cfg.Server.Port),
		Handler:           a.Handler(),
		ReadHeaderTimeout: 5 * time.Second,
	}

	if a.session != nil {
		go func() {
			if err := a.session.Warm(ctx); err != nil {
				a.logger.Warn("browser warm-up failed, will retry on first search", zap.Error(err))
			}
		}()
	}

	serveErr := make(chan error, 1)
	go func() {
		a.logger.Info("http server started", zap.Int("port", a.cfg.Server.Port))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			a.logger.Error("http server error", zap.Error(err))
			serveErr <- err
			stop()
		}
	}()

	<-ctx.Done()
	a.logger.Info("shutdown initiated")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		a.logger.Error("server shutdown error", zap.Error(err))
	}
	a.Close()

	select {
	case err := <-serveErr:
		return fmt.Errorf("http server: %w", err)
	default:
		return nil
	}
}

// Close waits for pending notifications and releases every resource.
func (a *App) Close() {
	if a.orchestrator != nil {
		a.orchestrator.Wait()
	}
	a.closeInfrastructure()
	a.logger.Info("shutdown complete")
}

func (a *App) closeInfrastructure() {
	if a.session != nil {
		a.session.Close()
		a.session = nil
	}
	if a.publisher != nil {
		if err := a.publisher.Close(); err != nil {
			a.logger.Warn("pubsub publisher close failed", zap.Error(err))
		}
		a.publisher = nil
	}
	if a.auditStore != nil {
		a.auditStore.Close()
		a.auditStore = nil
	}
	if a.storage != nil {
		if err := a.storage.Close(); err != nil {
			a.logger.Warn("gcs client close failed", zap.Error(err))
		}
		a.storage = nil
	}
}
