// Package browsersearch implements image sources that drive the shared
// Chrome session through a search results page and scrape image URLs out of
// the rendered document.
package browsersearch

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"time"

	"github.com/chromedp/cdproto/emulation"
	"github.com/chromedp/chromedp"
	"go.uber.org/zap"

	"github.com/JakeFAU/shoe-image-service/internal/browser"
	"github.com/JakeFAU/shoe-image-service/internal/retrieval"
	"github.com/JakeFAU/shoe-image-service/internal/source"
)

const settleDelay = 750 * time.Millisecond

// Runner executes one serialized browser operation.
type Runner interface {
	Do(ctx context.Context, op func(ctx context.Context) error) error
}

// Renderer loads pageURL in the browser context and returns the page HTML.
type Renderer func(ctx context.Context, pageURL string) (string, error)

// Recipe describes one search channel.
type Recipe struct {
	Name string
	// SearchURL builds the results page address for a query.
	SearchURL func(base, query string) string
	// Extract pulls candidate image URLs out of the rendered HTML, best first.
	Extract func(html string) []string
}

// Config controls a Source.
type Config struct {
	BaseURL     string
	QuerySuffix string
	UserAgent   string
	Timeout     time.Duration
}

// Source is a retrieval.ImageSource backed by the shared browser session.
type Source struct {
	recipe Recipe
	cfg    Config
	runner Runner
	render Renderer
	logger *zap.Logger
}

// Option customizes a Source.
type Option func(*Source)

// WithRenderer swaps the chromedp page loader.
func WithRenderer(r Renderer) Option {
	return func(s *Source) { s.render = r }
}

// New builds a Source for recipe.
func New(recipe Recipe, cfg Config, runner Runner, logger *zap.Logger, opts ...Option) *Source {
	if logger == nil {
		logger = zap.NewNop()
	}
	s := &Source{
		recipe: recipe,
		cfg:    cfg,
		runner: runner,
		logger: logger.Named(recipe.Name),
	}
	s.render = s.chromeRender
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Name implements retrieval.ImageSource.
func (s *Source) Name() string { return s.recipe.Name }

// Search implements retrieval.ImageSource. A session reset while queued is
// reported as an empty result.
func (s *Source) Search(ctx context.Context, model string) ([]string, error) {
	if s.cfg.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, s.cfg.Timeout)
		defer cancel()
	}
	pageURL := s.recipe.SearchURL(s.cfg.BaseURL, source.Query(model, s.cfg.QuerySuffix))

	var html string
	err := s.runner.Do(ctx, func(ctx context.Context) error {
		var err error
		html, err = s.render(ctx, pageURL)
		return err
	})
	if errors.Is(err, browser.ErrSessionReset) {
		s.logger.Info("browser reset while queued; no candidates this turn", zap.String("model", model))
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %w", retrieval.ErrSourceFault, s.recipe.Name, err)
	}
	urls := source.Dedupe(s.recipe.Extract(html))
	s.logger.Debug("search complete", zap.String("model", model), zap.Int("candidates", len(urls)))
	return urls, nil
}

func (s *Source) chromeRender(ctx context.Context, pageURL string) (string, error) {
	var html string
	actions := []chromedp.Action{
		chromedp.ActionFunc(func(ctx context.Context) error {
			if s.cfg.UserAgent == "" {
				return nil
			}
			if err := emulation.SetUserAgentOverride(s.cfg.UserAgent).Do(ctx); err != nil {
				return fmt.Errorf("set user-agent: %w", err)
			}
			return nil
		}),
		chromedp.Navigate(pageURL),
		chromedp.WaitReady("body", chromedp.ByQuery),
		chromedp.Sleep(settleDelay),
		chromedp.OuterHTML("html", &html, chromedp.ByQuery),
	}
	if err := chromedp.Run(ctx, actions...); err != nil {
		return "", fmt.Errorf("chromedp run: %w", err)
	}
	return html, nil
}

func withQuery(base, path string, params url.Values) string {
	return base + path + "?" + params.Encode()
}
