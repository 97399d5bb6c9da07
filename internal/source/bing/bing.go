// Package bing scrapes Bing Images result pages with colly. It needs no
// browser: each result anchor carries its metadata as inline JSON.
package bing

import (
	"context"
	"encoding/json"
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/gocolly/colly/v2"
	"go.uber.org/zap"

	"github.com/JakeFAU/shoe-image-service/internal/retrieval"
	"github.com/JakeFAU/shoe-image-service/internal/source"
)

// Name is the source name reported in results.
const Name = "bing-images"

// DefaultBaseURL is the public Bing host.
const DefaultBaseURL = "https://www.bing.com"

// Config controls the scraper.
type Config struct {
	BaseURL     string
	QuerySuffix string
	UserAgent   string
	Timeout     time.Duration
}

// Source implements retrieval.ImageSource.
type Source struct {
	cfg    Config
	base   *colly.Collector
	logger *zap.Logger
}

type anchorMeta struct {
	MediaURL string `json:"murl"`
}

// New builds a Bing Images source.
func New(cfg Config, logger *zap.Logger) *Source {
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.BaseURL == "" {
		cfg.BaseURL = DefaultBaseURL
	}
	cfg.BaseURL = strings.TrimRight(cfg.BaseURL, "/")
	if cfg.Timeout <= 0 {
		cfg.Timeout = 20 * time.Second
	}
	c := colly.NewCollector(colly.Async(false))
	if cfg.UserAgent != "" {
		c.UserAgent = cfg.UserAgent
	}
	c.IgnoreRobotsTxt = true
	c.AllowURLRevisit = true
	c.SetRequestTimeout(cfg.Timeout)
	return &Source{cfg: cfg, base: c, logger: logger.Named("bing")}
}

// Name implements retrieval.ImageSource.
func (s *Source) Name() string { return Name }

// SearchURL returns the results page address for query.
func (s *Source) SearchURL(query string) string {
	params := url.Values{"q": {query}, "form": {"HDRSC2"}, "first": {"1"}}
	return s.cfg.BaseURL + "/images/search?" + params.Encode()
}

// Search implements retrieval.ImageSource.
func (s *Source) Search(ctx context.Context, model string) ([]string, error) {
	var (
		urls     []string
		fetchErr error
	)
	collector := s.base.Clone()
	collector.OnHTML("a.iusc", func(e *colly.HTMLElement) {
		raw := e.Attr("m")
		if raw == "" {
			return
		}
		var meta anchorMeta
		if err := json.Unmarshal([]byte(raw), &meta); err != nil {
			s.logger.Debug("skipping malformed result metadata", zap.Error(err))
			return
		}
		if meta.MediaURL != "" {
			urls = append(urls, meta.MediaURL)
		}
	})
	collector.OnError(func(_ *colly.Response, err error) {
		fetchErr = err
	})

	done := make(chan error, 1)
	go func() {
		done <- collector.Visit(s.SearchURL(source.Query(model, s.cfg.QuerySuffix)))
	}()
	select {
	case <-ctx.Done():
		return nil, fmt.Errorf("%w: bing search canceled: %w", retrieval.ErrSourceFault, ctx.Err())
	case err := <-done:
		if err == nil {
			err = fetchErr
		}
		if err != nil {
			return nil, fmt.Errorf("%w: bing search: %w", retrieval.ErrSourceFault, err)
		}
	}
	urls = source.Dedupe(urls)
	s.logger.Debug("search complete", zap.String("model", model), zap.Int("candidates", len(urls)))
	return urls, nil
}
