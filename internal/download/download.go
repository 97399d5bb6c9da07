// Package download fetches candidate image bytes with a single-attempt colly
// collector. Retrying is the caller's job; this package only classifies
// failures as transient or not.
package download

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"net/url"
	"time"

	"github.com/gocolly/colly/v2"
	"go.uber.org/zap"

	"github.com/JakeFAU/shoe-image-service/internal/imaging"
	"github.com/JakeFAU/shoe-image-service/internal/retrieval"
)

// Defaults applied when Config leaves a field empty.
const (
	DefaultTimeout   = 15 * time.Second
	DefaultMaxBytes  = 15 << 20
	DefaultUserAgent = "Mozilla/5.0 (X11; Linux x86_64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/126.0 Safari/537.36"
	acceptHeader     = "image/avif,image/webp,image/apng,image/*,*/*;q=0.8"
)

// ErrTooLarge marks a body above the configured limit. It is not transient.
var ErrTooLarge = errors.New("image body exceeds size limit")

// Config controls the collector.
type Config struct {
	Timeout   time.Duration `mapstructure:"timeout"`
	UserAgent string        `mapstructure:"user_agent"`
	MaxBytes  int           `mapstructure:"max_bytes"`
}

// Downloader implements retrieval.Downloader.
type Downloader struct {
	cfg    Config
	base   *colly.Collector
	logger *zap.Logger
}

// New builds a Downloader.
func New(cfg Config, logger *zap.Logger) *Downloader {
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = DefaultTimeout
	}
	if cfg.MaxBytes <= 0 {
		cfg.MaxBytes = DefaultMaxBytes
	}
	if cfg.UserAgent == "" {
		cfg.UserAgent = DefaultUserAgent
	}
	c := colly.NewCollector(colly.Async(false))
	c.UserAgent = cfg.UserAgent
	c.IgnoreRobotsTxt = true
	c.AllowURLRevisit = true
	c.ParseHTTPErrorResponse = true
	// One byte over the limit lets Download tell "exactly max" from "truncated".
	c.MaxBodySize = cfg.MaxBytes + 1
	c.WithTransport(newHTTPTransport())
	c.SetRequestTimeout(cfg.Timeout)
	return &Downloader{cfg: cfg, base: c, logger: logger.Named("download")}
}

// Download performs one GET of rawURL.
func (d *Downloader) Download(ctx context.Context, rawURL string) ([]byte, error) {
	u, err := url.Parse(rawURL)
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return nil, fmt.Errorf("unsupported candidate url %q", rawURL)
	}

	var (
		body     []byte
		status   int
		fetchErr error
	)
	collector := d.base.Clone()
	collector.OnRequest(func(r *colly.Request) {
		r.Headers.Set("Accept", acceptHeader)
	})
	collector.OnResponse(func(r *colly.Response) {
		status = r.StatusCode
		body = append([]byte(nil), r.Body...)
	})
	collector.OnError(func(r *colly.Response, err error) {
		if r != nil {
			status = r.StatusCode
		}
		fetchErr = err
	})

	start := time.Now()
	done := make(chan error, 1)
	go func() {
		done <- collector.Visit(rawURL)
	}()
	select {
	case <-ctx.Done():
		return nil, fmt.Errorf("download canceled: %w", ctx.Err())
	case err := <-done:
		if err == nil {
			err = fetchErr
		}
		if err != nil {
			d.logger.Debug("download failed", zap.String("url", rawURL), zap.Int("status", status), zap.Error(err))
			return nil, classify(status, err)
		}
	}

	if status < 200 || status > 299 {
		return nil, fmt.Errorf("%w: status %d", retrieval.ErrTransientNetwork, status)
	}
	if len(body) > d.cfg.MaxBytes {
		return nil, fmt.Errorf("%w: more than %d bytes", ErrTooLarge, d.cfg.MaxBytes)
	}
	if !imaging.LooksLikeImage(body) {
		return nil, fmt.Errorf("%w: %s", retrieval.ErrNotImage, http.DetectContentType(body))
	}
	d.logger.Debug("download complete",
		zap.String("url", rawURL),
		zap.Int("bytes", len(body)),
		zap.Duration("elapsed", time.Since(start)))
	return body, nil
}

// classify maps collector failures onto the transient taxonomy: network
// errors, timeouts, and HTTP error statuses are all worth another attempt.
func classify(status int, err error) error {
	var netErr net.Error
	switch {
	case status >= 300:
		return fmt.Errorf("%w: status %d: %v", retrieval.ErrTransientNetwork, status, err)
	case errors.As(err, &netErr):
		return fmt.Errorf("%w: %v", retrieval.ErrTransientNetwork, err)
	case errors.Is(err, context.DeadlineExceeded):
		return fmt.Errorf("%w: %v", retrieval.ErrTransientNetwork, err)
	}
	var urlErr *url.Error
	if errors.As(err, &urlErr) {
		return fmt.Errorf("%w: %v", retrieval.ErrTransientNetwork, err)
	}
	return fmt.Errorf("download failed: %w", err)
}

func newHTTPTransport() *http.Transport {
	return &http.Transport{
		Proxy: http.ProxyFromEnvironment,
		DialContext: (&net.Dialer{
			Timeout:   10 * time.Second,
			KeepAlive: 30 * time.Second,
		}).DialContext,
		TLSHandshakeTimeout:   15 * time.Second,
		ExpectContinueTimeout: 1 * time.Second,
		MaxIdleConns:          100,
		IdleConnTimeout:       90 * time.Second,
	}
}
