// Package source holds helpers shared by the image source implementations.
package source

import (
	"context"
	"fmt"
	"strings"

	"golang.org/x/time/rate"

	"github.com/JakeFAU/shoe-image-service/internal/retrieval"
)

// Query joins the model name with an optional search suffix such as
// "shoe product photo white background".
func Query(model, suffix string) string {
	model = strings.TrimSpace(model)
	suffix = strings.TrimSpace(suffix)
	if suffix == "" {
		return model
	}
	return model + " " + suffix
}

// Throttled limits how often the wrapped source is queried.
type Throttled struct {
	inner   retrieval.ImageSource
	limiter *rate.Limiter
}

// Throttle wraps src with a token bucket of perSecond requests. A
// non-positive rate returns src unchanged.
func Throttle(src retrieval.ImageSource, perSecond float64, burst int) retrieval.ImageSource {
	if perSecond <= 0 {
		return src
	}
	if burst < 1 {
		burst = 1
	}
	return &Throttled{inner: src, limiter: rate.NewLimiter(rate.Limit(perSecond), burst)}
}

// Name implements retrieval.ImageSource.
func (t *Throttled) Name() string { return t.inner.Name() }

// Search implements retrieval.ImageSource.
func (t *Throttled) Search(ctx context.Context, model string) ([]string, error) {
	if err := t.limiter.Wait(ctx); err != nil {
		return nil, fmt.Errorf("%s throttle: %w", t.inner.Name(), err)
	}
	return t.inner.Search(ctx, model)
}

// Dedupe drops repeated and empty URLs, keeping first occurrences in order.
func Dedupe(urls []string) []string {
	seen := make(map[string]struct{}, len(urls))
	out := make([]string, 0, len(urls))
	for _, u := range urls {
		u = strings.TrimSpace(u)
		if u == "" {
			continue
		}
		if _, ok := seen[u]; ok {
			continue
		}
		seen[u] = struct{}{}
		out = append(out, u)
	}
	return out
}
