package semantic

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/JakeFAU/shoe-image-service/internal/retrieval"
)

// ErrTimeout marks a classification call that exceeded its hard deadline.
var ErrTimeout = errors.New("semantic classification timed out")

// Bounded enforces a hard per-call deadline on a classifier, independent of
// any retry timer. A call that overruns is abandoned and reported as a
// failure even if the backend ignores context cancellation.
type Bounded struct {
	inner   retrieval.SemanticValidator
	timeout time.Duration
}

// NewBounded wraps inner; a non-positive timeout disables the bound.
func NewBounded(inner retrieval.SemanticValidator, timeout time.Duration) *Bounded {
	return &Bounded{inner: inner, timeout: timeout}
}

type classifyResult struct {
	verdict retrieval.Verdict
	err     error
}

// Classify implements retrieval.SemanticValidator.
func (b *Bounded) Classify(ctx context.Context, data []byte, model string) (retrieval.Verdict, error) {
	if b.timeout <= 0 {
		return b.inner.Classify(ctx, data, model)
	}
	callCtx, cancel := context.WithTimeout(ctx, b.timeout)
	defer cancel()

	done := make(chan classifyResult, 1)
	go func() {
		v, err := b.inner.Classify(callCtx, data, model)
		done <- classifyResult{verdict: v, err: err}
	}()

	select {
	case res := <-done:
		if res.err != nil && ctx.Err() == nil && errors.Is(callCtx.Err(), context.DeadlineExceeded) {
			return retrieval.Verdict{}, fmt.Errorf("%w after %s: %v", ErrTimeout, b.timeout, res.err)
		}
		return res.verdict, res.err
	case <-callCtx.Done():
		if ctx.Err() != nil {
			return retrieval.Verdict{}, ctx.Err()
		}
		return retrieval.Verdict{}, fmt.Errorf("%w after %s", ErrTimeout, b.timeout)
	}
}

// Unavailable is the classifier used when no backend is configured; every
// call fails, which routes candidates through the bypass policy.
type Unavailable struct{}

// Classify implements retrieval.SemanticValidator.
func (Unavailable) Classify(context.Context, []byte, string) (retrieval.Verdict, error) {
	return retrieval.Verdict{}, fmt.Errorf("no semantic backend configured: %w", retrieval.ErrSemanticUnavailable)
}
