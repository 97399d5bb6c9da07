package retrieval

import "context"

// ImageSource produces candidate image URLs for a model name from one
// retrieval channel, best candidates first. An empty result is not an error.
type ImageSource interface {
	Name() string
	Search(ctx context.Context, model string) ([]string, error)
}

// Downloader fetches the bytes behind a candidate URL in a single attempt.
type Downloader interface {
	Download(ctx context.Context, url string) ([]byte, error)
}

// StructuralValidator is the fast local check for a product-photo background.
type StructuralValidator interface {
	Validate(data []byte) bool
}

// SemanticValidator asks a vision model whether the image depicts model.
// A returned error is a call failure; a rejection is a verdict with
// VerdictRejectedSemantic and a nil error.
type SemanticValidator interface {
	Classify(ctx context.Context, data []byte, model string) (Verdict, error)
}

// Normalizer produces the final published bytes for an accepted candidate.
type Normalizer interface {
	Normalize(data []byte, verdict Verdict) ([]byte, error)
}

// Cache maps query keys to published artifacts.
type Cache interface {
	Lookup(model string) (string, bool)
	Store(ctx context.Context, model string, verdict Verdict, data []byte) (string, error)
	StoreIntermediate(model string, stage Stage, data []byte) string
}

// Notifier receives terminal results for auditing or fan-out.
type Notifier interface {
	Notify(ctx context.Context, result Result) error
}
