package retrieval

import "errors"

// Error taxonomy. Faults local to one candidate never abort a resolve call;
// only exhaustion of every candidate becomes ErrNotFound.
var (
	// ErrInvalidQuery rejects an empty or unusable model name.
	ErrInvalidQuery = errors.New("invalid model query")
	// ErrTransientNetwork marks download faults worth retrying.
	ErrTransientNetwork = errors.New("transient network failure")
	// ErrNotImage marks a successful download whose body is not an image.
	ErrNotImage = errors.New("downloaded content is not an image")
	// ErrStructuralRejection marks a candidate failing the border heuristic.
	ErrStructuralRejection = errors.New("structural validation rejected image")
	// ErrSemanticRejection marks a candidate the vision model did not approve.
	ErrSemanticRejection = errors.New("semantic validation rejected image")
	// ErrSemanticUnavailable marks exhausted semantic retries without bypass.
	ErrSemanticUnavailable = errors.New("semantic validation unavailable")
	// ErrProcessingFault marks normalization or cache-write failures.
	ErrProcessingFault = errors.New("image processing failed")
	// ErrSourceFault marks an image source that could not produce candidates.
	ErrSourceFault = errors.New("image source failed")
	// ErrNotFound is the expected terminal outcome when nothing survived.
	ErrNotFound = errors.New("no suitable image found")
)

// IsTransient reports whether err should be retried at the download level.
func IsTransient(err error) bool {
	return errors.Is(err, ErrTransientNetwork)
}
