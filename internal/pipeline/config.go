package pipeline

import (
	"runtime"
	"time"
)

// Config holds the retry and resource knobs of the orchestrator.
type Config struct {
	DownloadAttempts   int
	DownloadBackoff    time.Duration
	DownloadMaxBackoff time.Duration

	SemanticAttempts int
	SemanticBackoff  time.Duration
	SemanticTimeout  time.Duration
	BypassOnFailure  bool

	// MaxCandidatesPerSource caps how many URLs are tried from one source.
	MaxCandidatesPerSource int
	// ValidatorMaxDim bounds the longer side of the buffer sent to the
	// semantic validator.
	ValidatorMaxDim int
	// ImageWorkers bounds concurrent decode/encode work across requests.
	ImageWorkers int
	// NotifyTimeout bounds each notifier call.
	NotifyTimeout time.Duration
}

// Defaults for unset fields.
const (
	DefaultDownloadAttempts = 3
	DefaultDownloadBackoff  = 500 * time.Millisecond
	DefaultSemanticAttempts = 3
	DefaultSemanticBackoff  = time.Second
	DefaultMaxCandidates    = 10
	DefaultValidatorMaxDim  = 1024
	DefaultNotifyTimeout    = 10 * time.Second
	backoffMultiplier       = 2
)

func (c Config) withDefaults() Config {
	if c.DownloadAttempts <= 0 {
		c.DownloadAttempts = DefaultDownloadAttempts
	}
	if c.DownloadBackoff < 0 {
		c.DownloadBackoff = 0
	} else if c.DownloadBackoff == 0 {
		c.DownloadBackoff = DefaultDownloadBackoff
	}
	if c.SemanticAttempts <= 0 {
		c.SemanticAttempts = DefaultSemanticAttempts
	}
	if c.SemanticBackoff < 0 {
		c.SemanticBackoff = 0
	} else if c.SemanticBackoff == 0 {
		c.SemanticBackoff = DefaultSemanticBackoff
	}
	if c.MaxCandidatesPerSource <= 0 {
		c.MaxCandidatesPerSource = DefaultMaxCandidates
	}
	if c.ValidatorMaxDim <= 0 {
		c.ValidatorMaxDim = DefaultValidatorMaxDim
	}
	if c.ImageWorkers <= 0 {
		c.ImageWorkers = runtime.GOMAXPROCS(0)
	}
	if c.NotifyTimeout <= 0 {
		c.NotifyTimeout = DefaultNotifyTimeout
	}
	return c
}
