package pipeline

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/semaphore"

	"github.com/JakeFAU/shoe-image-service/internal/imaging"
	"github.com/JakeFAU/shoe-image-service/internal/metrics"
	"github.com/JakeFAU/shoe-image-service/internal/retrieval"
	"github.com/JakeFAU/shoe-image-service/internal/retry"
	"github.com/JakeFAU/shoe-image-service/internal/semantic"
)

// Candidate stage labels used in logs and metrics.
const (
	stageDownloadFailed = "download_failed"
	stageProcessing     = "processing_failed"
	stageUnavailable    = "semantic_unavailable"
	stageCached         = "cached"
)

// Deps are the collaborators the orchestrator composes.
type Deps struct {
	Sources    []retrieval.ImageSource
	Downloader retrieval.Downloader
	Structural retrieval.StructuralValidator
	Semantic   retrieval.SemanticValidator
	Normalizer retrieval.Normalizer
	Cache      retrieval.Cache
	Notifiers  []retrieval.Notifier
}

// Option customizes an Orchestrator.
type Option func(*Orchestrator)

// WithLogger sets the logger.
func WithLogger(l *zap.Logger) Option {
	return func(o *Orchestrator) {
		if l != nil {
			o.logger = l
		}
	}
}

// WithSleep replaces the backoff sleeper used by both retry loops.
func WithSleep(sleep func(ctx context.Context, d time.Duration) error) Option {
	return func(o *Orchestrator) { o.sleep = sleep }
}

// Orchestrator implements the resolve policy.
type Orchestrator struct {
	cfg  Config
	deps Deps

	logger *zap.Logger
	sleep  func(ctx context.Context, d time.Duration) error
	pool   *semaphore.Weighted

	notifyWG sync.WaitGroup
}

// New validates deps and builds an Orchestrator.
func New(cfg Config, deps Deps, opts ...Option) (*Orchestrator, error) {
	switch {
	case deps.Downloader == nil:
		return nil, errors.New("pipeline: downloader is required")
	case deps.Structural == nil:
		return nil, errors.New("pipeline: structural validator is required")
	case deps.Semantic == nil:
		return nil, errors.New("pipeline: semantic validator is required")
	case deps.Normalizer == nil:
		return nil, errors.New("pipeline: normalizer is required")
	case deps.Cache == nil:
		return nil, errors.New("pipeline: cache is required")
	}
	cfg = cfg.withDefaults()
	if cfg.SemanticTimeout > 0 {
		deps.Semantic = semantic.NewBounded(deps.Semantic, cfg.SemanticTimeout)
	}
	metrics.Init()
	o := &Orchestrator{
		cfg:    cfg,
		deps:   deps,
		logger: zap.NewNop(),
		pool:   semaphore.NewWeighted(int64(cfg.ImageWorkers)),
	}
	for _, opt := range opts {
		opt(o)
	}
	o.logger = o.logger.Named("pipeline")
	return o, nil
}

// SourceNames lists the configured sources in priority order.
func (o *Orchestrator) SourceNames() []string {
	names := make([]string, 0, len(o.deps.Sources))
	for _, s := range o.deps.Sources {
		names = append(names, s.Name())
	}
	return names
}

// Resolve turns a model name into a cached artifact or a not-found outcome.
// Candidate-level faults never abort the call.
func (o *Orchestrator) Resolve(ctx context.Context, model string) (res retrieval.Result) {
	start := time.Now()
	query := strings.TrimSpace(model)
	res = retrieval.Result{Query: query, Key: retrieval.NormalizeKey(query), Model: query}
	logger := o.logger.With(zap.String("model", query), zap.String("key", res.Key))

	defer func() {
		res.Duration = time.Since(start)
		metrics.ObserveResolution(string(res.Outcome), res.Source, res.Duration)
		logger.Info("resolve finished",
			zap.String("outcome", string(res.Outcome)),
			zap.String("source", res.Source),
			zap.String("artifact", res.ArtifactPath),
			zap.Int("candidates", res.Attempts),
			zap.Duration("elapsed", res.Duration),
			zap.Error(res.Err))
		o.notify(ctx, res)
	}()

	if res.Key == "" {
		res.Outcome = retrieval.OutcomeInvalid
		res.Err = retrieval.ErrInvalidQuery
		return res
	}

	if path, ok := o.deps.Cache.Lookup(query); ok {
		metrics.ObserveCacheLookup(true)
		res.Success = true
		res.Outcome = retrieval.OutcomeSuccess
		res.Source = retrieval.SourceCache
		res.ArtifactPath = path
		return res
	}
	metrics.ObserveCacheLookup(false)

	seen := make(map[string]struct{})
	var lastErr error
	for _, src := range o.deps.Sources {
		if ctx.Err() != nil {
			break
		}
		urls, err := src.Search(ctx, query)
		if err != nil {
			metrics.ObserveSourceSearch(src.Name(), "error")
			logger.Warn("image source failed", zap.String("source", src.Name()), zap.Error(err))
			lastErr = err
			continue
		}
		if len(urls) == 0 {
			metrics.ObserveSourceSearch(src.Name(), "empty")
			logger.Info("image source returned no candidates", zap.String("source", src.Name()))
			continue
		}
		metrics.ObserveSourceSearch(src.Name(), "ok")

		tried := 0
		for _, u := range urls {
			if tried >= o.cfg.MaxCandidatesPerSource || ctx.Err() != nil {
				break
			}
			if _, dup := seen[u]; dup {
				continue
			}
			seen[u] = struct{}{}
			tried++
			res.Attempts++

			err := o.tryCandidate(ctx, src.Name(), u, &res)
			if err == nil {
				return res
			}
			lastErr = err
			logger.Info("candidate rejected",
				zap.String("source", src.Name()),
				zap.String("url", u),
				zap.Error(err))
		}
	}

	res.Outcome = retrieval.OutcomeNotFound
	switch {
	case ctx.Err() != nil:
		res.Err = fmt.Errorf("%w: %w", retrieval.ErrNotFound, ctx.Err())
	case lastErr != nil:
		res.Err = fmt.Errorf("%w (last failure: %v)", retrieval.ErrNotFound, lastErr)
	default:
		res.Err = retrieval.ErrNotFound
	}
	return res
}

// tryCandidate runs download, structural, semantic, normalize, and store for
// one URL. Diagnostics are recorded on res as stages complete.
func (o *Orchestrator) tryCandidate(ctx context.Context, sourceName, url string, res *retrieval.Result) error {
	query := res.Query
	res.OriginalURL = url
	res.Artifacts = retrieval.Artifacts{}
	res.ValidationStatus = ""
	res.Verdict = nil
	cache := o.deps.Cache

	data, err := o.download(ctx, url)
	if err != nil {
		metrics.ObserveCandidate(sourceName, stageDownloadFailed)
		return err
	}
	res.Artifacts.Set(retrieval.StageRaw, cache.StoreIntermediate(query, retrieval.StageRaw, data))

	var structuralOK bool
	if err := o.runImage(ctx, func() error {
		structuralOK = o.deps.Structural.Validate(data)
		return nil
	}); err != nil {
		return err
	}
	if !structuralOK {
		res.ValidationStatus = retrieval.VerdictRejectedStructural
		res.Artifacts.Set(retrieval.StageRejected, cache.StoreIntermediate(query, retrieval.StageRejected, data))
		metrics.ObserveCandidate(sourceName, string(retrieval.VerdictRejectedStructural))
		return retrieval.ErrStructuralRejection
	}

	input := o.validatorInput(ctx, data)
	res.Artifacts.Set(retrieval.StageValidatorInput, cache.StoreIntermediate(query, retrieval.StageValidatorInput, input))

	verdict, err := o.classify(ctx, input, query)
	if err != nil {
		metrics.ObserveCandidate(sourceName, stageUnavailable)
		return err
	}
	res.ValidationStatus = verdict.Status
	if !verdict.Accepted() {
		res.Artifacts.Set(retrieval.StageRejected, cache.StoreIntermediate(query, retrieval.StageRejected, data))
		metrics.ObserveCandidate(sourceName, string(verdict.Status))
		return retrieval.ErrSemanticRejection
	}
	res.Verdict = &verdict
	res.Artifacts.Set(retrieval.StageApprovedRaw, cache.StoreIntermediate(query, retrieval.StageApprovedRaw, data))

	var final []byte
	if err := o.runImage(ctx, func() error {
		var nerr error
		final, nerr = o.deps.Normalizer.Normalize(data, verdict)
		return nerr
	}); err != nil {
		metrics.ObserveCandidate(sourceName, stageProcessing)
		return fmt.Errorf("%w: normalize: %w", retrieval.ErrProcessingFault, err)
	}
	path, err := cache.Store(ctx, query, verdict, final)
	if err != nil {
		metrics.ObserveCandidate(sourceName, stageProcessing)
		return fmt.Errorf("%w: cache store: %w", retrieval.ErrProcessingFault, err)
	}

	metrics.ObserveCandidate(sourceName, stageCached)
	res.Success = true
	res.Outcome = retrieval.OutcomeSuccess
	res.Source = sourceName
	res.ArtifactPath = path
	if label := verdict.Label(); label != "" {
		res.Model = label
	}
	res.Err = nil
	return nil
}

// download retries only transient network faults.
func (o *Orchestrator) download(ctx context.Context, url string) ([]byte, error) {
	policy := retry.Policy{
		MaxAttempts:  o.cfg.DownloadAttempts,
		InitialDelay: o.cfg.DownloadBackoff,
		Multiplier:   backoffMultiplier,
		MaxDelay:     o.cfg.DownloadMaxBackoff,
		Retryable:    retrieval.IsTransient,
		Sleep:        o.sleep,
		OnRetry: func(attempt int, delay time.Duration, err error) {
			metrics.ObserveRetry("download")
			o.logger.Debug("retrying download",
				zap.String("url", url),
				zap.Int("attempt", attempt),
				zap.Duration("backoff", delay),
				zap.Error(err))
		},
	}
	return retry.DoValue(ctx, policy, func(ctx context.Context) ([]byte, error) {
		return o.deps.Downloader.Download(ctx, url)
	})
}

// classify retries call failures; an explicit rejection ends the loop at
// once. Exhausted failures become a bypass verdict when configured.
func (o *Orchestrator) classify(ctx context.Context, input []byte, query string) (retrieval.Verdict, error) {
	policy := retry.Policy{
		MaxAttempts:  o.cfg.SemanticAttempts,
		InitialDelay: o.cfg.SemanticBackoff,
		Multiplier:   backoffMultiplier,
		Sleep:        o.sleep,
		OnRetry: func(attempt int, delay time.Duration, err error) {
			metrics.ObserveRetry("semantic")
			o.logger.Debug("retrying semantic validation",
				zap.String("model", query),
				zap.Int("attempt", attempt),
				zap.Duration("backoff", delay),
				zap.Error(err))
		},
	}
	verdict, err := retry.DoValue(ctx, policy, func(ctx context.Context) (retrieval.Verdict, error) {
		return o.deps.Semantic.Classify(ctx, input, query)
	})
	if err == nil {
		metrics.ObserveSemanticVerdict(string(verdict.Status))
		return verdict, nil
	}
	if ctx.Err() != nil {
		return retrieval.Verdict{}, ctx.Err()
	}
	if o.cfg.BypassOnFailure {
		o.logger.Warn("semantic validation unavailable; bypassing", zap.String("model", query), zap.Error(err))
		v := retrieval.BypassVerdict(query)
		metrics.ObserveSemanticVerdict(string(v.Status))
		return v, nil
	}
	return retrieval.Verdict{}, fmt.Errorf("%w: %w", retrieval.ErrSemanticUnavailable, err)
}

// validatorInput downsizes large images before they are sent to the model.
// Failures fall back to the raw bytes.
func (o *Orchestrator) validatorInput(ctx context.Context, data []byte) []byte {
	var out []byte
	err := o.runImage(ctx, func() error {
		var terr error
		out, terr = imaging.Thumbnail(data, o.cfg.ValidatorMaxDim, imaging.DefaultJPEGQuality)
		return terr
	})
	if err != nil || len(out) == 0 {
		o.logger.Debug("validator input falls back to raw bytes", zap.Error(err))
		return data
	}
	return out
}

// runImage executes CPU-bound image work on the bounded worker pool.
func (o *Orchestrator) runImage(ctx context.Context, fn func() error) error {
	if err := o.pool.Acquire(ctx, 1); err != nil {
		return fmt.Errorf("image worker wait: %w", err)
	}
	metrics.IncImageWorkers()
	defer func() {
		metrics.DecImageWorkers()
		o.pool.Release(1)
	}()
	return fn()
}

// notify fans the terminal result out to every notifier in the background.
func (o *Orchestrator) notify(ctx context.Context, res retrieval.Result) {
	if len(o.deps.Notifiers) == 0 {
		return
	}
	base := context.WithoutCancel(ctx)
	for _, n := range o.deps.Notifiers {
		o.notifyWG.Add(1)
		go func(n retrieval.Notifier) {
			defer o.notifyWG.Done()
			nctx, cancel := context.WithTimeout(base, o.cfg.NotifyTimeout)
			defer cancel()
			if err := n.Notify(nctx, res); err != nil {
				o.logger.Warn("result notifier failed", zap.String("model", res.Query), zap.Error(err))
			}
		}(n)
	}
}

// Wait blocks until in-flight notifications finish.
func (o *Orchestrator) Wait() {
	o.notifyWG.Wait()
}
