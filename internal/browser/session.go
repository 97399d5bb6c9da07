// Package browser owns the process-wide Chrome session used by the
// browser-driven image sources.
//
// The session is launched lazily on first use, every page interaction runs
// alone behind a one-slot gate, and an unrecoverable fault tears the browser
// down so the next caller starts a fresh one.
package browser

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/chromedp/chromedp"
	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"
)

// DefaultOpTimeout bounds one logical browser operation.
const DefaultOpTimeout = 30 * time.Second

var (
	// ErrSessionReset is returned to callers that were queued on the gate
	// while the session was torn down. Sources treat it as an empty result.
	ErrSessionReset = errors.New("browser session was reset while waiting")
	// ErrBrowserFault lets operations flag an unrecoverable browser state.
	ErrBrowserFault = errors.New("browser fault")
	// ErrClosed is returned after Close.
	ErrClosed = errors.New("browser session closed")
)

// Launcher starts a browser and returns its root context. Cancelling the
// returned func must release every process the launcher started.
type Launcher func(ctx context.Context) (context.Context, context.CancelFunc, error)

type handle struct {
	ctx    context.Context
	cancel context.CancelFunc
}

// Session is the shared, serialized, self-healing browser handle.
type Session struct {
	launch    Launcher
	opTimeout time.Duration
	logger    *zap.Logger

	init singleflight.Group
	gate chan struct{}

	mu     sync.Mutex
	cur    *handle
	closed bool

	resets   atomic.Uint64
	launches atomic.Uint64
	waiting  atomic.Int32
}

// NewSession wires a Session around launch. Nothing starts until first use.
func NewSession(launch Launcher, opTimeout time.Duration, logger *zap.Logger) *Session {
	if logger == nil {
		logger = zap.NewNop()
	}
	if opTimeout <= 0 {
		opTimeout = DefaultOpTimeout
	}
	return &Session{
		launch:    launch,
		opTimeout: opTimeout,
		logger:    logger.Named("browser"),
		gate:      make(chan struct{}, 1),
	}
}

// Do runs op with exclusive use of the browser. The context handed to op is
// derived from the browser context and bounded by the operation timeout and
// by ctx.
func (s *Session) Do(ctx context.Context, op func(ctx context.Context) error) error {
	seen := s.resets.Load()
	if err := s.acquire(ctx); err != nil {
		return err
	}
	defer s.release()

	if s.resets.Load() != seen {
		return ErrSessionReset
	}
	h, err := s.handle(ctx)
	if err != nil {
		return err
	}

	opCtx, cancel := context.WithTimeout(h.ctx, s.opTimeout)
	defer cancel()
	stop := context.AfterFunc(ctx, cancel)
	defer stop()

	err = op(opCtx)
	if err != nil && s.unrecoverable(h, err) {
		s.logger.Warn("tearing down browser after fault", zap.Error(err))
		s.teardown(h)
		if errors.Is(err, ErrBrowserFault) {
			return err
		}
		return fmt.Errorf("%w: %w", ErrBrowserFault, err)
	}
	return err
}

// Warm launches the browser if it is not already running. Concurrent callers
// share one launch.
func (s *Session) Warm(ctx context.Context) error {
	_, err := s.handle(ctx)
	return err
}

// Close tears the browser down; later calls fail with ErrClosed.
func (s *Session) Close() {
	s.mu.Lock()
	s.closed = true
	h := s.cur
	s.mu.Unlock()
	if h != nil {
		s.teardown(h)
	}
}

// Launches reports how many browsers have been started.
func (s *Session) Launches() uint64 { return s.launches.Load() }

// Resets reports how many times the session has been torn down.
func (s *Session) Resets() uint64 { return s.resets.Load() }

// Waiting reports how many callers are queued on the gate.
func (s *Session) Waiting() int { return int(s.waiting.Load()) }

func (s *Session) acquire(ctx context.Context) error {
	s.waiting.Add(1)
	defer s.waiting.Add(-1)
	select {
	case s.gate <- struct{}{}:
		return nil
	case <-ctx.Done():
		return fmt.Errorf("browser gate wait canceled: %w", ctx.Err())
	}
}

func (s *Session) release() {
	<-s.gate
}

func (s *Session) handle(ctx context.Context) (*handle, error) {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil, ErrClosed
	}
	if h := s.cur; h != nil && h.ctx.Err() == nil {
		s.mu.Unlock()
		return h, nil
	}
	s.mu.Unlock()

	v, err, _ := s.init.Do("browser", func() (any, error) {
		s.mu.Lock()
		if h := s.cur; h != nil && h.ctx.Err() == nil {
			s.mu.Unlock()
			return h, nil
		}
		s.mu.Unlock()

		start := time.Now()
		// Shared launch: one caller canceling must not fail the others.
		bctx, cancel, err := s.launch(context.WithoutCancel(ctx))
		if err != nil {
			return nil, fmt.Errorf("launch browser: %w", err)
		}
		h := &handle{ctx: bctx, cancel: cancel}

		s.mu.Lock()
		defer s.mu.Unlock()
		if s.closed {
			cancel()
			return nil, ErrClosed
		}
		s.cur = h
		s.launches.Add(1)
		s.logger.Info("browser launched", zap.Duration("elapsed", time.Since(start)))
		return h, nil
	})
	if err != nil {
		return nil, err
	}
	return v.(*handle), nil
}

func (s *Session) unrecoverable(h *handle, err error) bool {
	return h.ctx.Err() != nil ||
		errors.Is(err, ErrBrowserFault) ||
		errors.Is(err, chromedp.ErrInvalidContext)
}

func (s *Session) teardown(h *handle) {
	s.mu.Lock()
	if s.cur != h {
		s.mu.Unlock()
		return
	}
	s.cur = nil
	s.resets.Add(1)
	s.mu.Unlock()
	h.cancel()
}
