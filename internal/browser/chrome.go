package browser

import (
	"context"
	"fmt"
	"time"

	"github.com/chromedp/chromedp"
)

// Config controls how Chrome is started.
type Config struct {
	Enabled      bool          `mapstructure:"enabled"`
	Headless     bool          `mapstructure:"headless"`
	ExecPath     string        `mapstructure:"exec_path"`
	RemoteURL    string        `mapstructure:"remote_url"`
	UserAgent    string        `mapstructure:"user_agent"`
	WindowWidth  int           `mapstructure:"window_width"`
	WindowHeight int           `mapstructure:"window_height"`
	OpTimeout    time.Duration `mapstructure:"op_timeout"`
	// LaunchTimeout bounds the initial browser start.
	LaunchTimeout time.Duration `mapstructure:"launch_timeout"`
}

// ChromeLauncher starts a local Chrome through chromedp, or attaches to
// RemoteURL when set. The browser outlives the context that triggered the
// launch; only the returned cancel func stops it.
func ChromeLauncher(cfg Config) Launcher {
	return func(ctx context.Context) (context.Context, context.CancelFunc, error) {
		var (
			allocCtx    context.Context
			allocCancel context.CancelFunc
		)
		if cfg.RemoteURL != "" {
			allocCtx, allocCancel = chromedp.NewRemoteAllocator(context.Background(), cfg.RemoteURL)
		} else {
			allocCtx, allocCancel = chromedp.NewExecAllocator(context.Background(), allocatorOptions(cfg)...)
		}
		browserCtx, browserCancel := chromedp.NewContext(allocCtx)
		cancel := func() {
			browserCancel()
			allocCancel()
		}

		timeout := cfg.LaunchTimeout
		if timeout <= 0 {
			timeout = 30 * time.Second
		}
		// The first Run allocates the browser; its context must not carry a
		// deadline, so the launch bound is enforced from outside.
		started := make(chan error, 1)
		go func() { started <- chromedp.Run(browserCtx) }()
		select {
		case err := <-started:
			if err != nil {
				cancel()
				return nil, nil, fmt.Errorf("start chrome: %w", err)
			}
		case <-ctx.Done():
			cancel()
			return nil, nil, fmt.Errorf("start chrome: %w", ctx.Err())
		case <-time.After(timeout):
			cancel()
			return nil, nil, fmt.Errorf("start chrome: timed out after %s", timeout)
		}
		return browserCtx, cancel, nil
	}
}

func allocatorOptions(cfg Config) []chromedp.ExecAllocatorOption {
	opts := append([]chromedp.ExecAllocatorOption{}, chromedp.DefaultExecAllocatorOptions[:]...)
	if cfg.Headless {
		opts = append(opts, chromedp.Flag("headless", "new"))
	} else {
		opts = append(opts, chromedp.Flag("headless", false))
	}
	opts = append(opts,
		chromedp.Flag("disable-gpu", true),
		chromedp.Flag("hide-scrollbars", true),
		chromedp.Flag("enable-automation", false),
		chromedp.Flag("disable-blink-features", "AutomationControlled"),
	)
	if cfg.ExecPath != "" {
		opts = append(opts, chromedp.ExecPath(cfg.ExecPath))
	}
	if cfg.UserAgent != "" {
		opts = append(opts, chromedp.UserAgent(cfg.UserAgent))
	}
	if cfg.WindowWidth > 0 && cfg.WindowHeight > 0 {
		opts = append(opts, chromedp.WindowSize(cfg.WindowWidth, cfg.WindowHeight))
	}
	return opts
}
