// internal/browser/session/session.go
package session

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/chromedp/chromedp"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/xkilldash9x/wayfinder/api/schemas"
	"github.com/xkilldash9x/wayfinder/internal/browser/stealth"
	"github.com/xkilldash9x/wayfinder/internal/config"
)

const shutdownTimeout = 10 * time.Second

// Session drives a single Chrome tab over the DevTools protocol with chromedp.
// It owns the browser process unless it attached to a remote one.
type Session struct {
	id          string
	ctx         context.Context // tab context; carries the CDP target
	cancel      context.CancelFunc
	allocCancel context.CancelFunc
	logger      *zap.Logger
	browserCfg  config.BrowserConfig
	networkCfg  config.NetworkConfig

	mu     sync.Mutex
	closed bool
}

var _ schemas.BrowserSession = (*Session)(nil)

// ExecOptions builds the allocator options for a locally launched browser.
func ExecOptions(cfg config.BrowserConfig) []chromedp.ExecAllocatorOption {
	opts := []chromedp.ExecAllocatorOption{
		chromedp.NoSandbox,
		chromedp.DisableGPU,
		chromedp.NoFirstRun,
		chromedp.NoDefaultBrowserCheck,
		chromedp.Flag("disable-dev-shm-usage", true),
		chromedp.Flag("disable-blink-features", "AutomationControlled"),
		chromedp.WindowSize(cfg.Viewport.Width, cfg.Viewport.Height),
	}
	if cfg.Headless {
		opts = append(opts, chromedp.Headless)
	}
	if cfg.IgnoreTLSErrors {
		opts = append(opts, chromedp.IgnoreCertErrors)
	}
	// Extra flags are "name" or "name=value", with or without leading dashes.
	for _, arg := range cfg.Args {
		key, value, found := strings.Cut(strings.TrimLeft(arg, "-"), "=")
		if found {
			opts = append(opts, chromedp.Flag(key, value))
		} else {
			opts = append(opts, chromedp.Flag(key, true))
		}
	}
	return opts
}

// PersonaFromConfig maps the browser section onto a persona.
func PersonaFromConfig(cfg config.BrowserConfig) schemas.Persona {
	return stealth.Resolve(schemas.Persona{
		UserAgent: cfg.UserAgent,
		Width:     int64(cfg.Viewport.Width),
		Height:    int64(cfg.Viewport.Height),
		Timezone:  cfg.Timezone,
		Locale:    cfg.Locale,
	})
}

// New starts (or attaches to) a browser and opens the tab the agent will drive.
// The browser's lifetime is bound to Close, not to ctx; ctx only bounds startup.
func New(ctx context.Context, cfg *config.Config, logger *zap.Logger) (*Session, error) {
	id := uuid.NewString()
	log := logger.Named("chromedp").With(zap.String("browser_session", id))

	var allocCtx context.Context
	var allocCancel context.CancelFunc
	if cfg.Browser.RemoteURL != "" {
		log.Info("Attaching to remote browser.", zap.String("url", cfg.Browser.RemoteURL))
		allocCtx, allocCancel = chromedp.NewRemoteAllocator(Detach(ctx), cfg.Browser.RemoteURL)
	} else {
		allocCtx, allocCancel = chromedp.NewExecAllocator(Detach(ctx), ExecOptions(cfg.Browser)...)
	}

	tabCtx, tabCancel := chromedp.NewContext(allocCtx,
		chromedp.WithLogf(log.Sugar().Debugf),
		chromedp.WithErrorf(log.Sugar().Debugf),
	)

	s := &Session{
		id:          id,
		ctx:         tabCtx,
		cancel:      tabCancel,
		allocCancel: allocCancel,
		logger:      log,
		browserCfg:  cfg.Browser,
		networkCfg:  cfg.Network,
	}

	startCtx, startCancel := CombineContext(tabCtx, ctx)
	defer startCancel()

	// The first Run starts the browser and creates the target.
	persona := PersonaFromConfig(cfg.Browser)
	if err := chromedp.Run(startCtx, stealth.Apply(persona, cfg.Browser.Stealth, log)); err != nil {
		_ = s.Close(context.Background())
		return nil, fmt.Errorf("failed to start browser session: %w", err)
	}

	log.Info("Browser session started.",
		zap.Bool("headless", cfg.Browser.Headless),
		zap.Bool("stealth", cfg.Browser.Stealth),
	)
	return s, nil
}

// ID returns the unique identifier for the session.
func (s *Session) ID() string { return s.id }

// Close terminates the tab and, for locally launched browsers, waits for the
// process to exit. Safe to call more than once.
func (s *Session) Close(ctx context.Context) error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	s.mu.Unlock()

	s.logger.Debug("Closing browser session.")

	// chromedp.Cancel blocks until the browser exits, so bound it.
	done := make(chan error, 1)
	go func() { done <- chromedp.Cancel(s.ctx) }()

	waitCtx, cancel := context.WithTimeout(Detach(ctx), shutdownTimeout)
	defer cancel()

	var err error
	select {
	case err = <-done:
		if err == context.Canceled {
			err = nil
		}
	case <-waitCtx.Done():
		s.logger.Warn("Browser shutdown timed out; forcing.", zap.Duration("timeout", shutdownTimeout))
	}

	s.cancel()
	s.allocCancel()
	return err
}

// run executes actions bounded by both the session lifetime and ctx.
func (s *Session) run(ctx context.Context, actions ...chromedp.Action) error {
	runCtx, cancel := CombineContext(s.ctx, ctx)
	defer cancel()
	return chromedp.Run(runCtx, actions...)
}

// withTimeout derives an operation context with the configured action timeout.
func (s *Session) withTimeout(ctx context.Context, d time.Duration) (context.Context, context.CancelFunc) {
	if d <= 0 {
		d = s.networkCfg.ActionTimeout
	}
	if d <= 0 {
		d = 8 * time.Second
	}
	return context.WithTimeout(ctx, d)
}
