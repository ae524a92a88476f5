// Package rodsession drives a browser tab with go-rod. It is the alternative to
// the chromedp engine and is selected with browser.engine=rod.
package rodsession

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/go-rod/rod"
	"github.com/go-rod/rod/lib/launcher"
	"github.com/go-rod/rod/lib/launcher/flags"
	"github.com/go-rod/rod/lib/proto"
	"github.com/go-rod/stealth"
	"go.uber.org/zap"

	"github.com/xkilldash9x/wayfinder/api/schemas"
	"github.com/xkilldash9x/wayfinder/internal/browser/dom"
	"github.com/xkilldash9x/wayfinder/internal/browser/session"
	wstealth "github.com/xkilldash9x/wayfinder/internal/browser/stealth"
	"github.com/xkilldash9x/wayfinder/internal/config"
)

// Session is a rod-backed browser tab.
type Session struct {
	browser  *rod.Browser
	page     *rod.Page
	launcher *launcher.Launcher // nil when attached to a remote browser
	logger   *zap.Logger
	network  config.NetworkConfig

	closeOnce sync.Once
	closeErr  error
}

var _ schemas.BrowserSession = (*Session)(nil)

// Launcher builds the launcher for a local browser from cfg.
func Launcher(cfg config.BrowserConfig) *launcher.Launcher {
	l := launcher.New().
		Headless(cfg.Headless).
		Set("disable-blink-features", "AutomationControlled").
		Set("window-size", fmt.Sprintf("%d,%d", cfg.Viewport.Width, cfg.Viewport.Height))
	if cfg.IgnoreTLSErrors {
		l = l.Set("ignore-certificate-errors")
	}
	for _, arg := range cfg.Args {
		key, value, found := strings.Cut(strings.TrimLeft(arg, "-"), "=")
		if found {
			l = l.Set(flags.Flag(key), value)
		} else {
			l = l.Set(flags.Flag(key))
		}
	}
	return l
}

// New launches or attaches to a browser and opens a tab, with go-rod/stealth
// evasions when browser.stealth is set.
func New(ctx context.Context, cfg *config.Config, logger *zap.Logger) (*Session, error) {
	log := logger.Named("rod")

	s := &Session{logger: log, network: cfg.Network}

	controlURL := cfg.Browser.RemoteURL
	if controlURL == "" {
		s.launcher = Launcher(cfg.Browser)
		u, err := s.launcher.Context(ctx).Launch()
		if err != nil {
			return nil, fmt.Errorf("rod: launch: %w", err)
		}
		controlURL = u
	}

	s.browser = rod.New().ControlURL(controlURL)
	if err := s.browser.Connect(); err != nil {
		s.cleanupLauncher()
		return nil, fmt.Errorf("rod: connect: %w", err)
	}
	if cfg.Browser.IgnoreTLSErrors {
		if err := s.browser.IgnoreCertErrors(true); err != nil {
			log.Warn("Could not ignore certificate errors.", zap.Error(err))
		}
	}

	var err error
	if cfg.Browser.Stealth {
		s.page, err = stealth.Page(s.browser)
	} else {
		s.page, err = s.browser.Page(proto.TargetCreateTarget{})
	}
	if err != nil {
		_ = s.Close(ctx)
		return nil, fmt.Errorf("rod: create tab: %w", err)
	}

	persona := session.PersonaFromConfig(cfg.Browser)
	if err := s.page.SetViewport(&proto.EmulationSetDeviceMetricsOverride{
		Width:             int(persona.Width),
		Height:            int(persona.Height),
		DeviceScaleFactor: 1,
	}); err != nil {
		log.Warn("Could not set viewport.", zap.Error(err))
	}
	if cfg.Browser.UserAgent != "" {
		if err := s.page.SetUserAgent(&proto.NetworkSetUserAgentOverride{
			UserAgent:      persona.UserAgent,
			AcceptLanguage: wstealth.AcceptLanguage(persona.Languages),
			Platform:       persona.Platform,
		}); err != nil {
			log.Warn("Could not override user agent.", zap.Error(err))
		}
	}

	log.Info("Browser session started.", zap.Bool("remote", cfg.Browser.RemoteURL != ""), zap.Bool("stealth", cfg.Browser.Stealth))
	return s, nil
}

func (s *Session) timeout(d time.Duration) time.Duration {
	if d <= 0 {
		d = s.network.ActionTimeout
	}
	if d <= 0 {
		d = 8 * time.Second
	}
	return d
}

// pageFor returns the tab bound to ctx with an operation timeout.
func (s *Session) pageFor(ctx context.Context, d time.Duration) (*rod.Page, context.CancelFunc) {
	opCtx, cancel := context.WithTimeout(ctx, s.timeout(d))
	return s.page.Context(opCtx), cancel
}

// Navigate loads url and waits for the load event.
func (s *Session) Navigate(ctx context.Context, url string) error {
	s.logger.Debug("Navigating.", zap.String("url", url))
	p, cancel := s.pageFor(ctx, s.network.NavigationTimeout)
	defer cancel()

	if err := p.Navigate(url); err != nil {
		return dom.Classify("navigate", err)
	}
	if err := p.WaitLoad(); err != nil {
		s.logger.Debug("WaitLoad failed after navigation.", zap.Error(err))
	}
	if wait := s.network.PostLoadWait; wait > 0 {
		time.Sleep(wait)
	}
	return nil
}

// Snapshot stamps interactive elements and reads back the page state.
func (s *Session) Snapshot(ctx context.Context) (schemas.PageSnapshot, error) {
	p, cancel := s.pageFor(ctx, s.network.ObserveTimeout)
	defer cancel()

	res, err := p.Eval(`() => ` + dom.StampScript)
	if err != nil {
		return schemas.PageSnapshot{}, dom.Classify("snapshot", err)
	}
	info, err := p.Info()
	if err != nil {
		return schemas.PageSnapshot{}, dom.Classify("snapshot", err)
	}
	doc, err := p.HTML()
	if err != nil {
		return schemas.PageSnapshot{}, dom.Classify("snapshot", err)
	}
	return schemas.PageSnapshot{
		URL:         info.URL,
		Title:       info.Title,
		Interactive: res.Value.Str(),
		Document:    doc,
	}, nil
}

func (s *Session) element(p *rod.Page, op, ref string) (*rod.Element, error) {
	if !dom.ValidRef(ref) {
		return nil, schemas.NewBrowserError(schemas.ErrKindStaleReference, op, fmt.Errorf("malformed element reference %q", ref))
	}
	has, el, err := p.Has(dom.Selector(ref))
	if err != nil {
		return nil, dom.Classify(op, err)
	}
	if !has {
		return nil, schemas.NewBrowserError(schemas.ErrKindStaleReference, op, fmt.Errorf("element %s is no longer on the page", ref))
	}
	return el, nil
}

// Click scrolls to and clicks the referenced element.
func (s *Session) Click(ctx context.Context, ref string) error {
	p, cancel := s.pageFor(ctx, 0)
	defer cancel()

	el, err := s.element(p, "click", ref)
	if err != nil {
		return err
	}
	if err := el.ScrollIntoView(); err != nil {
		return dom.Classify("click", err)
	}
	if err := el.Click(proto.InputMouseButtonLeft, 1); err != nil {
		return dom.Classify("click", err)
	}
	_ = p.WaitLoad()
	return nil
}

// Type replaces the content of the referenced field with text.
func (s *Session) Type(ctx context.Context, ref, text string) error {
	p, cancel := s.pageFor(ctx, s.network.ActionTimeout+time.Duration(len(text))*20*time.Millisecond)
	defer cancel()

	el, err := s.element(p, "type", ref)
	if err != nil {
		return err
	}
	if err := el.SelectAllText(); err != nil {
		s.logger.Debug("Could not select existing text.", zap.String("ref", ref), zap.Error(err))
	}
	if err := el.Input(text); err != nil {
		return dom.Classify("type", err)
	}
	return nil
}

// Scroll moves the viewport.
func (s *Session) Scroll(ctx context.Context, dir schemas.ScrollDirection) error {
	script, err := session.ScrollScript(dir)
	if err != nil {
		return schemas.NewBrowserError(schemas.ErrKindActionFailed, "scroll", err)
	}
	p, cancel := s.pageFor(ctx, 0)
	defer cancel()

	if _, err := p.Eval(`() => { ` + script + ` }`); err != nil {
		return dom.Classify("scroll", err)
	}
	time.Sleep(300 * time.Millisecond)
	return nil
}

// Wait pauses for d or until ctx is done.
func (s *Session) Wait(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
		return nil
	case <-ctx.Done():
		return dom.Classify("wait", ctx.Err())
	}
}

// CurrentURL reports the tab's location.
func (s *Session) CurrentURL(ctx context.Context) (string, error) {
	p, cancel := s.pageFor(ctx, 0)
	defer cancel()

	info, err := p.Info()
	if err != nil {
		return "", dom.Classify("location", err)
	}
	return info.URL, nil
}

// Screenshot captures the viewport as PNG.
func (s *Session) Screenshot(ctx context.Context) ([]byte, error) {
	p, cancel := s.pageFor(ctx, 0)
	defer cancel()

	buf, err := p.Screenshot(false, &proto.PageCaptureScreenshot{Format: proto.PageCaptureScreenshotFormatPng})
	if err != nil {
		return nil, dom.Classify("screenshot", err)
	}
	return buf, nil
}

// Close closes the tab and browser connection and stops a launched browser.
func (s *Session) Close(_ context.Context) error {
	s.closeOnce.Do(func() {
		if s.page != nil {
			if err := s.page.Close(); err != nil {
				s.logger.Debug("Closing tab failed.", zap.Error(err))
			}
		}
		if s.browser != nil && s.launcher != nil {
			s.closeErr = s.browser.Close()
		}
		s.cleanupLauncher()
	})
	return s.closeErr
}

func (s *Session) cleanupLauncher() {
	if s.launcher != nil {
		s.launcher.Cleanup()
	}
}
