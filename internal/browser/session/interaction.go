// internal/browser/session/interaction.go
package session

import (
	"context"
	"fmt"
	"time"

	"github.com/chromedp/cdproto/cdp"
	"github.com/chromedp/cdproto/page"
	"github.com/chromedp/chromedp"
	"go.uber.org/zap"

	"github.com/xkilldash9x/wayfinder/api/schemas"
	"github.com/xkilldash9x/wayfinder/internal/browser/dom"
)

// Navigate loads url and waits for the body to be ready. Failures are
// returned as *schemas.BrowserError.
func (s *Session) Navigate(ctx context.Context, url string) error {
	s.logger.Debug("Navigating.", zap.String("url", url))

	navCtx, cancel := s.withTimeout(ctx, s.networkCfg.NavigationTimeout)
	defer cancel()

	if err := s.run(navCtx, chromedp.Navigate(url)); err != nil {
		if navCtx.Err() == context.DeadlineExceeded {
			return schemas.NewBrowserError(schemas.ErrKindTimeout, "navigate",
				fmt.Errorf("navigation to %s timed out after %s: %w", url, s.networkCfg.NavigationTimeout, err))
		}
		return dom.Classify("navigate", err)
	}

	s.stabilize(ctx)
	return nil
}

// stabilize waits for the DOM and then for the configured quiet period.
// Failures are logged and ignored; the next observation decides what the page looks like.
func (s *Session) stabilize(ctx context.Context) {
	stabCtx, cancel := s.withTimeout(ctx, 0)
	defer cancel()

	if err := s.run(stabCtx, chromedp.WaitReady("body", chromedp.ByQuery)); err != nil {
		s.logger.Debug("WaitReady failed during stabilization.", zap.Error(err))
		return
	}
	if wait := s.networkCfg.PostLoadWait; wait > 0 {
		_ = s.run(stabCtx, chromedp.Sleep(wait))
	}
}

// Snapshot stamps interactive elements and collects the page state in one round trip.
func (s *Session) Snapshot(ctx context.Context) (schemas.PageSnapshot, error) {
	var snap schemas.PageSnapshot

	obsCtx, cancel := s.withTimeout(ctx, s.networkCfg.ObserveTimeout)
	defer cancel()

	err := s.run(obsCtx,
		chromedp.Location(&snap.URL),
		chromedp.Title(&snap.Title),
		chromedp.Evaluate(dom.StampScript, &snap.Interactive),
		chromedp.OuterHTML("html", &snap.Document, chromedp.ByQuery),
	)
	if err != nil {
		return schemas.PageSnapshot{}, dom.Classify("snapshot", err)
	}
	return snap, nil
}

// resolve checks that ref still names a node without waiting for one to appear.
func (s *Session) resolve(ctx context.Context, op, ref string) (string, error) {
	if !dom.ValidRef(ref) {
		return "", schemas.NewBrowserError(schemas.ErrKindStaleReference, op, fmt.Errorf("malformed element reference %q", ref))
	}
	sel := dom.Selector(ref)
	var nodes []*cdp.Node
	if err := s.run(ctx, chromedp.Nodes(sel, &nodes, chromedp.ByQuery, chromedp.AtLeast(0))); err != nil {
		return "", dom.Classify(op, err)
	}
	if len(nodes) == 0 {
		return "", schemas.NewBrowserError(schemas.ErrKindStaleReference, op, fmt.Errorf("element %s is no longer on the page", ref))
	}
	return sel, nil
}

// Click scrolls the referenced element into view and clicks it.
func (s *Session) Click(ctx context.Context, ref string) error {
	s.logger.Debug("Clicking element.", zap.String("ref", ref))

	opCtx, cancel := s.withTimeout(ctx, 0)
	defer cancel()

	sel, err := s.resolve(opCtx, "click", ref)
	if err != nil {
		return err
	}
	if err := s.run(opCtx,
		chromedp.ScrollIntoView(sel, chromedp.ByQuery),
		chromedp.Click(sel, chromedp.ByQuery, chromedp.NodeVisible),
	); err != nil {
		return dom.Classify("click", err)
	}

	s.stabilize(ctx)
	return nil
}

// Type clears the referenced field and sends text to it.
func (s *Session) Type(ctx context.Context, ref, text string) error {
	s.logger.Debug("Typing into element.", zap.String("ref", ref), zap.Int("text_length", len(text)))

	// Long inputs get proportionally more time.
	timeout := s.networkCfg.ActionTimeout + time.Duration(len(text))*20*time.Millisecond
	opCtx, cancel := s.withTimeout(ctx, timeout)
	defer cancel()

	sel, err := s.resolve(opCtx, "type", ref)
	if err != nil {
		return err
	}
	if err := s.run(opCtx,
		chromedp.ScrollIntoView(sel, chromedp.ByQuery),
		chromedp.Focus(sel, chromedp.ByQuery),
		chromedp.Clear(sel, chromedp.ByQuery),
		chromedp.SendKeys(sel, text, chromedp.ByQuery),
	); err != nil {
		return dom.Classify("type", err)
	}
	return nil
}

// ScrollScript returns the JavaScript that scrolls in dir.
func ScrollScript(dir schemas.ScrollDirection) (string, error) {
	switch dir {
	case schemas.ScrollDown:
		return `window.scrollBy({top: window.innerHeight * 0.8, behavior: 'instant'});`, nil
	case schemas.ScrollUp:
		return `window.scrollBy({top: -window.innerHeight * 0.8, behavior: 'instant'});`, nil
	case schemas.ScrollBottom:
		return `window.scrollTo({top: document.body.scrollHeight, behavior: 'instant'});`, nil
	case schemas.ScrollTop:
		return `window.scrollTo({top: 0, behavior: 'instant'});`, nil
	}
	return "", fmt.Errorf("invalid scroll direction: %s (supported: up, down, top, bottom)", dir)
}

// Scroll moves the viewport and gives lazy content a moment to render.
func (s *Session) Scroll(ctx context.Context, dir schemas.ScrollDirection) error {
	script, err := ScrollScript(dir)
	if err != nil {
		return schemas.NewBrowserError(schemas.ErrKindActionFailed, "scroll", err)
	}

	opCtx, cancel := s.withTimeout(ctx, 0)
	defer cancel()

	if err := s.run(opCtx, chromedp.Evaluate(script, nil), chromedp.Sleep(300*time.Millisecond)); err != nil {
		return dom.Classify("scroll", err)
	}
	return nil
}

// Wait sleeps inside the tab context so a closed session interrupts it.
func (s *Session) Wait(ctx context.Context, d time.Duration) error {
	if err := s.run(ctx, chromedp.Sleep(d)); err != nil {
		return dom.Classify("wait", err)
	}
	return nil
}

// CurrentURL reports the tab's location.
func (s *Session) CurrentURL(ctx context.Context) (string, error) {
	opCtx, cancel := s.withTimeout(ctx, 0)
	defer cancel()

	var loc string
	if err := s.run(opCtx, chromedp.Location(&loc)); err != nil {
		return "", dom.Classify("location", err)
	}
	return loc, nil
}

// Screenshot captures the viewport as PNG.
func (s *Session) Screenshot(ctx context.Context) ([]byte, error) {
	opCtx, cancel := s.withTimeout(ctx, 0)
	defer cancel()

	var buf []byte
	err := s.run(opCtx, chromedp.ActionFunc(func(c context.Context) error {
		var err error
		buf, err = page.CaptureScreenshot().WithFormat(page.CaptureScreenshotFormatPng).Do(c)
		return err
	}))
	if err != nil {
		return nil, dom.Classify("screenshot", err)
	}
	return buf, nil
}
