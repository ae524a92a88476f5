// Package browser opens browser sessions for the agent loop. The engine is
// chosen by browser.engine: "chromedp" (default) or "rod".
package browser

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/xkilldash9x/wayfinder/api/schemas"
	"github.com/xkilldash9x/wayfinder/internal/browser/rodsession"
	"github.com/xkilldash9x/wayfinder/internal/browser/session"
	"github.com/xkilldash9x/wayfinder/internal/config"
)

// New opens a session using the configured engine.
func New(ctx context.Context, cfg *config.Config, logger *zap.Logger) (schemas.BrowserSession, error) {
	engine := cfg.Browser.Engine
	if engine == "" {
		engine = config.EngineChromedp
	}
	logger.Debug("Opening browser session.", zap.String("engine", string(engine)), zap.Bool("headless", cfg.Browser.Headless))

	switch engine {
	case config.EngineChromedp:
		s, err := session.New(ctx, cfg, logger)
		if err != nil {
			return nil, err
		}
		return s, nil
	case config.EngineRod:
		s, err := rodsession.New(ctx, cfg, logger)
		if err != nil {
			return nil, err
		}
		return s, nil
	default:
		return nil, fmt.Errorf("unsupported browser engine: %q", engine)
	}
}
