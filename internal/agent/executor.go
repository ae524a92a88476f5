package agent

import (
	"context"
	"fmt"
	"net/url"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/xkilldash9x/wayfinder/api/schemas"
	"github.com/xkilldash9x/wayfinder/internal/config"
	"github.com/xkilldash9x/wayfinder/internal/observability"
)

const defaultActionTimeout = 8 * time.Second

// Executor maps actions onto browser primitives and classifies the result.
type Executor struct {
	session        schemas.BrowserSession
	network        config.NetworkConfig
	allowedDomains []string
	retryOnTimeout bool
	logger         *zap.Logger
}

// NewExecutor creates an executor bound to session.
func NewExecutor(session schemas.BrowserSession, cfg *config.Config, logger *zap.Logger) *Executor {
	domains := make([]string, 0, len(cfg.Agent.AllowedDomains))
	for _, d := range cfg.Agent.AllowedDomains {
		if d = strings.ToLower(strings.TrimSpace(d)); d != "" {
			domains = append(domains, strings.TrimPrefix(d, "."))
		}
	}
	return &Executor{
		session:        session,
		network:        cfg.Network,
		allowedDomains: domains,
		retryOnTimeout: cfg.Agent.Loop.RetryOnTimeout,
		logger:         logger.Named("executor"),
	}
}

// Execute runs a, retrying once on timeout. It always returns an outcome.
func (e *Executor) Execute(ctx context.Context, a schemas.Action) schemas.Outcome {
	start := time.Now()
	defer observability.ObserveSince(observability.ActionLatency.WithLabelValues(string(a.Kind)), start)

	if a.Kind.IsTerminal() {
		return schemas.Failed(schemas.ErrKindActionFailed, fmt.Sprintf("%s is not a browser action", a.Kind))
	}
	if a.Kind == schemas.ActionNavigate {
		if err := e.checkURL(a.URL); err != nil {
			return schemas.Failed(schemas.ErrKindPermissionDenied, err.Error())
		}
	}

	attempts := 1
	err := e.apply(ctx, a)
	if err != nil && e.retryOnTimeout && schemas.KindOf(err) == schemas.ErrKindTimeout && ctx.Err() == nil {
		e.logger.Debug("Action timed out, retrying once.", zap.String("action", a.String()))
		attempts++
		err = e.apply(ctx, a)
	}

	var outcome schemas.Outcome
	if err != nil {
		outcome = schemas.Failed(schemas.KindOf(err), err.Error())
	} else {
		outcome = schemas.Applied(e.currentURL(ctx))
	}
	outcome.Attempts = attempts
	outcome.DurationMS = time.Since(start).Milliseconds()

	e.logger.Debug("Action executed.",
		zap.String("action", a.String()),
		zap.String("status", string(outcome.Status)),
		zap.String("kind", string(outcome.Kind)),
		zap.Int("attempts", attempts),
	)
	return outcome
}

func (e *Executor) apply(ctx context.Context, a schemas.Action) error {
	timeout := e.network.ActionTimeout
	if timeout <= 0 {
		timeout = defaultActionTimeout
	}
	switch a.Kind {
	case schemas.ActionNavigate:
		if e.network.NavigationTimeout > 0 {
			timeout = e.network.NavigationTimeout
		}
	case schemas.ActionWait:
		timeout += a.WaitDuration()
	case schemas.ActionType:
		timeout += time.Duration(len(a.Text)) * 20 * time.Millisecond
	}

	opCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	switch a.Kind {
	case schemas.ActionNavigate:
		return e.session.Navigate(opCtx, a.URL)
	case schemas.ActionClick:
		return e.session.Click(opCtx, a.ElementRef)
	case schemas.ActionType:
		return e.session.Type(opCtx, a.ElementRef, a.Text)
	case schemas.ActionScroll:
		return e.session.Scroll(opCtx, a.Direction)
	case schemas.ActionWait:
		return e.session.Wait(opCtx, a.WaitDuration())
	}
	return schemas.NewBrowserError(schemas.ErrKindActionFailed, string(a.Kind), fmt.Errorf("unsupported action"))
}

// currentURL is the state hint attached to an applied outcome.
func (e *Executor) currentURL(ctx context.Context) string {
	opCtx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()
	u, err := e.session.CurrentURL(opCtx)
	if err != nil {
		return ""
	}
	return u
}

// checkURL enforces the http(s) scheme and the optional domain allow-list.
func (e *Executor) checkURL(raw string) error {
	u, err := url.Parse(strings.TrimSpace(raw))
	if err != nil {
		return fmt.Errorf("invalid url %q: %w", raw, err)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return fmt.Errorf("url %q must use http or https", raw)
	}
	host := strings.ToLower(u.Hostname())
	if host == "" {
		return fmt.Errorf("url %q has no host", raw)
	}
	if len(e.allowedDomains) == 0 {
		return nil
	}
	for _, d := range e.allowedDomains {
		if host == d || strings.HasSuffix(host, "."+d) {
			return nil
		}
	}
	return fmt.Errorf("host %s is outside the allowed domains", host)
}
