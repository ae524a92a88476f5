package stealth

import (
	"context"
	_ "embed"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/chromedp/cdproto/emulation"
	"github.com/chromedp/cdproto/network"
	"github.com/chromedp/cdproto/page"
	"github.com/chromedp/chromedp"
	"go.uber.org/zap"

	"github.com/xkilldash9x/wayfinder/api/schemas"
)

//go:embed evasions.js
var evasionsScript string

// Resolve fills empty persona fields from schemas.DefaultPersona.
func Resolve(p schemas.Persona) schemas.Persona {
	d := schemas.DefaultPersona
	if p.UserAgent == "" {
		p.UserAgent = d.UserAgent
	}
	if p.Platform == "" {
		p.Platform = d.Platform
	}
	if len(p.Languages) == 0 {
		p.Languages = d.Languages
	}
	if p.Width <= 0 || p.Height <= 0 {
		p.Width, p.Height = d.Width, d.Height
	}
	if p.Timezone == "" {
		p.Timezone = d.Timezone
	}
	if p.Locale == "" {
		p.Locale = d.Locale
	}
	return p
}

// AcceptLanguage renders the persona's languages as an Accept-Language header
// with descending quality values.
func AcceptLanguage(langs []string) string {
	parts := make([]string, 0, len(langs))
	for i, l := range langs {
		if i == 0 {
			parts = append(parts, l)
			continue
		}
		q := 1.0 - 0.1*float64(i)
		if q < 0.1 {
			q = 0.1
		}
		parts = append(parts, fmt.Sprintf("%s;q=%.1f", l, q))
	}
	return strings.Join(parts, ",")
}

// Script returns the evasions prefixed with the persona data they read.
func Script(p schemas.Persona) string {
	langs, _ := json.Marshal(p.Languages)
	return fmt.Sprintf("window.__wayfinderPersona = {languages: %s};\n%s", langs, evasionsScript)
}

// Apply returns the CDP actions that make a headless tab present the persona.
// When evasions is false only the viewport and locale emulation are applied.
func Apply(p schemas.Persona, evasions bool, logger *zap.Logger) chromedp.Tasks {
	p = Resolve(p)
	logger.Debug("Applying browser persona",
		zap.String("userAgent", p.UserAgent),
		zap.Int64("width", p.Width),
		zap.Int64("height", p.Height),
		zap.Bool("evasions", evasions),
	)

	tasks := chromedp.Tasks{
		emulation.SetDeviceMetricsOverride(p.Width, p.Height, 1, false),
		emulation.SetTimezoneOverride(p.Timezone),
		emulation.SetLocaleOverride().WithLocale(p.Locale),
	}
	if !evasions {
		return tasks
	}

	return append(tasks,
		emulation.SetUserAgentOverride(p.UserAgent).
			WithPlatform(p.Platform).
			WithAcceptLanguage(AcceptLanguage(p.Languages)),
		chromedp.ActionFunc(func(ctx context.Context) error {
			if _, err := page.AddScriptToEvaluateOnNewDocument(Script(p)).Do(ctx); err != nil {
				return fmt.Errorf("failed to inject evasions script: %w", err)
			}
			return nil
		}),
		network.SetExtraHTTPHeaders(network.Headers{
			"Accept-Language": AcceptLanguage(p.Languages),
		}),
	)
}
