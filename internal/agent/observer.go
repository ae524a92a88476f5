package agent

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"regexp"
	"sort"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/JohannesKaufmann/html-to-markdown/v2/converter"
	"github.com/JohannesKaufmann/html-to-markdown/v2/plugin/base"
	"github.com/JohannesKaufmann/html-to-markdown/v2/plugin/commonmark"
	"github.com/JohannesKaufmann/html-to-markdown/v2/plugin/table"
	"github.com/microcosm-cc/bluemonday"
	"go.uber.org/zap"

	"github.com/xkilldash9x/wayfinder/api/schemas"
	"github.com/xkilldash9x/wayfinder/internal/browser/dom"
	"github.com/xkilldash9x/wayfinder/internal/config"
)

// Observer turns the live page into a bounded Observation. It never changes
// the page beyond refreshing element reference attributes.
type Observer struct {
	session schemas.BrowserSession
	cfg     config.ObserverConfig
	timeout time.Duration
	logger  *zap.Logger

	policy      *bluemonday.Policy
	mdConverter *converter.Converter
}

// NewObserver creates an observer over session. timeout bounds one observation.
func NewObserver(session schemas.BrowserSession, cfg config.ObserverConfig, timeout time.Duration, logger *zap.Logger) *Observer {
	return &Observer{
		session: session,
		cfg:     cfg,
		timeout: timeout,
		logger:  logger.Named("observer"),
		policy:  bluemonday.UGCPolicy(),
		mdConverter: converter.NewConverter(
			converter.WithPlugins(
				base.NewBasePlugin(),
				commonmark.NewCommonmarkPlugin(),
				table.NewTablePlugin(),
			),
		),
	}
}

// Observe captures the current page. Any failure is an *schemas.ObservationError.
func (o *Observer) Observe(ctx context.Context) (schemas.Observation, error) {
	if o.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, o.timeout)
		defer cancel()
	}

	snap, err := o.session.Snapshot(ctx)
	if err != nil {
		return schemas.Observation{}, &schemas.ObservationError{Err: err}
	}
	elements, err := dom.ParseElements(snap.Interactive)
	if err != nil {
		return schemas.Observation{}, &schemas.ObservationError{Err: err}
	}

	obs := schemas.Observation{
		URL:        snap.URL,
		Title:      truncateRunes(strings.TrimSpace(snap.Title), o.cfg.MaxLabelChars),
		CapturedAt: time.Now().UTC(),
	}
	obs.Elements, obs.ElementsOmitted = o.boundElements(elements)
	if o.cfg.IncludeText {
		obs.Text, obs.TextTruncated = o.textExtract(snap.Document, snap.URL)
	}
	obs.Fingerprint = Fingerprint(obs.URL, obs.Title, obs.Elements)

	o.logger.Debug("Page observed.",
		zap.String("url", obs.URL),
		zap.Int("elements", len(obs.Elements)),
		zap.Int("omitted", obs.ElementsOmitted),
	)
	return obs, nil
}

func (o *Observer) boundElements(elements []schemas.Element) ([]schemas.Element, int) {
	omitted := 0
	if limit := o.cfg.MaxElements; limit > 0 && len(elements) > limit {
		omitted = len(elements) - limit
		elements = elements[:limit]
	}
	out := make([]schemas.Element, len(elements))
	for i, el := range elements {
		el.Label = truncateRunes(el.Label, o.cfg.MaxLabelChars)
		out[i] = el
	}
	return out, omitted
}

var blankLines = regexp.MustCompile(`\n{3,}`)

// textExtract sanitizes the document and renders it as markdown.
func (o *Observer) textExtract(document, pageURL string) (string, bool) {
	if document == "" {
		return "", false
	}
	clean := o.policy.Sanitize(document)
	md, err := o.mdConverter.ConvertString(clean, converter.WithDomain(pageURL))
	if err != nil {
		o.logger.Debug("Markdown conversion failed, omitting text extract.", zap.Error(err))
		return "", false
	}
	md = strings.TrimSpace(blankLines.ReplaceAllString(md, "\n\n"))
	if limit := o.cfg.MaxTextChars; limit > 0 && utf8.RuneCountInString(md) > limit {
		return truncateRunes(md, limit), true
	}
	return md, false
}

// Fingerprint identifies what the page offers, independent of element order
// and reference numbering.
func Fingerprint(pageURL, title string, elements []schemas.Element) string {
	keys := make([]string, len(elements))
	for i, el := range elements {
		keys[i] = strings.Join([]string{el.Role, el.Label, el.Href, el.Tag}, "\x1f")
	}
	sort.Strings(keys)

	h := sha256.New()
	h.Write([]byte(pageURL))
	h.Write([]byte{0})
	h.Write([]byte(title))
	for _, k := range keys {
		h.Write([]byte{0})
		h.Write([]byte(k))
	}
	return hex.EncodeToString(h.Sum(nil))[:16]
}

func truncateRunes(s string, limit int) string {
	if limit <= 0 || utf8.RuneCountInString(s) <= limit {
		return s
	}
	r := []rune(s)
	return string(r[:limit]) + "…"
}
