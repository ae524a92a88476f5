package schemas

import (
	"context"
	"time"
)

// BrowserSession is a single live browser tab driven by the agent. Element
// references are those produced by the most recent Snapshot. Implementations
// return *BrowserError so failures can be classified.
type BrowserSession interface {
	// Navigate loads url and waits for the document to be ready.
	Navigate(ctx context.Context, url string) error
	// Snapshot stamps the visible interactive elements with fresh references and
	// returns them together with the page URL, title and document HTML.
	Snapshot(ctx context.Context) (PageSnapshot, error)
	// Click clicks the element with the given reference.
	Click(ctx context.Context, ref string) error
	// Type focuses the referenced element, clears it and types text.
	Type(ctx context.Context, ref, text string) error
	// Scroll moves the viewport.
	Scroll(ctx context.Context, dir ScrollDirection) error
	// Wait pauses for d while the page keeps running.
	Wait(ctx context.Context, d time.Duration) error
	// CurrentURL reports the location of the tab.
	CurrentURL(ctx context.Context) (string, error)
	// Screenshot captures the viewport as PNG.
	Screenshot(ctx context.Context) ([]byte, error)
	// Close releases the tab and any browser process owned by the session.
	Close(ctx context.Context) error
}

// GenerationOptions controls sampling and output format for one request.
type GenerationOptions struct {
	Temperature     float64 `json:"temperature"`       // Controls randomness. Lower is more deterministic.
	ForceJSONFormat bool    `json:"force_json_format"` // If true, asks the model for a JSON response.
	TopP            float64 `json:"top_p"`
	TopK            int     `json:"top_k"`
}

// GenerationRequest is a complete request to the language model.
type GenerationRequest struct {
	SystemPrompt string            `json:"system_prompt"`
	UserPrompt   string            `json:"user_prompt"`
	Options      GenerationOptions `json:"options"`
}

// LLMClient abstracts the model provider. Failures that are not an unusable
// answer are reported as *ModelError.
type LLMClient interface {
	Generate(ctx context.Context, req GenerationRequest) (string, error)
	Close() error
}

// ReportStore persists finished session reports.
type ReportStore interface {
	Save(ctx context.Context, report *SessionReport) error
	// Load returns ErrReportNotFound for unknown ids.
	Load(ctx context.Context, sessionID string) (*SessionReport, error)
	Close() error
}
