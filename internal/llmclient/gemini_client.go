package llmclient

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/cenkalti/backoff/v4"
	"go.uber.org/zap"
	"golang.org/x/time/rate"
	"google.golang.org/genai"

	"github.com/xkilldash9x/wayfinder/api/schemas"
	"github.com/xkilldash9x/wayfinder/internal/config"
	"github.com/xkilldash9x/wayfinder/internal/observability"
)

// GeminiClient implements schemas.LLMClient on top of the genai SDK.
type GeminiClient struct {
	client  *genai.Client
	limiter *rate.Limiter
	logger  *zap.Logger
	config  config.LLMModelConfig

	// maxElapsed bounds retries of transient failures.
	maxElapsed time.Duration
}

var _ schemas.LLMClient = (*GeminiClient)(nil)

// NewGeminiClient initializes the client. An Endpoint overrides the API base URL.
func NewGeminiClient(ctx context.Context, cfg config.LLMModelConfig, logger *zap.Logger) (*GeminiClient, error) {
	if cfg.APIKey == "" {
		return nil, fmt.Errorf("gemini API key is required")
	}
	if cfg.Model == "" {
		return nil, fmt.Errorf("gemini model name is required")
	}

	cc := &genai.ClientConfig{
		APIKey:  cfg.APIKey,
		Backend: genai.BackendGeminiAPI,
	}
	if cfg.Endpoint != "" {
		cc.HTTPOptions = genai.HTTPOptions{BaseURL: cfg.Endpoint}
	}
	if cfg.APITimeout > 0 {
		cc.HTTPClient = &http.Client{Timeout: cfg.APITimeout}
	}

	client, err := genai.NewClient(ctx, cc)
	if err != nil {
		return nil, fmt.Errorf("failed to create genai client: %w", err)
	}

	limit := rate.Inf
	if cfg.RequestsPerMinute > 0 {
		limit = rate.Every(time.Minute / time.Duration(cfg.RequestsPerMinute))
	}

	return &GeminiClient{
		client:     client,
		limiter:    rate.NewLimiter(limit, 1),
		logger:     logger.Named("llm_client.gemini"),
		config:     cfg,
		maxElapsed: time.Minute,
	}, nil
}

// Generate sends the prompts and returns the model's text. Transient failures
// are retried with exponential backoff until ctx or the retry budget runs out.
func (c *GeminiClient) Generate(ctx context.Context, req schemas.GenerationRequest) (string, error) {
	genCfg := c.buildConfig(req)
	contents := genai.Text(req.UserPrompt)

	b := backoff.NewExponentialBackOff()
	b.InitialInterval = 500 * time.Millisecond
	b.MaxInterval = 10 * time.Second
	b.MaxElapsedTime = c.maxElapsed

	var text string
	operation := func() error {
		if err := c.limiter.Wait(ctx); err != nil {
			return backoff.Permanent(&schemas.ModelError{Kind: schemas.ModelErrTransport, Err: err})
		}

		start := time.Now()
		resp, err := c.client.Models.GenerateContent(ctx, c.config.Model, contents, genCfg)
		observability.ObserveSince(observability.ModelLatency.WithLabelValues(c.config.Model), start)
		if err != nil {
			merr := classifyError(err)
			if !merr.Transient() || ctx.Err() != nil {
				return backoff.Permanent(merr)
			}
			c.logger.Warn("Transient model error, retrying.", zap.Error(err))
			return merr
		}

		out, err := c.extractText(resp)
		if err != nil {
			return backoff.Permanent(err)
		}
		if u := resp.UsageMetadata; u != nil {
			c.logger.Info("LLM generation complete.",
				zap.Duration("duration", time.Since(start)),
				zap.Int32("prompt_tokens", u.PromptTokenCount),
				zap.Int32("completion_tokens", u.CandidatesTokenCount),
				zap.Int32("total_tokens", u.TotalTokenCount),
			)
		}
		text = out
		return nil
	}

	if err := backoff.Retry(operation, backoff.WithContext(b, ctx)); err != nil {
		var merr *schemas.ModelError
		if errors.As(err, &merr) {
			return "", merr
		}
		return "", &schemas.ModelError{Kind: schemas.ModelErrTransport, Err: err}
	}
	return text, nil
}

// Close is a no-op; the SDK client holds no resources that need releasing.
func (c *GeminiClient) Close() error { return nil }

func (c *GeminiClient) buildConfig(req schemas.GenerationRequest) *genai.GenerateContentConfig {
	gc := &genai.GenerateContentConfig{
		Temperature:    genai.Ptr(float32(req.Options.Temperature)),
		SafetySettings: c.safetySettings(),
	}
	if req.SystemPrompt != "" {
		gc.SystemInstruction = genai.NewContentFromText(req.SystemPrompt, genai.RoleUser)
	}
	if req.Options.ForceJSONFormat {
		gc.ResponseMIMEType = "application/json"
	}

	topP := req.Options.TopP
	if topP == 0 {
		topP = float64(c.config.TopP)
	}
	if topP > 0 {
		gc.TopP = genai.Ptr(float32(topP))
	}
	topK := req.Options.TopK
	if topK == 0 {
		topK = c.config.TopK
	}
	if topK > 0 {
		gc.TopK = genai.Ptr(float32(topK))
	}
	if c.config.MaxTokens > 0 {
		gc.MaxOutputTokens = int32(c.config.MaxTokens)
	}
	return gc
}

func (c *GeminiClient) safetySettings() []*genai.SafetySetting {
	if len(c.config.SafetyFilters) == 0 {
		return nil
	}
	settings := make([]*genai.SafetySetting, 0, len(c.config.SafetyFilters))
	for category, threshold := range c.config.SafetyFilters {
		settings = append(settings, &genai.SafetySetting{
			Category:  genai.HarmCategory(category),
			Threshold: genai.HarmBlockThreshold(threshold),
		})
	}
	return settings
}

func (c *GeminiClient) extractText(resp *genai.GenerateContentResponse) (string, error) {
	if resp == nil {
		return "", &schemas.ModelError{Kind: schemas.ModelErrBlocked, Err: errors.New("empty response")}
	}
	if pf := resp.PromptFeedback; pf != nil && pf.BlockReason != "" {
		return "", &schemas.ModelError{Kind: schemas.ModelErrBlocked, Err: fmt.Errorf("prompt blocked (reason: %s)", pf.BlockReason)}
	}
	if len(resp.Candidates) == 0 {
		return "", &schemas.ModelError{Kind: schemas.ModelErrBlocked, Err: errors.New("no candidates returned")}
	}
	text := resp.Text()
	if text == "" {
		reason := resp.Candidates[0].FinishReason
		return "", &schemas.ModelError{Kind: schemas.ModelErrBlocked, Err: fmt.Errorf("empty content (finish reason: %s)", reason)}
	}
	return text, nil
}

// classifyError maps SDK and transport errors onto ModelError kinds.
func classifyError(err error) *schemas.ModelError {
	var apiErr genai.APIError
	if errors.As(err, &apiErr) {
		return &schemas.ModelError{Kind: kindForStatus(apiErr.Code), StatusCode: apiErr.Code, Err: err}
	}
	var apiErrPtr *genai.APIError
	if errors.As(err, &apiErrPtr) {
		return &schemas.ModelError{Kind: kindForStatus(apiErrPtr.Code), StatusCode: apiErrPtr.Code, Err: err}
	}
	// Network failures, timeouts and anything else without a status.
	return &schemas.ModelError{Kind: schemas.ModelErrTransport, Err: err}
}

func kindForStatus(code int) schemas.ModelErrorKind {
	switch {
	case code == http.StatusUnauthorized || code == http.StatusForbidden:
		return schemas.ModelErrAuth
	case code == http.StatusTooManyRequests || code == http.StatusRequestTimeout || code >= 500:
		return schemas.ModelErrTransport
	default:
		return schemas.ModelErrRequest
	}
}
