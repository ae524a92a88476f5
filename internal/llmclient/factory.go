package llmclient

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/xkilldash9x/wayfinder/api/schemas"
	"github.com/xkilldash9x/wayfinder/internal/config"
)

// NewClient creates an LLMClient for the configured provider.
func NewClient(ctx context.Context, cfg config.LLMModelConfig, logger *zap.Logger) (schemas.LLMClient, error) {
	switch cfg.Provider {
	case config.ProviderGemini, "":
		c, err := NewGeminiClient(ctx, cfg, logger)
		if err != nil {
			return nil, err
		}
		return c, nil
	default:
		return nil, fmt.Errorf("unknown or unsupported LLM provider configured: '%s'. Supported: [%s]", cfg.Provider, config.ProviderGemini)
	}
}
