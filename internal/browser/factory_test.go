package browser

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/xkilldash9x/wayfinder/internal/config"
)

func TestNewRejectsUnknownEngine(t *testing.T) {
	cfg := config.NewDefaultConfig()
	cfg.Browser.Engine = "playwright"

	s, err := New(context.Background(), cfg, zaptest.NewLogger(t))
	require.Error(t, err)
	assert.Nil(t, s)
	assert.Contains(t, err.Error(), "unsupported browser engine")
}
